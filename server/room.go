package server

import (
	"sync"
	"sync/atomic"

	swearfilter "github.com/JoshuaDoes/gofuckyourself"
	"go.uber.org/zap"

	"replicore/wire"
)

// Room 一个会话的传输底座：分配对端 ID、按投递模式转发、维护缓冲日志与主控端。
// 所有状态只在 Tick 线程中修改，读协程通过 Port 投递事件。
type Room struct {
	ID string

	cfgMu  sync.RWMutex
	cfg    RoomConfig
	filter *swearfilter.SwearFilter
	log    *zap.SugaredLogger

	peers    map[wire.PeerID]*peer
	order    []wire.PeerID // 接入顺序，主控端迁移时取最早者
	master   wire.PeerID
	nextID   wire.PeerID
	buffered *BufferedLog
	entities map[wire.EntityID]*entityRecord
	level    string
	prefix   uint16
	stalled  []*Port

	inbound chan inbound
	done    chan struct{}
	stop    sync.Once

	metrics       *RoomMetrics
	snap          atomic.Value // Snapshot
	tickSeq       uint64
	tickerStarted bool
}

// Snapshot 房间状态概要，每轮 ProcessInputs 结束时刷新，供 HTTP 接口并发读取
type Snapshot struct {
	Peers    int    `json:"peers"`
	Master   uint16 `json:"master"`
	Level    string `json:"level"`
	Prefix   uint16 `json:"prefix"`
	Buffered int    `json:"buffered"`
}

// entityRecord 房间为权限校验与接管记录的实体信息
type entityRecord struct {
	owner wire.PeerID
	scene bool
}

// NewRoom 创建房间，初始化数据结构
func NewRoom(id string, cfg RoomConfig) *Room {
	log := cfg.Logger
	if log == nil {
		log = Log
	}
	return &Room{
		ID:       id,
		cfg:      cfg,
		filter:   swearfilter.NewSwearFilter(true, cfg.Swears...),
		log:      log.With("room", id),
		peers:    make(map[wire.PeerID]*peer),
		buffered: NewBufferedLog(cfg.MaxBuffered),
		entities: make(map[wire.EntityID]*entityRecord),
		inbound:  make(chan inbound, 1024),
		done:     make(chan struct{}),
		metrics:  &RoomMetrics{},
	}
}

// Config 当前配置的副本
func (r *Room) Config() RoomConfig {
	r.cfgMu.RLock()
	defer r.cfgMu.RUnlock()
	return r.cfg
}

// UpdateConfig 在锁内修改配置；新规则从下一条消息开始生效
func (r *Room) UpdateConfig(fn func(*RoomConfig)) RoomConfig {
	r.cfgMu.Lock()
	defer r.cfgMu.Unlock()
	fn(&r.cfg)
	r.filter = swearfilter.NewSwearFilter(true, r.cfg.Swears...)
	return r.cfg
}

func (r *Room) chatFilter() *swearfilter.SwearFilter {
	r.cfgMu.RLock()
	defer r.cfgMu.RUnlock()
	return r.filter
}

func (r *Room) Metrics() *RoomMetrics { return r.metrics }

func (r *Room) Snapshot() Snapshot {
	s, _ := r.snap.Load().(Snapshot)
	return s
}

func (r *Room) TickSeq() uint64 { return atomic.LoadUint64(&r.tickSeq) }

// Attach 接入一条新连接，房间在收到 Hello 后才为其分配 ID
func (r *Room) Attach(conn Conn) *Port {
	return &Port{room: r, conn: conn}
}

// ProcessInputs 处理当前已到达的全部事件（非阻塞 drain）
func (r *Room) ProcessInputs() {
	for {
		select {
		case in := <-r.inbound:
			if in.leave {
				r.leave(in.port)
			} else {
				r.handle(in.port, in.msg)
			}
		default:
			r.flushBacklogs()
			r.dropStalled()
			r.snap.Store(Snapshot{
				Peers:    len(r.peers),
				Master:   uint16(r.master),
				Level:    r.level,
				Prefix:   r.prefix,
				Buffered: r.buffered.Len(),
			})
			return
		}
	}
}

// Stop 停止房间；Tick 线程随后关闭全部连接，阻塞中的 Deliver 立即返回
func (r *Room) Stop() {
	r.stop.Do(func() { close(r.done) })
}

func (r *Room) closeAll() {
	for _, id := range r.order {
		r.peers[id].port.conn.Close()
	}
}

func (r *Room) handle(port *Port, m wire.Message) {
	if port.closed {
		return
	}
	if m.Kind == wire.KindHello {
		r.admit(port, m)
		return
	}
	p := port.peer
	if p == nil {
		r.log.Debugw("message before hello ignored", "kind", m.Kind)
		return
	}
	m.From = p.id

	switch m.Kind {
	case wire.KindProperty:
		r.onProperty(p, m)
	case wire.KindPeerConnected:
		r.onJoined(p)
	case wire.KindRPC, wire.KindInit:
		r.relay(p, m)
	case wire.KindInstantiate:
		r.onInstantiate(p, m)
	case wire.KindDestroy:
		r.onDestroy(p, m)
	case wire.KindOwnerChanged:
		r.onOwnerChanged(p, m)
	case wire.KindState:
		r.onState(p, m)
	case wire.KindRemoveBuffered:
		r.onRemoveBuffered(p, m)
	case wire.KindLoadLevel:
		r.onLoadLevel(p, m)
	case wire.KindChat:
		r.onChat(p, m)
	default:
		r.log.Warnw("unexpected message from peer", "peer", p.id, "kind", m.Kind)
	}
}

// send 编码并发往单个对端
func (r *Room) send(p *peer, m wire.Message) {
	frame, err := wire.Encode(m)
	if err != nil {
		r.log.Errorw("encode failed", "kind", m.Kind, "err", err)
		return
	}
	r.enqueue(p.port, frame)
}

// broadcast 编码一次，发往 recipients
func (r *Room) broadcast(m wire.Message, recipients []*peer) {
	if len(recipients) == 0 {
		return
	}
	frame, err := wire.Encode(m)
	if err != nil {
		r.log.Errorw("encode failed", "kind", m.Kind, "err", err)
		return
	}
	for _, p := range recipients {
		r.enqueue(p.port, frame)
	}
	r.metrics.IncRouted()
}

// enqueue 可靠流不允许静默丢帧：传输队列满时帧进入对端的积压队列，
// 积压超过上限（或尚未分配 ID）的连接在本轮结束时断开
func (r *Room) enqueue(port *Port, frame []byte) {
	if port.closed {
		return
	}
	p := port.peer
	if p != nil && len(p.backlog) > 0 {
		r.hold(p, frame)
		return
	}
	if port.conn.Enqueue(frame) {
		return
	}
	if p != nil {
		r.hold(p, frame)
		return
	}
	r.markStalled(port)
}

func (r *Room) hold(p *peer, frame []byte) {
	if len(p.backlog) >= r.Config().backlogLimit() {
		r.markStalled(p.port)
		return
	}
	p.backlog = append(p.backlog, frame)
}

// flushBacklogs 把积压帧按顺序推入传输队列，直到队列再次写满
func (r *Room) flushBacklogs() {
	for _, id := range r.order {
		p := r.peers[id]
		n := 0
		for n < len(p.backlog) && p.port.conn.Enqueue(p.backlog[n]) {
			n++
		}
		switch {
		case n == len(p.backlog):
			p.backlog = nil
		case n > 0:
			p.backlog = p.backlog[n:]
		}
	}
}

func (r *Room) markStalled(port *Port) {
	for _, s := range r.stalled {
		if s == port {
			return
		}
	}
	r.stalled = append(r.stalled, port)
}

func (r *Room) dropStalled() {
	for len(r.stalled) > 0 {
		port := r.stalled[0]
		r.stalled = r.stalled[1:]
		if port.peer != nil {
			r.log.Warnw("send queue full, dropping peer", "peer", port.peer.id)
		}
		r.metrics.IncChanFullDiscarded()
		r.leave(port)
	}
}

// admitted 已分配 ID 的对端（含握手中的），按接入顺序
func (r *Room) admitted(except wire.PeerID) []*peer {
	out := make([]*peer, 0, len(r.order))
	for _, id := range r.order {
		if id != except {
			out = append(out, r.peers[id])
		}
	}
	return out
}

// joined 已完成握手的对端，按接入顺序
func (r *Room) joined(except wire.PeerID) []*peer {
	out := make([]*peer, 0, len(r.order))
	for _, id := range r.order {
		if p := r.peers[id]; id != except && p.joined {
			out = append(out, p)
		}
	}
	return out
}
