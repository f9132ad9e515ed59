// Package netsync 对等网络的复制核心：对端注册表、连接握手、RPC、实体生命周期、
// 状态复制与关卡切换。Session 不是并发安全的，全部操作与回调都在调用 Update 的协程中进行。
package netsync

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"replicore/wire"
)

// ConnState 会话连接阶段
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting             // 拨号中
	Handshaking            // 已建立链路，等待房间完成握手
	Connected
)

func (c ConnState) String() string {
	switch c {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// Session 本端在一个复制会话中的全部状态
type Session struct {
	cfg     Config
	log     *zap.SugaredLogger
	handler Handler

	link     Link
	state    ConnState
	self     wire.PeerID
	p2p      bool
	registry *Registry
	ownProps []wire.Property

	methods  map[string]MethodFunc
	types    map[string]*TypeSpec
	entities map[wire.EntityID]*Entity
	serial   uint32

	sendOff [256]bool
	recvOff [256]bool
	paused  bool
	held    []wire.Message
	level   levelCoordinator

	sendAcc time.Duration
	results chan dialResult
	cancel  context.CancelFunc

	stats Stats
}

type dialResult struct {
	link Link
	err  error
	ctx  context.Context
}

// NewSession 创建会话；handler 为空时使用 NopHandler
func NewSession(cfg Config, handler Handler) *Session {
	if handler == nil {
		handler = NopHandler{}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Session{
		cfg:      cfg,
		log:      log,
		handler:  handler,
		registry: NewRegistry(),
		methods:  make(map[string]MethodFunc),
		types:    make(map[string]*TypeSpec),
		entities: make(map[wire.EntityID]*Entity),
		results:  make(chan dialResult, 4),
	}
}

func (s *Session) State() ConnState     { return s.state }
func (s *Session) Connected() bool      { return s.state == Connected }
func (s *Session) Self() wire.PeerID    { return s.self }
func (s *Session) Master() wire.PeerID  { return s.registry.Master() }
func (s *Session) IsMaster() bool       { return s.self != wire.NoPeer && s.registry.Master() == s.self }
func (s *Session) Peers() []wire.PeerID { return s.registry.Peers() }
func (s *Session) PeerToPeer() bool     { return s.p2p }
func (s *Session) Stats() *Stats        { return &s.stats }
func (s *Session) Registry() *Registry  { return s.registry }

// Connect 在已建立的链路上开始加入握手
func (s *Session) Connect(link Link) error {
	if s.state != Disconnected {
		return ErrAlreadyConnected
	}
	s.attach(link)
	return nil
}

// ConnectAsync 在后台拨号，结果在随后的 Update 中通过回调给出
func (s *Session) ConnectAsync(ctx context.Context, d Dialer, addr string) error {
	if s.state != Disconnected {
		return ErrAlreadyConnected
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = Connecting
	s.log.Infow("connecting", "addr", addr)
	go func() {
		link, err := d.Dial(ctx, addr)
		s.results <- dialResult{link: link, err: err, ctx: ctx}
	}()
	return nil
}

// AbortConnect 取消进行中的拨号
func (s *Session) AbortConnect() {
	if s.state != Connecting {
		return
	}
	s.cancel()
	s.cancel = nil
	s.state = Disconnected
	s.handler.OnConnectFailed(&ConnectionError{Code: ConnAborted})
}

func (s *Session) attach(link Link) {
	s.link = link
	s.state = Handshaking
	s.self = wire.NoPeer
	s.p2p = false
	s.registry.Reset()
	if s.level.state == LevelLoading {
		s.sendOff[wire.ChannelGameplay] = false
	}
	s.level = levelCoordinator{}
	s.paused = false
	s.held = nil
	s.sendAcc = 0
	if err := s.transmit(wire.Message{Kind: wire.KindHello, Channel: wire.ChannelPlayer, Name: s.cfg.Name}); err != nil {
		s.teardown(&ConnectionError{Code: ConnFailed, Err: err})
	}
}

// Disconnect 主动离开会话，本地实体全部销毁
func (s *Session) Disconnect() {
	switch s.state {
	case Connecting:
		s.AbortConnect()
	case Handshaking, Connected:
		s.teardown(nil)
	}
}

// teardown 关闭链路并清空会话；握手未完成时报告连接失败
func (s *Session) teardown(err error) {
	wasConnected := s.state == Connected
	if s.link != nil {
		_ = s.link.Close()
		s.link = nil
	}
	s.state = Disconnected
	for _, e := range s.Entities() {
		s.removeEntity(e)
	}
	s.registry.Reset()
	s.self = wire.NoPeer
	s.held = nil
	s.paused = false
	atomic.StoreInt64(&s.stats.Held, 0)
	if wasConnected {
		s.log.Infow("disconnected", "err", err)
		s.handler.OnDisconnected(err)
		return
	}
	if err == nil {
		err = &ConnectionError{Code: ConnAborted}
	}
	s.log.Infow("connect failed", "err", err)
	s.handler.OnConnectFailed(err)
}

// Update 推进一帧：处理拨号结果与入站消息，插值远端实体，按频率发布本端状态
func (s *Session) Update(dt time.Duration) {
	s.drainResults()
	s.drainLink()
	if s.state != Connected {
		return
	}
	s.interpolate(dt)
	s.publish(dt)
}

// Run 以固定间隔调用 Update，直到 ctx 结束
func (s *Session) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.Update(now.Sub(last))
			last = now
		}
	}
}

func (s *Session) drainResults() {
	for {
		select {
		case r := <-s.results:
			s.onDialResult(r)
		default:
			return
		}
	}
}

func (s *Session) onDialResult(r dialResult) {
	if s.state != Connecting || r.ctx.Err() != nil {
		// 已取消或被新的连接取代
		if r.link != nil {
			_ = r.link.Close()
		}
		return
	}
	s.cancel = nil
	if r.err != nil {
		s.state = Disconnected
		code := ConnFailed
		if errors.Is(r.err, context.Canceled) {
			code = ConnAborted
		}
		s.handler.OnConnectFailed(&ConnectionError{Code: code, Err: r.err})
		return
	}
	s.attach(r.link)
}

// drainLink 非阻塞地取走链路上已到达的消息；队列暂停时积压到 held
func (s *Session) drainLink() {
	for s.link != nil {
		select {
		case m, ok := <-s.link.Receive():
			if !ok {
				s.link = nil
				s.teardown(&ConnectionError{Code: ConnClosed})
				return
			}
			inc(&s.stats.MessagesReceived)
			if s.paused {
				s.held = append(s.held, m)
				inc(&s.stats.Held)
				continue
			}
			s.dispatch(m)
		default:
			return
		}
	}
}

// resumeQueue 恢复消息队列并按序处理积压消息；处理中再次暂停时剩余消息继续保留
func (s *Session) resumeQueue() {
	s.paused = false
	for len(s.held) > 0 && !s.paused && s.link != nil {
		m := s.held[0]
		s.held = s.held[1:]
		atomic.AddInt64(&s.stats.Held, -1)
		s.dispatch(m)
	}
}

func (s *Session) dispatch(m wire.Message) {
	if s.recvOff[m.Channel] {
		inc(&s.stats.GatedReceives)
		s.log.Debugw("message dropped on disabled channel", "kind", m.Kind, "channel", m.Channel)
		return
	}
	switch m.Kind {
	case wire.KindApproval:
		s.onApproval(m)
	case wire.KindRejected:
		s.teardown(&ConnectionError{Code: ConnRejected, Reason: m.Name})
	case wire.KindValidationFinished:
		s.completeHandshake()
	case wire.KindPeerConnected:
		s.onPeerConnected(m.Owner)
	case wire.KindPeerDisconnected:
		s.onPeerDisconnected(m.Owner)
	case wire.KindMasterChanged:
		s.onMasterChanged(m.Owner)
	case wire.KindProperty:
		s.onProperty(m)
	case wire.KindRPC:
		if !s.stale(m) {
			s.execute(m)
		}
	case wire.KindInstantiate:
		s.onInstantiate(m)
	case wire.KindInit:
		s.onInit(m)
	case wire.KindDestroy:
		s.onDestroy(m)
	case wire.KindOwnerChanged:
		s.onOwnerChanged(m)
	case wire.KindState:
		s.onState(m)
	case wire.KindLoadLevel:
		s.applyLevel(m.Name, m.Prefix)
	case wire.KindChat:
		s.handler.OnChat(m.From, m.Name)
	default:
		s.log.Warnw("unexpected message", "kind", m.Kind)
	}
}

// stale 玩法频道上来自已卸载关卡的消息
func (s *Session) stale(m wire.Message) bool {
	if m.Channel == wire.ChannelGameplay && m.Prefix < s.level.prefix {
		inc(&s.stats.StaleDropped)
		s.log.Debugw("stale message dropped", "kind", m.Kind, "prefix", m.Prefix, "current", s.level.prefix)
		return true
	}
	return false
}

// transmit 发送到链路，盖上当前关卡前缀
func (s *Session) transmit(m wire.Message) error {
	if s.link == nil {
		return ErrNotConnected
	}
	if m.Kind != wire.KindLoadLevel {
		m.Prefix = s.level.prefix
	}
	if err := s.link.Send(m); err != nil {
		return err
	}
	inc(&s.stats.MessagesSent)
	return nil
}

// Entities 按 ID 排序的本地实体
func (s *Session) Entities() []*Entity {
	out := make([]*Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Session) Entity(id wire.EntityID) (*Entity, bool) {
	e, ok := s.entities[id]
	return e, ok
}
