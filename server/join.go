package server

import (
	"sort"

	"replicore/wire"
)

// admit 处理 Hello：分配 ID，服务端模式下发送握手第 1-4 步，点对点模式下发送带名册的 Approval
func (r *Room) admit(port *Port, hello wire.Message) {
	if port.peer != nil {
		return
	}
	cfg := r.Config()
	if cfg.MaxPeers > 0 && len(r.peers) >= cfg.MaxPeers {
		r.reject(port, "room is full")
		return
	}
	if hello.Name != "" {
		for _, p := range r.peers {
			if p.name == hello.Name {
				r.reject(port, "name already in use")
				return
			}
		}
	}

	p := &peer{id: r.allocID(), name: hello.Name, port: port}
	port.peer = p
	r.peers[p.id] = p
	r.order = append(r.order, p.id)
	if r.master == wire.NoPeer {
		r.master = p.id
	}
	r.metrics.IncJoined()
	r.log.Infow("peer admitted", "peer", p.id, "name", p.name, "master", r.master, "mode", cfg.Mode)

	approval := wire.Message{
		Kind:    wire.KindApproval,
		Channel: wire.ChannelPlayer,
		To:      p.id,
		Owner:   r.master,
		Name:    r.level,
		Prefix:  r.prefix,
	}
	if cfg.Mode == ModePeerToPeer {
		roster := make([]wire.RosterEntry, 0, len(r.order))
		for _, q := range r.joined(p.id) {
			roster = append(roster, wire.RosterEntry{Peer: q.id, Props: q.props})
		}
		payload, err := wire.EncodeRoster(roster)
		if err != nil {
			r.log.Errorw("encode roster failed", "err", err)
		}
		approval.Flags |= wire.FlagPeerToPeer
		approval.Payload = payload
		r.send(p, approval)
		// 名册只含已完成握手的对端，握手中对端的属性单独补发
		for _, q := range r.admitted(p.id) {
			if !q.joined {
				r.sendProperties(p, q)
			}
		}
		return
	}

	r.send(p, approval)
	for _, q := range r.joined(p.id) {
		r.send(p, wire.Message{Kind: wire.KindPeerConnected, Channel: wire.ChannelPlayer, Owner: q.id})
	}
	// 握手中的对端稍后才会宣告连接，它的属性必须在那之前到达
	for _, q := range r.admitted(p.id) {
		r.sendProperties(p, q)
	}
	r.send(p, wire.Message{Kind: wire.KindValidationFinished, Channel: wire.ChannelPlayer})
}

func (r *Room) sendProperties(to, owner *peer) {
	for _, prop := range owner.props {
		r.send(to, propertyMessage(owner.id, prop))
	}
}

func (r *Room) reject(port *Port, reason string) {
	r.metrics.IncRejected()
	r.log.Infow("peer rejected", "reason", reason)
	frame, err := wire.Encode(wire.Message{Kind: wire.KindRejected, Channel: wire.ChannelPlayer, Name: reason})
	if err == nil {
		port.conn.Enqueue(frame)
	}
	port.conn.Close()
	port.closed = true
}

func (r *Room) allocID() wire.PeerID {
	for {
		r.nextID++
		if r.nextID == wire.NoPeer {
			continue
		}
		if _, used := r.peers[r.nextID]; !used {
			return r.nextID
		}
	}
}

func propertyMessage(owner wire.PeerID, prop wire.Property) wire.Message {
	payload, _ := wire.EncodeValue(prop.Value)
	return wire.Message{
		Kind:    wire.KindProperty,
		Channel: wire.ChannelPlayer,
		Mode:    wire.ToOthers,
		From:    owner,
		Owner:   owner,
		Name:    prop.Key,
		Payload: payload,
	}
}

// onProperty 对端只能设置自己的属性；转发给所有已分配 ID 的对端，握手中的对端也需要
func (r *Room) onProperty(p *peer, m wire.Message) {
	v, err := wire.DecodeValue(m.Payload)
	if err != nil {
		r.log.Warnw("bad property value", "peer", p.id, "key", m.Name, "err", err)
		return
	}
	p.setProperty(m.Name, v)
	m.Owner = p.id
	r.broadcast(m, r.admitted(p.id))
}

// onJoined 握手第 6 步：通知其他对端，并重放缓冲日志
func (r *Room) onJoined(p *peer) {
	if p.joined {
		return
	}
	p.joined = true
	r.broadcast(wire.Message{
		Kind:    wire.KindPeerConnected,
		Channel: wire.ChannelPlayer,
		From:    p.id,
		Owner:   p.id,
	}, r.admitted(p.id))

	n := 0
	r.buffered.Replay(func(m wire.Message) {
		r.send(p, m)
		n++
	})
	r.metrics.AddReplayed(n)
	r.log.Infow("peer joined", "peer", p.id, "replayed", n)
}

// leave 移除对端：销毁或移交其实体，清理其缓冲 RPC，必要时迁移主控端
func (r *Room) leave(port *Port) {
	port.conn.Close()
	port.closed = true
	p := port.peer
	if p == nil {
		return
	}
	port.peer = nil
	if _, ok := r.peers[p.id]; !ok {
		return
	}
	delete(r.peers, p.id)
	for i, id := range r.order {
		if id == p.id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.metrics.IncLeft()
	cfg := r.Config()

	var orphans []wire.EntityID
	for _, id := range r.ownedBy(p.id) {
		rec := r.entities[id]
		if rec.scene || !cfg.DestroyOnLeave {
			orphans = append(orphans, id)
			continue
		}
		delete(r.entities, id)
		r.metrics.AddPurged(r.buffered.RemoveEntity(id))
		r.broadcast(wire.Message{Kind: wire.KindDestroy, Channel: wire.ChannelGameplay, Mode: wire.ToAll, From: p.id, Prefix: id.Prefix(), Entity: id}, r.joined(wire.NoPeer))
	}
	r.metrics.AddPurged(r.buffered.RemoveRPCsFrom(p.id))

	r.broadcast(wire.Message{Kind: wire.KindPeerDisconnected, Channel: wire.ChannelPlayer, Owner: p.id}, r.admitted(wire.NoPeer))
	r.log.Infow("peer left", "peer", p.id, "orphans", len(orphans))

	if len(r.peers) == 0 {
		r.reset()
		return
	}
	if r.master == p.id {
		r.migrate()
	}
	for _, id := range orphans {
		r.transfer(id, r.master)
	}
}

// migrate 主控端离开后选出最早接入且已完成握手的对端
func (r *Room) migrate() {
	next := wire.NoPeer
	for _, id := range r.order {
		if r.peers[id].joined {
			next = id
			break
		}
	}
	if next == wire.NoPeer {
		next = r.order[0]
	}
	r.master = next
	r.metrics.IncMigrations()
	r.log.Infow("master migrated", "master", next)
	r.broadcast(wire.Message{Kind: wire.KindMasterChanged, Channel: wire.ChannelPlayer, Owner: next}, r.admitted(wire.NoPeer))
}

// transfer 由房间发起的实体移交，记录进缓冲日志以便后加入者看到最新拥有者
func (r *Room) transfer(id wire.EntityID, to wire.PeerID) {
	rec, ok := r.entities[id]
	if !ok {
		return
	}
	rec.owner = to
	m := wire.Message{
		Kind:    wire.KindOwnerChanged,
		Channel: wire.ChannelGameplay,
		Mode:    wire.ToAll,
		Flags:   wire.FlagBuffered,
		Owner:   to,
		Prefix:  id.Prefix(),
		Entity:  id,
	}
	r.buffered.RemoveOwnerChanges(id)
	r.appendBuffered(m)
	r.broadcast(m, r.joined(wire.NoPeer))
}

func (r *Room) ownedBy(owner wire.PeerID) []wire.EntityID {
	var ids []wire.EntityID
	for id, rec := range r.entities {
		if rec.owner == owner {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// reset 房间清空后回到初始状态
func (r *Room) reset() {
	r.master = wire.NoPeer
	r.buffered.Reset()
	r.entities = make(map[wire.EntityID]*entityRecord)
	r.level = ""
	r.prefix = 0
	r.log.Infow("room empty, state reset")
}
