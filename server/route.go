package server

import (
	"replicore/wire"
)

// recipients 按投递模式求出接收方；发送方自身由其本地执行，不经房间回送
func (r *Room) recipients(m wire.Message) []*peer {
	switch m.Mode {
	case wire.ToAll, wire.ToOthers:
		return r.joined(m.From)
	case wire.ToPeer:
		if p, ok := r.peers[m.To]; ok && p.joined && p.id != m.From {
			return []*peer{p}
		}
	case wire.ToMaster:
		if p, ok := r.peers[r.master]; ok && p.joined && p.id != m.From {
			return []*peer{p}
		}
	}
	return nil
}

// stale 玩法频道上来自旧关卡的消息
func (r *Room) stale(m wire.Message) bool {
	if m.Channel == wire.ChannelGameplay && m.Prefix < r.prefix {
		r.metrics.IncStale()
		r.log.Debugw("stale message dropped", "kind", m.Kind, "prefix", m.Prefix, "current", r.prefix)
		return true
	}
	return false
}

func (r *Room) appendBuffered(m wire.Message) {
	r.buffered.limit = r.Config().MaxBuffered
	if err := r.buffered.Append(m); err != nil {
		r.log.Warnw("buffered message not retained", "kind", m.Kind, "from", m.From, "err", err)
		return
	}
	r.metrics.IncBuffered()
}

// relay 通用转发：缓冲标志只对全体/其他人投递有效
func (r *Room) relay(p *peer, m wire.Message) {
	if r.stale(m) {
		return
	}
	if m.Buffered() {
		if m.Mode == wire.ToAll || m.Mode == wire.ToOthers {
			r.appendBuffered(m)
		} else {
			m.Flags &^= wire.FlagBuffered
		}
	}
	r.broadcast(m, r.recipients(m))
}

func (r *Room) unauthorized(p *peer, m wire.Message, reason string) {
	r.metrics.IncUnauthorized()
	r.log.Warnw("unauthorized message dropped", "peer", p.id, "kind", m.Kind, "entity", m.Entity, "reason", reason)
}

func (r *Room) validating() bool { return r.Config().ValidateAuthority }

func (r *Room) onInstantiate(p *peer, m wire.Message) {
	if r.stale(m) {
		return
	}
	rec, err := wire.DecodeSpawn(m.Payload)
	if err != nil {
		r.log.Warnw("bad spawn record", "peer", p.id, "err", err)
		return
	}
	if m.Owner == wire.NoPeer {
		m.Owner = p.id
	}
	if r.validating() && (m.Owner != p.id || rec.Scene) && p.id != r.master {
		r.unauthorized(p, m, "only the master spawns scene objects or on behalf of others")
		return
	}
	if _, dup := r.entities[m.Entity]; dup {
		r.unauthorized(p, m, "entity id already in use")
		return
	}
	r.entities[m.Entity] = &entityRecord{owner: m.Owner, scene: rec.Scene}
	m.Mode = wire.ToAll
	m.Flags |= wire.FlagBuffered
	r.appendBuffered(m)
	r.broadcast(m, r.recipients(m))
}

// onDestroy 销毁会从缓冲日志中压缩掉该实体的全部记录，后加入者不会看到残影
func (r *Room) onDestroy(p *peer, m wire.Message) {
	if r.stale(m) {
		return
	}
	rec, ok := r.entities[m.Entity]
	if !ok {
		r.log.Debugw("destroy for unknown entity", "peer", p.id, "entity", m.Entity)
		return
	}
	if r.validating() && p.id != rec.owner && p.id != r.master {
		r.unauthorized(p, m, "not owner")
		return
	}
	delete(r.entities, m.Entity)
	removed := r.buffered.RemoveEntity(m.Entity)
	r.metrics.AddPurged(removed)
	m.Mode = wire.ToAll
	if removed == 0 && m.Buffered() {
		r.appendBuffered(m)
	}
	r.broadcast(m, r.recipients(m))
}

func (r *Room) onOwnerChanged(p *peer, m wire.Message) {
	if r.stale(m) {
		return
	}
	rec, ok := r.entities[m.Entity]
	if !ok {
		return
	}
	if r.validating() && p.id != rec.owner && p.id != r.master {
		r.unauthorized(p, m, "not owner")
		return
	}
	if _, ok := r.peers[m.Owner]; !ok {
		r.log.Warnw("ownership transfer to unknown peer", "peer", p.id, "to", m.Owner)
		return
	}
	rec.owner = m.Owner
	m.Mode = wire.ToAll
	m.Flags |= wire.FlagBuffered
	r.buffered.RemoveOwnerChanges(m.Entity)
	r.appendBuffered(m)
	r.broadcast(m, r.recipients(m))
}

// onState 状态快照只来自拥有者，且从不缓冲
func (r *Room) onState(p *peer, m wire.Message) {
	if r.stale(m) {
		return
	}
	rec, ok := r.entities[m.Entity]
	if !ok {
		return
	}
	if r.validating() && p.id != rec.owner {
		r.unauthorized(p, m, "not owner")
		return
	}
	m.Flags &^= wire.FlagBuffered
	r.broadcast(m, r.recipients(m))
}

func (r *Room) onRemoveBuffered(p *peer, m wire.Message) {
	if r.validating() && p.id != r.master {
		r.unauthorized(p, m, "only the master purges buffered messages")
		return
	}
	for _, ch := range wire.ParseChannelList(m.Payload) {
		n := r.buffered.RemoveChannel(ch)
		r.metrics.AddPurged(n)
		r.log.Infow("buffered channel cleared", "channel", ch, "removed", n)
	}
}

// onLoadLevel 只接受更大的关卡前缀；旧关卡的实体与缓冲记录一并清理
func (r *Room) onLoadLevel(p *peer, m wire.Message) {
	if r.validating() && p.id != r.master {
		r.unauthorized(p, m, "only the master loads levels")
		return
	}
	if m.Prefix <= r.prefix {
		r.metrics.IncStale()
		r.log.Infow("stale level load ignored", "level", m.Name, "prefix", m.Prefix, "current", r.prefix)
		return
	}
	r.level, r.prefix = m.Name, m.Prefix
	r.metrics.AddPurged(r.buffered.RemoveBefore(m.Prefix))
	for id := range r.entities {
		if id.Prefix() < m.Prefix {
			delete(r.entities, id)
		}
	}
	m.Channel = wire.ChannelLevel
	m.Mode = wire.ToAll
	m.Flags |= wire.FlagBuffered
	r.appendBuffered(m)
	r.broadcast(m, r.recipients(m))
	r.log.Infow("level loaded", "level", r.level, "prefix", r.prefix)
}

func (r *Room) onChat(p *peer, m wire.Message) {
	if r.Config().FilterChat {
		tripped, err := r.chatFilter().Check(m.Name)
		if err != nil || len(tripped) > 0 {
			r.metrics.IncChatFiltered()
			r.log.Debugw("chat filtered", "peer", p.id, "tripped", tripped)
			return
		}
	}
	m.Channel = wire.ChannelPlayer
	m.Flags &^= wire.FlagBuffered
	r.broadcast(m, r.recipients(m))
}
