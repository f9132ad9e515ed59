package netsync

import (
	"fmt"
	"time"

	"replicore/wire"
)

// SetLocalState 更新本端拥有的实体状态，下一个发送周期发布
func (s *Session) SetLocalState(id wire.EntityID, st wire.State) error {
	e, ok := s.entities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	if e.owner != s.self {
		return ErrNotOwner
	}
	if err := e.Type.Schema.Validate(st.Fields); err != nil {
		return err
	}
	e.state = st
	e.target = st
	e.dirty = true
	return nil
}

func (s *Session) onState(m wire.Message) {
	if s.stale(m) {
		return
	}
	e, ok := s.entities[m.Entity]
	if !ok {
		inc(&s.stats.MissingTargets)
		return
	}
	if e.owner == s.self {
		return
	}
	st, err := e.Type.Schema.DecodeState(m.Payload)
	if err != nil {
		s.log.Warnw("bad state snapshot", "entity", m.Entity, "err", err)
		return
	}
	inc(&s.stats.StatesReceived)
	e.target = st
	// 离散字段不插值
	e.state.Fields = st.Fields
}

// chase 指数追赶：t = min(dt*rate, 1)，不会越过目标
func chase(from, to wire.State, dt time.Duration, rate float32) wire.State {
	t := float32(dt.Seconds()) * rate
	if t > 1 {
		t = 1
	}
	if t < 0 {
		t = 0
	}
	from.Position = from.Position.Lerp(to.Position, t)
	from.Rotation = from.Rotation.Nlerp(to.Rotation, t)
	return from
}

func (s *Session) interpolate(dt time.Duration) {
	for _, e := range s.entities {
		if e.owner == s.self {
			continue
		}
		rate := s.cfg.ChaseRate
		if e.Type.Fast {
			rate = s.cfg.FastChaseRate
		}
		e.state = chase(e.state, e.target, dt, rate)
	}
}

// publish 按发送频率把有变化的本端实体发给其他对端；状态快照从不缓冲
func (s *Session) publish(dt time.Duration) {
	s.sendAcc += dt
	interval := s.cfg.sendInterval()
	if s.sendAcc < interval {
		return
	}
	s.sendAcc = 0
	if s.sendOff[wire.ChannelGameplay] {
		return
	}
	for _, e := range s.Entities() {
		if e.owner != s.self || !e.dirty || !e.initialized {
			continue
		}
		blob, err := e.Type.Schema.EncodeState(e.state)
		if err != nil {
			s.log.Errorw("encode state failed", "entity", e.ID, "err", err)
			continue
		}
		if err := s.transmit(wire.Message{
			Kind:    wire.KindState,
			Channel: wire.ChannelGameplay,
			Mode:    wire.ToOthers,
			Entity:  e.ID,
			Payload: blob,
		}); err != nil {
			s.log.Warnw("state send failed", "entity", e.ID, "err", err)
			return
		}
		e.dirty = false
		inc(&s.stats.StatesSent)
	}
}
