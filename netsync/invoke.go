package netsync

import (
	"fmt"

	"replicore/wire"
)

// Delivery 远程调用的投递方式
type Delivery struct {
	Mode     wire.Mode
	Peer     wire.PeerID
	Buffered bool
	Channel  wire.Channel
}

var (
	ToAll            = Delivery{Mode: wire.ToAll}
	ToAllBuffered    = Delivery{Mode: wire.ToAll, Buffered: true}
	ToOthers         = Delivery{Mode: wire.ToOthers}
	ToOthersBuffered = Delivery{Mode: wire.ToOthers, Buffered: true}
	ToMaster         = Delivery{Mode: wire.ToMaster}
)

func ToPeer(p wire.PeerID) Delivery { return Delivery{Mode: wire.ToPeer, Peer: p} }

// On 改投到指定频道
func (d Delivery) On(ch wire.Channel) Delivery {
	d.Channel = ch
	return d
}

// Call 一次方法调用的上下文
type Call struct {
	Session *Session
	From    wire.PeerID
	Method  string
	// Entity 目标实体，全局调用时为空
	Entity *Entity
	Args   wire.Args
}

// MethodFunc 方法处理函数
type MethodFunc func(c Call)

// Handle 注册方法；同名覆盖
func (s *Session) Handle(method string, fn MethodFunc) {
	s.methods[method] = fn
}

// Invoke 调用方法。entity 为 wire.NoEntity 时为全局调用。
// ToAll 在本端立即执行；ToPeer 指向自己或 ToMaster 且自己是主控端时只在本端执行。
func (s *Session) Invoke(entity wire.EntityID, method string, d Delivery, args ...any) error {
	if s.state != Connected {
		return ErrNotConnected
	}
	if d.Buffered && d.Mode != wire.ToAll && d.Mode != wire.ToOthers {
		return ErrBufferedTarget
	}
	if s.sendOff[d.Channel] {
		inc(&s.stats.GatedSends)
		return fmt.Errorf("%w %d", ErrChannelDisabled, d.Channel)
	}
	payload, err := wire.EncodeArgs(args...)
	if err != nil {
		return err
	}
	m := wire.Message{
		Kind:    wire.KindRPC,
		Channel: d.Channel,
		Mode:    d.Mode,
		To:      d.Peer,
		Entity:  entity,
		Name:    method,
		Payload: payload,
	}
	if d.Buffered {
		m.Flags |= wire.FlagBuffered
	}

	local, remote := false, true
	switch d.Mode {
	case wire.ToAll:
		local = true
	case wire.ToPeer:
		if d.Peer == s.self {
			local, remote = true, false
		}
	case wire.ToMaster:
		if s.IsMaster() {
			local, remote = true, false
		}
	}
	if remote {
		if err := s.transmit(m); err != nil {
			return err
		}
	}
	if local {
		m.From = s.self
		m.Prefix = s.level.prefix
		s.execute(m)
	}
	return nil
}

// execute 找到方法与目标实体并调用；目标实体不存在时静默忽略
func (s *Session) execute(m wire.Message) {
	fn, ok := s.methods[m.Name]
	if !ok {
		inc(&s.stats.UnknownMethods)
		s.log.Debugw("no handler for method", "method", m.Name, "from", m.From)
		return
	}
	c := Call{Session: s, From: m.From, Method: m.Name, Args: m.Payload}
	if m.Entity != wire.NoEntity {
		e, ok := s.entities[m.Entity]
		if !ok {
			inc(&s.stats.MissingTargets)
			s.log.Debugw("method target missing", "method", m.Name, "entity", m.Entity)
			return
		}
		c.Entity = e
	}
	fn(c)
}

// Direction 频道开关的方向
type Direction int

const (
	Send Direction = 1 << iota
	Receive
	Both = Send | Receive
)

// SetChannelEnabled 开关某频道的发送或接收
func (s *Session) SetChannelEnabled(ch wire.Channel, dir Direction, enabled bool) {
	if dir&Send != 0 {
		s.sendOff[ch] = !enabled
	}
	if dir&Receive != 0 {
		s.recvOff[ch] = !enabled
	}
}

func (s *Session) ChannelEnabled(ch wire.Channel, dir Direction) bool {
	if dir&Send != 0 && s.sendOff[ch] {
		return false
	}
	if dir&Receive != 0 && s.recvOff[ch] {
		return false
	}
	return true
}
