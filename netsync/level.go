package netsync

import (
	"sync/atomic"

	"replicore/wire"
)

// LevelState 关卡加载阶段
type LevelState int

const (
	LevelIdle LevelState = iota
	LevelLoading
	LevelActive
)

func (l LevelState) String() string {
	switch l {
	case LevelIdle:
		return "idle"
	case LevelLoading:
		return "loading"
	case LevelActive:
		return "active"
	}
	return "unknown"
}

type levelCoordinator struct {
	state  LevelState
	scene  string
	prefix uint16
}

func (s *Session) LevelState() LevelState { return s.level.state }
func (s *Session) LevelPrefix() uint16    { return s.level.prefix }
func (s *Session) Level() string          { return s.level.scene }

// RequestLoad 主控端切换关卡：清空玩法与关卡频道的缓冲，再以新前缀缓冲广播加载指令
func (s *Session) RequestLoad(scene string) error {
	if s.state != Connected {
		return ErrNotConnected
	}
	if !s.IsMaster() {
		return ErrNotMaster
	}
	if s.level.prefix == wire.MaxLevelPrefix {
		return ErrPrefixExhausted
	}
	next := s.level.prefix + 1
	if err := s.transmit(wire.Message{
		Kind:    wire.KindRemoveBuffered,
		Channel: wire.ChannelLevel,
		Payload: wire.ChannelList(wire.ChannelGameplay, wire.ChannelLevel),
	}); err != nil {
		return err
	}
	if err := s.transmit(wire.Message{
		Kind:    wire.KindLoadLevel,
		Channel: wire.ChannelLevel,
		Mode:    wire.ToAll,
		Flags:   wire.FlagBuffered,
		Prefix:  next,
		Name:    scene,
	}); err != nil {
		return err
	}
	s.applyLevel(scene, next)
	return nil
}

// applyLevel 只接受更大的前缀；停止玩法发送并暂停消息队列，直到 FinishLevelLoad
func (s *Session) applyLevel(scene string, prefix uint16) {
	if prefix <= s.level.prefix {
		inc(&s.stats.StaleDropped)
		s.log.Debugw("level load ignored", "scene", scene, "prefix", prefix, "current", s.level.prefix)
		return
	}
	s.level = levelCoordinator{state: LevelLoading, scene: scene, prefix: prefix}
	s.sendOff[wire.ChannelGameplay] = true
	s.paused = true
	atomic.AddInt64(&s.stats.LevelLoads, 1)
	for _, e := range s.Entities() {
		if e.ID.Prefix() < prefix {
			s.removeEntity(e)
		}
	}
	s.log.Infow("loading level", "scene", scene, "prefix", prefix)
	s.handler.OnLevelLoad(scene, prefix)
}

// FinishLevelLoad 本地场景加载完成：恢复玩法发送与消息队列
func (s *Session) FinishLevelLoad() error {
	if s.level.state != LevelLoading {
		return ErrNotLoading
	}
	s.level.state = LevelActive
	s.sendOff[wire.ChannelGameplay] = false
	s.log.Infow("level active", "scene", s.level.scene, "prefix", s.level.prefix, "held", len(s.held))
	s.resumeQueue()
	return nil
}
