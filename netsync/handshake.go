package netsync

import (
	"replicore/wire"
)

// onApproval 握手第 1 步：得到本端 ID 与主控端。点对点模式下名册与当前关卡随之到达
func (s *Session) onApproval(m wire.Message) {
	if s.state != Handshaking {
		return
	}
	s.self = m.To
	s.registry.SetMaster(m.Owner)
	s.p2p = m.Flags&wire.FlagPeerToPeer != 0
	s.log = s.log.With("self", s.self)
	s.log.Infow("approved", "master", m.Owner, "p2p", s.p2p, "level", m.Name, "prefix", m.Prefix)

	if !s.p2p {
		return
	}
	roster, err := wire.DecodeRoster(m.Payload)
	if err != nil {
		s.teardown(&ConnectionError{Code: ConnFailed, Err: err})
		return
	}
	for _, entry := range roster {
		for _, prop := range entry.Props {
			s.registry.SetProperty(entry.Peer, prop.Key, prop.Value)
		}
		s.onPeerConnected(entry.Peer)
	}
	if m.Name != "" {
		s.applyLevel(m.Name, m.Prefix)
	}
	s.completeHandshake()
}

// completeHandshake 握手第 5、6 步：发布本端属性，再宣告自己已连接
func (s *Session) completeHandshake() {
	if s.state != Handshaking || s.self == wire.NoPeer {
		return
	}
	for _, prop := range s.ownProps {
		s.registry.SetProperty(s.self, prop.Key, prop.Value)
		if err := s.sendProperty(prop); err != nil {
			s.teardown(&ConnectionError{Code: ConnFailed, Err: err})
			return
		}
	}
	if err := s.transmit(wire.Message{Kind: wire.KindPeerConnected, Channel: wire.ChannelPlayer, Mode: wire.ToOthers, Owner: s.self}); err != nil {
		s.teardown(&ConnectionError{Code: ConnFailed, Err: err})
		return
	}
	s.registry.Add(s.self)
	s.state = Connected
	s.log.Infow("connected", "peers", s.registry.Len(), "master", s.registry.Master())
	s.handler.OnConnected(s.self)
}

func (s *Session) onPeerConnected(p wire.PeerID) {
	if p == s.self || !s.registry.Add(p) {
		return
	}
	// 新对端需要本端实体的完整状态
	for _, e := range s.entities {
		if e.owner == s.self {
			e.dirty = true
		}
	}
	s.log.Debugw("peer connected", "peer", p)
	s.handler.OnPeerConnected(p)
}

func (s *Session) onPeerDisconnected(p wire.PeerID) {
	if !s.registry.Remove(p) {
		return
	}
	s.log.Debugw("peer disconnected", "peer", p)
	s.handler.OnPeerDisconnected(p)
}

// onMasterChanged 主控端变化后重新计算物理实体的模拟权
func (s *Session) onMasterChanged(p wire.PeerID) {
	if s.registry.Master() == p {
		return
	}
	s.registry.SetMaster(p)
	s.log.Infow("master changed", "master", p)
	s.refreshAuthority()
	s.handler.OnMasterChanged(p)
}

func (s *Session) onProperty(m wire.Message) {
	v, err := wire.DecodeValue(m.Payload)
	if err != nil {
		s.log.Warnw("bad property", "peer", m.Owner, "key", m.Name, "err", err)
		return
	}
	s.registry.SetProperty(m.Owner, m.Name, v)
}

func (s *Session) setOwnProperty(key string, v wire.Value) error {
	prop := wire.Property{Key: key, Value: v}
	replaced := false
	for i := range s.ownProps {
		if s.ownProps[i].Key == key {
			s.ownProps[i].Value = v
			replaced = true
			break
		}
	}
	if !replaced {
		s.ownProps = append(s.ownProps, prop)
	}
	if s.state != Connected {
		return nil
	}
	s.registry.SetProperty(s.self, key, v)
	return s.sendProperty(prop)
}

func (s *Session) sendProperty(prop wire.Property) error {
	payload, err := wire.EncodeValue(prop.Value)
	if err != nil {
		return err
	}
	return s.transmit(wire.Message{
		Kind:    wire.KindProperty,
		Channel: wire.ChannelPlayer,
		Mode:    wire.ToOthers,
		Owner:   s.self,
		Name:    prop.Key,
		Payload: payload,
	})
}

// Chat 向全体发送一行聊天，本端同步回调 OnChat
func (s *Session) Chat(text string) error {
	if s.state != Connected {
		return ErrNotConnected
	}
	if s.sendOff[wire.ChannelPlayer] {
		inc(&s.stats.GatedSends)
		return ErrChannelDisabled
	}
	if err := s.transmit(wire.Message{Kind: wire.KindChat, Channel: wire.ChannelPlayer, Mode: wire.ToAll, Name: text}); err != nil {
		return err
	}
	s.handler.OnChat(s.self, text)
	return nil
}
