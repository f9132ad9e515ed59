package netsync

import "replicore/wire"

// Handler 会话事件回调，全部在调用 Update 的协程中触发
type Handler interface {
	OnConnected(self wire.PeerID)
	OnConnectFailed(err error)
	OnDisconnected(err error)
	OnPeerConnected(p wire.PeerID)
	OnPeerDisconnected(p wire.PeerID)
	OnMasterChanged(master wire.PeerID)
	OnSpawned(e *Entity)
	OnDestroyed(e *Entity)
	OnOwnerChanged(e *Entity, prev wire.PeerID)
	// OnAuthorityChanged 物理实体在本端改为模拟（true）或改为运动学跟随（false）
	OnAuthorityChanged(e *Entity, simulate bool)
	// OnLevelLoad 开始加载场景；加载完成后须调用 FinishLevelLoad
	OnLevelLoad(scene string, prefix uint16)
	OnChat(from wire.PeerID, text string)
}

// NopHandler 空实现，嵌入后只覆盖关心的回调
type NopHandler struct{}

func (NopHandler) OnConnected(wire.PeerID)             {}
func (NopHandler) OnConnectFailed(error)               {}
func (NopHandler) OnDisconnected(error)                {}
func (NopHandler) OnPeerConnected(wire.PeerID)         {}
func (NopHandler) OnPeerDisconnected(wire.PeerID)      {}
func (NopHandler) OnMasterChanged(wire.PeerID)         {}
func (NopHandler) OnSpawned(*Entity)                   {}
func (NopHandler) OnDestroyed(*Entity)                 {}
func (NopHandler) OnOwnerChanged(*Entity, wire.PeerID) {}
func (NopHandler) OnAuthorityChanged(*Entity, bool)    {}
func (NopHandler) OnLevelLoad(string, uint16)          {}
func (NopHandler) OnChat(wire.PeerID, string)          {}
