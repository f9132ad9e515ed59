package netsync

import "replicore/wire"

// Registry 会话内已连接对端、主控端与各对端的自定义属性
//
// 属性表与成员表分开保存：对端的属性可能早于其连接通知到达。
type Registry struct {
	peers  []wire.PeerID
	master wire.PeerID
	props  map[wire.PeerID][]wire.Property
}

func NewRegistry() *Registry {
	return &Registry{props: make(map[wire.PeerID][]wire.Property)}
}

// Add 记录新对端；表为空且尚无主控端时它成为主控端。已存在时返回 false
func (r *Registry) Add(p wire.PeerID) bool {
	if r.Contains(p) {
		return false
	}
	if len(r.peers) == 0 && r.master == wire.NoPeer {
		r.master = p
	}
	r.peers = append(r.peers, p)
	return true
}

// Remove 删除对端及其属性；主控端由随后的 MasterChanged 更新
func (r *Registry) Remove(p wire.PeerID) bool {
	delete(r.props, p)
	for i, q := range r.peers {
		if q == p {
			r.peers = append(r.peers[:i], r.peers[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Registry) Contains(p wire.PeerID) bool {
	for _, q := range r.peers {
		if q == p {
			return true
		}
	}
	return false
}

// Peers 按连接顺序返回副本
func (r *Registry) Peers() []wire.PeerID {
	return append([]wire.PeerID(nil), r.peers...)
}

func (r *Registry) Len() int { return len(r.peers) }

func (r *Registry) Master() wire.PeerID { return r.master }

func (r *Registry) SetMaster(p wire.PeerID) { r.master = p }

// SetProperty 设置或覆盖某对端的属性，保持首次写入的顺序
func (r *Registry) SetProperty(p wire.PeerID, key string, v wire.Value) {
	props := r.props[p]
	for i := range props {
		if props[i].Key == key {
			props[i].Value = v
			return
		}
	}
	r.props[p] = append(props, wire.Property{Key: key, Value: v})
}

func (r *Registry) Property(p wire.PeerID, key string) (wire.Value, bool) {
	for _, prop := range r.props[p] {
		if prop.Key == key {
			return prop.Value, true
		}
	}
	return wire.Value{}, false
}

// Properties 按写入顺序返回副本
func (r *Registry) Properties(p wire.PeerID) []wire.Property {
	return append([]wire.Property(nil), r.props[p]...)
}

func (r *Registry) Reset() {
	r.peers = nil
	r.master = wire.NoPeer
	r.props = make(map[wire.PeerID][]wire.Property)
}
