package server

import (
	"replicore/wire"
)

// Conn 房间向对端发送帧的出口，由传输层实现
type Conn interface {
	// Enqueue 非阻塞入队，队列已满时返回 false
	Enqueue(frame []byte) bool
	Close()
}

// Port 传输层与房间之间的接入点：读协程通过它把消息交给 Tick 线程
type Port struct {
	room *Room
	conn Conn
	peer *peer // 仅 Tick 线程访问；Hello 之前为空
	// closed 被拒绝或已离开，之后的消息一律丢弃；仅 Tick 线程访问
	closed bool
}

// Deliver 投递一条入站消息；可靠有序，因此阻塞写入（房间停止后直接返回）
func (p *Port) Deliver(m wire.Message) {
	select {
	case p.room.inbound <- inbound{port: p, msg: m}:
	case <-p.room.done:
	}
}

// Leave 请求在 Tick 线程中移除该连接
func (p *Port) Leave() {
	select {
	case p.room.inbound <- inbound{port: p, leave: true}:
	case <-p.room.done:
	}
}

// peer 已通过 Hello 的对端
type peer struct {
	id     wire.PeerID
	name   string
	port   *Port
	joined bool // 已发送握手第 6 步，开始接收玩法消息
	props  []wire.Property
	// backlog 传输队列满时暂存的帧，按顺序在后续轮次补发
	backlog [][]byte
}

func (p *peer) setProperty(key string, v wire.Value) {
	for i := range p.props {
		if p.props[i].Key == key {
			p.props[i].Value = v
			return
		}
	}
	p.props = append(p.props, wire.Property{Key: key, Value: v})
}
