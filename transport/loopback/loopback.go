// Package loopback 进程内传输：会话通过它直接接入同进程的 Room，
// 房间侧仍走完整的编解码路径。测试中配合 Room.ProcessInputs 手动推进，结果完全确定。
package loopback

import (
	"context"
	"errors"
	"sync"

	"replicore/netsync"
	"replicore/server"
	"replicore/wire"
)

var ErrClosed = errors.New("loopback: link closed")

// Link 一条进程内链路
type Link struct {
	port *server.Port
	in   chan wire.Message

	mu       sync.Mutex
	closed   bool // 本端已请求离开
	inClosed bool // 房间已关闭连接
}

// Dial 接入房间；buffer 为入站队列长度，<= 0 时取 4096
func Dial(room *server.Room, buffer int) *Link {
	if buffer <= 0 {
		buffer = 4096
	}
	l := &Link{in: make(chan wire.Message, buffer)}
	l.port = room.Attach(conn{l})
	return l
}

func (l *Link) Send(m wire.Message) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}
	l.port.Deliver(m)
	return nil
}

func (l *Link) Receive() <-chan wire.Message { return l.in }

// Close 通知房间移除本端；入站通道由房间关闭连接时关闭
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	l.port.Leave()
	return nil
}

// conn 房间侧的出口：解码房间编好的帧放入入站通道
type conn struct{ l *Link }

func (c conn) Enqueue(frame []byte) bool {
	m, err := wire.Decode(frame)
	if err != nil {
		server.Log.Errorf("loopback decode: %v", err)
		return true
	}
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	if c.l.inClosed {
		return true
	}
	select {
	case c.l.in <- m:
		return true
	default:
		return false
	}
}

func (c conn) Close() {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	if !c.l.inClosed {
		c.l.inClosed = true
		close(c.l.in)
	}
}

// Dialer 以房间为目标的 netsync.Dialer，addr 被忽略
type Dialer struct {
	Room   *server.Room
	Buffer int
}

func (d Dialer) Dial(ctx context.Context, _ string) (netsync.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Dial(d.Room, d.Buffer), nil
}
