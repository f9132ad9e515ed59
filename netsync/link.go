package netsync

import (
	"context"

	"replicore/wire"
)

// Link 会话与传输层之间的有序可靠链路
type Link interface {
	Send(m wire.Message) error
	// Receive 入站消息；链路断开时关闭
	Receive() <-chan wire.Message
	Close() error
}

// Dialer 建立 Link，供 ConnectAsync 使用
type Dialer interface {
	Dial(ctx context.Context, addr string) (Link, error)
}

// DialerFunc 让普通函数满足 Dialer
type DialerFunc func(ctx context.Context, addr string) (Link, error)

func (f DialerFunc) Dial(ctx context.Context, addr string) (Link, error) { return f(ctx, addr) }
