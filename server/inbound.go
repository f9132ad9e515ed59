package server

import "replicore/wire"

// inbound 读协程送入 Tick 线程的事件
type inbound struct {
	port  *Port
	msg   wire.Message
	leave bool
}
