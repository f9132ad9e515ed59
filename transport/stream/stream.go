// Package stream 在任意字节流（TCP 连接、libp2p 流）上承载长度前缀帧，
// 提供客户端侧的 netsync.Link 与房间侧的接入。
package stream

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"replicore/server"
	"replicore/wire"
)

// Link 客户端侧链路
type Link struct {
	rwc io.ReadWriteCloser
	in  chan wire.Message
	log *zap.SugaredLogger

	mu   sync.Mutex
	w    *bufio.Writer
	once sync.Once
}

// NewLink 包装一条已建立的流并开始读取
func NewLink(rwc io.ReadWriteCloser, log *zap.SugaredLogger) *Link {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if tc, ok := rwc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	l := &Link{rwc: rwc, in: make(chan wire.Message, 4096), log: log, w: bufio.NewWriter(rwc)}
	go l.readLoop()
	return l
}

func (l *Link) Send(m wire.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := wire.WriteFrame(l.w, m); err != nil {
		return err
	}
	return l.w.Flush()
}

func (l *Link) Receive() <-chan wire.Message { return l.in }

func (l *Link) Close() error {
	var err error
	l.once.Do(func() { err = l.rwc.Close() })
	return err
}

func (l *Link) readLoop() {
	defer close(l.in)
	r := bufio.NewReader(l.rwc)
	for {
		m, err := wire.ReadFrame(r)
		if err != nil {
			if !isClosed(err) {
				l.log.Warnw("stream read failed", "err", err)
			}
			_ = l.Close()
			return
		}
		l.in <- m
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF)
}

// conn 房间侧出口：独立写协程把帧写到流上
type conn struct {
	rwc  io.ReadWriteCloser
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func (c *conn) Enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *conn) writeLoop(log *zap.SugaredLogger) {
	defer c.rwc.Close()
	w := bufio.NewWriter(c.rwc)
	var hdr [4]byte
	for frame := range c.send {
		binary.BigEndian.PutUint32(hdr[:], uint32(len(frame)))
		if _, err := w.Write(hdr[:]); err != nil {
			log.Debugw("stream write failed", "err", err)
			return
		}
		if _, err := w.Write(frame); err != nil {
			log.Debugw("stream write failed", "err", err)
			return
		}
		// 队列已空时再刷新，合并同一轮的多帧
		if len(c.send) == 0 {
			if err := w.Flush(); err != nil {
				log.Debugw("stream flush failed", "err", err)
				return
			}
		}
	}
	_ = w.Flush()
}

// Serve 把一条入站流接入房间，阻塞直到流断开
func Serve(room *server.Room, rwc io.ReadWriteCloser, log *zap.SugaredLogger) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if tc, ok := rwc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	c := &conn{rwc: rwc, send: make(chan []byte, 1024)}
	port := room.Attach(c)
	go c.writeLoop(log)

	defer port.Leave()
	r := bufio.NewReader(rwc)
	for {
		m, err := wire.ReadFrame(r)
		if err != nil {
			if !isClosed(err) {
				log.Warnw("stream read failed", "err", err)
			}
			return
		}
		port.Deliver(m)
	}
}
