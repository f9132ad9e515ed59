// Package direct 主机直连：主机进程内运行一个 Room 监听 TCP，其他对端直接拨入；
// 主机自己的会话通过 loopback 接入同一个 Room。
package direct

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"replicore/netsync"
	"replicore/server"
	"replicore/transport/loopback"
	"replicore/transport/stream"
)

// Host 直连主机
type Host struct {
	room *server.Room
	ln   net.Listener
	log  *zap.SugaredLogger
	wg   sync.WaitGroup
}

// Listen 启动房间与 TCP 监听；ctx 结束时停止
func Listen(ctx context.Context, addr string, cfg server.RoomConfig) (*Host, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = server.Log
	}
	h := &Host{
		room: server.NewRoom("direct:"+ln.Addr().String(), cfg),
		ln:   ln,
		log:  log.Named("direct"),
	}
	h.room.StartTicker(ctx)
	go func() {
		<-ctx.Done()
		_ = h.Close()
	}()

	h.wg.Add(1)
	go h.acceptLoop()
	h.log.Infow("direct host listening", "addr", ln.Addr().String(), "mode", cfg.Mode)
	return h, nil
}

func (h *Host) acceptLoop() {
	defer h.wg.Done()
	for {
		c, err := h.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			h.log.Warnw("accept error", "err", err)
			continue
		}
		h.log.Debugw("peer dialed in", "remote", c.RemoteAddr().String())
		go stream.Serve(h.room, c, h.log)
	}
}

func (h *Host) Addr() net.Addr     { return h.ln.Addr() }
func (h *Host) Room() *server.Room { return h.room }

// Local 主机自己的会话链路
func (h *Host) Local() netsync.Link { return loopback.Dial(h.room, 0) }

func (h *Host) Close() error {
	err := h.ln.Close()
	h.room.Stop()
	h.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Dial 拨入直连主机
func Dial(ctx context.Context, addr string) (*stream.Link, error) {
	return dial(ctx, addr, nil)
}

// Dialer 满足 netsync.Dialer
type Dialer struct {
	Log *zap.SugaredLogger
}

func (d Dialer) Dial(ctx context.Context, addr string) (netsync.Link, error) {
	l, err := dial(ctx, addr, d.Log)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func dial(ctx context.Context, addr string, log *zap.SugaredLogger) (*stream.Link, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return stream.NewLink(c, log), nil
}
