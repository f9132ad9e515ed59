// Package p2p 基于 libp2p 的点对点传输：主持会话的节点在本地运行一个
// ModePeerToPeer 的 Room，其他节点通过 libp2p 流接入。
package p2p

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"go.uber.org/zap"

	"replicore/netsync"
	"replicore/server"
	"replicore/transport/loopback"
	"replicore/transport/stream"
)

// ProtocolID 会话流协议
const ProtocolID = protocol.ID("/replicore/session/1.0.0")

// Host 主持会话的 libp2p 节点
type Host struct {
	h    host.Host
	room *server.Room
	log  *zap.SugaredLogger
}

// Listen 在 listenAddr（multiaddr，如 /ip4/0.0.0.0/tcp/0）上启动节点与房间
func Listen(ctx context.Context, listenAddr string, cfg server.RoomConfig) (*Host, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		return nil, fmt.Errorf("p2p: new host: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = server.Log
	}
	cfg.Mode = server.ModePeerToPeer
	ph := &Host{
		h:    h,
		room: server.NewRoom("p2p:"+h.ID().String(), cfg),
		log:  log.Named("p2p"),
	}
	ph.room.StartTicker(ctx)
	h.SetStreamHandler(ProtocolID, func(s network.Stream) {
		ph.log.Debugw("peer stream opened", "remote", s.Conn().RemotePeer().String())
		stream.Serve(ph.room, s, ph.log)
	})
	go func() {
		<-ctx.Done()
		_ = ph.Close()
	}()
	ph.log.Infow("p2p host listening", "id", h.ID().String(), "addrs", ph.Addrs())
	return ph, nil
}

// Addrs 可供其他节点拨入的完整地址（含 /p2p/<id>）
func (h *Host) Addrs() []string {
	out := make([]string, 0, len(h.h.Addrs()))
	for _, a := range h.h.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, h.h.ID()))
	}
	return out
}

func (h *Host) Room() *server.Room { return h.room }

// Local 主持节点自己的会话链路
func (h *Host) Local() netsync.Link { return loopback.Dial(h.room, 0) }

func (h *Host) Close() error {
	h.h.RemoveStreamHandler(ProtocolID)
	h.room.Stop()
	return h.h.Close()
}

// Dialer 用一个不监听的 libp2p 节点拨入主持节点
type Dialer struct {
	h   host.Host
	log *zap.SugaredLogger
}

func NewDialer(log *zap.SugaredLogger) (*Dialer, error) {
	h, err := libp2p.New(libp2p.NoListenAddrs)
	if err != nil {
		return nil, fmt.Errorf("p2p: new dialer: %w", err)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dialer{h: h, log: log}, nil
}

// Dial addr 为主持节点的完整 multiaddr
func (d *Dialer) Dial(ctx context.Context, addr string) (netsync.Link, error) {
	info, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return nil, fmt.Errorf("p2p: parse addr: %w", err)
	}
	if err := d.h.Connect(ctx, *info); err != nil {
		return nil, fmt.Errorf("p2p: connect: %w", err)
	}
	s, err := d.h.NewStream(ctx, info.ID, ProtocolID)
	if err != nil {
		return nil, fmt.Errorf("p2p: open stream: %w", err)
	}
	return stream.NewLink(s, d.log), nil
}

func (d *Dialer) Close() error { return d.h.Close() }
