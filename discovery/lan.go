package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

const lanPing = "ping"

// LAN 局域网广播发现
type LAN struct {
	Port int
	// BroadcastAddr 搜索时的目标地址，默认 255.255.255.255
	BroadcastAddr string
	Log           *zap.SugaredLogger
}

func NewLAN(port int) *LAN {
	return &LAN{Port: port, BroadcastAddr: "255.255.255.255", Log: zap.NewNop().Sugar()}
}

// Announce 在端口上应答搜索请求，直到 ctx 结束
func (l *LAN) Announce(ctx context.Context, host func() HostData) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: l.Port})
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		buf := make([]byte, 1024)
		for {
			n, remote, err := conn.ReadFromUDP(buf)
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					l.Log.Warnw("lan announce read failed", "err", err)
				}
				return
			}
			if string(buf[:n]) != lanPing {
				continue
			}
			reply, err := json.Marshal(host())
			if err != nil {
				continue
			}
			if _, err := conn.WriteToUDP(reply, remote); err != nil {
				l.Log.Debugw("lan announce reply failed", "remote", remote, "err", err)
			}
		}
	}()
	return nil
}

// Search 广播一次 ping，在 wait 时间内收集应答
//
// 应答中的 Addr 为空时以应答来源 IP 补全。
func (l *LAN) Search(ctx context.Context, wait time.Duration) ([]HostData, error) {
	// 先建好接收端再广播，避免应答先于监听到达
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	dst, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", l.BroadcastAddr, l.Port))
	if err != nil {
		return nil, err
	}
	if _, err := conn.WriteToUDP([]byte(lanPing), dst); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(wait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	var hosts []HostData
	buf := make([]byte, 2048)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			break
		}
		var d HostData
		if err := json.Unmarshal(buf[:n], &d); err != nil {
			l.Log.Debugw("lan reply ignored", "remote", remote, "err", err)
			continue
		}
		if d.Addr == "" {
			d.Addr = remote.IP.String()
		}
		hosts = append(hosts, d)
	}
	return hosts, nil
}
