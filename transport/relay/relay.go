// Package relay 通过中继服务器的 WebSocket 房间接入会话。
package relay

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"replicore/netsync"
	"replicore/wire"
)

const writeWait = 5 * time.Second

// Link WebSocket 客户端链路，每条消息一个二进制帧
type Link struct {
	ws  *websocket.Conn
	in  chan wire.Message
	log *zap.SugaredLogger

	mu   sync.Mutex
	once sync.Once
}

// Dial 连接 ws://host/ws?room=<room>
func Dial(ctx context.Context, rawURL string, log *zap.SugaredLogger) (*Link, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", rawURL, err)
	}
	l := &Link{ws: ws, in: make(chan wire.Message, 4096), log: log}
	ws.SetPingHandler(func(data string) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	go l.readPump()
	return l, nil
}

func (l *Link) Send(m wire.Message) error {
	frame, err := wire.Encode(m)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return l.ws.WriteMessage(websocket.BinaryMessage, frame)
}

func (l *Link) Receive() <-chan wire.Message { return l.in }

func (l *Link) Close() error {
	var err error
	l.once.Do(func() {
		l.mu.Lock()
		_ = l.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		l.mu.Unlock()
		err = l.ws.Close()
	})
	return err
}

func (l *Link) readPump() {
	defer close(l.in)
	for {
		kind, payload, err := l.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.log.Warnw("relay read failed", "err", err)
			}
			_ = l.ws.Close()
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		m, err := wire.Decode(payload)
		if err != nil {
			l.log.Warnw("relay decode failed", "err", err)
			continue
		}
		l.in <- m
	}
}

// Dialer 满足 netsync.Dialer；addr 为 host:port，Room 为房间名
type Dialer struct {
	Room   string
	Secure bool
	Log    *zap.SugaredLogger
}

func (d Dialer) Dial(ctx context.Context, addr string) (netsync.Link, error) {
	l, err := Dial(ctx, d.URL(addr), d.Log)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// URL 拼出中继服务器的 WebSocket 地址
func (d Dialer) URL(addr string) string {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	if d.Secure {
		u.Scheme = "wss"
	}
	if d.Room != "" {
		u.RawQuery = url.Values{"room": {d.Room}}.Encode()
	}
	return u.String()
}
