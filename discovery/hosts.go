// Package discovery 主机发现：主服务器上的主机列表，以及局域网广播搜索。
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HostData 一台可加入的主机
type HostData struct {
	Name     string `json:"name"`
	GameType string `json:"gameType"`
	Addr     string `json:"addr"`
	Mode     string `json:"mode,omitempty"` // server / p2p / relay
	Peers    int    `json:"peers"`
	MaxPeers int    `json:"maxPeers"`
	Comment  string `json:"comment,omitempty"`
}

// MasterServer 主服务器主机列表的客户端
//
// RequestHostList 异步拉取，结果通过 PollHostList 取走，与帧循环配合使用。
type MasterServer struct {
	BaseURL string
	Client  *http.Client
	Log     *zap.SugaredLogger

	mu      sync.Mutex
	hosts   []HostData
	pending bool
	lastErr error
}

func NewMasterServer(baseURL string) *MasterServer {
	return &MasterServer{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
		Log:     zap.NewNop().Sugar(),
	}
}

// RegisterHost 注册或刷新本机；主服务器会剔除超时未刷新的主机
func (m *MasterServer) RegisterHost(ctx context.Context, d HostData) error {
	body, err := json.Marshal(d)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL+"/hosts", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return m.do(req, nil)
}

func (m *MasterServer) UnregisterHost(ctx context.Context, addr string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, m.BaseURL+"/hosts?addr="+url.QueryEscape(addr), nil)
	if err != nil {
		return err
	}
	return m.do(req, nil)
}

// FetchHostList 同步拉取指定游戏类型的主机
func (m *MasterServer) FetchHostList(ctx context.Context, gameType string) ([]HostData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.BaseURL+"/hosts?game="+url.QueryEscape(gameType), nil)
	if err != nil {
		return nil, err
	}
	var hosts []HostData
	if err := m.do(req, &hosts); err != nil {
		return nil, err
	}
	return hosts, nil
}

// RequestHostList 在后台拉取主机列表，已有请求在途时忽略
func (m *MasterServer) RequestHostList(ctx context.Context, gameType string) {
	m.mu.Lock()
	if m.pending {
		m.mu.Unlock()
		return
	}
	m.pending = true
	m.mu.Unlock()

	go func() {
		hosts, err := m.FetchHostList(ctx, gameType)
		m.mu.Lock()
		defer m.mu.Unlock()
		m.pending = false
		m.lastErr = err
		if err != nil {
			m.Log.Warnw("host list request failed", "game", gameType, "err", err)
			return
		}
		m.hosts = hosts
		m.Log.Debugw("host list received", "game", gameType, "count", len(hosts))
	}()
}

// PollHostList 最近一次拉取到的主机列表
func (m *MasterServer) PollHostList() []HostData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HostData(nil), m.hosts...)
}

// Pending 是否有拉取在途
func (m *MasterServer) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// Err 最近一次拉取的错误
func (m *MasterServer) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *MasterServer) ClearHostList() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hosts = nil
}

func (m *MasterServer) do(req *http.Request, out any) error {
	resp, err := m.Client.Do(req)
	if err != nil {
		return fmt.Errorf("master server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("master server: %s %s: %s", req.Method, req.URL.Path, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("master server: decode: %w", err)
	}
	return nil
}
