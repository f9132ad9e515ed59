package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"replicore/discovery"
)

const defaultHostTTL = 2 * time.Minute

// HostRegistry 主服务器上的主机列表；主机需要在 TTL 内重新注册，否则被剔除
type HostRegistry struct {
	mu    sync.Mutex
	hosts map[string]hostEntry
	ttl   time.Duration
	now   func() time.Time
}

type hostEntry struct {
	data    discovery.HostData
	expires time.Time
}

func NewHostRegistry(ttl time.Duration) *HostRegistry {
	return &HostRegistry{hosts: make(map[string]hostEntry), ttl: ttl, now: time.Now}
}

// Register 注册或刷新主机，以地址为键
func (h *HostRegistry) Register(d discovery.HostData) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hosts[d.Addr] = hostEntry{data: d, expires: h.now().Add(h.ttl)}
}

func (h *HostRegistry) Unregister(addr string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.hosts[addr]
	delete(h.hosts, addr)
	return ok
}

// List 返回指定游戏类型的存活主机，gameType 为空时返回全部
func (h *HostRegistry) List(gameType string) []discovery.HostData {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	out := make([]discovery.HostData, 0, len(h.hosts))
	for addr, e := range h.hosts {
		if now.After(e.expires) {
			delete(h.hosts, addr)
			continue
		}
		if gameType == "" || e.data.GameType == gameType {
			out = append(out, e.data)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// HandleHosts 主机列表接口
// GET /hosts?game=arena      查询
// POST /hosts                注册（JSON HostData）
// DELETE /hosts?addr=1.2.3.4:7777 注销
func (h *HostRegistry) HandleHosts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h.List(r.URL.Query().Get("game")))
	case http.MethodPost:
		var d discovery.HostData
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if d.Addr == "" {
			http.Error(w, "missing addr", http.StatusBadRequest)
			return
		}
		h.Register(d)
		Log.Infof("host registered: name=%s game=%s addr=%s", d.Name, d.GameType, d.Addr)
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		addr := r.URL.Query().Get("addr")
		if !h.Unregister(addr) {
			http.Error(w, "unknown host", http.StatusNotFound)
			return
		}
		Log.Infof("host unregistered: addr=%s", addr)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
