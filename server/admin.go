package server

import (
	"encoding/json"
	"net/http"
)

// HandleAdminConfig 提供房间配置的读取与更新（热更新基本规则）
// GET /admin/config?room=room-1  返回当前配置
// POST /admin/config?room=room-1 以 JSON 载荷更新部分字段
func (m *RoomManager) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		roomID = "room-1"
	}
	room := m.GetOrCreateRoom(roomID)

	type cfg struct {
		Mode              *string `json:"mode,omitempty"`
		MaxPeers          *int    `json:"maxPeers,omitempty"`
		MaxBuffered       *int    `json:"maxBuffered,omitempty"`
		MaxBacklog        *int    `json:"maxBacklog,omitempty"`
		DestroyOnLeave    *bool   `json:"destroyOnLeave,omitempty"`
		ValidateAuthority *bool   `json:"validateAuthority,omitempty"`
		FilterChat        *bool   `json:"filterChat,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		c := room.Config()
		mode := c.Mode.String()
		cur := cfg{
			Mode:              &mode,
			MaxPeers:          &c.MaxPeers,
			MaxBuffered:       &c.MaxBuffered,
			MaxBacklog:        &c.MaxBacklog,
			DestroyOnLeave:    &c.DestroyOnLeave,
			ValidateAuthority: &c.ValidateAuthority,
			FilterChat:        &c.FilterChat,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(cur)
	case http.MethodPost:
		var body cfg
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.Mode != nil {
			http.Error(w, "mode cannot change on a live room", http.StatusBadRequest)
			return
		}
		patch := func(c *RoomConfig) {
			if body.MaxPeers != nil {
				c.MaxPeers = *body.MaxPeers
			}
			if body.MaxBuffered != nil {
				c.MaxBuffered = *body.MaxBuffered
			}
			if body.MaxBacklog != nil {
				c.MaxBacklog = *body.MaxBacklog
			}
			if body.DestroyOnLeave != nil {
				c.DestroyOnLeave = *body.DestroyOnLeave
			}
			if body.ValidateAuthority != nil {
				c.ValidateAuthority = *body.ValidateAuthority
			}
			if body.FilterChat != nil {
				c.FilterChat = *body.FilterChat
			}
		}
		next := room.Config()
		patch(&next)
		if err := next.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c := room.UpdateConfig(patch)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		Log.Infof("config updated: room=%s maxPeers=%d maxBuffered=%d maxBacklog=%d destroyOnLeave=%v validate=%v filterChat=%v",
			roomID, c.MaxPeers, c.MaxBuffered, c.MaxBacklog, c.DestroyOnLeave, c.ValidateAuthority, c.FilterChat)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleMetrics 输出房间的运行指标；不带 room 参数时输出全部房间
// GET /metrics?room=room-1
func (m *RoomManager) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	ids := m.RoomIDs()
	if id := r.URL.Query().Get("room"); id != "" {
		ids = []string{id}
	}
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		room, ok := m.Room(id)
		if !ok {
			continue
		}
		out = append(out, map[string]any{
			"room":    id,
			"tick":    room.TickSeq(),
			"state":   room.Snapshot(),
			"metrics": room.Metrics().Snapshot(),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
