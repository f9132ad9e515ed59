package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestAdminConfigUpdate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rm := NewRoomManager(ctx, DefaultRoomConfig())

	req := httptest.NewRequest(http.MethodPost, "/admin/config?room=arena", strings.NewReader(`{"maxPeers":4,"filterChat":false}`))
	rec := httptest.NewRecorder()
	rm.HandleAdminConfig(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	room, ok := rm.Room("arena")
	if !ok {
		t.Fatalf("expected room to be created")
	}
	if c := room.Config(); c.MaxPeers != 4 || c.FilterChat || !c.DestroyOnLeave {
		t.Fatalf("unexpected config %+v", c)
	}

	rec = httptest.NewRecorder()
	rm.HandleAdminConfig(rec, httptest.NewRequest(http.MethodPost, "/admin/config?room=arena", strings.NewReader(`{"mode":"p2p"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected mode change refused, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	rm.HandleAdminConfig(rec, httptest.NewRequest(http.MethodPost, "/admin/config?room=arena", strings.NewReader(`{"maxBacklog":100}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected backlog below buffered limit refused, got %d", rec.Code)
	}
	if c := room.Config(); c.MaxBacklog != DefaultRoomConfig().MaxBacklog {
		t.Fatalf("expected backlog unchanged, got %d", c.MaxBacklog)
	}

	rec = httptest.NewRecorder()
	rm.HandleAdminConfig(rec, httptest.NewRequest(http.MethodGet, "/admin/config?room=arena", nil))
	var got struct {
		Mode     string `json:"mode"`
		MaxPeers int    `json:"maxPeers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil || got.Mode != "server" || got.MaxPeers != 4 {
		t.Fatalf("unexpected config response %+v (%v)", got, err)
	}

	rec = httptest.NewRecorder()
	rm.HandleMetrics(rec, httptest.NewRequest(http.MethodGet, "/metrics?room=arena", nil))
	var metrics []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&metrics); err != nil || len(metrics) != 1 || metrics[0]["room"] != "arena" {
		t.Fatalf("unexpected metrics %v (%v)", metrics, err)
	}
}

func TestInitLogger(t *testing.T) {
	defer func(prev *zap.SugaredLogger) { Log = prev }(Log)

	if err := InitLogger("", "loud"); err == nil {
		t.Fatalf("expected unknown level to fail")
	}
	path := filepath.Join(t.TempDir(), "relay.log")
	if err := InitLogger(path, "info"); err != nil {
		t.Fatalf("init: %v", err)
	}
	Log.Debugw("hidden detail")
	Log.Infow("room created", "room", "arena")
	SyncLogger()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "room created") || strings.Contains(string(data), "hidden detail") {
		t.Fatalf("unexpected log contents %q", data)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeServer, "server": ModeServer, "P2P": ModePeerToPeer} {
		if got, err := ParseMode(in); err != nil || got != want {
			t.Fatalf("%q: expected %v, got %v (%v)", in, want, got, err)
		}
	}
	if _, err := ParseMode("mesh"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestRoomConfigValidate(t *testing.T) {
	if err := DefaultRoomConfig().Validate(); err != nil {
		t.Fatalf("expected default config valid, got %v", err)
	}
	c := DefaultRoomConfig()
	c.MaxBacklog = c.MaxBuffered - 1
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for backlog below buffered limit")
	}
	if got := c.backlogLimit(); got != c.MaxBuffered {
		t.Fatalf("expected backlog limit raised to %d, got %d", c.MaxBuffered, got)
	}
}
