package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"replicore/discovery"
	"replicore/server"
)

// replicore 中继入口：WebSocket 房间、主机列表、监控与管理接口
func main() {
	var (
		addr       string
		logPath    string
		logLevel   string
		modeName   string
		maxPeers   int
		filterChat bool
		lanPort    int
		name       string
	)
	flag.StringVar(&addr, "addr", ":8080", "server listen address, e.g. :8080")
	flag.StringVar(&logPath, "log", "relay.log", "log file path, empty for stderr")
	flag.StringVar(&logLevel, "log-level", "debug", "log level: debug, info, warn or error")
	flag.StringVar(&modeName, "mode", "server", "room mode: server or p2p")
	flag.IntVar(&maxPeers, "max-peers", 16, "max peers per room")
	flag.BoolVar(&filterChat, "filter-chat", true, "drop chat lines that trip the swear filter")
	flag.IntVar(&lanPort, "lan-port", 0, "answer LAN discovery on this UDP port (0 disables)")
	flag.StringVar(&name, "name", "replicore relay", "name announced on the LAN")
	flag.Parse()

	if err := server.InitLogger(logPath, logLevel); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	mode, err := server.ParseMode(modeName)
	if err != nil {
		server.Log.Fatalf("flags: %v", err)
	}
	cfg := server.DefaultRoomConfig()
	cfg.Mode = mode
	cfg.MaxPeers = maxPeers
	cfg.FilterChat = filterChat

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rm := server.NewRoomManager(ctx, cfg)
	// 先预创建一个默认房间，便于快速试跑
	_ = rm.GetOrCreateRoom("room-1")

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", rm.HandleWS)
	mux.HandleFunc("/hosts", rm.Hosts.HandleHosts)
	// 管理与监控接口
	mux.HandleFunc("/admin/config", rm.HandleAdminConfig)
	mux.HandleFunc("/metrics", rm.HandleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	if lanPort > 0 {
		lan := discovery.NewLAN(lanPort)
		lan.Log = server.Log.Named("lan")
		err := lan.Announce(ctx, func() discovery.HostData {
			return discovery.HostData{Name: name, Mode: "relay", Addr: addr, MaxPeers: maxPeers}
		})
		if err != nil {
			server.Log.Warnf("lan announce: %v", err)
		}
	}

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		server.Log.Infof("replicore relay listening on %s mode=%s", addr, mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			server.Log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	server.Log.Info("Shutting down...")
	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = srv.Shutdown(shutdownCtx)
}
