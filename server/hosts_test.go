package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"replicore/discovery"
)

func TestHostListThroughMasterServerClient(t *testing.T) {
	reg := NewHostRegistry(time.Minute)
	srv := httptest.NewServer(http.HandlerFunc(reg.HandleHosts))
	defer srv.Close()

	ms := discovery.NewMasterServer(srv.URL)
	ctx := context.Background()
	if err := ms.RegisterHost(ctx, discovery.HostData{Name: "one", GameType: "arena", Addr: "10.0.0.1:7777", MaxPeers: 8}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := ms.RegisterHost(ctx, discovery.HostData{Name: "two", GameType: "race", Addr: "10.0.0.2:7777"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	ms.RequestHostList(ctx, "arena")
	deadline := time.Now().Add(2 * time.Second)
	for ms.Pending() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hosts := ms.PollHostList()
	if len(hosts) != 1 || hosts[0].Name != "one" || hosts[0].MaxPeers != 8 {
		t.Fatalf("expected the arena host, got %+v (err %v)", hosts, ms.Err())
	}
	ms.ClearHostList()
	if len(ms.PollHostList()) != 0 {
		t.Fatalf("expected cleared host list")
	}

	if err := ms.UnregisterHost(ctx, "10.0.0.1:7777"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if got, _ := ms.FetchHostList(ctx, ""); len(got) != 1 || got[0].Name != "two" {
		t.Fatalf("expected only the race host, got %+v", got)
	}
	if err := ms.UnregisterHost(ctx, "nope"); err == nil {
		t.Fatalf("expected error for unknown host")
	}
}

func TestHostRegistryExpires(t *testing.T) {
	reg := NewHostRegistry(time.Minute)
	now := time.Now()
	reg.now = func() time.Time { return now }
	reg.Register(discovery.HostData{Addr: "a"})
	now = now.Add(2 * time.Minute)
	if got := reg.List(""); len(got) != 0 {
		t.Fatalf("expected expired host to be pruned, got %+v", got)
	}
}
