package p2p

import (
	"context"
	"testing"
	"time"

	"replicore/netsync"
	"replicore/server"
)

func TestGuestJoinsOverLibp2p(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	host, err := Listen(ctx, "/ip4/127.0.0.1/tcp/0", server.DefaultRoomConfig())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer host.Close()
	if len(host.Addrs()) == 0 {
		t.Fatalf("expected a listen address")
	}

	hs := netsync.NewSession(netsync.DefaultConfig(), nil)
	if err := hs.Connect(host.Local()); err != nil {
		t.Fatalf("connect host: %v", err)
	}

	dialer, err := NewDialer(nil)
	if err != nil {
		t.Fatalf("dialer: %v", err)
	}
	defer dialer.Close()
	gs := netsync.NewSession(netsync.DefaultConfig(), nil)
	if err := gs.ConnectAsync(ctx, dialer, host.Addrs()[0]); err != nil {
		t.Fatalf("connect guest: %v", err)
	}

	for !(gs.Connected() && len(hs.Peers()) == 2) {
		if ctx.Err() != nil {
			t.Fatalf("timed out: host=%v guest=%v", hs.State(), gs.State())
		}
		hs.Update(0)
		gs.Update(0)
		time.Sleep(5 * time.Millisecond)
	}
	if !gs.PeerToPeer() {
		t.Fatalf("expected p2p approval")
	}
	if gs.Master() != hs.Self() {
		t.Fatalf("expected host to be master, got %d", gs.Master())
	}
}
