package stream

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"replicore/netsync"
	"replicore/server"
	"replicore/transport/loopback"
	"replicore/wire"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEnqueueAfterClose(t *testing.T) {
	srv, cli := net.Pipe()
	defer cli.Close()
	c := &conn{rwc: srv, send: make(chan []byte, 1)}
	c.Close()
	c.Close()
	if c.Enqueue([]byte{1}) {
		t.Fatalf("expected enqueue on closed conn to fail")
	}
}

func TestLateJoinerReplayExceedsSendQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	room := server.NewRoom("pipe", server.DefaultRoomConfig())
	room.StartTicker(ctx)

	aCfg := netsync.DefaultConfig()
	aCfg.Name = "a"
	a := netsync.NewSession(aCfg, nil)
	if err := a.Connect(loopback.Dial(room, 0)); err != nil {
		t.Fatalf("connect a: %v", err)
	}
	waitFor(t, "a connected", func() bool {
		a.Update(0)
		return a.Connected()
	})

	const notes = 1500
	for i := 0; i < notes; i++ {
		if err := a.Invoke(wire.NoEntity, "note", netsync.ToOthersBuffered, i); err != nil {
			t.Fatalf("invoke %d: %v", i, err)
		}
	}
	waitFor(t, "buffered log filled", func() bool { return room.Snapshot().Buffered == notes })

	bCfg := netsync.DefaultConfig()
	bCfg.Name = "b"
	b := netsync.NewSession(bCfg, nil)
	var got []int
	b.Handle("note", func(c netsync.Call) {
		var n int
		if err := c.Args.Scan(&n); err == nil {
			got = append(got, n)
		}
	})
	srv, cli := net.Pipe()
	go Serve(room, srv, nil)
	if err := b.Connect(NewLink(cli, nil)); err != nil {
		t.Fatalf("connect b: %v", err)
	}
	waitFor(t, "replay delivered", func() bool {
		b.Update(0)
		return len(got) == notes || b.State() == netsync.Disconnected
	})
	if !b.Connected() {
		t.Fatalf("expected b to stay connected, state %v", b.State())
	}
	for i, n := range got {
		if n != i {
			t.Fatalf("replay out of order at %d: got %d", i, n)
		}
	}
	if n := atomic.LoadInt64(&room.Metrics().ChanFullDiscarded); n != 0 {
		t.Fatalf("expected no peer dropped, got %d", n)
	}
}
