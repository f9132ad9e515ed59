package netsync_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"replicore/netsync"
	"replicore/server"
	"replicore/transport/loopback"
	"replicore/wire"
)

type recorder struct {
	netsync.NopHandler
	connected    []wire.PeerID
	failed       []error
	disconnected int
	peersUp      []wire.PeerID
	peersDown    []wire.PeerID
	masters      []wire.PeerID
	spawned      []*netsync.Entity
	destroyed    []wire.EntityID
	owners       []wire.PeerID
	authority    []bool
	levels       []string
	chats        []string
}

func (r *recorder) OnConnected(self wire.PeerID)     { r.connected = append(r.connected, self) }
func (r *recorder) OnConnectFailed(err error)        { r.failed = append(r.failed, err) }
func (r *recorder) OnDisconnected(error)             { r.disconnected++ }
func (r *recorder) OnPeerConnected(p wire.PeerID)    { r.peersUp = append(r.peersUp, p) }
func (r *recorder) OnPeerDisconnected(p wire.PeerID) { r.peersDown = append(r.peersDown, p) }
func (r *recorder) OnMasterChanged(p wire.PeerID)    { r.masters = append(r.masters, p) }
func (r *recorder) OnSpawned(e *netsync.Entity)      { r.spawned = append(r.spawned, e) }
func (r *recorder) OnDestroyed(e *netsync.Entity)    { r.destroyed = append(r.destroyed, e.ID) }
func (r *recorder) OnOwnerChanged(e *netsync.Entity, _ wire.PeerID) {
	r.owners = append(r.owners, e.Owner())
}
func (r *recorder) OnAuthorityChanged(_ *netsync.Entity, sim bool) {
	r.authority = append(r.authority, sim)
}
func (r *recorder) OnLevelLoad(scene string, _ uint16) { r.levels = append(r.levels, scene) }
func (r *recorder) OnChat(_ wire.PeerID, text string)  { r.chats = append(r.chats, text) }

var crateSchema = wire.Schema{wire.FieldFloat}

type node struct {
	s   *netsync.Session
	rec *recorder
}

type harness struct {
	t     *testing.T
	room  *server.Room
	nodes []*node
}

func newHarness(t *testing.T, mutate func(*server.RoomConfig)) *harness {
	cfg := server.DefaultRoomConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return &harness{t: t, room: server.NewRoom("test", cfg)}
}

func (h *harness) session(name string, mutate func(*netsync.Config)) *node {
	h.t.Helper()
	cfg := netsync.DefaultConfig()
	cfg.Name = name
	if mutate != nil {
		mutate(&cfg)
	}
	rec := &recorder{}
	s := netsync.NewSession(cfg, rec)
	for _, spec := range []netsync.TypeSpec{
		{Name: "crate", Schema: crateSchema},
		{Name: "ball", Physics: true},
		{Name: "bullet", Fast: true},
	} {
		if err := s.RegisterType(spec); err != nil {
			h.t.Fatalf("register %s: %v", spec.Name, err)
		}
	}
	n := &node{s: s, rec: rec}
	h.nodes = append(h.nodes, n)
	return n
}

func (h *harness) connect(n *node) *node {
	h.t.Helper()
	if err := n.s.Connect(loopback.Dial(h.room, 0)); err != nil {
		h.t.Fatalf("connect: %v", err)
	}
	h.pump()
	return n
}

func (h *harness) join(name string) *node {
	h.t.Helper()
	n := h.connect(h.session(name, nil))
	if !n.s.Connected() {
		h.t.Fatalf("expected %s to be connected, got %v", name, n.s.State())
	}
	return n
}

// pump 交替推进房间与各会话，直到消息全部送达
func (h *harness) pump() {
	for i := 0; i < 8; i++ {
		h.room.ProcessInputs()
		for _, n := range h.nodes {
			n.s.Update(0)
		}
	}
}

func TestConnectHandshake(t *testing.T) {
	h := newHarness(t, nil)
	team := netsync.NewKey[int32]("team")

	a := h.session("alice", nil)
	if err := netsync.SetProperty(a.s, team, 1); err != nil {
		t.Fatalf("set property: %v", err)
	}
	if v, ok := netsync.GetProperty(a.s, a.s.Self(), team); !ok || v != 1 {
		t.Fatalf("expected own property before connecting, got %v %v", v, ok)
	}
	h.connect(a)
	if !a.s.Connected() || a.s.Self() != 1 || !a.s.IsMaster() {
		t.Fatalf("expected first peer to connect as master, got self=%d master=%d", a.s.Self(), a.s.Master())
	}

	b := h.session("bob", nil)
	_ = netsync.SetProperty(b.s, team, 2)
	h.connect(b)

	peers := b.s.Peers()
	if len(peers) != 2 || peers[0] != a.s.Self() || peers[1] != b.s.Self() {
		t.Fatalf("expected [1 2], got %v", peers)
	}
	if b.s.Master() != a.s.Self() {
		t.Fatalf("expected master %d, got %d", a.s.Self(), b.s.Master())
	}
	if v, ok := netsync.GetProperty(b.s, a.s.Self(), team); !ok || v != 1 {
		t.Fatalf("expected bob to see alice's team, got %v %v", v, ok)
	}
	if v, ok := netsync.GetProperty(a.s, b.s.Self(), team); !ok || v != 2 {
		t.Fatalf("expected alice to see bob's team, got %v %v", v, ok)
	}
	if _, ok := netsync.GetProperty(a.s, b.s.Self(), netsync.NewKey[string]("team")); ok {
		t.Fatalf("expected type mismatch to report missing")
	}
	if len(a.rec.peersUp) != 1 || a.rec.peersUp[0] != b.s.Self() {
		t.Fatalf("expected alice notified of bob, got %v", a.rec.peersUp)
	}
	if len(b.rec.connected) != 1 {
		t.Fatalf("expected one OnConnected, got %d", len(b.rec.connected))
	}
}

func TestRejectedWhenRoomFull(t *testing.T) {
	h := newHarness(t, func(c *server.RoomConfig) { c.MaxPeers = 1 })
	h.join("alice")
	b := h.connect(h.session("bob", nil))

	if b.s.State() != netsync.Disconnected {
		t.Fatalf("expected bob disconnected, got %v", b.s.State())
	}
	if len(b.rec.failed) != 1 {
		t.Fatalf("expected one connect failure, got %v", b.rec.failed)
	}
	var ce *netsync.ConnectionError
	if !errors.As(b.rec.failed[0], &ce) || ce.Code != netsync.ConnRejected {
		t.Fatalf("expected rejection, got %v", b.rec.failed[0])
	}
}

func TestMasterMigration(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join("a")
	b := h.join("b")
	c := h.join("c")

	a.s.Disconnect()
	h.pump()

	if a.rec.disconnected != 1 {
		t.Fatalf("expected OnDisconnected on the leaver")
	}
	if !b.s.IsMaster() || c.s.Master() != b.s.Self() {
		t.Fatalf("expected b to become master, got b=%d c=%d", b.s.Master(), c.s.Master())
	}
	if len(c.rec.masters) != 1 || c.rec.masters[0] != b.s.Self() {
		t.Fatalf("expected one master change on c, got %v", c.rec.masters)
	}
	if len(c.rec.peersDown) != 1 || c.s.Registry().Contains(1) {
		t.Fatalf("expected a removed from c's registry")
	}
}

func TestInvokeDelivery(t *testing.T) {
	h := newHarness(t, nil)
	hits := map[*netsync.Session][]int32{}
	a := h.join("a")
	b := h.join("b")
	c := h.join("c")
	for _, n := range []*node{a, b, c} {
		n.s.Handle("hit", func(call netsync.Call) {
			var v int32
			if err := call.Args.Scan(&v); err != nil {
				t.Errorf("scan: %v", err)
			}
			hits[call.Session] = append(hits[call.Session], v)
		})
	}
	count := func(n *node) int { return len(hits[n.s]) }

	if err := a.s.Invoke(wire.NoEntity, "hit", netsync.ToAll, int32(1)); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if count(a) != 1 {
		t.Fatalf("expected ToAll to run locally at once")
	}
	h.pump()
	if count(b) != 1 || count(c) != 1 {
		t.Fatalf("expected everyone to run ToAll, got b=%d c=%d", count(b), count(c))
	}

	_ = b.s.Invoke(wire.NoEntity, "hit", netsync.ToMaster, int32(2))
	_ = a.s.Invoke(wire.NoEntity, "hit", netsync.ToMaster, int32(3))
	_ = a.s.Invoke(wire.NoEntity, "hit", netsync.ToPeer(c.s.Self()), int32(4))
	_ = c.s.Invoke(wire.NoEntity, "hit", netsync.ToOthers, int32(5))
	h.pump()

	if got := hits[a.s]; len(got) != 4 || got[1] != 3 || got[2] != 2 || got[3] != 5 {
		t.Fatalf("unexpected calls on master: %v", got)
	}
	if got := hits[b.s]; len(got) != 2 || got[1] != 5 {
		t.Fatalf("unexpected calls on b: %v", got)
	}
	if got := hits[c.s]; len(got) != 2 || got[1] != 4 {
		t.Fatalf("unexpected calls on c: %v", got)
	}

	d := netsync.ToPeer(b.s.Self())
	d.Buffered = true
	if err := a.s.Invoke(wire.NoEntity, "hit", d); !errors.Is(err, netsync.ErrBufferedTarget) {
		t.Fatalf("expected ErrBufferedTarget, got %v", err)
	}
	if err := a.s.Invoke(wire.MakeEntityID(0, 9, 9), "hit", netsync.ToAll, int32(0)); err != nil {
		t.Fatalf("expected missing target to be silent, got %v", err)
	}
	if a.s.Stats().MissingTargets != 1 {
		t.Fatalf("expected a missing target to be counted")
	}
}

func TestLateJoinerSeesBufferedHistory(t *testing.T) {
	h := newHarness(t, nil)
	paints := map[*netsync.Session][]string{}
	handle := func(n *node) {
		n.s.Handle("paint", func(call netsync.Call) {
			var color string
			_ = call.Args.Scan(&color)
			paints[call.Session] = append(paints[call.Session], color)
		})
	}
	a := h.join("a")
	handle(a)

	crate, err := a.s.Spawn("crate", wire.Vec3{X: 1}, wire.Identity, netsync.WithInit("red"))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	_ = a.s.Invoke(crate.ID, "paint", netsync.ToAllBuffered, "blue")
	_ = a.s.Invoke(crate.ID, "paint", netsync.ToOthers, "green")
	doomed, _ := a.s.Spawn("crate", wire.Vec3{}, wire.Identity)
	if err := a.s.Destroy(doomed.ID); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	h.pump()

	b := h.session("b", nil)
	handle(b)
	h.connect(b)

	ents := b.s.Entities()
	if len(ents) != 1 || ents[0].ID != crate.ID {
		t.Fatalf("expected only the live crate, got %d entities", len(ents))
	}
	var color string
	if err := ents[0].Init().Scan(&color); err != nil || color != "red" {
		t.Fatalf("expected init data red, got %q (%v)", color, err)
	}
	if ents[0].State().Position.X != 1 || ents[0].Owner() != a.s.Self() {
		t.Fatalf("unexpected replicated entity: %+v", ents[0].State())
	}
	if got := paints[b.s]; len(got) != 1 || got[0] != "blue" {
		t.Fatalf("expected only the buffered call replayed, got %v", got)
	}
}

func TestLevelLoadHoldsQueueUntilFinished(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join("a")
	old, _ := a.s.Spawn("crate", wire.Vec3{}, wire.Identity)

	if err := a.s.RequestLoad("arena"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if a.s.LevelState() != netsync.LevelLoading || a.s.LevelPrefix() != 1 {
		t.Fatalf("expected loading prefix 1, got %v %d", a.s.LevelState(), a.s.LevelPrefix())
	}
	if _, ok := a.s.Entity(old.ID); ok {
		t.Fatalf("expected old level entity removed")
	}
	if _, err := a.s.Spawn("crate", wire.Vec3{}, wire.Identity); !errors.Is(err, netsync.ErrChannelDisabled) {
		t.Fatalf("expected gameplay sends blocked while loading, got %v", err)
	}
	h.pump()
	if err := a.s.FinishLevelLoad(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := a.s.FinishLevelLoad(); !errors.Is(err, netsync.ErrNotLoading) {
		t.Fatalf("expected ErrNotLoading, got %v", err)
	}
	fresh, err := a.s.Spawn("crate", wire.Vec3{}, wire.Identity)
	if err != nil {
		t.Fatalf("spawn after load: %v", err)
	}
	if fresh.ID.Prefix() != 1 {
		t.Fatalf("expected new entity in prefix 1, got %s", fresh.ID)
	}
	h.pump()

	b := h.join("b")
	if len(b.rec.levels) != 1 || b.rec.levels[0] != "arena" {
		t.Fatalf("expected bob to load arena, got %v", b.rec.levels)
	}
	if b.s.LevelState() != netsync.LevelLoading || len(b.s.Entities()) != 0 {
		t.Fatalf("expected spawn held while loading, got %d entities", len(b.s.Entities()))
	}
	if b.s.Stats().Held == 0 {
		t.Fatalf("expected held messages")
	}
	if err := b.s.FinishLevelLoad(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, ok := b.s.Entity(fresh.ID); !ok || len(b.s.Entities()) != 1 {
		t.Fatalf("expected the fresh crate after loading, got %d entities", len(b.s.Entities()))
	}
}

func TestPeerToPeerApprovalLoadsLevelOnce(t *testing.T) {
	h := newHarness(t, func(c *server.RoomConfig) { c.Mode = server.ModePeerToPeer })
	a := h.join("a")
	if !a.s.PeerToPeer() {
		t.Fatalf("expected p2p session")
	}
	_ = a.s.RequestLoad("arena")
	_ = a.s.FinishLevelLoad()
	h.pump()

	b := h.join("b")
	if len(b.rec.levels) != 1 || b.s.Level() != "arena" {
		t.Fatalf("expected arena loaded from approval, got %v", b.rec.levels)
	}
	if !b.s.Registry().Contains(a.s.Self()) {
		t.Fatalf("expected roster to include alice")
	}
	_ = b.s.FinishLevelLoad()
	if b.s.Stats().LevelLoads != 1 || b.s.Stats().StaleDropped != 1 {
		t.Fatalf("expected replayed load ignored, loads=%d stale=%d", b.s.Stats().LevelLoads, b.s.Stats().StaleDropped)
	}
	if b.s.LevelState() != netsync.LevelActive {
		t.Fatalf("expected level active, got %v", b.s.LevelState())
	}
}

func TestStateReplicationChases(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join("a")
	b := h.join("b")
	crate, _ := a.s.Spawn("crate", wire.Vec3{}, wire.Identity)
	h.pump()

	st := wire.State{Position: wire.Vec3{X: 10}, Rotation: wire.Identity, Fields: []wire.Field{wire.Float(3)}}
	if err := a.s.SetLocalState(crate.ID, st); err != nil {
		t.Fatalf("set state: %v", err)
	}
	if err := a.s.SetLocalState(crate.ID, wire.State{}); !errors.Is(err, wire.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
	a.s.Update(time.Second)
	h.room.ProcessInputs()

	b.s.Update(100 * time.Millisecond)
	e, ok := b.s.Entity(crate.ID)
	if !ok {
		t.Fatalf("expected crate on b")
	}
	if x := e.State().Position.X; x != 5 {
		t.Fatalf("expected halfway after 100ms, got %v", x)
	}
	if f := e.State().Fields[0].Float; f != 3 {
		t.Fatalf("expected discrete field snapped, got %v", f)
	}
	b.s.Update(time.Second)
	if x := e.State().Position.X; x != 10 {
		t.Fatalf("expected target reached without overshoot, got %v", x)
	}
	if err := b.s.SetLocalState(crate.ID, st); !errors.Is(err, netsync.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if a.s.Stats().StatesSent != 1 || b.s.Stats().StatesReceived != 1 {
		t.Fatalf("expected one state sent and received")
	}
}

func TestOwnershipTransfer(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join("a")
	b := h.join("b")
	crate, _ := a.s.Spawn("crate", wire.Vec3{}, wire.Identity)
	h.pump()

	if err := b.s.TransferOwnership(crate.ID, b.s.Self()); !errors.Is(err, netsync.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := a.s.TransferOwnership(crate.ID, b.s.Self()); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	h.pump()

	e, _ := b.s.Entity(crate.ID)
	if e.Owner() != b.s.Self() || len(b.rec.owners) != 1 {
		t.Fatalf("expected bob to own the crate, got %d", e.Owner())
	}
	st := wire.State{Rotation: wire.Identity, Fields: []wire.Field{wire.Float(1)}}
	if err := b.s.SetLocalState(crate.ID, st); err != nil {
		t.Fatalf("expected new owner to publish, got %v", err)
	}
	if err := a.s.SetLocalState(crate.ID, st); !errors.Is(err, netsync.ErrNotOwner) {
		t.Fatalf("expected previous owner to lose authority, got %v", err)
	}
}

func TestMasterLeaveHandsOverSceneObjects(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join("a")
	b := h.join("b")

	ball, err := a.s.SpawnSceneObject("ball", wire.Vec3{}, wire.Identity)
	if err != nil {
		t.Fatalf("spawn scene object: %v", err)
	}
	if !ball.Simulating() {
		t.Fatalf("expected master to simulate physics")
	}
	avatar, _ := a.s.Spawn("crate", wire.Vec3{}, wire.Identity)
	if _, err := b.s.SpawnSceneObject("ball", wire.Vec3{}, wire.Identity); !errors.Is(err, netsync.ErrNotMaster) {
		t.Fatalf("expected ErrNotMaster, got %v", err)
	}
	h.pump()
	remote, _ := b.s.Entity(ball.ID)
	if remote.Simulating() || !remote.Scene() {
		t.Fatalf("expected non-master to follow kinematically")
	}

	a.s.Disconnect()
	h.pump()

	if _, ok := b.s.Entity(avatar.ID); ok {
		t.Fatalf("expected leaver's own entity destroyed")
	}
	remote, ok := b.s.Entity(ball.ID)
	if !ok || remote.Owner() != b.s.Self() {
		t.Fatalf("expected scene object handed to the new master")
	}
	if !remote.Simulating() || len(b.rec.authority) != 1 || !b.rec.authority[0] {
		t.Fatalf("expected new master to take over simulation, got %v", b.rec.authority)
	}
	if len(a.s.Entities()) != 0 {
		t.Fatalf("expected leaver to clear local entities")
	}
}

func TestChannelGating(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join("a")
	b := h.join("b")
	calls := 0
	b.s.Handle("hit", func(netsync.Call) { calls++ })

	b.s.SetChannelEnabled(wire.ChannelGameplay, netsync.Receive, false)
	_ = a.s.Invoke(wire.NoEntity, "hit", netsync.ToOthers)
	h.pump()
	if calls != 0 || b.s.Stats().GatedReceives != 1 {
		t.Fatalf("expected call dropped on disabled channel")
	}
	b.s.SetChannelEnabled(wire.ChannelGameplay, netsync.Receive, true)
	_ = a.s.Invoke(wire.NoEntity, "hit", netsync.ToOthers)
	h.pump()
	if calls != 1 {
		t.Fatalf("expected call after re-enabling, got %d", calls)
	}

	a.s.SetChannelEnabled(wire.ChannelLevel, netsync.Send, false)
	if a.s.ChannelEnabled(wire.ChannelLevel, netsync.Both) {
		t.Fatalf("expected channel reported disabled")
	}
	if err := a.s.Invoke(wire.NoEntity, "hit", netsync.ToOthers.On(wire.ChannelLevel)); !errors.Is(err, netsync.ErrChannelDisabled) {
		t.Fatalf("expected ErrChannelDisabled, got %v", err)
	}
}

func TestTwoPhaseSpawn(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect(h.session("a", func(c *netsync.Config) { c.TwoPhaseSpawn = true }))
	b := h.join("b")

	crate, err := a.s.Spawn("crate", wire.Vec3{}, wire.Identity, netsync.WithInit("blue"))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	h.pump()
	c := h.join("c")

	for _, n := range []*node{b, c} {
		if len(n.rec.spawned) != 1 {
			t.Fatalf("expected one OnSpawned, got %d", len(n.rec.spawned))
		}
		e := n.rec.spawned[0]
		var color string
		if e.ID != crate.ID || !e.Initialized() || e.Init().Scan(&color) != nil || color != "blue" {
			t.Fatalf("expected initialized crate with blue, got %q", color)
		}
	}
}

func TestChat(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join("a")
	b := h.join("b")
	if err := a.s.Chat("gg"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	_ = a.s.Chat("oh shit")
	h.pump()
	if len(a.rec.chats) != 2 {
		t.Fatalf("expected local echo, got %v", a.rec.chats)
	}
	if len(b.rec.chats) != 1 || b.rec.chats[0] != "gg" {
		t.Fatalf("expected filtered chat on b, got %v", b.rec.chats)
	}
}

func TestConnectAsync(t *testing.T) {
	h := newHarness(t, nil)
	n := h.session("a", nil)

	block := netsync.DialerFunc(func(ctx context.Context, _ string) (netsync.Link, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err := n.s.ConnectAsync(context.Background(), block, "nowhere"); err != nil {
		t.Fatalf("connect async: %v", err)
	}
	if n.s.State() != netsync.Connecting {
		t.Fatalf("expected connecting, got %v", n.s.State())
	}
	n.s.AbortConnect()
	var ce *netsync.ConnectionError
	if len(n.rec.failed) != 1 || !errors.As(n.rec.failed[0], &ce) || ce.Code != netsync.ConnAborted {
		t.Fatalf("expected aborted, got %v", n.rec.failed)
	}

	if err := n.s.ConnectAsync(context.Background(), loopback.Dialer{Room: h.room}, ""); err != nil {
		t.Fatalf("connect async: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !n.s.Connected() && time.Now().Before(deadline) {
		h.pump()
		time.Sleep(time.Millisecond)
	}
	if !n.s.Connected() || len(n.rec.failed) != 1 {
		t.Fatalf("expected connected after async dial, got %v", n.s.State())
	}
}

func TestRegistryAgreesAcrossChurn(t *testing.T) {
	h := newHarness(t, func(c *server.RoomConfig) { c.MaxPeers = 64 })
	rng := rand.New(rand.NewSource(7))
	var live []*node

	for i := 0; i < 40; i++ {
		if len(live) == 0 || rng.Intn(3) != 0 {
			live = append(live, h.join(fmt.Sprintf("p%d", i)))
		} else {
			k := rng.Intn(len(live))
			live[k].s.Disconnect()
			live = append(live[:k], live[k+1:]...)
			h.pump()
		}
		if len(live) == 0 {
			continue
		}

		want := map[wire.PeerID]bool{}
		for _, n := range live {
			want[n.s.Self()] = true
		}
		master := live[0].s.Master()
		if !want[master] {
			t.Fatalf("step %d: master %d is not connected", i, master)
		}
		for _, n := range live {
			peers := n.s.Peers()
			if len(peers) != len(want) {
				t.Fatalf("step %d: peer %d sees %v, expected %d peers", i, n.s.Self(), peers, len(want))
			}
			for _, p := range peers {
				if !want[p] {
					t.Fatalf("step %d: peer %d still lists %d", i, n.s.Self(), p)
				}
			}
			if n.s.Master() != master {
				t.Fatalf("step %d: peer %d has master %d, expected %d", i, n.s.Self(), n.s.Master(), master)
			}
		}
	}
}

func TestOwnerUnaffectedByUnrelatedLeave(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join("a")
	b := h.join("b")
	e, _ := a.s.Spawn("crate", wire.Vec3{}, wire.Identity)
	h.pump()

	b.s.Disconnect()
	h.pump()
	if e.Owner() != a.s.Self() || !a.s.IsMaster() {
		t.Fatalf("expected a to keep the crate and mastership")
	}
	if _, ok := a.s.Entity(e.ID); !ok {
		t.Fatalf("expected crate to survive b leaving")
	}
}

func TestNoGameplayDeliveredWhileLoading(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join("a")
	b := h.join("b")
	hits := map[*netsync.Session]int{}
	for _, n := range []*node{a, b} {
		n.s.Handle("hit", func(c netsync.Call) { hits[c.Session]++ })
	}

	_ = a.s.RequestLoad("L2")
	// b has not seen the load yet, its call carries the old prefix
	_ = b.s.Invoke(wire.NoEntity, "hit", netsync.ToOthers)
	h.pump()
	if hits[a.s] != 0 || h.room.Metrics().StaleDropped != 1 {
		t.Fatalf("expected old-level call dropped, hits=%d", hits[a.s])
	}
	if b.s.LevelState() != netsync.LevelLoading {
		t.Fatalf("expected b loading, got %v", b.s.LevelState())
	}

	_ = a.s.FinishLevelLoad()
	_ = a.s.Invoke(wire.NoEntity, "hit", netsync.ToOthers)
	h.pump()
	if hits[b.s] != 0 {
		t.Fatalf("expected no gameplay calls while loading")
	}
	_ = b.s.FinishLevelLoad()
	if hits[b.s] != 1 {
		t.Fatalf("expected held call after loading, got %d", hits[b.s])
	}
}
