package server

import (
	"testing"
	"time"

	"github.com/lab1702/planetfall/game"
	"github.com/lab1702/planetfall/protocol"
)

// fakeConn records frames in memory. When full is set every Send fails with
// ErrBackpressure.
type fakeConn struct {
	id     string
	frames [][]byte
	full   bool
	closed bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) error {
	if c.closed {
		return ErrConnClosed
	}
	if c.full {
		return ErrBackpressure
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

// drain decodes and forgets every recorded frame.
func (c *fakeConn) drain(t *testing.T) []protocol.ServerMessage {
	t.Helper()
	out := make([]protocol.ServerMessage, 0, len(c.frames))
	for _, f := range c.frames {
		msg, err := protocol.DecodeServer(f)
		if err != nil {
			t.Fatalf("conn %s received undecodable frame: %v", c.id, err)
		}
		out = append(out, msg)
	}
	c.frames = nil
	return out
}

func deltasOf(msgs []protocol.ServerMessage) []*protocol.Delta {
	var out []*protocol.Delta
	for _, m := range msgs {
		if d, ok := m.(*protocol.Delta); ok {
			out = append(out, d)
		}
	}
	return out
}

// testSimConfig steps at 10Hz and broadcasts at 10Hz so that one Advance per
// 100ms produces one delta.
func testSimConfig() game.SimConfig {
	cfg := game.DefaultSimConfig()
	cfg.PlanetCount = 2
	cfg.TickRate = 10
	cfg.DeltaHz = 10
	cfg.FleetSpeed = 100
	cfg.SeatCount = 2
	return cfg
}

func newTestRoom(cfg game.SimConfig, planets ...game.Planet) *Room {
	return newRoomWithEngine(7, game.NewEngine(cfg, planets), nil, nil)
}

func duelPlanets() []game.Planet {
	return []game.Planet{
		{Pos: game.Vec2{X: 100, Y: 100}, Radius: 20, Owner: game.Seat1, Ships: 100},
		{Pos: game.Vec2{X: 300, Y: 100}, Radius: 20, Owner: game.Seat2, Ships: 5},
	}
}

func encodeClient(t *testing.T, m protocol.ClientMessage) []byte {
	t.Helper()
	b, err := protocol.EncodeClient(m)
	if err != nil {
		t.Fatalf("EncodeClient: %v", err)
	}
	return b
}

func TestJoinAssignsSeatsThenSpectators(t *testing.T) {
	r := newTestRoom(testSimConfig(), duelPlanets()...)
	a, b, c := newFakeConn("a"), newFakeConn("b"), newFakeConn("c")

	want := map[*fakeConn]game.Owner{a: game.Seat1, b: game.Seat2, c: game.Neutral}
	for _, conn := range []*fakeConn{a, b, c} {
		if got := r.Join(conn); got != want[conn] {
			t.Errorf("Join(%s) = %v, want %v", conn.id, got, want[conn])
		}
	}

	for _, conn := range []*fakeConn{a, b, c} {
		msgs := conn.drain(t)
		if len(msgs) != 1 {
			t.Fatalf("conn %s got %d messages, want 1", conn.id, len(msgs))
		}
		w, ok := msgs[0].(*protocol.Welcome)
		if !ok {
			t.Fatalf("conn %s got %T, want *Welcome", conn.id, msgs[0])
		}
		if w.PlayerID != uint32(want[conn]) {
			t.Errorf("conn %s player id = %d, want %d", conn.id, w.PlayerID, want[conn])
		}
		if w.RoomID != 7 || w.TickRate != 10 || w.DeltaHz != 10 {
			t.Errorf("conn %s welcome header = %+v", conn.id, w)
		}
		if len(w.Layout.Planets) != 2 || len(w.Snapshot.Planets) != 2 {
			t.Errorf("conn %s welcome carries %d layout / %d snapshot planets",
				conn.id, len(w.Layout.Planets), len(w.Snapshot.Planets))
		}
	}
	if got := r.SeatsTaken(); got != 2 {
		t.Errorf("SeatsTaken = %d, want 2", got)
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	r := newTestRoom(testSimConfig(), duelPlanets()...)
	a := newFakeConn("a")

	first := r.Join(a)
	second := r.Join(a)
	if first != game.Seat1 || second != game.Seat1 {
		t.Fatalf("seats = %v, %v; want Seat1 twice", first, second)
	}
	if r.MemberCount() != 1 || r.SeatsTaken() != 1 {
		t.Errorf("members = %d seats = %d, want 1 and 1", r.MemberCount(), r.SeatsTaken())
	}
	if n := len(a.drain(t)); n != 2 {
		t.Errorf("got %d welcomes, want 2", n)
	}

	// The next newcomer still gets the second seat.
	if got := r.Join(newFakeConn("b")); got != game.Seat2 {
		t.Errorf("second conn seat = %v, want Seat2", got)
	}
}

func TestLeaveFreesSeat(t *testing.T) {
	r := newTestRoom(testSimConfig(), duelPlanets()...)
	a, b := newFakeConn("a"), newFakeConn("b")
	r.Join(a)
	r.Join(b)

	r.Leave(a)
	r.Leave(newFakeConn("stranger"))
	if r.MemberCount() != 1 {
		t.Fatalf("members = %d, want 1", r.MemberCount())
	}
	if got := r.Join(newFakeConn("c")); got != game.Seat1 {
		t.Errorf("rejoin seat = %v, want Seat1", got)
	}
}

func TestSpectatorOrdersChangeNothing(t *testing.T) {
	cfg := testSimConfig()
	cfg.SeatCount = 1
	r := newTestRoom(cfg, duelPlanets()...)
	r.Join(newFakeConn("a"))
	spectator := newFakeConn("spectator")
	if seat := r.Join(spectator); seat != game.Neutral {
		t.Fatalf("spectator seat = %v", seat)
	}

	if n := r.IssueOrdersFrom(spectator, []game.PlanetID{0}, 1, 1); n != 0 {
		t.Errorf("spectator launched %d fleets", n)
	}
	if n := r.IssueOrdersFrom(newFakeConn("stranger"), []game.PlanetID{0}, 1, 1); n != 0 {
		t.Errorf("unknown conn launched %d fleets", n)
	}
	if got := r.Engine().Planets()[0].Ships; got != 100 {
		t.Errorf("source ships = %v, want 100", got)
	}
}

func TestDeltaIsThrottled(t *testing.T) {
	cfg := testSimConfig()
	cfg.DeltaHz = 15
	r := newTestRoom(cfg, duelPlanets()...)
	a := newFakeConn("a")
	r.Join(a)
	a.drain(t)

	t0 := time.Now()
	r.Advance(cfg.StepSeconds(), t0)
	r.Advance(cfg.StepSeconds(), t0.Add(10*time.Millisecond))
	if n := len(deltasOf(a.drain(t))); n != 1 {
		t.Fatalf("advances 10ms apart produced %d deltas, want 1", n)
	}

	r.Advance(cfg.StepSeconds(), t0.Add(cfg.DeltaInterval()))
	deltas := deltasOf(a.drain(t))
	if len(deltas) != 1 {
		t.Fatalf("advance after interval produced %d deltas, want 1", len(deltas))
	}
	if deltas[0].Tick != 3 {
		t.Errorf("delta tick = %d, want 3", deltas[0].Tick)
	}
}

func TestDeltaTracksFleetLifecycle(t *testing.T) {
	cfg := testSimConfig()
	r := newTestRoom(cfg, duelPlanets()...)
	a := newFakeConn("a")
	r.Join(a)
	a.drain(t)

	if n := r.IssueOrdersFrom(a, []game.PlanetID{0}, 1, 0.5); n != 1 {
		t.Fatalf("launched %d fleets, want 1", n)
	}

	now := time.Now()
	r.Advance(cfg.StepSeconds(), now)
	deltas := deltasOf(a.drain(t))
	if len(deltas) != 1 {
		t.Fatalf("got %d deltas, want 1", len(deltas))
	}
	first := deltas[0]
	if len(first.NewFleets) != 1 {
		t.Fatalf("new fleets = %+v, want 1", first.NewFleets)
	}
	nf := first.NewFleets[0]
	if nf.Owner != uint32(game.Seat1) || nf.FromID != 0 || nf.ToID != 1 || nf.Ships != 50 {
		t.Errorf("new fleet = %+v", nf)
	}
	if len(first.Fleets) != 0 {
		t.Errorf("new fleet also listed as moved: %+v", first.Fleets)
	}
	foundSource := false
	for _, p := range first.Planets {
		if p.ID == 0 && p.Ships == 50 {
			foundSource = true
		}
	}
	if !foundSource {
		t.Errorf("debited source missing from delta planets: %+v", first.Planets)
	}

	now = now.Add(cfg.DeltaInterval())
	r.Advance(cfg.StepSeconds(), now)
	second := deltasOf(a.drain(t))[0]
	if len(second.Fleets) != 1 || second.Fleets[0].ID != nf.ID {
		t.Errorf("moved fleets = %+v, want fleet %d", second.Fleets, nf.ID)
	}
	if len(second.NewFleets) != 0 {
		t.Errorf("fleet announced twice: %+v", second.NewFleets)
	}

	var removedIn *protocol.Delta
	for i := 0; i < 40 && removedIn == nil; i++ {
		now = now.Add(cfg.DeltaInterval())
		r.Advance(cfg.StepSeconds(), now)
		for _, d := range deltasOf(a.drain(t)) {
			if len(d.RemoveFleets) > 0 {
				removedIn = d
			}
		}
	}
	if removedIn == nil {
		t.Fatal("fleet never resolved")
	}
	if removedIn.RemoveFleets[0] != nf.ID {
		t.Errorf("removed = %v, want [%d]", removedIn.RemoveFleets, nf.ID)
	}
	for _, fp := range removedIn.Fleets {
		if fp.ID == nf.ID {
			t.Errorf("resolved fleet still listed as moved")
		}
	}
	captured := false
	for _, p := range removedIn.Planets {
		if p.ID == 1 && p.Owner == uint32(game.Seat1) {
			captured = true
		}
	}
	if !captured {
		t.Errorf("capture missing from delta planets: %+v", removedIn.Planets)
	}
}

func TestFleetResolvedWithinWindowIsOmitted(t *testing.T) {
	cfg := testSimConfig()
	cfg.FleetSpeed = 100000
	r := newTestRoom(cfg, duelPlanets()...)
	a := newFakeConn("a")
	r.Join(a)

	t0 := time.Now()
	r.Advance(cfg.StepSeconds(), t0)
	a.drain(t)

	r.IssueOrdersFrom(a, []game.PlanetID{0}, 1, 0.5)
	r.Advance(cfg.StepSeconds(), t0.Add(time.Millisecond))
	if r.Engine().FleetCount() != 0 {
		t.Fatalf("fleet still in flight")
	}
	r.Advance(cfg.StepSeconds(), t0.Add(cfg.DeltaInterval()))

	deltas := deltasOf(a.drain(t))
	if len(deltas) != 1 {
		t.Fatalf("got %d deltas, want 1", len(deltas))
	}
	d := deltas[0]
	if len(d.NewFleets) != 0 || len(d.RemoveFleets) != 0 || len(d.Fleets) != 0 {
		t.Errorf("short-lived fleet leaked into delta: %+v", d)
	}
	if len(d.Planets) != 2 {
		t.Errorf("planets = %+v, want both planets", d.Planets)
	}
}

func TestRotatingPlanetRefresh(t *testing.T) {
	cfg := testSimConfig()
	r := newTestRoom(cfg,
		game.Planet{Pos: game.Vec2{X: 100, Y: 100}, Radius: 20, Ships: 10},
		game.Planet{Pos: game.Vec2{X: 300, Y: 100}, Radius: 20, Ships: 10},
	)
	a := newFakeConn("a")
	r.Join(a)
	a.drain(t)

	now := time.Now()
	var deltas []*protocol.Delta
	for i := 0; i < planetRefreshEvery; i++ {
		r.Advance(cfg.StepSeconds(), now)
		deltas = append(deltas, deltasOf(a.drain(t))...)
		now = now.Add(cfg.DeltaInterval())
	}
	if len(deltas) != planetRefreshEvery {
		t.Fatalf("got %d deltas, want %d", len(deltas), planetRefreshEvery)
	}
	if len(deltas[0].Planets) != 0 {
		t.Errorf("idle tick carried planets: %+v", deltas[0].Planets)
	}
	if got := len(deltas[planetRefreshEvery-1].Planets); got != 2 {
		t.Errorf("refresh tick carried %d planets, want 2", got)
	}
}

func TestHandleMessageDiscardsMalformedFrames(t *testing.T) {
	r := newTestRoom(testSimConfig(), duelPlanets()...)
	a := newFakeConn("a")
	r.Join(a)
	a.drain(t)

	r.HandleMessage(a, []byte{0xff, 0xff, 0xff}, time.Now())
	r.HandleMessage(a, nil, time.Now())
	if a.closed || len(a.frames) != 0 {
		t.Errorf("malformed frame closed=%v frames=%d", a.closed, len(a.frames))
	}
	if _, ok := r.Seat(a); !ok {
		t.Error("member removed after malformed frame")
	}
}

func TestHandleMessagePing(t *testing.T) {
	r := newTestRoom(testSimConfig(), duelPlanets()...)
	a := newFakeConn("a")
	r.Join(a)
	a.drain(t)

	now := time.UnixMilli(1700000000123)
	r.HandleMessage(a, encodeClient(t, &protocol.Ping{ClientTimeMs: 5, Seq: 9}), now)
	msgs := a.drain(t)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	pong, ok := msgs[0].(*protocol.Pong)
	if !ok {
		t.Fatalf("got %T, want *Pong", msgs[0])
	}
	if pong.Seq != 9 || pong.ServerTimeMs != 1700000000123 {
		t.Errorf("pong = %+v", pong)
	}
}

func TestHandleMessageRequestSnapshot(t *testing.T) {
	r := newTestRoom(testSimConfig(), duelPlanets()...)
	a := newFakeConn("a")
	r.Join(a)
	a.drain(t)
	r.Advance(0.1, time.Now())
	a.drain(t)

	r.HandleMessage(a, encodeClient(t, &protocol.RequestSnapshot{}), time.Now())
	msgs := a.drain(t)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	w, ok := msgs[0].(*protocol.Welcome)
	if !ok {
		t.Fatalf("got %T, want *Welcome", msgs[0])
	}
	if w.Snapshot.Tick != 1 {
		t.Errorf("snapshot tick = %d, want 1", w.Snapshot.Tick)
	}
}

func TestHandleMessageInputSequence(t *testing.T) {
	r := newTestRoom(testSimConfig(), duelPlanets()...)
	a := newFakeConn("a")
	r.Join(a)

	orders := func(seq uint32) []byte {
		return encodeClient(t, &protocol.IssueOrders{FromIDs: []uint32{0}, TargetID: 1, Pct: 0.1, InputSeq: seq})
	}
	steps := []struct {
		seq    uint32
		fleets int
	}{
		{5, 1},
		{5, 1}, // repeated
		{3, 1}, // stale
		{0, 2}, // unsequenced
		{6, 3},
	}
	for _, s := range steps {
		r.HandleMessage(a, orders(s.seq), time.Now())
		if got := r.Engine().FleetCount(); got != s.fleets {
			t.Errorf("after seq %d fleets = %d, want %d", s.seq, got, s.fleets)
		}
	}
}

func TestHandleMessageOrderFractionSurvivesWire(t *testing.T) {
	tests := []struct {
		pct       float64
		sent      float64
		remaining float64
	}{
		{0.7, 7, 3},
		{0.3, 3, 7},
		{0.9, 9, 1},
	}
	for _, tt := range tests {
		r := newTestRoom(testSimConfig(),
			game.Planet{Pos: game.Vec2{X: 100, Y: 100}, Radius: 20, Owner: game.Seat1, Ships: 10},
			game.Planet{Pos: game.Vec2{X: 300, Y: 100}, Radius: 20, Owner: game.Seat2, Ships: 5},
		)
		a := newFakeConn("a")
		r.Join(a)

		r.HandleMessage(a, encodeClient(t, &protocol.IssueOrders{FromIDs: []uint32{0}, TargetID: 1, Pct: tt.pct}), time.Now())

		fleets := r.Engine().Fleets()
		if len(fleets) != 1 {
			t.Fatalf("pct %v: got %d fleets, want 1", tt.pct, len(fleets))
		}
		if fleets[0].Ships != tt.sent {
			t.Errorf("pct %v: sent %v ships, want %v", tt.pct, fleets[0].Ships, tt.sent)
		}
		if got := r.Engine().Planets()[0].Ships; got != tt.remaining {
			t.Errorf("pct %v: source has %v ships, want %v", tt.pct, got, tt.remaining)
		}
	}
}

func TestBackpressureDropsOnlySlowMember(t *testing.T) {
	r := newTestRoom(testSimConfig(), duelPlanets()...)
	fast, slow := newFakeConn("fast"), newFakeConn("slow")
	r.Join(fast)
	r.Join(slow)
	fast.drain(t)
	slow.drain(t)

	var dropped []string
	r.onDrop = func(c Conn) { dropped = append(dropped, c.ID()) }

	slow.full = true
	r.Advance(0.1, time.Now())

	if !slow.closed {
		t.Error("slow member not closed")
	}
	if fast.closed {
		t.Error("fast member closed")
	}
	if len(deltasOf(fast.drain(t))) != 1 {
		t.Error("fast member missed the delta")
	}
	if r.MemberCount() != 1 || r.SeatsTaken() != 1 {
		t.Errorf("members = %d seats = %d, want 1 and 1", r.MemberCount(), r.SeatsTaken())
	}
	if len(dropped) != 1 || dropped[0] != "slow" {
		t.Errorf("dropped = %v, want [slow]", dropped)
	}
}

func TestEndNotifiesAndClosesMembers(t *testing.T) {
	r := newTestRoom(testSimConfig(), duelPlanets()...)
	a, b := newFakeConn("a"), newFakeConn("b")
	r.Join(a)
	r.Join(b)
	a.drain(t)
	b.drain(t)

	r.End("maintenance")
	for _, c := range []*fakeConn{a, b} {
		msgs := c.drain(t)
		if len(msgs) != 1 {
			t.Fatalf("conn %s got %d messages, want 1", c.id, len(msgs))
		}
		ended, ok := msgs[0].(*protocol.RoomEnded)
		if !ok || ended.Reason != "maintenance" {
			t.Errorf("conn %s got %+v", c.id, msgs[0])
		}
		if !c.closed {
			t.Errorf("conn %s not closed", c.id)
		}
	}
	if r.MemberCount() != 0 || r.SeatsTaken() != 0 {
		t.Errorf("room still has members after End")
	}
}

func TestTwoPlayerOrdersReachBothMembers(t *testing.T) {
	r := newTestRoom(testSimConfig(), duelPlanets()...)
	a, b := newFakeConn("a"), newFakeConn("b")
	r.Join(a)
	r.Join(b)
	a.drain(t)
	b.drain(t)

	r.HandleMessage(a, encodeClient(t, &protocol.IssueOrders{FromIDs: []uint32{0}, TargetID: 1, Pct: 0.25, InputSeq: 1}), time.Now())
	// Seat2 cannot order Seat1's planet.
	r.HandleMessage(b, encodeClient(t, &protocol.IssueOrders{FromIDs: []uint32{0}, TargetID: 1, Pct: 1, InputSeq: 1}), time.Now())
	r.Advance(0.1, time.Now())

	for _, c := range []*fakeConn{a, b} {
		deltas := deltasOf(c.drain(t))
		if len(deltas) != 1 {
			t.Fatalf("conn %s got %d deltas", c.id, len(deltas))
		}
		if len(deltas[0].NewFleets) != 1 {
			t.Fatalf("conn %s new fleets = %+v", c.id, deltas[0].NewFleets)
		}
		f := deltas[0].NewFleets[0]
		if f.Owner != uint32(game.Seat1) || f.Ships != 25 {
			t.Errorf("conn %s fleet = %+v", c.id, f)
		}
	}
}
