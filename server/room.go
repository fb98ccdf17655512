package server

import (
	"context"
	"errors"
	"time"

	"github.com/lab1702/planetfall/game"
	"github.com/lab1702/planetfall/internal/logging"
	"github.com/lab1702/planetfall/internal/observability"
	"github.com/lab1702/planetfall/protocol"
)

// RoomID identifies a room. Zero is never a valid room.
type RoomID uint32

// DefaultRoomID is used when a connection does not ask for a room.
const DefaultRoomID RoomID = 1

// planetRefreshEvery is the tick cadence of the rotating planet refresh, and
// planetRefreshBatch the number of planets it re-sends each time.
const (
	planetRefreshEvery = 4
	planetRefreshBatch = 4
)

// ErrBackpressure is returned by Conn.Send when the outbound buffer is full.
var ErrBackpressure = errors.New("server: outbound buffer full")

// ErrConnClosed is returned by Conn.Send after the connection was closed.
var ErrConnClosed = errors.New("server: connection closed")

// Conn is the outbound side of a client connection.
type Conn interface {
	ID() string
	// Send queues an encoded frame without blocking.
	Send(frame []byte) error
	Close() error
}

type member struct {
	conn    Conn
	seat    game.Owner
	lastSeq uint32
}

// Room binds one engine to its connected members and turns engine changes
// into Welcome and Delta messages. A Room is driven from a single goroutine
// (the manager loop) and does no locking of its own.
type Room struct {
	id      RoomID
	engine  *game.Engine
	members map[string]*member
	seats   []string // conn id per seat index, "" when free

	pending       *pendingDelta
	lastBroadcast time.Time
	refreshCursor int
	idleSince     time.Time

	// onDrop is called when the room removes a member by itself.
	onDrop func(Conn)

	log     logging.Logger
	metrics *observability.SessionCollector
}

// NewRoom creates a room with a freshly generated world.
func NewRoom(id RoomID, cfg game.SimConfig, log logging.Logger, metrics *observability.SessionCollector) *Room {
	return newRoomWithEngine(id, game.NewGeneratedEngine(cfg), log, metrics)
}

func newRoomWithEngine(id RoomID, e *game.Engine, log logging.Logger, metrics *observability.SessionCollector) *Room {
	if log == nil {
		log = logging.Noop()
	}
	return &Room{
		id:      id,
		engine:  e,
		members: make(map[string]*member),
		seats:   make([]string, e.Config().SeatCount+1),
		pending: newPendingDelta(),
		log:     log.With(logging.Any("room", uint32(id))),
		metrics: metrics,
	}
}

// ID returns the room id.
func (r *Room) ID() RoomID { return r.id }

// Engine returns the room's simulation.
func (r *Room) Engine() *game.Engine { return r.engine }

// MemberCount returns the number of joined connections.
func (r *Room) MemberCount() int { return len(r.members) }

// SeatsTaken returns how many player seats are held.
func (r *Room) SeatsTaken() int {
	n := 0
	for _, id := range r.seats[1:] {
		if id != "" {
			n++
		}
	}
	return n
}

// Seat returns the owner identity held by conn.
func (r *Room) Seat(conn Conn) (game.Owner, bool) {
	m, ok := r.members[conn.ID()]
	if !ok {
		return game.Neutral, false
	}
	return m.seat, true
}

// Join adds conn to the room and sends it a Welcome. Joining twice keeps the
// original seat and just re-sends the Welcome. When every seat is taken the
// connection joins as a spectator with the Neutral identity.
func (r *Room) Join(conn Conn) game.Owner {
	if m, ok := r.members[conn.ID()]; ok {
		r.sendWelcome(m)
		return m.seat
	}

	m := &member{conn: conn, seat: r.freeSeat()}
	if m.seat.IsSeat() {
		r.seats[m.seat] = conn.ID()
	}
	r.members[conn.ID()] = m
	r.idleSince = time.Time{}

	r.log.Debug(context.Background(), "member joined",
		logging.String("conn", conn.ID()),
		logging.String("seat", m.seat.String()),
	)
	r.sendWelcome(m)
	return m.seat
}

func (r *Room) freeSeat() game.Owner {
	for i := 1; i < len(r.seats); i++ {
		if r.seats[i] != "" {
			continue
		}
		if seat, ok := game.SeatOwner(i); ok {
			return seat
		}
	}
	return game.Neutral
}

// Leave removes conn from the room, freeing its seat. Unknown connections
// are ignored.
func (r *Room) Leave(conn Conn) {
	m, ok := r.members[conn.ID()]
	if !ok {
		return
	}
	r.remove(m)
	r.log.Debug(context.Background(), "member left", logging.String("conn", conn.ID()))
}

func (r *Room) remove(m *member) {
	delete(r.members, m.conn.ID())
	if m.seat.IsSeat() && r.seats[m.seat] == m.conn.ID() {
		r.seats[m.seat] = ""
	}
}

// drop removes a member whose connection failed and closes it.
func (r *Room) drop(m *member, err error) {
	if _, ok := r.members[m.conn.ID()]; !ok {
		return
	}
	r.remove(m)
	if errors.Is(err, ErrBackpressure) {
		r.metrics.SlowDisconnect()
	}
	r.log.Warn(context.Background(), "dropping member",
		logging.String("conn", m.conn.ID()),
		logging.Err(err),
	)
	_ = m.conn.Close()
	if r.onDrop != nil {
		r.onDrop(m.conn)
	}
}

// IssueOrdersFrom forwards an order from conn to the engine using the seat
// conn holds. Spectators and unknown connections change nothing. It returns
// the number of fleets launched.
func (r *Room) IssueOrdersFrom(conn Conn, sources []game.PlanetID, target game.PlanetID, fraction float64) int {
	m, ok := r.members[conn.ID()]
	if !ok || !m.seat.IsSeat() {
		r.metrics.OrderRejected()
		return 0
	}

	res := r.engine.IssueOrders(m.seat, sources, target, fraction)
	for _, id := range res.Touched {
		r.pending.touchPlanet(id)
	}
	for _, f := range res.Fleets {
		r.pending.addFleet(f.ID)
	}
	r.metrics.FleetsCreated(len(res.Fleets))
	return len(res.Fleets)
}

// HandleMessage decodes one inbound frame from conn and acts on it. Frames
// that do not decode are counted and discarded; the connection stays open.
func (r *Room) HandleMessage(conn Conn, frame []byte, now time.Time) {
	msg, err := protocol.DecodeClient(frame)
	if err != nil {
		r.metrics.DecodeError()
		r.log.Debug(context.Background(), "discarding frame",
			logging.String("conn", conn.ID()),
			logging.Err(err),
		)
		return
	}

	m, ok := r.members[conn.ID()]
	if !ok {
		return
	}

	switch msg := msg.(type) {
	case *protocol.IssueOrders:
		if msg.InputSeq != 0 {
			if msg.InputSeq <= m.lastSeq {
				r.metrics.OrderRejected()
				return
			}
			m.lastSeq = msg.InputSeq
		}
		sources := make([]game.PlanetID, len(msg.FromIDs))
		for i, id := range msg.FromIDs {
			sources[i] = game.PlanetID(id)
		}
		r.IssueOrdersFrom(conn, sources, game.PlanetID(msg.TargetID), msg.Pct)
	case *protocol.RequestSnapshot:
		r.sendWelcome(m)
	case *protocol.Ping:
		r.send(m, &protocol.Pong{
			ServerTimeMs: uint64(now.UnixMilli()),
			Seq:          msg.Seq,
		})
	}
}

// Advance steps the engine by dt seconds, folds the result into the pending
// delta, and broadcasts it when the delta interval has elapsed since the
// previous broadcast.
func (r *Room) Advance(dt float64, now time.Time) {
	res := r.engine.Step(dt)
	for _, id := range res.Changed {
		r.pending.touchPlanet(id)
	}
	for _, id := range res.Removed {
		r.pending.removeFleet(id)
	}
	for _, f := range r.engine.Fleets() {
		r.pending.moveFleet(f.ID)
	}
	if r.engine.Tick()%planetRefreshEvery == 0 {
		r.stageRefresh()
	}

	if !r.lastBroadcast.IsZero() && now.Sub(r.lastBroadcast) < r.engine.Config().DeltaInterval() {
		return
	}
	r.broadcast(r.pending.build(r.engine))
	r.pending.reset()
	r.lastBroadcast = now
}

// stageRefresh re-sends the next few planets so that a client that missed a
// delta converges without a full snapshot.
func (r *Room) stageRefresh() {
	planets := r.engine.Planets()
	if len(planets) == 0 {
		return
	}
	n := min(planetRefreshBatch, len(planets))
	for i := 0; i < n; i++ {
		r.pending.touchPlanet(planets[(r.refreshCursor+i)%len(planets)].ID)
	}
	r.refreshCursor = (r.refreshCursor + n) % len(planets)
}

// End tells every member the room is over and closes their connections.
func (r *Room) End(reason string) {
	r.broadcast(&protocol.RoomEnded{Reason: reason})
	for _, m := range r.members {
		_ = m.conn.Close()
	}
	clear(r.members)
	for i := range r.seats {
		r.seats[i] = ""
	}
}

func (r *Room) welcome(m *member) *protocol.Welcome {
	cfg := r.engine.Config()
	return &protocol.Welcome{
		RoomID:   uint32(r.id),
		TickRate: uint32(cfg.TickRate),
		DeltaHz:  uint32(cfg.DeltaHz),
		PlayerID: uint32(m.seat),
		Layout:   layoutOf(r.engine),
		Snapshot: snapshotOf(r.engine),
	}
}

func (r *Room) sendWelcome(m *member) {
	r.send(m, r.welcome(m))
}

func (r *Room) send(m *member, msg protocol.ServerMessage) {
	frame, err := protocol.EncodeServer(msg)
	if err != nil {
		r.log.Error(context.Background(), "encode failed", logging.Err(err))
		return
	}
	if err := m.conn.Send(frame); err != nil {
		r.drop(m, err)
		return
	}
	r.metrics.MessageSent(protocol.Kind(msg), len(frame))
}

// broadcast encodes msg once and queues it to every member. Members whose
// buffers are full are dropped after the loop.
func (r *Room) broadcast(msg protocol.ServerMessage) {
	if len(r.members) == 0 {
		return
	}
	frame, err := protocol.EncodeServer(msg)
	if err != nil {
		r.log.Error(context.Background(), "encode failed", logging.Err(err))
		return
	}
	kind := protocol.Kind(msg)

	type failure struct {
		m   *member
		err error
	}
	var failed []failure
	for _, m := range r.members {
		if err := m.conn.Send(frame); err != nil {
			failed = append(failed, failure{m, err})
			continue
		}
		r.metrics.MessageSent(kind, len(frame))
	}
	for _, f := range failed {
		r.drop(f.m, f.err)
	}
}
