package server

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lab1702/planetfall/game"
	"github.com/lab1702/planetfall/internal/logging"
	"github.com/lab1702/planetfall/internal/observability"
)

// ErrManagerStopped is returned by calls made after Run has returned.
var ErrManagerStopped = errors.New("server: manager stopped")

const tracerName = "github.com/lab1702/planetfall/server"

// RoomInfo summarizes one live room.
type RoomInfo struct {
	ID         RoomID `json:"id"`
	Tick       uint64 `json:"tick"`
	Members    int    `json:"members"`
	SeatsTaken int    `json:"seatsTaken"`
	Fleets     int    `json:"fleets"`

	Seats []SeatInfo `json:"seats"`
}

// SeatInfo is one seat's standing. Ships counts both planets and fleets in
// flight.
type SeatInfo struct {
	Seat    uint32  `json:"seat"`
	Planets int     `json:"planets"`
	Ships   float64 `json:"ships"`
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Sim          game.SimConfig
	EmptyRoomTTL time.Duration // 0 keeps empty rooms forever
	InboxSize    int
	Logger       logging.Logger
	Metrics      *observability.SessionCollector
}

type joinEvent struct {
	room  RoomID
	conn  Conn
	reply chan game.Owner
}

type messageEvent struct {
	conn  Conn
	frame []byte
}

type leaveEvent struct {
	conn Conn
}

type roomsQuery struct {
	reply chan []RoomInfo
}

type disposeEvent struct {
	room   RoomID
	reason string
}

// Manager owns every room. Rooms are created on first join and advanced
// together on one fixed-rate ticker. All room state is touched only from the
// goroutine running Run; other goroutines talk to it through the inbox.
type Manager struct {
	cfg      game.SimConfig
	emptyTTL time.Duration

	rooms     map[RoomID]*Room
	connRooms map[string]RoomID

	inbox chan any
	done  chan struct{}

	tracer  trace.Tracer
	log     logging.Logger
	metrics *observability.SessionCollector
}

// NewManager creates a manager. Call Run to start ticking.
func NewManager(opts ManagerOptions) *Manager {
	if opts.InboxSize <= 0 {
		opts.InboxSize = 1024
	}
	if opts.Logger == nil {
		opts.Logger = logging.Noop()
	}
	return &Manager{
		cfg:       opts.Sim,
		emptyTTL:  opts.EmptyRoomTTL,
		rooms:     make(map[RoomID]*Room),
		connRooms: make(map[string]RoomID),
		inbox:     make(chan any, opts.InboxSize),
		done:      make(chan struct{}),
		tracer:    otel.Tracer(tracerName),
		log:       opts.Logger,
		metrics:   opts.Metrics,
	}
}

// Run drives the manager until ctx is cancelled. On return every room has
// been ended with a shutdown reason.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.TickDuration())
	defer ticker.Stop()

	m.log.Info(ctx, "room manager started",
		logging.Int("tick_rate", m.cfg.TickRate),
		logging.Int("delta_hz", m.cfg.DeltaHz),
	)
	for {
		select {
		case <-ctx.Done():
			m.DisposeAll("server shutting down")
			m.log.Info(context.Background(), "room manager stopped")
			return ctx.Err()
		case ev := <-m.inbox:
			m.handle(ev, time.Now())
		case now := <-ticker.C:
			m.Tick(now)
		}
	}
}

// Connect joins conn to room id and returns the seat it was given.
func (m *Manager) Connect(ctx context.Context, id RoomID, conn Conn) (game.Owner, error) {
	reply := make(chan game.Owner, 1)
	if err := m.post(ctx, joinEvent{room: id, conn: conn, reply: reply}); err != nil {
		return game.Neutral, err
	}
	select {
	case seat := <-reply:
		return seat, nil
	case <-m.done:
		return game.Neutral, ErrManagerStopped
	case <-ctx.Done():
		return game.Neutral, ctx.Err()
	}
}

// Deliver hands an inbound frame from conn to its room.
func (m *Manager) Deliver(ctx context.Context, conn Conn, frame []byte) error {
	return m.post(ctx, messageEvent{conn: conn, frame: frame})
}

// Disconnect removes conn from whatever room it is in.
func (m *Manager) Disconnect(ctx context.Context, conn Conn) error {
	return m.post(ctx, leaveEvent{conn: conn})
}

// End disposes of a room from outside the manager loop.
func (m *Manager) End(ctx context.Context, id RoomID, reason string) error {
	return m.post(ctx, disposeEvent{room: id, reason: reason})
}

// ListRooms returns a summary of every live room ordered by id.
func (m *Manager) ListRooms(ctx context.Context) ([]RoomInfo, error) {
	reply := make(chan []RoomInfo, 1)
	if err := m.post(ctx, roomsQuery{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case rooms := <-reply:
		return rooms, nil
	case <-m.done:
		return nil, ErrManagerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) post(ctx context.Context, ev any) error {
	select {
	case m.inbox <- ev:
		return nil
	case <-m.done:
		return ErrManagerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) handle(ev any, now time.Time) {
	switch ev := ev.(type) {
	case joinEvent:
		ev.reply <- m.join(ev.room, ev.conn)
	case messageEvent:
		id, ok := m.connRooms[ev.conn.ID()]
		if !ok {
			return
		}
		if r, ok := m.rooms[id]; ok {
			m.deliver(r, ev, now)
		}
	case leaveEvent:
		m.leave(ev.conn)
	case disposeEvent:
		m.Dispose(ev.room, ev.reason)
	case roomsQuery:
		ev.reply <- m.Rooms()
	}
}

// deliver hands a frame to its room. A panic while handling client input is
// logged and contained so one bad frame cannot stop every room.
func (m *Manager) deliver(r *Room, ev messageEvent, now time.Time) {
	defer func() {
		if p := recover(); p != nil {
			m.log.Error(context.Background(), "panic handling frame",
				logging.String("conn", ev.conn.ID()),
				logging.Any("room", uint32(r.ID())),
				logging.Any("panic", p),
			)
		}
	}()
	r.HandleMessage(ev.conn, ev.frame, now)
}

// Room returns room id, creating it on first use. Each room's world is
// seeded from the configured seed plus its id. Loop goroutine only.
func (m *Manager) Room(id RoomID) *Room {
	if r, ok := m.rooms[id]; ok {
		return r
	}
	cfg := m.cfg
	cfg.Seed = m.cfg.Seed + int64(id)
	r := NewRoom(id, cfg, m.log, m.metrics)
	r.onDrop = m.forget
	m.rooms[id] = r
	m.log.Info(context.Background(), "room created",
		logging.Any("room", uint32(id)),
		logging.Int("planets", len(r.Engine().Planets())),
	)
	return r
}

func (m *Manager) join(id RoomID, conn Conn) game.Owner {
	if id == 0 {
		id = DefaultRoomID
	}
	if prev, ok := m.connRooms[conn.ID()]; ok && prev != id {
		m.leave(conn)
	}
	r := m.Room(id)
	m.connRooms[conn.ID()] = id
	return r.Join(conn)
}

func (m *Manager) leave(conn Conn) {
	id, ok := m.connRooms[conn.ID()]
	if !ok {
		return
	}
	delete(m.connRooms, conn.ID())
	if r, ok := m.rooms[id]; ok {
		r.Leave(conn)
	}
}

func (m *Manager) forget(conn Conn) {
	delete(m.connRooms, conn.ID())
}

// Tick advances every room by one step in ascending id order and reaps
// rooms that have been empty for longer than the configured TTL. Loop
// goroutine only.
func (m *Manager) Tick(now time.Time) {
	_, span := m.tracer.Start(context.Background(), "rooms.tick",
		trace.WithAttributes(attribute.Int("rooms", len(m.rooms))),
	)
	defer span.End()
	start := time.Now()

	dt := m.cfg.StepSeconds()
	for _, id := range m.roomIDs() {
		r := m.rooms[id]
		r.Advance(dt, now)
		m.reapIfIdle(r, now)
	}

	span.SetAttributes(attribute.Int("connections", len(m.connRooms)))
	m.metrics.ObserveTick(time.Since(start), len(m.rooms), len(m.connRooms))
}

func (m *Manager) reapIfIdle(r *Room, now time.Time) {
	if m.emptyTTL <= 0 {
		return
	}
	if r.MemberCount() > 0 {
		r.idleSince = time.Time{}
		return
	}
	if r.idleSince.IsZero() {
		r.idleSince = now
		return
	}
	if now.Sub(r.idleSince) >= m.emptyTTL {
		m.Dispose(r.ID(), "room idle")
	}
}

// Dispose ends room id, closing its members, and forgets it. Unknown ids are
// ignored. Loop goroutine only.
func (m *Manager) Dispose(id RoomID, reason string) {
	r, ok := m.rooms[id]
	if !ok {
		return
	}
	for connID, rid := range m.connRooms {
		if rid == id {
			delete(m.connRooms, connID)
		}
	}
	r.End(reason)
	delete(m.rooms, id)
	m.log.Info(context.Background(), "room disposed",
		logging.Any("room", uint32(id)),
		logging.Uint64("tick", r.Engine().Tick()),
		logging.String("reason", reason),
	)
}

// DisposeAll ends every room. Loop goroutine only.
func (m *Manager) DisposeAll(reason string) {
	for _, id := range m.roomIDs() {
		m.Dispose(id, reason)
	}
}

// Rooms summarizes every live room. Loop goroutine only.
func (m *Manager) Rooms() []RoomInfo {
	out := make([]RoomInfo, 0, len(m.rooms))
	for _, id := range m.roomIDs() {
		r := m.rooms[id]
		out = append(out, RoomInfo{
			ID:         id,
			Tick:       r.Engine().Tick(),
			Members:    r.MemberCount(),
			SeatsTaken: r.SeatsTaken(),
			Fleets:     r.Engine().FleetCount(),
			Seats:      seatsOf(r.Engine()),
		})
	}
	return out
}

func seatsOf(e *game.Engine) []SeatInfo {
	totals := e.Totals()
	out := make([]SeatInfo, 0, e.Config().SeatCount)
	for i := 1; i <= e.Config().SeatCount; i++ {
		seat, ok := game.SeatOwner(i)
		if !ok {
			break
		}
		t := totals[seat]
		out = append(out, SeatInfo{Seat: uint32(seat), Planets: t.Planets, Ships: t.Ships})
	}
	return out
}

func (m *Manager) roomIDs() []RoomID {
	ids := make([]RoomID, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
