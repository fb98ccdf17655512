package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope field numbers. These are part of the wire contract and must
// never be renumbered.
const (
	clientIssueOrders     protowire.Number = 1
	clientRequestSnapshot protowire.Number = 2
	clientPing            protowire.Number = 3

	serverWelcome   protowire.Number = 1
	serverSnapshot  protowire.Number = 2
	serverDelta     protowire.Number = 3
	serverPong      protowire.Number = 4
	serverRoomEnded protowire.Number = 5
)

// EncodeClient serializes a client message.
func EncodeClient(m ClientMessage) ([]byte, error) {
	switch m := m.(type) {
	case *IssueOrders:
		return appendMessage(nil, clientIssueOrders, m.append), nil
	case *RequestSnapshot:
		return appendMessage(nil, clientRequestSnapshot, func(b []byte) []byte { return b }), nil
	case *Ping:
		return appendMessage(nil, clientPing, m.append), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownVariant, m)
	}
}

// DecodeClient parses one client frame.
func DecodeClient(b []byte) (ClientMessage, error) {
	var msg ClientMessage
	r := newFieldReader(b)
	for r.next() {
		switch r.num {
		case clientIssueOrders:
			m := &IssueOrders{}
			r.message(m.read)
			msg = m
		case clientRequestSnapshot:
			r.message(func(sub *fieldReader) {
				for sub.next() {
					sub.skip()
				}
			})
			msg = &RequestSnapshot{}
		case clientPing:
			m := &Ping{}
			r.message(m.read)
			msg = m
		default:
			r.skip()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	if msg == nil {
		return nil, ErrUnknownVariant
	}
	return msg, nil
}

// EncodeServer serializes a server message.
func EncodeServer(m ServerMessage) ([]byte, error) {
	switch m := m.(type) {
	case *Welcome:
		return appendMessage(nil, serverWelcome, m.append), nil
	case *Snapshot:
		return appendMessage(nil, serverSnapshot, m.append), nil
	case *Delta:
		return appendMessage(nil, serverDelta, m.append), nil
	case *Pong:
		return appendMessage(nil, serverPong, m.append), nil
	case *RoomEnded:
		return appendMessage(nil, serverRoomEnded, m.append), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownVariant, m)
	}
}

// DecodeServer parses one server frame.
func DecodeServer(b []byte) (ServerMessage, error) {
	var msg ServerMessage
	r := newFieldReader(b)
	for r.next() {
		switch r.num {
		case serverWelcome:
			m := &Welcome{}
			r.message(m.read)
			msg = m
		case serverSnapshot:
			m := &Snapshot{}
			r.message(m.read)
			msg = m
		case serverDelta:
			m := &Delta{}
			r.message(m.read)
			msg = m
		case serverPong:
			m := &Pong{}
			r.message(m.read)
			msg = m
		case serverRoomEnded:
			m := &RoomEnded{}
			r.message(m.read)
			msg = m
		default:
			r.skip()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	if msg == nil {
		return nil, ErrUnknownVariant
	}
	return msg, nil
}

// IssueOrders

func (m *IssueOrders) append(b []byte) []byte {
	b = appendUint(b, 1, m.ClientTimeMs)
	b = appendPacked(b, 2, m.FromIDs)
	b = appendUint(b, 3, uint64(m.TargetID))
	b = appendDouble(b, 4, m.Pct)
	b = appendUint(b, 5, uint64(m.InputSeq))
	return b
}

func (m *IssueOrders) read(r *fieldReader) {
	for r.next() {
		switch r.num {
		case 1:
			m.ClientTimeMs = r.varint()
		case 2:
			m.FromIDs = r.uint32s(m.FromIDs)
		case 3:
			m.TargetID = r.uint32()
		case 4:
			m.Pct = r.double()
		case 5:
			m.InputSeq = r.uint32()
		default:
			r.skip()
		}
	}
}

// Ping / Pong

func (m *Ping) append(b []byte) []byte {
	b = appendUint(b, 1, m.ClientTimeMs)
	return appendUint(b, 2, uint64(m.Seq))
}

func (m *Ping) read(r *fieldReader) {
	for r.next() {
		switch r.num {
		case 1:
			m.ClientTimeMs = r.varint()
		case 2:
			m.Seq = r.uint32()
		default:
			r.skip()
		}
	}
}

func (m *Pong) append(b []byte) []byte {
	b = appendUint(b, 1, m.ServerTimeMs)
	return appendUint(b, 2, uint64(m.Seq))
}

func (m *Pong) read(r *fieldReader) {
	for r.next() {
		switch r.num {
		case 1:
			m.ServerTimeMs = r.varint()
		case 2:
			m.Seq = r.uint32()
		default:
			r.skip()
		}
	}
}

// RoomEnded

func (m *RoomEnded) append(b []byte) []byte {
	return appendString(b, 1, m.Reason)
}

func (m *RoomEnded) read(r *fieldReader) {
	for r.next() {
		if r.num == 1 {
			m.Reason = r.string()
			continue
		}
		r.skip()
	}
}

// Welcome

func (m *Welcome) append(b []byte) []byte {
	b = appendUint(b, 1, uint64(m.RoomID))
	b = appendUint(b, 2, uint64(m.TickRate))
	b = appendUint(b, 3, uint64(m.DeltaHz))
	b = appendUint(b, 4, uint64(m.PlayerID))
	b = appendMessage(b, 5, m.Layout.append)
	b = appendMessage(b, 6, m.Snapshot.append)
	return b
}

func (m *Welcome) read(r *fieldReader) {
	for r.next() {
		switch r.num {
		case 1:
			m.RoomID = r.uint32()
		case 2:
			m.TickRate = r.uint32()
		case 3:
			m.DeltaHz = r.uint32()
		case 4:
			m.PlayerID = r.uint32()
		case 5:
			r.message(m.Layout.read)
		case 6:
			r.message(m.Snapshot.read)
		default:
			r.skip()
		}
	}
}

func (m *Layout) append(b []byte) []byte {
	b = appendFloat(b, 1, m.Width)
	b = appendFloat(b, 2, m.Height)
	for i := range m.Planets {
		b = appendMessage(b, 3, m.Planets[i].append)
	}
	return b
}

func (m *Layout) read(r *fieldReader) {
	for r.next() {
		switch r.num {
		case 1:
			m.Width = r.float()
		case 2:
			m.Height = r.float()
		case 3:
			var p PlanetLayout
			r.message(p.read)
			m.Planets = append(m.Planets, p)
		default:
			r.skip()
		}
	}
}

func (m *PlanetLayout) append(b []byte) []byte {
	b = appendUint(b, 1, uint64(m.ID))
	b = appendFloat(b, 2, m.X)
	b = appendFloat(b, 3, m.Y)
	b = appendFloat(b, 4, m.Radius)
	b = appendFloat(b, 5, m.Production)
	return b
}

func (m *PlanetLayout) read(r *fieldReader) {
	for r.next() {
		switch r.num {
		case 1:
			m.ID = r.uint32()
		case 2:
			m.X = r.float()
		case 3:
			m.Y = r.float()
		case 4:
			m.Radius = r.float()
		case 5:
			m.Production = r.float()
		default:
			r.skip()
		}
	}
}

// Snapshot

func (m *Snapshot) append(b []byte) []byte {
	b = appendUint(b, 1, m.Tick)
	for i := range m.Planets {
		b = appendMessage(b, 2, m.Planets[i].append)
	}
	for i := range m.Fleets {
		b = appendMessage(b, 3, m.Fleets[i].append)
	}
	return b
}

func (m *Snapshot) read(r *fieldReader) {
	for r.next() {
		switch r.num {
		case 1:
			m.Tick = r.varint()
		case 2:
			var p PlanetState
			r.message(p.read)
			m.Planets = append(m.Planets, p)
		case 3:
			var f FleetState
			r.message(f.read)
			m.Fleets = append(m.Fleets, f)
		default:
			r.skip()
		}
	}
}

func (m *PlanetState) append(b []byte) []byte {
	b = appendUint(b, 1, uint64(m.ID))
	b = appendUint(b, 2, uint64(m.Owner))
	b = appendUint(b, 3, uint64(m.Ships))
	return b
}

func (m *PlanetState) read(r *fieldReader) {
	for r.next() {
		switch r.num {
		case 1:
			m.ID = r.uint32()
		case 2:
			m.Owner = r.uint32()
		case 3:
			m.Ships = r.uint32()
		default:
			r.skip()
		}
	}
}

func (m *FleetState) append(b []byte) []byte {
	b = appendUint(b, 1, uint64(m.ID))
	b = appendUint(b, 2, uint64(m.Owner))
	b = appendUint(b, 3, uint64(m.FromID))
	b = appendUint(b, 4, uint64(m.ToID))
	b = appendFloat(b, 5, m.X)
	b = appendFloat(b, 6, m.Y)
	b = appendFloat(b, 7, m.VX)
	b = appendFloat(b, 8, m.VY)
	b = appendUint(b, 9, uint64(m.Ships))
	return b
}

func (m *FleetState) read(r *fieldReader) {
	for r.next() {
		switch r.num {
		case 1:
			m.ID = r.uint32()
		case 2:
			m.Owner = r.uint32()
		case 3:
			m.FromID = r.uint32()
		case 4:
			m.ToID = r.uint32()
		case 5:
			m.X = r.float()
		case 6:
			m.Y = r.float()
		case 7:
			m.VX = r.float()
		case 8:
			m.VY = r.float()
		case 9:
			m.Ships = r.uint32()
		default:
			r.skip()
		}
	}
}

// Delta

func (m *Delta) append(b []byte) []byte {
	b = appendUint(b, 1, m.Tick)
	for i := range m.Planets {
		b = appendMessage(b, 2, m.Planets[i].append)
	}
	for i := range m.Fleets {
		b = appendMessage(b, 3, m.Fleets[i].append)
	}
	b = appendPacked(b, 4, m.RemoveFleets)
	for i := range m.NewFleets {
		b = appendMessage(b, 5, m.NewFleets[i].append)
	}
	return b
}

func (m *Delta) read(r *fieldReader) {
	for r.next() {
		switch r.num {
		case 1:
			m.Tick = r.varint()
		case 2:
			var p PlanetState
			r.message(p.read)
			m.Planets = append(m.Planets, p)
		case 3:
			var f FleetPos
			r.message(f.read)
			m.Fleets = append(m.Fleets, f)
		case 4:
			m.RemoveFleets = r.uint32s(m.RemoveFleets)
		case 5:
			var f FleetState
			r.message(f.read)
			m.NewFleets = append(m.NewFleets, f)
		default:
			r.skip()
		}
	}
}

func (m *FleetPos) append(b []byte) []byte {
	b = appendUint(b, 1, uint64(m.ID))
	b = appendFloat(b, 2, m.X)
	b = appendFloat(b, 3, m.Y)
	return b
}

func (m *FleetPos) read(r *fieldReader) {
	for r.next() {
		switch r.num {
		case 1:
			m.ID = r.uint32()
		case 2:
			m.X = r.float()
		case 3:
			m.Y = r.float()
		default:
			r.skip()
		}
	}
}
