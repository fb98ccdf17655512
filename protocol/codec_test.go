package protocol

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestEncodeClientGoldenBytes(t *testing.T) {
	tests := []struct {
		name string
		msg  ClientMessage
		want []byte
	}{
		{
			name: "ping",
			msg:  &Ping{ClientTimeMs: 5, Seq: 2},
			want: []byte{0x1a, 0x04, 0x08, 0x05, 0x10, 0x02},
		},
		{
			name: "request snapshot",
			msg:  &RequestSnapshot{},
			want: []byte{0x12, 0x00},
		},
		{
			name: "issue orders",
			msg:  &IssueOrders{FromIDs: []uint32{1, 2}, TargetID: 3, Pct: 0.5},
			want: []byte{
				0x0a, 0x0f,
				0x12, 0x02, 0x01, 0x02, // from_ids, packed
				0x18, 0x03, // target_id
				0x21, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xe0, 0x3f, // pct
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeClient(tt.msg)
			if err != nil {
				t.Fatalf("EncodeClient: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("EncodeClient = % x, want % x", got, tt.want)
			}
		})
	}
}

func TestClientRoundTrip(t *testing.T) {
	msgs := []ClientMessage{
		&IssueOrders{ClientTimeMs: 1712345678901, FromIDs: []uint32{0, 4, 17}, TargetID: 9, Pct: 0.75, InputSeq: 42},
		&RequestSnapshot{},
		&Ping{ClientTimeMs: 99, Seq: 7},
	}
	for _, want := range msgs {
		b, err := EncodeClient(want)
		if err != nil {
			t.Fatalf("EncodeClient(%T): %v", want, err)
		}
		got, err := DecodeClient(b)
		if err != nil {
			t.Fatalf("DecodeClient(%T): %v", want, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
		}
	}
}

func TestServerRoundTrip(t *testing.T) {
	snap := Snapshot{
		Tick: 120,
		Planets: []PlanetState{
			{ID: 0, Owner: 1, Ships: 40},
			{ID: 1, Owner: 0, Ships: 12},
		},
		Fleets: []FleetState{
			{ID: 3, Owner: 2, FromID: 1, ToID: 0, X: 10.5, Y: -3, VX: 180, VY: 0, Ships: 8},
		},
	}
	msgs := []ServerMessage{
		&Welcome{
			RoomID:   7,
			TickRate: 30,
			DeltaHz:  15,
			PlayerID: 2,
			Layout: Layout{
				Width:  1600,
				Height: 900,
				Planets: []PlanetLayout{
					{ID: 0, X: 100, Y: 200, Radius: 30, Production: 1.5},
					{ID: 1, X: 900, Y: 400, Radius: 20, Production: 1},
				},
			},
			Snapshot: snap,
		},
		&snap,
		&Delta{
			Tick:         121,
			Planets:      []PlanetState{{ID: 1, Owner: 2, Ships: 3}},
			Fleets:       []FleetPos{{ID: 3, X: 16.5, Y: -3}},
			RemoveFleets: []uint32{1, 2},
			NewFleets:    []FleetState{{ID: 4, Owner: 1, ToID: 1, Ships: 20}},
		},
		&Pong{ServerTimeMs: 1000, Seq: 7},
		&RoomEnded{Reason: "idle"},
	}

	for _, want := range msgs {
		b, err := EncodeServer(want)
		if err != nil {
			t.Fatalf("EncodeServer(%s): %v", Kind(want), err)
		}
		got, err := DecodeServer(b)
		if err != nil {
			t.Fatalf("DecodeServer(%s): %v", Kind(want), err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%s round trip mismatch:\n got %+v\nwant %+v", Kind(want), got, want)
		}
	}
}

func TestDecodeClientMalformed(t *testing.T) {
	tests := map[string][]byte{
		"truncated tag":     {0x80},
		"truncated length":  {0x0a, 0x05, 0x01},
		"bad nested varint": {0x1a, 0x02, 0x08, 0x80},
		"wrong wire type":   {0x1a, 0x02, 0x0d, 0x01},
		"garbage":           {0xff, 0xff, 0xff, 0xff, 0xff},
	}
	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			msg, err := DecodeClient(b)
			if err == nil {
				t.Fatalf("expected an error, got %+v", msg)
			}
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestDecodeClientWithoutVariant(t *testing.T) {
	for name, b := range map[string][]byte{
		"empty":         nil,
		"unknown field": {0x48, 0x01}, // field 9, varint
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeClient(b); !errors.Is(err, ErrUnknownVariant) {
				t.Fatalf("error = %v, want ErrUnknownVariant", err)
			}
		})
	}
}

func TestDecodeClientSkipsUnknownFields(t *testing.T) {
	var inner []byte
	inner = protowire.AppendTag(inner, 2, protowire.VarintType) // unpacked from_ids
	inner = protowire.AppendVarint(inner, 7)
	inner = protowire.AppendTag(inner, 15, protowire.BytesType) // unknown
	inner = protowire.AppendString(inner, "future field")
	inner = protowire.AppendTag(inner, 2, protowire.VarintType)
	inner = protowire.AppendVarint(inner, 9)
	inner = protowire.AppendTag(inner, 3, protowire.VarintType)
	inner = protowire.AppendVarint(inner, 1)

	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, inner)
	b = protowire.AppendTag(b, 12, protowire.Fixed64Type) // unknown envelope field
	b = protowire.AppendFixed64(b, 1)

	msg, err := DecodeClient(b)
	if err != nil {
		t.Fatalf("DecodeClient: %v", err)
	}
	orders, ok := msg.(*IssueOrders)
	if !ok {
		t.Fatalf("decoded %T, want *IssueOrders", msg)
	}
	if !reflect.DeepEqual(orders.FromIDs, []uint32{7, 9}) || orders.TargetID != 1 {
		t.Errorf("decoded %+v", orders)
	}
}

func TestEncodeNilVariants(t *testing.T) {
	if _, err := EncodeClient(nil); !errors.Is(err, ErrUnknownVariant) {
		t.Errorf("EncodeClient(nil) error = %v", err)
	}
	if _, err := EncodeServer(nil); !errors.Is(err, ErrUnknownVariant) {
		t.Errorf("EncodeServer(nil) error = %v", err)
	}
}

func TestKind(t *testing.T) {
	if got := Kind(&Delta{}); got != "delta" {
		t.Errorf("Kind(Delta) = %q", got)
	}
	if got := Kind(nil); got != "unknown" {
		t.Errorf("Kind(nil) = %q", got)
	}
}
