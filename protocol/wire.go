package protocol

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Scalars follow proto3 rules: zero values are omitted on the wire.

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	bits := math.Float32bits(v)
	if bits == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, bits)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	bits := math.Float64bits(v)
	if bits == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, bits)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendPacked(b []byte, num protowire.Number, vs []uint32) []byte {
	if len(vs) == 0 {
		return b
	}
	var inner []byte
	for _, v := range vs {
		inner = protowire.AppendVarint(inner, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

// appendMessage writes a length-delimited sub-message, even when empty.
func appendMessage(b []byte, num protowire.Number, body func([]byte) []byte) []byte {
	inner := body(nil)
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

// fieldReader walks the fields of one message. The first error sticks and
// ends iteration.
type fieldReader struct {
	b   []byte
	num protowire.Number
	typ protowire.Type
	err error
}

func newFieldReader(b []byte) *fieldReader {
	return &fieldReader{b: b}
}

func (r *fieldReader) next() bool {
	if r.err != nil || len(r.b) == 0 {
		return false
	}
	num, typ, n := protowire.ConsumeTag(r.b)
	if n < 0 {
		r.fail(n)
		return false
	}
	r.b = r.b[n:]
	r.num, r.typ = num, typ
	return true
}

func (r *fieldReader) fail(n int) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
}

func (r *fieldReader) wrongType() {
	if r.err == nil {
		r.err = fmt.Errorf("%w: field %d has wire type %d", ErrMalformed, r.num, r.typ)
	}
}

func (r *fieldReader) varint() uint64 {
	if r.typ != protowire.VarintType {
		r.wrongType()
		return 0
	}
	v, n := protowire.ConsumeVarint(r.b)
	if n < 0 {
		r.fail(n)
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *fieldReader) uint32() uint32 {
	return uint32(r.varint())
}

func (r *fieldReader) float() float32 {
	if r.typ != protowire.Fixed32Type {
		r.wrongType()
		return 0
	}
	v, n := protowire.ConsumeFixed32(r.b)
	if n < 0 {
		r.fail(n)
		return 0
	}
	r.b = r.b[n:]
	return math.Float32frombits(v)
}

func (r *fieldReader) double() float64 {
	if r.typ != protowire.Fixed64Type {
		r.wrongType()
		return 0
	}
	v, n := protowire.ConsumeFixed64(r.b)
	if n < 0 {
		r.fail(n)
		return 0
	}
	r.b = r.b[n:]
	return math.Float64frombits(v)
}

func (r *fieldReader) bytes() []byte {
	if r.typ != protowire.BytesType {
		r.wrongType()
		return nil
	}
	v, n := protowire.ConsumeBytes(r.b)
	if n < 0 {
		r.fail(n)
		return nil
	}
	r.b = r.b[n:]
	return v
}

func (r *fieldReader) string() string {
	return string(r.bytes())
}

// uint32s accepts both packed and unpacked encodings of a repeated field.
func (r *fieldReader) uint32s(dst []uint32) []uint32 {
	switch r.typ {
	case protowire.VarintType:
		return append(dst, r.uint32())
	case protowire.BytesType:
		packed := r.bytes()
		for len(packed) > 0 {
			v, n := protowire.ConsumeVarint(packed)
			if n < 0 {
				r.fail(n)
				return dst
			}
			dst = append(dst, uint32(v))
			packed = packed[n:]
		}
		return dst
	default:
		r.wrongType()
		return dst
	}
}

// message decodes a nested message with fn and folds its error into r.
func (r *fieldReader) message(fn func(*fieldReader)) {
	body := r.bytes()
	if r.err != nil {
		return
	}
	sub := newFieldReader(body)
	fn(sub)
	if sub.err != nil && r.err == nil {
		r.err = sub.err
	}
}

func (r *fieldReader) skip() {
	n := protowire.ConsumeFieldValue(r.num, r.typ, r.b)
	if n < 0 {
		r.fail(n)
		return
	}
	r.b = r.b[n:]
}
