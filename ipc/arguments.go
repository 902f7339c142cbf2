// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"encoding/binary"
	"fmt"
	"math"
)

// protocolFault carries a segment-shape violation from an accessor up to the
// dispatcher, which hands it to the channel's FaultHandler.
type protocolFault struct {
	err error
}

// Arguments is a read-only view over a received message.
//
// Accessors expect the segment shape the opcode defines. A missing segment
// or a segment of the wrong type is a protocol fault: the accessor panics
// with a fault that the dispatcher turns into a FaultHandler call.
type Arguments struct {
	msg *Message
}

// NewArguments wraps a decoded message.
func NewArguments(m *Message) *Arguments {
	return &Arguments{msg: m}
}

func (a *Arguments) Op() uint32 { return a.msg.Op }

func (a *Arguments) Count() int { return len(a.msg.Segs) }

// Segment returns the raw segment at i.
func (a *Arguments) Segment(i int) Segment {
	if i < 0 || i >= len(a.msg.Segs) {
		a.fault("segment %d out of range (%d segments)", i, len(a.msg.Segs))
	}
	return a.msg.Segs[i]
}

// Type returns the type of segment i.
func (a *Arguments) Type(i int) SegmentType {
	return a.Segment(i).Type
}

func (a *Arguments) Int32(i int) int32 {
	s := a.expect(i, TypeInt32, 4)
	return int32(binary.NativeEndian.Uint32(s.Data))
}

func (a *Arguments) Int64(i int) int64 {
	s := a.expect(i, TypeInt64, 8)
	return int64(binary.NativeEndian.Uint64(s.Data))
}

func (a *Arguments) Double(i int) float64 {
	s := a.expect(i, TypeDouble, 8)
	return math.Float64frombits(binary.NativeEndian.Uint64(s.Data))
}

// String reads segment i as text. UTF-16 string and JSON segments are
// converted; byte array segments are taken as UTF-8.
func (a *Arguments) String(i int) string {
	s := a.Segment(i)
	switch s.Type {
	case TypeString, TypeJSONString:
		v, ok := utf16String(s.Data)
		if !ok {
			a.fault("segment %d has odd UTF-16 length %d", i, len(s.Data))
		}
		return v
	case TypeByteArray, TypeByteArrayJSONString:
		return string(s.Data)
	case TypeVoid:
		return ""
	default:
		a.fault("segment %d is %s, want string", i, s.Type)
		return ""
	}
}

// Bytes reads segment i as raw bytes. String segments yield UTF-8.
func (a *Arguments) Bytes(i int) []byte {
	s := a.Segment(i)
	switch s.Type {
	case TypeByteArray, TypeByteArrayJSONString:
		return s.Data
	case TypeString, TypeJSONString:
		return []byte(a.String(i))
	case TypeVoid:
		return nil
	default:
		a.fault("segment %d is %s, want bytes", i, s.Type)
		return nil
	}
}

// Pairs reads segments [from, Count) as key/value string pairs. An odd
// number of remaining segments is a protocol fault.
func (a *Arguments) Pairs(from int) [][2]string {
	n := a.Count() - from
	if n < 0 || n%2 != 0 {
		a.fault("expected key/value pairs from segment %d, have %d segments", from, a.Count())
	}
	pairs := make([][2]string, 0, n/2)
	for i := from; i < a.Count(); i += 2 {
		pairs = append(pairs, [2]string{a.String(i), a.String(i + 1)})
	}
	return pairs
}

// Result returns the first segment of a reply, or a void segment.
func (a *Arguments) Result() Segment {
	if a == nil || len(a.msg.Segs) == 0 {
		return Segment{Type: TypeVoid}
	}
	return a.msg.Segs[0]
}

func (a *Arguments) expect(i int, t SegmentType, size int) Segment {
	s := a.Segment(i)
	if s.Type != t {
		a.fault("segment %d is %s, want %s", i, s.Type, t)
	}
	if len(s.Data) != size {
		a.fault("segment %d has %d bytes, want %d", i, len(s.Data), size)
	}
	return s
}

func (a *Arguments) fault(format string, args ...any) {
	panic(protocolFault{err: fmt.Errorf("%w: op %d: %s", ErrMalformedFrame, a.msg.Op, fmt.Sprintf(format, args...))})
}
