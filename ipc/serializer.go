// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"encoding/binary"
	"math"

	"github.com/buke/js-bridge/wson"
)

// Serializer builds one outgoing message. It is not safe for concurrent use.
type Serializer struct {
	msg Message
}

// NewSerializer returns a Serializer for opcode op.
func NewSerializer(op uint32) *Serializer {
	return &Serializer{msg: Message{Op: op}}
}

// SetMsg resets the serializer to an empty message for opcode op.
func (s *Serializer) SetMsg(op uint32) *Serializer {
	s.msg = Message{Op: op}
	return s
}

func (s *Serializer) add(t SegmentType, data []byte) *Serializer {
	s.msg.Segs = append(s.msg.Segs, Segment{Type: t, Data: data})
	return s
}

func (s *Serializer) AddInt32(v int32) *Serializer {
	return s.add(TypeInt32, binary.NativeEndian.AppendUint32(nil, uint32(v)))
}

func (s *Serializer) AddInt64(v int64) *Serializer {
	return s.add(TypeInt64, binary.NativeEndian.AppendUint64(nil, uint64(v)))
}

func (s *Serializer) AddDouble(v float64) *Serializer {
	return s.add(TypeDouble, binary.NativeEndian.AppendUint64(nil, math.Float64bits(v)))
}

// AddString appends a UTF-8 (or WTF-8) string, sent as UTF-16.
func (s *Serializer) AddString(v string) *Serializer {
	return s.add(TypeString, utf16Bytes(v))
}

// AddJSONString appends JSON text, sent as UTF-16.
func (s *Serializer) AddJSONString(v string) *Serializer {
	return s.add(TypeJSONString, utf16Bytes(v))
}

// AddBytes appends a raw byte array.
func (s *Serializer) AddBytes(v []byte) *Serializer {
	return s.add(TypeByteArray, v)
}

// AddByteArrayJSON appends JSON text carried as raw UTF-8 bytes.
func (s *Serializer) AddByteArrayJSON(v []byte) *Serializer {
	return s.add(TypeByteArrayJSONString, v)
}

func (s *Serializer) AddVoid() *Serializer {
	return s.add(TypeVoid, nil)
}

// AddSegment appends a segment that already carries its wire encoding.
func (s *Serializer) AddSegment(seg Segment) *Serializer {
	return s.add(seg.Type, seg.Data)
}

// Op returns the opcode being built.
func (s *Serializer) Op() uint32 { return s.msg.Op }

// Len returns the number of segments added so far.
func (s *Serializer) Len() int { return len(s.msg.Segs) }

func utf16Bytes(v string) []byte {
	u := wson.EncodeUTF16(v)
	b := make([]byte, 0, len(u)*2)
	for _, c := range u {
		b = binary.NativeEndian.AppendUint16(b, c)
	}
	return b
}

func utf16String(b []byte) (string, bool) {
	if len(b)%2 != 0 {
		return "", false
	}
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = binary.NativeEndian.Uint16(b[i*2:])
	}
	return wson.DecodeUTF16(u), true
}
