// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package ipc implements the shared-memory transport between the host process
// and the script process: two futex-signalled byte rings in one mapping, a
// length-prefixed frame format, a serializer and an argument reader, and a
// channel that offers synchronous calls and fire-and-forget posts.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Kind distinguishes calls that expect a reply from posts and replies.
type Kind uint32

const (
	KindPost Kind = iota
	KindCall
	KindReply
)

func (k Kind) String() string {
	switch k {
	case KindPost:
		return "post"
	case KindCall:
		return "call"
	case KindReply:
		return "reply"
	default:
		return "unknown"
	}
}

// SegmentType tags one argument segment.
type SegmentType uint32

const (
	TypeInt32 SegmentType = iota
	TypeInt64
	TypeDouble
	TypeString
	TypeJSONString
	TypeByteArray
	TypeByteArrayJSONString
	TypeVoid
)

func (t SegmentType) String() string {
	switch t {
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeJSONString:
		return "jsonstring"
	case TypeByteArray:
		return "bytearray"
	case TypeByteArrayJSONString:
		return "bytearrayjsonstring"
	case TypeVoid:
		return "void"
	default:
		return fmt.Sprintf("SegmentType(%d)", uint32(t))
	}
}

// Segment is one length-prefixed argument.
type Segment struct {
	Type SegmentType
	Data []byte
}

// Message is a decoded frame.
type Message struct {
	Op   uint32
	Kind Kind
	Seq  uint64
	Segs []Segment
}

const (
	frameHeaderSize   = 4 + 4 + 4 + 8 + 4
	segmentHeaderSize = 4 + 4
	// MaxSegments bounds the number of segments in one frame.
	MaxSegments = 1 << 16
)

var (
	// ErrMalformedFrame reports a frame whose declared sizes are inconsistent.
	ErrMalformedFrame = errors.New("ipc: malformed frame")
	// ErrFrameTooLarge reports a frame that cannot fit the ring.
	ErrFrameTooLarge = errors.New("ipc: frame too large")
)

func (m *Message) size() int {
	n := frameHeaderSize
	for _, s := range m.Segs {
		n += segmentHeaderSize + len(s.Data)
	}
	return n
}

// marshal encodes the message as a frame in native byte order.
func (m *Message) marshal() ([]byte, error) {
	n := m.size()
	if uint64(n) > math.MaxUint32 || len(m.Segs) > MaxSegments {
		return nil, ErrFrameTooLarge
	}
	b := make([]byte, 0, n)
	b = binary.NativeEndian.AppendUint32(b, uint32(n))
	b = binary.NativeEndian.AppendUint32(b, m.Op)
	b = binary.NativeEndian.AppendUint32(b, uint32(m.Kind))
	b = binary.NativeEndian.AppendUint64(b, m.Seq)
	b = binary.NativeEndian.AppendUint32(b, uint32(len(m.Segs)))
	for _, s := range m.Segs {
		b = binary.NativeEndian.AppendUint32(b, uint32(s.Type))
		b = binary.NativeEndian.AppendUint32(b, uint32(len(s.Data)))
		b = append(b, s.Data...)
	}
	return b, nil
}

// unmarshalMessage decodes one complete frame. Segment data aliases b.
func unmarshalMessage(b []byte) (*Message, error) {
	if len(b) < frameHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedFrame, len(b))
	}
	if n := binary.NativeEndian.Uint32(b); int(n) != len(b) {
		return nil, fmt.Errorf("%w: declared length %d, got %d", ErrMalformedFrame, n, len(b))
	}
	m := &Message{
		Op:   binary.NativeEndian.Uint32(b[4:]),
		Kind: Kind(binary.NativeEndian.Uint32(b[8:])),
		Seq:  binary.NativeEndian.Uint64(b[12:]),
	}
	if m.Kind > KindReply {
		return nil, fmt.Errorf("%w: kind %d", ErrMalformedFrame, m.Kind)
	}
	count := int(binary.NativeEndian.Uint32(b[20:]))
	if count > MaxSegments || count*segmentHeaderSize > len(b)-frameHeaderSize {
		return nil, fmt.Errorf("%w: %d segments", ErrMalformedFrame, count)
	}
	m.Segs = make([]Segment, 0, count)
	off := frameHeaderSize
	for i := 0; i < count; i++ {
		if off+segmentHeaderSize > len(b) {
			return nil, fmt.Errorf("%w: segment %d header out of range", ErrMalformedFrame, i)
		}
		typ := SegmentType(binary.NativeEndian.Uint32(b[off:]))
		size := int(binary.NativeEndian.Uint32(b[off+4:]))
		off += segmentHeaderSize
		if typ > TypeVoid {
			return nil, fmt.Errorf("%w: segment %d has type %d", ErrMalformedFrame, i, uint32(typ))
		}
		if size < 0 || off+size > len(b) {
			return nil, fmt.Errorf("%w: segment %d length %d out of range", ErrMalformedFrame, i, size)
		}
		m.Segs = append(m.Segs, Segment{Type: typ, Data: b[off : off+size]})
		off += size
	}
	if off != len(b) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedFrame, len(b)-off)
	}
	return m, nil
}
