// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wson

import (
	"encoding/binary"
	"math"
)

// Writer appends encoded values to an internal buffer. Engine adapters drive
// it directly so object property order is preserved.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with a small preallocated buffer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

// Bytes returns the encoded buffer. The slice aliases the writer's storage.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of encoded bytes.
func (w *Writer) Len() int { return len(w.buf) }

// Reset discards the buffer content, keeping its capacity.
func (w *Writer) Reset() { w.buf = w.buf[:0] }

const canonicalNaN = 0x7ff8000000000000

func (w *Writer) Null() { w.buf = append(w.buf, TagNull) }

func (w *Writer) Bool(b bool) {
	if b {
		w.buf = append(w.buf, TagTrue)
	} else {
		w.buf = append(w.buf, TagFalse)
	}
}

func (w *Writer) Int32(v int32) {
	w.buf = append(w.buf, TagInt32)
	w.buf = binary.NativeEndian.AppendUint32(w.buf, uint32(v))
}

func (w *Writer) Int64(v int64) {
	w.buf = append(w.buf, TagInt64)
	w.buf = binary.NativeEndian.AppendUint64(w.buf, uint64(v))
}

// Double writes v as a double. Every NaN is written with the quiet NaN bit
// pattern so engines with different NaN payloads encode alike.
func (w *Writer) Double(v float64) {
	if math.IsNaN(v) {
		v = math.Float64frombits(canonicalNaN)
	}
	w.buf = append(w.buf, TagDouble)
	w.buf = binary.NativeEndian.AppendUint64(w.buf, math.Float64bits(v))
}

// Number writes f as int32 when it is integral and fits, otherwise as double.
// Script numbers go through here so small integers keep their int tag.
func (w *Writer) Number(f float64) {
	if f == math.Trunc(f) && f >= math.MinInt32 && f <= math.MaxInt32 && !(f == 0 && math.Signbit(f)) {
		w.Int32(int32(f))
		return
	}
	w.Double(f)
}

// String writes a Go string (UTF-8 or WTF-8) as UTF-16.
func (w *Writer) String(s string) {
	w.buf = append(w.buf, TagString)
	w.appendUTF16(EncodeUTF16(s))
}

// StringUTF16 writes raw UTF-16 code units.
func (w *Writer) StringUTF16(u []uint16) {
	w.buf = append(w.buf, TagString)
	w.appendUTF16(u)
}

// BeginArray starts an array of n elements; the caller writes exactly n values.
func (w *Writer) BeginArray(n int) {
	w.buf = append(w.buf, TagArray)
	w.buf = binary.NativeEndian.AppendUint32(w.buf, uint32(n))
}

// BeginMap starts a map of n entries; the caller writes n Key/value pairs.
func (w *Writer) BeginMap(n int) {
	w.buf = append(w.buf, TagMap)
	w.buf = binary.NativeEndian.AppendUint32(w.buf, uint32(n))
}

// Key writes a map key. Keys carry no tag.
func (w *Writer) Key(k string) {
	w.appendUTF16(EncodeUTF16(k))
}

func (w *Writer) appendUTF16(u []uint16) {
	w.buf = binary.NativeEndian.AppendUint32(w.buf, uint32(len(u)*2))
	for _, c := range u {
		w.buf = binary.NativeEndian.AppendUint16(w.buf, c)
	}
}
