// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wson

import (
	"encoding/binary"
	"math"
)

// Reader walks an encoded buffer one token at a time.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a Reader positioned at the start of b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Offset returns the current read position.
func (r *Reader) Offset() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Tag consumes and returns the next tag byte.
func (r *Reader) Tag() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrTruncated
	}
	t := r.buf[r.pos]
	r.pos++
	return t, nil
}

// Peek returns the next tag byte without consuming it.
func (r *Reader) Peek() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrTruncated
	}
	return r.buf[r.pos], nil
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, ErrTruncated
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) Int32() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.NativeEndian.Uint32(b)), nil
}

func (r *Reader) Int64() (int64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.NativeEndian.Uint64(b)), nil
}

func (r *Reader) Double() (float64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.NativeEndian.Uint64(b)), nil
}

// Count reads an array or map element count. A count larger than the
// remaining bytes cannot be satisfied and is reported as truncation.
func (r *Reader) Count() (int, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	n := int(binary.NativeEndian.Uint32(b))
	if n > r.Remaining() {
		return 0, ErrTruncated
	}
	return n, nil
}

// UTF16 reads a length-prefixed UTF-16 payload (string body or map key).
func (r *Reader) UTF16() ([]uint16, error) {
	b, err := r.take(4)
	if err != nil {
		return nil, err
	}
	n := int(binary.NativeEndian.Uint32(b))
	if n%2 != 0 {
		return nil, ErrTruncated
	}
	raw, err := r.take(n)
	if err != nil {
		return nil, err
	}
	u := make([]uint16, n/2)
	for i := range u {
		u[i] = binary.NativeEndian.Uint16(raw[i*2:])
	}
	return u, nil
}

// String reads a length-prefixed UTF-16 payload and converts it to a Go
// string. Unpaired surrogates are kept as WTF-8.
func (r *Reader) String() (string, error) {
	u, err := r.UTF16()
	if err != nil {
		return "", err
	}
	return DecodeUTF16(u), nil
}

// Skip consumes one complete value.
func (r *Reader) Skip() error {
	_, err := decodeValue(r, 0)
	return err
}
