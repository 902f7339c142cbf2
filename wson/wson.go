// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package wson implements the compact tagged binary value format used on the
// bridge wire and at the native/script boundary.
//
// Every value starts with a one-byte tag. Numbers are written in native
// machine byte order; strings are UTF-16 code units prefixed with their byte
// length. Arrays and maps carry their element count up front and are encoded
// depth first.
package wson

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Value tags.
const (
	TagNull   byte = '0'
	TagTrue   byte = 't'
	TagFalse  byte = 'f'
	TagInt32  byte = 'i'
	TagInt64  byte = 'l'
	TagDouble byte = 'd'
	TagString byte = 's'
	TagArray  byte = '['
	TagMap    byte = '{'
)

// MaxDepth bounds the nesting of arrays and maps in both directions.
const MaxDepth = 64

var (
	// ErrUnknownTag is returned when a buffer contains a tag this codec does
	// not define. Callers treat it as a fatal parse error.
	ErrUnknownTag = errors.New("wson: unknown tag")
	// ErrTruncated is returned when a buffer ends in the middle of a value.
	ErrTruncated = errors.New("wson: truncated buffer")
	// ErrTooDeep is returned when nesting exceeds MaxDepth.
	ErrTooDeep = errors.New("wson: nesting too deep")
	// ErrUnsupportedType is returned by Encode for Go values outside the model.
	ErrUnsupportedType = errors.New("wson: unsupported type")
)

// Ordered is a map that keeps its insertion order on the wire.
type Ordered struct {
	Keys   []string
	Values map[string]any
}

// NewOrdered returns an empty ordered map.
func NewOrdered() *Ordered {
	return &Ordered{Values: make(map[string]any)}
}

// Set appends key (or replaces its value when already present).
func (o *Ordered) Set(key string, value any) {
	if _, ok := o.Values[key]; !ok {
		o.Keys = append(o.Keys, key)
	}
	o.Values[key] = value
}

// Encode serializes a native value.
//
// Supported: nil, bool, int, int32, int64, float32, float64, string, []any,
// []string, map[string]any (keys sorted), map[string]string and *Ordered.
// An int that fits 32 bits is written as int32.
func Encode(v any) ([]byte, error) {
	w := NewWriter()
	if err := encodeValue(w, v, 0); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func encodeValue(w *Writer, v any, depth int) error {
	if depth > MaxDepth {
		return ErrTooDeep
	}
	switch x := v.(type) {
	case nil:
		w.Null()
	case bool:
		w.Bool(x)
	case int:
		if x >= math.MinInt32 && x <= math.MaxInt32 {
			w.Int32(int32(x))
		} else {
			w.Int64(int64(x))
		}
	case int32:
		w.Int32(x)
	case int64:
		w.Int64(x)
	case float32:
		w.Double(float64(x))
	case float64:
		w.Double(x)
	case string:
		w.String(x)
	case []any:
		w.BeginArray(len(x))
		for _, item := range x {
			if err := encodeValue(w, item, depth+1); err != nil {
				return err
			}
		}
	case []string:
		w.BeginArray(len(x))
		for _, item := range x {
			w.String(item)
		}
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		w.BeginMap(len(keys))
		for _, k := range keys {
			w.Key(k)
			if err := encodeValue(w, x[k], depth+1); err != nil {
				return err
			}
		}
	case map[string]string:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		w.BeginMap(len(keys))
		for _, k := range keys {
			w.Key(k)
			w.String(x[k])
		}
	case *Ordered:
		if x == nil {
			w.Null()
			return nil
		}
		w.BeginMap(len(x.Keys))
		for _, k := range x.Keys {
			w.Key(k)
			if err := encodeValue(w, x.Values[k], depth+1); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	return nil
}

// Decode parses a buffer produced by Encode or a Writer.
//
// Maps decode to map[string]any, arrays to []any, numbers to int32, int64 or
// float64 according to their tag. Trailing bytes after the first value are
// ignored.
func Decode(b []byte) (any, error) {
	return decodeValue(NewReader(b), 0)
}

func decodeValue(r *Reader, depth int) (any, error) {
	if depth > MaxDepth {
		return nil, ErrTooDeep
	}
	tag, err := r.Tag()
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagNull:
		return nil, nil
	case TagTrue:
		return true, nil
	case TagFalse:
		return false, nil
	case TagInt32:
		return r.Int32()
	case TagInt64:
		return r.Int64()
	case TagDouble:
		return r.Double()
	case TagString:
		return r.String()
	case TagArray:
		n, err := r.Count()
		if err != nil {
			return nil, err
		}
		items := make([]any, 0, n)
		for i := 0; i < n; i++ {
			item, err := decodeValue(r, depth+1)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	case TagMap:
		n, err := r.Count()
		if err != nil {
			return nil, err
		}
		m := make(map[string]any, n)
		for i := 0; i < n; i++ {
			k, err := r.String()
			if err != nil {
				return nil, err
			}
			item, err := decodeValue(r, depth+1)
			if err != nil {
				return nil, err
			}
			m[k] = item
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x at offset %d", ErrUnknownTag, tag, r.Offset()-1)
	}
}
