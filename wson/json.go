// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wson

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ToJSON renders an encoded buffer as JSON text, keeping map order.
// Non-finite doubles become null.
func ToJSON(b []byte) (string, error) {
	var out bytes.Buffer
	if err := writeJSON(&out, NewReader(b), 0); err != nil {
		return "", err
	}
	return out.String(), nil
}

func writeJSON(out *bytes.Buffer, r *Reader, depth int) error {
	if depth > MaxDepth {
		return ErrTooDeep
	}
	tag, err := r.Tag()
	if err != nil {
		return err
	}
	switch tag {
	case TagNull:
		out.WriteString("null")
	case TagTrue:
		out.WriteString("true")
	case TagFalse:
		out.WriteString("false")
	case TagInt32:
		v, err := r.Int32()
		if err != nil {
			return err
		}
		out.WriteString(strconv.FormatInt(int64(v), 10))
	case TagInt64:
		v, err := r.Int64()
		if err != nil {
			return err
		}
		out.WriteString(strconv.FormatInt(v, 10))
	case TagDouble:
		v, err := r.Double()
		if err != nil {
			return err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out.WriteString("null")
		} else {
			out.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
	case TagString:
		s, err := r.String()
		if err != nil {
			return err
		}
		writeJSONString(out, s)
	case TagArray:
		n, err := r.Count()
		if err != nil {
			return err
		}
		out.WriteByte('[')
		for i := 0; i < n; i++ {
			if i > 0 {
				out.WriteByte(',')
			}
			if err := writeJSON(out, r, depth+1); err != nil {
				return err
			}
		}
		out.WriteByte(']')
	case TagMap:
		n, err := r.Count()
		if err != nil {
			return err
		}
		out.WriteByte('{')
		for i := 0; i < n; i++ {
			if i > 0 {
				out.WriteByte(',')
			}
			k, err := r.String()
			if err != nil {
				return err
			}
			writeJSONString(out, k)
			out.WriteByte(':')
			if err := writeJSON(out, r, depth+1); err != nil {
				return err
			}
		}
		out.WriteByte('}')
	default:
		return fmt.Errorf("%w: 0x%02x at offset %d", ErrUnknownTag, tag, r.Offset()-1)
	}
	return nil
}

func writeJSONString(out *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	out.Write(b)
}

// FromJSON encodes JSON text, keeping object key order. Numbers are written
// the way script numbers are: integral values that fit 32 bits as int32,
// everything else as double.
func FromJSON(text string) ([]byte, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	v, err := readJSON(dec, 0)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("wson: trailing data after JSON value")
	}
	w := NewWriter()
	if err := writeTree(w, v, 0); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func readJSON(dec *json.Decoder, depth int) (any, error) {
	if depth > MaxDepth {
		return nil, ErrTooDeep
	}
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("wson: invalid JSON: %w", err)
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '[':
			items := []any{}
			for dec.More() {
				item, err := readJSON(dec, depth+1)
				if err != nil {
					return nil, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return items, nil
		case '{':
			obj := NewOrdered()
			for dec.More() {
				k, err := dec.Token()
				if err != nil {
					return nil, err
				}
				v, err := readJSON(dec, depth+1)
				if err != nil {
					return nil, err
				}
				obj.Set(k.(string), v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		}
		return nil, fmt.Errorf("wson: unexpected %v", t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("wson: invalid number %s: %w", t, err)
		}
		return f, nil
	default:
		return t, nil
	}
}

func writeTree(w *Writer, v any, depth int) error {
	switch x := v.(type) {
	case float64:
		w.Number(x)
	case []any:
		w.BeginArray(len(x))
		for _, item := range x {
			if err := writeTree(w, item, depth+1); err != nil {
				return err
			}
		}
	case *Ordered:
		w.BeginMap(len(x.Keys))
		for _, k := range x.Keys {
			w.Key(k)
			if err := writeTree(w, x.Values[k], depth+1); err != nil {
				return err
			}
		}
	default:
		return encodeValue(w, v, depth)
	}
	return nil
}
