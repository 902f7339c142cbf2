// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package multiprocess

import (
	jsbridge "github.com/buke/js-bridge"
	"github.com/buke/js-bridge/ipc"
)

// segmentValue reads segment i as a value, keeping its wire type.
func segmentValue(args *ipc.Arguments, i int) *jsbridge.ValueWithType {
	switch args.Type(i) {
	case ipc.TypeInt32:
		return jsbridge.Int32Value(args.Int32(i))
	case ipc.TypeInt64:
		return jsbridge.Int64Value(args.Int64(i))
	case ipc.TypeDouble:
		return jsbridge.DoubleValue(args.Double(i))
	case ipc.TypeString:
		return jsbridge.StringValue(args.String(i))
	case ipc.TypeJSONString:
		return jsbridge.JSONValue(args.String(i))
	case ipc.TypeByteArray:
		return jsbridge.BytesValue(args.Bytes(i))
	case ipc.TypeByteArrayJSONString:
		return &jsbridge.ValueWithType{Type: jsbridge.ValueByteArrayJSONString, Bytes: args.Bytes(i)}
	default:
		return jsbridge.VoidValue()
	}
}

// segmentValues reads segments [from, Count) as call arguments.
func segmentValues(args *ipc.Arguments, from int) []*jsbridge.ValueWithType {
	if args.Count() <= from {
		return nil
	}
	out := make([]*jsbridge.ValueWithType, 0, args.Count()-from)
	for i := from; i < args.Count(); i++ {
		out = append(out, segmentValue(args, i))
	}
	return out
}

// replyValue reads the first segment of a reply. An empty or malformed
// reply is void.
func replyValue(args *ipc.Arguments) (v *jsbridge.ValueWithType) {
	if args == nil || args.Count() == 0 {
		return jsbridge.VoidValue()
	}
	defer func() {
		if recover() != nil {
			v = jsbridge.VoidValue()
		}
	}()
	return segmentValue(args, 0)
}

// replyBytes reads the first segment of a reply as bytes, or nil.
func replyBytes(args *ipc.Arguments) []byte {
	if args == nil || args.Count() == 0 {
		return nil
	}
	switch args.Type(0) {
	case ipc.TypeByteArray, ipc.TypeByteArrayJSONString, ipc.TypeString, ipc.TypeJSONString:
		defer func() { _ = recover() }()
		return args.Bytes(0)
	default:
		return nil
	}
}

// addValue appends v in the segment type matching its tag.
func addValue(s *ipc.Serializer, v *jsbridge.ValueWithType) *ipc.Serializer {
	if v == nil {
		return s.AddVoid()
	}
	switch v.Type {
	case jsbridge.ValueInt32:
		return s.AddInt32(int32(v.Int))
	case jsbridge.ValueInt64:
		return s.AddInt64(v.Int)
	case jsbridge.ValueDouble:
		return s.AddDouble(v.Double)
	case jsbridge.ValueString:
		return s.AddString(v.Str)
	case jsbridge.ValueJSONString:
		return s.AddJSONString(v.Str)
	case jsbridge.ValueByteArray:
		return s.AddBytes(v.Bytes)
	case jsbridge.ValueByteArrayJSONString:
		return s.AddByteArrayJSON(v.Bytes)
	default:
		return s.AddVoid()
	}
}

// paramsFrom reads key/value pairs starting at segment from.
func paramsFrom(args *ipc.Arguments, from int) jsbridge.Params {
	pairs := args.Pairs(from)
	if len(pairs) == 0 {
		return nil
	}
	params := make(jsbridge.Params, 0, len(pairs))
	for _, kv := range pairs {
		params = append(params, jsbridge.Param{Key: kv[0], Value: kv[1]})
	}
	return params
}

func addParams(s *ipc.Serializer, params jsbridge.Params) *ipc.Serializer {
	for _, p := range params {
		s.AddString(p.Key).AddString(p.Value)
	}
	return s
}

func boolInt(ok bool) int32 {
	if ok {
		return 1
	}
	return 0
}
