// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

import "fmt"

// ValueType tags a ValueWithType. The ordinals match the IPC segment types.
type ValueType uint32

const (
	ValueInt32 ValueType = iota
	ValueInt64
	ValueDouble
	ValueString
	ValueJSONString
	ValueByteArray
	ValueByteArrayJSONString
	ValueVoid
)

func (t ValueType) String() string {
	switch t {
	case ValueInt32:
		return "int32"
	case ValueInt64:
		return "int64"
	case ValueDouble:
		return "double"
	case ValueString:
		return "string"
	case ValueJSONString:
		return "jsonstring"
	case ValueByteArray:
		return "bytearray"
	case ValueByteArrayJSONString:
		return "bytearrayjsonstring"
	case ValueVoid:
		return "void"
	default:
		return fmt.Sprintf("ValueType(%d)", uint32(t))
	}
}

// ValueWithType is a tagged value crossing the bridge. Only the field that
// matches Type is meaningful: Int for Int32 and Int64, Double, Str for
// String and JSONString, Bytes for the byte array types.
type ValueWithType struct {
	Type   ValueType
	Int    int64
	Double float64
	Str    string
	Bytes  []byte
}

func Int32Value(v int32) *ValueWithType    { return &ValueWithType{Type: ValueInt32, Int: int64(v)} }
func Int64Value(v int64) *ValueWithType    { return &ValueWithType{Type: ValueInt64, Int: v} }
func DoubleValue(v float64) *ValueWithType { return &ValueWithType{Type: ValueDouble, Double: v} }
func StringValue(v string) *ValueWithType  { return &ValueWithType{Type: ValueString, Str: v} }
func JSONValue(v string) *ValueWithType    { return &ValueWithType{Type: ValueJSONString, Str: v} }
func BytesValue(v []byte) *ValueWithType   { return &ValueWithType{Type: ValueByteArray, Bytes: v} }
func VoidValue() *ValueWithType            { return &ValueWithType{Type: ValueVoid} }

// IsVoid reports whether v is nil or void.
func (v *ValueWithType) IsVoid() bool {
	return v == nil || v.Type == ValueVoid
}

// Text returns the payload of the string-like types as text.
func (v *ValueWithType) Text() string {
	if v == nil {
		return ""
	}
	switch v.Type {
	case ValueString, ValueJSONString:
		return v.Str
	case ValueByteArray, ValueByteArrayJSONString:
		return string(v.Bytes)
	default:
		return ""
	}
}

func (v *ValueWithType) String() string {
	if v == nil {
		return "<nil>"
	}
	switch v.Type {
	case ValueInt32, ValueInt64:
		return fmt.Sprintf("%s(%d)", v.Type, v.Int)
	case ValueDouble:
		return fmt.Sprintf("%s(%g)", v.Type, v.Double)
	case ValueString, ValueJSONString:
		return fmt.Sprintf("%s(%q)", v.Type, v.Str)
	case ValueByteArray, ValueByteArrayJSONString:
		return fmt.Sprintf("%s(%d bytes)", v.Type, len(v.Bytes))
	default:
		return v.Type.String()
	}
}
