// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"errors"
	"time"

	jsbridge "github.com/buke/js-bridge"
	"github.com/buke/js-bridge/wson"
	"github.com/dop251/goja"
)

// ScriptValueToBytes encodes a script value as wson. Functions and symbols
// encode as null inside arrays and are skipped as object members; a value
// reached again through a cycle encodes as null.
func ScriptValueToBytes(v goja.Value) ([]byte, error) {
	w := wson.NewWriter()
	if err := writeValue(w, v, 0, make(map[*goja.Object]bool)); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func writeValue(w *wson.Writer, v goja.Value, depth int, seen map[*goja.Object]bool) error {
	if depth > wson.MaxDepth {
		return wson.ErrTooDeep
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		w.Null()
		return nil
	}
	if s, ok := v.(goja.String); ok {
		w.StringUTF16(utf16Of(s))
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		switch x := v.Export().(type) {
		case bool:
			w.Bool(x)
		case int64:
			w.Number(float64(x))
		case float64:
			w.Number(x)
		default:
			if goja.IsBigInt(v) {
				w.String(v.String())
			} else {
				w.Null()
			}
		}
		return nil
	}
	if seen[obj] {
		w.Null()
		return nil
	}
	seen[obj] = true
	defer delete(seen, obj)

	if _, isFn := goja.AssertFunction(obj); isFn {
		w.Null()
		return nil
	}
	switch obj.ClassName() {
	case "Array":
		n := int(obj.Get("length").ToInteger())
		w.BeginArray(n)
		for i := 0; i < n; i++ {
			if err := writeValue(w, obj.Get(itoa(i)), depth+1, seen); err != nil {
				return err
			}
		}
		return nil
	case "Date":
		if t, ok := obj.Export().(time.Time); ok {
			w.String(t.UTC().Format("2006-01-02T15:04:05.000Z"))
			return nil
		}
	}

	keys := make([]string, 0)
	values := make([]goja.Value, 0)
	for _, k := range obj.Keys() {
		val := obj.Get(k)
		if skipMember(val) {
			continue
		}
		keys = append(keys, k)
		values = append(values, val)
	}
	w.BeginMap(len(keys))
	for i, k := range keys {
		w.Key(k)
		if err := writeValue(w, values[i], depth+1, seen); err != nil {
			return err
		}
	}
	return nil
}

// skipMember reports whether an object member is left out of the encoding,
// following JSON.stringify.
func skipMember(v goja.Value) bool {
	if v == nil || goja.IsUndefined(v) {
		return true
	}
	if _, ok := v.(*goja.Symbol); ok {
		return true
	}
	if obj, ok := v.(*goja.Object); ok {
		_, isFn := goja.AssertFunction(obj)
		return isFn
	}
	return false
}

// BytesToScriptValue decodes wson into a value of vm.
func BytesToScriptValue(vm *goja.Runtime, b []byte) (goja.Value, error) {
	if len(b) == 0 {
		return goja.Undefined(), nil
	}
	return readValue(vm, wson.NewReader(b), 0)
}

func readValue(vm *goja.Runtime, r *wson.Reader, depth int) (goja.Value, error) {
	if depth > wson.MaxDepth {
		return nil, wson.ErrTooDeep
	}
	tag, err := r.Tag()
	if err != nil {
		return nil, err
	}
	switch tag {
	case wson.TagNull:
		return goja.Null(), nil
	case wson.TagTrue:
		return vm.ToValue(true), nil
	case wson.TagFalse:
		return vm.ToValue(false), nil
	case wson.TagInt32:
		n, err := r.Int32()
		return vm.ToValue(n), err
	case wson.TagInt64:
		n, err := r.Int64()
		return vm.ToValue(n), err
	case wson.TagDouble:
		f, err := r.Double()
		return vm.ToValue(f), err
	case wson.TagString:
		u, err := r.UTF16()
		if err != nil {
			return nil, err
		}
		return goja.StringFromUTF16(u), nil
	case wson.TagArray:
		n, err := r.Count()
		if err != nil {
			return nil, err
		}
		items := make([]any, n)
		for i := range items {
			if items[i], err = readValue(vm, r, depth+1); err != nil {
				return nil, err
			}
		}
		return vm.NewArray(items...), nil
	case wson.TagMap:
		n, err := r.Count()
		if err != nil {
			return nil, err
		}
		obj := vm.NewObject()
		for i := 0; i < n; i++ {
			key, err := r.String()
			if err != nil {
				return nil, err
			}
			val, err := readValue(vm, r, depth+1)
			if err != nil {
				return nil, err
			}
			if err := obj.Set(key, val); err != nil {
				return nil, err
			}
		}
		return obj, nil
	default:
		return nil, wson.ErrUnknownTag
	}
}

// scriptString converts a Go string, including WTF-8 encoded lone
// surrogates, into a script string.
func scriptString(s string) goja.Value {
	return goja.StringFromUTF16(wson.EncodeUTF16(s))
}

func utf16Of(s goja.String) []uint16 {
	u := make([]uint16, s.Length())
	for i := range u {
		u[i] = s.CharAt(i)
	}
	return u
}

// fromTyped converts a host argument into a script value.
func (c *scriptContext) fromTyped(v *jsbridge.ValueWithType) goja.Value {
	if v == nil {
		return goja.Undefined()
	}
	switch v.Type {
	case jsbridge.ValueInt32, jsbridge.ValueInt64:
		return c.vm.ToValue(v.Int)
	case jsbridge.ValueDouble:
		return c.vm.ToValue(v.Double)
	case jsbridge.ValueString:
		return scriptString(v.Str)
	case jsbridge.ValueJSONString, jsbridge.ValueByteArrayJSONString:
		return c.parseJSON(v.Text())
	case jsbridge.ValueByteArray:
		val, err := BytesToScriptValue(c.vm, v.Bytes)
		if err != nil {
			c.logger.Warn("Failed to decode argument", "page", c.pageID, "error", err)
			return goja.Undefined()
		}
		return val
	default:
		return goja.Undefined()
	}
}

// toScript converts a native binding result into a script value.
func (c *scriptContext) toScript(res any) goja.Value {
	switch v := res.(type) {
	case nil:
		return goja.Undefined()
	case bool:
		return c.vm.ToValue(v)
	case int32:
		return c.vm.ToValue(v)
	case *jsbridge.ValueWithType:
		switch v.Type {
		case jsbridge.ValueDouble:
			return c.vm.ToValue(v.Double)
		case jsbridge.ValueString:
			return scriptString(v.Str)
		case jsbridge.ValueJSONString, jsbridge.ValueByteArrayJSONString, jsbridge.ValueByteArray:
			return c.fromTyped(v)
		default:
			return goja.Undefined()
		}
	default:
		return c.vm.ToValue(v)
	}
}

// nativeArg converts a script argument for a native binding.
func (c *scriptContext) nativeArg(kind jsbridge.ArgKind, v goja.Value) (jsbridge.NativeArg, error) {
	if kind == jsbridge.ArgWson {
		b, err := ScriptValueToBytes(v)
		return jsbridge.NativeArg{Bytes: b}, err
	}
	if s, ok := v.(goja.String); ok {
		return jsbridge.NativeArg{Text: wson.DecodeUTF16(utf16Of(s))}, nil
	}
	if goja.IsUndefined(v) {
		return jsbridge.NativeArg{}, nil
	}
	res, err := c.stringify(goja.Undefined(), v)
	if err != nil {
		return jsbridge.NativeArg{}, err
	}
	if goja.IsUndefined(res) {
		return jsbridge.NativeArg{}, nil
	}
	return jsbridge.NativeArg{Text: res.String()}, nil
}

// parseJSON parses text with the context's JSON.parse. Empty or malformed
// text yields undefined.
func (c *scriptContext) parseJSON(text string) goja.Value {
	if text == "" {
		return goja.Undefined()
	}
	v, err := c.parse(goja.Undefined(), c.vm.ToValue(text))
	if err != nil {
		c.logger.Warn("Failed to parse JSON argument", "page", c.pageID, "error", err)
		return goja.Undefined()
	}
	return v
}

// toFault converts an error returned by goja into a *jsbridge.ScriptFault.
func toFault(err error) error {
	if err == nil {
		return nil
	}
	var fault *jsbridge.ScriptFault
	if errors.As(err, &fault) {
		return err
	}
	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		return &jsbridge.ScriptFault{Name: "SyntaxError", Message: syntax.Error()}
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return &jsbridge.ScriptFault{Name: "InterruptedError", Message: interrupted.Error(), Stack: interrupted.String()}
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		f := &jsbridge.ScriptFault{Stack: exc.String()}
		if obj, ok := exc.Value().(*goja.Object); ok && obj.ClassName() == "Error" {
			f.Name = valueText(obj.Get("name"))
			f.Message = valueText(obj.Get("message"))
			if stack := valueText(obj.Get("stack")); stack != "" {
				f.Stack = stack
			}
		} else if exc.Value() != nil {
			f.Message = exc.Value().String()
		}
		return f
	}
	return &jsbridge.ScriptFault{Message: err.Error()}
}

func valueText(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func itoa(i int) string {
	if i < 10 {
		return string(rune('0' + i))
	}
	return itoa(i/10) + string(rune('0'+i%10))
}
