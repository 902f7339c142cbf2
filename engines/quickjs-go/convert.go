// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"errors"
	"strings"
	"unicode/utf8"

	jsbridge "github.com/buke/js-bridge"
	"github.com/buke/js-bridge/wson"
	"github.com/buke/quickjs-go"
)

// stringify runs JSON.stringify on v. ok is false when v has no JSON form.
func (c *scriptContext) stringify(v *quickjs.Value) (text string, ok bool, err error) {
	jsonObj := c.ctx.Globals().Get("JSON")
	defer jsonObj.Free()
	fn := jsonObj.Get("stringify")
	defer fn.Free()

	res, err := c.checked(fn.Execute(jsonObj, v))
	if err != nil {
		return "", false, err
	}
	defer res.Free()
	if res.IsUndefined() {
		return "", false, nil
	}
	return res.String(), true, nil
}

// encode returns the wson encoding of v. Functions and symbols encode as
// null inside arrays and are skipped as object members; a value reached
// again through a cycle encodes as null.
func (c *scriptContext) encode(v *quickjs.Value) ([]byte, error) {
	array := c.ctx.Globals().Get("Array")
	defer array.Free()
	ancestors, err := c.checked(array.New())
	if err != nil {
		return nil, err
	}
	defer ancestors.Free()

	w := wson.NewWriter()
	if err := c.writeValue(w, v, 0, ancestors); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (c *scriptContext) writeValue(w *wson.Writer, v *quickjs.Value, depth int, ancestors *quickjs.Value) error {
	if depth > wson.MaxDepth {
		return wson.ErrTooDeep
	}
	switch {
	case v == nil || v.IsUndefined() || v.IsNull():
		w.Null()
		return nil
	case v.IsString():
		w.StringUTF16(c.units(v))
		return nil
	case v.IsBool():
		w.Bool(v.Bool())
		return nil
	case v.IsNumber():
		w.Number(v.Float64())
		return nil
	case v.IsBigInt():
		w.String(v.String())
		return nil
	case !v.IsObject() || v.IsFunction():
		w.Null()
		return nil
	}

	seen, err := c.invoke(ancestors, "includes", v)
	if err != nil {
		return err
	}
	cyclic := seen.ToBool()
	seen.Free()
	if cyclic {
		w.Null()
		return nil
	}
	pushed, err := c.invoke(ancestors, "push", v)
	if err != nil {
		return err
	}
	pushed.Free()
	defer func() {
		if popped, err := c.invoke(ancestors, "pop"); err == nil {
			popped.Free()
		}
	}()

	if v.IsArray() {
		n := v.Len()
		w.BeginArray(int(n))
		for i := int64(0); i < n; i++ {
			item, err := c.checked(v.GetIdx(i))
			if err != nil {
				return err
			}
			err = c.writeValue(w, item, depth+1, ancestors)
			item.Free()
			if err != nil {
				return err
			}
		}
		return nil
	}
	if v.GlobalInstanceof("Date") {
		iso, err := c.invoke(v, "toJSON")
		if err != nil {
			return err
		}
		defer iso.Free()
		if iso.IsString() {
			w.StringUTF16(c.units(iso))
		} else {
			w.Null()
		}
		return nil
	}

	keys, err := c.keys(v)
	if err != nil {
		return err
	}
	members := make([]string, 0, len(keys))
	values := make([]*quickjs.Value, 0, len(keys))
	defer func() {
		for _, val := range values {
			val.Free()
		}
	}()
	for _, k := range keys {
		val, err := c.checked(v.Get(k))
		if err != nil {
			return err
		}
		if val.IsUndefined() || val.IsSymbol() || val.IsFunction() {
			val.Free()
			continue
		}
		members = append(members, k)
		values = append(values, val)
	}
	w.BeginMap(len(members))
	for i, k := range members {
		w.Key(k)
		if err := c.writeValue(w, values[i], depth+1, ancestors); err != nil {
			return err
		}
	}
	return nil
}

// invoke calls the method name of v. The caller frees the result.
func (c *scriptContext) invoke(v *quickjs.Value, name string, args ...*quickjs.Value) (*quickjs.Value, error) {
	return c.checked(v.Call(name, args...))
}

// keys returns the own enumerable string keys of v in property order.
func (c *scriptContext) keys(v *quickjs.Value) ([]string, error) {
	object := c.ctx.Globals().Get("Object")
	defer object.Free()
	list, err := c.invoke(object, "keys", v)
	if err != nil {
		return nil, err
	}
	defer list.Free()

	n := list.Len()
	keys := make([]string, 0, n)
	for i := int64(0); i < n; i++ {
		k := list.GetIdx(i)
		keys = append(keys, k.String())
		k.Free()
	}
	return keys, nil
}

// units returns the UTF-16 code units of the string v. The C string
// conversion stops at NUL and may not keep unpaired surrogates, so such
// strings are read a unit at a time.
func (c *scriptContext) units(v *quickjs.Value) []uint16 {
	s := v.String()
	n := v.Len()
	if utf8.ValidString(s) && !strings.ContainsRune(s, utf8.RuneError) {
		if u := wson.EncodeUTF16(s); int64(len(u)) == n {
			return u
		}
	}
	u := make([]uint16, n)
	for i := range u {
		idx := c.ctx.NewInt32(int32(i))
		code := v.Call("charCodeAt", idx)
		u[i] = uint16(code.ToInt32())
		code.Free()
		idx.Free()
	}
	return u
}

// text renders a console argument.
func (c *scriptContext) text(v *quickjs.Value) string {
	if v.IsString() {
		return v.String()
	}
	if v.IsObject() && !v.IsFunction() {
		if s, ok, err := c.stringify(v); err == nil && ok {
			return s
		}
	}
	return v.String()
}

// parseJSON parses text in the context. Empty or malformed text yields
// undefined.
func (c *scriptContext) parseJSON(text string) *quickjs.Value {
	if text == "" {
		return c.ctx.NewUndefined()
	}
	v, err := c.checked(c.ctx.ParseJSON(text))
	if err != nil {
		c.logger.Warn("Failed to parse JSON argument", "page", c.pageID, "error", err)
		return c.ctx.NewUndefined()
	}
	return v
}

// fromTyped converts a host argument into a script value owned by the
// caller.
func (c *scriptContext) fromTyped(v *jsbridge.ValueWithType) *quickjs.Value {
	if v == nil {
		return c.ctx.NewUndefined()
	}
	switch v.Type {
	case jsbridge.ValueInt32:
		return c.ctx.NewInt32(int32(v.Int))
	case jsbridge.ValueInt64:
		return c.ctx.NewInt64(v.Int)
	case jsbridge.ValueDouble:
		return c.ctx.NewFloat64(v.Double)
	case jsbridge.ValueString:
		return c.ctx.NewString(v.Str)
	case jsbridge.ValueJSONString, jsbridge.ValueByteArrayJSONString:
		return c.parseJSON(v.Text())
	case jsbridge.ValueByteArray:
		text, err := wson.ToJSON(v.Bytes)
		if err != nil {
			c.logger.Warn("Failed to decode argument", "page", c.pageID, "error", err)
			return c.ctx.NewUndefined()
		}
		return c.parseJSON(text)
	default:
		return c.ctx.NewUndefined()
	}
}

// toScript converts a native binding result into a script value.
func (c *scriptContext) toScript(res any) *quickjs.Value {
	switch v := res.(type) {
	case nil:
		return c.ctx.NewUndefined()
	case bool:
		return c.ctx.NewBool(v)
	case int32:
		return c.ctx.NewInt32(v)
	case *jsbridge.ValueWithType:
		switch v.Type {
		case jsbridge.ValueDouble, jsbridge.ValueString,
			jsbridge.ValueJSONString, jsbridge.ValueByteArrayJSONString, jsbridge.ValueByteArray:
			return c.fromTyped(v)
		default:
			return c.ctx.NewUndefined()
		}
	default:
		return c.ctx.NewUndefined()
	}
}

// nativeArg converts a script argument for a native binding.
func (c *scriptContext) nativeArg(kind jsbridge.ArgKind, v *quickjs.Value) (jsbridge.NativeArg, error) {
	if kind == jsbridge.ArgWson {
		b, err := c.encode(v)
		return jsbridge.NativeArg{Bytes: b}, err
	}
	if v.IsString() {
		return jsbridge.NativeArg{Text: v.String()}, nil
	}
	if v.IsUndefined() {
		return jsbridge.NativeArg{}, nil
	}
	text, _, err := c.stringify(v)
	return jsbridge.NativeArg{Text: text}, err
}

// toFault converts an error taken from a quickjs exception into a
// *jsbridge.ScriptFault.
func toFault(err error) error {
	if err == nil {
		return &jsbridge.ScriptFault{Message: "uncaught exception"}
	}
	var fault *jsbridge.ScriptFault
	if errors.As(err, &fault) {
		return fault
	}
	fault = jsbridge.ParseScriptFault(err.Error())
	var qerr *quickjs.Error
	if errors.As(err, &qerr) && fault.Stack == "" {
		fault.Stack = strings.TrimSpace(qerr.Stack)
	}
	return fault
}
