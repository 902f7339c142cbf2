// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"errors"

	"github.com/dop251/goja"
)

// realm moves values between the global runtime and one instance runtime.
//
// A goja object belongs to the runtime that created it, so objects cross
// by copy and functions cross as proxies that call back into the runtime
// owning the original. A proxy that crosses back is unwrapped to its
// original.
type realm struct {
	proxies map[*goja.Object]*goja.Object // proxy -> original
	cache   map[*goja.Object]*goja.Object // original -> proxy
}

func newRealm() *realm {
	return &realm{
		proxies: make(map[*goja.Object]*goja.Object),
		cache:   make(map[*goja.Object]*goja.Object),
	}
}

// transfer returns v as a value of the to runtime.
func (r *realm) transfer(from, to *goja.Runtime, v goja.Value) goja.Value {
	return r.transferSeen(from, to, v, make(map[*goja.Object]*goja.Object))
}

func (r *realm) transferSeen(from, to *goja.Runtime, v goja.Value, seen map[*goja.Object]*goja.Object) goja.Value {
	if v == nil {
		return goja.Undefined()
	}
	if _, ok := v.(*goja.Symbol); ok {
		return goja.Undefined()
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v
	}
	if orig, ok := r.proxies[obj]; ok {
		return orig
	}
	if p, ok := r.cache[obj]; ok {
		return p
	}
	if c, ok := seen[obj]; ok {
		return c
	}
	if fn, ok := goja.AssertFunction(obj); ok {
		return r.proxy(from, to, obj, fn, seen)
	}

	if obj.ClassName() == "Array" {
		n := int(obj.Get("length").ToInteger())
		arr := to.NewArray()
		seen[obj] = arr
		for i := 0; i < n; i++ {
			_ = arr.Set(itoa(i), r.transferSeen(from, to, obj.Get(itoa(i)), seen))
		}
		return arr
	}
	if obj.ClassName() == "Error" {
		return r.transferError(to, obj)
	}

	out := to.NewObject()
	seen[obj] = out
	r.copyOwn(from, to, obj, out, seen)
	return out
}

// copyOwn copies the own enumerable properties of src onto dst.
func (r *realm) copyOwn(from, to *goja.Runtime, src, dst *goja.Object, seen map[*goja.Object]*goja.Object) {
	for _, k := range src.Keys() {
		_ = dst.Set(k, r.transferSeen(from, to, src.Get(k), seen))
	}
}

// proxy wraps fn, a function of from, as a function of to. The proxy is not
// a constructor.
func (r *realm) proxy(from, to *goja.Runtime, orig *goja.Object, fn goja.Callable, seen map[*goja.Object]*goja.Object) goja.Value {
	p := to.ToValue(func(call goja.FunctionCall) goja.Value {
		this := goja.Undefined()
		if t, ok := call.This.(*goja.Object); ok && t != to.GlobalObject() {
			this = r.transfer(to, from, t)
		}
		args := make([]goja.Value, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = r.transfer(to, from, a)
		}
		res, err := fn(this, args...)
		if err != nil {
			panic(r.thrown(from, to, err))
		}
		return r.transfer(from, to, res)
	}).(*goja.Object)

	r.proxies[p] = orig
	r.cache[orig] = p
	seen[orig] = p
	r.copyOwn(from, to, orig, p, seen)
	return p
}

// thrown converts an error raised in from into the value to throw in to.
func (r *realm) thrown(from, to *goja.Runtime, err error) goja.Value {
	var exc *goja.Exception
	if !errors.As(err, &exc) {
		return to.NewGoError(err)
	}
	val := exc.Value()
	if obj, ok := val.(*goja.Object); ok && obj.ClassName() == "Error" {
		return r.transferError(to, obj)
	}
	return r.transfer(from, to, val)
}

// transferError re-creates an error object with the constructor of the same
// name in to, keeping message and stack.
func (r *realm) transferError(to *goja.Runtime, obj *goja.Object) goja.Value {
	name := valueText(obj.Get("name"))
	ctor, ok := goja.AssertConstructor(to.Get(name))
	if name == "" || !ok {
		ctor, _ = goja.AssertConstructor(to.Get("Error"))
	}
	e, err := ctor(nil, obj.Get("message"))
	if err != nil {
		return to.NewGoError(err)
	}
	if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
		_ = e.Set("stack", stack)
	}
	return e
}

// relinkPrototype points the prototype of the Vue object at the prototype
// of the instance global object.
func relinkPrototype(vm *goja.Runtime, name string) {
	if name != "Vue" {
		return
	}
	obj, ok := vm.Get(name).(*goja.Object)
	if !ok {
		return
	}
	if proto := vm.GlobalObject().Prototype(); proto != nil {
		_ = obj.SetPrototype(proto)
	}
}
