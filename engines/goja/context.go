// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	jsbridge "github.com/buke/js-bridge"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	_ "github.com/dop251/goja_nodejs/util"
)

// scriptContext is one goja runtime: the global context of the engine or
// the context of a page.
type scriptContext struct {
	engine *Engine
	vm     *goja.Runtime
	pageID string
	logger *slog.Logger
	state  jsbridge.ContextState

	// realm is set on instance contexts only.
	realm  *realm
	timers *jsbridge.TimerManager[*nativeTimer]

	parse     goja.Callable
	stringify goja.Callable
	format    goja.Callable
}

// nativeTimer is a timer installed by setNativeTimeout or
// setNativeInterval.
type nativeTimer struct {
	fn     goja.Callable
	delay  time.Duration
	repeat bool
}

func (e *Engine) newContext(pageID string, instance bool) (*scriptContext, error) {
	vm := goja.New()
	c := &scriptContext{
		engine: e,
		vm:     vm,
		pageID: pageID,
		logger: e.logger,
		state:  jsbridge.StateCreated,
	}
	if pageID != "" {
		c.logger = e.logger.With("page", pageID)
	}
	e.configure(vm)

	e.registry.Enable(vm)
	util, ok := require.Require(vm, "util").(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("failed to load util module")
	}
	if c.format, ok = goja.AssertFunction(util.Get("format")); !ok {
		return nil, fmt.Errorf("util.format is not a function")
	}
	if !e.Option.EnableRequire {
		if err := vm.GlobalObject().Delete("require"); err != nil {
			return nil, fmt.Errorf("failed to remove require: %w", err)
		}
	}

	jsonObj := vm.Get("JSON").ToObject(vm)
	c.parse, _ = goja.AssertFunction(jsonObj.Get("parse"))
	c.stringify, _ = goja.AssertFunction(jsonObj.Get("stringify"))

	if err := vm.Set("global", vm.GlobalObject()); err != nil {
		return nil, err
	}
	if err := vm.Set("WXEnvironment", c.paramsObject(e.initParams)); err != nil {
		return nil, err
	}

	bindings := jsbridge.GlobalBindings
	if instance {
		bindings = jsbridge.InstanceBindings
		c.realm = newRealm()
		c.timers = jsbridge.NewTimerManager[*nativeTimer]()
		if err := c.installTimers(); err != nil {
			return nil, err
		}
	}
	for i := range bindings {
		b := &bindings[i]
		if err := vm.Set(b.Name, func(call goja.FunctionCall) goja.Value {
			return c.callBinding(b, call)
		}); err != nil {
			return nil, fmt.Errorf("failed to install %s: %w", b.Name, err)
		}
	}
	if err := c.installConsole(); err != nil {
		return nil, err
	}
	return c, nil
}

// paramsObject builds an object holding params as string properties.
func (c *scriptContext) paramsObject(params jsbridge.Params) *goja.Object {
	obj := c.vm.NewObject()
	for _, p := range params {
		_ = obj.Set(p.Key, p.Value)
	}
	return obj
}

func (c *scriptContext) callBinding(b *jsbridge.Binding, call goja.FunctionCall) goja.Value {
	n := len(b.Args)
	if b.Variadic && len(call.Arguments) > n {
		n = len(call.Arguments)
	}
	args := make(jsbridge.NativeArgs, n)
	for i := range args {
		kind, ok := b.Kind(i)
		if !ok {
			continue
		}
		arg, err := c.nativeArg(kind, call.Argument(i))
		if err != nil {
			panic(c.vm.NewGoError(fmt.Errorf("%s: argument %d: %w", b.Name, i, err)))
		}
		args[i] = arg
	}
	return c.toScript(b.Call(c.engine.host.Core, args))
}

func (c *scriptContext) installConsole() error {
	console := c.vm.NewObject()
	for name, level := range jsbridge.ConsoleMethods {
		if err := console.Set(name, func(call goja.FunctionCall) goja.Value {
			text, err := c.format(goja.Undefined(), call.Arguments...)
			if err != nil {
				panic(err)
			}
			jsbridge.WriteConsole(c.logger, level, c.pageID, text.String())
			return goja.Undefined()
		}); err != nil {
			return err
		}
	}
	return c.vm.Set("console", console)
}

func (c *scriptContext) installTimers() error {
	set := func(repeat bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(0))
			delay := call.Argument(1)
			if !ok || !goja.IsNumber(delay) {
				return c.vm.ToValue(false)
			}
			ms := delay.ToFloat()
			if ms < 0 || math.IsNaN(ms) || math.IsInf(ms, 0) {
				ms = 0
			}
			t := &nativeTimer{fn: fn, delay: time.Duration(ms * float64(time.Millisecond)), repeat: repeat}
			id := c.timers.Add(t)
			c.schedule(id, t)
			return c.vm.ToValue(int32(id))
		}
	}
	cancel := func(call goja.FunctionCall) goja.Value {
		id := uint32(call.Argument(0).ToInteger())
		c.engine.host.Loop.PostTask(func() {
			c.timers.Remove(id)
		})
		return goja.Undefined()
	}
	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		jsbridge.SetNativeTimeout:    set(false),
		jsbridge.SetNativeInterval:   set(true),
		jsbridge.ClearNativeTimeout:  cancel,
		jsbridge.ClearNativeInterval: cancel,
	} {
		if err := c.vm.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func (c *scriptContext) schedule(id uint32, t *nativeTimer) {
	c.engine.host.Loop.PostDelayedTask(func() { c.fire(id) }, t.delay)
}

// fire runs timer id if it is still registered.
func (c *scriptContext) fire(id uint32) {
	if c.engine.closed || c.state == jsbridge.StateDestroyed {
		return
	}
	t, ok := c.timers.Get(id)
	if !ok {
		return
	}
	if _, err := t.fn(goja.Undefined()); err != nil {
		if f, ok := toFault(err).(*jsbridge.ScriptFault); ok {
			c.logger.Error("Native timer exception", "timer", id, "report", f.Report())
		}
	}
	if !t.repeat {
		c.timers.Remove(id)
		return
	}
	if _, ok := c.timers.Get(id); ok && c.state != jsbridge.StateDestroyed {
		c.schedule(id, t)
	}
}

// run compiles and evaluates source.
func (c *scriptContext) run(name, source string) (goja.Value, error) {
	if err := c.state.Check(); err != nil {
		return nil, err
	}
	prg, err := c.engine.compile(name, source)
	if err != nil {
		return nil, err
	}
	v, err := c.vm.RunProgram(prg)
	if err != nil {
		return nil, toFault(err)
	}
	return v, nil
}

// lookup returns the function called function on the namespace object,
// or on the global object when namespace is empty, and the receiver to
// call it with.
func (c *scriptContext) lookup(namespace, function string) (goja.Callable, goja.Value, error) {
	holder := c.vm.GlobalObject()
	this := goja.Undefined()
	if namespace != "" {
		ns, ok := c.vm.Get(namespace).(*goja.Object)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s.%s", jsbridge.ErrFunctionNotFound, namespace, function)
		}
		holder, this = ns, ns
	}
	fn, ok := goja.AssertFunction(holder.Get(function))
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", jsbridge.ErrFunctionNotFound, strings.TrimPrefix(namespace+"."+function, "."))
	}
	return fn, this, nil
}

// call invokes function with host arguments.
func (c *scriptContext) call(namespace, function string, args []*jsbridge.ValueWithType) (goja.Value, error) {
	if err := c.state.Check(); err != nil {
		return nil, err
	}
	fn, this, err := c.lookup(namespace, function)
	if err != nil {
		return nil, err
	}
	values := make([]goja.Value, len(args))
	for i, a := range args {
		values[i] = c.fromTyped(a)
	}
	v, err := fn(this, values...)
	if err != nil {
		return nil, toFault(err)
	}
	return v, nil
}

// destroy releases the context. Pending native timers of the context
// become no-ops.
func (c *scriptContext) destroy() {
	if c.state == jsbridge.StateDestroyed {
		return
	}
	c.state = jsbridge.StateDestroyed
	if c.timers != nil {
		c.timers.Clear()
	}
	c.realm = nil
}
