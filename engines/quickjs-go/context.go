// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	jsbridge "github.com/buke/js-bridge"
	"github.com/buke/quickjs-go"
)

//go:embed context_timers.js
var timersScript string

// cloneScript copies the properties of a createInstanceContext result onto
// the instance global object.
const cloneScript = `(function (src) {
  if (src === null || typeof src !== "object") {
    return;
  }
  Object.keys(src).forEach(function (key) {
    globalThis[key] = src[key];
  });
  if (typeof src.Vue === "function" || (typeof src.Vue === "object" && src.Vue !== null)) {
    Object.setPrototypeOf(src.Vue, Object.getPrototypeOf(globalThis));
  }
})`

// scriptContext is one quickjs context of the engine runtime: the global
// context or the context of a page.
type scriptContext struct {
	engine *Engine
	ctx    *quickjs.Context
	pageID string
	logger *slog.Logger
	state  jsbridge.ContextState

	// Set on instance contexts only. fire runs the callback registered
	// under a timer id.
	timers *jsbridge.TimerManager[*nativeTimer]
	fire   *quickjs.Value
}

type nativeTimer struct {
	delay  time.Duration
	repeat bool
}

func (e *Engine) newContext(pageID string, instance bool) (*scriptContext, error) {
	c := &scriptContext{
		engine: e,
		ctx:    e.Runtime.NewContext(),
		pageID: pageID,
		logger: e.logger,
		state:  jsbridge.StateCreated,
	}
	if pageID != "" {
		c.logger = e.logger.With("page", pageID)
	}
	if err := c.setup(instance); err != nil {
		c.destroy()
		return nil, err
	}
	return c, nil
}

func (c *scriptContext) setup(instance bool) error {
	if err := c.exec("setup.js", "var global = globalThis;"); err != nil {
		return err
	}
	if err := c.setParams("WXEnvironment", c.engine.initParams); err != nil {
		return err
	}

	globals := c.ctx.Globals()
	bindings := jsbridge.GlobalBindings
	if instance {
		bindings = jsbridge.InstanceBindings
		if err := c.installTimers(); err != nil {
			return err
		}
	}
	for i := range bindings {
		b := &bindings[i]
		globals.Set(b.Name, c.ctx.NewFunction(func(_ *quickjs.Context, _ *quickjs.Value, args []*quickjs.Value) *quickjs.Value {
			return c.callBinding(b, args)
		}))
	}
	c.installConsole()
	return nil
}

// exec evaluates source and discards the completion value.
func (c *scriptContext) exec(name, source string) error {
	v, err := c.eval(name, source)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

// setParams sets the global name to an object holding params as string
// properties.
func (c *scriptContext) setParams(name string, params jsbridge.Params) error {
	obj := make(map[string]string, len(params))
	for _, p := range params {
		obj[p.Key] = p.Value
	}
	text, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	v, err := c.checked(c.ctx.ParseJSON(string(text)))
	if err != nil {
		return fmt.Errorf("failed to build %s: %w", name, err)
	}
	c.ctx.Globals().Set(name, v)
	return nil
}

func (c *scriptContext) callBinding(b *jsbridge.Binding, argv []*quickjs.Value) *quickjs.Value {
	n := len(b.Args)
	if b.Variadic && len(argv) > n {
		n = len(argv)
	}
	args := make(jsbridge.NativeArgs, n)
	for i := range args {
		kind, ok := b.Kind(i)
		if !ok || i >= len(argv) {
			continue
		}
		arg, err := c.nativeArg(kind, argv[i])
		if err != nil {
			return c.ctx.ThrowError(fmt.Errorf("%s: argument %d: %w", b.Name, i, err))
		}
		args[i] = arg
	}
	return c.toScript(b.Call(c.engine.host.Core, args))
}

func (c *scriptContext) installConsole() {
	console := c.ctx.NewObject()
	for name, level := range jsbridge.ConsoleMethods {
		console.Set(name, c.ctx.NewFunction(func(_ *quickjs.Context, _ *quickjs.Value, args []*quickjs.Value) *quickjs.Value {
			parts := make([]string, len(args))
			for i, arg := range args {
				parts[i] = c.text(arg)
			}
			jsbridge.WriteConsole(c.logger, level, c.pageID, strings.Join(parts, " "))
			return c.ctx.NewUndefined()
		}))
	}
	c.ctx.Globals().Set("console", console)
}

// installTimers defines the native timer functions. Callbacks stay on the
// script side; the Go side only tracks ids and delays.
func (c *scriptContext) installTimers() error {
	c.timers = jsbridge.NewTimerManager[*nativeTimer]()

	install, err := c.eval("timers.js", timersScript)
	if err != nil {
		return err
	}
	defer install.Free()

	register := c.ctx.NewFunction(func(_ *quickjs.Context, _ *quickjs.Value, args []*quickjs.Value) *quickjs.Value {
		if len(args) < 2 {
			return c.ctx.ThrowTypeError("register expects a delay and a repeat flag")
		}
		ms := args[0].Float64()
		if ms < 0 || math.IsNaN(ms) || math.IsInf(ms, 0) {
			ms = 0
		}
		t := &nativeTimer{delay: time.Duration(ms * float64(time.Millisecond)), repeat: args[1].Bool()}
		id := c.timers.Add(t)
		c.schedule(id, t)
		return c.ctx.NewInt32(int32(id))
	})
	defer register.Free()
	unregister := c.ctx.NewFunction(func(_ *quickjs.Context, _ *quickjs.Value, args []*quickjs.Value) *quickjs.Value {
		if len(args) > 0 {
			id := uint32(args[0].Int32())
			c.engine.host.Loop.PostTask(func() {
				c.timers.Remove(id)
			})
		}
		return c.ctx.NewUndefined()
	})
	defer unregister.Free()

	undefined := c.ctx.NewUndefined()
	defer undefined.Free()
	fire, err := c.checked(install.Execute(undefined, register, unregister))
	if err != nil {
		return fmt.Errorf("failed to install native timers: %w", err)
	}
	c.fire = fire
	return nil
}

func (c *scriptContext) schedule(id uint32, t *nativeTimer) {
	c.engine.host.Loop.PostDelayedTask(func() { c.fireTimer(id) }, t.delay)
}

// fireTimer runs timer id if it is still registered.
func (c *scriptContext) fireTimer(id uint32) {
	if c.engine.closed || c.state == jsbridge.StateDestroyed {
		return
	}
	t, ok := c.timers.Get(id)
	if !ok {
		return
	}
	undefined := c.ctx.NewUndefined()
	defer undefined.Free()
	idValue := c.ctx.NewInt32(int32(id))
	defer idValue.Free()
	done := c.ctx.NewBool(!t.repeat)
	defer done.Free()

	if v, err := c.checked(c.fire.Execute(undefined, idValue, done)); err != nil {
		if f, ok := err.(*jsbridge.ScriptFault); ok {
			c.logger.Error("Native timer exception", "timer", id, "report", f.Report())
		}
	} else {
		v.Free()
	}
	c.ctx.Loop()

	if !t.repeat {
		c.timers.Remove(id)
		return
	}
	if _, ok := c.timers.Get(id); ok && c.state != jsbridge.StateDestroyed {
		c.schedule(id, t)
	}
}

// checked returns v, or the pending exception when v is one.
func (c *scriptContext) checked(v *quickjs.Value) (*quickjs.Value, error) {
	if v.IsException() {
		v.Free()
		return nil, toFault(c.ctx.Exception())
	}
	return v, nil
}

func (c *scriptContext) eval(name, source string) (*quickjs.Value, error) {
	return c.checked(c.ctx.Eval(source, quickjs.EvalFileName(name)))
}

// run evaluates source and runs the jobs it queued. The caller frees the
// result.
func (c *scriptContext) run(name, source string) (*quickjs.Value, error) {
	if err := c.state.Check(); err != nil {
		return nil, err
	}
	v, err := c.eval(name, source)
	if err != nil {
		return nil, err
	}
	c.ctx.Loop()
	return v, nil
}

// runBytecode evaluates compiled code and runs the jobs it queued.
func (c *scriptContext) runBytecode(bytecode []byte) (*quickjs.Value, error) {
	if err := c.state.Check(); err != nil {
		return nil, err
	}
	v, err := c.checked(c.ctx.EvalBytecode(bytecode))
	if err != nil {
		return nil, err
	}
	c.ctx.Loop()
	return v, nil
}

// lookup returns the function called function on the namespace object, or
// on the global object when namespace is empty, and the receiver to call
// it with. The caller frees both.
func (c *scriptContext) lookup(namespace, function string) (fn, this *quickjs.Value, err error) {
	holder := c.ctx.Globals()
	this = c.ctx.NewUndefined()
	if namespace != "" {
		this.Free()
		this = holder.Get(namespace)
		if !this.IsObject() {
			this.Free()
			return nil, nil, fmt.Errorf("%w: %s.%s", jsbridge.ErrFunctionNotFound, namespace, function)
		}
		holder = this
	}
	fn = holder.Get(function)
	if !fn.IsFunction() {
		fn.Free()
		this.Free()
		return nil, nil, fmt.Errorf("%w: %s", jsbridge.ErrFunctionNotFound, strings.TrimPrefix(namespace+"."+function, "."))
	}
	return fn, this, nil
}

// call invokes function with host arguments. The caller frees the result.
func (c *scriptContext) call(namespace, function string, args []*jsbridge.ValueWithType) (*quickjs.Value, error) {
	if err := c.state.Check(); err != nil {
		return nil, err
	}
	fn, this, err := c.lookup(namespace, function)
	if err != nil {
		return nil, err
	}
	defer fn.Free()
	defer this.Free()

	values := make([]*quickjs.Value, len(args))
	for i, a := range args {
		values[i] = c.fromTyped(a)
	}
	defer func() {
		for _, v := range values {
			v.Free()
		}
	}()
	v, err := c.checked(fn.Execute(this, values...))
	if err != nil {
		return nil, err
	}
	c.ctx.Loop()
	return v, nil
}

// destroy closes the context. Pending native timers of the context become
// no-ops.
func (c *scriptContext) destroy() {
	if c.state == jsbridge.StateDestroyed {
		return
	}
	c.state = jsbridge.StateDestroyed
	if c.timers != nil {
		c.timers.Clear()
	}
	if c.fire != nil {
		c.fire.Free()
		c.fire = nil
	}
	c.ctx.Close()
}
