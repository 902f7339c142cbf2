// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	jsbridge "github.com/buke/js-bridge"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"github.com/evanw/esbuild/pkg/api"
)

// Name is reported as the framework version when the bootstrap does not
// define one.
const Name = "goja"

// Engine implements jsbridge.Engine with goja. Every script context is a
// separate goja runtime; all of them are used from the owner loop only.
type Engine struct {
	Option *EngineOption // Engine configuration options.

	host     *jsbridge.EngineHost
	logger   *slog.Logger
	holder   *jsbridge.ContextHolder[*scriptContext]
	programs *jsbridge.Cache[*goja.Program]
	registry *require.Registry

	initParams   jsbridge.Params
	globalConfig string
	closed       bool
}

// NewFactory returns a jsbridge.EngineFactory for creating Goja engines.
// The factory is configured with the provided options.
func NewFactory(opts ...jsbridge.EngineOption) jsbridge.EngineFactory {
	return func(host *jsbridge.EngineHost) (jsbridge.Engine, error) {
		return newEngine(host, opts...)
	}
}

func newEngine(host *jsbridge.EngineHost, opts ...jsbridge.EngineOption) (*Engine, error) {
	if host == nil || host.Loop == nil {
		return nil, errors.New("gojaengine: host with a message loop is required")
	}
	if host.Core == nil {
		host.Core = jsbridge.NopCoreSide{}
	}
	logger := host.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		Option: &EngineOption{
			FieldNameMapper: goja.TagFieldNameMapper("json", true),
		},
		host:     host,
		logger:   logger.With("engine", Name),
		programs: jsbridge.NewCache[*goja.Program](),
		registry: require.NewRegistry(),
	}
	e.holder = jsbridge.NewContextHolder(func(c *scriptContext) { c.destroy() }, runtime.GC)

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return e, nil
}

func (e *Engine) Kind() jsbridge.EngineKind { return jsbridge.EngineGoja }

// configure applies the runtime options to vm.
func (e *Engine) configure(vm *goja.Runtime) {
	if e.Option.FieldNameMapper != nil {
		vm.SetFieldNameMapper(e.Option.FieldNameMapper)
	}
	if e.Option.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(e.Option.MaxCallStackSize)
	}
}

func (e *Engine) forEachRuntime(fn func(*goja.Runtime)) {
	if g, ok := e.holder.Global(); ok {
		fn(g.vm)
	}
	e.holder.Range(func(_ string, c *scriptContext) {
		fn(c.vm)
	})
}

// compile returns the program for source, compiling it on first use.
func (e *Engine) compile(name, source string) (*goja.Program, error) {
	key := jsbridge.BytecodeKey([]byte(source))
	if prg, ok := e.programs.Get(key); ok {
		return prg, nil
	}
	code := source
	if e.Option.SyntaxTarget != api.DefaultTarget {
		res := api.Transform(source, api.TransformOptions{
			Target:     e.Option.SyntaxTarget,
			Loader:     api.LoaderJS,
			Sourcefile: name,
		})
		if len(res.Errors) > 0 {
			msg := res.Errors[0]
			return nil, &jsbridge.ScriptFault{Name: "SyntaxError", Message: fmt.Sprintf("%s: %s", name, msg.Text)}
		}
		code = string(res.Code)
	}
	prg, err := goja.Compile(name, code, false)
	if err != nil {
		return nil, toFault(err)
	}
	e.programs.Put(key, prg)
	return prg, nil
}

func (e *Engine) global() (*scriptContext, error) {
	if e.closed {
		return nil, jsbridge.ErrEngineClosed
	}
	g, ok := e.holder.Global()
	if !ok {
		return nil, jsbridge.ErrNotInitialized
	}
	return g, nil
}

// report forwards err to the host and returns it.
func (e *Engine) report(pageID, function string, err error) error {
	e.logger.Error("Script exception", "page", pageID, "function", function, "error", err)
	jsbridge.ReportError(e.host.Core, pageID, function, err)
	return err
}

// InitFramework builds the global context and evaluates the bootstrap.
func (e *Engine) InitFramework(source string, params jsbridge.Params) error {
	if e.closed {
		return jsbridge.ErrEngineClosed
	}
	e.initParams = params.Clone()
	g, err := e.newContext("", false)
	if err != nil {
		return fmt.Errorf("failed to create global context: %w", err)
	}
	e.holder.SetGlobal(g)
	if _, err := g.run("framework.js", source); err != nil {
		return e.report("", "initFramework", err)
	}
	g.state = jsbridge.StateInitialized

	version := Name
	if v := g.vm.Get(jsbridge.FrameworkVersionGlobal); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		version = v.String()
	}
	e.host.Core.SetJSVersion(version)
	e.logger.Debug("Framework initialized", "version", version)
	return nil
}

// CreateInstance creates the page context and runs the page script in it.
func (e *Engine) CreateInstance(req *jsbridge.InstanceRequest) error {
	g, err := e.global()
	if err != nil {
		return err
	}
	if req.Kind == jsbridge.EngineQJSBin {
		return e.report(req.PageID, "createInstance", jsbridge.ErrBytecodeUnsupported)
	}
	if req.PageID == "" {
		if _, err := g.run("instance.js", string(req.Script)); err != nil {
			return e.report("", "createInstance", err)
		}
		return nil
	}

	e.holder.Erase(req.PageID)
	inst, err := e.newContext(req.PageID, true)
	if err != nil {
		return fmt.Errorf("failed to create instance context: %w", err)
	}
	if err := inst.vm.Set("WXExtraOption", inst.paramsObject(req.Params)); err != nil {
		return err
	}
	if err := e.cloneInstance(g, inst, req); err != nil {
		inst.destroy()
		return e.report(req.PageID, "createInstance", err)
	}
	e.holder.Put(req.PageID, inst)
	inst.state = jsbridge.StateInitialized

	if req.ExtendsAPI != "" {
		if _, err := inst.run("extends_api.js", req.ExtendsAPI); err != nil {
			return e.report(req.PageID, "createInstance", err)
		}
	}
	if _, err := inst.run(req.PageID+".js", string(req.Script)); err != nil {
		return e.report(req.PageID, "createInstance", err)
	}
	inst.state = jsbridge.StateActive
	e.logger.Debug("Instance created", "page", req.PageID)
	return nil
}

// cloneInstance runs createInstanceContext in the global context and copies
// the properties it returns onto the instance global object.
func (e *Engine) cloneInstance(g, inst *scriptContext, req *jsbridge.InstanceRequest) error {
	fn, ok := goja.AssertFunction(g.vm.Get("createInstanceContext"))
	if !ok {
		return nil
	}
	res, err := fn(goja.Undefined(), g.vm.ToValue(req.PageID), g.parseJSON(req.Options), g.parseJSON(req.InitData))
	if err != nil {
		return toFault(err)
	}
	obj, ok := res.(*goja.Object)
	if !ok {
		return nil
	}
	for _, k := range obj.Keys() {
		if err := inst.vm.Set(k, inst.realm.transfer(g.vm, inst.vm, obj.Get(k))); err != nil {
			return fmt.Errorf("failed to copy %s: %w", k, err)
		}
		relinkPrototype(inst.vm, k)
	}
	return nil
}

// target resolves the context and function name of a call. callJS goes to
// the instance context of the page.
func (e *Engine) target(pageID, function string) (*scriptContext, string, error) {
	g, err := e.global()
	if err != nil {
		return nil, "", err
	}
	if jsbridge.RoutesToInstance(function) {
		if c, ok := e.holder.Find(pageID); ok {
			return c, jsbridge.CallJavaScript, nil
		}
		return g, jsbridge.CallJavaScript, nil
	}
	return g, function, nil
}

func (e *Engine) exec(pageID, namespace, function string, args []*jsbridge.ValueWithType) (goja.Value, error) {
	c, name, err := e.target(pageID, function)
	if err != nil {
		return nil, err
	}
	v, err := c.call(namespace, name, args)
	if err != nil {
		return nil, e.report(pageID, function, err)
	}
	return v, nil
}

// ExecJS calls a script function and discards its result.
func (e *Engine) ExecJS(pageID, namespace, function string, args []*jsbridge.ValueWithType) error {
	_, err := e.exec(pageID, namespace, function, args)
	return err
}

// ExecJSWithResult calls a script function and returns its result as wson.
func (e *Engine) ExecJSWithResult(pageID, namespace, function string, args []*jsbridge.ValueWithType) ([]byte, error) {
	v, err := e.exec(pageID, namespace, function, args)
	if err != nil {
		return nil, err
	}
	b, err := ScriptValueToBytes(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result of %s: %w", function, err)
	}
	return b, nil
}

// ExecJSWithCallback posts the result of the call to the host under
// callbackID. The result is empty when the call fails.
func (e *Engine) ExecJSWithCallback(pageID, namespace, function string, args []*jsbridge.ValueWithType, callbackID int64) error {
	res, err := e.ExecJSWithResult(pageID, namespace, function, args)
	e.host.Core.OnReceivedResult(callbackID, res)
	return err
}

// ExecJSOnInstance evaluates script in the page context, or the global
// context for an unknown page, and returns the completion value as wson.
func (e *Engine) ExecJSOnInstance(pageID, script string, execType int32) ([]byte, error) {
	g, err := e.global()
	if err != nil {
		return nil, err
	}
	if jsbridge.EngineKind(execType) == jsbridge.EngineQJSBin {
		return nil, e.report(pageID, "execJsOnInstance", jsbridge.ErrBytecodeUnsupported)
	}
	c := g
	if inst, ok := e.holder.Find(pageID); ok {
		c = inst
	}
	v, err := c.run("exec_on_instance.js", script)
	if err != nil {
		return nil, e.report(pageID, "execJsOnInstance", err)
	}
	return ScriptValueToBytes(v)
}

// ExecJSService evaluates a service script in the global context.
func (e *Engine) ExecJSService(source string) error {
	g, err := e.global()
	if err != nil {
		return err
	}
	if _, err := g.run("service.js", source); err != nil {
		return e.report("", "execJSService", err)
	}
	return nil
}

// ExecTimerCallback evaluates a host-fired timer body in the global
// context.
func (e *Engine) ExecTimerCallback(source string) error {
	g, err := e.global()
	if err != nil {
		return err
	}
	if _, err := g.run("timer.js", source); err != nil {
		return e.report("", "execTimerCallback", err)
	}
	return nil
}

// DestroyInstance releases the page context. Unknown pages are ignored.
func (e *Engine) DestroyInstance(pageID string) error {
	if e.closed {
		return jsbridge.ErrEngineClosed
	}
	if e.holder.Erase(pageID) {
		e.logger.Debug("Instance destroyed", "page", pageID)
	}
	return nil
}

// UpdateGlobalConfig stores config and hands it to the framework's
// updateGlobalConfig function when there is one.
func (e *Engine) UpdateGlobalConfig(config string) error {
	e.globalConfig = config
	g, err := e.global()
	if err != nil {
		return err
	}
	fn, ok := goja.AssertFunction(g.vm.Get("updateGlobalConfig"))
	if !ok {
		return nil
	}
	if _, err := fn(goja.Undefined(), g.vm.ToValue(config)); err != nil {
		return e.report("", "updateGlobalConfig", toFault(err))
	}
	return nil
}

// GlobalConfig returns the last config passed to UpdateGlobalConfig.
func (e *Engine) GlobalConfig() string { return e.globalConfig }

// UpdateInitFrameworkParams changes one init parameter. Contexts created
// later see the new value in WXEnvironment.
func (e *Engine) UpdateInitFrameworkParams(key, value, desc string) error {
	if e.closed {
		return jsbridge.ErrEngineClosed
	}
	e.initParams = e.initParams.Set(key, value)
	if g, ok := e.holder.Global(); ok {
		if env, ok := g.vm.Get("WXEnvironment").(*goja.Object); ok {
			if err := env.Set(key, value); err != nil {
				return fmt.Errorf("failed to update WXEnvironment.%s: %w", key, err)
			}
		}
	}
	e.logger.Debug("Init framework params updated", "key", key, "desc", desc)
	return nil
}

// CompileBytecode is not supported by goja.
func (e *Engine) CompileBytecode(name, source string) ([]byte, error) {
	return nil, jsbridge.ErrBytecodeUnsupported
}

func (e *Engine) HasInstance(pageID string) bool {
	return e.holder.Has(pageID)
}

// RunGC runs the Go garbage collector, which owns every goja heap.
func (e *Engine) RunGC() { runtime.GC() }

// Close releases every context. It is safe to call more than once.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.holder.Clear()
	return nil
}
