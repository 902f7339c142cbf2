// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"errors"
	"fmt"
	"log/slog"

	jsbridge "github.com/buke/js-bridge"
	"github.com/buke/quickjs-go"
)

// Name is reported as the framework version when the bootstrap does not
// define one.
const Name = "quickjs"

// Engine implements jsbridge.Engine with quickjs-go. All contexts share one
// runtime, so values move between them directly.
type Engine struct {
	Runtime *quickjs.Runtime // QuickJS runtime instance
	Option  *EngineOption    // Engine configuration options

	host     *jsbridge.EngineHost
	logger   *slog.Logger
	holder   *jsbridge.ContextHolder[*scriptContext]
	bytecode *jsbridge.Cache[[]byte]
	// compiler is created on first compile and only ever compiles.
	compiler *quickjs.Context

	initParams   jsbridge.Params
	globalConfig string
	closed       bool
}

// NewFactory returns a jsbridge.EngineFactory that creates QuickJS engines
// with the given options.
func NewFactory(opts ...jsbridge.EngineOption) jsbridge.EngineFactory {
	return func(host *jsbridge.EngineHost) (jsbridge.Engine, error) {
		return newEngine(host, opts...)
	}
}

// newEngine creates the runtime and applies opts to it.
func newEngine(host *jsbridge.EngineHost, opts ...jsbridge.EngineOption) (*Engine, error) {
	if host == nil || host.Loop == nil {
		return nil, errors.New("quickjsengine: host with a message loop is required")
	}
	if host.Core == nil {
		host.Core = jsbridge.NopCoreSide{}
	}
	logger := host.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cache := host.Cache
	if cache == nil {
		cache = jsbridge.NewCache[[]byte]()
	}

	e := &Engine{
		Runtime: quickjs.NewRuntime(),
		Option: &EngineOption{
			MemoryLimit:        0,     // Default memory limit (no limit)
			GCThreshold:        -1,    // Default GC threshold. -1 means no threshold
			Timeout:            0,     // Default timeout (no timeout)
			MaxStackSize:       0,     // Default max stack size
			CanBlock:           false, // Blocking not allowed by default
			EnableModuleImport: false, // Module import disabled by default
			Strip:              1,     // Default strip behavior
		},
		host:     host,
		logger:   logger.With("engine", Name),
		bytecode: cache,
	}
	e.holder = jsbridge.NewContextHolder(func(c *scriptContext) { c.destroy() }, e.Runtime.RunGC)

	for _, opt := range opts {
		if err := opt(e); err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return e, nil
}

func (e *Engine) Kind() jsbridge.EngineKind { return jsbridge.EngineQJS }

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

// compile returns the bytecode of source. A syntax error is returned as
// the script fault quickjs raised for it.
func (e *Engine) compile(name, source string) ([]byte, error) {
	if e.compiler == nil {
		e.compiler = e.Runtime.NewContext()
	}
	bytecode, err := e.compiler.Compile(source, quickjs.EvalFileName(name))
	if err == nil {
		return bytecode, nil
	}
	// Compile serializes the exception value it got from the parser, which
	// replaces the parser's error with an internal one. Parsing again
	// without serializing surfaces the original fault.
	check := e.compiler.Eval(source, quickjs.EvalFileName(name), quickjs.EvalFlagCompileOnly(true))
	defer check.Free()
	if check.IsException() {
		return nil, toFault(e.compiler.Exception())
	}
	return nil, fmt.Errorf("failed to compile %s: %w", name, toFault(err))
}

// cached returns the bytecode stored under key, compiling source into the
// cache on a miss.
func (e *Engine) cached(key, name, source string) ([]byte, error) {
	if bytecode, ok := e.bytecode.Get(key); ok {
		return bytecode, nil
	}
	bytecode, err := e.compile(name, source)
	if err != nil {
		return nil, err
	}
	e.bytecode.Put(key, bytecode)
	return bytecode, nil
}

// pageBytecode resolves the bytecode of a page created in bytecode mode.
func (e *Engine) pageBytecode(req *jsbridge.InstanceRequest) ([]byte, error) {
	key := req.Params.Value(jsbridge.ParamBytecodeKey)
	if key == "" {
		key = jsbridge.BytecodeKey(req.Script)
	}
	if req.Params.Value(jsbridge.ParamScriptType) == "source" {
		return e.cached(key, req.PageID+".js", string(req.Script))
	}
	if bytecode, ok := e.bytecode.Get(key); ok {
		return bytecode, nil
	}
	e.bytecode.Put(key, req.Script)
	return req.Script, nil
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
	v, err := g.run("framework.js", source)
	if err != nil {
		return e.report("", "initFramework", err)
	}
	v.Free()
	g.state = jsbridge.StateInitialized

	version := Name
	ver := g.ctx.Globals().Get(jsbridge.FrameworkVersionGlobal)
	if !ver.IsUndefined() && !ver.IsNull() {
		version = ver.String()
	}
	ver.Free()
	e.host.Core.SetJSVersion(version)
	e.logger.Debug("Framework initialized", "version", version)
	return nil
}

// runScript evaluates the script of req in c, as bytecode in bytecode mode.
func (e *Engine) runScript(c *scriptContext, req *jsbridge.InstanceRequest) error {
	var v *quickjs.Value
	var err error
	if req.Kind == jsbridge.EngineQJSBin {
		var bytecode []byte
		if bytecode, err = e.pageBytecode(req); err != nil {
			return err
		}
		v, err = c.runBytecode(bytecode)
	} else {
		v, err = c.run(req.PageID+".js", string(req.Script))
	}
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

// CreateInstance creates the page context and runs the page script in it.
func (e *Engine) CreateInstance(req *jsbridge.InstanceRequest) error {
	g, err := e.global()
	if err != nil {
		return err
	}
	if req.PageID == "" {
		if err := e.runScript(g, req); err != nil {
			return e.report("", "createInstance", err)
		}
		return nil
	}

	e.holder.Erase(req.PageID)
	inst, err := e.newContext(req.PageID, true)
	if err != nil {
		return fmt.Errorf("failed to create instance context: %w", err)
	}
	if err := inst.setParams("WXExtraOption", req.Params); err != nil {
		inst.destroy()
		return err
	}
	if err := e.cloneInstance(g, inst, req); err != nil {
		inst.destroy()
		return e.report(req.PageID, "createInstance", err)
	}
	e.holder.Put(req.PageID, inst)
	inst.state = jsbridge.StateInitialized

	if req.ExtendsAPI != "" {
		if err := e.extendsAPI(inst, req.ExtendsAPI); err != nil {
			return e.report(req.PageID, "createInstance", err)
		}
	}
	if err := e.runScript(inst, req); err != nil {
		return e.report(req.PageID, "createInstance", err)
	}
	inst.state = jsbridge.StateActive
	e.logger.Debug("Instance created", "page", req.PageID)
	return nil
}

// extendsAPI evaluates the API extension of a page. It is compiled once
// and evaluated from the bytecode cache for later pages.
func (e *Engine) extendsAPI(inst *scriptContext, source string) error {
	bytecode, err := e.cached(jsbridge.BytecodeKey([]byte(source)), "extends_api.js", source)
	if err != nil {
		return err
	}
	v, err := inst.runBytecode(bytecode)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

// cloneInstance runs createInstanceContext in the global context and copies
// the properties it returns onto the instance global object.
func (e *Engine) cloneInstance(g, inst *scriptContext, req *jsbridge.InstanceRequest) error {
	fn := g.ctx.Globals().Get("createInstanceContext")
	defer fn.Free()
	if !fn.IsFunction() {
		return nil
	}

	undefined := g.ctx.NewUndefined()
	defer undefined.Free()
	pageID := g.ctx.NewString(req.PageID)
	defer pageID.Free()
	options := g.parseJSON(req.Options)
	defer options.Free()
	data := g.parseJSON(req.InitData)
	defer data.Free()

	res, err := g.checked(fn.Execute(undefined, pageID, options, data))
	if err != nil {
		return err
	}
	defer res.Free()

	clone, err := inst.eval("clone.js", cloneScript)
	if err != nil {
		return err
	}
	defer clone.Free()
	done, err := inst.checked(clone.Execute(undefined, res))
	if err != nil {
		return fmt.Errorf("failed to copy instance context: %w", err)
	}
	done.Free()
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

// exec calls function and returns the wson encoding of its result when
// encode is set.
func (e *Engine) exec(pageID, namespace, function string, args []*jsbridge.ValueWithType, encode bool) ([]byte, error) {
	c, name, err := e.target(pageID, function)
	if err != nil {
		return nil, err
	}
	v, err := c.call(namespace, name, args)
	if err != nil {
		return nil, e.report(pageID, function, err)
	}
	defer v.Free()
	if !encode {
		return nil, nil
	}
	b, err := c.encode(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result of %s: %w", function, err)
	}
	return b, nil
}

// ExecJS calls a script function and discards its result.
func (e *Engine) ExecJS(pageID, namespace, function string, args []*jsbridge.ValueWithType) error {
	_, err := e.exec(pageID, namespace, function, args, false)
	return err
}

// ExecJSWithResult calls a script function and returns its result as wson.
func (e *Engine) ExecJSWithResult(pageID, namespace, function string, args []*jsbridge.ValueWithType) ([]byte, error) {
	return e.exec(pageID, namespace, function, args, true)
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
// With execType EngineQJSBin the script is bytecode.
func (e *Engine) ExecJSOnInstance(pageID, script string, execType int32) ([]byte, error) {
	g, err := e.global()
	if err != nil {
		return nil, err
	}
	c := g
	if inst, ok := e.holder.Find(pageID); ok {
		c = inst
	}
	var v *quickjs.Value
	if jsbridge.EngineKind(execType) == jsbridge.EngineQJSBin {
		v, err = c.runBytecode([]byte(script))
	} else {
		v, err = c.run("exec_on_instance.js", script)
	}
	if err != nil {
		return nil, e.report(pageID, "execJsOnInstance", err)
	}
	defer v.Free()
	return c.encode(v)
}

// evalGlobal evaluates source in the global context, reporting failures
// under function.
func (e *Engine) evalGlobal(name, function, source string) error {
	g, err := e.global()
	if err != nil {
		return err
	}
	v, err := g.run(name, source)
	if err != nil {
		return e.report("", function, err)
	}
	v.Free()
	return nil
}

// ExecJSService evaluates a service script in the global context.
func (e *Engine) ExecJSService(source string) error {
	return e.evalGlobal("service.js", "execJSService", source)
}

// ExecTimerCallback evaluates a host-fired timer body in the global
// context.
func (e *Engine) ExecTimerCallback(source string) error {
	return e.evalGlobal("timer.js", "execTimerCallback", source)
}

// DestroyInstance closes the page context. Unknown pages are ignored.
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
	fn := g.ctx.Globals().Get("updateGlobalConfig")
	defer fn.Free()
	if !fn.IsFunction() {
		return nil
	}
	undefined := g.ctx.NewUndefined()
	defer undefined.Free()
	arg := g.ctx.NewString(config)
	defer arg.Free()
	v, err := g.checked(fn.Execute(undefined, arg))
	if err != nil {
		return e.report("", "updateGlobalConfig", err)
	}
	v.Free()
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
		env := g.ctx.Globals().Get("WXEnvironment")
		if env.IsObject() {
			env.Set(key, g.ctx.NewString(value))
		}
		env.Free()
	}
	e.logger.Debug("Init framework params updated", "key", key, "desc", desc)
	return nil
}

// CompileBytecode compiles source without running it.
func (e *Engine) CompileBytecode(name, source string) ([]byte, error) {
	if e.closed {
		return nil, jsbridge.ErrEngineClosed
	}
	return e.compile(name, source)
}

func (e *Engine) HasInstance(pageID string) bool {
	return e.holder.Has(pageID)
}

// RunGC runs the quickjs cycle collector.
func (e *Engine) RunGC() {
	if !e.closed {
		e.Runtime.RunGC()
	}
}

// Close closes every context, then the runtime. It is safe to call more
// than once.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.holder.Clear()
	if e.compiler != nil {
		e.compiler.Close()
		e.compiler = nil
	}
	if e.Runtime != nil {
		e.Runtime.Close()
		e.Runtime = nil
	}
	return nil
}
