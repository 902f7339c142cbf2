// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package jsbridge runs page scripts on interchangeable script engines on
// behalf of a host process.
//
// A Bridge owns one MessageLoop. Every engine, every script context and
// every engine callback lives on that loop; Bridge methods may be called
// from any goroutine and wait for the loop. Engines are registered as
// factories and created when the framework is initialized.
package jsbridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Bridge is the script side of the host/script boundary.
type Bridge struct {
	core      CoreSide
	loop      *MessageLoop
	ownsLoop  bool
	manager   *RuntimeManager
	cache     *Cache[[]byte]
	logger    *slog.Logger
	level     *slog.LevelVar
	factories []EngineFactory

	defaultKind EngineKind
	mask        EngineKind
	closeOnce   sync.Once
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger of the bridge and its engines.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithLevel sets the level variable SetLogLevel adjusts. The logger passed
// to WithLogger is expected to read it.
func WithLevel(level *slog.LevelVar) Option {
	return func(b *Bridge) {
		if level != nil {
			b.level = level
		}
	}
}

// WithEngine registers an engine factory. Engines are created in
// registration order on the first InitFramework.
func WithEngine(factory EngineFactory) Option {
	return func(b *Bridge) {
		if factory != nil {
			b.factories = append(b.factories, factory)
		}
	}
}

// WithDefaultEngine sets the kind used for pages that request none, or
// request one this process does not carry.
func WithDefaultEngine(kind EngineKind) Option {
	return func(b *Bridge) { b.defaultKind = kind }
}

// WithSupportedEngines limits the engine kinds pages may select.
func WithSupportedEngines(mask EngineKind) Option {
	return func(b *Bridge) { b.mask = mask }
}

// WithLoop runs the bridge on an existing loop. The bridge does not stop it.
func WithLoop(loop *MessageLoop) Option {
	return func(b *Bridge) { b.loop = loop }
}

// WithCache shares a bytecode cache between bridges.
func WithCache(cache *Cache[[]byte]) Option {
	return func(b *Bridge) {
		if cache != nil {
			b.cache = cache
		}
	}
}

// NewBridge returns a bridge that reports to core. A nil core discards
// every host message.
func NewBridge(core CoreSide, opts ...Option) *Bridge {
	b := &Bridge{
		core:        core,
		logger:      slog.Default(),
		level:       new(slog.LevelVar),
		cache:       NewCache[[]byte](),
		defaultKind: EngineGoja,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.core == nil {
		b.core = NopCoreSide{}
	}
	if b.loop == nil {
		b.loop = NewMessageLoop(WithLoopName("script"), WithLoopLogger(b.logger))
		b.ownsLoop = true
	}
	b.manager = NewRuntimeManager(b.defaultKind, b.logger)
	if b.mask != 0 {
		b.manager.Restrict(b.mask)
	}
	return b
}

// Loop returns the owner loop.
func (b *Bridge) Loop() *MessageLoop { return b.loop }

// Cache returns the bytecode cache.
func (b *Bridge) Cache() *Cache[[]byte] { return b.cache }

// Level returns the level variable adjusted by SetLogLevel.
func (b *Bridge) Level() *slog.LevelVar { return b.level }

// Manager returns the runtime manager. It may only be used on the loop.
func (b *Bridge) Manager() *RuntimeManager { return b.manager }

func (b *Bridge) host() *EngineHost {
	return &EngineHost{Core: b.core, Loop: b.loop, Cache: b.cache, Logger: b.logger}
}

// ensureRuntimes creates the configured engines once.
func (b *Bridge) ensureRuntimes() error {
	if len(b.manager.Runtimes()) > 0 {
		return nil
	}
	if len(b.factories) == 0 {
		return ErrNoRuntime
	}
	for _, factory := range b.factories {
		e, err := factory(b.host())
		if err != nil {
			return fmt.Errorf("failed to create engine: %w", err)
		}
		b.manager.AddRuntime(e)
		b.logger.Debug("Engine created", "engine", e.Kind().String())
	}
	return nil
}

// broadcast runs fn against every runtime and joins the errors.
func (b *Bridge) broadcast(op string, fn func(Engine) error) error {
	runtimes := b.manager.Runtimes()
	if len(runtimes) == 0 {
		return ErrNoRuntime
	}
	var errs []error
	for _, e := range runtimes {
		if err := fn(e); err != nil {
			b.logger.Error("Failed to "+op, "engine", e.Kind().String(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// route returns the runtime bound to pageID, or the default runtime.
func (b *Bridge) route(pageID string) (Engine, error) {
	if e := b.manager.RuntimeFor(pageID); e != nil {
		return e, nil
	}
	return nil, ErrNoRuntime
}

// InitFramework creates the engines on first use and initializes every one
// of them with the bootstrap source.
func (b *Bridge) InitFramework(source string, params Params) error {
	return b.loop.Run(func() error {
		if err := b.ensureRuntimes(); err != nil {
			return err
		}
		return b.broadcast("init framework", func(e Engine) error {
			return e.InitFramework(source, params.Clone())
		})
	})
}

// InitAppFramework is accepted for protocol compatibility; app contexts
// are not supported.
func (b *Bridge) InitAppFramework(instanceID, source string, params Params) error {
	b.logger.Debug("App framework is not supported", "instance", instanceID)
	return nil
}

func (b *Bridge) CreateAppContext(instanceID, source string) error {
	b.logger.Debug("App context is not supported", "instance", instanceID)
	return nil
}

func (b *Bridge) ExecJSOnAppWithResult(instanceID, source string) ([]byte, error) {
	b.logger.Debug("App context is not supported", "instance", instanceID)
	return nil, nil
}

func (b *Bridge) CallJSOnAppContext(instanceID, function string, args []*ValueWithType) error {
	b.logger.Debug("App context is not supported", "instance", instanceID, "function", function)
	return nil
}

func (b *Bridge) DestroyAppContext(instanceID string) error {
	b.logger.Debug("App context is not supported", "instance", instanceID)
	return nil
}

// ExecJSService evaluates a service script in the global context of every
// runtime.
func (b *Bridge) ExecJSService(source string) error {
	return b.loop.Run(func() error {
		return b.broadcast("execute service", func(e Engine) error { return e.ExecJSService(source) })
	})
}

// ExecTimerCallback evaluates a host-fired timer body in every runtime.
func (b *Bridge) ExecTimerCallback(source string) error {
	return b.loop.Run(func() error {
		return b.broadcast("execute timer callback", func(e Engine) error { return e.ExecTimerCallback(source) })
	})
}

// ExecJS calls a script function without returning its result.
func (b *Bridge) ExecJS(pageID, namespace, function string, args []*ValueWithType) error {
	return b.loop.Run(func() error {
		e, err := b.route(pageID)
		if err != nil {
			return err
		}
		return e.ExecJS(pageID, namespace, function, args)
	})
}

// ExecJSWithResult calls a script function and returns the wson encoding of
// its result.
func (b *Bridge) ExecJSWithResult(pageID, namespace, function string, args []*ValueWithType) ([]byte, error) {
	var out []byte
	err := b.loop.Run(func() error {
		e, err := b.route(pageID)
		if err != nil {
			return err
		}
		out, err = e.ExecJSWithResult(pageID, namespace, function, args)
		return err
	})
	return out, err
}

// ExecJSWithCallback calls a script function and posts its result to the
// host under callbackID.
func (b *Bridge) ExecJSWithCallback(pageID, namespace, function string, args []*ValueWithType, callbackID int64) error {
	return b.loop.Run(func() error {
		e, err := b.route(pageID)
		if err != nil {
			return err
		}
		return e.ExecJSWithCallback(pageID, namespace, function, args, callbackID)
	})
}

// CreateInstance binds the page to a runtime and creates its context.
func (b *Bridge) CreateInstance(req *InstanceRequest) error {
	return b.loop.Run(func() error {
		if len(b.manager.Runtimes()) == 0 {
			return ErrNoRuntime
		}
		data := b.manager.CreateInstance(req.PageID, req.Params)
		if data == nil {
			return ErrNoRuntime
		}
		r := *req
		r.Kind = data.Kind
		if data.PreInitMode && r.Kind == EngineQJSBin {
			r.Kind = EngineQJS
		}
		b.logger.Debug("Creating instance", "page", req.PageID, "engine", r.Kind.String())
		if err := data.Engine.CreateInstance(&r); err != nil {
			return err
		}
		b.core.CallNative(req.PageID, "HeartBeat", "HeartBeat")
		return nil
	})
}

// DestroyInstance releases the page context. Unknown pages are ignored.
func (b *Bridge) DestroyInstance(pageID string) error {
	return b.loop.Run(func() error {
		var err error
		for _, e := range b.manager.RouteByPageID(pageID) {
			err = errors.Join(err, e.DestroyInstance(pageID))
		}
		if pageID != "" {
			b.manager.DestroyInstance(pageID)
		}
		return err
	})
}

// ExecJSOnInstance evaluates script in the page context and returns the
// wson encoding of its completion value.
func (b *Bridge) ExecJSOnInstance(pageID, script string, execType int32) ([]byte, error) {
	var out []byte
	err := b.loop.Run(func() error {
		e, err := b.route(pageID)
		if err != nil {
			return err
		}
		out, err = e.ExecJSOnInstance(pageID, script, execType)
		return err
	})
	return out, err
}

// UpdateGlobalConfig forwards the config to every runtime.
func (b *Bridge) UpdateGlobalConfig(config string) error {
	return b.loop.Run(func() error {
		return b.broadcast("update global config", func(e Engine) error { return e.UpdateGlobalConfig(config) })
	})
}

// UpdateInitFrameworkParams changes one init parameter in every runtime.
func (b *Bridge) UpdateInitFrameworkParams(key, value, desc string) error {
	return b.loop.Run(func() error {
		return b.broadcast("update init framework params", func(e Engine) error {
			return e.UpdateInitFrameworkParams(key, value, desc)
		})
	})
}

// SetLogLevel maps a host log level onto the bridge level variable.
// Levels: 0 all, 1 verbose, 2 debug, 3 info, 4 warn, 5 error, 6 off.
func (b *Bridge) SetLogLevel(level int32, perf bool) {
	var l slog.Level
	switch {
	case level <= 2:
		l = slog.LevelDebug
	case level == 3:
		l = slog.LevelInfo
	case level == 4:
		l = slog.LevelWarn
	case level == 5:
		l = slog.LevelError
	default:
		l = slog.LevelError + 4
	}
	b.level.Set(l)
	b.logger.Debug("Log level updated", "level", l.String(), "perf", perf)
}

// CompileQuickJSBin compiles source with the first runtime that supports
// bytecode, caches it under key and posts it back to the host.
func (b *Bridge) CompileQuickJSBin(key, source string) error {
	return b.loop.Run(func() error {
		e := b.manager.FindRuntime(EngineQJSBin)
		if e == nil {
			return ErrBytecodeUnsupported
		}
		if key == "" {
			key = BytecodeKey([]byte(source))
		}
		bc, ok := b.cache.Get(key)
		if !ok {
			var err error
			bc, err = e.CompileBytecode(key, source)
			if err != nil {
				ReportError(b.core, "", "compileQuickJSBin", err)
				return err
			}
			b.cache.Put(key, bc)
		}
		b.core.CompileQuickJSBinCallback(key, bc)
		return nil
	})
}

// HasInstance reports whether any runtime holds a context for pageID.
func (b *Bridge) HasInstance(pageID string) bool {
	var ok bool
	_ = b.loop.Run(func() error {
		for _, e := range b.manager.Runtimes() {
			if e.HasInstance(pageID) {
				ok = true
			}
		}
		return nil
	})
	return ok
}

// RunGC collects garbage in every runtime.
func (b *Bridge) RunGC() {
	_ = b.loop.Run(func() error {
		for _, e := range b.manager.Runtimes() {
			e.RunGC()
		}
		return nil
	})
}

// Close closes every engine and stops the loop if the bridge created it.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.loop.Run(b.manager.Close)
		if errors.Is(err, ErrLoopStopped) {
			err = nil
		}
		if b.ownsLoop {
			b.loop.Stop()
		}
	})
	return err
}
