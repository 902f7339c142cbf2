// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

import "log/slog"

// Parameter names understood by engine selection.
const (
	ParamEngineType        = "engine_type"
	ParamPreInitMode       = "pre_init_mode"
	ParamUseBackThread     = "use_back_thread"
	ParamRunInMainProcess  = "run_in_main_process"
	ParamBytecodeKey       = "bytecode_key"
	ParamScriptType        = "script_type"
	ScriptTypeSource       = "source"
	FrameworkVersionGlobal = "__BRIDGE_FRAMEWORK_VERSION__"
)

// InstanceEngineData binds a page to the runtime chosen for it. It does not
// change for the lifetime of the page.
type InstanceEngineData struct {
	PageID           string
	Kind             EngineKind
	Engine           Engine
	ForceMainProcess bool
	BackupThread     bool
	PreInitMode      bool
}

// RuntimeManager registers the runtimes of the process and routes pages to
// them. It is only used on the owner loop.
type RuntimeManager struct {
	logger      *slog.Logger
	defaultKind EngineKind
	supported   EngineKind
	restricted  bool
	runtimes    []Engine
	pages       map[string]*InstanceEngineData
}

// NewRuntimeManager returns an empty manager whose default is defaultKind.
func NewRuntimeManager(defaultKind EngineKind, logger *slog.Logger) *RuntimeManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuntimeManager{
		logger:      logger,
		defaultKind: defaultKind,
		pages:       make(map[string]*InstanceEngineData),
	}
}

// Restrict limits the kinds FindRuntime serves to mask. Without it the
// process supports every registered kind.
func (m *RuntimeManager) Restrict(mask EngineKind) {
	m.supported, m.restricted = mask, true
}

// Supported returns the engine mask of the process.
func (m *RuntimeManager) Supported() EngineKind { return m.supported }

// DefaultKind returns the kind used when a page asks for nothing else.
func (m *RuntimeManager) DefaultKind() EngineKind { return m.defaultKind }

// AddRuntime registers e, replacing a runtime of the same kind.
func (m *RuntimeManager) AddRuntime(e Engine) {
	for i, r := range m.runtimes {
		if r.Kind() == e.Kind() {
			m.runtimes[i] = e
			return
		}
	}
	m.runtimes = append(m.runtimes, e)
	if !m.restricted {
		m.supported |= e.Kind()
	}
}

// Runtimes returns the registered runtimes in registration order.
func (m *RuntimeManager) Runtimes() []Engine {
	return append([]Engine(nil), m.runtimes...)
}

// FindRuntime returns the first runtime serving kind, or nil.
func (m *RuntimeManager) FindRuntime(kind EngineKind) Engine {
	if !m.supported.Supports(kind) {
		return nil
	}
	for _, r := range m.runtimes {
		if r.Kind().Supports(kind) {
			return r
		}
	}
	return nil
}

// DefaultRuntime returns the runtime of the default kind, or any runtime
// when that kind is not registered.
func (m *RuntimeManager) DefaultRuntime() Engine {
	for _, r := range m.runtimes {
		if r.Kind() == m.defaultKind {
			return r
		}
	}
	for _, r := range m.runtimes {
		if r.Kind().Supports(m.defaultKind) {
			return r
		}
	}
	if len(m.runtimes) > 0 {
		return m.runtimes[0]
	}
	return nil
}

// SelectEngine resolves the engine kind requested by params: an explicit
// engine_type wins over the default, and pre_init_mode turns a bytecode
// request into the source variant of the same engine.
func (m *RuntimeManager) SelectEngine(params Params) EngineKind {
	kind := m.defaultKind
	if v, ok := params.Get(ParamEngineType); ok {
		if k, ok := ParseEngineKind(v); ok {
			kind = k
		}
	}
	if params.Value(ParamPreInitMode) == "true" && kind == EngineQJSBin {
		kind = EngineQJS
	}
	return kind
}

// CreateInstance binds pageID to a runtime. A page already bound keeps its
// binding. It returns nil when no runtime is registered.
func (m *RuntimeManager) CreateInstance(pageID string, params Params) *InstanceEngineData {
	if d, ok := m.pages[pageID]; ok {
		return d
	}
	kind := m.SelectEngine(params)
	rt := m.FindRuntime(kind)
	if rt == nil {
		rt = m.DefaultRuntime()
		if rt == nil {
			return nil
		}
		m.logger.Debug("Engine not available, using default runtime",
			"page", pageID, "requested", kind.String(), "engine", rt.Kind().String())
		kind = rt.Kind()
	}
	d := &InstanceEngineData{
		PageID:           pageID,
		Kind:             kind,
		Engine:           rt,
		ForceMainProcess: params.Value(ParamRunInMainProcess) == "true",
		BackupThread:     params.Value(ParamUseBackThread) == "true",
		PreInitMode:      params.Value(ParamPreInitMode) == "true",
	}
	m.pages[pageID] = d
	return d
}

// Instance returns the binding of pageID.
func (m *RuntimeManager) Instance(pageID string) (*InstanceEngineData, bool) {
	if pageID == "" {
		return nil, false
	}
	d, ok := m.pages[pageID]
	return d, ok
}

// DestroyInstance removes the binding of pageID.
func (m *RuntimeManager) DestroyInstance(pageID string) {
	delete(m.pages, pageID)
}

// RuntimeFor returns the runtime bound to pageID, or the default runtime.
func (m *RuntimeManager) RuntimeFor(pageID string) Engine {
	if d, ok := m.Instance(pageID); ok {
		return d.Engine
	}
	return m.DefaultRuntime()
}

// RouteByPageID returns every runtime for an empty id, the bound runtime for
// a known page and nothing for an unknown page.
func (m *RuntimeManager) RouteByPageID(pageID string) map[EngineKind]Engine {
	out := make(map[EngineKind]Engine)
	if pageID == "" {
		for _, r := range m.runtimes {
			out[r.Kind()] = r
		}
		return out
	}
	if d, ok := m.pages[pageID]; ok {
		out[d.Kind] = d.Engine
	}
	return out
}

// Close closes every runtime and forgets all pages.
func (m *RuntimeManager) Close() error {
	var firstErr error
	for _, r := range m.runtimes {
		if err := r.Close(); err != nil {
			m.logger.Error("Failed to close engine", "engine", r.Kind().String(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	m.runtimes = nil
	m.pages = make(map[string]*InstanceEngineData)
	return firstErr
}
