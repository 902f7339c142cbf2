// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

import (
	"fmt"
	"log/slog"
	"strings"
)

// EngineKind identifies a script engine. Kinds are bit sets: a runtime
// supports a requested kind when the two intersect.
type EngineKind uint32

const (
	EngineGoja   EngineKind = 1 << 0              // goja, wire name JSC
	EngineQJSBin EngineKind = 1 << 1              // quickjs-go, bytecode scripts
	EngineQJS    EngineKind = 1<<2 | EngineQJSBin // quickjs-go, source scripts
)

// String returns the wire name of the kind.
func (k EngineKind) String() string {
	switch k {
	case EngineGoja:
		return "JSC"
	case EngineQJS:
		return "QJS"
	case EngineQJSBin:
		return "QJSBin"
	default:
		return fmt.Sprintf("EngineKind(%d)", uint32(k))
	}
}

// Supports reports whether a runtime of kind k can serve a request for req.
func (k EngineKind) Supports(req EngineKind) bool {
	return k&req != 0
}

// ParseEngineKind maps a wire name to a kind. Matching is case-insensitive
// and accepts "goja" as an alias of "JSC".
func ParseEngineKind(s string) (EngineKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jsc", "goja":
		return EngineGoja, true
	case "qjs":
		return EngineQJS, true
	case "qjsbin":
		return EngineQJSBin, true
	default:
		return 0, false
	}
}

// Param is one key/value pair of init or create-instance parameters.
type Param struct {
	Key   string
	Value string
}

// Params keeps parameters in the order the host sent them.
type Params []Param

// Get returns the value of the last pair named key.
func (p Params) Get(key string) (string, bool) {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i].Key == key {
			return p[i].Value, true
		}
	}
	return "", false
}

// Value returns the value of key or "".
func (p Params) Value(key string) string {
	v, _ := p.Get(key)
	return v
}

// Set replaces the value of key, appending it when absent.
func (p Params) Set(key, value string) Params {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i].Key == key {
			p[i].Value = value
			return p
		}
	}
	return append(p, Param{Key: key, Value: value})
}

// Clone returns an independent copy.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	return append(Params(nil), p...)
}

// InstanceRequest carries everything CREATE_INSTANCE delivers for one page.
type InstanceRequest struct {
	PageID     string
	Function   string
	Script     []byte // source text, or bytecode in QJSBin mode
	Options    string // JSON
	InitData   string // JSON
	ExtendsAPI string
	Params     Params
	// Kind is the engine kind resolved for the page. EngineQJSBin selects
	// the bytecode path.
	Kind EngineKind
}

// Engine is one script runtime. All methods are called from the owner
// MessageLoop only.
type Engine interface {
	Kind() EngineKind

	// InitFramework builds the global context and evaluates the bootstrap.
	InitFramework(source string, params Params) error
	// CreateInstance clones a page context from the global context and runs
	// the page script in it.
	CreateInstance(req *InstanceRequest) error

	ExecJS(pageID, namespace, function string, args []*ValueWithType) error
	ExecJSWithResult(pageID, namespace, function string, args []*ValueWithType) ([]byte, error)
	ExecJSWithCallback(pageID, namespace, function string, args []*ValueWithType, callbackID int64) error
	ExecJSOnInstance(pageID, script string, execType int32) ([]byte, error)
	ExecJSService(source string) error
	ExecTimerCallback(source string) error

	DestroyInstance(pageID string) error
	UpdateGlobalConfig(config string) error
	UpdateInitFrameworkParams(key, value, desc string) error

	// CompileBytecode returns engine bytecode for source, or
	// ErrBytecodeUnsupported.
	CompileBytecode(name, source string) ([]byte, error)

	HasInstance(pageID string) bool
	RunGC()
	Close() error
}

// EngineHost is what a runtime receives from the bridge that owns it.
type EngineHost struct {
	Core   CoreSide
	Loop   *MessageLoop
	Cache  *Cache[[]byte]
	Logger *slog.Logger
}

// EngineFactory creates an engine bound to host. It runs on the loop.
type EngineFactory func(host *EngineHost) (Engine, error)

// EngineOption configures an engine after creation.
type EngineOption func(Engine) error

// ContextState tracks the life of one script context.
type ContextState int32

const (
	StateCreated ContextState = iota
	StateInitialized
	StateActive
	StateDestroyed
)

func (s ContextState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateActive:
		return "active"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Check returns ErrContextDestroyed once the context is gone.
func (s ContextState) Check() error {
	if s == StateDestroyed {
		return ErrContextDestroyed
	}
	return nil
}
