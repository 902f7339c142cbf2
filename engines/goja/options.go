// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"fmt"

	jsbridge "github.com/buke/js-bridge"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"github.com/evanw/esbuild/pkg/api"
)

// EngineOption holds configuration shared by every context of a Goja
// engine.
type EngineOption struct {
	MaxCallStackSize int
	EnableRequire    bool
	FieldNameMapper  goja.FieldNameMapper
	// SyntaxTarget, when set, lowers scripts to the given ECMAScript
	// version with esbuild before compiling them.
	SyntaxTarget api.Target
}

func asEngine(engine jsbridge.Engine) (*Engine, error) {
	e, ok := engine.(*Engine)
	if !ok {
		return nil, fmt.Errorf("gojaengine: option applied to %T", engine)
	}
	return e, nil
}

// WithMaxCallStackSize sets the maximum call stack size of every context.
// A value of 0 or less means no limit.
func WithMaxCallStackSize(size int) jsbridge.EngineOption {
	return func(engine jsbridge.Engine) error {
		e, err := asEngine(engine)
		if err != nil {
			return err
		}
		e.Option.MaxCallStackSize = size
		e.forEachRuntime(e.configure)
		return nil
	}
}

// WithRequire keeps the require() function in script contexts. Modules are
// read with loader, or from the file system when loader is nil.
func WithRequire(loader require.SourceLoader) jsbridge.EngineOption {
	return func(engine jsbridge.Engine) error {
		e, err := asEngine(engine)
		if err != nil {
			return err
		}
		e.Option.EnableRequire = true
		if loader != nil {
			e.registry = require.NewRegistry(require.WithLoader(loader))
		}
		return nil
	}
}

// WithFieldNameMapper sets the field name mapper for Go-to-JS struct
// conversions.
func WithFieldNameMapper(mapper goja.FieldNameMapper) jsbridge.EngineOption {
	return func(engine jsbridge.Engine) error {
		e, err := asEngine(engine)
		if err != nil {
			return err
		}
		if mapper != nil {
			e.Option.FieldNameMapper = mapper
			e.forEachRuntime(e.configure)
		}
		return nil
	}
}

// WithSyntaxTarget lowers every script to target before compiling it, so
// bundles written for newer engines run on goja.
func WithSyntaxTarget(target api.Target) jsbridge.EngineOption {
	return func(engine jsbridge.Engine) error {
		e, err := asEngine(engine)
		if err != nil {
			return err
		}
		e.Option.SyntaxTarget = target
		return nil
	}
}
