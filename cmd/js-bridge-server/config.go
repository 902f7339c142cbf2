// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	jsbridge "github.com/buke/js-bridge"
	"github.com/buke/js-bridge/ipc"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/spf13/cobra"
)

// config holds the command line of the script process.
type config struct {
	fd            int
	ringSize      int
	defaultEngine string
	logLevel      string
	callTimeout   time.Duration

	// goja
	syntaxTarget string
	maxCallStack int

	// quickjs
	memoryLimit  uint64
	execTimeout  uint64
	maxStackSize uint64
}

func (c *config) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&c.fd, "fd", -1, "shared memory file descriptor inherited from the host; -1 creates a new region")
	f.IntVar(&c.ringSize, "ring-size", ipc.DefaultRingSize, "ring size in bytes when creating a region")
	f.StringVar(&c.defaultEngine, "default-engine", "goja", "engine for pages that request none (goja, qjs)")
	f.StringVar(&c.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	f.DurationVar(&c.callTimeout, "call-timeout", ipc.DefaultCallTimeout, "timeout of synchronous calls to the host")
	f.StringVar(&c.syntaxTarget, "syntax-target", "", "lower goja scripts to this syntax (es5, es2015, ... es2022)")
	f.IntVar(&c.maxCallStack, "goja-max-call-stack", 0, "goja call stack limit in frames (0 = unlimited)")
	f.Uint64Var(&c.memoryLimit, "qjs-memory-limit", 0, "quickjs memory limit in bytes (0 = no limit)")
	f.Uint64Var(&c.execTimeout, "qjs-timeout", 0, "quickjs script timeout in seconds (0 = no timeout)")
	f.Uint64Var(&c.maxStackSize, "qjs-max-stack-size", 0, "quickjs stack size in bytes (0 = default)")
}

func (c *config) level() (*slog.LevelVar, error) {
	level := new(slog.LevelVar)
	if err := level.UnmarshalText([]byte(c.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.logLevel, err)
	}
	return level, nil
}

func (c *config) engineKind() (jsbridge.EngineKind, error) {
	kind, ok := jsbridge.ParseEngineKind(c.defaultEngine)
	if !ok {
		return 0, fmt.Errorf("unknown engine %q", c.defaultEngine)
	}
	if kind == jsbridge.EngineQJSBin {
		// Bytecode pages need bytecode; plain pages run from source.
		kind = jsbridge.EngineQJS
	}
	return kind, nil
}

var syntaxTargets = map[string]api.Target{
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
}

func (c *config) target() (api.Target, bool, error) {
	if c.syntaxTarget == "" {
		return api.DefaultTarget, false, nil
	}
	t, ok := syntaxTargets[strings.ToLower(c.syntaxTarget)]
	if !ok {
		return api.DefaultTarget, false, fmt.Errorf("unknown syntax target %q", c.syntaxTarget)
	}
	return t, true, nil
}
