// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package enginetest holds the behaviour every jsbridge engine shares,
// written as a test suite that engine packages run against their factory.
package enginetest

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	jsbridge "github.com/buke/js-bridge"
)

// Report is one REPORT_EXCEPTION received by a Core.
type Report struct {
	PageID   string
	Function string
	Message  string
}

// Core is a jsbridge.CoreSide that records what scripts send to the host.
// Calls are recorded as "<method> <args...>".
type Core struct {
	jsbridge.NopCoreSide

	mu       sync.Mutex
	calls    []string
	versions []string
	reports  []Report
	results  map[int64][]byte
	compiled map[string][]byte

	// Module answers callNativeModule when set.
	Module *jsbridge.ValueWithType
}

// NewCore returns an empty recorder.
func NewCore() *Core {
	return &Core{
		results:  make(map[int64][]byte),
		compiled: make(map[string][]byte),
	}
}

func (c *Core) record(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded calls in order.
func (c *Core) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// Called reports whether a call equal to call was recorded.
func (c *Core) Called(call string) bool {
	for _, s := range c.Calls() {
		if s == call {
			return true
		}
	}
	return false
}

// Count returns how many recorded calls start with prefix.
func (c *Core) Count(prefix string) int {
	n := 0
	for _, s := range c.Calls() {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
}

func (c *Core) Versions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.versions...)
}

func (c *Core) Reports() []Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Report(nil), c.reports...)
}

// Result returns what OnReceivedResult delivered for callbackID.
func (c *Core) Result(callbackID int64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.results[callbackID]
	return b, ok
}

// Compiled returns the bytecode COMPILE_QUICKJS_BIN_CALLBACK delivered for
// key.
func (c *Core) Compiled(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.compiled[key]
	return b, ok
}

func (c *Core) SetJSVersion(version string) {
	c.mu.Lock()
	c.versions = append(c.versions, version)
	c.mu.Unlock()
}

func (c *Core) ReportException(pageID, function, message string) {
	c.mu.Lock()
	c.reports = append(c.reports, Report{PageID: pageID, Function: function, Message: message})
	c.mu.Unlock()
}

func (c *Core) CallNative(pageID, task, callback string) {
	c.record("callNative %s %s %s", pageID, task, callback)
}

func (c *Core) CallNativeModule(pageID, module, method string, args, options []byte) *jsbridge.ValueWithType {
	c.record("callNativeModule %s %s %s", pageID, module, method)
	if c.Module != nil {
		return c.Module
	}
	return jsbridge.VoidValue()
}

func (c *Core) CallCreateBody(pageID string, dom []byte) {
	c.record("callCreateBody %s %d", pageID, len(dom))
}

func (c *Core) CallCreateFinish(pageID string) {
	c.record("callCreateFinish %s", pageID)
}

func (c *Core) SetInterval(pageID, callbackID, time string) int32 {
	c.record("setInterval %s %s %s", pageID, callbackID, time)
	return 1
}

func (c *Core) NativeLog(message string) {
	c.record("nativeLog %s", message)
}

func (c *Core) OnReceivedResult(callbackID int64, result []byte) {
	c.mu.Lock()
	c.results[callbackID] = result
	c.mu.Unlock()
}

func (c *Core) CompileQuickJSBinCallback(key string, bytecode []byte) {
	c.mu.Lock()
	c.compiled[key] = bytecode
	c.mu.Unlock()
}

// LogBuffer collects log output written from the loop goroutine.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Logger returns a debug-level text logger writing to b.
func (b *LogBuffer) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(b, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
