// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

import (
	"strconv"
	"sync"
)

// recordingCore records every host message as "<method> <args...>".
type recordingCore struct {
	NopCoreSide
	mu       sync.Mutex
	calls    []string
	versions []string
	reports  []string
	results  map[int64][]byte
	module   *ValueWithType
}

func newRecordingCore() *recordingCore {
	return &recordingCore{results: make(map[int64][]byte)}
}

func (c *recordingCore) record(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, s)
}

func (c *recordingCore) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *recordingCore) SetJSVersion(v string) {
	c.mu.Lock()
	c.versions = append(c.versions, v)
	c.mu.Unlock()
}

func (c *recordingCore) ReportException(pageID, function, message string) {
	c.mu.Lock()
	c.reports = append(c.reports, pageID+"|"+function+"|"+message)
	c.mu.Unlock()
}

func (c *recordingCore) CallNative(pageID, task, callback string) {
	c.record("callNative " + pageID + " " + task + " " + callback)
}

func (c *recordingCore) CallNativeModule(pageID, module, method string, args, options []byte) *ValueWithType {
	c.record("callNativeModule " + pageID + " " + module + " " + method)
	if c.module != nil {
		return c.module
	}
	return VoidValue()
}

func (c *recordingCore) CallMoveElement(pageID, ref, parentRef string, index int32) {
	c.record("callMoveElement " + pageID + " " + ref + " " + parentRef + " " + strconv.Itoa(int(index)))
}

func (c *recordingCore) NativeLog(message string) {
	c.record("nativeLog " + message)
}

func (c *recordingCore) SetInterval(pageID, callbackID, time string) int32 {
	c.record("setInterval " + pageID + " " + callbackID + " " + time)
	return 7
}

func (c *recordingCore) OnReceivedResult(callbackID int64, result []byte) {
	c.mu.Lock()
	c.results[callbackID] = result
	c.mu.Unlock()
}

func (c *recordingCore) CompileQuickJSBinCallback(key string, bytecode []byte) {
	c.record("compileCallback " + key + " " + string(bytecode))
}

// fakeEngine records calls made to it. Every method asserts it runs on the
// loop it was created for.
type fakeEngine struct {
	kind      EngineKind
	host      *EngineHost
	calls     []string
	instances map[string]*InstanceRequest
	offLoop   bool
	closed    bool
	gcRuns    int
	initErr   error
	result    []byte
}

func fakeFactory(kind EngineKind, created *[]*fakeEngine) EngineFactory {
	return func(host *EngineHost) (Engine, error) {
		e := &fakeEngine{kind: kind, host: host, instances: make(map[string]*InstanceRequest)}
		if created != nil {
			*created = append(*created, e)
		}
		return e, nil
	}
}

func (e *fakeEngine) note(s string) {
	if !e.host.Loop.OnLoop() {
		e.offLoop = true
	}
	e.calls = append(e.calls, s)
}

func (e *fakeEngine) Kind() EngineKind { return e.kind }

func (e *fakeEngine) InitFramework(source string, params Params) error {
	e.note("init " + source)
	if e.initErr != nil {
		return e.initErr
	}
	e.host.Core.SetJSVersion(e.kind.String())
	return nil
}

func (e *fakeEngine) CreateInstance(req *InstanceRequest) error {
	e.note("create " + req.PageID + " " + req.Kind.String())
	e.instances[req.PageID] = req
	return nil
}

func (e *fakeEngine) ExecJS(pageID, namespace, function string, args []*ValueWithType) error {
	e.note("exec " + pageID + " " + function)
	return nil
}

func (e *fakeEngine) ExecJSWithResult(pageID, namespace, function string, args []*ValueWithType) ([]byte, error) {
	e.note("result " + pageID + " " + function)
	return e.result, nil
}

func (e *fakeEngine) ExecJSWithCallback(pageID, namespace, function string, args []*ValueWithType, callbackID int64) error {
	e.note("callback " + pageID + " " + function)
	e.host.Core.OnReceivedResult(callbackID, e.result)
	return nil
}

func (e *fakeEngine) ExecJSOnInstance(pageID, script string, execType int32) ([]byte, error) {
	e.note("instance " + pageID + " " + script)
	return e.result, nil
}

func (e *fakeEngine) ExecJSService(source string) error {
	e.note("service " + source)
	return nil
}

func (e *fakeEngine) ExecTimerCallback(source string) error {
	e.note("timer " + source)
	return nil
}

func (e *fakeEngine) DestroyInstance(pageID string) error {
	e.note("destroy " + pageID)
	delete(e.instances, pageID)
	return nil
}

func (e *fakeEngine) UpdateGlobalConfig(config string) error {
	e.note("config " + config)
	return nil
}

func (e *fakeEngine) UpdateInitFrameworkParams(key, value, desc string) error {
	e.note("param " + key + "=" + value)
	return nil
}

func (e *fakeEngine) CompileBytecode(name, source string) ([]byte, error) {
	e.note("compile " + name)
	if !e.kind.Supports(EngineQJSBin) {
		return nil, ErrBytecodeUnsupported
	}
	return []byte("bc:" + source), nil
}

func (e *fakeEngine) HasInstance(pageID string) bool {
	_, ok := e.instances[pageID]
	return ok
}

func (e *fakeEngine) RunGC() { e.gcRuns++ }

func (e *fakeEngine) Close() error {
	e.closed = true
	return nil
}
