// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package multiprocess

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	jsbridge "github.com/buke/js-bridge"
	gojaengine "github.com/buke/js-bridge/engines/goja"
	quickjsengine "github.com/buke/js-bridge/engines/quickjs-go"
	"github.com/buke/js-bridge/internal/enginetest"
	"github.com/buke/js-bridge/ipc"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type faults struct {
	mu   sync.Mutex
	errs []error
}

func (f *faults) handle(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func (f *faults) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}

// env connects a HostClient to a ScriptServer in the same process.
type env struct {
	host   *HostClient
	hostCh *ipc.Channel
	bridge *jsbridge.Bridge
	faults *faults
	logs   *enginetest.LogBuffer
	ctx    context.Context
}

type envConfig struct {
	core        jsbridge.CoreSide
	callTimeout time.Duration
}

func newEnv(t *testing.T, core jsbridge.CoreSide, opts ...func(*envConfig)) *env {
	t.Helper()
	cfg := &envConfig{core: core, callTimeout: time.Second}
	for _, opt := range opts {
		opt(cfg)
	}

	region, err := ipc.CreateRegion("e2e", 256*1024)
	require.NoError(t, err)

	e := &env{faults: &faults{}, logs: &enginetest.LogBuffer{}, ctx: context.Background()}
	logger := e.logs.Logger()
	e.hostCh = ipc.NewChannel(region, ipc.SideHost, ipc.WithFaultHandler(e.faults.handle), ipc.WithLogger(logger))
	scriptCh := ipc.NewChannel(region, ipc.SideScript, ipc.WithFaultHandler(e.faults.handle), ipc.WithLogger(logger))

	e.bridge = jsbridge.NewBridge(
		NewIPCCoreSide(scriptCh, WithLogger(logger), WithCallTimeout(cfg.callTimeout)),
		jsbridge.WithLogger(logger),
		jsbridge.WithEngine(gojaengine.NewFactory()),
		jsbridge.WithEngine(quickjsengine.NewFactory()),
		jsbridge.WithDefaultEngine(jsbridge.EngineGoja),
	)
	server := NewScriptServer(e.bridge, scriptCh, WithLogger(logger))
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()

	e.host = NewHostClient(e.hostCh, cfg.core, WithLogger(logger))
	e.host.Start()

	t.Cleanup(func() {
		_ = e.host.Close()
		cancel()
		<-served
		_ = e.bridge.Close()
		_ = region.Close()
	})
	return e
}

func (e *env) init(t *testing.T) {
	t.Helper()
	require.NoError(t, e.host.InitFramework(e.ctx, enginetest.Framework, nil))
}

func (e *env) eval(t *testing.T, pageID, script string) string {
	t.Helper()
	b, err := e.host.ExecJSOnInstance(e.ctx, pageID, script, 0)
	require.NoError(t, err)
	return enginetest.JSON(t, b)
}

func (e *env) createPage(t *testing.T, id string, params jsbridge.Params) {
	t.Helper()
	require.NoError(t, e.host.CreateInstance(&jsbridge.InstanceRequest{
		PageID:   id,
		Function: "createInstance",
		Script:   []byte(enginetest.Page),
		Options:  `{"bundleUrl":"http://example.com/page.js"}`,
		InitData: `{"count":5}`,
		Params:   params,
	}))
}

func TestE2E_InitFramework(t *testing.T) {
	core := enginetest.NewCore()
	e := newEnv(t, core)
	e.init(t)

	// Both engines report their framework version.
	require.Eventually(t, func() bool { return len(core.Versions()) == 2 }, waitFor, 10*time.Millisecond)
	require.Equal(t, []string{"0.30.0-test", "0.30.0-test"}, core.Versions())
}

func TestE2E_InitFrameworkSyntaxError(t *testing.T) {
	core := enginetest.NewCore()
	e := newEnv(t, core)
	err := e.host.InitFramework(e.ctx, "function (", nil)
	require.ErrorIs(t, err, ErrRejected)
	require.Eventually(t, func() bool { return len(core.Reports()) > 0 }, waitFor, 10*time.Millisecond)
	require.Equal(t, "initFramework", core.Reports()[0].Function)
}

func TestE2E_ExecJSWithResult(t *testing.T) {
	e := newEnv(t, enginetest.NewCore())
	e.init(t)

	tests := []struct {
		name     string
		function string
		args     []*jsbridge.ValueWithType
		want     string
	}{
		{"int32", "add", []*jsbridge.ValueWithType{jsbridge.Int32Value(2), jsbridge.Int32Value(3)}, "5"},
		{"int64 and double", "add", []*jsbridge.ValueWithType{jsbridge.Int64Value(40), jsbridge.DoubleValue(2.5)}, "42.5"},
		{"string", "echo", []*jsbridge.ValueWithType{jsbridge.StringValue("hello")}, `"hello"`},
		{"json", "echo", []*jsbridge.ValueWithType{jsbridge.JSONValue(`{"a":[1,"x"]}`)}, `{"a":[1,"x"]}`},
		{"void", "echo", []*jsbridge.ValueWithType{jsbridge.VoidValue()}, "null"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := e.host.ExecJSWithResult(e.ctx, "", "", tt.function, tt.args)
			require.NoError(t, err)
			require.Equal(t, tt.want, enginetest.JSON(t, b))
		})
	}
}

// A page is created, renders through callNative and answers evaluation.
func TestE2E_PageLifecycle(t *testing.T) {
	core := enginetest.NewCore()
	e := newEnv(t, core)
	e.init(t)

	e.createPage(t, "1", nil)
	require.Equal(t, `"sent:render"`, e.eval(t, "1", "sent"))
	require.Eventually(t, func() bool {
		return core.Called("callNative 1 render -1") && core.Called("callNative 1 HeartBeat HeartBeat")
	}, waitFor, 10*time.Millisecond)
	require.True(t, e.bridge.HasInstance("1"))

	require.NoError(t, e.host.DestroyInstance(e.ctx, "1"))
	require.False(t, e.bridge.HasInstance("1"))

	// Destroying an unknown page is a no-op.
	require.NoError(t, e.host.DestroyInstance(e.ctx, "1"))
}

func TestE2E_EngineSelection(t *testing.T) {
	e := newEnv(t, enginetest.NewCore())
	e.init(t)

	e.createPage(t, "goja", nil)
	e.createPage(t, "qjs", jsbridge.Params{{Key: jsbridge.ParamEngineType, Value: "QJS"}})
	require.Equal(t, `"sent:render"`, e.eval(t, "qjs", "sent"))

	kind := func(pageID string) jsbridge.EngineKind {
		var k jsbridge.EngineKind
		require.NoError(t, e.bridge.Loop().Run(func() error {
			if data, ok := e.bridge.Manager().Instance(pageID); ok {
				k = data.Kind
			}
			return nil
		}))
		return k
	}
	require.Equal(t, jsbridge.EngineGoja, kind("goja"))
	require.Equal(t, jsbridge.EngineQJS, kind("qjs"))
}

func TestE2E_ExceptionReported(t *testing.T) {
	core := enginetest.NewCore()
	e := newEnv(t, core)
	e.init(t)

	require.NoError(t, e.host.ExecJS("", "", "boom", nil))
	require.Eventually(t, func() bool { return len(core.Reports()) == 1 }, waitFor, 10*time.Millisecond)
	report := core.Reports()[0]
	require.Equal(t, "boom", report.Function)
	require.Contains(t, report.Message, "RangeError: too far")

	// The context stays usable.
	require.Equal(t, "2", e.eval(t, "", "add(1, 1)"))
}

func TestE2E_ExecJSWithCallback(t *testing.T) {
	core := enginetest.NewCore()
	e := newEnv(t, core)
	e.init(t)

	require.NoError(t, e.host.ExecJSWithCallback("", "", "add", 9,
		[]*jsbridge.ValueWithType{jsbridge.Int32Value(1), jsbridge.Int32Value(2)}))
	var b []byte
	require.Eventually(t, func() bool {
		var ok bool
		b, ok = core.Result(9)
		return ok
	}, waitFor, 10*time.Millisecond)
	require.Equal(t, "3", enginetest.JSON(t, b))
}

func TestE2E_CallNativeModuleReply(t *testing.T) {
	core := enginetest.NewCore()
	core.Module = jsbridge.JSONValue(`{"ok":true,"n":3}`)
	e := newEnv(t, core)
	e.init(t)

	require.Equal(t, "3", e.eval(t, "", `callNativeModule("1", "modal", "toast", [], {}).n`))
	require.Eventually(t, func() bool { return core.Called("callNativeModule 1 modal toast") }, waitFor, 10*time.Millisecond)
}

type slowCore struct {
	*enginetest.Core
	delay time.Duration
}

func (c *slowCore) CallNativeModule(pageID, module, method string, args, options []byte) *jsbridge.ValueWithType {
	time.Sleep(c.delay)
	return jsbridge.StringValue("late")
}

func (c *slowCore) CallUpdateFinish(pageID string, task, callback []byte) int32 {
	time.Sleep(c.delay)
	return 1
}

// A host that does not answer in time yields empty results.
func TestE2E_CallTimeoutDegrades(t *testing.T) {
	core := &slowCore{Core: enginetest.NewCore(), delay: 300 * time.Millisecond}
	e := newEnv(t, core, func(c *envConfig) { c.callTimeout = 50 * time.Millisecond })
	e.init(t)

	require.Equal(t, `"undefined"`, e.eval(t, "", `typeof callNativeModule("1", "m", "f", [], {})`))
	require.Equal(t, "0", e.eval(t, "", `callUpdateFinish("1", [], "")`))
	require.Eventually(t, func() bool {
		return strings.Contains(e.logs.String(), "Host call failed")
	}, waitFor, 10*time.Millisecond)
}

func TestE2E_CompileQuickJSBin(t *testing.T) {
	core := enginetest.NewCore()
	e := newEnv(t, core)
	e.init(t)

	require.NoError(t, e.host.CompileQuickJSBin("sum", "40 + 2"))
	var bytecode []byte
	require.Eventually(t, func() bool {
		var ok bool
		bytecode, ok = core.Compiled("sum")
		return ok
	}, waitFor, 10*time.Millisecond)
	require.NotEmpty(t, bytecode)

	// Bytecode crosses the channel as raw bytes.
	e.createPage(t, "q", jsbridge.Params{{Key: jsbridge.ParamEngineType, Value: "QJS"}})
	b, err := e.host.ExecJSOnInstance(e.ctx, "q", string(bytecode), int32(jsbridge.EngineQJSBin))
	require.NoError(t, err)
	require.Equal(t, "42", enginetest.JSON(t, b))
}

func TestE2E_GlobalConfigAndParams(t *testing.T) {
	e := newEnv(t, enginetest.NewCore())
	e.init(t)

	require.NoError(t, e.host.UpdateGlobalConfig("dark=1"))
	require.Equal(t, `"dark=1"`, e.eval(t, "", "lastConfig"))

	require.NoError(t, e.host.UpdateInitFrameworkParams("appVersion", "2.0", "app version"))
	require.Equal(t, `"2.0"`, e.eval(t, "", "WXEnvironment.appVersion"))
}

func TestE2E_ServiceAndTimerCallback(t *testing.T) {
	e := newEnv(t, enginetest.NewCore())
	e.init(t)

	require.NoError(t, e.host.ExecJSService("var serviceRan = true;"))
	require.NoError(t, e.host.ExecTimerCallback("var timerRan = 1;"))
	require.Equal(t, "true", e.eval(t, "", "serviceRan"))
	require.Equal(t, "1", e.eval(t, "", "timerRan"))
}

func TestE2E_SetLogLevel(t *testing.T) {
	e := newEnv(t, enginetest.NewCore())
	require.NoError(t, e.host.SetLogLevel(5, false))
	require.Eventually(t, func() bool { return e.bridge.Level().Level() == slog.LevelError }, waitFor, 10*time.Millisecond)
}

func TestE2E_AppContextStubs(t *testing.T) {
	e := newEnv(t, enginetest.NewCore())
	e.init(t)

	require.NoError(t, e.host.InitAppFramework(e.ctx, "app", "var x;", jsbridge.Params{{Key: "k", Value: "v"}}))
	require.NoError(t, e.host.CreateAppContext(e.ctx, "app", "var y;"))
	b, err := e.host.ExecJSOnAppWithResult(e.ctx, "app", "1")
	require.NoError(t, err)
	require.Empty(t, b)
	require.NoError(t, e.host.CallJSOnAppContext(e.ctx, "app", "f", []*jsbridge.ValueWithType{jsbridge.Int32Value(1)}))
	require.NoError(t, e.host.DestroyAppContext(e.ctx, "app"))
}

// A request missing its segments is a protocol fault; the caller still
// gets an empty reply.
func TestE2E_ProtocolFault(t *testing.T) {
	e := newEnv(t, enginetest.NewCore())
	e.init(t)

	res, err := e.hostCh.Call(e.ctx, ipc.NewSerializer(uint32(ipc.ExecJSOnInstance)).AddString("1"))
	require.NoError(t, err)
	require.Zero(t, res.Count())
	require.Equal(t, 1, e.faults.count())
}

func TestIPCCoreSide_NilChannel(t *testing.T) {
	for _, core := range []*IPCCoreSide{NewIPCCoreSide(nil), nil} {
		core.NativeLog("dropped")
		require.True(t, core.CallNativeModule("1", "m", "f", nil, nil).IsVoid())
		require.Zero(t, core.CallUpdateFinish("1", nil, nil))
		require.Zero(t, core.CallRefreshFinish("1", "", ""))
		require.Zero(t, core.SetInterval("1", "2", "100"))
		require.Nil(t, core.DispatchMessageSync("c", []byte("x"), "vm"))
	}
}
