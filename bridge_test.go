// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T, kinds ...EngineKind) (*Bridge, *recordingCore, *[]*fakeEngine) {
	t.Helper()
	core := newRecordingCore()
	created := new([]*fakeEngine)
	opts := make([]Option, 0, len(kinds))
	for _, k := range kinds {
		opts = append(opts, WithEngine(fakeFactory(k, created)))
	}
	b := NewBridge(core, opts...)
	t.Cleanup(func() { _ = b.Close() })
	return b, core, created
}

func engineOf(t *testing.T, created []*fakeEngine, kind EngineKind) *fakeEngine {
	t.Helper()
	for _, e := range created {
		if e.kind == kind {
			return e
		}
	}
	t.Fatalf("no %s engine", kind)
	return nil
}

// snapshot copies engine state on the loop.
func snapshot(t *testing.T, b *Bridge, e *fakeEngine) []string {
	t.Helper()
	var calls []string
	require.NoError(t, b.Loop().Run(func() error {
		calls = append(calls, e.calls...)
		return nil
	}))
	return calls
}

func TestBridge_NoRuntime(t *testing.T) {
	b, _, _ := newTestBridge(t)
	require.ErrorIs(t, b.InitFramework("boot", nil), ErrNoRuntime)
	require.ErrorIs(t, b.CreateInstance(&InstanceRequest{PageID: "1"}), ErrNoRuntime)
	require.ErrorIs(t, b.ExecJS("1", "", "callJS", nil), ErrNoRuntime)
}

func TestBridge_InitBroadcasts(t *testing.T) {
	b, core, created := newTestBridge(t, EngineGoja, EngineQJS)
	require.NoError(t, b.InitFramework("boot", Params{{"env", "test"}}))
	require.Len(t, *created, 2)
	require.ElementsMatch(t, []string{"JSC", "QJS"}, core.versions)

	require.NoError(t, b.InitFramework("again", nil))
	require.Len(t, *created, 2, "engines are created once")

	require.NoError(t, b.ExecJSService("svc"))
	require.NoError(t, b.ExecTimerCallback("tick"))
	require.NoError(t, b.UpdateGlobalConfig("cfg"))
	require.NoError(t, b.UpdateInitFrameworkParams("k", "v", "d"))

	for _, e := range *created {
		require.Equal(t, []string{
			"init boot", "init again", "service svc", "timer tick", "config cfg", "param k=v",
		}, snapshot(t, b, e))
		require.False(t, e.offLoop)
	}
}

func TestBridge_InitErrorsAreJoined(t *testing.T) {
	b, _, created := newTestBridge(t, EngineGoja, EngineQJS)
	boom := errors.New("boom")
	require.NoError(t, b.InitFramework("boot", nil))
	require.NoError(t, b.Loop().Run(func() error {
		engineOf(t, *created, EngineQJS).initErr = boom
		return nil
	}))
	require.ErrorIs(t, b.InitFramework("boot", nil), boom)
}

func TestBridge_CreateInstanceRoutesAndHeartBeats(t *testing.T) {
	b, core, created := newTestBridge(t, EngineGoja, EngineQJS)
	require.NoError(t, b.InitFramework("boot", nil))

	require.NoError(t, b.CreateInstance(&InstanceRequest{
		PageID: "1",
		Params: Params{{ParamEngineType, "QJSBin"}},
	}))
	require.NoError(t, b.CreateInstance(&InstanceRequest{
		PageID: "2",
		Params: Params{{ParamEngineType, "QJSBin"}, {ParamPreInitMode, "true"}},
	}))
	require.NoError(t, b.CreateInstance(&InstanceRequest{PageID: "3"}))

	qjs := engineOf(t, *created, EngineQJS)
	goja := engineOf(t, *created, EngineGoja)
	require.Contains(t, snapshot(t, b, qjs), "create 1 QJSBin")
	require.Contains(t, snapshot(t, b, qjs), "create 2 QJS")
	require.Contains(t, snapshot(t, b, goja), "create 3 JSC")

	require.Equal(t, []string{
		"callNative 1 HeartBeat HeartBeat",
		"callNative 2 HeartBeat HeartBeat",
		"callNative 3 HeartBeat HeartBeat",
	}, core.Calls())

	require.True(t, b.HasInstance("1"))
	require.NoError(t, b.ExecJS("1", "", "callJS", nil))
	require.NoError(t, b.ExecJS("unknown", "", "callJS", nil))
	require.Contains(t, snapshot(t, b, qjs), "exec 1 callJS")
	require.Contains(t, snapshot(t, b, goja), "exec unknown callJS", "unknown pages use the default runtime")
}

func TestBridge_DestroyInstanceIsIdempotent(t *testing.T) {
	b, _, created := newTestBridge(t, EngineGoja, EngineQJS)
	require.NoError(t, b.InitFramework("boot", nil))
	require.NoError(t, b.CreateInstance(&InstanceRequest{PageID: "1", Params: Params{{ParamEngineType, "QJS"}}}))

	require.NoError(t, b.DestroyInstance("1"))
	require.NoError(t, b.DestroyInstance("1"))
	require.False(t, b.HasInstance("1"))

	var destroys int
	for _, e := range *created {
		for _, c := range snapshot(t, b, e) {
			if c == "destroy 1" {
				destroys++
			}
		}
	}
	require.Equal(t, 1, destroys)
}

func TestBridge_ExecJSWithCallback(t *testing.T) {
	b, core, created := newTestBridge(t, EngineGoja)
	require.NoError(t, b.InitFramework("boot", nil))
	require.NoError(t, b.Loop().Run(func() error {
		(*created)[0].result = []byte{'t'}
		return nil
	}))

	require.NoError(t, b.ExecJSWithCallback("", "", "fn", nil, 42))
	require.Equal(t, []byte{'t'}, core.results[42])

	out, err := b.ExecJSWithResult("", "", "fn", nil)
	require.NoError(t, err)
	require.Equal(t, []byte{'t'}, out)

	out, err = b.ExecJSOnInstance("", "1+1", 0)
	require.NoError(t, err)
	require.Equal(t, []byte{'t'}, out)
}

func TestBridge_CompileQuickJSBin(t *testing.T) {
	b, core, created := newTestBridge(t, EngineGoja, EngineQJS)
	require.NoError(t, b.InitFramework("boot", nil))

	require.NoError(t, b.CompileQuickJSBin("k1", "src"))
	require.NoError(t, b.CompileQuickJSBin("k1", "other"))
	require.Equal(t, []string{"compileCallback k1 bc:src", "compileCallback k1 bc:src"}, core.Calls())

	compiles := 0
	for _, c := range snapshot(t, b, engineOf(t, *created, EngineQJS)) {
		if c == "compile k1" {
			compiles++
		}
	}
	require.Equal(t, 1, compiles, "second request is a cache hit")

	require.NoError(t, b.CompileQuickJSBin("", "anon"))
	v, ok := b.Cache().Get(BytecodeKey([]byte("anon")))
	require.True(t, ok)
	require.Equal(t, []byte("bc:anon"), v)
}

func TestBridge_CompileWithoutBytecodeRuntime(t *testing.T) {
	b, core, _ := newTestBridge(t, EngineGoja)
	require.NoError(t, b.InitFramework("boot", nil))
	require.ErrorIs(t, b.CompileQuickJSBin("k", "src"), ErrBytecodeUnsupported)
	require.Empty(t, core.Calls())
}

func TestBridge_SetLogLevel(t *testing.T) {
	b, _, _ := newTestBridge(t, EngineGoja)
	tests := []struct {
		in   int32
		want slog.Level
	}{
		{0, slog.LevelDebug},
		{2, slog.LevelDebug},
		{3, slog.LevelInfo},
		{4, slog.LevelWarn},
		{5, slog.LevelError},
		{6, slog.LevelError + 4},
	}
	for _, tt := range tests {
		b.SetLogLevel(tt.in, false)
		require.Equal(t, tt.want, b.Level().Level(), "level %d", tt.in)
	}
}

func TestBridge_AppContextStubs(t *testing.T) {
	b, _, _ := newTestBridge(t, EngineGoja)
	require.NoError(t, b.InitAppFramework("a", "src", nil))
	require.NoError(t, b.CreateAppContext("a", "src"))
	out, err := b.ExecJSOnAppWithResult("a", "src")
	require.NoError(t, err)
	require.Nil(t, out)
	require.NoError(t, b.CallJSOnAppContext("a", "fn", nil))
	require.NoError(t, b.DestroyAppContext("a"))
}

func TestBridge_CloseClosesEngines(t *testing.T) {
	core := newRecordingCore()
	var created []*fakeEngine
	b := NewBridge(core, WithEngine(fakeFactory(EngineGoja, &created)))
	require.NoError(t, b.InitFramework("boot", nil))
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	require.True(t, created[0].closed)

	select {
	case <-b.Loop().Done():
	default:
		t.Fatal("owned loop still running")
	}
	require.ErrorIs(t, b.ExecJS("", "", "fn", nil), ErrLoopStopped)
}

func TestBridge_SharedLoopIsNotStopped(t *testing.T) {
	loop := NewMessageLoop(WithLoopName("shared"))
	defer loop.Stop()
	b := NewBridge(nil, WithLoop(loop), WithEngine(fakeFactory(EngineGoja, nil)))
	require.NoError(t, b.InitFramework("boot", nil))
	require.NoError(t, b.Close())
	require.NoError(t, loop.Run(func() error { return nil }))
}
