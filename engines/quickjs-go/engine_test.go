// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"errors"
	"fmt"
	"math"
	"testing"

	jsbridge "github.com/buke/js-bridge"
	"github.com/buke/js-bridge/internal/enginetest"
	"github.com/buke/js-bridge/wson"
	"github.com/stretchr/testify/require"
)

// testEngine runs an engine on its own loop. quickjs must stay on the
// thread that created it, so every call goes through do.
type testEngine struct {
	*Engine
	core *enginetest.Core
	loop *jsbridge.MessageLoop
}

func newTestEngine(t *testing.T, opts ...jsbridge.EngineOption) *testEngine {
	t.Helper()
	loop := jsbridge.NewMessageLoop()
	t.Cleanup(loop.Stop)
	te := &testEngine{core: enginetest.NewCore(), loop: loop}
	require.NoError(t, loop.Run(func() error {
		engine, err := NewFactory(opts...)(&jsbridge.EngineHost{Core: te.core, Loop: loop})
		if err != nil {
			return err
		}
		te.Engine = engine.(*Engine)
		return nil
	}))
	t.Cleanup(func() { _ = loop.Run(te.Engine.Close) })
	return te
}

// do runs fn on the engine loop.
func (te *testEngine) do(fn func(e *Engine) error) error {
	return te.loop.Run(func() error { return fn(te.Engine) })
}

func (te *testEngine) init(t *testing.T, source string) {
	t.Helper()
	require.NoError(t, te.do(func(e *Engine) error { return e.InitFramework(source, nil) }))
}

func (te *testEngine) eval(t *testing.T, pageID, script string, execType jsbridge.EngineKind) string {
	t.Helper()
	var b []byte
	require.NoError(t, te.do(func(e *Engine) (err error) {
		b, err = e.ExecJSOnInstance(pageID, script, int32(execType))
		return err
	}))
	return enginetest.JSON(t, b)
}

func TestNewFactory(t *testing.T) {
	te := newTestEngine(t)
	require.Equal(t, jsbridge.EngineQJS, te.Kind())
	require.True(t, te.Kind().Supports(jsbridge.EngineQJSBin))
	require.Equal(t, int64(-1), te.Option.GCThreshold)
	require.Equal(t, 1, te.Option.Strip)
	require.NotNil(t, te.Runtime)
}

func TestNewFactory_RequiresLoop(t *testing.T) {
	_, err := NewFactory()(&jsbridge.EngineHost{})
	require.Error(t, err)
}

func TestNewFactory_OptionError(t *testing.T) {
	errorOption := func(engine jsbridge.Engine) error {
		return fmt.Errorf("a deliberate config error")
	}
	loop := jsbridge.NewMessageLoop()
	defer loop.Stop()
	err := loop.Run(func() error {
		_, err := NewFactory(errorOption)(&jsbridge.EngineHost{Loop: loop})
		return err
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "a deliberate config error")
}

func TestEngine_NotInitialized(t *testing.T) {
	te := newTestEngine(t)
	err := te.do(func(e *Engine) error { return e.ExecJS("", "", "f", nil) })
	require.ErrorIs(t, err, jsbridge.ErrNotInitialized)
	err = te.do(func(e *Engine) error { return e.CreateInstance(&jsbridge.InstanceRequest{PageID: "1"}) })
	require.ErrorIs(t, err, jsbridge.ErrNotInitialized)
	err = te.do(func(e *Engine) error { return e.ExecJSService("1") })
	require.ErrorIs(t, err, jsbridge.ErrNotInitialized)
}

func TestEngine_Closed(t *testing.T) {
	te := newTestEngine(t)
	te.init(t, "var a = 1;")
	require.NoError(t, te.do(func(e *Engine) error { return e.Close() }))
	require.NoError(t, te.do(func(e *Engine) error { return e.Close() }))

	err := te.do(func(e *Engine) error { return e.ExecJS("", "", "f", nil) })
	require.ErrorIs(t, err, jsbridge.ErrEngineClosed)
	err = te.do(func(e *Engine) error { return e.InitFramework("", nil) })
	require.ErrorIs(t, err, jsbridge.ErrEngineClosed)
	err = te.do(func(e *Engine) error {
		_, err := e.CompileBytecode("a.js", "1")
		return err
	})
	require.ErrorIs(t, err, jsbridge.ErrEngineClosed)
	require.ErrorIs(t, te.do(func(e *Engine) error { return e.DestroyInstance("1") }), jsbridge.ErrEngineClosed)
}

func TestEngine_DefaultVersion(t *testing.T) {
	te := newTestEngine(t)
	te.init(t, "var a = 1;")
	require.Equal(t, []string{Name}, te.core.Versions())
}

func TestEngine_CompileBytecode(t *testing.T) {
	te := newTestEngine(t)
	te.init(t, "function add(a, b) { return a + b; }")

	var bytecode []byte
	require.NoError(t, te.do(func(e *Engine) (err error) {
		bytecode, err = e.CompileBytecode("sum.js", "add(40, 2)")
		return err
	}))
	require.NotEmpty(t, bytecode)
	require.Equal(t, "42", te.eval(t, "", string(bytecode), jsbridge.EngineQJSBin))
}

func TestEngine_CompileBytecode_SyntaxError(t *testing.T) {
	te := newTestEngine(t)
	te.init(t, "")
	for _, source := range []string{"function (", "var = 1;", "}"} {
		err := te.do(func(e *Engine) error {
			_, err := e.CompileBytecode("broken.js", source)
			return err
		})
		var fault *jsbridge.ScriptFault
		require.True(t, errors.As(err, &fault), source)
		require.Equal(t, "SyntaxError", fault.Name, source)
		require.NotEmpty(t, fault.Message, source)

		// The compile context stays usable.
		var bytecode []byte
		require.NoError(t, te.do(func(e *Engine) (err error) {
			bytecode, err = e.CompileBytecode("ok.js", "1 + 1")
			return err
		}))
		require.Equal(t, "2", te.eval(t, "", string(bytecode), jsbridge.EngineQJSBin))
	}
}

func TestEngine_ExtendsAPICompiledOnce(t *testing.T) {
	te := newTestEngine(t)
	te.init(t, "")
	const extends = "function extended() { return 'ext'; }"
	for _, id := range []string{"1", "2"} {
		require.NoError(t, te.do(func(e *Engine) error {
			return e.CreateInstance(&jsbridge.InstanceRequest{PageID: id, ExtendsAPI: extends, Script: []byte("var seen = extended();")})
		}))
		require.Equal(t, `"ext"`, te.eval(t, id, "seen", 0))
	}
	require.Equal(t, 1, te.bytecode.Len())
	_, ok := te.bytecode.Get(jsbridge.BytecodeKey([]byte(extends)))
	require.True(t, ok)
}

func TestEngine_BytecodePage(t *testing.T) {
	te := newTestEngine(t)
	te.init(t, "")

	var bytecode []byte
	require.NoError(t, te.do(func(e *Engine) (err error) {
		bytecode, err = e.CompileBytecode("page.js", "var fromBytecode = 7;")
		return err
	}))

	t.Run("miss stores the bytes", func(t *testing.T) {
		require.NoError(t, te.do(func(e *Engine) error {
			return e.CreateInstance(&jsbridge.InstanceRequest{PageID: "bin", Script: bytecode, Kind: jsbridge.EngineQJSBin})
		}))
		require.Equal(t, "7", te.eval(t, "bin", "fromBytecode", 0))
		cached, ok := te.bytecode.Get(jsbridge.BytecodeKey(bytecode))
		require.True(t, ok)
		require.Equal(t, bytecode, cached)
	})

	t.Run("hit ignores the script", func(t *testing.T) {
		require.True(t, te.bytecode.Put("page-key", bytecode))
		require.NoError(t, te.do(func(e *Engine) error {
			return e.CreateInstance(&jsbridge.InstanceRequest{
				PageID: "hit",
				Script: []byte("not bytecode"),
				Params: jsbridge.Params{{Key: jsbridge.ParamBytecodeKey, Value: "page-key"}},
				Kind:   jsbridge.EngineQJSBin,
			})
		}))
		require.Equal(t, "7", te.eval(t, "hit", "fromBytecode", 0))
	})

	t.Run("source is compiled", func(t *testing.T) {
		script := []byte("var compiled = 'yes';")
		require.NoError(t, te.do(func(e *Engine) error {
			return e.CreateInstance(&jsbridge.InstanceRequest{
				PageID: "src",
				Script: script,
				Params: jsbridge.Params{{Key: jsbridge.ParamScriptType, Value: "source"}},
				Kind:   jsbridge.EngineQJSBin,
			})
		}))
		require.Equal(t, `"yes"`, te.eval(t, "src", "compiled", 0))
		_, ok := te.bytecode.Get(jsbridge.BytecodeKey(script))
		require.True(t, ok)
	})

	t.Run("bad bytecode is reported", func(t *testing.T) {
		err := te.do(func(e *Engine) error {
			return e.CreateInstance(&jsbridge.InstanceRequest{PageID: "bad", Script: []byte{0xff, 0x00}, Kind: jsbridge.EngineQJSBin})
		})
		require.Error(t, err)
		reports := te.core.Reports()
		require.NotEmpty(t, reports)
		require.Equal(t, "bad", reports[len(reports)-1].PageID)
	})
}

func TestEngine_EmptyPageRunsInGlobal(t *testing.T) {
	te := newTestEngine(t)
	te.init(t, "var count = 0;")
	require.NoError(t, te.do(func(e *Engine) error {
		return e.CreateInstance(&jsbridge.InstanceRequest{Script: []byte("count++;")})
	}))
	require.False(t, te.HasInstance(""))
	require.Equal(t, "1", te.eval(t, "", "count", 0))
}

func TestEngine_DestroyedContext(t *testing.T) {
	te := newTestEngine(t)
	te.init(t, "")
	var c *scriptContext
	require.NoError(t, te.do(func(e *Engine) error {
		if err := e.CreateInstance(&jsbridge.InstanceRequest{PageID: "1"}); err != nil {
			return err
		}
		c, _ = e.holder.Find("1")
		return e.DestroyInstance("1")
	}))
	require.Equal(t, jsbridge.StateDestroyed, c.state)
	err := te.do(func(e *Engine) error {
		_, err := c.run("late.js", "1")
		return err
	})
	require.ErrorIs(t, err, jsbridge.ErrContextDestroyed)
}

func TestEngine_ReinitReplacesGlobal(t *testing.T) {
	te := newTestEngine(t)
	te.init(t, "var first = 1;")
	te.init(t, "var second = 2;")
	require.Equal(t, `"undefined"`, te.eval(t, "", "typeof first", 0))
	require.Equal(t, "2", te.eval(t, "", "second", 0))
}

func TestEngine_ResultsWithoutJSONForm(t *testing.T) {
	te := newTestEngine(t)
	te.init(t, `function fn() { return function () {}; }
function cyclic() { var o = { a: 1 }; o.self = o; o.list = [o, 2]; return o; }
function shared() { var o = { x: 1 }; return [o, o]; }
function holes() { return [undefined, function () {}, Symbol("s"), { f: function () {}, u: undefined, k: 1 }]; }
function lone() { return "\ud800"; }
function nan() { return NaN; }
function when() { return new Date(Date.UTC(2025, 0, 2, 3, 4, 5, 6)); }`)

	result := func(fn string) []byte {
		var b []byte
		require.NoError(t, te.do(func(e *Engine) (err error) {
			b, err = e.ExecJSWithResult("", "", fn, nil)
			return err
		}))
		return b
	}
	toJSON := func(fn string) string {
		text, err := wson.ToJSON(result(fn))
		require.NoError(t, err)
		return text
	}

	v, err := wson.Decode(result("fn"))
	require.NoError(t, err)
	require.Nil(t, v)

	require.Equal(t, `{"a":1,"self":null,"list":[null,2]}`, toJSON("cyclic"))
	require.Equal(t, `[{"x":1},{"x":1}]`, toJSON("shared"))
	require.Equal(t, `[null,null,null,{"k":1}]`, toJSON("holes"))
	require.Equal(t, `"2025-01-02T03:04:05.006Z"`, toJSON("when"))

	w := wson.NewWriter()
	w.StringUTF16([]uint16{0xd800})
	require.Equal(t, w.Bytes(), result("lone"))

	w = wson.NewWriter()
	w.Double(math.NaN())
	require.Equal(t, w.Bytes(), result("nan"))
}

func TestEngine_DeepResultTooDeep(t *testing.T) {
	te := newTestEngine(t)
	te.init(t, "function deep() { var v = 1; for (var i = 0; i < 100; i++) { v = [v]; } return v; }")

	err := te.do(func(e *Engine) error {
		_, err := e.ExecJSWithResult("", "", "deep", nil)
		return err
	})
	require.ErrorIs(t, err, wson.ErrTooDeep)
}
