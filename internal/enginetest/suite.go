// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package enginetest

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	jsbridge "github.com/buke/js-bridge"
	"github.com/buke/js-bridge/wson"
	"github.com/stretchr/testify/require"
)

// Framework is the bootstrap the suite initializes engines with.
const Framework = `
var __BRIDGE_FRAMEWORK_VERSION__ = "0.30.0-test";
var lastConfig = "";
function updateGlobalConfig(config) { lastConfig = config; }
function add(a, b) { return a + b; }
function echo(v) { return v; }
function evaluate(src) { return (0, eval)(src); }
function boom() { throw new RangeError("too far"); }
var api = { twice: function (x) { return x.n * 2; } };
function createInstanceContext(id, options, data) {
	function Vue() {}
	Vue.version = "2.6";
	return {
		Vue: Vue,
		pageId: id,
		bundleUrl: options && options.bundleUrl,
		initial: data,
		send: function (task) { callNative(id, task, "-1"); return "sent:" + task; },
		make: function () { return { list: [1, 2, 3], nested: { ok: true } }; },
		fail: function () { throw new TypeError("bad input"); },
		apply: function (fn, v) { return fn(v) + 1; }
	};
}
`

// Page is a page script exercising what createInstanceContext hands over.
const Page = `
var sent = send("render");
var made = make();
var caught = "";
try { fail(); } catch (e) { caught = e.name + ":" + e.message; }
var applied = apply(function (v) { return v * 10; }, 4);
function __WEEX_CALL_JAVASCRIPT__(id, tasks) {
	nativeLog("callJS:", id, JSON.stringify(tasks));
	return tasks.length;
}
`

// Env holds a bridge running one engine and the host it reports to.
type Env struct {
	Bridge *jsbridge.Bridge
	Core   *Core
	Logs   *LogBuffer
}

// New starts a bridge with factory as its only engine and initializes it
// with Framework and params.
func New(t *testing.T, kind jsbridge.EngineKind, factory jsbridge.EngineFactory, params jsbridge.Params) *Env {
	t.Helper()
	env := &Env{Core: NewCore(), Logs: &LogBuffer{}}
	env.Bridge = jsbridge.NewBridge(env.Core,
		jsbridge.WithLogger(env.Logs.Logger()),
		jsbridge.WithEngine(factory),
		jsbridge.WithDefaultEngine(kind),
	)
	t.Cleanup(func() { _ = env.Bridge.Close() })
	require.NoError(t, env.Bridge.InitFramework(Framework, params))
	return env
}

// CreatePage creates page id running script.
func (env *Env) CreatePage(t *testing.T, id, script string, params jsbridge.Params) error {
	t.Helper()
	return env.Bridge.CreateInstance(&jsbridge.InstanceRequest{
		PageID:   id,
		Function: "createInstance",
		Script:   []byte(script),
		Options:  `{"bundleUrl":"http://example.com/page.js"}`,
		InitData: `{"count":5}`,
		Params:   params,
	})
}

// Eval evaluates script on page id and returns the result as JSON.
func (env *Env) Eval(t *testing.T, id, script string) string {
	t.Helper()
	b, err := env.Bridge.ExecJSOnInstance(id, script, 0)
	require.NoError(t, err)
	return JSON(t, b)
}

// JSON renders a wson buffer as JSON.
func JSON(t *testing.T, b []byte) string {
	t.Helper()
	s, err := wson.ToJSON(b)
	require.NoError(t, err)
	return s
}

// Run runs the shared engine behaviour against factory.
func Run(t *testing.T, kind jsbridge.EngineKind, factory jsbridge.EngineFactory) {
	t.Run("InitFrameworkReportsVersion", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		require.Equal(t, []string{"0.30.0-test"}, env.Core.Versions())
	})

	t.Run("InitFrameworkSyntaxError", func(t *testing.T) {
		core := NewCore()
		b := jsbridge.NewBridge(core, jsbridge.WithEngine(factory), jsbridge.WithDefaultEngine(kind))
		defer b.Close()
		err := b.InitFramework("function (", nil)
		require.Error(t, err)
		var fault *jsbridge.ScriptFault
		require.True(t, errors.As(err, &fault))
		require.Equal(t, "SyntaxError", fault.Name)
		require.NotEmpty(t, core.Reports())
		require.Equal(t, "initFramework", core.Reports()[0].Function)
		require.Empty(t, core.Versions())
	})

	t.Run("ExecJSWithResultConvertsArguments", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		bin, err := wson.Encode([]any{"b", true})
		require.NoError(t, err)
		tests := []struct {
			name     string
			function string
			args     []*jsbridge.ValueWithType
			want     string
		}{
			{"numbers", "add", []*jsbridge.ValueWithType{jsbridge.Int32Value(2), jsbridge.DoubleValue(0.5)}, "2.5"},
			{"int64", "add", []*jsbridge.ValueWithType{jsbridge.Int64Value(40), jsbridge.Int32Value(2)}, "42"},
			{"string", "echo", []*jsbridge.ValueWithType{jsbridge.StringValue("hi")}, `"hi"`},
			{"json", "echo", []*jsbridge.ValueWithType{jsbridge.JSONValue(`{"a":[1,"x"]}`)}, `{"a":[1,"x"]}`},
			{"wson", "echo", []*jsbridge.ValueWithType{jsbridge.BytesValue(bin)}, `["b",true]`},
			{"void", "echo", []*jsbridge.ValueWithType{jsbridge.VoidValue()}, "null"},
			{"malformed json", "echo", []*jsbridge.ValueWithType{jsbridge.JSONValue(`{`)}, "null"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				b, err := env.Bridge.ExecJSWithResult("", "", tt.function, tt.args)
				require.NoError(t, err)
				require.Equal(t, tt.want, JSON(t, b))
			})
		}
	})

	t.Run("ResultEncodingEdgeValues", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		require.NoError(t, env.CreatePage(t, "edge", Page, nil))

		encoded := func(write func(w *wson.Writer)) []byte {
			w := wson.NewWriter()
			write(w)
			return w.Bytes()
		}
		tests := []struct {
			name   string
			script string
			want   []byte
		}{
			{"lone high surrogate", `"\ud800"`, encoded(func(w *wson.Writer) { w.StringUTF16([]uint16{0xd800}) })},
			{"reversed pair", `"\udc00\ud800"`, encoded(func(w *wson.Writer) { w.StringUTF16([]uint16{0xdc00, 0xd800}) })},
			{"nan", "NaN", encoded(func(w *wson.Writer) { w.Double(math.NaN()) })},
			{"infinity", "Infinity", encoded(func(w *wson.Writer) { w.Double(math.Inf(1)) })},
			{"negative infinity", "-Infinity", encoded(func(w *wson.Writer) { w.Double(math.Inf(-1)) })},
			{"negative zero", "-0", encoded(func(w *wson.Writer) { w.Double(math.Copysign(0, -1)) })},
			{"cyclic", "(function () { var o = { a: 1 }; o.self = o; return o; })()", encoded(func(w *wson.Writer) {
				w.BeginMap(2)
				w.Key("a")
				w.Int32(1)
				w.Key("self")
				w.Null()
			})},
			{"nested", `({ a: [{ b: [{ c: [{ d: [1] }] }] }] })`, encoded(func(w *wson.Writer) {
				for _, k := range []string{"a", "b", "c", "d"} {
					w.BeginMap(1)
					w.Key(k)
					w.BeginArray(1)
				}
				w.Int32(1)
			})},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				b, err := env.Bridge.ExecJSWithResult("", "", "evaluate", []*jsbridge.ValueWithType{jsbridge.StringValue(tt.script)})
				require.NoError(t, err)
				require.Equal(t, tt.want, b)

				b, err = env.Bridge.ExecJSOnInstance("edge", tt.script, 0)
				require.NoError(t, err)
				require.Equal(t, tt.want, b)
			})
		}
	})

	t.Run("ExecJSOnNamespace", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		b, err := env.Bridge.ExecJSWithResult("", "api", "twice", []*jsbridge.ValueWithType{jsbridge.JSONValue(`{"n":21}`)})
		require.NoError(t, err)
		require.Equal(t, "42", JSON(t, b))
	})

	t.Run("ExecJSFunctionNotFound", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		err := env.Bridge.ExecJS("", "", "missing", nil)
		require.ErrorIs(t, err, jsbridge.ErrFunctionNotFound)
		reports := env.Core.Reports()
		require.Len(t, reports, 1)
		require.Equal(t, "missing", reports[0].Function)
	})

	t.Run("ExecJSReportsException", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		err := env.Bridge.ExecJS("", "", "boom", nil)
		var fault *jsbridge.ScriptFault
		require.True(t, errors.As(err, &fault))
		require.Equal(t, "RangeError", fault.Name)
		require.Equal(t, "too far", fault.Message)
		reports := env.Core.Reports()
		require.Len(t, reports, 1)
		require.Equal(t, "boom", reports[0].Function)
		require.Contains(t, reports[0].Message, "RangeError: too far")

		// The context stays usable.
		b, err := env.Bridge.ExecJSWithResult("", "", "add", []*jsbridge.ValueWithType{jsbridge.Int32Value(1), jsbridge.Int32Value(1)})
		require.NoError(t, err)
		require.Equal(t, "2", JSON(t, b))
	})

	t.Run("ExecJSWithCallback", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		require.NoError(t, env.Bridge.ExecJSWithCallback("", "", "add",
			[]*jsbridge.ValueWithType{jsbridge.Int32Value(1), jsbridge.Int32Value(2)}, 9))
		b, ok := env.Core.Result(9)
		require.True(t, ok)
		require.Equal(t, "3", JSON(t, b))

		require.Error(t, env.Bridge.ExecJSWithCallback("", "", "boom", nil, 10))
		b, ok = env.Core.Result(10)
		require.True(t, ok)
		require.Empty(t, b)
	})

	t.Run("CreateInstanceClonesFrameworkContext", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		require.NoError(t, env.CreatePage(t, "1", Page, nil))
		require.True(t, env.Bridge.HasInstance("1"))
		require.True(t, env.Core.Called("callNative 1 render -1"))
		require.True(t, env.Core.Called("callNative 1 HeartBeat HeartBeat"))

		got := env.Eval(t, "1", `JSON.stringify([sent, made.list.length, made.nested.ok, caught, applied,
			pageId, bundleUrl, initial.count, Vue.version])`)
		require.Equal(t, `"[\"sent:render\",3,true,\"TypeError:bad input\",41,\"1\",\"http://example.com/page.js\",5,\"2.6\"]"`, got)
		require.Equal(t, "true", env.Eval(t, "1", `Object.getPrototypeOf(Vue) === Object.getPrototypeOf(global)`))
		require.Equal(t, "true", env.Eval(t, "1", `global === this`))
	})

	t.Run("CreateInstanceWithoutCreateInstanceContext", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		require.NoError(t, env.Bridge.ExecJSService("createInstanceContext = undefined;"))
		require.NoError(t, env.CreatePage(t, "plain", "var ready = typeof send;", nil))
		require.Equal(t, `"undefined"`, env.Eval(t, "plain", "ready"))
	})

	t.Run("InstancesAreIsolated", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		require.NoError(t, env.CreatePage(t, "2", "var secret = 1;", nil))
		require.NoError(t, env.CreatePage(t, "3", "", nil))
		require.Equal(t, `"number"`, env.Eval(t, "2", "typeof secret"))
		require.Equal(t, `"undefined"`, env.Eval(t, "3", "typeof secret"))
		require.Equal(t, `"undefined"`, env.Eval(t, "", "typeof secret"))
	})

	t.Run("CreateInstanceReplacesPage", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		require.NoError(t, env.CreatePage(t, "r", "var first = 1;", nil))
		require.NoError(t, env.CreatePage(t, "r", "var second = 2;", nil))
		require.Equal(t, `"undefined"`, env.Eval(t, "r", "typeof first"))
		require.Equal(t, "2", env.Eval(t, "r", "second"))
	})

	t.Run("CreateInstanceRunsExtendsAPI", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		err := env.Bridge.CreateInstance(&jsbridge.InstanceRequest{
			PageID:     "ext",
			Script:     []byte("var seen = extended();"),
			Options:    "{}",
			InitData:   "{}",
			ExtendsAPI: "function extended() { return 'ext'; }",
		})
		require.NoError(t, err)
		require.Equal(t, `"ext"`, env.Eval(t, "ext", "seen"))
	})

	t.Run("CreateInstanceReportsPageException", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		err := env.CreatePage(t, "x", "throw new Error('page broke');", nil)
		require.Error(t, err)
		reports := env.Core.Reports()
		require.Len(t, reports, 1)
		require.Equal(t, "x", reports[0].PageID)
		require.Equal(t, "createInstance", reports[0].Function)
		require.Contains(t, reports[0].Message, "page broke")
		require.False(t, env.Core.Called("callNative x HeartBeat HeartBeat"))
	})

	t.Run("CallJSRoutesToInstance", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		require.NoError(t, env.CreatePage(t, "1", Page, nil))
		b, err := env.Bridge.ExecJSWithResult("1", "", "callJS", []*jsbridge.ValueWithType{
			jsbridge.StringValue("1"),
			jsbridge.JSONValue(`[{"method":"fireEvent"}]`),
		})
		require.NoError(t, err)
		require.Equal(t, "1", JSON(t, b))
		require.True(t, env.Core.Called(`nativeLog jsLogcallJS:1[{"method":"fireEvent"}]`))
	})

	t.Run("ExecJSOnInstanceFallsBackToGlobal", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		require.Equal(t, "3", env.Eval(t, "unknown", "add(1, 2)"))
	})

	t.Run("DestroyInstance", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		require.NoError(t, env.CreatePage(t, "9", "var alive = true;", nil))
		require.True(t, env.Bridge.HasInstance("9"))
		require.NoError(t, env.Bridge.DestroyInstance("9"))
		require.False(t, env.Bridge.HasInstance("9"))
		require.NoError(t, env.Bridge.DestroyInstance("9"))
		require.NoError(t, env.Bridge.DestroyInstance("never-created"))
		require.Equal(t, `"undefined"`, env.Eval(t, "9", "typeof alive"))
	})

	t.Run("NativeTimers", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		require.NoError(t, env.CreatePage(t, "t", `
			var ticks = 0;
			setNativeTimeout(function () { nativeLog("timeout"); }, 1);
			var iv = setNativeInterval(function () {
				ticks++;
				nativeLog("tick");
				if (ticks === 3) { clearNativeInterval(iv); }
			}, 1);
			var bad = setNativeTimeout("not a function", 1);
		`, nil))
		require.Eventually(t, func() bool {
			return env.Core.Called("nativeLog jsLogtimeout") && env.Core.Count("nativeLog jsLogtick") == 3
		}, 2*time.Second, 5*time.Millisecond)
		time.Sleep(30 * time.Millisecond)
		require.Equal(t, 3, env.Core.Count("nativeLog jsLogtick"))
		require.Equal(t, "false", env.Eval(t, "t", "bad"))
		require.Equal(t, "true", env.Eval(t, "t", "iv > 0"))
	})

	t.Run("NativeTimerNonFiniteDelay", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		require.NoError(t, env.CreatePage(t, "nf", `
			setNativeTimeout(function () { nativeLog("nan"); }, NaN);
			setNativeTimeout(function () { nativeLog("inf"); }, Infinity);
			setNativeTimeout(function () { nativeLog("neg"); }, -Infinity);
		`, nil))
		require.Eventually(t, func() bool {
			return env.Core.Called("nativeLog jsLognan") &&
				env.Core.Called("nativeLog jsLoginf") &&
				env.Core.Called("nativeLog jsLogneg")
		}, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("NativeTimerDroppedWithPage", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		require.NoError(t, env.CreatePage(t, "d", `setNativeTimeout(function () { nativeLog("late"); }, 20);`, nil))
		require.NoError(t, env.Bridge.DestroyInstance("d"))
		time.Sleep(60 * time.Millisecond)
		require.False(t, env.Core.Called("nativeLog jsLoglate"))
	})

	t.Run("NativeTimerException", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		require.NoError(t, env.CreatePage(t, "te", `
			setNativeTimeout(function () { throw new Error("timer broke"); }, 1);
			setNativeTimeout(function () { nativeLog("after"); }, 5);
		`, nil))
		require.Eventually(t, func() bool {
			return env.Core.Called("nativeLog jsLogafter")
		}, 2*time.Second, 5*time.Millisecond)
		require.Contains(t, env.Logs.String(), "timer broke")
	})

	t.Run("EnvironmentParams", func(t *testing.T) {
		env := New(t, kind, factory, jsbridge.Params{{Key: "platform", Value: "linux"}})
		require.NoError(t, env.Bridge.UpdateInitFrameworkParams("debug", "true", "enable debug"))
		require.Equal(t, `"true"`, env.Eval(t, "", "WXEnvironment.debug"))
		require.NoError(t, env.CreatePage(t, "e", "", jsbridge.Params{{Key: "bundleType", Value: "Vue"}}))
		require.Equal(t, `"linux:true:Vue"`, env.Eval(t, "e",
			`WXEnvironment.platform + ":" + WXEnvironment.debug + ":" + WXExtraOption.bundleType`))
	})

	t.Run("UpdateGlobalConfig", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		require.NoError(t, env.Bridge.UpdateGlobalConfig("grayscale=1"))
		require.Equal(t, `"grayscale=1"`, env.Eval(t, "", "lastConfig"))
	})

	t.Run("ServiceAndTimerCallback", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		require.NoError(t, env.Bridge.ExecJSService("var serviceLoaded = true;"))
		require.Equal(t, "true", env.Eval(t, "", "serviceLoaded"))
		require.NoError(t, env.Bridge.ExecTimerCallback(`nativeLog("timer body");`))
		require.True(t, env.Core.Called("nativeLog jsLogtimer body"))

		require.Error(t, env.Bridge.ExecJSService("throw new Error('service broke');"))
		reports := env.Core.Reports()
		require.Len(t, reports, 1)
		require.Contains(t, reports[0].Message, "service broke")
	})

	t.Run("BindingsForwardToCore", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		env.Core.Module = jsbridge.JSONValue(`{"ok":true}`)
		require.NoError(t, env.Bridge.ExecJSService(`
			callCreateBody("1", { ref: "_root", type: "div" });
			callCreateFinish("1");
			var moduleResult = callNativeModule("1", "modal", "toast", [{ message: "hi" }], {});
			var intervalID = setIntervalWeex("1", "5", "100");
		`))
		require.True(t, env.Core.Called("callNativeModule 1 modal toast"))
		require.True(t, env.Core.Called("callCreateFinish 1"))
		require.Equal(t, 1, env.Core.Count("callCreateBody 1 "))
		require.True(t, env.Core.Called("setInterval 1 5 100"))
		require.Equal(t, "true", env.Eval(t, "", "moduleResult.ok"))
		require.Equal(t, "1", env.Eval(t, "", "intervalID"))
	})

	t.Run("Console", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		require.NoError(t, env.Bridge.ExecJSService(`console.warn("hello", "world");`))
		logs := env.Logs.String()
		require.Contains(t, logs, `message="hello world"`)
		require.Contains(t, logs, "source=jsLog")
		require.True(t, strings.Contains(logs, "level=WARN"))
	})

	t.Run("RunGC", func(t *testing.T) {
		env := New(t, kind, factory, nil)
		require.NoError(t, env.CreatePage(t, "20", "", nil))
		require.NoError(t, env.Bridge.DestroyInstance("20"))
		env.Bridge.RunGC()
	})
}
