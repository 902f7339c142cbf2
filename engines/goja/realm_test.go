// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/require"
)

// runtimes returns a source runtime with src evaluated and an empty
// destination runtime.
func runtimes(t *testing.T, src string) (*goja.Runtime, *goja.Runtime) {
	t.Helper()
	from, to := goja.New(), goja.New()
	_, err := from.RunString(src)
	require.NoError(t, err)
	return from, to
}

func eval(t *testing.T, vm *goja.Runtime, src string) goja.Value {
	t.Helper()
	v, err := vm.RunString(src)
	require.NoError(t, err)
	return v
}

func TestRealm_CopiesObjects(t *testing.T) {
	from, to := runtimes(t, `var data = {list: [1, {k: "v"}], n: 2}; data.self = data;`)
	r := newRealm()
	require.NoError(t, to.Set("data", r.transfer(from, to, from.Get("data"))))

	require.Equal(t, `[1,{"k":"v"}]`, eval(t, to, "JSON.stringify(data.list)").String())
	require.True(t, eval(t, to, "data.self === data").ToBoolean())
	require.True(t, eval(t, to, "Array.isArray(data.list)").ToBoolean())

	eval(t, to, "data.n = 3")
	require.Equal(t, int64(2), eval(t, from, "data.n").ToInteger())
}

func TestRealm_ProxiesFunctions(t *testing.T) {
	from, to := runtimes(t, `
		var calls = 0;
		function greet(name) { calls++; return {text: "hi " + name}; }
		greet.tag = "greeter";
		function callBack(fn) { return fn(2) * 3; }
		function same(fn) { return fn; }
	`)
	r := newRealm()
	for _, name := range []string{"greet", "callBack", "same"} {
		require.NoError(t, to.Set(name, r.transfer(from, to, from.Get(name))))
	}

	require.Equal(t, "hi bob", eval(t, to, `greet("bob").text`).String())
	require.Equal(t, int64(1), from.Get("calls").ToInteger())
	require.Equal(t, "greeter", eval(t, to, "greet.tag").String())
	require.Equal(t, int64(12), eval(t, to, "callBack(function (x) { return x * 2; })").ToInteger())

	// A function that crosses back is the original again.
	require.True(t, eval(t, to, "var local = function () {}; same(local) === local").ToBoolean())
	require.True(t, r.transfer(from, to, from.Get("greet")) == to.Get("greet"))
}

func TestRealm_TransfersErrors(t *testing.T) {
	from, to := runtimes(t, `function fail() { throw new RangeError("out of range"); }
		function failPlain() { throw {code: 7}; }`)
	r := newRealm()
	require.NoError(t, to.Set("fail", r.transfer(from, to, from.Get("fail"))))
	require.NoError(t, to.Set("failPlain", r.transfer(from, to, from.Get("failPlain"))))

	got := eval(t, to, `(function () {
		try { fail(); } catch (e) { return [e instanceof RangeError, e.name, e.message].join("|"); }
	})()`)
	require.Equal(t, "true|RangeError|out of range", got.String())
	got = eval(t, to, `(function () { try { failPlain(); } catch (e) { return e.code; } })()`)
	require.Equal(t, int64(7), got.ToInteger())
}

func TestRelinkPrototype(t *testing.T) {
	vm := goja.New()
	eval(t, vm, "var Vue = function () {}; var Other = function () {};")
	relinkPrototype(vm, "Vue")
	relinkPrototype(vm, "Other")

	require.True(t, eval(t, vm, "Object.getPrototypeOf(Vue) === Object.getPrototypeOf(this)").ToBoolean())
	require.True(t, eval(t, vm, "Object.getPrototypeOf(Other) === Function.prototype").ToBoolean())
}
