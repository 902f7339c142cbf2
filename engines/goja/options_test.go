// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"errors"
	"strings"
	"testing"

	jsbridge "github.com/buke/js-bridge"
	"github.com/buke/js-bridge/internal/enginetest"
	"github.com/dop251/goja"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/require"
)

func TestWithMaxCallStackSize(t *testing.T) {
	engine, _ := newTestEngine(t, WithMaxCallStackSize(128))
	require.Equal(t, 128, engine.Option.MaxCallStackSize)

	require.NoError(t, engine.InitFramework("function down(n) { return down(n + 1); }", nil))
	require.Error(t, engine.ExecJS("", "", "down", []*jsbridge.ValueWithType{jsbridge.Int32Value(0)}))
}

func TestWithRequire(t *testing.T) {
	loader := func(path string) ([]byte, error) {
		if strings.HasSuffix(path, "answer.js") {
			return []byte("module.exports = { value: 42 };"), nil
		}
		return nil, errors.New("no such module: " + path)
	}
	engine, _ := newTestEngine(t, WithRequire(loader))
	require.True(t, engine.Option.EnableRequire)

	require.NoError(t, engine.InitFramework(`var answer = require("./answer.js");`, nil))
	out, err := engine.ExecJSOnInstance("", "answer.value", 0)
	require.NoError(t, err)
	require.Equal(t, "42", enginetest.JSON(t, out))
}

func TestWithoutRequire(t *testing.T) {
	engine, _ := newTestEngine(t)
	require.False(t, engine.Option.EnableRequire)

	require.NoError(t, engine.InitFramework("", nil))
	out, err := engine.ExecJSOnInstance("", "typeof require", 0)
	require.NoError(t, err)
	require.Equal(t, `"undefined"`, enginetest.JSON(t, out))
}

func TestWithFieldNameMapper(t *testing.T) {
	engine, _ := newTestEngine(t, WithFieldNameMapper(nil))
	require.NotNil(t, engine.Option.FieldNameMapper)

	mapper := goja.UncapFieldNameMapper()
	engine, _ = newTestEngine(t, WithFieldNameMapper(mapper))
	require.Equal(t, mapper, engine.Option.FieldNameMapper)
}

func TestWithSyntaxTarget(t *testing.T) {
	engine, _ := newTestEngine(t, WithSyntaxTarget(api.ES2015))
	require.Equal(t, api.ES2015, engine.Option.SyntaxTarget)

	require.NoError(t, engine.InitFramework(`var o = {a: {b: 1}}; var x = o?.a?.b ?? 2; var y = o.c?.d ?? 3;`, nil))
	out, err := engine.ExecJSOnInstance("", "[x, y]", 0)
	require.NoError(t, err)
	require.Equal(t, "[1,3]", enginetest.JSON(t, out))
}

func TestWithSyntaxTarget_SyntaxError(t *testing.T) {
	engine, core := newTestEngine(t, WithSyntaxTarget(api.ES2015))
	err := engine.InitFramework("var a =;", nil)
	var fault *jsbridge.ScriptFault
	require.True(t, errors.As(err, &fault))
	require.Equal(t, "SyntaxError", fault.Name)
	require.Contains(t, fault.Message, "framework.js")
	require.Len(t, core.Reports(), 1)
}

func TestOptions_WrongEngine(t *testing.T) {
	for _, opt := range []jsbridge.EngineOption{
		WithMaxCallStackSize(1),
		WithRequire(nil),
		WithFieldNameMapper(nil),
		WithSyntaxTarget(api.ES2015),
	} {
		require.Error(t, opt(nil))
	}
}
