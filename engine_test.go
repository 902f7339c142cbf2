// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEngineKind(t *testing.T) {
	tests := []struct {
		in   string
		want EngineKind
		ok   bool
	}{
		{"JSC", EngineGoja, true},
		{"goja", EngineGoja, true},
		{"qjs", EngineQJS, true},
		{" QJSBin ", EngineQJSBin, true},
		{"v8", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseEngineKind(tt.in)
		require.Equal(t, tt.ok, ok, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}
}

func TestEngineKind_Supports(t *testing.T) {
	require.True(t, EngineQJS.Supports(EngineQJSBin), "source runtime serves bytecode pages")
	require.True(t, EngineQJSBin.Supports(EngineQJS))
	require.False(t, EngineGoja.Supports(EngineQJS))
	require.True(t, (EngineGoja | EngineQJS).Supports(EngineGoja))
	require.Equal(t, "QJSBin", EngineQJSBin.String())
}

func TestParams(t *testing.T) {
	p := Params{{"a", "1"}, {"b", "2"}, {"a", "3"}}
	v, ok := p.Get("a")
	require.True(t, ok)
	require.Equal(t, "3", v, "last pair wins")
	require.Empty(t, p.Value("missing"))

	c := p.Clone()
	c = c.Set("b", "20").Set("c", "30")
	require.Equal(t, "2", p.Value("b"), "clone is independent")
	require.Equal(t, "20", c.Value("b"))
	require.Equal(t, "30", c.Value("c"))
}

func TestContextState(t *testing.T) {
	require.NoError(t, StateActive.Check())
	require.ErrorIs(t, StateDestroyed.Check(), ErrContextDestroyed)
	require.Equal(t, "initialized", StateInitialized.String())
}
