// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge_test

import (
	"testing"

	jsbridge "github.com/buke/js-bridge"
	gojaengine "github.com/buke/js-bridge/engines/goja"
	quickjsengine "github.com/buke/js-bridge/engines/quickjs-go"
)

// A CPU-bound framework function.
const benchmarkFramework = `
function fib(n) {
    if (n < 2) {
        return n;
    }
    return fib(n - 1) + fib(n - 2);
}
`

// runBridgeBenchmark calls fib from parallel goroutines. Every call waits
// for the single bridge loop, so this measures dispatch as much as the engine.
func runBridgeBenchmark(b *testing.B, kind jsbridge.EngineKind, factory jsbridge.EngineFactory) {
	bridge := jsbridge.NewBridge(nil, jsbridge.WithEngine(factory), jsbridge.WithDefaultEngine(kind))
	defer bridge.Close()
	if err := bridge.InitFramework(benchmarkFramework, nil); err != nil {
		b.Fatalf("Failed to init framework: %v", err)
	}
	args := []*jsbridge.ValueWithType{jsbridge.Int32Value(15)}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := bridge.ExecJSWithResult("", "", "fib", args); err != nil {
				b.Errorf("ExecJSWithResult failed: %v", err)
			}
		}
	})
}

func BenchmarkBridge_Goja(b *testing.B) {
	runBridgeBenchmark(b, jsbridge.EngineGoja, gojaengine.NewFactory())
}

func BenchmarkBridge_QuickJS(b *testing.B) {
	runBridgeBenchmark(b, jsbridge.EngineQJS, quickjsengine.NewFactory())
}

// Pages created from cached bytecode skip parsing.
func BenchmarkBridge_CreateInstanceFromBytecode(b *testing.B) {
	bridge := jsbridge.NewBridge(nil, jsbridge.WithEngine(quickjsengine.NewFactory()), jsbridge.WithDefaultEngine(jsbridge.EngineQJS))
	defer bridge.Close()
	if err := bridge.InitFramework(benchmarkFramework, nil); err != nil {
		b.Fatalf("Failed to init framework: %v", err)
	}
	if err := bridge.CompileQuickJSBin("page", "var page = 1 + 1;"); err != nil {
		b.Fatalf("Failed to compile page: %v", err)
	}
	params := jsbridge.Params{
		{Key: jsbridge.ParamEngineType, Value: "QJSBin"},
		{Key: jsbridge.ParamBytecodeKey, Value: "page"},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := bridge.CreateInstance(&jsbridge.InstanceRequest{PageID: "bench", Params: params}); err != nil {
			b.Fatalf("CreateInstance failed: %v", err)
		}
	}
}
