// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
)

// ArgKind selects how a script argument is handed to a native binding.
type ArgKind int

const (
	// ArgJSON passes strings as-is and JSON-stringifies everything else.
	ArgJSON ArgKind = iota
	// ArgWson passes the wson encoding of the value.
	ArgWson
)

// NativeArg is one converted script argument. Text is set for ArgJSON,
// Bytes for ArgWson.
type NativeArg struct {
	Text  string
	Bytes []byte
}

// NativeArgs are the converted arguments of one binding call. Missing
// arguments read as zero values.
type NativeArgs []NativeArg

func (a NativeArgs) Text(i int) string {
	if i < len(a) {
		return a[i].Text
	}
	return ""
}

func (a NativeArgs) Bytes(i int) []byte {
	if i < len(a) {
		return a[i].Bytes
	}
	return nil
}

// Binding is one native function installed into script contexts.
//
// Call returns nil (undefined), a bool, an int32 or a *ValueWithType; the
// engine converts it into a script value.
type Binding struct {
	Name string
	Args []ArgKind
	// Rest converts arguments beyond Args when Variadic is set.
	Rest     ArgKind
	Variadic bool
	Call     func(core CoreSide, args NativeArgs) any
}

// Kind returns the conversion for argument i, and false when the binding
// ignores it.
func (b *Binding) Kind(i int) (ArgKind, bool) {
	if i < len(b.Args) {
		return b.Args[i], true
	}
	return b.Rest, b.Variadic
}

func jsonArgs(n int) []ArgKind {
	kinds := make([]ArgKind, n)
	for i := range kinds {
		kinds[i] = ArgJSON
	}
	return kinds
}

func stub(name string) Binding {
	return Binding{Name: name, Call: func(CoreSide, NativeArgs) any { return true }}
}

var (
	nativeLogBinding = Binding{
		Name:     "nativeLog",
		Rest:     ArgJSON,
		Variadic: true,
		Call: func(core CoreSide, args NativeArgs) any {
			var sb strings.Builder
			sb.WriteString("jsLog")
			for _, arg := range args {
				sb.WriteString(arg.Text)
			}
			core.NativeLog(sb.String())
			return true
		},
	}

	setIntervalBinding = Binding{
		Name: "setIntervalWeex",
		Args: jsonArgs(3),
		Call: func(core CoreSide, args NativeArgs) any {
			return core.SetInterval(args.Text(0), args.Text(1), args.Text(2))
		},
	}

	clearIntervalBinding = Binding{
		Name: "clearIntervalWeex",
		Args: jsonArgs(2),
		Call: func(core CoreSide, args NativeArgs) any {
			core.ClearInterval(args.Text(0), args.Text(1))
			return true
		},
	}

	updateComponentDataBinding = Binding{
		Name: "__updateComponentData",
		Args: jsonArgs(3),
		Call: func(core CoreSide, args NativeArgs) any {
			core.UpdateComponentData(args.Text(0), args.Text(1), args.Text(2))
			return true
		},
	}
)

// GlobalBindings is the native surface of the global context.
var GlobalBindings = []Binding{
	{
		Name: "callNative",
		Args: jsonArgs(3),
		Call: func(core CoreSide, args NativeArgs) any {
			core.CallNative(args.Text(0), args.Text(1), args.Text(2))
			return int32(0)
		},
	},
	{
		Name: "callNativeModule",
		Args: []ArgKind{ArgJSON, ArgJSON, ArgJSON, ArgWson, ArgWson},
		Call: func(core CoreSide, args NativeArgs) any {
			return core.CallNativeModule(args.Text(0), args.Text(1), args.Text(2), args.Bytes(3), args.Bytes(4))
		},
	},
	{
		Name: "callNativeComponent",
		Args: []ArgKind{ArgJSON, ArgJSON, ArgJSON, ArgWson, ArgWson},
		Call: func(core CoreSide, args NativeArgs) any {
			core.CallNativeComponent(args.Text(0), args.Text(1), args.Text(2), args.Bytes(3), args.Bytes(4))
			return int32(0)
		},
	},
	{
		Name: "callAddElement",
		Args: []ArgKind{ArgJSON, ArgJSON, ArgWson, ArgJSON},
		Call: func(core CoreSide, args NativeArgs) any {
			core.CallAddElement(args.Text(0), args.Text(1), args.Bytes(2), args.Text(3))
			return int32(0)
		},
	},
	{
		Name: "setTimeoutNative",
		Args: jsonArgs(2),
		Call: func(core CoreSide, args NativeArgs) any {
			core.SetTimeout(args.Text(0), args.Text(1))
			return true
		},
	},
	nativeLogBinding,
	stub("notifyTrimMemory"),
	stub("markupState"),
	stub("atob"),
	stub("btoa"),
	{
		Name: "callCreateBody",
		Args: []ArgKind{ArgJSON, ArgWson},
		Call: func(core CoreSide, args NativeArgs) any {
			core.CallCreateBody(args.Text(0), args.Bytes(1))
			return int32(0)
		},
	},
	{
		Name: "callUpdateFinish",
		Args: []ArgKind{ArgJSON, ArgWson, ArgWson},
		Call: func(core CoreSide, args NativeArgs) any {
			return core.CallUpdateFinish(args.Text(0), args.Bytes(1), args.Bytes(2))
		},
	},
	{
		Name: "callCreateFinish",
		Args: jsonArgs(1),
		Call: func(core CoreSide, args NativeArgs) any {
			core.CallCreateFinish(args.Text(0))
			return int32(0)
		},
	},
	{
		Name: "callRefreshFinish",
		Args: jsonArgs(3),
		Call: func(core CoreSide, args NativeArgs) any {
			return core.CallRefreshFinish(args.Text(0), args.Text(1), args.Text(2))
		},
	},
	{
		Name: "callUpdateAttrs",
		Args: []ArgKind{ArgJSON, ArgJSON, ArgWson},
		Call: func(core CoreSide, args NativeArgs) any {
			core.CallUpdateAttrs(args.Text(0), args.Text(1), args.Bytes(2))
			return int32(0)
		},
	},
	{
		Name: "callUpdateStyle",
		Args: []ArgKind{ArgJSON, ArgJSON, ArgWson},
		Call: func(core CoreSide, args NativeArgs) any {
			core.CallUpdateStyle(args.Text(0), args.Text(1), args.Bytes(2))
			return int32(0)
		},
	},
	{
		Name: "callRemoveElement",
		Args: jsonArgs(2),
		Call: func(core CoreSide, args NativeArgs) any {
			core.CallRemoveElement(args.Text(0), args.Text(1))
			return int32(0)
		},
	},
	{
		Name: "callMoveElement",
		Args: jsonArgs(4),
		Call: func(core CoreSide, args NativeArgs) any {
			core.CallMoveElement(args.Text(0), args.Text(1), args.Text(2), int32(leadingSignedInt(args.Text(3))))
			return int32(0)
		},
	},
	{
		Name: "callAddEvent",
		Args: jsonArgs(3),
		Call: func(core CoreSide, args NativeArgs) any {
			core.CallAddEvent(args.Text(0), args.Text(1), args.Text(2))
			return int32(0)
		},
	},
	{
		Name: "callRemoveEvent",
		Args: jsonArgs(3),
		Call: func(core CoreSide, args NativeArgs) any {
			core.CallRemoveEvent(args.Text(0), args.Text(1), args.Text(2))
			return int32(0)
		},
	},
	stub("callGCanvasLinkNative"),
	setIntervalBinding,
	clearIntervalBinding,
	stub("callT3DLinkNative"),
	updateComponentDataBinding,
	{
		Name: "postMessage",
		Args: []ArgKind{ArgJSON, ArgWson},
		Call: func(core CoreSide, args NativeArgs) any {
			core.PostMessage(args.Text(0), args.Bytes(1))
			return true
		},
	},
	{
		Name: "dispatchMessage",
		Args: []ArgKind{ArgJSON, ArgWson, ArgJSON, ArgJSON},
		Call: func(core CoreSide, args NativeArgs) any {
			core.DispatchMessage(args.Text(0), args.Bytes(1), args.Text(2), args.Text(3))
			return true
		},
	},
	{
		Name: "dispatchMessageSync",
		Args: []ArgKind{ArgJSON, ArgWson, ArgJSON},
		Call: func(core CoreSide, args NativeArgs) any {
			if res := core.DispatchMessageSync(args.Text(0), args.Bytes(1), args.Text(2)); len(res) > 0 {
				return BytesValue(res)
			}
			return true
		},
	},
}

// InstanceBindings is the native surface of instance contexts. Engines add
// their native timer functions next to it.
var InstanceBindings = []Binding{
	nativeLogBinding,
	stub("atob"),
	stub("btoa"),
	stub("callGCanvasLinkNative"),
	setIntervalBinding,
	clearIntervalBinding,
	stub("callT3DLinkNative"),
	updateComponentDataBinding,
}

// Native timer function names installed into instance contexts.
const (
	SetNativeTimeout    = "setNativeTimeout"
	SetNativeInterval   = "setNativeInterval"
	ClearNativeTimeout  = "clearNativeTimeout"
	ClearNativeInterval = "clearNativeInterval"
)

// ConsoleLevel is the numeric level of a console method.
type ConsoleLevel int

const (
	ConsoleLog ConsoleLevel = iota + 1
	ConsoleWarn
	ConsoleError
	ConsoleDebug
	ConsoleInfo
)

// ConsoleMethods maps console method names to their levels.
var ConsoleMethods = map[string]ConsoleLevel{
	"log":   ConsoleLog,
	"warn":  ConsoleWarn,
	"error": ConsoleError,
	"debug": ConsoleDebug,
	"info":  ConsoleInfo,
}

// Level returns the slog level console output of this kind is written at.
func (l ConsoleLevel) Level() slog.Level {
	switch l {
	case ConsoleWarn:
		return slog.LevelWarn
	case ConsoleError:
		return slog.LevelError
	case ConsoleDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// WriteConsole logs one line of script console output.
func WriteConsole(logger *slog.Logger, level ConsoleLevel, pageID, text string) {
	logger.Log(context.Background(), level.Level(), "Script console",
		"source", "jsLog", "page", pageID, "message", text)
}

// leadingSignedInt parses an optional sign and decimal prefix, like atoi.
func leadingSignedInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// CallJavaScript is the instance-side entry point that callJS requests are
// routed to.
const CallJavaScript = "__WEEX_CALL_JAVASCRIPT__"

// RoutesToInstance reports whether a call to function targets the instance
// context of its page rather than the global context.
func RoutesToInstance(function string) bool {
	return function == "callJS" || function == CallJavaScript
}
