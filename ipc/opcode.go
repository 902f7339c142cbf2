// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ipc

import "fmt"

// JSMsg enumerates host → script requests.
type JSMsg uint32

const (
	InitFramework JSMsg = iota + 1
	InitAppFramework
	CreateAppContext
	ExecJSOnAppWithResult
	CallJSOnAppContext
	DestroyAppContext
	ExecJSService
	ExecTimerCallback
	ExecJS
	ExecJSWithResult
	ExecJSWithCallback
	CreateInstance
	DestroyInstance
	ExecJSOnInstance
	UpdateGlobalConfig
	UpdateInitFrameworkParams
	SetLogLevel
	CompileQuickJSBin
)

var jsMsgNames = map[JSMsg]string{
	InitFramework:             "INIT_FRAMEWORK",
	InitAppFramework:          "INIT_APP_FRAMEWORK",
	CreateAppContext:          "CREATE_APP_CONTEXT",
	ExecJSOnAppWithResult:     "EXEC_JS_ON_APP_WITH_RESULT",
	CallJSOnAppContext:        "CALL_JS_ON_APP_CONTEXT",
	DestroyAppContext:         "DESTROY_APP_CONTEXT",
	ExecJSService:             "EXEC_JS_SERVICE",
	ExecTimerCallback:         "EXEC_TIMER_CALLBACK",
	ExecJS:                    "EXEC_JS",
	ExecJSWithResult:          "EXEC_JS_WITH_RESULT",
	ExecJSWithCallback:        "EXEC_JS_WITH_CALLBACK",
	CreateInstance:            "CREATE_INSTANCE",
	DestroyInstance:           "DESTROY_INSTANCE",
	ExecJSOnInstance:          "EXEC_JS_ON_INSTANCE",
	UpdateGlobalConfig:        "UPDATE_GLOBAL_CONFIG",
	UpdateInitFrameworkParams: "UPDATE_INIT_FRAMEWORK_PARAMS",
	SetLogLevel:               "SET_LOG_LEVEL",
	CompileQuickJSBin:         "COMPILE_QUICKJS_BIN",
}

// String returns the wire name of the opcode.
func (m JSMsg) String() string {
	if s, ok := jsMsgNames[m]; ok {
		return s
	}
	return fmt.Sprintf("JSMsg(%d)", uint32(m))
}

// ProxyMsg enumerates script → host requests.
type ProxyMsg uint32

const (
	SetJSVersion ProxyMsg = iota + 1
	ReportException
	CallNative
	CallNativeModule
	CallNativeComponent
	CallAddElement
	CallCreateBody
	CallUpdateFinish
	CallCreateFinish
	CallRefreshFinish
	CallUpdateAttrs
	CallUpdateStyle
	CallRemoveElement
	CallMoveElement
	CallAddEvent
	CallRemoveEvent
	SetTimeout
	SetInterval
	ClearInterval
	NativeLog
	OnReceivedResult
	UpdateComponentData
	PostMessage
	DispatchMessage
	DispatchMessageSync
	CompileQuickJSBinCallback
)

var proxyMsgNames = map[ProxyMsg]string{
	SetJSVersion:              "SET_JS_VERSION",
	ReportException:           "REPORT_EXCEPTION",
	CallNative:                "CALL_NATIVE",
	CallNativeModule:          "CALL_NATIVE_MODULE",
	CallNativeComponent:       "CALL_NATIVE_COMPONENT",
	CallAddElement:            "CALL_ADD_ELEMENT",
	CallCreateBody:            "CALL_CREATE_BODY",
	CallUpdateFinish:          "CALL_UPDATE_FINISH",
	CallCreateFinish:          "CALL_CREATE_FINISH",
	CallRefreshFinish:         "CALL_REFRESH_FINISH",
	CallUpdateAttrs:           "CALL_UPDATE_ATTRS",
	CallUpdateStyle:           "CALL_UPDATE_STYLE",
	CallRemoveElement:         "CALL_REMOVE_ELEMENT",
	CallMoveElement:           "CALL_MOVE_ELEMENT",
	CallAddEvent:              "CALL_ADD_EVENT",
	CallRemoveEvent:           "CALL_REMOVE_EVENT",
	SetTimeout:                "SET_TIMEOUT",
	SetInterval:               "SET_INTERVAL",
	ClearInterval:             "CLEAR_INTERVAL",
	NativeLog:                 "NATIVE_LOG",
	OnReceivedResult:          "ON_RECEIVED_RESULT",
	UpdateComponentData:       "UPDATE_COMPONENT_DATA",
	PostMessage:               "POST_MESSAGE",
	DispatchMessage:           "DISPATCH_MESSAGE",
	DispatchMessageSync:       "DISPATCH_MESSAGE_SYNC",
	CompileQuickJSBinCallback: "COMPILE_QUICKJS_BIN_CALLBACK",
}

func (m ProxyMsg) String() string {
	if s, ok := proxyMsgNames[m]; ok {
		return s
	}
	return fmt.Sprintf("ProxyMsg(%d)", uint32(m))
}
