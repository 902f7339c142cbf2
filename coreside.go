// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

// CoreSide is the host as seen from script code. Each method maps to one
// script → host message; methods with a result block on the host.
type CoreSide interface {
	SetJSVersion(version string)
	ReportException(pageID, function, message string)

	CallNative(pageID, task, callback string)
	CallNativeModule(pageID, module, method string, args, options []byte) *ValueWithType
	CallNativeComponent(pageID, ref, method string, args, options []byte)
	CallAddElement(pageID, parentRef string, dom []byte, index string)
	CallCreateBody(pageID string, dom []byte)
	CallUpdateFinish(pageID string, task, callback []byte) int32
	CallCreateFinish(pageID string)
	CallRefreshFinish(pageID, task, callback string) int32
	CallUpdateAttrs(pageID, ref string, data []byte)
	CallUpdateStyle(pageID, ref string, data []byte)
	CallRemoveElement(pageID, ref string)
	CallMoveElement(pageID, ref, parentRef string, index int32)
	CallAddEvent(pageID, ref, event string)
	CallRemoveEvent(pageID, ref, event string)

	SetTimeout(callbackID, time string)
	SetInterval(pageID, callbackID, time string) int32
	ClearInterval(pageID, callbackID string)

	NativeLog(message string)
	OnReceivedResult(callbackID int64, result []byte)
	UpdateComponentData(pageID, cid, json string)

	PostMessage(vmID string, data []byte)
	DispatchMessage(clientID string, data []byte, callback, vmID string)
	DispatchMessageSync(clientID string, data []byte, vmID string) []byte

	CompileQuickJSBinCallback(key string, bytecode []byte)
}

// NopCoreSide discards every message and answers calls with zero values.
// Embed it to implement only part of CoreSide.
type NopCoreSide struct{}

var _ CoreSide = NopCoreSide{}

func (NopCoreSide) SetJSVersion(string)                    {}
func (NopCoreSide) ReportException(string, string, string) {}
func (NopCoreSide) CallNative(string, string, string)      {}
func (NopCoreSide) CallNativeModule(string, string, string, []byte, []byte) *ValueWithType {
	return VoidValue()
}
func (NopCoreSide) CallNativeComponent(string, string, string, []byte, []byte) {}
func (NopCoreSide) CallAddElement(string, string, []byte, string)              {}
func (NopCoreSide) CallCreateBody(string, []byte)                              {}
func (NopCoreSide) CallUpdateFinish(string, []byte, []byte) int32              { return 0 }
func (NopCoreSide) CallCreateFinish(string)                                    {}
func (NopCoreSide) CallRefreshFinish(string, string, string) int32             { return 0 }
func (NopCoreSide) CallUpdateAttrs(string, string, []byte)                     {}
func (NopCoreSide) CallUpdateStyle(string, string, []byte)                     {}
func (NopCoreSide) CallRemoveElement(string, string)                           {}
func (NopCoreSide) CallMoveElement(string, string, string, int32)              {}
func (NopCoreSide) CallAddEvent(string, string, string)                        {}
func (NopCoreSide) CallRemoveEvent(string, string, string)                     {}
func (NopCoreSide) SetTimeout(string, string)                                  {}
func (NopCoreSide) SetInterval(string, string, string) int32                   { return 0 }
func (NopCoreSide) ClearInterval(string, string)                               {}
func (NopCoreSide) NativeLog(string)                                           {}
func (NopCoreSide) OnReceivedResult(int64, []byte)                             {}
func (NopCoreSide) UpdateComponentData(string, string, string)                 {}
func (NopCoreSide) PostMessage(string, []byte)                                 {}
func (NopCoreSide) DispatchMessage(string, []byte, string, string)             {}
func (NopCoreSide) DispatchMessageSync(string, []byte, string) []byte          { return nil }
func (NopCoreSide) CompileQuickJSBinCallback(string, []byte)                   {}
