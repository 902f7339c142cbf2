// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package multiprocess

import (
	"context"
	"errors"
	"log/slog"
	"time"

	jsbridge "github.com/buke/js-bridge"
	"github.com/buke/js-bridge/ipc"
)

// IPCCoreSide sends script messages to the host over a channel.
//
// Calls that time out or fail degrade to the zero result. A nil channel
// turns every method into a no-op.
type IPCCoreSide struct {
	channel *ipc.Channel
	logger  *slog.Logger
	timeout time.Duration
}

var _ jsbridge.CoreSide = (*IPCCoreSide)(nil)

// NewIPCCoreSide returns a CoreSide writing to channel.
func NewIPCCoreSide(channel *ipc.Channel, opts ...Option) *IPCCoreSide {
	o := newOptions(opts)
	return &IPCCoreSide{channel: channel, logger: o.logger, timeout: o.callTimeout}
}

func (c *IPCCoreSide) post(s *ipc.Serializer) {
	if c == nil || c.channel == nil {
		return
	}
	if err := c.channel.Post(s); err != nil {
		c.logger.Error("Failed to post to host", "op", ipc.ProxyMsg(s.Op()).String(), "error", err)
	}
}

// call returns nil when no reply arrived.
func (c *IPCCoreSide) call(s *ipc.Serializer) *ipc.Arguments {
	if c == nil || c.channel == nil {
		return nil
	}
	ctx := context.Background()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	res, err := c.channel.Call(ctx, s)
	if err != nil {
		op := ipc.ProxyMsg(s.Op()).String()
		if errors.Is(err, ipc.ErrClosed) {
			c.logger.Debug("Host call on closed channel", "op", op)
		} else {
			c.logger.Warn("Host call failed, using empty result", "op", op, "error", err)
		}
		return nil
	}
	return res
}

func (c *IPCCoreSide) callInt32(s *ipc.Serializer) int32 {
	res := c.call(s)
	if res == nil || res.Count() == 0 || res.Type(0) != ipc.TypeInt32 {
		return 0
	}
	return res.Int32(0)
}

func msg(op ipc.ProxyMsg) *ipc.Serializer { return ipc.NewSerializer(uint32(op)) }

func (c *IPCCoreSide) SetJSVersion(version string) {
	c.post(msg(ipc.SetJSVersion).AddString(version))
}

func (c *IPCCoreSide) ReportException(pageID, function, message string) {
	c.post(msg(ipc.ReportException).AddString(pageID).AddString(function).AddString(message))
}

func (c *IPCCoreSide) CallNative(pageID, task, callback string) {
	c.post(msg(ipc.CallNative).AddString(pageID).AddString(task).AddString(callback))
}

func (c *IPCCoreSide) CallNativeModule(pageID, module, method string, args, options []byte) *jsbridge.ValueWithType {
	res := c.call(msg(ipc.CallNativeModule).
		AddString(pageID).AddString(module).AddString(method).AddBytes(args).AddBytes(options))
	return replyValue(res)
}

func (c *IPCCoreSide) CallNativeComponent(pageID, ref, method string, args, options []byte) {
	c.post(msg(ipc.CallNativeComponent).
		AddString(pageID).AddString(ref).AddString(method).AddBytes(args).AddBytes(options))
}

func (c *IPCCoreSide) CallAddElement(pageID, parentRef string, dom []byte, index string) {
	c.post(msg(ipc.CallAddElement).AddString(pageID).AddString(parentRef).AddBytes(dom).AddString(index))
}

func (c *IPCCoreSide) CallCreateBody(pageID string, dom []byte) {
	c.post(msg(ipc.CallCreateBody).AddString(pageID).AddBytes(dom))
}

func (c *IPCCoreSide) CallUpdateFinish(pageID string, task, callback []byte) int32 {
	return c.callInt32(msg(ipc.CallUpdateFinish).AddString(pageID).AddBytes(task).AddBytes(callback))
}

func (c *IPCCoreSide) CallCreateFinish(pageID string) {
	c.post(msg(ipc.CallCreateFinish).AddString(pageID))
}

func (c *IPCCoreSide) CallRefreshFinish(pageID, task, callback string) int32 {
	return c.callInt32(msg(ipc.CallRefreshFinish).AddString(pageID).AddString(task).AddString(callback))
}

func (c *IPCCoreSide) CallUpdateAttrs(pageID, ref string, data []byte) {
	c.post(msg(ipc.CallUpdateAttrs).AddString(pageID).AddString(ref).AddBytes(data))
}

func (c *IPCCoreSide) CallUpdateStyle(pageID, ref string, data []byte) {
	c.post(msg(ipc.CallUpdateStyle).AddString(pageID).AddString(ref).AddBytes(data))
}

func (c *IPCCoreSide) CallRemoveElement(pageID, ref string) {
	c.post(msg(ipc.CallRemoveElement).AddString(pageID).AddString(ref))
}

func (c *IPCCoreSide) CallMoveElement(pageID, ref, parentRef string, index int32) {
	c.post(msg(ipc.CallMoveElement).AddString(pageID).AddString(ref).AddString(parentRef).AddInt32(index))
}

func (c *IPCCoreSide) CallAddEvent(pageID, ref, event string) {
	c.post(msg(ipc.CallAddEvent).AddString(pageID).AddString(ref).AddString(event))
}

func (c *IPCCoreSide) CallRemoveEvent(pageID, ref, event string) {
	c.post(msg(ipc.CallRemoveEvent).AddString(pageID).AddString(ref).AddString(event))
}

func (c *IPCCoreSide) SetTimeout(callbackID, time string) {
	c.post(msg(ipc.SetTimeout).AddString(callbackID).AddString(time))
}

func (c *IPCCoreSide) SetInterval(pageID, callbackID, time string) int32 {
	return c.callInt32(msg(ipc.SetInterval).AddString(pageID).AddString(callbackID).AddString(time))
}

func (c *IPCCoreSide) ClearInterval(pageID, callbackID string) {
	c.post(msg(ipc.ClearInterval).AddString(pageID).AddString(callbackID))
}

func (c *IPCCoreSide) NativeLog(message string) {
	c.post(msg(ipc.NativeLog).AddString(message))
}

func (c *IPCCoreSide) OnReceivedResult(callbackID int64, result []byte) {
	c.post(msg(ipc.OnReceivedResult).AddInt64(callbackID).AddBytes(result))
}

func (c *IPCCoreSide) UpdateComponentData(pageID, cid, json string) {
	c.post(msg(ipc.UpdateComponentData).AddString(pageID).AddString(cid).AddString(json))
}

func (c *IPCCoreSide) PostMessage(vmID string, data []byte) {
	c.post(msg(ipc.PostMessage).AddString(vmID).AddBytes(data))
}

func (c *IPCCoreSide) DispatchMessage(clientID string, data []byte, callback, vmID string) {
	c.post(msg(ipc.DispatchMessage).AddString(clientID).AddBytes(data).AddString(callback).AddString(vmID))
}

func (c *IPCCoreSide) DispatchMessageSync(clientID string, data []byte, vmID string) []byte {
	res := c.call(msg(ipc.DispatchMessageSync).AddString(clientID).AddBytes(data).AddString(vmID))
	return replyBytes(res)
}

func (c *IPCCoreSide) CompileQuickJSBinCallback(key string, bytecode []byte) {
	c.post(msg(ipc.CompileQuickJSBinCallback).AddString(key).AddBytes(bytecode))
}
