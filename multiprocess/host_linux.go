// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package multiprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	jsbridge "github.com/buke/js-bridge"
	"github.com/buke/js-bridge/ipc"
)

// ErrRejected is returned when the script side answers a request with a
// failure status.
var ErrRejected = errors.New("multiprocess: request rejected by script process")

// HostClient is the host end of the channel. It sends host requests and
// delivers script messages to a CoreSide.
type HostClient struct {
	channel *ipc.Channel
	core    jsbridge.CoreSide
	logger  *slog.Logger
	timeout time.Duration
}

// NewHostClient registers a handler for every script opcode on channel,
// forwarding to core. A nil core discards script messages.
func NewHostClient(channel *ipc.Channel, core jsbridge.CoreSide, opts ...Option) *HostClient {
	o := newOptions(opts)
	if core == nil {
		core = jsbridge.NopCoreSide{}
	}
	h := &HostClient{channel: channel, core: core, logger: o.logger, timeout: o.callTimeout}
	h.register()
	return h
}

// Start starts the channel.
func (h *HostClient) Start() { h.channel.Start() }

// Done is closed once the script process stops answering.
func (h *HostClient) Done() <-chan struct{} { return h.channel.Done() }

// Close closes the channel, which also stops the script server.
func (h *HostClient) Close() error {
	h.logger.Debug("Closing channel to script process")
	return h.channel.Close()
}

func (h *HostClient) register() {
	core := h.core
	on := func(op ipc.ProxyMsg, fn func(args *ipc.Arguments)) {
		h.channel.RegisterHandler(uint32(op), func(args *ipc.Arguments) *ipc.Serializer {
			fn(args)
			return nil
		})
	}
	reply := func(op ipc.ProxyMsg, fn func(args *ipc.Arguments) *ipc.Serializer) {
		h.channel.RegisterHandler(uint32(op), ipc.Handler(fn))
	}
	int32Reply := func(args *ipc.Arguments, v int32) *ipc.Serializer {
		return ipc.NewSerializer(args.Op()).AddInt32(v)
	}

	on(ipc.SetJSVersion, func(a *ipc.Arguments) { core.SetJSVersion(a.String(0)) })
	on(ipc.ReportException, func(a *ipc.Arguments) { core.ReportException(a.String(0), a.String(1), a.String(2)) })
	on(ipc.CallNative, func(a *ipc.Arguments) { core.CallNative(a.String(0), a.String(1), a.String(2)) })
	reply(ipc.CallNativeModule, func(a *ipc.Arguments) *ipc.Serializer {
		v := core.CallNativeModule(a.String(0), a.String(1), a.String(2), a.Bytes(3), a.Bytes(4))
		return addValue(ipc.NewSerializer(a.Op()), v)
	})
	on(ipc.CallNativeComponent, func(a *ipc.Arguments) {
		core.CallNativeComponent(a.String(0), a.String(1), a.String(2), a.Bytes(3), a.Bytes(4))
	})
	on(ipc.CallAddElement, func(a *ipc.Arguments) { core.CallAddElement(a.String(0), a.String(1), a.Bytes(2), a.String(3)) })
	on(ipc.CallCreateBody, func(a *ipc.Arguments) { core.CallCreateBody(a.String(0), a.Bytes(1)) })
	reply(ipc.CallUpdateFinish, func(a *ipc.Arguments) *ipc.Serializer {
		return int32Reply(a, core.CallUpdateFinish(a.String(0), a.Bytes(1), a.Bytes(2)))
	})
	on(ipc.CallCreateFinish, func(a *ipc.Arguments) { core.CallCreateFinish(a.String(0)) })
	reply(ipc.CallRefreshFinish, func(a *ipc.Arguments) *ipc.Serializer {
		return int32Reply(a, core.CallRefreshFinish(a.String(0), a.String(1), a.String(2)))
	})
	on(ipc.CallUpdateAttrs, func(a *ipc.Arguments) { core.CallUpdateAttrs(a.String(0), a.String(1), a.Bytes(2)) })
	on(ipc.CallUpdateStyle, func(a *ipc.Arguments) { core.CallUpdateStyle(a.String(0), a.String(1), a.Bytes(2)) })
	on(ipc.CallRemoveElement, func(a *ipc.Arguments) { core.CallRemoveElement(a.String(0), a.String(1)) })
	on(ipc.CallMoveElement, func(a *ipc.Arguments) {
		core.CallMoveElement(a.String(0), a.String(1), a.String(2), a.Int32(3))
	})
	on(ipc.CallAddEvent, func(a *ipc.Arguments) { core.CallAddEvent(a.String(0), a.String(1), a.String(2)) })
	on(ipc.CallRemoveEvent, func(a *ipc.Arguments) { core.CallRemoveEvent(a.String(0), a.String(1), a.String(2)) })
	on(ipc.SetTimeout, func(a *ipc.Arguments) { core.SetTimeout(a.String(0), a.String(1)) })
	reply(ipc.SetInterval, func(a *ipc.Arguments) *ipc.Serializer {
		return int32Reply(a, core.SetInterval(a.String(0), a.String(1), a.String(2)))
	})
	on(ipc.ClearInterval, func(a *ipc.Arguments) { core.ClearInterval(a.String(0), a.String(1)) })
	on(ipc.NativeLog, func(a *ipc.Arguments) { core.NativeLog(a.String(0)) })
	on(ipc.OnReceivedResult, func(a *ipc.Arguments) { core.OnReceivedResult(a.Int64(0), a.Bytes(1)) })
	on(ipc.UpdateComponentData, func(a *ipc.Arguments) { core.UpdateComponentData(a.String(0), a.String(1), a.String(2)) })
	on(ipc.PostMessage, func(a *ipc.Arguments) { core.PostMessage(a.String(0), a.Bytes(1)) })
	on(ipc.DispatchMessage, func(a *ipc.Arguments) {
		core.DispatchMessage(a.String(0), a.Bytes(1), a.String(2), a.String(3))
	})
	reply(ipc.DispatchMessageSync, func(a *ipc.Arguments) *ipc.Serializer {
		return ipc.NewSerializer(a.Op()).AddBytes(core.DispatchMessageSync(a.String(0), a.Bytes(1), a.String(2)))
	})
	on(ipc.CompileQuickJSBinCallback, func(a *ipc.Arguments) { core.CompileQuickJSBinCallback(a.String(0), a.Bytes(1)) })
}

func req(op ipc.JSMsg) *ipc.Serializer { return ipc.NewSerializer(uint32(op)) }

func (h *HostClient) post(s *ipc.Serializer) error {
	if err := h.channel.Post(s); err != nil {
		return fmt.Errorf("post %s: %w", ipc.JSMsg(s.Op()), err)
	}
	return nil
}

func (h *HostClient) call(ctx context.Context, s *ipc.Serializer) (*ipc.Arguments, error) {
	if h.timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.timeout)
			defer cancel()
		}
	}
	res, err := h.channel.Call(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", ipc.JSMsg(s.Op()), err)
	}
	return res, nil
}

// callStatus expects an int32 reply of 1.
func (h *HostClient) callStatus(ctx context.Context, s *ipc.Serializer) error {
	res, err := h.call(ctx, s)
	if err != nil {
		return err
	}
	if res.Count() == 0 || res.Type(0) != ipc.TypeInt32 || res.Int32(0) != 1 {
		return fmt.Errorf("%s: %w", ipc.JSMsg(s.Op()), ErrRejected)
	}
	return nil
}

func (h *HostClient) callBytes(ctx context.Context, s *ipc.Serializer) ([]byte, error) {
	res, err := h.call(ctx, s)
	if err != nil {
		return nil, err
	}
	return replyBytes(res), nil
}

func addArgs(s *ipc.Serializer, args []*jsbridge.ValueWithType) *ipc.Serializer {
	for _, v := range args {
		addValue(s, v)
	}
	return s
}

// InitFramework loads the framework source in every engine of the script
// process.
func (h *HostClient) InitFramework(ctx context.Context, source string, params jsbridge.Params) error {
	return h.callStatus(ctx, addParams(req(ipc.InitFramework).AddString(source), params))
}

func (h *HostClient) InitAppFramework(ctx context.Context, instanceID, source string, params jsbridge.Params) error {
	return h.callStatus(ctx, addParams(req(ipc.InitAppFramework).AddString(instanceID).AddString(source), params))
}

func (h *HostClient) CreateAppContext(ctx context.Context, instanceID, source string) error {
	return h.callStatus(ctx, req(ipc.CreateAppContext).AddString(instanceID).AddString(source))
}

func (h *HostClient) ExecJSOnAppWithResult(ctx context.Context, instanceID, source string) ([]byte, error) {
	return h.callBytes(ctx, req(ipc.ExecJSOnAppWithResult).AddString(instanceID).AddString(source))
}

func (h *HostClient) CallJSOnAppContext(ctx context.Context, instanceID, function string, args []*jsbridge.ValueWithType) error {
	return h.callStatus(ctx, addArgs(req(ipc.CallJSOnAppContext).AddString(instanceID).AddString(function), args))
}

func (h *HostClient) DestroyAppContext(ctx context.Context, instanceID string) error {
	return h.callStatus(ctx, req(ipc.DestroyAppContext).AddString(instanceID))
}

func (h *HostClient) ExecJSService(source string) error {
	return h.post(req(ipc.ExecJSService).AddString(source))
}

func (h *HostClient) ExecTimerCallback(source string) error {
	return h.post(req(ipc.ExecTimerCallback).AddString(source))
}

// ExecJS calls namespace.function in the page without waiting.
func (h *HostClient) ExecJS(pageID, namespace, function string, args []*jsbridge.ValueWithType) error {
	return h.post(addArgs(req(ipc.ExecJS).AddString(pageID).AddString(namespace).AddString(function), args))
}

// ExecJSWithResult calls namespace.function in the page and returns the
// wson encoding of its result.
func (h *HostClient) ExecJSWithResult(ctx context.Context, pageID, namespace, function string, args []*jsbridge.ValueWithType) ([]byte, error) {
	return h.callBytes(ctx, addArgs(req(ipc.ExecJSWithResult).AddString(pageID).AddString(namespace).AddString(function), args))
}

// ExecJSWithCallback calls namespace.function in the page. The result comes
// back through CoreSide.OnReceivedResult under callbackID.
func (h *HostClient) ExecJSWithCallback(pageID, namespace, function string, callbackID int64, args []*jsbridge.ValueWithType) error {
	s := req(ipc.ExecJSWithCallback).AddString(pageID).AddString(namespace).AddString(function).AddInt64(callbackID)
	return h.post(addArgs(s, args))
}

// CreateInstance creates a page context without waiting. Failures arrive as
// exception reports.
func (h *HostClient) CreateInstance(r *jsbridge.InstanceRequest) error {
	s := req(ipc.CreateInstance).
		AddString(r.PageID).
		AddString(r.Function).
		AddBytes(r.Script).
		AddString(r.Options).
		AddString(r.InitData).
		AddString(r.ExtendsAPI)
	return h.post(addParams(s, r.Params))
}

func (h *HostClient) DestroyInstance(ctx context.Context, pageID string) error {
	return h.callStatus(ctx, req(ipc.DestroyInstance).AddString(pageID))
}

// ExecJSOnInstance evaluates script in the page and returns the wson
// encoding of its completion value. execType selects bytecode evaluation
// when it is jsbridge.EngineQJSBin.
func (h *HostClient) ExecJSOnInstance(ctx context.Context, pageID, script string, execType int32) ([]byte, error) {
	return h.callBytes(ctx, req(ipc.ExecJSOnInstance).AddString(pageID).AddBytes([]byte(script)).AddInt32(execType))
}

func (h *HostClient) UpdateGlobalConfig(config string) error {
	return h.post(req(ipc.UpdateGlobalConfig).AddString(config))
}

func (h *HostClient) UpdateInitFrameworkParams(key, value, desc string) error {
	return h.post(req(ipc.UpdateInitFrameworkParams).AddString(key).AddString(value).AddString(desc))
}

func (h *HostClient) SetLogLevel(level int32, perf bool) error {
	return h.post(req(ipc.SetLogLevel).AddInt32(level).AddInt32(boolInt(perf)))
}

// CompileQuickJSBin asks for bytecode of source. It arrives through
// CoreSide.CompileQuickJSBinCallback.
func (h *HostClient) CompileQuickJSBin(key, source string) error {
	return h.post(req(ipc.CompileQuickJSBin).AddString(key).AddString(source))
}
