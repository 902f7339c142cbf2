// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package multiprocess

import (
	"context"
	"errors"
	"log/slog"

	jsbridge "github.com/buke/js-bridge"
	"github.com/buke/js-bridge/ipc"
)

// ScriptServer answers host requests with a Bridge.
//
// Handlers run on the channel's dispatcher goroutine in arrival order and
// wait for the bridge loop, so a post followed by a call is always served
// in that order.
type ScriptServer struct {
	bridge  *jsbridge.Bridge
	channel *ipc.Channel
	logger  *slog.Logger
}

// NewScriptServer registers a handler for every host opcode on channel.
// The channel must not be started yet.
func NewScriptServer(bridge *jsbridge.Bridge, channel *ipc.Channel, opts ...Option) *ScriptServer {
	o := newOptions(opts)
	s := &ScriptServer{bridge: bridge, channel: channel, logger: o.logger}
	for op, h := range s.handlers() {
		channel.RegisterHandler(uint32(op), h)
	}
	return s
}

func (s *ScriptServer) handlers() map[ipc.JSMsg]ipc.Handler {
	return map[ipc.JSMsg]ipc.Handler{
		ipc.InitFramework:             s.initFramework,
		ipc.InitAppFramework:          s.initAppFramework,
		ipc.CreateAppContext:          s.createAppContext,
		ipc.ExecJSOnAppWithResult:     s.execJSOnAppWithResult,
		ipc.CallJSOnAppContext:        s.callJSOnAppContext,
		ipc.DestroyAppContext:         s.destroyAppContext,
		ipc.ExecJSService:             s.execJSService,
		ipc.ExecTimerCallback:         s.execTimerCallback,
		ipc.ExecJS:                    s.execJS,
		ipc.ExecJSWithResult:          s.execJSWithResult,
		ipc.ExecJSWithCallback:        s.execJSWithCallback,
		ipc.CreateInstance:            s.createInstance,
		ipc.DestroyInstance:           s.destroyInstance,
		ipc.ExecJSOnInstance:          s.execJSOnInstance,
		ipc.UpdateGlobalConfig:        s.updateGlobalConfig,
		ipc.UpdateInitFrameworkParams: s.updateInitFrameworkParams,
		ipc.SetLogLevel:               s.setLogLevel,
		ipc.CompileQuickJSBin:         s.compileQuickJSBin,
	}
}

// Serve starts the channel and blocks until ctx is done or the host closes
// its side. The channel is closed on return.
func (s *ScriptServer) Serve(ctx context.Context) error {
	s.channel.Start()
	s.logger.Info("Script server started")
	select {
	case <-ctx.Done():
		s.logger.Info("Script server stopping", "reason", ctx.Err())
	case <-s.channel.Done():
		s.logger.Info("Host closed the channel")
	}
	return s.channel.Close()
}

// failed logs a request error. Script exceptions were already reported to
// the host by the engine.
func (s *ScriptServer) failed(args *ipc.Arguments, err error) {
	if err == nil {
		return
	}
	op := ipc.JSMsg(args.Op()).String()
	var fault *jsbridge.ScriptFault
	if errors.As(err, &fault) {
		s.logger.Debug("Script request raised an exception", "op", op, "error", err)
		return
	}
	s.logger.Warn("Script request failed", "op", op, "error", err)
}

func (s *ScriptServer) status(args *ipc.Arguments, err error) *ipc.Serializer {
	s.failed(args, err)
	return ipc.NewSerializer(args.Op()).AddInt32(boolInt(err == nil))
}

func (s *ScriptServer) bytes(args *ipc.Arguments, out []byte, err error) *ipc.Serializer {
	s.failed(args, err)
	return ipc.NewSerializer(args.Op()).AddBytes(out)
}

func (s *ScriptServer) initFramework(args *ipc.Arguments) *ipc.Serializer {
	return s.status(args, s.bridge.InitFramework(args.String(0), paramsFrom(args, 1)))
}

func (s *ScriptServer) initAppFramework(args *ipc.Arguments) *ipc.Serializer {
	return s.status(args, s.bridge.InitAppFramework(args.String(0), args.String(1), paramsFrom(args, 2)))
}

func (s *ScriptServer) createAppContext(args *ipc.Arguments) *ipc.Serializer {
	return s.status(args, s.bridge.CreateAppContext(args.String(0), args.String(1)))
}

func (s *ScriptServer) execJSOnAppWithResult(args *ipc.Arguments) *ipc.Serializer {
	out, err := s.bridge.ExecJSOnAppWithResult(args.String(0), args.String(1))
	return s.bytes(args, out, err)
}

func (s *ScriptServer) callJSOnAppContext(args *ipc.Arguments) *ipc.Serializer {
	return s.status(args, s.bridge.CallJSOnAppContext(args.String(0), args.String(1), segmentValues(args, 2)))
}

func (s *ScriptServer) destroyAppContext(args *ipc.Arguments) *ipc.Serializer {
	return s.status(args, s.bridge.DestroyAppContext(args.String(0)))
}

func (s *ScriptServer) execJSService(args *ipc.Arguments) *ipc.Serializer {
	s.failed(args, s.bridge.ExecJSService(args.String(0)))
	return nil
}

func (s *ScriptServer) execTimerCallback(args *ipc.Arguments) *ipc.Serializer {
	s.failed(args, s.bridge.ExecTimerCallback(args.String(0)))
	return nil
}

func (s *ScriptServer) execJS(args *ipc.Arguments) *ipc.Serializer {
	s.failed(args, s.bridge.ExecJS(args.String(0), args.String(1), args.String(2), segmentValues(args, 3)))
	return nil
}

func (s *ScriptServer) execJSWithResult(args *ipc.Arguments) *ipc.Serializer {
	out, err := s.bridge.ExecJSWithResult(args.String(0), args.String(1), args.String(2), segmentValues(args, 3))
	return s.bytes(args, out, err)
}

func (s *ScriptServer) execJSWithCallback(args *ipc.Arguments) *ipc.Serializer {
	err := s.bridge.ExecJSWithCallback(args.String(0), args.String(1), args.String(2), segmentValues(args, 4), args.Int64(3))
	s.failed(args, err)
	return nil
}

func (s *ScriptServer) createInstance(args *ipc.Arguments) *ipc.Serializer {
	req := &jsbridge.InstanceRequest{
		PageID:     args.String(0),
		Function:   args.String(1),
		Script:     args.Bytes(2),
		Options:    args.String(3),
		InitData:   args.String(4),
		ExtendsAPI: args.String(5),
		Params:     paramsFrom(args, 6),
	}
	s.failed(args, s.bridge.CreateInstance(req))
	return nil
}

func (s *ScriptServer) destroyInstance(args *ipc.Arguments) *ipc.Serializer {
	return s.status(args, s.bridge.DestroyInstance(args.String(0)))
}

func (s *ScriptServer) execJSOnInstance(args *ipc.Arguments) *ipc.Serializer {
	out, err := s.bridge.ExecJSOnInstance(args.String(0), args.String(1), args.Int32(2))
	return s.bytes(args, out, err)
}

func (s *ScriptServer) updateGlobalConfig(args *ipc.Arguments) *ipc.Serializer {
	s.failed(args, s.bridge.UpdateGlobalConfig(args.String(0)))
	return nil
}

func (s *ScriptServer) updateInitFrameworkParams(args *ipc.Arguments) *ipc.Serializer {
	s.failed(args, s.bridge.UpdateInitFrameworkParams(args.String(0), args.String(1), args.String(2)))
	return nil
}

func (s *ScriptServer) setLogLevel(args *ipc.Arguments) *ipc.Serializer {
	s.bridge.SetLogLevel(args.Int32(0), args.Int32(1) != 0)
	return nil
}

func (s *ScriptServer) compileQuickJSBin(args *ipc.Arguments) *ipc.Serializer {
	s.failed(args, s.bridge.CompileQuickJSBin(args.String(0), args.String(1)))
	return nil
}
