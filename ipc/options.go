// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"log/slog"
	"time"
)

// DefaultCallTimeout bounds a synchronous call when the caller's context
// carries no deadline.
const DefaultCallTimeout = 5 * time.Second

// FaultHandler receives unrecoverable protocol faults: malformed frames,
// oversized frames, unknown opcodes and segment shape violations.
type FaultHandler func(err error)

type channelOptions struct {
	callTimeout  time.Duration
	faultHandler FaultHandler
	logger       *slog.Logger
}

// Option configures a Channel.
type Option func(*channelOptions)

// WithCallTimeout sets the default timeout of Call.
func WithCallTimeout(d time.Duration) Option {
	return func(o *channelOptions) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

// WithFaultHandler replaces the default handler, which logs and exits the
// process.
func WithFaultHandler(h FaultHandler) Option {
	return func(o *channelOptions) {
		if h != nil {
			o.faultHandler = h
		}
	}
}

// WithLogger sets the channel logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *channelOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
