// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package multiprocess

import (
	"log/slog"
	"time"
)

type options struct {
	logger      *slog.Logger
	callTimeout time.Duration
}

// Option configures a ScriptServer, an IPCCoreSide or a HostClient.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCallTimeout bounds every synchronous call. Without it the channel's
// own call timeout applies.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
