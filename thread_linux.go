// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package jsbridge

import "golang.org/x/sys/unix"

// threadID identifies the calling OS thread. The loop goroutine is locked to
// its thread, so no other goroutine can observe the same id.
func threadID() int64 {
	return int64(unix.Gettid())
}
