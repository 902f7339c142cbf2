// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package multiprocess puts a jsbridge.Bridge behind an ipc.Channel.
//
// The script process runs a ScriptServer, which answers every host request,
// and an IPCCoreSide, which sends what scripts ask of the host. The host
// process drives the script process through a HostClient and receives the
// script's messages on a jsbridge.CoreSide of its own.
package multiprocess
