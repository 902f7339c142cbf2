// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

//go:build linux

// Command js-bridge-server is the script process. It attaches to the shared
// memory region a host created and serves its requests until the host
// closes the channel or the process is signalled.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	jsbridge "github.com/buke/js-bridge"
	gojaengine "github.com/buke/js-bridge/engines/goja"
	quickjsengine "github.com/buke/js-bridge/engines/quickjs-go"
	"github.com/buke/js-bridge/ipc"
	"github.com/buke/js-bridge/multiprocess"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand(&config{}).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newCommand(cfg *config) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "js-bridge-server",
		Short:        "Run page scripts for a host over shared memory",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	cfg.bind(cmd)
	return cmd
}

// engineFactories builds the engines the process carries from cfg.
func engineFactories(cfg *config) ([]jsbridge.EngineFactory, error) {
	var gojaOpts []jsbridge.EngineOption
	target, ok, err := cfg.target()
	if err != nil {
		return nil, err
	}
	if ok {
		gojaOpts = append(gojaOpts, gojaengine.WithSyntaxTarget(target))
	}
	if cfg.maxCallStack > 0 {
		gojaOpts = append(gojaOpts, gojaengine.WithMaxCallStackSize(cfg.maxCallStack))
	}

	qjsOpts := []jsbridge.EngineOption{
		quickjsengine.WithMemoryLimit(cfg.memoryLimit),
		quickjsengine.WithTimeout(cfg.execTimeout),
	}
	if cfg.maxStackSize > 0 {
		qjsOpts = append(qjsOpts, quickjsengine.WithMaxStackSize(cfg.maxStackSize))
	}
	return []jsbridge.EngineFactory{
		gojaengine.NewFactory(gojaOpts...),
		quickjsengine.NewFactory(qjsOpts...),
	}, nil
}

func openRegion(cfg *config, logger *slog.Logger) (*ipc.Region, error) {
	if cfg.fd >= 0 {
		region, err := ipc.OpenRegion(cfg.fd)
		if err != nil {
			return nil, fmt.Errorf("failed to open shared memory fd %d: %w", cfg.fd, err)
		}
		return region, nil
	}
	region, err := ipc.CreateRegion("js-bridge", cfg.ringSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared memory region: %w", err)
	}
	logger.Info("Created shared memory region", "pid", os.Getpid(), "fd", region.Fd(), "ring_size", region.RingSize())
	return region, nil
}

func run(ctx context.Context, cfg *config) error {
	level, err := cfg.level()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	kind, err := cfg.engineKind()
	if err != nil {
		return err
	}
	factories, err := engineFactories(cfg)
	if err != nil {
		return err
	}

	region, err := openRegion(cfg, logger)
	if err != nil {
		return err
	}
	defer region.Close()

	channel := ipc.NewChannel(region, ipc.SideScript,
		ipc.WithLogger(logger),
		ipc.WithCallTimeout(cfg.callTimeout),
	)
	core := multiprocess.NewIPCCoreSide(channel,
		multiprocess.WithLogger(logger),
		multiprocess.WithCallTimeout(cfg.callTimeout),
	)

	opts := []jsbridge.Option{
		jsbridge.WithLogger(logger),
		jsbridge.WithLevel(level),
		jsbridge.WithDefaultEngine(kind),
	}
	for _, f := range factories {
		opts = append(opts, jsbridge.WithEngine(f))
	}
	bridge := jsbridge.NewBridge(core, opts...)
	defer func() {
		if cerr := bridge.Close(); cerr != nil {
			logger.Warn("Failed to close bridge", "error", cerr)
		}
	}()

	logger.Info("Script process ready", "default_engine", kind.String(), "ring_size", region.RingSize())
	return multiprocess.NewScriptServer(bridge, channel, multiprocess.WithLogger(logger)).Serve(ctx)
}
