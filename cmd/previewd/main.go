// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/previewd/previewd/lib/config"
	"github.com/previewd/previewd/lib/ports"
	"github.com/previewd/previewd/lib/process"
	"github.com/previewd/previewd/lib/store"
	"github.com/previewd/previewd/lib/version"
	"github.com/previewd/previewd/preview"
	"github.com/previewd/previewd/sandbox"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath string
		listen     string
		logFormat  string
		logLevel   string
	)

	flagSet := pflag.NewFlagSet("previewd", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "config file path (default: $PREVIEWD_CONFIG, else built-in defaults)")
	flagSet.StringVar(&listen, "listen", "", "HTTP listen address (overrides config)")
	flagSet.StringVar(&logFormat, "log-format", "text", "log output format: text or json")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("previewd %s\n", version.Info())
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	logger, err := newLogger(logFormat, logLevel)
	if err != nil {
		return err
	}

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}

	gate, err := preview.NewLedgerGate(cfg.Ledger)
	if err != nil {
		return fmt.Errorf("loading assembly ledger: %w", err)
	}

	allocator, err := ports.NewAllocator(cfg.Ports.Min, cfg.Ports.Max)
	if err != nil {
		return err
	}

	memoryBytes, err := cfg.Sandbox.MemoryBytes()
	if err != nil {
		return err
	}
	executor, err := sandbox.NewDockerExecutor(sandbox.DockerConfig{
		Image:       cfg.Sandbox.Image,
		CPUs:        cfg.Sandbox.CPUs,
		MemoryBytes: memoryBytes,
		PidsLimit:   cfg.Sandbox.PidsLimit,
	}, logger)
	if err != nil {
		return err
	}

	sessionStore, err := store.NewFileStore(cfg.Store.Dir)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}

	runtime, err := preview.NewRuntime(preview.Options{
		Config: preview.Config{
			InstallTimeout:   cfg.Timeouts.Install.Std(),
			BuildTimeout:     cfg.Timeouts.Build.Std(),
			ReadinessTimeout: cfg.Timeouts.Readiness.Std(),
			TTL:              cfg.Timeouts.TTL.Std(),
		},
		Gate:     gate,
		Ports:    allocator,
		Executor: executor,
		Store:    sessionStore,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: newAPI(runtime, logger),
	}

	serverDone := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serverDone <- err
	}()

	logger.Info("previewd running",
		"listen", cfg.Listen,
		"ports", fmt.Sprintf("%d-%d", cfg.Ports.Min, cfg.Ports.Max),
		"image", cfg.Sandbox.Image,
		"store", cfg.Store.Dir,
	)

	select {
	case err := <-serverDone:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	return <-serverDone
}

// newLogger builds the process logger from the --log-format and
// --log-level flags and installs it as the slog default.
func newLogger(format, level string) (*slog.Logger, error) {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	options := &slog.HandlerOptions{Level: slogLevel}
	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, options)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, options)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
