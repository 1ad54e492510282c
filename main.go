package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NamanBalaji/nativedl/internal/bridge"
	"github.com/NamanBalaji/nativedl/internal/config"
	"github.com/NamanBalaji/nativedl/internal/engine"
	"github.com/NamanBalaji/nativedl/internal/logger"
	"github.com/NamanBalaji/nativedl/internal/registry"
	"github.com/NamanBalaji/nativedl/internal/repository"
)

// nativedl serves the download registry to a host application over
// stdin/stdout. Anything meant for a human goes to stderr or the log file.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "nativedl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.GetConfig(os.Args[1:])
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := logger.InitLogging(cfg.Debug, cfg.LogPath()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to initialize logging: %v\n", err)
	}
	defer logger.Close()

	repo, err := repository.NewBoltDBRepository(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}

	eng := engine.New(engineConfig(cfg), repo, nil)
	if err := eng.Init(); err != nil {
		_ = repo.Close()
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := registry.New(eng, cfg.RootDir)
	go reg.Run(ctx)

	server := bridge.NewServer(os.Stdin, os.Stdout)
	handler := bridge.NewHandler(reg, server)

	dispatcher := registry.NewDispatcher(reg, handler.PushUpdate)
	detach := dispatcher.Attach()
	defer detach()
	go dispatcher.Run(ctx)

	if _, err := reg.Reattach(ctx); err != nil {
		logger.Errorf("Failed to re-attach engine tasks: %v", err)
	}

	if len(cfg.URLs) > 0 {
		if _, err := reg.CreateMany(ctx, cfg.URLs, nil); err != nil {
			logger.Warnf("Failed to create tasks from the command line: %v", err)
		}
	}

	handler.SyncStatus(ctx)

	logger.Infof("Serving %s (root %s)", cfg.Identifier, cfg.RootDir)
	serveErr := server.Serve(ctx, handler)
	if errors.Is(serveErr, context.Canceled) {
		logger.Infof("Received interrupt signal, shutting down...")
		serveErr = nil
	}

	if err := eng.Shutdown(); err != nil {
		logger.Errorf("Error during engine shutdown: %v", err)
	}
	logger.Infof("Shutdown complete.")

	return serveErr
}

func engineConfig(cfg *config.Config) *engine.Config {
	return &engine.Config{
		MaxConcurrentDownloads: cfg.MaxConcurrentTasks,
		MaxRetries:             cfg.MaxRetries,
		RetryDelay:             cfg.RetryDelay,
		ThrottleSpeed:          cfg.ThrottleSpeed,
		ProgressInterval:       cfg.ProgressInterval,
	}
}
