// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/switchyard/internal/config"
	"github.com/tombee/switchyard/internal/log"
)

// RunOptions configures daemon execution.
type RunOptions struct {
	Version   string
	Commit    string
	BuildDate string

	// ConfigPath is the YAML config file. Empty uses the default location.
	ConfigPath string

	// Overrides applied after the config file and environment.
	Addr          string
	LedgerBackend string
	LedgerPath    string
	LedgerDSN     string
}

// Run starts the daemon and blocks until SIGINT or SIGTERM. It is the
// entry point for both switchyardd and "switchyard serve".
func Run(opts RunOptions) error {
	cfg, err := config.Load(config.ResolvePath(opts.ConfigPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.LedgerBackend != "" {
		cfg.Ledger.Backend = opts.LedgerBackend
	}
	if opts.LedgerPath != "" {
		cfg.Ledger.Path = opts.LedgerPath
	}
	if opts.LedgerDSN != "" {
		cfg.Ledger.DSN = opts.LedgerDSN
	}

	logger := log.New(&log.Config{
		Level:     cfg.Log.Level,
		Format:    log.Format(cfg.Log.Format),
		Output:    os.Stderr,
		AddSource: cfg.Log.AddSource,
	})
	slog.SetDefault(logger)

	d, err := New(cfg, Options{
		Version:   opts.Version,
		Commit:    opts.Commit,
		BuildDate: opts.BuildDate,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("Failed to create daemon", slog.Any("error", err))
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
		cancel()
		if err := d.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	case err := <-errCh:
		if shutdownErr := d.Shutdown(context.Background()); shutdownErr != nil {
			logger.Error("Error during shutdown", slog.Any("error", shutdownErr))
		}
		if err != nil {
			logger.Error("Daemon error", slog.Any("error", err))
			return fmt.Errorf("daemon error: %w", err)
		}
		return nil
	}
}
