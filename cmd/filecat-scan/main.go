// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command filecat-scan walks a directory tree, computes content identity
// for every regular file (descending into ZIP/TAR/RAR archives when
// enabled), and records the result in a local catalog database.
//
// Usage:
//
//	filecat-scan [options] <path>
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/filecat/internal/archive"
	"github.com/kraklabs/filecat/internal/catalog"
	"github.com/kraklabs/filecat/internal/config"
	scanerrors "github.com/kraklabs/filecat/internal/errors"
	"github.com/kraklabs/filecat/internal/metrics"
	"github.com/kraklabs/filecat/internal/scan"
)

func main() {
	machineName := flag.String("machine-name", defaultMachineName(), "label stored in every written FileRecord")
	dbPath := flag.String("db-path", "indexer.db", "catalog file location")
	logPath := flag.String("log-path", "indexer.log", "scan log file")
	configPath := flag.String("config", "", "path to a YAML configuration file")
	metricsHost := flag.String("metrics-host", "0.0.0.0", "bind address for the metrics endpoint")
	metricsPort := flag.Int("metrics-port", -1, "bind port for the metrics endpoint; 0 auto-selects from 9000; omit to disable")
	jsonErrors := flag.Bool("json", false, "emit fatal errors as JSON instead of text")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: filecat-scan [options] <path>

Walks <path>, hashes every regular file (and, unless disabled, the
contents of ZIP/TAR/RAR archives it finds), and records the result in a
local catalog database. Re-running against an unchanged tree is a no-op:
only files whose size or modification time changed are re-hashed.

Options:
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	root := flag.Arg(0)

	logger, closeLog := setupLogger(*logPath)
	defer closeLog()
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		scanerrors.FatalError(scanerrors.NewInitError(
			"Cannot load configuration",
			err.Error(),
			"Check the --config file is valid YAML",
			err,
		), *jsonErrors)
	}

	store, err := catalog.Open(*dbPath, logger)
	if err != nil {
		scanerrors.FatalError(scanerrors.NewInitError(
			"Cannot open catalog database",
			fmt.Sprintf("failed to open %s", *dbPath),
			"Check the path is writable and not locked by another process",
			err,
		), *jsonErrors)
	}
	defer store.Close()

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), 5*time.Second)
	if err := store.HealthCheck(healthCtx); err != nil {
		cancelHealth()
		scanerrors.FatalError(scanerrors.NewHealthCheckError(err), *jsonErrors)
	}
	cancelHealth()

	metricsEnabled := *metricsPort >= 0
	exporter := metrics.New(metricsEnabled, *machineName)
	if metricsEnabled {
		if err := exporter.Listen(*metricsHost, *metricsPort, logger); err != nil {
			scanerrors.FatalError(scanerrors.NewInitError(
				"Cannot start metrics endpoint",
				err.Error(), "Choose a different --metrics-port or disable it", err,
			), *jsonErrors)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var interrupted atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		interrupted.Store(true)
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()

	progress := scan.NewConsoleProgress(os.Stdout, 0)
	coordinator := &scan.Coordinator{
		Store:    store,
		Registry: archive.NewRegistry(),
		Metrics:  exporter,
		Logger:   logger,
		Config:   cfg,
		Machine:  *machineName,
		Progress: progress.Update,
	}

	start := time.Now()
	result, err := coordinator.Run(ctx, root)
	progress.Finish()
	dur := time.Since(start)

	if metricsEnabled {
		closeCtx, cancelClose := context.WithTimeout(context.Background(), 5*time.Second)
		_ = exporter.Close(closeCtx)
		cancelClose()
	}

	scan.Summary(os.Stdout, result, dur)

	if err != nil && interrupted.Load() {
		os.Exit(2)
	}
	if err != nil {
		scanerrors.FatalError(scanerrors.NewInitError("Scan failed", err.Error(), "", err), *jsonErrors)
	}
	os.Exit(0)
}

func defaultMachineName() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}

// setupLogger opens logPath for appending and returns a logger writing
// structured JSON lines to it, plus a closer. Matches the teacher's
// log/slog usage in cmd/cie, redirected to a file per spec §6.
func setupLogger(logPath string) (*slog.Logger, func()) {
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		logger.Warn("log.open.error", "path", logPath, "err", err)
		return logger, func() {}
	}
	logger := slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo}))
	return logger, func() { _ = f.Close() }
}
