// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

// Screenlink-host shares this machine's screen. It registers with the
// rendezvous server under a connection id and password, waits for a
// viewer to link, answers the viewer's WebRTC offer, and streams
// frames over the data channel — or through the server relay while
// the direct path is down.
//
// Capture and input injection are provider seams: this binary ships
// with a synthetic test-pattern source and a logging injector, which
// platform builds replace.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/screenlink-project/screenlink/lib/clock"
	"github.com/screenlink-project/screenlink/lib/config"
	"github.com/screenlink-project/screenlink/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the client config file (YAML or JSONC)")
	connectionID := flag.String("id", "", "connection id to register under (required)")
	password := flag.String("password", "", "password viewers must present (required)")
	preset := flag.String("preset", "", "override the configured stream preset")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("screenlink-host %s\n", version.Full())
		return nil
	}

	if *connectionID == "" {
		return fmt.Errorf("--id is required")
	}
	if *password == "" {
		return fmt.Errorf("--password is required")
	}

	logger, err := newLogger(*logLevel)
	if err != nil {
		return err
	}

	cfg := config.DefaultClient()
	if *configPath != "" {
		if err := config.Load(*configPath, &cfg); err != nil {
			return err
		}
	}
	if *preset != "" {
		cfg.StreamPreset = *preset
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	host, err := newHost(cfg, logger, clock.Real())
	if err != nil {
		return err
	}
	return host.run(ctx, *connectionID, *password)
}

func newLogger(level string) (*slog.Logger, error) {
	var leveler slog.Level
	if err := leveler.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("bad log level %q: %w", level, err)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: leveler})), nil
}
