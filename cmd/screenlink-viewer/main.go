// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

// Screenlink-viewer connects to a shared screen. It registers with
// the rendezvous server under a throwaway connection id, links to the
// target host by id and password, negotiates the direct WebRTC path,
// and consumes the frame stream — headless, reporting frame rate and
// bandwidth instead of rendering. A display build plugs a renderer
// into the same wiring.
//
// With --send-file the viewer pushes one file to the host once the
// session is up.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
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
	target := flag.String("target", "", "connection id of the host to view (required)")
	password := flag.String("password", "", "the host's password")
	sendFile := flag.String("send-file", "", "file to push to the host once connected")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("screenlink-viewer %s\n", version.Full())
		return nil
	}

	if *target == "" {
		return fmt.Errorf("--target is required")
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	viewer, err := newViewer(cfg, logger, clock.Real())
	if err != nil {
		return err
	}
	return viewer.run(ctx, *target, *password, *sendFile)
}

// randomConnectionID generates the viewer's throwaway registration
// id, nine digits like the host ids users read out loud.
func randomConnectionID() string {
	digits := make([]byte, 9)
	for i := range digits {
		digits[i] = '0' + byte(rand.IntN(10))
	}
	return string(digits)
}

func newLogger(level string) (*slog.Logger, error) {
	var leveler slog.Level
	if err := leveler.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("bad log level %q: %w", level, err)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: leveler})), nil
}
