// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

// Screenlink-server is the rendezvous and relay server. Peers
// register over WebSocket, link to each other by connection id and
// password, exchange WebRTC signaling, and fall back to relaying
// through this process when the direct path fails.
//
// The admin HTTP surface (health, connected clients, access log,
// IP blocking, force disconnect) binds separately from the WebSocket
// endpoint so it can stay on a private interface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/screenlink-project/screenlink/lib/clock"
	"github.com/screenlink-project/screenlink/lib/config"
	"github.com/screenlink-project/screenlink/lib/version"
	"github.com/screenlink-project/screenlink/signaling"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the server config file (YAML or JSONC)")
	listenAddr := flag.String("listen", "", "override the configured WebSocket listen address")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("screenlink-server %s\n", version.Full())
		return nil
	}

	logger, err := newLogger(*logLevel)
	if err != nil {
		return err
	}

	cfg := config.DefaultServer()
	if *configPath != "" {
		if err := config.Load(*configPath, &cfg); err != nil {
			return err
		}
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := signaling.NewServer(cfg, logger, clock.Real())

	// The admin surface runs on its own listener so deployments can
	// keep it off the public interface. Empty AdminAddr disables it.
	adminDone := make(chan error, 1)
	if cfg.AdminAddr != "" {
		admin := &http.Server{
			Addr:        cfg.AdminAddr,
			Handler:     server.Admin(),
			ReadTimeout: 30 * time.Second,
		}
		go func() {
			<-ctx.Done()
			admin.Close()
		}()
		go func() {
			logger.Info("admin surface listening", "addr", cfg.AdminAddr)
			err := admin.ListenAndServe()
			if err == http.ErrServerClosed {
				err = nil
			}
			adminDone <- err
		}()
	} else {
		adminDone <- nil
	}

	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("signaling server: %w", err)
	}
	return <-adminDone
}

func newLogger(level string) (*slog.Logger, error) {
	var leveler slog.Level
	if err := leveler.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("bad log level %q: %w", level, err)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: leveler})), nil
}
