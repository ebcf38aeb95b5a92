// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/screenlink-project/screenlink/entitlement"
	"github.com/screenlink-project/screenlink/filetransfer"
	"github.com/screenlink-project/screenlink/lib/clock"
	"github.com/screenlink-project/screenlink/lib/config"
	"github.com/screenlink-project/screenlink/protocol"
	"github.com/screenlink-project/screenlink/session"
	"github.com/screenlink-project/screenlink/stream"
	"github.com/screenlink-project/screenlink/transport"
)

// staleTransferWindow is how long a file transfer may go quiet before
// either side discards it.
const staleTransferWindow = 2 * time.Minute

// host ties the pieces together for the sharing side: the session
// machine keeps the server link, the switch picks between data
// channel and relay, the loop streams frames into the switch, and
// the transfer receiver collects files the viewer pushes.
type host struct {
	logger      *slog.Logger
	clock       clock.Clock
	stunServers []string
	machine     *session.Machine
	relay       *transport.Switch
	sender      *filetransfer.Sender
	receiver    *filetransfer.Receiver
	loop        *stream.Loop
	injector    inputInjector

	mu         sync.Mutex
	negotiator *transport.Negotiator
	streaming  bool
	clipboard  string
}

func newHost(cfg config.Client, logger *slog.Logger, clk clock.Clock) (*host, error) {
	service := entitlement.NewStatic(clk, 0)
	machine := session.NewMachine(cfg, logger, clk, service)
	relay := transport.NewSwitch(machine, logger)

	loop, err := stream.NewLoop(cfg.StreamPreset, newPatternSource(), passthroughEncoder{}, relay, logger, clk)
	if err != nil {
		return nil, err
	}

	h := &host{
		logger:      logger,
		clock:       clk,
		stunServers: cfg.STUNServers,
		machine:     machine,
		relay:       relay,
		sender:      filetransfer.NewSender(relay, cfg.FileChunkSize, cfg.MaxFileSize, staleTransferWindow, logger, clk),
		receiver:    filetransfer.NewReceiver(relay, cfg.DownloadDir, staleTransferWindow, service, logger, clk),
		loop:        loop,
		injector:    logInjector{logger: logger},
	}
	h.receiver.OnResult(func(result filetransfer.Result) {
		if result.Err != nil {
			logger.Warn("file transfer failed", "fileID", result.FileID, "name", result.Name, "error", result.Err)
			return
		}
		logger.Info("file received", "name", result.Name, "path", result.Path)
	})
	machine.SubscribeState(h.onState)
	machine.SubscribeMessages(h.onSignal)
	return h, nil
}

// run registers with the server and serves sessions until ctx is
// cancelled.
func (h *host) run(ctx context.Context, connectionID, password string) error {
	stopReceiveSweep := h.receiver.StartSweep(30 * time.Second)
	defer stopReceiveSweep()
	stopSendSweep := h.sender.StartSweep(30 * time.Second)
	defer stopSendSweep()

	if err := h.machine.Connect(connectionID, password, true); err != nil {
		return fmt.Errorf("registering with server: %w", err)
	}
	h.logger.Info("host registered", "connectionID", connectionID)

	<-ctx.Done()
	h.teardownSession()
	h.machine.Disconnect()
	return nil
}

// onState starts streaming when a viewer links and stops it when the
// session ends, whatever ended it.
func (h *host) onState(state session.State) {
	if state == session.StateSessionActive {
		h.mu.Lock()
		h.streaming = true
		h.mu.Unlock()
		if err := h.loop.Start(); err != nil {
			h.logger.Warn("streaming loop", "error", err)
		}
		h.logger.Info("session active", "partner", h.machine.PartnerID(), "preset", h.loop.Preset().Name)
		return
	}

	h.mu.Lock()
	wasStreaming := h.streaming
	h.streaming = false
	h.mu.Unlock()
	if wasStreaming {
		h.teardownSession()
	}
}

func (h *host) teardownSession() {
	h.loop.Stop()
	h.relay.Detach()

	h.mu.Lock()
	negotiator := h.negotiator
	h.negotiator = nil
	h.mu.Unlock()
	if negotiator != nil {
		negotiator.Close()
	}
}

// onSignal handles payloads arriving over the server link. The host
// is the answering side of the WebRTC negotiation; everything that is
// not signaling goes through the shared route.
func (h *host) onSignal(payload protocol.Payload) {
	switch message := payload.(type) {
	case *protocol.Offer:
		answer, err := h.ensureNegotiator().HandleOffer(message)
		if err != nil {
			h.logger.Warn("handling offer", "error", err)
			return
		}
		if err := h.machine.Send(answer); err != nil {
			h.logger.Warn("sending answer", "error", err)
		}
	case *protocol.ICECandidate:
		h.mu.Lock()
		negotiator := h.negotiator
		h.mu.Unlock()
		if negotiator == nil {
			h.logger.Debug("candidate before offer, dropping")
			return
		}
		if err := negotiator.AddICECandidate(message); err != nil {
			h.logger.Warn("adding candidate", "error", err)
		}
	default:
		h.route(payload)
	}
}

// ensureNegotiator builds the per-session negotiator on the first
// offer; a renegotiation replaces it.
func (h *host) ensureNegotiator() *transport.Negotiator {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.negotiator != nil {
		return h.negotiator
	}
	negotiator := transport.NewNegotiator(h.stunServers, h.logger)
	negotiator.OnLocalCandidate(func(candidate *protocol.ICECandidate) {
		if err := h.machine.Send(candidate); err != nil {
			h.logger.Debug("trickling candidate", "error", err)
		}
	})
	negotiator.SubscribeMessages(h.route)
	h.relay.Attach(negotiator)
	h.negotiator = negotiator
	return negotiator
}

// route dispatches application payloads regardless of which path
// carried them.
func (h *host) route(payload protocol.Payload) {
	if h.receiver.Handle(payload) || h.sender.Handle(payload) {
		return
	}
	switch message := payload.(type) {
	case *protocol.MouseEvent:
		h.injector.Pointer(message.Event)
	case *protocol.KeyboardEvent:
		h.injector.Key(message.Event)
	case *protocol.ClipboardSync:
		h.mu.Lock()
		h.clipboard = message.Content
		h.mu.Unlock()
		h.logger.Debug("clipboard updated", "bytes", len(message.Content))
	default:
		h.logger.Debug("unhandled payload", "kind", payload.Kind())
	}
}
