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

// viewer drives the consuming side: register, link to the host,
// offer the WebRTC path, and decode the frames that come back on
// whichever transport delivers them.
type viewer struct {
	logger      *slog.Logger
	clock       clock.Clock
	stunServers []string
	machine     *session.Machine
	relay       *transport.Switch
	sender      *filetransfer.Sender
	receiver    *filetransfer.Receiver
	codec       *stream.FrameCodec

	target   string
	password string
	sendFile string

	// done resolves the run loop: nil error on a clean disconnect,
	// the connect failure otherwise.
	done chan error

	mu          sync.Mutex
	negotiator  *transport.Negotiator
	linked      bool
	frames      uint64
	frameBytes  uint64
	windowStart time.Time
}

func newViewer(cfg config.Client, logger *slog.Logger, clk clock.Clock) (*viewer, error) {
	service := entitlement.NewStatic(clk, 0)
	machine := session.NewMachine(cfg, logger, clk, service)
	relay := transport.NewSwitch(machine, logger)

	codec, err := stream.NewFrameCodec()
	if err != nil {
		return nil, err
	}

	v := &viewer{
		logger:      logger,
		clock:       clk,
		stunServers: cfg.STUNServers,
		machine:     machine,
		relay:       relay,
		sender:      filetransfer.NewSender(relay, cfg.FileChunkSize, cfg.MaxFileSize, staleTransferWindow, logger, clk),
		receiver:    filetransfer.NewReceiver(relay, cfg.DownloadDir, staleTransferWindow, service, logger, clk),
		codec:       codec,
		done:        make(chan error, 1),
	}
	v.receiver.OnResult(func(result filetransfer.Result) {
		if result.Err != nil {
			logger.Warn("file transfer failed", "fileID", result.FileID, "name", result.Name, "error", result.Err)
			return
		}
		logger.Info("file received", "name", result.Name, "path", result.Path)
	})
	machine.SubscribeState(v.onState)
	machine.SubscribeMessages(v.onMessage)
	return v, nil
}

// staleTransferWindow mirrors the host side: quiet transfers are
// discarded after this long, in either direction.
const staleTransferWindow = 2 * time.Minute

func (v *viewer) run(ctx context.Context, target, password, sendFile string) error {
	v.target = target
	v.password = password
	v.sendFile = sendFile

	stopReceiveSweep := v.receiver.StartSweep(30 * time.Second)
	defer stopReceiveSweep()
	stopSendSweep := v.sender.StartSweep(30 * time.Second)
	defer stopSendSweep()

	// Viewers register with an empty password: nobody connects to a
	// viewer.
	if err := v.machine.Connect(randomConnectionID(), "", false); err != nil {
		return fmt.Errorf("registering with server: %w", err)
	}

	select {
	case err := <-v.done:
		v.teardown()
		v.machine.Disconnect()
		return err
	case <-ctx.Done():
		v.teardown()
		v.machine.Disconnect()
		return nil
	}
}

func (v *viewer) onState(state session.State) {
	switch state {
	case session.StateConnected:
		v.mu.Lock()
		alreadyLinked := v.linked
		v.mu.Unlock()
		if alreadyLinked {
			// Back on the server after a session ended.
			v.finish(nil)
			return
		}
		if err := v.machine.ConnectToHost(v.target, v.password); err != nil {
			v.finish(fmt.Errorf("connecting to %s: %w", v.target, err))
		}

	case session.StateSessionActive:
		v.mu.Lock()
		v.linked = true
		v.windowStart = v.clock.Now()
		v.mu.Unlock()
		v.logger.Info("session active", "sessionID", v.machine.SessionID(), "host", v.machine.PartnerID())
		v.openDataChannel()
		if v.sendFile != "" {
			if _, err := v.sender.Offer(v.sendFile); err != nil {
				v.logger.Error("offering file", "path", v.sendFile, "error", err)
			}
		}

	case session.StateError:
		v.finish(fmt.Errorf("connect to %s failed", v.target))

	case session.StateDisconnected:
		v.finish(nil)
	}
}

// openDataChannel starts the WebRTC negotiation: the viewer is always
// the offering side.
func (v *viewer) openDataChannel() {
	negotiator := transport.NewNegotiator(v.stunServers, v.logger)
	negotiator.OnLocalCandidate(func(candidate *protocol.ICECandidate) {
		if err := v.machine.Send(candidate); err != nil {
			v.logger.Debug("trickling candidate", "error", err)
		}
	})
	negotiator.SubscribeMessages(v.route)

	v.mu.Lock()
	previous := v.negotiator
	v.negotiator = negotiator
	v.mu.Unlock()
	if previous != nil {
		previous.Close()
	}
	v.relay.Attach(negotiator)

	offer, err := negotiator.CreateOffer()
	if err != nil {
		// Relay still carries the session; the switch never flips.
		v.logger.Warn("direct path unavailable, staying on relay", "error", err)
		return
	}
	if err := v.machine.Send(offer); err != nil {
		v.logger.Warn("sending offer", "error", err)
	}
}

func (v *viewer) onMessage(payload protocol.Payload) {
	switch message := payload.(type) {
	case *protocol.Answer:
		v.mu.Lock()
		negotiator := v.negotiator
		v.mu.Unlock()
		if negotiator == nil {
			return
		}
		if err := negotiator.HandleAnswer(message); err != nil {
			v.logger.Warn("handling answer", "error", err)
		}
	case *protocol.ICECandidate:
		v.mu.Lock()
		negotiator := v.negotiator
		v.mu.Unlock()
		if negotiator == nil {
			return
		}
		if err := negotiator.AddICECandidate(message); err != nil {
			v.logger.Warn("adding candidate", "error", err)
		}
	default:
		v.route(payload)
	}
}

// route dispatches application payloads from either transport.
func (v *viewer) route(payload protocol.Payload) {
	if v.receiver.Handle(payload) || v.sender.Handle(payload) {
		return
	}
	switch message := payload.(type) {
	case *protocol.ScreenFrame:
		v.onFrame(message)
	case *protocol.ClipboardSync:
		v.logger.Debug("clipboard from host", "bytes", len(message.Content))
	default:
		v.logger.Debug("unhandled payload", "kind", payload.Kind())
	}
}

// onFrame decodes a frame and folds it into the once-per-second
// throughput report. A display build hands the pixels to its
// renderer here.
func (v *viewer) onFrame(frame *protocol.ScreenFrame) {
	pixels, err := v.codec.Decompress(frame.Frame.Codec, frame.Frame.Data)
	if err != nil {
		v.logger.Warn("frame decompress failed", "sequence", frame.Frame.Sequence, "error", err)
		return
	}

	v.mu.Lock()
	v.frames++
	v.frameBytes += uint64(len(frame.Frame.Data))
	elapsed := v.clock.Now().Sub(v.windowStart)
	if elapsed < time.Second {
		v.mu.Unlock()
		return
	}
	frames, bytes := v.frames, v.frameBytes
	v.frames, v.frameBytes = 0, 0
	v.windowStart = v.clock.Now()
	v.mu.Unlock()

	v.logger.Info("stream report",
		"fps", float64(frames)/elapsed.Seconds(),
		"kbps", float64(bytes)*8/elapsed.Seconds()/1000,
		"direct", v.relay.UsingP2P(),
		"geometry", fmt.Sprintf("%dx%d", frame.Frame.Width, frame.Frame.Height),
		"decodedBytes", len(pixels),
	)
}

// finish resolves the run loop once; later outcomes are dropped.
func (v *viewer) finish(err error) {
	select {
	case v.done <- err:
	default:
	}
}

func (v *viewer) teardown() {
	v.relay.Detach()
	v.mu.Lock()
	negotiator := v.negotiator
	v.negotiator = nil
	v.mu.Unlock()
	if negotiator != nil {
		negotiator.Close()
	}
}
