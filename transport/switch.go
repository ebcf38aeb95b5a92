// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"log/slog"
	"sync"

	"github.com/screenlink-project/screenlink/protocol"
)

// RelaySender delivers payloads through the signaling relay. The
// session machine satisfies it.
type RelaySender interface {
	Send(payload protocol.Payload) error
}

// Switch routes session traffic over the data channel while it is
// connected and over the relay otherwise. Senders never see the
// fallback: a frame that cannot go P2P goes through the relay with no
// error, and a frame the relay also cannot take surfaces the relay's
// error.
type Switch struct {
	logger *slog.Logger
	relay  RelaySender

	mu          sync.Mutex
	p2p         *Negotiator
	p2pReady    bool
	unsubscribe func()
}

// NewSwitch creates a switch that starts on the relay path.
func NewSwitch(relay RelaySender, logger *slog.Logger) *Switch {
	return &Switch{logger: logger, relay: relay}
}

// Attach hands the switch a negotiator to prefer. The switch follows
// the negotiator's connection state: connected turns the P2P path on,
// anything else turns it off. Attaching replaces any previous
// negotiator.
func (s *Switch) Attach(negotiator *Negotiator) {
	s.mu.Lock()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.p2p = negotiator
	s.p2pReady = false
	s.mu.Unlock()

	unsubscribe := negotiator.SubscribeState(func(state ConnectionState) {
		ready := state == ConnectionConnected
		s.mu.Lock()
		changed := s.p2pReady != ready
		s.p2pReady = ready
		s.mu.Unlock()
		if changed {
			if ready {
				s.logger.Info("switching to peer-to-peer transport")
			} else {
				s.logger.Info("falling back to relay transport", "p2pState", state)
			}
		}
	})

	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
}

// Detach drops the negotiator and returns to the relay path.
func (s *Switch) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.p2p = nil
	s.p2pReady = false
}

// UsingP2P reports whether the next Deliver will try the data channel.
func (s *Switch) UsingP2P() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p2pReady
}

// Deliver sends one payload over the preferred path. A data channel
// refusal (not open, mid-teardown) falls through to the relay
// silently.
func (s *Switch) Deliver(payload protocol.Payload) error {
	s.mu.Lock()
	p2p := s.p2p
	ready := s.p2pReady
	s.mu.Unlock()

	if ready && p2p != nil && p2p.Send(payload) {
		return nil
	}
	return s.relay.Send(payload)
}
