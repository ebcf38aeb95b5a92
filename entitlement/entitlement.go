// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package entitlement

import (
	"time"

	"github.com/screenlink-project/screenlink/lib/clock"
)

// Feature names checked through CanUseFeature.
const (
	FeatureFileTransfer  = "file-transfer"
	FeatureClipboardSync = "clipboard-sync"
	FeatureGameMode      = "game-mode"
)

// Service is the entitlement check consumed by the session machinery.
// Implementations must be safe for concurrent use.
type Service interface {
	// CanStartConnection reports whether a new session may begin.
	CanStartConnection() bool

	// CanUseFeature reports whether the named feature is available.
	CanUseFeature(feature string) bool

	// RemainingSessionTime returns how long the current session may
	// still run. Zero means unlimited.
	RemainingSessionTime() time.Duration
}

// Static is a fixed-policy Service: everything allowed except the
// features explicitly disabled, with an optional session cap counted
// from construction.
type Static struct {
	clock     clock.Clock
	startedAt time.Time

	// sessionCap bounds session length; zero means unlimited.
	sessionCap time.Duration

	disabled map[string]bool
}

// NewStatic creates an allow-all policy. A non-zero sessionCap limits
// session length; disabledFeatures lists features to refuse.
func NewStatic(clk clock.Clock, sessionCap time.Duration, disabledFeatures ...string) *Static {
	disabled := make(map[string]bool, len(disabledFeatures))
	for _, feature := range disabledFeatures {
		disabled[feature] = true
	}
	return &Static{
		clock:      clk,
		startedAt:  clk.Now(),
		sessionCap: sessionCap,
		disabled:   disabled,
	}
}

func (s *Static) CanStartConnection() bool {
	if s.sessionCap == 0 {
		return true
	}
	return s.clock.Now().Sub(s.startedAt) < s.sessionCap
}

func (s *Static) CanUseFeature(feature string) bool {
	return !s.disabled[feature]
}

func (s *Static) RemainingSessionTime() time.Duration {
	if s.sessionCap == 0 {
		return 0
	}
	remaining := s.sessionCap - s.clock.Now().Sub(s.startedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
