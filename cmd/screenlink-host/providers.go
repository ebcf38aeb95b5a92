// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"sync/atomic"

	"github.com/screenlink-project/screenlink/protocol"
)

// inputInjector applies remote input to the local desktop. Platform
// builds supply a real one; logInjector is the headless default.
type inputInjector interface {
	Pointer(event protocol.PointerEvent)
	Key(event protocol.KeyEvent)
}

type logInjector struct {
	logger *slog.Logger
}

func (i logInjector) Pointer(event protocol.PointerEvent) {
	i.logger.Debug("pointer event", "action", event.Action, "x", event.X, "y", event.Y, "button", event.Button)
}

func (i logInjector) Key(event protocol.KeyEvent) {
	i.logger.Debug("key event", "action", event.Action, "code", event.Code)
}

// patternSource generates a synthetic RGBA test pattern: a vertical
// gradient with a band that moves one row per frame, so consecutive
// frames differ and the stream is visibly alive. It stands in for
// the platform capture provider.
type patternSource struct {
	frame atomic.Uint64
}

func newPatternSource() *patternSource {
	return &patternSource{}
}

func (s *patternSource) Capture(width, height int) ([]byte, error) {
	count := s.frame.Add(1)
	band := int(count) % height

	pixels := make([]byte, width*height*4)
	for y := range height {
		shade := byte(y * 255 / height)
		if y == band {
			shade = 255
		}
		row := pixels[y*width*4 : (y+1)*width*4]
		for x := 0; x < width*4; x += 4 {
			row[x] = shade
			row[x+1] = shade
			row[x+2] = shade
			row[x+3] = 255
		}
	}
	return pixels, nil
}

// passthroughEncoder ships raw pixels and lets the frame codec's
// compression do the size reduction. A platform encoder (JPEG, VP8)
// replaces it where bandwidth matters; quality is its knob, not
// ours.
type passthroughEncoder struct{}

func (passthroughEncoder) Encode(raw []byte, _ int) ([]byte, error) {
	return raw, nil
}
