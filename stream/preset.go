// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"fmt"
	"time"
)

// Codec names carried in frame metadata.
const (
	CodecZstd = "zstd"
	CodecLZ4  = "lz4"
)

// Preset is one quality level: capture geometry, frame rate, encoder
// quality, and the compression codec frames are wrapped in.
type Preset struct {
	Name    string
	FPS     int
	Width   int
	Height  int
	Quality int
	Codec   string
}

// FramePeriod is the streaming tick interval.
func (p Preset) FramePeriod() time.Duration {
	return time.Second / time.Duration(p.FPS)
}

// IsGame reports whether the preset belongs to the game ladder.
func (p Preset) IsGame() bool {
	return p.Name == "game" || p.Name == "gamelow"
}

// The preset table. The general ladder (low, medium, high) trades
// resolution and rate for size on zstd; the game ladder (gamelow,
// game) keeps latency low with lz4 and moves only between its two
// steps.
var presets = map[string]Preset{
	"low":     {Name: "low", FPS: 10, Width: 1280, Height: 720, Quality: 40, Codec: CodecZstd},
	"medium":  {Name: "medium", FPS: 15, Width: 1600, Height: 900, Quality: 60, Codec: CodecZstd},
	"high":    {Name: "high", FPS: 30, Width: 1920, Height: 1080, Quality: 80, Codec: CodecZstd},
	"gamelow": {Name: "gamelow", FPS: 30, Width: 1280, Height: 720, Quality: 50, Codec: CodecLZ4},
	"game":    {Name: "game", FPS: 60, Width: 1920, Height: 1080, Quality: 70, Codec: CodecLZ4},
}

// generalLadder orders the non-game presets worst to best.
var generalLadder = []string{"low", "medium", "high"}

// gameLadder orders the game presets worst to best.
var gameLadder = []string{"gamelow", "game"}

// PresetByName looks a preset up.
func PresetByName(name string) (Preset, error) {
	preset, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown stream preset %q", name)
	}
	return preset, nil
}

// stepDown returns the next preset one level worse on the current
// ladder, or the preset itself at the bottom.
func stepDown(current Preset) Preset {
	ladder := generalLadder
	if current.IsGame() {
		ladder = gameLadder
	}
	for i, name := range ladder {
		if name == current.Name {
			if i == 0 {
				return current
			}
			return presets[ladder[i-1]]
		}
	}
	return current
}

// stepUp returns the next preset one level better on the current
// ladder, or the preset itself at the top.
func stepUp(current Preset) Preset {
	ladder := generalLadder
	if current.IsGame() {
		ladder = gameLadder
	}
	for i, name := range ladder {
		if name == current.Name {
			if i == len(ladder)-1 {
				return current
			}
			return presets[ladder[i+1]]
		}
	}
	return current
}
