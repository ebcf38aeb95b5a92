// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"bytes"
	"testing"
	"time"
)

func TestPresetByName(t *testing.T) {
	preset, err := PresetByName("high")
	if err != nil {
		t.Fatalf("PresetByName: %v", err)
	}
	if preset.FPS != 30 || preset.Codec != CodecZstd {
		t.Errorf("high = %+v", preset)
	}
	if _, err := PresetByName("ultra"); err == nil {
		t.Error("unknown preset accepted")
	}
}

func TestFramePeriod(t *testing.T) {
	preset, _ := PresetByName("game")
	if got := preset.FramePeriod(); got != time.Second/60 {
		t.Errorf("period = %v", got)
	}
}

func TestLadderSteps(t *testing.T) {
	tests := []struct {
		from     string
		down, up string
	}{
		{"low", "low", "medium"},
		{"medium", "low", "high"},
		{"high", "medium", "high"},
		{"gamelow", "gamelow", "game"},
		{"game", "gamelow", "game"},
	}
	for _, test := range tests {
		preset, err := PresetByName(test.from)
		if err != nil {
			t.Fatalf("PresetByName(%q): %v", test.from, err)
		}
		if got := stepDown(preset).Name; got != test.down {
			t.Errorf("stepDown(%s) = %s, want %s", test.from, got, test.down)
		}
		if got := stepUp(preset).Name; got != test.up {
			t.Errorf("stepUp(%s) = %s, want %s", test.from, got, test.up)
		}
	}
}

func TestFrameCodecRoundTrip(t *testing.T) {
	codec, err := NewFrameCodec()
	if err != nil {
		t.Fatalf("NewFrameCodec: %v", err)
	}
	data := bytes.Repeat([]byte("screenlink frame data "), 500)

	for _, name := range []string{CodecZstd, CodecLZ4} {
		compressed, err := codec.Compress(name, data)
		if err != nil {
			t.Fatalf("Compress(%s): %v", name, err)
		}
		if len(compressed) >= len(data) {
			t.Errorf("%s did not shrink repetitive data: %d >= %d", name, len(compressed), len(data))
		}
		restored, err := codec.Decompress(name, compressed)
		if err != nil {
			t.Fatalf("Decompress(%s): %v", name, err)
		}
		if !bytes.Equal(restored, data) {
			t.Errorf("%s round trip mismatch", name)
		}
	}
}

func TestFrameCodecRejectsUnknown(t *testing.T) {
	codec, err := NewFrameCodec()
	if err != nil {
		t.Fatalf("NewFrameCodec: %v", err)
	}
	if _, err := codec.Compress("brotli", nil); err == nil {
		t.Error("unknown compress codec accepted")
	}
	if _, err := codec.Decompress("brotli", nil); err == nil {
		t.Error("unknown decompress codec accepted")
	}
}
