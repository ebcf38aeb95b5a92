// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/screenlink-project/screenlink/lib/clock"
	"github.com/screenlink-project/screenlink/protocol"
)

// Byte-size thresholds for the once-per-second quality controller. A
// frame larger than downgradeThreshold steps the ladder down; smaller
// than upgradeThreshold steps it up. The gap between them is the
// hysteresis band.
const (
	downgradeThreshold = 200 * 1024
	upgradeThreshold   = 50 * 1024
)

// sampleInterval is how often the controller looks at frame sizes.
const sampleInterval = time.Second

// FrameSource captures raw frames. Implemented by the platform
// capture provider.
type FrameSource interface {
	Capture(width, height int) ([]byte, error)
}

// Encoder turns a raw captured frame into an encoded image at the
// given quality. Implemented by the platform encoder.
type Encoder interface {
	Encode(raw []byte, quality int) ([]byte, error)
}

// FrameSink takes finished frames. The transport switch satisfies it.
type FrameSink interface {
	Deliver(payload protocol.Payload) error
}

// Loop is the adaptive streaming loop. Start runs it until Stop; the
// preset ladder moves on its own, one step per second at most.
type Loop struct {
	logger  *slog.Logger
	clock   clock.Clock
	source  FrameSource
	encoder Encoder
	sink    FrameSink
	codec   *FrameCodec

	mu            sync.Mutex
	preset        Preset
	sequence      uint64
	dropped       uint64
	lastFrameSize int
	stop          chan struct{}
	stopped       chan struct{}
}

// NewLoop creates a loop starting at the named preset.
func NewLoop(presetName string, source FrameSource, encoder Encoder, sink FrameSink, logger *slog.Logger, clk clock.Clock) (*Loop, error) {
	preset, err := PresetByName(presetName)
	if err != nil {
		return nil, err
	}
	codec, err := NewFrameCodec()
	if err != nil {
		return nil, err
	}
	return &Loop{
		logger:  logger,
		clock:   clk,
		source:  source,
		encoder: encoder,
		sink:    sink,
		codec:   codec,
		preset:  preset,
	}, nil
}

// Preset returns the active preset.
func (l *Loop) Preset() Preset {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.preset
}

// Dropped returns the number of frames dropped because the transport
// refused them.
func (l *Loop) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Start launches the streaming goroutine. It returns an error if the
// loop is already running.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		return fmt.Errorf("streaming loop already running")
	}
	l.stop = make(chan struct{})
	l.stopped = make(chan struct{})
	go l.run(l.stop, l.stopped)
	l.logger.Info("streaming started", "preset", l.preset.Name, "fps", l.preset.FPS)
	return nil
}

// Stop halts the loop and waits for the streaming goroutine to
// finish. Safe to call when not running.
func (l *Loop) Stop() {
	l.mu.Lock()
	stop := l.stop
	stopped := l.stopped
	l.stop = nil
	l.stopped = nil
	l.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-stopped
}

func (l *Loop) run(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := l.clock.NewTicker(l.Preset().FramePeriod())
	defer func() { ticker.Stop() }()

	nextSample := l.clock.Now().Add(sampleInterval)

	for {
		select {
		case <-ticker.C:
			l.streamFrame()

			// The controller piggybacks on the frame tick: once the
			// sample interval has elapsed, consider one ladder move.
			now := l.clock.Now()
			if now.Before(nextSample) {
				continue
			}
			nextSample = now.Add(sampleInterval)
			if l.adjustQuality() {
				ticker.Stop()
				ticker = l.clock.NewTicker(l.Preset().FramePeriod())
			}

		case <-stop:
			return
		}
	}
}

// streamFrame captures, encodes, compresses, and delivers one frame.
// Every failure drops the frame and nothing else; the loop never
// stalls on a bad tick.
func (l *Loop) streamFrame() {
	preset := l.Preset()

	raw, err := l.source.Capture(preset.Width, preset.Height)
	if err != nil {
		l.logger.Debug("frame capture failed", "error", err)
		return
	}
	encoded, err := l.encoder.Encode(raw, preset.Quality)
	if err != nil {
		l.logger.Debug("frame encode failed", "error", err)
		return
	}
	compressed, err := l.codec.Compress(preset.Codec, encoded)
	if err != nil {
		l.logger.Warn("frame compression failed", "codec", preset.Codec, "error", err)
		return
	}

	l.mu.Lock()
	l.sequence++
	sequence := l.sequence
	l.lastFrameSize = len(compressed)
	l.mu.Unlock()

	frame := &protocol.ScreenFrame{Frame: protocol.Frame{
		Sequence: sequence,
		Width:    preset.Width,
		Height:   preset.Height,
		Quality:  preset.Quality,
		Codec:    preset.Codec,
		Data:     compressed,
	}}
	if err := l.sink.Deliver(frame); err != nil {
		l.mu.Lock()
		l.dropped++
		dropped := l.dropped
		l.mu.Unlock()
		l.logger.Debug("frame dropped", "sequence", sequence, "dropped", dropped)
	}
}

// adjustQuality moves the ladder at most one step based on the last
// frame's compressed size. Returns true when the preset changed.
func (l *Loop) adjustQuality() bool {
	l.mu.Lock()
	current := l.preset
	size := l.lastFrameSize
	l.mu.Unlock()

	if size == 0 {
		return false
	}

	next := current
	switch {
	case size > downgradeThreshold:
		next = stepDown(current)
	case size < upgradeThreshold:
		next = stepUp(current)
	}
	if next.Name == current.Name {
		return false
	}

	l.mu.Lock()
	l.preset = next
	l.mu.Unlock()
	l.logger.Info("stream quality adjusted",
		"from", current.Name,
		"to", next.Name,
		"frameBytes", size,
	)
	return true
}
