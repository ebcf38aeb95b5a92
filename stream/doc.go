// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream runs the adaptive screen-streaming loop. A Loop
// captures one frame per tick from an injected FrameSource, encodes
// it with an injected Encoder, compresses the result with the active
// preset's codec, and hands it to the transport. Frames the transport
// refuses are dropped; there is no queue.
//
// Quality adapts once per second on the encoded byte size alone: one
// ladder step down when frames run large, one step up when they run
// small, never more than one step per sample. The game presets form
// their own two-step ladder, decoupled from the general one.
package stream
