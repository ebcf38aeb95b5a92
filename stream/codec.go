// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// FrameCodec wraps the two frame codecs. The zstd encoder and
// decoder are reused across frames; lz4 uses the frame format so
// every output is self-describing. Safe for concurrent use.
type FrameCodec struct {
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
}

func NewFrameCodec() (*FrameCodec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &FrameCodec{zstdEncoder: encoder, zstdDecoder: decoder}, nil
}

// Compress wraps data in the named codec.
func (c *FrameCodec) Compress(codec string, data []byte) ([]byte, error) {
	switch codec {
	case CodecZstd:
		return c.zstdEncoder.EncodeAll(data, nil), nil
	case CodecLZ4:
		var buf bytes.Buffer
		writer := lz4.NewWriter(&buf)
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("lz4 flush: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown codec %q", codec)
	}
}

// Decompress reverses Compress. The viewer side uses it before
// handing pixels to the renderer.
func (c *FrameCodec) Decompress(codec string, data []byte) ([]byte, error) {
	switch codec {
	case CodecZstd:
		out, err := c.zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	case CodecLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", codec)
	}
}
