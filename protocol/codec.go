// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/screenlink-project/screenlink/lib/codec"
)

// maxFrameSize bounds a single decoded wire frame. File chunks and
// screen frames dominate; 16 MB leaves generous headroom over the
// default 64 KB chunk size.
const maxFrameSize = 16 * 1024 * 1024

// validator is implemented by payloads with required fields. Decode
// runs it after unmarshaling so malformed frames are rejected at the
// boundary instead of deep inside a handler.
type validator interface {
	validate() error
}

// Encode serializes a payload as a flat JSON frame with a leading
// "type" discriminator.
func Encode(payload Payload) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", payload.Kind(), err)
	}

	head, err := json.Marshal(struct {
		Type Kind `json:"type"`
	}{payload.Kind()})
	if err != nil {
		return nil, fmt.Errorf("encoding %s discriminator: %w", payload.Kind(), err)
	}

	if string(body) == "{}" {
		return head, nil
	}
	// Splice the payload fields after the discriminator: the head's
	// closing brace becomes a comma, the body's opening brace is
	// dropped.
	head[len(head)-1] = ','
	return append(head, body[1:]...), nil
}

// Decode parses and validates one JSON wire frame. Unknown kinds
// return ErrUnknownKind; callers decide whether that is a drop (server
// relay boundary) or a logged ignore (client dispatcher).
func Decode(data []byte) (Payload, error) {
	if len(data) > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds maximum %d", len(data), maxFrameSize)
	}

	var tag struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("parsing frame: %w", err)
	}

	factory, ok := payloadFactories[tag.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, tag.Type)
	}

	payload := factory()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, fmt.Errorf("parsing %s payload: %w", tag.Type, err)
	}
	if v, ok := payload.(validator); ok {
		if err := v.validate(); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// binaryEnvelope frames a payload for the P2P data channel. The body
// is itself CBOR, delayed-decoded so the receiving dispatcher can
// route on the kind before paying for the payload.
type binaryEnvelope struct {
	Type Kind             `cbor:"t"`
	Body codec.RawMessage `cbor:"b"`
}

// EncodeBinary serializes a payload as a CBOR envelope for the data
// channel.
func EncodeBinary(payload Payload) ([]byte, error) {
	body, err := codec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", payload.Kind(), err)
	}
	encoded, err := codec.Marshal(binaryEnvelope{Type: payload.Kind(), Body: body})
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", payload.Kind(), err)
	}
	return encoded, nil
}

// DecodeBinary parses and validates one CBOR data-channel envelope.
func DecodeBinary(data []byte) (Payload, error) {
	if len(data) > maxFrameSize {
		return nil, fmt.Errorf("envelope of %d bytes exceeds maximum %d", len(data), maxFrameSize)
	}

	var envelope binaryEnvelope
	if err := codec.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("parsing envelope: %w", err)
	}

	factory, ok := payloadFactories[envelope.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, envelope.Type)
	}

	payload := factory()
	if err := codec.Unmarshal(envelope.Body, payload); err != nil {
		return nil, fmt.Errorf("parsing %s payload: %w", envelope.Type, err)
	}
	if v, ok := payload.(validator); ok {
		if err := v.validate(); err != nil {
			return nil, err
		}
	}
	return payload, nil
}
