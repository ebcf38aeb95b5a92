// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/json"
	"fmt"
)

// Kind is the wire discriminator carried in every frame's "type" field.
type Kind string

const (
	KindRegister           Kind = "register"
	KindRegistered         Kind = "registered"
	KindConnect            Kind = "connect"
	KindConnectSuccess     Kind = "connect-success"
	KindConnectError       Kind = "connect-error"
	KindIncomingConnection Kind = "incoming-connection"
	KindOffer              Kind = "offer"
	KindAnswer             Kind = "answer"
	KindICECandidate       Kind = "ice-candidate"
	KindRelay              Kind = "relay"
	KindRelayed            Kind = "relayed"
	KindScreenFrame        Kind = "screen-frame"
	KindMouseEvent         Kind = "mouse-event"
	KindKeyboardEvent      Kind = "keyboard-event"
	KindClipboardSync      Kind = "clipboard-sync"
	KindFileStart          Kind = "file-start"
	KindFileReady          Kind = "file-ready"
	KindFileChunk          Kind = "file-chunk"
	KindFileChunkAck       Kind = "file-chunk-ack"
	KindFileChunkRetry     Kind = "file-chunk-retry"
	KindFileComplete       Kind = "file-complete"
	KindFileCancel         Kind = "file-cancel"
	KindDisconnect         Kind = "disconnect"
	KindDisconnected       Kind = "disconnected"
	KindPing               Kind = "ping"
	KindPong               Kind = "pong"
)

// Payload is one decoded wire message. The set of implementations is
// closed: Decode only ever returns types declared in this package.
type Payload interface {
	// Kind returns the wire discriminator for this payload.
	Kind() Kind
}

// Register announces a peer to the rendezvous server under a
// connection id. Password is the Argon2id hash produced by
// HashPassword; the plaintext never crosses the wire.
type Register struct {
	ConnectionID string `json:"connectionId"`
	Password     string `json:"password"`
	IsHost       bool   `json:"isHost"`
}

func (*Register) Kind() Kind { return KindRegister }

func (m *Register) validate() error {
	if m.ConnectionID == "" {
		return fmt.Errorf("register: connectionId is required")
	}
	return nil
}

// Registered confirms a successful registration.
type Registered struct {
	ConnectionID string `json:"connectionId"`
}

func (*Registered) Kind() Kind { return KindRegistered }

// Connect asks the server to link this peer to the target. Password is
// the hash of the viewer-supplied password salted with the target's
// connection id.
type Connect struct {
	TargetConnectionID string `json:"targetConnectionId"`
	Password           string `json:"password"`
}

func (*Connect) Kind() Kind { return KindConnect }

func (m *Connect) validate() error {
	if m.TargetConnectionID == "" {
		return fmt.Errorf("connect: targetConnectionId is required")
	}
	return nil
}

// ConnectSuccess tells the requester the link is up.
type ConnectSuccess struct {
	SessionID          string `json:"sessionId"`
	TargetConnectionID string `json:"targetConnectionId"`
}

func (*ConnectSuccess) Kind() Kind { return KindConnectSuccess }

// ConnectError reports a failed connect attempt. Error is one of the
// canonical reason strings (ReasonNotFound, ReasonInvalidPassword,
// ReasonLockedOut).
type ConnectError struct {
	Error string `json:"error"`
}

func (*ConnectError) Kind() Kind { return KindConnectError }

// IncomingConnection tells the target peer a viewer has linked to it.
type IncomingConnection struct {
	SessionID        string `json:"sessionId"`
	FromConnectionID string `json:"fromConnectionId"`
}

func (*IncomingConnection) Kind() Kind { return KindIncomingConnection }

// Offer carries a WebRTC SDP offer through the signaling channel.
type Offer struct {
	SDP string `json:"sdp"`
}

func (*Offer) Kind() Kind { return KindOffer }

func (m *Offer) validate() error {
	if m.SDP == "" {
		return fmt.Errorf("offer: sdp is required")
	}
	return nil
}

// Answer carries a WebRTC SDP answer through the signaling channel.
type Answer struct {
	SDP string `json:"sdp"`
}

func (*Answer) Kind() Kind { return KindAnswer }

func (m *Answer) validate() error {
	if m.SDP == "" {
		return fmt.Errorf("answer: sdp is required")
	}
	return nil
}

// ICECandidate carries one trickled ICE candidate. Field names match
// the WebRTC ICECandidateInit dictionary.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

func (*ICECandidate) Kind() Kind { return KindICECandidate }

// Relay is an opaque application payload forwarded to the linked peer,
// who receives it as Relayed.
type Relay struct {
	Data json.RawMessage `json:"data"`
}

func (*Relay) Kind() Kind { return KindRelay }

// Relayed is the delivery form of Relay.
type Relayed struct {
	Data json.RawMessage `json:"data"`
}

func (*Relayed) Kind() Kind { return KindRelayed }

// Frame is one encoded screen frame. Data holds the provider-encoded
// image, already compressed per the active preset's codec.
type Frame struct {
	Sequence uint64 `json:"sequence"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Quality  int    `json:"quality"`
	Codec    string `json:"codec"`
	Data     []byte `json:"data"`
}

// ScreenFrame carries one frame from host to viewer.
type ScreenFrame struct {
	Frame Frame `json:"frame"`
}

func (*ScreenFrame) Kind() Kind { return KindScreenFrame }

// PointerEvent is a raw viewer pointer event, injected opaquely by the
// host's platform provider.
type PointerEvent struct {
	Action string  `json:"action"` // move, down, up, wheel
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Button int     `json:"button,omitempty"`
	DeltaX float64 `json:"deltaX,omitempty"`
	DeltaY float64 `json:"deltaY,omitempty"`
}

// MouseEvent carries a pointer event from viewer to host.
type MouseEvent struct {
	Event PointerEvent `json:"event"`
}

func (*MouseEvent) Kind() Kind { return KindMouseEvent }

// KeyEvent is a raw viewer keyboard event.
type KeyEvent struct {
	Action    string   `json:"action"` // down, up
	Code      string   `json:"code"`
	Modifiers []string `json:"modifiers,omitempty"`
}

// KeyboardEvent carries a keyboard event from viewer to host.
type KeyboardEvent struct {
	Event KeyEvent `json:"event"`
}

func (*KeyboardEvent) Kind() Kind { return KindKeyboardEvent }

// ClipboardSync shares clipboard content with the linked peer.
type ClipboardSync struct {
	Content string `json:"content"`
}

func (*ClipboardSync) Kind() Kind { return KindClipboardSync }

// FileStart opens a file transfer. Checksum is the BLAKE3 hash of the
// whole file, hex-encoded.
type FileStart struct {
	FileID      string `json:"fileId"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	TotalChunks int    `json:"totalChunks"`
	Checksum    string `json:"checksum"`
}

func (*FileStart) Kind() Kind { return KindFileStart }

func (m *FileStart) validate() error {
	if m.FileID == "" {
		return fmt.Errorf("file-start: fileId is required")
	}
	if m.Size < 0 {
		return fmt.Errorf("file-start: negative size %d", m.Size)
	}
	if m.TotalChunks <= 0 && m.Size > 0 {
		return fmt.Errorf("file-start: totalChunks must be positive for a non-empty file")
	}
	return nil
}

// FileReady tells the sender the receiver has allocated transfer state
// and chunks may flow.
type FileReady struct {
	FileID string `json:"fileId"`
}

func (*FileReady) Kind() Kind { return KindFileReady }

// FileChunk carries one file chunk. Checksum is the BLAKE3 hash of
// Data, hex-encoded.
type FileChunk struct {
	FileID   string `json:"fileId"`
	Index    int    `json:"index"`
	Total    int    `json:"total"`
	Checksum string `json:"checksum"`
	Data     []byte `json:"data"`
}

func (*FileChunk) Kind() Kind { return KindFileChunk }

func (m *FileChunk) validate() error {
	if m.FileID == "" {
		return fmt.Errorf("file-chunk: fileId is required")
	}
	if m.Index < 0 || m.Index >= m.Total {
		return fmt.Errorf("file-chunk: index %d out of range for %d chunks", m.Index, m.Total)
	}
	return nil
}

// FileChunkAck acknowledges a verified chunk; the sender may ship the
// next one.
type FileChunkAck struct {
	FileID string `json:"fileId"`
	Index  int    `json:"index"`
}

func (*FileChunkAck) Kind() Kind { return KindFileChunkAck }

// FileChunkRetry asks the sender to resend one chunk whose checksum
// did not verify.
type FileChunkRetry struct {
	FileID string `json:"fileId"`
	Index  int    `json:"index"`
}

func (*FileChunkRetry) Kind() Kind { return KindFileChunkRetry }

// FileComplete marks the sender side done after the final ack.
type FileComplete struct {
	FileID string `json:"fileId"`
}

func (*FileComplete) Kind() Kind { return KindFileComplete }

// FileCancel aborts a transfer in either direction.
type FileCancel struct {
	FileID string `json:"fileId"`
	Reason string `json:"reason,omitempty"`
}

func (*FileCancel) Kind() Kind { return KindFileCancel }

// Disconnect is an explicit client-initiated teardown.
type Disconnect struct{}

func (*Disconnect) Kind() Kind { return KindDisconnect }

// Disconnected notifies a peer that its partner is gone.
type Disconnected struct {
	Reason string `json:"reason,omitempty"`
}

func (*Disconnected) Kind() Kind { return KindDisconnected }

// Ping is the client heartbeat.
type Ping struct{}

func (*Ping) Kind() Kind { return KindPing }

// Pong answers a Ping.
type Pong struct{}

func (*Pong) Kind() Kind { return KindPong }

// payloadFactories is the closed registry mapping kinds to payload
// constructors. Decode refuses anything not listed here.
var payloadFactories = map[Kind]func() Payload{
	KindRegister:           func() Payload { return &Register{} },
	KindRegistered:         func() Payload { return &Registered{} },
	KindConnect:            func() Payload { return &Connect{} },
	KindConnectSuccess:     func() Payload { return &ConnectSuccess{} },
	KindConnectError:       func() Payload { return &ConnectError{} },
	KindIncomingConnection: func() Payload { return &IncomingConnection{} },
	KindOffer:              func() Payload { return &Offer{} },
	KindAnswer:             func() Payload { return &Answer{} },
	KindICECandidate:       func() Payload { return &ICECandidate{} },
	KindRelay:              func() Payload { return &Relay{} },
	KindRelayed:            func() Payload { return &Relayed{} },
	KindScreenFrame:        func() Payload { return &ScreenFrame{} },
	KindMouseEvent:         func() Payload { return &MouseEvent{} },
	KindKeyboardEvent:      func() Payload { return &KeyboardEvent{} },
	KindClipboardSync:      func() Payload { return &ClipboardSync{} },
	KindFileStart:          func() Payload { return &FileStart{} },
	KindFileReady:          func() Payload { return &FileReady{} },
	KindFileChunk:          func() Payload { return &FileChunk{} },
	KindFileChunkAck:       func() Payload { return &FileChunkAck{} },
	KindFileChunkRetry:     func() Payload { return &FileChunkRetry{} },
	KindFileComplete:       func() Payload { return &FileComplete{} },
	KindFileCancel:         func() Payload { return &FileCancel{} },
	KindDisconnect:         func() Payload { return &Disconnect{} },
	KindDisconnected:       func() Payload { return &Disconnected{} },
	KindPing:               func() Payload { return &Ping{} },
	KindPong:               func() Payload { return &Pong{} },
}

// relayableKinds is the set of kinds the server forwards verbatim to a
// peer's linked partner. Everything else is handled by the server
// itself.
var relayableKinds = map[Kind]bool{
	KindOffer:          true,
	KindAnswer:         true,
	KindICECandidate:   true,
	KindRelay:          true,
	KindScreenFrame:    true,
	KindMouseEvent:     true,
	KindKeyboardEvent:  true,
	KindClipboardSync:  true,
	KindFileStart:      true,
	KindFileReady:      true,
	KindFileChunk:      true,
	KindFileChunkAck:   true,
	KindFileChunkRetry: true,
	KindFileComplete:   true,
	KindFileCancel:     true,
}

// Relayable reports whether the server forwards this kind to the
// sender's linked peer rather than handling it itself.
func Relayable(kind Kind) bool { return relayableKinds[kind] }
