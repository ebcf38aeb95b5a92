// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/screenlink-project/screenlink/protocol"
)

// dataChannelLabel is the single ordered channel both sides use for
// session traffic.
const dataChannelLabel = "screenlink"

// ErrNoPeerConnection is returned by HandleAnswer before CreateOffer
// has built the local side.
var ErrNoPeerConnection = errors.New("no peer connection")

// ConnectionState is the negotiator's view of the P2P link.
type ConnectionState int

const (
	ConnectionConnecting ConnectionState = iota
	ConnectionConnected
	ConnectionDisconnected
	ConnectionFailed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionFailed:
		return "failed"
	}
	return "unknown"
}

// Negotiator owns one PeerConnection and its data channel. The
// initiator calls CreateOffer; the other side receives the offer from
// the relay and calls HandleOffer. ICE trickles: local candidates are
// handed to the candidate callback as they gather, remote candidates
// arriving before the remote description are buffered and drained
// once it lands.
//
// Send and SendBinary report failure as false, never an error: the
// caller's answer to a closed channel is the relay, not a retry.
type Negotiator struct {
	logger *slog.Logger
	api    *webrtc.API
	config webrtc.Configuration

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	channel *webrtc.DataChannel
	closed  bool

	// pending buffers remote candidates that arrived before the
	// remote description.
	pending []webrtc.ICECandidateInit

	onCandidate func(*protocol.ICECandidate)

	subMu     sync.Mutex
	nextSubID int
	stateSubs map[int]func(ConnectionState)
	msgSubs   map[int]func(protocol.Payload)
}

// NewNegotiator creates a negotiator using the given STUN servers. An
// empty list means host candidates only, which is enough on one
// machine or LAN.
func NewNegotiator(stunServers []string, logger *slog.Logger) *Negotiator {
	// Loopback candidates make same-machine sessions and tests work
	// where loopback is the only interface.
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	config := webrtc.Configuration{}
	if len(stunServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}

	return &Negotiator{
		logger:    logger,
		api:       webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		config:    config,
		stateSubs: make(map[int]func(ConnectionState)),
		msgSubs:   make(map[int]func(protocol.Payload)),
	}
}

// OnLocalCandidate sets the callback receiving trickled local
// candidates. Set it before CreateOffer or HandleOffer; candidates
// gathered with no callback installed are dropped.
func (n *Negotiator) OnLocalCandidate(fn func(*protocol.ICECandidate)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onCandidate = fn
}

// SubscribeState registers a connection-state callback. The returned
// function unsubscribes.
func (n *Negotiator) SubscribeState(fn func(ConnectionState)) (unsubscribe func()) {
	n.subMu.Lock()
	id := n.nextSubID
	n.nextSubID++
	n.stateSubs[id] = fn
	n.subMu.Unlock()
	return func() {
		n.subMu.Lock()
		delete(n.stateSubs, id)
		n.subMu.Unlock()
	}
}

// SubscribeMessages registers a callback for decoded inbound data
// channel payloads. The returned function unsubscribes.
func (n *Negotiator) SubscribeMessages(fn func(protocol.Payload)) (unsubscribe func()) {
	n.subMu.Lock()
	id := n.nextSubID
	n.nextSubID++
	n.msgSubs[id] = fn
	n.subMu.Unlock()
	return func() {
		n.subMu.Lock()
		delete(n.msgSubs, id)
		n.subMu.Unlock()
	}
}

// CreateOffer builds the initiator side: it opens the data channel,
// sets the local description, and returns the offer for the caller to
// ship through the relay. Candidates start trickling immediately.
func (n *Negotiator) CreateOffer() (*protocol.Offer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, errors.New("negotiator is closed")
	}
	if n.pc != nil {
		return nil, errors.New("offer already created")
	}

	pc, err := n.newPeerConnectionLocked()
	if err != nil {
		return nil, err
	}
	n.pc = pc

	// The initiator opens the channel; the answering side receives it
	// through OnDataChannel instead.
	ordered := true
	channel, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("creating data channel: %w", err)
	}
	n.wireChannelLocked(channel)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("creating offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("setting local description: %w", err)
	}

	return &protocol.Offer{SDP: offer.SDP}, nil
}

// HandleOffer builds the answering side: it sets the remote offer,
// drains any candidates buffered while the description was missing,
// and returns the answer for the relay.
func (n *Negotiator) HandleOffer(offer *protocol.Offer) (*protocol.Answer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, errors.New("negotiator is closed")
	}
	if n.pc != nil {
		return nil, errors.New("peer connection already exists")
	}

	pc, err := n.newPeerConnectionLocked()
	if err != nil {
		return nil, err
	}
	n.pc = pc

	pc.OnDataChannel(func(channel *webrtc.DataChannel) {
		n.mu.Lock()
		n.wireChannelLocked(channel)
		n.mu.Unlock()
	})

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := pc.SetRemoteDescription(remote); err != nil {
		return nil, fmt.Errorf("setting remote offer: %w", err)
	}
	n.drainPendingLocked()

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("creating answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("setting local description: %w", err)
	}

	return &protocol.Answer{SDP: answer.SDP}, nil
}

// HandleAnswer completes negotiation on the offering side.
func (n *Negotiator) HandleAnswer(answer *protocol.Answer) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.pc == nil {
		return ErrNoPeerConnection
	}

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}
	if err := n.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("setting remote answer: %w", err)
	}
	n.drainPendingLocked()
	return nil
}

// AddICECandidate applies a remote candidate, or buffers it when the
// remote description has not arrived yet.
func (n *Negotiator) AddICECandidate(candidate *protocol.ICECandidate) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	init := webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	}

	if n.pc == nil || n.pc.RemoteDescription() == nil {
		n.pending = append(n.pending, init)
		return nil
	}
	if err := n.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("adding ICE candidate: %w", err)
	}
	return nil
}

// Send encodes the payload as a CBOR envelope and delivers it over
// the data channel. False means the channel is not open and the
// caller should use the relay.
func (n *Negotiator) Send(payload protocol.Payload) bool {
	data, err := protocol.EncodeBinary(payload)
	if err != nil {
		n.logger.Warn("encoding data channel payload", "kind", payload.Kind(), "error", err)
		return false
	}
	return n.SendBinary(data)
}

// SendBinary delivers raw bytes over the data channel. False means
// the channel is not open.
func (n *Negotiator) SendBinary(data []byte) bool {
	n.mu.Lock()
	channel := n.channel
	n.mu.Unlock()

	if channel == nil || channel.ReadyState() != webrtc.DataChannelStateOpen {
		return false
	}
	if err := channel.Send(data); err != nil {
		n.logger.Debug("data channel send failed", "error", err)
		return false
	}
	return true
}

// Close tears down the channel and the peer connection. Idempotent.
func (n *Negotiator) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	channel := n.channel
	pc := n.pc
	n.channel = nil
	n.pc = nil
	n.mu.Unlock()

	if channel != nil {
		channel.Close()
	}
	if pc != nil {
		return pc.Close()
	}
	return nil
}

// newPeerConnectionLocked builds the PeerConnection and wires the
// trickle and state callbacks. Caller holds n.mu.
func (n *Negotiator) newPeerConnectionLocked() (*webrtc.PeerConnection, error) {
	pc, err := n.api.NewPeerConnection(n.config)
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			// End-of-candidates marker; nothing to trickle.
			return
		}
		n.mu.Lock()
		fn := n.onCandidate
		n.mu.Unlock()
		if fn == nil {
			return
		}
		init := candidate.ToJSON()
		fn(&protocol.ICECandidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		n.logger.Debug("peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnecting:
			n.publishState(ConnectionConnecting)
		case webrtc.PeerConnectionStateConnected:
			n.publishState(ConnectionConnected)
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			n.publishState(ConnectionDisconnected)
		case webrtc.PeerConnectionStateFailed:
			n.publishState(ConnectionFailed)
		}
	})

	return pc, nil
}

// wireChannelLocked installs the inbound handlers on the data
// channel. Caller holds n.mu.
func (n *Negotiator) wireChannelLocked(channel *webrtc.DataChannel) {
	n.channel = channel

	channel.OnOpen(func() {
		n.logger.Info("data channel open", "label", channel.Label())
	})
	channel.OnClose(func() {
		n.logger.Info("data channel closed", "label", channel.Label())
	})
	channel.OnMessage(func(msg webrtc.DataChannelMessage) {
		payload, err := protocol.DecodeBinary(msg.Data)
		if err != nil {
			n.logger.Debug("dropping undecodable data channel message", "error", err)
			return
		}
		n.publishMessage(payload)
	})
}

func (n *Negotiator) drainPendingLocked() {
	for _, init := range n.pending {
		if err := n.pc.AddICECandidate(init); err != nil {
			n.logger.Warn("applying buffered ICE candidate", "error", err)
		}
	}
	n.pending = nil
}

func (n *Negotiator) publishState(state ConnectionState) {
	n.subMu.Lock()
	subscribers := make([]func(ConnectionState), 0, len(n.stateSubs))
	for _, fn := range n.stateSubs {
		subscribers = append(subscribers, fn)
	}
	n.subMu.Unlock()
	for _, fn := range subscribers {
		fn(state)
	}
}

func (n *Negotiator) publishMessage(payload protocol.Payload) {
	n.subMu.Lock()
	subscribers := make([]func(protocol.Payload), 0, len(n.msgSubs))
	for _, fn := range n.msgSubs {
		subscribers = append(subscribers, fn)
	}
	n.subMu.Unlock()
	for _, fn := range subscribers {
		fn(payload)
	}
}
