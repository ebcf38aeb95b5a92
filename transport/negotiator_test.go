// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/screenlink-project/screenlink/lib/testutil"
	"github.com/screenlink-project/screenlink/protocol"
)

const waitTimeout = 30 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// connectPair negotiates two loopback negotiators, trickling each
// side's candidates straight into the other, and blocks until the
// initiator's channel accepts traffic.
func connectPair(t *testing.T) (initiator, responder *Negotiator) {
	t.Helper()

	initiator = NewNegotiator(nil, testLogger())
	responder = NewNegotiator(nil, testLogger())
	t.Cleanup(func() {
		initiator.Close()
		responder.Close()
	})

	initiator.OnLocalCandidate(func(c *protocol.ICECandidate) {
		if err := responder.AddICECandidate(c); err != nil {
			t.Errorf("responder AddICECandidate: %v", err)
		}
	})
	responder.OnLocalCandidate(func(c *protocol.ICECandidate) {
		if err := initiator.AddICECandidate(c); err != nil {
			t.Errorf("initiator AddICECandidate: %v", err)
		}
	})

	states := make(chan ConnectionState, 16)
	t.Cleanup(initiator.SubscribeState(func(s ConnectionState) { states <- s }))

	offer, err := initiator.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	answer, err := responder.HandleOffer(offer)
	if err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	if err := initiator.HandleAnswer(answer); err != nil {
		t.Fatalf("HandleAnswer: %v", err)
	}

	waitForState(t, states, ConnectionConnected)
	waitForChannel(t, initiator)
	return initiator, responder
}

func waitForState(t *testing.T, states <-chan ConnectionState, want ConnectionState) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case got := <-states:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("state %s never reached", want)
		}
	}
}

// waitForChannel polls until the negotiator's data channel takes a
// send. The channel opens shortly after the connection state lands.
func waitForChannel(t *testing.T, n *Negotiator) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if n.Send(&protocol.Ping{}) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("data channel never opened")
}

func TestNegotiationAndMessaging(t *testing.T) {
	initiator, responder := connectPair(t)

	received := make(chan protocol.Payload, 16)
	t.Cleanup(responder.SubscribeMessages(func(p protocol.Payload) { received <- p }))

	if !initiator.Send(&protocol.ClipboardSync{Content: "over p2p"}) {
		t.Fatal("Send returned false on an open channel")
	}

	for {
		payload := testutil.RequireReceive(t, received, waitTimeout, "data channel payload")
		// Skip the probe pings from channel-open polling.
		if _, ok := payload.(*protocol.Ping); ok {
			continue
		}
		sync, ok := payload.(*protocol.ClipboardSync)
		if !ok {
			t.Fatalf("payload = %T, want *ClipboardSync", payload)
		}
		if sync.Content != "over p2p" {
			t.Errorf("content = %q", sync.Content)
		}
		return
	}
}

func TestMessagingIsBidirectional(t *testing.T) {
	initiator, responder := connectPair(t)

	received := make(chan protocol.Payload, 16)
	t.Cleanup(initiator.SubscribeMessages(func(p protocol.Payload) { received <- p }))

	// The responder's channel opens when the initiator's does; poll
	// for the first accepted send all the same.
	waitForChannel(t, responder)
	if !responder.Send(&protocol.KeyboardEvent{Event: protocol.KeyEvent{Action: "down", Code: "KeyA"}}) {
		t.Fatal("responder Send returned false")
	}

	for {
		payload := testutil.RequireReceive(t, received, waitTimeout, "responder payload")
		if _, ok := payload.(*protocol.Ping); ok {
			continue
		}
		key, ok := payload.(*protocol.KeyboardEvent)
		if !ok {
			t.Fatalf("payload = %T, want *KeyboardEvent", payload)
		}
		if key.Event.Code != "KeyA" {
			t.Errorf("event = %+v", key.Event)
		}
		return
	}
}

func TestHandleAnswerBeforeOffer(t *testing.T) {
	n := NewNegotiator(nil, testLogger())
	t.Cleanup(func() { n.Close() })

	err := n.HandleAnswer(&protocol.Answer{SDP: "v=0"})
	if err != ErrNoPeerConnection {
		t.Fatalf("HandleAnswer = %v, want ErrNoPeerConnection", err)
	}
}

func TestCandidatesBufferBeforeRemoteDescription(t *testing.T) {
	n := NewNegotiator(nil, testLogger())
	t.Cleanup(func() { n.Close() })

	// Candidates arriving before any description must be accepted and
	// held, not rejected.
	mid := "0"
	var index uint16
	if err := n.AddICECandidate(&protocol.ICECandidate{
		Candidate:     "candidate:1 1 udp 2130706431 127.0.0.1 54321 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	}); err != nil {
		t.Fatalf("AddICECandidate before description: %v", err)
	}

	n.mu.Lock()
	buffered := len(n.pending)
	n.mu.Unlock()
	if buffered != 1 {
		t.Fatalf("pending candidates = %d, want 1", buffered)
	}
}

func TestSendReportsFalseWithoutChannel(t *testing.T) {
	n := NewNegotiator(nil, testLogger())
	t.Cleanup(func() { n.Close() })

	if n.Send(&protocol.Ping{}) {
		t.Error("Send succeeded with no channel")
	}
	if n.SendBinary([]byte{1, 2, 3}) {
		t.Error("SendBinary succeeded with no channel")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	initiator, _ := connectPair(t)

	if err := initiator.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := initiator.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if initiator.Send(&protocol.Ping{}) {
		t.Error("Send succeeded after Close")
	}
}
