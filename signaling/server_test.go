// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/screenlink-project/screenlink/lib/config"
	"github.com/screenlink-project/screenlink/protocol"
)

func TestRegisterAndConnect(t *testing.T) {
	ts := newTestServer(t)

	host := dialPeer(t, ts)
	host.register("123456789", "AB12", true)

	viewer := dialPeer(t, ts)
	viewer.register("987654321", "", false)

	viewer.send(&protocol.Connect{
		TargetConnectionID: "123456789",
		Password:           protocol.HashPassword("123456789", "AB12"),
	})

	success, ok := viewer.receive().(*protocol.ConnectSuccess)
	if !ok {
		t.Fatal("viewer did not receive connect-success")
	}
	if success.TargetConnectionID != "123456789" {
		t.Errorf("target = %q", success.TargetConnectionID)
	}
	if success.SessionID == "" {
		t.Error("session id is empty")
	}

	incoming, ok := host.receive().(*protocol.IncomingConnection)
	if !ok {
		t.Fatal("host did not receive incoming-connection")
	}
	if incoming.SessionID != success.SessionID {
		t.Errorf("host session id %q != viewer session id %q",
			incoming.SessionID, success.SessionID)
	}
	if incoming.FromConnectionID != "987654321" {
		t.Errorf("from = %q", incoming.FromConnectionID)
	}
}

func TestRelayDeliversMouseEventUnchanged(t *testing.T) {
	ts := newTestServer(t)

	host := dialPeer(t, ts)
	host.register("123456789", "AB12", true)
	viewer := dialPeer(t, ts)
	viewer.register("987654321", "", false)
	linkPeers(t, viewer, host, "123456789", "AB12")

	sent := &protocol.MouseEvent{Event: protocol.PointerEvent{
		Action: "move", X: 0.25, Y: 0.75,
	}}
	viewer.send(sent)

	received, ok := host.receive().(*protocol.MouseEvent)
	if !ok {
		t.Fatal("host did not receive the mouse event")
	}
	if *received != *sent {
		t.Errorf("relayed event %+v != sent %+v", received.Event, sent.Event)
	}
}

func TestRelayIsBidirectional(t *testing.T) {
	ts := newTestServer(t)

	host := dialPeer(t, ts)
	host.register("123456789", "AB12", true)
	viewer := dialPeer(t, ts)
	viewer.register("987654321", "", false)
	linkPeers(t, viewer, host, "123456789", "AB12")

	host.send(&protocol.ScreenFrame{Frame: protocol.Frame{
		Sequence: 7, Width: 1280, Height: 720, Quality: 60, Codec: "zstd",
		Data: []byte{1, 2, 3},
	}})

	frame, ok := viewer.receive().(*protocol.ScreenFrame)
	if !ok {
		t.Fatal("viewer did not receive the screen frame")
	}
	if frame.Frame.Sequence != 7 || len(frame.Frame.Data) != 3 {
		t.Errorf("frame = %+v", frame.Frame)
	}
}

func TestRelayWrapsOpaqueDataAsRelayed(t *testing.T) {
	ts := newTestServer(t)

	host := dialPeer(t, ts)
	host.register("123456789", "AB12", true)
	viewer := dialPeer(t, ts)
	viewer.register("987654321", "", false)
	linkPeers(t, viewer, host, "123456789", "AB12")

	viewer.send(&protocol.Relay{Data: []byte(`{"custom":true}`)})

	relayed, ok := host.receive().(*protocol.Relayed)
	if !ok {
		t.Fatal("host did not receive a relayed frame")
	}
	if string(relayed.Data) != `{"custom":true}` {
		t.Errorf("relayed data = %s", relayed.Data)
	}
}

func TestConnectToUnknownTarget(t *testing.T) {
	ts := newTestServer(t)

	viewer := dialPeer(t, ts)
	viewer.register("987654321", "", false)

	viewer.send(&protocol.Connect{
		TargetConnectionID: "000000000",
		Password:           protocol.HashPassword("000000000", "AB12"),
	})

	connectErr, ok := viewer.receive().(*protocol.ConnectError)
	if !ok {
		t.Fatal("viewer did not receive connect-error")
	}
	if connectErr.Error != protocol.ReasonNotFound {
		t.Errorf("reason = %q, want %q", connectErr.Error, protocol.ReasonNotFound)
	}
}

func TestConnectWithWrongPassword(t *testing.T) {
	ts := newTestServer(t)

	host := dialPeer(t, ts)
	host.register("123456789", "AB12", true)
	viewer := dialPeer(t, ts)
	viewer.register("987654321", "", false)

	viewer.send(&protocol.Connect{
		TargetConnectionID: "123456789",
		Password:           protocol.HashPassword("123456789", "WRONG"),
	})

	connectErr, ok := viewer.receive().(*protocol.ConnectError)
	if !ok {
		t.Fatal("viewer did not receive connect-error")
	}
	if connectErr.Error != protocol.ReasonInvalidPassword {
		t.Errorf("reason = %q, want %q", connectErr.Error, protocol.ReasonInvalidPassword)
	}
}

func TestLockoutRefusesNewConnections(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.LockoutAttempts = 3
	ts := newTestServerWithConfig(t, cfg)

	host := dialPeer(t, ts)
	host.register("123456789", "AB12", true)
	viewer := dialPeer(t, ts)
	viewer.register("987654321", "", false)

	for range 3 {
		viewer.send(&protocol.Connect{
			TargetConnectionID: "123456789",
			Password:           protocol.HashPassword("123456789", "WRONG"),
		})
		if _, ok := viewer.receive().(*protocol.ConnectError); !ok {
			t.Fatal("expected connect-error")
		}
	}

	// Further attempts on the open socket are refused as locked-out.
	viewer.send(&protocol.Connect{
		TargetConnectionID: "123456789",
		Password:           protocol.HashPassword("123456789", "AB12"),
	})
	connectErr, ok := viewer.receive().(*protocol.ConnectError)
	if !ok {
		t.Fatal("expected connect-error after lockout")
	}
	if connectErr.Error != protocol.ReasonLockedOut {
		t.Errorf("reason = %q, want %q", connectErr.Error, protocol.ReasonLockedOut)
	}

	// A fresh dial from the same IP is rejected before the upgrade.
	_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL, nil)
	if err == nil {
		t.Fatal("locked-out IP was allowed to connect")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 at accept, got %+v", resp)
	}
	resp.Body.Close()
}

func TestDuplicateRegistrationEvictsOldPeer(t *testing.T) {
	ts := newTestServer(t)

	first := dialPeer(t, ts)
	first.register("123456789", "AB12", true)

	second := dialPeer(t, ts)
	second.register("123456789", "CD34", true)

	// The stale peer is told why and its socket is closed.
	disconnected, ok := first.receive().(*protocol.Disconnected)
	if !ok {
		t.Fatal("evicted peer did not receive disconnected")
	}
	if disconnected.Reason != "evicted by re-registration" {
		t.Errorf("reason = %q", disconnected.Reason)
	}
	first.expectClosed()

	// The new registration owns the id: connecting with the new
	// password succeeds.
	viewer := dialPeer(t, ts)
	viewer.register("987654321", "", false)
	linkPeers(t, viewer, second, "123456789", "CD34")
}

func TestDisconnectNotifiesPartnerOnce(t *testing.T) {
	ts := newTestServer(t)

	host := dialPeer(t, ts)
	host.register("123456789", "AB12", true)
	viewer := dialPeer(t, ts)
	viewer.register("987654321", "", false)
	linkPeers(t, viewer, host, "123456789", "AB12")

	viewer.send(&protocol.Disconnect{})

	disconnected, ok := host.receive().(*protocol.Disconnected)
	if !ok {
		t.Fatal("host did not receive disconnected")
	}
	if disconnected.Reason != "peer disconnected" {
		t.Errorf("reason = %q", disconnected.Reason)
	}

	// The viewer closing its socket afterwards must not produce a
	// second disconnected: the link is already gone. Ping/pong proves
	// nothing else arrived in between.
	viewer.conn.Close()
	host.send(&protocol.Ping{})
	if _, ok := host.receive().(*protocol.Pong); !ok {
		t.Fatal("expected pong, got a stray frame")
	}
}

func TestNewLinkNotifiesDisplacedPartner(t *testing.T) {
	ts := newTestServer(t)

	host := dialPeer(t, ts)
	host.register("123456789", "AB12", true)
	first := dialPeer(t, ts)
	first.register("987654321", "", false)
	linkPeers(t, first, host, "123456789", "AB12")

	// A second viewer takes over the host. The first viewer must hear
	// that its session ended instead of streaming into the void.
	second := dialPeer(t, ts)
	second.register("111111111", "", false)
	linkPeers(t, second, host, "123456789", "AB12")

	disconnected, ok := first.receive().(*protocol.Disconnected)
	if !ok {
		t.Fatal("displaced viewer did not receive disconnected")
	}
	if disconnected.Reason != "peer connected elsewhere" {
		t.Errorf("reason = %q", disconnected.Reason)
	}

	// Host frames now reach the new viewer.
	host.send(&protocol.ScreenFrame{Frame: protocol.Frame{
		Sequence: 1, Width: 1280, Height: 720, Quality: 60, Codec: "zstd",
		Data: []byte{1},
	}})
	if _, ok := second.receive().(*protocol.ScreenFrame); !ok {
		t.Fatal("new viewer did not receive the frame")
	}
}

func TestSocketDropNotifiesPartner(t *testing.T) {
	ts := newTestServer(t)

	host := dialPeer(t, ts)
	host.register("123456789", "AB12", true)
	viewer := dialPeer(t, ts)
	viewer.register("987654321", "", false)
	linkPeers(t, viewer, host, "123456789", "AB12")

	// Abrupt close, no disconnect frame.
	viewer.conn.Close()

	disconnected, ok := host.receive().(*protocol.Disconnected)
	if !ok {
		t.Fatal("host did not receive disconnected")
	}
	if disconnected.Reason != "peer connection closed" {
		t.Errorf("reason = %q", disconnected.Reason)
	}
}

func TestPingPong(t *testing.T) {
	ts := newTestServer(t)

	peer := dialPeer(t, ts)
	peer.register("123456789", "", true)

	peer.send(&protocol.Ping{})
	if _, ok := peer.receive().(*protocol.Pong); !ok {
		t.Fatal("expected pong")
	}
}

func TestUnknownKindIsIgnored(t *testing.T) {
	ts := newTestServer(t)

	peer := dialPeer(t, ts)
	peer.register("123456789", "", true)

	data := []byte(`{"type":"future-feature","payload":42}`)
	if err := peer.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("sending unknown frame: %v", err)
	}

	// The connection survives.
	peer.send(&protocol.Ping{})
	if _, ok := peer.receive().(*protocol.Pong); !ok {
		t.Fatal("connection did not survive an unknown kind")
	}
}

func TestIdleSweepDisconnectsStalePeers(t *testing.T) {
	ts := newTestServer(t)

	idle := dialPeer(t, ts)
	idle.register("123456789", "AB12", true)

	active := dialPeer(t, ts)
	active.register("987654321", "", false)

	// Advance past the session timeout, keeping only one peer warm.
	// Receiving the pong proves the ping's activity touch has landed.
	timeout := ts.server.config.SessionTimeout.Std()
	ts.clock.Advance(timeout / 2)
	active.send(&protocol.Ping{})
	if _, ok := active.receive().(*protocol.Pong); !ok {
		t.Fatal("expected pong")
	}
	ts.clock.Advance(timeout/2 + time.Second)

	ts.server.sweepIdle()

	disconnected, ok := idle.receive().(*protocol.Disconnected)
	if !ok {
		t.Fatal("idle peer did not receive disconnected")
	}
	if disconnected.Reason != "timeout" {
		t.Errorf("reason = %q", disconnected.Reason)
	}
	idle.expectClosed()

	// The active peer is untouched.
	active.send(&protocol.Ping{})
	if _, ok := active.receive().(*protocol.Pong); !ok {
		t.Fatal("active peer was swept")
	}
}

func TestCloseBroadcastsShutdown(t *testing.T) {
	ts := newTestServer(t)

	peer := dialPeer(t, ts)
	peer.register("123456789", "", true)

	ts.server.Close()

	disconnected, ok := peer.receive().(*protocol.Disconnected)
	if !ok {
		t.Fatal("peer did not receive disconnected")
	}
	if disconnected.Reason != "shutdown" {
		t.Errorf("reason = %q", disconnected.Reason)
	}
	peer.expectClosed()
}

func TestStartSweepRunsOnTicker(t *testing.T) {
	ts := newTestServer(t)

	idle := dialPeer(t, ts)
	idle.register("123456789", "AB12", true)

	stop := ts.server.StartSweep()
	defer stop()

	ts.clock.Advance(ts.server.config.SessionTimeout.Std() + time.Second)
	ts.clock.Advance(ts.server.config.SweepInterval.Std())

	disconnected, ok := idle.receive().(*protocol.Disconnected)
	if !ok {
		t.Fatal("idle peer was not swept by the ticker")
	}
	if disconnected.Reason != "timeout" {
		t.Errorf("reason = %q", disconnected.Reason)
	}
}

// linkPeers connects source to target and consumes the success
// message on both sides.
func linkPeers(t *testing.T, source, target *testPeer, targetID, password string) {
	t.Helper()
	source.send(&protocol.Connect{
		TargetConnectionID: targetID,
		Password:           protocol.HashPassword(targetID, password),
	})
	if _, ok := source.receive().(*protocol.ConnectSuccess); !ok {
		t.Fatal("source did not receive connect-success")
	}
	if _, ok := target.receive().(*protocol.IncomingConnection); !ok {
		t.Fatal("target did not receive incoming-connection")
	}
}
