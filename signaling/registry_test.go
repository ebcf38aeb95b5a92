// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"testing"
	"time"
)

func registerPeer(t *testing.T, registry *Registry, id string, isHost bool) *fakeSocket {
	t.Helper()
	socket := newFakeSocket()
	evicted, _ := registry.Register(&PeerSession{
		ConnectionID: id,
		IsHost:       isHost,
		socket:       socket,
	})
	if evicted != nil {
		t.Fatalf("unexpected eviction registering %s", id)
	}
	return socket
}

func TestLinkIsSymmetric(t *testing.T) {
	registry := NewRegistry()
	registerPeer(t, registry, "host-1", true)
	registerPeer(t, registry, "viewer-1", false)

	if _, _, err := registry.Link("viewer-1", "host-1", "session-1", time.Now()); err != nil {
		t.Fatalf("Link: %v", err)
	}

	host, _ := registry.Lookup("host-1")
	viewer, _ := registry.Lookup("viewer-1")
	if host.ConnectedTo != "viewer-1" || viewer.ConnectedTo != "host-1" {
		t.Errorf("link not symmetric: host→%q viewer→%q", host.ConnectedTo, viewer.ConnectedTo)
	}
	if host.SessionID != "session-1" || viewer.SessionID != "session-1" {
		t.Errorf("session ids differ: %q vs %q", host.SessionID, viewer.SessionID)
	}

	sessions := registry.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if sessions[0].HostID != "host-1" || sessions[0].ViewerID != "viewer-1" {
		t.Errorf("session roles: host=%q viewer=%q", sessions[0].HostID, sessions[0].ViewerID)
	}
}

func TestLinkUnknownTarget(t *testing.T) {
	registry := NewRegistry()
	registerPeer(t, registry, "viewer-1", false)

	if _, _, err := registry.Link("viewer-1", "ghost", "session-1", time.Now()); err == nil {
		t.Error("Link to unregistered target succeeded")
	}
}

func TestLinkToSelfRejected(t *testing.T) {
	registry := NewRegistry()
	registerPeer(t, registry, "peer-1", true)

	if _, _, err := registry.Link("peer-1", "peer-1", "session-1", time.Now()); err == nil {
		t.Error("self-link succeeded")
	}
}

func TestUnlinkClearsBothSides(t *testing.T) {
	registry := NewRegistry()
	registerPeer(t, registry, "host-1", true)
	viewerSocket := registerPeer(t, registry, "viewer-1", false)

	if _, _, err := registry.Link("viewer-1", "host-1", "session-1", time.Now()); err != nil {
		t.Fatalf("Link: %v", err)
	}

	partnerID, partnerSocket := registry.Unlink("host-1")
	if partnerID != "viewer-1" {
		t.Errorf("partner = %q, want viewer-1", partnerID)
	}
	if partnerSocket != Socket(viewerSocket) {
		t.Error("partner socket mismatch")
	}

	host, _ := registry.Lookup("host-1")
	viewer, _ := registry.Lookup("viewer-1")
	if host.ConnectedTo != "" || viewer.ConnectedTo != "" {
		t.Error("unlink left a dangling side")
	}
	if len(registry.Sessions()) != 0 {
		t.Error("session record survived unlink")
	}
}

func TestUnlinkWhenNotLinked(t *testing.T) {
	registry := NewRegistry()
	registerPeer(t, registry, "host-1", true)

	if partnerID, partnerSocket := registry.Unlink("host-1"); partnerID != "" || partnerSocket != nil {
		t.Error("Unlink of an unlinked peer returned a partner")
	}
}

func TestRelinkBreaksOldLink(t *testing.T) {
	registry := NewRegistry()
	registerPeer(t, registry, "host-1", true)
	viewer1Socket := registerPeer(t, registry, "viewer-1", false)
	registerPeer(t, registry, "viewer-2", false)

	if _, _, err := registry.Link("viewer-1", "host-1", "session-1", time.Now()); err != nil {
		t.Fatalf("first Link: %v", err)
	}
	_, displaced, err := registry.Link("viewer-2", "host-1", "session-2", time.Now())
	if err != nil {
		t.Fatalf("second Link: %v", err)
	}
	if len(displaced) != 1 || displaced[0] != Socket(viewer1Socket) {
		t.Errorf("displaced = %v, want the old viewer's socket", displaced)
	}

	viewer1, _ := registry.Lookup("viewer-1")
	if viewer1.ConnectedTo != "" {
		t.Error("displaced viewer still linked")
	}
	host, _ := registry.Lookup("host-1")
	if host.ConnectedTo != "viewer-2" || host.SessionID != "session-2" {
		t.Errorf("host link = %q/%q, want viewer-2/session-2", host.ConnectedTo, host.SessionID)
	}
	if len(registry.Sessions()) != 1 {
		t.Errorf("sessions = %d, want 1", len(registry.Sessions()))
	}
}

func TestRelinkToSamePartnerDisplacesNobody(t *testing.T) {
	registry := NewRegistry()
	registerPeer(t, registry, "host-1", true)
	registerPeer(t, registry, "viewer-1", false)

	if _, _, err := registry.Link("viewer-1", "host-1", "session-1", time.Now()); err != nil {
		t.Fatalf("first Link: %v", err)
	}
	_, displaced, err := registry.Link("viewer-1", "host-1", "session-2", time.Now())
	if err != nil {
		t.Fatalf("relink: %v", err)
	}
	if len(displaced) != 0 {
		t.Errorf("displaced = %v, want none", displaced)
	}
}

func TestRegisterEvictsExistingID(t *testing.T) {
	registry := NewRegistry()
	oldSocket := registerPeer(t, registry, "host-1", true)
	partnerSocket := registerPeer(t, registry, "viewer-1", false)
	if _, _, err := registry.Link("viewer-1", "host-1", "session-1", time.Now()); err != nil {
		t.Fatalf("Link: %v", err)
	}

	newSocket := newFakeSocket()
	evicted, evictedPartner := registry.Register(&PeerSession{
		ConnectionID: "host-1",
		socket:       newSocket,
	})

	if evicted == nil {
		t.Fatal("no eviction on duplicate registration")
	}
	if evicted.socket != Socket(oldSocket) {
		t.Error("evicted session carries the wrong socket")
	}
	if evictedPartner != Socket(partnerSocket) {
		t.Error("evicted partner socket mismatch")
	}

	// The new registration is current and unlinked.
	current, ok := registry.Lookup("host-1")
	if !ok || current.ConnectedTo != "" {
		t.Error("new registration missing or linked")
	}
	viewer, _ := registry.Lookup("viewer-1")
	if viewer.ConnectedTo != "" {
		t.Error("old partner still linked to evicted session")
	}
}

func TestRemoveRequiresMatchingSocket(t *testing.T) {
	registry := NewRegistry()
	registerPeer(t, registry, "host-1", true)

	// The close path of an already-evicted socket must not remove the
	// live registration.
	stale := newFakeSocket()
	if partnerID, _ := registry.Remove("host-1", stale); partnerID != "" {
		t.Error("Remove with a stale socket returned a partner")
	}
	if _, ok := registry.Lookup("host-1"); !ok {
		t.Error("Remove with a stale socket deleted the live registration")
	}
}

func TestIdlePeers(t *testing.T) {
	registry := NewRegistry()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	registry.Register(&PeerSession{ConnectionID: "fresh", LastActivity: now, socket: newFakeSocket()})
	registry.Register(&PeerSession{ConnectionID: "stale", LastActivity: now.Add(-2 * time.Minute), socket: newFakeSocket()})

	idle := registry.IdlePeers(now, 90*time.Second)
	if len(idle) != 1 || idle[0] != "stale" {
		t.Errorf("IdlePeers = %v, want [stale]", idle)
	}
}

func TestCounts(t *testing.T) {
	registry := NewRegistry()
	registerPeer(t, registry, "host-1", true)
	registerPeer(t, registry, "viewer-1", false)
	if _, _, err := registry.Link("viewer-1", "host-1", "session-1", time.Now()); err != nil {
		t.Fatalf("Link: %v", err)
	}

	peers, sessions := registry.Counts()
	if peers != 2 || sessions != 1 {
		t.Errorf("Counts = (%d, %d), want (2, 1)", peers, sessions)
	}
}
