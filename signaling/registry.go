// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"fmt"
	"sync"
	"time"

	"github.com/screenlink-project/screenlink/protocol"
)

// Socket is the write side of a peer's WebSocket connection, as seen
// by the registry's callers. The concrete implementation serializes
// writers; Send must be safe to call from any goroutine.
type Socket interface {
	Send(payload protocol.Payload) error
	Close() error
}

// PeerSession is the server-side state for one registered peer. The
// registry owns all PeerSessions; handlers read snapshots returned by
// registry methods and never hold references across calls.
type PeerSession struct {
	ConnectionID string
	PasswordHash string
	IsHost       bool
	RemoteIP     string
	RegisteredAt time.Time
	LastActivity time.Time

	// ConnectedTo is the linked peer's connection id, empty while
	// unlinked. Symmetric with the partner's ConnectedTo at all times.
	ConnectedTo string

	// SessionID identifies the current link, empty while unlinked.
	SessionID string

	socket Socket
}

// Session records one live link between two peers.
type Session struct {
	SessionID string
	HostID    string
	ViewerID  string
	CreatedAt time.Time
}

// Registry is the synchronized store of registered peers and live
// sessions. Every mutation that touches two peers (link, unlink,
// eviction) happens inside one critical section, so a concurrent
// connect targeting either side observes before or after, never
// between.
type Registry struct {
	mu       sync.Mutex
	peers    map[string]*PeerSession
	sessions map[string]Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		peers:    make(map[string]*PeerSession),
		sessions: make(map[string]Session),
	}
}

// Register stores a peer session under its connection id. If the id is
// already in use, the previous session is evicted: unlinked from its
// partner and removed. The evicted session and its former partner's
// socket (nil if it was unlinked) are returned so the server can
// notify and close them outside the lock. Letting a stale registration
// linger would leak a ghost session whose socket nobody can reach.
func (r *Registry) Register(session *PeerSession) (evicted *PeerSession, evictedPartner Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, ok := r.peers[session.ConnectionID]; ok {
		partner := r.unlinkLocked(previous)
		delete(r.peers, previous.ConnectionID)
		evicted = previous
		if partner != nil {
			evictedPartner = partner.socket
		}
	}

	r.peers[session.ConnectionID] = session
	return evicted, evictedPartner
}

// Link connects two registered peers symmetrically under the given
// session id. If either side is already linked, that older link is
// broken first, inside the same critical section, and the displaced
// partners' sockets are returned so the caller can tell them their
// session ended. Also returns the target's socket for the
// incoming-connection notification.
func (r *Registry) Link(sourceID, targetID, sessionID string, now time.Time) (Socket, []Socket, error) {
	if sourceID == targetID {
		return nil, nil, fmt.Errorf("peer %s cannot link to itself", sourceID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	source, ok := r.peers[sourceID]
	if !ok {
		return nil, nil, fmt.Errorf("source %s: %w", sourceID, protocol.ErrNotFound)
	}
	target, ok := r.peers[targetID]
	if !ok {
		return nil, nil, fmt.Errorf("target %s: %w", targetID, protocol.ErrNotFound)
	}

	// A peer relinking to its current partner displaces nobody; any
	// other prior partner is collected for notification.
	var displaced []Socket
	if partner := r.unlinkLocked(source); partner != nil && partner != target {
		displaced = append(displaced, partner.socket)
	}
	if partner := r.unlinkLocked(target); partner != nil && partner != source {
		displaced = append(displaced, partner.socket)
	}

	source.ConnectedTo = targetID
	target.ConnectedTo = sourceID
	source.SessionID = sessionID
	target.SessionID = sessionID

	record := Session{SessionID: sessionID, CreatedAt: now}
	if target.IsHost {
		record.HostID, record.ViewerID = targetID, sourceID
	} else {
		record.HostID, record.ViewerID = sourceID, targetID
	}
	r.sessions[sessionID] = record

	return target.socket, displaced, nil
}

// Unlink breaks the link of the given peer, if any. Both sides are
// cleared atomically. Returns the former partner's connection id and
// socket for the disconnected notification, or "" and nil if the peer
// was not linked.
func (r *Registry) Unlink(connectionID string) (partnerID string, partnerSocket Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[connectionID]
	if !ok {
		return "", nil
	}
	partner := r.unlinkLocked(peer)
	if partner == nil {
		return "", nil
	}
	return partner.ConnectionID, partner.socket
}

// Remove unlinks and deletes a peer, typically on socket close. The
// socket must match the registered one: after an eviction the old
// socket's close path races the new registration under the same id,
// and must not tear it down. Returns the former partner's id and
// socket as Unlink does.
func (r *Registry) Remove(connectionID string, socket Socket) (partnerID string, partnerSocket Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[connectionID]
	if !ok || peer.socket != socket {
		return "", nil
	}
	partner := r.unlinkLocked(peer)
	delete(r.peers, connectionID)
	if partner == nil {
		return "", nil
	}
	return partner.ConnectionID, partner.socket
}

// unlinkLocked clears the link on peer and its partner and drops the
// session record. Returns the partner, or nil if peer was unlinked.
// Caller must hold r.mu.
func (r *Registry) unlinkLocked(peer *PeerSession) *PeerSession {
	if peer.ConnectedTo == "" {
		return nil
	}
	delete(r.sessions, peer.SessionID)

	partner := r.peers[peer.ConnectedTo]
	peer.ConnectedTo = ""
	peer.SessionID = ""
	if partner != nil {
		partner.ConnectedTo = ""
		partner.SessionID = ""
	}
	return partner
}

// Lookup returns a snapshot of the peer with the given connection id.
func (r *Registry) Lookup(connectionID string) (PeerSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[connectionID]
	if !ok {
		return PeerSession{}, false
	}
	return *peer, true
}

// PartnerSocket returns the socket of the peer linked to connectionID,
// or nil if the peer is unknown or unlinked. The relay path calls this
// for every forwarded frame.
func (r *Registry) PartnerSocket(connectionID string) Socket {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[connectionID]
	if !ok || peer.ConnectedTo == "" {
		return nil
	}
	partner, ok := r.peers[peer.ConnectedTo]
	if !ok {
		return nil
	}
	return partner.socket
}

// Touch updates the peer's last-activity time. Called for every frame
// received on its socket; the idle sweep reads it.
func (r *Registry) Touch(connectionID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if peer, ok := r.peers[connectionID]; ok {
		peer.LastActivity = now
	}
}

// IdlePeers returns the connection ids of peers whose last activity is
// older than threshold at the given instant.
func (r *Registry) IdlePeers(now time.Time, threshold time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idle []string
	for id, peer := range r.peers {
		if now.Sub(peer.LastActivity) > threshold {
			idle = append(idle, id)
		}
	}
	return idle
}

// Peers returns a snapshot of all registered peers, for the admin
// surface.
func (r *Registry) Peers() []PeerSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]PeerSession, 0, len(r.peers))
	for _, peer := range r.peers {
		snapshot = append(snapshot, *peer)
	}
	return snapshot
}

// Sessions returns a snapshot of all live sessions.
func (r *Registry) Sessions() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		snapshot = append(snapshot, session)
	}
	return snapshot
}

// Counts returns the number of registered peers and live sessions.
func (r *Registry) Counts() (peers, sessions int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers), len(r.sessions)
}
