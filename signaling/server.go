// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/screenlink-project/screenlink/lib/clock"
	"github.com/screenlink-project/screenlink/lib/config"
	"github.com/screenlink-project/screenlink/protocol"
)

// maxMessageSize caps inbound WebSocket frames. Matches the protocol
// package's decode limit.
const maxMessageSize = 16 * 1024 * 1024

// Server is the rendezvous/relay server. One instance serves many
// concurrent peers; per-connection failures are contained to that
// connection and logged, never propagated.
type Server struct {
	logger    *slog.Logger
	clock     clock.Clock
	config    config.Server
	registry  *Registry
	lockout   *Lockout
	accessLog *AccessLog
	upgrader  websocket.Upgrader
	startedAt time.Time

	closed    chan struct{}
	closeOnce sync.Once

	// conns tracks every live socket for shutdown broadcast.
	connMu sync.Mutex
	conns  map[*peerConn]struct{}
}

// NewServer creates a server from config. The logger and clock are
// injected; production passes clock.Real().
func NewServer(cfg config.Server, logger *slog.Logger, clk clock.Clock) *Server {
	return &Server{
		logger:    logger,
		clock:     clk,
		config:    cfg,
		registry:  NewRegistry(),
		lockout:   NewLockout(cfg.LockoutAttempts, cfg.LockoutWindow.Std(), clk),
		accessLog: NewAccessLog(cfg.AccessLogCapacity),
		upgrader: websocket.Upgrader{
			// Peers are native clients, not browsers; origin checks
			// add nothing here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		startedAt: clk.Now(),
		closed:    make(chan struct{}),
		conns:     make(map[*peerConn]struct{}),
	}
}

// Registry exposes the peer registry, primarily for the admin surface
// and tests.
func (s *Server) Registry() *Registry { return s.registry }

// AccessLog exposes the audit ring.
func (s *Server) AccessLog() *AccessLog { return s.accessLog }

// Lockout exposes the lockout policy.
func (s *Server) Lockout() *Lockout { return s.lockout }

// Handler returns the WebSocket endpoint. Mount it wherever the
// deployment wants (the server binary uses /ws).
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveWS)
}

// serveWS accepts one peer connection and runs its read loop until
// the socket closes.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	remoteIP := remoteIPOf(r)

	// Lockout is enforced at accept time, before registration or any
	// lookup: a locked-out IP cannot even open a socket.
	if s.lockout.IsLocked(remoteIP) {
		s.accessLog.Append(AccessLogEntry{
			Time: s.clock.Now(), Event: EventLockout, RemoteIP: remoteIP,
			Detail: "connection refused at accept",
		})
		http.Error(w, "locked out", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remoteIp", remoteIP, "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	pc := &peerConn{
		server:   s,
		conn:     conn,
		remoteIP: remoteIP,
		logger:   s.logger.With("remoteIp", remoteIP),
	}

	s.connMu.Lock()
	s.conns[pc] = struct{}{}
	s.connMu.Unlock()

	s.readLoop(pc)
}

// readLoop consumes frames from one socket until it closes. Panics in
// a handler are contained here: the server must survive any single
// connection's failure.
func (s *Server) readLoop(pc *peerConn) {
	defer func() {
		if r := recover(); r != nil {
			pc.logger.Error("connection handler panicked", "panic", r, "connectionId", pc.id())
		}
		s.handleClose(pc)
	}()

	for {
		_, data, err := pc.conn.ReadMessage()
		if err != nil {
			return
		}

		payload, err := protocol.Decode(data)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownKind) {
				// Unknown kinds are dropped, not fatal: an older
				// server must tolerate newer peers.
				pc.logger.Debug("dropping unknown message kind", "error", err)
				continue
			}
			pc.logger.Warn("malformed frame", "connectionId", pc.id(), "error", err)
			continue
		}

		if id := pc.id(); id != "" {
			s.registry.Touch(id, s.clock.Now())
		}
		s.dispatch(pc, payload)
	}
}

// dispatch routes one decoded frame. The kind switch is exhaustive
// over what the server handles; everything relayable goes to the
// linked partner, and anything else is an explicit silent drop.
func (s *Server) dispatch(pc *peerConn, payload protocol.Payload) {
	switch msg := payload.(type) {
	case *protocol.Register:
		s.handleRegister(pc, msg)
	case *protocol.Connect:
		s.handleConnect(pc, msg)
	case *protocol.Disconnect:
		s.handleDisconnect(pc)
	case *protocol.Ping:
		if err := pc.Send(&protocol.Pong{}); err != nil {
			pc.logger.Debug("pong failed", "connectionId", pc.id(), "error", err)
		}
	default:
		if protocol.Relayable(payload.Kind()) {
			s.relay(pc, payload)
			return
		}
		// A well-formed kind the server never expects from a client
		// (registered, pong, ...). Drop it.
		pc.logger.Debug("ignoring unexpected kind", "kind", payload.Kind(), "connectionId", pc.id())
	}
}

// relay forwards a frame to the sender's linked partner. No partner
// means a silent drop: the relay offers no delivery guarantee, and
// surfacing an error for every frame of an unlinked streamer would
// melt the socket.
func (s *Server) relay(pc *peerConn, payload protocol.Payload) {
	partner := s.registry.PartnerSocket(pc.id())
	if partner == nil {
		return
	}

	// The opaque relay kind is delivered as relayed; everything else
	// is forwarded verbatim.
	if relay, ok := payload.(*protocol.Relay); ok {
		payload = &protocol.Relayed{Data: relay.Data}
	}

	if err := partner.Send(payload); err != nil {
		pc.logger.Debug("relay delivery failed", "kind", payload.Kind(), "error", err)
	}
}

func (s *Server) handleRegister(pc *peerConn, msg *protocol.Register) {
	now := s.clock.Now()

	// Re-registering under a different id on the same socket retires
	// the old registration first, so no stale id keeps pointing at
	// this connection.
	if previous := pc.id(); previous != "" && previous != msg.ConnectionID {
		if _, partnerSocket := s.registry.Remove(previous, pc); partnerSocket != nil {
			s.notify(partnerSocket, &protocol.Disconnected{Reason: "peer re-registered"})
		}
	}

	session := &PeerSession{
		ConnectionID: msg.ConnectionID,
		PasswordHash: msg.Password,
		IsHost:       msg.IsHost,
		RemoteIP:     pc.remoteIP,
		RegisteredAt: now,
		LastActivity: now,
		socket:       pc,
	}

	evicted, evictedPartner := s.registry.Register(session)
	pc.setID(msg.ConnectionID)

	// A stale registration under the same id is evicted and its
	// socket closed. Leaving it registered would strand a ghost
	// session nobody can reach; leaving the socket open would leak
	// the connection. The same peer re-registering on its live socket
	// is the one exception: its socket survives.
	if evicted != nil {
		if evictedPartner != nil {
			s.notify(evictedPartner, &protocol.Disconnected{Reason: "peer evicted"})
		}
		if evicted.socket != Socket(pc) {
			s.notify(evicted.socket, &protocol.Disconnected{Reason: "evicted by re-registration"})
			evicted.socket.Close()
		}
		s.accessLog.Append(AccessLogEntry{
			Time: now, Event: EventEvicted, ConnectionID: msg.ConnectionID,
			RemoteIP: evicted.RemoteIP, Detail: "replaced by new registration",
		})
	}

	s.accessLog.Append(AccessLogEntry{
		Time: now, Event: EventRegister, ConnectionID: msg.ConnectionID,
		RemoteIP: pc.remoteIP,
	})
	pc.logger.Info("peer registered", "connectionId", msg.ConnectionID, "isHost", msg.IsHost)

	if err := pc.Send(&protocol.Registered{ConnectionID: msg.ConnectionID}); err != nil {
		pc.logger.Warn("registered reply failed", "connectionId", msg.ConnectionID, "error", err)
	}
}

func (s *Server) handleConnect(pc *peerConn, msg *protocol.Connect) {
	now := s.clock.Now()

	// Lockout first, before any lookup leaks whether the target
	// exists.
	if s.lockout.IsLocked(pc.remoteIP) {
		s.connectError(pc, protocol.ReasonLockedOut)
		return
	}

	target, ok := s.registry.Lookup(msg.TargetConnectionID)
	if !ok {
		s.accessLog.Append(AccessLogEntry{
			Time: now, Event: EventConnectFailed, ConnectionID: msg.TargetConnectionID,
			RemoteIP: pc.remoteIP, Detail: "target not registered",
		})
		s.connectError(pc, protocol.ReasonNotFound)
		return
	}

	if !protocol.VerifyHash(target.PasswordHash, msg.Password) {
		lockedOut := s.lockout.RecordFailure(pc.remoteIP)
		s.accessLog.Append(AccessLogEntry{
			Time: now, Event: EventConnectFailed, ConnectionID: msg.TargetConnectionID,
			RemoteIP: pc.remoteIP, Detail: "password mismatch",
		})
		if lockedOut {
			s.accessLog.Append(AccessLogEntry{
				Time: now, Event: EventLockout, RemoteIP: pc.remoteIP,
				Detail: "failed attempt budget exhausted",
			})
			pc.logger.Warn("source IP locked out", "remoteIp", pc.remoteIP)
		}
		s.connectError(pc, protocol.ReasonInvalidPassword)
		return
	}

	sessionID := uuid.NewString()
	targetSocket, displaced, err := s.registry.Link(pc.id(), msg.TargetConnectionID, sessionID, now)
	if err != nil {
		// The target vanished between lookup and link, or the peer
		// tried to connect to itself.
		pc.logger.Debug("link failed", "target", msg.TargetConnectionID, "error", err)
		s.connectError(pc, protocol.ReasonNotFound)
		return
	}

	// Peers whose link the takeover broke must hear that their session
	// ended; without the notice they would keep streaming into a relay
	// that silently drops.
	for _, socket := range displaced {
		s.notify(socket, &protocol.Disconnected{Reason: "peer connected elsewhere"})
	}

	s.accessLog.Append(AccessLogEntry{
		Time: now, Event: EventConnectSuccess, ConnectionID: pc.id(),
		RemoteIP: pc.remoteIP, Detail: "linked to " + msg.TargetConnectionID,
	})
	pc.logger.Info("peers linked",
		"sessionId", sessionID,
		"source", pc.id(),
		"target", msg.TargetConnectionID,
	)

	if err := pc.Send(&protocol.ConnectSuccess{SessionID: sessionID, TargetConnectionID: msg.TargetConnectionID}); err != nil {
		pc.logger.Warn("connect-success delivery failed", "error", err)
	}
	s.notify(targetSocket, &protocol.IncomingConnection{SessionID: sessionID, FromConnectionID: pc.id()})
}

func (s *Server) handleDisconnect(pc *peerConn) {
	partnerID, partnerSocket := s.registry.Unlink(pc.id())
	if partnerSocket != nil {
		s.notify(partnerSocket, &protocol.Disconnected{Reason: "peer disconnected"})
	}
	s.accessLog.Append(AccessLogEntry{
		Time: s.clock.Now(), Event: EventDisconnect, ConnectionID: pc.id(),
		RemoteIP: pc.remoteIP, Detail: "explicit disconnect",
	})
	if partnerID != "" {
		pc.logger.Info("peer unlinked", "connectionId", pc.id(), "partner", partnerID)
	}
}

// handleClose runs when a socket's read loop exits for any reason:
// remote close, network error, eviction, or sweep. It funnels through
// the same unlink/notify path as an explicit disconnect.
func (s *Server) handleClose(pc *peerConn) {
	s.connMu.Lock()
	delete(s.conns, pc)
	s.connMu.Unlock()

	pc.Close()

	id := pc.id()
	if id == "" {
		return
	}

	partnerID, partnerSocket := s.registry.Remove(id, pc)
	if partnerSocket != nil {
		s.notify(partnerSocket, &protocol.Disconnected{Reason: "peer connection closed"})
	}
	s.accessLog.Append(AccessLogEntry{
		Time: s.clock.Now(), Event: EventDisconnect, ConnectionID: id,
		RemoteIP: pc.remoteIP, Detail: "socket closed",
	})
	pc.logger.Info("peer departed", "connectionId", id, "hadPartner", partnerID != "")
}

// connectError sends a typed connect-error to the affected socket
// only. Connect failures are per-connection events, never fatal to the
// server.
func (s *Server) connectError(pc *peerConn, reason string) {
	if err := pc.Send(&protocol.ConnectError{Error: reason}); err != nil {
		pc.logger.Debug("connect-error delivery failed", "error", err)
	}
}

// notify sends a payload best-effort; delivery failures are logged at
// debug and otherwise ignored.
func (s *Server) notify(socket Socket, payload protocol.Payload) {
	if socket == nil {
		return
	}
	if err := socket.Send(payload); err != nil {
		s.logger.Debug("notification delivery failed", "kind", payload.Kind(), "error", err)
	}
}

// StartSweep launches the idle-session sweep on the configured
// interval. The returned stop function cancels it synchronously.
func (s *Server) StartSweep() (stop func()) {
	ticker := s.clock.NewTicker(s.config.SweepInterval.Std())
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.sweepIdle()
			case <-done:
				return
			case <-s.closed:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// sweepIdle disconnects every peer idle past the session timeout,
// through the same close path as any other disconnect.
func (s *Server) sweepIdle() {
	now := s.clock.Now()
	for _, id := range s.registry.IdlePeers(now, s.config.SessionTimeout.Std()) {
		peer, ok := s.registry.Lookup(id)
		if !ok {
			continue
		}
		s.accessLog.Append(AccessLogEntry{
			Time: now, Event: EventTimeout, ConnectionID: id,
			RemoteIP: peer.RemoteIP, Detail: "idle past session timeout",
		})
		s.logger.Info("disconnecting idle peer", "connectionId", id,
			"idle", now.Sub(peer.LastActivity))

		// Closing the socket makes its read loop exit, which unlinks
		// and notifies the partner exactly like an explicit
		// disconnect.
		s.notify(peer.socket, &protocol.Disconnected{Reason: "timeout"})
		peer.socket.Close()
	}
}

// ForceDisconnect closes the socket of the given peer, for the admin
// surface. Returns false if the id is unknown.
func (s *Server) ForceDisconnect(connectionID, actor string) bool {
	peer, ok := s.registry.Lookup(connectionID)
	if !ok {
		return false
	}
	s.accessLog.Append(AccessLogEntry{
		Time: s.clock.Now(), Event: EventAdminAction, ConnectionID: connectionID,
		RemoteIP: peer.RemoteIP, Detail: "force disconnect", Actor: actor,
	})
	s.notify(peer.socket, &protocol.Disconnected{Reason: "disconnected by administrator"})
	peer.socket.Close()
	return true
}

// Close shuts the server down: every connected peer receives a
// shutdown notice and its socket is closed. Idempotent.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)

		s.connMu.Lock()
		peers := make([]*peerConn, 0, len(s.conns))
		for pc := range s.conns {
			peers = append(peers, pc)
		}
		s.connMu.Unlock()

		for _, pc := range peers {
			s.notify(pc, &protocol.Disconnected{Reason: "shutdown"})
			pc.Close()
		}
	})
}

// Run serves the WebSocket endpoint on the configured listen address
// until ctx is cancelled. The sweep runs for the same lifetime.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", s.Handler())

	server := &http.Server{
		Addr:        s.config.ListenAddr,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
	}

	stopSweep := s.StartSweep()
	defer stopSweep()

	go func() {
		<-ctx.Done()
		s.Close()
		server.Close()
	}()

	s.logger.Info("signaling server listening", "addr", s.config.ListenAddr)
	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// remoteIPOf extracts the client IP from a request, without port.
func remoteIPOf(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// peerConn is one live WebSocket connection. It implements Socket.
// Writers are serialized: gorilla connections permit at most one
// concurrent writer.
type peerConn struct {
	server   *Server
	conn     *websocket.Conn
	remoteIP string
	logger   *slog.Logger

	writeMu sync.Mutex

	mu           sync.Mutex
	connectionID string
	closed       bool
}

// id returns the connection id set at registration, or "".
func (pc *peerConn) id() string {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.connectionID
}

func (pc *peerConn) setID(id string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.connectionID = id
}

// Send encodes and writes one frame. Safe for concurrent use.
func (pc *peerConn) Send(payload protocol.Payload) error {
	data, err := protocol.Encode(payload)
	if err != nil {
		return err
	}

	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()
	return pc.conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears down the socket. Idempotent.
func (pc *peerConn) Close() error {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return nil
	}
	pc.closed = true
	pc.mu.Unlock()
	return pc.conn.Close()
}
