// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/screenlink-project/screenlink/entitlement"
	"github.com/screenlink-project/screenlink/lib/clock"
	"github.com/screenlink-project/screenlink/lib/config"
	"github.com/screenlink-project/screenlink/protocol"
)

var (
	// ErrNotConnected is returned by sends and connect requests while
	// no socket is up.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected is returned by Connect when a socket is
	// already up or being established.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrNotEntitled is returned when the entitlement policy refuses
	// a new connection.
	ErrNotEntitled = errors.New("connection not permitted")
)

// Machine is the client-side connection state machine. One Machine
// serves one registration; host and viewer construct it identically
// and differ only in which operations they call.
//
// All callbacks (state and message subscribers) are invoked from the
// machine's read goroutine, one at a time, so subscribers observe
// events in wire order.
type Machine struct {
	logger      *slog.Logger
	clock       clock.Clock
	config      config.Client
	entitlement entitlement.Service

	mu        sync.Mutex
	state     State
	link      *wsLink
	identity  identity
	sessionID string
	partnerID string

	// explicit is set by Disconnect: the read loop must not start a
	// reconnect when the socket goes down on purpose.
	explicit bool

	// cancel unblocks the reconnect backoff the instant Disconnect is
	// called. Recreated by each Connect.
	cancel    chan struct{}
	cancelled bool

	subMu     sync.Mutex
	nextSubID int
	stateSubs map[int]func(State)
	msgSubs   map[int]func(protocol.Payload)
}

// identity is the registration (re)played on every dial.
type identity struct {
	connectionID string
	passwordHash string
	isHost       bool
}

// NewMachine creates a machine. A nil entitlement service means
// allow-all.
func NewMachine(cfg config.Client, logger *slog.Logger, clk clock.Clock, ent entitlement.Service) *Machine {
	if ent == nil {
		ent = entitlement.NewStatic(clk, 0)
	}
	return &Machine{
		logger:      logger,
		clock:       clk,
		config:      cfg,
		entitlement: ent,
		stateSubs:   make(map[int]func(State)),
		msgSubs:     make(map[int]func(protocol.Payload)),
	}
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ConnectionID returns the id this machine registered under, empty
// before Connect.
func (m *Machine) ConnectionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity.connectionID
}

// SessionID returns the live session id, empty while unlinked.
func (m *Machine) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// PartnerID returns the linked peer's connection id, empty while
// unlinked.
func (m *Machine) PartnerID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.partnerID
}

// SubscribeState registers a state-change callback. Every subscriber
// sees every transition. The returned function unsubscribes.
func (m *Machine) SubscribeState(fn func(State)) (unsubscribe func()) {
	m.subMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.stateSubs[id] = fn
	m.subMu.Unlock()
	return func() {
		m.subMu.Lock()
		delete(m.stateSubs, id)
		m.subMu.Unlock()
	}
}

// SubscribeMessages registers a callback for inbound messages the
// machine does not consume itself (SDP, ICE, frames, input, file
// transfer, peer disconnect notices). The returned function
// unsubscribes.
func (m *Machine) SubscribeMessages(fn func(protocol.Payload)) (unsubscribe func()) {
	m.subMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.msgSubs[id] = fn
	m.subMu.Unlock()
	return func() {
		m.subMu.Lock()
		delete(m.msgSubs, id)
		m.subMu.Unlock()
	}
}

// Connect dials the server and registers under connectionID. The
// password is hashed before it leaves the process; the server only
// ever sees the hash. Connect returns once the register frame is on
// the wire; the connected state lands asynchronously when the server
// confirms.
func (m *Machine) Connect(connectionID, password string, isHost bool) error {
	m.mu.Lock()
	if m.link != nil {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.identity = identity{
		connectionID: connectionID,
		passwordHash: protocol.HashPassword(connectionID, password),
		isHost:       isHost,
	}
	m.explicit = false
	m.cancelled = false
	m.cancel = make(chan struct{})
	m.mu.Unlock()

	m.setState(StateConnecting)
	if err := m.dial(); err != nil {
		m.setState(StateDisconnected)
		return err
	}
	return nil
}

// ConnectToHost asks the server to link this peer to the target. The
// viewer path: the machine moves to authenticating until the server
// answers with connect-success or connect-error.
func (m *Machine) ConnectToHost(targetConnectionID, password string) error {
	if !m.entitlement.CanStartConnection() {
		return ErrNotEntitled
	}

	m.mu.Lock()
	link := m.link
	m.mu.Unlock()
	if link == nil {
		return ErrNotConnected
	}

	m.setState(StateAuthenticating)
	return link.send(&protocol.Connect{
		TargetConnectionID: targetConnectionID,
		Password:           protocol.HashPassword(targetConnectionID, password),
	})
}

// Send delivers one payload to the server over the current socket.
func (m *Machine) Send(payload protocol.Payload) error {
	m.mu.Lock()
	link := m.link
	m.mu.Unlock()
	if link == nil {
		return ErrNotConnected
	}
	return link.send(payload)
}

// Disconnect tears the connection down on purpose: a disconnect frame
// is sent best-effort, the socket is closed, any reconnect backoff is
// cancelled, and the machine lands in disconnected without retrying.
// Idempotent.
func (m *Machine) Disconnect() {
	m.mu.Lock()
	if m.explicit {
		m.mu.Unlock()
		return
	}
	m.explicit = true
	link := m.link
	if !m.cancelled && m.cancel != nil {
		m.cancelled = true
		close(m.cancel)
	}
	m.mu.Unlock()

	if link != nil {
		if err := link.send(&protocol.Disconnect{}); err != nil {
			m.logger.Debug("disconnect frame not delivered", "error", err)
		}
		link.close()
	}
	m.setState(StateDisconnected)
}

// dial opens the socket, installs it as the current link, and sends
// the register frame.
func (m *Machine) dial() error {
	conn, resp, err := websocket.DefaultDialer.Dial(m.config.ServerURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dialing %s: %w", m.config.ServerURL, err)
	}

	link := &wsLink{conn: conn, done: make(chan struct{})}
	m.mu.Lock()
	if m.explicit {
		// Disconnect landed while the dial was in flight; the fresh
		// socket must not come up.
		m.mu.Unlock()
		link.close()
		return errors.New("torn down while dialing")
	}
	m.link = link
	id := m.identity
	m.mu.Unlock()

	go m.readLoop(link)

	if err := link.send(&protocol.Register{
		ConnectionID: id.connectionID,
		Password:     id.passwordHash,
		IsHost:       id.isHost,
	}); err != nil {
		link.close()
		return fmt.Errorf("sending register: %w", err)
	}
	return nil
}

// readLoop consumes frames from one socket until it closes, then
// decides whether the loss was deliberate.
func (m *Machine) readLoop(link *wsLink) {
	for {
		_, data, err := link.conn.ReadMessage()
		if err != nil {
			break
		}
		payload, err := protocol.Decode(data)
		if err != nil {
			// Unknown or malformed frames are dropped, never fatal.
			m.logger.Debug("dropping inbound frame", "error", err)
			continue
		}
		m.handle(link, payload)
	}
	link.close()

	m.mu.Lock()
	if m.link != link {
		// A newer dial superseded this socket.
		m.mu.Unlock()
		return
	}
	m.link = nil
	m.sessionID = ""
	m.partnerID = ""
	explicit := m.explicit
	m.mu.Unlock()

	if explicit {
		m.setState(StateDisconnected)
		return
	}

	m.logger.Warn("server connection lost")
	go m.reconnectLoop()
}

// reconnectLoop redials with linearly increasing backoff
// (attempt × delay) until a dial succeeds, the attempt budget runs
// out, or Disconnect cancels it.
func (m *Machine) reconnectLoop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	m.setState(StateConnecting)
	for attempt := 1; attempt <= m.config.MaxReconnectAttempts; attempt++ {
		delay := time.Duration(attempt) * m.config.ReconnectDelay.Std()
		select {
		case <-m.clock.After(delay):
		case <-cancel:
			m.setState(StateDisconnected)
			return
		}

		err := m.dial()

		// A Disconnect that raced the dial ends the loop whatever the
		// dial's outcome; the machine must stay down.
		m.mu.Lock()
		explicit := m.explicit
		m.mu.Unlock()
		if explicit {
			m.setState(StateDisconnected)
			return
		}

		if err == nil {
			m.logger.Info("reconnected to server", "attempt", attempt)
			return
		}
		m.logger.Warn("reconnect attempt failed",
			"attempt", attempt,
			"maxAttempts", m.config.MaxReconnectAttempts,
			"error", err,
		)
	}

	m.logger.Warn("reconnect attempts exhausted")
	m.setState(StateDisconnected)
}

// handle consumes lifecycle kinds and fans the rest out to message
// subscribers.
func (m *Machine) handle(link *wsLink, payload protocol.Payload) {
	switch msg := payload.(type) {
	case *protocol.Registered:
		m.logger.Info("registered with server", "connectionId", msg.ConnectionID)
		m.setState(StateConnected)
		m.startHeartbeat(link)

	case *protocol.ConnectSuccess:
		m.mu.Lock()
		m.sessionID = msg.SessionID
		m.partnerID = msg.TargetConnectionID
		m.mu.Unlock()
		m.logger.Info("session established", "sessionId", msg.SessionID, "partner", msg.TargetConnectionID)
		m.setState(StateSessionActive)
		m.publish(payload)

	case *protocol.IncomingConnection:
		m.mu.Lock()
		m.sessionID = msg.SessionID
		m.partnerID = msg.FromConnectionID
		m.mu.Unlock()
		m.logger.Info("incoming session", "sessionId", msg.SessionID, "partner", msg.FromConnectionID)
		m.setState(StateSessionActive)
		m.publish(payload)

	case *protocol.ConnectError:
		m.logger.Warn("connect refused", "reason", msg.Error)
		m.setState(StateError)
		m.publish(payload)

	case *protocol.Disconnected:
		m.mu.Lock()
		m.sessionID = ""
		m.partnerID = ""
		m.mu.Unlock()
		m.logger.Info("peer link ended", "reason", msg.Reason)
		m.setState(StateConnected)
		m.publish(payload)

	case *protocol.Pong:
		// Heartbeat ack; nothing to do.

	default:
		m.publish(payload)
	}
}

// startHeartbeat pings the server every heartbeat interval for the
// life of one socket. Closing the link stops it. At most one heartbeat
// runs per link: a duplicate registered frame must not start a second
// ticker.
func (m *Machine) startHeartbeat(link *wsLink) {
	link.heartbeatOnce.Do(func() { go m.heartbeatLoop(link) })
}

func (m *Machine) heartbeatLoop(link *wsLink) {
	ticker := m.clock.NewTicker(m.config.HeartbeatInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := link.send(&protocol.Ping{}); err != nil {
				return
			}
		case <-link.done:
			return
		}
	}
}

// setState transitions and notifies subscribers. No-op when the state
// is unchanged, so teardown paths can converge on disconnected
// without double-notifying.
func (m *Machine) setState(next State) {
	m.mu.Lock()
	if m.state == next {
		m.mu.Unlock()
		return
	}
	previous := m.state
	m.state = next
	m.mu.Unlock()

	m.logger.Debug("state changed", "from", previous, "to", next)

	m.subMu.Lock()
	subscribers := make([]func(State), 0, len(m.stateSubs))
	for _, fn := range m.stateSubs {
		subscribers = append(subscribers, fn)
	}
	m.subMu.Unlock()
	for _, fn := range subscribers {
		fn(next)
	}
}

func (m *Machine) publish(payload protocol.Payload) {
	m.subMu.Lock()
	subscribers := make([]func(protocol.Payload), 0, len(m.msgSubs))
	for _, fn := range m.msgSubs {
		subscribers = append(subscribers, fn)
	}
	m.subMu.Unlock()
	for _, fn := range subscribers {
		fn(payload)
	}
}

// wsLink is one socket generation. A Machine that reconnects gets a
// fresh wsLink; goroutines bound to the old one observe its done
// channel and exit.
type wsLink struct {
	conn *websocket.Conn

	// done is closed exactly once, when the link goes down.
	done      chan struct{}
	closeOnce sync.Once

	// heartbeatOnce guards the heartbeat goroutine for this socket.
	heartbeatOnce sync.Once

	// writeMu serializes writes: gorilla connections permit at most
	// one concurrent writer.
	writeMu sync.Mutex
}

func (l *wsLink) send(payload protocol.Payload) error {
	select {
	case <-l.done:
		return ErrNotConnected
	default:
	}

	data, err := protocol.Encode(payload)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", payload.Kind(), err)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

func (l *wsLink) close() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.conn.Close()
	})
}
