// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/screenlink-project/screenlink/lib/clock"
	"github.com/screenlink-project/screenlink/lib/config"
	"github.com/screenlink-project/screenlink/protocol"
)

// fakeSocket records payloads sent to it, for registry-level tests.
type fakeSocket struct {
	sent   chan protocol.Payload
	closed chan struct{}
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		sent:   make(chan protocol.Payload, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeSocket) Send(payload protocol.Payload) error {
	f.sent <- payload
	return nil
}

func (f *fakeSocket) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

// testServer is a signaling server mounted on an httptest listener,
// with its clock exposed.
type testServer struct {
	server  *Server
	clock   *clock.FakeClock
	httpSrv *httptest.Server
	wsURL   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithConfig(t, config.DefaultServer())
}

func newTestServerWithConfig(t *testing.T, cfg config.Server) *testServer {
	t.Helper()

	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	server := NewServer(cfg, testLogger(t), fake)

	mux := http.NewServeMux()
	mux.Handle("/ws", server.Handler())
	httpSrv := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Close()
		httpSrv.Close()
	})

	return &testServer{
		server:  server,
		clock:   fake,
		httpSrv: httpSrv,
		wsURL:   "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws",
	}
}

// testLogger discards output: connection goroutines can outlive the
// test body, so routing slog through t.Logf would race test
// completion.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testPeer is one WebSocket client for server tests.
type testPeer struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialPeer(t *testing.T, ts *testServer) *testPeer {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(ts.wsURL, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", ts.wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return &testPeer{t: t, conn: conn}
}

func (p *testPeer) send(payload protocol.Payload) {
	p.t.Helper()
	data, err := protocol.Encode(payload)
	if err != nil {
		p.t.Fatalf("encoding %s: %v", payload.Kind(), err)
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		p.t.Fatalf("sending %s: %v", payload.Kind(), err)
	}
}

// receive reads the next frame, failing the test after a wall-clock
// timeout. The server's behaviour under test is not timer-driven, so
// the real deadline is only a safety valve.
func (p *testPeer) receive() protocol.Payload {
	p.t.Helper()
	if err := p.conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		p.t.Fatalf("setting read deadline: %v", err)
	}
	_, data, err := p.conn.ReadMessage()
	if err != nil {
		p.t.Fatalf("reading frame: %v", err)
	}
	payload, err := protocol.Decode(data)
	if err != nil {
		p.t.Fatalf("decoding frame: %v", err)
	}
	return payload
}

// expectClosed asserts the peer's socket gets closed by the server.
func (p *testPeer) expectClosed() {
	p.t.Helper()
	if err := p.conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		p.t.Fatalf("setting read deadline: %v", err)
	}
	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// register performs the registration handshake.
func (p *testPeer) register(connectionID, password string, isHost bool) {
	p.t.Helper()
	p.send(&protocol.Register{
		ConnectionID: connectionID,
		Password:     protocol.HashPassword(connectionID, password),
		IsHost:       isHost,
	})
	reply := p.receive()
	registered, ok := reply.(*protocol.Registered)
	if !ok {
		p.t.Fatalf("register reply = %T, want *Registered", reply)
	}
	if registered.ConnectionID != connectionID {
		p.t.Fatalf("registered id = %q, want %q", registered.ConnectionID, connectionID)
	}
}
