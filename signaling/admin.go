// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/screenlink-project/screenlink/lib/version"
)

// Admin request/response bodies.

type blockRequest struct {
	IP string `json:"ip"`
}

type disconnectRequest struct {
	ConnectionID string `json:"connectionId"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Peers    int    `json:"peers"`
	Sessions int    `json:"sessions"`
}

type clientInfo struct {
	ConnectionID string    `json:"connectionId"`
	IsHost       bool      `json:"isHost"`
	RemoteIP     string    `json:"remoteIp"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastActivity time.Time `json:"lastActivity"`
	ConnectedTo  string    `json:"connectedTo,omitempty"`
	SessionID    string    `json:"sessionId,omitempty"`
}

// actorHeader attributes admin actions in the access log. The admin
// API sits behind an identity-aware proxy in deployments that need
// real attribution; the server records whatever the proxy asserts.
const actorHeader = "X-Admin-Actor"

// apiKeyHeader carries the admin API key.
const apiKeyHeader = "X-API-Key"

// Admin returns the administrative HTTP surface. /health is open;
// everything under /api/ requires the configured API key. An empty
// configured key rejects all gated requests rather than granting open
// access.
func (s *Server) Admin() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /api/clients", s.requireAPIKey(s.handleClients))
	mux.Handle("GET /api/access-log", s.requireAPIKey(s.handleAccessLog))
	mux.Handle("GET /api/lockouts", s.requireAPIKey(s.handleLockouts))
	mux.Handle("POST /api/block", s.requireAPIKey(s.handleBlock))
	mux.Handle("POST /api/unblock", s.requireAPIKey(s.handleUnblock))
	mux.Handle("POST /api/disconnect", s.requireAPIKey(s.handleForceDisconnect))
	return mux
}

func (s *Server) requireAPIKey(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.AdminAPIKey == "" || r.Header.Get(apiKeyHeader) != s.config.AdminAPIKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	peers, sessions := s.registry.Counts()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Version:  version.Short(),
		Uptime:   s.clock.Now().Sub(s.startedAt).Truncate(time.Second).String(),
		Peers:    peers,
		Sessions: sessions,
	})
}

func (s *Server) handleClients(w http.ResponseWriter, _ *http.Request) {
	peers := s.registry.Peers()
	clients := make([]clientInfo, 0, len(peers))
	for _, peer := range peers {
		clients = append(clients, clientInfo{
			ConnectionID: peer.ConnectionID,
			IsHost:       peer.IsHost,
			RemoteIP:     peer.RemoteIP,
			RegisteredAt: peer.RegisteredAt,
			LastActivity: peer.LastActivity,
			ConnectedTo:  peer.ConnectedTo,
			SessionID:    peer.SessionID,
		})
	}
	writeJSON(w, http.StatusOK, clients)
}

func (s *Server) handleAccessLog(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, s.accessLog.Recent(limit))
}

func (s *Server) handleLockouts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.lockout.Records())
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IP == "" {
		http.Error(w, "ip is required", http.StatusBadRequest)
		return
	}
	s.lockout.Block(req.IP)
	s.accessLog.Append(AccessLogEntry{
		Time: s.clock.Now(), Event: EventAdminAction, RemoteIP: req.IP,
		Detail: "block", Actor: r.Header.Get(actorHeader),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IP == "" {
		http.Error(w, "ip is required", http.StatusBadRequest)
		return
	}
	s.lockout.Unblock(req.IP)
	s.accessLog.Append(AccessLogEntry{
		Time: s.clock.Now(), Event: EventAdminAction, RemoteIP: req.IP,
		Detail: "unblock", Actor: r.Header.Get(actorHeader),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleForceDisconnect(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConnectionID == "" {
		http.Error(w, "connectionId is required", http.StatusBadRequest)
		return
	}
	if !s.ForceDisconnect(req.ConnectionID, r.Header.Get(actorHeader)) {
		http.Error(w, "unknown connection id", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
