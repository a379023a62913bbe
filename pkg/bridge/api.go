// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxCommandBodySize is the maximum allowed request body for a command (64 KB).
const maxCommandBodySize = 64 << 10

// CommandRequest is the optional body of POST /api/commands/{name}.
type CommandRequest struct {
	Verbose bool `json:"verbose"`
}

// CommandResponse is returned by POST /api/commands/{name}.
type CommandResponse struct {
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Status      string `json:"status"`
	Connected   bool   `json:"connected"`
	CanRestart  bool   `json:"can_restart"`
	OnlineUsers int    `json:"online_users"`
	TotalUsers  int    `json:"total_users"`
	LinkedUsers int    `json:"linked_users"`
	Text        string `json:"text"`
}

// AdminHandler returns the admin HTTP API.
func (b *Bridge) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/commands/", b.HandleCommand)
	mux.HandleFunc("/api/status", b.HandleStatus)
	return mux
}

// ServeAdmin starts the admin HTTP API on addr in the background. The
// returned server is shut down by the caller.
func (b *Bridge) ServeAdmin(addr string) *http.Server {
	server := &http.Server{
		Addr:         addr,
		Handler:      b.AdminHandler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		b.log.Info().Str("addr", addr).Msg("Starting bridge admin API")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			b.log.Error().Err(err).Msg("Bridge admin API error")
		}
	}()
	return server
}

// HandleCommand is an HTTP handler for POST /api/commands/{name}.
func (b *Bridge) HandleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/commands/"), "/")

	var req CommandRequest
	if r.Body != nil && r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxCommandBodySize)
		defer r.Body.Close()
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				http.Error(w, "invalid JSON", http.StatusBadRequest)
				return
			}
		}
	}

	b.log.Info().
		Str("remote_addr", r.RemoteAddr).
		Str("command", name).
		Msg("Admin command requested")

	output, err := b.RunCommand(r.Context(), name, req.Verbose)
	resp := CommandResponse{Command: name, OK: err == nil, Output: output}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		switch {
		case errors.Is(err, ErrUnknownCommand):
			status = http.StatusNotFound
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			status = http.StatusGatewayTimeout
		default:
			status = http.StatusConflict
		}
		b.log.Warn().Err(err).Str("command", name).Msg("Admin command failed")
	}
	b.writeJSON(w, status, resp)
}

// HandleStatus is an HTTP handler for GET /api/status.
func (b *Bridge) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats := b.Stats()
	resp := StatusResponse{
		Status:      b.Status(),
		Connected:   b.chat.IsConnected(),
		CanRestart:  b.chat.CanRestart(),
		OnlineUsers: stats.OnlineUsers,
		TotalUsers:  stats.TotalUsers,
		LinkedUsers: stats.LinkedUsers,
		Text:        b.DisplayText(r.URL.Query().Get("verbose") == "true"),
	}
	b.writeJSON(w, http.StatusOK, resp)
}

func (b *Bridge) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		b.log.Warn().Err(err).Msg("Failed to write admin response")
	}
}
