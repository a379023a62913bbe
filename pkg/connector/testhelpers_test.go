// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
)

const (
	testToken    = "test-token"
	testBotID    = "bot-user-id"
	testTeamName = "ecoteam"
	testTeamID   = "team-id"
)

// recordingSink captures chat events for test assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []any
}

func (s *recordingSink) HandleChatEvent(raw any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, raw)
}

func (s *recordingSink) Events() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]any, len(s.events))
	copy(cp, s.events)
	return cp
}

// fakeStream is a channel-backed eventStream.
type fakeStream struct {
	ch       chan *model.WebSocketEvent
	dropOnce sync.Once
	closed   atomic.Bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan *model.WebSocketEvent, 16)}
}

func (s *fakeStream) Events() <-chan *model.WebSocketEvent { return s.ch }
func (s *fakeStream) Close()                               { s.closed.Store(true) }

// Drop simulates the server closing the connection.
func (s *fakeStream) Drop() {
	s.dropOnce.Do(func() { close(s.ch) })
}

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// fakeMM is a test helper that wraps an httptest.Server simulating the
// Mattermost API. It records calls and provides canned responses.
type fakeMM struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// Users maps user ID to model.User for GetMe and username lookups.
	Users map[string]*model.User
	// TokenToUser maps bearer tokens to user IDs for GetMe auth.
	TokenToUser map[string]string
	// Teams maps team name to model.Team.
	Teams map[string]*model.Team
	// TeamMembers maps "teamID:userID" to membership.
	TeamMembers map[string]*model.TeamMember
	// Channels maps channel ID to model.Channel.
	Channels map[string]*model.Channel
	// ChannelMembers maps "channelID:userID" to membership.
	ChannelMembers map[string]*model.ChannelMember
	// FailEndpoints causes specific path prefixes to return 500.
	FailEndpoints map[string]bool
}

func newFakeMM() *fakeMM {
	f := &fakeMM{
		Users:          make(map[string]*model.User),
		TokenToUser:    make(map[string]string),
		Teams:          make(map[string]*model.Team),
		TeamMembers:    make(map[string]*model.TeamMember),
		Channels:       make(map[string]*model.Channel),
		ChannelMembers: make(map[string]*model.ChannelMember),
		FailEndpoints:  make(map[string]bool),
	}
	f.Users[testBotID] = &model.User{Id: testBotID, Username: "ecolink"}
	f.TokenToUser[testToken] = testBotID
	f.Teams[testTeamName] = &model.Team{Id: testTeamID, Name: testTeamName}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeMM) Close() {
	f.Server.Close()
}

func (f *fakeMM) record(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Path: path, Body: body})
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeMM) CalledPath(path string) bool {
	for _, c := range f.Calls() {
		if strings.Contains(c.Path, path) {
			return true
		}
	}
	return false
}

// SetFail toggles failure of every endpoint whose path contains prefix.
func (f *fakeMM) SetFail(prefix string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fail {
		f.FailEndpoints[prefix] = true
	} else {
		delete(f.FailEndpoints, prefix)
	}
}

func (f *fakeMM) shouldFail(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for prefix := range f.FailEndpoints {
		if strings.Contains(path, prefix) {
			return true
		}
	}
	return false
}

func (f *fakeMM) resolveToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	for tok, uid := range f.TokenToUser {
		if auth == "BEARER "+tok || auth == "Bearer "+tok {
			return uid
		}
	}
	return ""
}

func notFound(w http.ResponseWriter, what string) {
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]any{"message": "not found: " + what, "status_code": http.StatusNotFound})
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r.Method, r.URL.Path, string(body))

	if f.shouldFail(r.URL.Path) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "fake error"})
		return
	}

	path := r.URL.Path
	parts := strings.Split(path, "/")

	switch {
	// GET /api/v4/users/me
	case r.Method == "GET" && path == "/api/v4/users/me":
		uid := f.resolveToken(r)
		if uid == "" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "unauthorized"})
			return
		}
		if u, ok := f.Users[uid]; ok {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		notFound(w, uid)

	// GET /api/v4/users/username/{username}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/users/username/"):
		name := path[len("/api/v4/users/username/"):]
		for _, u := range f.Users {
			if u.Username == name {
				_ = json.NewEncoder(w).Encode(u)
				return
			}
		}
		notFound(w, name)

	// PUT /api/v4/users/{user_id}/status/custom
	case r.Method == "PUT" && strings.HasSuffix(path, "/status/custom"):
		var status model.CustomStatus
		_ = json.Unmarshal(body, &status)
		_ = json.NewEncoder(w).Encode(&status)

	// GET /api/v4/teams/name/{name}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/teams/name/"):
		name := path[len("/api/v4/teams/name/"):]
		if team, ok := f.Teams[name]; ok {
			_ = json.NewEncoder(w).Encode(team)
			return
		}
		notFound(w, name)

	// GET /api/v4/teams/{team_id}/members/{user_id}
	case r.Method == "GET" && len(parts) == 7 && parts[3] == "teams" && parts[5] == "members":
		if m, ok := f.TeamMembers[parts[4]+":"+parts[6]]; ok {
			_ = json.NewEncoder(w).Encode(m)
			return
		}
		notFound(w, parts[6])

	// POST /api/v4/channels/direct
	case r.Method == "POST" && path == "/api/v4/channels/direct":
		var ids []string
		_ = json.Unmarshal(body, &ids)
		ch := &model.Channel{Id: "dm-" + strings.Join(ids, "-"), Type: model.ChannelTypeDirect}
		_ = json.NewEncoder(w).Encode(ch)

	// GET /api/v4/channels/{channel_id}/members/{user_id}
	case r.Method == "GET" && len(parts) == 7 && parts[3] == "channels" && parts[5] == "members":
		if m, ok := f.ChannelMembers[parts[4]+":"+parts[6]]; ok {
			_ = json.NewEncoder(w).Encode(m)
			return
		}
		notFound(w, parts[6])

	// POST /api/v4/channels/{channel_id}/members
	case r.Method == "POST" && len(parts) == 6 && parts[3] == "channels" && parts[5] == "members":
		var req map[string]string
		_ = json.Unmarshal(body, &req)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(&model.ChannelMember{ChannelId: parts[4], UserId: req["user_id"]})

	// DELETE /api/v4/channels/{channel_id}/members/{user_id}
	case r.Method == "DELETE" && len(parts) == 7 && parts[3] == "channels" && parts[5] == "members":
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})

	// GET /api/v4/channels/{channel_id}
	case r.Method == "GET" && len(parts) == 5 && parts[3] == "channels":
		if ch, ok := f.Channels[parts[4]]; ok {
			_ = json.NewEncoder(w).Encode(ch)
			return
		}
		notFound(w, parts[4])

	// POST /api/v4/posts
	case r.Method == "POST" && path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		post.Id = "created-post-id"
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(&post)

	// PUT /api/v4/posts/{post_id}/patch
	case r.Method == "PUT" && strings.HasSuffix(path, "/patch"):
		_ = json.NewEncoder(w).Encode(&model.Post{Id: "patched"})

	// DELETE /api/v4/posts/{post_id}
	case r.Method == "DELETE" && strings.HasPrefix(path, "/api/v4/posts/"):
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})

	// POST /api/v4/reactions
	case r.Method == "POST" && path == "/api/v4/reactions":
		var reaction model.Reaction
		_ = json.Unmarshal(body, &reaction)
		_ = json.NewEncoder(w).Encode(&reaction)

	default:
		notFound(w, path)
	}
}

// newWebSocketEvent creates a model.WebSocketEvent for testing handlers.
func newWebSocketEvent(eventType model.WebsocketEventType, channelID string, data map[string]any) *model.WebSocketEvent {
	evt := model.NewWebSocketEvent(eventType, "", channelID, "", nil, "")
	return evt.SetData(data)
}

func testConfig(serverURL string) Config {
	return Config{
		ServerURL: serverURL,
		Token:     testToken,
		TeamName:  testTeamName,
		BotPrefix: "eco_",
	}
}

// newTestClient creates a disconnected Client talking to fake. Every dial
// returns a fresh fakeStream, which is sent to the returned channel.
func newTestClient(t *testing.T, fake *fakeMM) (*Client, *recordingSink, chan *fakeStream) {
	t.Helper()
	c := NewClient(testConfig(fake.Server.URL), zerolog.Nop())
	streams := make(chan *fakeStream, 8)
	c.dial = func(_, _ string) (eventStream, error) {
		s := newFakeStream()
		streams <- s
		return s, nil
	}
	sink := &recordingSink{}
	c.SetEventSink(sink)
	return c, sink, streams
}

// startTestClient returns a connected Client and its event stream.
func startTestClient(t *testing.T, fake *fakeMM) (*Client, *recordingSink, *fakeStream) {
	t.Helper()
	c, sink, streams := newTestClient(t, fake)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c, sink, <-streams
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
