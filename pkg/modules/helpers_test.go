// Copyright 2024-2026 Aiku AI

package modules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-ecolink/pkg/events"
	"github.com/aiku/mattermost-ecolink/pkg/linking"
	"github.com/aiku/mattermost-ecolink/pkg/render"
)

type post struct {
	Channel string
	Text    string
}

type fakeChat struct {
	mu       sync.Mutex
	created  []post
	edited   map[string]string
	added    []string
	removed  []string
	nextID   int
	failEdit bool
}

func (c *fakeChat) CreatePost(_ context.Context, channelID, message string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.created = append(c.created, post{Channel: channelID, Text: message})
	return fmt.Sprintf("post-%d", c.nextID), nil
}

func (c *fakeChat) EditPost(_ context.Context, postID, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failEdit {
		return errors.New("post deleted")
	}
	if c.edited == nil {
		c.edited = make(map[string]string)
	}
	c.edited[postID] = message
	return nil
}

func (c *fakeChat) AddChannelMember(_ context.Context, channelID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.added = append(c.added, channelID+":"+userID)
	return nil
}

func (c *fakeChat) RemoveChannelMember(_ context.Context, channelID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, channelID+":"+userID)
	return nil
}

func (c *fakeChat) Posts() []post {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]post(nil), c.created...)
}

type sentChat struct {
	Channel, Author, Text string
}

type fakeGame struct {
	mu   sync.Mutex
	sent []sentChat
}

func (g *fakeGame) SendChat(_ context.Context, channel, author, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, sentChat{channel, author, text})
	return nil
}

type fakeLinks map[string]bool

func (l fakeLinks) ByMattermostID(_ context.Context, id string, _ ...linking.LookupOption) (linking.LinkedUser, bool) {
	if l[id] {
		return linking.LinkedUser{MattermostID: id, Verified: true}, true
	}
	return linking.LinkedUser{}, false
}

type fakeHost struct {
	chat       *fakeChat
	game       *fakeGame
	renderer   render.Renderer
	links      fakeLinks
	currencies []events.Currency
	counts     map[int]int
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()
	r, err := render.NewTextRenderer(nil)
	if err != nil {
		t.Fatalf("NewTextRenderer: %v", err)
	}
	return &fakeHost{
		chat:     &fakeChat{},
		game:     &fakeGame{},
		renderer: r,
		links:    fakeLinks{},
		counts:   map[int]int{},
	}
}

func (h *fakeHost) Chat() Chat                { return h.chat }
func (h *fakeHost) Game() Game                { return h.game }
func (h *fakeHost) Renderer() render.Renderer { return h.renderer }
func (h *fakeHost) Links() Links              { return h.links }
func (h *fakeHost) TradeCounts() map[int]int  { return h.counts }
func (h *fakeHost) Logger() zerolog.Logger    { return zerolog.Nop() }
func (h *fakeHost) Currencies(context.Context) ([]events.Currency, error) {
	return h.currencies, nil
}

// countingFeature records every update it receives.
type countingFeature struct {
	run     atomic.Bool
	updates atomic.Int32
	starts  atomic.Int32
	stops   atomic.Int32
	err     error
	panics  bool

	mu    sync.Mutex
	types []events.Type
}

func newCountingFeature() *countingFeature {
	f := &countingFeature{}
	f.run.Store(true)
	return f
}

func (f *countingFeature) ShouldRun() bool { return f.run.Load() }

func (f *countingFeature) Update(_ context.Context, _ Host, evt events.Event) error {
	f.updates.Add(1)
	f.mu.Lock()
	f.types = append(f.types, evt.Type)
	f.mu.Unlock()
	if f.panics {
		panic("feature exploded")
	}
	return f.err
}

func (f *countingFeature) Start(context.Context, Host) error {
	f.starts.Add(1)
	return nil
}

func (f *countingFeature) Stop(context.Context, Host) {
	f.stops.Add(1)
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}
