// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-ecolink/pkg/connector"
	"github.com/aiku/mattermost-ecolink/pkg/events"
	"github.com/aiku/mattermost-ecolink/pkg/gamebus"
	"github.com/aiku/mattermost-ecolink/pkg/modules"
)

const testTeamID = "team1"

type sentDM struct {
	userID, message string
}

// fakeChat mimics connector.Client: hooks fire on Start and Stop and the
// restart gate behaves the same way.
type fakeChat struct {
	connected  atomic.Bool
	canRestart atomic.Bool

	connectedHooks     connector.Hooks
	disconnectingHooks connector.Hooks

	// startGate, when set, blocks Start until it is closed.
	startGate chan struct{}

	mu       sync.Mutex
	startErr error
	sink     connector.EventSink
	nextID   int
	posts    map[string]string
	edits    map[string]string
	deleted  []string
	dms      []sentDM
	statuses []string
	added    []string
	removed  []string
	users    map[string]*model.User
	members  map[string]bool
	denied   map[string]bool
}

var _ Chat = (*fakeChat)(nil)

func newFakeChat() *fakeChat {
	c := &fakeChat{
		posts:   make(map[string]string),
		edits:   make(map[string]string),
		users:   make(map[string]*model.User),
		members: make(map[string]bool),
		denied:  make(map[string]bool),
	}
	return c
}

func (c *fakeChat) SetStartErr(err error) {
	c.mu.Lock()
	c.startErr = err
	c.mu.Unlock()
}

func (c *fakeChat) SetEventSink(sink connector.EventSink) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

func (c *fakeChat) Start(ctx context.Context) error {
	if c.startGate != nil {
		<-c.startGate
	}
	c.mu.Lock()
	err := c.startErr
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %w", connector.ErrConnection, err)
	}
	c.connected.Store(true)
	c.connectedHooks.Fire(ctx)
	return nil
}

func (c *fakeChat) Stop(ctx context.Context) error {
	if !c.connected.Load() {
		return nil
	}
	c.disconnectingHooks.Fire(ctx)
	c.connected.Store(false)
	return nil
}

func (c *fakeChat) Restart(ctx context.Context) (bool, error) {
	if !c.canRestart.CompareAndSwap(true, false) {
		return false, connector.ErrRestartRefused
	}
	if c.connected.Load() {
		_ = c.Stop(ctx)
	}
	if err := c.Start(ctx); err != nil {
		c.canRestart.Store(true)
		return false, err
	}
	return true, nil
}

func (c *fakeChat) IsConnected() bool { return c.connected.Load() }
func (c *fakeChat) CanRestart() bool  { return c.canRestart.Load() }
func (c *fakeChat) OpenRestartGate()  { c.canRestart.Store(true) }
func (c *fakeChat) TeamID() string    { return testTeamID }

func (c *fakeChat) Status() string {
	if c.connected.Load() {
		return connector.StatusConnected
	}
	return connector.StatusDisconnected
}

func (c *fakeChat) ConnectedHooks() *connector.Hooks     { return &c.connectedHooks }
func (c *fakeChat) DisconnectingHooks() *connector.Hooks { return &c.disconnectingHooks }

func (c *fakeChat) newID() string {
	c.nextID++
	return fmt.Sprintf("post-%d", c.nextID)
}

func (c *fakeChat) CreatePost(_ context.Context, channelID, message string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.newID()
	c.posts[id] = channelID + ":" + message
	return id, nil
}

func (c *fakeChat) EditPost(_ context.Context, postID, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edits[postID] = message
	return nil
}

func (c *fakeChat) DeletePost(_ context.Context, postID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, postID)
	return nil
}

func (c *fakeChat) SendDirectMessage(_ context.Context, userID, message string) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dms = append(c.dms, sentDM{userID, message})
	return "dm-" + userID, c.newID(), nil
}

func (c *fakeChat) AddReaction(context.Context, string, string) error { return nil }

func (c *fakeChat) ResolveMember(_ context.Context, teamID, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return teamID == testTeamID && c.members[userID], nil
}

func (c *fakeChat) UserByUsername(_ context.Context, username string) (*model.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if u, ok := c.users[username]; ok {
		return u, nil
	}
	return nil, errors.New("user not found")
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

func (c *fakeChat) SetCustomStatus(_ context.Context, text string) error {
	if !c.connected.Load() {
		return connector.ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, text)
	return nil
}

func (c *fakeChat) CheckChannelAccess(_ context.Context, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.denied[channelID] {
		return fmt.Errorf("bot cannot access channel %s", channelID)
	}
	return nil
}

func (c *fakeChat) StatusCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.statuses)
}

func (c *fakeChat) DMs() []sentDM {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentDM(nil), c.dms...)
}

type note struct {
	user, title string
}

type fakeGame struct {
	mu         sync.Mutex
	handler    func(raw any)
	subscribes int
	cancels    int
	worldReset func()
	linkReq    func(gamebus.LinkRequest)
	unlinkReq  func(gamebus.UnlinkRequest)
	controls   int
	chats      []string
	notes      []note
	users      []events.User
	currencies []events.Currency
}

var _ Game = (*fakeGame)(nil)

func (g *fakeGame) Subscribe(handler func(raw any)) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handler = handler
	g.subscribes++
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.handler = nil
		g.cancels++
	}, nil
}

func (g *fakeGame) control() func() {
	g.controls++
	return func() {
		g.mu.Lock()
		g.controls--
		g.mu.Unlock()
	}
}

func (g *fakeGame) OnWorldReset(fn func()) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.worldReset = fn
	return g.control(), nil
}

func (g *fakeGame) OnLinkRequest(fn func(gamebus.LinkRequest)) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.linkReq = fn
	return g.control(), nil
}

func (g *fakeGame) OnUnlinkRequest(fn func(gamebus.UnlinkRequest)) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unlinkReq = fn
	return g.control(), nil
}

func (g *fakeGame) SendChat(_ context.Context, channel, author, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chats = append(g.chats, channel+":"+author+":"+text)
	return nil
}

func (g *fakeGame) NotifyUser(_ context.Context, user events.User, title, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notes = append(g.notes, note{user.Name, title})
	return nil
}

func (g *fakeGame) Users(context.Context) ([]events.User, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]events.User(nil), g.users...), nil
}

func (g *fakeGame) Currencies(context.Context) ([]events.Currency, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]events.Currency(nil), g.currencies...), nil
}

// emit delivers a raw event the way the game bus subscription would.
func (g *fakeGame) emit(raw any) bool {
	g.mu.Lock()
	handler := g.handler
	g.mu.Unlock()
	if handler == nil {
		return false
	}
	handler(raw)
	return true
}

func (g *fakeGame) Notes() []note {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]note(nil), g.notes...)
}

// recordModule records every call made to it.
type recordModule struct {
	kind     modules.Kind
	triggers events.Type
	onUpdate func(ctx context.Context, host modules.Host, evt events.Event)

	mu        sync.Mutex
	state     modules.State
	updates   []events.Type
	lifecycle []string
}

func (m *recordModule) String() string        { return m.kind.String() }
func (m *recordModule) Kind() modules.Kind    { return m.kind }
func (m *recordModule) Triggers() events.Type { return m.triggers }

func (m *recordModule) State() modules.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *recordModule) transition(name string, s modules.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lifecycle = append(m.lifecycle, name)
	m.state = s
}

func (m *recordModule) Setup(modules.Host)                { m.transition("setup", modules.StateSetUp) }
func (m *recordModule) HandleStartOrStop(context.Context) { m.transition("start", modules.StateStarted) }
func (m *recordModule) Stop(context.Context)              { m.transition("stop", modules.StateStopped) }
func (m *recordModule) Destroy()                          { m.transition("destroy", modules.StateDestroyed) }

func (m *recordModule) Update(ctx context.Context, host modules.Host, evt events.Event) error {
	if !evt.Type.Has(m.triggers) {
		return nil
	}
	m.mu.Lock()
	m.updates = append(m.updates, evt.Type)
	m.mu.Unlock()
	if m.onUpdate != nil {
		m.onUpdate(ctx, host, evt)
	}
	return nil
}

func (m *recordModule) Updates() []events.Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.Type(nil), m.updates...)
}

func (m *recordModule) Count(t events.Type) int {
	n := 0
	for _, u := range m.Updates() {
		if u == t {
			n++
		}
	}
	return n
}

type testEnv struct {
	bridge *Bridge
	chat   *fakeChat
	game   *fakeGame
	cfg    *Config

	mu       sync.Mutex
	modules  [][]*recordModule
	onUpdate func(ctx context.Context, host modules.Host, evt events.Event)
}

// current returns the modules installed by the latest connect.
func (e *testEnv) current() []*recordModule {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.modules) == 0 {
		return nil
	}
	return e.modules[len(e.modules)-1]
}

func (e *testEnv) generations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.modules)
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := ParseConfig([]byte(ExampleConfig))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	cfg.Storage.DataDir = t.TempDir()
	cfg.Mattermost.Token = "test-token"
	return cfg
}

// newTestEnv builds a bridge whose module catalog is one recordModule per
// entry of triggers.
func newTestEnv(t *testing.T, triggers ...events.Type) *testEnv {
	t.Helper()
	env := &testEnv{
		chat: newFakeChat(),
		game: &fakeGame{},
		cfg:  testConfig(t),
	}
	b, err := New(Options{
		Config: env.cfg,
		Chat:   env.chat,
		Game:   env.game,
		Log:    zerolog.Nop(),
		Modules: func(modules.Settings) []modules.Module {
			env.mu.Lock()
			defer env.mu.Unlock()
			var recs []*recordModule
			var mods []modules.Module
			for i, tr := range triggers {
				m := &recordModule{kind: modules.Kind(i), triggers: tr, onUpdate: env.onUpdate}
				recs = append(recs, m)
				mods = append(mods, m)
			}
			env.modules = append(env.modules, recs)
			return mods
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	env.bridge = b
	return env
}

// run starts the bridge and completes post-server initialization.
func (e *testEnv) run(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := e.bridge.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.bridge.PostServerInitialize(ctx)
	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.bridge.Shutdown(sctx)
	})
}

func wait(t *testing.T, d *Dispatch) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("dispatch %s of %s did not finish: %v", d.ID, d.Event.Type, err)
	}
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

func (g *fakeGame) requestLink(req gamebus.LinkRequest) {
	g.mu.Lock()
	fn := g.linkReq
	g.mu.Unlock()
	fn(req)
}

func (g *fakeGame) requestUnlink(req gamebus.UnlinkRequest) {
	g.mu.Lock()
	fn := g.unlinkReq
	g.mu.Unlock()
	fn(req)
}

func (g *fakeGame) resetWorld() {
	g.mu.Lock()
	fn := g.worldReset
	g.mu.Unlock()
	fn()
}

func (g *fakeGame) Controls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.controls
}

func (g *fakeGame) Subscribed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.handler != nil
}
