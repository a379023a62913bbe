// Copyright 2024-2026 Aiku AI

// Package bridge wires the Mattermost connection, the game bus, the account
// link registry and the modules together. Every event, whichever side it
// comes from, goes through Bridge.HandleEvent.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-ecolink/pkg/connector"
	"github.com/aiku/mattermost-ecolink/pkg/events"
	"github.com/aiku/mattermost-ecolink/pkg/gamebus"
	"github.com/aiku/mattermost-ecolink/pkg/linking"
	"github.com/aiku/mattermost-ecolink/pkg/modules"
	"github.com/aiku/mattermost-ecolink/pkg/render"
	"github.com/aiku/mattermost-ecolink/pkg/storage"
)

const (
	StatusUninitialized       = "Uninitialized"
	StatusInitializing        = "Initializing"
	StatusPostInitializing    = "Performing post server start initialization"
	StatusAborted             = "Initialization aborted"
	StatusInitializingModules = "Initializing modules"
	StatusRunning             = "Connected and running"
	StatusShuttingDownModules = "Shutting down modules"
	StatusDisconnected        = "Disconnected"
	StatusShuttingDown        = "Shutting down"
)

// Hook keys on the chat connection.
const (
	hookConnected     = "bridge"
	hookDisconnecting = "bridge"
)

// presenceTypes are the events after which the bot's custom status is
// refreshed.
const presenceTypes = events.Join | events.Login | events.Logout | events.Timer

// Chat is the Mattermost connection as the bridge uses it.
type Chat interface {
	modules.Chat
	linking.Chat

	SetEventSink(sink connector.EventSink)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) (bool, error)
	IsConnected() bool
	CanRestart() bool
	OpenRestartGate()
	Status() string
	ConnectedHooks() *connector.Hooks
	DisconnectingHooks() *connector.Hooks

	UserByUsername(ctx context.Context, username string) (*model.User, error)
	SetCustomStatus(ctx context.Context, text string) error
	CheckChannelAccess(ctx context.Context, channelID string) error
}

// Game is the game server connection as the bridge uses it.
type Game interface {
	modules.Game
	linking.Notifier
	gamebus.UserLister

	Subscribe(handler func(raw any)) (cancel func(), err error)
	OnWorldReset(fn func()) (func(), error)
	OnLinkRequest(fn func(gamebus.LinkRequest)) (func(), error)
	OnUnlinkRequest(fn func(gamebus.UnlinkRequest)) (func(), error)
	Currencies(ctx context.Context) ([]events.Currency, error)
}

var (
	_ Chat = (*connector.Client)(nil)
	_ Game = (*gamebus.Bus)(nil)
)

// Options configures a Bridge.
type Options struct {
	Config *Config
	Chat   Chat
	Game   Game
	Log    zerolog.Logger

	// Modules builds the modules installed on every connect. Defaults to
	// modules.Catalog.
	Modules func(modules.Settings) []modules.Module
}

// Bridge is the orchestrator. It implements modules.Host and
// connector.EventSink.
type Bridge struct {
	cfg        *Config
	log        zerolog.Logger
	chat       Chat
	game       Game
	renderer   render.Renderer
	newModules func(modules.Settings) []modules.Module

	world     *storage.World
	links     *linking.Registry
	directory *gamebus.Directory
	registry  *modules.Registry
	recorder  *Recorder

	status            atomic.Value
	postInitialized   atomic.Bool
	worldResetPending atomic.Bool

	inflight sync.WaitGroup

	mu             sync.Mutex
	stopPresence   context.CancelFunc
	presenceDone   chan struct{}
	unsubscribe    func()
	controlCancels []func()
}

var (
	_ modules.Host        = (*Bridge)(nil)
	_ connector.EventSink = (*Bridge)(nil)
)

// New creates a bridge. Config must have been post-processed.
func New(opts Options) (*Bridge, error) {
	if opts.Config == nil || opts.Chat == nil || opts.Game == nil {
		return nil, errors.New("bridge needs a config, a chat connection and a game connection")
	}
	renderer := opts.Config.Renderer()
	if renderer == nil {
		return nil, errors.New("config has not been post-processed")
	}
	world, err := storage.OpenWorld(opts.Config.Storage.WorldPath(), opts.Log)
	if err != nil {
		return nil, err
	}
	if opts.Modules == nil {
		opts.Modules = modules.Catalog
	}

	b := &Bridge{
		cfg:        opts.Config,
		log:        opts.Log.With().Str("component", "bridge").Logger(),
		chat:       opts.Chat,
		game:       opts.Game,
		renderer:   renderer,
		newModules: opts.Modules,
		world:      world,
		directory:  gamebus.NewDirectory(),
		registry:   modules.NewRegistry(opts.Log),
		recorder:   NewRecorder(opts.Log),
	}
	b.links = linking.New(linking.Options{
		Store:      storage.NewFile[[]linking.LinkedUser](opts.Config.Storage.LinkedUsersPath()),
		Chat:       opts.Chat,
		Game:       b.directory,
		Notifier:   opts.Game,
		Log:        opts.Log,
		OnVerified: b.onLinkVerified,
		OnRemoved:  b.onLinkRemoved,
	})
	b.status.Store(StatusUninitialized)
	return b, nil
}

// Status returns the bridge status string.
func (b *Bridge) Status() string {
	return b.status.Load().(string)
}

func (b *Bridge) setStatus(status string) {
	b.status.Store(status)
	b.log.Info().Str("status", status).Msg("Status changed")
}

// Dispatch is the completion handle of one HandleEvent call.
type Dispatch struct {
	ID    uuid.UUID
	Event events.Event

	done chan struct{}
}

// Done is closed once every stage has run.
func (d *Dispatch) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the dispatch completes or ctx is done.
func (d *Dispatch) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleEvent dispatches an event through every stage, in order: the event
// recorder, world storage, the link registry, the modules and finally the
// presence refresh. It returns at once. Callers that discard the returned
// handle get no ordering guarantee relative to what they do next, and
// separate calls are not serialized against each other.
//
// Cancelling ctx does not abort a dispatch that has started.
func (b *Bridge) HandleEvent(ctx context.Context, t events.Type, payload ...any) *Dispatch {
	d := &Dispatch{
		ID:    uuid.New(),
		Event: events.New(t, payload...),
		done:  make(chan struct{}),
	}
	ctx = context.WithoutCancel(ctx)
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		defer close(d.done)
		b.dispatch(ctx, d)
	}()
	return d
}

func (b *Bridge) dispatch(ctx context.Context, d *Dispatch) {
	evt := d.Event
	log := b.log.With().Str("dispatch_id", d.ID.String()).Stringer("type", evt.Type).Logger()
	ctx = log.WithContext(ctx)

	b.recorder.Record(evt)

	b.world.HandleEvent(evt)
	b.directory.HandleEvent(evt)

	if result := b.links.HandleEvent(ctx, evt); result != linking.ResultIgnored {
		log.Debug().Stringer("result", result).Msg("Link reaction handled")
	}

	b.registry.Update(ctx, b, evt)

	if evt.Type.Has(presenceTypes) && b.chat.IsConnected() {
		b.updatePresence(ctx)
	}
}

// HandleChatEvent receives raw events from the chat connection.
func (b *Bridge) HandleChatEvent(raw any) {
	b.handleRaw("mattermost", raw)
}

func (b *Bridge) handleGameEvent(raw any) {
	b.handleRaw("game", raw)
}

func (b *Bridge) handleRaw(source string, raw any) {
	evt, ok := events.Normalize(raw)
	if !ok {
		b.log.Debug().Str("source", source).Type("raw_type", raw).Msg("Dropping unsupported event")
		return
	}
	b.HandleEvent(context.Background(), evt.Type, evt.Payload...)
}

// Start loads persisted state, subscribes to the game control subjects and
// attempts the chat connection. A failed connection is not an error: the
// bridge stays up and can be restarted through the admin commands.
func (b *Bridge) Start(ctx context.Context) error {
	b.setStatus(StatusInitializing)
	if err := b.links.Load(); err != nil {
		return err
	}
	if err := b.directory.Refresh(ctx, b.game); err != nil {
		b.log.Warn().Err(err).Msg("Failed to fetch game users")
	}
	if err := b.subscribeControl(); err != nil {
		return err
	}

	b.chat.SetEventSink(b)
	if err := b.chat.Start(ctx); err != nil {
		b.log.Error().Err(err).Msg("Failed to connect to Mattermost")
	}
	return nil
}

func (b *Bridge) subscribeControl() error {
	var cancels []func()
	subscribe := func(cancel func(), err error) error {
		if err != nil {
			for _, c := range cancels {
				c()
			}
			return fmt.Errorf("failed to subscribe to game control subjects: %w", err)
		}
		cancels = append(cancels, cancel)
		return nil
	}
	if err := subscribe(b.game.OnWorldReset(b.onWorldReset)); err != nil {
		return err
	}
	if err := subscribe(b.game.OnLinkRequest(b.onLinkRequest)); err != nil {
		return err
	}
	if err := subscribe(b.game.OnUnlinkRequest(b.onUnlinkRequest)); err != nil {
		return err
	}
	b.mu.Lock()
	b.controlCancels = cancels
	b.mu.Unlock()
	return nil
}

// PostServerInitialize runs once the game server is up. Without a chat
// connection it only arms the connected hook and opens the restart gate;
// otherwise it brings up the modules and announces the server start.
func (b *Bridge) PostServerInitialize(ctx context.Context) {
	b.setStatus(StatusPostInitializing)
	if !b.chat.IsConnected() {
		b.setStatus(StatusAborted)
		b.chat.ConnectedHooks().Add(hookConnected, b.handleConnected)
		b.chat.OpenRestartGate()
		b.postInitialized.Store(true)
		return
	}

	b.handleConnected(ctx)
	b.postInitialized.Store(true)
	if b.worldResetPending.Swap(false) {
		b.HandleEvent(ctx, events.WorldReset)
	}
	b.HandleEvent(ctx, events.ServerStarted)
}

func (b *Bridge) handleConnected(ctx context.Context) {
	b.chat.ConnectedHooks().Remove(hookConnected)
	ctx = context.WithoutCancel(ctx)

	b.links.Initialize(ctx)

	b.setStatus(StatusInitializingModules)
	b.registry.Initialize(ctx, b, b.newModules(b.cfg.Modules))

	b.startPresence()
	b.chat.DisconnectingHooks().Add(hookDisconnecting, b.handleDisconnecting)
	b.subscribeGameEvents()

	b.HandleEvent(ctx, events.ChatClientConnected)
	b.setStatus(StatusRunning)
	b.chat.OpenRestartGate()
}

func (b *Bridge) handleDisconnecting(ctx context.Context) {
	b.chat.DisconnectingHooks().Remove(hookDisconnecting)

	b.unsubscribeGameEvents()
	b.stopPresenceTimer()

	b.setStatus(StatusShuttingDownModules)
	b.registry.Reset(ctx)
	b.links.Deactivate()

	b.chat.ConnectedHooks().Add(hookConnected, b.handleConnected)
	b.setStatus(StatusDisconnected)
}

func (b *Bridge) subscribeGameEvents() {
	cancel, err := b.game.Subscribe(b.handleGameEvent)
	if err != nil {
		b.log.Error().Err(err).Msg("Failed to subscribe to game events")
		return
	}
	b.mu.Lock()
	old := b.unsubscribe
	b.unsubscribe = cancel
	b.mu.Unlock()
	if old != nil {
		old()
	}
}

func (b *Bridge) unsubscribeGameEvents() {
	b.mu.Lock()
	cancel := b.unsubscribe
	b.unsubscribe = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Shutdown announces the server stop, tears down the modules and the
// connections and writes the data files.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.setStatus(StatusShuttingDown)
	if err := b.HandleEvent(ctx, events.ServerStopped).Wait(ctx); err != nil {
		b.log.Warn().Err(err).Msg("Server stop announcement did not finish")
	}

	b.chat.ConnectedHooks().Remove(hookConnected)
	b.chat.DisconnectingHooks().Remove(hookDisconnecting)
	b.unsubscribeGameEvents()
	b.stopPresenceTimer()
	b.registry.Reset(ctx)
	b.links.Deactivate()

	b.mu.Lock()
	cancels := b.controlCancels
	b.controlCancels = nil
	b.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}

	var errs []error
	if err := b.chat.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	b.waitInflight(ctx)
	if err := b.links.Write(); err != nil {
		errs = append(errs, err)
	}
	if err := b.world.Write(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (b *Bridge) waitInflight(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.log.Warn().Msg("Gave up waiting for event dispatches")
	}
}

func (b *Bridge) onWorldReset() {
	if err := b.world.ResetWorldData(); err != nil {
		b.log.Error().Err(err).Msg("Failed to reset world data")
	}
	if !b.postInitialized.Load() {
		b.worldResetPending.Store(true)
		return
	}
	b.HandleEvent(context.Background(), events.WorldReset)
}

func (b *Bridge) onLinkVerified(ctx context.Context, link linking.LinkedUser) {
	b.HandleEvent(ctx, events.AccountLinkVerified, link.Notice())
	if user, ok := b.directory.UserByEcoID(link.SlgID, link.SteamID); ok {
		if err := b.game.NotifyUser(ctx, user, "Account Linked", "Your Mattermost account is now linked."); err != nil {
			b.log.Warn().Err(err).Str("user", user.Name).Msg("Failed to notify game user")
		}
	}
}

func (b *Bridge) onLinkRemoved(ctx context.Context, link linking.LinkedUser) {
	b.HandleEvent(ctx, events.AccountLinkRemoved, link.Notice())
}

func (b *Bridge) onLinkRequest(req gamebus.LinkRequest) {
	ctx := context.Background()
	log := b.log.With().Str("user", req.User.Name).Str("mattermost_username", req.MattermostUsername).Logger()
	fail := func(msg string) {
		if err := b.game.NotifyUser(ctx, req.User, "Link Failed", msg); err != nil {
			log.Warn().Err(err).Msg("Failed to notify game user")
		}
	}

	if !b.chat.IsConnected() {
		fail("The bridge is not connected to Mattermost. Try again later.")
		return
	}
	user, err := b.chat.UserByUsername(ctx, req.MattermostUsername)
	if err != nil {
		log.Debug().Err(err).Msg("Link request for unknown Mattermost user")
		fail(fmt.Sprintf("No Mattermost user named %s was found.", req.MattermostUsername))
		return
	}
	if _, err := b.links.RequestLink(ctx, req.User, user.Id); err != nil {
		log.Warn().Err(err).Msg("Link request failed")
		if errors.Is(err, linking.ErrAlreadyLinked) {
			fail("This account is already linked. Unlink it first.")
		} else {
			fail("The link request could not be sent.")
		}
		return
	}
	log.Info().Str("mattermost_id", user.Id).Msg("Link requested")
}

func (b *Bridge) onUnlinkRequest(req gamebus.UnlinkRequest) {
	ctx := context.Background()
	title, msg := "Link Removed", "Your Mattermost account is no longer linked."
	if !b.links.RemoveLinkedUserByEcoUser(ctx, req.User) {
		title, msg = "Unlink Failed", "There is no Mattermost account linked to this account."
	}
	if err := b.game.NotifyUser(ctx, req.User, title, msg); err != nil {
		b.log.Warn().Err(err).Str("user", req.User.Name).Msg("Failed to notify game user")
	}
}

// Stats collects the numbers shown in the presence string.
func (b *Bridge) Stats() render.Stats {
	online, total := b.directory.Counts()
	return render.Stats{
		ServerName:  b.cfg.ServerName,
		OnlineUsers: online,
		TotalUsers:  total,
		LinkedUsers: b.links.Len(),
	}
}

// Links returns the account link registry.
func (b *Bridge) Links() modules.Links {
	return b.links
}

// LinkRegistry returns the account link registry with its full API.
func (b *Bridge) LinkRegistry() *linking.Registry {
	return b.links
}

func (b *Bridge) Chat() modules.Chat {
	return b.chat
}

func (b *Bridge) Game() modules.Game {
	return b.game
}

func (b *Bridge) Renderer() render.Renderer {
	return b.renderer
}

func (b *Bridge) Currencies(ctx context.Context) ([]events.Currency, error) {
	return b.game.Currencies(ctx)
}

func (b *Bridge) TradeCounts() map[int]int {
	return b.world.TradeCounts()
}

func (b *Bridge) Logger() zerolog.Logger {
	return b.log
}

// Modules returns the module registry.
func (b *Bridge) Modules() *modules.Registry {
	return b.registry
}

// EventCounts returns the number of dispatches per event type.
func (b *Bridge) EventCounts() map[string]uint64 {
	return b.recorder.Counts()
}
