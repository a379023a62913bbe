// Copyright 2024-2026 Aiku AI

// Package gamebus connects the bridge to the game server over NATS. The
// game server plugin publishes its callbacks as one subject per event and
// listens for chat relays and user notifications.
package gamebus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-ecolink/pkg/events"
)

// Config holds the NATS connection settings.
type Config struct {
	URL            string        `yaml:"url" env:"NATS_URL"`
	Prefix         string        `yaml:"prefix"`
	OutPrefix      string        `yaml:"out_prefix"`
	Encoding       string        `yaml:"encoding"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

const (
	DefaultPrefix         = "eco"
	DefaultOutPrefix      = "ecolink"
	DefaultRequestTimeout = 5 * time.Second
)

var ErrClosed = errors.New("game bus closed")

// WithDefaults fills in unset values.
func (c Config) WithDefaults() Config {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.OutPrefix == "" {
		c.OutPrefix = DefaultOutPrefix
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

type decoder func(c Codec, data []byte) (any, error)

func decodeAs[T any](c Codec, data []byte) (any, error) {
	v := new(T)
	if err := c.Unmarshal(data, v); err != nil {
		return nil, err
	}
	return v, nil
}

// eventSubjects maps each game callback subject, relative to the prefix,
// to its raw payload type.
var eventSubjects = []struct {
	subject string
	decode  decoder
}{
	{"user.joined", decodeAs[events.UserJoined]},
	{"user.login", decodeAs[events.UserLoggedIn]},
	{"user.logout", decodeAs[events.UserLoggedOut]},
	{"election.started", decodeAs[events.ElectionStarted]},
	{"election.finished", decodeAs[events.ElectionFinished]},
	{"chat.sent", decodeAs[events.GameChatMessage]},
	{"currency.trade", decodeAs[events.CurrencyTrade]},
	{"currency.created", decodeAs[events.CurrencyMinted]},
	{"workorder.created", decodeAs[events.WorkOrder]},
	{"workparty.posted", decodeAs[events.WorkPartyPosted]},
	{"workparty.completed", decodeAs[events.WorkPartyCompleted]},
	{"workparty.joined", decodeAs[events.WorkPartyJoined]},
	{"workparty.left", decodeAs[events.WorkPartyLeft]},
	{"workparty.worked", decodeAs[events.WorkPartyWorked]},
	{"vote.cast", decodeAs[events.VoteCast]},
	{"demographic.changed", decodeAs[events.DemographicChange]},
	{"specialty.gained", decodeAs[events.SpecialtyGained]},
	{"log.written", decodeAs[events.ServerLogLine]},
}

// Bus is a NATS connection to the game server.
type Bus struct {
	cfg   Config
	conn  *nats.Conn
	codec Codec
	log   zerolog.Logger

	closeOnce sync.Once
}

// Connect dials NATS with automatic reconnection. Extra options are
// appended to the defaults.
func Connect(cfg Config, log zerolog.Logger, opts ...nats.Option) (*Bus, error) {
	cfg = cfg.WithDefaults()
	codec, err := CodecFor(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	log = log.With().Str("component", "gamebus").Logger()
	defaults := []nats.Option{
		nats.Name("mattermost-ecolink"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
	}
	nc, err := nats.Connect(cfg.URL, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}
	log.Info().Str("url", nc.ConnectedUrl()).Str("prefix", cfg.Prefix).Msg("Connected to game bus")
	return &Bus{cfg: cfg, conn: nc, codec: codec, log: log}, nil
}

func (b *Bus) subject(rel string) string {
	return b.cfg.Prefix + "." + rel
}

func (b *Bus) outSubject(rel string) string {
	return b.cfg.OutPrefix + "." + rel
}

// Subscribe subscribes to every game event subject and passes each decoded
// raw payload to handler. The returned cancel function unsubscribes all of
// them.
func (b *Bus) Subscribe(handler func(raw any)) (cancel func(), err error) {
	subs := make([]*nats.Subscription, 0, len(eventSubjects))
	cancel = func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}
	for _, es := range eventSubjects {
		subject := b.subject(es.subject)
		decode := es.decode
		sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
			raw, err := decode(b.codec, msg.Data)
			if err != nil {
				b.log.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping undecodable game event")
				return
			}
			handler(raw)
		})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}
	if err := b.conn.Flush(); err != nil {
		cancel()
		return nil, fmt.Errorf("flushing subscriptions: %w", err)
	}
	b.log.Debug().Int("subjects", len(subs)).Msg("Subscribed to game events")
	return cancel, nil
}

func subscribeControl[T any](b *Bus, rel string, fn func(T)) (func(), error) {
	subject := b.subject(rel)
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if len(msg.Data) > 0 {
			if err := b.codec.Unmarshal(msg.Data, &v); err != nil {
				b.log.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping undecodable control message")
				return
			}
		}
		fn(v)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flushing subscription: %w", err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// LinkRequest asks to link a game user with a Mattermost account.
type LinkRequest struct {
	User               events.User `json:"user"`
	MattermostUsername string      `json:"mattermost_username"`
}

// UnlinkRequest asks to remove the link of a game user.
type UnlinkRequest struct {
	User events.User `json:"user"`
}

// OnWorldReset calls fn whenever the server reports a newly generated world.
func (b *Bus) OnWorldReset(fn func()) (func(), error) {
	return subscribeControl(b, "world.reset", func(struct{}) { fn() })
}

// OnLinkRequest calls fn for link commands issued in game.
func (b *Bus) OnLinkRequest(fn func(LinkRequest)) (func(), error) {
	return subscribeControl(b, "link.request", fn)
}

// OnUnlinkRequest calls fn for unlink commands issued in game.
func (b *Bus) OnUnlinkRequest(fn func(UnlinkRequest)) (func(), error) {
	return subscribeControl(b, "link.remove", fn)
}

// OutboundChat is a Mattermost message relayed into game chat.
type OutboundChat struct {
	Channel string `json:"channel"`
	Author  string `json:"author"`
	Text    string `json:"text"`
}

// Notification is shown to one game user.
type Notification struct {
	User    events.User `json:"user"`
	Title   string      `json:"title"`
	Message string      `json:"message"`
}

func (b *Bus) publish(ctx context.Context, rel string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.conn.IsClosed() {
		return ErrClosed
	}
	data, err := b.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", rel, err)
	}
	return b.conn.Publish(b.outSubject(rel), data)
}

// SendChat relays a message into a game chat channel.
func (b *Bus) SendChat(ctx context.Context, channel, author, text string) error {
	return b.publish(ctx, "chat", OutboundChat{Channel: channel, Author: author, Text: text})
}

// NotifyUser shows a notification to a game user.
func (b *Bus) NotifyUser(ctx context.Context, user events.User, title, message string) error {
	return b.publish(ctx, "notify", Notification{User: user, Title: title, Message: message})
}

func (b *Bus) request(ctx context.Context, rel string, out any) error {
	if b.conn.IsClosed() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
	defer cancel()
	msg, err := b.conn.RequestWithContext(ctx, b.subject(rel), nil)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", rel, err)
	}
	if err := b.codec.Unmarshal(msg.Data, out); err != nil {
		return fmt.Errorf("decoding %s reply: %w", rel, err)
	}
	return nil
}

// Users asks the server for every known user.
func (b *Bus) Users(ctx context.Context) ([]events.User, error) {
	var users []events.User
	if err := b.request(ctx, "users.list", &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Currencies asks the server for every currency.
func (b *Bus) Currencies(ctx context.Context) ([]events.Currency, error) {
	var currencies []events.Currency
	if err := b.request(ctx, "currencies.list", &currencies); err != nil {
		return nil, err
	}
	return currencies, nil
}

// Connected reports whether the NATS connection is currently up.
func (b *Bus) Connected() bool {
	return b.conn.IsConnected()
}

// Subjects lists the event subjects the bus subscribes to.
func (b *Bus) Subjects() []string {
	out := make([]string, len(eventSubjects))
	for i, es := range eventSubjects {
		out[i] = b.subject(es.subject)
	}
	return out
}

// String describes the connection for status output.
func (b *Bus) String() string {
	state := "disconnected"
	if b.Connected() {
		state = "connected"
	}
	return fmt.Sprintf("%s (%s, prefix %s)", strings.TrimSpace(b.cfg.URL), state, b.cfg.Prefix)
}

// Close drains and closes the connection.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		if err := b.conn.Drain(); err != nil {
			b.conn.Close()
		}
	})
}
