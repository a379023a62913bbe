// Copyright 2024-2026 Aiku AI

package modules

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-ecolink/pkg/events"
)

// Feature is the behaviour a Unit wraps.
type Feature interface {
	// ShouldRun reports whether current configuration lets the feature run.
	ShouldRun() bool
	Update(ctx context.Context, host Host, evt events.Event) error
}

// Starter is implemented by features that act when they start running.
type Starter interface {
	Start(ctx context.Context, host Host) error
}

// Stopper is implemented by features that act when they stop running.
type Stopper interface {
	Stop(ctx context.Context, host Host)
}

// Options describe a Unit. A zero Interval means the unit has no timer.
type Options struct {
	Kind       Kind
	Name       string
	Triggers   events.Type
	Interval   time.Duration
	StartDelay time.Duration
}

// Unit is the standard Module implementation.
type Unit struct {
	opts    Options
	feature Feature

	mu        sync.Mutex
	state     State
	running   bool
	released  bool
	host      Host
	log       zerolog.Logger
	cancel    context.CancelFunc
	timerDone chan struct{}

	// updateMu serializes feature updates coming from dispatch and timer.
	updateMu sync.Mutex
}

var _ Module = (*Unit)(nil)

// NewUnit wraps feature in the module lifecycle.
func NewUnit(opts Options, feature Feature) *Unit {
	if opts.Name == "" {
		opts.Name = opts.Kind.String()
	}
	return &Unit{opts: opts, feature: feature, log: zerolog.Nop()}
}

func (u *Unit) String() string        { return u.opts.Name }
func (u *Unit) Kind() Kind            { return u.opts.Kind }
func (u *Unit) Triggers() events.Type { return u.opts.Triggers }

// Feature returns the wrapped feature.
func (u *Unit) Feature() Feature { return u.feature }

func (u *Unit) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Setup binds the unit to host and arms its timer. Only the first call
// has an effect.
func (u *Unit) Setup(host Host) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != StateCreated {
		return
	}
	u.host = host
	u.log = host.Logger().With().Str("module", u.opts.Name).Logger()
	u.state = StateSetUp

	if u.opts.Interval > 0 && u.opts.Triggers.Has(events.Timer) {
		ctx, cancel := context.WithCancel(context.Background())
		u.cancel = cancel
		u.timerDone = make(chan struct{})
		go u.runTimer(ctx, host)
	}
	u.log.Debug().Dur("interval", u.opts.Interval).Msg("Module set up")
}

// HandleStartOrStop starts or stops the feature depending on ShouldRun.
func (u *Unit) HandleStartOrStop(ctx context.Context) {
	u.mu.Lock()
	if u.state == StateCreated || u.state == StateDestroyed || u.released {
		u.mu.Unlock()
		return
	}
	should := u.feature.ShouldRun()
	if should == u.running {
		u.mu.Unlock()
		return
	}
	u.running = should
	host := u.host
	if should {
		u.state = StateStarted
	} else {
		u.state = StateStopped
	}
	u.mu.Unlock()

	if should {
		if starter, ok := u.feature.(Starter); ok {
			if err := starter.Start(ctx, host); err != nil {
				u.log.Warn().Err(err).Msg("Module start hook failed")
			}
		}
		u.log.Info().Msg("Module started")
	} else {
		if stopper, ok := u.feature.(Stopper); ok {
			stopper.Stop(ctx, host)
		}
		u.log.Info().Msg("Module stopped")
	}
}

// Update runs the feature if the unit is running and evt is one of its
// triggers.
func (u *Unit) Update(ctx context.Context, host Host, evt events.Event) error {
	if !evt.Type.Has(u.opts.Triggers) {
		return nil
	}
	u.mu.Lock()
	running := u.running
	u.mu.Unlock()
	if !running {
		return nil
	}

	u.updateMu.Lock()
	defer u.updateMu.Unlock()
	return u.feature.Update(ctx, host, evt)
}

// Stop stops the feature and releases the timer. The unit cannot be
// started again.
func (u *Unit) Stop(ctx context.Context) {
	u.mu.Lock()
	if u.released || u.state == StateCreated || u.state == StateDestroyed {
		u.mu.Unlock()
		return
	}
	wasRunning := u.running
	u.running = false
	u.released = true
	u.state = StateStopped
	host := u.host
	u.releaseTimerLocked()
	u.mu.Unlock()

	if stopper, ok := u.feature.(Stopper); ok && wasRunning {
		stopper.Stop(ctx, host)
	}
}

// Destroy releases everything the unit holds. It does not wait for an
// in-flight Update.
func (u *Unit) Destroy() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state == StateDestroyed {
		return
	}
	u.running = false
	u.released = true
	u.releaseTimerLocked()
	u.host = nil
	u.state = StateDestroyed
}

func (u *Unit) releaseTimerLocked() {
	if u.cancel != nil {
		u.cancel()
		u.cancel = nil
	}
}

func (u *Unit) runTimer(ctx context.Context, host Host) {
	defer close(u.timerDone)

	delay := time.NewTimer(u.opts.StartDelay)
	defer delay.Stop()
	select {
	case <-ctx.Done():
		return
	case <-delay.C:
	}

	ticker := time.NewTicker(u.opts.Interval)
	defer ticker.Stop()
	for {
		if err := safeUpdate(ctx, u, host, events.New(events.Timer)); err != nil {
			u.log.Err(err).Msg("Module timer update failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
