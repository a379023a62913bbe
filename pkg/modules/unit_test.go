// Copyright 2024-2026 Aiku AI

package modules

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aiku/mattermost-ecolink/pkg/events"
)

func TestUnitLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	host := newFakeHost(t)
	f := newCountingFeature()
	u := NewUnit(Options{Kind: TradeFeed, Triggers: events.Trade}, f)

	if u.State() != StateCreated {
		t.Fatalf("initial state: got %s", u.State())
	}
	if u.String() != "TradeFeed" {
		t.Errorf("default name: got %q", u.String())
	}

	// Nothing runs before setup.
	u.HandleStartOrStop(ctx)
	if err := u.Update(ctx, host, events.New(events.Trade)); err != nil || f.updates.Load() != 0 {
		t.Fatalf("update before start: err=%v updates=%d", err, f.updates.Load())
	}

	u.Setup(host)
	if u.State() != StateSetUp {
		t.Errorf("after Setup: got %s", u.State())
	}
	u.HandleStartOrStop(ctx)
	u.HandleStartOrStop(ctx)
	if u.State() != StateStarted || f.starts.Load() != 1 {
		t.Errorf("after start: state=%s starts=%d, want started and 1", u.State(), f.starts.Load())
	}

	_ = u.Update(ctx, host, events.New(events.Trade))
	_ = u.Update(ctx, host, events.New(events.Join))
	if got := f.updates.Load(); got != 1 {
		t.Errorf("updates: got %d, want 1", got)
	}

	f.run.Store(false)
	u.HandleStartOrStop(ctx)
	if u.State() != StateStopped || f.stops.Load() != 1 {
		t.Errorf("after config stop: state=%s stops=%d", u.State(), f.stops.Load())
	}
	_ = u.Update(ctx, host, events.New(events.Trade))
	if got := f.updates.Load(); got != 1 {
		t.Errorf("stopped unit should not update, got %d", got)
	}

	f.run.Store(true)
	u.HandleStartOrStop(ctx)
	if u.State() != StateStarted || f.starts.Load() != 2 {
		t.Errorf("after restart: state=%s starts=%d", u.State(), f.starts.Load())
	}

	u.Stop(ctx)
	u.Stop(ctx)
	if u.State() != StateStopped || f.stops.Load() != 2 {
		t.Errorf("after Stop: state=%s stops=%d", u.State(), f.stops.Load())
	}
	// A stopped unit stays stopped.
	u.HandleStartOrStop(ctx)
	if u.State() != StateStopped {
		t.Errorf("HandleStartOrStop after Stop: got %s", u.State())
	}

	u.Destroy()
	u.Destroy()
	if u.State() != StateDestroyed {
		t.Errorf("after Destroy: got %s", u.State())
	}
}

func TestUnitTimerReleasedOnStop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newCountingFeature()
	u := NewUnit(Options{Kind: CurrencyDisplay, Triggers: events.Timer, Interval: 5 * time.Millisecond}, f)
	u.Setup(newFakeHost(t))
	u.HandleStartOrStop(ctx)
	waitFor(t, "first tick", func() bool { return f.updates.Load() > 0 })

	u.Stop(ctx)
	select {
	case <-u.timerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("timer goroutine did not exit after Stop")
	}
	after := f.updates.Load()
	time.Sleep(30 * time.Millisecond)
	if got := f.updates.Load(); got != after {
		t.Errorf("updates after Stop: got %d, want %d", got, after)
	}
}

func TestUnitTimerReleasedDuringStartDelay(t *testing.T) {
	t.Parallel()
	f := newCountingFeature()
	u := NewUnit(Options{Kind: CurrencyDisplay, Triggers: events.Timer, Interval: time.Millisecond, StartDelay: time.Hour}, f)
	u.Setup(newFakeHost(t))
	u.HandleStartOrStop(context.Background())

	u.Destroy()
	select {
	case <-u.timerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("timer goroutine did not exit after Destroy")
	}
	if got := f.updates.Load(); got != 0 {
		t.Errorf("updates: got %d, want 0", got)
	}
}

func TestUnitWithoutTimerTrigger(t *testing.T) {
	t.Parallel()
	u := NewUnit(Options{Kind: TradeFeed, Triggers: events.Trade, Interval: time.Millisecond}, newCountingFeature())
	u.Setup(newFakeHost(t))
	if u.timerDone != nil {
		t.Error("no timer should be armed without a Timer trigger")
	}
	u.Destroy()
}

func TestUnitTimerSurvivesPanic(t *testing.T) {
	t.Parallel()
	f := newCountingFeature()
	f.panics = true
	u := NewUnit(Options{Kind: CurrencyDisplay, Triggers: events.Timer, Interval: 5 * time.Millisecond}, f)
	u.Setup(newFakeHost(t))
	u.HandleStartOrStop(context.Background())
	t.Cleanup(u.Destroy)

	waitFor(t, "repeated ticks", func() bool { return f.updates.Load() >= 2 })
}

// blockingFeature parks every update until release is closed.
type blockingFeature struct {
	entered chan struct{}
	release chan struct{}
	updates atomic.Int32
}

func (f *blockingFeature) ShouldRun() bool { return true }

func (f *blockingFeature) Update(context.Context, Host, events.Event) error {
	f.updates.Add(1)
	select {
	case f.entered <- struct{}{}:
	default:
	}
	<-f.release
	return nil
}

func TestUnitStopAndDestroyDuringUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := &blockingFeature{entered: make(chan struct{}, 1), release: make(chan struct{})}
	u := NewUnit(Options{Kind: CurrencyDisplay, Triggers: events.Timer, Interval: time.Millisecond}, f)
	u.Setup(newFakeHost(t))
	u.HandleStartOrStop(ctx)

	select {
	case <-f.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("timer update never started")
	}

	stopped := make(chan struct{})
	go func() {
		u.Stop(ctx)
		u.Destroy()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop and Destroy blocked on the in-flight update")
	}
	if u.State() != StateDestroyed {
		t.Errorf("state: got %s, want destroyed", u.State())
	}

	close(f.release)
	select {
	case <-u.timerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("timer goroutine did not exit")
	}
	if got := f.updates.Load(); got != 1 {
		t.Errorf("feature updates: got %d, want 1", got)
	}
}

// overlapFeature notes whether two updates ever ran at the same time.
type overlapFeature struct {
	active   atomic.Int32
	overlap  atomic.Bool
	timer    atomic.Int32
	dispatch atomic.Int32
}

func (f *overlapFeature) ShouldRun() bool { return true }

func (f *overlapFeature) Update(_ context.Context, _ Host, evt events.Event) error {
	if f.active.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.active.Add(-1)
	if evt.Type == events.Timer {
		f.timer.Add(1)
	} else {
		f.dispatch.Add(1)
	}
	time.Sleep(100 * time.Microsecond)
	return nil
}

func TestUnitTimerAndDispatchUpdatesDoNotOverlap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	host := newFakeHost(t)
	f := &overlapFeature{}
	u := NewUnit(Options{Kind: CurrencyDisplay, Triggers: events.Timer | events.Trade, Interval: time.Millisecond}, f)
	u.Setup(host)
	u.HandleStartOrStop(ctx)
	t.Cleanup(u.Destroy)

	const dispatches = 20
	var wg sync.WaitGroup
	for range dispatches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := u.Update(ctx, host, events.New(events.Trade)); err != nil {
				t.Errorf("Update: %v", err)
			}
		}()
	}
	wg.Wait()
	waitFor(t, "timer updates", func() bool { return f.timer.Load() >= 3 })

	if got := f.dispatch.Load(); got != dispatches {
		t.Errorf("dispatch updates: got %d, want %d", got, dispatches)
	}
	if f.overlap.Load() {
		t.Error("feature updates ran concurrently")
	}
}

func TestStateAndKindStrings(t *testing.T) {
	t.Parallel()
	if StateDestroyed.String() != "destroyed" || State(99).String() != "unknown" {
		t.Error("unexpected State strings")
	}
	if AccountLinkRole.String() != "AccountLinkRole" || Kind(42).String() != "Kind(42)" {
		t.Error("unexpected Kind strings")
	}
}
