// Copyright 2024-2026 Aiku AI

package modules

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/aiku/mattermost-ecolink/pkg/events"
	"github.com/aiku/mattermost-ecolink/pkg/render"
)

// DisplayTriggers are the triggers every display module reacts to.
const DisplayTriggers = events.ForceUpdate | events.WorldReset

// postTracker remembers the post behind each display tag so later updates
// edit it instead of posting again.
type postTracker struct {
	mu    sync.Mutex
	posts map[string]string
}

func newPostTracker() *postTracker {
	return &postTracker{posts: make(map[string]string)}
}

func (p *postTracker) publish(ctx context.Context, chat Chat, channelID, tag, text string) error {
	p.mu.Lock()
	postID, ok := p.posts[tag]
	p.mu.Unlock()

	if ok {
		if err := chat.EditPost(ctx, postID, text); err == nil {
			return nil
		}
	}
	postID, err := chat.CreatePost(ctx, channelID, text)
	if err != nil {
		return fmt.Errorf("failed to post %s: %w", tag, err)
	}
	p.mu.Lock()
	p.posts[tag] = postID
	p.mu.Unlock()
	return nil
}

func (p *postTracker) clear() {
	p.mu.Lock()
	clear(p.posts)
	p.mu.Unlock()
}

const currencyTag = "[Currencies]"

type currencyDisplay struct {
	settings Settings
	posts    *postTracker
}

// NewCurrencyDisplay lists minted and personal currencies ordered by how
// often they are traded.
func NewCurrencyDisplay(s Settings) *Unit {
	s = s.WithDefaults()
	return NewUnit(Options{
		Kind:       CurrencyDisplay,
		Triggers:   DisplayTriggers | events.ChatClientConnected | events.Timer | events.CurrencyCreated,
		Interval:   s.CurrencyInterval,
		StartDelay: DefaultCurrencyStartDelay,
	}, &currencyDisplay{settings: s, posts: newPostTracker()})
}

func (d *currencyDisplay) ShouldRun() bool {
	return d.settings.CurrencyChannel != ""
}

func (d *currencyDisplay) Stop(context.Context, Host) {
	d.posts.clear()
}

func (d *currencyDisplay) Update(ctx context.Context, host Host, _ events.Event) error {
	currencies, err := host.Currencies(ctx)
	if err != nil {
		return fmt.Errorf("failed to list currencies: %w", err)
	}
	counts := host.TradeCounts()

	var minted, personal []render.CurrencyLine
	for _, c := range currencies {
		line := render.CurrencyLine{Name: c.Name, Trades: counts[c.ID]}
		if c.Backed {
			minted = append(minted, line)
		} else {
			personal = append(personal, line)
		}
	}

	reports := []struct {
		tag    string
		report render.CurrencyReport
	}{
		{currencyTag + " [minted]", render.CurrencyReport{Title: "Minted Currencies", Currencies: d.top(minted)}},
		{currencyTag + " [personal]", render.CurrencyReport{Title: "Personal Currencies", Currencies: d.top(personal)}},
	}
	var errs []error
	for _, r := range reports {
		text := render.Safely(host.Logger(), render.FailureRender, func() (string, error) {
			return host.Renderer().Report(render.TargetCurrencies, r.report)
		})
		if err := d.posts.publish(ctx, host.Chat(), d.settings.CurrencyChannel, r.tag, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// top orders lines by trade count, most traded first, and keeps at most
// the configured number.
func (d *currencyDisplay) top(lines []render.CurrencyLine) []render.CurrencyLine {
	slices.SortStableFunc(lines, func(a, b render.CurrencyLine) int {
		if c := cmp.Compare(b.Trades, a.Trades); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if len(lines) > d.settings.CurrencyMaxListed {
		lines = lines[:d.settings.CurrencyMaxListed]
	}
	return lines
}
