// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/aiku/mattermost-ecolink/pkg/connector"
	"github.com/aiku/mattermost-ecolink/pkg/events"
	"github.com/aiku/mattermost-ecolink/pkg/render"
)

// Admin command names, as used by the HTTP API and the CLI.
const (
	CommandVerifyConfig      = "verify-config"
	CommandVerifyPermissions = "verify-permissions"
	CommandForceUpdate       = "force-update"
	CommandRestart           = "restart"
	CommandStatus            = "status"
)

// Commands lists the admin commands.
var Commands = []string{
	CommandVerifyConfig,
	CommandVerifyPermissions,
	CommandForceUpdate,
	CommandRestart,
	CommandStatus,
}

var ErrUnknownCommand = errors.New("unknown command")

// VerifyConfig checks the loaded configuration.
func (b *Bridge) VerifyConfig() error {
	return b.cfg.Validate()
}

// VerifyPermissions checks that the bot can access every configured
// channel.
func (b *Bridge) VerifyPermissions(ctx context.Context) error {
	if !b.chat.IsConnected() {
		return connector.ErrNotConnected
	}
	var errs []error
	for _, channelID := range b.cfg.Channels() {
		if err := b.chat.CheckChannelAccess(ctx, channelID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ForceUpdate re-evaluates which modules run and makes every module refresh
// its output. It waits for the update to finish.
func (b *Bridge) ForceUpdate(ctx context.Context) error {
	if !b.chat.IsConnected() {
		return connector.ErrNotConnected
	}
	b.registry.HandleStartOrStop(ctx)
	return b.HandleEvent(ctx, events.ForceUpdate).Wait(ctx)
}

// RestartPlugin reconnects to Mattermost unless a restart is already
// running.
func (b *Bridge) RestartPlugin(ctx context.Context) (bool, error) {
	if !b.chat.CanRestart() {
		return false, connector.ErrRestartRefused
	}
	b.log.Info().Msg("Restarting Mattermost connection")
	return b.chat.Restart(ctx)
}

// DisplayText describes the bridge state for the status command.
func (b *Bridge) DisplayText(verbose bool) string {
	return render.Safely(b.log, render.FailureString, func() (string, error) {
		return b.displayText(verbose), nil
	})
}

func (b *Bridge) displayText(verbose bool) string {
	var sb strings.Builder
	stats := b.Stats()
	fmt.Fprintf(&sb, "Status: %s\n", b.Status())
	fmt.Fprintf(&sb, "Mattermost: %s\n", b.chat.Status())
	fmt.Fprintf(&sb, "Restart available: %t\n", b.chat.CanRestart())
	fmt.Fprintf(&sb, "Players online: %d/%d\n", stats.OnlineUsers, stats.TotalUsers)
	fmt.Fprintf(&sb, "Linked users: %d\n", stats.LinkedUsers)
	if !verbose {
		return sb.String()
	}

	sb.WriteString("\nModules:\n")
	sb.WriteString(b.registry.Describe())
	sb.WriteString("\n")

	counts := b.recorder.Counts()
	if len(counts) > 0 {
		sb.WriteString("\nEvents:\n")
		for _, name := range slices.Sorted(maps.Keys(counts)) {
			fmt.Fprintf(&sb, "%s: %d\n", name, counts[name])
		}
	}
	return sb.String()
}

// RunCommand runs an admin command by name and returns its output.
func (b *Bridge) RunCommand(ctx context.Context, name string, verbose bool) (string, error) {
	switch name {
	case CommandVerifyConfig:
		if err := b.VerifyConfig(); err != nil {
			return "", err
		}
		return "Configuration is valid", nil
	case CommandVerifyPermissions:
		if err := b.VerifyPermissions(ctx); err != nil {
			return "", err
		}
		return fmt.Sprintf("Access to %d channels verified", len(b.cfg.Channels())), nil
	case CommandForceUpdate:
		if err := b.ForceUpdate(ctx); err != nil {
			return "", err
		}
		return "Forced update finished", nil
	case CommandRestart:
		ok, err := b.RestartPlugin(ctx)
		if err != nil {
			return "", err
		}
		if !ok {
			return "Restart was not performed", nil
		}
		return "Restarted", nil
	case CommandStatus:
		return b.DisplayText(verbose), nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownCommand, name)
	}
}
