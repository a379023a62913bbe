// Copyright 2024-2026 Aiku AI

package connector

import (
	"errors"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrMissingServerURL = errors.New("mattermost server_url is not configured")
	ErrMissingToken     = errors.New("mattermost bot token is not configured")
	ErrMissingTeam      = errors.New("mattermost team_name is not configured")
)

// Config holds the Mattermost connection settings.
type Config struct {
	ServerURL string `yaml:"server_url" env:"MATTERMOST_URL"`
	// Token is the personal access token of the bot account. Prefer setting
	// it through the environment rather than the config file.
	Token string `yaml:"token" env:"BOT_TOKEN"`
	// TeamName is the team the bridge operates in.
	TeamName string `yaml:"team_name"`
	// BotPrefix is a username prefix for echo prevention. Posts from any
	// username starting with this prefix are not relayed to the game.
	BotPrefix string `yaml:"bot_prefix"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess normalizes the server URL.
func (c *Config) PostProcess() error {
	c.ServerURL = strings.TrimRight(strings.TrimSpace(c.ServerURL), "/")
	if c.ServerURL == "" {
		return nil
	}
	_, err := url.Parse(c.ServerURL)
	return err
}

// Validate reports the first setting that prevents a connection attempt.
func (c *Config) Validate() error {
	switch {
	case c.ServerURL == "":
		return ErrMissingServerURL
	case c.Token == "":
		return ErrMissingToken
	case c.TeamName == "":
		return ErrMissingTeam
	}
	return nil
}
