// Copyright 2024-2026 Aiku AI

package bridge

import (
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/mattermost-ecolink/pkg/connector"
	"github.com/aiku/mattermost-ecolink/pkg/gamebus"
	"github.com/aiku/mattermost-ecolink/pkg/modules"
	"github.com/aiku/mattermost-ecolink/pkg/render"
)

//go:embed example-config.yaml
var ExampleConfig string

// EnvPrefix is prepended to the env tags of the connection settings.
const EnvPrefix = "ECOLINK_"

const DefaultPresenceInterval = time.Minute

// StorageConfig locates the data files.
type StorageConfig struct {
	DataDir         string `yaml:"data_dir"`
	LinkedUsersFile string `yaml:"linked_users_file"`
	WorldFile       string `yaml:"world_file"`
}

// LinkedUsersPath returns the full path of the linked user document.
func (c StorageConfig) LinkedUsersPath() string {
	return filepath.Join(c.DataDir, c.LinkedUsersFile)
}

// WorldPath returns the full path of the world data document.
func (c StorageConfig) WorldPath() string {
	return filepath.Join(c.DataDir, c.WorldFile)
}

type AdminConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the bridge configuration file.
type Config struct {
	ServerName string           `yaml:"server_name"`
	Mattermost connector.Config `yaml:"mattermost"`
	Game       gamebus.Config   `yaml:"game"`
	Storage    StorageConfig    `yaml:"storage"`
	Modules    modules.Settings `yaml:"modules"`
	// Templates override the default message templates by render target.
	Templates        map[string]string `yaml:"templates"`
	PresenceInterval time.Duration     `yaml:"presence_interval"`
	Admin            AdminConfig       `yaml:"admin"`
	Logging          zeroconfig.Config `yaml:"logging"`

	renderer *render.TextRenderer `yaml:"-"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess fills in defaults and compiles the message templates.
func (c *Config) PostProcess() error {
	if err := c.Mattermost.PostProcess(); err != nil {
		return fmt.Errorf("invalid mattermost server_url: %w", err)
	}
	c.Game = c.Game.WithDefaults()
	c.Modules = c.Modules.WithDefaults()
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "."
	}
	if c.Storage.LinkedUsersFile == "" {
		c.Storage.LinkedUsersFile = "linked_users.yaml"
	}
	if c.Storage.WorldFile == "" {
		c.Storage.WorldFile = "world.yaml"
	}
	if c.PresenceInterval <= 0 {
		c.PresenceInterval = DefaultPresenceInterval
	}
	var err error
	c.renderer, err = render.NewTextRenderer(c.Templates)
	return err
}

// Renderer returns the renderer compiled by PostProcess.
func (c *Config) Renderer() *render.TextRenderer {
	return c.renderer
}

// Validate reports every setting that keeps the bridge from working.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Mattermost.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := gamebus.CodecFor(c.Game.Encoding); err != nil {
		errs = append(errs, err)
	}
	for i, link := range c.Modules.ChatLinks {
		if link.GameChannel == "" || link.MattermostChannel == "" {
			errs = append(errs, fmt.Errorf("chat link %d needs both a game_channel and a mattermost_channel", i))
		}
	}
	if c.renderer == nil {
		errs = append(errs, errors.New("message templates are not compiled"))
	}
	return errors.Join(errs...)
}

// Channels returns the configured Mattermost channel ids, without
// duplicates.
func (c *Config) Channels() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	add(c.Modules.CurrencyChannel)
	add(c.Modules.ServerStatusChannel)
	add(c.Modules.PlayerStatusChannel)
	add(c.Modules.TradeChannel)
	add(c.Modules.LinkedUserChannel)
	for _, link := range c.Modules.ChatLinks {
		add(link.MattermostChannel)
	}
	return out
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "server_name")

	helper.Copy(up.Str, "mattermost", "server_url")
	helper.Copy(up.Str, "mattermost", "token")
	helper.Copy(up.Str, "mattermost", "team_name")
	helper.Copy(up.Str, "mattermost", "bot_prefix")

	helper.Copy(up.Str, "game", "url")
	helper.Copy(up.Str, "game", "prefix")
	helper.Copy(up.Str, "game", "out_prefix")
	helper.Copy(up.Str, "game", "encoding")
	helper.Copy(up.Str, "game", "request_timeout")

	helper.Copy(up.Str, "storage", "data_dir")
	helper.Copy(up.Str, "storage", "linked_users_file")
	helper.Copy(up.Str, "storage", "world_file")

	helper.Copy(up.Str, "modules", "currency_channel")
	helper.Copy(up.Str, "modules", "currency_interval")
	helper.Copy(up.Int, "modules", "currency_max_listed")
	helper.Copy(up.Str, "modules", "server_status_channel")
	helper.Copy(up.Str, "modules", "player_status_channel")
	helper.Copy(up.Str, "modules", "trade_channel")
	helper.Copy(up.Str, "modules", "linked_user_channel")
	helper.Copy(up.List, "modules", "chat_links")
	helper.Copy(up.Bool, "modules", "relay_linked_only")

	helper.Copy(up.Map, "templates")
	helper.Copy(up.Str, "presence_interval")
	helper.Copy(up.Str, "admin", "addr")
	helper.Copy(up.Map, "logging")
}

// Upgrader merges a user config onto ExampleConfig.
var Upgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Blocks: [][]string{
		{"mattermost"},
		{"game"},
		{"storage"},
		{"modules"},
		{"templates"},
		{"admin"},
		{"logging"},
	},
	Base: ExampleConfig,
}

// LoadConfig reads the config at path, fills missing keys from
// ExampleConfig (writing the result back when save is set), applies
// environment overrides and post-processes it.
func LoadConfig(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, Upgrader)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes an already upgraded config document.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	opts := env.Options{Prefix: EnvPrefix}
	if err := env.ParseWithOptions(&cfg.Mattermost, opts); err != nil {
		return nil, fmt.Errorf("failed to read mattermost settings from environment: %w", err)
	}
	if err := env.ParseWithOptions(&cfg.Game, opts); err != nil {
		return nil, fmt.Errorf("failed to read game settings from environment: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("failed to post-process config: %w", err)
	}
	return &cfg, nil
}
