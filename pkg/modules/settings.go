// Copyright 2024-2026 Aiku AI

package modules

import (
	"strings"
	"time"
)

// ChatLink pairs a game chat channel with a Mattermost channel.
type ChatLink struct {
	GameChannel       string `yaml:"game_channel"`
	MattermostChannel string `yaml:"mattermost_channel"`
}

// Settings configure the built-in modules. A module whose channel is empty
// does not run.
type Settings struct {
	CurrencyChannel     string        `yaml:"currency_channel"`
	CurrencyInterval    time.Duration `yaml:"currency_interval"`
	CurrencyMaxListed   int           `yaml:"currency_max_listed"`
	ServerStatusChannel string        `yaml:"server_status_channel"`
	PlayerStatusChannel string        `yaml:"player_status_channel"`
	TradeChannel        string        `yaml:"trade_channel"`
	LinkedUserChannel   string        `yaml:"linked_user_channel"`
	ChatLinks           []ChatLink    `yaml:"chat_links"`
	// RelayLinkedOnly drops Mattermost messages from users without a valid
	// account link.
	RelayLinkedOnly bool `yaml:"relay_linked_only"`
}

const (
	DefaultCurrencyInterval   = 60 * time.Second
	DefaultCurrencyStartDelay = 10 * time.Second
	DefaultCurrencyMaxListed  = 10
)

// WithDefaults fills in unset values.
func (s Settings) WithDefaults() Settings {
	if s.CurrencyInterval <= 0 {
		s.CurrencyInterval = DefaultCurrencyInterval
	}
	if s.CurrencyMaxListed <= 0 {
		s.CurrencyMaxListed = DefaultCurrencyMaxListed
	}
	return s
}

func (s Settings) chatLinkByGameChannel(channel string) (ChatLink, bool) {
	for _, link := range s.ChatLinks {
		if strings.EqualFold(link.GameChannel, channel) {
			return link, true
		}
	}
	return ChatLink{}, false
}

func (s Settings) chatLinkByMattermostChannel(channelID string) (ChatLink, bool) {
	for _, link := range s.ChatLinks {
		if link.MattermostChannel == channelID {
			return link, true
		}
	}
	return ChatLink{}, false
}

// Catalog builds one module of every kind.
func Catalog(s Settings) []Module {
	s = s.WithDefaults()
	return []Module{
		NewCurrencyDisplay(s),
		NewServerStatusFeed(s),
		NewPlayerStatusFeed(s),
		NewGameChatFeed(s),
		NewChatRelay(s),
		NewTradeFeed(s),
		NewAccountLinkRole(s),
	}
}
