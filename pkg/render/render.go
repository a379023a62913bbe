// Copyright 2024-2026 Aiku AI

// Package render turns events and reports into chat text.
package render

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"text/template"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-ecolink/pkg/events"
	"github.com/aiku/mattermost-ecolink/pkg/gamefmt"
)

// Render targets.
const (
	TargetGameChat     = "game_chat"
	TargetPlayerStatus = "player_status"
	TargetServerStatus = "server_status"
	TargetTrade        = "trade"
	TargetCurrencies   = "currencies"
	TargetActivity     = "activity"
)

const (
	FailureString = "Failed to generate status string"
	FailureRender = "Failed to render message"
)

var ErrUnknownTarget = errors.New("unknown render target")

// Stats feed the presence string.
type Stats struct {
	ServerName  string
	OnlineUsers int
	TotalUsers  int
	LinkedUsers int
}

// CurrencyLine is one row of a currency report.
type CurrencyLine struct {
	Name   string
	Trades int
}

// CurrencyReport is the data behind a currency display post.
type CurrencyReport struct {
	Title      string
	Currencies []CurrencyLine
}

// Renderer produces the text the bridge posts. Implementations may return
// errors; callers wrap calls in Safely.
type Renderer interface {
	Render(target string, evt events.Event) (string, error)
	Report(target string, data any) (string, error)
	Activity(stats Stats) string
}

// DefaultTemplates are used for targets without an override.
var DefaultTemplates = map[string]string{
	TargetGameChat: `**{{plain .Payload.Sender.Name}}**: {{md .Payload.Text}}`,
	TargetPlayerStatus: `{{if eq .Type "Join"}}:tada: **{{plain .Payload.User.Name}}** joined the server for the first time` +
		`{{else if eq .Type "Login"}}:large_green_circle: **{{plain .Payload.User.Name}}** logged in` +
		`{{else}}:red_circle: **{{plain .Payload.User.Name}}** logged out{{end}}`,
	TargetServerStatus: `{{if eq .Type "ServerStarted"}}:white_check_mark: Server started` +
		`{{else if eq .Type "WorldReset"}}:earth_africa: A new world has been generated` +
		`{{else}}:octagonal_sign: Server stopped{{end}}`,
	TargetTrade: `**{{plain .Payload.Citizen.Name}}** {{if .Payload.Bought}}bought{{else}}sold{{end}} ` +
		`{{.Payload.Count}} {{.Payload.Item}} {{if .Payload.Bought}}from{{else}}to{{end}} **{{.Payload.Other}}** ` +
		`for {{printf "%.2f" .Payload.Amount}} {{.Payload.Currency.Name}}`,
	TargetCurrencies: "#### {{.Title}}\n{{range .Currencies}}- **{{.Name}}** ({{.Trades}} trades)\n{{else}}_None_\n{{end}}",
	TargetActivity:   `{{.OnlineUsers}}/{{.TotalUsers}} online{{if .ServerName}} on {{.ServerName}}{{end}}`,
}

// eventData is what event templates see.
type eventData struct {
	Type    string
	Payload any
}

// TextRenderer renders with text/template.
type TextRenderer struct {
	templates map[string]*template.Template
}

var _ Renderer = (*TextRenderer)(nil)

var funcs = template.FuncMap{
	"md":    gamefmt.ToMarkdown,
	"plain": gamefmt.Plain,
}

// NewTextRenderer parses the default templates with overrides applied on
// top. Empty overrides are ignored.
func NewTextRenderer(overrides map[string]string) (*TextRenderer, error) {
	sources := maps.Clone(DefaultTemplates)
	for name, src := range overrides {
		if strings.TrimSpace(src) != "" {
			sources[name] = src
		}
	}
	r := &TextRenderer{templates: make(map[string]*template.Template, len(sources))}
	for name, src := range sources {
		tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

func (r *TextRenderer) execute(target string, data any) (string, error) {
	tmpl, ok := r.templates[target]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTarget, target)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(sb.String()), nil
}

// Render formats an event for target.
func (r *TextRenderer) Render(target string, evt events.Event) (string, error) {
	if evt.First() == nil {
		return "", fmt.Errorf("no payload for %s", evt.Type)
	}
	return r.execute(target, eventData{Type: evt.Type.String(), Payload: evt.First()})
}

// Report formats arbitrary report data for target.
func (r *TextRenderer) Report(target string, data any) (string, error) {
	return r.execute(target, data)
}

// Activity returns the presence string, or FailureString.
func (r *TextRenderer) Activity(stats Stats) string {
	out, err := r.execute(TargetActivity, stats)
	if err != nil {
		return FailureString
	}
	return out
}

// Safely runs fn, turning errors and panics into fallback.
func Safely(log zerolog.Logger, fallback string, fn func() (string, error)) (out string) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Any("panic", p).Msg("Rendering panicked")
			out = fallback
		}
	}()
	out, err := fn()
	if err != nil {
		log.Warn().Err(err).Msg("Rendering failed")
		return fallback
	}
	return out
}
