// Copyright 2024-2026 Aiku AI

// Package gamefmt converts between Mattermost markdown and the rich text
// markup used by the Eco game client.
package gamefmt

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	boldRe       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe     = regexp.MustCompile(`\b_([^_\n]+?)_\b`)
	starRe       = regexp.MustCompile(`\*([^*\n]+?)\*`)
	strikeRe     = regexp.MustCompile(`~~(.+?)~~`)
	codeRe       = regexp.MustCompile("`([^`\n]+)`")
	codeBlockRe  = regexp.MustCompile("(?s)```(?:\\w+)?\\n?(.*?)```")
	mdLinkRe     = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	headingRe    = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	ulRe         = regexp.MustCompile(`^[-*]\s+(.+)$`)
	blockquoteRe = regexp.MustCompile(`^>\s?(.*)$`)
)

const placeholderMark = "\x00"

// ToGame converts a Mattermost markdown message into game rich text. Raw
// markup typed by the chat user is neutralized so it shows up literally in
// game.
func ToGame(text string) string {
	text = strings.ReplaceAll(text, placeholderMark, "")
	if strings.TrimSpace(text) == "" {
		return ""
	}

	// Code is extracted first so nothing inside it is formatted.
	var code []string
	hold := func(content string) string {
		idx := len(code)
		code = append(code, content)
		return placeholderMark + "CODE" + strconv.Itoa(idx) + placeholderMark
	}
	text = codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		return hold(strings.TrimSuffix(codeBlockRe.FindStringSubmatch(match)[1], "\n"))
	})
	text = codeRe.ReplaceAllStringFunc(text, func(match string) string {
		return hold(codeRe.FindStringSubmatch(match)[1])
	})

	text = escapeMarkup(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		switch {
		case headingRe.MatchString(line):
			lines[i] = "<b>" + headingRe.FindStringSubmatch(line)[2] + "</b>"
		case ulRe.MatchString(line):
			lines[i] = "• " + ulRe.FindStringSubmatch(line)[1]
		case blockquoteRe.MatchString(line):
			lines[i] = "<i>| " + blockquoteRe.FindStringSubmatch(line)[1] + "</i>"
		}
	}
	text = strings.Join(lines, "\n")

	text = boldRe.ReplaceAllString(text, "<b>$1</b>")
	text = strikeRe.ReplaceAllString(text, "<s>$1</s>")
	text = italicRe.ReplaceAllString(text, "<i>$1</i>")
	text = starRe.ReplaceAllString(text, "<i>$1</i>")

	text = mdLinkRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := mdLinkRe.FindStringSubmatch(match)
		label, href := parts[1], parts[2]
		if !safeURL(href) {
			return label
		}
		if label == href {
			return href
		}
		return label + " (" + href + ")"
	})

	for i, content := range code {
		placeholder := placeholderMark + "CODE" + strconv.Itoa(i) + placeholderMark
		text = strings.Replace(text, placeholder, noparse(content), 1)
	}
	return text
}

// escapeMarkup stops the game client from interpreting tags in user text.
func escapeMarkup(text string) string {
	return strings.ReplaceAll(text, "<", "<noparse><</noparse>")
}

func noparse(content string) string {
	return "<noparse>" + strings.ReplaceAll(content, "</noparse>", "") + "</noparse>"
}

func safeURL(href string) bool {
	lower := strings.ToLower(strings.TrimSpace(href))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "mailto:")
}
