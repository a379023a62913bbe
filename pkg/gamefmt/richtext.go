// Copyright 2024-2026 Aiku AI

package gamefmt

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	noparseRe    = regexp.MustCompile(`(?s)<noparse>(.*?)</noparse>`)
	brRe         = regexp.MustCompile(`<br\s*/?>`)
	gameBoldRe   = regexp.MustCompile(`(?s)<b>(.+?)</b>`)
	gameItalicRe = regexp.MustCompile(`(?s)<i>(.+?)</i>`)
	gameStrikeRe = regexp.MustCompile(`(?s)<s>(.+?)</s>`)
	iconRe       = regexp.MustCompile(`<icon\s+name="([^"]+)"[^>]*>(?:</icon>)?`)
	tagRe        = regexp.MustCompile(`</?[a-zA-Z][^<>]*>`)
)

// ToMarkdown converts game rich text into Mattermost markdown. Tags without
// a markdown equivalent (color, size, link, style) are dropped and their
// content kept.
func ToMarkdown(text string) string {
	text = strings.ReplaceAll(text, placeholderMark, "")
	if text == "" {
		return ""
	}

	var literal []string
	text = noparseRe.ReplaceAllStringFunc(text, func(match string) string {
		idx := len(literal)
		literal = append(literal, noparseRe.FindStringSubmatch(match)[1])
		return placeholderMark + "LIT" + strconv.Itoa(idx) + placeholderMark
	})

	text = brRe.ReplaceAllString(text, "\n")
	text = iconRe.ReplaceAllString(text, "$1")
	text = gameBoldRe.ReplaceAllString(text, "**$1**")
	text = gameItalicRe.ReplaceAllString(text, "_${1}_")
	text = gameStrikeRe.ReplaceAllString(text, "~~$1~~")
	text = tagRe.ReplaceAllString(text, "")

	for i, content := range literal {
		placeholder := placeholderMark + "LIT" + strconv.Itoa(i) + placeholderMark
		text = strings.Replace(text, placeholder, content, 1)
	}
	return strings.TrimSpace(text)
}

// Plain strips all game markup, keeping only the visible text.
func Plain(text string) string {
	text = noparseRe.ReplaceAllString(text, "$1")
	text = brRe.ReplaceAllString(text, " ")
	text = iconRe.ReplaceAllString(text, "$1")
	return strings.TrimSpace(tagRe.ReplaceAllString(text, ""))
}
