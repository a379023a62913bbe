// Copyright 2024-2026 Aiku AI

package connector

// Emoji names the bridge reacts with on link requests.
const (
	AcceptEmoji = "white_check_mark"
	DenyEmoji   = "x"
)

// IsLinkEmoji reports whether name is one of the link confirmation emoji.
func IsLinkEmoji(name string) bool {
	return name == AcceptEmoji || name == DenyEmoji
}

// EmojiShortcode returns the markdown shortcode for an emoji name.
func EmojiShortcode(name string) string {
	return ":" + name + ":"
}
