package chat

import "strings"

const (
	// DefaultTitle names a session whose first message yields no usable title.
	DefaultTitle = "New Chat"
	// DefaultTitleMax bounds derived titles, in runes.
	DefaultTitleMax = 50
)

// DeriveTitle builds a session title from the first user message: whitespace
// is collapsed and the result is cut to max runes. Oversized input is
// truncated, never rejected.
func DeriveTitle(text string, max int) string {
	if max <= 0 {
		max = DefaultTitleMax
	}
	title := strings.Join(strings.Fields(text), " ")
	if r := []rune(title); len(r) > max {
		title = strings.TrimSpace(string(r[:max]))
	}
	if title == "" {
		return DefaultTitle
	}
	return title
}
