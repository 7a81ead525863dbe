package bot

import (
	"fmt"
	"strings"

	"feedrelay/internal/model"
)

// FormatNotification formats one new entry as a delivery message.
func FormatNotification(feedTitle string, e model.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]\n\n", feedTitle)
	b.WriteString(e.Title)
	if e.Link != "" {
		b.WriteString("\n\n")
		b.WriteString(e.Link)
	}
	return b.String()
}

// FormatFeedList formats a chat's subscriptions for display, surfacing
// feeds that keep failing as degraded rather than hiding them.
func FormatFeedList(feeds []model.Feed) string {
	if len(feeds) == 0 {
		return "You have no subscriptions yet. Use /sub <url> to add one."
	}
	var b strings.Builder
	b.WriteString("Your subscriptions:\n")
	for _, f := range feeds {
		fmt.Fprintf(&b, "\n%s  (every %d min)\n%s\n", f.Title, f.IntervalMinutes, f.URL)
		if f.Failures > 0 {
			fmt.Fprintf(&b, "   degraded: %d consecutive fetch failures (%s)\n", f.Failures, f.LastError)
		}
	}
	return b.String()
}
