package bot

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"feedrelay/internal/fetcher"
	"feedrelay/internal/model"
	"feedrelay/internal/store"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to Feed Relay Bot!

Subscribe to RSS/Atom feeds and get new entries delivered here.

Quick start:
1. /sub <url> — subscribe this chat to a feed
2. /list — show your subscriptions

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Commands:
/sub <url> — subscribe to a feed
/unsub <url> — unsubscribe from a feed
/list — show your subscriptions and their status
/export — download your subscriptions as OPML`)
}

// handleSub validates the feed by fetching it before anything is
// stored, then subscribes the chat. The seen-set is seeded with the
// entries currently in the document so old entries are not replayed.
func (b *Bot) handleSub(ctx context.Context, chatID int64, args string) {
	feedURL, err := parseFeedURL(args)
	if err != nil {
		b.reply(chatID, "Usage: /sub <url>")
		return
	}

	res, err := b.fetcher.Fetch(ctx, fetcher.Request{URL: feedURL})
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Subscription failed, could not fetch feed: %v", err))
		return
	}

	title := res.Title
	if title == "" {
		title = feedURL
	}
	seen := make([]string, len(res.Entries))
	for i, e := range res.Entries {
		seen[i] = e.ID
	}

	feed := model.Feed{
		URL:             feedURL,
		Title:           title,
		IntervalMinutes: b.cfg.PollIntervalMinutes,
		ETag:            res.ETag,
		LastModified:    res.LastModified,
		SeenIDs:         seen,
	}
	if err := b.store.Subscribe(chatID, feed); err != nil {
		if errors.Is(err, store.ErrAlreadySubscribed) {
			b.reply(chatID, fmt.Sprintf("Already subscribed to \"%s\".", title))
			return
		}
		b.reply(chatID, fmt.Sprintf("Failed to save subscription: %v", err))
		return
	}

	b.reply(chatID, fmt.Sprintf("Subscribed to \"%s\".\n%s", title, feedURL))
}

func (b *Bot) handleUnsub(chatID int64, args string) {
	feedURL, err := parseFeedURL(args)
	if err != nil {
		b.reply(chatID, "Usage: /unsub <url>")
		return
	}

	feed, err := b.store.Unsubscribe(chatID, feedURL)
	if err != nil {
		if errors.Is(err, store.ErrNotSubscribed) {
			b.reply(chatID, "Not subscribed to that feed.")
			return
		}
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Unsubscribed from \"%s\".", feed.Title))
}

func (b *Bot) handleList(chatID int64) {
	feeds := b.store.ChatFeeds(chatID)
	b.reply(chatID, FormatFeedList(feeds))
}

func (b *Bot) handleExport(chatID int64) {
	feeds := b.store.ChatFeeds(chatID)
	if len(feeds) == 0 {
		b.reply(chatID, "Subscription list is empty.")
		return
	}

	data, err := ExportOPML(feeds)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Export failed: %v", err))
		return
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  "feeds.opml",
		Bytes: data,
	})
	if _, err := b.api.Send(doc); err != nil {
		b.log.Error("send export", "chat_id", chatID, "error", err)
	}
}

func parseFeedURL(args string) (string, error) {
	if args == "" {
		return "", fmt.Errorf("feed URL is required")
	}
	u, err := url.Parse(args)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", args, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("URL %q must use http or https", args)
	}
	return u.String(), nil
}
