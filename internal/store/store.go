// Package store owns the durable snapshot of feeds and subscriptions.
//
// All mutations funnel through one mutex so concurrent feed cycles never
// interleave writes, and every mutation is followed by a persist of the
// whole snapshot to a single JSON document, replaced atomically by
// write-new-then-rename.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"feedrelay/internal/model"
)

// Sentinel errors returned by subscription mutations.
var (
	ErrAlreadySubscribed = errors.New("already subscribed")
	ErrNotSubscribed     = errors.New("not subscribed")
	ErrUnknownFeed       = errors.New("unknown feed")
)

// Options tune store behavior.
type Options struct {
	// SeenLimit bounds the number of entry IDs retained per feed;
	// oldest IDs are evicted first.
	SeenLimit int
	// PruneFeeds removes a feed when its last subscription is removed.
	// When false the feed keeps polling until an explicit RemoveFeed.
	PruneFeeds bool
}

// Store holds the canonical in-memory state and its on-disk snapshot.
type Store struct {
	mu    sync.Mutex
	path  string
	opts  Options
	log   *slog.Logger
	feeds map[string]*model.Feed
	ix    *index
}

// Open loads the snapshot at path, or starts empty if the file does not
// exist yet. A file that exists but cannot be read or parsed is a fatal
// startup error; silently discarding it could re-deliver every entry of
// every feed.
func Open(path string, opts Options, log *slog.Logger) (*Store, error) {
	if opts.SeenLimit <= 0 {
		opts.SeenLimit = 300
	}
	s := &Store{
		path:  path,
		opts:  opts,
		log:   log,
		feeds: make(map[string]*model.Feed),
		ix:    newIndex(),
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		if os.IsNotExist(err) {
			if err := s.persistLocked(); err != nil {
				return nil, fmt.Errorf("create state file: %w", err)
			}
			return s, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	for i := range snap.Feeds {
		f := snap.Feeds[i]
		s.feeds[f.URL] = &f
	}
	for _, sub := range snap.Subscriptions {
		if _, ok := s.feeds[sub.FeedURL]; !ok {
			log.Warn("dropping subscription to unknown feed", "feed_url", sub.FeedURL, "chat_id", sub.ChatID)
			continue
		}
		s.ix.add(sub.FeedURL, sub.ChatID)
	}
	return s, nil
}

// AddFeed registers a feed if it is not known yet. Adding an existing
// feed is a no-op.
func (s *Store) AddFeed(feed model.Feed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.feeds[feed.URL]; ok {
		return nil
	}
	f := feed
	s.feeds[f.URL] = &f
	return s.persistLocked()
}

// RemoveFeed deletes a feed, its seen-set, and all its subscriptions.
func (s *Store) RemoveFeed(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.feeds[url]; !ok {
		return ErrUnknownFeed
	}
	delete(s.feeds, url)
	s.ix.removeFeed(url)
	return s.persistLocked()
}

// Subscribe adds a subscription, registering the feed first if it is
// new. The given feed's seen-set should be pre-seeded with the entries
// currently in the document so existing entries are not replayed.
// Returns ErrAlreadySubscribed if the pair already exists. The
// subscription is durable once Subscribe returns nil.
func (s *Store) Subscribe(chatID int64, feed model.Feed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.feeds[feed.URL]; !ok {
		f := feed
		f.SeenIDs = capSeen(f.SeenIDs, s.opts.SeenLimit)
		s.feeds[f.URL] = &f
	}
	if !s.ix.add(feed.URL, chatID) {
		return ErrAlreadySubscribed
	}
	return s.persistLocked()
}

// Unsubscribe removes a subscription and returns the feed it pointed
// at. The feed itself survives with its seen-set intact unless pruning
// is enabled and this was its last subscription.
func (s *Store) Unsubscribe(chatID int64, url string) (model.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	feed, ok := s.feeds[url]
	if !ok {
		return model.Feed{}, ErrNotSubscribed
	}
	if !s.ix.remove(url, chatID) {
		return model.Feed{}, ErrNotSubscribed
	}
	removed := *feed
	if s.opts.PruneFeeds && s.ix.subscriberCount(url) == 0 {
		delete(s.feeds, url)
	}
	return removed, s.persistLocked()
}

// MarkEntriesSeen prepends the given entry IDs to the feed's seen-set,
// newest first, and evicts the oldest IDs beyond the configured bound.
// Unknown feeds (e.g. removed while a poll was in flight) are ignored.
func (s *Store) MarkEntriesSeen(url string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	feed, ok := s.feeds[url]
	if !ok {
		return nil
	}
	merged := make([]string, 0, len(ids)+len(feed.SeenIDs))
	present := make(map[string]struct{}, len(ids)+len(feed.SeenIDs))
	for _, id := range ids {
		if _, dup := present[id]; dup {
			continue
		}
		present[id] = struct{}{}
		merged = append(merged, id)
	}
	for _, id := range feed.SeenIDs {
		if _, dup := present[id]; dup {
			continue
		}
		present[id] = struct{}{}
		merged = append(merged, id)
	}
	feed.SeenIDs = capSeen(merged, s.opts.SeenLimit)
	return s.persistLocked()
}

// RecordFetchSuccess resets the feed's failure state and refreshes its
// title, validation tokens, and last-success timestamp. Empty title or
// token arguments leave the stored values untouched.
func (s *Store) RecordFetchSuccess(url, title, etag, lastModified string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	feed, ok := s.feeds[url]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	feed.LastSuccessAt = &now
	feed.Failures = 0
	feed.LastError = ""
	if title != "" {
		feed.Title = title
	}
	if etag != "" {
		feed.ETag = etag
	}
	if lastModified != "" {
		feed.LastModified = lastModified
	}
	return s.persistLocked()
}

// RecordFetchFailure increments the feed's consecutive-failure count
// and stores the error for the front end's degraded status. Returns the
// new count, 0 for unknown feeds.
func (s *Store) RecordFetchFailure(url string, fetchErr error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	feed, ok := s.feeds[url]
	if !ok {
		return 0, nil
	}
	feed.Failures++
	feed.LastError = fetchErr.Error()
	return feed.Failures, s.persistLocked()
}

// Feeds returns a copy of every feed, sorted by URL.
func (s *Store) Feeds() []model.Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	feeds := make([]model.Feed, 0, len(s.feeds))
	for _, f := range s.feeds {
		feeds = append(feeds, *f)
	}
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].URL < feeds[j].URL })
	return feeds
}

// Feed returns a copy of one feed by URL.
func (s *Store) Feed(url string) (model.Feed, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feeds[url]
	if !ok {
		return model.Feed{}, false
	}
	return *f, true
}

// Chats returns the chats currently subscribed to the feed, sorted for
// deterministic fan-out order.
func (s *Store) Chats(url string) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	chats := s.ix.chats(url)
	sort.Slice(chats, func(i, j int) bool { return chats[i] < chats[j] })
	return chats
}

// ChatFeeds returns copies of the feeds a chat is subscribed to, sorted
// by title for display.
func (s *Store) ChatFeeds(chatID int64) []model.Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	urls := s.ix.feeds(chatID)
	feeds := make([]model.Feed, 0, len(urls))
	for _, url := range urls {
		if f, ok := s.feeds[url]; ok {
			feeds = append(feeds, *f)
		}
	}
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].Title < feeds[j].Title })
	return feeds
}

// persistLocked writes the snapshot to a temp file in the state file's
// directory and renames it into place, so a crash mid-write never
// corrupts the previous valid snapshot. Caller must hold s.mu.
func (s *Store) persistLocked() error {
	snap := model.Snapshot{
		Feeds:         make([]model.Feed, 0, len(s.feeds)),
		Subscriptions: []model.Subscription{},
	}
	for _, f := range s.feeds {
		snap.Feeds = append(snap.Feeds, *f)
	}
	sort.Slice(snap.Feeds, func(i, j int) bool { return snap.Feeds[i].URL < snap.Feeds[j].URL })
	for url, chats := range s.ix.chatsByFeed {
		for chatID := range chats {
			snap.Subscriptions = append(snap.Subscriptions, model.Subscription{FeedURL: url, ChatID: chatID})
		}
	}
	sort.Slice(snap.Subscriptions, func(i, j int) bool {
		a, b := snap.Subscriptions[i], snap.Subscriptions[j]
		if a.FeedURL != b.FeedURL {
			return a.FeedURL < b.FeedURL
		}
		return a.ChatID < b.ChatID
	})

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func capSeen(ids []string, limit int) []string {
	if len(ids) <= limit {
		return ids
	}
	return ids[:limit]
}
