// Package scheduler drives per-feed polling cycles: fetch, diff against
// the seen-set, fan out new entries, then commit state.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"feedrelay/internal/bot"
	"feedrelay/internal/dedup"
	"feedrelay/internal/delivery"
	"feedrelay/internal/fetcher"
	"feedrelay/internal/model"
	"feedrelay/internal/store"
)

// Deliverer is the interface for fanning entries out to chats.
type Deliverer interface {
	Deliver(ctx context.Context, chats []int64, messages []string) []delivery.Outcome
}

// Config tunes the scheduler.
type Config struct {
	// Tick is how often due feeds are collected.
	Tick time.Duration
	// MaxConcurrent caps in-flight fetches across all feeds.
	MaxConcurrent int
	// BackoffBase and BackoffMax bound the delay applied after
	// consecutive fetch failures.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Scheduler periodically polls feeds and relays new entries.
type Scheduler struct {
	store     *store.Store
	fetcher   *fetcher.Fetcher
	deliverer Deliverer
	log       *slog.Logger
	cfg       Config

	mu       sync.Mutex
	inflight map[string]bool
	retryAt  map[string]time.Time
	backoffs map[string]*backoff.ExponentialBackOff
}

// New creates a Scheduler. Zero config fields get defaults.
func New(st *store.Store, f *fetcher.Fetcher, d Deliverer, cfg Config, log *slog.Logger) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Minute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Minute
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 6 * time.Hour
	}
	return &Scheduler{
		store:     st,
		fetcher:   f,
		deliverer: d,
		log:       log,
		cfg:       cfg,
		inflight:  make(map[string]bool),
		retryAt:   make(map[string]time.Time),
		backoffs:  make(map[string]*backoff.ExponentialBackOff),
	}
}

// Run starts the polling loop, blocking until ctx is cancelled.
// In-flight cycles drain before Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	s.checkAll(ctx)

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkAll(ctx)
		}
	}
}

// dueFeed pairs a feed with the time it became due, for dispatch
// ordering.
type dueFeed struct {
	feed model.Feed
	due  time.Time
}

// checkAll dispatches one cycle for every due feed, earliest due-time
// first, bounded by the concurrency cap.
func (s *Scheduler) checkAll(ctx context.Context) {
	due := s.dueFeeds(time.Now().UTC())
	if len(due) == 0 {
		return
	}

	sem := make(chan struct{}, s.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for _, df := range due {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(feed model.Feed) {
			defer wg.Done()
			defer func() { <-sem }()
			defer s.clearInflight(feed.URL)
			s.processFeed(ctx, feed)
		}(df.feed)
	}
	wg.Wait()
}

// dueFeeds collects the feeds whose next attempt time has passed and
// marks them in flight. Ties on due time break by URL for determinism.
func (s *Scheduler) dueFeeds(now time.Time) []dueFeed {
	s.mu.Lock()
	defer s.mu.Unlock()

	feeds := s.store.Feeds()
	s.dropStaleLocked(feeds)

	var due []dueFeed
	for _, feed := range feeds {
		if s.inflight[feed.URL] {
			continue
		}
		at := s.nextAttemptLocked(feed)
		if at.After(now) {
			continue
		}
		s.inflight[feed.URL] = true
		due = append(due, dueFeed{feed: feed, due: at})
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].due.Equal(due[j].due) {
			return due[i].due.Before(due[j].due)
		}
		return due[i].feed.URL < due[j].feed.URL
	})
	return due
}

// dropStaleLocked forgets backoff state of feeds that were removed, so
// a URL re-added later starts from a clean slate.
func (s *Scheduler) dropStaleLocked(feeds []model.Feed) {
	current := make(map[string]struct{}, len(feeds))
	for _, f := range feeds {
		current[f.URL] = struct{}{}
	}
	for url := range s.retryAt {
		if _, ok := current[url]; !ok {
			delete(s.retryAt, url)
			delete(s.backoffs, url)
		}
	}
}

func (s *Scheduler) nextAttemptLocked(feed model.Feed) time.Time {
	if at, ok := s.retryAt[feed.URL]; ok {
		return at
	}
	if feed.LastSuccessAt == nil {
		return time.Time{}
	}
	return feed.LastSuccessAt.Add(feed.Interval())
}

func (s *Scheduler) clearInflight(url string) {
	s.mu.Lock()
	delete(s.inflight, url)
	s.mu.Unlock()
}

// processFeed runs one fetch → diff → deliver → commit cycle.
// Everything that goes wrong here is isolated to this feed.
func (s *Scheduler) processFeed(ctx context.Context, feed model.Feed) {
	s.log.Debug("checking feed", "feed_url", feed.URL, "title", feed.Title)

	res, err := s.fetcher.Fetch(ctx, fetcher.Request{
		URL:          feed.URL,
		ETag:         feed.ETag,
		LastModified: feed.LastModified,
	})
	if err != nil {
		s.recordFailure(ctx, feed.URL, err)
		return
	}
	s.resetBackoff(feed.URL)

	if res.Status == fetcher.StatusUnchanged {
		if err := s.store.RecordFetchSuccess(feed.URL, "", res.ETag, res.LastModified); err != nil {
			s.log.Warn("persist fetch state", "feed_url", feed.URL, "error", err)
		}
		return
	}

	fresh := dedup.Diff(feed.SeenIDs, res.Entries)
	if len(fresh) > 0 {
		s.deliver(ctx, feed, res.Title, fresh)

		ids := make([]string, len(fresh))
		for i, e := range fresh {
			ids[i] = e.ID
		}
		// Committed only after delivery submission: a crash before this
		// point re-processes the same entries on restart.
		if err := s.store.MarkEntriesSeen(feed.URL, ids); err != nil {
			s.log.Warn("persist seen entries", "feed_url", feed.URL, "error", err)
		}
	}

	if err := s.store.RecordFetchSuccess(feed.URL, res.Title, res.ETag, res.LastModified); err != nil {
		s.log.Warn("persist fetch state", "feed_url", feed.URL, "error", err)
	}
}

// deliver fans the new entries out to the chats subscribed at dispatch
// time and drops subscriptions of permanently unreachable chats.
func (s *Scheduler) deliver(ctx context.Context, feed model.Feed, title string, entries []model.Entry) {
	chats := s.store.Chats(feed.URL)
	if len(chats) == 0 {
		return
	}
	if title == "" {
		title = feed.Title
	}

	messages := make([]string, len(entries))
	for i, e := range entries {
		messages[i] = bot.FormatNotification(title, e)
	}

	outcomes := s.deliverer.Deliver(ctx, chats, messages)
	delivered := 0
	for _, out := range outcomes {
		delivered += out.Delivered
		if out.Gone {
			s.log.Info("removing unreachable chat", "chat_id", out.ChatID, "feed_url", feed.URL)
			if _, err := s.store.Unsubscribe(out.ChatID, feed.URL); err != nil {
				s.log.Warn("unsubscribe unreachable chat", "chat_id", out.ChatID, "feed_url", feed.URL, "error", err)
			}
		}
	}
	s.log.Info("entries relayed", "feed_url", feed.URL, "new_entries", len(entries), "chats", len(chats), "delivered", delivered)
}

func (s *Scheduler) recordFailure(ctx context.Context, url string, fetchErr error) {
	if ctx.Err() != nil {
		// Shutdown, not a feed problem; do not poison the backoff state.
		return
	}
	count, err := s.store.RecordFetchFailure(url, fetchErr)
	if err != nil {
		s.log.Warn("persist fetch failure", "feed_url", url, "error", err)
	}

	delay := s.failureDelay(url)
	s.log.Warn("fetch failed", "feed_url", url, "failures", count, "retry_in", delay, "error", fetchErr)
}

// failureDelay advances the feed's backoff schedule and records when the
// next attempt may run. Delays never decrease between failures and are
// bounded by BackoffMax.
func (s *Scheduler) failureDelay(url string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	eb, ok := s.backoffs[url]
	if !ok {
		eb = backoff.NewExponentialBackOff()
		eb.InitialInterval = s.cfg.BackoffBase
		eb.MaxInterval = s.cfg.BackoffMax
		eb.RandomizationFactor = 0
		eb.MaxElapsedTime = 0
		eb.Reset()
		s.backoffs[url] = eb
	}
	delay := eb.NextBackOff()
	s.retryAt[url] = time.Now().UTC().Add(delay)
	return delay
}

func (s *Scheduler) resetBackoff(url string) {
	s.mu.Lock()
	delete(s.retryAt, url)
	if eb, ok := s.backoffs[url]; ok {
		eb.Reset()
	}
	s.mu.Unlock()
}
