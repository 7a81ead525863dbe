// Package model defines the domain types used across the application.
package model

import "time"

// Feed represents one polled syndication source together with its
// polling state. The URL is the feed's canonical identity.
type Feed struct {
	URL             string     `json:"url"`
	Title           string     `json:"title"`
	IntervalMinutes int        `json:"interval_minutes"`
	ETag            string     `json:"etag,omitempty"`
	LastModified    string     `json:"last_modified,omitempty"`
	LastSuccessAt   *time.Time `json:"last_success_at,omitempty"`
	SeenIDs         []string   `json:"seen_ids"`
	LastError       string     `json:"last_error,omitempty"`
	Failures        int        `json:"failures"`
}

// Interval returns the feed's polling interval as a duration.
func (f *Feed) Interval() time.Duration {
	return time.Duration(f.IntervalMinutes) * time.Minute
}

// Entry is a single item parsed out of a feed document. Entries are
// immutable once observed; only their IDs are retained afterwards.
type Entry struct {
	ID        string
	Title     string
	Link      string
	Published *time.Time
}

// Subscription pairs a feed with a chat that receives its new entries.
type Subscription struct {
	FeedURL string `json:"feed_url"`
	ChatID  int64  `json:"chat_id"`
}

// Snapshot is the full durable state: every feed with its seen-set and
// every subscription, serialized as one document.
type Snapshot struct {
	Feeds         []Feed         `json:"feeds"`
	Subscriptions []Subscription `json:"subscriptions"`
}
