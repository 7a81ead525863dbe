// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	StatePath        string
	LogLevel         string
	AllowedUsers     []int64

	// PollIntervalMinutes is the polling interval assigned to newly
	// subscribed feeds.
	PollIntervalMinutes int
	// TickInterval is how often the scheduler collects due feeds.
	TickInterval time.Duration
	// MaxConcurrent caps in-flight feed fetches.
	MaxConcurrent int
	// SendRate caps outbound deliveries per second across all chats.
	SendRate float64
	// DeliveryRetries bounds retries of transient delivery failures.
	DeliveryRetries int
	// SeenLimit bounds the per-feed seen-entry set.
	SeenLimit int
	// BackoffBase and BackoffMax bound the fetch-failure backoff.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// PruneFeeds removes a feed once its last subscription is gone.
	PruneFeeds bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	statePath := os.Getenv("STATE_FILE")
	if statePath == "" {
		statePath = "./data/state.json"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	var allowedUsers []int64
	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			allowedUsers = append(allowedUsers, uid)
		}
	}

	cfg := &Config{
		TelegramBotToken: token,
		StatePath:        statePath,
		LogLevel:         logLevel,
		AllowedUsers:     allowedUsers,
	}

	var err error
	if cfg.PollIntervalMinutes, err = intEnv("POLL_INTERVAL_MINUTES", 15); err != nil {
		return nil, err
	}
	if cfg.PollIntervalMinutes < 1 || cfg.PollIntervalMinutes > 1440 {
		return nil, fmt.Errorf("POLL_INTERVAL_MINUTES must be between 1 and 1440")
	}
	if cfg.TickInterval, err = durationEnv("TICK_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrent, err = intEnv("MAX_CONCURRENT_FETCHES", 8); err != nil {
		return nil, err
	}
	if cfg.SendRate, err = floatEnv("SEND_RATE", 20); err != nil {
		return nil, err
	}
	if cfg.DeliveryRetries, err = intEnv("DELIVERY_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.SeenLimit, err = intEnv("SEEN_LIMIT", 300); err != nil {
		return nil, err
	}
	if cfg.BackoffBase, err = durationEnv("BACKOFF_BASE", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.BackoffMax, err = durationEnv("BACKOFF_MAX", 6*time.Hour); err != nil {
		return nil, err
	}
	if cfg.PruneFeeds, err = boolEnv("PRUNE_FEEDS", false); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func intEnv(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return v, nil
}

func floatEnv(name string, def float64) (float64, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return v, nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return v, nil
}

func boolEnv(name string, def bool) (bool, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return v, nil
}
