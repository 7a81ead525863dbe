package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// defaultConfig is what Load returns when only the token is set.
func defaultConfig(token string) *Config {
	return &Config{
		TelegramBotToken:    token,
		StatePath:           "./data/state.json",
		LogLevel:            "info",
		AllowedUsers:        nil,
		PollIntervalMinutes: 15,
		TickInterval:        time.Minute,
		MaxConcurrent:       8,
		SendRate:            20,
		DeliveryRetries:     3,
		SeenLimit:           300,
		BackoffBase:         2 * time.Minute,
		BackoffMax:          6 * time.Hour,
		PruneFeeds:          false,
	}
}

func TestLoad(t *testing.T) {
	allEnvKeys := []string{
		"TELEGRAM_BOT_TOKEN", "STATE_FILE", "LOG_LEVEL", "ALLOWED_USERS",
		"POLL_INTERVAL_MINUTES", "TICK_INTERVAL", "MAX_CONCURRENT_FETCHES",
		"SEND_RATE", "DELIVERY_RETRIES", "SEEN_LIMIT",
		"BACKOFF_BASE", "BACKOFF_MAX", "PRUNE_FEEDS",
	}

	tests := []struct {
		name    string
		env     map[string]string
		want    *Config
		wantErr bool
	}{
		{
			name:    "missing token",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name: "token only, defaults applied",
			env:  map[string]string{"TELEGRAM_BOT_TOKEN": "test-token"},
			want: defaultConfig("test-token"),
		},
		{
			name: "all values set",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN":     "tok",
				"STATE_FILE":             "/tmp/state.json",
				"LOG_LEVEL":              "debug",
				"ALLOWED_USERS":          "111,222,333",
				"POLL_INTERVAL_MINUTES":  "30",
				"TICK_INTERVAL":          "30s",
				"MAX_CONCURRENT_FETCHES": "4",
				"SEND_RATE":              "0.5",
				"DELIVERY_RETRIES":       "5",
				"SEEN_LIMIT":             "100",
				"BACKOFF_BASE":           "1m",
				"BACKOFF_MAX":            "1h",
				"PRUNE_FEEDS":            "true",
			},
			want: &Config{
				TelegramBotToken:    "tok",
				StatePath:           "/tmp/state.json",
				LogLevel:            "debug",
				AllowedUsers:        []int64{111, 222, 333},
				PollIntervalMinutes: 30,
				TickInterval:        30 * time.Second,
				MaxConcurrent:       4,
				SendRate:            0.5,
				DeliveryRetries:     5,
				SeenLimit:           100,
				BackoffBase:         time.Minute,
				BackoffMax:          time.Hour,
				PruneFeeds:          true,
			},
		},
		{
			name: "allowed users with spaces",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"ALLOWED_USERS":      " 10 , 20 , ",
			},
			want: func() *Config {
				c := defaultConfig("tok")
				c.AllowedUsers = []int64{10, 20}
				return c
			}(),
		},
		{
			name: "invalid user id",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"ALLOWED_USERS":      "123,abc",
			},
			wantErr: true,
		},
		{
			name: "poll interval below range",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN":    "tok",
				"POLL_INTERVAL_MINUTES": "0",
			},
			wantErr: true,
		},
		{
			name: "poll interval above range",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN":    "tok",
				"POLL_INTERVAL_MINUTES": "2000",
			},
			wantErr: true,
		},
		{
			name: "invalid duration",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"TICK_INTERVAL":      "soon",
			},
			wantErr: true,
		},
		{
			name: "invalid send rate",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"SEND_RATE":          "fast",
			},
			wantErr: true,
		},
		{
			name: "invalid prune flag",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"PRUNE_FEEDS":        "maybe",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear relevant env vars
			for _, key := range allEnvKeys {
				t.Setenv(key, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIsUserAllowed(t *testing.T) {
	tests := []struct {
		name         string
		allowedUsers []int64
		userID       int64
		want         bool
	}{
		{
			name:         "empty list allows everyone",
			allowedUsers: nil,
			userID:       42,
			want:         true,
		},
		{
			name:         "user in list",
			allowedUsers: []int64{10, 20, 30},
			userID:       20,
			want:         true,
		},
		{
			name:         "user not in list",
			allowedUsers: []int64{10, 20, 30},
			userID:       99,
			want:         false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{AllowedUsers: tt.allowedUsers}
			got := cfg.IsUserAllowed(tt.userID)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("IsUserAllowed() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
