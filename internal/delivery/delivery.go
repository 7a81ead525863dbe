// Package delivery fans new entries out to their subscribed chats.
//
// All sends across all feeds share one token-bucket limiter. Failures
// are isolated per chat: one unreachable chat never blocks delivery of
// the same entry to any other chat.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// API is the slice of the Telegram bot API consumed by the fan-out.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Config tunes the fan-out.
type Config struct {
	// RatePerSec caps outbound sends across all chats and feeds.
	RatePerSec float64
	// Retries bounds how often a transient failure is retried before
	// the entry is abandoned for that chat.
	Retries int
	// RetryBase and RetryMax bound the spacing between retries.
	RetryBase time.Duration
	RetryMax  time.Duration
}

// Outcome reports what happened for one chat.
type Outcome struct {
	ChatID    int64
	Delivered int
	// Gone is set when the delivery API reported the recipient as
	// permanently unreachable; the caller should drop the subscription.
	Gone bool
	Err  error
}

// Deliverer submits messages to chats under a shared rate limit.
type Deliverer struct {
	api     API
	limiter *rate.Limiter
	cfg     Config
	log     *slog.Logger
}

// New creates a Deliverer. Zero config fields get conservative defaults.
func New(api API, cfg Config, log *slog.Logger) *Deliverer {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 30 * time.Second
	}
	return &Deliverer{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), int(cfg.RatePerSec)+1),
		cfg:     cfg,
		log:     log,
	}
}

// Deliver sends every message to every chat. Messages keep their order
// within a chat; chats run concurrently and independently. The chats
// slice is the recipient snapshot taken at dispatch time; later
// subscribers do not receive messages already in flight.
func (d *Deliverer) Deliver(ctx context.Context, chats []int64, messages []string) []Outcome {
	outcomes := make([]Outcome, len(chats))
	var wg sync.WaitGroup
	for i, chatID := range chats {
		wg.Add(1)
		go func(i int, chatID int64) {
			defer wg.Done()
			outcomes[i] = d.deliverToChat(ctx, chatID, messages)
		}(i, chatID)
	}
	wg.Wait()
	return outcomes
}

func (d *Deliverer) deliverToChat(ctx context.Context, chatID int64, messages []string) Outcome {
	out := Outcome{ChatID: chatID}
	for _, text := range messages {
		err := d.sendWithRetry(ctx, chatID, text)
		switch {
		case err == nil:
			out.Delivered++
		case errors.Is(err, errRecipientGone):
			out.Gone = true
			out.Err = err
			return out
		default:
			// Abandon this entry for this chat, keep going with the
			// rest so one bad send cannot hold newer entries hostage.
			out.Err = err
			d.log.Warn("delivery abandoned", "chat_id", chatID, "error", err)
		}
	}
	return out
}

var errRecipientGone = errors.New("recipient gone")

func (d *Deliverer) sendWithRetry(ctx context.Context, chatID int64, text string) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.cfg.RetryBase
	eb.MaxInterval = d.cfg.RetryMax
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()

	var lastErr error
	for attempt := 0; attempt <= d.cfg.Retries; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}

		msg := tgbotapi.NewMessage(chatID, text)
		msg.DisableWebPagePreview = true
		_, err := d.api.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err

		switch kind, retryAfter := classify(err); kind {
		case failurePermanent:
			return errRecipientGone
		case failureRateLimited:
			// Honor the API's retry-after hint instead of our own
			// schedule.
			if !sleep(ctx, retryAfter) {
				return ctx.Err()
			}
		default:
			if !sleep(ctx, eb.NextBackOff()) {
				return ctx.Err()
			}
		}
	}
	return lastErr
}

type failureKind int

const (
	failureTransient failureKind = iota
	failureRateLimited
	failurePermanent
)

// classify maps a Telegram API error onto the retry policy: 429 carries
// a retry-after hint, 403 and "chat not found" mean the recipient no
// longer exists, everything else is transient.
func classify(err error) (failureKind, time.Duration) {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return failureTransient, 0
	}
	switch {
	case apiErr.Code == 429:
		retryAfter := time.Duration(apiErr.RetryAfter) * time.Second
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		return failureRateLimited, retryAfter
	case apiErr.Code == 403:
		return failurePermanent, 0
	case apiErr.Code == 400 && strings.Contains(strings.ToLower(apiErr.Message), "chat not found"):
		return failurePermanent, 0
	}
	return failureTransient, 0
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
