package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternlabs/tern/internal/conversation"
	"github.com/ternlabs/tern/internal/logging"
)

// ErrEmptyResponse is returned when the model keeps producing turns
// with no text and no tool call past the retry bound. It is recoverable:
// the conversation is intact and the operator can resubmit.
var ErrEmptyResponse = errors.New("model returned an empty response after retries")

// ProgressFunc receives advisory status strings for display. It has no
// effect on control flow.
type ProgressFunc func(status string)

// RateLimitWaitFunc is invoked before each rate-limit wait so the
// caller can surface progress.
type RateLimitWaitFunc func(attempt, maxAttempts int, wait time.Duration, status int)

// RetryConfig bounds the two retry axes.
type RetryConfig struct {
	MaxRateLimitAttempts int           // Attempts per round trip on rate-limit responses (default 5)
	MaxEmptyAttempts     int           // Full re-asks on meaningfully empty turns (default 3)
	BaseDelay            time.Duration // First backoff step when the response carries no hint (default 1s)
}

// DefaultRetryConfig returns the standard retry bounds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRateLimitAttempts: 5,
		MaxEmptyAttempts:     3,
		BaseDelay:            time.Second,
	}
}

// RetryController wraps a single model round trip with rate-limit and
// empty-output retry policy. The two axes compose: a call may burn
// several rate-limit retries to complete and still be judged empty,
// and the resulting re-ask goes through the rate-limit path again.
type RetryController struct {
	cfg      RetryConfig
	progress ProgressFunc
	onWait   RateLimitWaitFunc
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewRetryController creates a controller reporting to the given
// progress sink. A nil sink discards status strings.
func NewRetryController(cfg RetryConfig, progress ProgressFunc) *RetryController {
	if cfg.MaxRateLimitAttempts <= 0 {
		cfg.MaxRateLimitAttempts = 5
	}
	if cfg.MaxEmptyAttempts <= 0 {
		cfg.MaxEmptyAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if progress == nil {
		progress = func(string) {}
	}
	c := &RetryController{
		cfg:      cfg,
		progress: progress,
		sleep:    sleepCtx,
	}
	c.onWait = func(attempt, maxAttempts int, wait time.Duration, status int) {
		c.progress(fmt.Sprintf("Rate limited, retry %d/%d in %.1fs…",
			attempt, maxAttempts, wait.Seconds()))
	}
	return c
}

// SetWaitCallback replaces the default rate-limit wait reporter.
func (c *RetryController) SetWaitCallback(fn RateLimitWaitFunc) {
	if fn != nil {
		c.onWait = fn
	}
}

// RoundTrip executes one model round trip under both retry policies and
// returns the settled content blocks.
func (c *RetryController) RoundTrip(ctx context.Context, call func(context.Context) ([]conversation.ContentBlock, error)) ([]conversation.ContentBlock, error) {
	for attempt := 1; attempt <= c.cfg.MaxEmptyAttempts; attempt++ {
		blocks, err := c.callWithRateLimitRetry(ctx, call)
		if err != nil {
			return nil, err
		}
		if !isMeaninglesslyEmpty(blocks) {
			return blocks, nil
		}
		logging.Warnf("[Retry] empty model turn (attempt %d/%d)", attempt, c.cfg.MaxEmptyAttempts)
		if attempt < c.cfg.MaxEmptyAttempts {
			c.progress(fmt.Sprintf("Empty response, retrying (%d/%d)…", attempt+1, c.cfg.MaxEmptyAttempts))
		}
	}
	return nil, ErrEmptyResponse
}

// callWithRateLimitRetry retries rate-limit failures with a wait taken
// from the response hint when present, exponential from BaseDelay
// otherwise. Any other error is returned as-is.
func (c *RetryController) callWithRateLimitRetry(ctx context.Context, call func(context.Context) ([]conversation.ContentBlock, error)) ([]conversation.ContentBlock, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRateLimitAttempts; attempt++ {
		blocks, err := call(ctx)
		if err == nil {
			return blocks, nil
		}
		if !IsRateLimit(err) {
			return nil, err
		}
		lastErr = err

		if attempt == c.cfg.MaxRateLimitAttempts {
			break
		}

		wait := c.cfg.BaseDelay << (attempt - 1)
		status := 0
		var pe *ProviderError
		if errors.As(err, &pe) {
			status = pe.Status
			if pe.RetryAfterMS > 0 {
				wait = time.Duration(pe.RetryAfterMS) * time.Millisecond
			}
		}

		c.onWait(attempt, c.cfg.MaxRateLimitAttempts, wait, status)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("rate limited after %d attempts: %w", c.cfg.MaxRateLimitAttempts, lastErr)
}

// isMeaninglesslyEmpty reports whether a turn carries neither visible
// text nor a tool call.
func isMeaninglesslyEmpty(blocks []conversation.ContentBlock) bool {
	for _, b := range blocks {
		switch b.Type {
		case conversation.BlockToolUse:
			return false
		case conversation.BlockText:
			if strings.TrimSpace(b.Text) != "" {
				return false
			}
		}
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
