package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type retryCompleter struct {
	next     Completer
	attempts int
	base     time.Duration
}

// WithRetry retries failed completions up to attempts times in total, doubling
// the delay after each failure. Context cancellation stops retrying at once.
func WithRetry(c Completer, attempts int, base time.Duration) Completer {
	if attempts <= 1 {
		return c
	}
	return &retryCompleter{next: c, attempts: attempts, base: base}
}

func (r *retryCompleter) Complete(ctx context.Context, messages []Message) (string, error) {
	var lastErr error
	delay := r.base
	for attempt := 1; attempt <= r.attempts; attempt++ {
		out, err := r.next.Complete(ctx, messages)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == r.attempts {
			break
		}

		slog.Warn("completion failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return "", fmt.Errorf("after %d attempts: %w", r.attempts, lastErr)
}
