package codec

import (
	"context"
	"errors"
	"time"
)

// #region retry

// Retrying wraps a generator and retries failed calls. Timeouts and cancelled contexts
// are never retried.
type Retrying struct {
	next       Generator
	maxRetries int
	backoff    time.Duration
}

// NewRetrying wraps next. maxRetries of 0 disables retries. backoff doubles per attempt.
func NewRetrying(next Generator, maxRetries int, backoff time.Duration) *Retrying {
	return &Retrying{next: next, maxRetries: maxRetries, backoff: backoff}
}

// Model returns the wrapped generator's model.
func (r *Retrying) Model() string { return r.next.Model() }

// Generate calls the wrapped generator up to maxRetries+1 times.
func (r *Retrying) Generate(ctx context.Context, messages []Message) (string, error) {
	var err error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		var text string
		text, err = r.next.Generate(ctx, messages)
		if err == nil {
			return text, nil
		}
		err = Normalize(err)
		if errors.Is(err, ErrGenerationTimeout) || ctx.Err() != nil || attempt == r.maxRetries {
			break
		}

		wait := r.backoff << attempt
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", Normalize(ctx.Err())
		case <-timer.C:
		}
	}
	return "", err
}

// #endregion retry
