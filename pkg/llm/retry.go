// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	pkgerrors "github.com/tombee/switchyard/pkg/errors"
)

// ErrMaxRetriesExceeded indicates all retry attempts have been exhausted.
var ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Multiplier is the backoff multiplier (typically 2.0).
	Multiplier float64

	// Jitter adds randomness to the delay (0.0-1.0).
	Jitter float64

	// Retryable decides whether err is worth another try. Defaults to
	// IsRetryable.
	Retryable func(error) bool
}

// DefaultRetryConfig returns two retries starting at 200ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// RetryingAdapter retries an adapter on transient errors. Retries stay
// inside one router attempt and share its deadline.
type RetryingAdapter struct {
	adapter Adapter
	config  RetryConfig
}

// NewRetryingAdapter wraps adapter. Zero delay fields take the defaults.
func NewRetryingAdapter(adapter Adapter, config RetryConfig) *RetryingAdapter {
	def := DefaultRetryConfig()
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.Multiplier <= 0 {
		config.Multiplier = def.Multiplier
	}
	if config.Retryable == nil {
		config.Retryable = IsRetryable
	}
	return &RetryingAdapter{adapter: adapter, config: config}
}

// Name returns the wrapped adapter's name.
func (r *RetryingAdapter) Name() string {
	return r.adapter.Name()
}

// Invoke calls the wrapped adapter, retrying transient failures.
func (r *RetryingAdapter) Invoke(ctx context.Context, prompt, model string) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(r.backoff(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := r.adapter.Invoke(ctx, prompt, model)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !r.config.Retryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, r.config.MaxRetries+1, lastErr)
}

func (r *RetryingAdapter) backoff(attempt int) time.Duration {
	d := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if d > float64(r.config.MaxDelay) {
		d = float64(r.config.MaxDelay)
	}
	if r.config.Jitter > 0 {
		spread := d * r.config.Jitter
		d += rand.Float64()*2*spread - spread
	}
	return time.Duration(d)
}

// IsRetryable reports whether err is transient. Context errors never are;
// errors implementing ErrorClassifier decide for themselves.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var classified pkgerrors.ErrorClassifier
	if errors.As(err, &classified) {
		return classified.IsRetryable()
	}
	return false
}
