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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/tombee/switchyard/pkg/errors"
)

func flakyAdapter(failures int32, failWith error) (*int32, AdapterFunc) {
	var calls int32
	return &calls, AdapterFunc{ID: "flaky", Fn: func(context.Context, string, string) (*Response, error) {
		if atomic.AddInt32(&calls, 1) <= failures {
			return nil, failWith
		}
		return &Response{Text: "ok"}, nil
	}}
}

func fastRetry(n int) RetryConfig {
	return RetryConfig{MaxRetries: n, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestRetryingAdapter_RetriesTransientErrors(t *testing.T) {
	calls, a := flakyAdapter(2, &pkgerrors.ProviderError{Provider: "flaky", StatusCode: 503, Message: "overloaded"})

	resp, err := NewRetryingAdapter(a, fastRetry(3)).Invoke(context.Background(), "p", "")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestRetryingAdapter_StopsOnPermanentError(t *testing.T) {
	calls, a := flakyAdapter(5, &pkgerrors.ProviderError{Provider: "flaky", StatusCode: 401, Message: "bad key"})

	_, err := NewRetryingAdapter(a, fastRetry(3)).Invoke(context.Background(), "p", "")
	var pe *pkgerrors.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 401, pe.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestRetryingAdapter_Exhausted(t *testing.T) {
	cause := &pkgerrors.ProviderError{Provider: "flaky", StatusCode: 500, Message: "down"}
	calls, a := flakyAdapter(10, cause)

	_, err := NewRetryingAdapter(a, fastRetry(2)).Invoke(context.Background(), "p", "")
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestRetryingAdapter_HonoursCancellation(t *testing.T) {
	_, a := flakyAdapter(10, &pkgerrors.ProviderError{Provider: "flaky", StatusCode: 500})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRetryingAdapter(a, RetryConfig{MaxRetries: 3, InitialDelay: time.Second}).Invoke(ctx, "p", "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.True(t, IsRetryable(&pkgerrors.ProviderError{StatusCode: 429}))
	assert.True(t, IsRetryable(&pkgerrors.ProviderError{Message: "connection reset"}))
	assert.False(t, IsRetryable(&pkgerrors.ProviderError{StatusCode: 400}))
	assert.False(t, IsRetryable(&pkgerrors.ValidationError{Field: "x"}))
}
