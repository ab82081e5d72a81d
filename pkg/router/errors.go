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

package router

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAllCandidatesExhausted is matched by every *ExhaustedError.
	ErrAllCandidatesExhausted = errors.New("router: all candidates exhausted")

	// ErrNoHealthyCandidates means the policy produced no candidates, or
	// the health filter removed all of them with fail-open disabled.
	ErrNoHealthyCandidates = errors.New("router: no healthy candidates")

	// ErrBudgetExceeded means the chain-wide budget ran out before a
	// candidate succeeded.
	ErrBudgetExceeded = errors.New("router: route budget exceeded")
)

// ExhaustedError is returned when no candidate succeeded. The ledger holds
// one record per failed attempt.
type ExhaustedError struct {
	RouteID  string
	LastErr  error
	Elapsed  time.Duration
	Attempts int
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	if e.LastErr == nil {
		return fmt.Sprintf("all candidates exhausted after %d attempts in %v", e.Attempts, e.Elapsed)
	}
	return fmt.Sprintf("all candidates exhausted after %d attempts in %v: %v", e.Attempts, e.Elapsed, e.LastErr)
}

// Unwrap exposes both the sentinel and the last attempt error.
func (e *ExhaustedError) Unwrap() []error {
	if e.LastErr == nil {
		return []error{ErrAllCandidatesExhausted}
	}
	return []error{ErrAllCandidatesExhausted, e.LastErr}
}

// ErrorType implements errors.ErrorClassifier.
func (e *ExhaustedError) ErrorType() string { return "exhausted" }

// IsRetryable implements errors.ErrorClassifier. A later route may find a
// provider that has recovered.
func (e *ExhaustedError) IsRetryable() bool { return !errors.Is(e.LastErr, ErrNoHealthyCandidates) }
