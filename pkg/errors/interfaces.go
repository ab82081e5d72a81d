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

// Package errors defines the typed errors shared by the routing packages.
package errors

import stderrors "errors"

// ErrorClassifier defines methods for programmatic error handling.
// The router uses it to label failed attempts, and the HTTP API uses it
// to pick status codes.
type ErrorClassifier interface {
	error

	// ErrorType returns a string identifying the error category.
	// Examples: "validation", "not_found", "timeout", "provider"
	ErrorType() string

	// IsRetryable returns true if the operation should be retried.
	IsRetryable() bool
}

// Classify returns the ErrorType of the first ErrorClassifier in err's
// chain, or "unknown".
func Classify(err error) string {
	var c ErrorClassifier
	if stderrors.As(err, &c) {
		return c.ErrorType()
	}
	return "unknown"
}
