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


package shared

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/tombee/switchyard/internal/client"
	pkgerrors "github.com/tombee/switchyard/pkg/errors"
)

// Exit codes for switchyard commands
const (
	ExitSuccess      = 0
	ExitFailed       = 1
	ExitInvalidInput = 2
	ExitUnreachable  = 3
	ExitExhausted    = 4
	ExitRateLimited  = 5
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewInvalidInputError creates an error for bad flags or arguments.
func NewInvalidInputError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidInput, Message: msg, Cause: cause}
}

// WrapAPIError maps a client error onto an exit code.
func WrapAPIError(msg string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return &ExitError{Code: ExitUnreachable, Message: msg, Cause: err}
	}
	code := ExitFailed
	switch apiErr.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound:
		code = ExitInvalidInput
	case http.StatusBadGateway:
		code = ExitExhausted
	case http.StatusTooManyRequests:
		code = ExitRateLimited
	}
	return &ExitError{Code: code, Message: msg, Cause: err}
}

// ExitCode returns the code HandleExitError would exit with.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailed
}

// HandleExitError prints err with any suggestion and exits with its code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	PrintError(os.Stderr, err)
	os.Exit(ExitCode(err))
}

// PrintError writes err and its suggestion, if any.
func PrintError(w io.Writer, err error) {
	fmt.Fprintln(w, RenderError(err.Error()))
	if s := suggestion(err); s != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", s)
	}
}

func suggestion(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Body.Suggestion != "" {
			return apiErr.Body.Suggestion
		}
		if apiErr.StatusCode == http.StatusBadGateway && apiErr.Body.LastError != "" {
			return "last provider error: " + apiErr.Body.LastError
		}
	}
	var valErr *pkgerrors.ValidationError
	if errors.As(err, &valErr) {
		return valErr.Suggestion
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code == ExitUnreachable {
		return "is switchyardd running? Start it with 'switchyard serve' or set --url"
	}
	return ""
}
