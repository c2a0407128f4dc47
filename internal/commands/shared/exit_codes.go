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
	"net/http"
	"os"

	"github.com/eifl-dev/eifl/internal/client"
)

// Exit codes for the eifl CLI. Scripts key off these, so additions go at
// the end and existing values never change.
const (
	ExitSuccess    = 0
	ExitFailure    = 1
	ExitUsage      = 2
	ExitConnection = 3
	ExitAuth       = 4
	ExitNotFound   = 5
	ExitConflict   = 6
)

// ExitError is an error that carries an exit code and an optional
// suggestion printed below the error message.
type ExitError struct {
	Code       int
	Message    string
	Cause      error
	Suggestion string
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

// NewUsageError creates an error for invalid arguments or flags.
func NewUsageError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitUsage, Message: msg, Cause: cause}
}

// NewConnectionError creates an error for failures reaching the server.
func NewConnectionError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:       ExitConnection,
		Message:    msg,
		Cause:      cause,
		Suggestion: "Check that the server is running and reachable. Set the address with --server or EIFL_SERVER_URL.",
	}
}

// FromAPIError converts an error returned by the API client into an
// ExitError with the matching exit code. Transport errors (the server
// could not be reached at all) map to ExitConnection.
func FromAPIError(msg string, err error) *ExitError {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return NewConnectionError(msg, err)
	}

	exitErr := &ExitError{Code: ExitFailure, Message: msg, Cause: err}
	switch apiErr.Status {
	case http.StatusUnauthorized:
		exitErr.Code = ExitAuth
		exitErr.Suggestion = "Run 'eifl login' to authenticate with the server."
	case http.StatusNotFound:
		exitErr.Code = ExitNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		exitErr.Code = ExitConflict
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		exitErr.Code = ExitUsage
	}
	return exitErr
}

// HandleExitError prints an error to stderr and exits with its code.
// Errors without a code exit with ExitFailure.
func HandleExitError(err error) {
	if err == nil {
		return
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if msg := exitErr.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, "Error:", msg)
		}
		if exitErr.Suggestion != "" {
			fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", exitErr.Suggestion)
		}
		os.Exit(exitErr.Code)
	}

	fmt.Fprintln(os.Stderr, "Error:", err.Error())
	os.Exit(ExitFailure)
}
