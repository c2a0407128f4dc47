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

// Package errors defines the structured error kinds raised by the EIFL core.
// The HTTP facade maps each kind to a status code; the core itself never
// formats HTTP responses.
package errors

import (
	"errors"
	"fmt"
)

// ErrEncryptionNotConfigured is returned by secret operations when
// EIFL_ENCRYPTION_KEY is not set. Existing encrypted rows remain on disk
// and become readable again once the key is provided.
var ErrEncryptionNotConfigured = errors.New("encryption not configured: EIFL_ENCRYPTION_KEY is not set")

// ValidationError represents user input validation failures.
// Use this for malformed manifests, bad secret names, or out-of-range values.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "pipeline", "run", "runner")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConflictError represents a uniqueness or state conflict, such as a
// duplicate project name or a duplicate secret name at the same scope.
type ConflictError struct {
	// Resource is the type of resource in conflict
	Resource string

	// Reason explains the conflict
	Reason string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Resource, e.Reason)
}

// UnauthorizedError represents a missing or unknown credential,
// most commonly a runner token that matches no registered runner.
type UnauthorizedError struct {
	// Reason explains what was wrong with the credential
	Reason string
}

// Error implements the error interface.
func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized: %s", e.Reason)
}

// PreconditionFailedError represents an operation applied to an entity in
// the wrong state, such as cancelling a run that already finished.
type PreconditionFailedError struct {
	// Reason explains which precondition did not hold
	Reason string
}

// Error implements the error interface.
func (e *PreconditionFailedError) Error() string {
	return fmt.Sprintf("precondition failed: %s", e.Reason)
}

// InvalidCronError represents an unparseable cron expression. The scheduler
// logs it and skips the schedule entry; it never aborts a tick.
type InvalidCronError struct {
	// Expr is the offending cron expression
	Expr string

	// Reason explains why parsing failed
	Reason string
}

// Error implements the error interface.
func (e *InvalidCronError) Error() string {
	return fmt.Sprintf("invalid cron expression %q: %s", e.Expr, e.Reason)
}

// DecryptError represents a failure to decrypt a stored secret value.
// The dispatcher logs it and omits that one secret from the job payload.
type DecryptError struct {
	// Name is the secret name that failed to decrypt
	Name string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *DecryptError) Error() string {
	return fmt.Sprintf("failed to decrypt secret %s", e.Name)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *DecryptError) Unwrap() error {
	return e.Cause
}

// StoreError represents a transient persistence failure. The dispatcher's
// reservation transaction is allowed to fail with this and leave the run
// pending for retry.
type StoreError struct {
	// Op names the store operation that failed (e.g., "reserve run")
	Op string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store error during %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// ConfigError represents configuration problems: missing settings,
// unreadable files, or invalid values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "server.listen")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}
