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

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

// Structured error type codes for machine-readable error categorization.
// These classify errors into broad categories independent of the HTTP
// status code.
const (
	ErrorTypeValidation     = "VALIDATION"     // request data failed validation
	ErrorTypeAuthentication = "AUTHENTICATION" // missing or invalid credentials
	ErrorTypeNotFound       = "NOT_FOUND"      // requested resource does not exist
	ErrorTypeConflict       = "CONFLICT"       // request conflicts with current resource state
	ErrorTypePrecondition   = "PRECONDITION"   // resource is in the wrong state for the operation
	ErrorTypeInternal       = "INTERNAL"       // unexpected server error
	ErrorTypeUnavailable    = "UNAVAILABLE"    // dependency or feature not available
)

// APIError is the structured JSON error envelope returned by all API error
// responses. Format:
//
//	{"error": {"code": "ERROR_CODE", "type": "ERROR_TYPE", "message": "human-readable message"}}
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail holds the code, type, and message inside the error envelope.
type APIErrorDetail struct {
	Code    string `json:"code"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

// errorTypeFromStatus maps HTTP status codes to broad error type categories.
func errorTypeFromStatus(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return ErrorTypeValidation
	case status == http.StatusUnauthorized:
		return ErrorTypeAuthentication
	case status == http.StatusNotFound:
		return ErrorTypeNotFound
	case status == http.StatusConflict:
		return ErrorTypeConflict
	case status == http.StatusPreconditionFailed:
		return ErrorTypePrecondition
	case status == http.StatusServiceUnavailable:
		return ErrorTypeUnavailable
	case status >= 500:
		return ErrorTypeInternal
	default:
		return ""
	}
}

// errorJSON writes a structured JSON error response. All API errors use this
// format so the CLI only needs to handle one shape. The type field is derived
// from the HTTP status code.
func errorJSON(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIError{
		Error: APIErrorDetail{Code: code, Type: errorTypeFromStatus(status), Message: message},
	}); err != nil {
		slog.Error("failed to encode JSON error response", "error", err)
	}
}

// internalError logs the full error server-side and returns a generic JSON
// error to clients.
func internalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	errorJSON(w, msg, "INTERNAL", http.StatusInternalServerError)
}

// writeError maps a core error to its HTTP shape. Handlers that call into
// the trigger, lifecycle, or secrets services pass errors straight through
// here instead of inspecting them.
func writeError(w http.ResponseWriter, err error) {
	var (
		validation   *eiflerrors.ValidationError
		notFound     *eiflerrors.NotFoundError
		conflict     *eiflerrors.ConflictError
		unauthorized *eiflerrors.UnauthorizedError
		precondition *eiflerrors.PreconditionFailedError
		invalidCron  *eiflerrors.InvalidCronError
	)
	switch {
	case errors.As(err, &validation):
		errorJSON(w, validation.Error(), "INVALID_ARGUMENT", http.StatusBadRequest)
	case errors.As(err, &invalidCron):
		errorJSON(w, invalidCron.Error(), "INVALID_CRON", http.StatusBadRequest)
	case errors.As(err, &notFound):
		errorJSON(w, notFound.Error(), "NOT_FOUND", http.StatusNotFound)
	case errors.As(err, &conflict):
		errorJSON(w, conflict.Error(), "CONFLICT", http.StatusConflict)
	case errors.As(err, &unauthorized):
		errorJSON(w, unauthorized.Error(), "UNAUTHORIZED", http.StatusUnauthorized)
	case errors.As(err, &precondition):
		errorJSON(w, precondition.Error(), "PRECONDITION_FAILED", http.StatusPreconditionFailed)
	case errors.Is(err, eiflerrors.ErrEncryptionNotConfigured):
		errorJSON(w, err.Error(), "ENCRYPTION_NOT_CONFIGURED", http.StatusServiceUnavailable)
	default:
		internalError(w, "internal error", err)
	}
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
// Logs an error if encoding fails (response may be partial at that point).
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// decodeJSON reads a JSON request body into v. On failure it writes the
// error response itself and returns false; oversized bodies map to 413.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			errorJSON(w, "request body too large", "BODY_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		errorJSON(w, "invalid request body", "INVALID_ARGUMENT", http.StatusBadRequest)
		return false
	}
	return true
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// parsePagination reads limit and offset from query params with defaults
// and bounds.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
