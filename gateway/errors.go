// Copyright 2025 LLM Firewall Project
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

package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

// ErrorKind is the closed set of user-visible failure categories. Every
// error response is built from a kind, never from an internal error's text.
type ErrorKind string

const (
	ErrValidation         ErrorKind = "ValidationError"
	ErrRateLimitExceeded  ErrorKind = "RateLimitExceeded"
	ErrContentPolicy      ErrorKind = "ContentPolicyViolation"
	ErrServiceUnavailable ErrorKind = "ServiceUnavailableError"
	ErrNotImplemented     ErrorKind = "NotImplementedError"
	ErrNotFound           ErrorKind = "NotFoundError"
	ErrAuthentication     ErrorKind = "AuthenticationError"
	ErrInternal           ErrorKind = "InternalServerError"
)

// HTTPStatus maps the kind to its response status.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrContentPolicy:
		return http.StatusForbidden
	case ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	case ErrNotImplemented:
		return http.StatusNotImplemented
	case ErrNotFound:
		return http.StatusNotFound
	case ErrAuthentication:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type      string      `json:"type"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId"`
	Timestamp string      `json:"timestamp"`
	Details   interface{} `json:"details,omitempty"`
}

// writeError sends the uniform error body for the given kind. The request ID
// comes from the request context so callers can correlate the failure with
// their X-Request-Id header.
func writeError(w http.ResponseWriter, r *http.Request, kind ErrorKind, message string, details interface{}) {
	writeErrorStatus(w, r, kind.HTTPStatus(), kind, message, details)
}

// writeErrorStatus exists for the one response whose status is not implied
// by its kind (405 on a known route with the wrong verb).
func writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, kind ErrorKind, message string, details interface{}) {
	requestID := ""
	if rc := requestContextFrom(r.Context()); rc != nil {
		requestID = rc.RequestID
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := errorBody{
		Error: errorDetail{
			Type:      string(kind),
			Message:   message,
			RequestID: requestID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Details:   details,
		},
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Headers are already flushed; nothing left to salvage.
		return
	}
}

// notFoundHandler keeps unknown routes on the uniform error shape.
func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, ErrNotFound, "route not found", map[string]string{
		"method": r.Method,
		"path":   r.URL.Path,
	})
}

// methodNotAllowedHandler answers known routes hit with the wrong verb.
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeErrorStatus(w, r, http.StatusMethodNotAllowed, ErrNotFound, "method not allowed for route", map[string]string{
		"method": r.Method,
		"path":   r.URL.Path,
	})
}
