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
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type contextKey string

const requestContextKey contextKey = "firewall_request_context"

// AuditPatch collects the fields the admission pipeline fills in as it
// progresses. It is owned by one RequestContext and read exactly once, by
// the response hook after the response is flushed. Never shared across
// requests.
type AuditPatch struct {
	IsBlocked           bool
	BlockReason         string
	DetectedIssuesCount int
	SecurityConfidence  *float64
	LLMProvider         string
	LLMModel            string
	Metadata            map[string]interface{}
}

// RequestContext is the per-request state threaded through the admission
// pipeline. The raw client IP and user agent live only here, for the
// analyzer's metadata; everything persisted uses the fingerprints.
type RequestContext struct {
	RequestID     string
	Start         time.Time
	ClientIP      string
	UserAgent     string
	ClientIPHash  string
	UserAgentHash string
	APIKeyHash    string
	Patch         AuditPatch
}

func requestContextFrom(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey).(*RequestContext)
	return rc
}

// clientIP resolves the originating address: first X-Forwarded-For entry,
// then X-Real-IP, then the connection's remote host.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.Index(xff, ","); i >= 0 {
			xff = xff[:i]
		}
		if ip := strings.TrimSpace(xff); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// apiKey extracts the caller's key from Authorization: Bearer or X-API-Key.
// Returns "" for unkeyed requests.
func apiKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if key, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(key)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// responseRecorder captures the status and byte count and stamps the timing
// header at write time, before the status line goes out.
type responseRecorder struct {
	http.ResponseWriter
	start       time.Time
	status      int
	bytes       int
	wroteHeader bool
}

func newResponseRecorder(w http.ResponseWriter, start time.Time) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, start: start, status: http.StatusOK}
}

func (rec *responseRecorder) WriteHeader(status int) {
	if rec.wroteHeader {
		return
	}
	rec.wroteHeader = true
	rec.status = status
	rec.Header().Set("X-Response-Time", fmt.Sprintf("%dms", time.Since(rec.start).Milliseconds()))
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *responseRecorder) Write(b []byte) (int, error) {
	if !rec.wroteHeader {
		rec.WriteHeader(http.StatusOK)
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += n
	return n, err
}

// lifecycle is the outermost middleware: request-ID assignment and
// fingerprinting on the way in, metrics and the audit entry on the way out.
// Panics in handlers surface as a uniform 500 and still reach the audit
// stage.
func (a *App) lifecycle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		rc := &RequestContext{
			RequestID: requestID,
			Start:     time.Now(),
			ClientIP:  clientIP(r),
			UserAgent: r.UserAgent(),
		}
		rc.ClientIPHash = a.hasher.Fingerprint(rc.ClientIP)
		rc.UserAgentHash = a.hasher.Fingerprint(rc.UserAgent)
		rc.APIKeyHash = a.hasher.Fingerprint(apiKey(r))

		r = r.WithContext(context.WithValue(r.Context(), requestContextKey, rc))

		rec := newResponseRecorder(w, rc.Start)
		rec.Header().Set("X-Request-Id", rc.RequestID)

		defer func() {
			if v := recover(); v != nil {
				a.log.Error(rc.RequestID, "panic in request handler", map[string]interface{}{
					"panic": fmt.Sprint(v),
					"path":  r.URL.Path,
				})
				if !rec.wroteHeader {
					writeError(rec, r, ErrInternal, "internal server error", nil)
				}
			}
			a.onResponse(rc, r, rec)
		}()

		next.ServeHTTP(rec, r)
	})
}

// onResponse is the response hook: it records metrics and assembles the
// audit entry from the patch. The liveness probe is never audited.
func (a *App) onResponse(rc *RequestContext, r *http.Request, rec *responseRecorder) {
	latency := time.Since(rc.Start)
	path := a.routeTemplate(r)

	recordRequestMetrics(path, r.Method, rec.status, latency.Seconds())

	if r.URL.Path == "/health" {
		return
	}
	if a.auditQueue == nil {
		return
	}

	requestSize := 0
	if r.ContentLength > 0 {
		requestSize = int(r.ContentLength)
	}

	patch := &rc.Patch
	a.auditQueue.Enqueue(&AuditEntry{
		RequestID:           rc.RequestID,
		Method:              r.Method,
		Path:                r.URL.Path,
		ClientIPHash:        rc.ClientIPHash,
		UserAgentHash:       rc.UserAgentHash,
		APIKeyHash:          rc.APIKeyHash,
		RequestSize:         requestSize,
		ResponseStatus:      rec.status,
		ResponseSize:        rec.bytes,
		LatencyMs:           latency.Milliseconds(),
		IsBlocked:           patch.IsBlocked,
		BlockReason:         patch.BlockReason,
		DetectedIssuesCount: patch.DetectedIssuesCount,
		SecurityConfidence:  patch.SecurityConfidence,
		LLMProvider:         patch.LLMProvider,
		LLMModel:            patch.LLMModel,
		Metadata:            patch.Metadata,
	})
}

// routeTemplate keeps metric label cardinality bounded: the matched mux
// template for known routes, a fixed label for everything else. The raw URL
// never becomes a label.
func (a *App) routeTemplate(r *http.Request) string {
	var match mux.RouteMatch
	if a.router != nil && a.router.Match(r, &match) && match.Route != nil {
		if tmpl, err := match.Route.GetPathTemplate(); err == nil && tmpl != "" {
			return tmpl
		}
	}
	return "unmatched"
}
