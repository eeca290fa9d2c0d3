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
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

// requireAdmin guards every /admin route: HMAC-signed bearer token with a
// role=admin claim. A gateway with no ADMIN_JWT_SECRET configured refuses
// all admin calls rather than running them open.
func (a *App) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := a.cfg.Security.AdminJWTSecret
		if secret == "" {
			writeError(w, r, ErrAuthentication, "admin access is not configured", nil)
			return
		}

		auth := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || tokenString == "" {
			writeError(w, r, ErrAuthentication, "missing bearer token", nil)
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			writeError(w, r, ErrAuthentication, "invalid token", nil)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || claims["role"] != "admin" {
			writeError(w, r, ErrAuthentication, "admin role required", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleAuditLogs serves GET /admin/audit-logs: filtered, paginated audit
// entries, newest first.
func (a *App) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if a.auditStore == nil {
		writeError(w, r, ErrServiceUnavailable, "audit logging is disabled", nil)
		return
	}
	filter, err := auditFilterFromQuery(r)
	if err != nil {
		writeError(w, r, ErrValidation, err.Error(), nil)
		return
	}

	entries, err := a.auditStore.Query(r.Context(), filter)
	if err != nil {
		a.log.Error(requestID(r), "audit query failed", map[string]interface{}{"error": err.Error()})
		writeError(w, r, ErrInternal, "audit query failed", nil)
		return
	}
	if entries == nil {
		entries = []*AuditEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(entries),
		"logs":  entries,
	})
}

// handleAuditStats serves GET /admin/audit-stats. Defaults to the last 24h.
func (a *App) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	if a.auditStore == nil {
		writeError(w, r, ErrServiceUnavailable, "audit logging is disabled", nil)
		return
	}
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)

	var err error
	if v := r.URL.Query().Get("start_time"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, r, ErrValidation, "start_time must be RFC 3339", nil)
			return
		}
	}
	if v := r.URL.Query().Get("end_time"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, r, ErrValidation, "end_time must be RFC 3339", nil)
			return
		}
	}

	stats, err := a.auditStore.Stats(r.Context(), from, to)
	if err != nil {
		a.log.Error(requestID(r), "audit stats failed", map[string]interface{}{"error": err.Error()})
		writeError(w, r, ErrInternal, "audit stats failed", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"start_time": from.Format(time.RFC3339),
		"end_time":   to.Format(time.RFC3339),
		"stats":      stats,
	})
}

// handleAuditErase serves DELETE /admin/audit-logs/client/{fingerprint}:
// the right-to-erasure path. Hard delete, reported back with the count.
func (a *App) handleAuditErase(w http.ResponseWriter, r *http.Request) {
	if a.auditStore == nil {
		writeError(w, r, ErrServiceUnavailable, "audit logging is disabled", nil)
		return
	}
	fingerprint := mux.Vars(r)["fingerprint"]
	if fingerprint == "" {
		writeError(w, r, ErrValidation, "fingerprint must not be empty", nil)
		return
	}

	deleted, err := a.auditStore.EraseByCaller(r.Context(), fingerprint)
	if err != nil {
		a.log.Error(requestID(r), "audit erasure failed", map[string]interface{}{"error": err.Error()})
		writeError(w, r, ErrInternal, "audit erasure failed", nil)
		return
	}

	a.log.Info(requestID(r), "audit entries erased for caller", map[string]interface{}{
		"client_ip_hash": fingerprint,
		"deleted_count":  deleted,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted_count":  deleted,
		"client_ip_hash": fingerprint,
	})
}

// handleAuditCleanup serves POST /admin/audit-logs/cleanup: the retention
// sweep. An external scheduler drives this; the gateway runs no cron.
func (a *App) handleAuditCleanup(w http.ResponseWriter, r *http.Request) {
	if a.auditStore == nil {
		writeError(w, r, ErrServiceUnavailable, "audit logging is disabled", nil)
		return
	}
	deleted, err := a.auditStore.SweepExpired(r.Context())
	if err != nil {
		a.log.Error(requestID(r), "retention sweep failed", map[string]interface{}{"error": err.Error()})
		writeError(w, r, ErrInternal, "retention sweep failed", nil)
		return
	}

	a.log.Info(requestID(r), "retention sweep complete", map[string]interface{}{
		"deleted_count": deleted,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted_count": deleted,
	})
}

// handleRateLimitStatus serves GET /admin/rate-limits/{tier}/{identifier}:
// a read-only view of the current bucket, no increment.
func (a *App) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	if a.limiter == nil {
		writeError(w, r, ErrServiceUnavailable, "rate limiting is disabled", nil)
		return
	}
	vars := mux.Vars(r)
	tier, err := ParseTier(vars["tier"])
	if err != nil {
		writeError(w, r, ErrValidation, err.Error(), nil)
		return
	}

	status, err := a.limiter.Status(r.Context(), tier, vars["identifier"])
	if err != nil {
		writeError(w, r, ErrServiceUnavailable, "rate limit store unavailable", nil)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleRateLimitReset serves DELETE /admin/rate-limits/{tier}/{identifier}:
// drops every bucket for the pair, across all windows.
func (a *App) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	if a.limiter == nil {
		writeError(w, r, ErrServiceUnavailable, "rate limiting is disabled", nil)
		return
	}
	vars := mux.Vars(r)
	tier, err := ParseTier(vars["tier"])
	if err != nil {
		writeError(w, r, ErrValidation, err.Error(), nil)
		return
	}

	deleted, err := a.limiter.Reset(r.Context(), tier, vars["identifier"])
	if err != nil {
		writeError(w, r, ErrServiceUnavailable, "rate limit store unavailable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted_count": deleted,
	})
}

func auditFilterFromQuery(r *http.Request) (AuditFilter, error) {
	q := r.URL.Query()
	filter := AuditFilter{
		ClientIPHash: q.Get("client_ip_hash"),
	}

	var err error
	if v := q.Get("start_time"); v != "" {
		if filter.From, err = time.Parse(time.RFC3339, v); err != nil {
			return filter, fmt.Errorf("start_time must be RFC 3339")
		}
	}
	if v := q.Get("end_time"); v != "" {
		if filter.To, err = time.Parse(time.RFC3339, v); err != nil {
			return filter, fmt.Errorf("end_time must be RFC 3339")
		}
	}
	if v := q.Get("blocked"); v != "" {
		blocked, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("blocked must be a boolean")
		}
		filter.Blocked = &blocked
	}
	if v := q.Get("status"); v != "" {
		status, err := strconv.Atoi(v)
		if err != nil || status < 100 || status >= 600 {
			return filter, fmt.Errorf("status must be an HTTP status code")
		}
		filter.Status = &status
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return filter, fmt.Errorf("limit must be a positive integer")
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("offset must be a non-negative integer")
		}
		filter.Offset = offset
	}
	return filter, nil
}

func requestID(r *http.Request) string {
	if rc := requestContextFrom(r.Context()); rc != nil {
		return rc.RequestID
	}
	return ""
}
