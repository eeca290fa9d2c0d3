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
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"llmfirewall/platform/gateway/analyzer"
)

// ChatMessage is one turn of an OpenAI-style conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// ChatCompletionRequest is the admission path's request body. Only request
// content is inspected; the gateway never sees response bodies.
type ChatCompletionRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// redactedPreviewLimit truncates the analyzer's redacted text in 403 bodies.
const redactedPreviewLimit = 100

var validRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
}

// handleChatCompletions is the admission pipeline: rate-limit, validate,
// analyze, forward. Strictly sequential; the first failing step answers the
// caller and the remaining steps collapse. The lifecycle middleware audits
// whatever happens here via the request context's patch.
func (a *App) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	rc := requestContextFrom(r.Context())

	if !a.checkRateLimit(w, r, rc) {
		return
	}

	req, ok := a.decodeChatRequest(w, r)
	if !ok {
		return
	}
	rc.Patch.LLMModel = req.Model

	if a.analyzer != nil {
		verdict, err := a.analyzer.CheckContent(r.Context(), userContent(req.Messages), rc.RequestID, map[string]string{
			"client_ip":  rc.ClientIP,
			"user_agent": rc.UserAgent,
			"model":      req.Model,
		})
		if err != nil {
			// Fail closed: a gateway that admits traffic it cannot inspect
			// is not a gateway.
			a.log.ErrorWithCode(rc.RequestID, "content analyzer unreachable", http.StatusServiceUnavailable, err, nil)
			writeError(w, r, ErrServiceUnavailable, "content analysis unavailable", nil)
			return
		}
		if !verdict.IsSafe {
			a.blockUnsafeContent(w, r, rc, verdict)
			return
		}
	}

	// Forwarding to the upstream LLM is not wired yet; answer 501 so callers
	// can distinguish "admitted but unforwarded" from any denial.
	writeError(w, r, ErrNotImplemented, "upstream forwarding is not configured", nil)
}

// checkRateLimit runs the tier cascade and emits the rate headers. Returns
// false when the request was denied and answered.
func (a *App) checkRateLimit(w http.ResponseWriter, r *http.Request, rc *RequestContext) bool {
	if a.limiter == nil {
		return true
	}

	decision := a.limiter.Check(r.Context(), rc.ClientIPHash, rc.APIKeyHash)
	if decision.FailOpen {
		// Store down; admit with no headers. The audit row still lands.
		return true
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.Reset, 10))

	if decision.Allowed {
		return true
	}

	rc.Patch.IsBlocked = true
	rc.Patch.BlockReason = BlockReasonRateLimit
	firewallRateLimitViolationsTotal.WithLabelValues(string(decision.Tier)).Inc()
	firewallBlockedTotal.WithLabelValues(BlockReasonRateLimit, a.routeTemplate(r)).Inc()

	w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
	writeError(w, r, ErrRateLimitExceeded, "rate limit exceeded", map[string]interface{}{
		"tier":        string(decision.Tier),
		"limit":       decision.Limit,
		"retry_after": decision.RetryAfter,
	})
	return false
}

// decodeChatRequest parses and validates the body. Reads are bounded at
// maxContentLength + 1024 bytes so an oversized body cannot stall the
// gateway.
func (a *App) decodeChatRequest(w http.ResponseWriter, r *http.Request) (*ChatCompletionRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(a.cfg.Security.MaxContentLength)+1024)

	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, ErrValidation, "request body is not valid JSON", map[string]string{
			"error": err.Error(),
		})
		return nil, false
	}

	if msg := validateChatRequest(&req, a.cfg.Security.MinContentLength, a.cfg.Security.MaxContentLength); msg != "" {
		writeError(w, r, ErrValidation, msg, nil)
		return nil, false
	}
	return &req, true
}

func validateChatRequest(req *ChatCompletionRequest, minLen, maxLen int) string {
	if len(req.Messages) == 0 {
		return "messages must be a non-empty array"
	}
	total := 0
	for i, m := range req.Messages {
		if !validRoles[m.Role] {
			return fmt.Sprintf("messages[%d].role must be one of system, user, assistant", i)
		}
		if m.Content == "" {
			return fmt.Sprintf("messages[%d].content must not be empty", i)
		}
		total += len(m.Content)
	}
	if total < minLen || total > maxLen {
		return fmt.Sprintf("total content length %d is outside [%d, %d]", total, minLen, maxLen)
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return "temperature must be within [0, 2]"
	}
	if req.MaxTokens != nil && *req.MaxTokens < 1 {
		return "max_tokens must be at least 1"
	}
	return ""
}

// userContent joins the user-role turns with newlines; that string is what
// the analyzer sees.
func userContent(messages []ChatMessage) string {
	var parts []string
	for _, m := range messages {
		if m.Role == "user" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

func (a *App) blockUnsafeContent(w http.ResponseWriter, r *http.Request, rc *RequestContext, verdict *analyzer.Verdict) {
	confidence := verdict.Confidence
	rc.Patch.IsBlocked = true
	rc.Patch.BlockReason = BlockReasonContentPolicy
	rc.Patch.DetectedIssuesCount = len(verdict.Issues)
	rc.Patch.SecurityConfidence = &confidence

	recordDetectedIssues(verdict.Issues)
	firewallBlockedTotal.WithLabelValues(BlockReasonContentPolicy, a.routeTemplate(r)).Inc()

	issues := make([]map[string]interface{}, 0, len(verdict.Issues))
	for _, issue := range verdict.Issues {
		issues = append(issues, map[string]interface{}{
			"type":       issue.Type,
			"start":      issue.Start,
			"end":        issue.End,
			"confidence": issue.Confidence,
		})
	}

	preview := verdict.RedactedText
	if len(preview) > redactedPreviewLimit {
		preview = preview[:redactedPreviewLimit]
	}

	writeError(w, r, ErrContentPolicy, "request blocked by content policy", map[string]interface{}{
		"detected_issues":  issues,
		"confidence":       confidence,
		"redacted_preview": preview,
	})
}

// handleModels lists the configured model identifiers in the OpenAI list
// shape. Shares the admission path's rate limit: it is caller-facing
// surface.
func (a *App) handleModels(w http.ResponseWriter, r *http.Request) {
	rc := requestContextFrom(r.Context())
	if !a.checkRateLimit(w, r, rc) {
		return
	}

	models := make([]map[string]interface{}, 0, len(a.cfg.Models))
	for _, id := range a.cfg.Models {
		models = append(models, map[string]interface{}{
			"id":       id,
			"object":   "model",
			"owned_by": "llm-firewall",
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"object": "list",
		"data":   models,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
