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
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"llmfirewall/platform/gateway/analyzer"
)

func postChat(handler http.Handler, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.RemoteAddr = "203.0.113.7:4321"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	return rec
}

func TestSafeRequestAnsweredNotImplemented(t *testing.T) {
	fa := &fakeAnalyzer{verdict: &analyzer.Verdict{IsSafe: true, Confidence: 0.99}}
	app, store := newTestApp(t, withAnalyzer(fa))

	rec := postChat(app.Handler(), `{"model":"gpt-4","messages":[{"role":"user","content":"What is the capital of France?"}]}`)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501 (admitted but unforwarded)", rec.Code)
	}
	body := decodeErrorBody(t, rec)
	if body.Error.Type != string(ErrNotImplemented) {
		t.Errorf("error type = %q, want %q", body.Error.Type, ErrNotImplemented)
	}
	if fa.calls != 1 {
		t.Errorf("analyzer called %d times, want 1", fa.calls)
	}
	if fa.lastReq != "What is the capital of France?" {
		t.Errorf("analyzer saw %q, want the user content", fa.lastReq)
	}

	if store.count() != 1 {
		t.Fatalf("store has %d entries, want 1", store.count())
	}
	entry := store.entries[0]
	if entry.IsBlocked {
		t.Error("admitted request audited as blocked")
	}
	if entry.LLMModel != "gpt-4" {
		t.Errorf("audited model = %q, want gpt-4", entry.LLMModel)
	}
}

func TestUnsafeContentBlockedWithDetections(t *testing.T) {
	fa := &fakeAnalyzer{verdict: &analyzer.Verdict{
		IsSafe:       false,
		RedactedText: "My SSN is [SSN]",
		Confidence:   0.97,
		Issues: []analyzer.Issue{
			{Type: "SSN", Text: "123-45-6789", Start: 10, End: 21, Confidence: 0.97, Replacement: "[SSN]"},
		},
	}}
	app, store := newTestApp(t, withAnalyzer(fa))

	rec := postChat(app.Handler(), `{"model":"gpt-4","messages":[{"role":"user","content":"My SSN is 123-45-6789"}]}`)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	body := decodeErrorBody(t, rec)
	if body.Error.Type != string(ErrContentPolicy) {
		t.Errorf("error type = %q, want %q", body.Error.Type, ErrContentPolicy)
	}

	details, ok := body.Error.Details.(map[string]interface{})
	if !ok {
		t.Fatalf("details = %T, want an object", body.Error.Details)
	}
	issues, ok := details["detected_issues"].([]interface{})
	if !ok || len(issues) != 1 {
		t.Fatalf("detected_issues = %v, want one issue", details["detected_issues"])
	}
	issue := issues[0].(map[string]interface{})
	if issue["type"] != "SSN" {
		t.Errorf("issue type = %v, want SSN", issue["type"])
	}
	if _, leaked := issue["text"]; leaked {
		t.Error("403 body leaks the matched raw text")
	}
	if details["redacted_preview"] != "My SSN is [SSN]" {
		t.Errorf("redacted_preview = %v", details["redacted_preview"])
	}

	entry := store.entries[0]
	if !entry.IsBlocked || entry.BlockReason != BlockReasonContentPolicy {
		t.Errorf("audit entry blocked=%v reason=%q, want blocked by %s", entry.IsBlocked, entry.BlockReason, BlockReasonContentPolicy)
	}
	if entry.DetectedIssuesCount != 1 {
		t.Errorf("detected issues count = %d, want 1", entry.DetectedIssuesCount)
	}
	if entry.SecurityConfidence == nil || *entry.SecurityConfidence != 0.97 {
		t.Errorf("security confidence = %v, want 0.97", entry.SecurityConfidence)
	}
}

func TestRedactedPreviewIsTruncated(t *testing.T) {
	long := strings.Repeat("x", 500)
	fa := &fakeAnalyzer{verdict: &analyzer.Verdict{IsSafe: false, RedactedText: long, Confidence: 0.9}}
	app, _ := newTestApp(t, withAnalyzer(fa))

	rec := postChat(app.Handler(), `{"messages":[{"role":"user","content":"hello there"}]}`)

	body := decodeErrorBody(t, rec)
	details := body.Error.Details.(map[string]interface{})
	preview := details["redacted_preview"].(string)
	if len(preview) != redactedPreviewLimit {
		t.Errorf("preview length = %d, want truncated to %d", len(preview), redactedPreviewLimit)
	}
}

func TestAnalyzerOutageFailsClosed(t *testing.T) {
	fa := &fakeAnalyzer{err: fmt.Errorf("analyzer unreachable after 4 attempts")}
	app, store := newTestApp(t, withAnalyzer(fa))

	rec := postChat(app.Handler(), `{"messages":[{"role":"user","content":"hello there"}]}`)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 (fail closed)", rec.Code)
	}
	body := decodeErrorBody(t, rec)
	if body.Error.Type != string(ErrServiceUnavailable) {
		t.Errorf("error type = %q, want %q", body.Error.Type, ErrServiceUnavailable)
	}
	if store.count() != 1 {
		t.Errorf("outage responses should still be audited")
	}
}

func TestChatRequestValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{"messages": [`},
		{name: "empty messages", body: `{"messages":[]}`},
		{name: "missing messages", body: `{"model":"gpt-4"}`},
		{name: "bad role", body: `{"messages":[{"role":"robot","content":"hi there"}]}`},
		{name: "empty content", body: `{"messages":[{"role":"user","content":""}]}`},
		{name: "temperature out of range", body: `{"temperature":3.5,"messages":[{"role":"user","content":"hi there"}]}`},
		{name: "zero max_tokens", body: `{"max_tokens":0,"messages":[{"role":"user","content":"hi there"}]}`},
	}

	fa := &fakeAnalyzer{verdict: &analyzer.Verdict{IsSafe: true}}
	app, _ := newTestApp(t, withAnalyzer(fa))
	handler := app.Handler()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postChat(handler, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			body := decodeErrorBody(t, rec)
			if body.Error.Type != string(ErrValidation) {
				t.Errorf("error type = %q, want %q", body.Error.Type, ErrValidation)
			}
		})
	}
	if fa.calls != 0 {
		t.Errorf("analyzer called %d times on invalid requests, want 0", fa.calls)
	}
}

func TestContentLengthBounds(t *testing.T) {
	fa := &fakeAnalyzer{verdict: &analyzer.Verdict{IsSafe: true}}
	app, _ := newTestApp(t, withAnalyzer(fa))
	app.cfg.Security.MinContentLength = 10
	app.cfg.Security.MaxContentLength = 50

	rec := postChat(app.Handler(), `{"messages":[{"role":"user","content":"short"}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("undersized content: status = %d, want 400", rec.Code)
	}

	oversized := strings.Repeat("a", 60)
	rec = postChat(app.Handler(), `{"messages":[{"role":"user","content":"`+oversized+`"}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("oversized content: status = %d, want 400", rec.Code)
	}
}

func TestOnlyUserTurnsReachTheAnalyzer(t *testing.T) {
	fa := &fakeAnalyzer{verdict: &analyzer.Verdict{IsSafe: true}}
	app, _ := newTestApp(t, withAnalyzer(fa))

	postChat(app.Handler(), `{"messages":[
		{"role":"system","content":"You are a helpful assistant."},
		{"role":"user","content":"first question"},
		{"role":"assistant","content":"an answer"},
		{"role":"user","content":"second question"}]}`)

	if fa.lastReq != "first question\nsecond question" {
		t.Errorf("analyzer saw %q, want the joined user turns only", fa.lastReq)
	}
}

func TestRateLimitHeadersAndDenial(t *testing.T) {
	app, store := newTestApp(t, withRateLimiter(t, RateLimitConfig{
		Global:    TierLimit{Max: 2, WindowSeconds: 60},
		PerClient: TierLimit{Max: 100, WindowSeconds: 60},
		PerAPIKey: TierLimit{Max: 100, WindowSeconds: 60},
	}))
	handler := app.Handler()

	want := []struct {
		status    int
		remaining string
	}{
		{http.StatusOK, "1"},
		{http.StatusOK, "0"},
		{http.StatusTooManyRequests, "0"},
	}

	for i, w := range want {
		r := httptest.NewRequest("GET", "/v1/models", nil)
		// Distinct callers so only the shared global tier fills up.
		r.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)

		if rec.Code != w.status {
			t.Fatalf("request %d: status = %d, want %d", i+1, rec.Code, w.status)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "2" {
			t.Errorf("request %d: X-RateLimit-Limit = %q, want 2", i+1, got)
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != w.remaining {
			t.Errorf("request %d: X-RateLimit-Remaining = %q, want %q", i+1, got, w.remaining)
		}
		if rec.Header().Get("X-RateLimit-Reset") == "" {
			t.Errorf("request %d: missing X-RateLimit-Reset", i+1)
		}
	}

	// The denial carries Retry-After and the uniform 429 body.
	r := httptest.NewRequest("GET", "/v1/models", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || retryAfter < 1 || retryAfter > 60 {
		t.Errorf("Retry-After = %q, want an integer within (0, 60]", rec.Header().Get("Retry-After"))
	}
	body := decodeErrorBody(t, rec)
	if body.Error.Type != string(ErrRateLimitExceeded) {
		t.Errorf("error type = %q, want %q", body.Error.Type, ErrRateLimitExceeded)
	}
	details := body.Error.Details.(map[string]interface{})
	if details["tier"] != string(TierGlobal) {
		t.Errorf("denied tier = %v, want %s", details["tier"], TierGlobal)
	}

	var denied int
	for _, entry := range store.entries {
		if entry.IsBlocked {
			if entry.BlockReason != BlockReasonRateLimit {
				t.Errorf("block reason = %q, want %s", entry.BlockReason, BlockReasonRateLimit)
			}
			denied++
		}
	}
	if denied != 2 {
		t.Errorf("audited %d denials, want 2", denied)
	}
}

func TestRateLimiterFailOpenOmitsHeaders(t *testing.T) {
	fa := &fakeAnalyzer{verdict: &analyzer.Verdict{IsSafe: true}}
	store, mr := newTestRateLimitStore(t)
	app, _ := newTestApp(t, withAnalyzer(fa), func(a *App) {
		a.rlStore = store
		a.limiter = NewRateLimiter(store, defaultConfig().RateLimit)
	})
	mr.Close() // store outage

	rec := postChat(app.Handler(), `{"messages":[{"role":"user","content":"hello there"}]}`)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501 (admitted fail-open past the limiter)", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "" {
		t.Error("fail-open responses must not carry rate limit headers")
	}
}

func TestModelsEndpointShape(t *testing.T) {
	app, _ := newTestApp(t)
	app.cfg.Models = []string{"gpt-4", "claude-sonnet"}

	r := httptest.NewRequest("GET", "/v1/models", nil)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Object string `json:"object"`
		Data   []struct {
			ID      string `json:"id"`
			Object  string `json:"object"`
			OwnedBy string `json:"owned_by"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Object != "list" || len(body.Data) != 2 {
		t.Fatalf("body = %+v, want a list of 2 models", body)
	}
	if body.Data[0].ID != "gpt-4" || body.Data[0].Object != "model" {
		t.Errorf("first model = %+v", body.Data[0])
	}
}
