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
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"llmfirewall/platform/gateway/analyzer"
	"llmfirewall/platform/shared/logger"
)

// fakeAnalyzer scripts verdicts for handler tests.
type fakeAnalyzer struct {
	mu      sync.Mutex
	verdict *analyzer.Verdict
	err     error
	health  *analyzer.Health
	calls   int
	lastReq string
}

func (f *fakeAnalyzer) CheckContent(ctx context.Context, content, requestID string, metadata map[string]string) (*analyzer.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq = content
	if f.err != nil {
		return nil, f.err
	}
	return f.verdict, nil
}

func (f *fakeAnalyzer) HealthCheck(ctx context.Context) (*analyzer.Health, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.health != nil {
		return f.health, nil
	}
	return &analyzer.Health{Serving: true, Status: "SERVING"}, nil
}

func (f *fakeAnalyzer) Close() error { return nil }

// newTestApp assembles a gateway with an in-memory synchronous audit store
// and no rate limiter or analyzer; options opt individual services back in.
// Sync audit means every test sees its rows as soon as the response returns.
func newTestApp(t *testing.T, opts ...func(*App)) (*App, *memoryAuditStore) {
	t.Helper()

	cfg := defaultConfig()
	a := &App{
		cfg:       cfg,
		log:       logger.New("gateway"),
		hasher:    NewHasher(cfg.Security.HashSalt),
		startTime: time.Now(),
	}
	store := newMemoryAuditStore()
	a.auditQueue = NewAuditQueue(store, false, cfg.Audit.RetentionDays)

	for _, opt := range opts {
		opt(a)
	}
	a.router = a.buildRouter()
	return a, store
}

// withRateLimiter backs the limiter with miniredis.
func withRateLimiter(t *testing.T, rl RateLimitConfig) func(*App) {
	t.Helper()
	store, _ := newTestRateLimitStore(t)
	return func(a *App) {
		a.cfg.RateLimit = rl
		a.rlStore = store
		a.limiter = NewRateLimiter(store, rl)
	}
}

func withAnalyzer(fa *fakeAnalyzer) func(*App) {
	return func(a *App) { a.analyzer = fa }
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response %q is not the uniform error shape: %v", rec.Body.String(), err)
	}
	return body
}
