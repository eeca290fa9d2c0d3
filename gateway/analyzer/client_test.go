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

package analyzer

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"llmfirewall/platform/gateway/firewallpb"
)

// scriptedAnalyzer serves canned responses over an in-memory listener. A
// response func returning an error fails that attempt with the given status.
type scriptedAnalyzer struct {
	firewallpb.UnimplementedFirewallServiceServer

	mu      sync.Mutex
	calls   int
	check   func(call int, req *firewallpb.CheckContentRequest) (*firewallpb.CheckContentResponse, error)
	health  *firewallpb.HealthCheckResponse
	lastReq *firewallpb.CheckContentRequest
}

func (s *scriptedAnalyzer) CheckContent(ctx context.Context, req *firewallpb.CheckContentRequest) (*firewallpb.CheckContentResponse, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.lastReq = req
	check := s.check
	s.mu.Unlock()
	return check(call, req)
}

func (s *scriptedAnalyzer) HealthCheck(ctx context.Context, req *firewallpb.HealthCheckRequest) (*firewallpb.HealthCheckResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.health == nil {
		return nil, status.Error(codes.Unavailable, "health script missing")
	}
	return s.health, nil
}

func (s *scriptedAnalyzer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// newScriptedClient stands up the scripted analyzer on a bufconn listener and
// dials it through the production client, with a millisecond backoff so retry
// tests run fast.
func newScriptedClient(t *testing.T, script *scriptedAnalyzer, maxRetries int) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	firewallpb.RegisterFirewallServiceServer(server, script)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(func() {
		server.Stop()
		_ = lis.Close()
	})

	client, err := NewClient(Config{
		Target:      "passthrough:///bufnet",
		Timeout:     2 * time.Second,
		MaxRetries:  maxRetries,
		BackoffBase: time.Millisecond,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCheckContentMapsVerdict(t *testing.T) {
	script := &scriptedAnalyzer{
		check: func(call int, req *firewallpb.CheckContentRequest) (*firewallpb.CheckContentResponse, error) {
			return &firewallpb.CheckContentResponse{
				IsSafe:          false,
				RedactedText:    "My SSN is [SSN]",
				ConfidenceScore: 0.97,
				RequestId:       req.RequestId,
				DetectedIssues: []*firewallpb.DetectedIssue{{
					Type:        firewallpb.IssueKind_SSN,
					Text:        "123-45-6789",
					Start:       10,
					End:         21,
					Confidence:  0.97,
					Replacement: "[SSN]",
				}},
			}, nil
		},
	}
	client := newScriptedClient(t, script, 3)

	verdict, err := client.CheckContent(context.Background(), "My SSN is 123-45-6789", "req-1", map[string]string{"model": "gpt-4"})
	if err != nil {
		t.Fatalf("CheckContent: %v", err)
	}

	if verdict.IsSafe {
		t.Error("verdict should be unsafe")
	}
	if verdict.RedactedText != "My SSN is [SSN]" {
		t.Errorf("redacted = %q", verdict.RedactedText)
	}
	if len(verdict.Issues) != 1 {
		t.Fatalf("issues = %d, want 1", len(verdict.Issues))
	}
	issue := verdict.Issues[0]
	if issue.Type != "SSN" || issue.Start != 10 || issue.End != 21 || issue.Replacement != "[SSN]" {
		t.Errorf("issue = %+v", issue)
	}

	if script.lastReq.GetContent() != "My SSN is 123-45-6789" || script.lastReq.GetRequestId() != "req-1" {
		t.Errorf("server saw %+v", script.lastReq)
	}
	if script.lastReq.GetMetadata()["model"] != "gpt-4" {
		t.Errorf("metadata = %v", script.lastReq.GetMetadata())
	}
}

func TestCheckContentRetriesUnavailable(t *testing.T) {
	script := &scriptedAnalyzer{
		check: func(call int, req *firewallpb.CheckContentRequest) (*firewallpb.CheckContentResponse, error) {
			if call < 3 {
				return nil, status.Error(codes.Unavailable, "restarting")
			}
			return &firewallpb.CheckContentResponse{IsSafe: true, ConfidenceScore: 1}, nil
		},
	}
	client := newScriptedClient(t, script, 3)

	verdict, err := client.CheckContent(context.Background(), "hello", "req-2", nil)
	if err != nil {
		t.Fatalf("CheckContent after transient failures: %v", err)
	}
	if !verdict.IsSafe {
		t.Error("expected the third attempt's safe verdict")
	}
	if script.callCount() != 3 {
		t.Errorf("server saw %d calls, want 3", script.callCount())
	}
}

func TestCheckContentExhaustsRetries(t *testing.T) {
	script := &scriptedAnalyzer{
		check: func(call int, req *firewallpb.CheckContentRequest) (*firewallpb.CheckContentResponse, error) {
			return nil, status.Error(codes.Unavailable, "down hard")
		},
	}
	client := newScriptedClient(t, script, 3)

	_, err := client.CheckContent(context.Background(), "hello", "req-3", nil)
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if !strings.Contains(err.Error(), "4 attempts") {
		t.Errorf("error = %v, want the attempt count surfaced", err)
	}
	if script.callCount() != 4 {
		t.Errorf("server saw %d calls, want 4 (1 + 3 retries)", script.callCount())
	}
}

func TestCheckContentDoesNotRetryInvalidArgument(t *testing.T) {
	script := &scriptedAnalyzer{
		check: func(call int, req *firewallpb.CheckContentRequest) (*firewallpb.CheckContentResponse, error) {
			return nil, status.Error(codes.InvalidArgument, "content too large")
		},
	}
	client := newScriptedClient(t, script, 3)

	_, err := client.CheckContent(context.Background(), "hello", "req-4", nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if script.callCount() != 1 {
		t.Errorf("server saw %d calls, want 1 (InvalidArgument is terminal)", script.callCount())
	}
}

func TestCheckContentHonorsCancellation(t *testing.T) {
	script := &scriptedAnalyzer{
		check: func(call int, req *firewallpb.CheckContentRequest) (*firewallpb.CheckContentResponse, error) {
			return nil, status.Error(codes.Unavailable, "down")
		},
	}
	client := newScriptedClient(t, script, 1000)
	// A huge retry budget: only the caller's context can end this.

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.CheckContent(ctx, "hello", "req-5", nil)
	if err == nil {
		t.Fatal("expected an error once the context expired")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancellation took %v, want prompt exit", elapsed)
	}
}

func TestHealthCheckMapsServingStatus(t *testing.T) {
	script := &scriptedAnalyzer{
		health: &firewallpb.HealthCheckResponse{
			Status:        firewallpb.HealthCheckResponse_SERVING,
			Version:       "2.1.0",
			UptimeSeconds: 3600,
		},
	}
	client := newScriptedClient(t, script, 0)

	health, err := client.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if !health.Serving || health.Status != "SERVING" {
		t.Errorf("health = %+v, want serving", health)
	}
	if health.Version != "2.1.0" || health.UptimeSeconds != 3600 {
		t.Errorf("health = %+v", health)
	}

	script.mu.Lock()
	script.health.Status = firewallpb.HealthCheckResponse_NOT_SERVING
	script.mu.Unlock()

	health, err = client.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if health.Serving {
		t.Error("NOT_SERVING must map to not serving")
	}
}

func TestNewClientRejectsEmptyTarget(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected an error for an empty target")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	script := &scriptedAnalyzer{
		check: func(call int, req *firewallpb.CheckContentRequest) (*firewallpb.CheckContentResponse, error) {
			return &firewallpb.CheckContentResponse{IsSafe: true}, nil
		},
	}
	client := newScriptedClient(t, script, 0)

	if err := client.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
