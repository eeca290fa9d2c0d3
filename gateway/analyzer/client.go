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

// Package analyzer is the gRPC client for the content analyzer service.
//
// The analyzer owns PII and prompt-injection detection; the gateway only
// consumes verdicts. The client keeps a single multiplexed channel, retries
// transient failures with exponential backoff, and reconnects between
// attempts. The gateway treats an exhausted client as a hard failure — it
// never fails open on analyzer outage.
package analyzer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"llmfirewall/platform/gateway/firewallpb"
	"llmfirewall/platform/shared/logger"
)

// Analyzer messages are capped at 4 MiB in both directions, matching the
// server's service options.
const maxMessageBytes = 4 << 20

// Issue is one detection inside a verdict. Type is the IssueKind name
// (EMAIL, SSN, PROMPT_INJECTION, ...).
type Issue struct {
	Type        string
	Text        string
	Start       int32
	End         int32
	Confidence  float64
	Replacement string
}

// Verdict is the analyzer's decision for one content string.
type Verdict struct {
	IsSafe       bool
	RedactedText string
	Issues       []Issue
	Confidence   float64
}

// Health is the analyzer's health report. Only a SERVING status counts as
// healthy.
type Health struct {
	Serving       bool
	Status        string
	Version       string
	UptimeSeconds float64
}

// Config controls the client's reliability behavior.
type Config struct {
	// Target is the host:port of the analyzer.
	Target string
	// Timeout bounds each individual attempt. Default 5s.
	Timeout time.Duration
	// MaxRetries is the number of re-attempts after the first failure.
	// Default 3, so up to 4 attempts total.
	MaxRetries int
	// BackoffBase is the first retry's sleep; it doubles per retry.
	// Default 1s, so retries fire at ~1s, 3s, 7s elapsed.
	BackoffBase time.Duration
	// DialOptions are appended to the standard dial options. Tests use this
	// to route the channel over an in-memory listener.
	DialOptions []grpc.DialOption
}

// Client is a FirewallService client with retries, backoff, and
// reconnection. Safe for concurrent use.
type Client struct {
	cfg Config
	log *logger.Logger

	mu   sync.Mutex
	conn *grpc.ClientConn
	rpc  firewallpb.FirewallServiceClient
}

// NewClient opens the analyzer channel. The connection itself is lazy; a
// down analyzer surfaces on the first call, not here.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Target == "" {
		return nil, fmt.Errorf("analyzer: target must not be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}

	c := &Client{
		cfg: cfg,
		log: logger.New("analyzer-client"),
	}
	conn, err := c.dial()
	if err != nil {
		return nil, fmt.Errorf("analyzer: dial %s: %w", cfg.Target, err)
	}
	c.conn = conn
	c.rpc = firewallpb.NewFirewallServiceClient(conn)
	return c, nil
}

func (c *Client) dial() (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMessageBytes),
			grpc.MaxCallSendMsgSize(maxMessageBytes),
		),
	}
	opts = append(opts, c.cfg.DialOptions...)
	return grpc.NewClient(c.cfg.Target, opts...)
}

// reconnect tears the channel down and dials again. Only one reconnect may
// run at a time; concurrent callers queue on the mutex and reuse the fresh
// channel.
func (c *Client) reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.log.Warn("", "error closing stale analyzer channel", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	conn, err := c.dial()
	if err != nil {
		c.conn = nil
		c.rpc = nil
		return fmt.Errorf("analyzer: reconnect %s: %w", c.cfg.Target, err)
	}
	c.conn = conn
	c.rpc = firewallpb.NewFirewallServiceClient(conn)
	return nil
}

func (c *Client) currentRPC() firewallpb.FirewallServiceClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rpc
}

// CheckContent asks the analyzer for a verdict on content. Attempts are
// bounded by cfg.Timeout each; Unavailable and DeadlineExceeded are retried
// up to cfg.MaxRetries times with exponential backoff and a reconnect before
// each retry. InvalidArgument and every other status surface immediately.
func (c *Client) CheckContent(ctx context.Context, content, requestID string, metadata map[string]string) (*Verdict, error) {
	req := &firewallpb.CheckContentRequest{
		Content:   content,
		RequestId: requestID,
		Metadata:  metadata,
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.BackoffBase << (attempt - 1)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			if err := c.reconnect(); err != nil {
				lastErr = err
				continue
			}
		}

		rpc := c.currentRPC()
		if rpc == nil {
			lastErr = fmt.Errorf("analyzer: no channel")
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		resp, err := rpc.CheckContent(attemptCtx, req)
		cancel()
		if err == nil {
			return verdictFromProto(resp), nil
		}

		switch status.Code(err) {
		case codes.Unavailable, codes.DeadlineExceeded:
			lastErr = err
			c.log.Warn(requestID, "analyzer attempt failed", map[string]interface{}{
				"attempt": attempt + 1,
				"code":    status.Code(err).String(),
			})
		case codes.InvalidArgument:
			return nil, fmt.Errorf("analyzer rejected request: %w", err)
		default:
			return nil, fmt.Errorf("analyzer check failed: %w", err)
		}
	}

	return nil, fmt.Errorf("analyzer unreachable after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

// HealthCheck performs a single health probe with the per-attempt timeout.
func (c *Client) HealthCheck(ctx context.Context) (*Health, error) {
	rpc := c.currentRPC()
	if rpc == nil {
		return nil, fmt.Errorf("analyzer: no channel")
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := rpc.HealthCheck(attemptCtx, &firewallpb.HealthCheckRequest{Service: "firewall"})
	if err != nil {
		return nil, fmt.Errorf("analyzer health check: %w", err)
	}
	return &Health{
		Serving:       resp.GetStatus() == firewallpb.HealthCheckResponse_SERVING,
		Status:        resp.GetStatus().String(),
		Version:       resp.GetVersion(),
		UptimeSeconds: resp.GetUptimeSeconds(),
	}, nil
}

// Close releases the channel.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.rpc = nil
	return err
}

func verdictFromProto(resp *firewallpb.CheckContentResponse) *Verdict {
	v := &Verdict{
		IsSafe:       resp.GetIsSafe(),
		RedactedText: resp.GetRedactedText(),
		Confidence:   float64(resp.GetConfidenceScore()),
	}
	for _, issue := range resp.GetDetectedIssues() {
		v.Issues = append(v.Issues, Issue{
			Type:        issue.GetType().String(),
			Text:        issue.GetText(),
			Start:       issue.GetStart(),
			End:         issue.GetEnd(),
			Confidence:  float64(issue.GetConfidence()),
			Replacement: issue.GetReplacement(),
		})
	}
	return v
}
