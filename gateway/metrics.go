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
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"llmfirewall/platform/gateway/analyzer"
)

var (
	firewallRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewall_requests_total",
			Help: "Total requests processed by the gateway",
		},
		[]string{"path", "method", "status"},
	)

	firewallBlockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewall_blocked_total",
			Help: "Requests blocked, by reason",
		},
		[]string{"reason", "path"},
	)

	firewallPIIDetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewall_pii_detections_total",
			Help: "PII entities detected by the analyzer",
		},
		[]string{"type"},
	)

	firewallPromptInjectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewall_prompt_injections_total",
			Help: "Prompt injection patterns detected by the analyzer",
		},
		[]string{"category"},
	)

	firewallRateLimitViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewall_rate_limit_violations_total",
			Help: "Rate limit denials, by tier",
		},
		[]string{"type"},
	)

	firewallRequestsByStatusTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewall_requests_by_status_total",
			Help: "Responses grouped by HTTP status",
		},
		[]string{"status", "path"},
	)

	firewallLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firewall_latency_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	firewallAuditQueueSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "firewall_audit_queue_size",
			Help: "Current depth of the audit queue",
		},
	)
)

func init() {
	prometheus.MustRegister(
		firewallRequestsTotal,
		firewallBlockedTotal,
		firewallPIIDetectionsTotal,
		firewallPromptInjectionsTotal,
		firewallRateLimitViolationsTotal,
		firewallRequestsByStatusTotal,
		firewallLatencySeconds,
		firewallAuditQueueSize,
	)
}

// recordRequestMetrics records the per-request counters and latency. path is
// the matched route template, never the raw URL, to keep cardinality bounded.
func recordRequestMetrics(path, method string, status int, seconds float64) {
	code := strconv.Itoa(status)
	firewallRequestsTotal.WithLabelValues(path, method, code).Inc()
	firewallRequestsByStatusTotal.WithLabelValues(code, path).Inc()
	firewallLatencySeconds.WithLabelValues(path, method).Observe(seconds)
}

// recordDetectedIssues fans the analyzer's findings out to the PII and
// injection counters.
func recordDetectedIssues(issues []analyzer.Issue) {
	for _, issue := range issues {
		switch issue.Type {
		case "PROMPT_INJECTION", "JAILBREAK", "EXCESSIVE_SPECIAL_CHARS", "ENCODED_PAYLOAD":
			firewallPromptInjectionsTotal.WithLabelValues(issue.Type).Inc()
		default:
			firewallPIIDetectionsTotal.WithLabelValues(issue.Type).Inc()
		}
	}
}
