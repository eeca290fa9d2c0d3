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
	"net/http"
	"time"
)

// handleHealth is the liveness probe: it answers as long as the process is
// up, regardless of dependency state. Never rate-limited, never audited.
func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   ServiceName,
		"version":   ServiceVersion,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(a.startTime).Seconds(),
	})
}

// handleReady is the readiness probe: 200 only when every enabled
// dependency answers. Disabled subsystems count as ready — the gateway
// cannot depend on components it was told not to run.
func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	checks := map[string]bool{
		"analyzer":         true,
		"audit_store":      true,
		"rate_limit_store": true,
	}

	if a.analyzer != nil {
		health, err := a.analyzer.HealthCheck(ctx)
		checks["analyzer"] = err == nil && health.Serving
	}
	if a.auditStore != nil {
		checks["audit_store"] = a.auditStore.Healthy(ctx)
	}
	if a.rlStore != nil {
		checks["rate_limit_store"] = a.rlStore.Healthy(ctx)
	}

	ready := checks["analyzer"] && checks["audit_store"] && checks["rate_limit_store"]
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"ready":  ready,
		"checks": checks,
	})
}
