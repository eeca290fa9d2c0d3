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

/*
Package logger provides structured JSON logging for the gateway's
components.

# Overview

Every log entry is one JSON object on stdout, consumable by CloudWatch,
Loki, or any other aggregation stack without parsing heuristics.

Each entry carries:
  - Timestamp (RFC 3339 with nanoseconds)
  - Level (DEBUG, INFO, WARN, ERROR)
  - Component name (gateway, rate-limiter, audit-queue, analyzer-client)
  - Service and container name (SERVICE_NAME env and the hostname)
  - Request ID, correlating the line with the request's X-Request-Id
  - Custom fields

# Usage

Create a logger per component:

	log := logger.New("rate-limiter")

Log with the request's correlation ID:

	log.Info(requestID, "bucket reset", map[string]interface{}{
	    "tier":       "client",
	    "identifier": fingerprint,
	})

Lines emitted outside any request pass "" as the request ID and the field
is omitted from the JSON.

Log errors together with the HTTP status they produced:

	log.ErrorWithCode(requestID, "content analyzer unreachable", 503, err, nil)

# Privacy

Log lines follow the same rule as audit rows: raw client IPs, user agents,
and API keys never appear in fields. Callers pass fingerprints.
*/
package logger
