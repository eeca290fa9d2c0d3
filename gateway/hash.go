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
	"crypto/sha256"
	"encoding/hex"
)

// Hasher produces salted one-way fingerprints of sensitive strings (client
// IPs, user agents, API keys). Only fingerprints are ever persisted or used
// as rate-limit identifiers; the raw values never leave the request path.
//
// Fingerprints are stable within a deployment (same salt) and deliberately
// not comparable across deployments.
type Hasher struct {
	salt string
}

// NewHasher creates a Hasher with the deployment-wide salt.
func NewHasher(salt string) *Hasher {
	return &Hasher{salt: salt}
}

// Fingerprint returns the 64-hex-char SHA-256 digest of salt+input.
// Empty input returns "" so that absence stays distinguishable from
// presence; callers map "" to NULL when persisting.
func (h *Hasher) Fingerprint(input string) string {
	if input == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(h.salt + input))
	return hex.EncodeToString(sum[:])
}
