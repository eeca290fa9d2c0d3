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
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("default port = %s, want 8080", cfg.Port)
	}
	if cfg.RateLimit.Global.Max != 10000 || cfg.RateLimit.Global.WindowSeconds != 3600 {
		t.Errorf("default global tier = %+v, want 10000/3600", cfg.RateLimit.Global)
	}
	if cfg.RateLimit.PerClient.Max != 100 {
		t.Errorf("default per-client max = %d, want 100", cfg.RateLimit.PerClient.Max)
	}
	if cfg.RateLimit.PerAPIKey.Max != 1000 {
		t.Errorf("default per-api-key max = %d, want 1000", cfg.RateLimit.PerAPIKey.Max)
	}
	if !cfg.Audit.Async || cfg.Audit.RetentionDays != 90 {
		t.Errorf("default audit = %+v, want async/90 days", cfg.Audit)
	}
	if cfg.Security.MinContentLength != 1 || cfg.Security.MaxContentLength != 10240 {
		t.Errorf("default content bounds = %+v, want 1..10240", cfg.Security)
	}
	if !cfg.Features.AuditLogging || !cfg.Features.RateLimiting || !cfg.Features.ContentAnalysis {
		t.Errorf("default features = %+v, want all enabled", cfg.Features)
	}
	if cfg.AnalyzerAddr() != "localhost:50051" {
		t.Errorf("default analyzer addr = %s, want localhost:50051", cfg.AnalyzerAddr())
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RATE_LIMIT_GLOBAL_MAX", "25")
	t.Setenv("AUDIT_ASYNC", "false")
	t.Setenv("ENABLE_CONTENT_ANALYSIS", "false")
	t.Setenv("GATEWAY_MODELS", "gpt-4o, claude-3-haiku ,")
	t.Setenv("HASH_SALT", "env-salt")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("port = %s, want 9090", cfg.Port)
	}
	if cfg.RateLimit.Global.Max != 25 {
		t.Errorf("global max = %d, want 25", cfg.RateLimit.Global.Max)
	}
	if cfg.Audit.Async {
		t.Error("audit.async should be overridden to false")
	}
	if cfg.Features.ContentAnalysis {
		t.Error("content analysis should be toggled off")
	}
	if len(cfg.Models) != 2 || cfg.Models[0] != "gpt-4o" || cfg.Models[1] != "claude-3-haiku" {
		t.Errorf("models = %v, want [gpt-4o claude-3-haiku]", cfg.Models)
	}
	if cfg.Security.HashSalt != "env-salt" {
		t.Errorf("hash salt = %s, want env-salt", cfg.Security.HashSalt)
	}
}

func TestLoadConfigYAMLFileWithEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "firewall.yaml")
	yaml := `
port: "7070"
redis_url: redis://redis.internal:6379
rate_limit:
  per_client:
    max: 42
    window_seconds: 60
security:
  hash_salt: file-salt
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("FIREWALL_CONFIG_FILE", path)
	t.Setenv("PORT", "6060") // env beats file

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Port != "6060" {
		t.Errorf("port = %s, want env override 6060", cfg.Port)
	}
	if cfg.RedisURL != "redis://redis.internal:6379" {
		t.Errorf("redis url = %s, want file value", cfg.RedisURL)
	}
	if cfg.RateLimit.PerClient.Max != 42 || cfg.RateLimit.PerClient.WindowSeconds != 60 {
		t.Errorf("per-client tier = %+v, want 42/60", cfg.RateLimit.PerClient)
	}
	if cfg.Security.HashSalt != "file-salt" {
		t.Errorf("hash salt = %s, want file-salt", cfg.Security.HashSalt)
	}
	// Values the file does not mention keep their defaults.
	if cfg.RateLimit.Global.Max != 10000 {
		t.Errorf("global max = %d, want default 10000", cfg.RateLimit.Global.Max)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		errContains string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:        "empty port",
			mutate:      func(c *Config) { c.Port = "" },
			errContains: "port",
		},
		{
			name:        "max below min content length",
			mutate:      func(c *Config) { c.Security.MaxContentLength = 0 },
			errContains: "max_content_length",
		},
		{
			name:        "zero retention",
			mutate:      func(c *Config) { c.Audit.RetentionDays = 0 },
			errContains: "retention_days",
		},
		{
			name:        "zero tier max",
			mutate:      func(c *Config) { c.RateLimit.PerClient.Max = 0 },
			errContains: "rate_limit.per_client.max",
		},
		{
			name:        "zero tier window",
			mutate:      func(c *Config) { c.RateLimit.Global.WindowSeconds = 0 },
			errContains: "rate_limit.global.window_seconds",
		},
		{
			name:        "zero analyzer timeout",
			mutate:      func(c *Config) { c.Analyzer.TimeoutSeconds = 0 },
			errContains: "timeout_seconds",
		},
		{
			name:        "negative analyzer retries",
			mutate:      func(c *Config) { c.Analyzer.MaxRetries = -1 },
			errContains: "max_retries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errContains == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.errContains)
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.errContains)
			}
		})
	}
}
