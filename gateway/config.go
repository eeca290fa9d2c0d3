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
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// ServiceName identifies the gateway in health responses and log lines.
	ServiceName = "llm-firewall-gateway"
	// ServiceVersion is reported by /health.
	ServiceVersion = "1.0.0"
)

// TierLimit is one rate-limit tier: at most Max requests per WindowSeconds.
type TierLimit struct {
	Max           int `yaml:"max"`
	WindowSeconds int `yaml:"window_seconds"`
}

// AnalyzerConfig configures the gRPC content analyzer client.
type AnalyzerConfig struct {
	Host           string `yaml:"host"`
	Port           string `yaml:"port"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// RateLimitConfig holds the three admission tiers.
type RateLimitConfig struct {
	Global    TierLimit `yaml:"global"`
	PerClient TierLimit `yaml:"per_client"`
	PerAPIKey TierLimit `yaml:"per_api_key"`
}

// AuditConfig controls the audit pipeline.
type AuditConfig struct {
	Async         bool `yaml:"async"`
	RetentionDays int  `yaml:"retention_days"`
}

// SecurityConfig holds content bounds and secrets.
type SecurityConfig struct {
	MinContentLength int    `yaml:"min_content_length"`
	MaxContentLength int    `yaml:"max_content_length"`
	HashSalt         string `yaml:"hash_salt"`
	AdminJWTSecret   string `yaml:"admin_jwt_secret"`
}

// FeatureConfig toggles whole subsystems off. Disabled subsystems are never
// constructed or invoked; requests flow past them.
type FeatureConfig struct {
	AuditLogging    bool `yaml:"audit_logging"`
	RateLimiting    bool `yaml:"rate_limiting"`
	ContentAnalysis bool `yaml:"content_analysis"`
}

// Config is the full gateway configuration. Values resolve in three layers:
// built-in defaults, then the YAML file named by FIREWALL_CONFIG_FILE (if
// any), then environment variables.
type Config struct {
	Host        string          `yaml:"host"`
	Port        string          `yaml:"port"`
	RedisURL    string          `yaml:"redis_url"`
	DatabaseURL string          `yaml:"database_url"`
	Analyzer    AnalyzerConfig  `yaml:"analyzer"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Audit       AuditConfig     `yaml:"audit"`
	Security    SecurityConfig  `yaml:"security"`
	Features    FeatureConfig   `yaml:"features"`
	Models      []string        `yaml:"models"`
}

func defaultConfig() *Config {
	return &Config{
		Host:        "0.0.0.0",
		Port:        "8080",
		RedisURL:    "redis://localhost:6379",
		DatabaseURL: "postgres://localhost:5432/llm_firewall?sslmode=disable",
		Analyzer: AnalyzerConfig{
			Host:           "localhost",
			Port:           "50051",
			TimeoutSeconds: 5,
			MaxRetries:     3,
		},
		RateLimit: RateLimitConfig{
			Global:    TierLimit{Max: 10000, WindowSeconds: 3600},
			PerClient: TierLimit{Max: 100, WindowSeconds: 3600},
			PerAPIKey: TierLimit{Max: 1000, WindowSeconds: 3600},
		},
		Audit: AuditConfig{
			Async:         true,
			RetentionDays: 90,
		},
		Security: SecurityConfig{
			MinContentLength: 1,
			MaxContentLength: 10240,
			HashSalt:         "llm-firewall",
		},
		Features: FeatureConfig{
			AuditLogging:    true,
			RateLimiting:    true,
			ContentAnalysis: true,
		},
		Models: []string{"gpt-3.5-turbo", "gpt-4"},
	}
}

// LoadConfig resolves the gateway configuration from defaults, the optional
// YAML file, and the environment, then validates it.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("FIREWALL_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Host = getEnv("HOST", c.Host)
	c.Port = getEnv("PORT", c.Port)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)

	c.Analyzer.Host = getEnv("ANALYZER_HOST", c.Analyzer.Host)
	c.Analyzer.Port = getEnv("ANALYZER_PORT", c.Analyzer.Port)
	c.Analyzer.TimeoutSeconds = getEnvInt("ANALYZER_TIMEOUT_SECONDS", c.Analyzer.TimeoutSeconds)
	c.Analyzer.MaxRetries = getEnvInt("ANALYZER_MAX_RETRIES", c.Analyzer.MaxRetries)

	c.RateLimit.Global.Max = getEnvInt("RATE_LIMIT_GLOBAL_MAX", c.RateLimit.Global.Max)
	c.RateLimit.Global.WindowSeconds = getEnvInt("RATE_LIMIT_GLOBAL_WINDOW", c.RateLimit.Global.WindowSeconds)
	c.RateLimit.PerClient.Max = getEnvInt("RATE_LIMIT_PER_CLIENT_MAX", c.RateLimit.PerClient.Max)
	c.RateLimit.PerClient.WindowSeconds = getEnvInt("RATE_LIMIT_PER_CLIENT_WINDOW", c.RateLimit.PerClient.WindowSeconds)
	c.RateLimit.PerAPIKey.Max = getEnvInt("RATE_LIMIT_PER_API_KEY_MAX", c.RateLimit.PerAPIKey.Max)
	c.RateLimit.PerAPIKey.WindowSeconds = getEnvInt("RATE_LIMIT_PER_API_KEY_WINDOW", c.RateLimit.PerAPIKey.WindowSeconds)

	c.Audit.Async = getEnvBool("AUDIT_ASYNC", c.Audit.Async)
	c.Audit.RetentionDays = getEnvInt("AUDIT_RETENTION_DAYS", c.Audit.RetentionDays)

	c.Security.MinContentLength = getEnvInt("MIN_CONTENT_LENGTH", c.Security.MinContentLength)
	c.Security.MaxContentLength = getEnvInt("MAX_CONTENT_LENGTH", c.Security.MaxContentLength)
	c.Security.HashSalt = getEnv("HASH_SALT", c.Security.HashSalt)
	c.Security.AdminJWTSecret = getEnv("ADMIN_JWT_SECRET", c.Security.AdminJWTSecret)

	c.Features.AuditLogging = getEnvBool("ENABLE_AUDIT_LOGGING", c.Features.AuditLogging)
	c.Features.RateLimiting = getEnvBool("ENABLE_RATE_LIMITING", c.Features.RateLimiting)
	c.Features.ContentAnalysis = getEnvBool("ENABLE_CONTENT_ANALYSIS", c.Features.ContentAnalysis)

	if models := os.Getenv("GATEWAY_MODELS"); models != "" {
		c.Models = nil
		for _, m := range strings.Split(models, ",") {
			if m = strings.TrimSpace(m); m != "" {
				c.Models = append(c.Models, m)
			}
		}
	}
}

// Validate rejects configurations the gateway cannot safely run with.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("config: port must not be empty")
	}
	if c.Security.MinContentLength < 0 {
		return fmt.Errorf("config: min_content_length must be >= 0, got %d", c.Security.MinContentLength)
	}
	if c.Security.MaxContentLength < c.Security.MinContentLength {
		return fmt.Errorf("config: max_content_length %d is below min_content_length %d",
			c.Security.MaxContentLength, c.Security.MinContentLength)
	}
	if c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("config: audit retention_days must be positive, got %d", c.Audit.RetentionDays)
	}
	for _, tier := range []struct {
		name  string
		limit TierLimit
	}{
		{"global", c.RateLimit.Global},
		{"per_client", c.RateLimit.PerClient},
		{"per_api_key", c.RateLimit.PerAPIKey},
	} {
		if tier.limit.Max <= 0 {
			return fmt.Errorf("config: rate_limit.%s.max must be positive, got %d", tier.name, tier.limit.Max)
		}
		if tier.limit.WindowSeconds <= 0 {
			return fmt.Errorf("config: rate_limit.%s.window_seconds must be positive, got %d", tier.name, tier.limit.WindowSeconds)
		}
	}
	if c.Analyzer.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: analyzer timeout_seconds must be positive, got %d", c.Analyzer.TimeoutSeconds)
	}
	if c.Analyzer.MaxRetries < 0 {
		return fmt.Errorf("config: analyzer max_retries must be >= 0, got %d", c.Analyzer.MaxRetries)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// AnalyzerAddr is the gRPC target for the analyzer.
func (c *Config) AnalyzerAddr() string {
	return c.Analyzer.Host + ":" + c.Analyzer.Port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}
