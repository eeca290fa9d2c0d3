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

// Package gateway is the LLM security gateway: a reverse proxy that stands
// between untrusted callers and a chat-completion upstream, enforces
// three-tier rate limiting, asks a remote analyzer for a verdict on every
// request, and leaves a privacy-preserving audit trail in Postgres.
//
// Every service the pipeline depends on (hasher, rate limiter, analyzer
// client, audit store, audit queue) is constructed exactly once in NewApp
// and injected into the handlers; there are no package-level service
// singletons.
package gateway

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"llmfirewall/platform/gateway/analyzer"
	"llmfirewall/platform/shared/logger"
)

// shutdownCeiling bounds the whole shutdown ladder.
const shutdownCeiling = 10 * time.Second

// contentAnalyzer is the slice of the analyzer client the pipeline uses.
// Tests substitute scripted verdicts.
type contentAnalyzer interface {
	CheckContent(ctx context.Context, content, requestID string, metadata map[string]string) (*analyzer.Verdict, error)
	HealthCheck(ctx context.Context) (*analyzer.Health, error)
	Close() error
}

// App is the assembled gateway. Fields left nil correspond to feature
// toggles that are off; the pipeline flows past them.
type App struct {
	cfg    *Config
	log    *logger.Logger
	hasher *Hasher

	rlStore    *RateLimitStore
	limiter    *RateLimiter
	auditStore *AuditStore
	auditQueue *AuditQueue
	analyzer   contentAnalyzer

	router    *mux.Router
	server    *http.Server
	startTime time.Time
}

// NewApp constructs every enabled service and wires the router. This is the
// single construction site; nothing here starts goroutines (Run does that).
func NewApp(cfg *Config) (*App, error) {
	a := &App{
		cfg:       cfg,
		log:       logger.New("gateway"),
		hasher:    NewHasher(cfg.Security.HashSalt),
		startTime: time.Now(),
	}

	if cfg.Features.RateLimiting {
		store, err := NewRateLimitStore(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.rlStore = store
		a.limiter = NewRateLimiter(store, cfg.RateLimit)
	}

	if cfg.Features.AuditLogging {
		store, err := NewAuditStore(cfg.DatabaseURL)
		if err != nil {
			a.closeServices()
			return nil, err
		}
		a.auditStore = store
		a.auditQueue = NewAuditQueue(store, cfg.Audit.Async, cfg.Audit.RetentionDays)
	}

	if cfg.Features.ContentAnalysis {
		client, err := analyzer.NewClient(analyzer.Config{
			Target:     cfg.AnalyzerAddr(),
			Timeout:    time.Duration(cfg.Analyzer.TimeoutSeconds) * time.Second,
			MaxRetries: cfg.Analyzer.MaxRetries,
		})
		if err != nil {
			a.closeServices()
			return nil, err
		}
		a.analyzer = client
	}

	a.router = a.buildRouter()
	return a, nil
}

func (a *App) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(notFoundHandler)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	r.HandleFunc("/health", a.handleHealth).Methods("GET")
	r.HandleFunc("/ready", a.handleReady).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/chat/completions", a.handleChatCompletions).Methods("POST")
	v1.HandleFunc("/models", a.handleModels).Methods("GET")

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(a.requireAdmin)
	admin.HandleFunc("/audit-logs", a.handleAuditLogs).Methods("GET")
	admin.HandleFunc("/audit-stats", a.handleAuditStats).Methods("GET")
	admin.HandleFunc("/audit-logs/client/{fingerprint}", a.handleAuditErase).Methods("DELETE")
	admin.HandleFunc("/audit-logs/cleanup", a.handleAuditCleanup).Methods("POST")
	admin.HandleFunc("/rate-limits/{tier}/{identifier}", a.handleRateLimitStatus).Methods("GET")
	admin.HandleFunc("/rate-limits/{tier}/{identifier}", a.handleRateLimitReset).Methods("DELETE")

	return r
}

// Handler is the full middleware chain: CORS outermost, then the request
// lifecycle (IDs, fingerprints, metrics, audit), then the router. The
// lifecycle wraps the router from outside so 404s get headers and audit
// rows too.
func (a *App) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
	})
	return c.Handler(a.lifecycle(a.router))
}

// Serve starts the HTTP server and the audit drainer, then blocks until a
// termination signal arrives and the shutdown ladder completes. Returns the
// process exit code.
func (a *App) Serve() int {
	if a.auditQueue != nil {
		a.auditQueue.Start()
	}

	a.server = &http.Server{
		Addr:         a.cfg.Addr(),
		Handler:      a.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🚀 %s v%s listening on %s", ServiceName, ServiceVersion, a.cfg.Addr())
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
	case err := <-errCh:
		log.Printf("server failed: %v", err)
		a.closeServices()
		return 1
	}

	if err := a.Shutdown(); err != nil {
		log.Printf("shutdown incomplete: %v", err)
		return 1
	}
	log.Printf("shutdown complete")
	return 0
}

// Shutdown runs the ordered drain under one ceiling: stop accepting, drain
// in-flight requests, flush the audit queue, close the analyzer channel and
// both stores. An expired ceiling surfaces as an error so Serve can exit 1.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownCeiling)
	defer cancel()

	var failed error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			failed = fmt.Errorf("drain in-flight requests: %w", err)
		}
	}

	if a.auditQueue != nil {
		a.auditQueue.Shutdown(ctx)
	}

	a.closeServices()

	if failed == nil && ctx.Err() != nil {
		failed = fmt.Errorf("shutdown ceiling reached: %w", ctx.Err())
	}
	return failed
}

func (a *App) closeServices() {
	if a.analyzer != nil {
		if err := a.analyzer.Close(); err != nil {
			log.Printf("closing analyzer channel: %v", err)
		}
	}
	if a.auditStore != nil {
		if err := a.auditStore.Close(); err != nil {
			log.Printf("closing audit store: %v", err)
		}
	}
	if a.rlStore != nil {
		if err := a.rlStore.Close(); err != nil {
			log.Printf("closing rate limit store: %v", err)
		}
	}
}

// Run loads configuration, assembles the gateway, and serves until
// terminated. This is the whole of func main.
func Run() int {
	cfg, err := LoadConfig()
	if err != nil {
		log.Printf("configuration error: %v", err)
		return 1
	}

	app, err := NewApp(cfg)
	if err != nil {
		log.Printf("startup error: %v", err)
		return 1
	}
	return app.Serve()
}
