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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Block reasons recorded on audit entries.
const (
	BlockReasonRateLimit     = "rate-limit"
	BlockReasonContentPolicy = "content-policy-violation"
)

// AuditEntry is one append-only audit row. Every identifier in it is a
// salted fingerprint; raw IPs, user agents, and API keys never reach this
// struct (see Hasher).
type AuditEntry struct {
	ID                  int64                  `json:"id"`
	RequestID           string                 `json:"request_id"`
	Timestamp           time.Time              `json:"timestamp"`
	Method              string                 `json:"method"`
	Path                string                 `json:"path"`
	ClientIPHash        string                 `json:"client_ip_hash"`
	UserAgentHash       string                 `json:"user_agent_hash,omitempty"`
	APIKeyHash          string                 `json:"api_key_hash,omitempty"`
	RequestSize         int                    `json:"request_size"`
	ResponseStatus      int                    `json:"response_status"`
	ResponseSize        int                    `json:"response_size"`
	LatencyMs           int64                  `json:"latency_ms"`
	IsBlocked           bool                   `json:"is_blocked"`
	BlockReason         string                 `json:"block_reason,omitempty"`
	DetectedIssuesCount int                    `json:"detected_issues_count"`
	SecurityConfidence  *float64               `json:"security_confidence,omitempty"`
	LLMProvider         string                 `json:"llm_provider,omitempty"`
	LLMModel            string                 `json:"llm_model,omitempty"`
	Metadata            map[string]interface{} `json:"metadata,omitempty"`
	RetentionUntil      time.Time              `json:"retention_until"`
}

// AuditFilter narrows a Query call. Zero values mean "no constraint";
// Blocked and Status use pointers so false and 0 stay expressible.
type AuditFilter struct {
	From         time.Time
	To           time.Time
	ClientIPHash string
	Blocked      *bool
	Status       *int
	Limit        int
	Offset       int
}

// AuditStats summarizes a time range in one round-trip.
type AuditStats struct {
	TotalRequests   int64            `json:"total_requests"`
	BlockedRequests int64            `json:"blocked_requests"`
	BlockRate       float64          `json:"block_rate"`
	AvgLatencyMs    float64          `json:"avg_latency_ms"`
	UniqueClients   int64            `json:"unique_clients"`
	StatusCounts    map[string]int64 `json:"status_counts"`
}

// Query results are capped even when the caller asks for more.
const (
	auditQueryDefaultLimit = 100
	auditQueryMaxLimit     = 1000
)

// auditSchema bootstraps the audit table, its indexes, and the stats
// routine. Everything is IF NOT EXISTS so startup is idempotent. The status
// counts inside get_audit_stats come from an independent aggregate, so the
// totals are never multiplied by the number of status buckets.
const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_logs (
	id BIGSERIAL PRIMARY KEY,
	request_id TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	method TEXT,
	path TEXT,
	client_ip_hash TEXT,
	user_agent_hash TEXT,
	api_key_hash TEXT,
	request_size INTEGER,
	response_status INTEGER CHECK (response_status >= 100 AND response_status < 600),
	response_size INTEGER,
	latency_ms INTEGER,
	is_blocked BOOLEAN NOT NULL DEFAULT FALSE,
	block_reason TEXT,
	detected_issues_count INTEGER NOT NULL DEFAULT 0,
	security_confidence REAL CHECK (security_confidence IS NULL OR (security_confidence >= 0 AND security_confidence <= 1)),
	llm_provider TEXT,
	llm_model TEXT,
	metadata JSONB,
	retention_until TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_logs_client_ip_hash ON audit_logs(client_ip_hash);
CREATE INDEX IF NOT EXISTS idx_audit_logs_is_blocked ON audit_logs(is_blocked) WHERE is_blocked;
CREATE INDEX IF NOT EXISTS idx_audit_logs_response_status ON audit_logs(response_status);
CREATE INDEX IF NOT EXISTS idx_audit_logs_retention_until ON audit_logs(retention_until);
CREATE INDEX IF NOT EXISTS idx_audit_logs_api_key_hash ON audit_logs(api_key_hash) WHERE api_key_hash IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_audit_logs_metadata ON audit_logs USING GIN (metadata);

CREATE OR REPLACE FUNCTION get_audit_stats(from_ts TIMESTAMPTZ, to_ts TIMESTAMPTZ)
RETURNS TABLE (
	total_requests BIGINT,
	blocked_requests BIGINT,
	block_rate DOUBLE PRECISION,
	avg_latency_ms DOUBLE PRECISION,
	unique_clients BIGINT,
	status_counts JSONB
) AS $$
	SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE is_blocked),
		CASE WHEN COUNT(*) = 0 THEN 0
		     ELSE COUNT(*) FILTER (WHERE is_blocked)::DOUBLE PRECISION / COUNT(*) END,
		COALESCE(AVG(latency_ms), 0),
		COUNT(DISTINCT client_ip_hash),
		COALESCE((
			SELECT jsonb_object_agg(response_status::TEXT, cnt)
			FROM (
				SELECT response_status, COUNT(*) AS cnt
				FROM audit_logs
				WHERE timestamp >= from_ts AND timestamp <= to_ts
				GROUP BY response_status
			) s
		), '{}'::JSONB)
	FROM audit_logs
	WHERE timestamp >= from_ts AND timestamp <= to_ts
$$ LANGUAGE SQL STABLE;
`

// AuditStore is the Postgres client behind the audit pipeline. It owns the
// connection pool (max 20 conns, 30s idle reap) and every audit_logs row.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore connects to Postgres, verifies the connection, and
// bootstraps the schema.
func NewAuditStore(databaseURL string) (*AuditStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("audit store: open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(30 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit store: ping: %w", err)
	}

	s := &AuditStore{db: db}
	if err := s.bootstrap(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewAuditStoreFromDB wraps an existing pool without bootstrapping the
// schema. Tests use it with sqlmock.
func NewAuditStoreFromDB(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) bootstrap(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("audit store: bootstrap schema: %w", err)
	}
	return nil
}

// Insert appends one entry and returns its assigned id. A single statement,
// atomic; the pool's 5s acquisition ceiling bounds the wait for a
// connection.
func (s *AuditStore) Insert(ctx context.Context, entry *AuditEntry) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var metadata interface{}
	if len(entry.Metadata) > 0 {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return 0, fmt.Errorf("audit store: marshal metadata: %w", err)
		}
		metadata = data
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO audit_logs (
			request_id, timestamp, method, path,
			client_ip_hash, user_agent_hash, api_key_hash,
			request_size, response_status, response_size, latency_ms,
			is_blocked, block_reason, detected_issues_count, security_confidence,
			llm_provider, llm_model, metadata, retention_until
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id`,
		entry.RequestID,
		entry.Timestamp,
		entry.Method,
		entry.Path,
		nullString(entry.ClientIPHash),
		nullString(entry.UserAgentHash),
		nullString(entry.APIKeyHash),
		entry.RequestSize,
		entry.ResponseStatus,
		entry.ResponseSize,
		entry.LatencyMs,
		entry.IsBlocked,
		nullString(entry.BlockReason),
		entry.DetectedIssuesCount,
		nullFloat(entry.SecurityConfidence),
		nullString(entry.LLMProvider),
		nullString(entry.LLMModel),
		metadata,
		entry.RetentionUntil,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("audit store: insert: %w", err)
	}
	return id, nil
}

// Query returns entries matching filter, newest first.
func (s *AuditStore) Query(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	query := `
		SELECT id, request_id, timestamp, method, path,
		       client_ip_hash, user_agent_hash, api_key_hash,
		       request_size, response_status, response_size, latency_ms,
		       is_blocked, block_reason, detected_issues_count, security_confidence,
		       llm_provider, llm_model, metadata, retention_until
		FROM audit_logs
		WHERE 1=1`

	args := []interface{}{}
	argIndex := 1

	if !filter.From.IsZero() {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIndex)
		args = append(args, filter.From)
		argIndex++
	}
	if !filter.To.IsZero() {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIndex)
		args = append(args, filter.To)
		argIndex++
	}
	if filter.ClientIPHash != "" {
		query += fmt.Sprintf(" AND client_ip_hash = $%d", argIndex)
		args = append(args, filter.ClientIPHash)
		argIndex++
	}
	if filter.Blocked != nil {
		query += fmt.Sprintf(" AND is_blocked = $%d", argIndex)
		args = append(args, *filter.Blocked)
		argIndex++
	}
	if filter.Status != nil {
		query += fmt.Sprintf(" AND response_status = $%d", argIndex)
		args = append(args, *filter.Status)
		argIndex++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = auditQueryDefaultLimit
	}
	if limit > auditQueryMaxLimit {
		limit = auditQueryMaxLimit
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", argIndex)
	args = append(args, limit)
	argIndex++
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit store: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("audit store: scan: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit store: rows: %w", err)
	}
	return entries, nil
}

// EraseByCaller hard-deletes every entry for one caller fingerprint and
// reports how many rows went. This is the right-to-erasure path.
func (s *AuditStore) EraseByCaller(ctx context.Context, fingerprint string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_logs WHERE client_ip_hash = $1`, fingerprint)
	if err != nil {
		return 0, fmt.Errorf("audit store: erase by caller: %w", err)
	}
	return res.RowsAffected()
}

// SweepExpired hard-deletes every entry whose retention window has passed.
// Idempotent: a second sweep with no new expiries removes nothing.
func (s *AuditStore) SweepExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_logs WHERE retention_until < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("audit store: sweep expired: %w", err)
	}
	return res.RowsAffected()
}

// Stats aggregates the range with the stored routine, one round-trip.
func (s *AuditStore) Stats(ctx context.Context, from, to time.Time) (*AuditStats, error) {
	stats := &AuditStats{}
	var statusCounts []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT * FROM get_audit_stats($1, $2)`, from, to).Scan(
		&stats.TotalRequests,
		&stats.BlockedRequests,
		&stats.BlockRate,
		&stats.AvgLatencyMs,
		&stats.UniqueClients,
		&statusCounts,
	)
	if err != nil {
		return nil, fmt.Errorf("audit store: stats: %w", err)
	}

	stats.StatusCounts = map[string]int64{}
	if len(statusCounts) > 0 {
		if err := json.Unmarshal(statusCounts, &stats.StatusCounts); err != nil {
			return nil, fmt.Errorf("audit store: parse status counts: %w", err)
		}
	}
	return stats, nil
}

// Healthy reports whether the pool answers a ping within one second.
func (s *AuditStore) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return s.db.PingContext(ctx) == nil
}

// Close releases the pool.
func (s *AuditStore) Close() error {
	return s.db.Close()
}

func scanAuditEntry(rows *sql.Rows) (*AuditEntry, error) {
	entry := &AuditEntry{}
	var (
		clientIPHash, userAgentHash, apiKeyHash sql.NullString
		blockReason, llmProvider, llmModel      sql.NullString
		confidence                              sql.NullFloat64
		metadata                                []byte
	)
	err := rows.Scan(
		&entry.ID,
		&entry.RequestID,
		&entry.Timestamp,
		&entry.Method,
		&entry.Path,
		&clientIPHash,
		&userAgentHash,
		&apiKeyHash,
		&entry.RequestSize,
		&entry.ResponseStatus,
		&entry.ResponseSize,
		&entry.LatencyMs,
		&entry.IsBlocked,
		&blockReason,
		&entry.DetectedIssuesCount,
		&confidence,
		&llmProvider,
		&llmModel,
		&metadata,
		&entry.RetentionUntil,
	)
	if err != nil {
		return nil, err
	}

	entry.ClientIPHash = clientIPHash.String
	entry.UserAgentHash = userAgentHash.String
	entry.APIKeyHash = apiKeyHash.String
	entry.BlockReason = blockReason.String
	entry.LLMProvider = llmProvider.String
	entry.LLMModel = llmModel.String
	if confidence.Valid {
		c := confidence.Float64
		entry.SecurityConfidence = &c
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &entry.Metadata)
	}
	return entry, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
