package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresStore writes audit records directly to PostgreSQL. Used for
// self-hosted deployments that do not go through Supabase.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to PostgreSQL and ensures the audit tables
// exist.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.ensureTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS telemetry_data (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			event_type TEXT NOT NULL DEFAULT '',
			features JSONB NOT NULL DEFAULT '{}',
			observed_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS trust_score (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			adaptive_score DOUBLE PRECISION NOT NULL,
			threat_category TEXT NOT NULL,
			risk_level INT NOT NULL,
			mfa_level TEXT NOT NULL,
			access_granted BOOLEAN NOT NULL,
			reasoning JSONB NOT NULL DEFAULT '[]',
			evaluated_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_session ON telemetry_data(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trust_score_session ON trust_score(session_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create audit tables: %w", err)
		}
	}
	return nil
}

// InsertTelemetry persists one ingested telemetry sample.
func (s *PostgresStore) InsertTelemetry(ctx context.Context, rec *TelemetryRecord) error {
	features, err := json.Marshal(rec.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO telemetry_data (session_id, subject_id, event_type, features, observed_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.SessionID, rec.SubjectID, rec.EventType, features, rec.ObservedAt)
	if err != nil {
		return fmt.Errorf("insert telemetry: %w", err)
	}
	return nil
}

// InsertTrustScore persists one evaluation outcome.
func (s *PostgresStore) InsertTrustScore(ctx context.Context, rec *TrustScoreRecord) error {
	reasoning, err := json.Marshal(rec.Reasoning)
	if err != nil {
		return fmt.Errorf("marshal reasoning: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trust_score (session_id, subject_id, score, adaptive_score,
			threat_category, risk_level, mfa_level, access_granted, reasoning, evaluated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.SessionID, rec.SubjectID, rec.Score, rec.AdaptiveScore,
		rec.ThreatCategory, rec.RiskLevel, rec.MfaLevel, rec.AccessGranted,
		reasoning, rec.EvaluatedAt)
	if err != nil {
		return fmt.Errorf("insert trust score: %w", err)
	}
	return nil
}

// RecentTrustScores returns the most recent evaluation outcomes for a
// session, newest first.
func (s *PostgresStore) RecentTrustScores(ctx context.Context, sessionID string, limit int) ([]TrustScoreRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, subject_id, score, adaptive_score, threat_category,
			risk_level, mfa_level, access_granted, reasoning, evaluated_at
		 FROM trust_score WHERE session_id = $1
		 ORDER BY evaluated_at DESC LIMIT $2`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query trust scores: %w", err)
	}
	defer rows.Close()

	var records []TrustScoreRecord
	for rows.Next() {
		var rec TrustScoreRecord
		var reasoning []byte
		var evaluatedAt time.Time
		if err := rows.Scan(&rec.SessionID, &rec.SubjectID, &rec.Score, &rec.AdaptiveScore,
			&rec.ThreatCategory, &rec.RiskLevel, &rec.MfaLevel, &rec.AccessGranted,
			&reasoning, &evaluatedAt); err != nil {
			return nil, fmt.Errorf("scan trust score: %w", err)
		}
		if err := json.Unmarshal(reasoning, &rec.Reasoning); err != nil {
			return nil, fmt.Errorf("unmarshal reasoning: %w", err)
		}
		rec.EvaluatedAt = evaluatedAt
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }
