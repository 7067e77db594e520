package audit

import (
	"context"
	"fmt"
	"os"

	supabase "github.com/supabase-community/supabase-go"
)

// Table names match the Supabase schema provisioned for the engine.
const (
	tableTelemetry  = "TelemetryData"
	tableTrustScore = "TrustScore"
)

// SupabaseStore writes audit records to Supabase tables.
type SupabaseStore struct {
	client *supabase.Client
}

// NewSupabaseStore creates a Supabase-backed audit sink from the
// SUPABASE_URL and SUPABASE_SERVICE_KEY environment variables.
func NewSupabaseStore() (*SupabaseStore, error) {
	url := os.Getenv("SUPABASE_URL")
	key := os.Getenv("SUPABASE_SERVICE_KEY")

	if url == "" || key == "" {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set")
	}

	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}

	return &SupabaseStore{client: client}, nil
}

// InsertTelemetry persists one ingested telemetry sample.
func (s *SupabaseStore) InsertTelemetry(ctx context.Context, rec *TelemetryRecord) error {
	var result []TelemetryRecord
	_, err := s.client.From(tableTelemetry).
		Insert(rec, false, "", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("insert telemetry: %w", err)
	}
	return nil
}

// InsertTrustScore persists one evaluation outcome.
func (s *SupabaseStore) InsertTrustScore(ctx context.Context, rec *TrustScoreRecord) error {
	var result []TrustScoreRecord
	_, err := s.client.From(tableTrustScore).
		Insert(rec, false, "", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("insert trust score: %w", err)
	}
	return nil
}

// RecentTrustScores returns the most recent evaluation outcomes for a
// session, newest first.
func (s *SupabaseStore) RecentTrustScores(ctx context.Context, sessionID string, limit int) ([]TrustScoreRecord, error) {
	var records []TrustScoreRecord
	_, err := s.client.From(tableTrustScore).
		Select("*", "", false).
		Eq("session_id", sessionID).
		Limit(limit, "").
		ExecuteTo(&records)
	if err != nil {
		return nil, fmt.Errorf("query trust scores: %w", err)
	}
	return records, nil
}

// VerifyTables confirms both audit tables are reachable. Used by the
// verify-tables binary at deploy time.
func (s *SupabaseStore) VerifyTables(ctx context.Context) error {
	for _, table := range []string{tableTelemetry, tableTrustScore} {
		var rows []map[string]interface{}
		_, err := s.client.From(table).
			Select("*", "", false).
			Limit(1, "").
			ExecuteTo(&rows)
		if err != nil {
			return fmt.Errorf("table %s not reachable: %w", table, err)
		}
	}
	return nil
}

// Close is a no-op; the Supabase client holds no pooled connections.
func (s *SupabaseStore) Close() error { return nil }
