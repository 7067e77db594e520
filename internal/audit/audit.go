// Package audit persists the engine's decision trail. Every evaluated
// telemetry sample and every resolved trust score can be written through to
// a durable sink so security teams can reconstruct why a session was
// challenged or blocked. Writes are best-effort: a sink outage degrades
// auditability, never availability of the decision path.
package audit

import (
	"context"
	"time"
)

// TelemetryRecord is the persisted form of one ingested telemetry sample.
type TelemetryRecord struct {
	SessionID  string             `json:"session_id"`
	SubjectID  string             `json:"subject_id"`
	EventType  string             `json:"event_type,omitempty"`
	Features   map[string]float64 `json:"features"`
	ObservedAt time.Time          `json:"observed_at"`
	CreatedAt  string             `json:"created_at,omitempty"`
}

// TrustScoreRecord is the persisted outcome of one evaluation: the score,
// the classification that produced it, and the resolved MFA decision.
type TrustScoreRecord struct {
	SessionID      string   `json:"session_id"`
	SubjectID      string   `json:"subject_id"`
	Score          float64  `json:"score"`
	AdaptiveScore  float64  `json:"adaptive_score"`
	ThreatCategory string   `json:"threat_category"`
	RiskLevel      int      `json:"risk_level"`
	MfaLevel       string   `json:"mfa_level"`
	AccessGranted  bool     `json:"access_granted"`
	Reasoning      []string `json:"reasoning"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
	CreatedAt      string   `json:"created_at,omitempty"`
}

// Store is a durable audit sink.
type Store interface {
	// InsertTelemetry persists one ingested telemetry sample.
	InsertTelemetry(ctx context.Context, rec *TelemetryRecord) error

	// InsertTrustScore persists one evaluation outcome.
	InsertTrustScore(ctx context.Context, rec *TrustScoreRecord) error

	// Close releases sink resources.
	Close() error
}

// NoopStore discards all records. Used when no audit sink is configured
// and in tests.
type NoopStore struct{}

func (NoopStore) InsertTelemetry(ctx context.Context, rec *TelemetryRecord) error   { return nil }
func (NoopStore) InsertTrustScore(ctx context.Context, rec *TrustScoreRecord) error { return nil }
func (NoopStore) Close() error                                                      { return nil }
