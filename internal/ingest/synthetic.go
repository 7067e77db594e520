// Package ingest produces telemetry samples from sources other than live
// clients: a synthetic generator for load and soak testing, and a simulated
// SIEM feed that replays realistic security alerts through the pipeline.
package ingest

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/trustengine/backend/internal/core"
	"github.com/trustengine/backend/internal/features"
)

// eventTypes are the client event kinds the synthetic source cycles through.
var eventTypes = []string{
	"login_attempt",
	"login_failed",
	"api_call",
	"file_access",
	"privilege_change",
	"data_export",
}

// SyntheticSource generates random telemetry samples over the full canonical
// feature set. Deterministic for a fixed seed.
type SyntheticSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSyntheticSource creates a generator seeded from the clock.
func NewSyntheticSource() *SyntheticSource {
	return NewSeededSource(time.Now().UnixNano())
}

// NewSeededSource creates a generator with a fixed seed for reproducible
// runs.
func NewSeededSource(seed int64) *SyntheticSource {
	return &SyntheticSource{rng: rand.New(rand.NewSource(seed))}
}

// Sample produces one random telemetry sample for the given session. Every
// canonical feature is populated with a value in [0, 100).
func (s *SyntheticSource) Sample(sessionID, subjectID string) core.TelemetrySample {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields := make(map[string]float64, len(features.CanonicalNames))
	for _, name := range features.CanonicalNames {
		fields[name] = s.rng.Float64() * 100
	}

	return core.TelemetrySample{
		SessionID:  sessionID,
		SubjectID:  subjectID,
		EventType:  eventTypes[s.rng.Intn(len(eventTypes))],
		ObservedAt: time.Now().UTC(),
		Fields:     fields,
	}
}

// Batch produces n samples across distinct synthetic sessions.
func (s *SyntheticSource) Batch(n int) []core.TelemetrySample {
	samples := make([]core.TelemetrySample, 0, n)
	for i := 0; i < n; i++ {
		samples = append(samples, s.Sample(
			fmt.Sprintf("synthetic_session_%03d", i),
			fmt.Sprintf("synthetic_user_%03d", i),
		))
	}
	return samples
}
