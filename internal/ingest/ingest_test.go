package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustengine/backend/internal/features"
)

func TestSyntheticSampleCoversAllFeatures(t *testing.T) {
	src := NewSeededSource(1)

	sample := src.Sample("sess-1", "user-1")
	assert.Equal(t, "sess-1", sample.SessionID)
	assert.Equal(t, "user-1", sample.SubjectID)
	assert.Contains(t, eventTypes, sample.EventType)

	require.Len(t, sample.Fields, len(features.CanonicalNames))
	for name, v := range sample.Fields {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.Less(t, v, 100.0, name)
	}
}

func TestSyntheticSourceIsDeterministicForSeed(t *testing.T) {
	a := NewSeededSource(42).Sample("s", "u")
	b := NewSeededSource(42).Sample("s", "u")
	assert.Equal(t, a.Fields, b.Fields)
	assert.Equal(t, a.EventType, b.EventType)
}

func TestSyntheticBatchUsesDistinctSessions(t *testing.T) {
	samples := NewSeededSource(7).Batch(5)
	require.Len(t, samples, 5)

	seen := make(map[string]bool)
	for _, s := range samples {
		assert.False(t, seen[s.SessionID], "duplicate session %s", s.SessionID)
		seen[s.SessionID] = true
	}
}

func TestAlertsGeneratedFromCatalog(t *testing.T) {
	src := NewSeededAlertSource(3)

	alerts := src.Alerts("", 10)
	require.Len(t, alerts, 10)

	for _, a := range alerts {
		assert.Equal(t, "001", a.AgentID)
		assert.NotEmpty(t, a.ID)
		assert.NotEmpty(t, a.Description)
		assert.NotEmpty(t, a.FullLog)
		assert.Positive(t, a.RuleLevel)
	}

	// IDs are unique and monotonic within a source.
	assert.NotEqual(t, alerts[0].ID, alerts[1].ID)
}

func TestToTelemetryShape(t *testing.T) {
	src := NewSeededAlertSource(9)
	alerts := src.Alerts("007", 1)

	sample := src.ToTelemetry(alerts[0])
	assert.Equal(t, "siem_"+alerts[0].ID, sample.SessionID)
	assert.Equal(t, "agent_007", sample.SubjectID)
	assert.Len(t, sample.Fields, len(features.CanonicalNames))
	assert.Equal(t, alerts[0].Timestamp, sample.ObservedAt)
}

func TestToTelemetryEmitsOnlyCanonicalFeatures(t *testing.T) {
	src := NewSeededAlertSource(17)
	n := features.Default()

	for _, alert := range src.Alerts("001", 20) {
		sample := src.ToTelemetry(alert)
		_, matched := n.Normalize(sample.Fields)
		// Every emitted field must survive normalization; a stray name
		// would be silently dropped and matched would fall short.
		assert.Equal(t, len(sample.Fields), matched, "alert %s", alert.ID)
	}
}

func TestToTelemetryFlagsTrackRuleLevel(t *testing.T) {
	src := NewSeededAlertSource(11)

	high := src.ToTelemetry(Alert{ID: "1", AgentID: "001", RuleLevel: 8, FullLog: "sudo: authentication failure"})
	assert.Equal(t, 1.0, high.Fields["SYN Flag Count"])
	assert.Equal(t, 1.0, high.Fields["RST Flag Count"])

	low := src.ToTelemetry(Alert{ID: "2", AgentID: "001", RuleLevel: 3, FullLog: "kernel: Out of memory"})
	assert.Equal(t, 0.0, low.Fields["SYN Flag Count"])
	assert.Equal(t, 0.0, low.Fields["RST Flag Count"])
}

func TestToTelemetryLoginFailureMapsEventType(t *testing.T) {
	src := NewSeededAlertSource(13)

	ssh := src.ToTelemetry(Alert{ID: "3", AgentID: "001", RuleLevel: 5,
		FullLog: "sshd[1234]: Failed password for user admin from 192.168.1.50"})
	assert.Equal(t, "login_failed", ssh.EventType)
	assert.Equal(t, 1.0, ssh.Fields["PSH Flag Count"])

	oom := src.ToTelemetry(Alert{ID: "4", AgentID: "001", RuleLevel: 3,
		FullLog: "kernel: Out of memory: Kill process"})
	assert.Equal(t, "siem_alert", oom.EventType)
}

func TestAlertCatalogCoversDistinctRules(t *testing.T) {
	rules := make(map[string]bool)
	for _, tmpl := range alertCatalog {
		assert.False(t, rules[tmpl.ruleID], "duplicate rule %s", tmpl.ruleID)
		rules[tmpl.ruleID] = true
		assert.True(t, strings.HasPrefix(tmpl.ruleID, "1000"))
	}
	assert.Len(t, rules, 6)
}
