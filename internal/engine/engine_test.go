package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustengine/backend/internal/audit"
	"github.com/trustengine/backend/internal/core"
	"github.com/trustengine/backend/internal/events"
	"github.com/trustengine/backend/internal/features"
	"github.com/trustengine/backend/internal/metrics"
	"github.com/trustengine/backend/internal/mfa"
)

// uniformFields fills every canonical feature with the same value so the
// classifier's mean/max inputs are exact.
func uniformFields(v float64) map[string]float64 {
	fields := make(map[string]float64, len(features.CanonicalNames))
	for _, name := range features.CanonicalNames {
		fields[name] = v
	}
	return fields
}

func sample(sessionID string, fields map[string]float64, eventType string) core.TelemetrySample {
	return core.TelemetrySample{
		SessionID:  sessionID,
		SubjectID:  "user-1",
		EventType:  eventType,
		ObservedAt: time.Now().UTC(),
		Fields:     fields,
	}
}

func TestEvaluateHighActivityBlocksSession(t *testing.T) {
	e := New(Options{})

	req, err := e.Evaluate(context.Background(), sample("s-dos", uniformFields(85), "api_call"))
	require.NoError(t, err)

	assert.Equal(t, core.CategoryDenialOfService, req.Category)
	assert.Equal(t, 5, req.RiskLevel)
	assert.InDelta(t, 25.0, req.TrustScore, 0.001)
	assert.InDelta(t, 0.0, req.AdaptiveScore, 0.001)
	assert.Equal(t, core.LevelBlocked, req.Level)
	assert.False(t, req.AccessGranted)

	_, err = e.IssueChallenge(context.Background(), "s-dos")
	assert.ErrorIs(t, err, core.ErrAccessBlocked)
}

func TestEvaluateLoginFailedRequiresOTP(t *testing.T) {
	e := New(Options{})

	req, err := e.Evaluate(context.Background(), sample("s-spoof", uniformFields(20), "login_failed"))
	require.NoError(t, err)

	assert.Equal(t, core.CategorySpoofing, req.Category)
	assert.Equal(t, 3, req.RiskLevel)
	// 100 - 3*15, zero variance, then 55*1.5 - 20 adaptive.
	assert.InDelta(t, 55.0, req.TrustScore, 0.001)
	assert.InDelta(t, 62.5, req.AdaptiveScore, 0.001)
	assert.Equal(t, core.LevelPasswordOTP, req.Level)
	assert.ElementsMatch(t, []core.Factor{core.FactorPassword, core.FactorOTP}, req.RequiredFactors)
}

func TestEvaluateQuietSessionPasswordOnly(t *testing.T) {
	e := New(Options{})

	req, err := e.Evaluate(context.Background(), sample("s-quiet", uniformFields(0.5), "api_call"))
	require.NoError(t, err)

	assert.Equal(t, core.CategoryUnknown, req.Category)
	assert.Equal(t, 1, req.RiskLevel)
	assert.InDelta(t, 85.0, req.TrustScore, 0.001)
	assert.InDelta(t, 85.0, req.AdaptiveScore, 0.001)
	assert.Equal(t, core.LevelPasswordOnly, req.Level)
	assert.True(t, req.AccessGranted)
	assert.NotEmpty(t, req.Reasoning)
}

func TestEvaluateUnmatchedFeaturesUseCategoryWeights(t *testing.T) {
	e := New(Options{})

	// No canonical feature names, so the scorer takes the degraded path:
	// 100 - 3*15*1.5 = 32.5, then 32.5*1.5 - 20 = 28.75 adaptive.
	fields := map[string]float64{"custom_signal": 42, "vendor_metric": 7}
	req, err := e.Evaluate(context.Background(), sample("s-custom", fields, "login_failed"))
	require.NoError(t, err)

	assert.Equal(t, core.CategorySpoofing, req.Category)
	assert.InDelta(t, 32.5, req.TrustScore, 0.001)
	assert.InDelta(t, 28.75, req.AdaptiveScore, 0.001)
	assert.Equal(t, core.LevelBlocked, req.Level)
}

func TestEvaluateRejectsMalformedSamples(t *testing.T) {
	e := New(Options{})
	ctx := context.Background()

	_, err := e.Evaluate(ctx, core.TelemetrySample{SubjectID: "u", Fields: uniformFields(1)})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = e.Evaluate(ctx, core.TelemetrySample{SessionID: "s", Fields: uniformFields(1)})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = e.Evaluate(ctx, core.TelemetrySample{SessionID: "s", SubjectID: "u"})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestChallengeLifecycleStepUpVerified(t *testing.T) {
	e := New(Options{})
	ctx := context.Background()

	// Mean 65 lands in Information Disclosure: 100-45=55 raw, then
	// 55*1.2 - 20 = 46 adaptive, requiring all three factors.
	req, err := e.Evaluate(ctx, sample("s-step", uniformFields(65), "api_call"))
	require.NoError(t, err)
	require.Equal(t, core.LevelPasswordOTPDevice, req.Level)

	ch, err := e.IssueChallenge(ctx, "s-step")
	require.NoError(t, err)
	assert.NotEmpty(t, ch.ChallengeID)
	assert.Len(t, ch.OTP, 6)
	assert.True(t, ch.DeviceProofRequired)

	res, err := e.Verify(ctx, "s-step", core.SubmittedFactors{
		OTP:               ch.OTP,
		DeviceFingerprint: "device-fp-0123456789",
	})
	require.NoError(t, err)
	assert.True(t, res.AccessGranted)
	assert.Equal(t, core.LevelPasswordOTPDevice, res.Level)

	snap, ok := e.Sessions().Snapshot("s-step")
	require.True(t, ok)
	assert.True(t, snap.Verified)
	assert.Equal(t, core.PhaseVerified, snap.Phase)
}

func TestVerifyWrongOTPConsumesChallenge(t *testing.T) {
	e := New(Options{})
	ctx := context.Background()

	_, err := e.Evaluate(ctx, sample("s-wrong", uniformFields(20), "login_failed"))
	require.NoError(t, err)

	ch, err := e.IssueChallenge(ctx, "s-wrong")
	require.NoError(t, err)

	_, err = e.Verify(ctx, "s-wrong", core.SubmittedFactors{OTP: "000000"})
	assert.ErrorIs(t, err, core.ErrInvalidOTP)

	// Single-use: the correct code no longer works either.
	_, err = e.Verify(ctx, "s-wrong", core.SubmittedFactors{OTP: ch.OTP})
	assert.ErrorIs(t, err, core.ErrNoActiveChallenge)
}

func TestExpiredChallengeCountsAsInvalidated(t *testing.T) {
	m := metrics.New()
	e := New(Options{
		Orchestrator: mfa.NewOrchestrator(10 * time.Millisecond),
		Metrics:      m,
	})
	ctx := context.Background()

	_, err := e.Evaluate(ctx, sample("s-expire", uniformFields(20), "login_failed"))
	require.NoError(t, err)

	ch, err := e.IssueChallenge(ctx, "s-expire")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	_, err = e.Verify(ctx, "s-expire", core.SubmittedFactors{OTP: ch.OTP})
	require.ErrorIs(t, err, core.ErrChallengeExpired)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChallengesInvalidated.WithLabelValues("expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VerificationsTotal.WithLabelValues("expired")))
}

func TestReevaluationSupersedesOutstandingChallenge(t *testing.T) {
	e := New(Options{})
	ctx := context.Background()

	bus := e.bus.(*events.LocalBus)
	var supersededIDs []string
	bus.Subscribe(events.EventChallengeSuperseded, func(_ context.Context, ev *events.Event) {
		supersededIDs = append(supersededIDs, ev.Payload["challenge_id"].(string))
	})

	_, err := e.Evaluate(ctx, sample("s-super", uniformFields(20), "login_failed"))
	require.NoError(t, err)

	ch, err := e.IssueChallenge(ctx, "s-super")
	require.NoError(t, err)

	_, err = e.Evaluate(ctx, sample("s-super", uniformFields(20), "login_failed"))
	require.NoError(t, err)
	assert.Equal(t, []string{ch.ChallengeID}, supersededIDs)

	_, err = e.Verify(ctx, "s-super", core.SubmittedFactors{OTP: ch.OTP})
	assert.ErrorIs(t, err, core.ErrChallengeSuperseded)

	// A fresh challenge for the new requirement proceeds normally.
	ch2, err := e.IssueChallenge(ctx, "s-super")
	require.NoError(t, err)
	res, err := e.Verify(ctx, "s-super", core.SubmittedFactors{OTP: ch2.OTP})
	require.NoError(t, err)
	assert.True(t, res.AccessGranted)
}

func TestIssueChallengeWithoutRequirement(t *testing.T) {
	e := New(Options{})

	_, err := e.IssueChallenge(context.Background(), "never-evaluated")
	assert.ErrorIs(t, err, core.ErrNoRequirement)
}

func TestVerifyWithoutChallenge(t *testing.T) {
	e := New(Options{})
	ctx := context.Background()

	_, err := e.Evaluate(ctx, sample("s-nochal", uniformFields(0.5), "api_call"))
	require.NoError(t, err)

	_, err = e.Verify(ctx, "s-nochal", core.SubmittedFactors{OTP: "123456"})
	assert.ErrorIs(t, err, core.ErrNoActiveChallenge)
}

func TestVerifyProbingDoesNotPinSessions(t *testing.T) {
	e := New(Options{})
	ctx := context.Background()

	// Unauthenticated verify attempts against unknown session IDs must not
	// leave entries the sweeper cannot reclaim.
	for i := 0; i < 100; i++ {
		_, err := e.Verify(ctx, fmt.Sprintf("probe-%d", i), core.SubmittedFactors{OTP: "000000"})
		assert.ErrorIs(t, err, core.ErrNoActiveChallenge)
	}
	require.Equal(t, 100, e.Sessions().Count())

	swept := e.Sessions().Sweep(time.Hour)

	assert.Equal(t, 100, swept)
	assert.Zero(t, e.Sessions().Count())
}

func TestEvaluatePublishesDecisionEvents(t *testing.T) {
	e := New(Options{})
	ctx := context.Background()

	bus := e.bus.(*events.LocalBus)
	var types []events.EventType
	for _, et := range []events.EventType{events.EventTrustScoreComputed, events.EventRequirementResolved} {
		captured := et
		bus.Subscribe(captured, func(_ context.Context, ev *events.Event) {
			types = append(types, ev.Type)
		})
	}

	_, err := e.Evaluate(ctx, sample("s-events", uniformFields(0.5), "api_call"))
	require.NoError(t, err)

	assert.Equal(t, []events.EventType{events.EventTrustScoreComputed, events.EventRequirementResolved}, types)
}

// recordingAudit captures audit writes and signals completion.
type recordingAudit struct {
	mu        sync.Mutex
	telemetry []*audit.TelemetryRecord
	scores    []*audit.TrustScoreRecord
	scoreDone chan struct{}
}

func newRecordingAudit() *recordingAudit {
	return &recordingAudit{scoreDone: make(chan struct{}, 16)}
}

func (r *recordingAudit) InsertTelemetry(_ context.Context, rec *audit.TelemetryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.telemetry = append(r.telemetry, rec)
	return nil
}

func (r *recordingAudit) InsertTrustScore(_ context.Context, rec *audit.TrustScoreRecord) error {
	r.mu.Lock()
	r.scores = append(r.scores, rec)
	r.mu.Unlock()
	r.scoreDone <- struct{}{}
	return nil
}

func (r *recordingAudit) Close() error { return nil }

func TestEvaluateWritesAuditTrail(t *testing.T) {
	sink := newRecordingAudit()
	e := New(Options{Audit: sink})

	req, err := e.Evaluate(context.Background(), sample("s-audit", uniformFields(85), "api_call"))
	require.NoError(t, err)

	select {
	case <-sink.scoreDone:
	case <-time.After(2 * time.Second):
		t.Fatal("audit write did not complete")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.telemetry, 1)
	require.Len(t, sink.scores, 1)
	assert.Equal(t, "s-audit", sink.telemetry[0].SessionID)
	assert.Equal(t, string(core.CategoryDenialOfService), sink.scores[0].ThreatCategory)
	assert.Equal(t, req.LevelName, sink.scores[0].MfaLevel)
	assert.NotEmpty(t, sink.scores[0].Reasoning)
}

func TestConcurrentEvaluateAndVerify(t *testing.T) {
	e := New(Options{})
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := e.Evaluate(ctx, sample("s-race", uniformFields(20), "login_failed")); err != nil {
					t.Errorf("evaluate: %v", err)
					return
				}
				if _, err := e.IssueChallenge(ctx, "s-race"); err != nil {
					t.Errorf("issue: %v", err)
					return
				}
				// OTP codes never start with a zero digit sequence this
				// short, so a bogus code must always fail.
				if _, err := e.Verify(ctx, "s-race", core.SubmittedFactors{OTP: "000000"}); err == nil {
					t.Error("verification with bogus OTP succeeded")
				}
			}
		}()
	}
	wg.Wait()

	snap, ok := e.Sessions().Snapshot("s-race")
	require.True(t, ok)
	if snap.Challenge != nil && !snap.Challenge.Consumed {
		assert.Equal(t, core.PhaseChallengeIssued, snap.Phase)
	}
}
