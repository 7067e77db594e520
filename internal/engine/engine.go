// Package engine wires the evaluation pipeline end to end: normalize
// telemetry, classify the threat, score trust, resolve the step-up
// requirement, and drive the per-session challenge lifecycle. All
// session-state transitions happen under the session's lock, so concurrent
// evaluate/issue/verify calls for one session serialize and the session
// never holds more than one outstanding challenge.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/trustengine/backend/internal/audit"
	"github.com/trustengine/backend/internal/classifier"
	"github.com/trustengine/backend/internal/core"
	"github.com/trustengine/backend/internal/events"
	"github.com/trustengine/backend/internal/features"
	"github.com/trustengine/backend/internal/metrics"
	"github.com/trustengine/backend/internal/mfa"
	"github.com/trustengine/backend/internal/policy"
	"github.com/trustengine/backend/internal/scoring"
	"github.com/trustengine/backend/internal/session"
)

// auditWriteTimeout bounds the background audit write so a slow sink cannot
// pile up goroutines forever.
const auditWriteTimeout = 5 * time.Second

// Engine is the adaptive trust and step-up authentication engine.
type Engine struct {
	normalizer   *features.Normalizer
	classifier   classifier.Classifier
	scorer       *scoring.TrustScorer
	resolver     *policy.Resolver
	orchestrator *mfa.Orchestrator
	gate         *mfa.Gate
	sessions     *session.Store
	audit        audit.Store
	bus          events.Bus
	metrics      *metrics.Metrics
}

// Options configures optional engine collaborators. Zero values select
// working defaults (noop audit, local bus, no metrics).
type Options struct {
	Classifier   classifier.Classifier
	Scorer       *scoring.TrustScorer
	Resolver     *policy.Resolver
	Orchestrator *mfa.Orchestrator
	Audit        audit.Store
	Bus          events.Bus
	Metrics      *metrics.Metrics
}

// New assembles an engine. Collaborators left nil in opts are filled with
// defaults so tests can construct an engine with a one-liner.
func New(opts Options) *Engine {
	if opts.Classifier == nil {
		opts.Classifier = classifier.NewRuleClassifier(classifier.DefaultThresholds())
	}
	if opts.Scorer == nil {
		opts.Scorer = scoring.NewTrustScorer(nil)
	}
	if opts.Resolver == nil {
		opts.Resolver = policy.NewResolver(policy.DefaultRules(), opts.Scorer)
	}
	if opts.Orchestrator == nil {
		opts.Orchestrator = mfa.NewOrchestrator(0)
	}
	if opts.Audit == nil {
		opts.Audit = audit.NoopStore{}
	}
	if opts.Bus == nil {
		opts.Bus = events.NewLocalBus()
	}
	return &Engine{
		normalizer:   features.Default(),
		classifier:   opts.Classifier,
		scorer:       opts.Scorer,
		resolver:     opts.Resolver,
		orchestrator: opts.Orchestrator,
		gate:         mfa.NewGate(),
		sessions:     session.NewStore(),
		audit:        opts.Audit,
		bus:          opts.Bus,
		metrics:      opts.Metrics,
	}
}

// Sessions exposes the session store for API snapshots and sweepers.
func (e *Engine) Sessions() *session.Store { return e.sessions }

// Evaluate runs one telemetry sample through the full pipeline and installs
// the resolved requirement as the session's current one. Any outstanding
// challenge is superseded: the decision must always reflect the latest
// observed behavior, not the behavior at some earlier issuance.
func (e *Engine) Evaluate(ctx context.Context, sample core.TelemetrySample) (core.MfaRequirement, error) {
	start := time.Now()

	if err := validateSample(sample); err != nil {
		return core.MfaRequirement{}, err
	}

	vector, matched := e.normalizer.Normalize(sample.Fields)

	cls, err := e.classifier.Classify(ctx, vector, sample.EventType)
	if err != nil {
		return core.MfaRequirement{}, fmt.Errorf("classify: %w", err)
	}

	// A sample that matched no canonical feature carries no usable signal
	// shape, so the scorer falls back to the category-weighted path.
	scoreVector := vector
	if matched == 0 {
		scoreVector = nil
	}
	score := e.scorer.Score(cls.RiskLevel, cls.Category, scoreVector)

	req := e.resolver.Resolve(sample.SessionID, sample.SubjectID, score, cls.Category, cls.RiskLevel)

	var superseded string
	err = e.sessions.With(sample.SessionID, func(st *session.State) error {
		if st.Challenge != nil && !st.Challenge.Consumed {
			st.Challenge.Consumed = true
			superseded = st.Challenge.ChallengeID
		}
		st.SubjectID = sample.SubjectID
		st.Requirement = &req
		st.Challenge = nil
		// A superseded phase tells a late verify call why its challenge is
		// gone; the next issuance moves the session forward again.
		if superseded != "" {
			st.Phase = core.PhaseSuperseded
		} else {
			st.Phase = core.PhaseRequirementSet
		}
		st.Verified = false
		st.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return core.MfaRequirement{}, err
	}

	if superseded != "" {
		e.countInvalidated("superseded")
		e.publish(ctx, &events.Event{
			Type:      events.EventChallengeSuperseded,
			SessionID: sample.SessionID,
			SubjectID: sample.SubjectID,
			Payload:   map[string]interface{}{"challenge_id": superseded},
		})
	}

	e.observeEvaluation(req, time.Since(start))
	e.writeAudit(sample, req)

	e.publish(ctx, &events.Event{
		Type:      events.EventTrustScoreComputed,
		SessionID: sample.SessionID,
		SubjectID: sample.SubjectID,
		Payload: map[string]interface{}{
			"trust_score":     req.TrustScore,
			"stride_category": string(req.Category),
			"risk_level":      req.RiskLevel,
		},
	})
	e.publish(ctx, &events.Event{
		Type:      events.EventRequirementResolved,
		SessionID: sample.SessionID,
		SubjectID: sample.SubjectID,
		Payload: map[string]interface{}{
			"mfa_level":            req.LevelName,
			"adaptive_trust_score": req.AdaptiveScore,
			"access_granted":       req.AccessGranted,
		},
	})

	slog.Info("telemetry evaluated",
		"session_id", sample.SessionID,
		"category", req.Category,
		"risk_level", req.RiskLevel,
		"trust_score", req.TrustScore,
		"adaptive_score", req.AdaptiveScore,
		"mfa_level", req.LevelName)

	return req, nil
}

// IssueChallenge creates a fresh challenge for the session's current
// requirement. Re-issuing supersedes the previous outstanding challenge.
// BLOCKED sessions never receive a challenge.
func (e *Engine) IssueChallenge(ctx context.Context, sessionID string) (core.MfaChallenge, error) {
	if strings.TrimSpace(sessionID) == "" {
		return core.MfaChallenge{}, fmt.Errorf("%w: session_id is required", core.ErrInvalidInput)
	}

	var (
		desc       core.MfaChallenge
		superseded string
		subjectID  string
		levelName  string
	)
	err := e.sessions.With(sessionID, func(st *session.State) error {
		if st.Requirement == nil {
			return core.ErrNoRequirement
		}
		if st.Requirement.Level == core.LevelBlocked {
			return core.ErrAccessBlocked
		}
		levelName = st.Requirement.LevelName

		if st.Challenge != nil && !st.Challenge.Consumed {
			st.Challenge.Consumed = true
			superseded = st.Challenge.ChallengeID
		}

		issued, stored, err := e.orchestrator.Issue(*st.Requirement)
		if err != nil {
			return err
		}

		st.Challenge = stored
		st.Phase = core.PhaseChallengeIssued
		st.UpdatedAt = time.Now()
		subjectID = st.SubjectID
		desc = issued
		return nil
	})
	if err != nil {
		return core.MfaChallenge{}, err
	}

	if superseded != "" {
		e.countInvalidated("superseded")
		e.publish(ctx, &events.Event{
			Type:      events.EventChallengeSuperseded,
			SessionID: sessionID,
			SubjectID: subjectID,
			Payload:   map[string]interface{}{"challenge_id": superseded},
		})
	}

	if e.metrics != nil {
		e.metrics.ChallengesIssued.WithLabelValues(levelName).Inc()
	}
	e.publish(ctx, &events.Event{
		Type:      events.EventChallengeIssued,
		SessionID: sessionID,
		SubjectID: subjectID,
		Payload: map[string]interface{}{
			"challenge_id": desc.ChallengeID,
			"expires_at":   desc.ExpiresAt,
		},
	})

	slog.Info("challenge issued",
		"session_id", sessionID,
		"challenge_id", desc.ChallengeID,
		"factors", desc.RequiredFactors)

	return desc, nil
}

// Verify checks submitted factors against the session's outstanding
// challenge. The challenge is consumed whatever the outcome.
func (e *Engine) Verify(ctx context.Context, sessionID string, submitted core.SubmittedFactors) (core.VerificationResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return core.VerificationResult{}, fmt.Errorf("%w: session_id is required", core.ErrInvalidInput)
	}

	var (
		result    core.VerificationResult
		subjectID string
	)
	err := e.sessions.With(sessionID, func(st *session.State) error {
		subjectID = st.SubjectID
		var verr error
		result, verr = e.gate.Verify(st, submitted)
		if verr == nil {
			st.UpdatedAt = time.Now()
		}
		return verr
	})

	e.countVerification(err)
	if errors.Is(err, core.ErrChallengeExpired) {
		e.countInvalidated("expired")
	}

	if err != nil {
		e.publish(ctx, &events.Event{
			Type:      events.EventVerificationFailed,
			SessionID: sessionID,
			SubjectID: subjectID,
			Payload:   map[string]interface{}{"reason": err.Error()},
		})
		return core.VerificationResult{}, err
	}

	e.publish(ctx, &events.Event{
		Type:      events.EventSessionVerified,
		SessionID: sessionID,
		SubjectID: subjectID,
		Payload: map[string]interface{}{
			"access_granted": result.AccessGranted,
			"mfa_level":      result.Level.String(),
		},
	})

	slog.Info("session verified",
		"session_id", sessionID,
		"access_granted", result.AccessGranted,
		"mfa_level", result.Level.String())

	return result, nil
}

func validateSample(sample core.TelemetrySample) error {
	if strings.TrimSpace(sample.SessionID) == "" {
		return fmt.Errorf("%w: session_id is required", core.ErrInvalidInput)
	}
	if strings.TrimSpace(sample.SubjectID) == "" {
		return fmt.Errorf("%w: subject_id is required", core.ErrInvalidInput)
	}
	if len(sample.Fields) == 0 {
		return fmt.Errorf("%w: empty feature set", core.ErrInvalidInput)
	}
	return nil
}

// writeAudit persists the sample and the decision in the background. Audit
// is best-effort: sink failures are logged, never surfaced to the caller.
func (e *Engine) writeAudit(sample core.TelemetrySample, req core.MfaRequirement) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		defer cancel()

		if err := e.audit.InsertTelemetry(ctx, &audit.TelemetryRecord{
			SessionID:  sample.SessionID,
			SubjectID:  sample.SubjectID,
			EventType:  sample.EventType,
			Features:   sample.Fields,
			ObservedAt: sample.ObservedAt,
		}); err != nil {
			slog.Warn("audit telemetry write failed", "session_id", sample.SessionID, "error", err)
		}

		if err := e.audit.InsertTrustScore(ctx, &audit.TrustScoreRecord{
			SessionID:      req.SessionID,
			SubjectID:      req.SubjectID,
			Score:          req.TrustScore,
			AdaptiveScore:  req.AdaptiveScore,
			ThreatCategory: string(req.Category),
			RiskLevel:      req.RiskLevel,
			MfaLevel:       req.LevelName,
			AccessGranted:  req.AccessGranted,
			Reasoning:      strings.Split(req.Reasoning, "; "),
			EvaluatedAt:    req.ResolvedAt,
		}); err != nil {
			slog.Warn("audit trust score write failed", "session_id", req.SessionID, "error", err)
		}
	}()
}

func (e *Engine) publish(ctx context.Context, event *events.Event) {
	if err := e.bus.Publish(ctx, event); err != nil {
		slog.Warn("event publish failed", "type", event.Type, "error", err)
	}
}

func (e *Engine) observeEvaluation(req core.MfaRequirement, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.EvaluationsTotal.WithLabelValues(string(req.Category), req.LevelName).Inc()
	e.metrics.EvaluationDuration.Observe(elapsed.Seconds())
	e.metrics.TrustScore.WithLabelValues(string(req.Category)).Observe(req.TrustScore)
}

func (e *Engine) countInvalidated(reason string) {
	if e.metrics == nil {
		return
	}
	e.metrics.ChallengesInvalidated.WithLabelValues(reason).Inc()
}

func (e *Engine) countVerification(err error) {
	if e.metrics == nil {
		return
	}
	e.metrics.VerificationsTotal.WithLabelValues(verificationOutcome(err)).Inc()
}

func verificationOutcome(err error) string {
	switch {
	case err == nil:
		return "verified"
	case errors.Is(err, core.ErrInvalidOTP):
		return "invalid_otp"
	case errors.Is(err, core.ErrInvalidDeviceFingerprint):
		return "invalid_fingerprint"
	case errors.Is(err, core.ErrChallengeExpired):
		return "expired"
	case errors.Is(err, core.ErrChallengeSuperseded):
		return "superseded"
	default:
		return "no_challenge"
	}
}
