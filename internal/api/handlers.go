package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/trustengine/backend/internal/core"
)

const maxSyntheticBatch = 1000

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decisionStatus maps pipeline and lifecycle errors onto HTTP statuses.
func decisionStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNoRequirement):
		return http.StatusNotFound
	case errors.Is(err, core.ErrAccessBlocked):
		return http.StatusForbidden
	case errors.Is(err, core.ErrNoActiveChallenge):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidOTP), errors.Is(err, core.ErrInvalidDeviceFingerprint):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrChallengeExpired):
		return http.StatusGone
	case errors.Is(err, core.ErrChallengeSuperseded):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// handleTelemetry evaluates one telemetry sample and returns the resolved
// MFA requirement.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	var sample core.TelemetrySample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if sample.ObservedAt.IsZero() {
		sample.ObservedAt = time.Now().UTC()
	}

	req, err := s.engine.Evaluate(r.Context(), sample)
	if err != nil {
		writeError(w, decisionStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// handleSyntheticTelemetry generates a batch of random samples and runs
// them through the pipeline. Intended for load and demo environments.
func (s *Server) handleSyntheticTelemetry(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Count <= 0 {
		body.Count = 10
	}
	if body.Count > maxSyntheticBatch {
		body.Count = maxSyntheticBatch
	}

	decisions := make([]core.MfaRequirement, 0, body.Count)
	for _, sample := range s.synthetic.Batch(body.Count) {
		req, err := s.engine.Evaluate(r.Context(), sample)
		if err != nil {
			writeError(w, decisionStatus(err), err)
			return
		}
		decisions = append(decisions, req)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"processed": len(decisions),
		"decisions": decisions,
	})
}

// handleTrustScore returns the latest trust decision for a session.
func (s *Server) handleTrustScore(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id query parameter is required"})
		return
	}

	snap, ok := s.engine.Sessions().Snapshot(sessionID)
	if !ok || snap.Requirement == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no trust score for session"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":           snap.SessionID,
		"subject_id":           snap.SubjectID,
		"trust_score":          snap.Requirement.TrustScore,
		"adaptive_trust_score": snap.Requirement.AdaptiveScore,
		"stride_category":      snap.Requirement.Category,
		"risk_level":           snap.Requirement.RiskLevel,
		"mfa_level":            snap.Requirement.LevelName,
		"access_granted":       snap.Requirement.AccessGranted,
		"resolved_at":          snap.Requirement.ResolvedAt,
	})
}

// handleChallenge issues a fresh challenge for the session's current
// requirement.
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	challenge, err := s.engine.IssueChallenge(r.Context(), body.SessionID)
	if err != nil {
		writeError(w, decisionStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, challenge)
}

// handleVerify checks submitted factors against the outstanding challenge.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID         string `json:"session_id"`
		OTP               string `json:"otp"`
		DeviceFingerprint string `json:"device_fingerprint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.engine.Verify(r.Context(), body.SessionID, core.SubmittedFactors{
		OTP:               body.OTP,
		DeviceFingerprint: body.DeviceFingerprint,
	})
	if err != nil {
		writeJSON(w, decisionStatus(err), map[string]interface{}{
			"access_granted": false,
			"error":          err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSession returns the full lifecycle view of a session. The stored
// challenge is reduced to metadata; hashes never leave the process.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]

	snap, ok := s.engine.Sessions().Snapshot(sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}

	resp := map[string]interface{}{
		"session_id": snap.SessionID,
		"subject_id": snap.SubjectID,
		"phase":      snap.Phase,
		"verified":   snap.Verified,
		"updated_at": snap.UpdatedAt,
	}
	if snap.Requirement != nil {
		resp["requirement"] = snap.Requirement
	}
	if snap.Challenge != nil {
		resp["challenge"] = map[string]interface{}{
			"challenge_id":                snap.Challenge.ChallengeID,
			"required_factors":            snap.Challenge.RequiredFactors,
			"device_fingerprint_required": snap.Challenge.DeviceProofRequired,
			"issued_at":                   snap.Challenge.IssuedAt,
			"expires_at":                  snap.Challenge.ExpiresAt,
			"consumed":                    snap.Challenge.Consumed,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSimulatedAlerts returns canned SIEM alerts without evaluating them.
func (s *Server) handleSimulatedAlerts(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > 100 {
		limit = 100
	}

	alerts := s.alerts.Alerts(agentID, limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// handleProcessAlerts generates simulated alerts, converts each to
// telemetry, and runs them through the full pipeline.
func (s *Server) handleProcessAlerts(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentID string `json:"agent_id"`
		Limit   int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Limit <= 0 {
		body.Limit = 10
	}
	if body.Limit > 100 {
		body.Limit = 100
	}

	alerts := s.alerts.Alerts(body.AgentID, body.Limit)
	decisions := make([]core.MfaRequirement, 0, len(alerts))
	for _, alert := range alerts {
		req, err := s.engine.Evaluate(r.Context(), s.alerts.ToTelemetry(alert))
		if err != nil {
			writeError(w, decisionStatus(err), err)
			return
		}
		decisions = append(decisions, req)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"processed": len(decisions),
		"decisions": decisions,
	})
}

// handleHealth reports process liveness and basic gauges.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":          "healthy",
		"active_sessions": s.engine.Sessions().Count(),
		"timestamp":       time.Now().UTC(),
	}
	if s.limiter != nil {
		resp["rate_limiter"] = s.limiter.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
