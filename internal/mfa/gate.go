package mfa

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/trustengine/backend/internal/core"
	"github.com/trustengine/backend/internal/session"
)

// minFingerprintLength is the floor for an acceptable device fingerprint.
const minFingerprintLength = 10

// Gate validates submitted proof factors against an outstanding challenge.
type Gate struct {
	now func() time.Time
}

// NewGate creates a verification gate.
func NewGate() *Gate {
	return &Gate{now: time.Now}
}

// Verify checks the submitted factors against the session's outstanding
// challenge. The challenge is consumed regardless of outcome; a failed
// verification requires a fresh challenge, never a retry of the same code.
// Must be called while holding the session's lock (inside Store.With).
func (g *Gate) Verify(st *session.State, submitted core.SubmittedFactors) (core.VerificationResult, error) {
	if st.Requirement == nil {
		return core.VerificationResult{}, core.ErrNoActiveChallenge
	}

	if st.Phase == core.PhaseSuperseded {
		return core.VerificationResult{}, core.ErrChallengeSuperseded
	}

	ch := st.Challenge
	if ch == nil || ch.Consumed {
		return core.VerificationResult{}, core.ErrNoActiveChallenge
	}

	// Single-use: whatever happens next, this challenge is spent.
	ch.Consumed = true

	if ch.Expired(g.now()) {
		st.Phase = core.PhaseExpired
		return core.VerificationResult{}, core.ErrChallengeExpired
	}

	for _, factor := range ch.RequiredFactors {
		switch factor {
		case core.FactorOTP:
			if submitted.OTP == "" ||
				bcrypt.CompareHashAndPassword(ch.OTPHash, []byte(submitted.OTP)) != nil {
				return core.VerificationResult{}, core.ErrInvalidOTP
			}
		case core.FactorDeviceFingerprint:
			if !ValidDeviceFingerprint(submitted.DeviceFingerprint) {
				return core.VerificationResult{}, core.ErrInvalidDeviceFingerprint
			}
		}
	}

	st.Phase = core.PhaseVerified
	st.Verified = true

	// BLOCKED sessions never hold a challenge, so reaching here means the
	// requirement grants access once its factors are proven.
	granted := st.Requirement.Level != core.LevelBlocked
	return core.VerificationResult{
		AccessGranted: granted,
		Level:         st.Requirement.Level,
	}, nil
}

// ValidDeviceFingerprint is the out-of-band device proof predicate.
func ValidDeviceFingerprint(fingerprint string) bool {
	return len(fingerprint) > minFingerprintLength
}
