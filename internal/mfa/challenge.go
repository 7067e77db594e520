// Package mfa generates step-up challenges and verifies submitted proof
// factors against them.
package mfa

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/trustengine/backend/internal/core"
	"github.com/trustengine/backend/internal/session"
)

const (
	// DefaultTTL is the fixed challenge lifetime.
	DefaultTTL = 5 * time.Minute

	otpDigits = 6
	otpSpan   = 900000 // codes drawn from [100000, 999999]
	otpFloor  = 100000
)

// Orchestrator issues single-use, time-bounded challenges for a resolved
// MFA requirement.
type Orchestrator struct {
	ttl time.Duration
	now func() time.Time
}

// NewOrchestrator creates an orchestrator with the given TTL (0 uses the
// default 5 minutes).
func NewOrchestrator(ttl time.Duration) *Orchestrator {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Orchestrator{ttl: ttl, now: time.Now}
}

// Issue builds the challenge for a requirement. The returned descriptor
// carries the plaintext OTP (shown to the client once); the stored form
// keeps only a bcrypt hash. BLOCKED requirements never reach Issue.
func (o *Orchestrator) Issue(req core.MfaRequirement) (core.MfaChallenge, *session.IssuedChallenge, error) {
	now := o.now().UTC()

	desc := core.MfaChallenge{
		ChallengeID:     uuid.New().String(),
		SessionID:       req.SessionID,
		RequiredFactors: req.RequiredFactors,
		IssuedAt:        now,
		ExpiresAt:       now.Add(o.ttl),
	}
	stored := &session.IssuedChallenge{
		ChallengeID:     desc.ChallengeID,
		RequiredFactors: req.RequiredFactors,
		IssuedAt:        desc.IssuedAt,
		ExpiresAt:       desc.ExpiresAt,
	}

	for _, factor := range req.RequiredFactors {
		switch factor {
		case core.FactorOTP:
			code, err := GenerateOTP()
			if err != nil {
				return core.MfaChallenge{}, nil, fmt.Errorf("generate OTP: %w", err)
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
			if err != nil {
				return core.MfaChallenge{}, nil, fmt.Errorf("hash OTP: %w", err)
			}
			desc.OTP = code
			desc.OTPMessage = fmt.Sprintf("Your OTP is: %s", code)
			stored.OTPHash = hash
		case core.FactorDeviceFingerprint:
			desc.DeviceProofRequired = true
			desc.DeviceInstructions = "Please provide device fingerprint"
			stored.DeviceProofRequired = true
		}
	}

	return desc, stored, nil
}

// GenerateOTP draws a fixed-width numeric code from crypto/rand. A
// predictable generator here would let an attacker precompute step-up codes.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpSpan))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()+otpFloor), nil
}
