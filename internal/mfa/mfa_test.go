package mfa

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/trustengine/backend/internal/core"
	"github.com/trustengine/backend/internal/session"
)

func otpDeviceRequirement() core.MfaRequirement {
	return core.MfaRequirement{
		SessionID:       "sess-1",
		SubjectID:       "user-1",
		Level:           core.LevelPasswordOTPDevice,
		LevelName:       core.LevelPasswordOTPDevice.String(),
		RequiredFactors: core.RequiredFactors(core.LevelPasswordOTPDevice),
		AccessGranted:   true,
	}
}

func TestGenerateOTPFixedWidth(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := GenerateOTP()
		require.NoError(t, err)
		require.Len(t, code, 6)
		n, err := strconv.Atoi(code)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 100000)
		assert.LessOrEqual(t, n, 999999)
	}
}

func TestIssueOTPChallenge(t *testing.T) {
	o := NewOrchestrator(0)

	desc, stored, err := o.Issue(otpDeviceRequirement())
	require.NoError(t, err)

	assert.NotEmpty(t, desc.ChallengeID)
	assert.Equal(t, desc.ChallengeID, stored.ChallengeID)
	assert.Len(t, desc.OTP, 6)
	assert.Contains(t, desc.OTPMessage, desc.OTP)
	assert.True(t, desc.DeviceProofRequired)
	assert.True(t, stored.DeviceProofRequired)
	assert.Equal(t, DefaultTTL, desc.ExpiresAt.Sub(desc.IssuedAt))

	// The stored form never holds the plaintext code, only a valid hash.
	assert.NoError(t, bcrypt.CompareHashAndPassword(stored.OTPHash, []byte(desc.OTP)))
}

func TestIssuePasswordOnlyHasNoCode(t *testing.T) {
	o := NewOrchestrator(time.Minute)
	req := core.MfaRequirement{
		SessionID:       "sess-1",
		Level:           core.LevelPasswordOnly,
		RequiredFactors: core.RequiredFactors(core.LevelPasswordOnly),
	}

	desc, stored, err := o.Issue(req)
	require.NoError(t, err)
	assert.Empty(t, desc.OTP)
	assert.Nil(t, stored.OTPHash)
	assert.False(t, desc.DeviceProofRequired)
}

func issuedState(t *testing.T, ttl time.Duration) (*session.State, core.MfaChallenge) {
	t.Helper()
	o := NewOrchestrator(ttl)
	req := otpDeviceRequirement()
	desc, stored, err := o.Issue(req)
	require.NoError(t, err)
	return &session.State{
		SessionID:   req.SessionID,
		SubjectID:   req.SubjectID,
		Requirement: &req,
		Challenge:   stored,
		Phase:       core.PhaseChallengeIssued,
	}, desc
}

func TestVerifySuccess(t *testing.T) {
	st, desc := issuedState(t, time.Minute)
	g := NewGate()

	res, err := g.Verify(st, core.SubmittedFactors{
		OTP:               desc.OTP,
		DeviceFingerprint: "device-fp-0123456789",
	})
	require.NoError(t, err)

	assert.True(t, res.AccessGranted)
	assert.Equal(t, core.LevelPasswordOTPDevice, res.Level)
	assert.Equal(t, core.PhaseVerified, st.Phase)
	assert.True(t, st.Verified)
	assert.True(t, st.Challenge.Consumed)
}

func TestVerifyWrongOTPConsumesChallenge(t *testing.T) {
	st, _ := issuedState(t, time.Minute)
	g := NewGate()

	_, err := g.Verify(st, core.SubmittedFactors{
		OTP:               "000000",
		DeviceFingerprint: "device-fp-0123456789",
	})
	assert.ErrorIs(t, err, core.ErrInvalidOTP)
	assert.True(t, st.Challenge.Consumed)

	// A retry of the very same code must fail even if it were correct:
	// the challenge is spent.
	_, err = g.Verify(st, core.SubmittedFactors{OTP: "000000"})
	assert.ErrorIs(t, err, core.ErrNoActiveChallenge)
}

func TestVerifyCorrectOTPAfterExpiry(t *testing.T) {
	st, desc := issuedState(t, time.Minute)
	g := NewGate()
	g.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, err := g.Verify(st, core.SubmittedFactors{
		OTP:               desc.OTP,
		DeviceFingerprint: "device-fp-0123456789",
	})
	assert.ErrorIs(t, err, core.ErrChallengeExpired)
	assert.Equal(t, core.PhaseExpired, st.Phase)
	assert.False(t, st.Verified)
}

func TestVerifyShortFingerprintRejected(t *testing.T) {
	st, desc := issuedState(t, time.Minute)
	g := NewGate()

	_, err := g.Verify(st, core.SubmittedFactors{
		OTP:               desc.OTP,
		DeviceFingerprint: "short",
	})
	assert.ErrorIs(t, err, core.ErrInvalidDeviceFingerprint)
}

func TestVerifyNoChallenge(t *testing.T) {
	g := NewGate()

	_, err := g.Verify(&session.State{Phase: core.PhaseNoRequirement}, core.SubmittedFactors{})
	assert.ErrorIs(t, err, core.ErrNoActiveChallenge)
}

func TestVerifySupersededChallenge(t *testing.T) {
	st, desc := issuedState(t, time.Minute)
	st.Phase = core.PhaseSuperseded
	g := NewGate()

	_, err := g.Verify(st, core.SubmittedFactors{
		OTP:               desc.OTP,
		DeviceFingerprint: "device-fp-0123456789",
	})
	assert.ErrorIs(t, err, core.ErrChallengeSuperseded)
}

func TestValidDeviceFingerprint(t *testing.T) {
	assert.False(t, ValidDeviceFingerprint(""))
	assert.False(t, ValidDeviceFingerprint("0123456789")) // exactly 10
	assert.True(t, ValidDeviceFingerprint("0123456789a"))
}
