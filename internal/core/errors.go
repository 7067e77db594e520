package core

import "errors"

// Error taxonomy for the decision pipeline and the challenge lifecycle.
// Callers match with errors.Is; wrapping at call sites adds context.
var (
	// ErrInvalidInput rejects malformed telemetry (e.g. an empty feature
	// vector) before classification. No session state is mutated.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoRequirement means issueChallenge was called before evaluate.
	ErrNoRequirement = errors.New("no MFA requirement for session")

	// ErrAccessBlocked means the current requirement is BLOCKED, so no
	// challenge can be issued for the session.
	ErrAccessBlocked = errors.New("access blocked for session")

	// ErrNoActiveChallenge means verify was called with no outstanding
	// challenge for the session.
	ErrNoActiveChallenge = errors.New("no active challenge for session")

	// ErrInvalidOTP is a verification failure; the challenge is consumed.
	ErrInvalidOTP = errors.New("invalid OTP")

	// ErrInvalidDeviceFingerprint is a verification failure; the challenge
	// is consumed.
	ErrInvalidDeviceFingerprint = errors.New("invalid device fingerprint")

	// ErrChallengeExpired means the challenge TTL elapsed before
	// verification. Treated like ErrNoActiveChallenge by callers.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrChallengeSuperseded means a newer telemetry analysis invalidated
	// the challenge. Treated like ErrNoActiveChallenge by callers.
	ErrChallengeSuperseded = errors.New("challenge superseded")
)
