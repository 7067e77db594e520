package core

import "time"

// StrideCategory classifies a security-relevant event against the STRIDE
// taxonomy. The category names match the values persisted by the audit sink,
// so they use the spelled-out form rather than Go-style identifiers.
type StrideCategory string

const (
	CategorySpoofing              StrideCategory = "Spoofing"
	CategoryTampering             StrideCategory = "Tampering"
	CategoryRepudiation           StrideCategory = "Repudiation"
	CategoryInformationDisclosure StrideCategory = "Information Disclosure"
	CategoryDenialOfService       StrideCategory = "Denial of Service"
	CategoryElevationOfPrivilege  StrideCategory = "Elevation of Privilege"
	CategoryUnknown               StrideCategory = "Unknown"
)

// Categories lists every valid STRIDE category.
var Categories = []StrideCategory{
	CategorySpoofing,
	CategoryTampering,
	CategoryRepudiation,
	CategoryInformationDisclosure,
	CategoryDenialOfService,
	CategoryElevationOfPrivilege,
	CategoryUnknown,
}

// MfaLevel is the required authentication strength for a session.
type MfaLevel int

const (
	LevelPasswordOnly MfaLevel = iota + 1
	LevelPasswordOTP
	LevelPasswordOTPDevice
	LevelBlocked
)

func (l MfaLevel) String() string {
	switch l {
	case LevelPasswordOnly:
		return "PASSWORD_ONLY"
	case LevelPasswordOTP:
		return "PASSWORD_OTP"
	case LevelPasswordOTPDevice:
		return "PASSWORD_OTP_DEVICE"
	case LevelBlocked:
		return "BLOCKED"
	}
	return "UNKNOWN"
}

// Factor is a single authentication proof factor.
type Factor string

const (
	FactorPassword          Factor = "password"
	FactorOTP               Factor = "otp"
	FactorDeviceFingerprint Factor = "device_fingerprint"
)

// RequiredFactors maps an MFA level to the ordered factor set it demands.
// BLOCKED carries no factors: access is denied outright.
func RequiredFactors(level MfaLevel) []Factor {
	switch level {
	case LevelPasswordOnly:
		return []Factor{FactorPassword}
	case LevelPasswordOTP:
		return []Factor{FactorPassword, FactorOTP}
	case LevelPasswordOTPDevice:
		return []Factor{FactorPassword, FactorOTP, FactorDeviceFingerprint}
	}
	return []Factor{}
}

// TelemetrySample is one behavioral/network observation for a session.
// Fields carries the raw numeric feature bag; heterogeneous sources (agents,
// SIEM replays, synthetic generators) may each supply a different subset.
// Immutable once produced.
type TelemetrySample struct {
	SessionID  string             `json:"session_id"`
	SubjectID  string             `json:"subject_id"`
	EventType  string             `json:"event_type"`
	ObservedAt time.Time          `json:"observed_at"`
	Fields     map[string]float64 `json:"features"`
}

// ThreatClassification is the deterministic STRIDE verdict for one sample.
type ThreatClassification struct {
	Category  StrideCategory `json:"stride_category"`
	RiskLevel int            `json:"risk_level"` // 1 (lowest) .. 5 (highest)
}

// TrustScore is a bounded trust estimate for a session at a point in time.
// History is append-only; only the most recent score drives policy.
type TrustScore struct {
	SessionID  string    `json:"session_id"`
	SubjectID  string    `json:"subject_id"`
	Score      float64   `json:"trust_score"` // 0-100, higher = more trusted
	ComputedAt time.Time `json:"computed_at"`
}

// PolicyRule is one entry of the ordered authentication policy table.
type PolicyRule struct {
	MinTrustScore float64  `json:"min_trust_score"`
	Level         MfaLevel `json:"mfa_level"`
	Description   string   `json:"description"`
}

// MfaRequirement is the resolved step-up decision for one evaluation.
// Superseded whenever telemetry for the session is reanalyzed.
type MfaRequirement struct {
	SessionID       string         `json:"session_id"`
	SubjectID       string         `json:"subject_id"`
	Level           MfaLevel       `json:"mfa_level"`
	LevelName       string         `json:"mfa_level_name"`
	RequiredFactors []Factor       `json:"required_factors"`
	TrustScore      float64        `json:"trust_score"`
	AdaptiveScore   float64        `json:"adaptive_trust_score"`
	Category        StrideCategory `json:"stride_category"`
	RiskLevel       int            `json:"risk_level"`
	Description     string         `json:"description"`
	Reasoning       string         `json:"reasoning"`
	AccessGranted   bool           `json:"access_granted"`
	ResolvedAt      time.Time      `json:"resolved_at"`
}

// MfaChallenge is the single-use challenge descriptor returned to the caller.
// OTP is populated only at issuance; the engine stores a hash, never the code.
type MfaChallenge struct {
	ChallengeID         string    `json:"challenge_id"`
	SessionID           string    `json:"session_id"`
	RequiredFactors     []Factor  `json:"required_factors"`
	OTP                 string    `json:"otp,omitempty"`
	OTPMessage          string    `json:"otp_message,omitempty"`
	DeviceProofRequired bool      `json:"device_fingerprint_required"`
	DeviceInstructions  string    `json:"device_fingerprint_instructions,omitempty"`
	IssuedAt            time.Time `json:"issued_at"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// SubmittedFactors carries the proof values a client submits for verification.
// Password verification is delegated to the external identity provider; the
// gate checks the step-up factors only.
type SubmittedFactors struct {
	OTP               string `json:"otp,omitempty"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
}

// VerificationResult is the final access decision for a verify call.
type VerificationResult struct {
	AccessGranted bool     `json:"access_granted"`
	Level         MfaLevel `json:"mfa_level"`
}

// ChallengePhase tracks the per-session challenge state machine.
type ChallengePhase string

const (
	PhaseNoRequirement   ChallengePhase = "NO_REQUIREMENT"
	PhaseRequirementSet  ChallengePhase = "REQUIREMENT_SET"
	PhaseChallengeIssued ChallengePhase = "CHALLENGE_ISSUED"
	PhaseVerified        ChallengePhase = "VERIFIED"
	PhaseExpired         ChallengePhase = "EXPIRED"
	PhaseSuperseded      ChallengePhase = "SUPERSEDED"
)
