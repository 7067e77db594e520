// Package policy resolves a trust score into a required authentication
// strength via the ordered policy table. The resolver never errors: a
// malformed table resolves to BLOCKED so an availability failure in trust
// scoring can never grant access.
package policy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/trustengine/backend/internal/core"
	"github.com/trustengine/backend/internal/scoring"
)

// DefaultRules is the production policy table, highest threshold first.
func DefaultRules() []core.PolicyRule {
	return []core.PolicyRule{
		{MinTrustScore: 80, Level: core.LevelPasswordOnly, Description: "High trust - Password only"},
		{MinTrustScore: 60, Level: core.LevelPasswordOTP, Description: "Medium trust - Password + OTP"},
		{MinTrustScore: 40, Level: core.LevelPasswordOTPDevice, Description: "Low trust - Password + OTP + Device"},
		{MinTrustScore: 0, Level: core.LevelBlocked, Description: "Very low trust - Access blocked"},
	}
}

var blockedRule = core.PolicyRule{
	Level:       core.LevelBlocked,
	Description: "Policy fallback - Access blocked",
}

// Resolver evaluates the policy table against adaptive trust scores.
type Resolver struct {
	rules  []core.PolicyRule
	scorer *scoring.TrustScorer
}

// NewResolver builds a resolver over the given table. Rules are sorted
// highest-threshold-first at construction; an empty table leaves only the
// terminal BLOCKED fallback.
func NewResolver(rules []core.PolicyRule, scorer *scoring.TrustScorer) *Resolver {
	sorted := make([]core.PolicyRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinTrustScore > sorted[j].MinTrustScore
	})
	if scorer == nil {
		scorer = scoring.NewTrustScorer(nil)
	}
	return &Resolver{rules: sorted, scorer: scorer}
}

// AdaptiveScore amplifies the raw trust score by the category weight, then
// subtracts the risk-level penalty, clamped to [0, 100]. This is a second,
// independent application of the category table on top of the scorer's own.
func (r *Resolver) AdaptiveScore(trustScore float64, category core.StrideCategory, riskLevel int) float64 {
	adjusted := trustScore * r.scorer.Weight(category)
	adjusted -= float64(riskLevel-1) * 10
	return scoring.Clamp(adjusted)
}

// Resolve maps a trust score and classification to an MfaRequirement.
// Always produces a result; scores matching no rule resolve to BLOCKED.
func (r *Resolver) Resolve(sessionID, subjectID string, trustScore float64, category core.StrideCategory, riskLevel int) core.MfaRequirement {
	adaptive := r.AdaptiveScore(trustScore, category, riskLevel)

	selected := blockedRule
	for _, rule := range r.rules {
		if adaptive >= rule.MinTrustScore {
			selected = rule
			break
		}
	}

	return core.MfaRequirement{
		SessionID:       sessionID,
		SubjectID:       subjectID,
		Level:           selected.Level,
		LevelName:       selected.Level.String(),
		RequiredFactors: core.RequiredFactors(selected.Level),
		TrustScore:      trustScore,
		AdaptiveScore:   adaptive,
		Category:        category,
		RiskLevel:       riskLevel,
		Description:     selected.Description,
		Reasoning:       reasoning(trustScore, category, riskLevel, adaptive),
		AccessGranted:   selected.Level != core.LevelBlocked,
		ResolvedAt:      time.Now().UTC(),
	}
}

// reasoning builds the human-readable audit trail for a decision. It is
// purely explanatory and never feeds back into the decision itself.
func reasoning(trustScore float64, category core.StrideCategory, riskLevel int, adaptive float64) string {
	var parts []string

	switch {
	case trustScore >= 80:
		parts = append(parts, "High base trust score")
	case trustScore >= 60:
		parts = append(parts, "Medium base trust score")
	case trustScore >= 40:
		parts = append(parts, "Low base trust score")
	default:
		parts = append(parts, "Very low base trust score")
	}

	if category != core.CategoryUnknown {
		parts = append(parts, fmt.Sprintf("STRIDE threat detected: %s", category))
	}

	if riskLevel > 3 {
		parts = append(parts, fmt.Sprintf("High risk level (%d)", riskLevel))
	} else if riskLevel > 1 {
		parts = append(parts, fmt.Sprintf("Elevated risk level (%d)", riskLevel))
	}

	if adaptive < trustScore {
		parts = append(parts, fmt.Sprintf("Trust score reduced to %.1f due to threats", adaptive))
	}

	return strings.Join(parts, "; ")
}
