package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trustengine/backend/internal/core"
)

func TestCategoryWeightPath(t *testing.T) {
	s := NewTrustScorer(nil)

	// 100 - 3*15*1.5 = 32.5 for a Spoofing classification with no features.
	got := s.Score(3, core.CategorySpoofing, nil)
	assert.InDelta(t, 32.5, got, 1e-9)

	// Unknown weight 1.0: 100 - 1*15 = 85.
	assert.InDelta(t, 85, s.Score(1, core.CategoryUnknown, nil), 1e-9)

	// DoS at risk 5: 100 - 5*15*1.6 = -20, clamped to 0.
	assert.Zero(t, s.Score(5, core.CategoryDenialOfService, nil))
}

func TestVariancePenaltyPath(t *testing.T) {
	s := NewTrustScorer(nil)

	flat := []float64{50, 50, 50, 50}                // variance 0
	noisy := []float64{0, 50, 100, 0, 50, 100}       // variance 2500
	jittery := []float64{10, 60, 10, 60, 10, 60, 10} // variance ~612

	// Base for risk 2 is 70; the category weight is ignored on this path.
	assert.InDelta(t, 70, s.Score(2, core.CategoryElevationOfPrivilege, flat), 1e-9)
	assert.InDelta(t, 50, s.Score(2, core.CategoryUnknown, noisy), 1e-9)
	assert.InDelta(t, 60, s.Score(2, core.CategoryUnknown, jittery), 1e-9)
}

func TestScoreAlwaysBounded(t *testing.T) {
	s := NewTrustScorer(nil)

	for risk := 1; risk <= 5; risk++ {
		for _, cat := range core.Categories {
			got := s.Score(risk, cat, nil)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 100.0)
		}
	}
}

func TestRiskMonotonicity(t *testing.T) {
	s := NewTrustScorer(nil)
	vec := []float64{10, 20, 30}

	for _, cat := range core.Categories {
		prevNoVec := 101.0
		prevVec := 101.0
		for risk := 1; risk <= 5; risk++ {
			noVec := s.Score(risk, cat, nil)
			withVec := s.Score(risk, cat, vec)
			assert.LessOrEqual(t, noVec, prevNoVec, "category %s risk %d", cat, risk)
			assert.LessOrEqual(t, withVec, prevVec, "category %s risk %d", cat, risk)
			prevNoVec = noVec
			prevVec = withVec
		}
	}
}

func TestClamp(t *testing.T) {
	assert.Zero(t, Clamp(-20))
	assert.Equal(t, 100.0, Clamp(140))
	assert.Equal(t, 55.5, Clamp(55.5))
}
