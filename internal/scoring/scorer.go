// Package scoring converts a threat classification into a bounded trust
// score. Two paths exist: a variance-based adjustment when raw features are
// available, and a coarser category-weighted path for low-fidelity telemetry.
package scoring

import (
	"github.com/trustengine/backend/internal/core"
	"github.com/trustengine/backend/internal/features"
)

const (
	maxScore        = 100.0
	riskPenaltyStep = 15.0

	highVarianceThreshold = 1000.0
	highVariancePenalty   = 20.0
	midVarianceThreshold  = 500.0
	midVariancePenalty    = 10.0
)

// DefaultCategoryWeights amplify the risk penalty per STRIDE category.
// The same table is applied a second time inside the policy resolver.
var DefaultCategoryWeights = map[core.StrideCategory]float64{
	core.CategorySpoofing:              1.5,
	core.CategoryTampering:             1.4,
	core.CategoryRepudiation:           1.3,
	core.CategoryInformationDisclosure: 1.2,
	core.CategoryDenialOfService:       1.6,
	core.CategoryElevationOfPrivilege:  1.7,
	core.CategoryUnknown:               1.0,
}

// TrustScorer computes trust scores from classifications.
type TrustScorer struct {
	weights map[core.StrideCategory]float64
}

// NewTrustScorer builds a scorer with the given category weights; nil falls
// back to the default table.
func NewTrustScorer(weights map[core.StrideCategory]float64) *TrustScorer {
	if weights == nil {
		weights = DefaultCategoryWeights
	}
	return &TrustScorer{weights: weights}
}

// Weight returns the multiplier for a category (1.0 for unlisted ones).
func (s *TrustScorer) Weight(category core.StrideCategory) float64 {
	if w, ok := s.weights[category]; ok {
		return w
	}
	return 1.0
}

// Score computes the bounded trust score for one classification.
//
// With a raw feature vector the base 100 - risk*15 is reduced by a fixed
// penalty keyed to the feature variance: high variance means erratic
// behavior, which is more suspicious. Without raw features the category
// weight amplifies the risk penalty term instead:
//
//	score = 100 - risk*15*weight
//
// The result is always clamped to [0, 100].
func (s *TrustScorer) Score(riskLevel int, category core.StrideCategory, vector []float64) float64 {
	base := maxScore - float64(riskLevel)*riskPenaltyStep

	if len(vector) > 0 {
		variance := features.Variance(vector)
		switch {
		case variance > highVarianceThreshold:
			base -= highVariancePenalty
		case variance > midVarianceThreshold:
			base -= midVariancePenalty
		}
	} else {
		base = maxScore - float64(riskLevel)*riskPenaltyStep*s.Weight(category)
	}

	return Clamp(base)
}

// Clamp bounds a score to [0, 100].
func Clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > maxScore {
		return maxScore
	}
	return score
}
