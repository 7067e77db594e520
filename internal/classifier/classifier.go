// Package classifier maps normalized feature vectors to STRIDE threat
// classifications. The rule-based decision list is the default backend; a
// trained model can be substituted behind the same interface without touching
// the scoring or policy layers.
package classifier

import (
	"context"
	"fmt"

	"github.com/trustengine/backend/internal/core"
	"github.com/trustengine/backend/internal/features"
)

// Classifier produces a STRIDE classification for one telemetry sample.
type Classifier interface {
	Classify(ctx context.Context, vector []float64, eventType string) (core.ThreatClassification, error)
}

// Thresholds parameterize the rule-based decision list.
type Thresholds struct {
	HighMean   float64 // mean above this → Denial of Service, risk 5
	HighMax    float64 // max above this → Elevation of Privilege, risk 4
	MediumMean float64 // mean above this → Information Disclosure, risk 3
}

// DefaultThresholds returns the production-calibrated rule thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{HighMean: 80, HighMax: 90, MediumMean: 60}
}

// RuleClassifier is an ordered decision list: the first rule that fires wins
// and later rules are not consulted. Ties break by rule order, never by
// magnitude.
type RuleClassifier struct {
	thresholds Thresholds
}

// NewRuleClassifier builds the rule-based backend. Zero-valued thresholds
// fall back to the defaults.
func NewRuleClassifier(t Thresholds) *RuleClassifier {
	def := DefaultThresholds()
	if t.HighMean == 0 {
		t.HighMean = def.HighMean
	}
	if t.HighMax == 0 {
		t.HighMax = def.HighMax
	}
	if t.MediumMean == 0 {
		t.MediumMean = def.MediumMean
	}
	return &RuleClassifier{thresholds: t}
}

// Classify runs the decision list. An empty vector has no valid mean or max
// and is rejected outright rather than silently classified.
func (c *RuleClassifier) Classify(_ context.Context, vector []float64, eventType string) (core.ThreatClassification, error) {
	if len(vector) == 0 {
		return core.ThreatClassification{}, fmt.Errorf("%w: empty feature vector", core.ErrInvalidInput)
	}

	mean := features.Mean(vector)
	max := features.Max(vector)

	switch {
	case mean > c.thresholds.HighMean:
		return core.ThreatClassification{Category: core.CategoryDenialOfService, RiskLevel: 5}, nil
	case max > c.thresholds.HighMax:
		return core.ThreatClassification{Category: core.CategoryElevationOfPrivilege, RiskLevel: 4}, nil
	case eventType == "login_failed":
		return core.ThreatClassification{Category: core.CategorySpoofing, RiskLevel: 3}, nil
	case mean > c.thresholds.MediumMean:
		return core.ThreatClassification{Category: core.CategoryInformationDisclosure, RiskLevel: 3}, nil
	}
	return core.ThreatClassification{Category: core.CategoryUnknown, RiskLevel: 1}, nil
}
