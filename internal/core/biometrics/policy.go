package biometrics

import (
	"fmt"
	"math"
)

// Default decision thresholds.
const (
	DefaultWeightedThreshold = 0.65
	DefaultCosineMin         = 0.60
	DefaultEuclideanMin      = 0.45
	DefaultScoreDiffMax      = 0.35
	DefaultHighConfidence    = 0.80
)

// tierMargin separates tier B from tier C and defines the "both low" band of tier A.
const tierMargin = 0.05

// bandEpsilon absorbs rounding in threshold+tierMargin, e.g. 0.65+0.05 > 0.7.
const bandEpsilon = 1e-9

// Names of the individual checks in VerificationResult.Checks.
const (
	CheckWeighted  = "weighted_score"
	CheckCosine    = "cosine"
	CheckEuclidean = "euclidean"
	CheckScoreDiff = "score_difference"
	// CheckAnomaly is only present when a vector was rejected; true means an anomaly was found.
	CheckAnomaly = "anomaly"
)

// TotalChecks is the number of scored checks.
const TotalChecks = 4

// Tier identifies which fused score band governed a verdict.
type Tier string

const (
	TierNone           Tier = ""
	TierHighConfidence Tier = "high_confidence"
	TierCorroborated   Tier = "corroborated"
	TierStrict         Tier = "strict"
)

// Thresholds configures the verification policy.
type Thresholds struct {
	WeightedThreshold float64 `json:"weighted_threshold" mapstructure:"weighted_threshold"`
	CosineMin         float64 `json:"cosine_min" mapstructure:"cosine_min"`
	EuclideanMin      float64 `json:"euclidean_min" mapstructure:"euclidean_min"`
	ScoreDiffMax      float64 `json:"score_diff_max" mapstructure:"score_diff_max"`
	HighConfidence    float64 `json:"high_confidence" mapstructure:"high_confidence"`
}

// DefaultThresholds returns the tuned defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WeightedThreshold: DefaultWeightedThreshold,
		CosineMin:         DefaultCosineMin,
		EuclideanMin:      DefaultEuclideanMin,
		ScoreDiffMax:      DefaultScoreDiffMax,
		HighConfidence:    DefaultHighConfidence,
	}
}

// Validate checks that every threshold lies in [0,1] and that the high
// confidence band starts at or above the weighted threshold.
func (t Thresholds) Validate() error {
	values := map[string]float64{
		"weighted_threshold": t.WeightedThreshold,
		"cosine_min":         t.CosineMin,
		"euclidean_min":      t.EuclideanMin,
		"score_diff_max":     t.ScoreDiffMax,
		"high_confidence":    t.HighConfidence,
	}
	for name, v := range values {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("threshold %s must be within [0,1], got %v", name, v)
		}
	}
	if t.HighConfidence < t.WeightedThreshold {
		return fmt.Errorf("high_confidence (%v) must not be below weighted_threshold (%v)", t.HighConfidence, t.WeightedThreshold)
	}
	return nil
}

// VerificationResult describes one comparison. It is never mutated after Verify returned it.
type VerificationResult struct {
	IsPass              bool            `json:"is_pass"`
	Confidence          float64         `json:"confidence"`
	CosineSimilarity    float64         `json:"cosine_similarity"`
	EuclideanSimilarity float64         `json:"euclidean_similarity"`
	PassedChecks        int             `json:"passed_checks"`
	TotalChecks         int             `json:"total_checks"`
	Checks              map[string]bool `json:"checks"`
	Tier                Tier            `json:"tier,omitempty"`
	Anomaly             string          `json:"anomaly,omitempty"`
}

// Verify compares a candidate vector against the reference vector.
func Verify(reference, candidate FeatureVector, t Thresholds) VerificationResult {
	if reason := DetectAnomaly(reference); reason != AnomalyNone {
		return anomalyResult(reason)
	}
	if reason := DetectAnomaly(candidate); reason != AnomalyNone {
		return anomalyResult(reason)
	}

	s := Score(reference, candidate)
	checks := evaluateChecks(s, t)
	pass, tier := decide(s, checks, t)

	passed := 0
	for _, ok := range checks {
		if ok {
			passed++
		}
	}

	return VerificationResult{
		IsPass:              pass,
		Confidence:          s.Fused,
		CosineSimilarity:    s.Cosine,
		EuclideanSimilarity: s.Euclidean,
		PassedChecks:        passed,
		TotalChecks:         TotalChecks,
		Checks:              checks,
		Tier:                tier,
	}
}

func anomalyResult(reason string) VerificationResult {
	return VerificationResult{
		TotalChecks: TotalChecks,
		Checks:      map[string]bool{CheckAnomaly: true},
		Anomaly:     reason,
	}
}

func evaluateChecks(s Scores, t Thresholds) map[string]bool {
	return map[string]bool{
		CheckWeighted:  s.Fused >= t.WeightedThreshold,
		CheckCosine:    s.Cosine >= t.CosineMin,
		CheckEuclidean: s.Euclidean >= t.EuclideanMin,
		CheckScoreDiff: math.Abs(s.Cosine-s.Euclidean) < t.ScoreDiffMax,
	}
}

// decide applies the tiered pass logic. The first band containing the fused
// score governs; below the weighted threshold nothing passes.
func decide(s Scores, checks map[string]bool, t Thresholds) (bool, Tier) {
	cosOK, eucOK := checks[CheckCosine], checks[CheckEuclidean]

	switch {
	case s.Fused >= t.HighConfidence:
		bothLow := s.Cosine < t.CosineMin+tierMargin-bandEpsilon &&
			s.Euclidean < t.EuclideanMin+tierMargin-bandEpsilon
		return (cosOK || eucOK) && !bothLow, TierHighConfidence
	case s.Fused >= t.WeightedThreshold+tierMargin-bandEpsilon:
		return cosOK && eucOK, TierCorroborated
	case s.Fused >= t.WeightedThreshold:
		return cosOK && eucOK && checks[CheckScoreDiff], TierStrict
	default:
		return false, TierNone
	}
}
