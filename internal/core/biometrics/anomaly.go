package biometrics

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Accepted range of the L2 norm of a feature vector.
const (
	MinNorm = 0.1
	MaxNorm = 10.0
)

// flatContrast is the stddev below which a grid cell counts as featureless.
const flatContrast = 1e-6

// Anomaly reasons reported by DetectAnomaly.
const (
	AnomalyNone      = ""
	AnomalyNonFinite = "non_finite"
	AnomalyNorm      = "norm_out_of_range"
	AnomalyFlat      = "flat_contrast"
)

// IsAnomalous reports whether v must not be scored.
func IsAnomalous(v FeatureVector) bool {
	return DetectAnomaly(v) != AnomalyNone
}

// DetectAnomaly returns why v is degenerate, or AnomalyNone.
//
// A vector is degenerate if a component is NaN or infinite, if its L2 norm
// lies outside [MinNorm, MaxNorm], or if it has the extractor layout and
// every grid cell has zero contrast (a uniform crop).
func DetectAnomaly(v FeatureVector) string {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return AnomalyNonFinite
		}
	}

	norm := floats.Norm(v, 2)
	if norm < MinNorm || norm > MaxNorm {
		return AnomalyNorm
	}

	if regional := v.Regional(); regional != nil {
		flat := true
		for i := 1; i < len(regional); i += 2 {
			if regional[i] > flatContrast {
				flat = false
				break
			}
		}
		if flat {
			return AnomalyFlat
		}
	}

	return AnomalyNone
}
