package biometrics

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Weights of the fused score.
const (
	CosineWeight    = 0.7
	EuclideanWeight = 0.3
)

// maxDistance bounds the distance between two vectors whose parts are normalized.
var maxDistance = math.Sqrt2

// Scores holds the similarity metrics of one comparison.
type Scores struct {
	Cosine    float64 `json:"cosine"`
	Euclidean float64 `json:"euclidean"`
	Fused     float64 `json:"fused"`
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 if
// the lengths differ or either vector has zero magnitude.
func CosineSimilarity(a, b FeatureVector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}

	return floats.Dot(a, b) / (normA * normB)
}

// EuclideanSimilarity converts the euclidean distance into a similarity in [0,1].
func EuclideanSimilarity(a, b FeatureVector) float64 {
	if len(a) != len(b) {
		return 0
	}
	if len(a) == 0 {
		return 1
	}

	normalized := floats.Distance(a, b, 2) / maxDistance
	normalized = math.Max(0, math.Min(1, normalized))
	return 1 - normalized
}

// FusedScore combines both metrics into the primary confidence signal.
func FusedScore(cosine, euclidean float64) float64 {
	return CosineWeight*cosine + EuclideanWeight*euclidean
}

// Score computes all similarity metrics between two vectors.
func Score(a, b FeatureVector) Scores {
	cos := CosineSimilarity(a, b)
	euc := EuclideanSimilarity(a, b)
	return Scores{
		Cosine:    cos,
		Euclidean: euc,
		Fused:     FusedScore(cos, euc),
	}
}
