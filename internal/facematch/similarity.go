package facematch

import "math"

// CosineSimilarity returns the cosine of the angle between a and b in [-1, 1].
// Mismatched lengths, empty or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	cos := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	return max(-1, min(1, cos))
}

// Similarity remaps cosine similarity into [0,1] as (cos+1)/2.
// Invalid input (mismatched or zero vectors) yields 0.
func Similarity(a, b []float32) float64 {
	if !validPair(a, b) {
		return 0
	}
	return (CosineSimilarity(a, b) + 1) / 2
}

// CosineDistance is 1 - cos in [0, 2]. Invalid input yields the maximum, 2.
func CosineDistance(a, b []float32) float64 {
	if !validPair(a, b) {
		return 2
	}
	return 1 - CosineSimilarity(a, b)
}

// DistanceToSimilarity converts a cosine distance (pgvector <=>, HNSW) to the
// [0,1] similarity scale used by Similarity.
func DistanceToSimilarity(d float64) float64 {
	return max(0, min(1, 1-d/2))
}

func validPair(a, b []float32) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	var na, nb float64
	for i := range a {
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return na > 0 && nb > 0
}
