package memory

import (
	"math"
	"sort"
)

// CosineDistance returns 1 - cos(a, b), in [0, 2]. Zero vectors and vectors
// of different length are treated as orthogonal (distance 1).
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return 1
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}

	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// Relevance converts a cosine distance into a percentage: distance 0 is 100,
// distance 2 is 0. The result is clamped to [0, 100] and rounded to one
// decimal place.
func Relevance(distance float64) float64 {
	score := (2 - distance) / 2 * 100
	if score < 0 || math.IsNaN(score) {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return math.Round(score*10) / 10
}

// RankHits sorts hits by ascending distance, breaking ties by earlier
// creation and then by ID, and truncates to limit.
func RankHits(hits []Hit, limit int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if !a.Record.CreatedAt.Equal(b.Record.CreatedAt) {
			return a.Record.CreatedAt.Before(b.Record.CreatedAt)
		}
		return a.Record.ID < b.Record.ID
	})

	if limit >= 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
