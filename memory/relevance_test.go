package memory_test

import (
	"math"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/becomeliminal/symbiote/memory"
)

func TestRelevance(t *testing.T) {
	cases := []struct {
		distance float64
		want     float64
	}{
		{0, 100},
		{1, 50},
		{2, 0},
		{0.3, 85},
		{0.123, 93.9},
		{-0.0001, 100},
		{2.5, 0},
		{math.NaN(), 0},
	}
	for _, tc := range cases {
		gt.Equal(t, memory.Relevance(tc.distance), tc.want)
	}
}

func TestCosineDistance(t *testing.T) {
	gt.True(t, math.Abs(memory.CosineDistance([]float32{1, 0}, []float32{2, 0})) < 1e-9)
	gt.True(t, math.Abs(memory.CosineDistance([]float32{1, 0}, []float32{0, 3})-1) < 1e-9)
	gt.True(t, math.Abs(memory.CosineDistance([]float32{1, 1}, []float32{-1, -1})-2) < 1e-9)
	gt.Equal(t, memory.CosineDistance([]float32{0, 0}, []float32{1, 0}), 1.0)
	gt.Equal(t, memory.CosineDistance([]float32{1}, []float32{1, 0}), 1.0)
}

func TestRankHits(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := func(id string, offset time.Duration) *memory.Record {
		return &memory.Record{ID: id, CreatedAt: base.Add(offset)}
	}
	hits := []memory.Hit{
		{Record: rec("far", 0), Distance: 0.9},
		{Record: rec("late", 2*time.Second), Distance: 0.1},
		{Record: rec("b", time.Second), Distance: 0.1},
		{Record: rec("a", time.Second), Distance: 0.1},
		{Record: rec("near", 3*time.Second), Distance: 0.05},
	}

	ranked := memory.RankHits(hits, 4)
	gt.A(t, ranked).Length(4)

	var ids []string
	for _, h := range ranked {
		ids = append(ids, h.Record.ID)
	}
	gt.Equal(t, ids, []string{"near", "a", "b", "late"})
}
