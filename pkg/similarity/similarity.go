package similarity

import (
	"math"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/model"
)

// Compare returns the cosine similarity of a and b. Zero-magnitude vectors score 0.
func Compare(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, goerr.Wrap(model.ErrDimensionMismatch, "cannot compare vectors",
			goerr.V("left", len(a)), goerr.V("right", len(b)))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Cosine is Compare with mismatched dimensions scoring 0
func Cosine(a, b []float32) float64 {
	score, err := Compare(a, b)
	if err != nil {
		return 0
	}
	return score
}

// Rank scores candidates against query and returns at most limit hits with
// score >= threshold, highest first. Records without an embedding or with a
// different dimensionality are skipped. Equal scores keep candidate order.
func Rank(query []float32, candidates []*model.Record, threshold float64, limit int, source string) []*model.ScoredHit {
	if limit <= 0 {
		return nil
	}

	hits := make([]*model.ScoredHit, 0, len(candidates))
	for _, rec := range candidates {
		if rec == nil || len(rec.Embedding) == 0 {
			continue
		}

		score, err := Compare(query, rec.Embedding)
		if err != nil || score < threshold {
			continue
		}

		hits = append(hits, &model.ScoredHit{
			Record: rec,
			Score:  score,
			Source: source,
		})
	}

	SortHits(hits)

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// SortHits orders hits by score descending, preserving the order of ties
func SortHits(hits []*model.ScoredHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
}
