package similarity_test

import (
	"errors"
	"math"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/memoria/pkg/model"
	"github.com/m-mizutani/memoria/pkg/similarity"
)

func near(t *testing.T, actual, expect float64) {
	t.Helper()
	if math.Abs(actual-expect) > 1e-3 {
		t.Errorf("expected %f, got %f", expect, actual)
	}
}

func TestCosine(t *testing.T) {
	t.Run("identical vectors", func(t *testing.T) {
		v := []float32{0.3, -1.2, 4.5}
		near(t, similarity.Cosine(v, v), 1.0)
	})

	t.Run("zero vector scores exactly zero", func(t *testing.T) {
		gt.Equal(t, similarity.Cosine([]float32{1, 2}, []float32{0, 0}), 0.0)
		gt.Equal(t, similarity.Cosine([]float32{0, 0}, []float32{0, 0}), 0.0)
	})

	t.Run("orthogonal and opposite", func(t *testing.T) {
		near(t, similarity.Cosine([]float32{1, 0}, []float32{0, 1}), 0)
		near(t, similarity.Cosine([]float32{1, 0}, []float32{-1, 0}), -1)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := similarity.Compare([]float32{1, 0}, []float32{1, 0, 0})
		gt.Error(t, err)
		gt.True(t, errors.Is(err, model.ErrDimensionMismatch))
		gt.Equal(t, similarity.Cosine([]float32{1, 0}, []float32{1, 0, 0}), 0.0)
	})
}

func record(id string, emb ...float32) *model.Record {
	return &model.Record{ID: model.RecordID(id), Content: id, Embedding: emb}
}

func TestRank(t *testing.T) {
	candidates := []*model.Record{
		record("a", 1, 0),
		record("b", 0, 1),
		record("c", 0.9, 0.1),
	}

	hits := similarity.Rank([]float32{1, 0}, candidates, 0.5, 2, "test")
	gt.A(t, hits).Length(2)
	gt.Equal(t, hits[0].Record.ID, model.RecordID("a"))
	gt.Equal(t, hits[1].Record.ID, model.RecordID("c"))
	near(t, hits[0].Score, 1.0)
	near(t, hits[1].Score, 0.994)
	gt.Equal(t, hits[0].Source, "test")
}

func TestRankSkipsUnusableCandidates(t *testing.T) {
	candidates := []*model.Record{
		record("no-embedding"),
		record("wrong-dim", 1, 0, 0),
		nil,
		record("ok", 1, 0),
	}

	hits := similarity.Rank([]float32{1, 0}, candidates, 0, 10, "test")
	gt.A(t, hits).Length(1)
	gt.Equal(t, hits[0].Record.ID, model.RecordID("ok"))
}

func TestRankProperties(t *testing.T) {
	var candidates []*model.Record
	for i := range 50 {
		x := float32(i%7) - 3
		y := float32(i%5) - 2
		candidates = append(candidates, record(string(rune('A'+i)), x, y))
	}

	for _, threshold := range []float64{-1, 0, 0.3, 0.8, 1.1} {
		for _, limit := range []int{0, 1, 5, 100} {
			hits := similarity.Rank([]float32{0.5, 0.25}, candidates, threshold, limit, "p")
			gt.True(t, len(hits) <= limit)
			for i, hit := range hits {
				gt.True(t, hit.Score >= threshold)
				if i > 0 {
					gt.True(t, hits[i-1].Score >= hit.Score)
				}
			}
		}
	}
}

func TestRankKeepsInsertionOrderOnTies(t *testing.T) {
	candidates := []*model.Record{
		record("first", 2, 0),
		record("second", 1, 0),
		record("third", 3, 0),
	}

	hits := similarity.Rank([]float32{1, 0}, candidates, 0, 3, "t")
	gt.A(t, hits).Length(3)
	gt.Equal(t, hits[0].Record.ID, model.RecordID("first"))
	gt.Equal(t, hits[1].Record.ID, model.RecordID("second"))
	gt.Equal(t, hits[2].Record.ID, model.RecordID("third"))
}
