package searchindex_test

import (
	"context"
	"errors"
	"hash/fnv"
	"os"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/memoria/pkg/interfaces"
	"github.com/m-mizutani/memoria/pkg/model"
	"github.com/m-mizutani/memoria/pkg/searchindex"
)

// bagOfWords embeds text into a small fixed space by hashing tokens, so texts
// sharing words point in similar directions
var bagOfWords = interfaces.EmbedFunc(func(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, 16)
	for _, tok := range searchindex.Tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%16] += 1
	}
	return vec, nil
})

func embed(t *testing.T, text string) []float32 {
	t.Helper()
	v, err := bagOfWords(context.Background(), text)
	gt.NoError(t, err)
	return v
}

func fixtures(t *testing.T) []*searchindex.Document {
	now := time.Now().UTC()
	docs := []*searchindex.Document{
		{ID: "k8s-chunk-0", DocumentID: "k8s", Title: "K8s Pipeline Guide", Content: "set up kubernetes deployment pipeline", Keywords: []string{"kubernetes", "ci"}, Kind: "context", TotalChunks: 2},
		{ID: "k8s-chunk-1", DocumentID: "k8s", ChunkNum: 1, Title: "K8s Pipeline Guide", Content: "configure helm charts for kubernetes", Keywords: []string{"kubernetes", "helm"}, Kind: "context", TotalChunks: 2},
		{ID: "pg", DocumentID: "pg", Title: "Postgres Backup", Content: "schedule nightly database backup", Keywords: []string{"postgres"}, Kind: "task", TotalChunks: 1},
	}
	for _, doc := range docs {
		doc.CreatedAt = now
		doc.UpdatedAt = now
		doc.Embedding = embed(t, doc.Title+" "+doc.Content)
	}
	return docs
}

type indexSetup func(t *testing.T) searchindex.Index

func indexes() map[string]indexSetup {
	return map[string]indexSetup{
		"memory": func(t *testing.T) searchindex.Index {
			return searchindex.NewMemory()
		},
		"chromem": func(t *testing.T) searchindex.Index {
			idx, err := searchindex.NewChromem(t.TempDir(), searchindex.WithEmbeddingFunc(bagOfWords))
			gt.NoError(t, err)
			return idx
		},
		"firestore": func(t *testing.T) searchindex.Index {
			projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
			databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")
			if projectID == "" || databaseID == "" {
				t.Skip("TEST_FIRESTORE_PROJECT_ID and TEST_FIRESTORE_DATABASE_ID must be set to run Firestore tests")
			}
			idx, err := searchindex.NewFirestore(context.Background(), projectID, databaseID, "test_long_term_memory")
			gt.NoError(t, err)
			return idx
		},
	}
}

func TestIndexUploadGetDelete(t *testing.T) {
	for name, setup := range indexes() {
		t.Run(name, func(t *testing.T) {
			idx := setup(t)
			ctx := context.Background()
			docs := fixtures(t)

			results, err := idx.Upload(ctx, docs)
			gt.NoError(t, err)
			gt.A(t, results).Length(3)
			for _, ok := range results {
				gt.True(t, ok)
			}

			got, err := idx.Get(ctx, "pg")
			gt.NoError(t, err)
			gt.V(t, got).NotNil()
			gt.Equal(t, got.Title, "Postgres Backup")
			gt.Equal(t, got.DocumentID, "pg")
			gt.A(t, got.Keywords).Length(1)

			missing, err := idx.Get(ctx, "nothing-here")
			gt.NoError(t, err)
			gt.V(t, missing).Nil()

			gt.NoError(t, idx.Delete(ctx, "pg"))
			got, err = idx.Get(ctx, "pg")
			gt.NoError(t, err)
			gt.V(t, got).Nil()

			gt.NoError(t, idx.Ping(ctx))
			gt.NoError(t, idx.Delete(ctx, "k8s-chunk-0", "k8s-chunk-1"))
		})
	}
}

func TestIndexSearchModes(t *testing.T) {
	for name, setup := range indexes() {
		t.Run(name, func(t *testing.T) {
			idx := setup(t)
			ctx := context.Background()
			_, err := idx.Upload(ctx, fixtures(t))
			gt.NoError(t, err)
			t.Cleanup(func() { _ = idx.Delete(ctx, "k8s-chunk-0", "k8s-chunk-1", "pg") })

			t.Run("vector", func(t *testing.T) {
				hits, err := idx.Search(ctx, searchindex.Query{
					Vector: embed(t, "Postgres Backup schedule nightly database backup"),
					K:      2,
				})
				gt.NoError(t, err)
				gt.A(t, hits).Longer(0)
				gt.True(t, len(hits) <= 2)
				gt.Equal(t, hits[0].Document.ID, "pg")
			})

			t.Run("text", func(t *testing.T) {
				hits, err := idx.Search(ctx, searchindex.Query{Text: "helm charts", K: 3})
				gt.NoError(t, err)
				gt.A(t, hits).Longer(0)
				gt.Equal(t, hits[0].Document.ID, "k8s-chunk-1")
			})

			t.Run("hybrid", func(t *testing.T) {
				hits, err := idx.Search(ctx, searchindex.Query{
					Text:   "kubernetes pipeline",
					Vector: embed(t, "kubernetes pipeline"),
					K:      3,
				})
				gt.NoError(t, err)
				gt.A(t, hits).Longer(0)
				gt.Equal(t, hits[0].Document.DocumentID, "k8s")
				for i := 1; i < len(hits); i++ {
					gt.True(t, hits[i-1].Score >= hits[i].Score)
				}
			})

			t.Run("kind filter", func(t *testing.T) {
				hits, err := idx.Search(ctx, searchindex.Query{
					Vector: embed(t, "kubernetes pipeline"),
					K:      3,
					Kind:   "task",
				})
				gt.NoError(t, err)
				for _, hit := range hits {
					gt.Equal(t, hit.Document.Kind, "task")
				}
			})

			t.Run("empty query", func(t *testing.T) {
				_, err := idx.Search(ctx, searchindex.Query{K: 3})
				gt.Error(t, err)
			})
		})
	}
}

func TestChromemUploadWithoutEmbedder(t *testing.T) {
	ctx := context.Background()
	idx, err := searchindex.NewChromem("")
	gt.NoError(t, err)

	t.Run("documents without vector fail individually", func(t *testing.T) {
		results, err := idx.Upload(ctx, []*searchindex.Document{
			{ID: "has-vector", Content: "with vector", Embedding: []float32{1, 0}},
			{ID: "no-vector", Content: "without vector"},
		})
		gt.NoError(t, err)
		gt.Equal(t, results, []bool{true, false})
	})

	t.Run("error when nothing is written", func(t *testing.T) {
		results, err := idx.Upload(ctx, []*searchindex.Document{
			{ID: "no-vector-2", Content: "without vector"},
		})
		gt.True(t, errors.Is(err, model.ErrConfiguration))
		gt.Equal(t, results, []bool{false})
	})
}

func TestChromemTextQueryRequiresEmbedder(t *testing.T) {
	ctx := context.Background()
	idx, err := searchindex.NewChromem("")
	gt.NoError(t, err)

	results, err := idx.Upload(ctx, []*searchindex.Document{
		{ID: "a", Content: "with vector", Embedding: []float32{1, 0}},
	})
	gt.NoError(t, err)
	gt.True(t, results[0])

	_, err = idx.Search(ctx, searchindex.Query{Text: "vector", K: 1})
	gt.True(t, errors.Is(err, model.ErrConfiguration))
}

func TestChromemGetMissing(t *testing.T) {
	ctx := context.Background()
	idx, err := searchindex.NewChromem("")
	gt.NoError(t, err)

	_, err = idx.Upload(ctx, []*searchindex.Document{
		{ID: "a", Content: "with vector", Embedding: []float32{1, 0}},
	})
	gt.NoError(t, err)

	got, err := idx.Get(ctx, "a")
	gt.NoError(t, err)
	gt.V(t, got).NotNil()

	for _, id := range []string{"b", "", "a-chunk-0"} {
		got, err := idx.Get(ctx, id)
		gt.NoError(t, err)
		gt.V(t, got).Nil()
	}
}

func TestTokenize(t *testing.T) {
	gt.Equal(t, searchindex.Tokenize("Set up CI/CD for Kubernetes!"), []string{"set", "up", "ci", "cd", "for", "kubernetes"})
	gt.Equal(t, searchindex.Tokenize("ＫＵＢＥＲＮＥＴＥＳ Straße"), []string{"kubernetes", "strasse"})
	gt.A(t, searchindex.Tokenize("  --  ")).Length(0)
}
