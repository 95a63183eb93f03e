package searchindex

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/m-mizutani/memoria/pkg/similarity"
)

// Document is one indexed entry. Long-term memory records map to a single
// chunk; ingested instructions are split into DocumentID/ChunkNum/TotalChunks.
type Document struct {
	ID              string    `json:"id"`
	DocumentID      string    `json:"document_id"`
	Title           string    `json:"title,omitempty"`
	Category        string    `json:"category,omitempty"`
	Intent          string    `json:"intent,omitempty"`
	Description     string    `json:"description,omitempty"`
	Content         string    `json:"content"`
	Keywords        []string  `json:"keywords,omitempty"`
	EstimatedEffort string    `json:"estimated_effort,omitempty"`
	ChunkNum        int       `json:"chunk_num"`
	TotalChunks     int       `json:"total_chunks"`
	Steps           string    `json:"steps,omitempty"`
	RelatedTasks    []string  `json:"related_tasks,omitempty"`
	Kind            string    `json:"kind,omitempty"`
	SessionID       string    `json:"session_id,omitempty"`
	UserID          string    `json:"user_id,omitempty"`
	Metadata        string    `json:"metadata,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Embedding       []float32 `json:"embedding,omitempty"`
}

func (x *Document) clone() *Document {
	c := *x
	c.Keywords = slices.Clone(x.Keywords)
	c.RelatedTasks = slices.Clone(x.RelatedTasks)
	c.Embedding = slices.Clone(x.Embedding)
	return &c
}

// Query selects the search mode: vector only, text only, or hybrid when both are set
type Query struct {
	Text   string
	Vector []float32
	K      int
	Kind   string
}

func (q Query) IsHybrid() bool {
	return q.Text != "" && len(q.Vector) > 0
}

type ScoredDocument struct {
	Document *Document
	Score    float64
}

// Index is a hybrid (vector + keyword) search index
type Index interface {
	// Upload upserts documents and reports success per document
	Upload(ctx context.Context, docs []*Document) ([]bool, error)

	Search(ctx context.Context, q Query) ([]*ScoredDocument, error)

	// Get returns nil without error when the document does not exist
	Get(ctx context.Context, id string) (*Document, error)

	Delete(ctx context.Context, ids ...string) error

	Ping(ctx context.Context) error
}

func sortScored(docs []*ScoredDocument) {
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Score > docs[j].Score
	})
}

func truncate(docs []*ScoredDocument, k int) []*ScoredDocument {
	if k > 0 && len(docs) > k {
		return docs[:k]
	}
	return docs
}

// rankVector scores docs by cosine similarity. Documents without a compatible
// embedding are skipped.
func rankVector(vector []float32, docs []*Document, k int) []*ScoredDocument {
	var scored []*ScoredDocument
	for _, doc := range docs {
		if len(doc.Embedding) == 0 {
			continue
		}
		score, err := similarity.Compare(vector, doc.Embedding)
		if err != nil {
			continue
		}
		scored = append(scored, &ScoredDocument{Document: doc, Score: score})
	}
	sortScored(scored)
	return truncate(scored, k)
}

// rankText scores docs lexically and drops those sharing no term with text
func rankText(text string, docs []*Document, k int) []*ScoredDocument {
	scores := scoreLexical(text, docs)

	var scored []*ScoredDocument
	for i, doc := range docs {
		if scores[i] <= 0 {
			continue
		}
		scored = append(scored, &ScoredDocument{Document: doc, Score: scores[i]})
	}
	sortScored(scored)
	return truncate(scored, k)
}

// combine merges vector and text results according to the query mode
func combine(q Query, vector, text []*ScoredDocument) []*ScoredDocument {
	switch {
	case q.IsHybrid():
		return truncate(fuse(vector, text), q.K)
	case len(q.Vector) > 0:
		return truncate(vector, q.K)
	default:
		return truncate(text, q.K)
	}
}
