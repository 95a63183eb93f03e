package searchindex

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/interfaces"
	"github.com/m-mizutani/memoria/pkg/model"
	"github.com/philippgille/chromem-go"
)

const defaultChromemCollection = "long_term_memory"

// Chromem is an Index on an embedded chromem-go database. An empty path keeps
// the database in memory.
type Chromem struct {
	db         *chromem.DB
	collection *chromem.Collection
	hasEmbed   bool
}

var _ Index = (*Chromem)(nil)

type chromemConfig struct {
	collection string
	embedder   interfaces.Embedder
	compress   bool
}

type ChromemOption func(*chromemConfig)

// WithEmbeddingFunc lets the collection embed documents uploaded without a
// vector and text queries
func WithEmbeddingFunc(embedder interfaces.Embedder) ChromemOption {
	return func(c *chromemConfig) {
		c.embedder = embedder
	}
}

func WithChromemCollection(name string) ChromemOption {
	return func(c *chromemConfig) {
		c.collection = name
	}
}

func WithCompression(enabled bool) ChromemOption {
	return func(c *chromemConfig) {
		c.compress = enabled
	}
}

func NewChromem(path string, opts ...ChromemOption) (*Chromem, error) {
	cfg := &chromemConfig{collection: defaultChromemCollection}
	for _, opt := range opts {
		opt(cfg)
	}

	db := chromem.NewDB()
	if path != "" {
		persistent, err := chromem.NewPersistentDB(path, cfg.compress)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open chromem database", goerr.V("path", path))
		}
		db = persistent
	}

	// chromem falls back to a remote embedding API when no function is given, so
	// an explicit failing function keeps the index offline.
	embed := chromem.EmbeddingFunc(func(ctx context.Context, text string) ([]float32, error) {
		return nil, goerr.Wrap(model.ErrConfiguration, "embedder is not configured for chromem index")
	})
	if cfg.embedder != nil {
		embed = cfg.embedder.Embed
	}

	coll, err := db.GetOrCreateCollection(cfg.collection, nil, embed)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open chromem collection", goerr.V("collection", cfg.collection))
	}

	return &Chromem{
		db:         db,
		collection: coll,
		hasEmbed:   cfg.embedder != nil,
	}, nil
}

func toChromemDocument(doc *Document) (chromem.Document, error) {
	keywords, err := json.Marshal(doc.Keywords)
	if err != nil {
		return chromem.Document{}, goerr.Wrap(err, "failed to marshal keywords")
	}
	related, err := json.Marshal(doc.RelatedTasks)
	if err != nil {
		return chromem.Document{}, goerr.Wrap(err, "failed to marshal related tasks")
	}

	return chromem.Document{
		ID:        doc.ID,
		Content:   doc.Content,
		Embedding: doc.Embedding,
		Metadata: map[string]string{
			"document_id":      doc.DocumentID,
			"title":            doc.Title,
			"category":         doc.Category,
			"intent":           doc.Intent,
			"description":      doc.Description,
			"keywords":         string(keywords),
			"estimated_effort": doc.EstimatedEffort,
			"chunk_num":        strconv.Itoa(doc.ChunkNum),
			"total_chunks":     strconv.Itoa(doc.TotalChunks),
			"steps":            doc.Steps,
			"related_tasks":    string(related),
			"kind":             doc.Kind,
			"session_id":       doc.SessionID,
			"user_id":          doc.UserID,
			"metadata":         doc.Metadata,
			"created_at":       doc.CreatedAt.Format(time.RFC3339Nano),
			"updated_at":       doc.UpdatedAt.Format(time.RFC3339Nano),
		},
	}, nil
}

func fromChromem(id, content string, meta map[string]string, embedding []float32) *Document {
	doc := &Document{
		ID:              id,
		Content:         content,
		DocumentID:      meta["document_id"],
		Title:           meta["title"],
		Category:        meta["category"],
		Intent:          meta["intent"],
		Description:     meta["description"],
		EstimatedEffort: meta["estimated_effort"],
		Steps:           meta["steps"],
		Kind:            meta["kind"],
		SessionID:       meta["session_id"],
		UserID:          meta["user_id"],
		Metadata:        meta["metadata"],
		Embedding:       embedding,
	}
	doc.ChunkNum, _ = strconv.Atoi(meta["chunk_num"])
	doc.TotalChunks, _ = strconv.Atoi(meta["total_chunks"])
	doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, meta["created_at"])
	doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, meta["updated_at"])
	_ = json.Unmarshal([]byte(meta["keywords"]), &doc.Keywords)
	_ = json.Unmarshal([]byte(meta["related_tasks"]), &doc.RelatedTasks)
	return doc
}

func (c *Chromem) Upload(ctx context.Context, docs []*Document) ([]bool, error) {
	results := make([]bool, len(docs))
	var lastErr error

	for i, doc := range docs {
		if doc == nil || doc.ID == "" {
			continue
		}
		cdoc, err := toChromemDocument(doc)
		if err != nil {
			lastErr = err
			continue
		}
		if err := c.collection.AddDocument(ctx, cdoc); err != nil {
			lastErr = goerr.Wrap(err, "failed to add document", goerr.V("id", doc.ID))
			continue
		}
		results[i] = true
	}

	// Per-document failures are reported through results; the error only
	// surfaces when nothing was written.
	if lastErr != nil && !anyTrue(results) {
		return results, lastErr
	}
	return results, nil
}

func anyTrue(flags []bool) bool {
	for _, f := range flags {
		if f {
			return true
		}
	}
	return false
}

func (c *Chromem) Search(ctx context.Context, q Query) ([]*ScoredDocument, error) {
	if q.Text == "" && len(q.Vector) == 0 {
		return nil, goerr.New("either text or vector is required")
	}

	// chromem rejects nResults larger than the collection
	n := min(q.K, c.collection.Count())
	if n <= 0 {
		return nil, nil
	}

	var where map[string]string
	if q.Kind != "" {
		where = map[string]string{"kind": q.Kind}
	}

	var vector, text []*ScoredDocument
	if len(q.Vector) > 0 {
		results, err := c.collection.QueryEmbedding(ctx, q.Vector, n, where, nil)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to query chromem by vector")
		}
		vector = toScored(results)
	}

	if q.Text != "" {
		var pool []*Document
		switch {
		case c.hasEmbed:
			results, err := c.collection.Query(ctx, q.Text, n, where, nil)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to query chromem by text")
			}
			for _, hit := range toScored(results) {
				pool = append(pool, hit.Document)
			}
		case len(vector) > 0:
			for _, hit := range vector {
				pool = append(pool, hit.Document)
			}
		default:
			return nil, goerr.Wrap(model.ErrConfiguration, "text query on chromem index requires an embedder")
		}
		text = rankText(q.Text, pool, q.K)
	}

	return combine(q, vector, text), nil
}

func toScored(results []chromem.Result) []*ScoredDocument {
	scored := make([]*ScoredDocument, 0, len(results))
	for _, r := range results {
		scored = append(scored, &ScoredDocument{
			Document: fromChromem(r.ID, r.Content, r.Metadata, r.Embedding),
			Score:    float64(r.Similarity),
		})
	}
	return scored
}

// isChromemNotFound matches the untyped error chromem-go v0.7.0 returns from
// GetByID for a missing document; TestChromemGetMissing fails if it changes.
func isChromemNotFound(err error, id string) bool {
	return err.Error() == fmt.Sprintf("document with ID '%v' not found", id)
}

func (c *Chromem) Get(ctx context.Context, id string) (*Document, error) {
	if id == "" {
		return nil, nil
	}

	doc, err := c.collection.GetByID(ctx, id)
	if err != nil {
		if isChromemNotFound(err, id) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to get chromem document", goerr.V("id", id))
	}
	return fromChromem(doc.ID, doc.Content, doc.Metadata, doc.Embedding), nil
}

func (c *Chromem) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return goerr.Wrap(err, "failed to delete chromem documents", goerr.V("ids", ids))
	}
	return nil
}

func (c *Chromem) Ping(ctx context.Context) error {
	if c.db.GetCollection(c.collection.Name, nil) == nil {
		return goerr.New("chromem collection is missing", goerr.V("collection", c.collection.Name))
	}
	return nil
}
