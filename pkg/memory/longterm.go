package memory

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/interfaces"
	"github.com/m-mizutani/memoria/pkg/model"
	"github.com/m-mizutani/memoria/pkg/searchindex"
	"github.com/m-mizutani/memoria/pkg/utils/logging"
)

// LongTerm is permanent memory behind a hybrid search index. Writes are
// best-effort and searches degrade to empty results on failure. It is not
// session-partitioned: session listing and clearing are no-ops.
type LongTerm struct {
	index searchindex.Index
	now   func() time.Time

	embedderMu sync.RWMutex
	embedder   interfaces.Embedder
}

var _ Store = (*LongTerm)(nil)

type LongTermOption func(*LongTerm)

func WithLongTermEmbedder(embedder interfaces.Embedder) LongTermOption {
	return func(l *LongTerm) {
		l.embedder = embedder
	}
}

func WithLongTermClock(now func() time.Time) LongTermOption {
	return func(l *LongTerm) {
		l.now = now
	}
}

func NewLongTerm(index searchindex.Index, opts ...LongTermOption) *LongTerm {
	l := &LongTerm{
		index: index,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *LongTerm) Name() string {
	return LongTermName
}

func (l *LongTerm) SetEmbedder(embedder interfaces.Embedder) {
	l.embedderMu.Lock()
	defer l.embedderMu.Unlock()
	l.embedder = embedder
}

func (l *LongTerm) getEmbedder() interfaces.Embedder {
	l.embedderMu.RLock()
	defer l.embedderMu.RUnlock()
	return l.embedder
}

func (l *LongTerm) Store(ctx context.Context, rec *model.Record) (model.RecordID, error) {
	if rec == nil {
		return "", goerr.New("record is required")
	}

	logger := logging.From(ctx)
	now := l.now()
	if rec.ID == "" {
		rec.ID = model.NewRecordID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.TTL = 0
	rec.UpdatedAt = now

	if len(rec.Embedding) == 0 {
		if embedder := l.getEmbedder(); embedder != nil {
			vector, err := embedder.Embed(ctx, rec.Content)
			if err != nil {
				logger.Warn("failed to embed long-term record", "error", err, "id", rec.ID)
			} else {
				rec.Embedding = vector
			}
		}
	}

	doc, err := recordToDocument(rec)
	if err != nil {
		logger.Error("failed to convert long-term record", "error", err, "id", rec.ID)
		return rec.ID, nil
	}

	results, err := l.index.Upload(ctx, []*searchindex.Document{doc})
	switch {
	case err != nil:
		logger.Error("failed to upload long-term record", "error", err, "id", rec.ID)
	case len(results) != 1 || !results[0]:
		logger.Error("index rejected long-term record", "id", rec.ID)
	default:
		logger.Debug("stored long-term record", "id", rec.ID)
	}

	return rec.ID, nil
}

func (l *LongTerm) Retrieve(ctx context.Context, id model.RecordID) (*model.Record, error) {
	doc, err := l.index.Get(ctx, string(id))
	if err != nil {
		logging.From(ctx).Error("failed to retrieve long-term record", "error", err, "id", id)
		return nil, nil
	}
	if doc == nil {
		return nil, nil
	}
	return documentToRecord(doc), nil
}

func (l *LongTerm) hits(docs []*searchindex.ScoredDocument) []*model.ScoredHit {
	hits := make([]*model.ScoredHit, 0, len(docs))
	for _, doc := range docs {
		hits = append(hits, &model.ScoredHit{
			Record: documentToRecord(doc.Document),
			Score:  doc.Score,
			Source: l.Name(),
		})
	}
	return hits
}

// Search over-fetches 2*limit nearest neighbours from the index, then applies
// threshold and limit. filter.SessionID is ignored.
func (l *LongTerm) Search(ctx context.Context, vector []float32, limit int, threshold float64, filter Filter) ([]*model.ScoredHit, error) {
	if limit <= 0 {
		return []*model.ScoredHit{}, nil
	}

	docs, err := l.index.Search(ctx, searchindex.Query{
		Vector: vector,
		K:      limit * 2,
		Kind:   string(filter.Kind),
	})
	if err != nil {
		logging.From(ctx).Error("long-term vector search failed", "error", err)
		return []*model.ScoredHit{}, nil
	}

	hits := make([]*model.ScoredHit, 0, limit)
	for _, hit := range l.hits(docs) {
		if hit.Score < threshold {
			continue
		}
		hits = append(hits, hit)
		if len(hits) >= limit {
			break
		}
	}
	return hits, nil
}

// SearchByText runs a hybrid query. The fused score is trusted as-is, so no
// threshold applies.
func (l *LongTerm) SearchByText(ctx context.Context, text string, limit int, filter Filter) ([]*model.ScoredHit, error) {
	embedder := l.getEmbedder()
	if embedder == nil {
		return nil, goerr.Wrap(model.ErrConfiguration, "embedder is not set for long-term memory")
	}
	if limit <= 0 {
		return []*model.ScoredHit{}, nil
	}

	vector, err := embedder.Embed(ctx, text)
	if err != nil {
		logging.From(ctx).Error("failed to embed query", "error", err)
		return []*model.ScoredHit{}, nil
	}

	docs, err := l.index.Search(ctx, searchindex.Query{
		Text:   text,
		Vector: vector,
		K:      limit * 2,
		Kind:   string(filter.Kind),
	})
	if err != nil {
		logging.From(ctx).Error("long-term hybrid search failed", "error", err)
		return []*model.ScoredHit{}, nil
	}

	hits := l.hits(docs)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// TextSearch is a keyword-only query that needs no embedder
func (l *LongTerm) TextSearch(ctx context.Context, text string, limit int, filter Filter) ([]*model.ScoredHit, error) {
	if limit <= 0 {
		return []*model.ScoredHit{}, nil
	}

	docs, err := l.index.Search(ctx, searchindex.Query{
		Text: text,
		K:    limit,
		Kind: string(filter.Kind),
	})
	if err != nil {
		logging.From(ctx).Error("long-term text search failed", "error", err)
		return []*model.ScoredHit{}, nil
	}
	return l.hits(docs), nil
}

func (l *LongTerm) Delete(ctx context.Context, id model.RecordID) (bool, error) {
	doc, err := l.index.Get(ctx, string(id))
	if err != nil {
		return false, goerr.Wrap(err, "failed to look up long-term record", goerr.V("id", id))
	}
	if doc == nil {
		return false, nil
	}

	if err := l.index.Delete(ctx, string(id)); err != nil {
		return false, goerr.Wrap(err, "failed to delete long-term record", goerr.V("id", id))
	}
	return true, nil
}

func (l *LongTerm) ListBySession(ctx context.Context, sessionID string, limit int, kind model.MemoryKind) ([]*model.Record, error) {
	logging.From(ctx).Debug("long-term memory is not session-partitioned", "session_id", sessionID)
	return []*model.Record{}, nil
}

func (l *LongTerm) ClearSession(ctx context.Context, sessionID string) (int, error) {
	logging.From(ctx).Debug("long-term memory is not session-partitioned", "session_id", sessionID)
	return 0, nil
}

func (l *LongTerm) HealthCheck(ctx context.Context) bool {
	if err := l.index.Ping(ctx); err != nil {
		logging.From(ctx).Error("long-term health check failed", "error", err)
		return false
	}
	return true
}
