package recall

import (
	"context"
	"math"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/memory"
	"github.com/m-mizutani/memoria/pkg/model"
	"github.com/m-mizutani/memoria/pkg/policy"
	"github.com/m-mizutani/memoria/pkg/utils/logging"
)

type RememberInput struct {
	Content   string
	Kind      string
	SessionID string
	UserID    string
	Metadata  map[string]any
	Persist   bool
	TTL       time.Duration
}

type RememberResult struct {
	ID           model.RecordID            `json:"memory_id"`
	SessionID    string                    `json:"session_id"`
	Kind         model.MemoryKind          `json:"memory_type"`
	HasEmbedding bool                      `json:"has_embedding"`
	Persisted    bool                      `json:"persisted"`
	Stores       map[string]model.RecordID `json:"stores"`
}

// Remember stores content through the composite. Embedding is best-effort and
// the retention policy may override persistence and TTL.
func (uc *UseCase) Remember(ctx context.Context, input RememberInput) (*RememberResult, error) {
	if input.Content == "" {
		return nil, goerr.New("content is required")
	}

	logger := logging.From(ctx)

	kind, err := model.ParseMemoryKind(input.Kind)
	if err != nil {
		logger.Debug("unknown memory kind, using context", "kind", input.Kind)
		kind = model.KindContext
	}

	rec := &model.Record{
		ID:        model.NewRecordID(),
		Content:   input.Content,
		Kind:      kind,
		SessionID: input.SessionID,
		UserID:    input.UserID,
		Metadata:  input.Metadata,
		TTL:       input.TTL,
	}
	if rec.SessionID == "" {
		rec.SessionID = model.DefaultSessionID
	}

	if uc.embedder != nil {
		vector, err := uc.embedder.Embed(ctx, input.Content)
		if err != nil {
			logger.Warn("failed to embed memory, storing without embedding", "error", err)
		} else {
			rec.Embedding = vector
		}
	}

	decision, err := uc.policy.Evaluate(ctx, policy.NewInput(rec, input.Persist))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to apply retention policy")
	}
	if decision.TTL > 0 {
		rec.TTL = decision.TTL
	}

	ids, err := uc.composite.Store(ctx, rec, decision.Persist)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, goerr.Wrap(model.ErrConfiguration, "no memory store accepted the record")
	}

	_, persisted := ids[memory.LongTermName]
	return &RememberResult{
		ID:           rec.ID,
		SessionID:    rec.SessionID,
		Kind:         rec.Kind,
		HasEmbedding: len(rec.Embedding) > 0,
		Persisted:    persisted,
		Stores:       ids,
	}, nil
}

type RecallInput struct {
	Query     string
	SessionID string
	Kind      model.MemoryKind
	Limit     int

	// ExcludeShortTerm and ExcludeLongTerm narrow the search; both stores are searched by default
	ExcludeShortTerm bool
	ExcludeLongTerm  bool
}

type Memory struct {
	ID        model.RecordID   `json:"id"`
	Content   string           `json:"content"`
	Kind      model.MemoryKind `json:"memory_type"`
	Score     float64          `json:"similarity_score"`
	Source    string           `json:"source"`
	CreatedAt time.Time        `json:"created_at"`
}

// Recall finds memories similar to the query. Short-term results are limited
// to the session; long-term memory spans sessions.
func (uc *UseCase) Recall(ctx context.Context, input RecallInput) ([]*Memory, error) {
	if input.Query == "" {
		return nil, goerr.New("query is required")
	}
	if uc.embedder == nil {
		return nil, goerr.Wrap(model.ErrConfiguration, "embedder is required to recall memory")
	}
	if input.Limit <= 0 {
		input.Limit = DefaultLimit
	}

	vector, err := uc.embedder.Embed(ctx, input.Query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query")
	}

	hits, err := uc.composite.Search(ctx, vector, input.Limit, RecallThreshold, memory.SearchOptions{
		IncludeShortTerm: !input.ExcludeShortTerm,
		IncludeLongTerm:  !input.ExcludeLongTerm,
		Filter: memory.Filter{
			SessionID: input.SessionID,
			Kind:      input.Kind,
		},
	})
	if err != nil {
		return nil, err
	}

	memories := make([]*Memory, 0, len(hits))
	for _, hit := range hits {
		memories = append(memories, &Memory{
			ID:        hit.Record.ID,
			Content:   hit.Record.Content,
			Kind:      hit.Record.Kind,
			Score:     roundScore(hit.Score),
			Source:    hit.Source,
			CreatedAt: hit.Record.CreatedAt,
		})
	}
	return memories, nil
}

func roundScore(score float64) float64 {
	return math.Round(score*1000) / 1000
}
