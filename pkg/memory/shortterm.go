package memory

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/interfaces"
	"github.com/m-mizutani/memoria/pkg/model"
	"github.com/m-mizutani/memoria/pkg/repository"
	"github.com/m-mizutani/memoria/pkg/similarity"
	"github.com/m-mizutani/memoria/pkg/utils/logging"
)

const DefaultTTL = time.Hour

// ShortTerm is session-scoped memory with expiry. Every read hides records
// whose created_at + ttl has passed, whether or not the backend reaped them.
type ShortTerm struct {
	repo       repository.Repository
	defaultTTL time.Duration
	now        func() time.Time

	embedderMu sync.RWMutex
	embedder   interfaces.Embedder
}

var _ Store = (*ShortTerm)(nil)

type ShortTermOption func(*ShortTerm)

func WithDefaultTTL(ttl time.Duration) ShortTermOption {
	return func(s *ShortTerm) {
		s.defaultTTL = ttl
	}
}

func WithClock(now func() time.Time) ShortTermOption {
	return func(s *ShortTerm) {
		s.now = now
	}
}

func WithEmbedder(embedder interfaces.Embedder) ShortTermOption {
	return func(s *ShortTerm) {
		s.embedder = embedder
	}
}

func NewShortTerm(repo repository.Repository, opts ...ShortTermOption) *ShortTerm {
	s := &ShortTerm{
		repo:       repo,
		defaultTTL: DefaultTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ShortTerm) Name() string {
	return ShortTermName
}

func (s *ShortTerm) SetEmbedder(embedder interfaces.Embedder) {
	s.embedderMu.Lock()
	defer s.embedderMu.Unlock()
	s.embedder = embedder
}

func (s *ShortTerm) getEmbedder() interfaces.Embedder {
	s.embedderMu.RLock()
	defer s.embedderMu.RUnlock()
	return s.embedder
}

func (s *ShortTerm) Store(ctx context.Context, rec *model.Record) (model.RecordID, error) {
	if rec == nil {
		return "", goerr.New("record is required")
	}

	now := s.now()
	if rec.ID == "" {
		rec.ID = model.NewRecordID()
	}
	if rec.TTL <= 0 {
		rec.TTL = s.defaultTTL
	}
	// Backends keep whole seconds, so expire_at must agree with the stored ttl
	rec.TTL = time.Duration(rec.TTLSeconds()) * time.Second
	if rec.SessionID == "" {
		rec.SessionID = model.DefaultSessionID
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	if err := s.repo.PutRecord(ctx, rec); err != nil {
		return "", goerr.Wrap(err, "failed to store short-term record",
			goerr.V("id", rec.ID), goerr.V("session_id", rec.SessionID))
	}

	logging.From(ctx).Debug("stored short-term record", "id", rec.ID, "session_id", rec.SessionID)
	return rec.ID, nil
}

func (s *ShortTerm) Retrieve(ctx context.Context, id model.RecordID) (*model.Record, error) {
	rec, err := s.repo.GetRecord(ctx, id)
	if err != nil {
		logging.From(ctx).Error("failed to retrieve short-term record", "error", err, "id", id)
		return nil, nil
	}
	if rec == nil || rec.Expired(s.now()) {
		return nil, nil
	}
	return rec, nil
}

func (s *ShortTerm) Search(ctx context.Context, vector []float32, limit int, threshold float64, filter Filter) ([]*model.ScoredHit, error) {
	records, err := s.repo.ListRecords(ctx, repository.Query{
		SessionID: filter.SessionID,
		Kind:      filter.Kind,
		ActiveAt:  s.now(),
	})
	if err != nil {
		logging.From(ctx).Error("failed to scan short-term records", "error", err, "session_id", filter.SessionID)
		return []*model.ScoredHit{}, nil
	}

	return similarity.Rank(vector, records, threshold, limit, s.Name()), nil
}

func (s *ShortTerm) SearchByText(ctx context.Context, text string, limit int, filter Filter) ([]*model.ScoredHit, error) {
	embedder := s.getEmbedder()
	if embedder == nil {
		return nil, goerr.Wrap(model.ErrConfiguration, "embedder is not set for short-term memory")
	}

	vector, err := embedder.Embed(ctx, text)
	if err != nil {
		logging.From(ctx).Error("failed to embed query", "error", err)
		return []*model.ScoredHit{}, nil
	}

	return s.Search(ctx, vector, limit, DefaultThreshold, filter)
}

func (s *ShortTerm) Delete(ctx context.Context, id model.RecordID) (bool, error) {
	existed, err := s.repo.DeleteRecord(ctx, id)
	if err != nil {
		return false, goerr.Wrap(err, "failed to delete short-term record", goerr.V("id", id))
	}
	return existed, nil
}

func (s *ShortTerm) ListBySession(ctx context.Context, sessionID string, limit int, kind model.MemoryKind) ([]*model.Record, error) {
	if limit <= 0 {
		return []*model.Record{}, nil
	}

	records, err := s.repo.ListRecords(ctx, repository.Query{
		SessionID: sessionID,
		Kind:      kind,
		ActiveAt:  s.now(),
		Limit:     limit,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list session records", goerr.V("session_id", sessionID))
	}
	return records, nil
}

func (s *ShortTerm) ClearSession(ctx context.Context, sessionID string) (int, error) {
	// Expired records are deleted too so a later read cannot resurrect them
	records, err := s.repo.ListRecords(ctx, repository.Query{SessionID: sessionID})
	if err != nil {
		return 0, goerr.Wrap(err, "failed to list session records", goerr.V("session_id", sessionID))
	}

	count := 0
	for _, rec := range records {
		existed, err := s.repo.DeleteRecord(ctx, rec.ID)
		if err != nil {
			logging.From(ctx).Warn("failed to delete record while clearing session",
				"error", err, "id", rec.ID, "session_id", sessionID)
			continue
		}
		if existed {
			count++
		}
	}

	logging.From(ctx).Info("cleared session", "session_id", sessionID, "deleted", count)
	return count, nil
}

func (s *ShortTerm) HealthCheck(ctx context.Context) bool {
	if err := s.repo.Ping(ctx); err != nil {
		logging.From(ctx).Error("short-term health check failed", "error", err)
		return false
	}
	return true
}
