package memory

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/model"
	"github.com/m-mizutani/memoria/pkg/utils/logging"
)

// Composite coordinates short-term and long-term memory. Either store may be
// absent; operations that need an absent store degrade instead of failing.
type Composite struct {
	shortTerm Store
	longTerm  Store
	normalize bool
}

type CompositeOption func(*Composite)

func WithShortTerm(store Store) CompositeOption {
	return func(c *Composite) {
		c.shortTerm = store
	}
}

func WithLongTerm(store Store) CompositeOption {
	return func(c *Composite) {
		c.longTerm = store
	}
}

// WithScoreNormalization rescales each store's scores to [0, 1] before merging
func WithScoreNormalization(enabled bool) CompositeOption {
	return func(c *Composite) {
		c.normalize = enabled
	}
}

func NewComposite(opts ...CompositeOption) *Composite {
	c := &Composite{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Composite) ShortTerm() Store { return c.shortTerm }
func (c *Composite) LongTerm() Store  { return c.longTerm }

type SearchOptions struct {
	IncludeShortTerm bool
	IncludeLongTerm  bool
	Filter           Filter
}

func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		IncludeShortTerm: true,
		IncludeLongTerm:  true,
	}
}

func (c *Composite) stores(opts SearchOptions) []Store {
	var stores []Store
	if opts.IncludeShortTerm && c.shortTerm != nil {
		stores = append(stores, c.shortTerm)
	}
	if opts.IncludeLongTerm && c.longTerm != nil {
		stores = append(stores, c.longTerm)
	}
	return stores
}

// Store writes rec to short-term memory, and to long-term memory too when
// persist is set. The result maps store name to the assigned ID.
func (c *Composite) Store(ctx context.Context, rec *model.Record, persist bool) (map[string]model.RecordID, error) {
	if rec == nil {
		return nil, goerr.New("record is required")
	}

	// Both tiers share one ID
	if rec.ID == "" {
		rec.ID = model.NewRecordID()
	}

	ids := map[string]model.RecordID{}
	if c.shortTerm != nil {
		id, err := c.shortTerm.Store(ctx, rec.Clone())
		if err != nil {
			return nil, goerr.Wrap(err, "failed to store to short-term memory")
		}
		ids[c.shortTerm.Name()] = id
	}

	if persist && c.longTerm != nil {
		id, err := c.longTerm.Store(ctx, rec.Clone())
		if err != nil {
			return ids, goerr.Wrap(err, "failed to store to long-term memory")
		}
		ids[c.longTerm.Name()] = id
	}

	return ids, nil
}

func (c *Composite) Search(ctx context.Context, vector []float32, limit int, threshold float64, opts SearchOptions) ([]*model.ScoredHit, error) {
	var groups [][]*model.ScoredHit
	for _, store := range c.stores(opts) {
		hits, err := store.Search(ctx, vector, limit, threshold, opts.Filter)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to search store", goerr.V("store", store.Name()))
		}
		groups = append(groups, hits)
	}

	return c.merge(groups, limit), nil
}

// SearchByText skips stores that have no embedder configured
func (c *Composite) SearchByText(ctx context.Context, text string, limit int, opts SearchOptions) ([]*model.ScoredHit, error) {
	var groups [][]*model.ScoredHit
	for _, store := range c.stores(opts) {
		hits, err := store.SearchByText(ctx, text, limit, opts.Filter)
		if err != nil {
			if errors.Is(err, model.ErrConfiguration) {
				logging.From(ctx).Warn("skip store without embedder", "store", store.Name(), "error", err)
				continue
			}
			return nil, goerr.Wrap(err, "failed to search store by text", goerr.V("store", store.Name()))
		}
		groups = append(groups, hits)
	}

	return c.merge(groups, limit), nil
}

// merge sorts all hits by score, keeps the first hit per distinct content and truncates
func (c *Composite) merge(groups [][]*model.ScoredHit, limit int) []*model.ScoredHit {
	var all []*model.ScoredHit
	for _, hits := range groups {
		if c.normalize {
			hits = normalizeScores(hits)
		}
		all = append(all, hits...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Score > all[j].Score
	})

	seen := map[string]struct{}{}
	merged := make([]*model.ScoredHit, 0, len(all))
	for _, hit := range all {
		if limit <= 0 || len(merged) >= limit {
			break
		}
		if _, ok := seen[hit.Record.Content]; ok {
			continue
		}
		seen[hit.Record.Content] = struct{}{}
		merged = append(merged, hit)
	}
	return merged
}

// normalizeScores applies min-max scaling. A flat group maps to 1.0.
func normalizeScores(hits []*model.ScoredHit) []*model.ScoredHit {
	if len(hits) == 0 {
		return hits
	}

	lo, hi := hits[0].Score, hits[0].Score
	for _, hit := range hits[1:] {
		lo = min(lo, hit.Score)
		hi = max(hi, hit.Score)
	}

	out := make([]*model.ScoredHit, len(hits))
	for i, hit := range hits {
		score := 1.0
		if hi > lo {
			score = (hit.Score - lo) / (hi - lo)
		}
		out[i] = &model.ScoredHit{Record: hit.Record, Score: score, Source: hit.Source}
	}
	return out
}

// PromoteToLongTerm copies a short-term record into long-term memory as a
// permanent record. ok is false when a store is missing or the record does
// not exist in short-term memory.
func (c *Composite) PromoteToLongTerm(ctx context.Context, id model.RecordID) (model.RecordID, bool, error) {
	if c.shortTerm == nil || c.longTerm == nil {
		return "", false, nil
	}

	rec, err := c.shortTerm.Retrieve(ctx, id)
	if err != nil {
		return "", false, goerr.Wrap(err, "failed to retrieve record for promotion", goerr.V("id", id))
	}
	if rec == nil {
		return "", false, nil
	}

	promoted := rec.Clone()
	promoted.TTL = 0
	promoted.UpdatedAt = time.Now().UTC()

	newID, err := c.longTerm.Store(ctx, promoted)
	if err != nil {
		return "", false, goerr.Wrap(err, "failed to promote record", goerr.V("id", id))
	}

	logging.From(ctx).Info("promoted record to long-term memory", "id", id, "long_term_id", newID)
	return newID, true, nil
}

// HealthCheck reports health per configured store
func (c *Composite) HealthCheck(ctx context.Context) map[string]bool {
	status := map[string]bool{}
	if c.shortTerm != nil {
		status[c.shortTerm.Name()] = c.shortTerm.HealthCheck(ctx)
	}
	if c.longTerm != nil {
		status[c.longTerm.Name()] = c.longTerm.HealthCheck(ctx)
	}
	return status
}
