package memory

import (
	"context"

	"github.com/m-mizutani/memoria/pkg/interfaces"
	"github.com/m-mizutani/memoria/pkg/model"
)

const (
	ShortTermName = "short_term"
	LongTermName  = "long_term"
)

const (
	DefaultSearchLimit  = 10
	DefaultThreshold    = 0.7
	DefaultListLimit    = 100
	DefaultHistoryLimit = 20
	DefaultContextLimit = 5
)

// Filter narrows a search. Empty fields match everything.
type Filter struct {
	Kind      model.MemoryKind
	SessionID string
}

// Store is the operation set shared by short-term and long-term memory
type Store interface {
	Name() string
	SetEmbedder(embedder interfaces.Embedder)

	// Store upserts rec and returns its ID
	Store(ctx context.Context, rec *model.Record) (model.RecordID, error)

	// Retrieve returns nil when the record does not exist
	Retrieve(ctx context.Context, id model.RecordID) (*model.Record, error)

	Search(ctx context.Context, vector []float32, limit int, threshold float64, filter Filter) ([]*model.ScoredHit, error)

	// SearchByText fails with model.ErrConfiguration when no embedder is set
	SearchByText(ctx context.Context, text string, limit int, filter Filter) ([]*model.ScoredHit, error)

	// Delete reports whether the record existed
	Delete(ctx context.Context, id model.RecordID) (bool, error)

	ListBySession(ctx context.Context, sessionID string, limit int, kind model.MemoryKind) ([]*model.Record, error)

	// ClearSession returns the number of records actually deleted
	ClearSession(ctx context.Context, sessionID string) (int, error)

	HealthCheck(ctx context.Context) bool
}
