package repository

import (
	"context"
	"time"

	"github.com/m-mizutani/memoria/pkg/model"
)

// Query narrows ListRecords. Zero values disable the corresponding filter.
type Query struct {
	SessionID string
	Kind      model.MemoryKind

	// ActiveAt excludes records already expired at this time
	ActiveAt time.Time

	// Limit <= 0 means unbounded
	Limit int
}

func (q Query) match(rec *model.Record) bool {
	if q.SessionID != "" && rec.SessionID != q.SessionID {
		return false
	}
	if q.Kind != "" && rec.Kind != q.Kind {
		return false
	}
	if !q.ActiveAt.IsZero() && rec.Expired(q.ActiveAt) {
		return false
	}
	return true
}

// Repository is a keyed document store for memory records
type Repository interface {
	// PutRecord upserts a record by ID
	PutRecord(ctx context.Context, rec *model.Record) error

	// GetRecord returns nil without error when the record does not exist
	GetRecord(ctx context.Context, id model.RecordID) (*model.Record, error)

	// ListRecords returns matching records, newest created_at first
	ListRecords(ctx context.Context, q Query) ([]*model.Record, error)

	// DeleteRecord reports whether the record existed
	DeleteRecord(ctx context.Context, id model.RecordID) (bool, error)

	Ping(ctx context.Context) error
}
