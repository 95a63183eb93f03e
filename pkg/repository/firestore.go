package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultCollection = "short_term_memory"

// Firestore stores records as documents keyed by record ID. expire_at is meant to be
// bound to a Firestore TTL policy; until the policy removes a document, ListRecords
// and the callers skip it in-process.
type Firestore struct {
	client     *firestore.Client
	collection string
}

var _ Repository = (*Firestore)(nil)

type FirestoreOption func(*Firestore)

func WithCollection(name string) FirestoreOption {
	return func(f *Firestore) {
		f.collection = name
	}
}

func NewFirestore(ctx context.Context, projectID, databaseID string, opts ...FirestoreOption) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID))
	}

	f := &Firestore{
		client:     client,
		collection: defaultCollection,
	}
	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

type recordDoc struct {
	ID         string             `firestore:"id"`
	SessionID  string             `firestore:"session_id"`
	Kind       string             `firestore:"memory_type"`
	Content    string             `firestore:"content"`
	Embedding  firestore.Vector32 `firestore:"embedding,omitempty"`
	Metadata   map[string]any     `firestore:"metadata,omitempty"`
	UserID     string             `firestore:"user_id,omitempty"`
	TTLSeconds int64              `firestore:"ttl"`
	CreatedAt  time.Time          `firestore:"created_at"`
	UpdatedAt  time.Time          `firestore:"updated_at"`
	ExpireAt   *time.Time         `firestore:"expire_at,omitempty"`
}

func toRecordDoc(rec *model.Record) *recordDoc {
	doc := &recordDoc{
		ID:         string(rec.ID),
		SessionID:  rec.SessionID,
		Kind:       string(rec.Kind),
		Content:    rec.Content,
		Embedding:  rec.Embedding,
		Metadata:   rec.Metadata,
		UserID:     rec.UserID,
		TTLSeconds: rec.TTLSeconds(),
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
	if at, ok := rec.ExpiresAt(); ok {
		doc.ExpireAt = &at
	}
	return doc
}

func (x *recordDoc) toRecord() *model.Record {
	return &model.Record{
		ID:        model.RecordID(x.ID),
		SessionID: x.SessionID,
		Kind:      model.MemoryKind(x.Kind),
		Content:   x.Content,
		Embedding: x.Embedding,
		Metadata:  x.Metadata,
		UserID:    x.UserID,
		TTL:       time.Duration(x.TTLSeconds) * time.Second,
		CreatedAt: x.CreatedAt,
		UpdatedAt: x.UpdatedAt,
	}
}

func (f *Firestore) PutRecord(ctx context.Context, rec *model.Record) error {
	if rec == nil || rec.ID == "" {
		return goerr.New("record ID is required")
	}

	if _, err := f.client.Collection(f.collection).Doc(string(rec.ID)).Set(ctx, toRecordDoc(rec)); err != nil {
		return goerr.Wrap(err, "failed to put record", goerr.V("id", rec.ID))
	}
	return nil
}

func (f *Firestore) GetRecord(ctx context.Context, id model.RecordID) (*model.Record, error) {
	snap, err := f.client.Collection(f.collection).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to get record", goerr.V("id", id))
	}

	var doc recordDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode record", goerr.V("id", id))
	}
	return doc.toRecord(), nil
}

func (f *Firestore) ListRecords(ctx context.Context, q Query) ([]*model.Record, error) {
	query := f.client.Collection(f.collection).Query
	if q.SessionID != "" {
		query = query.Where("session_id", "==", q.SessionID)
	}
	if q.Kind != "" {
		query = query.Where("memory_type", "==", string(q.Kind))
	}
	query = query.OrderBy("created_at", firestore.Desc)

	// Expired documents are filtered after fetch, so the limit cannot be pushed down
	// when ActiveAt is set.
	if q.Limit > 0 && q.ActiveAt.IsZero() {
		query = query.Limit(q.Limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var records []*model.Record
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate records", goerr.V("session_id", q.SessionID))
		}

		var doc recordDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode record", goerr.V("doc_id", snap.Ref.ID))
		}

		rec := doc.toRecord()
		if !q.match(rec) {
			continue
		}
		records = append(records, rec)

		if q.Limit > 0 && len(records) >= q.Limit {
			break
		}
	}

	return records, nil
}

func (f *Firestore) DeleteRecord(ctx context.Context, id model.RecordID) (bool, error) {
	_, err := f.client.Collection(f.collection).Doc(string(id)).Delete(ctx, firestore.Exists)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, goerr.Wrap(err, "failed to delete record", goerr.V("id", id))
	}
	return true, nil
}

func (f *Firestore) Ping(ctx context.Context) error {
	iter := f.client.Collection(f.collection).Limit(1).Documents(ctx)
	defer iter.Stop()

	if _, err := iter.Next(); err != nil && err != iterator.Done {
		return goerr.Wrap(err, "failed to ping firestore", goerr.V("collection", f.collection))
	}
	return nil
}
