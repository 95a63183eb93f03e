package searchindex

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFirestoreCollection = "long_term_memory"
	distanceField              = "vector_distance"

	// Firestore caps array-contains-any at 30 values
	maxTermsPerQuery = 30
	maxTermsPerDoc   = 500
)

// Firestore is an Index on a Firestore collection. Vector search uses
// FindNearest with cosine distance, which requires a vector index on the
// embedding field. Keyword search matches folded terms stored with each document.
type Firestore struct {
	client     *firestore.Client
	collection string
}

var _ Index = (*Firestore)(nil)

func NewFirestore(ctx context.Context, projectID, databaseID, collection string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID))
	}

	if collection == "" {
		collection = defaultFirestoreCollection
	}

	return &Firestore{
		client:     client,
		collection: collection,
	}, nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

type indexDoc struct {
	ID              string             `firestore:"id"`
	DocumentID      string             `firestore:"document_id"`
	Title           string             `firestore:"title"`
	Category        string             `firestore:"category"`
	Intent          string             `firestore:"intent"`
	Description     string             `firestore:"description"`
	Content         string             `firestore:"content"`
	Keywords        []string           `firestore:"keywords"`
	EstimatedEffort string             `firestore:"estimated_effort"`
	ChunkNum        int                `firestore:"chunk_num"`
	TotalChunks     int                `firestore:"total_chunks"`
	Steps           string             `firestore:"steps"`
	RelatedTasks    []string           `firestore:"related_tasks"`
	Kind            string             `firestore:"kind"`
	SessionID       string             `firestore:"session_id"`
	UserID          string             `firestore:"user_id"`
	Metadata        string             `firestore:"metadata"`
	CreatedAt       time.Time          `firestore:"created_at"`
	UpdatedAt       time.Time          `firestore:"updated_at"`
	Embedding       firestore.Vector32 `firestore:"embedding,omitempty"`
	Terms           []string           `firestore:"terms"`
}

func toIndexDoc(doc *Document) *indexDoc {
	terms := uniqueTokens(searchableText(doc))
	if len(terms) > maxTermsPerDoc {
		terms = terms[:maxTermsPerDoc]
	}

	return &indexDoc{
		ID:              doc.ID,
		DocumentID:      doc.DocumentID,
		Title:           doc.Title,
		Category:        doc.Category,
		Intent:          doc.Intent,
		Description:     doc.Description,
		Content:         doc.Content,
		Keywords:        doc.Keywords,
		EstimatedEffort: doc.EstimatedEffort,
		ChunkNum:        doc.ChunkNum,
		TotalChunks:     doc.TotalChunks,
		Steps:           doc.Steps,
		RelatedTasks:    doc.RelatedTasks,
		Kind:            doc.Kind,
		SessionID:       doc.SessionID,
		UserID:          doc.UserID,
		Metadata:        doc.Metadata,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
		Embedding:       doc.Embedding,
		Terms:           terms,
	}
}

func (x *indexDoc) toDocument() *Document {
	return &Document{
		ID:              x.ID,
		DocumentID:      x.DocumentID,
		Title:           x.Title,
		Category:        x.Category,
		Intent:          x.Intent,
		Description:     x.Description,
		Content:         x.Content,
		Keywords:        x.Keywords,
		EstimatedEffort: x.EstimatedEffort,
		ChunkNum:        x.ChunkNum,
		TotalChunks:     x.TotalChunks,
		Steps:           x.Steps,
		RelatedTasks:    x.RelatedTasks,
		Kind:            x.Kind,
		SessionID:       x.SessionID,
		UserID:          x.UserID,
		Metadata:        x.Metadata,
		CreatedAt:       x.CreatedAt,
		UpdatedAt:       x.UpdatedAt,
		Embedding:       x.Embedding,
	}
}

func (f *Firestore) Upload(ctx context.Context, docs []*Document) ([]bool, error) {
	results := make([]bool, len(docs))

	bw := f.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, len(docs))
	for i, doc := range docs {
		if doc == nil || doc.ID == "" {
			continue
		}
		job, err := bw.Set(f.client.Collection(f.collection).Doc(doc.ID), toIndexDoc(doc))
		if err != nil {
			continue
		}
		jobs[i] = job
	}
	bw.End()

	var lastErr error
	for i, job := range jobs {
		if job == nil {
			continue
		}
		if _, err := job.Results(); err != nil {
			lastErr = goerr.Wrap(err, "failed to write document", goerr.V("id", docs[i].ID))
			continue
		}
		results[i] = true
	}

	if lastErr != nil && !anyTrue(results) {
		return results, lastErr
	}
	return results, nil
}

func (f *Firestore) baseQuery(kind string) firestore.Query {
	query := f.client.Collection(f.collection).Query
	if kind != "" {
		query = query.Where("kind", "==", kind)
	}
	return query
}

func (f *Firestore) Search(ctx context.Context, q Query) ([]*ScoredDocument, error) {
	if q.Text == "" && len(q.Vector) == 0 {
		return nil, goerr.New("either text or vector is required")
	}
	if q.K <= 0 {
		return nil, nil
	}

	var vector, text []*ScoredDocument
	if len(q.Vector) > 0 {
		hits, err := f.searchVector(ctx, q)
		if err != nil {
			return nil, err
		}
		vector = hits
	}

	if q.Text != "" {
		pool, err := f.searchTerms(ctx, q)
		if err != nil {
			return nil, err
		}
		text = rankText(q.Text, pool, q.K)
	}

	return combine(q, vector, text), nil
}

func (f *Firestore) searchVector(ctx context.Context, q Query) ([]*ScoredDocument, error) {
	vq := f.baseQuery(q.Kind).FindNearest("embedding", firestore.Vector32(q.Vector), q.K,
		firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{DistanceResultField: distanceField})

	iter := vq.Documents(ctx)
	defer iter.Stop()

	var hits []*ScoredDocument
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to run vector query", goerr.V("collection", f.collection))
		}

		var doc indexDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode document", goerr.V("id", snap.Ref.ID))
		}

		distance, _ := snap.Data()[distanceField].(float64)
		hits = append(hits, &ScoredDocument{
			Document: doc.toDocument(),
			Score:    1 - distance,
		})
	}

	return hits, nil
}

func (f *Firestore) searchTerms(ctx context.Context, q Query) ([]*Document, error) {
	terms := uniqueTokens(q.Text)
	if len(terms) == 0 {
		return nil, nil
	}
	if len(terms) > maxTermsPerQuery {
		terms = terms[:maxTermsPerQuery]
	}

	values := make([]any, len(terms))
	for i, t := range terms {
		values[i] = t
	}

	// Over-fetch so lexical rescoring has a pool to choose from
	iter := f.baseQuery(q.Kind).Where("terms", "array-contains-any", values).Limit(q.K * 4).Documents(ctx)
	defer iter.Stop()

	var docs []*Document
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to run keyword query", goerr.V("collection", f.collection))
		}

		var doc indexDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode document", goerr.V("id", snap.Ref.ID))
		}
		docs = append(docs, doc.toDocument())
	}

	return docs, nil
}

func (f *Firestore) Get(ctx context.Context, id string) (*Document, error) {
	snap, err := f.client.Collection(f.collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to get document", goerr.V("id", id))
	}

	var doc indexDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode document", goerr.V("id", id))
	}
	return doc.toDocument(), nil
}

func (f *Firestore) Delete(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if _, err := f.client.Collection(f.collection).Doc(id).Delete(ctx); err != nil {
			return goerr.Wrap(err, "failed to delete document", goerr.V("id", id))
		}
	}
	return nil
}

func (f *Firestore) Ping(ctx context.Context) error {
	iter := f.client.Collection(f.collection).Limit(1).Documents(ctx)
	defer iter.Stop()

	if _, err := iter.Next(); err != nil && err != iterator.Done {
		return goerr.Wrap(err, "failed to ping firestore", goerr.V("collection", f.collection))
	}
	return nil
}
