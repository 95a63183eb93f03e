package memory

import (
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/model"
	"github.com/m-mizutani/memoria/pkg/searchindex"
)

// recordToDocument maps a long-term record to a single-chunk index document
func recordToDocument(rec *model.Record) (*searchindex.Document, error) {
	var metadata string
	if len(rec.Metadata) > 0 {
		raw, err := json.Marshal(rec.Metadata)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to marshal metadata", goerr.V("id", rec.ID))
		}
		metadata = string(raw)
	}

	return &searchindex.Document{
		ID:          string(rec.ID),
		DocumentID:  string(rec.ID),
		Content:     rec.Content,
		ChunkNum:    0,
		TotalChunks: 1,
		Kind:        string(rec.Kind),
		SessionID:   rec.SessionID,
		UserID:      rec.UserID,
		Metadata:    metadata,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		Embedding:   rec.Embedding,
	}, nil
}

func documentToRecord(doc *searchindex.Document) *model.Record {
	rec := &model.Record{
		ID:        model.RecordID(doc.ID),
		Content:   doc.Content,
		Kind:      model.MemoryKind(doc.Kind),
		Embedding: doc.Embedding,
		SessionID: doc.SessionID,
		UserID:    doc.UserID,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
		Metadata:  map[string]any{},
	}
	if doc.Metadata != "" {
		_ = json.Unmarshal([]byte(doc.Metadata), &rec.Metadata)
		if rec.Metadata == nil {
			rec.Metadata = map[string]any{}
		}
	}

	// Ingested instruction chunks carry their structure outside metadata
	if doc.Title != "" {
		rec.Metadata["title"] = doc.Title
	}
	if doc.DocumentID != "" && doc.DocumentID != doc.ID {
		rec.Metadata["document_id"] = doc.DocumentID
		rec.Metadata["chunk_num"] = doc.ChunkNum
		rec.Metadata["total_chunks"] = doc.TotalChunks
	}
	return rec
}
