package memory

import (
	"context"
	"errors"
	"maps"
	"slices"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/model"
	"github.com/m-mizutani/memoria/pkg/utils/logging"
)

// StoreConversationTurn stores one message of a session as a conversation record
func (s *ShortTerm) StoreConversationTurn(ctx context.Context, sessionID, role, content string, embedding []float32, metadata map[string]any) (model.RecordID, error) {
	meta := make(map[string]any, len(metadata)+1)
	maps.Copy(meta, metadata)
	meta["role"] = role

	rec := &model.Record{
		ID:        model.NewRecordID(),
		Content:   content,
		Kind:      model.KindConversation,
		Embedding: embedding,
		SessionID: sessionID,
		Metadata:  meta,
	}

	id, err := s.Store(ctx, rec)
	if err != nil {
		return "", goerr.Wrap(err, "failed to store conversation turn", goerr.V("session_id", sessionID))
	}
	return id, nil
}

// ConversationHistory returns up to limit most recent turns in chronological order
func (s *ShortTerm) ConversationHistory(ctx context.Context, sessionID string, limit int) ([]model.ConversationTurn, error) {
	records, err := s.ListBySession(ctx, sessionID, limit, model.KindConversation)
	if err != nil {
		return nil, err
	}

	slices.Reverse(records)

	turns := make([]model.ConversationTurn, 0, len(records))
	for _, rec := range records {
		turns = append(turns, model.ConversationTurn{
			Role:    rec.MetaString("role", model.RoleUser),
			Content: rec.Content,
		})
	}
	return turns, nil
}

// RelevantContext returns contents of session records similar to query. It is
// empty rather than an error when no embedder is configured.
func (s *ShortTerm) RelevantContext(ctx context.Context, query, sessionID string, limit int) ([]string, error) {
	hits, err := s.SearchByText(ctx, query, limit, Filter{SessionID: sessionID})
	if err != nil {
		if errors.Is(err, model.ErrConfiguration) {
			logging.From(ctx).Debug("skip relevant context lookup without embedder")
			return []string{}, nil
		}
		return nil, err
	}

	contents := make([]string, 0, len(hits))
	for _, hit := range hits {
		contents = append(contents, hit.Record.Content)
	}
	return contents, nil
}
