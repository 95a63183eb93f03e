package memory

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/m-mizutani/memoria/pkg/model"
	"github.com/m-mizutani/memoria/pkg/searchindex"
	"github.com/m-mizutani/memoria/pkg/utils/logging"
)

const instructionExcerptRunes = 500

// SearchTaskInstructions finds ingested instruction documents relevant to
// description. Chunks of the same document are collapsed to the best one.
func (l *LongTerm) SearchTaskInstructions(ctx context.Context, description string, limit int, includeSteps bool) ([]*model.TaskInstruction, error) {
	logger := logging.From(ctx)
	if limit <= 0 {
		return []*model.TaskInstruction{}, nil
	}

	query := searchindex.Query{
		Text: description,
		K:    limit * 3,
	}
	if embedder := l.getEmbedder(); embedder != nil {
		vector, err := embedder.Embed(ctx, description)
		if err != nil {
			logger.Warn("failed to embed instruction query, falling back to keyword search", "error", err)
		} else {
			query.Vector = vector
		}
	}

	docs, err := l.index.Search(ctx, query)
	if err != nil {
		logger.Error("task instruction search failed", "error", err)
		return []*model.TaskInstruction{}, nil
	}

	best := map[string]*searchindex.ScoredDocument{}
	var order []string
	for _, doc := range docs {
		if isPlainRecord(doc.Document) {
			continue
		}
		key := doc.Document.DocumentID
		if key == "" {
			key = doc.Document.ID
		}
		cur, ok := best[key]
		if !ok {
			order = append(order, key)
		}
		if !ok || doc.Score > cur.Score {
			best[key] = doc
		}
	}

	instructions := make([]*model.TaskInstruction, 0, len(order))
	for _, key := range order {
		instructions = append(instructions, toInstruction(ctx, key, best[key], includeSteps))
	}

	sort.SliceStable(instructions, func(i, j int) bool {
		return instructions[i].Score > instructions[j].Score
	})
	if len(instructions) > limit {
		instructions = instructions[:limit]
	}
	return instructions, nil
}

func toInstruction(ctx context.Context, documentID string, hit *searchindex.ScoredDocument, includeSteps bool) *model.TaskInstruction {
	doc := hit.Document
	inst := &model.TaskInstruction{
		DocumentID:      documentID,
		Title:           doc.Title,
		Category:        doc.Category,
		Intent:          doc.Intent,
		Description:     doc.Description,
		Content:         excerpt(doc.Content, instructionExcerptRunes),
		Keywords:        doc.Keywords,
		EstimatedEffort: doc.EstimatedEffort,
		RelatedTasks:    doc.RelatedTasks,
		ChunkNum:        doc.ChunkNum,
		TotalChunks:     doc.TotalChunks,
		Score:           hit.Score,
	}

	if includeSteps && doc.Steps != "" {
		if err := json.Unmarshal([]byte(doc.Steps), &inst.Steps); err != nil {
			logging.From(ctx).Warn("failed to decode instruction steps", "error", err, "id", doc.ID)
			inst.Steps = nil
		}
	}
	return inst
}

// isPlainRecord reports whether doc is a memory record rather than an
// instruction chunk. Records are indexed under their own ID while chunks
// carry a "{document}-chunk-{n}" ID.
func isPlainRecord(doc *searchindex.Document) bool {
	return doc.Title == "" && (doc.DocumentID == "" || doc.DocumentID == doc.ID)
}

func excerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
