package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/interfaces"
	"github.com/m-mizutani/memoria/pkg/model"
	"github.com/m-mizutani/memoria/pkg/searchindex"
	"github.com/m-mizutani/memoria/pkg/utils/logging"
)

const DefaultBatchSize = 100

// UseCase loads task-instruction files into the long-term search index
type UseCase struct {
	index     searchindex.Index
	embedder  interfaces.Embedder
	chunkSize int
	batchSize int
	progress  func(done, total int)
	now       func() time.Time
}

type Option func(*UseCase)

func WithEmbedder(embedder interfaces.Embedder) Option {
	return func(uc *UseCase) {
		uc.embedder = embedder
	}
}

func WithChunkSize(n int) Option {
	return func(uc *UseCase) {
		if n > 0 {
			uc.chunkSize = n
		}
	}
}

func WithBatchSize(n int) Option {
	return func(uc *UseCase) {
		if n > 0 {
			uc.batchSize = n
		}
	}
}

// WithProgress is called after each prepared document chunk
func WithProgress(fn func(done, total int)) Option {
	return func(uc *UseCase) {
		uc.progress = fn
	}
}

func New(index searchindex.Index, opts ...Option) *UseCase {
	uc := &UseCase{
		index:     index,
		chunkSize: DefaultChunkSize,
		batchSize: DefaultBatchSize,
		progress:  func(int, int) {},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

type Summary struct {
	Files     int `json:"files"`
	Skipped   int `json:"skipped"`
	Documents int `json:"documents"`
	Uploaded  int `json:"uploaded"`
	Failed    int `json:"failed"`
}

func isInstructionFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// Run ingests every instruction file matching pattern, e.g. "instructions/**/*.json".
// Unreadable files are logged and skipped.
func (uc *UseCase) Run(ctx context.Context, pattern string) (*Summary, error) {
	logger := logging.From(ctx)

	paths, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid file pattern", goerr.V("pattern", pattern))
	}

	summary := &Summary{}
	var instructions []*Instruction
	for _, path := range paths {
		if !isInstructionFile(path) {
			continue
		}
		inst, err := loadFile(path)
		if err != nil {
			logger.Error("skip instruction file", "error", err, "path", path)
			summary.Skipped++
			continue
		}
		logger.Debug("loaded instruction file", "path", path)
		instructions = append(instructions, inst)
		summary.Files++
	}

	docs := uc.Prepare(ctx, instructions)
	summary.Documents = len(docs)

	for start := 0; start < len(docs); start += uc.batchSize {
		end := min(start+uc.batchSize, len(docs))
		batch := docs[start:end]

		results, err := uc.index.Upload(ctx, batch)
		succeeded := 0
		for _, ok := range results {
			if ok {
				succeeded++
			}
		}
		summary.Uploaded += succeeded
		summary.Failed += len(batch) - succeeded

		if err != nil {
			return summary, goerr.Wrap(err, "failed to upload batch", goerr.V("batch", start/uc.batchSize+1))
		}
		logger.Info("uploaded batch", "batch", start/uc.batchSize+1, "succeeded", succeeded, "size", len(batch))
	}

	return summary, nil
}

// Prepare chunks and embeds instructions into index documents. A failed
// embedding leaves the chunk without a vector.
func (uc *UseCase) Prepare(ctx context.Context, instructions []*Instruction) []*searchindex.Document {
	logger := logging.From(ctx)
	now := uc.now()

	type pending struct {
		inst   *Instruction
		id     string
		chunks []string
	}
	var (
		work  []pending
		total int
	)
	for _, inst := range instructions {
		id := inst.ID
		if id == "" {
			id = uuid.New().String()
		}
		chunks := Chunk(inst.Content, uc.chunkSize)
		work = append(work, pending{inst: inst, id: id, chunks: chunks})
		total += len(chunks)
	}

	docs := make([]*searchindex.Document, 0, total)
	for _, w := range work {
		for n, chunk := range w.chunks {
			doc := &searchindex.Document{
				ID:              fmt.Sprintf("%s-chunk-%d", w.id, n),
				DocumentID:      w.id,
				Title:           w.inst.Title,
				Category:        w.inst.Category,
				Intent:          w.inst.Intent,
				Description:     w.inst.Description,
				Content:         chunk,
				Keywords:        w.inst.Keywords,
				EstimatedEffort: w.inst.EstimatedEffort,
				ChunkNum:        n,
				TotalChunks:     len(w.chunks),
				Steps:           w.inst.Steps,
				RelatedTasks:    w.inst.RelatedTasks,
				Kind:            string(model.KindContext),
				CreatedAt:       now,
				UpdatedAt:       now,
			}

			if uc.embedder != nil {
				text := w.inst.Title + " " + w.inst.Description + " " + chunk
				vector, err := uc.embedder.Embed(ctx, text)
				if err != nil {
					logger.Warn("failed to embed chunk, indexing without vector", "error", err, "id", doc.ID)
				} else {
					doc.Embedding = vector
				}
			}

			docs = append(docs, doc)
			uc.progress(len(docs), total)
		}
	}

	return docs
}
