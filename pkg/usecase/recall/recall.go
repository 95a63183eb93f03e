package recall

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/interfaces"
	"github.com/m-mizutani/memoria/pkg/memory"
	"github.com/m-mizutani/memoria/pkg/model"
	"github.com/m-mizutani/memoria/pkg/policy"
)

const (
	RecallThreshold = 0.6
	DefaultLimit    = 5
)

type historyStore interface {
	ConversationHistory(ctx context.Context, sessionID string, limit int) ([]model.ConversationTurn, error)
}

type instructionStore interface {
	SearchTaskInstructions(ctx context.Context, description string, limit int, includeSteps bool) ([]*model.TaskInstruction, error)
}

// UseCase serves memory operations for the CLI and MCP tools
type UseCase struct {
	composite *memory.Composite
	embedder  interfaces.Embedder
	policy    *policy.Engine
}

type Option func(*UseCase)

func WithEmbedder(embedder interfaces.Embedder) Option {
	return func(uc *UseCase) {
		uc.embedder = embedder
	}
}

func WithPolicy(engine *policy.Engine) Option {
	return func(uc *UseCase) {
		uc.policy = engine
	}
}

func New(composite *memory.Composite, opts ...Option) *UseCase {
	uc := &UseCase{composite: composite}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

func (uc *UseCase) HasEmbedder() bool {
	return uc.embedder != nil
}

func (uc *UseCase) shortTerm() (memory.Store, error) {
	st := uc.composite.ShortTerm()
	if st == nil {
		return nil, goerr.Wrap(model.ErrConfiguration, "short-term memory is not configured")
	}
	return st, nil
}

// Clear removes every record of a session from short-term memory
func (uc *UseCase) Clear(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, goerr.New("session_id is required")
	}
	st, err := uc.shortTerm()
	if err != nil {
		return 0, err
	}
	return st.ClearSession(ctx, sessionID)
}

func (uc *UseCase) History(ctx context.Context, sessionID string, limit int) ([]model.ConversationTurn, error) {
	if sessionID == "" {
		return nil, goerr.New("session_id is required")
	}
	if limit <= 0 {
		limit = memory.DefaultHistoryLimit
	}

	st, err := uc.shortTerm()
	if err != nil {
		return nil, err
	}
	hs, ok := st.(historyStore)
	if !ok {
		return nil, goerr.Wrap(model.ErrConfiguration, "short-term memory does not keep conversation history")
	}
	return hs.ConversationHistory(ctx, sessionID, limit)
}

func (uc *UseCase) Promote(ctx context.Context, id model.RecordID) (model.RecordID, bool, error) {
	if id == "" {
		return "", false, goerr.New("memory id is required")
	}
	return uc.composite.PromoteToLongTerm(ctx, id)
}

func (uc *UseCase) Health(ctx context.Context) map[string]bool {
	return uc.composite.HealthCheck(ctx)
}

func (uc *UseCase) TaskInstructions(ctx context.Context, description string, limit int, includeSteps bool) ([]*model.TaskInstruction, error) {
	if description == "" {
		return nil, goerr.New("description is required")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	is, ok := uc.composite.LongTerm().(instructionStore)
	if !ok {
		return nil, goerr.Wrap(model.ErrConfiguration, "long-term memory is not configured")
	}
	return is.SearchTaskInstructions(ctx, description, limit, includeSteps)
}
