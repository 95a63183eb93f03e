package policy

import (
	"context"
	"encoding/json"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/model"
	"github.com/m-mizutani/memoria/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

const retentionQuery = "data.retention"

// Input is the document a retention policy sees as `input`
type Input struct {
	Kind          string         `json:"kind"`
	SessionID     string         `json:"session_id"`
	Content       string         `json:"content"`
	ContentLength int            `json:"content_length"`
	Metadata      map[string]any `json:"metadata"`
	Persist       bool           `json:"persist"`
}

// Decision is the outcome for one record. A zero TTL keeps the store default.
type Decision struct {
	Persist bool
	TTL     time.Duration
}

// Engine evaluates the `retention` package. A nil *Engine, or one loaded from
// a directory without a retention package, keeps the caller's choice.
type Engine struct {
	query *rego.PreparedEvalQuery
}

type printHook struct {
	ctx context.Context
}

func (h *printHook) Print(_ print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

func New(ctx context.Context, dir string) (*Engine, error) {
	modules, err := loadModules(dir)
	if err != nil {
		return nil, err
	}
	if len(modules) == 0 {
		logging.From(ctx).Warn("no retention policy found", "dir", dir)
		return &Engine{}, nil
	}

	query, err := prepareQuery(ctx, modules, retentionQuery)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare retention query", goerr.V("dir", dir))
	}
	return &Engine{query: query}, nil
}

func NewInput(rec *model.Record, persist bool) Input {
	return Input{
		Kind:          string(rec.Kind),
		SessionID:     rec.SessionID,
		Content:       rec.Content,
		ContentLength: len([]rune(rec.Content)),
		Metadata:      rec.Metadata,
		Persist:       persist,
	}
}

func (e *Engine) Evaluate(ctx context.Context, input Input) (*Decision, error) {
	decision := &Decision{Persist: input.Persist}
	if e == nil || e.query == nil {
		return decision, nil
	}

	// rego evaluates plain JSON values only
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal policy input")
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal policy input")
	}

	rs, err := e.query.Eval(ctx, rego.EvalInput(doc), rego.EvalPrintHook(&printHook{ctx: ctx}))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate retention policy", goerr.V("kind", input.Kind))
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return decision, nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, goerr.New("retention policy result is not an object")
	}

	if v, ok := data["persist"]; ok {
		persist, ok := v.(bool)
		if !ok {
			return nil, goerr.New("persist must be a boolean", goerr.V("value", v))
		}
		decision.Persist = persist
	}

	if v, ok := data["ttl"]; ok {
		seconds, err := toSeconds(v)
		if err != nil {
			return nil, err
		}
		decision.TTL = time.Duration(seconds) * time.Second
	}

	logging.From(ctx).Debug("retention decision",
		"kind", input.Kind, "persist", decision.Persist, "ttl", decision.TTL)
	return decision, nil
}

func toSeconds(v any) (int64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, goerr.New("ttl must be a number", goerr.V("value", v))
	}
	seconds, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil {
			return 0, goerr.Wrap(err, "invalid ttl", goerr.V("value", v))
		}
		seconds = int64(f)
	}
	if seconds < 0 {
		return 0, goerr.New("ttl must not be negative", goerr.V("value", v))
	}
	return seconds, nil
}
