package plan

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"math"
	"strings"
	"text/template"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/adapter"
	"github.com/m-mizutani/memoria/pkg/memory"
	"github.com/m-mizutani/memoria/pkg/model"
	"github.com/m-mizutani/memoria/pkg/utils/logging"
	"github.com/m-mizutani/memoria/pkg/utils/schema"
	"google.golang.org/genai"
)

//go:embed prompt/intent.md
var intentPromptRaw string

//go:embed prompt/plan.md
var planPromptRaw string

var (
	intentPromptTmpl = template.Must(template.New("intent").Parse(intentPromptRaw))
	planPromptTmpl   = template.Must(template.New("plan").Parse(planPromptRaw))
)

const (
	similarTaskThreshold = 0.7
	similarTaskLimit     = 5
	promptSimilarTasks   = 3
	instructionLimit     = 3
	unknownIntent        = "unknown"
	statusPlanned        = "planned"
)

type instructionStore interface {
	SearchTaskInstructions(ctx context.Context, description string, limit int, includeSteps bool) ([]*model.TaskInstruction, error)
}

// UseCase decides the next best action for a task: it analyzes intent, looks
// up similar past tasks and instructions, and generates a stored plan.
type UseCase struct {
	composite *memory.Composite
	gemini    adapter.Gemini
	now       func() time.Time
}

type Option func(*UseCase)

func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

func New(composite *memory.Composite, gemini adapter.Gemini, opts ...Option) *UseCase {
	uc := &UseCase{
		composite: composite,
		gemini:    gemini,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

type SimilarTask struct {
	ID     model.RecordID `json:"id"`
	Task   string         `json:"task"`
	Intent string         `json:"intent"`
	Score  float64        `json:"similarity_score"`
	Source string         `json:"source"`
}

type Result struct {
	TaskID              model.RecordID           `json:"task_id"`
	PlanID              model.RecordID           `json:"plan_id"`
	Task                string                   `json:"task"`
	Intent              string                   `json:"intent"`
	SimilarTasks        []SimilarTask            `json:"similar_tasks"`
	Instructions        []*model.TaskInstruction `json:"task_instructions,omitempty"`
	Steps               []model.Step             `json:"steps"`
	CreatedAt           time.Time                `json:"created_at"`
	EmbeddingDimensions int                      `json:"embedding_dimensions"`
}

func (uc *UseCase) NextBestAction(ctx context.Context, task string) (*Result, error) {
	if task == "" {
		return nil, goerr.New("task is required")
	}
	if uc.gemini == nil {
		return nil, goerr.Wrap(model.ErrConfiguration, "gemini is required to plan")
	}

	logger := logging.From(ctx)
	now := uc.now()

	logger.Info("embedding task", "task", truncate(task, 100))
	vector, err := uc.gemini.Embed(ctx, task)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed task")
	}

	intent := uc.analyzeIntent(ctx, task)

	hits, err := uc.composite.Search(ctx, vector, similarTaskLimit, similarTaskThreshold, memory.SearchOptions{
		IncludeShortTerm: true,
		IncludeLongTerm:  true,
		Filter:           memory.Filter{Kind: model.KindTask},
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search similar tasks")
	}

	similar := make([]SimilarTask, 0, len(hits))
	for _, hit := range hits {
		similar = append(similar, SimilarTask{
			ID:     hit.Record.ID,
			Task:   hit.Record.Content,
			Intent: hit.Record.MetaString("intent", unknownIntent),
			Score:  math.Round(hit.Score*1000) / 1000,
			Source: hit.Source,
		})
	}

	var instructions []*model.TaskInstruction
	if is, ok := uc.composite.LongTerm().(instructionStore); ok {
		instructions, err = is.SearchTaskInstructions(ctx, task, instructionLimit, false)
		if err != nil {
			logger.Warn("failed to search task instructions", "error", err)
		}
	}

	steps := uc.generatePlan(ctx, task, intent, similar, instructions)

	taskRec := &model.Record{
		ID:        model.NewRecordID(),
		Content:   task,
		Kind:      model.KindTask,
		Embedding: vector,
		CreatedAt: now,
		Metadata: map[string]any{
			"intent":             intent,
			"similar_task_count": len(similar),
		},
	}
	if _, err := uc.composite.Store(ctx, taskRec, true); err != nil {
		return nil, goerr.Wrap(err, "failed to store task")
	}

	referenced := make([]any, 0, len(similar))
	for _, s := range similar {
		referenced = append(referenced, map[string]any{"id": string(s.ID), "similarity": s.Score})
	}
	planSteps, err := toMetadataList(steps)
	if err != nil {
		return nil, err
	}

	planRec := &model.Record{
		ID:        model.NewRecordID(),
		Content:   task,
		Kind:      model.KindPlan,
		CreatedAt: now,
		Metadata: map[string]any{
			"task_id":                  string(taskRec.ID),
			"intent":                   intent,
			"steps":                    planSteps,
			"similar_tasks_referenced": referenced,
			"status":                   statusPlanned,
		},
	}
	if _, err := uc.composite.Store(ctx, planRec, true); err != nil {
		return nil, goerr.Wrap(err, "failed to store plan")
	}

	logger.Info("planned task", "task_id", taskRec.ID, "steps", len(steps), "similar_tasks", len(similar))

	return &Result{
		TaskID:              taskRec.ID,
		PlanID:              planRec.ID,
		Task:                task,
		Intent:              intent,
		SimilarTasks:        similar,
		Instructions:        instructions,
		Steps:               steps,
		CreatedAt:           now,
		EmbeddingDimensions: len(vector),
	}, nil
}

func (uc *UseCase) analyzeIntent(ctx context.Context, task string) string {
	var buf bytes.Buffer
	if err := intentPromptTmpl.Execute(&buf, map[string]any{"Task": task}); err != nil {
		logging.From(ctx).Error("failed to render intent prompt", "error", err)
		return unknownIntent
	}

	resp, err := uc.gemini.GenerateContent(ctx, []*genai.Content{
		genai.NewContentFromText(buf.String(), genai.RoleUser),
	}, nil)
	if err != nil {
		logging.From(ctx).Warn("failed to analyze intent", "error", err)
		return unknownIntent
	}

	intent := strings.TrimSpace(adapter.ResponseText(resp))
	if intent == "" {
		return unknownIntent
	}
	return intent
}

func (uc *UseCase) generatePlan(ctx context.Context, task, intent string, similar []SimilarTask, instructions []*model.TaskInstruction) []model.Step {
	logger := logging.From(ctx)
	fallback := func(description string) []model.Step {
		return []model.Step{{Step: 1, Action: "Execute task", Description: description, EstimatedEffort: "medium"}}
	}

	if len(similar) > promptSimilarTasks {
		similar = similar[:promptSimilarTasks]
	}

	var buf bytes.Buffer
	if err := planPromptTmpl.Execute(&buf, map[string]any{
		"Task":         task,
		"Intent":       intent,
		"SimilarTasks": similar,
		"Instructions": instructions,
	}); err != nil {
		logger.Error("failed to render plan prompt", "error", err)
		return fallback(task)
	}

	responseSchema, err := schema.For[[]model.Step]()
	if err != nil {
		logger.Error("failed to build plan schema", "error", err)
		return fallback(task)
	}

	resp, err := uc.gemini.GenerateContent(ctx, []*genai.Content{
		genai.NewContentFromText(buf.String(), genai.RoleUser),
	}, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema,
	})
	if err != nil {
		logger.Warn("failed to generate plan", "error", err)
		return fallback(task)
	}

	text := adapter.ResponseText(resp)
	var steps []model.Step
	if err := json.Unmarshal([]byte(text), &steps); err != nil || len(steps) == 0 {
		logger.Warn("plan response is not a step list", "error", err)
		if strings.TrimSpace(text) == "" {
			return fallback(task)
		}
		return fallback(text)
	}

	for i := range steps {
		steps[i].Step = i + 1
	}
	return steps
}

// toMetadataList converts steps into plain JSON values so every record backend can store them
func toMetadataList(steps []model.Step) ([]any, error) {
	raw, err := json.Marshal(steps)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal steps")
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal steps")
	}
	return list, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
