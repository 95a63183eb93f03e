package plan_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/memoria/pkg/memory"
	"github.com/m-mizutani/memoria/pkg/model"
	"github.com/m-mizutani/memoria/pkg/repository"
	"github.com/m-mizutani/memoria/pkg/searchindex"
	"github.com/m-mizutani/memoria/pkg/usecase/plan"
	"google.golang.org/genai"
)

type geminiMock struct {
	generateFn func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	embedFn    func(ctx context.Context, text string) ([]float32, error)
}

func (x *geminiMock) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return x.generateFn(ctx, contents, config)
}

func (x *geminiMock) Embed(ctx context.Context, text string) ([]float32, error) {
	return x.embedFn(ctx, text)
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(text, genai.RoleModel)},
		},
	}
}

func newComposite() *memory.Composite {
	return memory.NewComposite(
		memory.WithShortTerm(memory.NewShortTerm(repository.NewMemory())),
		memory.WithLongTerm(memory.NewLongTerm(searchindex.NewMemory())),
	)
}

func newGemini(planJSON string) *geminiMock {
	return &geminiMock{
		embedFn: func(ctx context.Context, text string) ([]float32, error) {
			return []float32{1, 0, 0}, nil
		},
		generateFn: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			if config != nil && config.ResponseSchema != nil {
				return textResponse(planJSON), nil
			}
			return textResponse("  system configuration\n"), nil
		},
	}
}

func TestNextBestAction(t *testing.T) {
	ctx := context.Background()
	c := newComposite()
	gemini := newGemini(`[{"step":1,"action":"Check cluster","description":"kubectl get nodes","estimated_effort":"low"},{"step":5,"action":"Deploy","description":"helm upgrade","estimated_effort":"medium"}]`)
	uc := plan.New(c, gemini)

	first, err := uc.NextBestAction(ctx, "deploy the api to kubernetes")
	gt.NoError(t, err)
	gt.Equal(t, first.Intent, "system configuration")
	gt.A(t, first.SimilarTasks).Length(0)
	gt.A(t, first.Steps).Length(2)
	gt.Equal(t, first.Steps[1].Step, 2)
	gt.Equal(t, first.EmbeddingDimensions, 3)

	t.Run("task and plan are stored in both stores", func(t *testing.T) {
		taskRec, err := c.LongTerm().Retrieve(ctx, first.TaskID)
		gt.NoError(t, err)
		gt.V(t, taskRec).NotNil()
		gt.Equal(t, taskRec.Kind, model.KindTask)
		gt.Equal(t, taskRec.MetaString("intent", ""), "system configuration")

		planRec, err := c.ShortTerm().Retrieve(ctx, first.PlanID)
		gt.NoError(t, err)
		gt.V(t, planRec).NotNil()
		gt.Equal(t, planRec.Kind, model.KindPlan)
		gt.Equal(t, planRec.MetaString("status", ""), "planned")
		gt.Equal(t, planRec.MetaString("task_id", ""), string(first.TaskID))
	})

	t.Run("second run finds the first task once", func(t *testing.T) {
		second, err := uc.NextBestAction(ctx, "deploy the api to kubernetes")
		gt.NoError(t, err)
		gt.A(t, second.SimilarTasks).Length(1)
		gt.Equal(t, second.SimilarTasks[0].Score, 1.0)
		gt.Equal(t, second.SimilarTasks[0].Intent, "system configuration")
	})
}

func TestNextBestActionFallbacks(t *testing.T) {
	ctx := context.Background()

	t.Run("malformed plan", func(t *testing.T) {
		uc := plan.New(newComposite(), newGemini("just do it"))
		result, err := uc.NextBestAction(ctx, "write report")
		gt.NoError(t, err)
		gt.A(t, result.Steps).Length(1)
		gt.Equal(t, result.Steps[0].Action, "Execute task")
		gt.Equal(t, result.Steps[0].Description, "just do it")
	})

	t.Run("generation failure", func(t *testing.T) {
		gemini := newGemini("")
		gemini.generateFn = func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return nil, goerr.New("quota exceeded")
		}
		result, err := plan.New(newComposite(), gemini).NextBestAction(ctx, "write report")
		gt.NoError(t, err)
		gt.Equal(t, result.Intent, "unknown")
		gt.A(t, result.Steps).Length(1)
		gt.Equal(t, result.Steps[0].Description, "write report")
	})

	t.Run("embedding failure", func(t *testing.T) {
		gemini := newGemini("[]")
		gemini.embedFn = func(ctx context.Context, text string) ([]float32, error) {
			return nil, goerr.New("unavailable")
		}
		_, err := plan.New(newComposite(), gemini).NextBestAction(ctx, "write report")
		gt.Error(t, err)
	})

	t.Run("no gemini", func(t *testing.T) {
		_, err := plan.New(newComposite(), nil).NextBestAction(ctx, "write report")
		gt.True(t, errors.Is(err, model.ErrConfiguration))
	})

	t.Run("empty task", func(t *testing.T) {
		_, err := plan.New(newComposite(), newGemini("[]")).NextBestAction(ctx, "")
		gt.Error(t, err)
	})
}

func TestNextBestActionPromptIncludesInstructions(t *testing.T) {
	ctx := context.Background()
	idx := searchindex.NewMemory()
	_, err := idx.Upload(ctx, []*searchindex.Document{
		{ID: "k8s-chunk-0", DocumentID: "k8s", Title: "K8s Pipeline Guide", Content: "use helm for kubernetes deploys", TotalChunks: 1},
	})
	gt.NoError(t, err)
	c := memory.NewComposite(memory.WithLongTerm(memory.NewLongTerm(idx)))

	var planPrompt string
	gemini := newGemini(`[{"step":1,"action":"Deploy","description":"helm upgrade"}]`)
	gemini.generateFn = func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		if config != nil && config.ResponseSchema != nil {
			planPrompt = contents[0].Parts[0].Text
			return textResponse(`[{"step":1,"action":"Deploy","description":"helm upgrade"}]`), nil
		}
		return textResponse("deployment"), nil
	}

	result, err := plan.New(c, gemini).NextBestAction(ctx, "kubernetes deploy")
	gt.NoError(t, err)
	gt.A(t, result.Instructions).Length(1)
	gt.True(t, strings.Contains(planPrompt, "K8s Pipeline Guide"))
	gt.True(t, strings.Contains(planPrompt, "Intent: deployment"))
}
