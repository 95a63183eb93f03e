package chat

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/adapter"
	"github.com/m-mizutani/memoria/pkg/model"
	"google.golang.org/genai"
)

// Ask returns a single-turn answer to question without touching memory
func Ask(ctx context.Context, gemini adapter.Gemini, question string) (string, error) {
	if gemini == nil {
		return "", goerr.Wrap(model.ErrConfiguration, "gemini is required to answer questions")
	}
	if strings.TrimSpace(question) == "" {
		return "", goerr.New("question is empty")
	}

	resp, err := gemini.GenerateContent(ctx, []*genai.Content{
		genai.NewContentFromText(question, genai.RoleUser),
	}, nil)
	if err != nil {
		return "", goerr.Wrap(err, "failed to answer question")
	}

	return adapter.ResponseText(resp), nil
}
