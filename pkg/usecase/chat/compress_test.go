package chat_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/memoria/pkg/usecase/chat"
	"google.golang.org/genai"
)

type geminiMock struct {
	generateFn func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	calls      int
}

func (x *geminiMock) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	x.calls++
	if x.generateFn == nil {
		return nil, errors.New("not implemented")
	}
	return x.generateFn(ctx, contents, config)
}

func (x *geminiMock) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("not implemented")
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(text, genai.RoleModel)},
		},
	}
}

var tokenLimitErr = genai.APIError{
	Code:    400,
	Status:  "INVALID_ARGUMENT",
	Message: "The input token count (2500030) exceeds the maximum number of tokens allowed (1048576).",
}

func TestIsTokenLimitError(t *testing.T) {
	testCases := map[string]struct {
		err    error
		expect bool
	}{
		"nil":         {nil, false},
		"token limit": {tokenLimitErr, true},
		"wrapped":     {goerr.Wrap(tokenLimitErr, "failed to generate content"), true},
		"other invalid argument": {genai.APIError{
			Code: 400, Status: "INVALID_ARGUMENT", Message: "invalid parameter format",
		}, false},
		"server error": {genai.APIError{Code: 500, Status: "INTERNAL", Message: "internal"}, false},
		"plain error":  {errors.New("network timeout"), false},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			gt.Equal(t, chat.IsTokenLimitError(tc.err), tc.expect)
		})
	}
}

func TestCompressHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("empty history", func(t *testing.T) {
		_, err := chat.CompressHistory(ctx, &geminiMock{}, nil)
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("history is empty")
	})

	t.Run("older messages are summarized", func(t *testing.T) {
		contents := []*genai.Content{
			genai.NewContentFromText("my cluster is called orion", genai.RoleUser),
			genai.NewContentFromText("noted, orion", genai.RoleModel),
			genai.NewContentFromText("it runs postgres 16", genai.RoleUser),
			genai.NewContentFromText("postgres 16 on orion", genai.RoleModel),
			genai.NewContentFromText("how do I back it up?", genai.RoleUser),
			genai.NewContentFromText("use pg_dump nightly", genai.RoleModel),
		}

		mock := &geminiMock{
			generateFn: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				return textResponse("The user runs postgres 16 on cluster orion."), nil
			},
		}

		compressed, err := chat.CompressHistory(ctx, mock, contents)
		gt.NoError(t, err)
		gt.True(t, len(compressed) < len(contents))
		gt.Equal(t, compressed[0].Role, genai.RoleUser)
		gt.S(t, compressed[0].Parts[0].Text).Contains("cluster orion")
		gt.Equal(t, compressed[len(compressed)-1], contents[len(contents)-1])
		gt.A(t, contents).Length(6)
	})

	t.Run("summary error", func(t *testing.T) {
		contents := []*genai.Content{
			genai.NewContentFromText("first message with enough text to matter", genai.RoleUser),
			genai.NewContentFromText("second message with enough text to matter", genai.RoleModel),
			genai.NewContentFromText("third message with enough text to matter", genai.RoleUser),
			genai.NewContentFromText("fourth message with enough text to matter", genai.RoleModel),
		}
		mock := &geminiMock{
			generateFn: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				return nil, errors.New("API error")
			},
		}

		_, err := chat.CompressHistory(ctx, mock, contents)
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("failed to summarize")
	})

	t.Run("single message cannot be compressed", func(t *testing.T) {
		_, err := chat.CompressHistory(ctx, &geminiMock{}, []*genai.Content{
			genai.NewContentFromText("x", genai.RoleUser),
		})
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("insufficient content")
	})
}

func TestSummarizeContents(t *testing.T) {
	ctx := context.Background()
	contents := []*genai.Content{genai.NewContentFromText("hello", genai.RoleUser)}

	t.Run("prompt is appended", func(t *testing.T) {
		var sent []*genai.Content
		mock := &geminiMock{
			generateFn: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				sent = contents
				return textResponse("greeting only"), nil
			},
		}

		summary, err := chat.SummarizeContents(ctx, mock, contents)
		gt.NoError(t, err)
		gt.Equal(t, summary, "greeting only")
		gt.A(t, sent).Length(2)
		gt.S(t, sent[1].Parts[0].Text).Contains("Summarize the conversation")
		gt.A(t, contents).Length(1)
	})

	t.Run("no candidates", func(t *testing.T) {
		mock := &geminiMock{
			generateFn: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				return &genai.GenerateContentResponse{}, nil
			},
		}

		_, err := chat.SummarizeContents(ctx, mock, contents)
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("no summary generated")
	})
}
