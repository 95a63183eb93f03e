package chat

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/adapter"
	"google.golang.org/genai"
)

// Share of history bytes folded into the summary
const compressionRatio = 0.7

//go:embed prompt/summarize.md
var summarizePrompt string

// isTokenLimitError reports the Gemini error for an oversized prompt, e.g.
// "The input token count (2500030) exceeds the maximum number of tokens allowed (1048576)."
func isTokenLimitError(err error) bool {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	return apiErr.Code == 400 &&
		apiErr.Status == "INVALID_ARGUMENT" &&
		strings.HasPrefix(apiErr.Message, "The input token count (") &&
		strings.Contains(apiErr.Message, ") exceeds the maximum number of tokens allowed (")
}

func contentSize(content *genai.Content) int {
	data, err := json.Marshal(content)
	if err != nil {
		return 0
	}
	return len(data)
}

// compressHistory replaces the oldest messages, up to compressionRatio of the
// history by size, with one summary message. The input slice is not modified.
func compressHistory(ctx context.Context, gemini adapter.Gemini, contents []*genai.Content) ([]*genai.Content, error) {
	if len(contents) == 0 {
		return nil, goerr.New("history is empty")
	}

	sizes := make([]int, len(contents))
	total := 0
	for i, content := range contents {
		sizes[i] = contentSize(content)
		total += sizes[i]
	}

	threshold := int(float64(total) * compressionRatio)
	cut, sum := 0, 0
	for i, size := range sizes {
		sum += size
		if sum >= threshold {
			cut = i + 1
			break
		}
	}
	if cut == 0 || cut >= len(contents) {
		return nil, goerr.New("insufficient content to compress", goerr.V("messages", len(contents)))
	}

	summary, err := summarizeContents(ctx, gemini, contents[:cut])
	if err != nil {
		return nil, goerr.Wrap(err, "failed to summarize history")
	}

	compressed := make([]*genai.Content, 0, len(contents)-cut+1)
	compressed = append(compressed, genai.NewContentFromText("Summary of the earlier conversation:\n\n"+summary, genai.RoleUser))
	compressed = append(compressed, contents[cut:]...)
	return compressed, nil
}

func summarizeContents(ctx context.Context, gemini adapter.Gemini, contents []*genai.Content) (string, error) {
	request := make([]*genai.Content, 0, len(contents)+1)
	request = append(request, contents...)
	request = append(request, genai.NewContentFromText(summarizePrompt, genai.RoleUser))

	config := &genai.GenerateContentConfig{
		ThinkingConfig: &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr[int32](0),
		},
	}

	resp, err := gemini.GenerateContent(ctx, request, config)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate summary")
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", goerr.New("no summary generated")
	}

	summary := adapter.ResponseText(resp)
	if summary == "" {
		return "", goerr.New("empty summary generated")
	}
	return summary, nil
}
