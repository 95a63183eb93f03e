package mcp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/memoria/pkg/adapter"
	"github.com/m-mizutani/memoria/pkg/interfaces"
	"github.com/m-mizutani/memoria/pkg/memory"
	"github.com/m-mizutani/memoria/pkg/repository"
	"github.com/m-mizutani/memoria/pkg/searchindex"
	"github.com/m-mizutani/memoria/pkg/service/mcp"
	"github.com/m-mizutani/memoria/pkg/usecase/plan"
	"github.com/m-mizutani/memoria/pkg/usecase/recall"
	"github.com/m-mizutani/memoria/pkg/usecase/snippet"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"google.golang.org/genai"
)

var axisEmbedder = interfaces.EmbedFunc(func(ctx context.Context, text string) ([]float32, error) {
	switch {
	case strings.Contains(text, "deploy"):
		return []float32{1, 0}, nil
	case strings.Contains(text, "backup"):
		return []float32{0, 1}, nil
	default:
		return []float32{1, 1}, nil
	}
})

type geminiMock struct{}

func (x *geminiMock) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	text := "deployment"
	if config != nil && config.ResponseSchema != nil {
		text = `[{"step":1,"action":"Roll out","description":"helm upgrade","estimated_effort":"low"}]`
	} else if strings.HasPrefix(contents[0].Parts[0].Text, "what") {
		text = "an answer"
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(text, genai.RoleModel)}},
	}, nil
}

func (x *geminiMock) Embed(ctx context.Context, text string) ([]float32, error) {
	return axisEmbedder(ctx, text)
}

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

type memWriter struct {
	bytes.Buffer
	commit func([]byte)
}

func (w *memWriter) Close() error {
	w.commit(w.Bytes())
	return nil
}

func (s *memStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	return &memWriter{commit: func(b []byte) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.objects[key] = bytes.Clone(b)
	}}, nil
}

func (s *memStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, adapter.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func newServer() *mcp.Server {
	composite := memory.NewComposite(
		memory.WithShortTerm(memory.NewShortTerm(repository.NewMemory(), memory.WithEmbedder(axisEmbedder))),
		memory.WithLongTerm(memory.NewLongTerm(searchindex.NewMemory(), memory.WithLongTermEmbedder(axisEmbedder))),
	)
	gemini := &geminiMock{}

	return mcp.New(
		mcp.WithRecall(recall.New(composite, recall.WithEmbedder(axisEmbedder))),
		mcp.WithPlan(plan.New(composite, gemini)),
		mcp.WithSnippet(snippet.New(&memStorage{objects: map[string][]byte{}})),
		mcp.WithGemini(gemini),
	)
}

func connect(t *testing.T, s *mcp.Server) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()

	serverTransport, clientTransport := mcpsdk.NewInMemoryTransports()
	ss, err := s.MCPServer().Connect(ctx, serverTransport, nil)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })

	return cs
}

func call(t *testing.T, cs *mcpsdk.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	result, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	gt.NoError(t, err)
	gt.A(t, result.Content).Length(1)

	text, ok := result.Content[0].(*mcpsdk.TextContent)
	gt.True(t, ok)
	return text.Text, result.IsError
}

func callJSON(t *testing.T, cs *mcpsdk.ClientSession, name string, args map[string]any) map[string]any {
	t.Helper()
	text, isErr := call(t, cs, name, args)
	gt.False(t, isErr)

	var out map[string]any
	gt.NoError(t, json.Unmarshal([]byte(text), &out))
	return out
}

func TestListTools(t *testing.T) {
	cs := connect(t, newServer())

	result, err := cs.ListTools(context.Background(), nil)
	gt.NoError(t, err)

	names := map[string]bool{}
	for _, tool := range result.Tools {
		names[tool.Name] = true
	}
	for _, name := range []string{
		"hello", "store_memory", "recall_memory", "get_session_history", "clear_session_memory",
		"promote_memory", "search_task_instructions", "next_best_action", "get_snippet", "save_snippet", "ask",
	} {
		gt.True(t, names[name])
	}
	gt.A(t, result.Tools).Length(11)
}

func TestMemoryTools(t *testing.T) {
	cs := connect(t, newServer())

	text, _ := call(t, cs, "hello", map[string]any{})
	gt.S(t, text).Contains("Hello")

	stored := callJSON(t, cs, "store_memory", map[string]any{
		"content":    "deploy with helm",
		"session_id": "s1",
	})
	gt.Equal(t, stored["success"], true)
	gt.Equal(t, stored["memory_type"], "context")
	gt.Equal(t, stored["has_embedding"], true)
	memoryID, ok := stored["memory_id"].(string)
	gt.True(t, ok)

	callJSON(t, cs, "store_memory", map[string]any{
		"content":     "nightly backup at 2am",
		"session_id":  "s1",
		"memory_type": "conversation",
	})

	t.Run("recall", func(t *testing.T) {
		out := callJSON(t, cs, "recall_memory", map[string]any{
			"query":      "how do we deploy?",
			"session_id": "s1",
		})
		gt.Equal(t, out["memories_found"], 1.0)
		memories := out["memories"].([]any)
		first := memories[0].(map[string]any)
		gt.Equal(t, first["content"], "deploy with helm")
		gt.Equal(t, first["similarity_score"], 1.0)
	})

	t.Run("history", func(t *testing.T) {
		out := callJSON(t, cs, "get_session_history", map[string]any{"session_id": "s1"})
		gt.Equal(t, out["message_count"], 1.0)
	})

	t.Run("promote", func(t *testing.T) {
		out := callJSON(t, cs, "promote_memory", map[string]any{"memory_id": memoryID})
		gt.Equal(t, out["success"], true)

		recalled := callJSON(t, cs, "recall_memory", map[string]any{
			"query":          "deploy",
			"session_id":     "other",
			"long_term_only": true,
		})
		gt.Equal(t, recalled["memories_found"], 1.0)
	})

	t.Run("clear", func(t *testing.T) {
		out := callJSON(t, cs, "clear_session_memory", map[string]any{"session_id": "s1"})
		gt.Equal(t, out["entries_cleared"], 2.0)
	})

	t.Run("invalid memory type filter", func(t *testing.T) {
		text, isErr := call(t, cs, "recall_memory", map[string]any{
			"query":       "deploy",
			"session_id":  "s1",
			"memory_type": "dream",
		})
		gt.True(t, isErr)
		gt.S(t, text).Contains(`"error"`)
	})
}

func TestPlanAndInstructionTools(t *testing.T) {
	cs := connect(t, newServer())

	out := callJSON(t, cs, "next_best_action", map[string]any{"task": "deploy the api"})
	gt.Equal(t, out["intent"], "deployment")
	planOut := out["plan"].(map[string]any)
	gt.Equal(t, planOut["total_steps"], 1.0)
	analysis := out["analysis"].(map[string]any)
	gt.Equal(t, analysis["similar_tasks_found"], 0.0)

	instructions := callJSON(t, cs, "search_task_instructions", map[string]any{"description": "deploy"})
	gt.Equal(t, instructions["instructions_found"], 0.0)
}

func TestSnippetAndAskTools(t *testing.T) {
	cs := connect(t, newServer())

	text, isErr := call(t, cs, "save_snippet", map[string]any{"snippetname": "greeting", "snippet": `{"hello":"world"}`})
	gt.False(t, isErr)
	gt.S(t, text).Contains("saved successfully")

	text, isErr = call(t, cs, "get_snippet", map[string]any{"snippetname": "greeting"})
	gt.False(t, isErr)
	gt.Equal(t, text, `{"hello":"world"}`)

	_, isErr = call(t, cs, "get_snippet", map[string]any{"snippetname": "missing"})
	gt.True(t, isErr)

	_, isErr = call(t, cs, "save_snippet", map[string]any{"snippetname": "../escape", "snippet": "x"})
	gt.True(t, isErr)

	text, isErr = call(t, cs, "ask", map[string]any{"question": "what is memoria?"})
	gt.False(t, isErr)
	gt.Equal(t, text, "an answer")
}

func TestToolsWithoutCollaborators(t *testing.T) {
	cs := connect(t, mcp.New())

	for name, args := range map[string]map[string]any{
		"store_memory":             {"content": "x", "session_id": "s"},
		"recall_memory":            {"query": "x", "session_id": "s"},
		"get_session_history":      {"session_id": "s"},
		"clear_session_memory":     {"session_id": "s"},
		"promote_memory":           {"memory_id": "m"},
		"search_task_instructions": {"description": "x"},
		"next_best_action":         {"task": "x"},
		"get_snippet":              {"snippetname": "x"},
		"save_snippet":             {"snippetname": "x", "snippet": "y"},
		"ask":                      {"question": "x"},
	} {
		t.Run(name, func(t *testing.T) {
			text, isErr := call(t, cs, name, args)
			gt.True(t, isErr)

			var out map[string]string
			gt.NoError(t, json.Unmarshal([]byte(text), &out))
			gt.S(t, out["error"]).Contains("configur")
		})
	}
}

func TestHTTPHandler(t *testing.T) {
	ts := httptest.NewServer(mcp.NewHandler(newServer()))
	t.Cleanup(ts.Close)

	t.Run("root", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/")
		gt.NoError(t, err)
		defer resp.Body.Close()
		gt.Equal(t, resp.StatusCode, http.StatusOK)

		var out map[string]any
		gt.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		gt.Equal(t, out["name"], mcp.ServerName)
		gt.Equal(t, out["gemini_enabled"], true)
	})

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(ts.URL + mcp.PathHealth)
		gt.NoError(t, err)
		defer resp.Body.Close()

		var out map[string]any
		gt.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		gt.Equal(t, out["status"], "healthy")
		stores := out["stores"].(map[string]any)
		gt.Equal(t, stores[memory.ShortTermName], true)
		gt.Equal(t, stores[memory.LongTermName], true)
	})

	t.Run("unknown path", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/nothing")
		gt.NoError(t, err)
		defer resp.Body.Close()
		gt.Equal(t, resp.StatusCode, http.StatusNotFound)
	})

	t.Run("streamable", func(t *testing.T) {
		ctx := context.Background()
		client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
		cs, err := client.Connect(ctx, &mcpsdk.StreamableClientTransport{Endpoint: ts.URL + mcp.PathStreamable}, nil)
		gt.NoError(t, err)
		defer cs.Close()

		text, _ := call(t, cs, "hello", map[string]any{})
		gt.S(t, text).Contains("Hello")
	})
}
