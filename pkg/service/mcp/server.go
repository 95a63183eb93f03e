package mcp

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/adapter"
	"github.com/m-mizutani/memoria/pkg/usecase/plan"
	"github.com/m-mizutani/memoria/pkg/usecase/recall"
	"github.com/m-mizutani/memoria/pkg/usecase/snippet"
	"github.com/m-mizutani/memoria/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	ServerName    = "memoria"
	ServerVersion = "0.1.0"
)

// Server exposes memory operations as MCP tools. Every collaborator is
// optional; tools backed by a missing one answer with an error result.
type Server struct {
	recall  *recall.UseCase
	plan    *plan.UseCase
	snippet *snippet.UseCase
	gemini  adapter.Gemini
}

type Option func(*Server)

func WithRecall(uc *recall.UseCase) Option {
	return func(s *Server) {
		s.recall = uc
	}
}

func WithPlan(uc *plan.UseCase) Option {
	return func(s *Server) {
		s.plan = uc
	}
}

func WithSnippet(uc *snippet.UseCase) Option {
	return func(s *Server) {
		s.snippet = uc
	}
}

func WithGemini(gemini adapter.Gemini) Option {
	return func(s *Server) {
		s.gemini = gemini
	}
}

func New(opts ...Option) *Server {
	s := &Server{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MCPServer builds an SDK server with every tool registered
func (s *Server) MCPServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: ServerVersion,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "hello",
		Description: "Return a greeting to check the server is reachable",
	}, s.hello)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "store_memory",
		Description: "Store information in memory for later retrieval within a session",
	}, s.storeMemory)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "recall_memory",
		Description: "Recall memories relevant to a query by semantic similarity",
	}, s.recallMemory)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_session_history",
		Description: "Get the conversation history of a session in chronological order",
	}, s.sessionHistory)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "clear_session_memory",
		Description: "Clear all short-term memory of a session",
	}, s.clearSession)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "promote_memory",
		Description: "Copy a short-term memory into long-term memory so it outlives the session",
	}, s.promoteMemory)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_task_instructions",
		Description: "Search ingested task instructions relevant to a task description",
	}, s.searchInstructions)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "next_best_action",
		Description: "Analyze a task, find similar past tasks and generate a plan of steps",
	}, s.nextBestAction)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_snippet",
		Description: "Retrieve a saved snippet by name",
	}, s.getSnippet)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "save_snippet",
		Description: "Save a snippet under a name",
	}, s.saveSnippet)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask",
		Description: "Ask the language model a single question",
	}, s.ask)

	return server
}

// ServeStdio serves MCP over stdin and stdout until ctx is done or the peer disconnects
func (s *Server) ServeStdio(ctx context.Context) error {
	if err := s.MCPServer().Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "failed to serve MCP over stdio")
	}
	return nil
}

// Health returns per-store health; empty when memory is not configured
func (s *Server) Health(ctx context.Context) map[string]bool {
	if s.recall == nil {
		return map[string]bool{}
	}
	return s.recall.Health(ctx)
}

// LogHealth writes the health of each memory store to the log
func (s *Server) LogHealth(ctx context.Context) {
	logger := logging.From(ctx)
	health := s.Health(ctx)
	if len(health) == 0 {
		logger.Warn("no memory store is configured")
		return
	}
	for name, healthy := range health {
		if healthy {
			logger.Info("memory store is healthy", "store", name)
		} else {
			logger.Warn("memory store is unhealthy", "store", name)
		}
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to marshal tool result")
	}
	return textResult(string(data)), nil, nil
}

// errorResult reports a failure inside the tool result so the calling model can read it
func errorResult(ctx context.Context, tool string, err error) (*mcp.CallToolResult, any, error) {
	logging.From(ctx).Error("tool failed", "tool", tool, "error", err)

	data, merr := json.Marshal(map[string]string{"error": err.Error()})
	if merr != nil {
		return nil, nil, goerr.Wrap(merr, "failed to marshal tool error")
	}
	result := textResult(string(data))
	result.IsError = true
	return result, nil, nil
}
