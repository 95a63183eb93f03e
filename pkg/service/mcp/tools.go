package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/model"
	"github.com/m-mizutani/memoria/pkg/usecase/chat"
	"github.com/m-mizutani/memoria/pkg/usecase/plan"
	"github.com/m-mizutani/memoria/pkg/usecase/recall"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var (
	errMemoryNotConfigured  = goerr.Wrap(model.ErrConfiguration, "memory is not configured")
	errPlanNotConfigured    = goerr.Wrap(model.ErrConfiguration, "planner is not configured")
	errStorageNotConfigured = goerr.Wrap(model.ErrConfiguration, "storage is not configured")
)

type helloInput struct{}

func (s *Server) hello(ctx context.Context, req *mcp.CallToolRequest, in helloInput) (*mcp.CallToolResult, any, error) {
	return textResult("Hello I am memoria!"), nil, nil
}

type storeMemoryInput struct {
	Content    string         `json:"content" jsonschema:"The content to remember"`
	SessionID  string         `json:"session_id" jsonschema:"The session to associate the memory with"`
	MemoryType string         `json:"memory_type,omitempty" jsonschema:"One of context, conversation, task, plan or embedding. Defaults to context"`
	Persist    bool           `json:"persist,omitempty" jsonschema:"Also store the memory in long-term memory"`
	Metadata   map[string]any `json:"metadata,omitempty" jsonschema:"Arbitrary metadata stored with the memory"`
}

func (s *Server) storeMemory(ctx context.Context, req *mcp.CallToolRequest, in storeMemoryInput) (*mcp.CallToolResult, any, error) {
	const tool = "store_memory"
	if s.recall == nil {
		return errorResult(ctx, tool, errMemoryNotConfigured)
	}

	result, err := s.recall.Remember(ctx, recall.RememberInput{
		Content:   in.Content,
		Kind:      in.MemoryType,
		SessionID: in.SessionID,
		Metadata:  in.Metadata,
		Persist:   in.Persist,
	})
	if err != nil {
		return errorResult(ctx, tool, err)
	}

	return jsonResult(struct {
		Success bool `json:"success"`
		*recall.RememberResult
	}{
		Success:        true,
		RememberResult: result,
	})
}

type recallMemoryInput struct {
	Query         string `json:"query" jsonschema:"The query to search relevant memories for"`
	SessionID     string `json:"session_id" jsonschema:"The session to search short-term memory within"`
	Limit         int    `json:"limit,omitempty" jsonschema:"Maximum number of memories to return. Defaults to 5"`
	MemoryType    string `json:"memory_type,omitempty" jsonschema:"Only return memories of this type"`
	ShortTermOnly bool   `json:"short_term_only,omitempty" jsonschema:"Skip long-term memory"`
	LongTermOnly  bool   `json:"long_term_only,omitempty" jsonschema:"Skip short-term memory"`
}

func (s *Server) recallMemory(ctx context.Context, req *mcp.CallToolRequest, in recallMemoryInput) (*mcp.CallToolResult, any, error) {
	const tool = "recall_memory"
	if s.recall == nil {
		return errorResult(ctx, tool, errMemoryNotConfigured)
	}

	var kind model.MemoryKind
	if in.MemoryType != "" {
		k, err := model.ParseMemoryKind(in.MemoryType)
		if err != nil {
			return errorResult(ctx, tool, err)
		}
		kind = k
	}

	memories, err := s.recall.Recall(ctx, recall.RecallInput{
		Query:            in.Query,
		SessionID:        in.SessionID,
		Kind:             kind,
		Limit:            in.Limit,
		ExcludeShortTerm: in.LongTermOnly,
		ExcludeLongTerm:  in.ShortTermOnly,
	})
	if err != nil {
		return errorResult(ctx, tool, err)
	}

	return jsonResult(map[string]any{
		"query":          in.Query,
		"session_id":     in.SessionID,
		"memories_found": len(memories),
		"memories":       memories,
	})
}

type sessionHistoryInput struct {
	SessionID string `json:"session_id" jsonschema:"The session to get history for"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum number of messages to return. Defaults to 20"`
}

func (s *Server) sessionHistory(ctx context.Context, req *mcp.CallToolRequest, in sessionHistoryInput) (*mcp.CallToolResult, any, error) {
	const tool = "get_session_history"
	if s.recall == nil {
		return errorResult(ctx, tool, errMemoryNotConfigured)
	}

	turns, err := s.recall.History(ctx, in.SessionID, in.Limit)
	if err != nil {
		return errorResult(ctx, tool, err)
	}

	return jsonResult(map[string]any{
		"session_id":    in.SessionID,
		"message_count": len(turns),
		"messages":      turns,
	})
}

type clearSessionInput struct {
	SessionID string `json:"session_id" jsonschema:"The session to clear"`
}

func (s *Server) clearSession(ctx context.Context, req *mcp.CallToolRequest, in clearSessionInput) (*mcp.CallToolResult, any, error) {
	const tool = "clear_session_memory"
	if s.recall == nil {
		return errorResult(ctx, tool, errMemoryNotConfigured)
	}

	count, err := s.recall.Clear(ctx, in.SessionID)
	if err != nil {
		return errorResult(ctx, tool, err)
	}

	return jsonResult(map[string]any{
		"success":         true,
		"session_id":      in.SessionID,
		"entries_cleared": count,
	})
}

type promoteMemoryInput struct {
	MemoryID string `json:"memory_id" jsonschema:"ID of the short-term memory to promote"`
}

func (s *Server) promoteMemory(ctx context.Context, req *mcp.CallToolRequest, in promoteMemoryInput) (*mcp.CallToolResult, any, error) {
	const tool = "promote_memory"
	if s.recall == nil {
		return errorResult(ctx, tool, errMemoryNotConfigured)
	}

	id, promoted, err := s.recall.Promote(ctx, model.RecordID(in.MemoryID))
	if err != nil {
		return errorResult(ctx, tool, err)
	}

	return jsonResult(map[string]any{
		"success":      promoted,
		"memory_id":    in.MemoryID,
		"long_term_id": id,
	})
}

type searchInstructionsInput struct {
	Description  string `json:"description" jsonschema:"Description of the task to find instructions for"`
	Limit        int    `json:"limit,omitempty" jsonschema:"Maximum number of instructions to return. Defaults to 5"`
	IncludeSteps bool   `json:"include_steps,omitempty" jsonschema:"Include the step list of each instruction"`
}

func (s *Server) searchInstructions(ctx context.Context, req *mcp.CallToolRequest, in searchInstructionsInput) (*mcp.CallToolResult, any, error) {
	const tool = "search_task_instructions"
	if s.recall == nil {
		return errorResult(ctx, tool, errMemoryNotConfigured)
	}

	instructions, err := s.recall.TaskInstructions(ctx, in.Description, in.Limit, in.IncludeSteps)
	if err != nil {
		return errorResult(ctx, tool, err)
	}

	return jsonResult(map[string]any{
		"description":        in.Description,
		"instructions_found": len(instructions),
		"instructions":       instructions,
	})
}

type nextBestActionInput struct {
	Task string `json:"task" jsonschema:"The task description in natural language"`
}

type nextBestActionOutput struct {
	TaskID   model.RecordID `json:"task_id"`
	Task     string         `json:"task"`
	Intent   string         `json:"intent"`
	Analysis struct {
		SimilarTasksFound int                      `json:"similar_tasks_found"`
		SimilarTasks      []plan.SimilarTask       `json:"similar_tasks"`
		Instructions      []*model.TaskInstruction `json:"task_instructions,omitempty"`
	} `json:"analysis"`
	Plan struct {
		ID         model.RecordID `json:"plan_id"`
		Steps      []model.Step   `json:"steps"`
		TotalSteps int            `json:"total_steps"`
	} `json:"plan"`
	Metadata struct {
		CreatedAt           time.Time `json:"created_at"`
		EmbeddingDimensions int       `json:"embedding_dimensions"`
	} `json:"metadata"`
}

func (s *Server) nextBestAction(ctx context.Context, req *mcp.CallToolRequest, in nextBestActionInput) (*mcp.CallToolResult, any, error) {
	const tool = "next_best_action"
	if s.plan == nil {
		return errorResult(ctx, tool, errPlanNotConfigured)
	}

	result, err := s.plan.NextBestAction(ctx, in.Task)
	if err != nil {
		return errorResult(ctx, tool, err)
	}

	var out nextBestActionOutput
	out.TaskID = result.TaskID
	out.Task = result.Task
	out.Intent = result.Intent
	out.Analysis.SimilarTasksFound = len(result.SimilarTasks)
	out.Analysis.SimilarTasks = result.SimilarTasks
	out.Analysis.Instructions = result.Instructions
	out.Plan.ID = result.PlanID
	out.Plan.Steps = result.Steps
	out.Plan.TotalSteps = len(result.Steps)
	out.Metadata.CreatedAt = result.CreatedAt
	out.Metadata.EmbeddingDimensions = result.EmbeddingDimensions

	return jsonResult(out)
}

type getSnippetInput struct {
	Name string `json:"snippetname" jsonschema:"The name of the snippet to retrieve"`
}

func (s *Server) getSnippet(ctx context.Context, req *mcp.CallToolRequest, in getSnippetInput) (*mcp.CallToolResult, any, error) {
	const tool = "get_snippet"
	if s.snippet == nil {
		return errorResult(ctx, tool, errStorageNotConfigured)
	}

	body, err := s.snippet.Get(ctx, in.Name)
	if err != nil {
		return errorResult(ctx, tool, err)
	}
	return textResult(body), nil, nil
}

type saveSnippetInput struct {
	Name    string `json:"snippetname" jsonschema:"The name of the snippet"`
	Snippet string `json:"snippet" jsonschema:"The content of the snippet"`
}

func (s *Server) saveSnippet(ctx context.Context, req *mcp.CallToolRequest, in saveSnippetInput) (*mcp.CallToolResult, any, error) {
	const tool = "save_snippet"
	if s.snippet == nil {
		return errorResult(ctx, tool, errStorageNotConfigured)
	}

	if err := s.snippet.Save(ctx, in.Name, in.Snippet); err != nil {
		return errorResult(ctx, tool, err)
	}
	return textResult(fmt.Sprintf("Snippet '%s' saved successfully", in.Name)), nil, nil
}

type askInput struct {
	Question string `json:"question" jsonschema:"The question to ask"`
}

func (s *Server) ask(ctx context.Context, req *mcp.CallToolRequest, in askInput) (*mcp.CallToolResult, any, error) {
	answer, err := chat.Ask(ctx, s.gemini, in.Question)
	if err != nil {
		return errorResult(ctx, "ask", err)
	}
	if answer == "" {
		answer = "No response generated"
	}
	return textResult(answer), nil, nil
}
