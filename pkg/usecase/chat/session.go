package chat

import (
	"bytes"
	"context"
	_ "embed"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/adapter"
	"github.com/m-mizutani/memoria/pkg/interfaces"
	"github.com/m-mizutani/memoria/pkg/model"
	"github.com/m-mizutani/memoria/pkg/utils/logging"
	"google.golang.org/genai"
)

const (
	DefaultHistoryLimit = 20
	relevantLimit       = 3
)

//go:embed prompt/system.md
var systemPromptRaw string

var systemPrompt = template.Must(template.New("system").Parse(systemPromptRaw))

// Memory is the session store a chat reads and writes turns through.
// *memory.ShortTerm satisfies it.
type Memory interface {
	ConversationHistory(ctx context.Context, sessionID string, limit int) ([]model.ConversationTurn, error)
	RelevantContext(ctx context.Context, query, sessionID string, limit int) ([]string, error)
	StoreConversationTurn(ctx context.Context, sessionID, role, content string, embedding []float32, metadata map[string]any) (model.RecordID, error)
}

// Session is a Gemini conversation bound to one memory session
type Session struct {
	gemini   adapter.Gemini
	memory   Memory
	embedder interfaces.Embedder

	sessionID string
	contents  []*genai.Content
}

type NewInput struct {
	Gemini    adapter.Gemini
	Memory    Memory
	Embedder  interfaces.Embedder // Optional: turns are stored without vectors when nil
	SessionID string
	// HistoryLimit is the number of stored turns replayed into the conversation
	HistoryLimit int
}

func New(ctx context.Context, input NewInput) (*Session, error) {
	if input.Gemini == nil {
		return nil, goerr.Wrap(model.ErrConfiguration, "gemini is required for chat")
	}
	if input.Memory == nil {
		return nil, goerr.Wrap(model.ErrConfiguration, "short-term memory is required for chat")
	}
	if input.SessionID == "" {
		return nil, goerr.New("session ID is required")
	}

	limit := input.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	turns, err := input.Memory.ConversationHistory(ctx, input.SessionID, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load conversation history", goerr.V("session_id", input.SessionID))
	}

	s := &Session{
		gemini:    input.Gemini,
		memory:    input.Memory,
		embedder:  input.Embedder,
		sessionID: input.SessionID,
	}
	for _, turn := range turns {
		switch turn.Role {
		case model.RoleUser:
			s.contents = append(s.contents, genai.NewContentFromText(turn.Content, genai.RoleUser))
		case model.RoleAssistant:
			s.contents = append(s.contents, genai.NewContentFromText(turn.Content, genai.RoleModel))
		}
	}

	logging.From(ctx).Debug("chat session loaded", "session_id", s.sessionID, "turns", len(s.contents))
	return s, nil
}

func (s *Session) SessionID() string {
	return s.sessionID
}

// Turns returns the number of messages in the conversation, including replayed history
func (s *Session) Turns() int {
	return len(s.contents)
}

// Send answers message in the context of the session and stores both turns
func (s *Session) Send(ctx context.Context, message string) (string, error) {
	logger := logging.From(ctx)

	related, err := s.memory.RelevantContext(ctx, message, s.sessionID, relevantLimit)
	if err != nil {
		logger.Warn("failed to look up relevant context", "error", err, "session_id", s.sessionID)
		related = nil
	}

	var prompt bytes.Buffer
	if err := systemPrompt.Execute(&prompt, struct{ Context []string }{Context: related}); err != nil {
		return "", goerr.Wrap(err, "failed to render system prompt")
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(prompt.String(), ""),
	}

	s.contents = append(s.contents, genai.NewContentFromText(message, genai.RoleUser))

	resp, err := s.gemini.GenerateContent(ctx, s.contents, config)
	if isTokenLimitError(err) {
		logger.Info("history exceeds token limit, compressing", "session_id", s.sessionID, "messages", len(s.contents))
		compressed, cerr := compressHistory(ctx, s.gemini, s.contents)
		if cerr != nil {
			s.contents = s.contents[:len(s.contents)-1]
			return "", goerr.Wrap(cerr, "failed to compress history")
		}
		s.contents = compressed
		resp, err = s.gemini.GenerateContent(ctx, s.contents, config)
	}
	if err != nil {
		s.contents = s.contents[:len(s.contents)-1]
		return "", goerr.Wrap(err, "failed to generate reply", goerr.V("session_id", s.sessionID))
	}

	reply := adapter.ResponseText(resp)
	s.contents = append(s.contents, genai.NewContentFromText(reply, genai.RoleModel))

	s.remember(ctx, model.RoleUser, message)
	s.remember(ctx, model.RoleAssistant, reply)

	return reply, nil
}

// remember stores one turn. Failures are logged so the conversation can go on.
func (s *Session) remember(ctx context.Context, role, content string) {
	logger := logging.From(ctx)

	var embedding []float32
	if s.embedder != nil {
		vector, err := s.embedder.Embed(ctx, content)
		if err != nil {
			logger.Warn("failed to embed conversation turn", "error", err, "role", role)
		} else {
			embedding = vector
		}
	}

	if _, err := s.memory.StoreConversationTurn(ctx, s.sessionID, role, content, embedding, nil); err != nil {
		logger.Warn("failed to store conversation turn", "error", err, "role", role, "session_id", s.sessionID)
	}
}
