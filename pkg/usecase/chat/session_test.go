package chat_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/memoria/pkg/interfaces"
	"github.com/m-mizutani/memoria/pkg/memory"
	"github.com/m-mizutani/memoria/pkg/model"
	"github.com/m-mizutani/memoria/pkg/repository"
	"github.com/m-mizutani/memoria/pkg/usecase/chat"
	"google.golang.org/genai"
)

func TestSessionReplaysAndStoresTurns(t *testing.T) {
	ctx := context.Background()
	st := memory.NewShortTerm(repository.NewMemory())

	_, err := st.StoreConversationTurn(ctx, "s1", model.RoleUser, "my name is kim", nil, nil)
	gt.NoError(t, err)
	_, err = st.StoreConversationTurn(ctx, "s1", model.RoleAssistant, "hello kim", nil, nil)
	gt.NoError(t, err)

	var (
		sent   []*genai.Content
		system string
	)
	mock := &geminiMock{
		generateFn: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			sent = contents
			system = config.SystemInstruction.Parts[0].Text
			return textResponse("your name is kim"), nil
		},
	}

	session, err := chat.New(ctx, chat.NewInput{Gemini: mock, Memory: st, SessionID: "s1"})
	gt.NoError(t, err)
	gt.Equal(t, session.Turns(), 2)

	reply, err := session.Send(ctx, "what is my name?")
	gt.NoError(t, err)
	gt.Equal(t, reply, "your name is kim")

	gt.A(t, sent).Length(3)
	gt.Equal(t, sent[0].Role, genai.RoleUser)
	gt.Equal(t, sent[1].Role, genai.RoleModel)
	gt.Equal(t, sent[2].Parts[0].Text, "what is my name?")
	gt.S(t, system).NotContains("Relevant memories")
	gt.Equal(t, session.Turns(), 4)

	history, err := st.ConversationHistory(ctx, "s1", 10)
	gt.NoError(t, err)
	gt.A(t, history).Length(4)
	gt.Equal(t, history[2].Role, model.RoleUser)
	gt.Equal(t, history[3].Content, "your name is kim")
}

func TestSessionInjectsRelevantContext(t *testing.T) {
	ctx := context.Background()
	embedder := func(ctx context.Context, text string) ([]float32, error) {
		if strings.Contains(text, "postgres") {
			return []float32{1, 0}, nil
		}
		return []float32{0, 1}, nil
	}
	st := memory.NewShortTerm(repository.NewMemory(), memory.WithEmbedder(interfaces.EmbedFunc(embedder)))

	_, err := st.Store(ctx, &model.Record{
		ID:        model.NewRecordID(),
		Content:   "database is postgres 16",
		Kind:      model.KindContext,
		SessionID: "s2",
		Embedding: []float32{1, 0},
	})
	gt.NoError(t, err)

	var system string
	mock := &geminiMock{
		generateFn: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			system = config.SystemInstruction.Parts[0].Text
			return textResponse("ok"), nil
		},
	}

	session, err := chat.New(ctx, chat.NewInput{Gemini: mock, Memory: st, Embedder: interfaces.EmbedFunc(embedder), SessionID: "s2"})
	gt.NoError(t, err)

	_, err = session.Send(ctx, "which postgres version?")
	gt.NoError(t, err)
	gt.S(t, system).Contains("database is postgres 16")
}

func TestSessionCompressesOnTokenLimit(t *testing.T) {
	ctx := context.Background()
	st := memory.NewShortTerm(repository.NewMemory())
	for _, text := range []string{"first long message about the cluster", "second long message about the cluster", "third long message about the cluster"} {
		_, err := st.StoreConversationTurn(ctx, "s3", model.RoleUser, text, nil, nil)
		gt.NoError(t, err)
	}

	mock := &geminiMock{}
	mock.generateFn = func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		switch mock.calls {
		case 1:
			return nil, tokenLimitErr
		case 2:
			return textResponse("summary of cluster talk"), nil
		default:
			return textResponse("answer after compression"), nil
		}
	}

	session, err := chat.New(ctx, chat.NewInput{Gemini: mock, Memory: st, SessionID: "s3"})
	gt.NoError(t, err)

	reply, err := session.Send(ctx, "continue")
	gt.NoError(t, err)
	gt.Equal(t, reply, "answer after compression")
	gt.Equal(t, mock.calls, 3)
	gt.True(t, session.Turns() < 5)
}

func TestSessionGenerateFailure(t *testing.T) {
	ctx := context.Background()
	st := memory.NewShortTerm(repository.NewMemory())
	mock := &geminiMock{
		generateFn: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return nil, errors.New("unavailable")
		},
	}

	session, err := chat.New(ctx, chat.NewInput{Gemini: mock, Memory: st, SessionID: "s4"})
	gt.NoError(t, err)

	_, err = session.Send(ctx, "hello")
	gt.Error(t, err)
	gt.Equal(t, session.Turns(), 0)

	history, err := st.ConversationHistory(ctx, "s4", 10)
	gt.NoError(t, err)
	gt.A(t, history).Length(0)
}

func TestNewRequiresCollaborators(t *testing.T) {
	ctx := context.Background()

	_, err := chat.New(ctx, chat.NewInput{Memory: memory.NewShortTerm(repository.NewMemory()), SessionID: "s"})
	gt.True(t, errors.Is(err, model.ErrConfiguration))

	_, err = chat.New(ctx, chat.NewInput{Gemini: &geminiMock{}, SessionID: "s"})
	gt.True(t, errors.Is(err, model.ErrConfiguration))
}

func TestAsk(t *testing.T) {
	ctx := context.Background()

	t.Run("answers question", func(t *testing.T) {
		mock := &geminiMock{
			generateFn: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				gt.A(t, contents).Length(1)
				return textResponse("42"), nil
			},
		}
		answer, err := chat.Ask(ctx, mock, "meaning of life?")
		gt.NoError(t, err)
		gt.Equal(t, answer, "42")
	})

	t.Run("without gemini", func(t *testing.T) {
		_, err := chat.Ask(ctx, nil, "anything")
		gt.True(t, errors.Is(err, model.ErrConfiguration))
	})

	t.Run("empty question", func(t *testing.T) {
		_, err := chat.Ask(ctx, &geminiMock{}, "  ")
		gt.Error(t, err)
	})
}
