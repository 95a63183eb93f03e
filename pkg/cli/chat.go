package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/usecase/chat"
	"github.com/m-mizutani/memoria/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func chatCommand() *cli.Command {
	var (
		cfg          config
		sessionID    string
		historyLimit int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "session-id",
			Aliases:     []string{"s"},
			Usage:       "Session ID to resume, a new session if omitted",
			Sources:     cli.EnvVars("MEMORIA_SESSION_ID"),
			Destination: &sessionID,
		},
		&cli.IntFlag{
			Name:        "history-limit",
			Usage:       "Number of stored turns replayed when resuming",
			Value:       chat.DefaultHistoryLimit,
			Destination: &historyLimit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive chat with Gemini backed by session memory",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx)
			if err != nil {
				return err
			}
			defer cfg.close(ctx)

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}
			embedder, err := cfg.newEmbedder(gemini)
			if err != nil {
				return err
			}
			st, err := cfg.newStores(ctx, embedder)
			if err != nil {
				return err
			}
			if st.shortTerm == nil {
				return goerr.New("short-term backend is required for chat")
			}

			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			session, err := chat.New(ctx, chat.NewInput{
				Gemini:       gemini,
				Memory:       st.shortTerm,
				Embedder:     embedder,
				SessionID:    sessionID,
				HistoryLimit: int(historyLimit),
			})
			if err != nil {
				return goerr.Wrap(err, "failed to create chat session")
			}

			return chatLoop(ctx, c.Root().Writer, session)
		},
	}
}

func chatLoop(ctx context.Context, w io.Writer, session *chat.Session) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".memoria_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          w,
	})
	if err != nil {
		return goerr.Wrap(err, "failed to initialize readline")
	}
	defer rl.Close()

	fmt.Fprintf(w, "Chat session %s started (%d turns restored). Type 'exit' to quit.\n",
		session.SessionID(), session.Turns())

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				break
			}
			return goerr.Wrap(err, "failed to read input")
		}

		message := strings.TrimSpace(line)
		if message == "" {
			continue
		}
		if message == "exit" || message == "quit" {
			break
		}

		response, err := session.Send(ctx, message)
		if err != nil {
			logging.From(ctx).Error("failed to send message", "error", err)
			fmt.Fprintf(w, "Error: %v\n", err)
			continue
		}
		fmt.Fprintf(w, "\n%s\n\n", response)
	}

	fmt.Fprintf(w, "\nChat session %s completed\n", session.SessionID())
	return nil
}
