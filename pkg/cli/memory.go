package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/model"
	"github.com/m-mizutani/memoria/pkg/usecase/recall"
	"github.com/urfave/cli/v3"
)

func printJSON(w io.Writer, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal output")
	}
	_, err = fmt.Fprintln(w, string(raw))
	return err
}

// memoryAction sets up the logger and the recall use case before running fn
func memoryAction(cfg *config, fn func(ctx context.Context, c *cli.Command, uc *recall.UseCase) error) func(context.Context, *cli.Command) error {
	return func(ctx context.Context, c *cli.Command) error {
		ctx, err := cfg.setupLogger(ctx)
		if err != nil {
			return err
		}
		defer cfg.close(ctx)

		uc, _, _, err := cfg.newRecall(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, c, uc)
	}
}

func memoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "memory",
		Usage: "Store and recall memories",
		Commands: []*cli.Command{
			memoryStoreCommand(),
			memoryRecallCommand(),
			memoryHistoryCommand(),
			memoryClearCommand(),
			memoryPromoteCommand(),
			memoryInstructionsCommand(),
			memoryHealthCommand(),
		},
	}
}

func sessionFlag(dst *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "session-id",
		Aliases:     []string{"s"},
		Usage:       "Session ID",
		Value:       model.DefaultSessionID,
		Sources:     cli.EnvVars("MEMORIA_SESSION_ID"),
		Destination: dst,
	}
}

func memoryStoreCommand() *cli.Command {
	var (
		cfg       config
		sessionID string
		kind      string
		persist   bool
		metadata  string
	)

	flags := []cli.Flag{
		sessionFlag(&sessionID),
		&cli.StringFlag{
			Name:        "type",
			Usage:       "Memory type (conversation, context, task, plan)",
			Value:       string(model.KindContext),
			Destination: &kind,
		},
		&cli.BoolFlag{
			Name:        "persist",
			Usage:       "Also store the memory in long-term memory",
			Destination: &persist,
		},
		&cli.StringFlag{
			Name:        "metadata",
			Usage:       "Metadata as a JSON object",
			Destination: &metadata,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "store",
		Usage:     "Store a memory",
		ArgsUsage: "<content>",
		Flags:     flags,
		Action: memoryAction(&cfg, func(ctx context.Context, c *cli.Command, uc *recall.UseCase) error {
			if c.Args().Len() == 0 {
				return goerr.New("content is required")
			}

			var meta map[string]any
			if metadata != "" {
				if err := json.Unmarshal([]byte(metadata), &meta); err != nil {
					return goerr.Wrap(err, "invalid metadata", goerr.V("metadata", metadata))
				}
			}

			result, err := uc.Remember(ctx, recall.RememberInput{
				Content:   strings.Join(c.Args().Slice(), " "),
				Kind:      kind,
				SessionID: sessionID,
				Metadata:  meta,
				Persist:   persist,
			})
			if err != nil {
				return err
			}
			return printJSON(c.Root().Writer, result)
		}),
	}
}

func memoryRecallCommand() *cli.Command {
	var (
		cfg           config
		sessionID     string
		kind          string
		limit         int64
		shortTermOnly bool
		longTermOnly  bool
	)

	flags := []cli.Flag{
		sessionFlag(&sessionID),
		&cli.StringFlag{
			Name:        "type",
			Usage:       "Only recall memories of this type",
			Destination: &kind,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of memories",
			Value:       recall.DefaultLimit,
			Destination: &limit,
		},
		&cli.BoolFlag{
			Name:        "short-term-only",
			Usage:       "Search short-term memory only",
			Destination: &shortTermOnly,
		},
		&cli.BoolFlag{
			Name:        "long-term-only",
			Usage:       "Search long-term memory only",
			Destination: &longTermOnly,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "recall",
		Usage:     "Recall memories similar to a query",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: memoryAction(&cfg, func(ctx context.Context, c *cli.Command, uc *recall.UseCase) error {
			if c.Args().Len() == 0 {
				return goerr.New("query is required")
			}

			var memoryKind model.MemoryKind
			if kind != "" {
				k, err := model.ParseMemoryKind(kind)
				if err != nil {
					return err
				}
				memoryKind = k
			}

			memories, err := uc.Recall(ctx, recall.RecallInput{
				Query:            strings.Join(c.Args().Slice(), " "),
				SessionID:        sessionID,
				Kind:             memoryKind,
				Limit:            int(limit),
				ExcludeShortTerm: longTermOnly,
				ExcludeLongTerm:  shortTermOnly,
			})
			if err != nil {
				return err
			}

			if len(memories) == 0 {
				fmt.Fprintf(c.Root().Writer, "No memories found\n")
				return nil
			}
			for _, m := range memories {
				fmt.Fprintf(c.Root().Writer, "[%.3f] %s (%s, %s)\n    %s\n", m.Score, m.ID, m.Kind, m.Source, m.Content)
			}
			return nil
		}),
	}
}

func memoryHistoryCommand() *cli.Command {
	var (
		cfg       config
		sessionID string
		limit     int64
	)

	flags := []cli.Flag{
		sessionFlag(&sessionID),
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of turns",
			Value:       20,
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "history",
		Usage: "Show the conversation history of a session",
		Flags: flags,
		Action: memoryAction(&cfg, func(ctx context.Context, c *cli.Command, uc *recall.UseCase) error {
			turns, err := uc.History(ctx, sessionID, int(limit))
			if err != nil {
				return err
			}

			for _, turn := range turns {
				fmt.Fprintf(c.Root().Writer, "[%s] %s\n", turn.Role, turn.Content)
			}
			return nil
		}),
	}
}

func memoryClearCommand() *cli.Command {
	var (
		cfg       config
		sessionID string
	)

	flags := []cli.Flag{sessionFlag(&sessionID)}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "clear",
		Usage: "Delete short-term memories of a session",
		Flags: flags,
		Action: memoryAction(&cfg, func(ctx context.Context, c *cli.Command, uc *recall.UseCase) error {
			n, err := uc.Clear(ctx, sessionID)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "Cleared %d memories from session %s\n", n, sessionID)
			return nil
		}),
	}
}

func memoryPromoteCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "promote",
		Usage:     "Copy a short-term memory into long-term memory",
		ArgsUsage: "<memory-id>",
		Flags:     flags,
		Action: memoryAction(&cfg, func(ctx context.Context, c *cli.Command, uc *recall.UseCase) error {
			if c.Args().Len() != 1 {
				return goerr.New("memory ID is required")
			}
			id := model.RecordID(c.Args().Get(0))

			longTermID, ok, err := uc.Promote(ctx, id)
			if err != nil {
				return err
			}
			if !ok {
				return goerr.New("memory not found in short-term memory", goerr.V("memory_id", id))
			}
			fmt.Fprintf(c.Root().Writer, "Promoted %s to long-term memory as %s\n", id, longTermID)
			return nil
		}),
	}
}

func memoryInstructionsCommand() *cli.Command {
	var (
		cfg          config
		limit        int64
		includeSteps bool
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of instructions",
			Value:       5,
			Destination: &limit,
		},
		&cli.BoolFlag{
			Name:        "steps",
			Usage:       "Include the steps of each instruction",
			Destination: &includeSteps,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "instructions",
		Usage:     "Search ingested task instructions",
		ArgsUsage: "<description>",
		Flags:     flags,
		Action: memoryAction(&cfg, func(ctx context.Context, c *cli.Command, uc *recall.UseCase) error {
			if c.Args().Len() == 0 {
				return goerr.New("description is required")
			}

			instructions, err := uc.TaskInstructions(ctx, strings.Join(c.Args().Slice(), " "), int(limit), includeSteps)
			if err != nil {
				return err
			}
			return printJSON(c.Root().Writer, instructions)
		}),
	}
}

func memoryHealthCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "health",
		Usage: "Check reachability of memory stores",
		Flags: globalFlags(&cfg),
		Action: memoryAction(&cfg, func(ctx context.Context, c *cli.Command, uc *recall.UseCase) error {
			health := uc.Health(ctx)
			if err := printJSON(c.Root().Writer, health); err != nil {
				return err
			}
			for name, ok := range health {
				if !ok {
					return goerr.New("memory store is unhealthy", goerr.V("store", name))
				}
			}
			return nil
		}),
	}
}
