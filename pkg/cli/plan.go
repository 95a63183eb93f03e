package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/usecase/chat"
	"github.com/m-mizutani/memoria/pkg/usecase/plan"
	"github.com/urfave/cli/v3"
)

func planCommand() *cli.Command {
	var (
		cfg    config
		asJSON bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print the full result as JSON",
			Destination: &asJSON,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "plan",
		Usage:     "Generate the next best actions for a task from past tasks and instructions",
		ArgsUsage: "<task>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx)
			if err != nil {
				return err
			}
			defer cfg.close(ctx)

			if c.Args().Len() == 0 {
				return goerr.New("task is required")
			}

			_, st, gemini, err := cfg.newRecall(ctx)
			if err != nil {
				return err
			}

			result, err := plan.New(st.composite, gemini).NextBestAction(ctx, strings.Join(c.Args().Slice(), " "))
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(c.Root().Writer, result)
			}

			w := c.Root().Writer
			fmt.Fprintf(w, "Task: %s\nIntent: %s\n", result.Task, result.Intent)
			if len(result.SimilarTasks) > 0 {
				fmt.Fprintf(w, "\nSimilar tasks:\n")
				for _, t := range result.SimilarTasks {
					fmt.Fprintf(w, "  [%.3f] %s\n", t.Score, t.Task)
				}
			}
			fmt.Fprintf(w, "\nPlan (%s):\n", result.PlanID)
			for _, step := range result.Steps {
				fmt.Fprintf(w, "  %d. %s\n", step.Step, step.Action)
			}
			return nil
		},
	}
}

func askCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask Gemini a single question",
		ArgsUsage: "<question>",
		Flags:     flags,
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

			answer, err := chat.Ask(ctx, gemini, strings.Join(c.Args().Slice(), " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.Root().Writer, answer)
			return nil
		},
	}
}
