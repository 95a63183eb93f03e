package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/usecase/ingest"
	"github.com/urfave/cli/v3"
)

func ingestCommand() *cli.Command {
	var (
		cfg       config
		chunkSize int64
		batchSize int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "chunk-size",
			Usage:       "Maximum characters per chunk",
			Value:       ingest.DefaultChunkSize,
			Destination: &chunkSize,
		},
		&cli.IntFlag{
			Name:        "batch-size",
			Usage:       "Documents per upload batch",
			Value:       ingest.DefaultBatchSize,
			Destination: &batchSize,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "ingest",
		Usage:     "Load task instruction files (JSON or YAML) into long-term memory",
		ArgsUsage: "<glob>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx)
			if err != nil {
				return err
			}
			defer cfg.close(ctx)

			if c.Args().Len() != 1 {
				return goerr.New("file pattern is required, e.g. 'instructions/**/*.json'")
			}

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}
			embedder, err := cfg.newEmbedder(gemini)
			if err != nil {
				return err
			}
			index, err := cfg.newSearchIndex(ctx, embedder)
			if err != nil {
				return err
			}
			if index == nil {
				return goerr.New("long-term backend is required to ingest instructions")
			}

			s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
			s.Suffix = " Ingesting instructions..."
			s.Start()

			opts := []ingest.Option{
				ingest.WithChunkSize(int(chunkSize)),
				ingest.WithBatchSize(int(batchSize)),
				ingest.WithProgress(func(done, total int) {
					s.Lock()
					s.Suffix = fmt.Sprintf(" Prepared %d/%d documents", done, total)
					s.Unlock()
				}),
			}
			if embedder != nil {
				opts = append(opts, ingest.WithEmbedder(embedder))
			}

			summary, err := ingest.New(index, opts...).Run(ctx, c.Args().Get(0))
			s.Stop()
			if err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Files: %d (skipped %d)\nDocuments: %d\nUploaded: %d\nFailed: %d\n",
				summary.Files, summary.Skipped, summary.Documents, summary.Uploaded, summary.Failed)
			if summary.Failed > 0 {
				return goerr.New("some documents failed to upload", goerr.V("failed", summary.Failed))
			}
			return nil
		},
	}
}
