package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/usecase/snippet"
	"github.com/urfave/cli/v3"
)

func snippetCommand() *cli.Command {
	return &cli.Command{
		Name:  "snippet",
		Usage: "Save and load named snippets in Cloud Storage",
		Commands: []*cli.Command{
			snippetGetCommand(),
			snippetSaveCommand(),
		},
	}
}

func (cfg *config) newSnippet(ctx context.Context) (*snippet.UseCase, error) {
	storage, err := cfg.newStorage(ctx)
	if err != nil {
		return nil, err
	}
	if storage == nil {
		return nil, goerr.New("bucket is required for snippets")
	}
	return snippet.New(storage), nil
}

func snippetGetCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, storageFlags(&cfg)...)

	return &cli.Command{
		Name:      "get",
		Usage:     "Print a snippet",
		ArgsUsage: "<name>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx)
			if err != nil {
				return err
			}
			if c.Args().Len() != 1 {
				return goerr.New("snippet name is required")
			}

			uc, err := cfg.newSnippet(ctx)
			if err != nil {
				return err
			}
			body, err := uc.Get(ctx, c.Args().Get(0))
			if err != nil {
				return err
			}
			fmt.Fprint(c.Root().Writer, body)
			return nil
		},
	}
}

func snippetSaveCommand() *cli.Command {
	var (
		cfg   config
		input string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "File to read the snippet from, stdin if omitted",
			Destination: &input,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)

	return &cli.Command{
		Name:      "save",
		Usage:     "Save a snippet",
		ArgsUsage: "<name>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx)
			if err != nil {
				return err
			}
			if c.Args().Len() != 1 {
				return goerr.New("snippet name is required")
			}
			name := c.Args().Get(0)

			var r io.Reader = os.Stdin
			if input != "" {
				f, err := os.Open(input)
				if err != nil {
					return goerr.Wrap(err, "failed to open input", goerr.V("path", input))
				}
				defer f.Close()
				r = f
			}
			body, err := io.ReadAll(r)
			if err != nil {
				return goerr.Wrap(err, "failed to read snippet")
			}

			uc, err := cfg.newSnippet(ctx)
			if err != nil {
				return err
			}
			if err := uc.Save(ctx, name, string(body)); err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "Snippet '%s' saved successfully\n", name)
			return nil
		},
	}
}
