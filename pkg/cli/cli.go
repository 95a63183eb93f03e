package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "memoria",
		Usage: "Short and long-term memory for AI agents over MCP",
		Commands: []*cli.Command{
			serveCommand(),
			memoryCommand(),
			planCommand(),
			askCommand(),
			snippetCommand(),
			ingestCommand(),
			chatCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
