package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/service/mcp"
	"github.com/m-mizutani/memoria/pkg/usecase/plan"
	"github.com/m-mizutani/memoria/pkg/usecase/snippet"
	"github.com/m-mizutani/memoria/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cli.Command {
	var (
		cfg       config
		transport string
		addr      string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "transport",
			Aliases:     []string{"t"},
			Usage:       "MCP transport (stdio, http)",
			Value:       "stdio",
			Sources:     cli.EnvVars("MEMORIA_TRANSPORT"),
			Destination: &transport,
		},
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address for the http transport",
			Value:       "127.0.0.1:8080",
			Sources:     cli.EnvVars("MEMORIA_ADDR"),
			Destination: &addr,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the MCP server",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx)
			if err != nil {
				return err
			}
			defer cfg.close(ctx)

			recallUC, st, gemini, err := cfg.newRecall(ctx)
			if err != nil {
				return err
			}
			storage, err := cfg.newStorage(ctx)
			if err != nil {
				return err
			}

			opts := []mcp.Option{
				mcp.WithRecall(recallUC),
				mcp.WithPlan(plan.New(st.composite, gemini)),
				mcp.WithGemini(gemini),
			}
			if storage != nil {
				opts = append(opts, mcp.WithSnippet(snippet.New(storage)))
			}
			server := mcp.New(opts...)
			server.LogHealth(ctx)

			switch transport {
			case "stdio":
				return server.ServeStdio(ctx)
			case "http":
				return serveHTTP(ctx, addr, mcp.NewHandler(server))
			default:
				return goerr.New("unsupported transport", goerr.V("transport", transport))
			}
		},
	}
}

// serveHTTP runs until ctx is canceled, then drains open connections
func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	logger := logging.From(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting MCP server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return goerr.Wrap(err, "failed to serve http", goerr.V("addr", addr))
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down MCP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return goerr.Wrap(err, "failed to shutdown http server")
	}
	return nil
}
