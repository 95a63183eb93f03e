package cli

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/adapter"
	"github.com/m-mizutani/memoria/pkg/interfaces"
	"github.com/m-mizutani/memoria/pkg/memory"
	"github.com/m-mizutani/memoria/pkg/policy"
	"github.com/m-mizutani/memoria/pkg/repository"
	"github.com/m-mizutani/memoria/pkg/searchindex"
	"github.com/m-mizutani/memoria/pkg/usecase/recall"
	"github.com/m-mizutani/memoria/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const (
	backendFirestore = "firestore"
	backendSQLite    = "sqlite"
	backendChromem   = "chromem"
	backendMemory    = "memory"
	backendNone      = "none"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// Memory stores
	project             string
	database            string
	shortTermBackend    string
	shortTermCollection string
	shortTermTTL        time.Duration
	sqlitePath          string
	longTermBackend     string
	longTermCollection  string
	chromemPath         string
	normalizeScores     bool
	policyDir           string

	// Adapters
	geminiProject       string
	geminiLocation      string
	generativeModel     string
	embeddingModel      string
	embeddingDimensions int64
	embeddingCacheTTL   time.Duration
	bucket              string

	closers []func() error
}

// globalFlags returns logging and memory store flags with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("MEMORIA_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       logging.FormatConsole,
			Sources:     cli.EnvVars("MEMORIA_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "short-term-backend",
			Usage:       "Short-term memory backend (firestore, sqlite, memory, none)",
			Value:       backendMemory,
			Sources:     cli.EnvVars("MEMORIA_SHORT_TERM_BACKEND"),
			Destination: &cfg.shortTermBackend,
		},
		&cli.StringFlag{
			Name:        "short-term-collection",
			Usage:       "Firestore collection for short-term memory",
			Value:       "short_term_memory",
			Sources:     cli.EnvVars("MEMORIA_SHORT_TERM_COLLECTION"),
			Destination: &cfg.shortTermCollection,
		},
		&cli.DurationFlag{
			Name:        "short-term-ttl",
			Usage:       "Default lifetime of short-term memories",
			Value:       memory.DefaultTTL,
			Sources:     cli.EnvVars("MEMORIA_SHORT_TERM_TTL"),
			Destination: &cfg.shortTermTTL,
		},
		&cli.StringFlag{
			Name:        "sqlite-path",
			Usage:       "SQLite file for the sqlite short-term backend",
			Value:       "memoria.db",
			Sources:     cli.EnvVars("MEMORIA_SQLITE_PATH"),
			Destination: &cfg.sqlitePath,
		},
		&cli.StringFlag{
			Name:        "long-term-backend",
			Usage:       "Long-term memory backend (firestore, chromem, memory, none)",
			Value:       backendMemory,
			Sources:     cli.EnvVars("MEMORIA_LONG_TERM_BACKEND"),
			Destination: &cfg.longTermBackend,
		},
		&cli.StringFlag{
			Name:        "long-term-collection",
			Usage:       "Firestore or chromem collection for long-term memory",
			Value:       "long_term_memory",
			Sources:     cli.EnvVars("MEMORIA_LONG_TERM_COLLECTION"),
			Destination: &cfg.longTermCollection,
		},
		&cli.StringFlag{
			Name:        "chromem-path",
			Usage:       "Directory of the chromem long-term backend, in-memory if empty",
			Sources:     cli.EnvVars("MEMORIA_CHROMEM_PATH"),
			Destination: &cfg.chromemPath,
		},
		&cli.BoolFlag{
			Name:        "normalize-scores",
			Usage:       "Min-max normalize scores per store before merging results",
			Sources:     cli.EnvVars("MEMORIA_NORMALIZE_SCORES"),
			Destination: &cfg.normalizeScores,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of rego files with a retention package",
			Sources:     cli.EnvVars("MEMORIA_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

// llmFlags returns flags for Gemini with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Generative model name",
			Value:       "gemini-2.5-flash",
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.generativeModel,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Embedding model name",
			Value:       "gemini-embedding-001",
			Sources:     cli.EnvVars("GEMINI_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.IntFlag{
			Name:        "embedding-dimensions",
			Usage:       "Output dimensions of embeddings; every stored vector must share it",
			Value:       adapter.DefaultEmbeddingDimensions,
			Sources:     cli.EnvVars("GEMINI_EMBEDDING_DIMENSIONS"),
			Destination: &cfg.embeddingDimensions,
		},
		&cli.DurationFlag{
			Name:        "embedding-cache-ttl",
			Usage:       "Lifetime of cached embeddings, 0 disables the cache",
			Value:       24 * time.Hour,
			Sources:     cli.EnvVars("MEMORIA_EMBEDDING_CACHE_TTL"),
			Destination: &cfg.embeddingCacheTTL,
		},
	}
}

// storageFlags returns flags for Cloud Storage with destination config
func storageFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for snippets",
			Sources:     cli.EnvVars("MEMORIA_BUCKET"),
			Destination: &cfg.bucket,
		},
	}
}

// setupLogger attaches the configured logger to ctx and makes it the default
func (cfg *config) setupLogger(ctx context.Context) (context.Context, error) {
	logger, err := logging.NewWithFormat(cfg.logLevel, cfg.logFormat, os.Stderr)
	if err != nil {
		return ctx, err
	}
	logging.SetDefault(logger)
	slog.SetDefault(logger)
	return logging.With(ctx, logger), nil
}

func (cfg *config) onClose(fn func() error) {
	cfg.closers = append(cfg.closers, fn)
}

// close releases clients in reverse order of creation
func (cfg *config) close(ctx context.Context) {
	for i := len(cfg.closers) - 1; i >= 0; i-- {
		if err := cfg.closers[i](); err != nil {
			logging.From(ctx).Warn("failed to close client", "error", err)
		}
	}
	cfg.closers = nil
}

func (cfg *config) requireProject() error {
	if cfg.project == "" {
		return goerr.New("project is required for firestore backend")
	}
	if cfg.database == "" {
		return goerr.New("database is required for firestore backend")
	}
	return nil
}

// newShortTermRepository returns nil when short-term memory is disabled
func (cfg *config) newShortTermRepository(ctx context.Context) (repository.Repository, error) {
	switch cfg.shortTermBackend {
	case backendNone:
		return nil, nil
	case backendMemory:
		return repository.NewMemory(), nil
	case backendSQLite:
		repo, err := repository.NewSQLite(ctx, cfg.sqlitePath)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create sqlite repository")
		}
		cfg.onClose(repo.Close)
		return repo, nil
	case backendFirestore:
		if err := cfg.requireProject(); err != nil {
			return nil, err
		}
		repo, err := repository.NewFirestore(ctx, cfg.project, cfg.database,
			repository.WithCollection(cfg.shortTermCollection))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create firestore repository")
		}
		cfg.onClose(repo.Close)
		return repo, nil
	default:
		return nil, goerr.New("unsupported short-term backend", goerr.V("backend", cfg.shortTermBackend))
	}
}

// newSearchIndex returns nil when long-term memory is disabled
func (cfg *config) newSearchIndex(ctx context.Context, embedder interfaces.Embedder) (searchindex.Index, error) {
	switch cfg.longTermBackend {
	case backendNone:
		return nil, nil
	case backendMemory:
		return searchindex.NewMemory(), nil
	case backendChromem:
		opts := []searchindex.ChromemOption{
			searchindex.WithChromemCollection(cfg.longTermCollection),
		}
		if embedder != nil {
			opts = append(opts, searchindex.WithEmbeddingFunc(embedder))
		}
		idx, err := searchindex.NewChromem(cfg.chromemPath, opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create chromem index")
		}
		return idx, nil
	case backendFirestore:
		if err := cfg.requireProject(); err != nil {
			return nil, err
		}
		idx, err := searchindex.NewFirestore(ctx, cfg.project, cfg.database, cfg.longTermCollection)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create firestore index")
		}
		cfg.onClose(idx.Close)
		return idx, nil
	default:
		return nil, goerr.New("unsupported long-term backend", goerr.V("backend", cfg.longTermBackend))
	}
}

// newGemini returns nil when no Gemini project is configured
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	if cfg.geminiProject == "" {
		return nil, nil
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}

	client, err := adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation,
		adapter.WithGenerativeModel(cfg.generativeModel),
		adapter.WithEmbeddingModel(cfg.embeddingModel),
		adapter.WithEmbeddingDimensions(int32(cfg.embeddingDimensions)),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}
	return client, nil
}

// newEmbedder puts a cache in front of Gemini embeddings. It returns nil without Gemini.
func (cfg *config) newEmbedder(gemini adapter.Gemini) (interfaces.Embedder, error) {
	if gemini == nil {
		return nil, nil
	}
	if cfg.embeddingCacheTTL <= 0 {
		return gemini, nil
	}

	cache, err := adapter.NewEmbeddingCache(gemini, adapter.WithCacheTTL(cfg.embeddingCacheTTL))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding cache")
	}
	cfg.onClose(func() error {
		cache.Close()
		return nil
	})
	return cache, nil
}

// newStorage returns nil when no bucket is configured
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	if cfg.bucket == "" {
		return nil, nil
	}

	storage, err := adapter.NewStorage(ctx, cfg.bucket)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}

// newPolicy returns nil without a policy directory, which keeps callers' choices
func (cfg *config) newPolicy(ctx context.Context) (*policy.Engine, error) {
	if cfg.policyDir == "" {
		return nil, nil
	}
	engine, err := policy.New(ctx, cfg.policyDir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load retention policy", goerr.V("dir", cfg.policyDir))
	}
	return engine, nil
}

// stores bundles the memory tiers built from config. Either tier may be nil.
type stores struct {
	composite *memory.Composite
	shortTerm *memory.ShortTerm
	longTerm  *memory.LongTerm
	index     searchindex.Index
}

func (cfg *config) newStores(ctx context.Context, embedder interfaces.Embedder) (*stores, error) {
	repo, err := cfg.newShortTermRepository(ctx)
	if err != nil {
		return nil, err
	}
	index, err := cfg.newSearchIndex(ctx, embedder)
	if err != nil {
		return nil, err
	}

	s := &stores{index: index}
	opts := []memory.CompositeOption{memory.WithScoreNormalization(cfg.normalizeScores)}

	if repo != nil {
		stOpts := []memory.ShortTermOption{memory.WithDefaultTTL(cfg.shortTermTTL)}
		if embedder != nil {
			stOpts = append(stOpts, memory.WithEmbedder(embedder))
		}
		s.shortTerm = memory.NewShortTerm(repo, stOpts...)
		opts = append(opts, memory.WithShortTerm(s.shortTerm))
	}
	if index != nil {
		var ltOpts []memory.LongTermOption
		if embedder != nil {
			ltOpts = append(ltOpts, memory.WithLongTermEmbedder(embedder))
		}
		s.longTerm = memory.NewLongTerm(index, ltOpts...)
		opts = append(opts, memory.WithLongTerm(s.longTerm))
	}

	s.composite = memory.NewComposite(opts...)
	return s, nil
}

// newRecall wires Gemini embeddings, memory stores and the retention policy
func (cfg *config) newRecall(ctx context.Context) (*recall.UseCase, *stores, adapter.Gemini, error) {
	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	embedder, err := cfg.newEmbedder(gemini)
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := cfg.newStores(ctx, embedder)
	if err != nil {
		return nil, nil, nil, err
	}
	engine, err := cfg.newPolicy(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	opts := []recall.Option{recall.WithPolicy(engine)}
	if embedder != nil {
		opts = append(opts, recall.WithEmbedder(embedder))
	}
	return recall.New(st.composite, opts...), st, gemini, nil
}
