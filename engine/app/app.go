// Package app assembles the pipelines and their collaborators from a
// validated configuration. Every binary builds its components here.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/CodeChampian/safebot/engine/ingest"
	"github.com/CodeChampian/safebot/engine/rag"
	"github.com/CodeChampian/safebot/engine/semantic"
	"github.com/CodeChampian/safebot/engine/supplier"
	"github.com/CodeChampian/safebot/pkg/config"
	"github.com/CodeChampian/safebot/pkg/llm"
	"github.com/CodeChampian/safebot/pkg/metrics"
	"github.com/CodeChampian/safebot/pkg/oaiembed"
	"github.com/CodeChampian/safebot/pkg/ollama"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const defaultOllamaURL = "http://localhost:11434"

// App holds the wired components. Suppliers live in memory when no Neo4j URL
// is configured; NATS is nil when its URL is unset.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Metrics   *metrics.Registry
	Store     semantic.Store
	Embedder  ingest.Embedder
	Gateway   llm.Completer
	Assessor  *rag.Service
	Pipeline  *ingest.Pipeline
	Suppliers *supplier.Store
	NATS      *nats.Conn

	closers []func(context.Context) error
}

// Option customises Open.
type Option func(*options)

type options struct {
	name     string
	store    semantic.Store
	noNATS   bool
	noNeo4j  bool
	noEnsure bool
	gateway  llm.Completer
	embedder ingest.Embedder
}

// WithName sets the client name reported to NATS.
func WithName(name string) Option { return func(o *options) { o.name = name } }

// WithStore replaces the configured vector store.
func WithStore(s semantic.Store) Option { return func(o *options) { o.store = s } }

// WithGateway replaces the configured language model gateway.
func WithGateway(g llm.Completer) Option { return func(o *options) { o.gateway = g } }

// WithEmbedder replaces the configured embedding provider.
func WithEmbedder(e ingest.Embedder) Option { return func(o *options) { o.embedder = e } }

// WithoutNATS skips the message bus even when configured.
func WithoutNATS() Option { return func(o *options) { o.noNATS = true } }

// WithoutNeo4j skips the supplier store even when configured.
func WithoutNeo4j() Option { return func(o *options) { o.noNeo4j = true } }

// WithoutEnsureCollection skips creating the vector collection at startup.
func WithoutEnsureCollection() Option { return func(o *options) { o.noEnsure = true } }

// Open validates cfg and connects every configured component. On error,
// anything already opened is closed.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{name: "safebot"}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			a.Close(context.Background())
		}
	}()

	a.Store = o.store
	if a.Store == nil {
		store, err := NewStore(ctx, cfg.Vector)
		if err != nil {
			return nil, err
		}
		a.Store = store
	}
	a.closers = append(a.closers, func(context.Context) error { return a.Store.Close() })
	if !o.noEnsure {
		if err := a.Store.EnsureCollection(ctx, cfg.Embedding.Dimensions); err != nil {
			return nil, fmt.Errorf("app: ensure collection: %w", err)
		}
	}

	a.Embedder = o.embedder
	if a.Embedder == nil {
		a.Embedder = NewEmbedder(cfg.Embedding)
	}
	a.Gateway = o.gateway
	if a.Gateway == nil {
		a.Gateway = NewGateway(cfg.LLM, logger)
	}

	a.Assessor = rag.New(rag.Deps{
		Gateway:    a.Gateway,
		Embedder:   a.Embedder,
		Store:      a.Store,
		Classifier: rag.KeywordClassifier{Window: cfg.RAG.ClassifierWindow},
		Logger:     logger,
		Metrics:    rag.NewMetrics(a.Metrics),
	}, RAGOptions(cfg))

	a.Pipeline = ingest.New(ingest.Deps{
		Store:    a.Store,
		Embedder: a.Embedder,
		Logger:   logger,
		Metrics:  ingest.NewMetrics(a.Metrics),
	}, IngestOptions(cfg))

	if cfg.Neo4j.URL != "" && !o.noNeo4j {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URL, neo4j.BasicAuth(cfg.Neo4j.User, cfg.Neo4j.Pass, ""))
		if err != nil {
			return nil, fmt.Errorf("app: neo4j driver: %w", err)
		}
		a.closers = append(a.closers, driver.Close)
		a.Suppliers = supplier.NewNeo4jStore(driver)
	} else {
		a.Suppliers = supplier.NewMemoryStore()
		if !o.noNeo4j {
			logger.Warn("neo4j.url not set: supplier records are kept in memory and lost on restart")
		}
	}

	if cfg.NATS.URL != "" && !o.noNATS {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name(o.name))
		if err != nil {
			return nil, fmt.Errorf("app: nats connect: %w", err)
		}
		a.NATS = nc
		a.closers = append(a.closers, func(context.Context) error { nc.Close(); return nil })
	}

	ok = true
	logger.Info("app ready",
		"vector_backend", cfg.Vector.Backend,
		"collection", cfg.Vector.Collection,
		"embedding_provider", cfg.Embedding.Provider,
		"suppliers_neo4j", cfg.Neo4j.URL != "" && !o.noNeo4j,
		"nats", a.NATS != nil,
	)
	return a, nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.Logger.Warn("app: close failed", "err", err)
		}
	}
	a.closers = nil
}

// NewStore opens the configured vector store backend.
func NewStore(ctx context.Context, cfg config.VectorConfig) (semantic.Store, error) {
	switch cfg.Backend {
	case config.BackendQdrant:
		return semantic.New(cfg.URL, cfg.Collection)
	case config.BackendPGVector:
		return semantic.NewPGStore(ctx, cfg.DatabaseURL, cfg.Collection)
	case config.BackendMemory:
		return semantic.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("app: %w: unknown vector backend %q", config.ErrConfig, cfg.Backend)
	}
}

// NewEmbedder builds the configured embedding provider.
func NewEmbedder(cfg config.EmbeddingConfig) ingest.Embedder {
	if cfg.Provider == config.ProviderOpenAI {
		return oaiembed.New(oaiembed.Config{
			BaseURL:    cfg.URL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		}, nil)
	}
	url := cfg.URL
	if url == "" {
		url = defaultOllamaURL
	}
	return ollama.NewEmbedClient(url, cfg.Model)
}

// NewGateway builds the language model gateway.
func NewGateway(cfg config.LLMConfig, logger *slog.Logger) *llm.Client {
	return llm.New(llm.Config{
		URL:              cfg.URL,
		APIKey:           cfg.APIKey,
		Model:            cfg.Model,
		Timeout:          cfg.Timeout,
		MaxAttempts:      cfg.MaxAttempts,
		RateLimit:        cfg.RateLimit,
		RateBurst:        cfg.RateBurst,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerTimeout:   cfg.BreakerTimeout,
	}, llm.WithLogger(logger))
}

// RAGOptions maps the retrieval settings onto rag.Options.
func RAGOptions(cfg *config.Config) rag.Options {
	return rag.Options{
		SearchTopK:            cfg.RAG.SearchTopK,
		EvidenceK:             cfg.RAG.EvidenceK,
		MinScore:              float32(cfg.RAG.MinScore),
		HypothesisTemperature: cfg.RAG.HypothesisTemperature,
		HypothesisMaxTokens:   cfg.RAG.HypothesisMaxTokens,
		AnswerTemperature:     cfg.RAG.AnswerTemperature,
		AnswerMaxTokens:       cfg.RAG.AnswerMaxTokens,
		IncludeHypothesis:     cfg.RAG.IncludeHypothesis,
		Dimensions:            cfg.Embedding.Dimensions,
		SearchTimeout:         cfg.RAG.SearchTimeout,
	}
}

// IngestOptions maps the chunking settings onto ingest.Options.
func IngestOptions(cfg *config.Config) ingest.Options {
	return ingest.Options{
		ChunkSize:    cfg.Ingest.ChunkSize,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
		EmbedWorkers: cfg.Ingest.EmbedWorkers,
		Dimensions:   cfg.Embedding.Dimensions,
	}
}
