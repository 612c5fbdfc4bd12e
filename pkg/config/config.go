// Package config loads the service configuration from a YAML file, an
// optional .env file and the process environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrConfig is the kind of every configuration failure.
var ErrConfig = errors.New("invalid configuration")

// sqlIdent restricts the pgvector table name, which is interpolated into DDL.
var sqlIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ConfigError lists every setting that failed validation.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "config: " + strings.Join(e.Problems, "; ")
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// Vector store backends.
const (
	BackendQdrant   = "qdrant"
	BackendPGVector = "pgvector"
	BackendMemory   = "memory"
)

// Embedding providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// LLMConfig configures the language model gateway.
type LLMConfig struct {
	URL              string        `yaml:"url"`
	APIKey           string        `yaml:"api_key"`
	Model            string        `yaml:"model"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxAttempts      int           `yaml:"max_attempts"`
	RateLimit        float64       `yaml:"rate_limit"`
	RateBurst        int           `yaml:"rate_burst"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"`
	// URL defaults per provider when empty.
	URL        string `yaml:"url"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	Dimensions int    `yaml:"dimensions"`
}

// VectorConfig selects and configures the vector store.
type VectorConfig struct {
	Backend    string `yaml:"backend"`
	URL        string `yaml:"url"`
	Collection string `yaml:"collection"`
	// DatabaseURL is the Postgres connection string of the pgvector backend.
	DatabaseURL string `yaml:"database_url"`
}

// IngestConfig configures chunking and the upload directory.
type IngestConfig struct {
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	EmbedWorkers int    `yaml:"embed_workers"`
	UploadDir    string `yaml:"upload_dir"`
	// ReplyTimeout bounds how long the API waits for a queued ingestion.
	ReplyTimeout time.Duration `yaml:"reply_timeout"`
}

// RAGConfig holds the retrieval constants.
type RAGConfig struct {
	SearchTopK            int           `yaml:"search_top_k"`
	EvidenceK             int           `yaml:"evidence_k"`
	MinScore              float64       `yaml:"min_score"`
	ClassifierWindow      int           `yaml:"classifier_window"`
	HypothesisTemperature float64       `yaml:"hypothesis_temperature"`
	HypothesisMaxTokens   int           `yaml:"hypothesis_max_tokens"`
	AnswerTemperature     float64       `yaml:"answer_temperature"`
	AnswerMaxTokens       int           `yaml:"answer_max_tokens"`
	IncludeHypothesis     bool          `yaml:"include_hypothesis"`
	SearchTimeout         time.Duration `yaml:"search_timeout"`
}

// NATSConfig points at the message bus. An empty URL disables it.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// Neo4jConfig points at the supplier record store. With an empty URL
// supplier records are kept in memory.
type Neo4jConfig struct {
	URL  string `yaml:"url"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           string `yaml:"port"`
	CORSOrigin     string `yaml:"cors_origin"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Config is the root configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
	Ingest    IngestConfig    `yaml:"ingest"`
	RAG       RAGConfig       `yaml:"rag"`
	NATS      NATSConfig      `yaml:"nats"`
	Neo4j     Neo4jConfig     `yaml:"neo4j"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			URL:         "https://openrouter.ai/api/v1/chat/completions",
			Model:       "openai/gpt-4o-mini",
			Timeout:     60 * time.Second,
			MaxAttempts: 1,
		},
		Embedding: EmbeddingConfig{
			Provider:   ProviderOllama,
			Model:      "all-minilm",
			Dimensions: 384,
		},
		Vector: VectorConfig{
			Backend:    BackendQdrant,
			URL:        "localhost:6334",
			Collection: "supplier_docs",
		},
		Ingest: IngestConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
			EmbedWorkers: 4,
			UploadDir:    "uploads",
			ReplyTimeout: 2 * time.Minute,
		},
		RAG: RAGConfig{
			SearchTopK:            8,
			EvidenceK:             3,
			MinScore:              0.10,
			ClassifierWindow:      50,
			HypothesisTemperature: 0.7,
			HypothesisMaxTokens:   200,
			AnswerTemperature:     0,
			SearchTimeout:         10 * time.Second,
		},
		Server: ServerConfig{
			Port:           "8000",
			CORSOrigin:     "*",
			MaxUploadBytes: 32 << 20,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration. A missing YAML file or .env file is not an
// error. Environment variables override both. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"MODEL_PROVIDER_KEY":      &c.LLM.APIKey,
		"MODEL_PROVIDER_URL":      &c.LLM.URL,
		"LLM_MODEL":               &c.LLM.Model,
		"VECTOR_DB_URL":           &c.Vector.URL,
		"SUPPLIER_DOC_COLLECTION": &c.Vector.Collection,
		"VECTOR_BACKEND":          &c.Vector.Backend,
		"DATABASE_URL":            &c.Vector.DatabaseURL,
		"EMBED_PROVIDER":          &c.Embedding.Provider,
		"EMBED_URL":               &c.Embedding.URL,
		"EMBED_MODEL":             &c.Embedding.Model,
		"EMBED_API_KEY":           &c.Embedding.APIKey,
		"NATS_URL":                &c.NATS.URL,
		"NEO4J_URL":               &c.Neo4j.URL,
		"NEO4J_USER":              &c.Neo4j.User,
		"NEO4J_PASS":              &c.Neo4j.Pass,
		"UPLOAD_DIR":              &c.Ingest.UploadDir,
		"PORT":                    &c.Server.Port,
		"CORS_ORIGIN":             &c.Server.CORSOrigin,
		"LOG_LEVEL":               &c.Log.Level,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("EMBED_DIMENSIONS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Problems: []string{fmt.Sprintf("EMBED_DIMENSIONS: %q is not an integer", v)}}
		}
		c.Embedding.Dimensions = n
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if strings.TrimSpace(c.LLM.APIKey) == "" {
		add("llm.api_key is required (MODEL_PROVIDER_KEY)")
	}
	if c.LLM.URL == "" {
		add("llm.url is required")
	}
	if c.LLM.Model == "" {
		add("llm.model is required")
	}

	switch c.Vector.Backend {
	case BackendQdrant:
		if c.Vector.URL == "" {
			add("vector.url is required for the qdrant backend (VECTOR_DB_URL)")
		}
	case BackendPGVector:
		if c.Vector.DatabaseURL == "" {
			add("vector.database_url is required for the pgvector backend (DATABASE_URL)")
		}
		if c.Vector.Collection != "" && !sqlIdent.MatchString(c.Vector.Collection) {
			add("vector.collection %q is not a valid table name for the pgvector backend", c.Vector.Collection)
		}
	case BackendMemory:
	default:
		add("vector.backend %q is not one of qdrant, pgvector, memory", c.Vector.Backend)
	}
	if c.Vector.Collection == "" {
		add("vector.collection is required")
	}

	switch c.Embedding.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		add("embedding.provider %q is not one of ollama, openai", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		add("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}

	if c.Ingest.ChunkSize <= 0 {
		add("ingest.chunk_size must be positive, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		add("ingest.chunk_overlap must be in [0, chunk_size), got %d", c.Ingest.ChunkOverlap)
	}

	if c.RAG.SearchTopK < 1 {
		add("rag.search_top_k must be at least 1, got %d", c.RAG.SearchTopK)
	}
	if c.RAG.EvidenceK < 1 || c.RAG.EvidenceK > c.RAG.SearchTopK {
		add("rag.evidence_k must be in [1, search_top_k], got %d", c.RAG.EvidenceK)
	}
	if c.RAG.MinScore < 0 || c.RAG.MinScore > 1 {
		add("rag.min_score must be in [0, 1], got %g", c.RAG.MinScore)
	}
	if c.RAG.ClassifierWindow < 1 {
		add("rag.classifier_window must be at least 1, got %d", c.RAG.ClassifierWindow)
	}
	for _, t := range []struct {
		name  string
		value float64
	}{
		{"rag.hypothesis_temperature", c.RAG.HypothesisTemperature},
		{"rag.answer_temperature", c.RAG.AnswerTemperature},
	} {
		if t.value < 0 || t.value > 2 {
			add("%s must be in [0, 2], got %g", t.name, t.value)
		}
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}

	if len(problems) == 0 {
		return nil
	}
	return &ConfigError{Problems: problems}
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
	}
	return l, nil
}

// NewLogger returns the JSON logger the binaries install as default.
func (c *Config) NewLogger() *slog.Logger {
	level, _ := ParseLevel(c.Log.Level)
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
