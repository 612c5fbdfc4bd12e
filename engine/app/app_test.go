package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CodeChampian/safebot/engine/domain"
	"github.com/CodeChampian/safebot/engine/ingest"
	"github.com/CodeChampian/safebot/engine/semantic"
	"github.com/CodeChampian/safebot/pkg/config"
	"github.com/CodeChampian/safebot/pkg/llm"
	"github.com/CodeChampian/safebot/pkg/oaiembed"
	"github.com/CodeChampian/safebot/pkg/ollama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dims = 8

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, dims)
	v[0] = 1
	v[len(text)%dims] += 0.5
	return v, nil
}

type stubGateway struct{ answer string }

func (g stubGateway) Complete(_ context.Context, msgs []llm.Message, _ llm.Params) (string, error) {
	if len(msgs) == 1 {
		return "hypothetical vendor risk", nil
	}
	return g.answer, nil
}

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.LLM.APIKey = "sk-test"
	cfg.Vector.Backend = config.BackendMemory
	cfg.Embedding.Dimensions = dims
	return cfg
}

func TestOpen_MemoryBackendEndToEnd(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, memoryConfig(), nil,
		WithEmbedder(stubEmbedder{}),
		WithGateway(stubGateway{answer: "Overall the exposure is High due to sanctions."}))
	require.NoError(t, err)
	defer a.Close(ctx)

	require.NotNil(t, a.Suppliers)
	assert.Nil(t, a.NATS)

	path := filepath.Join(t.TempDir(), "audit.txt")
	require.NoError(t, os.WriteFile(path, []byte("Vendor X was cited for late deliveries."), 0o644))
	res, err := a.Pipeline.Ingest(ctx, ingest.Request{FilePath: path, DocumentID: "doc-1", VendorID: "vendor-x"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)

	verdict, err := a.Assessor.Assess(ctx, "Is vendor X risky?", []string{"vendor-x"})
	require.NoError(t, err)
	assert.Equal(t, domain.RiskHigh, verdict.RiskLevel)
	assert.Equal(t, []string{"audit.txt"}, verdict.Evidence)

	assert.Contains(t, a.Metrics.Render(), "safebot_ingest_docs_total 1")
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.LLM.APIKey = ""
	_, err := Open(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, config.ErrConfig)
}

func TestOpen_StoreOverride(t *testing.T) {
	cfg := memoryConfig()
	cfg.Vector.Backend = config.BackendQdrant
	store := newCountingStore()
	a, err := Open(context.Background(), cfg, nil, WithStore(store), WithEmbedder(stubEmbedder{}))
	require.NoError(t, err)
	assert.Equal(t, dims, store.ensured)
	a.Close(context.Background())
	assert.True(t, store.closed)
}

func TestNewStore_UnknownBackend(t *testing.T) {
	_, err := NewStore(context.Background(), config.VectorConfig{Backend: "faiss"})
	require.ErrorIs(t, err, config.ErrConfig)
	assert.True(t, strings.Contains(err.Error(), "faiss"))
}

func TestNewEmbedder_ByProvider(t *testing.T) {
	e := NewEmbedder(config.EmbeddingConfig{Provider: config.ProviderOllama, Model: "all-minilm"})
	assert.IsType(t, &ollama.EmbedClient{}, e)

	e = NewEmbedder(config.EmbeddingConfig{Provider: config.ProviderOpenAI, Model: "text-embedding-3-small", APIKey: "k"})
	assert.IsType(t, &oaiembed.Client{}, e)
}

func TestOptionsMapping(t *testing.T) {
	cfg := memoryConfig()
	cfg.RAG.EvidenceK = 2
	cfg.RAG.MinScore = 0.25
	cfg.RAG.IncludeHypothesis = true
	cfg.Ingest.ChunkSize = 500

	r := RAGOptions(cfg)
	assert.Equal(t, 2, r.EvidenceK)
	assert.InDelta(t, 0.25, r.MinScore, 1e-6)
	assert.True(t, r.IncludeHypothesis)
	assert.Equal(t, dims, r.Dimensions)

	i := IngestOptions(cfg)
	assert.Equal(t, 500, i.ChunkSize)
	assert.Equal(t, cfg.Ingest.ChunkOverlap, i.ChunkOverlap)
	assert.Equal(t, dims, i.Dimensions)
}

type countingStore struct {
	*semantic.MemoryStore
	ensured int
	closed  bool
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: semantic.NewMemoryStore()}
}

func (s *countingStore) EnsureCollection(ctx context.Context, d int) error {
	s.ensured = d
	return s.MemoryStore.EnsureCollection(ctx, d)
}

func (s *countingStore) Close() error {
	s.closed = true
	return nil
}
