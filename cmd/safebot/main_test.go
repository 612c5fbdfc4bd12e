package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CodeChampian/safebot/engine/app"
	"github.com/CodeChampian/safebot/engine/domain"
	"github.com/CodeChampian/safebot/engine/semantic"
	"github.com/CodeChampian/safebot/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
llm:
  api_key: sk-test
vector:
  backend: memory
  collection: test_docs
embedding:
  dimensions: 4
`

type wordEmbedder struct{}

func (wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{1, float32(len(text) % 7), 0, 1}, nil
}

type stubGateway struct{}

func (stubGateway) Complete(_ context.Context, msgs []llm.Message, _ llm.Params) (string, error) {
	if len(msgs) == 1 {
		return "A hypothetical report on supplier failures.", nil
	}
	return "High risk: the supplier failed its last financial audit.", nil
}

type harness struct {
	t      *testing.T
	store  *semantic.MemoryStore
	config string
	dir    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "safebot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))
	return &harness{t: t, store: semantic.NewMemoryStore(), config: path, dir: dir}
}

func (h *harness) file(name, body string) string {
	h.t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(h.t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(&out, &errOut,
		app.WithStore(h.store),
		app.WithEmbedder(wordEmbedder{}),
		app.WithGateway(stubGateway{}),
	)
	root.SetArgs(append([]string{"--config", h.config, "--no-color"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIngestVendorsAssess(t *testing.T) {
	h := newHarness(t)
	audit := h.file("audit.txt", "Vendor A failed its financial audit in March.")
	notes := h.file("notes.md", "# Notes\n\nLate deliveries were reported twice.")

	out, err := h.run("ingest", "--vendor", "vendor-a", audit, notes)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "✓"))
	assert.Contains(t, out, "1 chunks")

	out, err = h.run("vendors")
	require.NoError(t, err)
	assert.Equal(t, "vendor-a\n", out)

	out, err = h.run("assess", "Is vendor A a risky supplier?", "--vendor", "vendor-a")
	require.NoError(t, err)
	assert.Contains(t, out, "Risk level: High\n")
	assert.Contains(t, out, "failed its last financial audit")
	assert.Contains(t, out, "Evidence:\n")
	assert.Contains(t, out, "  - audit.txt\n")
}

func TestAssess_JSON(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("ingest", "-v", "vendor-a", h.file("audit.txt", "Audit findings."))
	require.NoError(t, err)

	out, err := h.run("assess", "--json", "How exposed are we?")
	require.NoError(t, err)
	var v domain.Verdict
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, domain.RiskHigh, v.RiskLevel)
	assert.Equal(t, []string{"audit.txt"}, v.Evidence)
}

func TestAssess_EmptyQuery(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("assess", "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)
}

func TestIngest_Rejections(t *testing.T) {
	h := newHarness(t)
	txt := h.file("a.txt", "text")

	_, err := h.run("ingest", txt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"vendor" not set`)

	_, err = h.run("ingest", "-v", "vendor-a", "--id", "doc-1", txt, h.file("b.txt", "more"))
	assert.EqualError(t, err, "--id can only be used with a single file")

	out, err := h.run("ingest", "-v", "vendor-a", h.file("logo.png", "png"))
	assert.EqualError(t, err, "1 of 1 files failed")
	assert.Contains(t, out, "✗")
	assert.Contains(t, out, "unsupported file type")
	assert.Zero(t, h.store.Len())
}

func TestIngest_ReuseIDReplacesThenDelete(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("ingest", "-v", "vendor-a", "--id", "doc-1", h.file("v1.txt", "first version"))
	require.NoError(t, err)
	require.Equal(t, 1, h.store.Len())

	out, err := h.run("ingest", "-v", "vendor-a", "--id", "doc-1", h.file("v2.txt", "second version"))
	require.NoError(t, err)
	assert.Contains(t, out, "doc-1")
	assert.Equal(t, 1, h.store.Len())

	out, err = h.run("delete", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Deleted doc-1\n", out)
	assert.Zero(t, h.store.Len())
}

func TestVendors_Empty(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("vendors")
	require.NoError(t, err)
	assert.Equal(t, "no vendors indexed\n", out)
}

func TestCollectionEnsure(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("collection", "ensure")
	require.NoError(t, err)
	assert.Equal(t, "✓ collection \"test_docs\" ready (memory, 4 dims)\n", out)
}

func TestRemoteNeedsNATS(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("delete", "--remote", "doc-1")
	assert.ErrorIs(t, err, errNoNATS)
}

func TestBadLogLevel(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("--log-level", "loud", "vendors")
	assert.Error(t, err)
}
