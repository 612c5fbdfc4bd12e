package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/CodeChampian/safebot/engine/domain"
	"github.com/CodeChampian/safebot/engine/ingest"
	"github.com/CodeChampian/safebot/engine/semantic"
	"github.com/CodeChampian/safebot/engine/supplier"
	"github.com/CodeChampian/safebot/pkg/metrics"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAssessor struct {
	verdict *domain.Verdict
	err     error
	query   string
	vendors []string
}

func (a *stubAssessor) Assess(_ context.Context, query string, vendorIDs []string) (*domain.Verdict, error) {
	a.query, a.vendors = query, vendorIDs
	if a.err != nil {
		return nil, a.err
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("rag: %w", domain.NewValidationError("query", query, domain.ErrEmptyQuery))
	}
	return a.verdict, nil
}

type wordEmbedder struct{}

func (wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{1, float32(len(text) % 7), 0.5, 0.25}, nil
}

type fixture struct {
	srv      *server
	handler  http.Handler
	assessor *stubAssessor
	store    *semantic.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := semantic.NewMemoryStore()
	assessor := &stubAssessor{verdict: &domain.Verdict{RiskLevel: domain.RiskHigh, Evidence: []string{"audit.pdf"}, Summary: "High exposure"}}
	s := &server{
		assessor: assessor,
		store:    store,
		ingester: ingest.New(ingest.Deps{Store: store, Embedder: wordEmbedder{}}, ingest.Options{
			ChunkSize: 200, ChunkOverlap: 20, EmbedWorkers: 2, Dimensions: 4,
		}),
		suppliers: supplier.NewMemoryStore(),
		uploadDir: t.TempDir(),
		metrics:   metrics.New(),
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return &fixture{srv: s, handler: s.routes(), assessor: assessor, store: store}
}

func (f *fixture) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) doJSON(t *testing.T, method, path string, v any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if v != nil {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	return f.do(t, method, path, body, "application/json")
}

func (f *fixture) createSupplier(t *testing.T, name string) supplier.Supplier {
	t.Helper()
	sup, err := f.srv.suppliers.Create(context.Background(), supplier.Input{Name: name, Category: "Metals", Location: "Ghent"})
	require.NoError(t, err)
	return sup
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func multipartFile(t *testing.T, name, content string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "GET", "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestAnalyze_RecordsSingleSupplierVerdict(t *testing.T) {
	f := newFixture(t)
	sup := f.createSupplier(t, "Acme")

	rec := f.doJSON(t, "POST", "/analyze", AnalyzeRequest{Query: "Is Acme risky?", VendorIDs: []string{sup.ID}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[map[string]any](t, rec)
	assert.Equal(t, "High", got["risk_level"])
	assert.Equal(t, []any{"audit.pdf"}, got["evidence"])
	assert.Equal(t, "High exposure", got["summary"])
	assert.Equal(t, []string{sup.ID}, f.assessor.vendors)

	stored, err := f.srv.suppliers.Get(context.Background(), sup.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RiskHigh, stored.RiskLevel)
}

func TestAnalyze_MultipleVendorsDoNotRecord(t *testing.T) {
	f := newFixture(t)
	a, b := f.createSupplier(t, "A"), f.createSupplier(t, "B")

	rec := f.doJSON(t, "POST", "/analyze", AnalyzeRequest{Query: "q", VendorIDs: []string{a.ID, b.ID}})
	require.Equal(t, http.StatusOK, rec.Code)
	stored, err := f.srv.suppliers.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RiskLow, stored.RiskLevel)
}

func TestAnalyze_EmptyQuery(t *testing.T) {
	f := newFixture(t)
	rec := f.doJSON(t, "POST", "/analyze", AnalyzeRequest{Query: "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Query cannot be empty.", decode[map[string]string](t, rec)["detail"])
}

func TestAnalyze_InvalidJSON(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "POST", "/analyze", strings.NewReader("{not json"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyze_DownstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.assessor.err = domain.NewStepError(domain.ErrSSRGeneration, errors.New("connection refused"))
	rec := f.doJSON(t, "POST", "/analyze", AnalyzeRequest{Query: "q"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "SSR generation error: connection refused", decode[map[string]string](t, rec)["detail"])
}

func TestVendors(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Upsert(context.Background(), []semantic.VectorRecord{
		{ID: "p1", Embedding: []float32{1, 0}, Payload: domain.ChunkPayload{VendorID: "SUP-B"}},
		{ID: "p2", Embedding: []float32{0, 1}, Payload: domain.ChunkPayload{VendorID: "SUP-A"}},
		{ID: "p3", Embedding: []float32{1, 1}, Payload: domain.ChunkPayload{VendorID: "SUP-B"}},
	}))

	rec := f.do(t, "GET", "/vendors", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"SUP-A", "SUP-B"}, decode[map[string][]string](t, rec)["vendors"])
}

func TestSupplierCRUD(t *testing.T) {
	f := newFixture(t)

	rec := f.doJSON(t, "POST", "/api/suppliers", map[string]any{
		"name": "Zeta Metals", "category": "Metals", "location": "Ghent", "contact_email": "ops@zeta.test",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[map[string]supplier.Supplier](t, rec)["supplier"]
	assert.Regexp(t, `^SUP-[0-9A-F]{8}$`, created.ID)
	assert.Equal(t, domain.RiskLow, created.RiskLevel)
	assert.True(t, created.Active)

	f.doJSON(t, "POST", "/api/suppliers", map[string]any{"name": "Alpha", "category": "c", "location": "l"})
	f.doJSON(t, "POST", "/api/suppliers", map[string]any{"name": "Dormant", "category": "c", "location": "l", "active": false})

	rec = f.do(t, "GET", "/suppliers", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Alpha", "Zeta Metals"}, decode[map[string][]string](t, rec)["suppliers"])

	rec = f.doJSON(t, "PUT", "/api/suppliers/"+created.ID, map[string]any{"name": "Zeta Group", "category": "Metals", "location": "Antwerp"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Antwerp", decode[map[string]supplier.Supplier](t, rec)["supplier"].Location)

	rec = f.do(t, "GET", "/api/suppliers", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	raw := decode[map[string][]map[string]any](t, rec)["suppliers"]
	require.Len(t, raw, 3)
	assert.Contains(t, raw[0], "riskLevel")

	rec = f.do(t, "DELETE", "/api/suppliers/"+created.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", "/api/suppliers/"+created.ID, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, "DELETE", "/api/suppliers/"+created.ID, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, f.doJSON(t, "PUT", "/api/suppliers/"+created.ID,
		map[string]any{"name": "x", "category": "c", "location": "l"}).Code)
}

func TestCreateSupplier_Invalid(t *testing.T) {
	f := newFixture(t)
	rec := f.doJSON(t, "POST", "/api/suppliers", map[string]any{"name": "NoCategory", "location": "l"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["detail"], "category")
}

func TestUploadListServeDelete(t *testing.T) {
	f := newFixture(t)
	sup := f.createSupplier(t, "Acme")

	body, ct := multipartFile(t, "audit.txt", strings.Repeat("Acme missed three deliveries in March. ", 20))
	rec := f.do(t, "POST", "/api/suppliers/"+sup.ID+"/documents", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	up := decode[UploadResponse](t, rec)
	require.NotNil(t, up.Chunks)
	assert.Positive(t, *up.Chunks)
	assert.Equal(t, *up.Chunks, f.store.Len())
	assert.Equal(t, filepath.Join(f.srv.uploadDir, sup.ID, up.DocumentID+".txt"), up.FilePath)
	_, err := os.Stat(up.FilePath)
	require.NoError(t, err)

	rec = f.do(t, "GET", "/api/suppliers/"+sup.ID+"/documents", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	docs := decode[map[string][]DocumentView](t, rec)["documents"]
	require.Len(t, docs, 1)
	assert.Equal(t, "audit.txt", docs[0].Filename)
	assert.Equal(t, *up.Chunks, docs[0].Chunks)
	assert.Equal(t, "/files/"+sup.ID+"/"+up.DocumentID+".txt", docs[0].URL)

	rec = f.do(t, "GET", docs[0].URL, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Acme missed three deliveries")

	rec = f.do(t, "DELETE", "/api/documents/"+up.DocumentID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, f.store.Len())
	_, err = os.Stat(up.FilePath)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	stored, err := f.srv.suppliers.Get(context.Background(), sup.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.DocumentCount)
}

func TestUpload_Rejections(t *testing.T) {
	f := newFixture(t)
	sup := f.createSupplier(t, "Acme")

	body, ct := multipartFile(t, "photo.png", "binary")
	rec := f.do(t, "POST", "/api/suppliers/"+sup.ID+"/documents", body, ct)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["detail"], ".png")

	body, ct = multipartFile(t, "a.txt", "text")
	rec = f.do(t, "POST", "/api/suppliers/SUP-MISSING/documents", body, ct)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, "POST", "/api/suppliers/"+sup.ID+"/documents", strings.NewReader(""), "multipart/form-data; boundary=x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Zero(t, f.store.Len())
}

func TestUpload_BlankDocument(t *testing.T) {
	f := newFixture(t)
	sup := f.createSupplier(t, "Acme")

	body, ct := multipartFile(t, "empty.txt", "   \n\n ")
	rec := f.do(t, "POST", "/api/suppliers/"+sup.ID+"/documents", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	up := decode[UploadResponse](t, rec)
	require.NotNil(t, up.Chunks)
	assert.Zero(t, *up.Chunks)
	assert.Equal(t, "No text content extracted from empty.txt", up.Message)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.srv.metrics.Counter("safebot_assessments_total", "Assessments").Inc()
	rec := f.do(t, "GET", "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "safebot_assessments_total 1")
}

func TestDeleteDocument_ClientErrorOverNATS(t *testing.T) {
	f := newFixture(t)
	ns, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	require.NoError(t, err)
	ns.Start()
	t.Cleanup(ns.Shutdown)
	require.True(t, ns.ReadyForConnections(3*time.Second))
	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	pipeline := ingest.New(ingest.Deps{Store: f.store, Embedder: wordEmbedder{}}, ingest.Options{
		ChunkSize: 200, ChunkOverlap: 20, EmbedWorkers: 2, Dimensions: 4,
	})
	consumer, err := ingest.StartConsumer(nc, pipeline, f.srv.log)
	require.NoError(t, err)
	t.Cleanup(consumer.Stop)
	require.NoError(t, nc.Flush())
	f.srv.ingester = ingest.NewClient(nc, 5*time.Second)

	rec := f.do(t, http.MethodDelete, "/api/documents/%20", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Contains(t, decode[map[string]string](t, rec)["detail"], "document_id")
}
