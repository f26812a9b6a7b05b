package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/c5473c4c/rag-rbac/internal/docstore"
	"github.com/c5473c4c/rag-rbac/internal/rag"
	"github.com/c5473c4c/rag-rbac/internal/vectorstore"
)

const testDim = 16

type stubEmbedder struct{}

func (stubEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, testDim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		var h uint32
		for _, r := range word {
			h = h*31 + uint32(r)
		}
		vec[h%testDim]++
	}
	vec[0]++
	return vec, nil
}

func (e stubEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

type stubGenerator struct{}

func (stubGenerator) Generate(context.Context, string, string) (string, error) {
	return "generated answer", nil
}

func newChromemStore(t *testing.T) vectorstore.Store {
	t.Helper()
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Collection: "documents",
		VectorSize: testDim,
	}, zap.NewNop())
	require.NoError(t, err)
	return store
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWithStore(t, newChromemStore(t))
}

func newTestServerWithStore(t *testing.T, store vectorstore.Store) *Server {
	t.Helper()

	svc, err := rag.NewService(rag.Config{ChunkSize: 80, ChunkOverlap: 10, TopK: 5},
		stubEmbedder{}, store, stubGenerator{}, zap.NewNop())
	require.NoError(t, err)

	docs, err := docstore.NewStore(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { docs.Close() })

	srv, err := NewServer(svc, docs, zap.NewNop(), &Config{Host: "localhost", Port: 0})
	require.NoError(t, err)
	return srv
}

func doRequest(t *testing.T, srv *Server, method, path, subject, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if subject != "" {
		req.Header.Set(HeaderSubjectID, subject)
	}
	if role != "" {
		req.Header.Set(HeaderSubjectRole, role)
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func ingest(t *testing.T, srv *Server, subject, text, filename string) rag.IngestResult {
	t.Helper()
	rec := doRequest(t, srv, http.MethodPost, "/api/documents", subject, "user",
		IngestRequest{Text: text, Filename: filename})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res rag.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/health", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestIdentityRequired(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/query", "", "", QueryRequest{Question: "q"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/documents", "alice", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Unknown roles are rejected, not defaulted.
	rec = doRequest(t, srv, http.MethodPost, "/api/query", "alice", "superuser", QueryRequest{Question: "q"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestIngestAndQueryFlow(t *testing.T) {
	srv := newTestServer(t)

	res := ingest(t, srv, "alice", "the deployment runbook lives in the wiki under operations", "runbook.txt")
	assert.NotEmpty(t, res.DocumentID)
	assert.Greater(t, res.ChunkCount, 0)

	rec := doRequest(t, srv, http.MethodPost, "/api/query", "alice", "user",
		QueryRequest{Question: "where is the deployment runbook"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var qr rag.QueryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &qr))
	assert.Equal(t, "generated answer", qr.Answer)
	require.NotEmpty(t, qr.Sources)
	assert.Equal(t, "alice", qr.Sources[0].OwnerID)
}

// detachedWriteStore delegates writes with a background context so an
// in-flight ingest can outlive a canceled request in tests.
type detachedWriteStore struct {
	vectorstore.Store
}

func (s detachedWriteStore) Upsert(_ context.Context, rec vectorstore.ChunkRecord) error {
	return s.Store.Upsert(context.Background(), rec)
}

func TestIngestCatalogFailureCleansIndex(t *testing.T) {
	inner := newChromemStore(t)
	srv := newTestServerWithStore(t, detachedWriteStore{Store: inner})

	// Cancel the request context up front: the cataloging write fails
	// with context.Canceled after the vectors are already stored, and
	// the cleanup must still remove them.
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(
		IngestRequest{Text: "content that must not stay searchable", Filename: "orphan.txt"}))
	req := httptest.NewRequest(http.MethodPost, "/api/documents", &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(HeaderSubjectID, "alice")
	req.Header.Set(HeaderSubjectRole, "user")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	info, err := inner.Info(context.Background())
	require.NoError(t, err)
	assert.Zero(t, info.PointCount)
}

func TestIngestEmptyBody(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/api/documents", "alice", "user",
		IngestRequest{Text: "   ", Filename: "blank.txt"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListDocumentsScoping(t *testing.T) {
	srv := newTestServer(t)
	ingest(t, srv, "alice", "alice document body text", "a.txt")
	ingest(t, srv, "bob", "bob document body text", "b.txt")

	rec := doRequest(t, srv, http.MethodGet, "/api/documents", "alice", "user", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var docs []docstore.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "alice", docs[0].OwnerID)

	rec = doRequest(t, srv, http.MethodGet, "/api/documents", "root", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	assert.Len(t, docs, 2)
}

func TestDeleteDocumentOwnership(t *testing.T) {
	srv := newTestServer(t)
	res := ingest(t, srv, "alice", "document that bob must not delete", "a.txt")

	rec := doRequest(t, srv, http.MethodDelete, "/api/documents/"+res.DocumentID, "bob", "user", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, srv, http.MethodDelete, "/api/documents/"+res.DocumentID, "alice", "user", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Idempotent: deleting again succeeds quietly.
	rec = doRequest(t, srv, http.MethodDelete, "/api/documents/"+res.DocumentID, "alice", "user", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/documents", "alice", "user", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var docs []docstore.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	assert.Empty(t, docs)
}

func TestAdminCanDeleteAnyDocument(t *testing.T) {
	srv := newTestServer(t)
	res := ingest(t, srv, "alice", "document an admin may remove", "a.txt")

	rec := doRequest(t, srv, http.MethodDelete, "/api/documents/"+res.DocumentID, "root", "admin", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDeleteUserDataPrivilegedOnly(t *testing.T) {
	srv := newTestServer(t)
	ingest(t, srv, "alice", "first alice document text", "a1.txt")
	ingest(t, srv, "alice", "second alice document text", "a2.txt")
	ingest(t, srv, "bob", "bob keeps this document", "b.txt")

	rec := doRequest(t, srv, http.MethodDelete, "/api/users/alice/data", "alice", "user", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, srv, http.MethodDelete, "/api/users/alice/data", "root", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"documents_removed":2`)

	rec = doRequest(t, srv, http.MethodGet, "/api/documents", "root", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var docs []docstore.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "bob", docs[0].OwnerID)
}

func TestStatsPrivilegedOnly(t *testing.T) {
	srv := newTestServer(t)
	ingest(t, srv, "alice", "some indexed content for stats", "a.txt")

	rec := doRequest(t, srv, http.MethodGet, "/api/stats", "alice", "user", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/stats", "root", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info vectorstore.CollectionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Greater(t, info.PointCount, 0)
}

func TestCrossUserQueryIsolation(t *testing.T) {
	srv := newTestServer(t)
	ingest(t, srv, "alice", "the payroll spreadsheet password is stored in the vault", "secret.txt")

	rec := doRequest(t, srv, http.MethodPost, "/api/query", "bob", "user",
		QueryRequest{Question: "payroll spreadsheet password"})
	require.Equal(t, http.StatusOK, rec.Code)

	var qr rag.QueryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &qr))
	assert.Empty(t, qr.Sources)
	assert.Zero(t, qr.ChunksSearched)
}

func TestMetricsExposed(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/metrics", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rag_")
}
