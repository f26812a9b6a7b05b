package embeddings

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, baseURL string, maxRetries int) *Service {
	t.Helper()
	svc, err := NewService(Config{
		BaseURL:      baseURL,
		Model:        "nomic-embed-text",
		MaxRetries:   maxRetries,
		RetryBackoff: time.Millisecond,
	}, nil)
	require.NoError(t, err)
	return svc
}

func TestNewService(t *testing.T) {
	t.Run("defaults applied", func(t *testing.T) {
		svc, err := NewService(Config{}, nil)
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:11434", svc.config.BaseURL)
		assert.Equal(t, "nomic-embed-text", svc.config.Model)
	})
}

func TestEmbedQuery(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/embed", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
		}))
		defer srv.Close()

		svc := newTestService(t, srv.URL, 0)
		vec, err := svc.EmbedQuery(context.Background(), "hello")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	})

	t.Run("empty text rejected", func(t *testing.T) {
		svc := newTestService(t, "http://localhost:11434", 0)
		_, err := svc.EmbedQuery(context.Background(), "")
		require.ErrorIs(t, err, ErrEmptyInput)
	})

	t.Run("server error maps to unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		svc := newTestService(t, srv.URL, 0)
		_, err := svc.EmbedQuery(context.Background(), "hello")
		require.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("client error is not retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		svc := newTestService(t, srv.URL, 3)
		_, err := svc.EmbedQuery(context.Background(), "hello")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnavailable)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("unreachable backend maps to unavailable", func(t *testing.T) {
		svc := newTestService(t, "http://127.0.0.1:1", 0)
		_, err := svc.EmbedQuery(context.Background(), "hello")
		require.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestEmbedRetry(t *testing.T) {
	t.Run("recovers after transient failures", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) <= 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"embeddings":[[1,2]]}`))
		}))
		defer srv.Close()

		svc := newTestService(t, srv.URL, 3)
		vec, err := svc.EmbedQuery(context.Background(), "hello")
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 2}, vec)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after bounded attempts", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		svc := newTestService(t, srv.URL, 2)
		_, err := svc.EmbedQuery(context.Background(), "hello")
		require.ErrorIs(t, err, ErrUnavailable)
		assert.Equal(t, int32(3), calls.Load())
	})
}

func TestEmbedDocuments(t *testing.T) {
	t.Run("empty input rejected", func(t *testing.T) {
		svc := newTestService(t, "http://localhost:11434", 0)
		_, err := svc.EmbedDocuments(context.Background(), nil)
		require.ErrorIs(t, err, ErrEmptyInput)
	})

	t.Run("failure names the failing text", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 3 {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"embeddings":[[1,2]]}`))
		}))
		defer srv.Close()

		svc := newTestService(t, srv.URL, 0)
		_, err := svc.EmbedDocuments(context.Background(), []string{"a", "b", "c", "d", "e"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "text 3 of 5")
	})

	t.Run("one vector per input", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"embeddings":[[1,2]]}`))
		}))
		defer srv.Close()

		svc := newTestService(t, srv.URL, 0)
		vecs, err := svc.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
		require.NoError(t, err)
		assert.Len(t, vecs, 3)
	})
}
