package pinecone

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-researcher/internal/crawler"
)

type fakePinecone struct {
	mu      sync.Mutex
	vectors map[string]vectorRecord
	fail    int
}

func newFakePinecone(t *testing.T) (*fakePinecone, *httptest.Server) {
	t.Helper()
	f := &fakePinecone{vectors: map[string]vectorRecord{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/vectors/upsert", func(w http.ResponseWriter, r *http.Request) {
		if !assert.Equal(t, "secret", r.Header.Get("Api-Key")) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.fail > 0 {
			f.fail--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var body struct {
			Vectors   []vectorRecord `json:"vectors"`
			Namespace string         `json:"namespace"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			return
		}
		assert.Equal(t, "research", body.Namespace)
		for _, v := range body.Vectors {
			f.vectors[v.ID] = v
		}
		_, _ = w.Write([]byte(`{"upsertedCount":1}`))
	})
	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			TopK            int  `json:"topK"`
			IncludeMetadata bool `json:"includeMetadata"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			return
		}
		assert.True(t, body.IncludeMetadata)
		assert.Equal(t, 2, body.TopK)
		_, _ = w.Write([]byte(`{"matches":[
			{"id":"doc-0","score":0.9,"metadata":{"title":"Solar","chunk_index":0}},
			{"id":"doc-1","score":0.5,"metadata":{"title":"Wind"}}
		]}`))
	})
	mux.HandleFunc("/vectors/delete", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IDs []string `json:"ids"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			return
		}
		f.mu.Lock()
		for _, id := range body.IDs {
			delete(f.vectors, id)
		}
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/describe_index_stats", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		n := len(f.vectors)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"totalVectorCount": n + 100,
			"namespaces":       map[string]any{"research": map[string]any{"vectorCount": n}},
		})
	})
	mux.HandleFunc("/indexes/research-idx", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"host": "http://" + r.Host, "dimension": 3})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func newIndex(t *testing.T, srv *httptest.Server) *Index {
	t.Helper()
	x, err := New(context.Background(), Config{
		APIKey: "secret", Host: srv.URL, Namespace: "research", Dimension: 3,
	}, srv.Client())
	require.NoError(t, err)
	return x
}

func TestInsertDeleteLen(t *testing.T) {
	t.Parallel()

	f, srv := newFakePinecone(t)
	x := newIndex(t, srv)
	ctx := context.Background()

	require.NoError(t, x.Insert(ctx, "doc-0", crawler.Vector{1, 0, 0}, crawler.Metadata{"title": "Solar"}))
	require.NoError(t, x.Insert(ctx, "doc-0", crawler.Vector{0, 1, 0}, crawler.Metadata{"title": "Solar"}))
	f.mu.Lock()
	assert.Equal(t, []float32{0, 1, 0}, f.vectors["doc-0"].Values)
	f.mu.Unlock()

	n, err := x.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, x.Delete(ctx, "doc-0"))
	n, err = x.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestQueryStringifiesMetadata(t *testing.T) {
	t.Parallel()

	_, srv := newFakePinecone(t)
	x := newIndex(t, srv)

	hits, err := x.Query(context.Background(), crawler.Vector{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "doc-0", hits[0].ChunkID)
	assert.InDelta(t, 0.9, hits[0].Score, 1e-9)
	assert.Equal(t, "0", hits[0].Metadata["chunk_index"])
	assert.Equal(t, "Wind", hits[1].Metadata["title"])
}

func TestServerErrorIsUnavailable(t *testing.T) {
	t.Parallel()

	f, srv := newFakePinecone(t)
	f.fail = 1
	x := newIndex(t, srv)

	err := x.Insert(context.Background(), "doc-0", crawler.Vector{1, 0, 0}, nil)
	require.ErrorIs(t, err, crawler.ErrIndexUnavailable)
	require.NoError(t, x.Insert(context.Background(), "doc-0", crawler.Vector{1, 0, 0}, nil))
}

func TestClientErrorIsNotRetryable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"bad vector"}`, http.StatusBadRequest)
	}))
	defer srv.Close()
	x, err := New(context.Background(), Config{APIKey: "k", Host: srv.URL, Dimension: 3}, srv.Client())
	require.NoError(t, err)

	err = x.Insert(context.Background(), "doc-0", crawler.Vector{1, 0, 0}, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, crawler.ErrIndexUnavailable)
	assert.Contains(t, err.Error(), "status 400")
}

func TestUnreachableIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	x, err := New(context.Background(), Config{APIKey: "k", Host: url, Dimension: 3}, nil)
	require.NoError(t, err)

	_, err = x.Query(context.Background(), crawler.Vector{1, 0, 0}, 1)
	require.ErrorIs(t, err, crawler.ErrIndexUnavailable)
}

func TestResolvesHostFromIndexName(t *testing.T) {
	t.Parallel()

	_, srv := newFakePinecone(t)
	x, err := New(context.Background(), Config{
		APIKey: "secret", IndexName: "research-idx", ControlURL: srv.URL, Namespace: "research", Dimension: 3,
	}, srv.Client())
	require.NoError(t, err)
	assert.Equal(t, srv.URL, x.host)

	_, err = New(context.Background(), Config{
		APIKey: "secret", IndexName: "research-idx", ControlURL: srv.URL, Dimension: 8,
	}, srv.Client())
	require.ErrorIs(t, err, crawler.ErrInvalidConfig)
}

func TestDescribeURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://api.pinecone.io/indexes/idx", describeURL(Config{IndexName: "idx"}))
	assert.Equal(t, "https://controller.us-west1-gcp.pinecone.io/databases/idx",
		describeURL(Config{IndexName: "idx", Environment: "us-west1-gcp"}))
	assert.Equal(t, "http://ctl/indexes/idx", describeURL(Config{IndexName: "idx", ControlURL: "http://ctl/", Environment: "x"}))

	var legacy indexDescription
	require.NoError(t, json.Unmarshal([]byte(`{"database":{"dimension":8},"status":{"host":"idx-1.svc.pinecone.io"}}`), &legacy))
	assert.Equal(t, "idx-1.svc.pinecone.io", legacy.host())
	assert.Equal(t, 8, legacy.dimension())
}

func TestDimensionChecked(t *testing.T) {
	t.Parallel()

	_, srv := newFakePinecone(t)
	x := newIndex(t, srv)
	err := x.Insert(context.Background(), "doc-0", crawler.Vector{1, 0}, nil)
	require.ErrorIs(t, err, crawler.ErrDimensionMismatch)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, err := New(ctx, Config{Dimension: 3, Host: "h"}, nil)
	require.ErrorIs(t, err, crawler.ErrInvalidConfig)
	_, err = New(ctx, Config{APIKey: "k", Host: "h"}, nil)
	require.ErrorIs(t, err, crawler.ErrInvalidConfig)
	_, err = New(ctx, Config{APIKey: "k", Dimension: 3}, nil)
	require.ErrorIs(t, err, crawler.ErrInvalidConfig)

	x, err := New(ctx, Config{APIKey: "k", Host: "idx-123.svc.pinecone.io", Dimension: 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://idx-123.svc.pinecone.io", x.host)
}
