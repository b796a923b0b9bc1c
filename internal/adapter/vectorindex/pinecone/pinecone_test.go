package pinecone

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteqa/internal/domain"
	"siteqa/internal/port"
)

// fakePinecone serves both planes from one server; the described host
// points back at it.
type fakePinecone struct {
	mu        sync.Mutex
	url       string
	exists    bool
	dimension int
	order     []string
	vectors   map[string]vector
	created   int
	headers   http.Header
	// notReady is how many more descriptions report the index as initializing.
	notReady  int
	describes int
}

func (f *fakePinecone) handler() http.Handler {
	mux := http.NewServeMux()
	describe := func(w http.ResponseWriter) {
		status := map[string]any{"ready": true, "state": "Ready"}
		if f.notReady > 0 {
			f.notReady--
			status = map[string]any{"ready": false, "state": "Initializing"}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name": "my-docs", "dimension": f.dimension, "metric": "cosine", "host": f.url,
			"status": status,
		})
	}
	mux.HandleFunc("GET /indexes/my-docs", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.headers = r.Header.Clone()
		f.describes++
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		describe(w)
	})
	mux.HandleFunc("POST /indexes", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Dimension int `json:"dimension"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.exists, f.dimension = true, body.Dimension
		f.created++
		w.WriteHeader(http.StatusCreated)
		describe(w)
	})
	mux.HandleFunc("POST /vectors/upsert", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Vectors []vector `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		for _, v := range body.Vectors {
			if _, ok := f.vectors[v.ID]; !ok {
				f.order = append(f.order, v.ID)
			}
			f.vectors[v.ID] = v
		}
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"upsertedCount": len(body.Vectors)})
	})
	mux.HandleFunc("POST /query", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Vector []float32 `json:"vector"`
			TopK   int       `json:"topK"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		type match struct {
			ID       string            `json:"id"`
			Score    float64           `json:"score"`
			Metadata map[string]string `json:"metadata"`
		}
		f.mu.Lock()
		var matches []match
		for _, id := range f.order {
			v := f.vectors[id]
			var s float64
			for i := range v.Values {
				s += float64(v.Values[i]) * float64(body.Vector[i])
			}
			matches = append(matches, match{ID: id, Score: s, Metadata: v.Metadata})
		}
		f.mu.Unlock()
		sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
		if len(matches) > body.TopK {
			matches = matches[:body.TopK]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"matches": matches})
	})
	mux.HandleFunc("POST /vectors/delete", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.vectors = make(map[string]vector)
		f.order = nil
		f.mu.Unlock()
		_, _ = w.Write([]byte("{}"))
	})
	mux.HandleFunc("POST /describe_index_stats", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		n := len(f.vectors)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"namespaces":       map[string]any{"": map[string]any{"vectorCount": n}},
			"totalVectorCount": n,
		})
	})
	mux.HandleFunc("GET /vectors/list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		// One id per page exercises pagination.
		start := 0
		if tok := r.URL.Query().Get("paginationToken"); tok != "" {
			for i, id := range f.order {
				if id == tok {
					start = i
				}
			}
		}
		resp := map[string]any{"vectors": []map[string]string{}}
		if start < len(f.order) {
			resp["vectors"] = []map[string]string{{"id": f.order[start]}}
		}
		if start+1 < len(f.order) {
			resp["pagination"] = map[string]string{"next": f.order[start+1]}
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func newTestIndex(t *testing.T, f *fakePinecone) *Index {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	f.url = srv.URL
	if f.vectors == nil {
		f.vectors = make(map[string]vector)
	}
	idx, err := New(Config{APIKey: "pc-key", ControllerURL: srv.URL, IndexName: "my-docs", Dimension: 2, Cloud: "aws", Region: "us-west-2"})
	require.NoError(t, err)
	return idx
}

func TestIndex_ProvisionAndQuery(t *testing.T) {
	ctx := context.Background()
	f := &fakePinecone{}
	idx := newTestIndex(t, f)

	require.NoError(t, idx.EnsureIndex(ctx))
	require.NoError(t, idx.EnsureIndex(ctx))
	assert.Equal(t, 1, f.created)
	assert.Equal(t, "pc-key", f.headers.Get("Api-Key"))
	assert.Equal(t, apiVersion, f.headers.Get("X-Pinecone-API-Version"))

	require.NoError(t, idx.Upsert(ctx, []port.VectorItem{
		{ID: "1", Vector: []float32{1, 0}},
		{ID: "2", Vector: []float32{0, 1}},
		{ID: "3", Vector: []float32{0.7, 0.7}},
	}))

	results, err := idx.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "1", results[0].ID)
	assert.Equal(t, "3", results[1].ID)
	assert.Equal(t, "1", results[0].Metadata[port.MetadataKeyDocID])

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ids, err := idx.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, ids)

	require.NoError(t, idx.DeleteAll(ctx))
	n, err = idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIndex_EnsureIndexWaitsUntilReady(t *testing.T) {
	ctx := context.Background()
	// The create response and the next two descriptions are still initializing.
	f := &fakePinecone{notReady: 3}
	idx := newTestIndex(t, f)
	idx.pollInterval = time.Millisecond

	require.NoError(t, idx.EnsureIndex(ctx))
	assert.Equal(t, 1, f.created)
	assert.Equal(t, 4, f.describes, "one lookup before create, then polls until ready")
	assert.Zero(t, f.notReady)

	require.NoError(t, idx.Upsert(ctx, []port.VectorItem{{ID: "1", Vector: []float32{1, 0}}}))
}

func TestIndex_EnsureIndexReadyTimeout(t *testing.T) {
	f := &fakePinecone{exists: true, dimension: 2, notReady: 1 << 20}
	idx := newTestIndex(t, f)
	idx.pollInterval = time.Millisecond
	idx.readyTimeout = 20 * time.Millisecond

	err := idx.EnsureIndex(context.Background())
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
	assert.True(t, domain.IsRetryable(err))
}

func TestIndex_ExistingDimensionMismatch(t *testing.T) {
	f := &fakePinecone{exists: true, dimension: 1536}
	idx := newTestIndex(t, f)
	assert.ErrorIs(t, idx.EnsureIndex(context.Background()), domain.ErrDimensionMismatch)
}

func TestIndex_ErrorKinds(t *testing.T) {
	for _, tc := range []struct {
		status    int
		retryable bool
		kind      error
	}{
		{http.StatusUnauthorized, false, domain.ErrAuth},
		{http.StatusTooManyRequests, true, domain.ErrRateLimited},
		{http.StatusBadGateway, true, domain.ErrTransient},
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		idx, err := New(Config{APIKey: "k", ControllerURL: srv.URL, IndexName: "my-docs", Dimension: 2})
		require.NoError(t, err)
		idx.setHost(srv.URL)

		_, err = idx.Search(context.Background(), []float32{1, 0}, 1)
		assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
		assert.ErrorIs(t, err, tc.kind)
		assert.Equal(t, tc.retryable, domain.IsRetryable(err))
		srv.Close()
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{IndexName: "x", Dimension: 2})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	_, err = New(Config{APIKey: "k", IndexName: "x", Dimension: 2, Metric: "hamming"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
