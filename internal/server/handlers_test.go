package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteqa/config"
	"siteqa/internal/domain"
)

type stubRetriever struct {
	results []domain.SearchResult
	err     error
	gotK    int
}

func (s *stubRetriever) Search(_ context.Context, question string, k int) ([]domain.SearchResult, error) {
	s.gotK = k
	if question == "" {
		return nil, domain.ErrEmptyQuestion
	}
	return s.results, s.err
}

type stubAnswerer struct {
	answer domain.Answer
	err    error
}

func (s stubAnswerer) Answer(context.Context, string) (domain.Answer, error) {
	return s.answer, s.err
}

func newTestServer(r *stubRetriever, a Answerer) http.Handler {
	return NewServer(r, a, 3, &config.ServerConfig{Host: "127.0.0.1", Port: 0}, nil).Router()
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandleSearch(t *testing.T) {
	r := &stubRetriever{results: []domain.SearchResult{
		{Document: domain.Document{ID: "2", Title: "Shipping", URL: "https://example.com/shipping"}, Score: 0.91},
	}}
	h := newTestServer(r, nil)

	w := post(t, h, "/api/v1/search", map[string]any{"question": "shipping?"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, r.gotK, "k defaults to the configured top k")

	var out searchResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	require.Len(t, out.Results, 1)
	assert.Equal(t, "Shipping", out.Results[0].Document.Title)
}

func TestHandleSearch_Errors(t *testing.T) {
	h := newTestServer(&stubRetriever{}, nil)
	w := post(t, h, "/api/v1/search", map[string]any{"question": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	h = newTestServer(&stubRetriever{err: domain.ErrIndexUnavailable}, nil)
	w = post(t, h, "/api/v1/search", map[string]any{"question": "q"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewReader([]byte("{")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAnswer(t *testing.T) {
	h := newTestServer(&stubRetriever{}, stubAnswerer{answer: domain.Answer{Text: "Free over $50."}})
	w := post(t, h, "/api/v1/answer", map[string]any{"question": "shipping?"})
	require.Equal(t, http.StatusOK, w.Code)

	var out domain.Answer
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	assert.Equal(t, "Free over $50.", out.Text)
}

func TestHandleAnswer_Degraded(t *testing.T) {
	a := stubAnswerer{answer: domain.Answer{Text: "Sorry", Degraded: true}, err: domain.ErrProviderUnavailable}
	w := post(t, newTestServer(&stubRetriever{}, a), "/api/v1/answer", map[string]any{"question": "q"})
	require.Equal(t, http.StatusOK, w.Code)

	var out domain.Answer
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	assert.True(t, out.Degraded)
}

func TestHandleAnswer_NotConfigured(t *testing.T) {
	w := post(t, newTestServer(&stubRetriever{}, nil), "/api/v1/answer", map[string]any{"question": "q"})
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestHandleHealth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	newTestServer(&stubRetriever{}, nil).ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
