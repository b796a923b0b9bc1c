package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteqa/internal/domain"
)

func TestChatClient_Generate(t *testing.T) {
	var got chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Shipping is free over $50."}}]}`))
	}))
	defer srv.Close()

	t.Setenv("TEST_LLM_KEY", "sk-test")
	c, err := NewChatClient("TEST_LLM_KEY", "gpt-4", Options{BaseURL: srv.URL, Temperature: 0.7, MaxTokens: 500})
	require.NoError(t, err)

	text, err := c.GenerateWithSystem(context.Background(), "be helpful", "Question: shipping?")
	require.NoError(t, err)
	assert.Equal(t, "Shipping is free over $50.", text)
	assert.Equal(t, "Bearer sk-test", auth)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, 0.7, got.Temperature)
	assert.Equal(t, 500, got.MaxTokens)
	assert.Equal(t, "gpt-4", got.Model)
}

func TestChatClient_Errors(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c, err := NewChatClient("", "local-model", Options{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.GenerateWithSystem(context.Background(), "", "q")
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.True(t, domain.IsRetryable(err))

	status = http.StatusOK
	_, err = c.GenerateWithSystem(context.Background(), "", "q")
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.False(t, domain.IsRetryable(err))
}

func TestChatClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c, err := NewChatClient("", "m", Options{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	_, err = c.GenerateWithSystem(context.Background(), "", "q")
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func TestNewChatClient_MissingKey(t *testing.T) {
	t.Setenv("TEST_LLM_KEY_MISSING", "")
	_, err := NewChatClient("TEST_LLM_KEY_MISSING", "gpt-4", Options{})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
