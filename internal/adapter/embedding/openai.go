package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"siteqa/internal/adapter/httpx"
	"siteqa/internal/domain"
)

const (
	DefaultBaseURL       = "https://api.openai.com/v1"
	DefaultOllamaBaseURL = "http://localhost:11434/v1"
	DefaultMaxInputChars = 24000
	maxBatch             = 100
)

type OpenAIEmbedder struct {
	apiKey        string
	model         string
	baseURL       string
	dimension     int
	maxInputChars int
	limiter       *rate.Limiter
	client        *http.Client
}

// Options tunes an OpenAI-compatible embedder. Zero values select defaults.
type Options struct {
	BaseURL           string
	Dimension         int
	MaxInputChars     int
	Timeout           time.Duration
	RequestsPerSecond float64
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Usage embeddingUsage  `json:"usage"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func NewOpenAIEmbedder(apiKeyEnv, model string, opts Options) (*OpenAIEmbedder, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	return NewOpenAICompatibleEmbedder(apiKeyEnv, model, opts)
}

func NewOllamaEmbedder(model string, opts Options) (*OpenAIEmbedder, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultOllamaBaseURL
	}
	if opts.Dimension == 0 {
		switch model {
		case "mxbai-embed-large":
			opts.Dimension = 1024
		case "all-minilm":
			opts.Dimension = 384
		default:
			opts.Dimension = 768
		}
	}
	if opts.Timeout == 0 {
		opts.Timeout = 120 * time.Second
	}
	return newEmbedder("ollama", model, opts), nil
}

func NewOpenAICompatibleEmbedder(apiKeyEnv, model string, opts Options) (*OpenAIEmbedder, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key not found in environment variable: %s", domain.ErrConfiguration, apiKeyEnv)
	}
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", domain.ErrConfiguration)
	}

	if opts.Dimension == 0 {
		switch model {
		case "text-embedding-3-large":
			opts.Dimension = 3072
		case "jina-embeddings-v3":
			opts.Dimension = 1024
		default:
			opts.Dimension = 1536
		}
	}

	return newEmbedder(apiKey, model, opts), nil
}

func newEmbedder(apiKey, model string, opts Options) *OpenAIEmbedder {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxInputChars <= 0 {
		opts.MaxInputChars = DefaultMaxInputChars
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &OpenAIEmbedder{
		apiKey:        apiKey,
		model:         model,
		baseURL:       opts.BaseURL,
		dimension:     opts.Dimension,
		maxInputChars: opts.MaxInputChars,
		limiter:       limiter,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var allEmbeddings [][]float32

	for i := 0; i < len(texts); i += maxBatch {
		end := i + maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		batch := make([]string, end-i)
		for j, text := range texts[i:end] {
			batch[j] = Truncate(text, e.maxInputChars)
		}

		embeddings, err := e.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		allEmbeddings = append(allEmbeddings, embeddings...)
	}

	return allEmbeddings, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, httpx.TransportError(domain.ErrProviderUnavailable, "embedding rate limiter", err)
	}

	reqBody := embeddingRequest{
		Input: texts,
		Model: e.model,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, httpx.TransportError(domain.ErrProviderUnavailable, "embedding request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, httpx.TransportError(domain.ErrProviderUnavailable, "read embedding response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, httpx.StatusError(domain.ErrProviderUnavailable, "embedding API", resp.StatusCode, body)
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200]
		}
		return nil, fmt.Errorf("failed to parse response (body: %s): %w: %w", bodyPreview, err, domain.ErrProviderUnavailable)
	}

	if embResp.Error != nil {
		return nil, fmt.Errorf("API error: %s: %w", embResp.Error.Message, domain.ErrProviderUnavailable)
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range embResp.Data {
		if data.Index >= 0 && data.Index < len(embeddings) {
			embeddings[data.Index] = data.Embedding
		}
	}

	for i, vec := range embeddings {
		if len(vec) != e.dimension {
			return nil, fmt.Errorf("model %s returned %d values for input %d, index expects %d: %w",
				e.model, len(vec), i, e.dimension, domain.ErrDimensionMismatch)
		}
	}

	return embeddings, nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

// Truncate cuts text to at most limit bytes without splitting a rune.
func Truncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
