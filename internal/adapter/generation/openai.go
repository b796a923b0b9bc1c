// Package generation provides chat-completion clients for answer generation.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"siteqa/internal/adapter/httpx"
	"siteqa/internal/domain"
	"siteqa/internal/port"
)

const DefaultBaseURL = "https://api.openai.com/v1"

type Options struct {
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// ChatClient calls an OpenAI-compatible /chat/completions endpoint.
type ChatClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

var _ port.LLM = (*ChatClient)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewChatClient reads the API key from apiKeyEnv. An empty apiKeyEnv is
// allowed for local endpoints that need no key.
func NewChatClient(apiKeyEnv, model string, opts Options) (*ChatClient, error) {
	var apiKey string
	if apiKeyEnv != "" {
		apiKey = os.Getenv(apiKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("%w: API key not found in environment variable: %s", domain.ErrConfiguration, apiKeyEnv)
		}
	}
	if model == "" {
		return nil, fmt.Errorf("%w: generation model is required", domain.ErrConfiguration)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	return &ChatClient{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      apiKey,
		model:       model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		client:      &http.Client{Timeout: opts.Timeout},
	}, nil
}

func (c *ChatClient) ModelName() string { return c.model }

func (c *ChatClient) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []chatMessage{}
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	jsonData, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", httpx.TransportError(domain.ErrProviderUnavailable, "chat completion", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", httpx.TransportError(domain.ErrProviderUnavailable, "chat completion", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", httpx.StatusError(domain.ErrProviderUnavailable, "chat completion", resp.StatusCode, body)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w: %w", domain.ErrProviderUnavailable, err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("API error: %s: %w", chatResp.Error.Message, domain.ErrProviderUnavailable)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response from LLM: %w", domain.ErrProviderUnavailable)
	}
	return chatResp.Choices[0].Message.Content, nil
}
