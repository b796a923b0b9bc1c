// Package pinecone is a REST client that exposes a serverless Pinecone index
// as a VectorIndex.
package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"siteqa/internal/adapter/httpx"
	"siteqa/internal/domain"
	"siteqa/internal/port"
)

const (
	DefaultControllerURL = "https://api.pinecone.io"
	apiVersion           = "2024-07"
	maxUpsertBatch       = 100
	listPageSize         = 100
	defaultReadyTimeout  = 2 * time.Minute
	readyPollInterval    = 2 * time.Second
)

type Config struct {
	APIKey        string
	ControllerURL string
	IndexName     string
	Namespace     string
	Dimension     int
	Metric        string
	Cloud         string
	Region        string
	Timeout       time.Duration
	// RequestsPerSecond throttles data-plane writes. 0 = unlimited.
	RequestsPerSecond float64
	// ReadyTimeout bounds the wait for a new index to accept writes.
	ReadyTimeout time.Duration
}

// Index talks to the control plane to find the index host and to the data
// plane for everything else. Entries carry only the doc_id as metadata.
type Index struct {
	apiKey     string
	controller string
	name       string
	namespace  string
	dimension  int
	metric     port.Metric
	cloud      string
	region     string
	limiter    *rate.Limiter
	client     *http.Client

	readyTimeout time.Duration
	pollInterval time.Duration

	mu   sync.Mutex
	host string
}

var (
	_ port.VectorIndex      = (*Index)(nil)
	_ port.IndexProvisioner = (*Index)(nil)
	_ port.IDLister         = (*Index)(nil)
)

func New(cfg Config) (*Index, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: pinecone api key is empty", domain.ErrConfiguration)
	}
	if cfg.IndexName == "" {
		return nil, fmt.Errorf("%w: pinecone index name is required", domain.ErrConfiguration)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: pinecone dimension must be positive", domain.ErrConfiguration)
	}
	metric := port.Metric(strings.ToLower(cfg.Metric))
	switch metric {
	case "":
		metric = port.MetricCosine
	case port.MetricCosine, port.MetricDot, port.MetricL2:
	default:
		return nil, fmt.Errorf("%w: unsupported pinecone metric %q", domain.ErrConfiguration, cfg.Metric)
	}
	if cfg.ControllerURL == "" {
		cfg.ControllerURL = DefaultControllerURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Index{
		apiKey:     cfg.APIKey,
		controller: strings.TrimRight(cfg.ControllerURL, "/"),
		name:       cfg.IndexName,
		namespace:  cfg.Namespace,
		dimension:  cfg.Dimension,
		metric:     metric,
		cloud:      cfg.Cloud,
		region:     cfg.Region,
		limiter:    limiter,
		client:     &http.Client{Timeout: cfg.Timeout},

		readyTimeout: cfg.ReadyTimeout,
		pollInterval: readyPollInterval,
	}, nil
}

func (p *Index) Metric() port.Metric { return p.metric }

func (p *Index) Dimension() int { return p.dimension }

type indexDescription struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Host      string `json:"host"`
	Status    struct {
		Ready bool   `json:"ready"`
		State string `json:"state"`
	} `json:"status"`
}

func (p *Index) describe(ctx context.Context) (*indexDescription, error) {
	var desc indexDescription
	if err := p.do(ctx, http.MethodGet, p.controller+"/indexes/"+url.PathEscape(p.name), nil, &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

// EnsureIndex creates a serverless index when the name is not taken yet and
// verifies the dimension of an existing one. It returns once the index
// reports ready.
func (p *Index) EnsureIndex(ctx context.Context) error {
	desc, err := p.describe(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		body := map[string]any{
			"name":      p.name,
			"dimension": p.dimension,
			"metric":    string(p.metric),
			"spec": map[string]any{
				"serverless": map[string]any{"cloud": p.cloud, "region": p.region},
			},
		}
		desc = &indexDescription{}
		if err := p.do(ctx, http.MethodPost, p.controller+"/indexes", body, desc); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if desc.Dimension != 0 && desc.Dimension != p.dimension {
		return fmt.Errorf("pinecone index %s has dimension %d, expected %d: %w", p.name, desc.Dimension, p.dimension, domain.ErrDimensionMismatch)
	}
	if !desc.Status.Ready {
		if desc, err = p.waitReady(ctx); err != nil {
			return err
		}
	}
	if desc.Host != "" {
		p.setHost(desc.Host)
	}
	return nil
}

// waitReady polls the index description until it reports ready. A freshly
// created index may briefly describe as not found.
func (p *Index) waitReady(ctx context.Context) (*indexDescription, error) {
	ctx, cancel := context.WithTimeout(ctx, p.readyTimeout)
	defer cancel()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("pinecone index %s not ready after %s: %w: %w", p.name, p.readyTimeout, domain.ErrIndexUnavailable, domain.ErrTransient)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}

		desc, err := p.describe(ctx)
		switch {
		case errors.Is(err, domain.ErrNotFound), domain.IsRetryable(err):
			continue
		case err != nil:
			return nil, err
		case desc.Status.Ready:
			return desc, nil
		}
	}
}

func (p *Index) setHost(host string) {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	p.mu.Lock()
	p.host = strings.TrimRight(host, "/")
	p.mu.Unlock()
}

// dataURL resolves the data-plane host on first use.
func (p *Index) dataURL(ctx context.Context, path string) (string, error) {
	p.mu.Lock()
	host := p.host
	p.mu.Unlock()
	if host == "" {
		desc, err := p.describe(ctx)
		if err != nil {
			return "", err
		}
		if desc.Host == "" {
			return "", fmt.Errorf("pinecone index %s has no host yet: %w: %w", p.name, domain.ErrIndexUnavailable, domain.ErrTransient)
		}
		p.setHost(desc.Host)
		p.mu.Lock()
		host = p.host
		p.mu.Unlock()
	}
	return host + path, nil
}

type vector struct {
	ID       string            `json:"id"`
	Values   []float32         `json:"values"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (p *Index) Upsert(ctx context.Context, items []port.VectorItem) error {
	vectors := make([]vector, len(items))
	for i, item := range items {
		if item.ID == "" {
			return fmt.Errorf("%w: vector id is required", domain.ErrValidation)
		}
		if len(item.Vector) != p.dimension {
			return fmt.Errorf("vector %s has %d values, expected %d: %w", item.ID, len(item.Vector), p.dimension, domain.ErrDimensionMismatch)
		}
		vectors[i] = vector{
			ID:       item.ID,
			Values:   item.Vector,
			Metadata: map[string]string{port.MetadataKeyDocID: item.ID},
		}
	}

	target, err := p.dataURL(ctx, "/vectors/upsert")
	if err != nil {
		return err
	}
	for start := 0; start < len(vectors); start += maxUpsertBatch {
		end := start + maxUpsertBatch
		if end > len(vectors) {
			end = len(vectors)
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return httpx.TransportError(domain.ErrIndexUnavailable, "pinecone rate limiter", err)
		}
		body := map[string]any{"vectors": vectors[start:end], "namespace": p.namespace}
		if err := p.do(ctx, http.MethodPost, target, body, nil); err != nil {
			return err
		}
	}
	return nil
}

func (p *Index) Search(ctx context.Context, query []float32, k int) ([]port.VectorResult, error) {
	if k <= 0 {
		return nil, domain.ErrInvalidK
	}
	if len(query) != p.dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d: %w", p.dimension, len(query), domain.ErrDimensionMismatch)
	}
	target, err := p.dataURL(ctx, "/query")
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"vector":          query,
		"topK":            k,
		"includeMetadata": true,
		"includeValues":   false,
		"namespace":       p.namespace,
	}
	var resp struct {
		Matches []struct {
			ID       string            `json:"id"`
			Score    float64           `json:"score"`
			Metadata map[string]string `json:"metadata"`
		} `json:"matches"`
	}
	if err := p.do(ctx, http.MethodPost, target, body, &resp); err != nil {
		return nil, err
	}

	results := make([]port.VectorResult, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		id := m.Metadata[port.MetadataKeyDocID]
		if id == "" {
			id = m.ID
		}
		results = append(results, port.VectorResult{ID: id, Score: m.Score, Metadata: m.Metadata})
	}
	return results, nil
}

// DeleteAll clears the configured namespace. A namespace that was never
// written counts as already empty.
func (p *Index) DeleteAll(ctx context.Context) error {
	target, err := p.dataURL(ctx, "/vectors/delete")
	if err != nil {
		return err
	}
	err = p.do(ctx, http.MethodPost, target, map[string]any{"deleteAll": true, "namespace": p.namespace}, nil)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

func (p *Index) Count(ctx context.Context) (int, error) {
	target, err := p.dataURL(ctx, "/describe_index_stats")
	if err != nil {
		return 0, err
	}
	var stats struct {
		Namespaces map[string]struct {
			VectorCount int `json:"vectorCount"`
		} `json:"namespaces"`
		TotalVectorCount int `json:"totalVectorCount"`
	}
	if err := p.do(ctx, http.MethodPost, target, map[string]any{}, &stats); err != nil {
		return 0, err
	}
	if p.namespace == "" && len(stats.Namespaces) == 0 {
		return stats.TotalVectorCount, nil
	}
	return stats.Namespaces[p.namespace].VectorCount, nil
}

// ListIDs pages through every id in the namespace.
func (p *Index) ListIDs(ctx context.Context) ([]string, error) {
	base, err := p.dataURL(ctx, "/vectors/list")
	if err != nil {
		return nil, err
	}
	var ids []string
	token := ""
	for {
		q := url.Values{}
		q.Set("namespace", p.namespace)
		q.Set("limit", fmt.Sprint(listPageSize))
		if token != "" {
			q.Set("paginationToken", token)
		}
		var page struct {
			Vectors []struct {
				ID string `json:"id"`
			} `json:"vectors"`
			Pagination *struct {
				Next string `json:"next"`
			} `json:"pagination"`
		}
		if err := p.do(ctx, http.MethodGet, base+"?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		for _, v := range page.Vectors {
			ids = append(ids, v.ID)
		}
		if page.Pagination == nil || page.Pagination.Next == "" {
			return ids, nil
		}
		token = page.Pagination.Next
	}
}

func (p *Index) do(ctx context.Context, method, target string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Api-Key", p.apiKey)
	req.Header.Set("X-Pinecone-API-Version", apiVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	op := "pinecone " + method + " " + req.URL.Path
	resp, err := p.client.Do(req)
	if err != nil {
		return httpx.TransportError(domain.ErrIndexUnavailable, op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return httpx.TransportError(domain.ErrIndexUnavailable, op, err)
	}
	if resp.StatusCode >= 300 {
		return httpx.StatusError(domain.ErrIndexUnavailable, op, resp.StatusCode, respBody)
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%s: failed to decode response: %w", op, err)
		}
	}
	return nil
}
