// Package qdrant is a REST client that exposes a Qdrant collection as a
// VectorIndex.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"siteqa/internal/adapter/httpx"
	"siteqa/internal/domain"
	"siteqa/internal/port"
)

const scrollPage = 256

// pointNamespace derives stable point ids; Qdrant only accepts unsigned
// integers and UUIDs.
var pointNamespace = uuid.MustParse("6f1c7a2e-4f0b-5b8e-9a55-3d3c2f0e7a11")

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	// Distance is Cosine, Dot or Euclid. Empty means Cosine.
	Distance string
	Timeout  time.Duration
}

// Index is a Qdrant collection holding one point per document. The document
// id lives in the payload.
type Index struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	distance   string
	client     *http.Client
}

var (
	_ port.VectorIndex      = (*Index)(nil)
	_ port.IndexProvisioner = (*Index)(nil)
	_ port.IDLister         = (*Index)(nil)
)

func New(cfg Config) (*Index, error) {
	if cfg.URL == "" || cfg.Collection == "" {
		return nil, fmt.Errorf("%w: qdrant url and collection are required", domain.ErrConfiguration)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: qdrant dimension must be positive", domain.ErrConfiguration)
	}
	distance, err := normalizeDistance(cfg.Distance)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Index{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		distance:   distance,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

func normalizeDistance(d string) (string, error) {
	switch strings.ToLower(d) {
	case "", "cosine":
		return "Cosine", nil
	case "dot", "dotproduct":
		return "Dot", nil
	case "euclid", "euclidean":
		return "Euclid", nil
	}
	return "", fmt.Errorf("%w: unsupported qdrant distance %q", domain.ErrConfiguration, d)
}

// PointID maps a document id onto the UUID stored in Qdrant.
func PointID(docID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(docID)).String()
}

func (q *Index) Metric() port.Metric {
	switch q.distance {
	case "Dot":
		return port.MetricDot
	case "Euclid":
		return port.MetricL2
	}
	return port.MetricCosine
}

func (q *Index) Dimension() int { return q.dimension }

func (q *Index) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", q.url, q.collection)
}

// EnsureIndex creates the collection when missing and checks the vector
// size of an existing one.
func (q *Index) EnsureIndex(ctx context.Context) error {
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := q.do(ctx, http.MethodGet, q.collectionURL(), nil, &info)
	switch {
	case err == nil:
		if size := info.Result.Config.Params.Vectors.Size; size != q.dimension {
			return fmt.Errorf("qdrant collection %s has dimension %d, expected %d: %w", q.collection, size, q.dimension, domain.ErrDimensionMismatch)
		}
		return nil
	case errors.Is(err, domain.ErrNotFound):
		return q.create(ctx)
	default:
		return err
	}
}

func (q *Index) create(ctx context.Context) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     q.dimension,
			"distance": q.distance,
		},
	}
	return q.do(ctx, http.MethodPut, q.collectionURL(), body, nil)
}

func (q *Index) Upsert(ctx context.Context, items []port.VectorItem) error {
	if len(items) == 0 {
		return nil
	}
	points := make([]map[string]any, len(items))
	for i, item := range items {
		if item.ID == "" {
			return fmt.Errorf("%w: vector id is required", domain.ErrValidation)
		}
		if len(item.Vector) != q.dimension {
			return fmt.Errorf("vector %s has %d values, expected %d: %w", item.ID, len(item.Vector), q.dimension, domain.ErrDimensionMismatch)
		}
		points[i] = map[string]any{
			"id":      PointID(item.ID),
			"vector":  item.Vector,
			"payload": map[string]any{port.MetadataKeyDocID: item.ID},
		}
	}
	return q.do(ctx, http.MethodPut, q.collectionURL()+"/points?wait=true", map[string]any{"points": points}, nil)
}

type scoredPoint struct {
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func (q *Index) Search(ctx context.Context, query []float32, k int) ([]port.VectorResult, error) {
	if k <= 0 {
		return nil, domain.ErrInvalidK
	}
	if len(query) != q.dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d: %w", q.dimension, len(query), domain.ErrDimensionMismatch)
	}
	req := map[string]any{
		"vector":       query,
		"limit":        k,
		"with_payload": true,
	}
	var resp struct {
		Result []scoredPoint `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, q.collectionURL()+"/points/search", req, &resp); err != nil {
		return nil, err
	}

	results := make([]port.VectorResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		id, _ := r.Payload[port.MetadataKeyDocID].(string)
		if id == "" {
			continue
		}
		results = append(results, port.VectorResult{
			ID:       id,
			Score:    r.Score,
			Metadata: map[string]string{port.MetadataKeyDocID: id},
		})
	}
	return results, nil
}

// DeleteAll removes every point with an empty filter, which matches all.
func (q *Index) DeleteAll(ctx context.Context) error {
	body := map[string]any{"filter": map[string]any{}}
	return q.do(ctx, http.MethodPost, q.collectionURL()+"/points/delete?wait=true", body, nil)
}

func (q *Index) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, q.collectionURL()+"/points/count", map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// ListIDs scrolls the whole collection and returns the document ids.
func (q *Index) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	var offset any
	for {
		req := map[string]any{
			"limit":        scrollPage,
			"with_payload": true,
			"with_vector":  false,
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points []struct {
					Payload map[string]any `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := q.do(ctx, http.MethodPost, q.collectionURL()+"/points/scroll", req, &resp); err != nil {
			return nil, err
		}
		for _, p := range resp.Result.Points {
			if id, ok := p.Payload[port.MetadataKeyDocID].(string); ok {
				ids = append(ids, id)
			}
		}
		if resp.Result.NextPageOffset == nil {
			return ids, nil
		}
		offset = resp.Result.NextPageOffset
	}
}

func (q *Index) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	op := "qdrant " + method + " " + strings.TrimPrefix(url, q.url)
	resp, err := q.client.Do(req)
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
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%s: failed to decode response: %w", op, err)
		}
	}
	return nil
}
