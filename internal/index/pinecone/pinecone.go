// Package pinecone is a vector index backed by a hosted Pinecone index,
// spoken to over its REST data-plane API.
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
	"time"

	"github.com/JakeFAU/web-researcher/internal/crawler"
	"github.com/JakeFAU/web-researcher/internal/index"
)

const defaultControlURL = "https://api.pinecone.io"

// Config locates the Pinecone index.
type Config struct {
	APIKey    string
	IndexName string
	// Host is the data-plane URL. Resolved from IndexName when empty.
	Host       string
	ControlURL string
	// Environment selects the legacy pod-based controller when set and
	// ControlURL is empty.
	Environment string
	Namespace   string
	Dimension   int
	Timeout     time.Duration
}

// Index implements crawler.VectorIndex over Pinecone.
type Index struct {
	host      string
	apiKey    string
	namespace string
	dim       int
	client    *http.Client
}

// New validates cfg and resolves the data-plane host if needed.
func New(ctx context.Context, cfg Config, client *http.Client) (*Index, error) {
	if cfg.APIKey == "" {
		return nil, crawler.InvalidConfigf("pinecone api key is required")
	}
	if cfg.Dimension <= 0 {
		return nil, crawler.InvalidConfigf("vector dimension must be > 0")
	}
	if cfg.Host == "" && cfg.IndexName == "" {
		return nil, crawler.InvalidConfigf("pinecone host or index name is required")
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	x := &Index{apiKey: cfg.APIKey, namespace: cfg.Namespace, dim: cfg.Dimension, client: client}

	host := cfg.Host
	if host == "" {
		var desc indexDescription
		if err := x.do(ctx, http.MethodGet, describeURL(cfg), nil, &desc); err != nil {
			return nil, fmt.Errorf("describe index %s: %w", cfg.IndexName, err)
		}
		host = desc.host()
		if host == "" {
			return nil, fmt.Errorf("describe index %s: empty host", cfg.IndexName)
		}
		if dim := desc.dimension(); dim > 0 && dim != cfg.Dimension {
			return nil, crawler.InvalidConfigf("pinecone index %s has dimension %d, embedder produces %d",
				cfg.IndexName, dim, cfg.Dimension)
		}
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	x.host = strings.TrimRight(host, "/")
	return x, nil
}

// indexDescription accepts both the current control-plane shape and the
// legacy controller's nested one.
type indexDescription struct {
	Host      string `json:"host"`
	Dimension int    `json:"dimension"`
	Database  struct {
		Dimension int `json:"dimension"`
	} `json:"database"`
	Status struct {
		Host string `json:"host"`
	} `json:"status"`
}

func (d indexDescription) host() string {
	if d.Host != "" {
		return d.Host
	}
	return d.Status.Host
}

func (d indexDescription) dimension() int {
	if d.Dimension > 0 {
		return d.Dimension
	}
	return d.Database.Dimension
}

func describeURL(cfg Config) string {
	name := url.PathEscape(cfg.IndexName)
	if cfg.ControlURL == "" && cfg.Environment != "" {
		return "https://controller." + cfg.Environment + ".pinecone.io/databases/" + name
	}
	control := cfg.ControlURL
	if control == "" {
		control = defaultControlURL
	}
	return strings.TrimRight(control, "/") + "/indexes/" + name
}

type vectorRecord struct {
	ID       string            `json:"id"`
	Values   []float32         `json:"values"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Insert upserts one vector.
func (x *Index) Insert(ctx context.Context, chunkID string, vec crawler.Vector, meta crawler.Metadata) error {
	if err := index.CheckDimension(x.dim, vec); err != nil {
		return err
	}
	body := map[string]any{
		"vectors": []vectorRecord{{ID: chunkID, Values: vec, Metadata: meta}},
	}
	if x.namespace != "" {
		body["namespace"] = x.namespace
	}
	if err := x.do(ctx, http.MethodPost, x.host+"/vectors/upsert", body, nil); err != nil {
		return fmt.Errorf("upsert %s: %w", chunkID, err)
	}
	return nil
}

type queryResponse struct {
	Matches []struct {
		ID       string         `json:"id"`
		Score    float64        `json:"score"`
		Metadata map[string]any `json:"metadata"`
	} `json:"matches"`
}

// Query returns the k best matches. Pinecone reports cosine similarity
// directly when the index metric is cosine.
func (x *Index) Query(ctx context.Context, vec crawler.Vector, k int) ([]crawler.Hit, error) {
	if err := index.CheckDimension(x.dim, vec); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	body := map[string]any{
		"vector":          []float32(vec),
		"topK":            k,
		"includeMetadata": true,
	}
	if x.namespace != "" {
		body["namespace"] = x.namespace
	}
	var resp queryResponse
	if err := x.do(ctx, http.MethodPost, x.host+"/query", body, &resp); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	hits := make([]crawler.Hit, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		hits = append(hits, crawler.Hit{ChunkID: m.ID, Score: m.Score, Metadata: stringify(m.Metadata)})
	}
	return hits, nil
}

// Delete removes chunkID.
func (x *Index) Delete(ctx context.Context, chunkID string) error {
	body := map[string]any{"ids": []string{chunkID}}
	if x.namespace != "" {
		body["namespace"] = x.namespace
	}
	if err := x.do(ctx, http.MethodPost, x.host+"/vectors/delete", body, nil); err != nil {
		return fmt.Errorf("delete %s: %w", chunkID, err)
	}
	return nil
}

// Len reports the vector count of the configured namespace.
func (x *Index) Len(ctx context.Context) (int, error) {
	var stats struct {
		TotalVectorCount int `json:"totalVectorCount"`
		Namespaces       map[string]struct {
			VectorCount int `json:"vectorCount"`
		} `json:"namespaces"`
	}
	if err := x.do(ctx, http.MethodPost, x.host+"/describe_index_stats", map[string]any{}, &stats); err != nil {
		return 0, fmt.Errorf("describe index stats: %w", err)
	}
	if x.namespace != "" {
		return stats.Namespaces[x.namespace].VectorCount, nil
	}
	return stats.TotalVectorCount, nil
}

// Close is a no-op.
func (x *Index) Close() error { return nil }

func (x *Index) do(ctx context.Context, method, endpoint string, in, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Api-Key", x.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := x.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", crawler.ErrIndexUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("pinecone %s %s: status %d: %s", method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %w", crawler.ErrIndexUnavailable, statusErr)
		}
		return statusErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func stringify(in map[string]any) crawler.Metadata {
	if len(in) == 0 {
		return nil
	}
	out := make(crawler.Metadata, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}

var _ crawler.VectorIndex = (*Index)(nil)
