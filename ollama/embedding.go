// Copyright (c) 2025 KactLabs
// SPDX-License-Identifier: MIT

package ollama

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBatchSize bounds how many texts go to the server in one request.
const DefaultBatchSize = 100

// =============================================================================
// EMBEDDING CLIENT
// =============================================================================

// EmbeddingClient issues text-embedding requests against one model. Like
// ChatClient it is immutable after construction and safe for concurrent use.
type EmbeddingClient struct {
	model     string
	batchSize int
	tr        *transport
}

// NewEmbedding starts a builder for an embedding client.
func NewEmbedding(model string) *EmbeddingClientBuilder {
	return &EmbeddingClientBuilder{
		model:      model,
		batchSize:  DefaultBatchSize,
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
	}
}

// Embed returns one vector per input text, in input order. Inputs beyond
// the batch size are partitioned into sequential sub-batches and the
// results concatenated; a failure in any sub-batch fails the whole call
// with no partial results.
func (c *EmbeddingClient) Embed(ctx context.Context, texts []string) ([]Vector, error) {
	const op = "embedding.embed"

	if len(texts) == 0 {
		return nil, &ClientError{Kind: ErrKindEmptyInput, Op: op, Message: "no texts supplied"}
	}

	vectors := make([]Vector, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.embedBatch(ctx, op, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// EmbedQuery embeds a single text: the common path, equivalent to
// Embed([]string{text})[0] without the batching machinery. Any text the
// server accepts is valid input, the empty string included; only an empty
// list is rejected, by Embed.
func (c *EmbeddingClient) EmbedQuery(ctx context.Context, text string) (Vector, error) {
	const op = "embedding.embed_query"

	batch, err := c.embedBatch(ctx, op, []string{text})
	if err != nil {
		return nil, err
	}
	return batch[0], nil
}

// embedBatch sends one sub-batch and verifies the count invariant.
func (c *EmbeddingClient) embedBatch(ctx context.Context, op string, texts []string) ([]Vector, error) {
	req := embedRequest{Model: c.model, Input: texts}

	var wire embedResponse
	if err := c.tr.postJSON(ctx, op, "/api/embed", req, &wire); err != nil {
		return nil, err
	}

	if len(wire.Embeddings) != len(texts) {
		return nil, &ClientError{
			Kind:    ErrKindDecode,
			Op:      op,
			Message: fmt.Sprintf("expected %d embeddings, server returned %d", len(texts), len(wire.Embeddings)),
		}
	}
	return wire.Embeddings, nil
}

// Ping reports whether the server is reachable.
func (c *EmbeddingClient) Ping(ctx context.Context) error {
	return c.tr.ping(ctx)
}

// Model returns the model this client was built for.
func (c *EmbeddingClient) Model() string {
	return c.model
}

// BatchSize returns the configured sub-batch bound.
func (c *EmbeddingClient) BatchSize() int {
	return c.batchSize
}

// =============================================================================
// BUILDER
// =============================================================================

// EmbeddingClientBuilder accumulates configuration for an EmbeddingClient.
type EmbeddingClientBuilder struct {
	model      string
	host       string
	batchSize  int
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	limiter    *rate.Limiter
	verbose    bool
}

// Host overrides the server base URL. Default: OLLAMA_HOST environment
// variable, then http://localhost:11434.
func (b *EmbeddingClientBuilder) Host(host string) *EmbeddingClientBuilder {
	b.host = host
	return b
}

// BatchSize bounds how many texts go in one request. Default 100.
func (b *EmbeddingClientBuilder) BatchSize(n int) *EmbeddingClientBuilder {
	b.batchSize = n
	return b
}

// Timeout bounds the full roundtrip of each attempt. Default 60s.
func (b *EmbeddingClientBuilder) Timeout(d time.Duration) *EmbeddingClientBuilder {
	b.timeout = d
	return b
}

// MaxRetries sets the retry budget for transient failures. Default 2.
func (b *EmbeddingClientBuilder) MaxRetries(n int) *EmbeddingClientBuilder {
	b.maxRetries = n
	return b
}

// RetryDelay sets the base delay of the linear backoff. Default 500ms.
func (b *EmbeddingClientBuilder) RetryDelay(d time.Duration) *EmbeddingClientBuilder {
	b.retryDelay = d
	return b
}

// RateLimit installs a client-side request rate limiter.
func (b *EmbeddingClientBuilder) RateLimit(rps float64, burst int) *EmbeddingClientBuilder {
	b.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return b
}

// Verbose enables one-line request/response logging via the standard logger.
func (b *EmbeddingClientBuilder) Verbose(v bool) *EmbeddingClientBuilder {
	b.verbose = v
	return b
}

// Build validates the configuration and returns the client.
func (b *EmbeddingClientBuilder) Build() (*EmbeddingClient, error) {
	host := hostOrEnv(b.host, os.Getenv)
	if err := validateClientConfig("embedding", b.model, host, 0, b.timeout, b.maxRetries); err != nil {
		return nil, err
	}
	if b.batchSize <= 0 {
		return nil, &ClientError{Kind: ErrKindConfig, Op: "embedding.build", Message: "batch size must be positive"}
	}

	return &EmbeddingClient{
		model:     b.model,
		batchSize: b.batchSize,
		tr:        newTransport(host, b.timeout, b.maxRetries, b.retryDelay, b.limiter, b.verbose),
	}, nil
}
