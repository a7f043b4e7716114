// Package embed declares the embedding collaborator the retrieval and
// ingestion engines depend on. No concrete embedder ships here; producing
// fixed-dimension dense vectors from text is deliberately out of scope
// and left to the caller.
package embed

import "context"

// Embedder turns text into a fixed-dimension dense vector. Implementations
// must be idempotent for identical input text and must return vectors of a
// single fixed dimension for the lifetime of a database.
type Embedder interface {
	// Embed embeds a single query string.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds multiple texts in one round trip, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector dimension this embedder produces.
	Dimensions() int
}
