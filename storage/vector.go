package storage

import (
	"context"
	"time"

	"github.com/lookatitude/agentgraph/model"
)

// VectorSearchResult is one row returned by VectorStore.Search.
type VectorSearchResult struct {
	NodeID         model.ID
	Text           string
	ConversationID string
	Score          float64
	CreatedAt      time.Time
}

// VectorStore is the pluggable contract for the row-oriented hybrid
// dense+lexical index keyed by UserText node id.
type VectorStore interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// Add writes one row: nodeID's text, its dense embedding, and the
	// owning conversation id. Implementations must also make text available
	// to the lexical (BM25-style) side of Search.
	Add(ctx context.Context, nodeID model.ID, text string, vector []float32, conversationID string) error

	// Search performs a hybrid ranked query. vectorWeight == 0 means pure
	// lexical, 1 means pure dense cosine; intermediate values are combined
	// by the store's configured reranker. excludeConversationID is applied
	// when non-empty.
	Search(ctx context.Context, queryVector []float32, queryText string, limit int, excludeConversationID string, vectorWeight float64) ([]VectorSearchResult, error)

	// UpdateLastAccessed bumps last_accessed on nodeID. Best-effort.
	UpdateLastAccessed(ctx context.Context, nodeID model.ID) error

	// DeleteByConversation removes every row for conversationID, returning
	// the number of rows deleted.
	DeleteByConversation(ctx context.Context, conversationID string) (int, error)
}
