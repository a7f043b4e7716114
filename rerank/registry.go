// Package rerank implements the pluggable reranker registry that combines
// a dense-vector ranking and a lexical ranking into one ordering,
// parametrized by a vector/lexical weight.
package rerank

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lookatitude/agentgraph/model"
)

// Candidate is one row a vector backend has scored on both the dense and
// lexical side. A row missing from one side carries a negative rank and a
// zero score for that side.
type Candidate struct {
	NodeID       model.ID
	DenseRank    int // 0-based; -1 if absent from the dense ranking
	DenseScore   float64
	LexicalRank  int // 0-based; -1 if absent from the lexical ranking
	LexicalScore float64
}

// Scored is a Candidate with its fused score, descending order meaning
// better.
type Scored struct {
	Candidate
	Score float64
}

// Reranker fuses dense and lexical candidate rankings into one ordering.
// vectorWeight is in [0,1]: 0 is pure lexical, 1 is pure dense.
type Reranker interface {
	Combine(candidates []Candidate, vectorWeight float64) []Scored
}

// Factory builds a fresh Reranker instance.
type Factory func() Reranker

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register adds a named reranker factory. Unknown keys fail fast at
// database open, not at query time.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = factory
}

// New builds the named reranker.
func New(name string) (Reranker, error) {
	mu.RLock()
	factory, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("rerank: unknown reranker %q", name)
	}
	return factory(), nil
}

// List returns the names of every registered reranker.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

func init() {
	Register("rrf", func() Reranker { return &rrfReranker{k: 60} })
	Register("linear", func() Reranker { return &linearReranker{} })
}

// sortDescending orders scored results by Score descending, breaking ties
// by NodeID for determinism.
func sortDescending(scored []Scored) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].NodeID < scored[j].NodeID
	})
}
