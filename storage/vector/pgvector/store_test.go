package pgvector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lookatitude/agentgraph/model"
	"github.com/lookatitude/agentgraph/rerank"
)

func TestVectorLiteral_FormatsAsPgvectorArray(t *testing.T) {
	require.Equal(t, "[1,-0.5,0]", vectorLiteral([]float32{1, -0.5, 0}))
}

func TestVectorLiteral_Empty(t *testing.T) {
	require.Equal(t, "[]", vectorLiteral(nil))
}

func TestMergeCandidates_UnionsDenseAndLexicalByNodeID(t *testing.T) {
	dense := map[string]rerank.Candidate{
		"n1": {NodeID: "n1", DenseRank: 0, DenseScore: 0.9, LexicalRank: -1},
	}
	lexical := map[string]rerank.Candidate{
		"n1": {NodeID: "n1", DenseRank: -1, LexicalRank: 0, LexicalScore: 0.7},
		"n2": {NodeID: "n2", DenseRank: -1, LexicalRank: 1, LexicalScore: 0.3},
	}

	merged := mergeCandidates(dense, lexical)
	require.Len(t, merged, 2)

	byID := make(map[model.ID]rerank.Candidate, len(merged))
	for _, c := range merged {
		byID[c.NodeID] = c
	}

	n1 := byID["n1"]
	require.Equal(t, 0, n1.DenseRank, "n1's dense rank must survive the merge")
	require.Equal(t, 0.7, n1.LexicalScore, "n1's lexical score from the lexical map must be merged in")

	n2 := byID["n2"]
	require.Equal(t, -1, n2.DenseRank, "a lexical-only candidate keeps its sentinel dense rank")
}

func TestNew_RequiresDSN(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestNew_AppliesDefaults(t *testing.T) {
	store, err := New(Config{DSN: "postgres://localhost/test"})
	require.NoError(t, err)
	require.Equal(t, "agentgraph_vectors", store.cfg.TableName)
	require.Equal(t, 1536, store.cfg.Dimension)
}
