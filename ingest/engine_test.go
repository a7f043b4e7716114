package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lookatitude/agentgraph/extract"
	"github.com/lookatitude/agentgraph/model"
	"github.com/lookatitude/agentgraph/storage/graph/sqlitegraph"
	"github.com/lookatitude/agentgraph/storage/vector/sqlitevec"
)

// fakeEmbedder returns a short deterministic vector derived from the
// input text's byte sum, enough to exercise the ingest/retrieve pipeline
// without depending on a real embedding model.
type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return f.vector(text), nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dim }

func (f *fakeEmbedder) vector(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	v := make([]float32, f.dim)
	for i := range v {
		v[i] = float32(sum[i%len(sum)]) / 255.0
	}
	return v
}

func newTestEngine(t *testing.T) (*Engine, *sqlitegraph.Store, *sqlitevec.Store) {
	t.Helper()
	ctx := context.Background()

	graphStore, err := sqlitegraph.New(sqlitegraph.Config{Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, graphStore.Connect(ctx))
	require.NoError(t, graphStore.InitializeSchema(ctx))

	vectorStore, err := sqlitevec.New(sqlitevec.Config{Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, vectorStore.Connect(ctx))
	require.NoError(t, vectorStore.InitializeSchema(ctx))

	extractor, err := extract.New("default", "")
	require.NoError(t, err)

	engine := New(graphStore, vectorStore, &fakeEmbedder{dim: 8}, extractor, "")
	return engine, graphStore, vectorStore
}

func hashOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func TestAddMessage_UserThenAssistantChainsAMessageEdge(t *testing.T) {
	ctx := context.Background()
	engine, graphStore, _ := newTestEngine(t)

	userIDs, err := engine.AddMessage(ctx, "conv-1", model.Message{Role: model.RoleUser, Content: "please review foo.go"})
	require.NoError(t, err)
	userTextID := userIDs[KeyUserText]
	require.NotEmpty(t, userTextID)

	agentIDs, err := engine.AddMessage(ctx, "conv-1", model.Message{Role: model.RoleAssistant, Content: "looks fine"})
	require.NoError(t, err)
	require.NotEmpty(t, agentIDs[KeyAgentText])

	nc, err := graphStore.GetNodeContext(ctx, userTextID)
	require.NoError(t, err)
	require.NotNil(t, nc.UserText)
	require.NotNil(t, nc.AgentText)
	require.Equal(t, "looks fine", nc.AgentText.Text)
	require.Empty(t, nc.ToolUses)
}

func TestAddMessage_ToolResultBeforeAssistantCreatesResourceVersion(t *testing.T) {
	ctx := context.Background()
	engine, graphStore, _ := newTestEngine(t)

	_, err := engine.AddMessage(ctx, "conv-1", model.Message{Role: model.RoleUser, Content: "what's in foo.go?"})
	require.NoError(t, err)

	const content = "package main\n\nfunc main() {}\n"
	_, err = engine.AddMessage(ctx, "conv-1", model.Message{
		Role: model.RoleTool, ToolCallID: "tc1", Content: content,
	})
	require.NoError(t, err)

	ids, err := engine.AddMessage(ctx, "conv-1", model.Message{
		Role:    model.RoleAssistant,
		Content: "it defines main",
		ToolCalls: []model.ToolCall{
			{ID: "tc1", Name: "read file", Args: map[string]any{"path": "/tmp/foo.go"}},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, ids[KeyResource])
	require.NotEmpty(t, ids[KeyResourceVer])
	require.NotEmpty(t, ids[KeyToolUseEdge])

	resource, err := graphStore.GetResourceByURI(ctx, "file:///tmp/foo.go")
	require.NoError(t, err)
	require.NotNil(t, resource)
	require.Equal(t, hashOf(content), resource.CurrentContentHash)

	version, err := graphStore.GetResourceVersionByHash(ctx, "file:///tmp/foo.go", hashOf(content))
	require.NoError(t, err)
	require.NotNil(t, version)
	require.Equal(t, "conv-1", version.FirstConversation)
}

func TestAddMessage_WithoutPriorToolResultSkipsVersioning(t *testing.T) {
	ctx := context.Background()
	engine, graphStore, _ := newTestEngine(t)

	ids, err := engine.AddMessage(ctx, "conv-1", model.Message{
		Role:    model.RoleAssistant,
		Content: "reading now",
		ToolCalls: []model.ToolCall{
			{ID: "tc-missing", Name: "read_file", Args: map[string]any{"path": "/tmp/bar.go"}},
		},
	})
	require.NoError(t, err)
	require.Empty(t, ids[KeyResource])

	resource, err := graphStore.GetResourceByURI(ctx, "file:///tmp/bar.go")
	require.NoError(t, err)
	require.Nil(t, resource)
}

func TestImportTrace_ToleratesToolResultAfterAssistant(t *testing.T) {
	ctx := context.Background()
	engine, graphStore, _ := newTestEngine(t)

	const content = "line one\nline two\n"
	messages := []model.Message{
		{Role: model.RoleUser, Content: "summarize notes.txt"},
		{Role: model.RoleAssistant, Content: "here you go", ToolCalls: []model.ToolCall{
			{ID: "tc1", Name: "read_file", Args: map[string]any{"path": "/tmp/notes.txt"}},
		}},
		{Role: model.RoleTool, ToolCallID: "tc1", Content: content},
	}

	results, err := engine.ImportTrace(ctx, "conv-2", messages)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.NotEmpty(t, results[1][KeyResource])
	require.NotEmpty(t, results[1][KeyResourceVer])

	resource, err := graphStore.GetResourceByURI(ctx, "file:///tmp/notes.txt")
	require.NoError(t, err)
	require.NotNil(t, resource)
	require.Equal(t, hashOf(content), resource.CurrentContentHash)
}

func TestProcessToolCall_SameContentDoesNotCreateNewVersion(t *testing.T) {
	ctx := context.Background()
	engine, graphStore, _ := newTestEngine(t)

	const content = "unchanged content\n"
	ingestTurn := func(convID string) {
		_, err := engine.AddMessage(ctx, convID, model.Message{Role: model.RoleUser, Content: "check it"})
		require.NoError(t, err)
		_, err = engine.AddMessage(ctx, convID, model.Message{Role: model.RoleTool, ToolCallID: "tc", Content: content})
		require.NoError(t, err)
		_, err = engine.AddMessage(ctx, convID, model.Message{
			Role: model.RoleAssistant, Content: "ok",
			ToolCalls: []model.ToolCall{{ID: "tc", Name: "read_file", Args: map[string]any{"path": "/tmp/same.go"}}},
		})
		require.NoError(t, err)
	}

	ingestTurn("conv-a")
	ingestTurn("conv-b")

	version, err := graphStore.GetResourceVersionByHash(ctx, "file:///tmp/same.go", hashOf(content))
	require.NoError(t, err)
	require.NotNil(t, version)
	require.Equal(t, "conv-a", version.FirstConversation, "the version's first_conversation_id must not change on a repeat read")
}

func TestProcessToolCall_ChangedContentCreatesNewVersionAndUpdatesResourceHash(t *testing.T) {
	ctx := context.Background()
	engine, graphStore, _ := newTestEngine(t)

	ingestWrite := func(convID, content string) {
		_, err := engine.AddMessage(ctx, convID, model.Message{Role: model.RoleUser, Content: "edit it"})
		require.NoError(t, err)
		_, err = engine.AddMessage(ctx, convID, model.Message{Role: model.RoleTool, ToolCallID: "tc", Content: content})
		require.NoError(t, err)
		_, err = engine.AddMessage(ctx, convID, model.Message{
			Role: model.RoleAssistant, Content: "done",
			ToolCalls: []model.ToolCall{{ID: "tc", Name: "write_file", Args: map[string]any{"path": "/tmp/changes.go"}}},
		})
		require.NoError(t, err)
	}

	ingestWrite("conv-a", "v1\n")
	ingestWrite("conv-b", "v2\n")

	resource, err := graphStore.GetResourceByURI(ctx, "file:///tmp/changes.go")
	require.NoError(t, err)
	require.NotNil(t, resource)
	require.Equal(t, hashOf("v2\n"), resource.CurrentContentHash)

	v1, err := graphStore.GetResourceVersionByHash(ctx, "file:///tmp/changes.go", hashOf("v1\n"))
	require.NoError(t, err)
	require.NotNil(t, v1, "the earlier version must still exist as an immutable snapshot")

	v2, err := graphStore.GetResourceVersionByHash(ctx, "file:///tmp/changes.go", hashOf("v2\n"))
	require.NoError(t, err)
	require.NotNil(t, v2)
	require.NotEqual(t, v1.ID, v2.ID)
}

func TestNormalizeToolNameAndHashContent(t *testing.T) {
	require.Equal(t, "READ_FILE", normalizeToolName("read file"))
	require.Equal(t, "READ_FILE", normalizeToolName("  read   file  "))
	require.Len(t, hashContent("x"), 64)
}
