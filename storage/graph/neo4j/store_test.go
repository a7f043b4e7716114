package neo4j

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lookatitude/agentgraph/model"
	"github.com/lookatitude/agentgraph/storage"
)

// mockRunner implements sessionRunner for testing: captured writes, a queue
// of canned read responses consumed in call order.
type mockRunner struct {
	mu        sync.Mutex
	writes    []writeCall
	reads     [][]record
	readIdx   int
	writeErr  error
	readErr   error
	closeErr  error
	closed    bool
}

type writeCall struct {
	cypher string
	params map[string]any
}

func (r *mockRunner) executeWrite(_ context.Context, cypher string, params map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, writeCall{cypher: cypher, params: params})
	return r.writeErr
}

func (r *mockRunner) executeRead(_ context.Context, _ string, _ map[string]any) ([]record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readErr != nil {
		return nil, r.readErr
	}
	if r.readIdx >= len(r.reads) {
		return nil, nil
	}
	out := r.reads[r.readIdx]
	r.readIdx++
	return out, nil
}

func (r *mockRunner) close(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return r.closeErr
}

func TestCreateNode_UserText(t *testing.T) {
	runner := &mockRunner{}
	store := newWithRunner(Config{Namespace: "ns"}, runner)
	now := time.Now().UTC()

	_, err := store.CreateNode(context.Background(), storage.Node{Kind: storage.NodeKindUserText, UserText: &model.UserText{
		ID: "u1", ConversationID: "conv-1", Text: "hi", TurnIndex: 0, CreatedAt: now, LastAccessedAt: now,
	}})
	require.NoError(t, err)
	require.Len(t, runner.writes, 1)
	require.Equal(t, "u1", runner.writes[0].params["id"])
	require.Equal(t, "ns", runner.writes[0].params["ns"])
}

func TestCreateNode_ResourceMergesOnURI_NoExistingRow(t *testing.T) {
	now := time.Now().UTC()
	runner := &mockRunner{
		reads: [][]record{
			nil, // GetResourceByURI before MERGE: not found
			{{values: []any{"r1", "file:///a.go", "h1", now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano)}}}, // read-back after MERGE
		},
	}
	store := newWithRunner(Config{}, runner)

	result, err := store.CreateNode(context.Background(), storage.Node{Kind: storage.NodeKindResource, Resource: &model.Resource{
		ID: "r1", URI: "file:///a.go", CurrentContentHash: "h1", CreatedAt: now, LastAccessedAt: now,
	}})
	require.NoError(t, err)
	require.Equal(t, model.ID("r1"), result.Resource.ID)
	require.Len(t, runner.writes, 1, "only the MERGE write must run when no row exists yet")
}

func TestCreateNode_ResourceMergesOnURI_ExistingRowSkipsWrite(t *testing.T) {
	now := time.Now().UTC()
	existingRow := record{values: []any{"r-existing", "file:///a.go", "h-old", now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano)}}
	runner := &mockRunner{reads: [][]record{{existingRow}}}
	store := newWithRunner(Config{}, runner)

	result, err := store.CreateNode(context.Background(), storage.Node{Kind: storage.NodeKindResource, Resource: &model.Resource{
		ID: "r-new", URI: "file:///a.go", CurrentContentHash: "h-new", CreatedAt: now, LastAccessedAt: now,
	}})
	require.NoError(t, err)
	require.Equal(t, model.ID("r-existing"), result.Resource.ID, "an existing Resource row must be returned unchanged")
	require.Equal(t, "h-old", result.Resource.CurrentContentHash)
	require.Empty(t, runner.writes, "no MERGE write must run when the resource already exists")
}

func TestCreateNode_UnknownKind(t *testing.T) {
	store := newWithRunner(Config{}, &mockRunner{})
	_, err := store.CreateNode(context.Background(), storage.Node{Kind: storage.NodeKind(99)})
	require.Error(t, err)
}

func TestCreateEdge_PropagatesWriteError(t *testing.T) {
	runner := &mockRunner{writeErr: fmt.Errorf("constraint violation")}
	store := newWithRunner(Config{}, runner)

	err := store.CreateEdge(context.Background(), storage.Edge{Kind: storage.EdgeKindMessage, MessageEdge: &model.MessageEdge{
		ID: "e1", SourceID: "u1", TargetID: "a1", ConversationID: "conv-1", CreatedAt: time.Now(),
	}})
	require.Error(t, err)
}

func TestGetUserText_NotFoundReturnsNilNotError(t *testing.T) {
	store := newWithRunner(Config{}, &mockRunner{})
	ut, err := store.GetUserText(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, ut)
}

func TestMaxTurnIndex_NoRowsReturnsMinusOne(t *testing.T) {
	runner := &mockRunner{reads: [][]record{{{values: []any{nil}}}}}
	store := newWithRunner(Config{}, runner)

	max, err := store.MaxTurnIndex(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Equal(t, -1, max)
}

func TestGetTrajectoryNodes_OversizedMaxDepthDoesNotError(t *testing.T) {
	store := newWithRunner(Config{}, &mockRunner{})
	_, err := store.GetTrajectoryNodes(context.Background(), "u1", 1000)
	require.NoError(t, err)
}

func TestClose_ClosesRunner(t *testing.T) {
	runner := &mockRunner{}
	store := newWithRunner(Config{}, runner)
	require.NoError(t, store.Close(context.Background()))
	require.True(t, runner.closed)
}

func TestSortConversationRows_Descending(t *testing.T) {
	now := time.Now().UTC()
	rows := []storage.ResourceConversationRow{
		{ConversationID: "a", CreatedAt: now.Add(-time.Hour)},
		{ConversationID: "b", CreatedAt: now},
	}
	sortConversationRows(rows, "created_at", "desc")
	require.Equal(t, "b", rows[0].ConversationID)
}

func TestInterfaceCompliance(t *testing.T) {
	var _ storage.GraphStore = (*Store)(nil)
}
