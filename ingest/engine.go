// Package ingest implements the message state machine that maps a stream of
// role-tagged messages into graph and vector mutations.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lookatitude/agentgraph/embed"
	"github.com/lookatitude/agentgraph/extract"
	"github.com/lookatitude/agentgraph/internal/telemetry"
	"github.com/lookatitude/agentgraph/model"
	"github.com/lookatitude/agentgraph/storage"
)

// Result keys returned by AddMessage/ImportTrace. The ids of created
// MessageEdges are not included in the results; KeyMessageEdge is unused.
const (
	KeyUserText       = "user_text"
	KeyAgentText      = "agent_text"
	KeyResource       = "resource"
	KeyResourceVer    = "resource_version"
	KeyVersionOfEdge  = "version_of_edge"
	KeyToolUseEdge    = "tool_use_edge"
	KeyMessageEdge    = "message_edge"
)

// Engine consumes messages for a conversation and performs the graph+vector
// mutations for each role. It maintains a per-conversation scratch map from
// tool_call_id to tool-result text, scoped to the engine's open session.
type Engine struct {
	graph     storage.GraphStore
	vector    storage.VectorStore
	embedder  embed.Embedder
	extractor extract.Extractor
	uriRoot   string
	logger    *telemetry.Logger
	metrics   *telemetry.Metrics

	mu      sync.Mutex
	scratch map[string]map[string]string // conversationID -> tool_call_id -> content
}

// New builds an Engine over the given collaborators. uriRoot is passed to
// the URI canonicalization step performed defensively during resource
// versioning.
func New(graph storage.GraphStore, vector storage.VectorStore, embedder embed.Embedder, extractor extract.Extractor, uriRoot string) *Engine {
	metrics, err := telemetry.NewMetrics(nil, nil)
	if err != nil {
		metrics = nil
	}
	return &Engine{
		graph:     graph,
		vector:    vector,
		embedder:  embedder,
		extractor: extractor,
		uriRoot:   uriRoot,
		logger:    telemetry.NewLogger(nil),
		metrics:   metrics,
		scratch:   make(map[string]map[string]string),
	}
}

func (e *Engine) scratchFor(conversationID string) map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.scratch[conversationID]
	if !ok {
		m = make(map[string]string)
		e.scratch[conversationID] = m
	}
	return m
}

// AddMessage accepts a single message and performs the corresponding graph
// mutations, returning the ids of every node/edge created. It is not
// idempotent; callers must deduplicate upstream.
// For assistant messages that reference a tool_call_id, the tool result
// must already be present in the conversation's scratch map — i.e. the
// corresponding `tool` message must have been ingested in an earlier
// AddMessage call. AddMessage does not buffer unresolved tool_call_ids;
// use ImportTrace when message order is not guaranteed.
func (e *Engine) AddMessage(ctx context.Context, conversationID string, msg model.Message) (map[string]model.ID, error) {
	scratch := e.scratchFor(conversationID)
	return e.addMessage(ctx, conversationID, msg, scratch)
}

// ImportTrace collects every tool result in messages into a fresh scratch
// map in one pass, then calls addMessage for each message in order against
// that same map. This tolerates a `tool` message arriving after the
// `assistant` message that references its tool_call_id.
func (e *Engine) ImportTrace(ctx context.Context, conversationID string, messages []model.Message) ([]map[string]model.ID, error) {
	scratch := make(map[string]string)
	for _, msg := range messages {
		if msg.Role == model.RoleTool && msg.ToolCallID != "" {
			scratch[msg.ToolCallID] = msg.Content
		}
	}

	results := make([]map[string]model.ID, 0, len(messages))
	for _, msg := range messages {
		created, err := e.addMessage(ctx, conversationID, msg, scratch)
		if err != nil {
			return results, err
		}
		results = append(results, created)
	}
	return results, nil
}

func (e *Engine) addMessage(ctx context.Context, conversationID string, msg model.Message, scratch map[string]string) (map[string]model.ID, error) {
	ctx, span := e.metrics.StartSpan(ctx, "ingest.add_message")
	defer span.End()
	start := time.Now()

	switch msg.Role {
	case model.RoleUser:
		ids, err := e.addUserText(ctx, conversationID, msg)
		if err != nil {
			e.metrics.RecordError(ctx, "ingest.add_message.user")
			e.logger.LogIngest(ctx, "add_user_text", conversationID, time.Since(start), err)
			return nil, err
		}
		e.metrics.RecordMessageIngested(ctx, string(model.RoleUser))
		e.logger.LogIngest(ctx, "add_user_text", conversationID, time.Since(start), nil)
		return ids, nil
	case model.RoleAssistant:
		ids, err := e.addAgentText(ctx, conversationID, msg, scratch)
		if err != nil {
			e.metrics.RecordError(ctx, "ingest.add_message.assistant")
			e.logger.LogIngest(ctx, "add_agent_text", conversationID, time.Since(start), err)
			return nil, err
		}
		e.metrics.RecordMessageIngested(ctx, string(model.RoleAssistant))
		e.logger.LogIngest(ctx, "add_agent_text", conversationID, time.Since(start), nil)
		return ids, nil
	case model.RoleTool:
		if msg.ToolCallID != "" {
			scratch[msg.ToolCallID] = msg.Content
		}
		e.metrics.RecordMessageIngested(ctx, string(model.RoleTool))
		return map[string]model.ID{}, nil
	case model.RoleSystem:
		e.metrics.RecordMessageIngested(ctx, string(model.RoleSystem))
		return map[string]model.ID{}, nil
	default:
		e.metrics.RecordError(ctx, "ingest.add_message.unknown_role")
		err := fmt.Errorf("ingest: unknown message role %q", msg.Role)
		e.logger.LogIngest(ctx, "add_message", conversationID, time.Since(start), err)
		return nil, err
	}
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (e *Engine) addUserText(ctx context.Context, conversationID string, msg model.Message) (map[string]model.ID, error) {
	maxTurn, err := e.graph.MaxTurnIndex(ctx, conversationID)
	if err != nil {
		return nil, storage.WrapStoreError(err, "ingest.addUserText.max_turn", storage.ErrCodeStorageFailed)
	}
	turnIndex := maxTurn + 1

	prevAgent, err := e.graph.GetLatestAgentText(ctx, conversationID)
	if err != nil {
		return nil, storage.WrapStoreError(err, "ingest.addUserText.prev_agent", storage.ErrCodeStorageFailed)
	}

	userText := &model.UserText{
		ID:             model.NewID(),
		ConversationID: conversationID,
		Text:           msg.Content,
		TurnIndex:      turnIndex,
		CreatedAt:      now(),
		LastAccessedAt: now(),
	}
	created, err := e.graph.CreateNode(ctx, storage.Node{Kind: storage.NodeKindUserText, UserText: userText})
	if err != nil {
		return nil, storage.WrapStoreError(err, "ingest.addUserText.create", storage.ErrCodeStorageFailed)
	}
	userText = created.UserText

	if prevAgent != nil {
		edge := &model.MessageEdge{
			ID:             model.NewID(),
			SourceID:       prevAgent.ID,
			TargetID:       userText.ID,
			ConversationID: conversationID,
			CreatedAt:      now(),
		}
		if err := e.graph.CreateEdge(ctx, storage.Edge{Kind: storage.EdgeKindMessage, MessageEdge: edge}); err != nil {
			return nil, storage.WrapStoreError(err, "ingest.addUserText.chain_edge", storage.ErrCodeStorageFailed)
		}
	}

	vec, err := e.embedder.Embed(ctx, userText.Text)
	if err != nil {
		return nil, fmt.Errorf("ingest: embed user text: %w", err)
	}
	if err := e.vector.Add(ctx, userText.ID, userText.Text, vec, conversationID); err != nil {
		return nil, storage.WrapStoreError(err, "ingest.addUserText.vector_add", storage.ErrCodeStorageFailed)
	}

	return map[string]model.ID{KeyUserText: userText.ID}, nil
}

func (e *Engine) addAgentText(ctx context.Context, conversationID string, msg model.Message, scratch map[string]string) (map[string]model.ID, error) {
	maxTurn, err := e.graph.MaxTurnIndex(ctx, conversationID)
	if err != nil {
		return nil, storage.WrapStoreError(err, "ingest.addAgentText.max_turn", storage.ErrCodeStorageFailed)
	}
	turnIndex := maxTurn
	if turnIndex < 0 {
		turnIndex = 0
	}

	prevNode, hasPrev, err := e.graph.GetLatestInTurn(ctx, conversationID, turnIndex)
	if err != nil {
		return nil, storage.WrapStoreError(err, "ingest.addAgentText.prev_in_turn", storage.ErrCodeStorageFailed)
	}

	toolUses := make([]model.ToolUseRecord, 0, len(msg.ToolCalls))
	for _, call := range msg.ToolCalls {
		toolUses = append(toolUses, model.ToolUseRecord{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Args:       call.Args,
		})
	}

	agentText := &model.AgentText{
		ID:             model.NewID(),
		ConversationID: conversationID,
		Text:           msg.Content,
		TurnIndex:      turnIndex,
		ToolUses:       toolUses,
		CreatedAt:      now(),
		LastAccessedAt: now(),
	}
	created, err := e.graph.CreateNode(ctx, storage.Node{Kind: storage.NodeKindAgentText, AgentText: agentText})
	if err != nil {
		return nil, storage.WrapStoreError(err, "ingest.addAgentText.create", storage.ErrCodeStorageFailed)
	}
	agentText = created.AgentText

	if hasPrev {
		edge := &model.MessageEdge{
			ID:             model.NewID(),
			SourceID:       prevNode.ID(),
			TargetID:       agentText.ID,
			ConversationID: conversationID,
			CreatedAt:      now(),
		}
		if err := e.graph.CreateEdge(ctx, storage.Edge{Kind: storage.EdgeKindMessage, MessageEdge: edge}); err != nil {
			return nil, storage.WrapStoreError(err, "ingest.addAgentText.chain_edge", storage.ErrCodeStorageFailed)
		}
	}

	result := map[string]model.ID{KeyAgentText: agentText.ID}

	for i, call := range msg.ToolCalls {
		ids, err := e.processToolCall(ctx, agentText.ID, conversationID, call, scratch)
		if err != nil {
			return nil, err
		}
		for key, id := range ids {
			if i == 0 {
				result[key] = id
			} else {
				result[fmt.Sprintf("%s_%d", key, i)] = id
			}
		}
	}

	return result, nil
}
