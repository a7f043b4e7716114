// Package retrieve implements the hybrid retrieval engine and its
// expansions: single-node context, cross-conversation resource lookup, and
// trajectory reconstruction.
package retrieve

import (
	"context"
	"time"

	"github.com/lookatitude/agentgraph/config"
	"github.com/lookatitude/agentgraph/embed"
	"github.com/lookatitude/agentgraph/internal/telemetry"
	"github.com/lookatitude/agentgraph/model"
	"github.com/lookatitude/agentgraph/storage"
)

// SearchResult is one ranked hit from Search.
type SearchResult struct {
	NodeID         model.ID
	Text           string
	ConversationID string
	Score          float64
	CreatedAt      time.Time
	Context        *ContextResult
}

// ToolUseResult mirrors storage.ToolUseContext for public consumption.
type ToolUseResult struct {
	ToolName        string
	Properties      map[string]any
	ResourceVersion *model.ResourceVersion
	Resource        *model.Resource
}

// ContextResult is the result of GetContext.
type ContextResult struct {
	UserText  *model.UserText
	AgentText *model.AgentText
	ToolUses  []ToolUseResult
}

// ConversationResult is one row of GetConversationsForResource.
type ConversationResult struct {
	ConversationID string
	UserTextID     model.ID
	UserText       string
	AgentTextID    model.ID
	AgentText      string
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// TrajectoryStep is one step of GetTrajectory's result.
type TrajectoryStep struct {
	NodeID         model.ID
	NodeType       string // "UserText" | "AgentText"
	Text           string
	ConversationID string
	CreatedAt      time.Time
	ToolUses       []model.ToolUseRecord
}

// Engine implements the four retrieval calls on top of a GraphStore and a
// VectorStore.
type Engine struct {
	graph    storage.GraphStore
	vector   storage.VectorStore
	embedder embed.Embedder
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
}

// New builds a retrieval Engine.
func New(graph storage.GraphStore, vector storage.VectorStore, embedder embed.Embedder) *Engine {
	metrics, err := telemetry.NewMetrics(nil, nil)
	if err != nil {
		metrics = nil
	}
	return &Engine{graph: graph, vector: vector, embedder: embedder, logger: telemetry.NewLogger(nil), metrics: metrics}
}

// Search performs a hybrid nearest-neighbor query.
func (e *Engine) Search(ctx context.Context, query string, cfg config.RetrievalConfig) ([]SearchResult, error) {
	ctx, span := e.metrics.StartSpan(ctx, "retrieve.search")
	defer span.End()
	start := time.Now()

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		e.metrics.RecordError(ctx, "retrieve.search.embed")
		e.logger.LogRetrieval(ctx, "search", 0, time.Since(start), err)
		return nil, err
	}

	k := cfg.Limit
	if cfg.UniqueConversations {
		k = cfg.Limit * 3
	}

	rows, err := e.vector.Search(ctx, vec, query, k, cfg.ExcludeConversationID, cfg.VectorWeight)
	if err != nil {
		e.metrics.RecordError(ctx, "retrieve.search")
		wrapped := storage.WrapStoreError(err, "retrieve.Search", storage.ErrCodeStorageFailed)
		e.logger.LogRetrieval(ctx, "search", 0, time.Since(start), wrapped)
		return nil, wrapped
	}

	if cfg.UniqueConversations {
		rows = foldByConversation(rows, cfg.Limit)
	} else if len(rows) > cfg.Limit {
		rows = rows[:cfg.Limit]
	}

	results := make([]SearchResult, 0, len(rows))
	touchIDs := make([]model.ID, 0, len(rows))
	for _, row := range rows {
		res := SearchResult{
			NodeID:         row.NodeID,
			Text:           row.Text,
			ConversationID: row.ConversationID,
			Score:          row.Score,
			CreatedAt:      row.CreatedAt,
		}
		if cfg.IncludeContext {
			ctxResult, err := e.GetContext(ctx, row.NodeID)
			if err == nil {
				res.Context = &ctxResult
			}
		}
		results = append(results, res)
		touchIDs = append(touchIDs, row.NodeID)
	}

	e.touch(ctx, touchIDs)
	e.metrics.RecordSearch(ctx, time.Since(start), len(results))
	e.logger.LogRetrieval(ctx, "search", len(results), time.Since(start), nil)
	return results, nil
}

// foldByConversation keeps the highest-scored row per conversation_id,
// preserving order of first appearance, truncated to limit.
func foldByConversation(rows []storage.VectorSearchResult, limit int) []storage.VectorSearchResult {
	best := make(map[string]storage.VectorSearchResult)
	order := make([]string, 0, len(rows))
	for _, row := range rows {
		cur, ok := best[row.ConversationID]
		if !ok {
			order = append(order, row.ConversationID)
			best[row.ConversationID] = row
			continue
		}
		if row.Score > cur.Score {
			best[row.ConversationID] = row
		}
	}
	out := make([]storage.VectorSearchResult, 0, len(order))
	for _, convID := range order {
		out = append(out, best[convID])
		if len(out) == limit {
			break
		}
	}
	return out
}

// GetContext expands a single UserText node into its paired AgentText and
// tool uses. A nonexistent node yields a zero ContextResult,
// not an error.
func (e *Engine) GetContext(ctx context.Context, nodeID model.ID) (ContextResult, error) {
	ctx, span := e.metrics.StartSpan(ctx, "retrieve.get_context")
	defer span.End()
	start := time.Now()

	nc, err := e.graph.GetNodeContext(ctx, nodeID)
	if err != nil {
		e.metrics.RecordError(ctx, "retrieve.get_context")
		wrapped := storage.WrapStoreError(err, "retrieve.GetContext", storage.ErrCodeStorageFailed)
		e.logger.LogRetrieval(ctx, "get_context", 0, time.Since(start), wrapped)
		return ContextResult{}, wrapped
	}

	result := ContextResult{UserText: nc.UserText, AgentText: nc.AgentText}
	for _, tu := range nc.ToolUses {
		result.ToolUses = append(result.ToolUses, ToolUseResult{
			ToolName:        tu.ToolName,
			Properties:      tu.Properties,
			ResourceVersion: tu.ResourceVersion,
			Resource:        tu.Resource,
		})
	}

	touchIDs := make([]model.ID, 0, 2)
	if nc.UserText != nil {
		touchIDs = append(touchIDs, nc.UserText.ID)
	}
	if nc.AgentText != nil {
		touchIDs = append(touchIDs, nc.AgentText.ID)
	}
	e.touch(ctx, touchIDs)
	e.logger.LogRetrieval(ctx, "get_context", len(result.ToolUses), time.Since(start), nil)

	return result, nil
}

// GetConversationsForResource looks up every conversation that has touched
// uri, a canonical URI.
func (e *Engine) GetConversationsForResource(ctx context.Context, uri string, cfg config.RetrievalConfig) ([]ConversationResult, error) {
	ctx, span := e.metrics.StartSpan(ctx, "retrieve.get_conversations_for_resource")
	defer span.End()
	start := time.Now()

	rows, err := e.graph.GetResourceConversations(ctx, uri, storage.ResourceConversationsQuery{
		SortBy:                cfg.SortBy,
		SortOrder:             cfg.SortOrder,
		Limit:                 cfg.Limit,
		ExcludeConversationID: cfg.ExcludeConversationID,
	})
	if err != nil {
		e.metrics.RecordError(ctx, "retrieve.get_conversations_for_resource")
		wrapped := storage.WrapStoreError(err, "retrieve.GetConversationsForResource", storage.ErrCodeStorageFailed)
		e.logger.LogRetrieval(ctx, "get_conversations_for_resource", 0, time.Since(start), wrapped)
		return nil, wrapped
	}

	results := make([]ConversationResult, 0, len(rows))
	touchIDs := make([]model.ID, 0, len(rows))
	for _, row := range rows {
		results = append(results, ConversationResult{
			ConversationID: row.ConversationID,
			UserTextID:     row.UserTextID,
			UserText:       row.UserText,
			AgentTextID:    row.AgentTextID,
			AgentText:      row.AgentText,
			CreatedAt:      row.CreatedAt,
			LastAccessedAt: row.LastAccessedAt,
		})
		touchIDs = append(touchIDs, row.UserTextID)
	}
	e.touch(ctx, touchIDs)
	e.logger.LogRetrieval(ctx, "get_conversations_for_resource", len(results), time.Since(start), nil)
	return results, nil
}

// GetTrajectory reconstructs the ordered sequence of nodes from userTextID
// up to and including the next UserText in the conversation.
func (e *Engine) GetTrajectory(ctx context.Context, userTextID model.ID, cfg config.RetrievalConfig) ([]TrajectoryStep, error) {
	ctx, span := e.metrics.StartSpan(ctx, "retrieve.get_trajectory")
	defer span.End()
	start := time.Now()

	nodes, err := e.graph.GetTrajectoryNodes(ctx, userTextID, cfg.TrajectoryMaxDepth)
	if err != nil {
		e.metrics.RecordError(ctx, "retrieve.get_trajectory")
		wrapped := storage.WrapStoreError(err, "retrieve.GetTrajectory", storage.ErrCodeStorageFailed)
		e.logger.LogRetrieval(ctx, "get_trajectory", 0, time.Since(start), wrapped)
		return nil, wrapped
	}

	var steps []TrajectoryStep
	started := false
	touchIDs := make([]model.ID, 0, len(nodes))

	for _, n := range nodes {
		if !started {
			if n.ID != userTextID {
				continue
			}
			started = true
		}

		nodeType := "AgentText"
		if n.Kind == storage.NodeKindUserText {
			nodeType = "UserText"
		}
		steps = append(steps, TrajectoryStep{
			NodeID:         n.ID,
			NodeType:       nodeType,
			Text:           n.Text,
			ConversationID: n.ConversationID,
			CreatedAt:      n.CreatedAt,
			ToolUses:       n.ToolUses,
		})
		touchIDs = append(touchIDs, n.ID)

		if n.ID != userTextID && n.Kind == storage.NodeKindUserText {
			break
		}
	}

	e.touch(ctx, touchIDs)
	e.logger.LogRetrieval(ctx, "get_trajectory", len(steps), time.Since(start), nil)
	return steps, nil
}

// touch bumps last_accessed_at on ids in both stores, best-effort: a
// failed touch never fails the caller's query.
func (e *Engine) touch(ctx context.Context, ids []model.ID) {
	if len(ids) == 0 {
		return
	}
	if err := e.graph.UpdateLastAccessed(ctx, ids); err != nil {
		e.logger.Warn(ctx, "retrieve: graph touch failed", "error", err)
	}
	for _, id := range ids {
		if err := e.vector.UpdateLastAccessed(ctx, id); err != nil {
			e.logger.Warn(ctx, "retrieve: vector touch failed", "error", err)
		}
	}
}
