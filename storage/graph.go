package storage

import (
	"context"
	"time"

	"github.com/lookatitude/agentgraph/model"
)

// NodeKind discriminates the polymorphic Node variant.
type NodeKind int

const (
	NodeKindUserText NodeKind = iota
	NodeKindAgentText
	NodeKindResource
	NodeKindResourceVersion
)

// Node is a tagged variant over the node entity set. Exactly the field
// matching Kind is populated. The ingestion engine builds these without
// knowing the backend's storage representation; each backend exhaustively
// switches on Kind.
type Node struct {
	Kind            NodeKind
	UserText        *model.UserText
	AgentText       *model.AgentText
	Resource        *model.Resource
	ResourceVersion *model.ResourceVersion
}

// EdgeKind discriminates the polymorphic Edge variant.
type EdgeKind int

const (
	EdgeKindMessage EdgeKind = iota
	EdgeKindToolUse
	EdgeKindVersionOf
)

// Edge is a tagged variant over the edge entity set.
type Edge struct {
	Kind          EdgeKind
	MessageEdge   *model.MessageEdge
	ToolUseEdge   *model.ToolUseEdge
	VersionOfEdge *model.VersionOfEdge
}

// MessageNode is either a UserText or an AgentText, the two node kinds that
// can appear in a MessageEdge chain.
type MessageNode struct {
	Kind      NodeKind // NodeKindUserText or NodeKindAgentText
	UserText  *model.UserText
	AgentText *model.AgentText
}

// ID returns the wrapped node's id.
func (n MessageNode) ID() model.ID {
	if n.Kind == NodeKindUserText && n.UserText != nil {
		return n.UserText.ID
	}
	if n.AgentText != nil {
		return n.AgentText.ID
	}
	return ""
}

// ToolUseContext is one entry of GetNodeContext's expanded tool_uses list.
type ToolUseContext struct {
	ToolName        string
	Properties      map[string]any
	ResourceVersion *model.ResourceVersion
	Resource        *model.Resource
}

// NodeContext is the result of GetNodeContext.
type NodeContext struct {
	UserText  *model.UserText
	AgentText *model.AgentText
	ToolUses  []ToolUseContext
}

// ResourceConversationsQuery parameterizes GetResourceConversations.
type ResourceConversationsQuery struct {
	SortBy                string // "created_at" | "last_accessed_at"
	SortOrder             string // "asc" | "desc"
	Limit                 int
	ExcludeConversationID string
}

// ResourceConversationRow is one row of GetResourceConversations' result.
type ResourceConversationRow struct {
	ConversationID string
	UserTextID     model.ID
	UserText       string
	AgentTextID    model.ID // empty if no paired AgentText
	AgentText      string
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// TrajectoryNode is one raw row in a trajectory walk, before the retrieval
// engine folds it into a TrajectoryStep.
type TrajectoryNode struct {
	ID             model.ID
	Kind           NodeKind // NodeKindUserText or NodeKindAgentText
	ConversationID string
	Text           string
	CreatedAt      time.Time
	ToolUses       []model.ToolUseRecord
}

// GraphStore is the pluggable contract for typed node/edge storage. All
// methods are safe for concurrent use and accept a context for
// cancellation; there are no implicit timeouts.
type GraphStore interface {
	// Connect acquires the backend handle. Close releases it. Both must be
	// safe to call on all exit paths including cancellation.
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// InitializeSchema is idempotent; it may be called on every Connect.
	InitializeSchema(ctx context.Context) error

	// CreateNode persists node. For NodeKindResource, this has MERGE-on-URI
	// semantics: if a Resource with that URI already exists, the existing
	// row is returned unchanged rather than creating a duplicate.
	CreateNode(ctx context.Context, node Node) (Node, error)

	// CreateEdge persists edge.
	CreateEdge(ctx context.Context, edge Edge) error

	// GetUserText looks up a UserText by id.
	GetUserText(ctx context.Context, id model.ID) (*model.UserText, error)

	// GetLatestAgentText returns the most recent AgentText in conversationID
	// by created_at, or nil if none exists.
	GetLatestAgentText(ctx context.Context, conversationID string) (*model.AgentText, error)

	// GetLatestMessageNode returns the most recent UserText or AgentText in
	// conversationID by created_at, or a zero MessageNode if none exists.
	GetLatestMessageNode(ctx context.Context, conversationID string) (MessageNode, bool, error)

	// GetLatestInTurn returns the most recent UserText or AgentText in the
	// given (conversationID, turnIndex), or a zero MessageNode if none.
	GetLatestInTurn(ctx context.Context, conversationID string, turnIndex int) (MessageNode, bool, error)

	// GetResourceByURI looks up a Resource hypernode by its canonical URI.
	GetResourceByURI(ctx context.Context, uri string) (*model.Resource, error)

	// GetResourceVersionByHash looks up a ResourceVersion by (uri, hash).
	GetResourceVersionByHash(ctx context.Context, uri, contentHash string) (*model.ResourceVersion, error)

	// UpdateResourceHash sets Resource.current_content_hash for the
	// Resource at uri.
	UpdateResourceHash(ctx context.Context, uri, contentHash string) error

	// UpdateLastAccessed bumps last_accessed_at on the given node ids.
	// Best-effort: a failed touch must not fail the caller's query.
	UpdateLastAccessed(ctx context.Context, ids []model.ID) error

	// MaxTurnIndex returns the highest turn_index used in conversationID, or
	// -1 if the conversation is empty.
	MaxTurnIndex(ctx context.Context, conversationID string) (int, error)

	// GetNodeContext expands a UserText into its paired AgentText and tool
	// uses. Absent node ids yield a zero NodeContext, not an
	// error.
	GetNodeContext(ctx context.Context, userTextID model.ID) (NodeContext, error)

	// GetResourceConversations returns the conversations that have touched
	// uri. An unknown uri yields an empty, non-error result.
	GetResourceConversations(ctx context.Context, uri string, q ResourceConversationsQuery) ([]ResourceConversationRow, error)

	// GetTrajectoryNodes returns every node reachable from startID via
	// zero-or-more MessageEdges within the same conversation, sorted by
	// created_at ascending and deduplicated by id, bounded by maxDepth hops.
	GetTrajectoryNodes(ctx context.Context, startID model.ID, maxDepth int) ([]TrajectoryNode, error)
}
