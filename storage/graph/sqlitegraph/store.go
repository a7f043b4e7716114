// Package sqlitegraph is the embedded reference GraphStore backend: a
// property-graph model laid over a single SQLite database file, using
// recursive common table expressions for the variable-length traversal
// primitive the retrieval engine needs.
package sqlitegraph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lookatitude/agentgraph/internal/telemetry"
	"github.com/lookatitude/agentgraph/model"
	"github.com/lookatitude/agentgraph/storage"

	_ "github.com/mattn/go-sqlite3"
)

// maxTraversalDepth bounds every variable-length-path query this backend
// runs.
const maxTraversalDepth = 30

// Config configures a Store.
type Config struct {
	// Path is the SQLite database file, or ":memory:". A configured Home
	// directory typically becomes "<home>/graph/agentgraph.db".
	Path string
	// Namespace is written to the namespace column of every node this Store
	// creates. Edges do not carry it, and no lookup or retrieval query
	// filters on it.
	Namespace string
}

// Store is the embedded reference GraphStore.
type Store struct {
	cfg    Config
	db     *sql.DB
	logger *telemetry.Logger
}

// New builds a Store. Call Connect before use.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitegraph: path is required")
	}
	return &Store{cfg: cfg, logger: telemetry.NewLogger(nil)}, nil
}

func (s *Store) Connect(ctx context.Context) error {
	db, err := sql.Open("sqlite3", s.cfg.Path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		s.logger.LogStorage(ctx, "sqlitegraph", "connect", err)
		return fmt.Errorf("sqlitegraph: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		s.logger.LogStorage(ctx, "sqlitegraph", "connect", err)
		return fmt.Errorf("sqlitegraph: ping: %w", err)
	}
	s.db = db
	s.logger.LogStorage(ctx, "sqlitegraph", "connect", nil)
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.logger.LogStorage(ctx, "sqlitegraph", "close", err)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id TEXT PRIMARY KEY,
	kind INTEGER NOT NULL,
	namespace TEXT NOT NULL DEFAULT '',
	conversation_id TEXT NOT NULL DEFAULT '',
	uri TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	first_conversation_id TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL DEFAULT '',
	turn_index INTEGER NOT NULL DEFAULT -1,
	tool_uses TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL,
	last_accessed_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_nodes_resource_uri ON nodes(uri) WHERE kind = 2;
CREATE UNIQUE INDEX IF NOT EXISTS idx_nodes_version_uri_hash ON nodes(uri, content_hash) WHERE kind = 3;
CREATE INDEX IF NOT EXISTS idx_nodes_conversation ON nodes(conversation_id, kind);
CREATE INDEX IF NOT EXISTS idx_nodes_conv_turn ON nodes(conversation_id, turn_index, kind);

CREATE TABLE IF NOT EXISTS edges (
	id TEXT PRIMARY KEY,
	kind INTEGER NOT NULL,
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL DEFAULT '',
	tool_name TEXT NOT NULL DEFAULT '',
	properties TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(kind, source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(kind, target_id);
`

func (s *Store) InitializeSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("sqlitegraph: initialize schema: %w", err)
	}
	return nil
}

// node kind/edge kind mirror storage.NodeKind/storage.EdgeKind's int values.

func tsFormat(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func tsParse(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func marshalJSON(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalProps(s string) map[string]any {
	if s == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

func (s *Store) CreateNode(ctx context.Context, node storage.Node) (storage.Node, error) {
	switch node.Kind {
	case storage.NodeKindUserText:
		n := node.UserText
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO nodes (id, kind, namespace, conversation_id, text, turn_index, created_at, last_accessed_at)
			 VALUES (?, 0, ?, ?, ?, ?, ?, ?)`,
			string(n.ID), s.cfg.Namespace, n.ConversationID, n.Text, n.TurnIndex, tsFormat(n.CreatedAt), tsFormat(n.LastAccessedAt))
		if err != nil {
			return storage.Node{}, fmt.Errorf("sqlitegraph: create user_text: %w", err)
		}
		return node, nil

	case storage.NodeKindAgentText:
		n := node.AgentText
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO nodes (id, kind, namespace, conversation_id, text, turn_index, tool_uses, created_at, last_accessed_at)
			 VALUES (?, 1, ?, ?, ?, ?, ?, ?, ?)`,
			string(n.ID), s.cfg.Namespace, n.ConversationID, n.Text, n.TurnIndex, marshalJSON(n.ToolUses), tsFormat(n.CreatedAt), tsFormat(n.LastAccessedAt))
		if err != nil {
			return storage.Node{}, fmt.Errorf("sqlitegraph: create agent_text: %w", err)
		}
		return node, nil

	case storage.NodeKindResource:
		existing, err := s.GetResourceByURI(ctx, node.Resource.URI)
		if err != nil {
			return storage.Node{}, err
		}
		if existing != nil {
			return storage.Node{Kind: storage.NodeKindResource, Resource: existing}, nil
		}
		n := node.Resource
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO nodes (id, kind, namespace, uri, content_hash, created_at, last_accessed_at)
			 VALUES (?, 2, ?, ?, ?, ?, ?)`,
			string(n.ID), s.cfg.Namespace, n.URI, n.CurrentContentHash, tsFormat(n.CreatedAt), tsFormat(n.LastAccessedAt))
		if err != nil {
			return storage.Node{}, fmt.Errorf("sqlitegraph: create resource: %w", err)
		}
		return node, nil

	case storage.NodeKindResourceVersion:
		n := node.ResourceVersion
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO nodes (id, kind, namespace, uri, content_hash, first_conversation_id, created_at, last_accessed_at)
			 VALUES (?, 3, ?, ?, ?, ?, ?, ?)`,
			string(n.ID), s.cfg.Namespace, n.URI, n.ContentHash, n.FirstConversation, tsFormat(n.CreatedAt), tsFormat(n.LastAccessedAt))
		if err != nil {
			return storage.Node{}, fmt.Errorf("sqlitegraph: create resource_version: %w", err)
		}
		return node, nil

	default:
		return storage.Node{}, fmt.Errorf("sqlitegraph: unknown node kind %d", node.Kind)
	}
}

func (s *Store) CreateEdge(ctx context.Context, edge storage.Edge) error {
	switch edge.Kind {
	case storage.EdgeKindMessage:
		e := edge.MessageEdge
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO edges (id, kind, source_id, target_id, conversation_id, properties, created_at)
			 VALUES (?, 0, ?, ?, ?, ?, ?)`,
			string(e.ID), string(e.SourceID), string(e.TargetID), e.ConversationID, marshalJSON(e.Properties), tsFormat(e.CreatedAt))
		if err != nil {
			return fmt.Errorf("sqlitegraph: create message_edge: %w", err)
		}
		return nil

	case storage.EdgeKindToolUse:
		e := edge.ToolUseEdge
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO edges (id, kind, source_id, target_id, conversation_id, tool_name, properties, created_at)
			 VALUES (?, 1, ?, ?, ?, ?, ?, ?)`,
			string(e.ID), string(e.SourceID), string(e.TargetID), e.ConversationID, e.ToolName, marshalJSON(e.Properties), tsFormat(e.CreatedAt))
		if err != nil {
			return fmt.Errorf("sqlitegraph: create tool_use_edge: %w", err)
		}
		return nil

	case storage.EdgeKindVersionOf:
		e := edge.VersionOfEdge
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO edges (id, kind, source_id, target_id, created_at)
			 VALUES (?, 2, ?, ?, ?)`,
			string(e.ID), string(e.VersionID), string(e.ResourceID), tsFormat(e.CreatedAt))
		if err != nil {
			return fmt.Errorf("sqlitegraph: create version_of_edge: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("sqlitegraph: unknown edge kind %d", edge.Kind)
	}
}

func (s *Store) GetUserText(ctx context.Context, id model.ID) (*model.UserText, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, text, turn_index, created_at, last_accessed_at FROM nodes WHERE id = ? AND kind = 0`,
		string(id))
	return scanUserText(row)
}

func scanUserText(row *sql.Row) (*model.UserText, error) {
	var u model.UserText
	var idStr, createdAt, lastAccessed string
	err := row.Scan(&idStr, &u.ConversationID, &u.Text, &u.TurnIndex, &createdAt, &lastAccessed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitegraph: scan user_text: %w", err)
	}
	u.ID = model.ID(idStr)
	u.CreatedAt = tsParse(createdAt)
	u.LastAccessedAt = tsParse(lastAccessed)
	return &u, nil
}

func (s *Store) GetLatestAgentText(ctx context.Context, conversationID string) (*model.AgentText, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, text, turn_index, tool_uses, created_at, last_accessed_at
		 FROM nodes WHERE conversation_id = ? AND kind = 1
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, conversationID)
	return scanAgentText(row)
}

func scanAgentText(row *sql.Row) (*model.AgentText, error) {
	var a model.AgentText
	var idStr, toolUsesJSON, createdAt, lastAccessed string
	err := row.Scan(&idStr, &a.ConversationID, &a.Text, &a.TurnIndex, &toolUsesJSON, &createdAt, &lastAccessed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitegraph: scan agent_text: %w", err)
	}
	a.ID = model.ID(idStr)
	_ = json.Unmarshal([]byte(toolUsesJSON), &a.ToolUses)
	a.CreatedAt = tsParse(createdAt)
	a.LastAccessedAt = tsParse(lastAccessed)
	return &a, nil
}

func (s *Store) GetLatestMessageNode(ctx context.Context, conversationID string) (storage.MessageNode, bool, error) {
	return s.latestMessageNode(ctx,
		`SELECT id, kind FROM nodes WHERE conversation_id = ? AND kind IN (0,1)
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, conversationID)
}

func (s *Store) GetLatestInTurn(ctx context.Context, conversationID string, turnIndex int) (storage.MessageNode, bool, error) {
	return s.latestMessageNode(ctx,
		`SELECT id, kind FROM nodes WHERE conversation_id = ? AND turn_index = ? AND kind IN (0,1)
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, conversationID, turnIndex)
}

func (s *Store) latestMessageNode(ctx context.Context, query string, args...any) (storage.MessageNode, bool, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	var idStr string
	var kind int
	if err := row.Scan(&idStr, &kind); err != nil {
		if err == sql.ErrNoRows {
			return storage.MessageNode{}, false, nil
		}
		return storage.MessageNode{}, false, fmt.Errorf("sqlitegraph: latest message node: %w", err)
	}
	if kind == 0 {
		ut, err := s.GetUserText(ctx, model.ID(idStr))
		if err != nil || ut == nil {
			return storage.MessageNode{}, false, err
		}
		return storage.MessageNode{Kind: storage.NodeKindUserText, UserText: ut}, true, nil
	}
	at, err := s.GetLatestAgentTextByID(ctx, model.ID(idStr))
	if err != nil || at == nil {
		return storage.MessageNode{}, false, err
	}
	return storage.MessageNode{Kind: storage.NodeKindAgentText, AgentText: at}, true, nil
}

// GetLatestAgentTextByID fetches a single AgentText by id.
func (s *Store) GetLatestAgentTextByID(ctx context.Context, id model.ID) (*model.AgentText, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, text, turn_index, tool_uses, created_at, last_accessed_at
		 FROM nodes WHERE id = ? AND kind = 1`, string(id))
	return scanAgentText(row)
}

func (s *Store) GetResourceByURI(ctx context.Context, uri string) (*model.Resource, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, uri, content_hash, created_at, last_accessed_at FROM nodes WHERE uri = ? AND kind = 2`, uri)
	var r model.Resource
	var idStr, createdAt, lastAccessed string
	err := row.Scan(&idStr, &r.URI, &r.CurrentContentHash, &createdAt, &lastAccessed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitegraph: get resource: %w", err)
	}
	r.ID = model.ID(idStr)
	r.CreatedAt = tsParse(createdAt)
	r.LastAccessedAt = tsParse(lastAccessed)
	return &r, nil
}

func (s *Store) GetResourceVersionByHash(ctx context.Context, uri, contentHash string) (*model.ResourceVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, uri, content_hash, first_conversation_id, created_at, last_accessed_at
		 FROM nodes WHERE uri = ? AND content_hash = ? AND kind = 3`, uri, contentHash)
	var v model.ResourceVersion
	var idStr, createdAt, lastAccessed string
	err := row.Scan(&idStr, &v.URI, &v.ContentHash, &v.FirstConversation, &createdAt, &lastAccessed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitegraph: get resource_version: %w", err)
	}
	v.ID = model.ID(idStr)
	v.CreatedAt = tsParse(createdAt)
	v.LastAccessedAt = tsParse(lastAccessed)
	return &v, nil
}

func (s *Store) UpdateResourceHash(ctx context.Context, uri, contentHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET content_hash = ?, last_accessed_at = ? WHERE uri = ? AND kind = 2`,
		contentHash, tsFormat(time.Now().UTC()), uri)
	if err != nil {
		return fmt.Errorf("sqlitegraph: update resource hash: %w", err)
	}
	return nil
}

func (s *Store) UpdateLastAccessed(ctx context.Context, ids []model.ID) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, tsFormat(time.Now().UTC()))
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, string(id))
	}
	query := fmt.Sprintf(`UPDATE nodes SET last_accessed_at = ? WHERE id IN (%s)`, strings.Join(placeholders, ","))
	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlitegraph: update last_accessed: %w", err)
	}
	return nil
}

func (s *Store) MaxTurnIndex(ctx context.Context, conversationID string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(turn_index), -1) FROM nodes WHERE conversation_id = ? AND kind IN (0,1)`, conversationID)
	var max int
	if err := row.Scan(&max); err != nil {
		return -1, fmt.Errorf("sqlitegraph: max turn index: %w", err)
	}
	return max, nil
}

func (s *Store) GetNodeContext(ctx context.Context, userTextID model.ID) (storage.NodeContext, error) {
	var result storage.NodeContext

	ut, err := s.GetUserText(ctx, userTextID)
	if err != nil {
		return result, err
	}
	if ut == nil {
		return result, nil
	}
	result.UserText = ut

	row := s.db.QueryRowContext(ctx,
		`SELECT target_id FROM edges WHERE kind = 0 AND source_id = ? ORDER BY created_at ASC LIMIT 1`, string(userTextID))
	var targetID string
	if err := row.Scan(&targetID); err != nil {
		if err == sql.ErrNoRows {
			return result, nil
		}
		return result, fmt.Errorf("sqlitegraph: get_node_context chain: %w", err)
	}

	at, err := s.GetLatestAgentTextByID(ctx, model.ID(targetID))
	if err != nil || at == nil {
		return result, err
	}
	result.AgentText = at

	rows, err := s.db.QueryContext(ctx,
		`SELECT target_id, tool_name, properties FROM edges WHERE kind = 1 AND source_id = ? ORDER BY created_at ASC`, string(at.ID))
	if err != nil {
		return result, fmt.Errorf("sqlitegraph: get_node_context tool_uses: %w", err)
	}
	defer rows.Close()

	// Read every edge before the lookups below: a query issued while rows is
	// open takes a second connection, which for ":memory:" is an empty database.
	var versionIDs []string
	for rows.Next() {
		var versionID, toolName, propsJSON string
		if err := rows.Scan(&versionID, &toolName, &propsJSON); err != nil {
			return result, fmt.Errorf("sqlitegraph: scan tool_use: %w", err)
		}
		versionIDs = append(versionIDs, versionID)
		result.ToolUses = append(result.ToolUses, storage.ToolUseContext{ToolName: toolName, Properties: unmarshalProps(propsJSON)})
	}
	if err := rows.Err(); err != nil {
		return result, err
	}
	rows.Close()

	for i, versionID := range versionIDs {
		version, err := s.getResourceVersionByID(ctx, model.ID(versionID))
		if err == nil && version != nil {
			result.ToolUses[i].ResourceVersion = version
			if resource, err := s.GetResourceByURI(ctx, version.URI); err == nil {
				result.ToolUses[i].Resource = resource
			}
		}
	}
	return result, nil
}

func (s *Store) getResourceVersionByID(ctx context.Context, id model.ID) (*model.ResourceVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, uri, content_hash, first_conversation_id, created_at, last_accessed_at
		 FROM nodes WHERE id = ? AND kind = 3`, string(id))
	var v model.ResourceVersion
	var idStr, createdAt, lastAccessed string
	err := row.Scan(&idStr, &v.URI, &v.ContentHash, &v.FirstConversation, &createdAt, &lastAccessed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitegraph: get resource_version by id: %w", err)
	}
	v.ID = model.ID(idStr)
	v.CreatedAt = tsParse(createdAt)
	v.LastAccessedAt = tsParse(lastAccessed)
	return &v, nil
}

func (s *Store) GetResourceConversations(ctx context.Context, uri string, q storage.ResourceConversationsQuery) ([]storage.ResourceConversationRow, error) {
	versionRows, err := s.db.QueryContext(ctx, `SELECT id FROM nodes WHERE uri = ? AND kind = 3`, uri)
	if err != nil {
		return nil, fmt.Errorf("sqlitegraph: get_resource_conversations versions: %w", err)
	}
	var versionIDs []string
	for versionRows.Next() {
		var id string
		if err := versionRows.Scan(&id); err != nil {
			versionRows.Close()
			return nil, err
		}
		versionIDs = append(versionIDs, id)
	}
	verErr := versionRows.Err()
	versionRows.Close()
	if verErr != nil {
		return nil, fmt.Errorf("sqlitegraph: get_resource_conversations versions: %w", verErr)
	}
	if len(versionIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(versionIDs))
	args := make([]any, len(versionIDs))
	for i, id := range versionIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	agentRows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT DISTINCT source_id FROM edges WHERE kind = 1 AND target_id IN (%s)`, strings.Join(placeholders, ",")),
		args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitegraph: get_resource_conversations agents: %w", err)
	}
	var agentTextIDs []string
	for agentRows.Next() {
		var id string
		if err := agentRows.Scan(&id); err != nil {
			agentRows.Close()
			return nil, err
		}
		agentTextIDs = append(agentTextIDs, id)
	}
	agentRows.Close()

	seen := make(map[string]bool)
	var out []storage.ResourceConversationRow

	for _, agentTextID := range agentTextIDs {
		userTextID, err := s.walkBackToUserText(ctx, agentTextID)
		if err != nil || userTextID == "" {
			continue
		}

		at, err := s.GetLatestAgentTextByID(ctx, model.ID(agentTextID))
		if err != nil || at == nil {
			continue
		}
		ut, err := s.GetUserText(ctx, model.ID(userTextID))
		if err != nil || ut == nil {
			continue
		}

		key := ut.ConversationID + "|" + userTextID
		if seen[key] {
			continue
		}
		if q.ExcludeConversationID != "" && ut.ConversationID == q.ExcludeConversationID {
			continue
		}
		seen[key] = true

		out = append(out, storage.ResourceConversationRow{
			ConversationID: ut.ConversationID,
			UserTextID:     ut.ID,
			UserText:       ut.Text,
			AgentTextID:    at.ID,
			AgentText:      at.Text,
			CreatedAt:      ut.CreatedAt,
			LastAccessedAt: ut.LastAccessedAt,
		})
	}

	sortConversationRows(out, q.SortBy, q.SortOrder)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// walkBackToUserText finds the nearest UserText reachable by walking
// MessageEdges backward from startID, bounded by maxTraversalDepth hops.
func (s *Store) walkBackToUserText(ctx context.Context, startID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `
		WITH RECURSIVE back_chain(node_id, depth) AS (
			SELECT source_id, 1 FROM edges WHERE kind = 0 AND target_id = ?
			UNION ALL
			SELECT e.source_id, bc.depth + 1
			FROM edges e JOIN back_chain bc ON e.target_id = bc.node_id
			WHERE e.kind = 0 AND bc.depth < ?
		)
		SELECT bc.node_id FROM back_chain bc
		JOIN nodes n ON n.id = bc.node_id
		WHERE n.kind = 0
		ORDER BY bc.depth ASC LIMIT 1`, startID, maxTraversalDepth)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

func sortConversationRows(rows []storage.ResourceConversationRow, sortBy, sortOrder string) {
	asc := sortOrder != "desc"
	key := func(r storage.ResourceConversationRow) time.Time {
		if sortBy == "last_accessed_at" {
			return r.LastAccessedAt
		}
		return r.CreatedAt
	}
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0; j-- {
			less := key(rows[j]).Before(key(rows[j-1]))
			if !asc {
				less = key(rows[j]).After(key(rows[j-1]))
			}
			if !less {
				break
			}
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
}

func (s *Store) GetTrajectoryNodes(ctx context.Context, startID model.ID, maxDepth int) ([]storage.TrajectoryNode, error) {
	if maxDepth <= 0 || maxDepth > maxTraversalDepth {
		maxDepth = maxTraversalDepth
	}

	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE fwd(node_id, depth) AS (
			SELECT ?, 0
			UNION ALL
			SELECT e.target_id, f.depth + 1
			FROM edges e JOIN fwd f ON e.source_id = f.node_id
			WHERE e.kind = 0 AND f.depth < ?
		)
		SELECT DISTINCT n.id, n.kind, n.conversation_id, n.text, n.tool_uses, n.created_at, n.rowid
		FROM nodes n JOIN fwd f ON n.id = f.node_id
		WHERE n.kind IN (0,1)
		ORDER BY n.created_at ASC, n.rowid ASC`, string(startID), maxDepth)
	if err != nil {
		return nil, fmt.Errorf("sqlitegraph: get_trajectory_nodes: %w", err)
	}
	defer rows.Close()

	var out []storage.TrajectoryNode
	for rows.Next() {
		var idStr, convID, text, toolUsesJSON, createdAt string
		var kind, rowid int
		if err := rows.Scan(&idStr, &kind, &convID, &text, &toolUsesJSON, &createdAt, &rowid); err != nil {
			return nil, fmt.Errorf("sqlitegraph: scan trajectory node: %w", err)
		}
		tn := storage.TrajectoryNode{
			ID:             model.ID(idStr),
			ConversationID: convID,
			Text:           text,
			CreatedAt:      tsParse(createdAt),
		}
		if kind == 0 {
			tn.Kind = storage.NodeKindUserText
		} else {
			tn.Kind = storage.NodeKindAgentText
			_ = json.Unmarshal([]byte(toolUsesJSON), &tn.ToolUses)
		}
		out = append(out, tn)
	}
	return out, rows.Err()
}

var _ storage.GraphStore = (*Store)(nil)
