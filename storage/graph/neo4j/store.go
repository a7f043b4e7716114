// Package neo4j is the alternate GraphStore backend for deployments that
// already run a Neo4j cluster. It models the same node/edge kinds as the
// embedded sqlitegraph backend as labeled property-graph nodes and
// relationships, using Cypher's native variable-length path syntax for the
// bounded traversal primitive.
package neo4j

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	driver "github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/lookatitude/agentgraph/model"
	"github.com/lookatitude/agentgraph/storage"
)

// maxTraversalDepth mirrors the embedded backend's cap: every backend must
// declare and enforce the same bound so traversal results don't depend on
// which one is configured.
const maxTraversalDepth = 30

// Config configures a Store.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
	// Namespace is set as the namespace property of every node this Store
	// creates, mirroring the embedded backend's option of the same name.
	// Relationships do not carry it, and no query filters on it.
	Namespace string
}

// sessionRunner abstracts Neo4j session operations for testability; the
// driver's session/transaction types carry unexported methods, so tests
// substitute a fake runner rather than a real driver.
type sessionRunner interface {
	executeWrite(ctx context.Context, cypher string, params map[string]any) error
	executeRead(ctx context.Context, cypher string, params map[string]any) ([]record, error)
	close(ctx context.Context) error
}

// record is one result row, accessed positionally by RETURN clause order.
type record struct {
	values []any
}

func (r record) str(i int) string {
	if i >= len(r.values) || r.values[i] == nil {
		return ""
	}
	s, _ := r.values[i].(string)
	return s
}

func (r record) i64(i int) int64 {
	if i >= len(r.values) || r.values[i] == nil {
		return 0
	}
	switch v := r.values[i].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

type neo4jRunner struct {
	drv      driver.DriverWithContext
	database string
}

func (r *neo4jRunner) executeWrite(ctx context.Context, cypher string, params map[string]any) error {
	session := r.drv.NewSession(ctx, driver.SessionConfig{DatabaseName: r.database})
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx driver.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, cypher, params)
		return nil, err
	})
	return err
}

func (r *neo4jRunner) executeRead(ctx context.Context, cypher string, params map[string]any) ([]record, error) {
	session := r.drv.NewSession(ctx, driver.SessionConfig{DatabaseName: r.database, AccessMode: driver.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx driver.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		var records []record
		for res.Next(ctx) {
			rec := res.Record()
			values := make([]any, len(rec.Values))
			copy(values, rec.Values)
			records = append(records, record{values: values})
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]record), nil
}

func (r *neo4jRunner) close(ctx context.Context) error {
	return r.drv.Close(ctx)
}

// Store is the Neo4j-backed GraphStore.
type Store struct {
	cfg    Config
	runner sessionRunner
}

// New builds a Store backed by a real Neo4j driver.
func New(cfg Config) (*Store, error) {
	drv, err := driver.NewDriverWithContext(cfg.URI, driver.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j: create driver: %w", err)
	}
	return &Store{cfg: cfg, runner: &neo4jRunner{drv: drv, database: cfg.Database}}, nil
}

// newWithRunner builds a Store over a custom sessionRunner, for tests.
func newWithRunner(cfg Config, r sessionRunner) *Store {
	return &Store{cfg: cfg, runner: r}
}

func (s *Store) Connect(ctx context.Context) error { return nil }

func (s *Store) Close(ctx context.Context) error {
	return s.runner.close(ctx)
}

func (s *Store) InitializeSchema(ctx context.Context) error {
	stmts := []string{
		"CREATE CONSTRAINT user_text_id IF NOT EXISTS FOR (n:UserText) REQUIRE n.id IS UNIQUE",
		"CREATE CONSTRAINT agent_text_id IF NOT EXISTS FOR (n:AgentText) REQUIRE n.id IS UNIQUE",
		"CREATE CONSTRAINT resource_id IF NOT EXISTS FOR (n:Resource) REQUIRE n.id IS UNIQUE",
		"CREATE CONSTRAINT resource_uri IF NOT EXISTS FOR (n:Resource) REQUIRE n.uri IS UNIQUE",
		"CREATE CONSTRAINT resource_version_id IF NOT EXISTS FOR (n:ResourceVersion) REQUIRE n.id IS UNIQUE",
		"CREATE INDEX user_text_conv IF NOT EXISTS FOR (n:UserText) ON (n.conversation_id)",
		"CREATE INDEX agent_text_conv IF NOT EXISTS FOR (n:AgentText) ON (n.conversation_id)",
		"CREATE INDEX resource_version_uri IF NOT EXISTS FOR (n:ResourceVersion) ON (n.uri)",
	}
	for _, stmt := range stmts {
		if err := s.runner.executeWrite(ctx, stmt, nil); err != nil {
			return fmt.Errorf("neo4j: initialize schema: %w", err)
		}
	}
	return nil
}

func tsFormat(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

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
		err := s.runner.executeWrite(ctx,
			`CREATE (n:UserText {id: $id, namespace: $ns, conversation_id: $conv, text: $text, turn_index: $turn, created_at: $created, last_accessed_at: $accessed})`,
			map[string]any{
				"id": string(n.ID), "ns": s.cfg.Namespace, "conv": n.ConversationID, "text": n.Text,
				"turn": int64(n.TurnIndex), "created": tsFormat(n.CreatedAt), "accessed": tsFormat(n.LastAccessedAt),
			})
		if err != nil {
			return storage.Node{}, fmt.Errorf("neo4j: create user_text: %w", err)
		}
		return node, nil

	case storage.NodeKindAgentText:
		n := node.AgentText
		err := s.runner.executeWrite(ctx,
			`CREATE (n:AgentText {id: $id, namespace: $ns, conversation_id: $conv, text: $text, turn_index: $turn, tool_uses: $toolUses, created_at: $created, last_accessed_at: $accessed})`,
			map[string]any{
				"id": string(n.ID), "ns": s.cfg.Namespace, "conv": n.ConversationID, "text": n.Text,
				"turn": int64(n.TurnIndex), "toolUses": marshalJSON(n.ToolUses),
				"created": tsFormat(n.CreatedAt), "accessed": tsFormat(n.LastAccessedAt),
			})
		if err != nil {
			return storage.Node{}, fmt.Errorf("neo4j: create agent_text: %w", err)
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
		err = s.runner.executeWrite(ctx,
			`MERGE (n:Resource {uri: $uri})
			 ON CREATE SET n.id = $id, n.namespace = $ns, n.current_content_hash = $hash, n.created_at = $created, n.last_accessed_at = $accessed`,
			map[string]any{
				"uri": n.URI, "id": string(n.ID), "ns": s.cfg.Namespace, "hash": n.CurrentContentHash,
				"created": tsFormat(n.CreatedAt), "accessed": tsFormat(n.LastAccessedAt),
			})
		if err != nil {
			return storage.Node{}, fmt.Errorf("neo4j: create resource: %w", err)
		}
		created, err := s.GetResourceByURI(ctx, n.URI)
		if err != nil || created == nil {
			return storage.Node{}, fmt.Errorf("neo4j: create resource: read back: %w", err)
		}
		return storage.Node{Kind: storage.NodeKindResource, Resource: created}, nil

	case storage.NodeKindResourceVersion:
		n := node.ResourceVersion
		err := s.runner.executeWrite(ctx,
			`CREATE (n:ResourceVersion {id: $id, namespace: $ns, uri: $uri, content_hash: $hash, first_conversation_id: $firstConv, created_at: $created, last_accessed_at: $accessed})`,
			map[string]any{
				"id": string(n.ID), "ns": s.cfg.Namespace, "uri": n.URI, "hash": n.ContentHash,
				"firstConv": n.FirstConversation, "created": tsFormat(n.CreatedAt), "accessed": tsFormat(n.LastAccessedAt),
			})
		if err != nil {
			return storage.Node{}, fmt.Errorf("neo4j: create resource_version: %w", err)
		}
		return node, nil

	default:
		return storage.Node{}, fmt.Errorf("neo4j: unknown node kind %d", node.Kind)
	}
}

func (s *Store) CreateEdge(ctx context.Context, edge storage.Edge) error {
	switch edge.Kind {
	case storage.EdgeKindMessage:
		e := edge.MessageEdge
		return s.runner.executeWrite(ctx,
			`MATCH (a {id: $source}), (b {id: $target})
			 CREATE (a)-[:MESSAGE {id: $id, conversation_id: $conv, properties: $props, created_at: $created}]->(b)`,
			map[string]any{
				"source": string(e.SourceID), "target": string(e.TargetID), "id": string(e.ID),
				"conv": e.ConversationID, "props": marshalJSON(e.Properties), "created": tsFormat(e.CreatedAt),
			})

	case storage.EdgeKindToolUse:
		e := edge.ToolUseEdge
		return s.runner.executeWrite(ctx,
			`MATCH (a:AgentText {id: $source}), (v:ResourceVersion {id: $target})
			 CREATE (a)-[:TOOL_USE {id: $id, tool_name: $toolName, conversation_id: $conv, properties: $props, created_at: $created}]->(v)`,
			map[string]any{
				"source": string(e.SourceID), "target": string(e.TargetID), "id": string(e.ID),
				"toolName": e.ToolName, "conv": e.ConversationID, "props": marshalJSON(e.Properties), "created": tsFormat(e.CreatedAt),
			})

	case storage.EdgeKindVersionOf:
		e := edge.VersionOfEdge
		return s.runner.executeWrite(ctx,
			`MATCH (v:ResourceVersion {id: $version}), (r:Resource {id: $resource})
			 CREATE (v)-[:VERSION_OF {id: $id, created_at: $created}]->(r)`,
			map[string]any{
				"version": string(e.VersionID), "resource": string(e.ResourceID), "id": string(e.ID), "created": tsFormat(e.CreatedAt),
			})

	default:
		return fmt.Errorf("neo4j: unknown edge kind %d", edge.Kind)
	}
}

func (s *Store) GetUserText(ctx context.Context, id model.ID) (*model.UserText, error) {
	records, err := s.runner.executeRead(ctx,
		`MATCH (n:UserText {id: $id}) RETURN n.id, n.conversation_id, n.text, n.turn_index, n.created_at, n.last_accessed_at`,
		map[string]any{"id": string(id)})
	if err != nil {
		return nil, fmt.Errorf("neo4j: get user_text: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	r := records[0]
	return &model.UserText{
		ID: model.ID(r.str(0)), ConversationID: r.str(1), Text: r.str(2), TurnIndex: int(r.i64(3)),
		CreatedAt: tsParse(r.str(4)), LastAccessedAt: tsParse(r.str(5)),
	}, nil
}

func (s *Store) getAgentTextByID(ctx context.Context, id model.ID) (*model.AgentText, error) {
	records, err := s.runner.executeRead(ctx,
		`MATCH (n:AgentText {id: $id}) RETURN n.id, n.conversation_id, n.text, n.turn_index, n.tool_uses, n.created_at, n.last_accessed_at`,
		map[string]any{"id": string(id)})
	if err != nil {
		return nil, fmt.Errorf("neo4j: get agent_text: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	r := records[0]
	at := &model.AgentText{
		ID: model.ID(r.str(0)), ConversationID: r.str(1), Text: r.str(2), TurnIndex: int(r.i64(3)),
		CreatedAt: tsParse(r.str(5)), LastAccessedAt: tsParse(r.str(6)),
	}
	_ = json.Unmarshal([]byte(r.str(4)), &at.ToolUses)
	return at, nil
}

func (s *Store) GetLatestAgentText(ctx context.Context, conversationID string) (*model.AgentText, error) {
	records, err := s.runner.executeRead(ctx,
		`MATCH (n:AgentText {conversation_id: $conv}) RETURN n.id ORDER BY n.created_at DESC LIMIT 1`,
		map[string]any{"conv": conversationID})
	if err != nil {
		return nil, fmt.Errorf("neo4j: get_latest_agent_text: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return s.getAgentTextByID(ctx, model.ID(records[0].str(0)))
}

func (s *Store) GetLatestMessageNode(ctx context.Context, conversationID string) (storage.MessageNode, bool, error) {
	return s.latestMessageNode(ctx,
		`MATCH (n) WHERE (n:UserText OR n:AgentText) AND n.conversation_id = $conv
		 RETURN n.id, labels(n)[0] ORDER BY n.created_at DESC LIMIT 1`,
		map[string]any{"conv": conversationID})
}

func (s *Store) GetLatestInTurn(ctx context.Context, conversationID string, turnIndex int) (storage.MessageNode, bool, error) {
	return s.latestMessageNode(ctx,
		`MATCH (n) WHERE (n:UserText OR n:AgentText) AND n.conversation_id = $conv AND n.turn_index = $turn
		 RETURN n.id, labels(n)[0] ORDER BY n.created_at DESC LIMIT 1`,
		map[string]any{"conv": conversationID, "turn": int64(turnIndex)})
}

func (s *Store) latestMessageNode(ctx context.Context, cypher string, params map[string]any) (storage.MessageNode, bool, error) {
	records, err := s.runner.executeRead(ctx, cypher, params)
	if err != nil {
		return storage.MessageNode{}, false, fmt.Errorf("neo4j: latest message node: %w", err)
	}
	if len(records) == 0 {
		return storage.MessageNode{}, false, nil
	}
	id, label := records[0].str(0), records[0].str(1)
	if label == "UserText" {
		ut, err := s.GetUserText(ctx, model.ID(id))
		if err != nil || ut == nil {
			return storage.MessageNode{}, false, err
		}
		return storage.MessageNode{Kind: storage.NodeKindUserText, UserText: ut}, true, nil
	}
	at, err := s.getAgentTextByID(ctx, model.ID(id))
	if err != nil || at == nil {
		return storage.MessageNode{}, false, err
	}
	return storage.MessageNode{Kind: storage.NodeKindAgentText, AgentText: at}, true, nil
}

func (s *Store) GetResourceByURI(ctx context.Context, uri string) (*model.Resource, error) {
	records, err := s.runner.executeRead(ctx,
		`MATCH (n:Resource {uri: $uri}) RETURN n.id, n.uri, n.current_content_hash, n.created_at, n.last_accessed_at`,
		map[string]any{"uri": uri})
	if err != nil {
		return nil, fmt.Errorf("neo4j: get resource: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	r := records[0]
	return &model.Resource{
		ID: model.ID(r.str(0)), URI: r.str(1), CurrentContentHash: r.str(2),
		CreatedAt: tsParse(r.str(3)), LastAccessedAt: tsParse(r.str(4)),
	}, nil
}

func (s *Store) GetResourceVersionByHash(ctx context.Context, uri, contentHash string) (*model.ResourceVersion, error) {
	records, err := s.runner.executeRead(ctx,
		`MATCH (n:ResourceVersion {uri: $uri, content_hash: $hash}) RETURN n.id, n.uri, n.content_hash, n.first_conversation_id, n.created_at, n.last_accessed_at`,
		map[string]any{"uri": uri, "hash": contentHash})
	if err != nil {
		return nil, fmt.Errorf("neo4j: get resource_version: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	r := records[0]
	return &model.ResourceVersion{
		ID: model.ID(r.str(0)), URI: r.str(1), ContentHash: r.str(2), FirstConversation: r.str(3),
		CreatedAt: tsParse(r.str(4)), LastAccessedAt: tsParse(r.str(5)),
	}, nil
}

func (s *Store) UpdateResourceHash(ctx context.Context, uri, contentHash string) error {
	return s.runner.executeWrite(ctx,
		`MATCH (n:Resource {uri: $uri}) SET n.current_content_hash = $hash, n.last_accessed_at = $now`,
		map[string]any{"uri": uri, "hash": contentHash, "now": tsFormat(time.Now().UTC())})
}

func (s *Store) UpdateLastAccessed(ctx context.Context, ids []model.ID) error {
	if len(ids) == 0 {
		return nil
	}
	idStrs := make([]any, len(ids))
	for i, id := range ids {
		idStrs[i] = string(id)
	}
	return s.runner.executeWrite(ctx,
		`MATCH (n) WHERE n.id IN $ids SET n.last_accessed_at = $now`,
		map[string]any{"ids": idStrs, "now": tsFormat(time.Now().UTC())})
}

func (s *Store) MaxTurnIndex(ctx context.Context, conversationID string) (int, error) {
	records, err := s.runner.executeRead(ctx,
		`MATCH (n) WHERE (n:UserText OR n:AgentText) AND n.conversation_id = $conv
		 RETURN max(n.turn_index)`,
		map[string]any{"conv": conversationID})
	if err != nil {
		return -1, fmt.Errorf("neo4j: max_turn_index: %w", err)
	}
	if len(records) == 0 || records[0].values[0] == nil {
		return -1, nil
	}
	return int(records[0].i64(0)), nil
}

func (s *Store) GetNodeContext(ctx context.Context, userTextID model.ID) (storage.NodeContext, error) {
	var result storage.NodeContext

	ut, err := s.GetUserText(ctx, userTextID)
	if err != nil || ut == nil {
		return result, err
	}
	result.UserText = ut

	records, err := s.runner.executeRead(ctx,
		`MATCH (u:UserText {id: $id})-[:MESSAGE]->(a:AgentText) RETURN a.id ORDER BY a.created_at ASC LIMIT 1`,
		map[string]any{"id": string(userTextID)})
	if err != nil {
		return result, fmt.Errorf("neo4j: get_node_context chain: %w", err)
	}
	if len(records) == 0 {
		return result, nil
	}

	at, err := s.getAgentTextByID(ctx, model.ID(records[0].str(0)))
	if err != nil || at == nil {
		return result, err
	}
	result.AgentText = at

	toolRecords, err := s.runner.executeRead(ctx,
		`MATCH (a:AgentText {id: $id})-[t:TOOL_USE]->(v:ResourceVersion)
		 OPTIONAL MATCH (v)-[:VERSION_OF]->(r:Resource)
		 RETURN t.tool_name, t.properties, v.id, v.uri, v.content_hash, v.first_conversation_id, v.created_at, v.last_accessed_at,
		        r.id, r.uri, r.current_content_hash, r.created_at, r.last_accessed_at
		 ORDER BY t.created_at ASC`,
		map[string]any{"id": string(at.ID)})
	if err != nil {
		return result, fmt.Errorf("neo4j: get_node_context tool_uses: %w", err)
	}

	for _, r := range toolRecords {
		tu := storage.ToolUseContext{ToolName: r.str(0), Properties: unmarshalProps(r.str(1))}
		if r.str(2) != "" {
			tu.ResourceVersion = &model.ResourceVersion{
				ID: model.ID(r.str(2)), URI: r.str(3), ContentHash: r.str(4), FirstConversation: r.str(5),
				CreatedAt: tsParse(r.str(6)), LastAccessedAt: tsParse(r.str(7)),
			}
		}
		if r.str(8) != "" {
			tu.Resource = &model.Resource{
				ID: model.ID(r.str(8)), URI: r.str(9), CurrentContentHash: r.str(10),
				CreatedAt: tsParse(r.str(11)), LastAccessedAt: tsParse(r.str(12)),
			}
		}
		result.ToolUses = append(result.ToolUses, tu)
	}
	return result, nil
}

func (s *Store) GetResourceConversations(ctx context.Context, uri string, q storage.ResourceConversationsQuery) ([]storage.ResourceConversationRow, error) {
	cypher := fmt.Sprintf(`
		MATCH (r:Resource {uri: $uri})<-[:VERSION_OF]-(:ResourceVersion)<-[:TOOL_USE]-(a:AgentText)
		OPTIONAL MATCH p = (u:UserText)-[:MESSAGE*1..%d]->(a)
		WITH a, u, p, CASE WHEN p IS NULL THEN 999999 ELSE length(p) END AS plen
		ORDER BY plen ASC
		WITH a, collect(u)[0] AS nearestUser
		WHERE nearestUser IS NOT NULL
		RETURN DISTINCT nearestUser.conversation_id, nearestUser.id, nearestUser.text,
		       a.id, a.text, nearestUser.created_at, nearestUser.last_accessed_at`, maxTraversalDepth)

	records, err := s.runner.executeRead(ctx, cypher, map[string]any{"uri": uri})
	if err != nil {
		return nil, fmt.Errorf("neo4j: get_resource_conversations: %w", err)
	}

	seen := make(map[string]bool)
	var out []storage.ResourceConversationRow
	for _, r := range records {
		convID := r.str(0)
		if q.ExcludeConversationID != "" && convID == q.ExcludeConversationID {
			continue
		}
		key := convID + "|" + r.str(1)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, storage.ResourceConversationRow{
			ConversationID: convID,
			UserTextID:     model.ID(r.str(1)),
			UserText:       r.str(2),
			AgentTextID:    model.ID(r.str(3)),
			AgentText:      r.str(4),
			CreatedAt:      tsParse(r.str(5)),
			LastAccessedAt: tsParse(r.str(6)),
		})
	}

	sortConversationRows(out, q.SortBy, q.SortOrder)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
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
	cypher := fmt.Sprintf(`
		MATCH (start {id: $id})
		CALL {
			WITH start
			MATCH p = (start)-[:MESSAGE*0..%d]->(n)
			RETURN n
			UNION
			WITH start
			RETURN start AS n
		}
		WITH DISTINCT n
		RETURN n.id, labels(n)[0], n.conversation_id, n.text, n.tool_uses, n.created_at
		ORDER BY n.created_at ASC`, maxDepth)

	records, err := s.runner.executeRead(ctx, cypher, map[string]any{"id": string(startID)})
	if err != nil {
		return nil, fmt.Errorf("neo4j: get_trajectory_nodes: %w", err)
	}

	var out []storage.TrajectoryNode
	for _, r := range records {
		label := r.str(1)
		if label != "UserText" && label != "AgentText" {
			continue
		}
		tn := storage.TrajectoryNode{
			ID: model.ID(r.str(0)), ConversationID: r.str(2), Text: r.str(3), CreatedAt: tsParse(r.str(5)),
		}
		if label == "UserText" {
			tn.Kind = storage.NodeKindUserText
		} else {
			tn.Kind = storage.NodeKindAgentText
			_ = json.Unmarshal([]byte(r.str(4)), &tn.ToolUses)
		}
		out = append(out, tn)
	}
	return out, nil
}

var _ storage.GraphStore = (*Store)(nil)
