package agentgraph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lookatitude/agentgraph/config"
	"github.com/lookatitude/agentgraph/embed"
	"github.com/lookatitude/agentgraph/extract"
	"github.com/lookatitude/agentgraph/ingest"
	"github.com/lookatitude/agentgraph/model"
	"github.com/lookatitude/agentgraph/retrieve"
	"github.com/lookatitude/agentgraph/storage"
	"github.com/lookatitude/agentgraph/storage/graph/neo4j"
	"github.com/lookatitude/agentgraph/storage/graph/sqlitegraph"
	"github.com/lookatitude/agentgraph/storage/vector/pgvector"
	"github.com/lookatitude/agentgraph/storage/vector/sqlitevec"
)

// DB is an open agentgraph database: a connected (GraphStore, VectorStore)
// pair plus the ingest and retrieve engines built over them.
type DB struct {
	cfg    config.Config
	graph  storage.GraphStore
	vector storage.VectorStore

	Ingest   *ingest.Engine
	Retrieve *retrieve.Engine
}

// Open connects the graph and vector backends named in cfg, initializes
// their schemas, and wires the ingestion and retrieval engines. Unknown
// backend or reranker names fail here, not on first use.
func Open(ctx context.Context, cfg config.Config, embedder embed.Embedder) (*DB, error) {
	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}

	graphStore, err := newGraphStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := graphStore.Connect(ctx); err != nil {
		return nil, storage.WrapStoreError(err, "agentgraph.Open.graph_connect", storage.ErrCodeStorageFailed)
	}
	if err := graphStore.InitializeSchema(ctx); err != nil {
		return nil, storage.WrapStoreError(err, "agentgraph.Open.graph_schema", storage.ErrCodeStorageFailed)
	}

	vectorStore, err := newVectorStore(cfg)
	if err != nil {
		_ = graphStore.Close(ctx)
		return nil, err
	}
	if err := vectorStore.Connect(ctx); err != nil {
		_ = graphStore.Close(ctx)
		return nil, storage.WrapStoreError(err, "agentgraph.Open.vector_connect", storage.ErrCodeStorageFailed)
	}
	if err := vectorStore.InitializeSchema(ctx); err != nil {
		_ = graphStore.Close(ctx)
		_ = vectorStore.Close(ctx)
		return nil, storage.WrapStoreError(err, "agentgraph.Open.vector_schema", storage.ErrCodeStorageFailed)
	}

	root := uriRoot(cfg)
	extractor, err := extract.New("default", root)
	if err != nil {
		_ = graphStore.Close(ctx)
		_ = vectorStore.Close(ctx)
		return nil, storage.WrapStoreError(err, "agentgraph.Open.extractor", storage.ErrCodeConfiguration)
	}

	return &DB{
		cfg:      cfg,
		graph:    graphStore,
		vector:   vectorStore,
		Ingest:   ingest.New(graphStore, vectorStore, embedder, extractor, root),
		Retrieve: retrieve.New(graphStore, vectorStore, embedder),
	}, nil
}

// Close releases both backends. Both are closed even if the first fails;
// errors are joined.
func (db *DB) Close(ctx context.Context) error {
	graphErr := db.graph.Close(ctx)
	vectorErr := db.vector.Close(ctx)
	if graphErr != nil && vectorErr != nil {
		return fmt.Errorf("agentgraph: close graph: %v; close vector: %w", graphErr, vectorErr)
	}
	if graphErr != nil {
		return fmt.Errorf("agentgraph: close graph: %w", graphErr)
	}
	if vectorErr != nil {
		return fmt.Errorf("agentgraph: close vector: %w", vectorErr)
	}
	return nil
}

// DefaultRetrieval returns the retrieval defaults configured at Open, for
// callers to copy and override selected fields.
func (db *DB) DefaultRetrieval() config.RetrievalConfig {
	return db.cfg.DefaultRetrieval
}

// AddMessage is a thin pass-through to the ingest engine.
func (db *DB) AddMessage(ctx context.Context, conversationID string, msg model.Message) (map[string]model.ID, error) {
	return db.Ingest.AddMessage(ctx, conversationID, msg)
}

// ImportTrace is a thin pass-through to the ingest engine.
func (db *DB) ImportTrace(ctx context.Context, conversationID string, messages []model.Message) ([]map[string]model.ID, error) {
	return db.Ingest.ImportTrace(ctx, conversationID, messages)
}

// Search is a thin pass-through to the retrieval engine.
func (db *DB) Search(ctx context.Context, query string, rcfg config.RetrievalConfig) ([]retrieve.SearchResult, error) {
	return db.Retrieve.Search(ctx, query, rcfg)
}

// GetContext is a thin pass-through to the retrieval engine.
func (db *DB) GetContext(ctx context.Context, nodeID model.ID) (retrieve.ContextResult, error) {
	return db.Retrieve.GetContext(ctx, nodeID)
}

// GetConversationsForResource is a thin pass-through to the retrieval
// engine.
func (db *DB) GetConversationsForResource(ctx context.Context, uri string, rcfg config.RetrievalConfig) ([]retrieve.ConversationResult, error) {
	return db.Retrieve.GetConversationsForResource(ctx, uri, rcfg)
}

// GetTrajectory is a thin pass-through to the retrieval engine.
func (db *DB) GetTrajectory(ctx context.Context, userTextID model.ID, rcfg config.RetrievalConfig) ([]retrieve.TrajectoryStep, error) {
	return db.Retrieve.GetTrajectory(ctx, userTextID, rcfg)
}

func newGraphStore(cfg config.Config) (storage.GraphStore, error) {
	switch cfg.GraphBackend {
	case "", "sqlitegraph":
		store, err := sqlitegraph.New(sqlitegraph.Config{
			Path:      filepath.Join(cfg.Home, "graph", "agentgraph.db"),
			Namespace: cfg.Namespace,
		})
		if err != nil {
			return nil, storage.WrapStoreError(err, "agentgraph.newGraphStore", storage.ErrCodeConfiguration)
		}
		return store, nil

	case "neo4j":
		store, err := neo4j.New(neo4j.Config{
			URI:       cfg.Neo4j.URI,
			Username:  cfg.Neo4j.Username,
			Password:  cfg.Neo4j.Password,
			Database:  cfg.Neo4j.Database,
			Namespace: cfg.Namespace,
		})
		if err != nil {
			return nil, storage.WrapStoreError(err, "agentgraph.newGraphStore", storage.ErrCodeConfiguration)
		}
		return store, nil

	default:
		return nil, storage.NewStoreError("agentgraph.newGraphStore", storage.ErrCodeConfiguration,
			fmt.Errorf("unknown graph backend %q", cfg.GraphBackend))
	}
}

func newVectorStore(cfg config.Config) (storage.VectorStore, error) {
	switch cfg.VectorBackend {
	case "", "sqlitevec":
		store, err := sqlitevec.New(sqlitevec.Config{
			Path:     filepath.Join(cfg.Home, "vector", "agentgraph.db"),
			Reranker: cfg.Reranker,
		})
		if err != nil {
			return nil, storage.WrapStoreError(err, "agentgraph.newVectorStore", storage.ErrCodeConfiguration)
		}
		return store, nil

	case "pgvector":
		store, err := pgvector.New(pgvector.Config{
			DSN:       cfg.Postgres.DSN,
			TableName: cfg.Postgres.TableName,
			Dimension: cfg.EmbeddingDimensions,
			Reranker:  cfg.Reranker,
		})
		if err != nil {
			return nil, storage.WrapStoreError(err, "agentgraph.newVectorStore", storage.ErrCodeConfiguration)
		}
		return store, nil

	default:
		return nil, storage.NewStoreError("agentgraph.newVectorStore", storage.ErrCodeConfiguration,
			fmt.Errorf("unknown vector backend %q", cfg.VectorBackend))
	}
}

// uriRoot derives the canonicalization root from cfg.Mode: "project" scopes
// resource URIs to the current working directory (making the graph
// portable across machines for the same checkout); any other mode
// (including the "global" default) canonicalizes to absolute paths.
func uriRoot(cfg config.Config) string {
	if cfg.Mode != "project" {
		return ""
	}
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return wd
}
