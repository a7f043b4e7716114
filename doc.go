// Package agentgraph is a persistent memory layer for AI agents: it records
// conversation turns as a typed, append-only knowledge graph and gives every
// file, URL, or other addressable resource a stable identity across
// versions and conversations, content-addressed by a hash of what was last
// read or written.
//
// Two engines sit on top of a pair of pluggable stores:
//
//   - ingest turns a stream of role-tagged messages into graph and vector
//     mutations, including the resource-versioning procedure that gives a
//     tool's file reads and writes a shared identity keyed by URI.
//   - retrieve answers hybrid dense+lexical queries over that graph, expands
//     a single result into its full turn context, looks up every
//     conversation that touched a given resource, and reconstructs the
//     ordered trajectory starting at any user turn.
//
// Storage is split across a GraphStore (typed nodes and edges) and a
// VectorStore (the hybrid retrieval index), each with an embedded SQLite
// reference implementation and an alternate backend (Neo4j, pgvector) for
// deployments that already run one of those.
//
//	db, err := agentgraph.Open(ctx, cfg, embedder)
//	_, err = db.AddMessage(ctx, conversationID, msg)
//	results, err := db.Search(ctx, "what did we decide about retries?", db.DefaultRetrieval())
package agentgraph
