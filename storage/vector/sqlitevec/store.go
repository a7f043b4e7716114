// Package sqlitevec is the embedded reference VectorStore backend: a plain
// SQLite table of BLOB-encoded float32 vectors, paired with an FTS5 virtual
// table for the lexical side, fused through the rerank package.
// A sqlite-vec loadable extension (the vec0 virtual table) would give the
// dense side native ANN search; this backend instead computes cosine
// similarity directly in Go over rows read from a normal table, so the only
// native requirement is FTS5 support in the mattn/go-sqlite3 build (build
// tag sqlite_fts5).
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/lookatitude/agentgraph/internal/telemetry"
	"github.com/lookatitude/agentgraph/model"
	"github.com/lookatitude/agentgraph/rerank"
	"github.com/lookatitude/agentgraph/storage"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures a Store.
type Config struct {
	// Path is the SQLite database file, or ":memory:".
	Path string
	// Reranker names the registered rerank.Reranker used to fuse the dense
	// and lexical sides. Defaults to "rrf".
	Reranker string
}

// Store is the embedded reference VectorStore.
type Store struct {
	cfg      Config
	db       *sql.DB
	reranker rerank.Reranker
	logger   *telemetry.Logger
}

// New builds a Store. Call Connect before use.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitevec: path is required")
	}
	name := cfg.Reranker
	if name == "" {
		name = "rrf"
	}
	reranker, err := rerank.New(name)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: %w", err)
	}
	return &Store{cfg: cfg, reranker: reranker, logger: telemetry.NewLogger(nil)}, nil
}

func (s *Store) Connect(ctx context.Context) error {
	db, err := sql.Open("sqlite3", s.cfg.Path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		s.logger.LogStorage(ctx, "sqlitevec", "connect", err)
		return fmt.Errorf("sqlitevec: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		s.logger.LogStorage(ctx, "sqlitevec", "connect", err)
		return fmt.Errorf("sqlitevec: ping: %w", err)
	}
	s.db = db
	s.logger.LogStorage(ctx, "sqlitevec", "connect", nil)
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.logger.LogStorage(ctx, "sqlitevec", "close", err)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS vectors (
	node_id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	text TEXT NOT NULL,
	vector BLOB NOT NULL,
	created_at TEXT NOT NULL,
	last_accessed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vectors_conversation ON vectors(conversation_id);
CREATE VIRTUAL TABLE IF NOT EXISTS vectors_fts USING fts5(text, content='vectors', content_rowid='rowid');
`

func (s *Store) InitializeSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("sqlitevec: initialize schema: %w", err)
	}
	return nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

func (s *Store) Add(ctx context.Context, nodeID model.ID, text string, vector []float32, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitevec: begin add: %w", err)
	}
	defer tx.Rollback()

	now := tsFormat(time.Now().UTC())
	res, err := tx.ExecContext(ctx,
		`INSERT INTO vectors (node_id, conversation_id, text, vector, created_at, last_accessed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(nodeID), conversationID, text, encodeVector(vector), now, now)
	if err != nil {
		return fmt.Errorf("sqlitevec: insert vector: %w", err)
	}
	rowid, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlitevec: last insert id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO vectors_fts(rowid, text) VALUES (?, ?)`, rowid, text); err != nil {
		return fmt.Errorf("sqlitevec: insert fts: %w", err)
	}
	return tx.Commit()
}

func tsFormat(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func tsParse(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

type rowMeta struct {
	text           string
	conversationID string
	createdAt      time.Time
}

// Search performs a hybrid dense+lexical query. The dense side is a
// brute-force cosine scan, appropriate for the embedded reference
// backend's expected scale; other backends may index it.
func (s *Store) Search(ctx context.Context, queryVector []float32, queryText string, limit int, excludeConversationID string, vectorWeight float64) ([]storage.VectorSearchResult, error) {
	meta := make(map[string]rowMeta)

	denseCandidates, err := s.denseRanking(ctx, queryVector, excludeConversationID, meta)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: dense ranking: %w", err)
	}
	lexicalCandidates, err := s.lexicalRanking(ctx, queryText, excludeConversationID, meta)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: lexical ranking: %w", err)
	}

	candidates := mergeCandidates(denseCandidates, lexicalCandidates)
	scored := s.reranker.Combine(candidates, vectorWeight)

	out := make([]storage.VectorSearchResult, 0, limit)
	for _, c := range scored {
		m, ok := meta[string(c.NodeID)]
		if !ok {
			continue
		}
		out = append(out, storage.VectorSearchResult{
			NodeID:         c.NodeID,
			Text:           m.text,
			ConversationID: m.conversationID,
			Score:          c.Score,
			CreatedAt:      m.createdAt,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// denseRankEntry is an intermediate (node id, cosine score) pair before rank
// assignment.
type denseRankEntry struct {
	nodeID string
	score  float64
}

func (s *Store) denseRanking(ctx context.Context, queryVector []float32, excludeConversationID string, meta map[string]rowMeta) (map[string]rerank.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT node_id, conversation_id, text, vector, created_at FROM vectors`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []denseRankEntry
	for rows.Next() {
		var nodeID, convID, text, createdAt string
		var vecBytes []byte
		if err := rows.Scan(&nodeID, &convID, &text, &vecBytes, &createdAt); err != nil {
			return nil, err
		}
		if excludeConversationID != "" && convID == excludeConversationID {
			continue
		}
		meta[nodeID] = rowMeta{text: text, conversationID: convID, createdAt: tsParse(createdAt)}
		score := cosineSimilarity(queryVector, decodeVector(vecBytes))
		entries = append(entries, denseRankEntry{nodeID: nodeID, score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].score > entries[j].score })

	out := make(map[string]rerank.Candidate, len(entries))
	for i, e := range entries {
		out[e.nodeID] = rerank.Candidate{NodeID: model.ID(e.nodeID), DenseRank: i, DenseScore: e.score, LexicalRank: -1}
	}
	return out, nil
}

// sanitizeFTSQuery reduces free text to an FTS5 MATCH expression of
// alphanumeric tokens OR'd together, avoiding syntax errors from
// punctuation in user queries.
func sanitizeFTSQuery(text string) string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

func (s *Store) lexicalRanking(ctx context.Context, queryText, excludeConversationID string, meta map[string]rowMeta) (map[string]rerank.Candidate, error) {
	match := sanitizeFTSQuery(queryText)
	out := make(map[string]rerank.Candidate)
	if match == "" {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT v.node_id, v.conversation_id, v.text, v.created_at, bm25(vectors_fts) AS rank
		FROM vectors_fts
		JOIN vectors v ON v.rowid = vectors_fts.rowid
		WHERE vectors_fts MATCH ?
		ORDER BY rank ASC
		LIMIT 500`, match)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rankIdx := 0
	for rows.Next() {
		var nodeID, convID, text, createdAt string
		var bm25Score float64
		if err := rows.Scan(&nodeID, &convID, &text, &createdAt, &bm25Score); err != nil {
			return nil, err
		}
		if excludeConversationID != "" && convID == excludeConversationID {
			continue
		}
		if _, ok := meta[nodeID]; !ok {
			meta[nodeID] = rowMeta{text: text, conversationID: convID, createdAt: tsParse(createdAt)}
		}
		// bm25() in SQLite returns a non-positive score where more negative is
		// a better match; transform to a positive, higher-is-better score.
		lexScore := 1.0 / (1.0 + math.Abs(bm25Score))
		out[nodeID] = rerank.Candidate{NodeID: model.ID(nodeID), DenseRank: -1, LexicalRank: rankIdx, LexicalScore: lexScore}
		rankIdx++
	}
	return out, rows.Err()
}

func mergeCandidates(dense, lexical map[string]rerank.Candidate) []rerank.Candidate {
	merged := make(map[string]rerank.Candidate, len(dense)+len(lexical))
	for id, c := range dense {
		merged[id] = c
	}
	for id, lc := range lexical {
		if dc, ok := merged[id]; ok {
			dc.LexicalRank = lc.LexicalRank
			dc.LexicalScore = lc.LexicalScore
			merged[id] = dc
		} else {
			merged[id] = lc
		}
	}
	out := make([]rerank.Candidate, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	return out
}

func (s *Store) UpdateLastAccessed(ctx context.Context, nodeID model.ID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE vectors SET last_accessed_at = ? WHERE node_id = ?`,
		tsFormat(time.Now().UTC()), string(nodeID))
	if err != nil {
		return fmt.Errorf("sqlitevec: update last_accessed: %w", err)
	}
	return nil
}

func (s *Store) DeleteByConversation(ctx context.Context, conversationID string) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT rowid FROM vectors WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return 0, fmt.Errorf("sqlitevec: select for delete: %w", err)
	}
	var rowids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		rowids = append(rowids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(rowids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlitevec: begin delete: %w", err)
	}
	defer tx.Rollback()

	for _, id := range rowids {
		if _, err := tx.ExecContext(ctx, `INSERT INTO vectors_fts(vectors_fts, rowid, text) VALUES ('delete', ?, (SELECT text FROM vectors WHERE rowid = ?))`, id, id); err != nil {
			return 0, fmt.Errorf("sqlitevec: delete fts row: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return 0, fmt.Errorf("sqlitevec: delete vectors: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlitevec: commit delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

var _ storage.VectorStore = (*Store)(nil)
