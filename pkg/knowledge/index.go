package knowledge

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// SearchMetrics counts retrieval activity.
type SearchMetrics interface {
	RetrievalSearched()
	RetrievalTimedOut()
}

// Config holds index configuration.
type Config struct {
	CorpusDir string
	DBPath    string
	Logger    zerolog.Logger
	Embedder  EmbeddingProvider // optional; keyword-only search when nil
	Timeout   time.Duration     // per-search budget; empty results on overrun
	Metrics   SearchMetrics     // optional
}

// Index is an FTS5 (plus optional vector) index over the policy corpus.
type Index struct {
	db        *sql.DB
	corpusDir string
	logger    zerolog.Logger
	embedder  EmbeddingProvider
	timeout   time.Duration
	metrics   SearchMetrics
	watcher   *CorpusWatcher

	mu      sync.RWMutex
	isDirty bool
}

// NewIndex opens the index database and starts watching the corpus.
func NewIndex(cfg Config) (*Index, error) {
	if cfg.CorpusDir == "" {
		return nil, fmt.Errorf("corpus directory is required")
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_fts5=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	idx := &Index{
		db:        db,
		corpusDir: cfg.CorpusDir,
		logger:    cfg.Logger,
		embedder:  cfg.Embedder,
		timeout:   cfg.Timeout,
		metrics:   cfg.Metrics,
		isDirty:   true, // trigger initial sync
	}

	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize knowledge schema: %w", err)
	}

	watcher, err := NewCorpusWatcher(cfg.Logger, idx.MarkDirty)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create corpus watcher: %w", err)
	}
	if err := watcher.Watch(cfg.CorpusDir); err != nil {
		watcher.Stop()
		db.Close()
		return nil, fmt.Errorf("failed to watch corpus: %w", err)
	}
	idx.watcher = watcher

	idx.logger.Info().Str("corpus", cfg.CorpusDir).Msg("Knowledge index initialized")
	return idx, nil
}

func (idx *Index) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			path TEXT PRIMARY KEY,
			content_hash TEXT NOT NULL,
			indexed_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS passages (
			id TEXT PRIMARY KEY,
			doc_path TEXT NOT NULL,
			content TEXT NOT NULL,
			FOREIGN KEY (doc_path) REFERENCES documents(path) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_passages_doc ON passages(doc_path);

		CREATE VIRTUAL TABLE IF NOT EXISTS passages_fts USING fts5(
			passage_id UNINDEXED,
			content,
			tokenize='porter unicode61'
		);
	`
	if _, err := idx.db.Exec(schema); err != nil {
		return err
	}

	if idx.embedder != nil {
		vectorSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS passage_embeddings USING vec0(
				passage_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, idx.embedder.Dimension())
		if _, err := idx.db.Exec(vectorSchema); err != nil {
			return fmt.Errorf("failed to create vector table: %w", err)
		}
	}

	return nil
}

// MarkDirty schedules a resync before the next search.
func (idx *Index) MarkDirty() {
	idx.mu.Lock()
	idx.isDirty = true
	idx.mu.Unlock()
}

// Search returns up to k ranked passages. A search that exceeds the
// configured timeout returns an empty slice, never an error.
func (idx *Index) Search(ctx context.Context, query string, k int) ([]Passage, error) {
	if query == "" || k <= 0 {
		return []Passage{}, nil
	}
	if idx.metrics != nil {
		idx.metrics.RetrievalSearched()
	}

	idx.mu.RLock()
	dirty := idx.isDirty
	idx.mu.RUnlock()
	if dirty {
		if err := idx.Sync(); err != nil {
			idx.logger.Warn().Err(err).Msg("Corpus sync failed before search")
		}
	}

	searchCtx, cancel := context.WithTimeout(ctx, idx.timeout)
	defer cancel()

	results, err := idx.hybridSearch(searchCtx, query, k)
	if err != nil {
		if searchCtx.Err() != nil {
			idx.logger.Warn().Str("query", query).Msg("Knowledge search timed out")
			if idx.metrics != nil {
				idx.metrics.RetrievalTimedOut()
			}
			return []Passage{}, nil
		}
		return nil, err
	}
	return results, nil
}

func (idx *Index) hybridSearch(ctx context.Context, query string, k int) ([]Passage, error) {
	type scored struct {
		keyword float64
		vector  float64
	}
	scores := make(map[string]*scored)

	keywordHits, err := idx.keywordSearch(ctx, query, k*4)
	if err != nil {
		return nil, err
	}
	for id, s := range keywordHits {
		scores[id] = &scored{keyword: s}
	}

	if idx.embedder != nil {
		vectorHits, err := idx.vectorSearch(ctx, query, k*4)
		if err != nil {
			// Degrade to keyword-only unless the budget is spent.
			if ctx.Err() != nil {
				return nil, err
			}
			idx.logger.Warn().Err(err).Msg("Vector search failed, using keyword only")
		}
		for id, s := range vectorHits {
			if sc, ok := scores[id]; ok {
				sc.vector = s
			} else {
				scores[id] = &scored{vector: s}
			}
		}
	}

	ids := make([]string, 0, len(scores))
	combined := make(map[string]float64, len(scores))
	for id, sc := range scores {
		ids = append(ids, id)
		combined[id] = 0.3*sc.keyword + 0.7*sc.vector
	}
	sort.Slice(ids, func(i, j int) bool { return combined[ids[i]] > combined[ids[j]] })
	if len(ids) > k {
		ids = ids[:k]
	}

	passages := make([]Passage, 0, len(ids))
	for _, id := range ids {
		var source, content string
		err := idx.db.QueryRowContext(ctx,
			`SELECT doc_path, content FROM passages WHERE id = ?`, id).Scan(&source, &content)
		if err != nil {
			continue
		}
		passages = append(passages, Passage{Source: source, Content: content, Score: combined[id]})
	}
	return passages, nil
}

func (idx *Index) keywordSearch(ctx context.Context, query string, limit int) (map[string]float64, error) {
	match := ftsQuery(query)
	if match == "" {
		return map[string]float64{}, nil
	}

	rows, err := idx.db.QueryContext(ctx, `
		SELECT passage_id, bm25(passages_fts) AS score
		FROM passages_fts
		WHERE passages_fts MATCH ?
		ORDER BY score
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make(map[string]float64)
	var best float64
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, err
		}
		// BM25 scores are negative; flip and normalize against the best hit
		score = -score
		if score > best {
			best = score
		}
		results[id] = score
	}
	if best > 0 {
		for id := range results {
			results[id] /= best
		}
	}
	return results, rows.Err()
}

func (idx *Index) vectorSearch(ctx context.Context, query string, limit int) (map[string]float64, error) {
	embedding, err := idx.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	rows, err := idx.db.QueryContext(ctx, `
		SELECT passage_id, vec_distance_cosine(embedding, ?) AS distance
		FROM passage_embeddings
		ORDER BY distance ASC
		LIMIT ?
	`, string(embeddingJSON), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make(map[string]float64)
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, err
		}
		results[id] = 1.0 - distance
	}
	return results, rows.Err()
}

// Sync walks the corpus directory and reindexes changed documents.
func (idx *Index) Sync() error {
	idx.mu.Lock()
	idx.isDirty = false
	idx.mu.Unlock()

	start := time.Now()
	indexed := 0
	var existing []string

	err := filepath.WalkDir(idx.corpusDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".txt" {
			return nil
		}

		relPath, err := filepath.Rel(idx.corpusDir, path)
		if err != nil {
			return err
		}
		existing = append(existing, relPath)

		changed, err := idx.indexDocument(path, relPath)
		if err != nil {
			idx.logger.Warn().Str("doc", relPath).Err(err).Msg("Failed to index document")
			return nil
		}
		if changed {
			indexed++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk corpus: %w", err)
	}

	pruned, err := idx.pruneDeleted(existing)
	if err != nil {
		return err
	}

	if indexed > 0 || pruned > 0 {
		idx.logger.Info().
			Int("indexed", indexed).
			Int("pruned", pruned).
			Dur("duration", time.Since(start)).
			Msg("Corpus synced")
	}
	return nil
}

func (idx *Index) indexDocument(fullPath, relPath string) (bool, error) {
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return false, err
	}

	hash := sha256.Sum256(content)
	contentHash := hex.EncodeToString(hash[:])

	var storedHash string
	err = idx.db.QueryRow(`SELECT content_hash FROM documents WHERE path = ?`, relPath).Scan(&storedHash)
	if err == nil && storedHash == contentHash {
		return false, nil
	}
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}

	tx, err := idx.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	// Drop stale passages for this document
	rows, err := tx.Query(`SELECT id FROM passages WHERE doc_path = ?`, relPath)
	if err != nil {
		return false, err
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return false, err
		}
		stale = append(stale, id)
	}
	rows.Close()
	for _, id := range stale {
		if _, err := tx.Exec(`DELETE FROM passages_fts WHERE passage_id = ?`, id); err != nil {
			return false, err
		}
		if idx.embedder != nil {
			if _, err := tx.Exec(`DELETE FROM passage_embeddings WHERE passage_id = ?`, id); err != nil {
				return false, err
			}
		}
	}
	if _, err := tx.Exec(`DELETE FROM passages WHERE doc_path = ?`, relPath); err != nil {
		return false, err
	}

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO documents (path, content_hash, indexed_at) VALUES (?, ?, ?)`,
		relPath, contentHash, time.Now().Unix()); err != nil {
		return false, err
	}

	for _, chunk := range splitPassages(string(content)) {
		id := uuid.NewString()
		if _, err := tx.Exec(
			`INSERT INTO passages (id, doc_path, content) VALUES (?, ?, ?)`,
			id, relPath, chunk); err != nil {
			return false, err
		}
		if _, err := tx.Exec(
			`INSERT INTO passages_fts (passage_id, content) VALUES (?, ?)`,
			id, chunk); err != nil {
			return false, err
		}
		if idx.embedder != nil {
			if err := idx.storeEmbedding(tx, id, chunk); err != nil {
				idx.logger.Warn().Str("doc", relPath).Err(err).Msg("Failed to embed passage")
			}
		}
	}

	return true, tx.Commit()
}

func (idx *Index) storeEmbedding(tx *sql.Tx, passageID, content string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	embedding, err := idx.embedder.GenerateEmbedding(ctx, content)
	if err != nil {
		return err
	}
	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return err
	}
	_, err = tx.Exec(
		`INSERT INTO passage_embeddings (passage_id, embedding) VALUES (?, ?)`,
		passageID, string(embeddingJSON))
	return err
}

func (idx *Index) pruneDeleted(existing []string) (int, error) {
	keep := make(map[string]bool, len(existing))
	for _, p := range existing {
		keep[p] = true
	}

	rows, err := idx.db.Query(`SELECT path FROM documents`)
	if err != nil {
		return 0, err
	}
	var gone []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return 0, err
		}
		if !keep[path] {
			gone = append(gone, path)
		}
	}
	rows.Close()

	for _, path := range gone {
		prows, err := idx.db.Query(`SELECT id FROM passages WHERE doc_path = ?`, path)
		if err != nil {
			return 0, err
		}
		var ids []string
		for prows.Next() {
			var id string
			if err := prows.Scan(&id); err != nil {
				prows.Close()
				return 0, err
			}
			ids = append(ids, id)
		}
		prows.Close()

		for _, id := range ids {
			if _, err := idx.db.Exec(`DELETE FROM passages_fts WHERE passage_id = ?`, id); err != nil {
				return 0, err
			}
			if idx.embedder != nil {
				if _, err := idx.db.Exec(`DELETE FROM passage_embeddings WHERE passage_id = ?`, id); err != nil {
					return 0, err
				}
			}
		}
		if _, err := idx.db.Exec(`DELETE FROM passages WHERE doc_path = ?`, path); err != nil {
			return 0, err
		}
		if _, err := idx.db.Exec(`DELETE FROM documents WHERE path = ?`, path); err != nil {
			return 0, err
		}
	}

	return len(gone), nil
}

// Close stops the watcher and closes the database.
func (idx *Index) Close() error {
	if idx.watcher != nil {
		idx.watcher.Stop()
	}
	return idx.db.Close()
}

// ftsQuery turns free text into a safe FTS5 OR query.
func ftsQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + f + `"`
	}
	return strings.Join(quoted, " OR ")
}

// splitPassages chunks a document on blank lines, merging short
// paragraphs so passages stay retrieval-sized.
func splitPassages(content string) []string {
	paragraphs := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n\n")

	const minSize = 200
	const maxSize = 1600

	var passages []string
	var current strings.Builder

	flush := func() {
		text := strings.TrimSpace(current.String())
		if text != "" {
			passages = append(passages, text)
		}
		current.Reset()
	}

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len()+len(para) > maxSize && current.Len() > 0 {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		if current.Len() >= minSize {
			flush()
		}
	}
	flush()

	return passages
}
