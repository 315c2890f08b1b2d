package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"guestmail/internal/domain"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS passages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	source      TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	content     TEXT NOT NULL,
	embedding   BLOB NOT NULL
);
`

// Document is a named body of knowledge text before chunking.
type Document struct {
	Name    string
	Content string
}

// Builder chunks documents, embeds the chunks and writes the index file.
type Builder struct {
	embedder  domain.Embedder
	model     string
	chunkSize int
	overlap   int
	batchSize int
	logger    *slog.Logger
}

type BuilderConfig struct {
	Embedder  domain.Embedder
	Model     string // recorded in the index for diagnostics
	ChunkSize int    // words per chunk (default: 200)
	Overlap   int    // overlapping words between chunks (default: 20)
	BatchSize int    // chunks per embedding call (default: 64)
	Logger    *slog.Logger
}

func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 200
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = 20
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Builder{
		embedder:  cfg.Embedder,
		model:     cfg.Model,
		chunkSize: cfg.ChunkSize,
		overlap:   cfg.Overlap,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger,
	}
}

// BuildStats summarizes one index build.
type BuildStats struct {
	Documents  int
	Passages   int
	Dimensions int
}

// Build replaces the contents of the index at path with the embedded
// chunks of docs. The old contents survive if any step fails.
func (b *Builder) Build(ctx context.Context, path string, docs []Document) (BuildStats, error) {
	var passages []Passage
	for _, d := range docs {
		for i, chunk := range b.chunkText(d.Content) {
			passages = append(passages, Passage{Source: d.Name, ChunkIndex: i, Content: chunk})
		}
	}
	if len(passages) == 0 {
		return BuildStats{}, fmt.Errorf("no text to index in %d document(s)", len(docs))
	}

	for start := 0; start < len(passages); start += b.batchSize {
		end := min(start+b.batchSize, len(passages))
		texts := make([]string, 0, end-start)
		for _, p := range passages[start:end] {
			texts = append(texts, p.Content)
		}
		vecs, err := b.embedder.Embed(ctx, texts)
		if err != nil {
			return BuildStats{}, fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
		}
		if len(vecs) != len(texts) {
			return BuildStats{}, fmt.Errorf("embed chunks %d-%d: got %d vectors", start, end, len(vecs))
		}
		for i, v := range vecs {
			passages[start+i].Embedding = v
		}
		b.logger.Debug("embedded batch", "from", start, "to", end)
	}

	// Validates dimensions before anything is written.
	ix, err := NewIndex(b.model, passages, nil, b.logger)
	if err != nil {
		return BuildStats{}, err
	}

	if err := b.write(ctx, path, passages); err != nil {
		return BuildStats{}, err
	}

	stats := BuildStats{Documents: len(docs), Passages: len(passages), Dimensions: ix.dims}
	b.logger.Info("knowledge index built",
		"path", path, "documents", stats.Documents, "passages", stats.Passages, "dims", stats.Dimensions)
	return stats, nil
}

func (b *Builder) write(ctx context.Context, path string, passages []Passage) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, indexSchema); err != nil {
		return fmt.Errorf("index schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{`DELETE FROM passages`, `DELETE FROM meta`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear index: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('model', ?), ('dimensions', ?)`,
		b.model, fmt.Sprint(len(passages[0].Embedding))); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}

	ins, err := tx.PrepareContext(ctx,
		`INSERT INTO passages (source, chunk_index, content, embedding) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer ins.Close()

	for _, p := range passages {
		if _, err := ins.ExecContext(ctx, p.Source, p.ChunkIndex, p.Content, encodeVector(p.Embedding)); err != nil {
			return fmt.Errorf("insert passage %s#%d: %w", p.Source, p.ChunkIndex, err)
		}
	}

	return tx.Commit()
}

// chunkText splits text into overlapping chunks of approximately chunkSize words.
func (b *Builder) chunkText(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := b.chunkSize - b.overlap
	if step <= 0 {
		step = b.chunkSize
	}

	var chunks []string
	for i := 0; i < len(words); i += step {
		end := min(i+b.chunkSize, len(words))
		chunks = append(chunks, strings.Join(words[i:end], " "))
		if end >= len(words) {
			break
		}
	}
	return chunks
}
