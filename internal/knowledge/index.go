// Package knowledge provides the embedding-similarity index the replies are
// grounded on: offline build, startup load, and top-k retrieval.
package knowledge

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"

	"guestmail/internal/domain"

	_ "modernc.org/sqlite"
)

// DefaultTopK is the number of snippets retrieved per inquiry.
const DefaultTopK = 3

// ErrIndexUnavailable means the persisted index could not be loaded.
var ErrIndexUnavailable = errors.New("knowledge index unavailable")

// Passage is one embedded chunk of a knowledge document.
type Passage struct {
	Source     string
	ChunkIndex int
	Content    string
	Embedding  []float32
}

type scoredPassage struct {
	Passage
	norm float64
}

// Index holds every passage in memory. It is immutable after Load.
type Index struct {
	passages []scoredPassage
	dims     int
	model    string
	embedder domain.Embedder
	logger   *slog.Logger
}

// NewIndex builds an index from passages already in memory. All embeddings
// must share one dimension.
func NewIndex(model string, passages []Passage, embedder domain.Embedder, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(passages) == 0 {
		return nil, fmt.Errorf("%w: no passages", ErrIndexUnavailable)
	}
	dims := len(passages[0].Embedding)
	ix := &Index{
		passages: make([]scoredPassage, 0, len(passages)),
		dims:     dims,
		model:    model,
		embedder: embedder,
		logger:   logger,
	}
	for i, p := range passages {
		if len(p.Embedding) != dims || dims == 0 {
			return nil, fmt.Errorf("%w: passage %d has %d dimensions, want %d", ErrIndexUnavailable, i, len(p.Embedding), dims)
		}
		ix.passages = append(ix.passages, scoredPassage{Passage: p, norm: norm(p.Embedding)})
	}
	return ix, nil
}

// Load reads the index file written by Builder. Any failure is reported as
// ErrIndexUnavailable.
func Load(ctx context.Context, path string, embedder domain.Embedder, logger *slog.Logger) (*Index, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=query_only(1)")
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIndexUnavailable, path, err)
	}
	defer db.Close()

	var model string
	err = db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'model'`).Scan(&model)
	if err != nil {
		return nil, fmt.Errorf("%w: read meta: %v", ErrIndexUnavailable, err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT source, chunk_index, content, embedding FROM passages ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: read passages: %v", ErrIndexUnavailable, err)
	}
	defer rows.Close()

	var passages []Passage
	for rows.Next() {
		var p Passage
		var blob []byte
		if err := rows.Scan(&p.Source, &p.ChunkIndex, &p.Content, &blob); err != nil {
			return nil, fmt.Errorf("%w: scan passage: %v", ErrIndexUnavailable, err)
		}
		if p.Embedding, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("%w: passage %d: %v", ErrIndexUnavailable, len(passages), err)
		}
		passages = append(passages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	ix, err := NewIndex(model, passages, embedder, logger)
	if err != nil {
		return nil, err
	}
	if named, ok := embedder.(modelNamer); ok && named.Model() != model {
		return nil, fmt.Errorf("%w: index built with %q, embedder uses %q (rebuild the index)",
			ErrIndexUnavailable, model, named.Model())
	}
	ix.logger.Info("knowledge index loaded", "path", path, "passages", len(passages), "dims", ix.dims, "model", model)
	return ix, nil
}

// modelNamer is implemented by embedders that report their model.
type modelNamer interface {
	Model() string
}

// Verify embeds a short text and checks the vector matches the index
// dimension. Queries against a mismatched index can never succeed.
func (ix *Index) Verify(ctx context.Context) error {
	vecs, err := ix.embedder.Embed(ctx, []string{"index check"})
	if err != nil {
		return fmt.Errorf("%w: embedder: %v", ErrIndexUnavailable, err)
	}
	if len(vecs) != 1 || len(vecs[0]) != ix.dims {
		got := 0
		if len(vecs) > 0 {
			got = len(vecs[0])
		}
		return fmt.Errorf("%w: embedder returns %d dimensions, index has %d (rebuild the index)",
			ErrIndexUnavailable, got, ix.dims)
	}
	return nil
}

func (ix *Index) Len() int { return len(ix.passages) }
func (ix *Index) Model() string { return ix.model }
func (ix *Index) Dimensions() int { return ix.dims }

// Retrieve embeds the query and returns the k passages with the highest
// cosine similarity. Ties keep load order, so an unchanged index always
// returns the same sequence for the same query.
func (ix *Index) Retrieve(ctx context.Context, query string, k int) ([]domain.Snippet, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	vecs, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors, want 1", len(vecs))
	}
	q := vecs[0]
	if len(q) != ix.dims {
		return nil, fmt.Errorf("embed query: %d dimensions, index has %d", len(q), ix.dims)
	}
	qn := norm(q)

	hits := make([]domain.Snippet, len(ix.passages))
	for i, p := range ix.passages {
		hits[i] = domain.Snippet{
			Source:     p.Source,
			ChunkIndex: p.ChunkIndex,
			Content:    p.Content,
			Score:      cosine(q, qn, p.Embedding, p.norm),
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (an * bn)
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}
