package domain

import "context"

// Snippet is one passage returned by the knowledge index.
type Snippet struct {
	Source     string  `json:"source"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// Retriever returns the k passages most relevant to a free-text query, best first.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Snippet, error)
}

// Embedder turns texts into vectors. All vectors returned by one Embedder
// share the same dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
