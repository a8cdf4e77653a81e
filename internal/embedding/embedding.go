// Package embedding defines the capability interface the retrieval core
// depends on for turning text into vectors. The core is agnostic to the
// embedding provider and to the vector dimension, as long as the
// dimension is consistent within one index.
package embedding

import "context"

// Role distinguishes document-side from query-side embeddings for
// providers that encode them asymmetrically.
type Role string

const (
	RoleDocument Role = "document"
	RoleQuery    Role = "query"
)

// Embedder maps text to fixed-length float vectors.
type Embedder interface {
	Embed(ctx context.Context, text string, role Role) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, role Role) ([][]float32, error)
}
