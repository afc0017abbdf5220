package embedders

import "context"

// EmbedderProvider turns batches of texts into vectors. Implementations
// must return exactly one vector per input text or an error.
type EmbedderProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	Dimension() int

	ModelName() string
}
