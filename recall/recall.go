// Package recall provides long-term conversational memory for the
// restaurant assistant.
//
// The live thread memory (package memory) only keeps the most recent
// search snapshot; recall keeps a vector index of past exchanges so the
// assistant can surface things like "you liked the rooftop place in
// Bandra" across many turns. Exchanges are namespaced by thread id.
//
// Architecture:
//   - Store: vector storage backend (chromem-go for the local SDK)
//   - Embedder: text-to-vector conversion (mock for tests, ONNX behind the
//     `onnx` build tag for offline semantic search)
//   - Manager: decides what is worth keeping and how retrieved memories
//     are formatted for prompt injection
package recall

import (
	"context"
	"time"
)

// Memory is one stored item. Implementations control their own content
// structure and prompt formatting.
type Memory interface {
	ID() string
	ThreadID() string
	Type() string

	Content() interface{}
	Metadata() map[string]interface{}

	CreatedAt() time.Time

	Format(ctx FormatContext) string
	FormatForEmbedding() string
	Embedding() []float32
	SetEmbedding([]float32)
}

// FormatContext carries rendering constraints for Memory.Format.
type FormatContext struct {
	ThreadID  string
	Query     string
	MaxLength int
}

// Manager orchestrates recall. The engine is opinionated about WHEN to use
// it (retrieve before the model call, record after a successful turn); the
// Manager decides HOW: what to keep, what to return, how to format it.
type Manager interface {
	// Retrieve returns a formatted context block of past exchanges relevant
	// to the user's message, or "" when there is nothing useful.
	Retrieve(ctx context.Context, threadID string, userMessage string) (string, error)

	// RecordExchange stores one user/assistant exchange. Called after every
	// successfully committed turn; implementations filter out exchanges not
	// worth keeping.
	RecordExchange(ctx context.Context, threadID string, userText, assistantText string) error
}

// Store is the vector storage backend.
type Store interface {
	// Store saves a memory. The embedding must be set before calling.
	Store(ctx context.Context, mem Memory) error

	// Query returns memories for a thread sorted by similarity, highest
	// first.
	Query(ctx context.Context, threadID string, embedding []float32, limit int) ([]Memory, error)

	// Close releases resources.
	Close() error
}

// Embedder converts text to vectors. An implementation detail of Manager;
// the engine never sees it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
