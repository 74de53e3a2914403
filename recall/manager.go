package recall

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// SimpleManager is the SDK-provided Manager implementation: vector
// similarity retrieval plus lightweight filtering of what gets stored.
type SimpleManager struct {
	store    Store
	embedder Embedder
	config   *Config
}

// Config holds SimpleManager configuration.
type Config struct {
	// Enabled toggles recall on/off. Default: false (opt-in).
	Enabled bool

	// MinSimilarity is the minimum similarity for retrieval [0.0-1.0].
	// Tiny local models produce lower scores than hosted embedders.
	MinSimilarity float64

	// RetrieveLimit caps how many exchanges one retrieval returns.
	// Default: 5.
	RetrieveLimit int

	// MinExchangeLength skips storing exchanges whose user text is shorter
	// than this many characters (greetings, bare "yes"). Default: 12.
	MinExchangeLength int
}

// DefaultConfig returns sensible defaults for the local SDK.
var DefaultConfig = &Config{
	Enabled:           false,
	MinSimilarity:     0.3,
	RetrieveLimit:     5,
	MinExchangeLength: 12,
}

// NewSimpleManager creates a SimpleManager. A nil config uses defaults.
func NewSimpleManager(store Store, embedder Embedder, config *Config) *SimpleManager {
	if config == nil {
		config = DefaultConfig
	}
	if config.RetrieveLimit <= 0 {
		config.RetrieveLimit = 5
	}
	return &SimpleManager{store: store, embedder: embedder, config: config}
}

// Retrieve finds relevant past exchanges and returns a formatted block.
func (m *SimpleManager) Retrieve(ctx context.Context, threadID string, userMessage string) (string, error) {
	if !m.config.Enabled {
		return "", nil
	}

	embedding, err := m.embedder.Embed(ctx, userMessage)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}

	memories, err := m.store.Query(ctx, threadID, embedding, m.config.RetrieveLimit)
	if err != nil {
		return "", fmt.Errorf("query store: %w", err)
	}

	log.Printf("[RECALL] Retrieved %d memories for query: %q", len(memories), truncate(userMessage, 50))
	if len(memories) == 0 {
		return "", nil
	}

	return m.formatMemories(memories, threadID, userMessage), nil
}

// RecordExchange stores an exchange worth keeping.
func (m *SimpleManager) RecordExchange(ctx context.Context, threadID string, userText, assistantText string) error {
	if !m.config.Enabled {
		return nil
	}
	if !m.worthStoring(userText) {
		log.Printf("[RECALL] Skipping trivial exchange")
		return nil
	}

	mem := NewExchangeMemory(threadID, userText, assistantText)

	embedding, err := m.embedder.Embed(ctx, mem.FormatForEmbedding())
	if err != nil {
		return fmt.Errorf("embed exchange: %w", err)
	}
	mem.SetEmbedding(embedding)

	if err := m.store.Store(ctx, mem); err != nil {
		return fmt.Errorf("store exchange: %w", err)
	}

	log.Printf("[RECALL] Stored exchange for thread %s", threadID)
	return nil
}

// worthStoring filters exchanges. Short user turns carry no preference
// signal worth indexing.
func (m *SimpleManager) worthStoring(userText string) bool {
	min := m.config.MinExchangeLength
	if min <= 0 {
		min = DefaultConfig.MinExchangeLength
	}
	return len(strings.TrimSpace(userText)) >= min
}

func (m *SimpleManager) formatMemories(memories []Memory, threadID, query string) string {
	var parts []string
	parts = append(parts, "=== RELEVANT PAST EXCHANGES ===\n")

	maxLengthPerMemory := 2000 / len(memories)
	if maxLengthPerMemory < 100 {
		maxLengthPerMemory = 100
	}

	for i, mem := range memories {
		formatted := mem.Format(FormatContext{
			ThreadID:  threadID,
			Query:     query,
			MaxLength: maxLengthPerMemory,
		})
		parts = append(parts, fmt.Sprintf("%d. %s\n", i+1, formatted))
	}

	return strings.Join(parts, "\n")
}
