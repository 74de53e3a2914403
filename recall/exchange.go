package recall

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ExchangeMemory stores one user/assistant exchange. This is the
// SDK-provided Memory implementation; production systems can add fact
// extraction on top.
type ExchangeMemory struct {
	id        string
	threadID  string
	createdAt time.Time
	embedding []float32
	metadata  map[string]interface{}

	UserText      string
	AssistantText string
}

// NewExchangeMemory creates an ExchangeMemory for a thread.
func NewExchangeMemory(threadID, userText, assistantText string) *ExchangeMemory {
	return &ExchangeMemory{
		id:            uuid.New().String(),
		threadID:      threadID,
		createdAt:     time.Now(),
		metadata:      map[string]interface{}{},
		UserText:      userText,
		AssistantText: assistantText,
	}
}

// NewExchangeMemoryFromStorage rebuilds an ExchangeMemory from stored
// data. Used by Store implementations when deserializing.
func NewExchangeMemoryFromStorage(
	id string,
	threadID string,
	createdAt time.Time,
	embedding []float32,
	userText string,
	assistantText string,
	metadata map[string]interface{},
) *ExchangeMemory {
	return &ExchangeMemory{
		id:            id,
		threadID:      threadID,
		createdAt:     createdAt,
		embedding:     embedding,
		metadata:      metadata,
		UserText:      userText,
		AssistantText: assistantText,
	}
}

func (m *ExchangeMemory) ID() string       { return m.id }
func (m *ExchangeMemory) ThreadID() string { return m.threadID }
func (m *ExchangeMemory) Type() string     { return "exchange" }

func (m *ExchangeMemory) Content() interface{} {
	return map[string]interface{}{
		"user":      m.UserText,
		"assistant": m.AssistantText,
	}
}

func (m *ExchangeMemory) Metadata() map[string]interface{} { return m.metadata }
func (m *ExchangeMemory) CreatedAt() time.Time             { return m.createdAt }
func (m *ExchangeMemory) Embedding() []float32             { return m.embedding }
func (m *ExchangeMemory) SetEmbedding(emb []float32)       { m.embedding = emb }

// Format renders the exchange for prompt injection, truncated to fit.
func (m *ExchangeMemory) Format(ctx FormatContext) string {
	var parts []string
	if m.UserText != "" {
		parts = append(parts, fmt.Sprintf("User: %s", truncate(m.UserText, ctx.MaxLength/2)))
	}
	if m.AssistantText != "" {
		parts = append(parts, fmt.Sprintf("Assistant: %s", truncate(m.AssistantText, ctx.MaxLength/2)))
	}
	return strings.Join(parts, "\n")
}

// FormatForEmbedding returns the text the embedder sees.
func (m *ExchangeMemory) FormatForEmbedding() string {
	return fmt.Sprintf("User: %s\nAssistant: %s", m.UserText, m.AssistantText)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
