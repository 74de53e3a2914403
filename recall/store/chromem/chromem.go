// Package chromem backs recall with chromem-go, a pure Go embedded vector
// database.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/tablyhq/tably-go-sdk/recall"
)

// ChromemStore wraps chromem-go for exchange storage. Each thread gets its
// own collection for namespace isolation.
type ChromemStore struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

// New creates a new chromem-based store.
func New() (*ChromemStore, error) {
	return &ChromemStore{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (s *ChromemStore) getOrCreateCollection(threadID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[threadID]
	s.mu.RUnlock()
	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := s.collections[threadID]; exists {
		return col, nil
	}

	name := fmt.Sprintf("thread_%s", threadID)
	if threadID == "" {
		name = "global"
	}

	col, err := s.db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	s.collections[threadID] = col
	return col, nil
}

// Store saves a memory with its embedding.
func (s *ChromemStore) Store(ctx context.Context, mem recall.Memory) error {
	col, err := s.getOrCreateCollection(mem.ThreadID())
	if err != nil {
		return err
	}

	log.Printf("[CHROMEM] Storing memory: id=%s, thread=%s, type=%s",
		mem.ID(), mem.ThreadID(), mem.Type())

	contentBytes, err := json.Marshal(mem.Content())
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}

	metadata := map[string]string{
		"type":       mem.Type(),
		"thread_id":  mem.ThreadID(),
		"created_at": mem.CreatedAt().Format(time.RFC3339),
	}
	for k, v := range mem.Metadata() {
		if str, ok := v.(string); ok {
			metadata[k] = str
		} else if bytes, err := json.Marshal(v); err == nil {
			metadata[k] = string(bytes)
		}
	}

	doc := chromem.Document{
		ID:        mem.ID(),
		Content:   string(contentBytes),
		Embedding: mem.Embedding(),
		Metadata:  metadata,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Query retrieves memories by vector similarity, highest first.
func (s *ChromemStore) Query(ctx context.Context, threadID string, embedding []float32, limit int) ([]recall.Memory, error) {
	col, err := s.getOrCreateCollection(threadID)
	if err != nil {
		return nil, err
	}

	where := map[string]string{"thread_id": threadID}

	// chromem-go requires nResults <= collection size; back off until the
	// query fits or the collection turns out to be empty.
	var results []chromem.Result
	for currentLimit := limit; currentLimit >= 1; currentLimit-- {
		results, err = col.QueryEmbedding(ctx, embedding, currentLimit, where, nil)
		if err == nil {
			break
		}
		if isInsufficientDocsError(err) {
			if currentLimit == 1 {
				return nil, nil
			}
			continue
		}
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	var memories []recall.Memory
	for i, result := range results {
		mem, err := deserialize(result)
		if err != nil {
			log.Printf("[CHROMEM] Skipping result #%d: %v", i+1, err)
			continue
		}
		memories = append(memories, mem)
	}
	return memories, nil
}

// Close releases resources. chromem-go keeps everything in memory.
func (s *ChromemStore) Close() error { return nil }

func deserialize(result chromem.Result) (recall.Memory, error) {
	if memType := result.Metadata["type"]; memType != "exchange" {
		return nil, fmt.Errorf("unknown memory type: %s", memType)
	}

	var content map[string]interface{}
	if err := json.Unmarshal([]byte(result.Content), &content); err != nil {
		return nil, fmt.Errorf("unmarshal content: %w", err)
	}

	userText, _ := content["user"].(string)
	assistantText, _ := content["assistant"].(string)
	createdAt, _ := time.Parse(time.RFC3339, result.Metadata["created_at"])

	metadata := make(map[string]interface{})
	for k, v := range result.Metadata {
		switch k {
		case "type", "thread_id", "created_at":
		default:
			metadata[k] = v
		}
	}

	return recall.NewExchangeMemoryFromStorage(
		result.ID,
		result.Metadata["thread_id"],
		createdAt,
		result.Embedding,
		userText,
		assistantText,
		metadata,
	), nil
}

func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
