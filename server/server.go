// Package server exposes the conversation engine over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tablyhq/tably-go-sdk/core"
	"github.com/tablyhq/tably-go-sdk/engine"
	"github.com/tablyhq/tably-go-sdk/executor"
	"github.com/tablyhq/tably-go-sdk/memory"
	"github.com/tablyhq/tably-go-sdk/model"
	"github.com/tablyhq/tably-go-sdk/recall"
	"github.com/tablyhq/tably-go-sdk/recall/embedder/mock"
	chromemstore "github.com/tablyhq/tably-go-sdk/recall/store/chromem"
)

// Config configures the server.
type Config struct {
	// Addr is the listen address. Default: ":8080".
	Addr string

	// AnthropicKey is the Anthropic API key. Required.
	AnthropicKey string

	// RestaurantURL is the restaurant service base URL. Required.
	RestaurantURL string

	// Model overrides the language model id.
	Model string

	// SearchCacheTTL caches identical searches for this long. Default: 60s.
	SearchCacheTTL time.Duration

	// EnableRecall turns on long-term exchange memory backed by an
	// in-process vector store.
	EnableRecall bool
}

// Server serves conversational turns over HTTP and WebSocket.
type Server struct {
	engine   *engine.Engine
	addr     string
	mux      *http.ServeMux
	upgrader websocket.Upgrader
}

// New wires the full stack from config: HTTP executor, Anthropic model,
// thread store, and optionally recall.
func New(cfg Config) (*Server, error) {
	if cfg.AnthropicKey == "" {
		return nil, fmt.Errorf("AnthropicKey is required")
	}
	if cfg.RestaurantURL == "" {
		return nil, fmt.Errorf("RestaurantURL is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.SearchCacheTTL == 0 {
		cfg.SearchCacheTTL = 60 * time.Second
	}

	exec, err := executor.New(executor.Config{
		BaseURL:  cfg.RestaurantURL,
		CacheTTL: cfg.SearchCacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}

	mdl, err := model.New(model.Config{
		APIKey: cfg.AnthropicKey,
		Model:  cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("create model client: %w", err)
	}

	opts := []engine.Option{engine.WithExtractor(mdl)}
	if cfg.EnableRecall {
		store, err := chromemstore.New()
		if err != nil {
			return nil, fmt.Errorf("create recall store: %w", err)
		}
		recallCfg := *recall.DefaultConfig
		recallCfg.Enabled = true
		opts = append(opts, engine.WithRecall(
			recall.NewSimpleManager(store, mock.New(), &recallCfg)))
	}

	eng := engine.New(memory.NewStore(), exec, exec, mdl, opts...)
	return NewWithEngine(eng, cfg.Addr), nil
}

// NewWithEngine builds a server around an existing engine. Used by tests
// and callers that assemble their own collaborators.
func NewWithEngine(eng *engine.Engine, addr string) *Server {
	s := &Server{
		engine: eng,
		addr:   addr,
		mux:    http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.mux.HandleFunc("/query", s.handleQuery)
	s.mux.HandleFunc("/history", s.handleHistory)
	s.mux.HandleFunc("/clear", s.handleClear)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ws", s.handleWS)
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

// Start blocks serving HTTP on the configured address.
func (s *Server) Start() error {
	log.Printf("[SERVER] Listening on %s", s.addr)
	return http.ListenAndServe(s.addr, s.mux)
}

type queryRequest struct {
	ThreadID  string `json:"thread_id"`
	Message   string `json:"message"`
	AuthToken string `json:"auth_token,omitempty"`
}

type queryResponse struct {
	Success       bool             `json:"success"`
	Message       string           `json:"message"`
	ThreadID      string           `json:"thread_id"`
	CommandType   string           `json:"command_type,omitempty"`
	Restaurants   []restaurantJSON `json:"restaurants,omitempty"`
	ResponseCount int              `json:"response_count"`
	CollectionID  string           `json:"collection_id,omitempty"`
	Error         string           `json:"error,omitempty"`
	Timestamp     string           `json:"timestamp"`
}

type restaurantJSON struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Cuisine     string  `json:"cuisine,omitempty"`
	Location    string  `json:"location,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
	PriceRange  string  `json:"price_range,omitempty"`
	Description string  `json:"description,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("", "invalid JSON body"))
		return
	}
	if req.AuthToken == "" {
		req.AuthToken = bearerToken(r)
	}

	resp, status := s.processTurn(r.Context(), req)
	writeJSON(w, status, resp)
}

// processTurn runs one turn and maps the outcome to a wire response plus
// HTTP status. Shared by the HTTP and WebSocket paths.
func (s *Server) processTurn(ctx context.Context, req queryRequest) (queryResponse, int) {
	result, err := s.engine.ProcessTurn(ctx, engine.TurnRequest{
		ThreadID:  req.ThreadID,
		Text:      req.Message,
		AuthToken: req.AuthToken,
	})
	if err != nil {
		return errorResponse(req.ThreadID, core.UserMessage(err)), statusForKind(core.KindOf(err))
	}

	resp := queryResponse{
		Success:       true,
		Message:       result.Message,
		ThreadID:      result.ThreadID,
		CommandType:   string(result.Intent),
		Restaurants:   toRestaurantJSON(result.Restaurants),
		ResponseCount: len(result.Restaurants),
		CollectionID:  result.CollectionID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	return resp, http.StatusOK
}

type historyResponse struct {
	ThreadID string        `json:"thread_id"`
	Messages []messageJSON `json:"messages"`
}

type messageJSON struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	threadID := r.URL.Query().Get("thread_id")
	if threadID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("", "thread_id is required"))
		return
	}

	history := s.engine.History(threadID)
	resp := historyResponse{ThreadID: threadID, Messages: make([]messageJSON, 0, len(history))}
	for _, msg := range history {
		resp.Messages = append(resp.Messages, messageJSON{
			Role:      string(msg.Role),
			Text:      msg.Text,
			CreatedAt: msg.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ThreadID string `json:"thread_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ThreadID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("", "thread_id is required"))
		return
	}

	s.engine.Clear(req.ThreadID)
	log.Printf("[SERVER] Cleared thread %s", req.ThreadID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"thread_id": req.ThreadID,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWS runs the query loop over a WebSocket: one queryRequest in, one
// queryResponse out. Errors come back in-band so the connection survives
// failed turns.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[SERVER] WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	log.Printf("[SERVER] WebSocket connected: %s", r.RemoteAddr)

	for {
		var req queryRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[SERVER] WebSocket read error: %v", err)
			}
			return
		}

		resp, _ := s.processTurn(r.Context(), req)
		if err := conn.WriteJSON(resp); err != nil {
			log.Printf("[SERVER] WebSocket write error: %v", err)
			return
		}
	}
}

func toRestaurantJSON(records []core.RestaurantRecord) []restaurantJSON {
	if len(records) == 0 {
		return nil
	}
	out := make([]restaurantJSON, len(records))
	for i, r := range records {
		out[i] = restaurantJSON{
			ID:          r.ID,
			Name:        r.Name,
			Cuisine:     r.Cuisine,
			Location:    r.Location,
			Rating:      r.Rating,
			PriceRange:  r.PriceRange,
			Description: r.Description,
		}
	}
	return out
}

func errorResponse(threadID, message string) queryResponse {
	return queryResponse{
		Success:   false,
		ThreadID:  threadID,
		Error:     message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func statusForKind(kind core.ErrorKind) int {
	switch kind {
	case core.KindInput:
		return http.StatusBadRequest
	case core.KindAuth:
		return http.StatusUnauthorized
	case core.KindModel:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	return strings.TrimPrefix(auth, "Bearer ")
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[SERVER] Encode response failed: %v", err)
	}
}
