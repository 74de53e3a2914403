// Package executor calls the external restaurant service over HTTP. It
// implements the engine's Searcher and CollectionCreator contracts and
// caches search responses briefly so rapid follow-ups within a thread
// don't hammer the upstream.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/tablyhq/tably-go-sdk/core"
)

// Config configures the HTTP executor.
type Config struct {
	// BaseURL is the restaurant service root, e.g. "http://localhost:8000".
	// Required.
	BaseURL string

	// QueryType selects the upstream ranking mode: "current", "trending",
	// or "popular". Default: "current".
	QueryType string

	// Timeout bounds each upstream call. Default: 15s.
	Timeout time.Duration

	// CacheTTL is how long search responses stay cached. Zero disables
	// the cache.
	CacheTTL time.Duration
}

// HTTPExecutor is the production Searcher/CollectionCreator backed by the
// restaurant service's REST API.
type HTTPExecutor struct {
	baseURL    string
	queryType  string
	httpClient *http.Client
	cache      *ristretto.Cache
	cacheTTL   time.Duration
}

// New creates an HTTPExecutor.
func New(cfg Config) (*HTTPExecutor, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("BaseURL is required")
	}
	if cfg.QueryType == "" {
		cfg.QueryType = "current"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	e := &HTTPExecutor{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		queryType: cfg.QueryType,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cacheTTL: cfg.CacheTTL,
	}

	if cfg.CacheTTL > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 10_000,
			MaxCost:     1 << 20,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("create search cache: %w", err)
		}
		e.cache = cache
	}

	return e, nil
}

type searchResponse struct {
	Restaurants []restaurantPayload `json:"restaurants"`
	Error       string              `json:"error"`
}

type restaurantPayload struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Cuisine     string  `json:"cuisine"`
	Location    string  `json:"location"`
	Rating      float64 `json:"rating"`
	PriceRange  string  `json:"price_range"`
	Description string  `json:"description"`
}

// Search queries the restaurant service. Results for an identical
// query/location pair are served from cache within CacheTTL.
func (e *HTTPExecutor) Search(ctx context.Context, query, location string) ([]core.RestaurantRecord, error) {
	cacheKey := query + "|" + location
	if e.cache != nil {
		if cached, found := e.cache.Get(cacheKey); found {
			if records, ok := cached.([]core.RestaurantRecord); ok {
				log.Printf("[EXECUTOR] Search cache hit for %q", cacheKey)
				return records, nil
			}
		}
	}

	params := url.Values{}
	params.Set("type", e.queryType)
	params.Set("place", formatPlace(location))
	params.Set("query", query)

	endpoint := e.baseURL + "/api/questions?" + params.Encode()
	log.Printf("[EXECUTOR] GET %s", endpoint)

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, core.NewError(core.KindProvider, "create search request", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, core.NewError(core.KindProvider, "restaurant service unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewError(core.KindProvider, "read search response", err)
	}
	if err := statusError(resp.StatusCode, body); err != nil {
		return nil, err
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, core.NewError(core.KindProvider, "decode search response", err)
	}
	if parsed.Error != "" {
		return nil, core.NewError(core.KindProvider, parsed.Error, nil)
	}

	records := make([]core.RestaurantRecord, 0, len(parsed.Restaurants))
	for i, r := range parsed.Restaurants {
		id := r.ID
		if id == "" {
			// Upstream omits ids in some deployments; synthesize stable ones
			// from position so collection references still work.
			id = fmt.Sprintf("%s-%d", slugify(r.Name), i+1)
		}
		records = append(records, core.RestaurantRecord{
			ID:          id,
			Name:        r.Name,
			Cuisine:     r.Cuisine,
			Location:    r.Location,
			Rating:      r.Rating,
			PriceRange:  r.PriceRange,
			Description: r.Description,
		})
	}

	if e.cache != nil {
		e.cache.SetWithTTL(cacheKey, records, int64(len(records)+1), e.cacheTTL)
		// Flush the write buffer so an immediate follow-up search hits.
		e.cache.Wait()
	}

	log.Printf("[EXECUTOR] Search returned %d restaurants", len(records))
	return records, nil
}

type collectionRequest struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	IsPublic      bool     `json:"isPublic"`
	Tags          []string `json:"tags"`
	RestaurantIDs []string `json:"restaurantIds"`
}

type collectionResponse struct {
	ID           string `json:"id"`
	CollectionID string `json:"collection_id"`
	Name         string `json:"name"`
	Error        string `json:"error"`
}

// CreateCollection creates a named collection from restaurant ids. The
// auth token goes out as a Bearer header; the upstream rejects missing or
// bad tokens with 401/403.
func (e *HTTPExecutor) CreateCollection(ctx context.Context, name string, restaurantIDs []string, authToken string) (string, error) {
	reqBody := collectionRequest{
		Name:          name,
		Description:   fmt.Sprintf("Collection of %d restaurants", len(restaurantIDs)),
		IsPublic:      true,
		Tags:          []string{},
		RestaurantIDs: restaurantIDs,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", core.NewError(core.KindProvider, "marshal collection request", err)
	}

	endpoint := e.baseURL + "/api/collections"
	log.Printf("[EXECUTOR] POST %s (%d restaurants)", endpoint, len(restaurantIDs))

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", core.NewError(core.KindProvider, "create collection request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		if !strings.HasPrefix(authToken, "Bearer ") {
			authToken = "Bearer " + authToken
		}
		req.Header.Set("Authorization", authToken)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", core.NewError(core.KindProvider, "restaurant service unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", core.NewError(core.KindProvider, "read collection response", err)
	}
	if err := statusError(resp.StatusCode, body); err != nil {
		return "", err
	}

	var parsed collectionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", core.NewError(core.KindProvider, "decode collection response", err)
	}
	if parsed.Error != "" {
		return "", core.NewError(core.KindProvider, parsed.Error, nil)
	}

	id := parsed.ID
	if id == "" {
		id = parsed.CollectionID
	}
	if id == "" {
		id = parsed.Name
	}
	log.Printf("[EXECUTOR] Collection created: %s", id)
	return id, nil
}

// Close releases the search cache.
func (e *HTTPExecutor) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}

func statusError(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return core.NewError(core.KindAuth,
			fmt.Sprintf("restaurant service rejected credentials (status %d)", status), nil)
	default:
		detail := strings.TrimSpace(string(body))
		if len(detail) > 200 {
			detail = detail[:200]
		}
		return core.NewError(core.KindProvider,
			fmt.Sprintf("restaurant service returned status %d: %s", status, detail), nil)
	}
}

// placeAliases normalizes the city names users actually type to the forms
// the upstream indexes.
var placeAliases = map[string]string{
	"delhi":     "New Delhi",
	"new delhi": "New Delhi",
	"bombay":    "Mumbai",
	"bengaluru": "Bangalore",
	"calcutta":  "Kolkata",
	"madras":    "Chennai",
}

func formatPlace(place string) string {
	if place == "" {
		return "New Delhi"
	}
	lower := strings.ToLower(strings.TrimSpace(place))
	if canonical, ok := placeAliases[lower]; ok {
		return canonical
	}
	words := strings.Fields(lower)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "restaurant"
	}
	return b.String()
}
