package executor_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tablyhq/tably-go-sdk/core"
	"github.com/tablyhq/tably-go-sdk/executor"
)

func newExecutor(t *testing.T, baseURL string, cacheTTL time.Duration) *executor.HTTPExecutor {
	t.Helper()
	e, err := executor.New(executor.Config{BaseURL: baseURL, CacheTTL: cacheTTL})
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestSearch_ParsesResponse(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/questions" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		gotQuery = map[string]string{
			"type":  r.URL.Query().Get("type"),
			"place": r.URL.Query().Get("place"),
			"query": r.URL.Query().Get("query"),
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"restaurants": []map[string]interface{}{
				{"id": "abc", "name": "Bukhara", "cuisine": "indian", "rating": 4.7},
				{"name": "Karim's", "cuisine": "mughlai"},
			},
		})
	}))
	defer srv.Close()

	e := newExecutor(t, srv.URL, 0)
	records, err := e.Search(context.Background(), "butter chicken", "delhi")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if gotQuery["type"] != "current" {
		t.Errorf("Expected type=current, got %q", gotQuery["type"])
	}
	if gotQuery["place"] != "New Delhi" {
		t.Errorf("Expected place normalized to New Delhi, got %q", gotQuery["place"])
	}
	if gotQuery["query"] != "butter chicken" {
		t.Errorf("Query not forwarded: %q", gotQuery["query"])
	}

	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].ID != "abc" || records[0].Rating != 4.7 {
		t.Errorf("First record not parsed: %+v", records[0])
	}
	// Missing id gets a synthesized stable one
	if records[1].ID == "" {
		t.Error("Expected synthesized id for record without one")
	}
}

func TestSearch_DefaultPlace(t *testing.T) {
	var gotPlace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPlace = r.URL.Query().Get("place")
		json.NewEncoder(w).Encode(map[string]interface{}{"restaurants": []interface{}{}})
	}))
	defer srv.Close()

	e := newExecutor(t, srv.URL, 0)
	if _, err := e.Search(context.Background(), "pizza", ""); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if gotPlace != "New Delhi" {
		t.Errorf("Empty location should default to New Delhi, got %q", gotPlace)
	}
}

func TestSearch_ServerErrorIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := newExecutor(t, srv.URL, 0)
	_, err := e.Search(context.Background(), "pizza", "")
	if err == nil {
		t.Fatal("Expected an error")
	}
	if core.KindOf(err) != core.KindProvider {
		t.Errorf("Expected provider error, got %s", core.KindOf(err))
	}
}

func TestSearch_CacheHit(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		json.NewEncoder(w).Encode(map[string]interface{}{
			"restaurants": []map[string]interface{}{{"id": "r1", "name": "Place"}},
		})
	}))
	defer srv.Close()

	e := newExecutor(t, srv.URL, time.Minute)

	for i := 0; i < 3; i++ {
		records, err := e.Search(context.Background(), "pizza", "delhi")
		if err != nil {
			t.Fatalf("Search %d failed: %v", i, err)
		}
		if len(records) != 1 {
			t.Fatalf("Search %d: expected 1 record, got %d", i, len(records))
		}
	}
	if hits != 1 {
		t.Errorf("Expected 1 upstream hit for identical searches, got %d", hits)
	}

	// Different location misses
	if _, err := e.Search(context.Background(), "pizza", "mumbai"); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if hits != 2 {
		t.Errorf("Different location should miss the cache, got %d hits", hits)
	}
}

func TestCreateCollection_Success(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/collections" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "col-42"})
	}))
	defer srv.Close()

	e := newExecutor(t, srv.URL, 0)
	id, err := e.CreateCollection(context.Background(), "Date Night", []string{"r1", "r2"}, "tok")
	if err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}
	if id != "col-42" {
		t.Errorf("Expected col-42, got %q", id)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Expected Bearer prefix added, got %q", gotAuth)
	}
	if gotBody["name"] != "Date Night" {
		t.Errorf("Name not sent: %v", gotBody)
	}
	ids, _ := gotBody["restaurantIds"].([]interface{})
	if len(ids) != 2 || ids[0] != "r1" {
		t.Errorf("Restaurant ids not sent in order: %v", gotBody["restaurantIds"])
	}
}

func TestCreateCollection_AuthStatusMapping(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		e := newExecutor(t, srv.URL, 0)
		_, err := e.CreateCollection(context.Background(), "X", []string{"r1"}, "bad")
		if err == nil {
			t.Fatalf("Status %d: expected an error", status)
		}
		if core.KindOf(err) != core.KindAuth {
			t.Errorf("Status %d: expected auth error, got %s", status, core.KindOf(err))
		}
		srv.Close()
	}
}

func TestCreateCollection_ServerErrorIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "db down", http.StatusBadGateway)
	}))
	defer srv.Close()

	e := newExecutor(t, srv.URL, 0)
	_, err := e.CreateCollection(context.Background(), "X", []string{"r1"}, "tok")
	if err == nil {
		t.Fatal("Expected an error")
	}
	if core.KindOf(err) != core.KindProvider {
		t.Errorf("Expected provider error, got %s", core.KindOf(err))
	}
}
