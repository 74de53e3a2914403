package engine_test

import (
	"context"
	"strings"
	"testing"

	"github.com/tablyhq/tably-go-sdk/core"
	"github.com/tablyhq/tably-go-sdk/engine"
	"github.com/tablyhq/tably-go-sdk/memory"
)

// fakeSearcher returns queued errors first, then its fixed results.
type fakeSearcher struct {
	calls   int
	errs    []error
	results []core.RestaurantRecord
}

func (f *fakeSearcher) Search(ctx context.Context, query, location string) ([]core.RestaurantRecord, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.results, nil
}

type fakeCollections struct {
	calls    int
	errs     []error
	gotName  string
	gotIDs   []string
	gotToken string
}

func (f *fakeCollections) CreateCollection(ctx context.Context, name string, ids []string, authToken string) (string, error) {
	f.calls++
	f.gotName = name
	f.gotIDs = ids
	f.gotToken = authToken
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return "col-123", nil
}

type fakeCompleter struct {
	calls     int
	reply     string
	err       error
	gotSystem string
}

func (f *fakeCompleter) Complete(ctx context.Context, systemContext string, history []core.Message, userMessage string) (string, error) {
	f.calls++
	f.gotSystem = systemContext
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func newTestEngine(s *fakeSearcher, c *fakeCollections, m *fakeCompleter) *engine.Engine {
	return engine.New(memory.NewStore(), s, c, m)
}

func sampleResults() []core.RestaurantRecord {
	return []core.RestaurantRecord{
		{ID: "r1", Name: "Bukhara", Cuisine: "indian"},
		{ID: "r2", Name: "Karim's", Cuisine: "indian"},
	}
}

func providerErr() error {
	return core.NewError(core.KindProvider, "backend down", nil)
}

func TestProcessTurn_SearchHappyPath(t *testing.T) {
	searcher := &fakeSearcher{results: sampleResults()}
	completer := &fakeCompleter{reply: "Here are two great spots."}
	eng := newTestEngine(searcher, &fakeCollections{}, completer)

	result, err := eng.ProcessTurn(context.Background(), engine.TurnRequest{
		ThreadID: "t1",
		Text:     "best butter chicken in Delhi",
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}

	if result.Intent != core.IntentSearch {
		t.Errorf("Expected search intent, got %s", result.Intent)
	}
	if result.Message != "Here are two great spots." {
		t.Errorf("Unexpected message: %q", result.Message)
	}
	if len(result.Restaurants) != 2 {
		t.Fatalf("Expected 2 restaurants, got %d", len(result.Restaurants))
	}

	th := eng.Store().GetOrCreate("t1")
	history := th.History()
	if len(history) != 2 {
		t.Fatalf("Expected committed turn (2 messages), got %d", len(history))
	}
	snap, ok := th.Snapshot()
	if !ok {
		t.Fatal("Expected snapshot after search")
	}
	if len(snap.Results) != 2 || snap.Results[0].ID != "r1" {
		t.Errorf("Snapshot should hold results in order: %v", snap.Results)
	}
}

func TestProcessTurn_EmptyThreadIDGetsAssigned(t *testing.T) {
	eng := newTestEngine(&fakeSearcher{results: sampleResults()}, &fakeCollections{}, &fakeCompleter{reply: "ok"})

	result, err := eng.ProcessTurn(context.Background(), engine.TurnRequest{Text: "pizza places"})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if result.ThreadID == "" {
		t.Error("Expected a generated thread id")
	}
	if !eng.Store().Exists(result.ThreadID) {
		t.Error("Generated thread should exist in the store")
	}
}

func TestProcessTurn_EmptyInput(t *testing.T) {
	eng := newTestEngine(&fakeSearcher{}, &fakeCollections{}, &fakeCompleter{})

	_, err := eng.ProcessTurn(context.Background(), engine.TurnRequest{ThreadID: "t1", Text: "   "})
	if err == nil {
		t.Fatal("Expected an error for empty input")
	}
	if core.KindOf(err) != core.KindInput {
		t.Errorf("Expected input error, got %s", core.KindOf(err))
	}
	if !strings.Contains(core.UserMessage(err), "find restaurants") {
		t.Errorf("Empty input should return the help prompt, got %q", core.UserMessage(err))
	}
}

func TestProcessTurn_ModelFailureSkipsWriteBack(t *testing.T) {
	completer := &fakeCompleter{err: core.NewError(core.KindModel, "timeout", nil)}
	eng := newTestEngine(&fakeSearcher{results: sampleResults()}, &fakeCollections{}, completer)

	_, err := eng.ProcessTurn(context.Background(), engine.TurnRequest{
		ThreadID: "t1",
		Text:     "best pizza in Mumbai",
	})
	if err == nil {
		t.Fatal("Expected an error")
	}
	if core.KindOf(err) != core.KindModel {
		t.Errorf("Expected model error, got %s", core.KindOf(err))
	}

	th := eng.Store().GetOrCreate("t1")
	if got := len(th.History()); got != 0 {
		t.Errorf("Failed turn must leave the message log unchanged, got %d messages", got)
	}
	if _, ok := th.Snapshot(); ok {
		t.Error("Failed turn must not install a snapshot")
	}
}

func TestProcessTurn_ProviderRetriedOnce(t *testing.T) {
	searcher := &fakeSearcher{
		errs:    []error{providerErr(), nil},
		results: sampleResults(),
	}
	eng := newTestEngine(searcher, &fakeCollections{}, &fakeCompleter{reply: "found them"})

	_, err := eng.ProcessTurn(context.Background(), engine.TurnRequest{ThreadID: "t1", Text: "sushi places"})
	if err != nil {
		t.Fatalf("Expected retry to succeed: %v", err)
	}
	if searcher.calls != 2 {
		t.Errorf("Expected exactly 2 search calls, got %d", searcher.calls)
	}
}

func TestProcessTurn_ProviderFailsAfterRetry(t *testing.T) {
	searcher := &fakeSearcher{errs: []error{providerErr(), providerErr()}}
	eng := newTestEngine(searcher, &fakeCollections{}, &fakeCompleter{reply: "unused"})

	_, err := eng.ProcessTurn(context.Background(), engine.TurnRequest{ThreadID: "t1", Text: "sushi places"})
	if err == nil {
		t.Fatal("Expected an error")
	}
	if core.KindOf(err) != core.KindProvider {
		t.Errorf("Expected provider error, got %s", core.KindOf(err))
	}
	if searcher.calls != 2 {
		t.Errorf("Expected exactly 2 search calls (1 retry), got %d", searcher.calls)
	}
	if got := len(eng.Store().GetOrCreate("t1").History()); got != 0 {
		t.Errorf("Failed search must not commit, got %d messages", got)
	}
}

// runSearchTurn seeds a thread with one successful search.
func runSearchTurn(t *testing.T, eng *engine.Engine, threadID string) {
	t.Helper()
	_, err := eng.ProcessTurn(context.Background(), engine.TurnRequest{
		ThreadID: threadID,
		Text:     "best biryani in Hyderabad",
	})
	if err != nil {
		t.Fatalf("Seed search failed: %v", err)
	}
}

func TestProcessTurn_CollectionHappyPath(t *testing.T) {
	collections := &fakeCollections{}
	eng := newTestEngine(&fakeSearcher{results: sampleResults()}, collections, &fakeCompleter{reply: "ok"})
	runSearchTurn(t, eng, "t1")

	result, err := eng.ProcessTurn(context.Background(), engine.TurnRequest{
		ThreadID:  "t1",
		Text:      `create a collection called "Date Night"`,
		AuthToken: "token-abc",
	})
	if err != nil {
		t.Fatalf("Collection turn failed: %v", err)
	}

	if result.Intent != core.IntentCollectionCreate {
		t.Errorf("Expected collection intent, got %s", result.Intent)
	}
	if result.CollectionID != "col-123" {
		t.Errorf("Expected collection id, got %q", result.CollectionID)
	}
	if collections.gotName != "Date Night" {
		t.Errorf("Expected explicit name, got %q", collections.gotName)
	}
	if len(collections.gotIDs) != 2 || collections.gotIDs[0] != "r1" || collections.gotIDs[1] != "r2" {
		t.Errorf("Candidate ids should be in cached order, got %v", collections.gotIDs)
	}
	if collections.gotToken != "token-abc" {
		t.Errorf("Auth token not forwarded, got %q", collections.gotToken)
	}
	if got := len(eng.Store().GetOrCreate("t1").History()); got != 4 {
		t.Errorf("Expected 4 messages (2 turns), got %d", got)
	}
}

func TestProcessTurn_CollectionDerivedName(t *testing.T) {
	collections := &fakeCollections{}
	eng := newTestEngine(&fakeSearcher{results: sampleResults()}, collections, &fakeCompleter{reply: "ok"})
	runSearchTurn(t, eng, "t1")

	_, err := eng.ProcessTurn(context.Background(), engine.TurnRequest{
		ThreadID:  "t1",
		Text:      "save these as a collection",
		AuthToken: "token-abc",
	})
	if err != nil {
		t.Fatalf("Collection turn failed: %v", err)
	}
	if collections.gotName == "" {
		t.Fatal("Expected a derived collection name")
	}
}

func TestProcessTurn_CollectionUnsatisfiable(t *testing.T) {
	collections := &fakeCollections{}
	eng := newTestEngine(&fakeSearcher{}, collections, &fakeCompleter{})

	result, err := eng.ProcessTurn(context.Background(), engine.TurnRequest{
		ThreadID:  "t1",
		Text:      "create a collection called Favorites",
		AuthToken: "token-abc",
	})
	if err != nil {
		t.Fatalf("Unsatisfiable collection should not be an error: %v", err)
	}
	if collections.calls != 0 {
		t.Error("Collection provider must not be invoked when unsatisfiable")
	}
	if !strings.Contains(result.Message, "search") {
		t.Errorf("Expected guidance to search first, got %q", result.Message)
	}
	// Surfaced as a message means the exchange is a completed turn
	if got := len(eng.Store().GetOrCreate("t1").History()); got != 2 {
		t.Errorf("Unsatisfiable turn should still commit, got %d messages", got)
	}
}

func TestProcessTurn_CollectionMissingAuth(t *testing.T) {
	collections := &fakeCollections{}
	eng := newTestEngine(&fakeSearcher{results: sampleResults()}, collections, &fakeCompleter{reply: "ok"})
	runSearchTurn(t, eng, "t1")

	_, err := eng.ProcessTurn(context.Background(), engine.TurnRequest{
		ThreadID: "t1",
		Text:     "save these as a collection",
	})
	if err == nil {
		t.Fatal("Expected auth error")
	}
	if core.KindOf(err) != core.KindAuth {
		t.Errorf("Expected auth error, got %s", core.KindOf(err))
	}
	if collections.calls != 0 {
		t.Error("Provider must not be called without a token")
	}
	if got := len(eng.Store().GetOrCreate("t1").History()); got != 2 {
		t.Errorf("Auth failure must not commit the turn, got %d messages", got)
	}
}

func TestProcessTurn_AuthErrorNeverRetried(t *testing.T) {
	collections := &fakeCollections{
		errs: []error{core.NewError(core.KindAuth, "token expired", nil)},
	}
	eng := newTestEngine(&fakeSearcher{results: sampleResults()}, collections, &fakeCompleter{reply: "ok"})
	runSearchTurn(t, eng, "t1")

	_, err := eng.ProcessTurn(context.Background(), engine.TurnRequest{
		ThreadID:  "t1",
		Text:      "save these as a collection",
		AuthToken: "stale-token",
	})
	if err == nil {
		t.Fatal("Expected auth error")
	}
	if core.KindOf(err) != core.KindAuth {
		t.Errorf("Expected auth error, got %s", core.KindOf(err))
	}
	if collections.calls != 1 {
		t.Errorf("Auth failures must not be retried, got %d calls", collections.calls)
	}
}

func TestProcessTurn_FollowUp(t *testing.T) {
	completer := &fakeCompleter{reply: "They're all open until midnight."}
	eng := newTestEngine(&fakeSearcher{results: sampleResults()}, &fakeCollections{}, completer)
	runSearchTurn(t, eng, "t1")

	result, err := eng.ProcessTurn(context.Background(), engine.TurnRequest{
		ThreadID: "t1",
		Text:     "are those open late?",
	})
	if err != nil {
		t.Fatalf("Follow-up failed: %v", err)
	}
	if result.Intent != core.IntentFollowUp {
		t.Errorf("Expected follow-up intent, got %s", result.Intent)
	}
	if len(result.Restaurants) != 2 {
		t.Errorf("Follow-up should carry the cached results, got %d", len(result.Restaurants))
	}
	if !strings.Contains(completer.gotSystem, "Previous restaurant search:") {
		t.Error("Follow-up context should include the cached search")
	}
}

func TestProcessTurn_HelpAndUnknownCommit(t *testing.T) {
	eng := newTestEngine(&fakeSearcher{}, &fakeCollections{}, &fakeCompleter{})

	help, err := eng.ProcessTurn(context.Background(), engine.TurnRequest{ThreadID: "t1", Text: "hello"})
	if err != nil {
		t.Fatalf("Help turn failed: %v", err)
	}
	if help.Intent != core.IntentHelp {
		t.Errorf("Expected help intent, got %s", help.Intent)
	}

	unknown, err := eng.ProcessTurn(context.Background(), engine.TurnRequest{ThreadID: "t1", Text: "fix my taxes"})
	if err != nil {
		t.Fatalf("Unknown turn failed: %v", err)
	}
	if unknown.Intent != core.IntentUnknown {
		t.Errorf("Expected unknown intent, got %s", unknown.Intent)
	}

	if got := len(eng.History("t1")); got != 4 {
		t.Errorf("Canned turns should commit, got %d messages", got)
	}
}

func TestEngine_HistoryAndClear(t *testing.T) {
	eng := newTestEngine(&fakeSearcher{results: sampleResults()}, &fakeCollections{}, &fakeCompleter{reply: "ok"})

	if got := eng.History("missing"); got != nil {
		t.Errorf("History for unknown thread should be nil, got %v", got)
	}

	runSearchTurn(t, eng, "t1")
	if got := len(eng.History("t1")); got != 2 {
		t.Fatalf("Expected 2 messages, got %d", got)
	}

	eng.Clear("t1")
	if got := len(eng.History("t1")); got != 0 {
		t.Errorf("Expected empty history after clear, got %d", got)
	}
	if !eng.Store().Exists("t1") {
		t.Error("Clear should keep the thread identity")
	}
}
