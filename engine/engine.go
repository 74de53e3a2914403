// Package engine runs conversational turns: it reads a consistent snapshot
// of thread memory, classifies intent, assembles model-facing context,
// drives the external collaborators, and commits the turn's write-back
// atomically.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tablyhq/tably-go-sdk/core"
	"github.com/tablyhq/tably-go-sdk/intent"
	"github.com/tablyhq/tably-go-sdk/memory"
	"github.com/tablyhq/tably-go-sdk/recall"
)

// Searcher is the external restaurant search provider.
type Searcher interface {
	Search(ctx context.Context, query, location string) ([]core.RestaurantRecord, error)
}

// CollectionCreator persists a set of restaurants as a named collection.
type CollectionCreator interface {
	CreateCollection(ctx context.Context, name string, restaurantIDs []string, authToken string) (string, error)
}

// Completer is the language model. Non-deterministic; may fail or time out.
type Completer interface {
	Complete(ctx context.Context, systemContext string, history []core.Message, userMessage string) (string, error)
}

// Extractor pulls structured search parameters out of free text. Optional;
// the engine falls back to keyword heuristics when unset or on error.
type Extractor interface {
	ExtractSearch(ctx context.Context, text string) (query, location string, err error)
}

// Engine ties thread memory, the intent classifier, and the external
// collaborators together. The per-thread lock is held only around the
// snapshot read and the write-back, never across collaborator calls, so a
// slow downstream call cannot block other turns.
type Engine struct {
	store       *memory.Store
	searcher    Searcher
	collections CollectionCreator
	completer   Completer

	recall    recall.Manager
	extractor Extractor
}

// Option configures the engine.
type Option func(*Engine)

// WithRecall enables long-term exchange memory: relevant past exchanges
// are injected into the system context before model calls, and successful
// turns are recorded afterwards. Both directions are best-effort.
func WithRecall(m recall.Manager) Option {
	return func(e *Engine) { e.recall = m }
}

// WithExtractor sets a model-backed search parameter extractor.
func WithExtractor(x Extractor) Option {
	return func(e *Engine) { e.extractor = x }
}

// New creates an engine over the given store and collaborators.
func New(store *memory.Store, searcher Searcher, collections CollectionCreator, completer Completer, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		searcher:    searcher,
		collections: collections,
		completer:   completer,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the engine's thread store.
func (e *Engine) Store() *memory.Store { return e.store }

// TurnRequest is one inbound conversational turn.
type TurnRequest struct {
	// ThreadID is caller-supplied; empty means start a new thread.
	ThreadID string

	// Text is the raw user input.
	Text string

	// AuthToken authorizes collection creation. Optional otherwise.
	AuthToken string
}

// TurnResult is the outcome of a processed turn.
type TurnResult struct {
	ThreadID     string
	Intent       core.Intent
	Message      string
	Restaurants  []core.RestaurantRecord
	CollectionID string
}

// ProcessTurn handles one turn end to end. On failure it returns a
// *core.Error carrying kind and a user-renderable message; thread memory
// is only written for turns that completed, so a failed model or provider
// call leaves the message log untouched.
func (e *Engine) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, core.NewError(core.KindInput, HelpText, nil)
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.New().String()
	}

	th := e.store.GetOrCreate(threadID)
	state := th.State()
	it := intent.Classify(state, text)
	payload := Assemble(state, it, text)

	log.Printf("[ENGINE] thread=%s intent=%s text=%q", threadID, it, truncate(text, 60))

	switch it {
	case core.IntentCollectionCreate:
		return e.handleCollection(ctx, th, payload, req.AuthToken)
	case core.IntentSearch:
		return e.handleSearch(ctx, th, payload)
	case core.IntentFollowUp:
		return e.handleFollowUp(ctx, th, payload)
	case core.IntentHelp:
		return e.handleCanned(th, payload, HelpText), nil
	default:
		return e.handleCanned(th, payload, unknownText), nil
	}
}

// History returns the full message log for a thread, oldest first.
func (e *Engine) History(threadID string) []core.Message {
	if !e.store.Exists(threadID) {
		return nil
	}
	return e.store.GetOrCreate(threadID).History()
}

// Clear wipes a thread's memory, keeping its identity.
func (e *Engine) Clear(threadID string) {
	e.store.Clear(threadID)
}

func (e *Engine) handleSearch(ctx context.Context, th *memory.Thread, p *ContextPayload) (*TurnResult, error) {
	query, location := e.extractSearch(ctx, p)

	results, err := e.searchWithRetry(ctx, query, location)
	if err != nil {
		return nil, asKinded(err, core.KindProvider,
			"Sorry, I couldn't reach the restaurant search service. Please try again.")
	}

	reply, err := e.complete(ctx, p, searchReplyInstruction(results))
	if err != nil {
		return nil, core.NewError(core.KindModel, modelFallbackText, err)
	}

	th.CommitTurn(memory.TurnWrite{
		UserText:      p.RawText,
		AssistantText: reply,
		Snapshot: &core.SearchSnapshot{
			Query:    query,
			Location: location,
			Results:  results,
		},
		ObservePreferences: true,
		Intent:             core.IntentSearch,
	})
	e.recordExchange(ctx, th.ID(), p.RawText, reply)

	return &TurnResult{
		ThreadID:    th.ID(),
		Intent:      core.IntentSearch,
		Message:     reply,
		Restaurants: results,
	}, nil
}

func (e *Engine) handleFollowUp(ctx context.Context, th *memory.Thread, p *ContextPayload) (*TurnResult, error) {
	reply, err := e.complete(ctx, p, followUpInstruction)
	if err != nil {
		return nil, core.NewError(core.KindModel, modelFallbackText, err)
	}

	th.CommitTurn(memory.TurnWrite{
		UserText:           p.RawText,
		AssistantText:      reply,
		ObservePreferences: true,
		Intent:             core.IntentFollowUp,
	})
	e.recordExchange(ctx, th.ID(), p.RawText, reply)

	result := &TurnResult{
		ThreadID: th.ID(),
		Intent:   core.IntentFollowUp,
		Message:  reply,
	}
	if p.Search != nil {
		result.Restaurants = p.Search.Results
	}
	return result, nil
}

func (e *Engine) handleCollection(ctx context.Context, th *memory.Thread, p *ContextPayload, authToken string) (*TurnResult, error) {
	if p.Unsatisfiable {
		// Reported condition, not an exception: the user gets a message and
		// the exchange is committed as a completed turn.
		msg := "I don't have any recent restaurant search results to put in a collection. Search for restaurants first, then ask me to save them."
		th.CommitTurn(memory.TurnWrite{
			UserText:           p.RawText,
			AssistantText:      msg,
			ObservePreferences: true,
			Intent:             core.IntentCollectionCreate,
		})
		return &TurnResult{
			ThreadID: th.ID(),
			Intent:   core.IntentCollectionCreate,
			Message:  msg,
		}, nil
	}

	if authToken == "" {
		return nil, core.NewError(core.KindAuth,
			"You need to be signed in to create a collection.", nil)
	}

	name := collectionName(p)
	log.Printf("[ENGINE] thread=%s creating collection %q with %d restaurants",
		th.ID(), name, len(p.CollectionCandidateIDs))

	id, err := e.createCollectionWithRetry(ctx, name, p.CollectionCandidateIDs, authToken)
	if err != nil {
		return nil, asKinded(err, core.KindProvider,
			"Sorry, I couldn't create the collection. Please try again.")
	}

	msg := fmt.Sprintf("Created collection %q with %d restaurants.", name, len(p.CollectionCandidateIDs))
	th.CommitTurn(memory.TurnWrite{
		UserText:           p.RawText,
		AssistantText:      msg,
		ObservePreferences: true,
		Intent:             core.IntentCollectionCreate,
	})
	e.recordExchange(ctx, th.ID(), p.RawText, msg)

	result := &TurnResult{
		ThreadID:     th.ID(),
		Intent:       core.IntentCollectionCreate,
		Message:      msg,
		CollectionID: id,
	}
	if p.Search != nil {
		result.Restaurants = p.Search.Results
	}
	return result, nil
}

func (e *Engine) handleCanned(th *memory.Thread, p *ContextPayload, msg string) *TurnResult {
	th.CommitTurn(memory.TurnWrite{
		UserText:           p.RawText,
		AssistantText:      msg,
		ObservePreferences: true,
		Intent:             p.Intent,
	})
	return &TurnResult{
		ThreadID: th.ID(),
		Intent:   p.Intent,
		Message:  msg,
	}
}

// complete renders the payload, prepends any recall enrichment, and calls
// the model.
func (e *Engine) complete(ctx context.Context, p *ContextPayload, instruction string) (string, error) {
	systemContext := p.SystemContext()
	if instruction != "" {
		systemContext = instruction + "\n\n" + systemContext
	}

	if e.recall != nil {
		enrichment, err := e.recall.Retrieve(ctx, p.ThreadID, p.RawText)
		if err != nil {
			log.Printf("[ENGINE] Recall retrieval failed: %v", err) // non-fatal
		} else if enrichment != "" {
			systemContext += "\n\n" + enrichment
		}
	}

	return e.completer.Complete(ctx, systemContext, p.RecentHistory, p.RawText)
}

func (e *Engine) recordExchange(ctx context.Context, threadID, userText, assistantText string) {
	if e.recall == nil {
		return
	}
	if err := e.recall.RecordExchange(ctx, threadID, userText, assistantText); err != nil {
		log.Printf("[ENGINE] Recall record failed: %v", err)
	}
}

// searchWithRetry retries provider failures exactly once. Auth and context
// errors are never retried.
func (e *Engine) searchWithRetry(ctx context.Context, query, location string) ([]core.RestaurantRecord, error) {
	results, err := e.searcher.Search(ctx, query, location)
	if err != nil && retryable(ctx, err) {
		log.Printf("[ENGINE] Search failed, retrying once: %v", err)
		results, err = e.searcher.Search(ctx, query, location)
	}
	return results, err
}

func (e *Engine) createCollectionWithRetry(ctx context.Context, name string, ids []string, authToken string) (string, error) {
	id, err := e.collections.CreateCollection(ctx, name, ids, authToken)
	if err != nil && retryable(ctx, err) {
		log.Printf("[ENGINE] Collection creation failed, retrying once: %v", err)
		id, err = e.collections.CreateCollection(ctx, name, ids, authToken)
	}
	return id, err
}

func retryable(ctx context.Context, err error) bool {
	return ctx.Err() == nil && core.KindOf(err) == core.KindProvider
}

// extractSearch resolves the search query and location, preferring the
// model-backed extractor when configured.
func (e *Engine) extractSearch(ctx context.Context, p *ContextPayload) (query, location string) {
	if e.extractor != nil {
		q, loc, err := e.extractor.ExtractSearch(ctx, p.RawText)
		if err == nil && q != "" {
			if loc == "" {
				loc = p.Preferences[core.PrefLocation]
			}
			return q, loc
		}
		if err != nil {
			log.Printf("[ENGINE] Extraction failed, using heuristics: %v", err)
		}
	}

	query = p.RawText
	location = memory.DetectLocation(p.RawText)
	if location == "" {
		location = p.Preferences[core.PrefLocation]
	}
	return query, location
}

var namedCollectionPattern = regexp.MustCompile(`(?i)\b(?:called|named)\s+"?([a-z0-9][a-z0-9 &'_-]*)"?`)

// collectionName takes an explicit `called/named X` from the turn text,
// falling back to a name derived from the cached query plus a timestamp
// for uniqueness.
func collectionName(p *ContextPayload) string {
	if m := namedCollectionPattern.FindStringSubmatch(p.RawText); m != nil {
		return strings.TrimSpace(m[1])
	}

	base := "Restaurant Collection"
	if p.Search != nil && p.Search.Query != "" {
		base = titleCase(p.Search.Query)
	}
	return fmt.Sprintf("%s - %s", base, time.Now().Format("20060102_1504"))
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// asKinded passes through errors that already carry a kind and wraps
// everything else.
func asKinded(err error, kind core.ErrorKind, message string) error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return ce
	}
	return core.NewError(kind, message, err)
}

func searchReplyInstruction(results []core.RestaurantRecord) string {
	if len(results) == 0 {
		return "No restaurants matched the user's search. Acknowledge that, suggest different keywords, a broader location, or another cuisine, and keep it to two or three sentences."
	}
	return fmt.Sprintf(`The search found these restaurants (present them in this order):
%s

Briefly summarize the results, then ask if the user wants to save them as a collection. They can just say "create a collection". Keep it to two or three sentences plus the list.`,
		ResultSummary(results))
}

const followUpInstruction = "Answer the user's follow-up using the previous search results and conversation below. Do not invent restaurants that are not in the context."

const modelFallbackText = "I'm having trouble generating a response right now. Please try again in a moment."

const unknownText = "I'm not sure what you're looking for. Try something like \"best Italian restaurants in Delhi\", or say \"help\" to see what I can do."

// HelpText summarizes the assistant's capabilities. Also used as the
// recovery prompt for empty input.
const HelpText = `I can help you find restaurants and save the ones you like.

Try:
- "Best butter chicken in Delhi" - search for restaurants
- "What about dessert places?" - follow up on a search
- "Create a collection called Date Night" - save the last results

Say "clear" via the API to start a conversation over.`

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
