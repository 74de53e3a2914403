package memory

import (
	"sync"
	"time"

	"github.com/tablyhq/tably-go-sdk/core"
)

// Thread is the per-conversation memory object: an append-only message
// log, a single search snapshot slot, and an inferred preference set.
// All methods are safe for concurrent use; each holds the thread lock for
// the duration of its read or write.
type Thread struct {
	id string

	mu         sync.Mutex
	messages   []core.Message
	snapshot   *core.SearchSnapshot
	prefs      core.PreferenceSet
	lastIntent core.Intent
}

func newThread(id string) *Thread {
	return &Thread{
		id:    id,
		prefs: make(core.PreferenceSet),
	}
}

// ID returns the opaque thread identifier.
func (t *Thread) ID() string { return t.id }

// State is a consistent read-only copy of a thread's memory, taken in one
// critical section. Classification and context assembly run against a
// State so they never see a half-updated thread.
type State struct {
	ThreadID    string
	Messages    []core.Message
	Search      *core.SearchSnapshot
	Preferences core.PreferenceSet
}

// State copies the thread's full memory under the lock.
func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{
		ThreadID:    t.id,
		Messages:    t.copyMessagesLocked(),
		Search:      t.copySnapshotLocked(),
		Preferences: t.prefs.Clone(),
	}
}

// Append adds a message to the log. It never validates text content and
// always succeeds. Ordering is append order.
func (t *Thread) Append(role core.Role, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendLocked(role, text)
}

// History returns the full message log in append order. The spec allows a
// live view, but aliasing the backing slice out of a locked structure is a
// data race in Go, so History returns a copy taken under the lock.
func (t *Thread) History() []core.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copyMessagesLocked()
}

// SetSnapshot replaces any prior search snapshot unconditionally. Result
// ordering is preserved exactly as given: it is the order the user was
// shown, and "create a collection from these" refers to it.
func (t *Thread) SetSnapshot(query, location string, results []core.RestaurantRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setSnapshotLocked(query, location, results)
}

// Snapshot returns a copy of the live search snapshot, or ok=false when
// none is cached.
func (t *Thread) Snapshot() (core.SearchSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snapshot == nil {
		return core.SearchSnapshot{}, false
	}
	return *t.copySnapshotLocked(), true
}

// ResultIDs returns the cached result ids in cached order. Empty when no
// snapshot is live.
func (t *Thread) ResultIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resultIDsLocked()
}

// Observe runs the preference detectors against a user message and upserts
// matched keys. Unmatched text is a no-op. Only user text is observed;
// assistant messages never update preferences.
func (t *Thread) Observe(userText string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observeLocked(userText)
}

// Preferences returns a copy of the inferred preference set.
func (t *Thread) Preferences() core.PreferenceSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prefs.Clone()
}

// SetLastIntent records the most recent classification for diagnostics.
func (t *Thread) SetLastIntent(it core.Intent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastIntent = it
}

// LastIntent returns the most recent classification, or IntentUnknown for
// a fresh thread.
func (t *Thread) LastIntent() core.Intent {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastIntent == "" {
		return core.IntentUnknown
	}
	return t.lastIntent
}

// Clear wipes history, snapshot, and preferences. The thread identity is
// retained and subsequent appends succeed.
func (t *Thread) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = nil
	t.snapshot = nil
	t.prefs = make(core.PreferenceSet)
	t.lastIntent = ""
}

// TurnWrite is the write-back for one completed turn.
type TurnWrite struct {
	UserText      string
	AssistantText string

	// Snapshot, when non-nil, replaces the thread's search snapshot.
	Snapshot *core.SearchSnapshot

	// ObservePreferences runs the detectors against UserText.
	ObservePreferences bool

	Intent core.Intent
}

// CommitTurn applies a whole turn's writes atomically. A concurrent State()
// call observes either none or all of them. Callers skip CommitTurn
// entirely when the turn's downstream call failed, so thread state only
// ever reflects completed turns.
func (t *Thread) CommitTurn(w TurnWrite) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if w.UserText != "" {
		t.appendLocked(core.RoleUser, w.UserText)
	}
	if w.ObservePreferences && w.UserText != "" {
		t.observeLocked(w.UserText)
	}
	if w.Snapshot != nil {
		t.setSnapshotLocked(w.Snapshot.Query, w.Snapshot.Location, w.Snapshot.Results)
	}
	if w.AssistantText != "" {
		t.appendLocked(core.RoleAssistant, w.AssistantText)
	}
	if w.Intent != "" {
		t.lastIntent = w.Intent
	}
}

// locked helpers

func (t *Thread) appendLocked(role core.Role, text string) {
	t.messages = append(t.messages, core.Message{
		Role:      role,
		Text:      text,
		CreatedAt: time.Now(),
	})
}

func (t *Thread) setSnapshotLocked(query, location string, results []core.RestaurantRecord) {
	copied := make([]core.RestaurantRecord, len(results))
	copy(copied, results)
	t.snapshot = &core.SearchSnapshot{
		Query:      query,
		Location:   location,
		Results:    copied,
		CapturedAt: time.Now(),
	}
}

func (t *Thread) resultIDsLocked() []string {
	if t.snapshot == nil || len(t.snapshot.Results) == 0 {
		return nil
	}
	ids := make([]string, len(t.snapshot.Results))
	for i, r := range t.snapshot.Results {
		ids[i] = r.ID
	}
	return ids
}

func (t *Thread) copyMessagesLocked() []core.Message {
	if len(t.messages) == 0 {
		return nil
	}
	out := make([]core.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Thread) copySnapshotLocked() *core.SearchSnapshot {
	if t.snapshot == nil {
		return nil
	}
	snap := *t.snapshot
	snap.Results = make([]core.RestaurantRecord, len(t.snapshot.Results))
	copy(snap.Results, t.snapshot.Results)
	return &snap
}
