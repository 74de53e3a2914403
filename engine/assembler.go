package engine

import (
	"fmt"
	"strings"

	"github.com/tablyhq/tably-go-sdk/core"
	"github.com/tablyhq/tably-go-sdk/memory"
)

// DefaultHistoryWindow is how many trailing messages a payload carries.
const DefaultHistoryWindow = 10

// ContextPayload is the model-facing context for one turn. It is built by
// Assemble as a pure function of the thread state snapshot, the classified
// intent, and the raw text; assembling has no side effects on the thread.
type ContextPayload struct {
	ThreadID string
	Intent   core.Intent
	RawText  string

	// RecentHistory holds the last K messages, oldest first.
	RecentHistory []core.Message

	Preferences core.PreferenceSet

	// Search is the live snapshot, nil when the thread has none.
	Search *core.SearchSnapshot

	// CollectionCandidateIDs is populated only for CollectionCreate, in
	// cached (shown) order.
	CollectionCandidateIDs []string

	// Unsatisfiable marks a CollectionCreate with nothing to attach. The
	// caller must surface a message instead of invoking the collection
	// provider.
	Unsatisfiable bool
}

// Assemble composes the memory components and the classified intent into a
// single payload.
func Assemble(state memory.State, it core.Intent, rawText string) *ContextPayload {
	p := &ContextPayload{
		ThreadID:    state.ThreadID,
		Intent:      it,
		RawText:     rawText,
		Preferences: state.Preferences,
		Search:      state.Search,
	}

	msgs := state.Messages
	window := DefaultHistoryWindow
	if len(msgs) > window {
		msgs = msgs[len(msgs)-window:]
	}
	if len(msgs) > 0 {
		p.RecentHistory = make([]core.Message, len(msgs))
		copy(p.RecentHistory, msgs)
	}

	if it == core.IntentCollectionCreate {
		if state.Search != nil {
			ids := make([]string, len(state.Search.Results))
			for i, r := range state.Search.Results {
				ids[i] = r.ID
			}
			p.CollectionCandidateIDs = ids
		}
		if len(p.CollectionCandidateIDs) == 0 {
			p.Unsatisfiable = true
		}
	}

	return p
}

// SystemContext renders the payload into the context block injected into
// the model's system prompt.
func (p *ContextPayload) SystemContext() string {
	var parts []string

	if len(p.Preferences) > 0 {
		var prefs []string
		for _, key := range []string{core.PrefCuisine, core.PrefBudget, core.PrefLocation} {
			if v, ok := p.Preferences[key]; ok {
				prefs = append(prefs, fmt.Sprintf("%s: %s", key, v))
			}
		}
		if len(prefs) > 0 {
			parts = append(parts, "User preferences:\n"+strings.Join(prefs, "\n"))
		}
	}

	if p.Search != nil && len(p.Search.Results) > 0 {
		var b strings.Builder
		fmt.Fprintf(&b, "Previous restaurant search:\nQuery: %s\n", p.Search.Query)
		if p.Search.Location != "" {
			fmt.Fprintf(&b, "Location: %s\n", p.Search.Location)
		}
		fmt.Fprintf(&b, "Found %d restaurants:\n", len(p.Search.Results))
		for i, r := range p.Search.Results {
			fmt.Fprintf(&b, "%d. %s", i+1, r.Name)
			if r.Cuisine != "" {
				fmt.Fprintf(&b, " - %s", r.Cuisine)
			}
			if r.Location != "" {
				fmt.Fprintf(&b, " in %s", r.Location)
			}
			b.WriteString("\n")
		}
		parts = append(parts, strings.TrimRight(b.String(), "\n"))
	} else {
		parts = append(parts, "No previous search results.")
	}

	if len(parts) == 0 {
		return "No previous context available."
	}
	return strings.Join(parts, "\n\n")
}

// ResultSummary renders a numbered list of records for user-facing
// messages.
func ResultSummary(results []core.RestaurantRecord) string {
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s", i+1, r.Name)
		var details []string
		if r.Rating > 0 {
			details = append(details, fmt.Sprintf("%.1f", r.Rating))
		}
		if r.Cuisine != "" {
			details = append(details, r.Cuisine)
		}
		if r.PriceRange != "" {
			details = append(details, r.PriceRange)
		}
		if r.Location != "" {
			details = append(details, r.Location)
		}
		if len(details) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(details, " | "))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
