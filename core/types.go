package core

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversational turn. Messages are immutable once
// created and only ever appended to a thread's log.
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// RestaurantRecord is one restaurant as returned by the search provider.
// Optional fields are left empty when the provider does not know them;
// they are never guessed.
type RestaurantRecord struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Cuisine     string  `json:"cuisine,omitempty"`
	Location    string  `json:"location,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
	PriceRange  string  `json:"price_range,omitempty"`
	Description string  `json:"description,omitempty"`
}

// SearchSnapshot is the most recent search result set cached for a thread,
// together with the query that produced it. At most one snapshot is live
// per thread; a new search replaces the previous one wholesale.
type SearchSnapshot struct {
	Query      string             `json:"query"`
	Location   string             `json:"location,omitempty"`
	Results    []RestaurantRecord `json:"results"`
	CapturedAt time.Time          `json:"captured_at"`
}

// Preference keys. Each detector writes exactly one key.
const (
	PrefCuisine  = "cuisine"
	PrefBudget   = "budget"
	PrefLocation = "location"
)

// PreferenceSet maps preference keys to the most recently inferred value.
type PreferenceSet map[string]string

// Clone returns an independent copy of the set.
func (p PreferenceSet) Clone() PreferenceSet {
	if p == nil {
		return nil
	}
	out := make(PreferenceSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Intent is the classified purpose of an incoming turn. It is computed
// fresh per turn and never persisted beyond diagnostics.
type Intent string

const (
	IntentSearch           Intent = "search"
	IntentCollectionCreate Intent = "collection_create"
	IntentFollowUp         Intent = "follow_up"
	IntentHelp             Intent = "help"
	IntentUnknown          Intent = "unknown"
)
