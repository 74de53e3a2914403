// Package intent classifies raw conversational turns against a read-only
// thread state. Classification is a fixed priority list of predicate
// checks: the first match wins, so the result is deterministic for any
// input. Collection phrases outrank generic search phrases because a wrong
// collection classification causes an unwanted external write.
package intent

import (
	"regexp"
	"strings"

	"github.com/tablyhq/tably-go-sdk/core"
	"github.com/tablyhq/tably-go-sdk/memory"
)

// collectionPattern requires an explicit verb + noun pairing such as
// "create ... collection" or "save ... list".
var collectionPattern = regexp.MustCompile(`(?i)\b(create|make|save|build|start)\b.{0,40}\b(collection|list)\b`)

// collectionPhrases are shorthand forms that imply the cached results.
var collectionPhrases = []string{
	"save these", "save those", "add these", "add those",
}

// backRefPattern is word-bounded so "more" does not fire inside words
// like "Baltimore".
var backRefPattern = regexp.MustCompile(`(?i)\b(what about|how about|those|these|them|same|more|any other|instead|also)\b`)

var foodTerms = []string{
	"restaurant", "food", "eat", "dinner", "lunch", "breakfast",
	"brunch", "pizza", "burger", "sushi", "dessert", "cafe",
	"coffee", "bar", "biryani", "butter chicken", "noodles",
	"cuisine", "dining", "places to",
}

var helpPhrases = []string{
	"help", "hello", "hi", "hey", "what can you do",
	"how do you work", "how does this work", "thanks", "thank you",
}

// Classify maps raw text plus a thread state snapshot to an intent.
func Classify(state memory.State, rawText string) core.Intent {
	lower := strings.ToLower(strings.TrimSpace(rawText))
	if lower == "" {
		return core.IntentUnknown
	}

	// Collection phrases always win, with or without cached results; the
	// assembler flags the empty-snapshot case as unsatisfiable rather than
	// silently downgrading to a search.
	if isCollectionRequest(lower) {
		return core.IntentCollectionCreate
	}

	backRef := backRefPattern.MatchString(lower)
	search := isSearchRequest(lower)

	if search && !backRef {
		return core.IntentSearch
	}
	if backRef && len(state.Messages) > 0 {
		return core.IntentFollowUp
	}
	// Back-reference language on a fresh thread has nothing to refer to;
	// food terms still make it a search.
	if search {
		return core.IntentSearch
	}
	if isHelpRequest(lower) {
		return core.IntentHelp
	}
	return core.IntentUnknown
}

func isCollectionRequest(lower string) bool {
	if collectionPattern.MatchString(lower) {
		return true
	}
	return containsAny(lower, collectionPhrases)
}

func isSearchRequest(lower string) bool {
	if containsAny(lower, foodTerms) {
		return true
	}
	for _, cuisine := range memory.CuisineKeywords() {
		if strings.Contains(lower, cuisine) {
			return true
		}
	}
	return false
}

func isHelpRequest(lower string) bool {
	for _, phrase := range helpPhrases {
		if lower == phrase || strings.HasPrefix(lower, phrase+" ") ||
			strings.HasPrefix(lower, phrase+",") || strings.HasPrefix(lower, phrase+"!") {
			return true
		}
	}
	return strings.Contains(lower, "what can you do") || strings.Contains(lower, "help me")
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
