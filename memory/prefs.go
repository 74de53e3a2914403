package memory

import (
	"regexp"
	"strings"

	"github.com/tablyhq/tably-go-sdk/core"
)

// Preference detection is heuristic and best-effort: false negatives are
// fine, and each detector only ever writes its own key, so a false positive
// cannot corrupt an unrelated preference.

var cuisineKeywords = []string{
	"italian", "chinese", "indian", "mexican", "japanese",
	"thai", "french", "korean", "mediterranean", "vietnamese",
}

// Ordered so that "inexpensive" wins over its "expensive" substring.
var budgetKeywords = []struct{ keyword, value string }{
	{"inexpensive", "budget"},
	{"cheap", "budget"},
	{"budget", "budget"},
	{"affordable", "budget"},
	{"fine dining", "upscale"},
	{"expensive", "upscale"},
	{"upscale", "upscale"},
	{"fancy", "upscale"},
}

// locationPattern captures "in <place>" phrasing; the place runs to the
// next clause boundary.
var locationPattern = regexp.MustCompile(`(?i)\bin ([a-z][a-z .'-]+?)(?:[,?!.]|$)`)

func (t *Thread) observeLocked(userText string) {
	lower := strings.ToLower(userText)

	for _, cuisine := range cuisineKeywords {
		if strings.Contains(lower, cuisine) {
			t.prefs[core.PrefCuisine] = cuisine
			break
		}
	}

	for _, b := range budgetKeywords {
		if strings.Contains(lower, b.keyword) {
			t.prefs[core.PrefBudget] = b.value
			break
		}
	}

	if strings.Contains(lower, "near me") {
		t.prefs[core.PrefLocation] = "near me"
	} else if m := locationPattern.FindStringSubmatch(userText); m != nil {
		t.prefs[core.PrefLocation] = strings.TrimSpace(m[1])
	}
}

// DetectLocation extracts a location mention from free text, or "" when
// none is found. Shared with the engine's heuristic query extraction.
func DetectLocation(text string) string {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "near me") {
		return "near me"
	}
	if m := locationPattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// CuisineKeywords exposes the cuisine vocabulary for the intent rules.
func CuisineKeywords() []string {
	out := make([]string, len(cuisineKeywords))
	copy(out, cuisineKeywords)
	return out
}
