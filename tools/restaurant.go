package tools

// SearchToolName is the tool the model calls to report the structured
// search parameters it extracted from a user turn.
const SearchToolName = "extract_search_params"

// SearchToolDescription tells the model what extraction means for
// restaurant queries.
const SearchToolDescription = "Extract restaurant search parameters from the user's message. " +
	"The query captures what kind of food or restaurant they want (cuisine, dish, vibe). " +
	"The location captures where, if they mention a city or neighborhood; leave it empty otherwise."

// SearchParamsSchema returns the input schema for the extraction tool.
func SearchParamsSchema() map[string]interface{} {
	return ObjectSchema(map[string]interface{}{
		"query":    StringProperty("What the user wants to eat or the kind of place they want (e.g., 'cheap italian food', 'rooftop bars')"),
		"location": StringProperty("City or area to search in, if mentioned (e.g., 'Mumbai'). Empty string if not mentioned."),
	}, "query")
}
