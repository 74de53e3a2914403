// Package model wraps the Anthropic API behind the engine's Completer and
// Extractor contracts: freeform reply generation plus tool-use extraction
// of structured search parameters.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tablyhq/tably-go-sdk/core"
	"github.com/tablyhq/tably-go-sdk/tools"
)

// Config configures the Anthropic-backed model client.
type Config struct {
	// APIKey is the Anthropic API key. Required.
	APIKey string

	// Model overrides the model id. Default: claude-sonnet-4-20250514.
	Model string

	// MaxTokens is the maximum response tokens. Default: 1024.
	MaxTokens int64
}

// Client generates assistant replies and extracts search parameters.
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// New creates a model client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("APIKey is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	return &Client{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

// Complete generates an assistant reply from the thread context. Any API
// failure surfaces as a model-unavailable error so callers know not to
// commit the turn.
func (c *Client) Complete(ctx context.Context, systemContext string, history []core.Message, userMessage string) (string, error) {
	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, msg := range history {
		switch msg.Role {
		case core.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Text)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage)))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  messages,
		System: []anthropic.TextBlockParam{
			{Text: systemContext},
		},
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", core.NewError(core.KindModel, "language model unavailable", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", core.NewError(core.KindModel, "language model returned no text", nil)
	}
	return text, nil
}

const extractSystemPrompt = "You extract structured restaurant search parameters from user messages. " +
	"Always call the extract_search_params tool exactly once."

// ExtractSearch asks the model to pull a search query and location out of
// freeform text via tool use. Falls back to the raw text as the query if
// the model skips the tool call.
func (c *Client) ExtractSearch(ctx context.Context, text string) (string, string, error) {
	schema := tools.SearchParamsSchema()
	properties, _ := schema["properties"].(map[string]interface{})

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 256,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
		System: []anthropic.TextBlockParam{
			{Text: extractSystemPrompt},
		},
		Tools: []anthropic.ToolUnionParam{
			{
				OfTool: &anthropic.ToolParam{
					Name:        tools.SearchToolName,
					Description: anthropic.String(tools.SearchToolDescription),
					InputSchema: anthropic.ToolInputSchemaParam{
						Properties: properties,
					},
				},
			},
		},
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", "", core.NewError(core.KindModel, "language model unavailable", err)
	}

	for _, block := range resp.Content {
		if block.Type != "tool_use" || block.Name != tools.SearchToolName {
			continue
		}
		var extracted struct {
			Query    string `json:"query"`
			Location string `json:"location"`
		}
		if err := json.Unmarshal(block.Input, &extracted); err != nil {
			log.Printf("[MODEL] Bad extraction payload: %v", err)
			break
		}
		log.Printf("[MODEL] Extracted search: query=%q location=%q", extracted.Query, extracted.Location)
		return extracted.Query, extracted.Location, nil
	}

	log.Printf("[MODEL] No extraction tool call; using raw text as query")
	return text, "", nil
}
