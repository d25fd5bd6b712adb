// Package ai converts natural-language recurrence descriptions into cron
// expressions. Optional: a nil client disables the feature.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/hray3182/Cadence/internal/recurrence"
)

type Client struct {
	client *openai.Client
	model  string
}

func New(apiKey, baseURL, model string) *Client {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL
	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

const systemPromptTemplate = `You translate natural-language recurrence descriptions into 6-field cron expressions (seconds minutes hours day-of-month month day-of-week).

Current time: %s

Rules:
- Output only the JSON object {"cron": "<expression>", "explanation": "<one sentence>"}.
- Use whole-minute granularity: the seconds field is always 0.
- "every Monday at 9am" -> "0 0 9 * * 1".
- If the description names no time of day, default to 09:00.
- If the input cannot be understood as a recurrence, set cron to "".`

var suggestionSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"cron": {"type": "string"},
		"explanation": {"type": "string"}
	},
	"required": ["cron", "explanation"],
	"additionalProperties": false
}`)

type Suggestion struct {
	Cron        string `json:"cron"`
	Explanation string `json:"explanation"`
}

// SuggestRule turns text like "every weekday at 8:30" into a validated cron
// expression. The model output is checked through the recurrence parser, so
// a hallucinated expression never reaches a template.
func (c *Client) SuggestRule(ctx context.Context, text string, now time.Time) (*Suggestion, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf(systemPromptTemplate, now.Format("2006-01-02 15:04 Monday")),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "rule_suggestion",
				Schema: suggestionSchema,
				Strict: true,
			},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call AI API: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from AI")
	}

	suggestion := &Suggestion{}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), suggestion); err != nil {
		return nil, fmt.Errorf("failed to parse AI response: %w", err)
	}
	if suggestion.Cron == "" {
		return nil, fmt.Errorf("description is not a recurrence: %s", text)
	}
	if err := recurrence.Validate(suggestion.Cron); err != nil {
		return nil, fmt.Errorf("model produced unusable rule %q: %w", suggestion.Cron, err)
	}
	return suggestion, nil
}
