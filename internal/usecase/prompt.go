package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"openrouter-proxy/internal/domain"
)

const weatherPrompt = "What's the weather like in London? Give a dummy example if you don't know."

// WeatherSchema is the strict location/temperature/conditions schema used by
// the structured routes.
func WeatherSchema() domain.ResponseSchema {
	noExtra := false
	return domain.ResponseSchema{
		Name:   "weather",
		Strict: true,
		Schema: domain.JSONSchema{
			Type: "object",
			Properties: map[string]domain.JSONSchema{
				"location":    {Type: "string", Description: "City or location name"},
				"temperature": {Type: "number", Description: "Temperature in Celsius"},
				"conditions":  {Type: "string", Description: "Weather conditions description"},
			},
			Required:             []string{"location", "temperature", "conditions"},
			AdditionalProperties: &noExtra,
		},
	}
}

// ExampleHistory is the conversation used by the chat route when the request
// carries no messages.
func ExampleHistory() []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "What is JavaScript?"},
		{Role: domain.RoleAssistant, Content: "JavaScript is a programming language used to build interactive websites and applications."},
		{Role: domain.RoleUser, Content: "Can you explain what variables are in JavaScript?"},
	}
}

// ExampleStructuredHistory is the conversation used by the structured chat
// route when the request carries no messages.
func ExampleStructuredHistory() []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "Hey, I'm planning a trip to London."},
		{Role: domain.RoleAssistant, Content: "Sounds exciting! What info you need for the trip?"},
		{Role: domain.RoleUser, Content: "Can you tell me the current weather there?"},
	}
}

func contentIdeaSchema() domain.JSONSchema {
	str := func(desc string) domain.JSONSchema {
		return domain.JSONSchema{Type: "string", Description: desc}
	}
	return domain.JSONSchema{
		Type: "object",
		Properties: map[string]domain.JSONSchema{
			"response_message": str("Response message for the user"),
			"title":            str("Title of the content"),
			"ideas": {
				Type:        "array",
				Description: "List of content ideas",
				Items: &domain.JSONSchema{
					Type: "object",
					Properties: map[string]domain.JSONSchema{
						"title":       str("Title of the idea"),
						"description": str("Description of the idea"),
						"example":     str("Example demonstrating the idea"),
						"benefit":     str("Benefit of implementing this idea"),
					},
					Required: []string{"title", "description", "example", "benefit"},
				},
			},
			"follow_up_question": str("Follow-up question to gather additional requirements or set to empty if none needed"),
		},
		Required: []string{"response_message", "title", "ideas", "follow_up_question"},
	}
}

func contentIdeaPrompt() (string, error) {
	schema, err := marshalNoEscape(contentIdeaSchema())
	if err != nil {
		return "", fmt.Errorf("usecase: marshal content idea schema: %w", err)
	}
	return strings.Join([]string{
		`Expand the niche "Beginner-friendly personal finance" into a single useful content idea suitable for building a structured resource like a course or membership.`,
		"",
		"1. Do not describe the niche itself. Focus directly on the content idea.",
		"2. Provide just one practical content idea that a creator could develop and offer to others.",
		"3. Include:",
		"   - A clear, concise title (avoid using buzzwords or promotional terms)",
		"   - A short description explaining the focus of the course or membership",
		"   - A specific example of what the content would include",
		"   - A brief explanation of how it helps the learner or user",
		"",
		"Before listing the idea, include a short and friendly summary (response_message) introducing the content idea in natural language, without referring to technical schema fields like \"title\" or \"description\".",
		"",
		"Additionally, include a follow-up question to gather any final requirements or changes needed for the resource structure, such as:",
		"- Any adjustments needed to the difficulty level or target audience?",
		"- Should we modify the module structure or lesson focus?",
		"- Any specific topics that should be emphasized or de-emphasized?",
		"- Changes to the overall learning path or progression?",
		"- Any other refinements to better serve your audience's needs?",
		"",
		"Note: Text will be appended after your response asking if the user wants to proceed with creating the resource.",
		"",
		"If the user has already provided comprehensive resource requirements and no adjustments are needed, set follow_up_question to null or empty string.",
		"",
		`Avoid using words like "monetization", "innovation", "transformative", or similar jargon. Use simple, helpful language focused on clarity and usefulness.`,
		"",
		"Return the response as structured JSON.",
		"",
		"You must respond with JSON that strictly follows this exact schema:",
		string(schema),
		"",
		"Important: Only return the raw JSON with no additional text, commentary, or markdown formatting. The response must be valid JSON that can be parsed directly.",
	}, "\n"), nil
}

// marshalNoEscape encodes v without escaping <, > and &.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
