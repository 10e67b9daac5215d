// Package openai implements the analysis gateway against the OpenAI chat
// completion API with a JSON-object response contract.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/newtonslens/labsync/internal/domain/analysis"
	"github.com/newtonslens/labsync/internal/infra/gateway/prompt"
)

const maxTokens = 2048

type Client struct {
	*openai.Client
	Model string
}

func NewClient(apiKey, model string) *Client {
	return &Client{Client: openai.NewClient(apiKey), Model: model}
}

// Analyze sends the capture to the model and decodes the JSON reply into a
// record. Failures are classified for the coordinator: GatewayHTTPError for
// non-2xx statuses, StructuralError for undecodable bodies, raw transport
// errors (which IsTransient picks up) for everything else.
func (c *Client) Analyze(ctx context.Context, req *analysis.Request) (*analysis.Record, error) {
	model := c.Model
	if model == "" {
		model = "gpt-4o"
	}

	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if req.Payload.ImageData != "" {
		user.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt.User(req.Payload)},
			{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: imageURL(req.Payload.ImageData)},
			},
		}
	} else {
		user.Content = prompt.User(req.Payload)
	}

	creq := openai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.System(req.ExperimentType)},
			user,
		},
	}
	// Reasoning models reject MaxTokens in favor of MaxCompletionTokens
	if strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5") {
		creq.MaxCompletionTokens = maxTokens
	} else {
		creq.MaxTokens = maxTokens
	}

	resp, err := c.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &analysis.StructuralError{Reason: "no completion choices"}
	}
	return ParseResponse(resp.Choices[0].Message.Content)
}

// ParseResponse decodes a model reply into a record, tolerating the code
// fences some models wrap around JSON despite instructions.
func ParseResponse(body string) (*analysis.Record, error) {
	body = stripFences(body)

	var wire struct {
		Observations     string                   `json:"observations"`
		Components       []analysis.Component     `json:"components"`
		PredictedOutcome string                   `json:"predicted_outcome"`
		SafetyWarnings   []analysis.SafetyWarning `json:"safety_warnings"`
		Guidance         []analysis.GuidanceStep  `json:"guidance"`
		ConfidenceScore  float64                  `json:"confidence_score"`
	}
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return nil, &analysis.StructuralError{Reason: "unparseable response body: " + err.Error()}
	}
	return &analysis.Record{
		Observations:     wire.Observations,
		Components:       wire.Components,
		PredictedOutcome: wire.PredictedOutcome,
		SafetyWarnings:   wire.SafetyWarnings,
		Guidance:         wire.Guidance,
		ConfidenceScore:  wire.ConfidenceScore,
	}, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[3:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// classify maps client errors onto the gateway error taxonomy.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &analysis.GatewayHTTPError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &analysis.GatewayHTTPError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return err
}

// imageURL passes data URLs through untouched and wraps raw base64 payloads.
func imageURL(data string) string {
	if strings.HasPrefix(data, "data:image") || strings.HasPrefix(data, "http") {
		return data
	}
	return "data:image/jpeg;base64," + data
}
