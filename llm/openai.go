package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/use-agent/pricewatch/models"
)

const (
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
)

// OpenAIClient talks to any OpenAI-compatible chat completions API
// (OpenAI, DeepSeek, Groq, Azure ...).
type OpenAIClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewOpenAIClient creates a client. Empty model/baseURL select the defaults;
// a nil httpClient uses a zero http.Client.
func NewOpenAIClient(httpClient *http.Client, apiKey, model, baseURL string) *OpenAIClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIClient{httpClient: httpClient, apiKey: apiKey, model: model, baseURL: strings.TrimRight(baseURL, "/")}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

// chatReply covers both the success and the error shape.
type chatReply struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Extract sends the fragment to the chat completions endpoint. JSON object
// mode is requested, so the model answers with {"items": [...]}.
func (c *OpenAIClient) Extract(ctx context.Context, fragment string) ([]models.RawItem, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: truncate(fragment, MaxInput)},
		},
	}
	req.ResponseFormat.Type = "json_object"

	x := exchange{
		client:   c.httpClient,
		provider: "OpenAI",
		endpoint: c.baseURL + "/chat/completions",
		header:   http.Header{"Authorization": {"Bearer " + c.apiKey}},
	}
	status, body, err := x.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var reply chatReply
	decodeErr := json.Unmarshal(body, &reply)
	if status != http.StatusOK {
		msg := "LLM API error"
		if decodeErr == nil && reply.Error != nil && reply.Error.Message != "" {
			msg = reply.Error.Message
		}
		return nil, classifyStatus(status, msg)
	}
	if decodeErr != nil {
		return nil, models.NewScrapeError(models.ErrCodeLLMFailure, "failed to parse OpenAI response", decodeErr)
	}
	if len(reply.Choices) == 0 {
		return nil, models.NewScrapeError(models.ErrCodeLLMFailure, "OpenAI returned no choices", nil)
	}
	return decodeAnswer("OpenAI", reply.Choices[0].Message.Content)
}
