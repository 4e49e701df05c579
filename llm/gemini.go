package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/use-agent/pricewatch/models"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"
	defaultGeminiModel   = "gemini-1.5-flash"
)

// GeminiClient calls Google's generateContent REST endpoint.
type GeminiClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewGeminiClient creates a client. Empty model/baseURL select the defaults.
func NewGeminiClient(httpClient *http.Client, apiKey, model, baseURL string) *GeminiClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if model == "" {
		model = defaultGeminiModel
	}
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &GeminiClient{httpClient: httpClient, apiKey: apiKey, model: model, baseURL: baseURL}
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// Extract sends one generateContent request with the prompt and fragment.
func (g *GeminiClient) Extract(ctx context.Context, fragment string) ([]models.RawItem, error) {
	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s",
		strings.TrimRight(g.baseURL, "/"), g.model, url.QueryEscape(g.apiKey))

	reqBody := geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{{Text: systemPrompt + "\n\nHTML: " + truncate(fragment, MaxInput)}},
		}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      0.1,
			ResponseMIMEType: "application/json",
		},
	}

	x := exchange{client: g.httpClient, provider: "Gemini", endpoint: endpoint}
	status, body, err := x.post(ctx, reqBody)
	if err != nil {
		return nil, err
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		if status != http.StatusOK {
			return nil, classifyStatus(status, "Gemini API error")
		}
		return nil, models.NewScrapeError(models.ErrCodeLLMFailure, "failed to parse Gemini response", err)
	}

	if geminiResp.Error != nil {
		return nil, classifyStatus(geminiResp.Error.Code, geminiResp.Error.Message)
	}
	if status != http.StatusOK {
		return nil, classifyStatus(status, "Gemini API error")
	}
	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		return nil, models.NewScrapeError(models.ErrCodeLLMFailure, "empty response from Gemini", nil)
	}

	return decodeAnswer("Gemini", geminiResp.Candidates[0].Content.Parts[0].Text)
}
