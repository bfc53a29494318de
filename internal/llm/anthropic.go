package llm

import (
	"context"
	"net/http"
	"strings"
)

// AnthropicBaseURL is the default Messages API endpoint root.
const AnthropicBaseURL = "https://api.anthropic.com"

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

func NewAnthropicClient(opts Options) *AnthropicClient {
	base := opts.BaseURL
	if base == "" {
		base = AnthropicBaseURL
	}
	model := opts.Model
	if model == "" {
		model = "claude-sonnet-4-5-20250929"
	}
	return &AnthropicClient{
		apiKey:     opts.APIKey,
		model:      model,
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: newHTTPClient(),
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Submit sends the prompt pair as a system prompt plus one user message.
func (c *AnthropicClient) Submit(ctx context.Context, req Request) (string, error) {
	callCtx, cancel := callContext(ctx, req.Params)
	defer cancel()

	maxTokens := req.Params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	payload := anthropicRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: req.Params.Temperature,
		System:      req.System,
		Messages: []anthropicMessage{
			{Role: "user", Content: req.User},
		},
	}
	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": "2023-06-01",
	}

	var apiResp anthropicResponse
	if err := postJSON(callCtx, c.httpClient, c.baseURL+"/v1/messages", headers, payload, &apiResp); err != nil {
		return "", err
	}
	if apiResp.Error != nil {
		return "", &Failure{Class: ClassOther, Message: apiResp.Error.Type + ": " + apiResp.Error.Message}
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", &Failure{Class: ClassOther, Message: "empty response from anthropic"}
	}
	return sb.String(), nil
}

func (c *AnthropicClient) Model() string { return c.model }

// Close releases idle connections.
func (c *AnthropicClient) Close() {
	c.httpClient.CloseIdleConnections()
}
