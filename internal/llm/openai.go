package llm

import (
	"context"
	"net/http"
	"strings"
)

// Base URLs for OpenAI-compatible chat completion services.
const (
	OpenAIBaseURL     = "https://api.openai.com/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// OpenAIClient calls an OpenAI-compatible /chat/completions endpoint
// (OpenAI, OpenRouter, DashScope compatible mode).
type OpenAIClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

func NewOpenAIClient(opts Options) *OpenAIClient {
	base := opts.BaseURL
	if base == "" {
		base = OpenAIBaseURL
	}
	return &OpenAIClient{
		apiKey:     opts.APIKey,
		model:      opts.Model,
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: newHTTPClient(),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (c *OpenAIClient) Submit(ctx context.Context, req Request) (string, error) {
	callCtx, cancel := callContext(ctx, req.Params)
	defer cancel()

	var msgs []chatMessage
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.User})

	payload := chatRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: req.Params.Temperature,
		MaxTokens:   req.Params.MaxTokens,
	}
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}

	var apiResp chatResponse
	if err := postJSON(callCtx, c.httpClient, c.baseURL+"/chat/completions", headers, payload, &apiResp); err != nil {
		return "", err
	}
	// OpenRouter reports upstream failures inside a 200 body.
	if apiResp.Error != nil {
		return "", &Failure{Class: ClassServerError, Message: apiResp.Error.Message}
	}
	if len(apiResp.Choices) == 0 || apiResp.Choices[0].Message.Content == "" {
		return "", &Failure{Class: ClassOther, Message: "empty response from " + c.baseURL}
	}
	return apiResp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) Model() string { return c.model }

func (c *OpenAIClient) Close() {
	c.httpClient.CloseIdleConnections()
}
