package llm

import (
	"context"
	"net/http"
	"strings"
)

// DashScopeURL is the native text-generation endpoint.
const DashScopeURL = "https://dashscope.aliyuncs.com/api/v1/services/aigc/text-generation/generation"

// DashScopeClient calls the DashScope native generation API, which takes a
// single prompt rather than a message list.
type DashScopeClient struct {
	apiKey     string
	model      string
	url        string
	httpClient *http.Client
}

func NewDashScopeClient(opts Options) *DashScopeClient {
	url := opts.BaseURL
	if url == "" {
		url = DashScopeURL
	}
	model := opts.Model
	if model == "" {
		model = "qwen-plus"
	}
	return &DashScopeClient{
		apiKey:     opts.APIKey,
		model:      model,
		url:        url,
		httpClient: newHTTPClient(),
	}
}

type dashScopeRequest struct {
	Model string `json:"model"`
	Input struct {
		Prompt string `json:"prompt"`
	} `json:"input"`
	Parameters struct {
		Temperature float64 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens,omitempty"`
	} `json:"parameters"`
}

type dashScopeResponse struct {
	Output struct {
		Text string `json:"text"`
	} `json:"output"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *DashScopeClient) Submit(ctx context.Context, req Request) (string, error) {
	callCtx, cancel := callContext(ctx, req.Params)
	defer cancel()

	var payload dashScopeRequest
	payload.Model = c.model
	payload.Input.Prompt = joinPrompts(req.System, req.User)
	payload.Parameters.Temperature = req.Params.Temperature
	payload.Parameters.MaxTokens = req.Params.MaxTokens

	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}

	var apiResp dashScopeResponse
	if err := postJSON(callCtx, c.httpClient, c.url, headers, payload, &apiResp); err != nil {
		return "", err
	}
	if apiResp.Code != "" {
		return "", &Failure{Class: ClassOther, Message: apiResp.Code + ": " + apiResp.Message}
	}
	if apiResp.Output.Text == "" {
		return "", &Failure{Class: ClassOther, Message: "empty response from dashscope"}
	}
	return apiResp.Output.Text, nil
}

func (c *DashScopeClient) Model() string { return c.model }

func (c *DashScopeClient) Close() {
	c.httpClient.CloseIdleConnections()
}

func joinPrompts(system, user string) string {
	system = strings.TrimSpace(system)
	if system == "" {
		return user
	}
	return system + "\n\n" + user
}
