// Package llm talks to remote text-generation services and maps every way a
// call can fail onto one small taxonomy.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultTimeout bounds a single generation call when the caller sets none.
const DefaultTimeout = 120 * time.Second

// Params tunes one generation call.
type Params struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Request is a rendered prompt pair plus call parameters.
type Request struct {
	System string // Instruction prompt
	User   string // Content request
	Params Params
}

// Client submits a prompt and returns the generated text, or an error that
// Classify can place in the failure taxonomy.
type Client interface {
	Submit(ctx context.Context, req Request) (string, error)
	Model() string
	Close()
}

// Backend names accepted by New.
const (
	BackendAnthropic = "anthropic"
	BackendOpenAI    = "openai"
	BackendDashScope = "dashscope"
)

// Options configures a backend client.
type Options struct {
	APIKey  string
	Model   string
	BaseURL string
}

// New builds the client for a backend name. "openrouter" is an alias for the
// OpenAI-compatible backend with the OpenRouter base URL.
func New(backend string, opts Options) (Client, error) {
	switch strings.ToLower(backend) {
	case BackendAnthropic, "claude":
		return NewAnthropicClient(opts), nil
	case BackendOpenAI:
		return NewOpenAIClient(opts), nil
	case "openrouter":
		if opts.BaseURL == "" {
			opts.BaseURL = OpenRouterBaseURL
		}
		return NewOpenAIClient(opts), nil
	case BackendDashScope:
		return NewDashScopeClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm backend %q", backend)
	}
}

// callContext applies the per-call timeout.
func callContext(ctx context.Context, p Params) (context.Context, context.CancelFunc) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
