// Package llm holds the provider clients behind the step.LLMClient interface.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/halcyonix/playbook/internal/step"
)

const defaultModel = string(anthropic.ModelClaude3_5HaikuLatest)

// AnthropicClient calls the Anthropic Messages API. One client is shared by
// all executions; the SDK handles connection reuse and transport retries.
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
}

// AnthropicOptions configures an AnthropicClient.
type AnthropicOptions struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// NewAnthropicClient builds a client from options. The default model is used
// when a step names none.
func NewAnthropicClient(opts AnthropicOptions) (*AnthropicClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	clientOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	model := opts.DefaultModel
	if model == "" {
		model = defaultModel
	}
	return &AnthropicClient{
		client:       anthropic.NewClient(clientOpts...),
		defaultModel: model,
	}, nil
}

// Execute sends one rendered prompt as a single-turn user message and returns
// the concatenated text blocks of the response.
func (c *AnthropicClient) Execute(ctx context.Context, modelName, prompt string, params step.Params) (step.LLMResult, error) {
	if modelName == "" {
		modelName = c.defaultModel
	}

	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: int64(params.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if params.Temperature > 0 {
		req.Temperature = anthropic.Float(params.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, req)
	if err != nil {
		return step.LLMResult{}, fmt.Errorf("anthropic: %w", err)
	}

	return step.LLMResult{
		Text: extractText(msg),
		Usage: step.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// extractText joins all text blocks of the response.
func extractText(msg *anthropic.Message) string {
	if msg == nil {
		return ""
	}
	var parts []string
	for _, block := range msg.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}
