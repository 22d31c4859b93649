// ABOUTME: OpenAI Chat Completions provider with base URL support for compatible services.
// ABOUTME: Implements both Provider and Streamer so AI nodes can emit partial-output events.
package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider using the Chat Completions API. A custom
// base URL points it at OpenAI-compatible services (OpenRouter, Cerebras,
// gateway deployments).
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// Compile-time capability checks.
var (
	_ Provider = (*OpenAIProvider)(nil)
	_ Streamer = (*OpenAIProvider)(nil)
)

// NewOpenAIProvider creates a provider with the given credentials. model is
// the default used when a request leaves Model empty.
func NewOpenAIProvider(apiKey, model, baseURL string) *OpenAIProvider {
	if model == "" {
		model = "gpt-4o-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Invoke sends one completion request and returns the full response.
func (p *OpenAIProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai completion: empty choices")
	}
	return &Response{
		Text: resp.Choices[0].Message.Content,
		TokenUsage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// InvokeStream sends a streaming completion request. Content deltas are
// forwarded as they arrive; the accumulated response is delivered in the
// terminal event.
func (p *OpenAIProvider) InvokeStream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.buildParams(req))

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)

		var acc openai.ChatCompletionAccumulator
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				events <- StreamEvent{Delta: chunk.Choices[0].Delta.Content}
			}
		}
		if err := stream.Err(); err != nil {
			events <- StreamEvent{Err: fmt.Errorf("openai stream: %w", err)}
			return
		}

		text := ""
		if len(acc.Choices) > 0 {
			text = acc.Choices[0].Message.Content
		}
		events <- StreamEvent{Done: &Response{
			Text: text,
			TokenUsage: Usage{
				InputTokens:  int(acc.Usage.PromptTokens),
				OutputTokens: int(acc.Usage.CompletionTokens),
			},
		}}
	}()

	return events, nil
}

// buildParams converts a Request into Chat Completions parameters.
func (p *OpenAIProvider) buildParams(req Request) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}
