// Package openai adapts the OpenAI chat completion API to the model.ChatModel
// interface.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Model calls the OpenAI chat completion endpoint.
type Model struct {
	client openai.Client
	opts   Options
}

// Options holds model configuration.
type Options struct {
	// Model is the model identifier (default: gpt-4o-mini).
	Model string
	// Temperature applies to every completion.
	Temperature float64
	// BaseURL overrides the API endpoint, for OpenAI-compatible providers.
	BaseURL string
	// APIKey overrides the OPENAI_API_KEY environment variable.
	APIKey string
}

// Option configures the model.
type Option func(*Options)

// WithModel sets the model identifier.
func WithModel(name string) Option {
	return func(o *Options) { o.Model = name }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Options) { o.Temperature = t }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Options) { o.BaseURL = url }
}

// WithAPIKey sets the API key explicitly.
func WithAPIKey(key string) Option {
	return func(o *Options) { o.APIKey = key }
}

// New creates a Model. Without options the client reads OPENAI_API_KEY
// from the environment.
func New(optFns ...Option) *Model {
	opts := Options{
		Model:       openai.ChatModelGPT4oMini,
		Temperature: 0.2,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	var reqOpts []option.RequestOption
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	return &Model{
		client: openai.NewClient(reqOpts...),
		opts:   opts,
	}
}

// Generate implements model.ChatModel.
func (m *Model) Generate(ctx context.Context, system, user string) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(user))
	resp, err := m.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       m.opts.Model,
		Messages:    messages,
		Temperature: openai.Float(m.opts.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in completion response")
	}
	return resp.Choices[0].Message.Content, nil
}
