package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spigell/doc-reviewer/internal/ai"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	Provider         = "anthropic"
	defaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 2048
)

type messages interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Client sends prompts to the Anthropic messages API.
type Client struct {
	messages messages
	model    string
}

func New(apiKey, model, baseURL string) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")))
	}

	client := anthropic.NewClient(opts...)

	return newClient(&client.Messages, model), nil
}

func newClient(m messages, model string) *Client {
	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	return &Client{messages: m, model: model}
}

func (c *Client) Complete(ctx context.Context, req ai.Request) (string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", errors.New("prompt must not be empty")
	}

	maxTokens := int64(req.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(float64(req.Temperature)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := c.messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("create message: %w", err)
	}

	var builder strings.Builder
	for _, block := range msg.Content {
		if block.Type != "text" {
			continue
		}
		text := strings.TrimSpace(block.Text)
		if text == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(text)
	}

	output := strings.TrimSpace(builder.String())
	if output == "" {
		return "", errors.New("anthropic api returned empty response")
	}

	return output, nil
}

func (c *Client) Classify(err error) ai.Kind {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if kind, ok := ai.KindFromStatus(apiErr.StatusCode); ok {
			return kind
		}
	}
	return ai.ClassifyMessage(err)
}

func (c *Client) Provider() string { return Provider }

func (c *Client) Model() string { return c.model }
