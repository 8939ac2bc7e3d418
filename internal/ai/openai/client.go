package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spigell/doc-reviewer/internal/ai"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

const (
	Provider     = "openai"
	defaultModel = "gpt-4o-mini"
)

type chatCompletions interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client sends prompts to an OpenAI compatible chat completion endpoint.
type Client struct {
	completions chatCompletions
	model       string
}

// New builds a Client. baseURL is optional and allows compatible gateways.
func New(apiKey, model, baseURL string) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// retries are owned by the pipeline
		option.WithMaxRetries(0),
	}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}

	client := openai.NewClient(opts...)

	return newClient(&client.Chat.Completions, model), nil
}

func newClient(completions chatCompletions, model string) *Client {
	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	return &Client{completions: completions, model: model}
}

func (c *Client) Complete(ctx context.Context, req ai.Request) (string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", errors.New("prompt must not be empty")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(float64(req.Temperature)),
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
	}

	resp, err := c.completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}

	var builder strings.Builder
	for _, choice := range resp.Choices {
		text := strings.TrimSpace(choice.Message.Content)
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
		return "", errors.New("openai api returned empty response")
	}

	return output, nil
}

func (c *Client) Classify(err error) ai.Kind {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if kind, ok := ai.KindFromStatus(apiErr.StatusCode); ok {
			return kind
		}
	}
	return ai.ClassifyMessage(err)
}

func (c *Client) Provider() string { return Provider }

func (c *Client) Model() string { return c.model }
