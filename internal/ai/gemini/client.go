package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spigell/doc-reviewer/internal/ai"

	"google.golang.org/genai"
)

const (
	Provider     = "gemini"
	defaultModel = "gemini-2.5-flash"
)

// models is the subset of genai.Models used by the Generator.
type models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Generator wraps the Google GenAI client to provide simple prompt-based interactions.
type Generator struct {
	models    models
	modelName string
}

// NewGenerator creates a new Generator configured for the Gemini API backend.
func NewGenerator(ctx context.Context, apiKey, model string) (*Generator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newGenerator(client.Models, model), nil
}

func newGenerator(m models, model string) *Generator {
	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}

	return &Generator{models: m, modelName: model}
}

// Complete sends the prompt to Gemini and returns the concatenated textual response.
func (g *Generator) Complete(ctx context.Context, req ai.Request) (string, error) {
	if g == nil || g.models == nil {
		return "", errors.New("gemini generator is not initialized")
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", errors.New("prompt must not be empty")
	}

	temperature := req.Temperature
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: req.MaxOutputTokens,
	}
	if system := strings.TrimSpace(req.System); system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}

	resp, err := g.models.GenerateContent(ctx, g.modelName, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	output := strings.TrimSpace(builder.String())
	if output == "" {
		return "", errors.New("gemini api returned empty response")
	}

	return output, nil
}

// Classify inspects genai.APIError first and falls back to message markers.
func (g *Generator) Classify(err error) ai.Kind {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if strings.EqualFold(apiErr.Status, "RESOURCE_EXHAUSTED") {
			return ai.KindRateLimited
		}
		if kind, ok := ai.KindFromStatus(apiErr.Code); ok {
			return kind
		}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		if kind, ok := ai.KindFromStatus(apiErrPtr.Code); ok {
			return kind
		}
	}

	return ai.ClassifyMessage(err)
}

func (g *Generator) Provider() string {
	return Provider
}

func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.modelName
}
