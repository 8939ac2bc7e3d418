package ai

import "context"

// Request is a single prompt sent to a text generation backend.
type Request struct {
	System          string
	Prompt          string
	Temperature     float32
	MaxOutputTokens int32
}

// Completer produces text for a prompt. Implementations return the raw
// backend error so that a Classifier can inspect it.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Backend is a Completer that knows how to classify its own failures.
type Backend interface {
	Completer
	Classifier
	Provider() string
	Model() string
}
