// Package llm wraps the external LLM provider behind a gateway with uniform
// timeout, one-shot retry, strict JSON parsing, and schema validation. The
// gateway is the only component that retries; handlers never do.
package llm

import (
	"context"
	"errors"
)

// Kind selects the pipeline stage a call belongs to. Each kind has its own
// model, temperature, token cap, and result schema.
type Kind string

const (
	KindClassifier Kind = "classifier"
	KindStep       Kind = "step"
)

// Request is a single completion request to the provider.
type Request struct {
	Kind         Kind
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
}

// Provider is the injected external LLM dependency. Implementations must
// honor ctx cancellation and return the raw response body text.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Gateway errors. Handlers map all of them to deterministic fallbacks; none
// reaches the user raw.
var (
	// ErrTimeout means the hard per-call deadline elapsed. Never retried.
	ErrTimeout = errors.New("llm call timed out")

	// ErrTransport means the provider failed twice (initial + one retry).
	ErrTransport = errors.New("llm transport error")

	// ErrInvalidJSON means the result body was not parseable JSON.
	ErrInvalidJSON = errors.New("llm returned invalid json")

	// ErrSchema means the parsed result failed per-kind schema validation.
	ErrSchema = errors.New("llm result failed schema validation")
)
