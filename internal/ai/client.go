package ai

import (
	"context"
	"errors"
)

// Params carries the completion parameters shared by every provider call.
type Params struct {
	Temperature float32
	MaxTokens   int
}

// DefaultParams returns the fixed parameters used for room responses.
func DefaultParams() Params {
	return Params{Temperature: 0.7, MaxTokens: 500}
}

// Provider produces assistant text for a composed prompt.
type Provider interface {
	Name() string
	Respond(ctx context.Context, prompt string, params Params) (string, error)
}

// ErrAllProvidersFailed is the terminal orchestration failure: every provider
// in the chain failed for this response cycle and the caller must not retry.
var ErrAllProvidersFailed = errors.New("all ai providers failed")
