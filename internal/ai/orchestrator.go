package ai

import (
	"context"
	"fmt"
	"log"
)

// Orchestrator tries a short-circuit ordered chain of capability-equivalent
// providers: first success wins, intermediate failures are absorbed, and only
// the exhaustion of the whole chain surfaces as an error. There is no retry
// loop beyond the single pass over the chain.
type Orchestrator struct {
	providers []Provider
}

// NewOrchestrator builds the chain in fallback order (primary first).
func NewOrchestrator(providers ...Provider) *Orchestrator {
	return &Orchestrator{providers: providers}
}

// Respond invokes each provider in order with the same prompt and parameters.
// On total failure it returns ErrAllProvidersFailed; the caller must treat
// that as terminal for the current response cycle.
func (o *Orchestrator) Respond(ctx context.Context, prompt string, params Params) (string, error) {
	if len(o.providers) == 0 {
		return "", ErrAllProvidersFailed
	}
	for i, provider := range o.providers {
		text, err := provider.Respond(ctx, prompt, params)
		if err == nil {
			return text, nil
		}
		if i < len(o.providers)-1 {
			log.Printf("ai provider %s failed, trying fallback: %v", provider.Name(), err)
			continue
		}
		log.Printf("ai provider %s failed, chain exhausted: %v", provider.Name(), err)
		return "", fmt.Errorf("%w: %v", ErrAllProvidersFailed, err)
	}
	return "", ErrAllProvidersFailed
}
