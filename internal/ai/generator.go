package ai

import (
	"context"
	"fmt"
)

// Generator produces suggestion text for a prompt. Implementations must
// honor ctx cancellation; the caller bounds every request with a deadline.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Canned is the deterministic generator used when no API key is configured.
// It exists so the collaboration path works end to end without an external
// model.
type Canned struct{}

func (Canned) Generate(_ context.Context, prompt string) (string, error) {
	return fmt.Sprintf(
		"AI Suggestion: Based on your prompt '%s', I recommend adding more character interactions and plot twists to your script.",
		prompt,
	), nil
}
