package core

import "context"

// LanguageModel is any text generation service.
type LanguageModel interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
