package llm

import "context"

// Client is the single language-model capability the engine depends on.
// Implementations live under contrib/llm; the engine treats every call as a
// black box returning free text that may wrap a JSON answer in prose.
type Client interface {
	// Complete generates a completion for the given prompt.
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleteFunc adapts a plain function to the Client interface.
type CompleteFunc func(ctx context.Context, prompt string) (string, error)

// Complete implements Client.
func (f CompleteFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Tokenizer counts tokens so callers can budget prompt construction.
// contrib/tokenizer/tiktoken provides the reference implementation.
type Tokenizer interface {
	CountTokens(text string) int
}
