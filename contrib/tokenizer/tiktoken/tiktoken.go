package tiktoken

import (
	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens with OpenAI's BPE encodings. Satisfies the
// engine's llm.Tokenizer interface for prompt budgeting.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New resolves the encoding by model name first, then by encoding name.
func New(name string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, err
		}
	}
	return &Tokenizer{enc: enc}, nil
}

// Encode returns the token ids for the text.
func (t *Tokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

// CountTokens returns how many tokens the text encodes to.
func (t *Tokenizer) CountTokens(text string) int {
	return len(t.Encode(text))
}

// Decode turns token ids back into text.
func (t *Tokenizer) Decode(ids []int) string {
	return t.enc.Decode(ids)
}
