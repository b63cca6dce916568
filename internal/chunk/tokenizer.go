package chunk

import (
	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts and splits tokens for a specific provider-matched model.
type Tokenizer interface {
	Count(text string) int
	Encode(text string) []int
	Decode(tokens []int) string
}

// tiktokenTokenizer wraps pkoukk/tiktoken-go's BPE encoder, the tokenizer
// library providing provider-matched counts for OpenAI-family embedding
// models named by tokenizer_model.
type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizer resolves the tokenizer for modelName, falling back to
// cl100k_base (the encoding shared by the text-embedding-3-* family) if the
// model isn't recognized by tiktoken-go.
func NewTokenizer(modelName string) (Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	return &tiktokenTokenizer{enc: enc}, nil
}

func (t *tiktokenTokenizer) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

func (t *tiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *tiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}
