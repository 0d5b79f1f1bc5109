package gguf

import "github.com/dddimcha/embodiOS-sub002/coreerror"

// TokenizerMetadata is the vocabulary/merges/special-token data read
// straight out of the container's metadata section, before the tokenizer
// package turns it into an encoder/decoder.
type TokenizerMetadata struct {
	Model string // e.g. "llama" (SentencePiece-style BPE)

	Tokens []string
	Scores []float32
	Merges []string // "left right" pairs, in priority order

	BOSTokenID int64
	EOSTokenID int64
	UNKTokenID int64
	PADTokenID int64
}

// Tokenizer reads tokenizer.ggml.* metadata keys.
func (f *File) Tokenizer() (TokenizerMetadata, error) {
	kvs := f.Header.MetadataKV

	var t TokenizerMetadata
	t.Model = ValueString(kvs, "tokenizer.ggml.model", "llama")

	rawTokens := ValuesArray(kvs, "tokenizer.ggml.tokens")
	if len(rawTokens) == 0 {
		return t, coreerror.New(coreerror.InvalidModel, "missing tokenizer.ggml.tokens")
	}
	t.Tokens = make([]string, len(rawTokens))
	for i, v := range rawTokens {
		s, ok := v.(string)
		if !ok {
			return t, coreerror.New(coreerror.InvalidModel, "tokenizer.ggml.tokens contains a non-string entry")
		}
		t.Tokens[i] = s
	}

	if rawScores := ValuesArray(kvs, "tokenizer.ggml.scores"); len(rawScores) == len(t.Tokens) {
		t.Scores = make([]float32, len(rawScores))
		for i, v := range rawScores {
			if f32, ok := v.(float32); ok {
				t.Scores[i] = f32
			}
		}
	}

	if rawMerges := ValuesArray(kvs, "tokenizer.ggml.merges"); len(rawMerges) > 0 {
		t.Merges = make([]string, len(rawMerges))
		for i, v := range rawMerges {
			if s, ok := v.(string); ok {
				t.Merges[i] = s
			}
		}
	}

	t.BOSTokenID = ValueNumericOr[int64](kvs, "tokenizer.ggml.bos_token_id", -1)
	t.EOSTokenID = ValueNumericOr[int64](kvs, "tokenizer.ggml.eos_token_id", -1)
	t.UNKTokenID = ValueNumericOr[int64](kvs, "tokenizer.ggml.unknown_token_id", -1)
	t.PADTokenID = ValueNumericOr[int64](kvs, "tokenizer.ggml.padding_token_id", -1)

	return t, nil
}
