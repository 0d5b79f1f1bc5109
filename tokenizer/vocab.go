// Package tokenizer implements the BPE encode/decode contract of §4.5
// over a vocabulary resolved from a GGUF file's tokenizer metadata.
package tokenizer

import (
	"strings"

	"github.com/dddimcha/embodiOS-sub002/coreerror"
	"github.com/dddimcha/embodiOS-sub002/gguf"
)

// spaceMarker is the LLaMA leading-space convention ("▁", U+2581).
const spaceMarker = "▁"

type mergePair struct{ left, right string }

// Vocab is the resolved BPE vocabulary: token<->id mapping, merge
// priorities, and the 256 byte-fallback pieces, built once per model.
type Vocab struct {
	tokens    []string
	tokenToID map[string]int32
	mergeRank map[mergePair]int

	bosID, eosID, unkID, padID int64
}

func byteFallbackPiece(b byte) string {
	const hex = "0123456789ABCDEF"
	return "<0x" + string([]byte{hex[b>>4], hex[b&0xF]}) + ">"
}

func byteFromFallbackPiece(piece string) (byte, bool) {
	if len(piece) != 6 || piece[:3] != "<0x" || piece[5] != '>' {
		return 0, false
	}
	hi, ok1 := hexVal(piece[3])
	lo, ok2 := hexVal(piece[4])
	if !ok1 || !ok2 {
		return 0, false
	}
	return hi<<4 | lo, true
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}

// LoadVocab builds a Vocab from a parsed GGUF file's tokenizer metadata.
func LoadVocab(meta gguf.TokenizerMetadata) (*Vocab, error) {
	if len(meta.Tokens) == 0 {
		return nil, coreerror.New(coreerror.InvalidModel, "tokenizer metadata has no tokens")
	}

	v := &Vocab{
		tokens:    meta.Tokens,
		tokenToID: make(map[string]int32, len(meta.Tokens)),
		mergeRank: make(map[mergePair]int, len(meta.Merges)),
		bosID:     meta.BOSTokenID,
		eosID:     meta.EOSTokenID,
		unkID:     meta.UNKTokenID,
		padID:     meta.PADTokenID,
	}
	for id, tok := range meta.Tokens {
		v.tokenToID[tok] = int32(id)
	}
	for rank, m := range meta.Merges {
		parts := strings.SplitN(m, " ", 2)
		if len(parts) != 2 {
			continue
		}
		v.mergeRank[mergePair{parts[0], parts[1]}] = rank
	}
	return v, nil
}

// ID returns the vocabulary id of piece, if present.
func (v *Vocab) ID(piece string) (int32, bool) {
	id, ok := v.tokenToID[piece]
	return id, ok
}

// Piece returns the token string for id, if id is in range.
func (v *Vocab) Piece(id int32) (string, bool) {
	if id < 0 || int(id) >= len(v.tokens) {
		return "", false
	}
	return v.tokens[id], true
}

func (v *Vocab) isSpecial(id int32) bool {
	id64 := int64(id)
	return id64 == v.bosID || id64 == v.eosID || id64 == v.padID || id64 == v.unkID
}
