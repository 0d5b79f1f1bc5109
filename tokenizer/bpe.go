package tokenizer

import (
	"strings"
	"unicode/utf8"
)

// Encoder implements §4.5's BPE encode/decode contract over one Vocab.
type Encoder struct {
	v *Vocab
}

// NewEncoder wraps v for encoding and decoding.
func NewEncoder(v *Vocab) *Encoder { return &Encoder{v: v} }

// initialPieces converts s into base BPE symbols: each rune maps to its
// vocab entry (spaces translated to the leading-space marker first) when
// present, else each of its UTF-8 bytes falls back to a byte piece.
func (e *Encoder) initialPieces(s string) []string {
	s = strings.ReplaceAll(s, " ", spaceMarker)

	pieces := make([]string, 0, len(s))
	for _, r := range s {
		piece := string(r)
		if _, ok := e.v.ID(piece); ok {
			pieces = append(pieces, piece)
			continue
		}
		buf := make([]byte, utf8.RuneLen(r))
		utf8.EncodeRune(buf, r)
		for _, b := range buf {
			pieces = append(pieces, byteFallbackPiece(b))
		}
	}
	return pieces
}

// merge repeatedly folds the adjacent pair with the lowest merge rank
// until none applies, per §4.5's iterate step.
func (e *Encoder) merge(pieces []string) []string {
	for {
		bestRank, bestIdx := -1, -1
		for i := 0; i+1 < len(pieces); i++ {
			rank, ok := e.v.mergeRank[mergePair{pieces[i], pieces[i+1]}]
			if ok && (bestRank == -1 || rank < bestRank) {
				bestRank, bestIdx = rank, i
			}
		}
		if bestIdx == -1 {
			return pieces
		}
		merged := pieces[bestIdx] + pieces[bestIdx+1]
		next := make([]string, 0, len(pieces)-1)
		next = append(next, pieces[:bestIdx]...)
		next = append(next, merged)
		next = append(next, pieces[bestIdx+2:]...)
		pieces = next
	}
}

// Encode implements §4.5's encoding contract: byte-fallback initial
// pieces, iterative lowest-rank merging, optional BOS/EOS, silent
// truncation to maxTokens (0 means unbounded).
func (e *Encoder) Encode(s string, addBOS, addEOS bool, maxTokens int) []int32 {
	pieces := e.merge(e.initialPieces(s))

	ids := make([]int32, 0, len(pieces)+2)
	if addBOS && e.v.bosID >= 0 {
		ids = append(ids, int32(e.v.bosID))
	}
	for _, p := range pieces {
		if id, ok := e.v.ID(p); ok {
			ids = append(ids, id)
		} else if e.v.unkID >= 0 {
			ids = append(ids, int32(e.v.unkID))
		}
	}
	if addEOS && e.v.eosID >= 0 {
		ids = append(ids, int32(e.v.eosID))
	}
	if maxTokens > 0 && len(ids) > maxTokens {
		ids = ids[:maxTokens]
	}
	return ids
}

// Decode implements §4.5's decoding contract: concatenate pieces,
// skipping special tokens, translating the leading-space marker back to
// a literal space and reassembling byte-fallback pieces into raw bytes.
func (e *Encoder) Decode(ids []int32) string {
	var sb strings.Builder
	var raw []byte
	flushRaw := func() {
		if len(raw) > 0 {
			sb.Write(raw)
			raw = raw[:0]
		}
	}

	for _, id := range ids {
		if e.v.isSpecial(id) {
			continue
		}
		piece, ok := e.v.Piece(id)
		if !ok {
			continue
		}
		if b, ok := byteFromFallbackPiece(piece); ok {
			raw = append(raw, b)
			continue
		}
		flushRaw()
		sb.WriteString(strings.ReplaceAll(piece, spaceMarker, " "))
	}
	flushRaw()
	return sb.String()
}
