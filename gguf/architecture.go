package gguf

import (
	"fmt"

	"github.com/dddimcha/embodiOS-sub002/coreerror"
)

// ArchitectureRecord is the model-architecture metadata record, §3.
type ArchitectureRecord struct {
	Name string

	EmbeddingLength           uint64 // n_embd
	FeedForwardLength         uint64 // n_ff
	BlockCount                uint64 // n_layers
	AttentionHeadCount        uint64 // n_heads
	AttentionHeadCountKV      uint64 // n_kv_heads
	VocabularyLength          uint64 // vocab_size
	ContextLength             uint64 // context_length, capped at 2048
	RoPEFrequencyBase         float32
	AttentionLayerNormRMSEpsilon float32

	BOSTokenID int64
	EOSTokenID int64

	// Derived.
	HeadDim uint64
	KVDim   uint64
	KVMul   uint64
}

const maxContextLength = 2048

// Architecture derives the ArchitectureRecord from the file's metadata,
// reading <arch>.* keys as named in §4.1 and applying the defaults of §3
// for any optional key that is absent.
func (f *File) Architecture() (ArchitectureRecord, error) {
	kvs := f.Header.MetadataKV

	arch := ValueString(kvs, "general.architecture", "")
	if arch == "" {
		return ArchitectureRecord{}, coreerror.New(coreerror.InvalidModel, "missing general.architecture")
	}

	key := func(suffix string) string { return arch + "." + suffix }

	var r ArchitectureRecord
	r.Name = arch

	r.EmbeddingLength = ValueNumeric[uint64](kvs, key("embedding_length"))
	if r.EmbeddingLength == 0 {
		return r, coreerror.New(coreerror.InvalidModel, fmt.Sprintf("missing or zero %s", key("embedding_length")))
	}
	r.FeedForwardLength = ValueNumeric[uint64](kvs, key("feed_forward_length"))
	r.BlockCount = ValueNumeric[uint64](kvs, key("block_count"))
	if r.BlockCount == 0 {
		return r, coreerror.New(coreerror.InvalidModel, fmt.Sprintf("missing or zero %s", key("block_count")))
	}

	r.AttentionHeadCount = ValueNumeric[uint64](kvs, key("attention.head_count"))
	if r.AttentionHeadCount == 0 {
		return r, coreerror.New(coreerror.InvalidModel, fmt.Sprintf("missing or zero %s", key("attention.head_count")))
	}
	r.AttentionHeadCountKV = ValueNumericOr[uint64](kvs, key("attention.head_count_kv"), r.AttentionHeadCount)
	if r.AttentionHeadCountKV == 0 {
		r.AttentionHeadCountKV = r.AttentionHeadCount
	}

	r.ContextLength = ValueNumericOr[uint64](kvs, key("context_length"), maxContextLength)
	if r.ContextLength > maxContextLength {
		r.ContextLength = maxContextLength
	}

	r.RoPEFrequencyBase = ValueNumericOr[float32](kvs, key("rope.freq_base"), 10000)
	r.AttentionLayerNormRMSEpsilon = ValueNumericOr[float32](kvs, key("attention.layer_norm_rms_epsilon"), 1e-5)

	r.BOSTokenID = int64(ValueNumericOr[int64](kvs, "tokenizer.ggml.bos_token_id", -1))
	r.EOSTokenID = int64(ValueNumericOr[int64](kvs, "tokenizer.ggml.eos_token_id", -1))

	r.VocabularyLength = uint64(len(ValuesArray(kvs, "tokenizer.ggml.tokens")))
	if r.VocabularyLength == 0 {
		r.VocabularyLength = ValueNumericOr[uint64](kvs, key("vocab_size"), 0)
	}
	if r.VocabularyLength == 0 {
		return r, coreerror.New(coreerror.InvalidModel, "could not determine vocabulary length")
	}

	if r.EmbeddingLength%r.AttentionHeadCount != 0 {
		return r, coreerror.New(coreerror.InvalidModel, fmt.Sprintf("embedding_length %d not divisible by head_count %d", r.EmbeddingLength, r.AttentionHeadCount))
	}
	if r.AttentionHeadCount%r.AttentionHeadCountKV != 0 {
		return r, coreerror.New(coreerror.InvalidModel, fmt.Sprintf("head_count %d not divisible by head_count_kv %d", r.AttentionHeadCount, r.AttentionHeadCountKV))
	}

	r.HeadDim = r.EmbeddingLength / r.AttentionHeadCount
	r.KVDim = r.HeadDim * r.AttentionHeadCountKV
	r.KVMul = r.AttentionHeadCount / r.AttentionHeadCountKV

	return r, nil
}
