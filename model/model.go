// Package model derives the owning, validated runtime aggregate the rest
// of the engine operates on: the architecture record, the per-layer weight
// directory, and the embedding-layout decision of §4.7. This collapses the
// teacher's read-only inspection report into one owning struct, per the
// "collapse globals into one owning aggregate" redesign note.
package model

import (
	"fmt"

	"github.com/dddimcha/embodiOS-sub002/coreerror"
	"github.com/dddimcha/embodiOS-sub002/gguf"
)

// EmbeddingLayout is the detected layout of token_embd.weight.
type EmbeddingLayout int

const (
	LayoutStandard    EmbeddingLayout = iota // [n_embd, vocab]
	LayoutTransposed                         // [vocab, n_embd]
)

func (l EmbeddingLayout) String() string {
	if l == LayoutTransposed {
		return "transposed"
	}
	return "standard"
}

// LayerWeights is the tensor directory for one decoder layer.
type LayerWeights struct {
	AttnNorm   gguf.TensorRef
	AttnQ      gguf.TensorRef
	AttnK      gguf.TensorRef
	AttnV      gguf.TensorRef
	AttnOutput gguf.TensorRef
	FFNNorm    gguf.TensorRef
	FFNGate    gguf.TensorRef
	FFNUp      gguf.TensorRef
	FFNDown    gguf.TensorRef
}

// Model is the fully validated, owning runtime aggregate built from a
// parsed GGUF file: the architecture record plus every weight tensor the
// executor will touch, resolved once at load time.
type Model struct {
	Arch gguf.ArchitectureRecord

	TokenEmbedding gguf.TensorRef
	OutputNorm     gguf.TensorRef
	Output         gguf.TensorRef // zero value if tied
	TiedOutput     bool

	EmbeddingLayout EmbeddingLayout

	Layers []LayerWeights

	Size          gguf.BytesScalar
	Parameters    gguf.ParametersScalar
	BitsPerWeight gguf.BitsPerWeightScalar
}

func requireTensor(f *gguf.File, name string) (gguf.TensorRef, error) {
	ref, ok := f.Tensor(name)
	if !ok {
		return gguf.TensorRef{}, coreerror.New(coreerror.InvalidModel, fmt.Sprintf("missing required tensor %q", name))
	}
	return ref, nil
}

// Load validates and resolves a Model from a parsed GGUF file, per the
// invariants of §3: every layer tensor must exist, n_embd/n_heads and
// n_heads/n_kv_heads divisibility must hold (already checked by
// gguf.File.Architecture), and the embedding layout is detected per §4.7.
func Load(f *gguf.File) (*Model, error) {
	arch, err := f.Architecture()
	if err != nil {
		return nil, err
	}

	tokenEmbd, err := requireTensor(f, "token_embd.weight")
	if err != nil {
		return nil, err
	}
	outputNorm, err := requireTensor(f, "output_norm.weight")
	if err != nil {
		return nil, err
	}

	m := &Model{
		Arch:           arch,
		TokenEmbedding: tokenEmbd,
		OutputNorm:     outputNorm,
		Size:           f.ModelSize,
		Parameters:     f.ModelParameters,
		BitsPerWeight:  f.ModelBitsPerWeight,
	}

	if out, ok := f.Tensor("output.weight"); ok {
		m.Output = out
		m.TiedOutput = false
	} else {
		m.TiedOutput = true
	}

	// §4.7 embedding layout detection.
	dims := tokenEmbd.Info.Dimensions
	if len(dims) != 2 {
		return nil, coreerror.New(coreerror.InvalidModel, fmt.Sprintf("token_embd.weight has %d dimensions, want 2", len(dims)))
	}
	d0, d1 := dims[0], dims[1]
	switch {
	case d0 == arch.EmbeddingLength && d1 == arch.VocabularyLength:
		m.EmbeddingLayout = LayoutStandard
	case d0 == arch.VocabularyLength && d1 == arch.EmbeddingLength:
		m.EmbeddingLayout = LayoutTransposed
	case d0 == arch.EmbeddingLength:
		m.EmbeddingLayout = LayoutStandard
	default:
		m.EmbeddingLayout = LayoutTransposed
	}

	m.Layers = make([]LayerWeights, arch.BlockCount)
	for l := uint64(0); l < arch.BlockCount; l++ {
		prefix := fmt.Sprintf("blk.%d.", l)
		lw := LayerWeights{}
		var err error
		if lw.AttnNorm, err = requireTensor(f, prefix+"attn_norm.weight"); err != nil {
			return nil, err
		}
		if lw.AttnQ, err = requireTensor(f, prefix+"attn_q.weight"); err != nil {
			return nil, err
		}
		if lw.AttnK, err = requireTensor(f, prefix+"attn_k.weight"); err != nil {
			return nil, err
		}
		if lw.AttnV, err = requireTensor(f, prefix+"attn_v.weight"); err != nil {
			return nil, err
		}
		if lw.AttnOutput, err = requireTensor(f, prefix+"attn_output.weight"); err != nil {
			return nil, err
		}
		if lw.FFNNorm, err = requireTensor(f, prefix+"ffn_norm.weight"); err != nil {
			return nil, err
		}
		if lw.FFNGate, err = requireTensor(f, prefix+"ffn_gate.weight"); err != nil {
			return nil, err
		}
		if lw.FFNUp, err = requireTensor(f, prefix+"ffn_up.weight"); err != nil {
			return nil, err
		}
		if lw.FFNDown, err = requireTensor(f, prefix+"ffn_down.weight"); err != nil {
			return nil, err
		}
		m.Layers[l] = lw
	}

	return m, nil
}
