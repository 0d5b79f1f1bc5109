package model

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dddimcha/embodiOS-sub002/gguf"
)

// writeString and the *KV helpers mirror gguf's own test fixtures; duplicated
// here (rather than exported from gguf) since only tests need them.
func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint64(len(s)))
	buf.WriteString(s)
}

type kv struct{ bytes []byte }

func stringKV(key, value string) kv {
	var b bytes.Buffer
	writeString(&b, key)
	binary.Write(&b, binary.LittleEndian, uint32(gguf.ValueTypeString))
	writeString(&b, value)
	return kv{b.Bytes()}
}

func u32KV(key string, v uint32) kv {
	var b bytes.Buffer
	writeString(&b, key)
	binary.Write(&b, binary.LittleEndian, uint32(gguf.ValueTypeUint32))
	binary.Write(&b, binary.LittleEndian, v)
	return kv{b.Bytes()}
}

func f32KV(key string, v float32) kv {
	var b bytes.Buffer
	writeString(&b, key)
	binary.Write(&b, binary.LittleEndian, uint32(gguf.ValueTypeFloat32))
	binary.Write(&b, binary.LittleEndian, v)
	return kv{b.Bytes()}
}

func stringArrayKV(key string, values []string) kv {
	var b bytes.Buffer
	writeString(&b, key)
	binary.Write(&b, binary.LittleEndian, uint32(gguf.ValueTypeArray))
	binary.Write(&b, binary.LittleEndian, uint32(gguf.ValueTypeString))
	binary.Write(&b, binary.LittleEndian, uint64(len(values)))
	for _, v := range values {
		writeString(&b, v)
	}
	return kv{b.Bytes()}
}

type tensorSpec struct {
	name string
	dims []uint64
	typ  gguf.GGMLType
	data []byte
}

func buildModel(kvs []kv, tensors []tensorSpec) []byte {
	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, uint32(gguf.MagicGGUFLittleEndian))
	binary.Write(&out, binary.LittleEndian, uint32(gguf.VersionV3))
	binary.Write(&out, binary.LittleEndian, uint64(len(tensors)))
	binary.Write(&out, binary.LittleEndian, uint64(len(kvs)))
	for _, k := range kvs {
		out.Write(k.bytes)
	}
	var offset uint64
	offsets := make([]uint64, len(tensors))
	for i, t := range tensors {
		offsets[i] = offset
		offset += uint64(len(t.data))
	}
	for i, t := range tensors {
		writeString(&out, t.name)
		binary.Write(&out, binary.LittleEndian, uint32(len(t.dims)))
		for _, d := range t.dims {
			binary.Write(&out, binary.LittleEndian, d)
		}
		binary.Write(&out, binary.LittleEndian, uint32(t.typ))
		binary.Write(&out, binary.LittleEndian, offsets[i])
	}
	pos := uint64(out.Len())
	const alignment = 32
	if rem := pos % alignment; rem != 0 {
		out.Write(make([]byte, alignment-rem))
	}
	for _, t := range tensors {
		out.Write(t.data)
	}
	return out.Bytes()
}

// tinyModel builds a 1-layer, n_embd=8, n_heads=2, n_kv_heads=1, vocab=16
// LLaMA-family model with all required tensors present, F32 throughout.
func tinyModel(transposedEmbedding bool) []byte {
	const nEmbd, nFF, vocab = 8, 16, 16
	f32row := func(n int) []byte { return make([]byte, n*4) }

	embdDims := []uint64{nEmbd, vocab}
	if transposedEmbedding {
		embdDims = []uint64{vocab, nEmbd}
	}

	tensors := []tensorSpec{
		{"token_embd.weight", embdDims, gguf.GGMLTypeF32, f32row(nEmbd * vocab)},
		{"output_norm.weight", []uint64{nEmbd}, gguf.GGMLTypeF32, f32row(nEmbd)},
		{"blk.0.attn_norm.weight", []uint64{nEmbd}, gguf.GGMLTypeF32, f32row(nEmbd)},
		{"blk.0.attn_q.weight", []uint64{nEmbd, nEmbd}, gguf.GGMLTypeF32, f32row(nEmbd * nEmbd)},
		{"blk.0.attn_k.weight", []uint64{nEmbd, 4}, gguf.GGMLTypeF32, f32row(nEmbd * 4)},
		{"blk.0.attn_v.weight", []uint64{nEmbd, 4}, gguf.GGMLTypeF32, f32row(nEmbd * 4)},
		{"blk.0.attn_output.weight", []uint64{nEmbd, nEmbd}, gguf.GGMLTypeF32, f32row(nEmbd * nEmbd)},
		{"blk.0.ffn_norm.weight", []uint64{nEmbd}, gguf.GGMLTypeF32, f32row(nEmbd)},
		{"blk.0.ffn_gate.weight", []uint64{nEmbd, nFF}, gguf.GGMLTypeF32, f32row(nEmbd * nFF)},
		{"blk.0.ffn_up.weight", []uint64{nEmbd, nFF}, gguf.GGMLTypeF32, f32row(nEmbd * nFF)},
		{"blk.0.ffn_down.weight", []uint64{nFF, nEmbd}, gguf.GGMLTypeF32, f32row(nFF * nEmbd)},
	}

	kvs := []kv{
		stringKV("general.architecture", "llama"),
		u32KV("llama.embedding_length", nEmbd),
		u32KV("llama.feed_forward_length", nFF),
		u32KV("llama.block_count", 1),
		u32KV("llama.attention.head_count", 2),
		u32KV("llama.attention.head_count_kv", 1),
		f32KV("llama.rope.freq_base", 10000),
		f32KV("llama.attention.layer_norm_rms_epsilon", 1e-5),
		stringArrayKV("tokenizer.ggml.tokens", make([]string, vocab)),
	}

	return buildModel(kvs, tensors)
}

func TestLoad_StandardLayout(t *testing.T) {
	f, err := gguf.Parse(tinyModel(false))
	require.NoError(t, err)

	m, err := Load(f)
	require.NoError(t, err)
	assert.Equal(t, LayoutStandard, m.EmbeddingLayout)
	assert.True(t, m.TiedOutput)
	assert.Len(t, m.Layers, 1)
}

func TestLoad_TransposedLayout(t *testing.T) {
	f, err := gguf.Parse(tinyModel(true))
	require.NoError(t, err)

	m, err := Load(f)
	require.NoError(t, err)
	assert.Equal(t, LayoutTransposed, m.EmbeddingLayout)
}

func TestLoad_MissingLayerTensorFails(t *testing.T) {
	data := tinyModel(false)
	// Corrupt the name of a required layer tensor so it won't resolve.
	corrupted := bytes.Replace(data, []byte("blk.0.ffn_down.weight"), []byte("blk.0.ffn_donk.weight"), 1)
	f, err := gguf.Parse(corrupted)
	require.NoError(t, err)

	_, err = Load(f)
	require.Error(t, err)
}
