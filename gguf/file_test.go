package gguf

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ggufBuilder assembles a minimal, valid GGUF v3 byte buffer for tests,
// mirroring the teacher's hand-built fixture style.
type ggufBuilder struct {
	buf     bytes.Buffer
	kvs     [][2]any // [0]: encoded key/type/value bytes; [1]: unused (nil)
	kvCount int
	tensors []builtTensor
}

type builtTensor struct {
	name   string
	dims   []uint64
	typ    GGMLType
	offset uint64
	data   []byte
}

func newGGUFBuilder() *ggufBuilder { return &ggufBuilder{} }

func (b *ggufBuilder) writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint64(len(s)))
	buf.WriteString(s)
}

func (b *ggufBuilder) addStringKV(key, value string) *ggufBuilder {
	var kb bytes.Buffer
	b.writeString(&kb, key)
	binary.Write(&kb, binary.LittleEndian, uint32(ValueTypeString))
	b.writeString(&kb, value)
	b.kvs = append(b.kvs, [2]any{kb.Bytes(), nil})
	b.kvCount++
	return b
}

func (b *ggufBuilder) addUint32KV(key string, value uint32) *ggufBuilder {
	var kb bytes.Buffer
	b.writeString(&kb, key)
	binary.Write(&kb, binary.LittleEndian, uint32(ValueTypeUint32))
	binary.Write(&kb, binary.LittleEndian, value)
	b.kvs = append(b.kvs, [2]any{kb.Bytes(), nil})
	b.kvCount++
	return b
}

func (b *ggufBuilder) addFloat32KV(key string, value float32) *ggufBuilder {
	var kb bytes.Buffer
	b.writeString(&kb, key)
	binary.Write(&kb, binary.LittleEndian, uint32(ValueTypeFloat32))
	binary.Write(&kb, binary.LittleEndian, value)
	b.kvs = append(b.kvs, [2]any{kb.Bytes(), nil})
	b.kvCount++
	return b
}

func (b *ggufBuilder) addStringArrayKV(key string, values []string) *ggufBuilder {
	var kb bytes.Buffer
	b.writeString(&kb, key)
	binary.Write(&kb, binary.LittleEndian, uint32(ValueTypeArray))
	binary.Write(&kb, binary.LittleEndian, uint32(ValueTypeString))
	binary.Write(&kb, binary.LittleEndian, uint64(len(values)))
	for _, v := range values {
		b.writeString(&kb, v)
	}
	b.kvs = append(b.kvs, [2]any{kb.Bytes(), nil})
	b.kvCount++
	return b
}

func (b *ggufBuilder) addTensor(name string, dims []uint64, typ GGMLType, data []byte) *ggufBuilder {
	var offset uint64
	for _, t := range b.tensors {
		offset += uint64(len(t.data))
	}
	b.tensors = append(b.tensors, builtTensor{name: name, dims: dims, typ: typ, offset: offset, data: data})
	return b
}

func (b *ggufBuilder) build(alignment uint64) []byte {
	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, uint32(MagicGGUFLittleEndian))
	binary.Write(&out, binary.LittleEndian, uint32(VersionV3))
	binary.Write(&out, binary.LittleEndian, uint64(len(b.tensors)))
	binary.Write(&out, binary.LittleEndian, uint64(b.kvCount))
	for _, kv := range b.kvs {
		out.Write(kv[0].([]byte))
	}
	for _, t := range b.tensors {
		b.writeString(&out, t.name)
		binary.Write(&out, binary.LittleEndian, uint32(len(t.dims)))
		for _, d := range t.dims {
			binary.Write(&out, binary.LittleEndian, d)
		}
		binary.Write(&out, binary.LittleEndian, uint32(t.typ))
		binary.Write(&out, binary.LittleEndian, t.offset)
	}
	pos := uint64(out.Len())
	if alignment == 0 {
		alignment = defaultAlignment
	}
	if rem := pos % alignment; rem != 0 {
		out.Write(make([]byte, alignment-rem))
	}
	for _, t := range b.tensors {
		out.Write(t.data)
	}
	return out.Bytes()
}

func minimalModel() []byte {
	embd := make([]byte, 4*8*16) // F32, [8, 16] => n_embd=8, vocab=16 (standard layout)
	b := newGGUFBuilder().
		addStringKV("general.architecture", "llama").
		addUint32KV("llama.embedding_length", 8).
		addUint32KV("llama.feed_forward_length", 32).
		addUint32KV("llama.block_count", 1).
		addUint32KV("llama.attention.head_count", 2).
		addUint32KV("llama.attention.head_count_kv", 1).
		addFloat32KV("llama.rope.freq_base", 10000).
		addFloat32KV("llama.attention.layer_norm_rms_epsilon", 1e-5).
		addStringArrayKV("tokenizer.ggml.tokens", []string{"<unk>", "<s>", "</s>", "a", "b", "c"}).
		addTensor("token_embd.weight", []uint64{8, 16}, GGMLTypeF32, embd)
	return b.build(32)
}

func TestParse_Basic(t *testing.T) {
	data := minimalModel()
	f, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.Header.TensorCount)
	assert.True(t, f.TensorDataStartOffset%32 == 0)

	ref, ok := f.Tensor("token_embd.weight")
	require.True(t, ok)
	assert.Equal(t, 8*16*4, len(ref.Data))
}

func TestParse_InvalidMagic(t *testing.T) {
	data := minimalModel()
	data[0] = 'X'
	_, err := Parse(data)
	require.Error(t, err)
}

func TestParse_Truncated(t *testing.T) {
	data := minimalModel()
	truncated := data[:len(data)-100]
	_, err := Parse(truncated)
	require.Error(t, err)
}

func TestArchitecture_Derived(t *testing.T) {
	f, err := Parse(minimalModel())
	require.NoError(t, err)

	arch, err := f.Architecture()
	require.NoError(t, err)
	assert.EqualValues(t, 8, arch.EmbeddingLength)
	assert.EqualValues(t, 2, arch.AttentionHeadCount)
	assert.EqualValues(t, 1, arch.AttentionHeadCountKV)
	assert.EqualValues(t, 4, arch.HeadDim)
	assert.EqualValues(t, 4, arch.KVDim)
	assert.EqualValues(t, 2, arch.KVMul)
	assert.EqualValues(t, maxContextLength, arch.ContextLength) // defaulted
	assert.EqualValues(t, 6, arch.VocabularyLength)
}

func TestArchitecture_MissingRequired(t *testing.T) {
	b := newGGUFBuilder().addStringKV("general.architecture", "llama")
	_, err := Parse(b.build(32))
	require.NoError(t, err) // parse succeeds; architecture derivation fails

	f, _ := Parse(b.build(32))
	_, err = f.Architecture()
	require.Error(t, err)
}

func TestTokenizer_Basic(t *testing.T) {
	f, err := Parse(minimalModel())
	require.NoError(t, err)

	tok, err := f.Tokenizer()
	require.NoError(t, err)
	assert.Equal(t, []string{"<unk>", "<s>", "</s>", "a", "b", "c"}, tok.Tokens)
}

// TestTokenizer_PreservesWhitespaceOnlyPieces guards against trimming a
// legitimate whitespace-only vocabulary piece (e.g. a literal "\n" or " "
// token), which would silently break decode for that id.
func TestTokenizer_PreservesWhitespaceOnlyPieces(t *testing.T) {
	embd := make([]byte, 4*8*16)
	b := newGGUFBuilder().
		addStringKV("general.architecture", "llama").
		addUint32KV("llama.embedding_length", 8).
		addUint32KV("llama.feed_forward_length", 32).
		addUint32KV("llama.block_count", 1).
		addUint32KV("llama.attention.head_count", 2).
		addUint32KV("llama.attention.head_count_kv", 1).
		addStringArrayKV("tokenizer.ggml.tokens", []string{"<unk>", "\n", " ", "  a  "}).
		addTensor("token_embd.weight", []uint64{8, 16}, GGMLTypeF32, embd)

	f, err := Parse(b.build(32))
	require.NoError(t, err)

	tok, err := f.Tokenizer()
	require.NoError(t, err)
	assert.Equal(t, []string{"<unk>", "\n", " ", "  a  "}, tok.Tokens)
}
