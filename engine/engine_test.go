package engine

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dddimcha/embodiOS-sub002/coreerror"
	"github.com/dddimcha/embodiOS-sub002/gguf"
	"github.com/dddimcha/embodiOS-sub002/hal"
)

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

func f32s(vals ...float32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func f32Const(n int, v float32) []byte {
	vals := make([]float32, n)
	for i := range vals {
		vals[i] = v
	}
	return f32s(vals...)
}

// tinyModelBytes builds a 1-layer, n_embd=8, n_ff=16, 2 heads, 1 kv head,
// vocab=16 LLaMA-family model with a real tokens array (so Encode/Decode
// have something to work with) and a small context_length so the
// prompt-too-long path is reachable with a short slice.
func tinyModelBytes() []byte {
	const nEmbd, nFF, vocab = 8, 16, 16
	const kvDim = 4

	tensors := []tensorSpec{
		{"token_embd.weight", []uint64{nEmbd, vocab}, gguf.GGMLTypeF32, f32Const(nEmbd*vocab, 0.01)},
		{"output_norm.weight", []uint64{nEmbd}, gguf.GGMLTypeF32, f32Const(nEmbd, 1)},
		{"blk.0.attn_norm.weight", []uint64{nEmbd}, gguf.GGMLTypeF32, f32Const(nEmbd, 1)},
		{"blk.0.attn_q.weight", []uint64{nEmbd, nEmbd}, gguf.GGMLTypeF32, f32Const(nEmbd*nEmbd, 0.02)},
		{"blk.0.attn_k.weight", []uint64{nEmbd, kvDim}, gguf.GGMLTypeF32, f32Const(nEmbd*kvDim, 0.02)},
		{"blk.0.attn_v.weight", []uint64{nEmbd, kvDim}, gguf.GGMLTypeF32, f32Const(nEmbd*kvDim, 0.02)},
		{"blk.0.attn_output.weight", []uint64{nEmbd, nEmbd}, gguf.GGMLTypeF32, f32Const(nEmbd*nEmbd, 0.02)},
		{"blk.0.ffn_norm.weight", []uint64{nEmbd}, gguf.GGMLTypeF32, f32Const(nEmbd, 1)},
		{"blk.0.ffn_gate.weight", []uint64{nEmbd, nFF}, gguf.GGMLTypeF32, f32Const(nEmbd*nFF, 0.02)},
		{"blk.0.ffn_up.weight", []uint64{nEmbd, nFF}, gguf.GGMLTypeF32, f32Const(nEmbd*nFF, 0.02)},
		{"blk.0.ffn_down.weight", []uint64{nFF, nEmbd}, gguf.GGMLTypeF32, f32Const(nFF*nEmbd, 0.02)},
	}

	tokens := make([]string, vocab)
	tokens[0] = "<s>"
	tokens[1] = "</s>"
	tokens[2] = "<unk>"
	for i := 3; i < vocab; i++ {
		tokens[i] = string(rune('a' + i - 3))
	}

	kvs := []kv{
		stringKV("general.architecture", "llama"),
		u32KV("llama.embedding_length", nEmbd),
		u32KV("llama.feed_forward_length", nFF),
		u32KV("llama.block_count", 1),
		u32KV("llama.attention.head_count", 2),
		u32KV("llama.attention.head_count_kv", 1),
		u32KV("llama.context_length", 8),
		stringArrayKV("tokenizer.ggml.tokens", tokens),
	}

	return buildModel(kvs, tensors)
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := Init(tinyModelBytes(), Collaborators{}, opts...)
	require.NoError(t, err)
	return e
}

func TestInit_BuildsEngineFromModelBytes(t *testing.T) {
	e := newTestEngine(t)
	info := e.ModelInfo()
	assert.EqualValues(t, 8, info.EmbeddingLength)
	assert.EqualValues(t, 1, info.BlockCount)
	assert.EqualValues(t, 16, info.VocabularyLength)
	assert.EqualValues(t, 8, info.ContextLength)
	assert.Greater(t, uint64(info.Size), uint64(0))
	assert.Greater(t, uint64(info.Parameters), uint64(0))
	assert.Greater(t, float64(info.BitsPerWeight), 0.0)
}

func TestInit_RejectsDeterministicWithNonArgmaxSampler(t *testing.T) {
	_, err := Init(tinyModelBytes(), Collaborators{}, WithDeterministic(), WithSamplePolicy(TopKPolicy, 1.0))
	require.Error(t, err)
	var ce *coreerror.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, coreerror.BadArgument, ce.Kind)
}

func TestInit_DeterministicReservesAndFreesHeap(t *testing.T) {
	heap := hal.NewHostedHeap(0)
	e, err := Init(tinyModelBytes(), Collaborators{Heap: heap}, WithDeterministic())
	require.NoError(t, err)
	assert.Greater(t, heap.Outstanding(), int64(0))
	e.Shutdown()
	assert.EqualValues(t, 0, heap.Outstanding())
}

func TestInit_DeterministicOutOfMemoryRollsBackNothing(t *testing.T) {
	heap := hal.NewHostedHeap(1)
	_, err := Init(tinyModelBytes(), Collaborators{Heap: heap}, WithDeterministic())
	require.Error(t, err)
	var ce *coreerror.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, coreerror.OutOfMemory, ce.Kind)
}

func TestGenerate_RejectsEmptyPrompt(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Generate(nil, 4, nil)
	require.Error(t, err)
	var ce *coreerror.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, coreerror.BadArgument, ce.Kind)
}

func TestGenerate_RejectsNonPositiveMaxNewTokens(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Generate([]int32{3}, 0, nil)
	require.Error(t, err)
	var ce *coreerror.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, coreerror.BadArgument, ce.Kind)
}

func TestGenerate_RejectsPromptLongerThanContextLength(t *testing.T) {
	e := newTestEngine(t)
	prompt := make([]int32, 9) // context_length is 8
	_, err := e.Generate(prompt, 1, nil)
	require.Error(t, err)
	var ce *coreerror.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, coreerror.BadArgument, ce.Kind)
}

func TestGenerate_ProducesTokensAndTiming(t *testing.T) {
	e := newTestEngine(t)
	timing := NewTiming(DefaultLatencyWindow)
	out, err := e.Generate([]int32{3, 4}, 3, timing)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.Greater(t, timing.Count(), uint64(0))
}

func TestGenerate_DeterministicModeTogglesInterruptsOncePerStep(t *testing.T) {
	arch := hal.NewHostedArch()
	heap := hal.NewHostedHeap(0)
	e, err := Init(tinyModelBytes(), Collaborators{Heap: heap, Arch: arch}, WithDeterministic())
	require.NoError(t, err)
	_, err = e.Generate([]int32{3, 4}, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, arch.Disabled, arch.Enabled)
	assert.Greater(t, arch.Disabled, 0)
}

func TestSetDeterministic_RejectsNonArgmaxSampler(t *testing.T) {
	e := newTestEngine(t, WithSamplePolicy(TopKPolicy, 1.0))
	err := e.SetDeterministic(true)
	require.Error(t, err)
	var ce *coreerror.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, coreerror.BadArgument, ce.Kind)
	assert.False(t, e.GetDeterministic())
}

func TestSetDeterministic_TogglesWhenCompatible(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.SetDeterministic(true))
	assert.True(t, e.GetDeterministic())
	require.NoError(t, e.SetDeterministic(false))
	assert.False(t, e.GetDeterministic())
}

func TestEncodeDecode_RoundTripsThroughEngine(t *testing.T) {
	e := newTestEngine(t)
	ids := e.Encode("abc", false, false)
	require.NotEmpty(t, ids)
	assert.Equal(t, "abc", e.Decode(ids))
}
