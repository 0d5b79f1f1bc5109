// Package runtime implements the streaming transformer executor of §4.4:
// one Step(token, pos) call per decoder position, operating entirely on
// activation and KV-cache buffers sized once at construction. Step never
// allocates, matching the deterministic-mode discipline carried by the
// generation driver.
package runtime

import (
	"math"

	"github.com/dddimcha/embodiOS-sub002/coreerror"
	"github.com/dddimcha/embodiOS-sub002/dequant"
	"github.com/dddimcha/embodiOS-sub002/gguf"
	"github.com/dddimcha/embodiOS-sub002/matmul"
	"github.com/dddimcha/embodiOS-sub002/model"
)

// layerWeights holds one decoder layer's tensors plus its pre-dequantized
// norm vectors (norm weights are small and invariant across steps, so they
// are decoded once here rather than on every call to rmsnorm).
type layerWeights struct {
	attnNormW []float32
	ffnNormW  []float32
	m         model.LayerWeights
}

// Executor owns every activation buffer and the KV cache for one loaded
// model. All buffers are sized in New and never reallocated afterward;
// Step is the only operation on the generation hot path.
type Executor struct {
	m *model.Model

	nEmbd, nFF, nHeads, nKVHeads, headDim, kvDim, kvMul, ctxLen, vocab, nLayers int
	eps                                                                        float32
	ropeBase                                                                   float32

	outputNormW []float32
	layers      []layerWeights

	x, xb, xb2 []float32
	q          []float32
	k, v       []float32
	attScores  []float32
	hb, hb2    []float32
	logits     []float32
	embedRow   []float32

	keyCache, valueCache []float32

	mm *matmul.Scratch
	q8 *matmul.Q8Scratch

	// parallel, when non-nil, fans the larger matVec calls (attention
	// q/k/v/output and FFN gate/up/down projections) out across its
	// workers via matmul.StreamedParallel instead of the single-worker
	// matmul.Streamed path. It is never set in deterministic mode: the
	// errgroup fanout allocates goroutines per call, which the
	// no-allocation-in-Step rule forbids.
	parallel *matmul.ParallelScratch
}

// Option configures an Executor at construction.
type Option func(*Executor)

// WithParallelMatVec fans larger matVec calls out across n goroutines via
// matmul.StreamedParallel, per spec.md §5's allowance for an optional
// parallel path. Incompatible with deterministic mode.
func WithParallelMatVec(n int) Option {
	return func(e *Executor) {
		if n > 1 {
			e.parallel = matmul.NewParallelScratch(n)
		}
	}
}

func dequantFull(ref gguf.TensorRef) ([]float32, error) {
	n := ref.Info.Elements()
	dst := make([]float32, n)
	if err := dequant.Dequantize(ref.Info.Type, ref.Data, dst); err != nil {
		return nil, coreerror.Wrap(coreerror.InvalidModel, "dequantize tensor "+ref.Info.Name, err)
	}
	return dst, nil
}

// New builds an Executor for m, preallocating every scratch and KV buffer
// the lifetime of the engine needs, per §5's "allocate at init, never
// during generate" rule.
func New(m *model.Model, opts ...Option) (*Executor, error) {
	a := m.Arch
	e := &Executor{
		m:        m,
		nEmbd:    int(a.EmbeddingLength),
		nFF:      int(a.FeedForwardLength),
		nHeads:   int(a.AttentionHeadCount),
		nKVHeads: int(a.AttentionHeadCountKV),
		headDim:  int(a.HeadDim),
		kvDim:    int(a.KVDim),
		kvMul:    int(a.KVMul),
		ctxLen:   int(a.ContextLength),
		vocab:    int(a.VocabularyLength),
		nLayers:  int(a.BlockCount),
		eps:      a.AttentionLayerNormRMSEpsilon,
		ropeBase: a.RoPEFrequencyBase,
	}

	outputNormW, err := dequantFull(m.OutputNorm)
	if err != nil {
		return nil, err
	}
	e.outputNormW = outputNormW

	e.layers = make([]layerWeights, e.nLayers)
	for i, lw := range m.Layers {
		attnNormW, err := dequantFull(lw.AttnNorm)
		if err != nil {
			return nil, err
		}
		ffnNormW, err := dequantFull(lw.FFNNorm)
		if err != nil {
			return nil, err
		}
		e.layers[i] = layerWeights{attnNormW: attnNormW, ffnNormW: ffnNormW, m: lw}
	}

	e.x = make([]float32, e.nEmbd)
	e.xb = make([]float32, e.nEmbd)
	e.xb2 = make([]float32, e.nEmbd)
	e.q = make([]float32, e.nEmbd)
	e.k = make([]float32, e.kvDim)
	e.v = make([]float32, e.kvDim)
	e.attScores = make([]float32, e.ctxLen)
	e.hb = make([]float32, e.nFF)
	e.hb2 = make([]float32, e.nFF)
	e.logits = make([]float32, e.vocab)

	rowScratch := e.nEmbd
	if e.vocab > rowScratch {
		rowScratch = e.vocab
	}
	e.embedRow = make([]float32, rowScratch)

	e.keyCache = make([]float32, e.nLayers*e.ctxLen*e.kvDim)
	e.valueCache = make([]float32, e.nLayers*e.ctxLen*e.kvDim)

	e.mm = matmul.NewScratch()
	maxCols := e.nEmbd
	if e.nFF > maxCols {
		maxCols = e.nFF
	}
	e.q8 = matmul.NewQ8Scratch(maxCols)

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Logits returns the buffer Step last wrote into. The slice is owned by
// the Executor and is overwritten by the next Step call.
func (e *Executor) Logits() []float32 { return e.logits }

func rmsnorm(dst, x, w []float32, eps float32) {
	var ss float32
	for _, v := range x {
		ss += v * v
	}
	ss = ss/float32(len(x)) + eps
	inv := float32(1) / float32(math.Sqrt(float64(ss)))
	for i, v := range x {
		dst[i] = w[i] * v * inv
	}
}

func silu(z float32) float32 {
	return z / (1 + float32(math.Exp(float64(-z))))
}

func softmaxInPlace(scores []float32) {
	max := scores[0]
	for _, s := range scores[1:] {
		if s > max {
			max = s
		}
	}
	var sum float32
	for i, s := range scores {
		e := float32(math.Exp(float64(s - max)))
		scores[i] = e
		sum += e
	}
	if sum == 0 {
		return
	}
	for i := range scores {
		scores[i] /= sum
	}
}

// applyRoPE rotates each head's (i, i+1) dimension pairs per §4.4 step 4.
func applyRoPE(vec []float32, heads, headDim, pos int, base float32) {
	for h := 0; h < heads; h++ {
		off := h * headDim
		for i := 0; i < headDim; i += 2 {
			freq := math.Pow(float64(base), -float64(i)/float64(headDim))
			angle := float64(pos) * freq
			cosA, sinA := math.Cos(angle), math.Sin(angle)
			v0, v1 := float64(vec[off+i]), float64(vec[off+i+1])
			vec[off+i] = float32(v0*cosA - v1*sinA)
			vec[off+i+1] = float32(v0*sinA + v1*cosA)
		}
	}
}

// dimsRowsCols reads a weight tensor's (rows, cols) for matVec from its
// GGUF dims: dims[0] is the fastest-moving (input/column) dimension.
func dimsRowsCols(ti gguf.TensorInfo) (rows, cols int) {
	return int(ti.Dimensions[1]), int(ti.Dimensions[0])
}

func (e *Executor) matVec(out []float32, ref gguf.TensorRef, x []float32) error {
	rows, cols := dimsRowsCols(ref.Info)
	if ref.Info.Type == gguf.GGMLTypeQ8_0 {
		return matmul.FusedQ8_0(out, ref.Data, rows, cols, x, e.q8)
	}
	if e.parallel != nil {
		return matmul.StreamedParallel(out, ref.Data, ref.Info.Type, rows, cols, x, e.parallel)
	}
	return matmul.Streamed(out, ref.Data, ref.Info.Type, rows, cols, x, e.mm)
}

// fetchEmbedding loads the embedding row for token into e.x, honoring the
// detected embedding layout per §4.7.
func (e *Executor) fetchEmbedding(token int) error {
	ref := e.m.TokenEmbedding
	encoding := ref.Info.Type

	switch e.m.EmbeddingLayout {
	case model.LayoutStandard:
		rowBytes, err := encoding.RowSizeBytes(uint64(e.nEmbd))
		if err != nil {
			return coreerror.Wrap(coreerror.InvalidModel, "token embedding row size", err)
		}
		off := uint64(token) * rowBytes
		if off+rowBytes > uint64(len(ref.Data)) {
			return coreerror.New(coreerror.InvalidModel, "token embedding row out of bounds")
		}
		return dequant.Dequantize(encoding, ref.Data[off:off+rowBytes], e.x)
	default: // LayoutTransposed
		rowBytes, err := encoding.RowSizeBytes(uint64(e.vocab))
		if err != nil {
			return coreerror.Wrap(coreerror.InvalidModel, "token embedding row size", err)
		}
		for d := 0; d < e.nEmbd; d++ {
			off := uint64(d) * rowBytes
			if off+rowBytes > uint64(len(ref.Data)) {
				return coreerror.New(coreerror.InvalidModel, "token embedding row out of bounds")
			}
			if err := dequant.Dequantize(encoding, ref.Data[off:off+rowBytes], e.embedRow[:e.vocab]); err != nil {
				return err
			}
			e.x[d] = e.embedRow[token]
		}
		return nil
	}
}

// Step runs one decoder position per §4.4 and leaves the result in
// e.Logits(). Once New succeeds, Step cannot fail for any token in
// [0, vocab) and pos in [0, context_length) — callers must not pass
// anything outside that range.
func (e *Executor) Step(token, pos int) error {
	if err := e.fetchEmbedding(token); err != nil {
		return err
	}

	for l := range e.layers {
		lw := &e.layers[l]

		rmsnorm(e.xb, e.x, lw.attnNormW, e.eps)

		if err := e.matVec(e.q, lw.m.AttnQ, e.xb); err != nil {
			return err
		}
		if err := e.matVec(e.k, lw.m.AttnK, e.xb); err != nil {
			return err
		}
		if err := e.matVec(e.v, lw.m.AttnV, e.xb); err != nil {
			return err
		}

		applyRoPE(e.q, e.nHeads, e.headDim, pos, e.ropeBase)
		applyRoPE(e.k, e.nKVHeads, e.headDim, pos, e.ropeBase)

		layerCacheOff := l * e.ctxLen * e.kvDim
		kvSlot := layerCacheOff + pos*e.kvDim
		copy(e.keyCache[kvSlot:kvSlot+e.kvDim], e.k)
		copy(e.valueCache[kvSlot:kvSlot+e.kvDim], e.v)

		invSqrtHeadDim := float32(1) / float32(math.Sqrt(float64(e.headDim)))
		for h := 0; h < e.nHeads; h++ {
			kvH := h / e.kvMul
			qOff := h * e.headDim
			qh := e.q[qOff : qOff+e.headDim]

			scores := e.attScores[:pos+1]
			for t := 0; t <= pos; t++ {
				base := layerCacheOff + t*e.kvDim + kvH*e.headDim
				kt := e.keyCache[base : base+e.headDim]
				var dot float32
				for i, qv := range qh {
					dot += qv * kt[i]
				}
				scores[t] = dot * invSqrtHeadDim
			}
			softmaxInPlace(scores)

			out := e.xb[qOff : qOff+e.headDim]
			for i := range out {
				out[i] = 0
			}
			for t := 0; t <= pos; t++ {
				w := scores[t]
				if w == 0 {
					continue
				}
				base := layerCacheOff + t*e.kvDim + kvH*e.headDim
				vt := e.valueCache[base : base+e.headDim]
				for i := range out {
					out[i] += w * vt[i]
				}
			}
		}

		if err := e.matVec(e.xb2, lw.m.AttnOutput, e.xb); err != nil {
			return err
		}
		for i := range e.x {
			e.x[i] += e.xb2[i]
		}

		rmsnorm(e.xb, e.x, lw.ffnNormW, e.eps)
		if err := e.matVec(e.hb, lw.m.FFNGate, e.xb); err != nil {
			return err
		}
		if err := e.matVec(e.hb2, lw.m.FFNUp, e.xb); err != nil {
			return err
		}
		for i := range e.hb {
			e.hb[i] = silu(e.hb[i]) * e.hb2[i]
		}
		if err := e.matVec(e.xb, lw.m.FFNDown, e.hb); err != nil {
			return err
		}
		for i := range e.x {
			e.x[i] += e.xb[i]
		}
	}

	rmsnorm(e.xb, e.x, e.outputNormW, e.eps)

	if e.m.TiedOutput {
		if e.m.EmbeddingLayout == model.LayoutTransposed {
			return matmul.Transposed(e.logits, e.m.TokenEmbedding.Data, e.m.TokenEmbedding.Info.Type, e.nEmbd, e.vocab, e.xb, e.mm)
		}
		return e.matVec(e.logits, e.m.TokenEmbedding, e.xb)
	}
	return e.matVec(e.logits, e.m.Output, e.xb)
}
