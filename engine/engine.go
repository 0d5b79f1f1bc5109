// Package engine implements the top-level API of §6: Init builds one
// owning Engine aggregate from a model blob and a set of hardware
// collaborators; Encode/Generate/Decode/ModelInfo/SetDeterministic are
// methods on it. There is no process-wide mutable state, per spec.md
// §9's "collapse globals into one owning aggregate" redesign note.
package engine

import (
	"io"
	"math/rand"

	"github.com/dddimcha/embodiOS-sub002/coreerror"
	"github.com/dddimcha/embodiOS-sub002/diagnostics"
	"github.com/dddimcha/embodiOS-sub002/gguf"
	"github.com/dddimcha/embodiOS-sub002/hal"
	"github.com/dddimcha/embodiOS-sub002/model"
	"github.com/dddimcha/embodiOS-sub002/runtime"
	"github.com/dddimcha/embodiOS-sub002/tokenizer"
)

// Collaborators bundles the four hardware collaborator interfaces the
// engine consumes, per §6. Console, Timer, and Arch may be left nil; Heap
// is required only when WithDeterministic is set.
type Collaborators struct {
	Heap    hal.Heap
	Console hal.Console
	Timer   hal.Timer
	Arch    hal.Arch
}

// ModelInfo is the summary record returned by Engine.ModelInfo.
type ModelInfo struct {
	EmbeddingLength  uint64
	BlockCount       uint64
	VocabularyLength uint64
	ContextLength    uint64

	Size          gguf.BytesScalar
	Parameters    gguf.ParametersScalar
	BitsPerWeight gguf.BitsPerWeightScalar
}

// Engine is the owning aggregate returned by Init.
type Engine struct {
	opts   Options
	collab Collaborators
	log    *diagnostics.Logger

	mdl   *model.Model
	exec  *runtime.Executor
	vocab *tokenizer.Vocab
	enc   *tokenizer.Encoder

	deterministic bool
	heapBuf       []byte
	rng           *rand.Rand

	history []int32
}

// estimateScratchBytes approximates the byte footprint runtime.New
// allocates, so deterministic mode has something concrete to reserve
// through the Heap collaborator at Init.
func estimateScratchBytes(a gguf.ArchitectureRecord) int64 {
	nEmbd := int64(a.EmbeddingLength)
	nFF := int64(a.FeedForwardLength)
	ctxLen := int64(a.ContextLength)
	kvDim := int64(a.KVDim)
	vocab := int64(a.VocabularyLength)
	nLayers := int64(a.BlockCount)

	rowScratch := nEmbd
	if vocab > rowScratch {
		rowScratch = vocab
	}

	elems := 4*nEmbd + 2*kvDim + ctxLen + 2*nFF + vocab + rowScratch +
		2*nLayers*ctxLen*kvDim + nLayers*2*nEmbd + nEmbd
	return elems * 4
}

// Init parses modelBytes, builds the model and executor, and returns a
// ready-to-use Engine. Per §7, InvalidModel/OutOfMemory/UnsupportedEncoding
// can only arise here.
func Init(modelBytes []byte, collab Collaborators, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if o.Deterministic && o.Sampler != ArgmaxPolicy {
		return nil, coreerror.New(coreerror.BadArgument, "deterministic mode requires the argmax sample policy")
	}
	if o.Deterministic && o.ParallelMatVecWorkers > 1 {
		return nil, coreerror.New(coreerror.BadArgument, "deterministic mode is incompatible with parallel matVec")
	}

	var log *diagnostics.Logger
	if collab.Console != nil {
		log = diagnostics.NewConsoleLogger(collab.Console)
	} else {
		log = diagnostics.NewBufferedLogger(io.Discard)
	}

	f, err := gguf.Parse(modelBytes)
	if err != nil {
		log.Errorf("init: parse model: %v", err)
		return nil, err
	}

	mdl, err := model.Load(f)
	if err != nil {
		log.Errorf("init: load model: %v", err)
		return nil, err
	}

	var heapBuf []byte
	if o.Deterministic {
		if collab.Heap == nil {
			return nil, coreerror.New(coreerror.BadArgument, "deterministic mode requires a Heap collaborator")
		}
		n := estimateScratchBytes(mdl.Arch)
		buf, ok := collab.Heap.Alloc(int(n), 8)
		if !ok {
			log.Errorf("init: heap.alloc(%d) failed", n)
			return nil, coreerror.New(coreerror.OutOfMemory, "heap allocation failed for deterministic-mode scratch reservation")
		}
		heapBuf = buf
	}

	var execOpts []runtime.Option
	if o.ParallelMatVecWorkers > 1 {
		execOpts = append(execOpts, runtime.WithParallelMatVec(o.ParallelMatVecWorkers))
	}
	exec, err := runtime.New(mdl, execOpts...)
	if err != nil {
		if heapBuf != nil {
			collab.Heap.Free(heapBuf)
		}
		log.Errorf("init: build executor: %v", err)
		return nil, err
	}

	tmeta, err := f.Tokenizer()
	if err != nil {
		if heapBuf != nil {
			collab.Heap.Free(heapBuf)
		}
		log.Errorf("init: load tokenizer metadata: %v", err)
		return nil, err
	}
	vocab, err := tokenizer.LoadVocab(tmeta)
	if err != nil {
		if heapBuf != nil {
			collab.Heap.Free(heapBuf)
		}
		log.Errorf("init: load vocabulary: %v", err)
		return nil, err
	}

	return &Engine{
		opts:          o,
		collab:        collab,
		log:           log,
		mdl:           mdl,
		exec:          exec,
		vocab:         vocab,
		enc:           tokenizer.NewEncoder(vocab),
		deterministic: o.Deterministic,
		heapBuf:       heapBuf,
		rng:           rand.New(rand.NewSource(o.RandSeed)),
	}, nil
}

// Encode implements §6's Encode operation.
func (e *Engine) Encode(text string, addBOS, addEOS bool) []int32 {
	return e.enc.Encode(text, addBOS, addEOS, 0)
}

// DecodeToken returns the text for a single token id.
func (e *Engine) DecodeToken(id int32) string {
	return e.enc.Decode([]int32{id})
}

// Decode concatenates the text for a full token sequence.
func (e *Engine) Decode(ids []int32) string {
	return e.enc.Decode(ids)
}

// ModelInfo implements §6's ModelInfo operation.
func (e *Engine) ModelInfo() ModelInfo {
	a := e.mdl.Arch
	return ModelInfo{
		EmbeddingLength:  a.EmbeddingLength,
		BlockCount:       a.BlockCount,
		VocabularyLength: a.VocabularyLength,
		ContextLength:    a.ContextLength,
		Size:             e.mdl.Size,
		Parameters:       e.mdl.Parameters,
		BitsPerWeight:    e.mdl.BitsPerWeight,
	}
}

// SetDeterministic toggles deterministic mode. It rejects turning it on
// while a non-argmax sampler is active, since temperature sampling draws
// from math/rand and is incompatible with the reproducibility property.
func (e *Engine) SetDeterministic(on bool) error {
	if on && e.opts.Sampler != ArgmaxPolicy {
		return coreerror.New(coreerror.BadArgument, "deterministic mode requires the argmax sample policy")
	}
	if on && e.opts.ParallelMatVecWorkers > 1 {
		return coreerror.New(coreerror.BadArgument, "deterministic mode is incompatible with parallel matVec")
	}
	e.deterministic = on
	return nil
}

// GetDeterministic reports whether deterministic mode is active.
func (e *Engine) GetDeterministic() bool { return e.deterministic }

// Shutdown releases the deterministic-mode heap reservation, if any.
func (e *Engine) Shutdown() {
	if e.heapBuf != nil && e.collab.Heap != nil {
		e.collab.Heap.Free(e.heapBuf)
		e.heapBuf = nil
	}
}

func (e *Engine) now() uint64 {
	if e.collab.Timer != nil {
		return e.collab.Timer.NowUS()
	}
	return 0
}

func (e *Engine) sample(logits []float32) int32 {
	switch e.opts.Sampler {
	case TopKPolicy:
		return sampleTopK(logits, e.opts.TopK, e.opts.Temperature, e.rng)
	case TopPPolicy:
		return sampleTopP(logits, e.opts.TopP, e.opts.Temperature, e.rng)
	default:
		return argmax(logits)
	}
}

// Generate implements §4.6's generation driver: prefill the prompt by
// walking known tokens, then decode (greedy by default) up to
// maxNewTokens or context_length, recording timing and honoring
// deterministic mode's per-token critical section.
func (e *Engine) Generate(promptTokens []int32, maxNewTokens int, timing *Timing) ([]int32, error) {
	if len(promptTokens) == 0 {
		return nil, coreerror.New(coreerror.BadArgument, "empty prompt")
	}
	if maxNewTokens <= 0 {
		return nil, coreerror.New(coreerror.BadArgument, "max_new_tokens must be positive")
	}
	ctxLen := int(e.mdl.Arch.ContextLength)
	if len(promptTokens) > ctxLen {
		return nil, coreerror.New(coreerror.BadArgument, "prompt longer than context_length")
	}

	if cap(e.history) < maxNewTokens {
		e.history = make([]int32, 0, maxNewTokens)
	} else {
		e.history = e.history[:0]
	}
	eosID := int32(e.mdl.Arch.EOSTokenID)

	generated := make([]int32, 0, maxNewTokens)
	pos := 0
	token := promptTokens[0]
	promptLen := len(promptTokens)
	written := 0

	generateStart := e.now()
	sawFirstDecode := false

	for pos < ctxLen && written < maxNewTokens {
		if e.deterministic && e.collab.Arch != nil {
			e.collab.Arch.DisableInterrupts()
		}

		tokenStart := e.now()
		stepErr := e.exec.Step(int(token), pos)

		isDecode := pos >= promptLen-1
		var nextToken int32

		if stepErr == nil {
			if !isDecode {
				nextToken = promptTokens[pos+1]
			} else {
				if !sawFirstDecode {
					sawFirstDecode = true
					if timing != nil {
						timing.PrefillUS = tokenStart - generateStart
					}
				}
				logits := e.exec.Logits()
				applyRepetitionPenalty(logits, e.history, e.opts.RepetitionWindow, e.opts.RepetitionPenalty)
				nextToken = e.sample(logits)

				decodeEnd := e.now()
				if timing != nil {
					elapsed := decodeEnd - tokenStart
					if written == 0 {
						timing.FirstTokenUS = timing.TokenizeUS + timing.PrefillUS + elapsed
					}
					timing.RecordDecode(elapsed)
				}

				generated = append(generated, nextToken)
				e.history = append(e.history, nextToken)
				written++
			}
		}

		if e.deterministic && e.collab.Arch != nil {
			e.collab.Arch.EnableInterrupts()
		}

		if stepErr != nil {
			e.log.Errorf("generate: step(%d,%d): %v", token, pos, stepErr)
			return generated, stepErr
		}

		pos++
		if isDecode && nextToken == eosID {
			break
		}
		token = nextToken
	}

	return generated, nil
}
