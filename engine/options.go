package engine

// Options holds every knob Init accepts, built up from functional Option
// values mirroring the teacher's GGUFReadOption pattern.
type Options struct {
	Deterministic bool
	Preallocate   bool

	RepetitionPenalty float32
	RepetitionWindow  int

	Sampler     SamplePolicy
	Temperature float32
	TopK        int
	TopP        float32
	RandSeed    int64

	ParallelMatVecWorkers int
}

func defaultOptions() Options {
	return Options{
		Sampler:     ArgmaxPolicy,
		Temperature: 1.0,
		TopK:        50,
		TopP:        0.9,
		RandSeed:    1,
	}
}

// Option configures an Engine before Init builds it.
type Option func(*Options)

// WithDeterministic enables deterministic mode: scratch/KV buffers are
// reserved at Init, and Generate disables interrupts around each token.
func WithDeterministic() Option {
	return func(o *Options) { o.Deterministic = true }
}

// WithPreallocate sets Options.Preallocate. Init sizes every scratch and KV
// buffer eagerly whether or not this option is set; nothing else reads the
// flag.
func WithPreallocate() Option {
	return func(o *Options) { o.Preallocate = true }
}

// WithRepetitionPenalty applies a penalty > 1.0 to the logits of tokens
// emitted within the last window decode steps, per SPEC_FULL.md §C.
func WithRepetitionPenalty(penalty float32, window int) Option {
	return func(o *Options) { o.RepetitionPenalty = penalty; o.RepetitionWindow = window }
}

// WithSamplePolicy selects a non-default sampler and its temperature.
// Incompatible with deterministic mode except ArgmaxPolicy.
func WithSamplePolicy(p SamplePolicy, temperature float32) Option {
	return func(o *Options) { o.Sampler = p; o.Temperature = temperature }
}

// WithTopK sets the candidate count for TopKPolicy.
func WithTopK(k int) Option { return func(o *Options) { o.TopK = k } }

// WithTopP sets the nucleus mass for TopPPolicy.
func WithTopP(p float32) Option { return func(o *Options) { o.TopP = p } }

// WithRandSeed fixes the sampler's random source, for reproducible
// stochastic-mode tests.
func WithRandSeed(seed int64) Option { return func(o *Options) { o.RandSeed = seed } }

// WithParallelMatVec fans the executor's larger matVec calls out across n
// goroutines via matmul.StreamedParallel, per spec.md §5's optional
// parallel-fanout allowance. Incompatible with deterministic mode, since
// the fanout allocates goroutines per call.
func WithParallelMatVec(n int) Option {
	return func(o *Options) { o.ParallelMatVecWorkers = n }
}
