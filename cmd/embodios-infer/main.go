package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/dddimcha/embodiOS-sub002/engine"
	"github.com/dddimcha/embodiOS-sub002/hal"
	"github.com/dddimcha/embodiOS-sub002/internal/interruptctx"
)

var Version = "v0.0.0"

func main() {
	var (
		modelPath       string
		prompt          string
		maxNewTokens    = 64
		deterministic   bool
		sampler         = "argmax"
		temperature     = 1.0
		topK            = 50
		topP            = 0.9
		repPenalty      = 1.0
		repWindow       = 64
		seed      int64 = 1
		parallelWorkers = 0
	)

	app := &cli.App{
		Name:      "embodios-infer",
		Usage:     "Run a quantized GGUF model through the streaming inference engine.",
		UsageText: "embodios-infer --model <path> --prompt <text> [options]",
		Version:   Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Destination: &modelPath, Name: "model", Aliases: []string{"m"}, Required: true,
				Usage: "Path to the GGUF model file."},
			&cli.StringFlag{Destination: &prompt, Name: "prompt", Aliases: []string{"p"}, Required: true,
				Usage: "Prompt text to encode and generate from."},
			&cli.IntFlag{Destination: &maxNewTokens, Name: "max-new-tokens", Aliases: []string{"n"}, Value: maxNewTokens,
				Usage: "Maximum number of tokens to generate."},
			&cli.BoolFlag{Destination: &deterministic, Name: "deterministic", Value: deterministic,
				Usage: "Reserve scratch via the heap collaborator and mask interrupts per token."},
			&cli.StringFlag{Destination: &sampler, Name: "sampler", Value: sampler,
				Usage: "One of argmax, top-k, top-p."},
			&cli.Float64Flag{Destination: &temperature, Name: "temperature", Value: temperature},
			&cli.IntFlag{Destination: &topK, Name: "top-k", Value: topK},
			&cli.Float64Flag{Destination: &topP, Name: "top-p", Value: topP},
			&cli.Float64Flag{Destination: &repPenalty, Name: "repetition-penalty", Value: repPenalty},
			&cli.IntFlag{Destination: &repWindow, Name: "repetition-window", Value: repWindow},
			&cli.Int64Flag{Destination: &seed, Name: "seed", Value: seed},
			&cli.IntFlag{Destination: &parallelWorkers, Name: "parallel-matvec", Value: parallelWorkers,
				Usage: "Fan out matVec over this many goroutines; 0 or 1 disables. Incompatible with --deterministic."},
		},
		Action: func(c *cli.Context) error {
			ctx := interruptctx.Handler()

			modelBytes, err := os.ReadFile(modelPath)
			if err != nil {
				return err
			}

			opts := []engine.Option{engine.WithRandSeed(seed)}
			if deterministic {
				opts = append(opts, engine.WithDeterministic())
			}
			if parallelWorkers > 1 {
				opts = append(opts, engine.WithParallelMatVec(parallelWorkers))
			}
			if repPenalty > 1 {
				opts = append(opts, engine.WithRepetitionPenalty(float32(repPenalty), repWindow))
			}
			switch sampler {
			case "top-k":
				opts = append(opts, engine.WithSamplePolicy(engine.TopKPolicy, float32(temperature)), engine.WithTopK(topK))
			case "top-p":
				opts = append(opts, engine.WithSamplePolicy(engine.TopPPolicy, float32(temperature)), engine.WithTopP(float32(topP)))
			}

			collab := engine.Collaborators{
				Heap:    hal.NewHostedHeap(0),
				Console: hal.NewHostedConsole(),
				Timer:   hal.NewHostedTimer(),
				Arch:    hal.NewHostedArch(),
			}

			eng, err := engine.Init(modelBytes, collab, opts...)
			if err != nil {
				return err
			}
			defer eng.Shutdown()

			printModelInfo(eng.ModelInfo())

			promptTokens := eng.Encode(prompt, true, false)
			timing := engine.NewTiming(engine.DefaultLatencyWindow)

			generated, err := generateWithCancel(ctx, eng, promptTokens, maxNewTokens, timing)
			if err != nil {
				return err
			}

			fmt.Println(eng.Decode(generated))
			printTiming(timing)
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// generateWithCancel runs generation in small batches so a SIGINT
// delivered through ctx stops emission between batches rather than
// waiting for the whole request to finish.
func generateWithCancel(ctx interface{ Done() <-chan struct{} }, eng *engine.Engine, promptTokens []int32, maxNewTokens int, timing *engine.Timing) ([]int32, error) {
	const batch = 8
	var out []int32
	remaining := maxNewTokens
	tokens := promptTokens

	for remaining > 0 {
		select {
		case <-ctx.Done():
			return out, nil
		default:
		}

		n := batch
		if n > remaining {
			n = remaining
		}
		step, err := eng.Generate(tokens, n, timing)
		if err != nil {
			return out, err
		}
		out = append(out, step...)
		if len(step) < n {
			break // EOS reached
		}
		tokens = append(tokens, step...)
		remaining -= n
	}
	return out, nil
}

func printModelInfo(info engine.ModelInfo) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"embedding_length", "block_count", "vocabulary_length", "context_length", "size", "parameters", "bits/weight"})
	tw.AppendRow(table.Row{
		info.EmbeddingLength, info.BlockCount, info.VocabularyLength, info.ContextLength,
		info.Size.String(), info.Parameters.String(), info.BitsPerWeight.String(),
	})
	tw.Render()
}

func printTiming(t *engine.Timing) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"tokenize_us", "prefill_us", "first_token_us", "decode_min_us", "decode_max_us", "decode_avg_us", "jitter_us"})
	tw.AppendRow(table.Row{
		t.TokenizeUS, t.PrefillUS, t.FirstTokenUS,
		t.Min(), t.Max(), int64(t.Avg()), t.Jitter(),
	})
	tw.Render()
}
