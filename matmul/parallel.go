package matmul

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/dddimcha/embodiOS-sub002/gguf"
)

// ParallelScratch holds one Scratch per worker, so StreamedParallel never
// shares a dequant buffer across goroutines.
type ParallelScratch struct {
	Workers []*Scratch
}

// NewParallelScratch allocates n worker-local scratches.
func NewParallelScratch(n int) *ParallelScratch {
	ws := make([]*Scratch, n)
	for i := range ws {
		ws[i] = NewScratch()
	}
	return &ParallelScratch{Workers: ws}
}

// StreamedParallel splits rows across len(scratch.Workers) goroutines and
// runs Streamed on each row range, matching spec's optional parallel-fanout
// allowance (§5: the canonical spec assumes one worker, but implementations
// MAY expose a parallel path). The canonical single-worker Streamed path
// remains the one exercised by the deterministic-mode timing guarantee.
func StreamedParallel(out []float32, wData []byte, encoding gguf.GGMLType, rows, cols int, x []float32, scratch *ParallelScratch) error {
	n := len(scratch.Workers)
	if n <= 1 || rows < n*4 {
		return Streamed(out, wData, encoding, rows, cols, x, scratch.Workers[0])
	}

	trait, ok := encoding.Trait()
	if !ok {
		return Streamed(out, wData, encoding, rows, cols, x, scratch.Workers[0]) // surfaces the same error
	}
	rowBytes := (cols / int(trait.BlockSize)) * int(trait.BlockBytes)

	rowsPerWorker := (rows + n - 1) / n
	g, _ := errgroup.WithContext(context.Background())
	for w := 0; w < n; w++ {
		w := w
		start := w * rowsPerWorker
		if start >= rows {
			break
		}
		end := start + rowsPerWorker
		if end > rows {
			end = rows
		}
		g.Go(func() error {
			return Streamed(out[start:end], wData[start*rowBytes:end*rowBytes], encoding, end-start, cols, x, scratch.Workers[w])
		})
	}
	return g.Wait()
}
