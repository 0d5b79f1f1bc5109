package engine

import (
	"math"
	"math/rand"
	"sort"
)

// SamplePolicy selects the decode-time token policy of §4.6. ArgmaxPolicy
// is the default and the only policy the deterministic-mode jitter
// guarantee (§5, §8 property 8) is exercised against.
type SamplePolicy int

const (
	ArgmaxPolicy SamplePolicy = iota
	TopKPolicy
	TopPPolicy
)

func argmax(logits []float32) int32 {
	best := 0
	for i := 1; i < len(logits); i++ {
		if logits[i] > logits[best] {
			best = i
		}
	}
	return int32(best)
}

// applyRepetitionPenalty divides (if positive) or multiplies (if
// non-positive) the logits of recently emitted tokens by penalty, ported
// from yent.go's RepPenalty application loop.
func applyRepetitionPenalty(logits []float32, history []int32, window int, penalty float32) {
	if penalty <= 1 || window <= 0 || len(history) == 0 {
		return
	}
	start := 0
	if len(history) > window {
		start = len(history) - window
	}
	for _, tok := range history[start:] {
		if tok < 0 || int(tok) >= len(logits) {
			continue
		}
		if logits[tok] > 0 {
			logits[tok] /= penalty
		} else {
			logits[tok] *= penalty
		}
	}
}

type idxProb struct {
	idx  int32
	prob float32
}

func softmaxProbs(logits []float32, temperature float32) []idxProb {
	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	probs := make([]idxProb, len(logits))
	var sum float32
	for i, v := range logits {
		p := float32(math.Exp(float64((v - maxVal) / temperature)))
		probs[i] = idxProb{int32(i), p}
		sum += p
	}
	invSum := float32(1) / sum
	for i := range probs {
		probs[i].prob *= invSum
	}
	return probs
}

// sampleTopK draws from the k highest-probability logits under
// temperature, ported from yent.go's sampleTopK.
func sampleTopK(logits []float32, k int, temperature float32, rng *rand.Rand) int32 {
	if temperature <= 0 {
		return argmax(logits)
	}
	if k <= 0 || k > len(logits) {
		k = len(logits)
	}
	probs := softmaxProbs(logits, temperature)
	sort.Slice(probs, func(i, j int) bool { return probs[i].prob > probs[j].prob })
	probs = probs[:k]

	var sum float32
	for _, p := range probs {
		sum += p.prob
	}
	r := rng.Float32() * sum
	var cum float32
	for _, p := range probs {
		cum += p.prob
		if r <= cum {
			return p.idx
		}
	}
	return probs[len(probs)-1].idx
}

// sampleTopP draws from the smallest nucleus of logits whose cumulative
// probability reaches p under temperature, ported from yent.go's
// sampleTopP.
func sampleTopP(logits []float32, p float32, temperature float32, rng *rand.Rand) int32 {
	if temperature <= 0 {
		return argmax(logits)
	}
	probs := softmaxProbs(logits, temperature)
	sort.Slice(probs, func(i, j int) bool { return probs[i].prob > probs[j].prob })

	cut := len(probs)
	var cum float32
	for i, pr := range probs {
		cum += pr.prob
		if cum >= p {
			cut = i + 1
			break
		}
	}
	probs = probs[:cut]

	var sum float32
	for _, pr := range probs {
		sum += pr.prob
	}
	r := rng.Float32() * sum
	var acc float32
	for _, pr := range probs {
		acc += pr.prob
		if r <= acc {
			return pr.idx
		}
	}
	return probs[len(probs)-1].idx
}
