package network

import (
	"math/rand/v2"
	"time"
)

// DuplicateDelay is added to a delayed duplicate so it arrives after the
// original.
const DuplicateDelay = time.Millisecond

// Faults holds per-message fault probabilities, each within [0, 1].
type Faults struct {
	DropProbability      float64
	DuplicateProbability float64
	// CorruptProbability truncates the encoded payload so the recipient
	// rejects it.
	CorruptProbability float64
}

// Reliable returns Faults that never drop, duplicate or corrupt.
func Reliable() Faults {
	return Faults{}
}

func roll(rng *rand.Rand, p float64) bool {
	if p <= 0 {
		return false
	}
	return rng.Float64() < p
}

// Latency draws a delivery delay.
type Latency func(rng *rand.Rand) time.Duration

// ConstantLatency always returns d.
func ConstantLatency(d time.Duration) Latency {
	return func(*rand.Rand) time.Duration { return d }
}

// UniformLatency returns a delay uniformly distributed in [minDelay, maxDelay).
func UniformLatency(minDelay, maxDelay time.Duration) Latency {
	return func(rng *rand.Rand) time.Duration {
		if maxDelay <= minDelay {
			return minDelay
		}
		return minDelay + time.Duration(rng.Int64N(int64(maxDelay-minDelay)))
	}
}

// applyJitter scales d by a random factor in [1-jitter, 1+jitter].
func applyJitter(rng *rand.Rand, d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || d <= 0 {
		return d
	}
	factor := 1 + (rng.Float64()*2-1)*jitter
	out := time.Duration(float64(d) * factor)
	if out < 0 {
		return 0
	}
	return out
}

// corrupt returns a strict prefix of payload. A prefix always loses part of
// the trailing recipient field, so it never decodes.
func corrupt(rng *rand.Rand, payload []byte) []byte {
	if len(payload) == 0 {
		return payload
	}
	cut := rng.IntN(len(payload))
	out := make([]byte, cut)
	copy(out, payload[:cut])
	return out
}
