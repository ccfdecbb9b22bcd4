package simulate

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Rand is the process-wide deterministic generator. It is seeded once and
// shared by every component that draws random values.
type Rand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRand(seed uint64) *Rand {
	return &Rand{rng: rand.New(rand.NewPCG(seed, seed))}
}

// Float64 returns a value in [0.0, 1.0).
func (r *Rand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

// draw returns a uniform duration in [lo, hi] and a deny decision under a
// single lock, so concurrent callers never interleave their draws.
func (r *Rand) draw(lo, hi time.Duration, denyProbability float64) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := lo
	if hi > lo {
		d = lo + time.Duration(r.rng.Float64()*float64(hi-lo))
	}
	deny := r.rng.Float64() < denyProbability
	return d, deny
}
