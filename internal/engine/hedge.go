package engine

import (
	"math/rand"
	"time"

	"updown-mm/internal/config"
)

// hedgeBucket is one interval of the hedge-delay distribution.
type hedgeBucket struct {
	lo, hi float64 // seconds
	weight float64
}

// hedgeBuckets skews heavily toward long holds: most delayed hedges wait a
// minute or more, a thin tail reacts within seconds.
var hedgeBuckets = []hedgeBucket{
	{2, 5, 0.05},
	{5, 10, 0.05},
	{10, 30, 0.10},
	{30, 60, 0.04},
	{60, 120, 0.30},
	{120, 300, 0.46},
}

// sampleHedgeDelay draws a hold duration for the opposite leg after a
// one-leg fill. Buckets are clipped to the configured [min, max] window,
// weights renormalized over what survives, then a uniform draw picks the
// point inside the chosen bucket.
func sampleHedgeDelay(cfg config.EngineConfig, rng *rand.Rand) time.Duration {
	lo, hi := cfg.HedgeDelayMinSeconds, cfg.HedgeDelayMaxSeconds
	if hi <= lo {
		return time.Duration(lo * float64(time.Second))
	}

	var clipped []hedgeBucket
	var total float64
	for _, b := range hedgeBuckets {
		clo, chi := b.lo, b.hi
		if clo < lo {
			clo = lo
		}
		if chi > hi {
			chi = hi
		}
		if clo >= chi {
			continue
		}
		clipped = append(clipped, hedgeBucket{lo: clo, hi: chi, weight: b.weight})
		total += b.weight
	}
	if len(clipped) == 0 || total <= 0 {
		secs := lo + rng.Float64()*(hi-lo)
		return time.Duration(secs * float64(time.Second))
	}

	r := rng.Float64() * total
	chosen := clipped[len(clipped)-1]
	for _, b := range clipped {
		r -= b.weight
		if r < 0 {
			chosen = b
			break
		}
	}

	secs := chosen.lo + rng.Float64()*(chosen.hi-chosen.lo)
	return time.Duration(secs * float64(time.Second))
}
