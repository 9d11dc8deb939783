// Package hypothesis composes signal values into a single probability via
// a logit-weighted-sum-then-sigmoid model, with an optional Monte Carlo
// confidence interval.
package hypothesis

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/cuemby/worldpam/internal/config"
	"github.com/cuemby/worldpam/internal/errs"
	"github.com/cuemby/worldpam/internal/signal"
	"github.com/cuemby/worldpam/internal/store"
)

// Contribution records one signal's influence on an evaluation, returned
// for explainability.
type Contribution struct {
	SignalName string
	Value      float64
	Weight     float64
}

// Result is one hypothesis evaluation.
type Result struct {
	Probability   float64
	MCMean        *float64
	MCLo          *float64
	MCHi          *float64
	Contributions []Contribution
}

// Evaluator composes a hypothesis's bound signals into a probability.
type Evaluator struct {
	cfg      *config.Config
	computer *signal.Computer
	store    store.Store // nil disables persistence
	// rng is injected so Monte Carlo runs are reproducible in tests; nil
	// means Evaluate seeds a fresh crypto/rand-derived source for every
	// Monte Carlo run, so real invocations are not deterministic across
	// restarts or across hypotheses/scenarios within the same run.
	rng *rand.Rand
}

// New constructs an Evaluator. rng may be nil, in which case every Monte
// Carlo run seeds its own source from crypto/rand entropy.
func New(cfg *config.Config, computer *signal.Computer, st store.Store, rng *rand.Rand) *Evaluator {
	return &Evaluator{cfg: cfg, computer: computer, store: st, rng: rng}
}

// cryptoSeededRand builds a *rand.Rand seeded from crypto/rand entropy,
// falling back to the current time only if the system entropy source
// itself fails to read.
func cryptoSeededRand() *rand.Rand {
	var seedBytes [8]byte
	seed := time.Now().UnixNano()
	if _, err := cryptorand.Read(seedBytes[:]); err == nil {
		seed = int64(binary.LittleEndian.Uint64(seedBytes[:]))
	}
	return rand.New(rand.NewSource(seed))
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// logit computes the log-odds of p, clamping p away from 0 and 1 so the
// result stays finite.
func logit(p float64) float64 {
	p = math.Min(math.Max(p, 1e-9), 1-1e-9)
	return math.Log(p / (1 - p))
}

// Evaluate composes hypName's bound signals into a probability. When
// simulateN > 0, it additionally runs a Monte Carlo sweep: each trial
// redraws every signal as a Bernoulli(value) indicator, recomposes z, and
// records sigmoid(z); the returned interval is the nearest-rank 5th/95th
// percentile of the sorted trial outcomes.
func (e *Evaluator) Evaluate(ctx context.Context, hypName string, country string, simulateN int) (Result, error) {
	hyp, ok := e.cfg.HypothesisByName()[hypName]
	if !ok {
		return Result{}, &errs.NotFoundError{Kind: "hypothesis", Name: hypName}
	}
	sigDefs := e.cfg.SignalByName()

	z := logit(hyp.Prior)
	contributions := make([]Contribution, 0, len(hyp.Signals))
	for _, sigName := range hyp.Signals {
		val, err := e.computer.Compute(ctx, sigName, country)
		if err != nil {
			return Result{}, err
		}
		weight := sigDefs[sigName].Weight
		z += weight * val
		contributions = append(contributions, Contribution{SignalName: sigName, Value: val, Weight: weight})
	}
	p := sigmoid(z)

	result := Result{Probability: p, Contributions: contributions}

	if simulateN > 0 {
		rng := e.rng
		if rng == nil {
			rng = cryptoSeededRand()
		}
		sims := make([]float64, simulateN)
		for i := 0; i < simulateN; i++ {
			z2 := logit(hyp.Prior)
			for _, c := range contributions {
				draw := 0.0
				if rng.Float64() < c.Value {
					draw = 1.0
				}
				z2 += c.Weight * draw
			}
			sims[i] = sigmoid(z2)
		}
		sort.Float64s(sims)

		mean := 0.0
		for _, s := range sims {
			mean += s
		}
		mean /= float64(simulateN)

		lo := sims[int(0.05*float64(simulateN))]
		hiIdx := int(0.95 * float64(simulateN))
		if hiIdx >= simulateN {
			hiIdx = simulateN - 1
		}
		hi := sims[hiIdx]

		result.MCMean = &mean
		result.MCLo = &lo
		result.MCHi = &hi
	}

	if e.store != nil {
		e.store.StoreHypothesisEvaluation(&store.HypothesisEval{
			HypothesisName: hypName,
			Probability:    p,
			Country:        country,
			MCMean:         result.MCMean,
			MCLo:           result.MCLo,
			MCHi:           result.MCHi,
			EvaluatedAt:    time.Now().UTC(),
		})
	}

	return result, nil
}
