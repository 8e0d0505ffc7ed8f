package priors

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/markerlab/reconciler/internal/config"
	"github.com/markerlab/reconciler/internal/marker"
)

// #region decay math

const (
	minStrength = 0.01
	maxStrength = 1.0
)

// StrengthAt returns the exponential decay weight after elapsedDays
// with the given half-life, clamped to [0.01, 1]. Strength halves
// every halfLifeDays; negative elapsed time reads at full strength.
func StrengthAt(elapsedDays, halfLifeDays float64) float64 {
	if elapsedDays <= 0 {
		return maxStrength
	}
	if halfLifeDays <= 0 {
		return minStrength
	}
	s := math.Exp(-math.Ln2 * elapsedDays / halfLifeDays)
	return marker.Clamp(s, minStrength, maxStrength)
}

// DecayedAt widens a stored distribution by elapsed decay. The mean is
// untouched; only the spread grows: decayed std = std / sqrt(strength).
func DecayedAt(d Distribution, now time.Time, halfLifeDays float64) Decayed {
	elapsed := now.Sub(d.UpdatedAt).Hours() / 24
	strength := StrengthAt(elapsed, halfLifeDays)
	return Decayed{
		Distribution: d,
		Strength:     strength,
		DecayedStd:   d.Std / math.Sqrt(strength),
		ElapsedDays:  elapsed,
	}
}

// #endregion decay math

// #region posterior

// Posterior folds an observation into a decayed prior via the Gaussian
// conjugate update in precision space. The observation's own std
// encodes measurement noise; the decayed prior std encodes eroded
// belief.
func Posterior(prior Decayed, obs, obsStd float64, at time.Time) Distribution {
	priorVar := prior.DecayedStd * prior.DecayedStd
	obsVar := obsStd * obsStd
	if priorVar <= 0 {
		priorVar = 1e-9
	}
	if obsVar <= 0 {
		obsVar = 1e-9
	}
	priorPrec := 1 / priorVar
	obsPrec := 1 / obsVar
	postPrec := priorPrec + obsPrec
	return Distribution{
		Marker:    prior.Marker,
		Mean:      (priorPrec*prior.Mean + obsPrec*obs) / postPrec,
		Std:       math.Sqrt(1 / postPrec),
		Source:    SourceMeasurement,
		UpdatedAt: at,
		Points:    prior.Points + 1,
	}
}

// #endregion posterior

// #region stability reinforcement

const (
	reinforceMinPoints    = 3
	reinforceMaxRelSpread = 0.20
	reinforceRewindFactor = 0.5
)

// ReinforceStability partially rewinds the decay clock when recent
// readings show the marker is holding steady: at least 3 points whose
// spread is under 20% of their mean. The clock never rewinds past full
// strength, and the values themselves are not folded in here.
func ReinforceStability(d Distribution, recent []float64, now time.Time) (Distribution, bool) {
	if len(recent) < reinforceMinPoints {
		return d, false
	}
	mean := 0.0
	lo, hi := recent[0], recent[0]
	for _, v := range recent {
		mean += v
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	mean /= float64(len(recent))
	if mean == 0 || (hi-lo)/math.Abs(mean) >= reinforceMaxRelSpread {
		return d, false
	}
	elapsed := now.Sub(d.UpdatedAt)
	if elapsed <= 0 {
		return d, false
	}
	d.UpdatedAt = d.UpdatedAt.Add(time.Duration(float64(elapsed) * reinforceRewindFactor))
	d.Source = SourceInferredStable
	return d, true
}

// #endregion stability reinforcement

// #region engine

// Engine reads and updates per-subject priors with decay applied on
// read. Writes are read-modify-write under a per-subject+marker lock.
type Engine struct {
	store    Store
	registry *config.Registry

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine wires the engine to a store and registry.
func NewEngine(store Store, registry *config.Registry) *Engine {
	return &Engine{
		store:    store,
		registry: registry,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (e *Engine) keyLock(subject string, m marker.ID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := subject + "/" + string(m)
	l, ok := e.locks[k]
	if !ok {
		l = &sync.Mutex{}
		e.locks[k] = l
	}
	return l
}

// Read returns the subject's decayed prior for m, seeding from the
// population prior when no personal prior exists yet. The bool
// reports whether the marker had any prior at all (personal or
// population).
func (e *Engine) Read(subject string, m marker.ID, now time.Time) (Decayed, bool, error) {
	hl, _ := e.registry.HalfLife(m)
	d, ok, err := e.store.GetPrior(subject, m)
	if err != nil {
		return Decayed{}, false, fmt.Errorf("read prior %s/%s: %w", subject, m, err)
	}
	if ok {
		return DecayedAt(d, now, hl), true, nil
	}
	pop, ok := e.registry.PriorFor(m)
	if !ok {
		return Decayed{}, false, nil
	}
	// Population priors carry no decay clock: they read at a fixed low
	// strength rather than full personal-belief strength.
	return Decayed{
		Distribution: Distribution{Marker: m, Mean: pop.Mean, Std: pop.Std, Source: SourcePopulation, UpdatedAt: now},
		Strength:     0.3,
		DecayedStd:   pop.Std / math.Sqrt(0.3),
	}, true, nil
}

// Observe folds a measurement into the subject's prior and persists
// the posterior.
func (e *Engine) Observe(subject string, m marker.ID, value, valueStd float64, at time.Time) (Distribution, error) {
	l := e.keyLock(subject, m)
	l.Lock()
	defer l.Unlock()

	prior, ok, err := e.Read(subject, m, at)
	if err != nil {
		return Distribution{}, err
	}
	var post Distribution
	if !ok {
		post = Distribution{Marker: m, Mean: value, Std: valueStd, Source: SourceMeasurement, UpdatedAt: at, Points: 1}
	} else {
		post = Posterior(prior, value, valueStd, at)
	}
	if err := e.store.PutPrior(subject, post); err != nil {
		return Distribution{}, fmt.Errorf("persist prior %s/%s: %w", subject, m, err)
	}
	return post, nil
}

// Reinforce applies stability reinforcement from recent readings and
// persists the rewound clock when it fires.
func (e *Engine) Reinforce(subject string, m marker.ID, recent []float64, now time.Time) (bool, error) {
	l := e.keyLock(subject, m)
	l.Lock()
	defer l.Unlock()

	d, ok, err := e.store.GetPrior(subject, m)
	if err != nil || !ok {
		return false, err
	}
	rewound, fired := ReinforceStability(d, recent, now)
	if !fired {
		return false, nil
	}
	if err := e.store.PutPrior(subject, rewound); err != nil {
		return false, fmt.Errorf("persist reinforced prior %s/%s: %w", subject, m, err)
	}
	return true, nil
}

// #endregion engine
