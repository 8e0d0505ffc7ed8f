package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/markerlab/reconciler/internal/baseline"
	"github.com/markerlab/reconciler/internal/confidence"
	"github.com/markerlab/reconciler/internal/config"
	"github.com/markerlab/reconciler/internal/explain"
	"github.com/markerlab/reconciler/internal/gate"
	"github.com/markerlab/reconciler/internal/inertia"
	"github.com/markerlab/reconciler/internal/ingest"
	"github.com/markerlab/reconciler/internal/lattice"
	"github.com/markerlab/reconciler/internal/marker"
	"github.com/markerlab/reconciler/internal/priors"
	"github.com/markerlab/reconciler/internal/reconcile"
	"github.com/markerlab/reconciler/internal/solver"
	"github.com/markerlab/reconciler/internal/store"
)

// #region pipeline

// rangeSpanStds converts a fused std into a full-width range covering
// roughly the central 80%.
const rangeSpanStds = 2.56

// Config tunes one pipeline instance.
type Config struct {
	Registry *config.Registry
	Gate     gate.GateConfig
	// Workers bounds the per-marker fan-out. Zero means 4.
	Workers int
}

// Pipeline runs the full reconciliation sequence: seed, consensus,
// prior blend, baseline, inertia, cross-marker reconciliation,
// calibration, gating, and the run log.
type Pipeline struct {
	registry  *config.Registry
	lattice   *lattice.Lattice
	solvers   *solver.Engine
	priors    *priors.Engine
	baselines *baseline.Engine
	gate      *gate.Gate
	runLog    RunLog
	workers   int
}

// New wires a pipeline against the given stores. runLog may be nil to
// skip persistence.
func New(cfg Config, priorStore priors.Store, baselineStore baseline.Store, runLog RunLog) *Pipeline {
	reg := cfg.Registry
	if reg == nil {
		reg = config.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Pipeline{
		registry:  reg,
		lattice:   lattice.Default(),
		solvers:   solver.NewEngine(),
		priors:    priors.NewEngine(priorStore, reg),
		baselines: baseline.NewEngine(baselineStore, reg),
		gate:      gate.NewGate(cfg.Gate, reg),
		runLog:    runLog,
		workers:   workers,
	}
}

// candidate is the per-marker state carried between stages.
type candidate struct {
	est       marker.Estimate
	consensus *solver.Consensus
	deviation baseline.Deviation
	inert     inertia.Assessment
	base      baseline.Baseline
	degraded  string
}

// Run executes one reconciliation over the input set. A stage failure
// on one marker degrades that marker only; the run itself fails only
// on persistence errors or context cancellation.
func (p *Pipeline) Run(ctx context.Context, in ingest.Input) (Report, error) {
	runID := uuid.New().String()
	now := in.AsOf
	if now.IsZero() {
		now = time.Now().UTC()
	}

	targets := ingest.Targets(in)
	seeds := ingest.SeedCandidates(in)
	anchors := ingest.AnchorMap(in.Anchors)
	log.Printf("[PIPE] run %s: %d targets, %d observations, %d anchors",
		runID, len(targets), len(in.Observations), len(in.Anchors))

	// Measured values plus anchors feed the solvers. Anchors win on
	// overlap.
	values := make(map[marker.ID]float64)
	for m, o := range ingest.LatestObservations(in.Observations) {
		values[m] = o.Value
	}
	for m, a := range anchors {
		values[m] = a.Value
	}

	// Fold measured values into the priors store before estimating.
	p.absorbObservations(in, now)

	// --- Per-marker fan-out: consensus, prior blend, baseline,
	// inertia ---
	var mu sync.Mutex
	cands := make(map[marker.ID]candidate, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, m := range targets {
		m := m
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c := p.estimateOne(in, m, seeds, values, now)
			mu.Lock()
			cands[m] = c
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("marker fan-out: %w", err)
	}

	// --- Cross-marker reconciliation ---
	estimates := make(map[marker.ID]marker.Estimate, len(cands))
	for m, c := range cands {
		estimates[m] = c.est
	}
	rec := reconcile.Run(p.lattice, estimates, anchors)
	log.Printf("[PIPE] run %s: coherence %.3f, %d conflicts", runID, rec.Coherence, len(rec.Conflicts))

	// --- Calibration and gating ---
	tally := ingest.MissingnessTally(in.Observations)
	report := Report{
		RunID:       runID,
		SubjectID:   in.Context.SubjectID,
		GeneratedAt: now,
		Markers:     make(map[marker.ID]MarkerReport, len(cands)),
		Conflicts:   rec.Conflicts,
		Coherence:   rec.Coherence,
	}
	for _, m := range targets {
		c := cands[m]
		c.est = rec.Estimates[m]
		report.Markers[m] = p.finishOne(in, m, c, rec, tally, anchors, now)
	}

	if err := p.persist(&report); err != nil {
		return Report{}, err
	}
	return report, nil
}

// #endregion pipeline

// #region stages

// estimateOne produces the pre-reconciliation estimate for one marker.
func (p *Pipeline) estimateOne(
	in ingest.Input,
	m marker.ID,
	seeds map[marker.ID]marker.Estimate,
	values map[marker.ID]float64,
	now time.Time,
) candidate {
	var c candidate
	history := ingest.HistoryFor(in.History, m)

	if seed, ok := seeds[m]; ok {
		c.est = seed
	} else {
		c.est, c.consensus = p.infer(in, m, values, history, now)
	}

	// Personal baseline deviation.
	base, err := p.baselines.Read(in.Context.SubjectID, m)
	if err != nil {
		c.degraded = fmt.Sprintf("baseline read failed: %v", err)
		log.Printf("[PIPE] %s: %s", m, c.degraded)
	} else {
		c.base = base
		if base.Usable() {
			c.deviation = base.Deviate(c.est.Center)
			if c.deviation.Severity == baseline.SeveritySevere {
				c.est.Notes = append(c.est.Notes, fmt.Sprintf(
					"far outside personal baseline [%.4g, %.4g]", base.Low, base.High))
			}
		}
	}

	// Temporal inertia.
	kin, registered := p.registry.KineticsFor(m)
	if !registered {
		c.est.Notes = append(c.est.Notes, "kinetics not registered; using defaults")
	}
	c.inert = inertia.Assess(m, c.est.Center, history, in.Context.Events, kin, now)
	if c.inert.Violated || c.inert.StableBonus {
		c.est.Range *= c.inert.RangeFactor
	}

	return c
}

// infer builds an estimate for a marker with no direct measurement:
// solver consensus blended with the decayed prior.
func (p *Pipeline) infer(
	in ingest.Input,
	m marker.ID,
	values map[marker.ID]float64,
	history []ingest.HistoryPoint,
	now time.Time,
) (marker.Estimate, *solver.Consensus) {
	est := marker.Estimate{Marker: m, AsOf: now, Grade: marker.GradeD, Support: marker.SupportPopulation}

	cons, fired := p.solvers.Run(solver.Input{
		Target:   m,
		Values:   values,
		Context:  in.Context,
		History:  history,
		Registry: p.registry,
		Now:      now,
	})

	prior, hasPrior, err := p.priors.Read(in.Context.SubjectID, m, now)
	if err != nil {
		log.Printf("[PIPE] %s: prior read failed: %v", m, err)
		hasPrior = false
	}

	switch {
	case fired && hasPrior:
		// Precision-weighted blend of consensus and decayed prior.
		cv, pv := cons.Std*cons.Std, prior.DecayedStd*prior.DecayedStd
		if cv <= 0 {
			cv = 1e-9
		}
		if pv <= 0 {
			pv = 1e-9
		}
		cp, pp := 1/cv, 1/pv
		est.Center = (cp*cons.Value + pp*prior.Mean) / (cp + pp)
		std := math.Sqrt(1 / (cp + pp))
		est.Range = rangeSpanStds * std * cons.RangeFactor
	case fired:
		est.Center = cons.Value
		est.Range = rangeSpanStds * cons.Std * cons.RangeFactor
	case hasPrior:
		est.Center = prior.Mean
		est.Range = rangeSpanStds * prior.DecayedStd * 1.5
		est.Confidence = marker.GradeD.Cap()
		est.Notes = append(est.Notes, "no solver fired; prior only")
		return est, nil
	default:
		est.Notes = append(est.Notes, "no evidence available")
		return est, nil
	}

	est.Grade, est.Support = gradeFromConsensus(cons)
	// Provisional confidence; calibration replaces it downstream.
	est.Confidence = est.Grade.Cap()
	est.Notes = append(est.Notes, fmt.Sprintf("consensus of %d solvers, agreement %.2f", len(cons.Outputs), cons.Agreement))
	return est, &cons
}

// gradeFromConsensus derives the evidence grade and support kind from
// which solver families contributed.
func gradeFromConsensus(c solver.Consensus) (marker.EvidenceGrade, marker.SupportKind) {
	var det, cov, temp bool
	for _, o := range c.Outputs {
		switch o.Method {
		case solver.MethodDeterministic:
			det = true
		case solver.MethodCovariance, solver.MethodConstraint, solver.MethodLatent:
			cov = true
		case solver.MethodTemporal:
			temp = true
		}
	}
	switch {
	case det:
		return marker.GradeB, marker.SupportDerived
	case cov:
		return marker.GradeC, marker.SupportRelational
	case temp:
		return marker.GradeC, marker.SupportProxy
	default:
		return marker.GradeD, marker.SupportPopulation
	}
}

// finishOne calibrates and gates one reconciled estimate.
func (p *Pipeline) finishOne(
	in ingest.Input,
	m marker.ID,
	c candidate,
	rec reconcile.Result,
	tally map[ingest.Missingness]int,
	anchors map[marker.ID]marker.Anchor,
	now time.Time,
) MarkerReport {
	comp := p.components(in, m, c, rec, tally)
	cal := confidence.Calibrate(comp, c.est.Grade, p.registry.Weights)

	// Inertia's signed adjustment applies after the blend but inside
	// the grade cap.
	score := marker.Clamp01(cal.Score + c.inert.ConfidenceDelta)
	if ceiling := c.est.Grade.Cap(); score > ceiling {
		score = ceiling
	}
	cal.Score = score
	c.est.Confidence = score

	history := ingest.HistoryFor(in.History, m)
	gated, decision := p.gate.Evaluate(c.est, rec.Coherence, in.Context, anchors, history, now)

	mr := MarkerReport{
		Estimate:    gated,
		Calibration: cal,
		Decision:    decision,
		Consensus:   c.consensus,
		Deviation:   c.deviation,
		Inertia:     c.inert,
		Degraded:    c.degraded,
	}
	mr.Recommendations = explain.Recommendations(cal, decision)
	mr.Summary = explain.Summary(decision, cal)
	if decision.Suppressed {
		log.Printf("[PIPE] %s suppressed: %s", m, decision.Reason)
	}
	return mr
}

// components assembles the calibration inputs for one marker.
func (p *Pipeline) components(
	in ingest.Input,
	m marker.ID,
	c candidate,
	rec reconcile.Result,
	tally map[ingest.Missingness]int,
) confidence.Components {
	comp := confidence.Components{
		Coherence:     rec.Coherence,
		SignalQuality: signalQuality(in.Observations, m),
	}

	// Completeness: the share of evidence channels actually present
	// (direct value, solver opinions, history), docked for penalizing
	// absence records.
	channels := 0.0
	if c.est.Support == marker.SupportDirect {
		channels = 1
	} else if c.consensus != nil {
		channels = math.Min(float64(len(c.consensus.Outputs))/3, 1)
	}
	if len(ingest.HistoryFor(in.History, m)) > 0 {
		channels = math.Min(channels+0.2, 1)
	}
	absencePenalty := 0.05 * float64(ingest.PenalizingAbsences(tally))
	comp.Completeness = marker.Clamp01(channels - absencePenalty)

	// Agreement from consensus; direct measurements count as full
	// agreement with themselves.
	if c.est.Support == marker.SupportDirect {
		comp.Agreement = 1
	} else if c.consensus != nil {
		comp.Agreement = c.consensus.Agreement
	}

	// Stability from inertia and baseline adequacy.
	switch {
	case c.inert.StableBonus:
		comp.Stability = 0.9
	case c.inert.Violated:
		comp.Stability = 0.2
	case c.base.Usable():
		comp.Stability = 0.4 + 0.4*c.base.Score
	default:
		comp.Stability = 0.4
	}

	// Interference: constraint penalties plus anchor conflicts.
	comp.Interference = rec.Summaries[m].TotalPenalty
	for _, conflict := range rec.Conflicts {
		if conflict.Marker == m {
			comp.Interference += 0.10
		}
	}
	return comp
}

// signalQuality averages the reported quality of the marker's
// observations, defaulting to a neutral 0.7 when unreported.
func signalQuality(obs []ingest.Observation, m marker.ID) float64 {
	var sum float64
	var n int
	for _, o := range obs {
		if o.Marker != m || o.IsAbsence() {
			continue
		}
		q := o.Quality
		if q == 0 {
			q = 0.7
		}
		sum += q
		n++
	}
	if n == 0 {
		return 0.7
	}
	return sum / float64(n)
}

// absorbObservations folds measured values into priors and refreshes
// baselines from history. Failures degrade to log lines; estimation
// proceeds on the stale stores.
func (p *Pipeline) absorbObservations(in ingest.Input, now time.Time) {
	subject := in.Context.SubjectID
	for m, o := range ingest.LatestObservations(in.Observations) {
		std := math.Max(math.Abs(o.Value)*0.05, 0.25)
		if _, err := p.priors.Observe(subject, m, o.Value, std, o.CollectedAt); err != nil {
			log.Printf("[PIPE] %s: prior update failed: %v", m, err)
		}
	}

	byMarker := make(map[marker.ID][]baseline.Point)
	for _, h := range in.History {
		byMarker[h.Marker] = append(byMarker[h.Marker], baseline.Point{Value: h.Value, At: h.ObservedAt})
	}
	for m, points := range byMarker {
		sort.Slice(points, func(i, j int) bool { return points[i].At.Before(points[j].At) })
		if _, err := p.baselines.Refresh(subject, m, points, now); err != nil {
			log.Printf("[PIPE] %s: baseline refresh failed: %v", m, err)
		}
		// Recent steady readings reinforce the prior's decay clock.
		if len(points) >= 3 {
			tail := points[len(points)-3:]
			recent := []float64{tail[0].Value, tail[1].Value, tail[2].Value}
			if _, err := p.priors.Reinforce(subject, m, recent, now); err != nil {
				log.Printf("[PIPE] %s: prior reinforcement failed: %v", m, err)
			}
		}
	}
}

// persist writes the run report to the log.
func (p *Pipeline) persist(r *Report) error {
	if p.runLog == nil {
		return nil
	}
	blob, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := p.runLog.RecordRun(store.RunRecord{
		RunID:      r.RunID,
		SubjectID:  r.SubjectID,
		CreatedAt:  r.GeneratedAt,
		ReportJSON: string(blob),
	}); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// #endregion stages
