package replay

import (
	"context"
	"fmt"

	"github.com/markerlab/reconciler/internal/baseline"
	"github.com/markerlab/reconciler/internal/config"
	"github.com/markerlab/reconciler/internal/gate"
	"github.com/markerlab/reconciler/internal/marker"
	"github.com/markerlab/reconciler/internal/pipeline"
	"github.com/markerlab/reconciler/internal/priors"
)

// #region types

// ReplayConfig bundles the knobs for an in-memory scenario run.
type ReplayConfig struct {
	Registry *config.Registry
	Gate     gate.GateConfig
}

// DefaultReplayConfig returns the production defaults.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		Registry: config.Default(),
		Gate:     gate.DefaultGateConfig(),
	}
}

// CheckResult is one expectation's verdict.
type CheckResult struct {
	Marker marker.ID
	Passed bool
	Reason string
}

// ReplayResult is the outcome of one scenario.
type ReplayResult struct {
	Description string
	Report      pipeline.Report
	Checks      []CheckResult
}

// Passed reports whether every expectation held.
func (r ReplayResult) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// ReplaySummary aggregates a multi-fixture run.
type ReplaySummary struct {
	Fixtures int
	Passed   int
	Failed   int
	Checks   int
}

// #endregion types

// #region ephemeral stores

// Scenario runs are hermetic: priors and baselines live only for the
// replay.
type memPriors struct{ data map[string]priors.Distribution }

func (s *memPriors) GetPrior(subject string, m marker.ID) (priors.Distribution, bool, error) {
	d, ok := s.data[subject+"/"+string(m)]
	return d, ok, nil
}

func (s *memPriors) PutPrior(subject string, d priors.Distribution) error {
	s.data[subject+"/"+string(d.Marker)] = d
	return nil
}

type memBaselines struct{ data map[string]baseline.Baseline }

func (s *memBaselines) GetBaseline(subject string, m marker.ID) (baseline.Baseline, bool, error) {
	b, ok := s.data[subject+"/"+string(m)]
	return b, ok, nil
}

func (s *memBaselines) PutBaseline(subject string, b baseline.Baseline) error {
	s.data[subject+"/"+string(b.Marker)] = b
	return nil
}

// #endregion ephemeral stores

// #region replay

// Replay runs one fixture through the full pipeline in memory and
// checks its expectations.
func Replay(ctx context.Context, f *Fixture, cfg ReplayConfig) (ReplayResult, error) {
	p := pipeline.New(
		pipeline.Config{Registry: cfg.Registry, Gate: cfg.Gate},
		&memPriors{data: make(map[string]priors.Distribution)},
		&memBaselines{data: make(map[string]baseline.Baseline)},
		nil,
	)
	report, err := p.Run(ctx, f.Input)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay %q: %w", f.Description, err)
	}

	result := ReplayResult{Description: f.Description, Report: report}
	for _, exp := range f.Expected {
		result.Checks = append(result.Checks, check(report, exp))
	}
	return result, nil
}

// check verifies one expectation against the report.
func check(report pipeline.Report, exp ExpectedEmit) CheckResult {
	mr, ok := report.Markers[exp.Marker]
	if !ok {
		return CheckResult{Marker: exp.Marker, Reason: "marker absent from report"}
	}
	if mr.Decision.Emit != exp.Emit {
		return CheckResult{
			Marker: exp.Marker,
			Reason: fmt.Sprintf("emit=%v, expected %v (reason %s)", mr.Decision.Emit, exp.Emit, mr.Decision.Reason),
		}
	}
	if !exp.Emit && exp.Reason != "" && mr.Decision.Reason != exp.Reason {
		return CheckResult{
			Marker: exp.Marker,
			Reason: fmt.Sprintf("suppression reason %s, expected %s", mr.Decision.Reason, exp.Reason),
		}
	}
	if exp.MinCenter != 0 || exp.MaxCenter != 0 {
		c := mr.Estimate.Center
		if c < exp.MinCenter || c > exp.MaxCenter {
			return CheckResult{
				Marker: exp.Marker,
				Reason: fmt.Sprintf("center %.4g outside [%.4g, %.4g]", c, exp.MinCenter, exp.MaxCenter),
			}
		}
	}
	if exp.MaxConfidence > 0 && mr.Estimate.Confidence > exp.MaxConfidence {
		return CheckResult{
			Marker: exp.Marker,
			Reason: fmt.Sprintf("confidence %.3f exceeds expected ceiling %.3f", mr.Estimate.Confidence, exp.MaxConfidence),
		}
	}
	return CheckResult{Marker: exp.Marker, Passed: true}
}

// Summarize aggregates results from a multi-fixture run.
func Summarize(results []ReplayResult) ReplaySummary {
	s := ReplaySummary{Fixtures: len(results)}
	for _, r := range results {
		s.Checks += len(r.Checks)
		if r.Passed() {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	return s
}

// #endregion replay
