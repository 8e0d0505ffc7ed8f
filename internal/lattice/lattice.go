package lattice

import (
	"fmt"

	"github.com/markerlab/reconciler/internal/marker"
)

// #region lattice

// Lattice holds the constraint registry indexed by marker.
type Lattice struct {
	constraints []Constraint
	byMarker    map[marker.ID][]int
}

// New builds a lattice over the given constraints.
func New(constraints []Constraint) *Lattice {
	l := &Lattice{
		constraints: constraints,
		byMarker:    make(map[marker.ID][]int),
	}
	for i, c := range constraints {
		for _, m := range c.Markers {
			l.byMarker[m] = append(l.byMarker[m], i)
		}
	}
	return l
}

// Default builds the lattice with the built-in physiological rules.
func Default() *Lattice {
	return New(builtinConstraints())
}

// ForMarker returns the constraints involving the given marker.
func (l *Lattice) ForMarker(m marker.ID) []Constraint {
	idx := l.byMarker[m]
	out := make([]Constraint, 0, len(idx))
	for _, i := range idx {
		out = append(out, l.constraints[i])
	}
	return out
}

// Evaluate runs every constraint touching m against the value set.
// Constraints with absent markers report not_triggered. Values come
// from estimate centers and anchors; the lattice never mutates them.
func (l *Lattice) Evaluate(m marker.ID, values map[marker.ID]float64) []Evaluation {
	var evals []Evaluation
	for _, i := range l.byMarker[m] {
		c := l.constraints[i]
		evals = append(evals, evaluateOne(c, values))
	}
	return evals
}

// EvaluateAll runs every registered constraint once against the value
// set, regardless of marker. Used for whole-set coherence scoring.
func (l *Lattice) EvaluateAll(values map[marker.ID]float64) []Evaluation {
	evals := make([]Evaluation, 0, len(l.constraints))
	for _, c := range l.constraints {
		evals = append(evals, evaluateOne(c, values))
	}
	return evals
}

func evaluateOne(c Constraint, values map[marker.ID]float64) Evaluation {
	ev := Evaluation{
		Constraint: c.Name,
		Kind:       c.Kind,
		Severity:   c.Severity,
		Widen:      1,
		Tighten:    1,
	}
	for _, m := range c.Markers {
		if _, ok := values[m]; !ok {
			ev.Status = StatusNotTriggered
			ev.Detail = fmt.Sprintf("missing %s", m)
			return ev
		}
	}
	ev.Status = c.Check(values)
	switch ev.Status {
	case StatusViolated:
		ev.Penalty = c.ViolationPenalty
		ev.Widen = c.ViolationWiden
		ev.Detail = c.Reason
	case StatusSatisfied:
		ev.Tighten = c.SatisfiedTighten
	}
	return ev
}

// #endregion lattice

// #region summary

// Summarize folds a marker's evaluations into one adjustment. The
// total penalty is capped at MaxTotalPenalty and the range factor is
// the product of violation widens and satisfied tightens.
func Summarize(m marker.ID, evals []Evaluation) Summary {
	s := Summary{Marker: m, RangeFactor: 1}
	for _, ev := range evals {
		if ev.Status == StatusNotTriggered {
			continue
		}
		s.Evaluated++
		switch ev.Status {
		case StatusViolated:
			s.Violated++
			s.TotalPenalty += ev.Penalty
			s.RangeFactor *= ev.Widen
			s.Details = append(s.Details, fmt.Sprintf("%s violated: %s", ev.Constraint, ev.Detail))
		case StatusSatisfied:
			s.Satisfied++
			s.RangeFactor *= ev.Tighten
		}
	}
	if s.TotalPenalty > MaxTotalPenalty {
		s.TotalPenalty = MaxTotalPenalty
	}
	return s
}

// CoherenceScore converts a full-set evaluation into a 0-1 coherence
// component: the satisfied fraction among triggered constraints,
// weighted down by severity of violations. No triggered constraints
// yields a neutral 0.5.
func CoherenceScore(evals []Evaluation) float64 {
	var triggered, weight float64
	for _, ev := range evals {
		switch ev.Status {
		case StatusSatisfied:
			triggered++
			weight++
		case StatusViolated:
			triggered++
			weight += 1 - severityWeight(ev.Severity)
		case StatusNeutral:
			triggered++
			weight += 0.5
		}
	}
	if triggered == 0 {
		return 0.5
	}
	return marker.Clamp01(weight / triggered)
}

func severityWeight(s Severity) float64 {
	switch s {
	case SeverityHard:
		return 1.0
	case SeverityStrong:
		return 0.85
	case SeverityModerate:
		return 0.6
	default:
		return 0.35
	}
}

// #endregion summary
