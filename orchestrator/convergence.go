package orchestrator

import (
	"math"

	"github.com/o3willard-AI/alcs-sub001/session"
)

// StagnationDelta is the smallest score movement still counted as progress.
const StagnationDelta = 2.0

// ConvergenceInput is everything Evaluate looks at after one review.
type ConvergenceInput struct {
	// Scores is the full score history, newest last.
	Scores        []float64
	Iteration     int
	MaxIterations int
	Threshold     float64
	// Fingerprint belongs to the code artifact that was just reviewed.
	Fingerprint string
	// Seen holds the fingerprints recorded before this review.
	Seen []string
}

// Decision is the outcome of one convergence check.
type Decision struct {
	Next   session.State
	Reason session.EscalationReason
	// Fingerprints is Seen plus the newest fingerprint.
	Fingerprints []string
}

// Escalates reports whether the decision hands the session to a human.
func (d Decision) Escalates() bool { return d.Next == session.StateEscalated }

// Evaluate decides what follows a review. Rules are checked in order and
// the first match wins:
//
//  1. newest score >= threshold      -> CONVERGED
//  2. iteration >= max iterations    -> ESCALATED(max_iterations)
//  3. fingerprint seen before        -> ESCALATED(oscillation)
//  4. last two |delta| both below 2  -> ESCALATED(stagnation)
//  5. otherwise                      -> REVISING
func Evaluate(in ConvergenceInput) Decision {
	d := Decision{Fingerprints: addFingerprint(in.Seen, in.Fingerprint)}

	switch {
	case len(in.Scores) > 0 && in.Scores[len(in.Scores)-1] >= in.Threshold:
		d.Next = session.StateConverged
	case in.Iteration >= in.MaxIterations:
		d.Next, d.Reason = session.StateEscalated, session.ReasonMaxIterations
	case in.Fingerprint != "" && contains(in.Seen, in.Fingerprint):
		d.Next, d.Reason = session.StateEscalated, session.ReasonOscillation
	case stagnated(in.Scores):
		d.Next, d.Reason = session.StateEscalated, session.ReasonStagnation
	default:
		d.Next = session.StateRevising
	}
	return d
}

// stagnated needs three scores to produce two deltas.
func stagnated(scores []float64) bool {
	n := len(scores)
	if n < 3 {
		return false
	}
	d1 := math.Abs(scores[n-1] - scores[n-2])
	d2 := math.Abs(scores[n-2] - scores[n-3])
	return d1 < StagnationDelta && d2 < StagnationDelta
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func addFingerprint(set []string, fp string) []string {
	out := append(make([]string, 0, len(set)+1), set...)
	if fp != "" && !contains(out, fp) {
		out = append(out, fp)
	}
	return out
}
