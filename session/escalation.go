package session

import "time"

// EscalationReason explains why convergence was abandoned.
type EscalationReason string

const (
	ReasonMaxIterations EscalationReason = "max_iterations"
	ReasonStagnation    EscalationReason = "stagnation"
	ReasonOscillation   EscalationReason = "oscillation"
	ReasonExplicit      EscalationReason = "explicit"
)

// Action is a decision an external authority may take on an escalated session.
type Action string

const (
	ActionAbort                Action = "abort"
	ActionAcceptBestEffort     Action = "accept_best_effort"
	ActionRetryWithConstraints Action = "retry_with_constraints"
	ActionSwitchBackend        Action = "switch_backend"
	// ActionFail gives up on the session. It is accepted by the resolution
	// entry point but never offered in AvailableActions.
	ActionFail Action = "fail"
)

// AvailableActions returns the fixed action menu attached to every escalation.
func AvailableActions() []Action {
	return []Action{
		ActionAbort,
		ActionAcceptBestEffort,
		ActionRetryWithConstraints,
		ActionSwitchBackend,
	}
}

// Valid reports whether a is accepted by the resolution entry point.
func (a Action) Valid() bool {
	switch a {
	case ActionAbort, ActionAcceptBestEffort, ActionRetryWithConstraints, ActionSwitchBackend, ActionFail:
		return true
	default:
		return false
	}
}

// IterationRecord summarises one completed review cycle.
type IterationRecord struct {
	Iteration  int     `json:"iteration"`
	Score      float64 `json:"score"`
	ArtifactID string  `json:"artifact_id"`
}

// EscalationMessage is the decision payload of a failed convergence attempt.
type EscalationMessage struct {
	SessionID        string            `json:"session_id"`
	Reason           EscalationReason  `json:"reason"`
	BestArtifact     Artifact          `json:"best_artifact"`
	BestScore        float64           `json:"best_score"`
	IterationHistory []IterationRecord `json:"iteration_history"`
	FinalCritique    ReviewFeedback    `json:"final_critique"`
	AvailableActions []Action          `json:"available_actions"`
	CreatedAt        time.Time         `json:"created_at"`
}
