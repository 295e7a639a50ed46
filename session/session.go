// Package session defines the data model of one produce/review/revise run:
// the Session, its immutable Artifacts, parsed critic feedback and the
// escalation payload handed to an external decision-maker.
package session

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ArtifactKind tags the opaque content of an Artifact.
type ArtifactKind string

const (
	KindCode      ArtifactKind = "code"
	KindReview    ArtifactKind = "review"
	KindTestSuite ArtifactKind = "test_suite"
)

// Well-known artifact metadata keys.
const (
	MetaIteration        = "iteration"
	MetaSourceArtifactID = "source_artifact_id"
	MetaBackend          = "backend"
	MetaModel            = "model"
	MetaTokens           = "tokens"
	MetaFingerprint      = "fingerprint"
	MetaParseStatus      = "parse_status"
	MetaQualityScore     = "quality_score"
)

// Artifact is immutable once created. Revisions produce new artifacts.
type Artifact struct {
	ID        string            `json:"id"`
	Kind      ArtifactKind      `json:"kind"`
	Content   string            `json:"content"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewArtifact creates an artifact tagged with the iteration it belongs to.
func NewArtifact(kind ArtifactKind, content string, iteration int, now time.Time) Artifact {
	return Artifact{
		ID:        uuid.New().String(),
		Kind:      kind,
		Content:   content,
		CreatedAt: now,
		Metadata:  map[string]string{MetaIteration: strconv.Itoa(iteration)},
	}
}

// Iteration returns the iteration tag from metadata.
func (a Artifact) Iteration() (int, bool) {
	v, ok := a.Metadata[MetaIteration]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// TaskSpec is what the caller asked for.
type TaskSpec struct {
	Description string   `json:"description"`
	Language    string   `json:"language"`
	Constraints []string `json:"constraints,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// Session is one task's run. It is mutated only by the orchestrator.
type Session struct {
	ID                  string             `json:"id"`
	State               State              `json:"state"`
	Iteration           int                `json:"iteration"`
	MaxIterations       int                `json:"max_iterations"`
	QualityThreshold    float64            `json:"quality_threshold"`
	Artifacts           []Artifact         `json:"artifacts"`
	ScoreHistory        []float64          `json:"score_history"`
	ContentFingerprints []string           `json:"content_fingerprints"`
	StartedAt           time.Time          `json:"started_at"`
	ElapsedMS           int64              `json:"elapsed_ms"`
	UpdatedAt           time.Time          `json:"updated_at"`
	Task                TaskSpec           `json:"task"`
	Generator           string             `json:"generator,omitempty"`
	Critic              string             `json:"critic,omitempty"`
	FailureCause        string             `json:"failure_cause,omitempty"`
	Escalation          *EscalationMessage `json:"escalation,omitempty"`
	AcceptedArtifactID  string             `json:"accepted_artifact_id,omitempty"`
}

// New creates a session in IDLE.
func New(id string, task TaskSpec, maxIterations int, threshold float64, now time.Time) *Session {
	if id == "" {
		id = uuid.New().String()
	}
	return &Session{
		ID:                  id,
		State:               StateIdle,
		MaxIterations:       maxIterations,
		QualityThreshold:    threshold,
		Artifacts:           []Artifact{},
		ScoreHistory:        []float64{},
		ContentFingerprints: []string{},
		StartedAt:           now,
		UpdatedAt:           now,
		Task:                task,
	}
}

// Transition moves the session along one edge of the state table.
func (s *Session) Transition(to State) error {
	if !CanTransition(s.State, to) {
		return ErrInvalidTransition{From: s.State, To: to}
	}
	s.State = to
	return nil
}

// AppendArtifact adds an artifact. Artifacts are never replaced.
func (s *Session) AppendArtifact(a Artifact) {
	s.Artifacts = append(s.Artifacts, a)
}

// RecordScore closes one review cycle.
func (s *Session) RecordScore(score float64) {
	s.ScoreHistory = append(s.ScoreHistory, score)
	s.Iteration = len(s.ScoreHistory)
}

// HasFingerprint reports whether fp was seen before.
func (s *Session) HasFingerprint(fp string) bool {
	for _, f := range s.ContentFingerprints {
		if f == fp {
			return true
		}
	}
	return false
}

// AddFingerprint inserts fp into the set.
func (s *Session) AddFingerprint(fp string) {
	if fp == "" || s.HasFingerprint(fp) {
		return
	}
	s.ContentFingerprints = append(s.ContentFingerprints, fp)
}

// LatestArtifact returns the newest artifact of the given kind.
func (s *Session) LatestArtifact(kind ArtifactKind) (Artifact, bool) {
	for i := len(s.Artifacts) - 1; i >= 0; i-- {
		if s.Artifacts[i].Kind == kind {
			return s.Artifacts[i], true
		}
	}
	return Artifact{}, false
}

// ArtifactByID looks up an artifact by id.
func (s *Session) ArtifactByID(id string) (Artifact, bool) {
	for _, a := range s.Artifacts {
		if a.ID == id {
			return a, true
		}
	}
	return Artifact{}, false
}

// CodeArtifacts returns the code artifacts in creation order.
func (s *Session) CodeArtifacts() []Artifact {
	out := make([]Artifact, 0, len(s.Artifacts))
	for _, a := range s.Artifacts {
		if a.Kind == KindCode {
			out = append(out, a)
		}
	}
	return out
}

// Touch refreshes the bookkeeping timestamps.
func (s *Session) Touch(now time.Time) {
	s.UpdatedAt = now
	s.ElapsedMS = now.Sub(s.StartedAt).Milliseconds()
}

// Validate checks the structural invariants of a session.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id is empty")
	}
	if !s.State.Valid() {
		return fmt.Errorf("session %s: unknown state %q", s.ID, s.State)
	}
	if len(s.ScoreHistory) != s.Iteration {
		return fmt.Errorf("session %s: score history has %d entries, iteration is %d",
			s.ID, len(s.ScoreHistory), s.Iteration)
	}
	return nil
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Artifacts = make([]Artifact, len(s.Artifacts))
	for i, a := range s.Artifacts {
		c.Artifacts[i] = a
		if a.Metadata != nil {
			md := make(map[string]string, len(a.Metadata))
			for k, v := range a.Metadata {
				md[k] = v
			}
			c.Artifacts[i].Metadata = md
		}
	}
	c.ScoreHistory = append([]float64{}, s.ScoreHistory...)
	c.ContentFingerprints = append([]string{}, s.ContentFingerprints...)
	c.Task.Constraints = append([]string(nil), s.Task.Constraints...)
	c.Task.Examples = append([]string(nil), s.Task.Examples...)
	if s.Escalation != nil {
		e := *s.Escalation
		e.IterationHistory = append([]IterationRecord(nil), s.Escalation.IterationHistory...)
		e.AvailableActions = append([]Action(nil), s.Escalation.AvailableActions...)
		c.Escalation = &e
	}
	return &c
}
