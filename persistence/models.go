package persistence

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/o3willard-AI/alcs-sub001/session"
)

// SessionModel is the sessions table row.
type SessionModel struct {
	ID                 string    `gorm:"primaryKey;size:64"`
	State              string    `gorm:"size:32;not null;index:idx_sessions_state"`
	Iteration          int       `gorm:"not null;default:0"`
	MaxIterations      int       `gorm:"not null;default:0"`
	QualityThreshold   float64   `gorm:"not null;default:0"`
	ScoreHistory       string    `gorm:"type:text"`
	Fingerprints       string    `gorm:"type:text"`
	Task               string    `gorm:"type:text"`
	Generator          string    `gorm:"size:100"`
	Critic             string    `gorm:"size:100"`
	FailureCause       string    `gorm:"type:text"`
	Escalation         string    `gorm:"type:text"`
	AcceptedArtifactID string    `gorm:"size:64"`
	ElapsedMS          int64     `gorm:"not null;default:0"`
	StartedAt          time.Time `gorm:"not null;index:idx_sessions_started_at"`
	UpdatedAt          time.Time `gorm:"not null"`
}

func (SessionModel) TableName() string { return "sessions" }

// ArtifactModel is the artifacts table row. Seq keeps creation order.
type ArtifactModel struct {
	ID        string    `gorm:"primaryKey;size:64"`
	SessionID string    `gorm:"size:64;not null;index:idx_artifacts_session"`
	Seq       int       `gorm:"not null"`
	Kind      string    `gorm:"size:32;not null"`
	Content   string    `gorm:"type:text"`
	Metadata  string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null"`
}

func (ArtifactModel) TableName() string { return "artifacts" }

// ReviewModel indexes scored review artifacts so scores can be queried
// without decoding session payloads.
type ReviewModel struct {
	ArtifactID       string    `gorm:"primaryKey;size:64"`
	SessionID        string    `gorm:"size:64;not null;index:idx_reviews_session"`
	SourceArtifactID string    `gorm:"size:64"`
	Iteration        int       `gorm:"not null;default:0"`
	QualityScore     float64   `gorm:"not null;default:0"`
	ParseStatus      string    `gorm:"size:32"`
	Feedback         string    `gorm:"type:text"`
	CreatedAt        time.Time `gorm:"not null"`
}

func (ReviewModel) TableName() string { return "reviews" }

func toSessionModel(s *session.Session) (*SessionModel, error) {
	scores, err := marshalColumn(s.ScoreHistory)
	if err != nil {
		return nil, err
	}
	fps, err := marshalColumn(s.ContentFingerprints)
	if err != nil {
		return nil, err
	}
	task, err := marshalColumn(s.Task)
	if err != nil {
		return nil, err
	}
	var escalation string
	if s.Escalation != nil {
		if escalation, err = marshalColumn(s.Escalation); err != nil {
			return nil, err
		}
	}
	return &SessionModel{
		ID:                 s.ID,
		State:              string(s.State),
		Iteration:          s.Iteration,
		MaxIterations:      s.MaxIterations,
		QualityThreshold:   s.QualityThreshold,
		ScoreHistory:       scores,
		Fingerprints:       fps,
		Task:               task,
		Generator:          s.Generator,
		Critic:             s.Critic,
		FailureCause:       s.FailureCause,
		Escalation:         escalation,
		AcceptedArtifactID: s.AcceptedArtifactID,
		ElapsedMS:          s.ElapsedMS,
		StartedAt:          s.StartedAt.UTC(),
		UpdatedAt:          s.UpdatedAt.UTC(),
	}, nil
}

func fromSessionModel(m *SessionModel, artifacts []ArtifactModel) (*session.Session, error) {
	s := &session.Session{
		ID:                  m.ID,
		State:               session.State(m.State),
		Iteration:           m.Iteration,
		MaxIterations:       m.MaxIterations,
		QualityThreshold:    m.QualityThreshold,
		Artifacts:           make([]session.Artifact, 0, len(artifacts)),
		ScoreHistory:        []float64{},
		ContentFingerprints: []string{},
		Generator:           m.Generator,
		Critic:              m.Critic,
		FailureCause:        m.FailureCause,
		AcceptedArtifactID:  m.AcceptedArtifactID,
		ElapsedMS:           m.ElapsedMS,
		StartedAt:           m.StartedAt.UTC(),
		UpdatedAt:           m.UpdatedAt.UTC(),
	}
	if err := unmarshalColumn(m.ScoreHistory, &s.ScoreHistory); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(m.Fingerprints, &s.ContentFingerprints); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(m.Task, &s.Task); err != nil {
		return nil, err
	}
	if m.Escalation != "" {
		var esc session.EscalationMessage
		if err := unmarshalColumn(m.Escalation, &esc); err != nil {
			return nil, err
		}
		s.Escalation = &esc
	}
	for _, a := range artifacts {
		art := session.Artifact{
			ID:        a.ID,
			Kind:      session.ArtifactKind(a.Kind),
			Content:   a.Content,
			CreatedAt: a.CreatedAt.UTC(),
		}
		if err := unmarshalColumn(a.Metadata, &art.Metadata); err != nil {
			return nil, err
		}
		s.Artifacts = append(s.Artifacts, art)
	}
	return s, nil
}

func toArtifactModel(sessionID string, seq int, a session.Artifact) (ArtifactModel, error) {
	md, err := marshalColumn(a.Metadata)
	if err != nil {
		return ArtifactModel{}, err
	}
	return ArtifactModel{
		ID:        a.ID,
		SessionID: sessionID,
		Seq:       seq,
		Kind:      string(a.Kind),
		Content:   a.Content,
		Metadata:  md,
		CreatedAt: a.CreatedAt.UTC(),
	}, nil
}

// toReviewModel returns false for artifacts that carry no score.
func toReviewModel(sessionID string, a session.Artifact) (ReviewModel, bool) {
	if a.Kind != session.KindReview {
		return ReviewModel{}, false
	}
	raw, ok := a.Metadata[session.MetaQualityScore]
	if !ok {
		return ReviewModel{}, false
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return ReviewModel{}, false
	}
	iter, _ := a.Iteration()
	return ReviewModel{
		ArtifactID:       a.ID,
		SessionID:        sessionID,
		SourceArtifactID: a.Metadata[session.MetaSourceArtifactID],
		Iteration:        iter,
		QualityScore:     score,
		ParseStatus:      a.Metadata[session.MetaParseStatus],
		Feedback:         a.Content,
		CreatedAt:        a.CreatedAt.UTC(),
	}, true
}

func marshalColumn(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal column: %w", err)
	}
	return string(b), nil
}

func unmarshalColumn(raw string, v any) error {
	if raw == "" || raw == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("failed to unmarshal column: %w", err)
	}
	return nil
}
