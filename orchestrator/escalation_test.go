package orchestrator

import (
	"testing"
	"time"

	"github.com/o3willard-AI/alcs-sub001/session"
	"github.com/o3willard-AI/alcs-sub001/testutil/fixtures"
	"github.com/o3willard-AI/alcs-sub001/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sessionWithScores builds a session with one code and one review artifact
// per score.
func sessionWithScores(scores ...float64) *session.Session {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := session.New("esc", session.TaskSpec{Description: "add", Language: "go"}, 10, 85, now)
	for i, score := range scores {
		it := i + 1
		code := session.NewArtifact(session.KindCode, fixtures.CodeVersion(it), it, now)
		s.AppendArtifact(code)
		review := session.NewArtifact(session.KindReview, fixtures.Critique(score), it, now)
		review.Metadata[session.MetaSourceArtifactID] = code.ID
		s.AppendArtifact(review)
		s.RecordScore(score)
	}
	return s
}

func TestBuildEscalation_EarliestBestWins(t *testing.T) {
	s := sessionWithScores(70, 85, 85, 60)

	msg, err := BuildEscalation(s, session.ReasonMaxIterations)
	require.NoError(t, err)

	assert.Equal(t, "esc", msg.SessionID)
	assert.Equal(t, session.ReasonMaxIterations, msg.Reason)
	assert.Equal(t, 85.0, msg.BestScore)
	assert.Equal(t, fixtures.CodeVersion(2), msg.BestArtifact.Content)
	it, ok := msg.BestArtifact.Iteration()
	require.True(t, ok)
	assert.Equal(t, 2, it)

	require.Len(t, msg.IterationHistory, 4)
	for i, rec := range msg.IterationHistory {
		assert.Equal(t, i+1, rec.Iteration)
		assert.NotEmpty(t, rec.ArtifactID)
	}
	assert.Equal(t, 60.0, msg.IterationHistory[3].Score)

	assert.Equal(t, session.AvailableActions(), msg.AvailableActions)
	assert.NotContains(t, msg.AvailableActions, session.ActionFail)
	assert.Equal(t, 60.0, msg.FinalCritique.QualityScore)
	assert.Equal(t, []string{"handle overflow"}, msg.FinalCritique.RequiredChanges)
}

func TestBuildEscalation_NoCode(t *testing.T) {
	s := session.New("empty", session.TaskSpec{}, 5, 85, time.Now())

	_, err := BuildEscalation(s, session.ReasonExplicit)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrEscalationConstruction))
}

func TestBuildEscalation_UnreviewedCode(t *testing.T) {
	s := session.New("raw", session.TaskSpec{}, 5, 85, time.Now())
	s.AppendArtifact(session.NewArtifact(session.KindCode, "x", 1, time.Now()))

	msg, err := BuildEscalation(s, session.ReasonExplicit)
	require.NoError(t, err)
	assert.Equal(t, "x", msg.BestArtifact.Content)
	assert.Zero(t, msg.BestScore)
	assert.Empty(t, msg.IterationHistory)
	assert.Equal(t, session.PlaceholderFeedback(), msg.FinalCritique)
}
