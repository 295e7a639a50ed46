package orchestrator

import (
	"time"

	"github.com/o3willard-AI/alcs-sub001/session"
	"github.com/o3willard-AI/alcs-sub001/types"
)

// BuildEscalation packages a session that stopped converging. The best
// iteration is the first one holding the maximum score.
func BuildEscalation(sess *session.Session, reason session.EscalationReason) (*session.EscalationMessage, error) {
	codes := sess.CodeArtifacts()
	if len(codes) == 0 {
		return nil, types.NewEscalationConstructionError(sess.ID)
	}

	byIteration := make(map[int]session.Artifact, len(codes))
	for _, a := range codes {
		if it, ok := a.Iteration(); ok {
			if _, dup := byIteration[it]; !dup {
				byIteration[it] = a
			}
		}
	}

	history := make([]session.IterationRecord, 0, len(sess.ScoreHistory))
	bestIdx := -1
	bestScore := 0.0
	for i, score := range sess.ScoreHistory {
		iteration := i + 1
		rec := session.IterationRecord{Iteration: iteration, Score: score}
		if a, ok := byIteration[iteration]; ok {
			rec.ArtifactID = a.ID
		}
		history = append(history, rec)
		if bestIdx < 0 || score > bestScore {
			bestIdx, bestScore = i, score
		}
	}

	best := codes[len(codes)-1]
	if bestIdx >= 0 {
		if a, ok := byIteration[bestIdx+1]; ok {
			best = a
		}
	} else {
		bestScore = 0
	}

	critique := session.PlaceholderFeedback()
	if review, ok := sess.LatestArtifact(session.KindReview); ok {
		critique = ParseFeedback(review.Content).Feedback
	}

	return &session.EscalationMessage{
		SessionID:        sess.ID,
		Reason:           reason,
		BestArtifact:     best,
		BestScore:        bestScore,
		IterationHistory: history,
		FinalCritique:    critique,
		AvailableActions: session.AvailableActions(),
		CreatedAt:        time.Now().UTC(),
	}, nil
}
