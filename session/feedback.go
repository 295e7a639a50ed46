package session

// Defect is a single problem reported by the critic.
type Defect struct {
	Severity    string  `json:"severity"`
	Category    string  `json:"category"`
	Location    string  `json:"location"`
	Description string  `json:"description"`
	Fix         *string `json:"fix,omitempty"`
}

// ReviewFeedback is the parsed result of a critique call.
type ReviewFeedback struct {
	QualityScore    float64  `json:"quality_score"`
	Defects         []Defect `json:"defects"`
	Suggestions     []string `json:"suggestions"`
	RequiredChanges []string `json:"required_changes"`
}

// Severity levels used by the sentinel and placeholder feedback.
const (
	SeverityCritical = "critical"
	SeverityMajor    = "major"
	SeverityMinor    = "minor"
	SeverityInfo     = "info"
)

// SentinelFeedback stands in for critic output that could not be parsed.
// The convergence loop always gets a score to reason about.
func SentinelFeedback(reason string) ReviewFeedback {
	return ReviewFeedback{
		QualityScore: 0,
		Defects: []Defect{{
			Severity:    SeverityCritical,
			Category:    "review_parse_failure",
			Location:    "critic output",
			Description: "critic output could not be parsed: " + reason,
		}},
		Suggestions:     []string{},
		RequiredChanges: []string{},
	}
}

// PlaceholderFeedback is used by escalation when no review exists yet.
func PlaceholderFeedback() ReviewFeedback {
	return ReviewFeedback{
		QualityScore:    0,
		Defects:         []Defect{},
		Suggestions:     []string{},
		RequiredChanges: []string{},
	}
}
