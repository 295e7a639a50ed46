package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/o3willard-AI/alcs-sub001/session"
	"github.com/o3willard-AI/alcs-sub001/types"
)

// ParseResult is the typed outcome of reading critic output. A malformed
// result still carries usable sentinel feedback.
type ParseResult struct {
	Feedback  session.ReviewFeedback
	Malformed bool
	Raw       string
	Reason    string
}

// Status is stored as artifact metadata.
func (r ParseResult) Status() string {
	if r.Malformed {
		return "malformed"
	}
	return "ok"
}

// Err describes a malformed result. It is only logged, never returned to
// callers.
func (r ParseResult) Err() error {
	if !r.Malformed {
		return nil
	}
	return types.NewError(types.ErrFeedbackParse, r.Reason)
}

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	// 成对匹配围栏，语言标签单独捕获，避免从上一个块的结尾开始匹配
	fenceBlock = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)[ \\t]*\\n(.*?)```")
)

// rawFeedback mirrors ReviewFeedback with the score optional so a missing
// score can be told apart from a zero.
type rawFeedback struct {
	QualityScore    *float64         `json:"quality_score"`
	Defects         []session.Defect `json:"defects"`
	Suggestions     []string         `json:"suggestions"`
	RequiredChanges []string         `json:"required_changes"`
}

// ParseFeedback reads critic output. Reasoning blocks and markdown fences
// are stripped, the score is clamped to [0, 100] and missing lists become
// empty. Anything unreadable yields sentinel feedback.
func ParseFeedback(raw string) ParseResult {
	res := ParseResult{Raw: raw}

	var (
		parsed rawFeedback
		reason string
	)
	for _, cand := range jsonCandidates(stripReasoning(raw)) {
		var fb rawFeedback
		err := json.Unmarshal([]byte(cand), &fb)
		switch {
		case err != nil:
			if reason == "" {
				reason = fmt.Sprintf("invalid JSON: %v", err)
			}
			continue
		case fb.QualityScore == nil:
			if reason == "" {
				reason = "quality_score missing"
			}
			continue
		}
		parsed = fb
		break
	}
	if parsed.QualityScore == nil {
		if reason == "" {
			reason = "no JSON object found"
		}
		return malformed(res, reason)
	}

	fb := session.ReviewFeedback{
		QualityScore:    clamp(*parsed.QualityScore, 0, 100),
		Defects:         parsed.Defects,
		Suggestions:     parsed.Suggestions,
		RequiredChanges: parsed.RequiredChanges,
	}
	if fb.Defects == nil {
		fb.Defects = []session.Defect{}
	}
	for i := range fb.Defects {
		fb.Defects[i].Severity = normalizeSeverity(fb.Defects[i].Severity)
	}
	if fb.Suggestions == nil {
		fb.Suggestions = []string{}
	}
	if fb.RequiredChanges == nil {
		fb.RequiredChanges = []string{}
	}
	res.Feedback = fb
	return res
}

func malformed(res ParseResult, reason string) ParseResult {
	res.Malformed = true
	res.Reason = reason
	res.Feedback = session.SentinelFeedback(reason)
	return res
}

// stripReasoning drops <think> blocks some critic models emit before the
// answer. An unterminated block swallows everything up to the first brace.
func stripReasoning(s string) string {
	s = thinkBlock.ReplaceAllString(s, "")
	if i := strings.Index(s, "<think>"); i >= 0 {
		s = s[:i] + s[i+len("<think>"):]
	}
	return s
}

// jsonCandidates lists balanced objects in the order they should be tried:
// json or untagged fenced blocks first, then the whole text.
func jsonCandidates(s string) []string {
	var out []string
	for _, m := range fenceBlock.FindAllStringSubmatch(s, -1) {
		switch strings.ToLower(m[1]) {
		case "", "json":
			out = append(out, balancedObjects(m[2])...)
		}
	}
	return append(out, balancedObjects(s)...)
}

// balancedObjects returns every top-level brace-balanced span, skipping
// braces inside JSON strings. An opening brace that never closes is
// skipped so later objects are still found.
func balancedObjects(text string) []string {
	var out []string
	for i := 0; i < len(text); {
		start := strings.IndexByte(text[i:], '{')
		if start == -1 {
			break
		}
		start += i
		end, ok := objectEnd(text, start)
		if !ok {
			i = start + 1
			continue
		}
		out = append(out, text[start:end+1])
		i = end + 1
	}
	return out
}

// objectEnd scans from the '{' at start and returns the index of the
// matching '}'.
func objectEnd(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func normalizeSeverity(s string) string {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case session.SeverityCritical, session.SeverityMajor, session.SeverityMinor, session.SeverityInfo:
		return v
	case "high", "blocker", "error":
		return session.SeverityMajor
	case "low", "warning", "nit":
		return session.SeverityMinor
	case "":
		return session.SeverityInfo
	default:
		return v
	}
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
