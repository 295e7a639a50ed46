package orchestrator

import (
	"strings"
	"testing"

	"github.com/o3willard-AI/alcs-sub001/llm"
	"github.com/o3willard-AI/alcs-sub001/session"
	"github.com/o3willard-AI/alcs-sub001/testutil/fixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCode(t *testing.T) {
	code := fixtures.CodeVersion(1)
	tests := []struct {
		name     string
		output   string
		language string
		want     string
	}{
		{"fenced", fixtures.FencedCode("go", code), "go", code},
		{"alias tag", fixtures.FencedCode("golang", code), "go", code},
		{"untagged fence", fixtures.FencedCode("", code), "go", code},
		{"bare text", "  " + strings.TrimSpace(code) + "\n\n", "go", code},
		{
			name:     "prefers language fence",
			output:   "```bash\ngo test ./...\n```\n\n```go\n" + code + "```",
			language: "go",
			want:     code,
		},
		{
			name:     "first fence when none matches",
			output:   "```bash\necho hi\n```\n```sh\necho bye\n```",
			language: "python",
			want:     "echo hi\n",
		},
		{"drops reasoning", "<think>plan</think>" + fixtures.FencedCode("py", "print(1)\n"), "python", "print(1)\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCode(tt.output, tt.language))
		})
	}
}

func TestPromptMessages(t *testing.T) {
	task := session.TaskSpec{
		Description: "add two ints",
		Language:    "go",
		Constraints: []string{"no imports"},
		Examples:    []string{"Add(1, 2) == 3"},
	}

	gen := generationMessages(task)
	require.Len(t, gen, 2)
	assert.Equal(t, llm.RoleSystem, gen[0].Role)
	assert.Contains(t, gen[1].Content, "add two ints")
	assert.Contains(t, gen[1].Content, "no imports")
	assert.Contains(t, gen[1].Content, "Add(1, 2) == 3")

	fb := ParseFeedback(fixtures.Critique(40)).Feedback
	rev := revisionMessages(task, "func Add() {}", fb)
	last := rev[len(rev)-1].Content
	assert.Contains(t, last, "func Add() {}")
	assert.Contains(t, last, "handle overflow")
	assert.Contains(t, last, "missing overflow handling")

	crit := critiqueMessages(task, "func Add() {}")
	require.Len(t, crit, 2)
	assert.Contains(t, crit[0].Content, "quality_score")
	assert.Contains(t, crit[1].Content, "func Add() {}")
}
