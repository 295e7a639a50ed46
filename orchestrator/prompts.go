package orchestrator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/o3willard-AI/alcs-sub001/llm"
	"github.com/o3willard-AI/alcs-sub001/session"
)

const generatorSystemPrompt = `You are a senior software engineer. Write complete, compilable code that
satisfies the task. Reply with a single fenced code block and nothing else.`

const criticSystemPrompt = `You are a strict code reviewer. Review the code against the task and reply
with ONLY a JSON object of this shape:

{
  "quality_score": <number 0-100>,
  "defects": [
    {"severity": "critical|major|minor|info", "category": "<string>",
     "location": "<string>", "description": "<string>", "fix": "<string, optional>"}
  ],
  "suggestions": ["<string>"],
  "required_changes": ["<string>"]
}

Score 90 or above only for production-ready code. Do not wrap the JSON in prose.`

// generationMessages builds the first request to the generator.
func generationMessages(task session.TaskSpec) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Language: %s\n\nTask:\n%s\n", task.Language, task.Description)
	writeList(&b, "Constraints", task.Constraints)
	if len(task.Examples) > 0 {
		b.WriteString("\nExamples:\n")
		for _, ex := range task.Examples {
			fmt.Fprintf(&b, "```\n%s\n```\n", strings.TrimSpace(ex))
		}
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: generatorSystemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

// revisionMessages asks the generator to fix the previous version.
func revisionMessages(task session.TaskSpec, previous string, fb session.ReviewFeedback) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Language: %s\n\nTask:\n%s\n", task.Language, task.Description)
	writeList(&b, "Constraints", task.Constraints)
	fmt.Fprintf(&b, "\nPrevious version (scored %.1f/100):\n```%s\n%s\n```\n", fb.QualityScore, task.Language, strings.TrimRight(previous, "\n"))
	writeList(&b, "Required changes", fb.RequiredChanges)
	if len(fb.Defects) > 0 {
		b.WriteString("\nDefects found:\n")
		for _, d := range fb.Defects {
			fmt.Fprintf(&b, "- [%s] %s (%s): %s", d.Severity, d.Category, d.Location, d.Description)
			if d.Fix != nil && *d.Fix != "" {
				fmt.Fprintf(&b, " Fix: %s", *d.Fix)
			}
			b.WriteString("\n")
		}
	}
	writeList(&b, "Suggestions", fb.Suggestions)
	b.WriteString("\nReturn the complete revised code.\n")
	return []llm.Message{
		{Role: llm.RoleSystem, Content: generatorSystemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

// critiqueMessages asks the critic to score one code artifact.
func critiqueMessages(task session.TaskSpec, code string) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Language: %s\n\nTask:\n%s\n", task.Language, task.Description)
	writeList(&b, "Constraints", task.Constraints)
	fmt.Fprintf(&b, "\nCode under review:\n```%s\n%s\n```\n", task.Language, strings.TrimRight(code, "\n"))
	return []llm.Message{
		{Role: llm.RoleSystem, Content: criticSystemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}

var codeFence = regexp.MustCompile("(?s)```([A-Za-z0-9_+#.-]*)[ \\t]*\\n(.*?)```")

// languageAliases maps fence tags to task languages.
var languageAliases = map[string]string{
	"golang": "go",
	"py":     "python",
	"ts":     "typescript",
	"js":     "javascript",
	"rs":     "rust",
	"c++":    "cpp",
	"cs":     "csharp",
	"c#":     "csharp",
	"rb":     "ruby",
}

// ExtractCode pulls source code out of generator output. A fence tagged
// with the task language wins, then the first fence of any kind, then the
// whole reply.
func ExtractCode(output, language string) string {
	output = stripReasoning(output)
	matches := codeFence.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(output) + "\n"
	}

	want := strings.ToLower(language)
	for _, m := range matches {
		tag := strings.ToLower(m[1])
		if alias, ok := languageAliases[tag]; ok {
			tag = alias
		}
		if tag == want {
			return m[2]
		}
	}
	return matches[0][2]
}
