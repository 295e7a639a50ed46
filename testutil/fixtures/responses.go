// =============================================================================
// 📦 测试数据工厂 - 后端响应测试数据
// =============================================================================
// 提供预定义的生成器代码输出与评审器 JSON 输出，用于测试
// =============================================================================
package fixtures

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/o3willard-AI/alcs-sub001/llm"
	"github.com/o3willard-AI/alcs-sub001/session"
)

// =============================================================================
// 🎯 ChatResponse 工厂
// =============================================================================

// SimpleResponse 返回简单的文本响应
func SimpleResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		ID:       "resp-001",
		Provider: "mock",
		Model:    "qwen2.5-coder",
		Choices: []llm.ChatChoice{
			{
				Index:        0,
				FinishReason: "stop",
				Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
			},
		},
		Usage: llm.ChatUsage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
		CreatedAt: time.Now(),
	}
}

// =============================================================================
// 🧩 生成器输出
// =============================================================================

// CodeVersion 返回第 n 版、内容互不相同的 Go 源码
func CodeVersion(n int) string {
	return fmt.Sprintf("package main\n\n// v%d\nfunc Add(a, b int) int { return a + b + %d - %d }\n", n, n, n)
}

// FencedCode 把代码包进 markdown 代码块，模拟模型的常见输出格式
func FencedCode(lang, code string) string {
	return "Here is the implementation:\n\n```" + lang + "\n" + code + "```\n\nLet me know if you need changes."
}

// =============================================================================
// 🔍 评审器输出
// =============================================================================

// Critique 返回指定分数的合法评审 JSON
func Critique(score float64) string {
	fb := session.ReviewFeedback{
		QualityScore: score,
		Defects: []session.Defect{{
			Severity:    session.SeverityMajor,
			Category:    "correctness",
			Location:    "Add",
			Description: "missing overflow handling",
		}},
		Suggestions:     []string{"add tests"},
		RequiredChanges: []string{"handle overflow"},
	}
	data, err := json.Marshal(fb)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// WrappedCritique 返回被前后说明文字包裹的评审 JSON
func WrappedCritique(score float64) string {
	return "<think>checking the code</think>\nReview:\n```json\n" + Critique(score) + "\n```\nDone."
}

// Critiques 把一组分数转换为评审输出序列
func Critiques(scores ...float64) []string {
	out := make([]string, 0, len(scores))
	for _, s := range scores {
		out = append(out, Critique(s))
	}
	return out
}

// MalformedCritique 返回无法解析的评审输出
func MalformedCritique() string {
	return "The code looks fine overall, I would give it a solid eight out of ten."
}
