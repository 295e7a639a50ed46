// Package mocks 提供脚本化的后端替身：按顺序回放响应或错误，
// 并记录每次调用的请求。
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/o3willard-AI/alcs-sub001/llm"
)

// Step is one scripted outcome: either Content or Err.
type Step struct {
	Content string
	Err     error
}

// Reply scripts a successful response.
func Reply(content string) Step { return Step{Content: content} }

// Fail scripts an error.
func Fail(err error) Step { return Step{Err: err} }

// Call records one non-probe Completion.
type Call struct {
	Request  *llm.ChatRequest
	Response *llm.ChatResponse
	Error    error
}

// CompletionFunc answers a non-probe call in place of the script.
type CompletionFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

// MockProvider implements llm.Provider. Completion consumes the script
// first, then falls back to the fixed error or response. Probe calls
// (MaxTokens == 1) never touch the script.
type MockProvider struct {
	mu sync.Mutex

	name, model string
	script      []Step
	response    string
	err         error
	usage       llm.ChatUsage
	healthErr   error
	probeErr    error
	failAfter   int
	completion  CompletionFunc

	calls []Call
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		name:     "mock",
		model:    "mock-model",
		response: "Mock response",
		usage:    llm.ChatUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}
}

// NewFailingProvider 所有非探测调用都返回 err
func NewFailingProvider(err error) *MockProvider {
	return NewMockProvider().WithError(err)
}

func (m *MockProvider) update(fn func()) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
	return m
}

func (m *MockProvider) WithName(name string) *MockProvider {
	return m.update(func() { m.name = name })
}

func (m *MockProvider) WithModel(model string) *MockProvider {
	return m.update(func() { m.model = model })
}

// WithResponse sets the reply used once the script is exhausted.
func (m *MockProvider) WithResponse(content string) *MockProvider {
	return m.update(func() { m.response = content })
}

// WithScript appends steps, consumed in call order.
func (m *MockProvider) WithScript(steps ...Step) *MockProvider {
	return m.update(func() { m.script = append(m.script, steps...) })
}

// WithReplies appends one successful step per content.
func (m *MockProvider) WithReplies(contents ...string) *MockProvider {
	steps := make([]Step, len(contents))
	for i, c := range contents {
		steps[i] = Reply(c)
	}
	return m.WithScript(steps...)
}

// WithError makes every call fail once the script is exhausted.
func (m *MockProvider) WithError(err error) *MockProvider {
	return m.update(func() { m.err = err })
}

func (m *MockProvider) WithHealthError(err error) *MockProvider {
	return m.update(func() { m.healthErr = err })
}

// WithProbeError fails the max_tokens=1 probe only.
func (m *MockProvider) WithProbeError(err error) *MockProvider {
	return m.update(func() { m.probeErr = err })
}

func (m *MockProvider) WithTokenUsage(prompt, completion int) *MockProvider {
	return m.update(func() {
		m.usage = llm.ChatUsage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
	})
}

// WithFailAfter fails every call after the first n.
func (m *MockProvider) WithFailAfter(n int) *MockProvider {
	return m.update(func() { m.failAfter = n })
}

// WithCompletionFunc routes every non-probe call to fn. fn runs without the
// mock's lock held, so it may call back into the mock.
func (m *MockProvider) WithCompletionFunc(fn CompletionFunc) *MockProvider {
	return m.update(func() { m.completion = fn })
}

func (m *MockProvider) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

func (m *MockProvider) Model() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}

func (m *MockProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.healthErr != nil {
		return &llm.HealthStatus{Message: m.healthErr.Error()}, m.healthErr
	}
	return &llm.HealthStatus{Healthy: true, Latency: time.Millisecond}, nil
}

func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	fn := m.completion
	if fn == nil || (req != nil && req.MaxTokens == 1) {
		defer m.mu.Unlock()
		return m.complete(req)
	}
	m.mu.Unlock()

	resp, err := fn(ctx, req)
	m.update(func() {
		m.calls = append(m.calls, Call{Request: req, Response: resp, Error: err})
	})
	return resp, err
}

// complete runs with mu held.
func (m *MockProvider) complete(req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if req != nil && req.MaxTokens == 1 {
		if m.probeErr != nil {
			return nil, m.probeErr
		}
		return m.reply(req, "ok"), nil
	}

	var (
		resp *llm.ChatResponse
		err  error
	)
	switch {
	case m.failAfter > 0 && len(m.calls) >= m.failAfter:
		err = fmt.Errorf("mock provider %s: failing after %d calls", m.name, m.failAfter)
	case len(m.script) > 0:
		step := m.script[0]
		m.script = m.script[1:]
		if err = step.Err; err == nil {
			resp = m.reply(req, step.Content)
		}
	case m.err != nil:
		err = m.err
	default:
		resp = m.reply(req, m.response)
	}
	m.calls = append(m.calls, Call{Request: req, Response: resp, Error: err})
	return resp, err
}

func (m *MockProvider) reply(req *llm.ChatRequest, content string) *llm.ChatResponse {
	model := m.model
	if req != nil && req.Model != "" {
		model = req.Model
	}
	return &llm.ChatResponse{
		ID:       "mock-" + m.name,
		Provider: m.name,
		Model:    model,
		Choices: []llm.ChatChoice{{
			FinishReason: "stop",
			Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		}},
		Usage:     m.usage,
		CreatedAt: time.Now(),
	}
}

// Calls returns a copy of the recorded calls.
func (m *MockProvider) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount excludes probes.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastCall returns nil before the first call.
func (m *MockProvider) LastCall() *Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	c := m.calls[len(m.calls)-1]
	return &c
}

// Remaining is the number of unconsumed script steps.
func (m *MockProvider) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.script)
}

// Reset drops the call log and any unconsumed script.
func (m *MockProvider) Reset() {
	m.update(func() {
		m.calls = nil
		m.script = nil
	})
}
