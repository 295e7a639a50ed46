package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/o3willard-AI/alcs-sub001/session"
	"github.com/stretchr/testify/assert"
)

const pollInterval = 10 * time.Millisecond

// TestContext 返回 30s 超时、随测试结束取消的上下文
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// AssertSessionValid checks the structural invariants of a stored session:
// known state, one score per iteration, unique artifact ids, and an
// escalation record whenever the session is ESCALATED.
func AssertSessionValid(t *testing.T, s *session.Session) {
	t.Helper()
	if s == nil {
		t.Fatal("session is nil")
	}
	if !s.State.Valid() {
		t.Errorf("session %s has unknown state %q", s.ID, s.State)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("session %s invalid: %v", s.ID, err)
	}
	seen := make(map[string]bool, len(s.Artifacts))
	for _, a := range s.Artifacts {
		if seen[a.ID] {
			t.Errorf("session %s: duplicate artifact id %s", s.ID, a.ID)
		}
		seen[a.ID] = true
	}
	if s.State == session.StateEscalated && s.Escalation == nil {
		t.Errorf("session %s is ESCALATED without an escalation message", s.ID)
	}
}

// AssertEventuallyTrue polls cond until it holds or timeout passes.
func AssertEventuallyTrue(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	assert.Eventually(t, cond, timeout, pollInterval)
}

// AssertEventuallyEqual polls get until it equals want, reporting the last value seen.
func AssertEventuallyEqual(t *testing.T, want any, get func() any, timeout time.Duration) {
	t.Helper()
	var last any
	ok := assert.Eventually(t, func() bool {
		last = get()
		return assert.ObjectsAreEqual(want, last)
	}, timeout, pollInterval)
	if !ok {
		t.Logf("last value: %#v", last)
	}
}

// WaitForChannel 等待通道接收或超时，用于异步任务的完成回调
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-ch:
		return v, true
	case <-timer.C:
		var zero T
		return zero, false
	}
}

// Reshape re-decodes v as T through JSON, e.g. to turn the `any` data of
// a response envelope into a typed view.
func Reshape[T any](v any) T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return out
}
