package llm_test

import (
	"testing"

	"github.com/o3willard-AI/alcs-sub001/llm"
	"github.com/o3willard-AI/alcs-sub001/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderRegistry(t *testing.T) {
	r := llm.NewProviderRegistry()
	assert.Equal(t, 0, r.Len())

	assert.False(t, r.Register("beta", mocks.NewMockProvider().WithName("beta")))
	assert.False(t, r.Register("alpha", mocks.NewMockProvider().WithName("alpha")))
	assert.Equal(t, []string{"alpha", "beta"}, r.List())

	p, ok := r.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", p.Name())

	_, err := r.MustGet("gamma")
	assert.Error(t, err)

	assert.True(t, r.Register("alpha", mocks.NewMockProvider().WithName("alpha-2")))
	p, _ = r.Get("alpha")
	assert.Equal(t, "alpha-2", p.Name())
	assert.Equal(t, 2, r.Len())

	r.Unregister("beta")
	_, ok = r.Get("beta")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestProviderRegistry_Entries(t *testing.T) {
	r := llm.NewProviderRegistry()
	r.Register("spare", mocks.NewMockProvider().WithName("ollama").WithModel("deepseek-coder"))
	r.Register("alpha", mocks.NewMockProvider().WithName("ollama").WithModel("qwen2.5-coder"))

	entries := r.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "alpha", entries[0].Name)
	assert.Equal(t, "qwen2.5-coder", entries[0].Model)
	assert.Equal(t, "spare", entries[1].Name)
	assert.Equal(t, "deepseek-coder", entries[1].Model)
	assert.False(t, entries[0].AddedAt.IsZero())
}
