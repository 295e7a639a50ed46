package tokenizer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingTokenizer struct{}

func (failingTokenizer) CountTokens(string) (int, error) { return 0, errors.New("offline") }
func (failingTokenizer) Name() string                    { return "failing" }

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimatorTokenizer()

	n, err := e.CountTokens("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = e.CountTokens("abcd")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// foo, bar 各 1，加 3 个标点
	n, err = e.CountTokens("foo(bar);")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 4)

	n, err = e.CountTokens("你好世界")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestEstimator_WithCharsPerToken(t *testing.T) {
	e := NewEstimatorTokenizer().WithCharsPerToken(2)
	n, _ := e.CountTokens("abcdefgh")
	assert.Equal(t, 4, n)

	e.WithCharsPerToken(-1)
	n, _ = e.CountTokens("abcdefgh")
	assert.Equal(t, 4, n)
}

func TestFallback_UsesSecondaryOnError(t *testing.T) {
	f := NewFallback(failingTokenizer{}, NewEstimatorTokenizer())
	n, err := f.CountTokens("abcdefgh")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "failing|estimator", f.Name())

	f = NewFallback(nil, NewEstimatorTokenizer())
	assert.Equal(t, "estimator", f.Name())
}

func TestCount_NeverFails(t *testing.T) {
	assert.Equal(t, 0, Count(nil, "x"))
	assert.Equal(t, 0, Count(failingTokenizer{}, "x"))
	assert.Equal(t, 2, Count(NewEstimatorTokenizer(), "abcdefgh"))
}

func TestDefault_CountsSomething(t *testing.T) {
	// Works offline through the estimator fallback.
	assert.Greater(t, Count(Default(), "func main() { fmt.Println(\"hi\") }"), 0)
}

func TestTiktokenTokenizer_Name(t *testing.T) {
	assert.Equal(t, "tiktoken[cl100k_base]", NewTiktokenTokenizer("").Name())
	assert.Equal(t, "tiktoken[o200k_base]", NewTiktokenTokenizer("o200k_base").Name())
}
