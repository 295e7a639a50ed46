package tokenizer

import (
	"math"
	"unicode"
)

// EstimatorTokenizer approximates BPE counts without a vocabulary. It is
// tuned for source code: identifier runs cost len/charsPerToken, every
// operator or bracket costs one, and line breaks cost one.
type EstimatorTokenizer struct {
	charsPerToken float64
}

// NewEstimatorTokenizer returns an estimator at 4 chars per token.
func NewEstimatorTokenizer() *EstimatorTokenizer {
	return &EstimatorTokenizer{charsPerToken: 4.0}
}

// WithCharsPerToken overrides the ratio; non-positive values are ignored.
func (e *EstimatorTokenizer) WithCharsPerToken(ratio float64) *EstimatorTokenizer {
	if ratio > 0 {
		e.charsPerToken = ratio
	}
	return e
}

func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	var (
		tokens float64
		word   int // 当前标识符长度
		han    int
	)
	flush := func() {
		if word > 0 {
			tokens += math.Ceil(float64(word) / e.charsPerToken)
			word = 0
		}
	}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			han++
		case r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
			word++
		case r == '\n':
			flush()
			tokens++
		case unicode.IsSpace(r):
			flush()
		default:
			flush()
			tokens++
		}
	}
	flush()
	// 汉字约两个一个 token
	tokens += math.Ceil(float64(han) / 2)

	if tokens == 0 && text != "" {
		return 1, nil
	}
	return int(tokens), nil
}

func (e *EstimatorTokenizer) Name() string {
	return "estimator"
}
