package tokenizer

// Tokenizer counts tokens in generated artifacts.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// Name 返回分词器的名称.
	Name() string
}

// Fallback tries primary first and answers with secondary when primary
// fails, for example when tiktoken cannot load its encoding offline.
type Fallback struct {
	primary   Tokenizer
	secondary Tokenizer
}

// NewFallback chains two tokenizers.
func NewFallback(primary, secondary Tokenizer) *Fallback {
	return &Fallback{primary: primary, secondary: secondary}
}

func (f *Fallback) CountTokens(text string) (int, error) {
	if f.primary != nil {
		if n, err := f.primary.CountTokens(text); err == nil {
			return n, nil
		}
	}
	return f.secondary.CountTokens(text)
}

func (f *Fallback) Name() string {
	if f.primary == nil {
		return f.secondary.Name()
	}
	return f.primary.Name() + "|" + f.secondary.Name()
}

// Default returns the tokenizer used for artifact accounting: tiktoken
// cl100k_base with the character estimator behind it.
func Default() Tokenizer {
	return NewFallback(NewTiktokenTokenizer("cl100k_base"), NewEstimatorTokenizer())
}

// Count is CountTokens that never fails, returning 0 on error.
func Count(t Tokenizer, text string) int {
	if t == nil {
		return 0
	}
	n, err := t.CountTokens(text)
	if err != nil {
		return 0
	}
	return n
}
