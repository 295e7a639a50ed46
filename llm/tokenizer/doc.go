// Package tokenizer counts tokens in generated artifacts. tiktoken gives
// exact counts for OpenAI-family encodings; a code-tuned estimator answers
// when the encoding cannot be loaded.
package tokenizer
