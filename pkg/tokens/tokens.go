// Package tokens approximates token counts for prompts and messages.
// It prefers an exact tiktoken-go encoding and falls back to a
// language-aware density estimate when a model's encoding is unknown
// or the tokenizer library itself fails to load.
package tokens

import (
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"

	"github.com/StarkFactory/arcreactor/pkg/agent"
)

// Estimator counts tokens for a specific model.
type Estimator struct {
	encoding *tiktoken.Tiktoken
	model    string
	mu       sync.RWMutex
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// New creates an Estimator for model, reusing a cached encoding when
// one was already resolved for that model. Falls back to cl100k_base
// (GPT-4/3.5 family) when the model has no known encoding, and further
// to a nil encoding (triggering the CJK-density estimate in Count) if
// even that lookup fails.
func New(model string) *Estimator {
	cacheMu.RLock()
	cached, ok := encodingCache[model]
	cacheMu.RUnlock()
	if ok {
		return &Estimator{encoding: cached, model: model}
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return &Estimator{model: model}
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &Estimator{encoding: encoding, model: model}
}

// Count returns the token count for text. Falls back to a CJK-density
// estimate when no encoding could be resolved.
func (e *Estimator) Count(text string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.encoding == nil {
		return EstimateDensity(text)
	}
	return len(e.encoding.Encode(text, nil, nil))
}

// CountMessages counts tokens across a message list, including the
// per-message role/format overhead OpenAI's tokenizer guide specifies
// (3 tokens per message, 3 more for the reply-priming suffix).
func (e *Estimator) CountMessages(messages []agent.Message) int {
	total := 0
	for _, msg := range messages {
		total += e.EstimateMessage(msg)
	}
	total += 3
	return total
}

// EstimateMessage returns the token cost of a single message, including
// its per-message role/format overhead (3 tokens) and, for an ASSISTANT
// message carrying tool calls, the serialized size of those calls.
func (e *Estimator) EstimateMessage(msg agent.Message) int {
	total := 3
	total += e.Count(string(msg.Role))
	total += e.Count(msg.Content)
	for _, tc := range msg.ToolCalls {
		total += e.Count(tc.ToolName) + e.Count(string(tc.Arguments)) + 4
	}
	return total
}

// Model returns the model name this Estimator was created for.
func (e *Estimator) Model() string { return e.model }

// EstimateDensity is the CJK-density fallback estimator used when no
// tiktoken encoding is available for a model. CJK scripts average
// roughly one token per character under BPE tokenizers, versus roughly
// one token per four characters for Latin-script text; this blends
// the two ratios by the fraction of CJK runes in the text.
func EstimateDensity(text string) int {
	if text == "" {
		return 0
	}

	var total, cjk int
	for _, r := range text {
		total++
		if isCJK(r) {
			cjk++
		}
	}
	if total == 0 {
		return 0
	}

	cjkRatio := float64(cjk) / float64(total)
	// Linear interpolation between the two characters-per-token ratios.
	charsPerToken := 4.0 - 3.0*cjkRatio
	if charsPerToken < 1.0 {
		charsPerToken = 1.0
	}

	count := float64(total) / charsPerToken
	if count < 1 && total > 0 {
		count = 1
	}
	return int(count + 0.5)
}

func isCJK(r rune) bool {
	return unicode.In(r,
		unicode.Han,
		unicode.Hiragana,
		unicode.Katakana,
		unicode.Hangul,
	)
}

// EncodingNameForModel returns the tiktoken encoding name commonly
// paired with model, used for diagnostics/logging only — Count/New
// already resolve the encoding themselves.
func EncodingNameForModel(model string) string {
	known := map[string]string{
		"gpt-4":         "cl100k_base",
		"gpt-4-turbo":   "cl100k_base",
		"gpt-4o":        "o200k_base",
		"gpt-4o-mini":   "o200k_base",
		"gpt-3.5-turbo": "cl100k_base",
	}
	if enc, ok := known[model]; ok {
		return enc
	}
	return "cl100k_base"
}
