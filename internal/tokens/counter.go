package tokens

import (
	"encoding/json"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/fize-ai/soloqueue/internal/providers"
)

// Per-message structural overheads, approximating the chat wire format.
const (
	messageOverhead    = 4  // role + framing
	toolCallOverhead   = 10 // id + function wrapper
	toolResultOverhead = 5  // tool_call_id
	listOverhead       = 3  // messages array priming
)

// modelLimits maps model names to context window sizes.
var modelLimits = map[string]int{
	"deepseek-reasoner": 131072,
	"deepseek-chat":     131072,
	"kimi-k2.5":         131072,
	"gpt-4o":            128000,
	"gpt-4-turbo":       128000,
	"gpt-4":             8192,
	"gpt-3.5-turbo":     16384,
}

const defaultModelLimit = 128000

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// Counter estimates token counts per message and per message list.
// Most modern models tokenize close enough to cl100k_base for context
// budgeting; unknown models fall back to it.
type Counter struct {
	model    string
	encoding *tiktoken.Tiktoken
}

// NewCounter creates a counter for the given model. Encodings are cached
// per model name since initialization loads the BPE ranks.
func NewCounter(model string) (*Counter, error) {
	cacheMu.RLock()
	enc, ok := encodingCache[model]
	cacheMu.RUnlock()

	if !ok {
		var err error
		enc, err = tiktoken.EncodingForModel(model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
			if err != nil {
				return nil, err
			}
		}
		cacheMu.Lock()
		encodingCache[model] = enc
		cacheMu.Unlock()
	}

	return &Counter{model: model, encoding: enc}, nil
}

// Model returns the model this counter was built for.
func (c *Counter) Model() string { return c.model }

// CountText counts tokens in a raw string.
func (c *Counter) CountText(text string) int {
	if text == "" {
		return 0
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// CountMessage counts tokens in one message: structural overhead, the
// content, any reasoning blob, tool-call names and serialized arguments,
// and tool-result name + id overhead.
func (c *Counter) CountMessage(msg providers.Message) int {
	tokens := messageOverhead
	tokens += c.CountText(msg.Content)
	tokens += c.CountText(msg.Reasoning)

	for _, tc := range msg.ToolCalls {
		tokens += c.CountText(tc.Name)
		args, _ := json.Marshal(tc.Arguments)
		tokens += c.CountText(string(args))
		tokens += toolCallOverhead
	}

	if msg.Role == "tool" {
		tokens += c.CountText(msg.Name)
		tokens += toolResultOverhead
	}
	return tokens
}

// CountMessages counts total tokens in a message list.
func (c *Counter) CountMessages(msgs []providers.Message) int {
	total := listOverhead
	for _, m := range msgs {
		total += c.CountMessage(m)
	}
	return total
}

// ModelLimit returns the context window for a model, defaulting to 128k
// for unknown models.
func (c *Counter) ModelLimit(model string) int {
	if model == "" {
		model = c.model
	}
	return lookupLimit(model)
}

func lookupLimit(model string) int {
	if limit, ok := modelLimits[model]; ok {
		return limit
	}
	return defaultModelLimit
}

// Estimator is the counting fallback when the tokenizer's BPE data is
// unavailable (offline first run): roughly 4 characters per token.
type Estimator struct {
	model string
}

func (e *Estimator) CountMessage(msg providers.Message) int {
	tokens := messageOverhead
	tokens += len(msg.Content) / 4
	tokens += len(msg.Reasoning) / 4
	for _, tc := range msg.ToolCalls {
		args, _ := json.Marshal(tc.Arguments)
		tokens += len(tc.Name)/4 + len(args)/4 + toolCallOverhead
	}
	if msg.Role == "tool" {
		tokens += len(msg.Name)/4 + toolResultOverhead
	}
	return tokens
}

func (e *Estimator) ModelLimit(model string) int {
	if model == "" {
		model = e.model
	}
	return lookupLimit(model)
}

var (
	counterCache   = make(map[string]MessageCounter)
	counterCacheMu sync.Mutex
)

// NewMessageCounter returns an accurate tiktoken-backed counter, or the
// character estimator when the encoding cannot be initialized. Results
// (including the fallback) are memoized per model so a failed tokenizer
// init is not retried on every agent step.
func NewMessageCounter(model string) MessageCounter {
	counterCacheMu.Lock()
	defer counterCacheMu.Unlock()
	if mc, ok := counterCache[model]; ok {
		return mc
	}

	var mc MessageCounter
	if c, err := NewCounter(model); err == nil {
		mc = c
	} else {
		mc = &Estimator{model: model}
	}
	counterCache[model] = mc
	return mc
}
