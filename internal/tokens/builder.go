package tokens

import (
	"log/slog"

	"github.com/fize-ai/soloqueue/internal/providers"
)

// Context assembly defaults: a 95% safety margin absorbs tokenizer
// variance between our estimate and the provider's count; the response
// buffer reserves room for the completion.
const (
	DefaultResponseBuffer = 4096
	DefaultSafetyMargin   = 0.95
)

// MessageCounter is what the builder needs from a token counter.
type MessageCounter interface {
	CountMessage(msg providers.Message) int
	ModelLimit(model string) int
}

// ContextBuilder assembles the outgoing message list under a token
// budget. The system prompt is priority 0 (always included); history is
// priority 1, filled newest-first until the budget runs out.
type ContextBuilder struct {
	counter        MessageCounter
	responseBuffer int
	safetyMargin   float64
}

func NewContextBuilder(counter MessageCounter) *ContextBuilder {
	return &ContextBuilder{
		counter:        counter,
		responseBuffer: DefaultResponseBuffer,
		safetyMargin:   DefaultSafetyMargin,
	}
}

// WithBudget overrides the response buffer and safety margin.
func (b *ContextBuilder) WithBudget(responseBuffer int, safetyMargin float64) *ContextBuilder {
	if responseBuffer > 0 {
		b.responseBuffer = responseBuffer
	}
	if safetyMargin > 0 && safetyMargin <= 1 {
		b.safetyMargin = safetyMargin
	}
	return b
}

// Build returns the messages to send: the system prompt followed by the
// retained history in original (oldest→newest) order. If the system
// prompt alone exceeds the budget, history is dropped entirely.
func (b *ContextBuilder) Build(systemPrompt string, history []providers.Message, modelLimit int) []providers.Message {
	if modelLimit <= 0 {
		modelLimit = b.counter.ModelLimit("")
	}
	budget := int(float64(modelLimit)*b.safetyMargin) - b.responseBuffer

	sysMsg := providers.Message{Role: "system", Content: systemPrompt}
	remaining := budget - b.counter.CountMessage(sysMsg)
	if remaining < 0 {
		slog.Warn("system prompt exceeds context budget, dropping history",
			"budget", budget, "model_limit", modelLimit)
		return []providers.Message{sysMsg}
	}

	// Walk newest-first; stop at the first message that does not fit —
	// everything older is dropped with it to keep the window contiguous.
	kept := 0
	for i := len(history) - 1; i >= 0; i-- {
		msgTokens := b.counter.CountMessage(history[i])
		if remaining-msgTokens < 0 {
			slog.Debug("context budget exhausted",
				"kept", kept, "dropped", len(history)-kept)
			break
		}
		remaining -= msgTokens
		kept++
	}

	out := make([]providers.Message, 0, kept+1)
	out = append(out, sysMsg)
	out = append(out, history[len(history)-kept:]...)
	return out
}
