package tokens

import (
	"testing"

	"github.com/fize-ai/soloqueue/internal/providers"
)

func TestModelLimit(t *testing.T) {
	c, err := NewCounter("gpt-4o")
	if err != nil {
		t.Skipf("encoding unavailable: %v", err)
	}

	tests := []struct {
		model string
		want  int
	}{
		{"deepseek-reasoner", 131072},
		{"deepseek-chat", 131072},
		{"gpt-4", 8192},
		{"gpt-3.5-turbo", 16384},
		{"some-unknown-model", 128000},
		{"", 128000}, // falls back to the counter's own model (gpt-4o)
	}
	for _, tt := range tests {
		if got := c.ModelLimit(tt.model); got != tt.want {
			t.Errorf("ModelLimit(%q) = %d, want %d", tt.model, got, tt.want)
		}
	}
}

func TestCountMessage_Components(t *testing.T) {
	c, err := NewCounter("gpt-4o")
	if err != nil {
		t.Skipf("encoding unavailable: %v", err)
	}

	plain := providers.Message{Role: "user", Content: "hello world"}
	base := c.CountMessage(plain)
	if base <= messageOverhead {
		t.Errorf("plain message count %d should exceed overhead %d", base, messageOverhead)
	}

	// Reasoning adds tokens on top of identical content.
	withReasoning := plain
	withReasoning.Reasoning = "thinking about the answer at length"
	if got := c.CountMessage(withReasoning); got <= base {
		t.Errorf("reasoning should increase count: %d <= %d", got, base)
	}

	// Tool calls add name + args + structural overhead.
	withCall := providers.Message{
		Role: "assistant",
		ToolCalls: []providers.ToolCall{
			{ID: "c1", Name: "read_file", Arguments: map[string]any{"path": "x.txt"}},
		},
	}
	empty := providers.Message{Role: "assistant"}
	if got := c.CountMessage(withCall); got <= c.CountMessage(empty)+toolCallOverhead {
		t.Errorf("tool call undercounted: %d", got)
	}

	// Tool results carry name + id overhead.
	toolMsg := providers.Message{Role: "tool", Content: "42", Name: "read_file", ToolCallID: "c1"}
	if got := c.CountMessage(toolMsg); got <= messageOverhead+toolResultOverhead {
		t.Errorf("tool message undercounted: %d", got)
	}
}

func TestCountMessages_AddsListOverhead(t *testing.T) {
	c, err := NewCounter("gpt-4o")
	if err != nil {
		t.Skipf("encoding unavailable: %v", err)
	}

	msgs := []providers.Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
	}
	sum := 0
	for _, m := range msgs {
		sum += c.CountMessage(m)
	}
	if got := c.CountMessages(msgs); got != sum+listOverhead {
		t.Errorf("CountMessages = %d, want %d", got, sum+listOverhead)
	}
}
