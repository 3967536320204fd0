package providers

import (
	"strings"
	"testing"
)

func TestMarshalHistory_StripsHistoricalReasoning(t *testing.T) {
	old := strings.Repeat("old reasoning that should be stripped. ", 10)
	msgs := []Message{
		{Role: "user", Content: "Question 1"},
		{Role: "assistant", Content: "Answer 1", Reasoning: old},
		{Role: "user", Content: "Question 2"},
		{Role: "assistant", Content: "Answer 2", Reasoning: "fresh reasoning"},
	}

	out := MarshalHistory(msgs)

	if out[1].Reasoning != ReasoningPlaceholder {
		t.Errorf("historical reasoning = %q, want placeholder", out[1].Reasoning)
	}
	if out[3].Reasoning != "fresh reasoning" {
		t.Errorf("latest reasoning = %q, want preserved in full", out[3].Reasoning)
	}
	// Original slice must be untouched.
	if msgs[1].Reasoning != old {
		t.Error("MarshalHistory mutated the in-memory history")
	}
}

func TestMarshalHistory_PreservesToolCallReasoning(t *testing.T) {
	// The last assistant message is followed by a tool result; its
	// reasoning must still be preserved — it is the most recent.
	msgs := []Message{
		{Role: "user", Content: "Do task"},
		{
			Role:      "assistant",
			Reasoning: "I need to call test_tool.",
			ToolCalls: []ToolCall{{ID: "call_1", Name: "test_tool", Arguments: map[string]any{}}},
		},
		{Role: "tool", Content: "Result", ToolCallID: "call_1"},
	}

	out := MarshalHistory(msgs)
	if out[1].Reasoning != "I need to call test_tool." {
		t.Errorf("tool-call reasoning = %q, want preserved", out[1].Reasoning)
	}
}

func TestMarshalHistory_NoReasoningLeftAlone(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "Hi"},
		{Role: "assistant", Content: "old answer"},
		{Role: "user", Content: "again"},
		{Role: "assistant", Content: "Hello"},
	}
	out := MarshalHistory(msgs)
	if out[1].Reasoning != "" {
		t.Errorf("empty reasoning should stay empty, got %q", out[1].Reasoning)
	}
}
