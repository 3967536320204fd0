package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/fize-ai/soloqueue/internal/memory"
)

// DefaultDedupThreshold is the similarity at or above which remember()
// considers new content a duplicate of an existing entry.
const DefaultDedupThreshold = 0.95

// SearchMemoryTool queries the agent's semantic memory.
type SearchMemoryTool struct {
	store   *memory.SemanticStore
	agentID string
}

func NewSearchMemoryTool(store *memory.SemanticStore, agentID string) (*SearchMemoryTool, error) {
	if agentID == "" {
		return nil, fmt.Errorf("memory tools require a non-empty agent_id")
	}
	return &SearchMemoryTool{store: store, agentID: agentID}, nil
}

func (t *SearchMemoryTool) Name() string { return "search_memory" }
func (t *SearchMemoryTool) Description() string {
	return "Search your long-term memory for relevant knowledge from past sessions"
}
func (t *SearchMemoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "What to look for",
			},
			"top_k": map[string]any{
				"type":        "number",
				"description": "Number of results to return (default 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchMemoryTool) Execute(ctx context.Context, args map[string]any) *Result {
	query, _ := args["query"].(string)
	if query == "" {
		return ErrorResult("query is required")
	}
	topK := 5
	if k, ok := args["top_k"].(float64); ok && int(k) > 0 {
		topK = int(k)
	}

	entries, err := t.store.Search(ctx, query, topK, nil, t.agentID)
	if err != nil {
		return ErrorResult(fmt.Sprintf("memory search failed: %v", err))
	}
	return NewResult(formatSearchResults(entries))
}

func formatSearchResults(entries []memory.MemoryEntry) string {
	if len(entries) == 0 {
		return "No relevant memories found."
	}
	var sb strings.Builder
	sb.WriteString("Relevant memories:\n")
	for i, e := range entries {
		fmt.Fprintf(&sb, "%d. [score %.2f] %s", i+1, e.Score, e.Content)
		if topic := e.Metadata["topic"]; topic != "" {
			fmt.Fprintf(&sb, " (topic: %s)", topic)
		}
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

// RememberTool stores a fact in the agent's semantic memory, with
// similarity-based deduplication: content scoring at or above the
// threshold against an existing entry is not stored again.
type RememberTool struct {
	store     *memory.SemanticStore
	agentID   string
	threshold float64
}

func NewRememberTool(store *memory.SemanticStore, agentID string, threshold float64) (*RememberTool, error) {
	if agentID == "" {
		return nil, fmt.Errorf("memory tools require a non-empty agent_id")
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultDedupThreshold
	}
	return &RememberTool{store: store, agentID: agentID, threshold: threshold}, nil
}

func (t *RememberTool) Name() string { return "remember" }
func (t *RememberTool) Description() string {
	return "Store an important fact or lesson in your long-term memory"
}
func (t *RememberTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "The fact to remember",
			},
			"importance": map[string]any{
				"type":        "string",
				"description": "Importance level: low, medium, or high",
			},
		},
		"required": []string{"content"},
	}
}

func (t *RememberTool) Execute(ctx context.Context, args map[string]any) *Result {
	content, _ := args["content"].(string)
	if content == "" {
		return ErrorResult("content is required")
	}
	importance, _ := args["importance"].(string)
	if importance == "" {
		importance = "medium"
	}

	// Dedup check: is this already remembered?
	existing, err := t.store.Search(ctx, content, 1, nil, t.agentID)
	if err == nil && len(existing) > 0 && existing[0].Score >= t.threshold {
		return NewResult(fmt.Sprintf(
			"duplicate: very similar memory already stored (score %.2f): %s",
			existing[0].Score, existing[0].Content))
	}

	id, err := t.store.AddEntry(ctx, content, map[string]string{
		"type":       "agent_memory",
		"importance": importance,
	}, "", t.agentID)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to store memory: %v", err))
	}
	return NewResult(fmt.Sprintf("Remembered (id: %s)", id))
}
