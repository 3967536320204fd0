package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"testing"
)

// fakeEmbedder produces deterministic unit vectors: identical texts get
// identical embeddings, distinct texts are (almost surely) far apart.
type fakeEmbedder struct{}

func (fakeEmbedder) Dimension() int { return 8 }

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, 8)
		h := fnv.New64a()
		h.Write([]byte(text))
		seed := h.Sum64()
		var norm float64
		for j := range vec {
			seed = seed*6364136223846793005 + 1442695040888963407
			vec[j] = float32(int64(seed>>32)) / float32(math.MaxInt32)
			norm += float64(vec[j]) * float64(vec[j])
		}
		norm = math.Sqrt(norm)
		for j := range vec {
			vec[j] = float32(float64(vec[j]) / norm)
		}
		out[i] = vec
	}
	return out, nil
}

// fakeLLM returns a canned summary.
type fakeLLM struct{ reply string }

func (f fakeLLM) Invoke(context.Context, string) (string, error) { return f.reply, nil }

func newTestSemantic(t *testing.T) *SemanticStore {
	t.Helper()
	s, err := NewSemanticStore(t.TempDir(), fakeEmbedder{})
	if err != nil {
		t.Fatalf("NewSemanticStore: %v", err)
	}
	return s
}

func TestAddEntry_EnrichesMetadata(t *testing.T) {
	s := newTestSemantic(t)
	ctx := context.Background()

	id, err := s.AddEntry(ctx, "JWT auth requires a secret key",
		map[string]string{"type": "lesson", "topic": "auth"}, "", "agent-1")
	if err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if id == "" {
		t.Fatal("empty entry id")
	}

	got, err := s.GetByID(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("GetByID: %v, %v", got, err)
	}
	md := got.Metadata
	if md["type"] != "lesson" || md["topic"] != "auth" {
		t.Errorf("caller metadata lost: %v", md)
	}
	if md["timestamp"] == "" || md["content_length"] == "" {
		t.Errorf("enrichment missing: %v", md)
	}
	if md["agent_id"] != "agent-1" {
		t.Errorf("agent_id = %q", md["agent_id"])
	}
}

func TestSearch_FindsStoredContent(t *testing.T) {
	s := newTestSemantic(t)
	ctx := context.Background()

	if _, err := s.AddEntry(ctx, "database pools should be bounded", map[string]string{}, "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddEntry(ctx, "validate all user input", map[string]string{}, "", ""); err != nil {
		t.Fatal(err)
	}

	results, err := s.Search(ctx, "database pools should be bounded", 1, nil, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Content != "database pools should be bounded" {
		t.Errorf("top result = %q", results[0].Content)
	}
	if results[0].Score < 0.99 {
		t.Errorf("identical content score = %f, want ≈1", results[0].Score)
	}
}

func TestSearch_AgentScoping(t *testing.T) {
	s := newTestSemantic(t)
	ctx := context.Background()

	if _, err := s.AddEntry(ctx, "private fact of a1", nil, "", "a1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddEntry(ctx, "private fact of a2", nil, "", "a2"); err != nil {
		t.Fatal(err)
	}

	results, err := s.Search(ctx, "private fact of a2", 5, nil, "a1")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.Metadata["agent_id"] != "a1" {
			t.Errorf("agent scope leaked entry: %+v", r)
		}
	}
}

func TestSearch_EmptyStore(t *testing.T) {
	s := newTestSemantic(t)
	results, err := s.Search(context.Background(), "anything", 5, nil, "")
	if err != nil {
		t.Fatalf("Search on empty store: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("empty store returned %d results", len(results))
	}
}

func TestDelete(t *testing.T) {
	s := newTestSemantic(t)
	ctx := context.Background()

	id, err := s.AddEntry(ctx, "temporary", nil, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if !s.Delete(ctx, id) {
		t.Fatal("Delete returned false")
	}
	if got, _ := s.GetByID(ctx, id); got != nil {
		t.Error("entry still readable after delete")
	}
	if s.Count() != 0 {
		t.Errorf("count = %d after delete", s.Count())
	}
}

func TestAddBatch(t *testing.T) {
	s := newTestSemantic(t)
	ctx := context.Background()

	ids, err := s.AddBatch(ctx, []BatchEntry{
		{Content: "first", Metadata: map[string]string{"n": "1"}},
		{Content: "second", Metadata: map[string]string{"n": "2"}},
		{Content: "third", Metadata: map[string]string{"n": "3"}},
	}, "batch-agent")
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("got %d ids, want 3", len(ids))
	}
	if s.Count() != 3 {
		t.Errorf("count = %d, want 3", s.Count())
	}
	got, err := s.GetByID(ctx, ids[1])
	if err != nil || got == nil {
		t.Fatalf("GetByID(%s): %v", ids[1], err)
	}
	if got.Metadata["agent_id"] != "batch-agent" || got.Metadata["n"] != "2" {
		t.Errorf("batch metadata = %v", got.Metadata)
	}

	empty, err := s.AddBatch(ctx, nil, "")
	if err != nil || empty != nil {
		t.Errorf("empty batch = %v, %v", empty, err)
	}
}

func TestSummarizeEntries(t *testing.T) {
	s := newTestSemantic(t)
	ctx := context.Background()

	id, err := s.AddEntry(ctx, "a very long lesson about connection pools and their sizing",
		map[string]string{"type": "lesson"}, "", "")
	if err != nil {
		t.Fatal(err)
	}

	// days = -1 makes the cutoff lie in the future, so the entry counts
	// as old immediately.
	stats, err := s.SummarizeEntries(ctx, fakeLLM{reply: "pools need bounds"}, -1, 10)
	if err != nil {
		t.Fatalf("SummarizeEntries: %v", err)
	}
	if stats.SummarizedCount != 1 || stats.FailedCount != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	if got, _ := s.GetByID(ctx, id); got != nil {
		t.Error("original entry survived compaction")
	}
	summary, err := s.GetByID(ctx, "summarized_"+id)
	if err != nil || summary == nil {
		t.Fatal("summary entry missing")
	}
	if summary.Content != "pools need bounds" {
		t.Errorf("summary content = %q", summary.Content)
	}
	if summary.Metadata["summarized"] != "true" {
		t.Errorf("summarized flag missing: %v", summary.Metadata)
	}
	if summary.Metadata["original_timestamp"] == "" {
		t.Error("original timestamp not carried over")
	}
}

func TestSummarizeEntries_SkipsEmptySummaries(t *testing.T) {
	s := newTestSemantic(t)
	ctx := context.Background()

	id, err := s.AddEntry(ctx, "some entry", nil, "", "")
	if err != nil {
		t.Fatal(err)
	}
	stats, err := s.SummarizeEntries(ctx, fakeLLM{reply: ""}, -1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if stats.SkippedCount != 1 || stats.SummarizedCount != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if got, _ := s.GetByID(ctx, id); got == nil {
		t.Error("skipped entry must survive")
	}
}

func TestMintID_Unique(t *testing.T) {
	s := newTestSemantic(t)
	ctx := context.Background()
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		id, err := s.AddEntry(ctx, fmt.Sprintf("entry %d", i), nil, "", "")
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
