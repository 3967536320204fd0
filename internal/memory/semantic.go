package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
)

// Embedder is the external embedding adapter. The semantic store is
// disabled when no embedder is configured.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// LLM is the minimal completion surface the compaction pass needs.
type LLM interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// MemoryEntry is a single semantic knowledge entry.
type MemoryEntry struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Score     float64           `json:"score"` // similarity in [0,1], higher is better
	Metadata  map[string]string `json:"metadata"`
	Timestamp string            `json:"timestamp"`
}

// CompactionStats reports one summarize pass.
type CompactionStats struct {
	SummarizedCount int `json:"summarized_count"`
	FailedCount     int `json:"failed_count"`
	SkippedCount    int `json:"skipped_count"`
}

const knowledgeCollection = "knowledge_base"

// SemanticStore is vector-indexed long-term memory over chromem-go with
// externally computed embeddings. One store per agent group, persisted
// under .soloqueue/semantic/<group>/. A sidecar index of entry ids makes
// age-based enumeration possible (the vector library has no scan API).
type SemanticStore struct {
	embedder Embedder
	db       *chromem.DB
	col      *chromem.Collection

	mu        sync.Mutex
	ids       map[string]string // entry id → timestamp
	indexPath string

	seq int // disambiguates ids minted in the same instant
}

// NewSemanticStore opens (or creates) the store at storagePath.
func NewSemanticStore(storagePath string, embedder Embedder) (*SemanticStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("semantic store requires an embedding adapter")
	}
	if err := os.MkdirAll(storagePath, 0o755); err != nil {
		return nil, fmt.Errorf("create semantic storage: %w", err)
	}

	db, err := chromem.NewPersistentDB(storagePath, false)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}

	// Embeddings are computed by the external adapter; the collection's
	// own embedding func must never run.
	identity := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding must be pre-computed")
	}
	col, err := db.GetOrCreateCollection(knowledgeCollection, nil, identity)
	if err != nil {
		return nil, fmt.Errorf("open collection: %w", err)
	}

	s := &SemanticStore{
		embedder:  embedder,
		db:        db,
		col:       col,
		ids:       make(map[string]string),
		indexPath: filepath.Join(storagePath, "entries.json"),
	}
	s.loadIndex()

	slog.Info("semantic store initialized",
		"path", storagePath, "dimension", embedder.Dimension(), "entries", len(s.ids))
	return s, nil
}

// AddEntry stores one knowledge entry. A time-based id is generated when
// none is supplied; metadata is enriched with timestamp, content_length
// and, when given, agent_id.
func (s *SemanticStore) AddEntry(ctx context.Context, content string, metadata map[string]string, entryID, agentID string) (string, error) {
	now := time.Now()
	if entryID == "" {
		entryID = s.mintID(now)
	}
	meta := enrichMetadata(metadata, content, agentID, now)

	vectors, err := s.embedder.Embed(ctx, []string{content})
	if err != nil || len(vectors) == 0 {
		return "", fmt.Errorf("generate embedding: %w", err)
	}

	doc := chromem.Document{ID: entryID, Content: content, Metadata: meta, Embedding: vectors[0]}
	if err := s.col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return "", fmt.Errorf("store entry: %w", err)
	}

	s.trackID(entryID, meta["timestamp"])
	slog.Debug("semantic entry added", "id", entryID, "agent_id", agentID)
	return entryID, nil
}

// BatchEntry is one (content, metadata) pair for AddBatch.
type BatchEntry struct {
	Content  string
	Metadata map[string]string
}

// AddBatch stores multiple entries with a single embed call and a single
// collection add.
func (s *SemanticStore) AddBatch(ctx context.Context, entries []BatchEntry, agentID string) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	now := time.Now()

	contents := make([]string, len(entries))
	for i, e := range entries {
		contents[i] = e.Content
	}
	vectors, err := s.embedder.Embed(ctx, contents)
	if err != nil {
		return nil, fmt.Errorf("generate embeddings: %w", err)
	}
	if len(vectors) != len(entries) {
		return nil, fmt.Errorf("embedding count mismatch: %d != %d", len(vectors), len(entries))
	}

	base := now.Format("20060102_150405")
	ids := make([]string, len(entries))
	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		ids[i] = fmt.Sprintf("entry_%s_%04d", base, i)
		docs[i] = chromem.Document{
			ID:        ids[i],
			Content:   e.Content,
			Metadata:  enrichMetadata(e.Metadata, e.Content, agentID, now),
			Embedding: vectors[i],
		}
	}
	if err := s.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("store batch: %w", err)
	}

	for i := range ids {
		s.trackID(ids[i], docs[i].Metadata["timestamp"])
	}
	slog.Debug("semantic batch added", "count", len(entries), "agent_id", agentID)
	return ids, nil
}

// Search returns up to topK entries similar to query. The agentID
// parameter merges into filter as an equality constraint; when both
// specify agent_id, the parameter wins (with a warning).
func (s *SemanticStore) Search(ctx context.Context, query string, topK int, filter map[string]string, agentID string) ([]MemoryEntry, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil || len(vectors) == 0 {
		slog.Warn("failed to embed search query", "error", err)
		return nil, nil
	}

	var where map[string]string
	switch {
	case agentID != "" && len(filter) > 0:
		if _, clash := filter["agent_id"]; clash {
			slog.Warn("agent_id in filter overridden by parameter", "agent_id", agentID)
		}
		where = make(map[string]string, len(filter)+1)
		for k, v := range filter {
			where[k] = v
		}
		where["agent_id"] = agentID
	case agentID != "":
		where = map[string]string{"agent_id": agentID}
	case len(filter) > 0:
		where = filter
	}

	n := s.col.Count()
	if n == 0 {
		return nil, nil
	}
	if topK > n {
		topK = n
	}
	if topK <= 0 {
		topK = 1
	}

	results, err := s.col.QueryEmbedding(ctx, vectors[0], topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}

	entries := make([]MemoryEntry, 0, len(results))
	for _, r := range results {
		entries = append(entries, MemoryEntry{
			ID:        r.ID,
			Content:   r.Content,
			Score:     float64(r.Similarity),
			Metadata:  r.Metadata,
			Timestamp: r.Metadata["timestamp"],
		})
	}
	return entries, nil
}

// GetByID fetches one entry; nil when absent.
func (s *SemanticStore) GetByID(ctx context.Context, entryID string) (*MemoryEntry, error) {
	doc, err := s.col.GetByID(ctx, entryID)
	if err != nil {
		return nil, nil
	}
	return &MemoryEntry{
		ID:        doc.ID,
		Content:   doc.Content,
		Score:     1.0,
		Metadata:  doc.Metadata,
		Timestamp: doc.Metadata["timestamp"],
	}, nil
}

// Delete removes an entry by id.
func (s *SemanticStore) Delete(ctx context.Context, entryID string) bool {
	if err := s.col.Delete(ctx, nil, nil, entryID); err != nil {
		slog.Warn("failed to delete semantic entry", "id", entryID, "error", err)
		return false
	}
	s.untrackID(entryID)
	return true
}

// Count returns the number of stored entries.
func (s *SemanticStore) Count() int { return s.col.Count() }

// OldEntries returns entries whose timestamp is older than days.
func (s *SemanticStore) OldEntries(ctx context.Context, days int) ([]MemoryEntry, error) {
	cutoff := time.Now().AddDate(0, 0, -days)

	s.mu.Lock()
	var oldIDs []string
	for id, ts := range s.ids {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err == nil && parsed.Before(cutoff) {
			oldIDs = append(oldIDs, id)
		}
	}
	s.mu.Unlock()
	sort.Strings(oldIDs)

	var out []MemoryEntry
	for _, id := range oldIDs {
		if e, _ := s.GetByID(ctx, id); e != nil {
			out = append(out, *e)
		}
	}
	slog.Info("found old semantic entries", "count", len(out), "days", days)
	return out, nil
}

// SummarizeEntries compacts entries older than days: each is replaced by
// a model summary (the prompt asks for at most 200 characters; the reply
// is stored as returned, without truncation) carrying the original
// timestamp and summarized="true". batch bounds how many entries one
// pass processes.
func (s *SemanticStore) SummarizeEntries(ctx context.Context, llm LLM, days, batch int) (CompactionStats, error) {
	stats := CompactionStats{}

	old, err := s.OldEntries(ctx, days)
	if err != nil {
		return stats, err
	}
	if len(old) == 0 {
		slog.Info("no old entries to summarize")
		return stats, nil
	}
	if batch > 0 && len(old) > batch {
		old = old[:batch]
	}

	for _, entry := range old {
		prompt := fmt.Sprintf(
			"Summarize the following knowledge entry in at most 200 characters. "+
				"Keep the key facts, output only the summary.\n\nType: %s\n\nContent:\n%s",
			entry.Metadata["type"], entry.Content)

		summary, err := llm.Invoke(ctx, prompt)
		if err != nil {
			slog.Error("failed to summarize entry", "id", entry.ID, "error", err)
			stats.FailedCount++
			continue
		}
		if summary == "" {
			slog.Warn("empty summary, skipping entry", "id", entry.ID)
			stats.SkippedCount++
			continue
		}

		s.Delete(ctx, entry.ID)

		newMeta := make(map[string]string, len(entry.Metadata)+3)
		for k, v := range entry.Metadata {
			newMeta[k] = v
		}
		newMeta["original_timestamp"] = entry.Timestamp
		newMeta["summarized"] = "true"
		newMeta["original_length"] = strconv.Itoa(len(entry.Content))

		if _, err := s.AddEntry(ctx, summary, newMeta, "summarized_"+entry.ID, ""); err != nil {
			slog.Error("failed to store summary", "id", entry.ID, "error", err)
			stats.FailedCount++
			continue
		}
		stats.SummarizedCount++
	}

	slog.Info("compaction complete",
		"summarized", stats.SummarizedCount, "failed", stats.FailedCount, "skipped", stats.SkippedCount)
	return stats, nil
}

// --- internals ---

func (s *SemanticStore) mintID(now time.Time) string {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()
	return fmt.Sprintf("entry_%s_%09d", now.Format("20060102_150405"), now.Nanosecond()+seq)
}

func enrichMetadata(metadata map[string]string, content, agentID string, now time.Time) map[string]string {
	meta := make(map[string]string, len(metadata)+3)
	for k, v := range metadata {
		meta[k] = v
	}
	meta["timestamp"] = now.Format(time.RFC3339Nano)
	meta["content_length"] = strconv.Itoa(len(content))
	if agentID != "" {
		meta["agent_id"] = agentID
	}
	return meta
}

func (s *SemanticStore) trackID(id, ts string) {
	s.mu.Lock()
	s.ids[id] = ts
	s.saveIndexLocked()
	s.mu.Unlock()
}

func (s *SemanticStore) untrackID(id string) {
	s.mu.Lock()
	delete(s.ids, id)
	s.saveIndexLocked()
	s.mu.Unlock()
}

func (s *SemanticStore) loadIndex() {
	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		return
	}
	var ids map[string]string
	if err := json.Unmarshal(data, &ids); err != nil {
		slog.Warn("unreadable semantic index, starting empty", "error", err)
		return
	}
	s.ids = ids
}

func (s *SemanticStore) saveIndexLocked() {
	data, err := json.Marshal(s.ids)
	if err != nil {
		return
	}
	if err := os.WriteFile(s.indexPath, data, 0o644); err != nil {
		slog.Warn("failed to persist semantic index", "error", err)
	}
}
