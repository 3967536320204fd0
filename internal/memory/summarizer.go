package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SessionSummary is the structured digest of one completed session.
type SessionSummary struct {
	SessionID    string   `json:"session_id"`
	Objective    string   `json:"objective"`
	Outcome      string   `json:"outcome"` // "success", "failure", "partial"
	Difficulty   int      `json:"difficulty"`
	KeyLearnings []string `json:"key_learnings"`
	Markdown     string   `json:"markdown"`
	Timestamp    string   `json:"timestamp"`
}

// Summarizer condenses session transcripts into structured summaries
// and indexes the extracted learnings into semantic memory.
type Summarizer struct {
	llm      LLM
	root     string
	group    string
	maxTurns int
}

func NewSummarizer(llm LLM, workspaceRoot, group string) *Summarizer {
	if group == "" {
		group = "default"
	}
	return &Summarizer{llm: llm, root: workspaceRoot, group: group, maxTurns: 100}
}

const summaryPromptFormat = `Analyze this agent session transcript and respond with JSON only:
{
  "objective": "one sentence describing what the user wanted",
  "outcome": "success|failure|partial",
  "difficulty": 1-10,
  "key_learnings": ["up to 5 short, reusable lessons from this session"],
  "summary_markdown": "a concise markdown summary (a few paragraphs)"
}

Transcript:
%s`

// Summarize digests a session's transcript. The markdown summary is
// written to .soloqueue/summaries/<group>/<session_id>.md; learnings go
// to the semantic store when one is supplied.
func (s *Summarizer) Summarize(ctx context.Context, log *SessionLog, semantic *SemanticStore, sessionID string) (*SessionSummary, error) {
	transcript := log.GetSessionTurnsText(sessionID)
	if transcript == "" {
		return nil, fmt.Errorf("session %s has no turns", sessionID)
	}
	turns := log.GetTurns(sessionID)
	if len(turns) > s.maxTurns {
		turns = turns[len(turns)-s.maxTurns:]
	}

	raw, err := s.llm.Invoke(ctx, fmt.Sprintf(summaryPromptFormat, transcript))
	if err != nil {
		return nil, fmt.Errorf("summarization call: %w", err)
	}

	parsed := parseSummaryResponse(raw)
	summary := &SessionSummary{
		SessionID:    sessionID,
		Objective:    parsed.Objective,
		Outcome:      parsed.Outcome,
		Difficulty:   parsed.Difficulty,
		KeyLearnings: parsed.KeyLearnings,
		Markdown:     parsed.SummaryMarkdown,
		Timestamp:    time.Now().Format(time.RFC3339),
	}
	if summary.Markdown == "" {
		summary.Markdown = fmt.Sprintf("# Session %s\n\n%d turns, outcome: %s\n",
			sessionID, len(turns), summary.Outcome)
	}

	if err := s.writeMarkdown(sessionID, summary.Markdown); err != nil {
		slog.Warn("failed to write session summary", "session", sessionID, "error", err)
	}

	if semantic != nil && len(summary.KeyLearnings) > 0 {
		entries := make([]BatchEntry, 0, len(summary.KeyLearnings))
		for _, learning := range summary.KeyLearnings {
			entries = append(entries, BatchEntry{
				Content: learning,
				Metadata: map[string]string{
					"type":       "session_learning",
					"session_id": sessionID,
					"outcome":    summary.Outcome,
				},
			})
		}
		if _, err := semantic.AddBatch(ctx, entries, ""); err != nil {
			slog.Warn("failed to index session learnings", "session", sessionID, "error", err)
		} else {
			slog.Info("indexed session learnings", "session", sessionID, "count", len(entries))
		}
	}

	slog.Info("session summary generated",
		"session", sessionID, "outcome", summary.Outcome, "learnings", len(summary.KeyLearnings))
	return summary, nil
}

func (s *Summarizer) writeMarkdown(sessionID, markdown string) error {
	dir := filepath.Join(s.root, ".soloqueue", "summaries", s.group)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, sessionID+".md"), []byte(markdown), 0o644)
}

type summaryResponse struct {
	Objective       string   `json:"objective"`
	Outcome         string   `json:"outcome"`
	Difficulty      int      `json:"difficulty"`
	KeyLearnings    []string `json:"key_learnings"`
	SummaryMarkdown string   `json:"summary_markdown"`
}

// parseSummaryResponse tolerates fenced or prefixed JSON; anything
// unreadable degrades to a partial outcome instead of failing.
func parseSummaryResponse(raw string) summaryResponse {
	text := strings.TrimSpace(raw)
	if start := strings.IndexByte(text, '{'); start != -1 {
		if end := strings.LastIndexByte(text, '}'); end > start {
			text = text[start : end+1]
		}
	}

	var parsed summaryResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		slog.Warn("unparseable summary response, using fallback", "error", err)
		return summaryResponse{
			Outcome:      "partial",
			Difficulty:   5,
			KeyLearnings: nil,
		}
	}
	switch parsed.Outcome {
	case "success", "failure", "partial":
	default:
		parsed.Outcome = "partial"
	}
	if parsed.Difficulty < 1 || parsed.Difficulty > 10 {
		parsed.Difficulty = 5
	}
	return parsed
}
