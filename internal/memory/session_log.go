package memory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fize-ai/soloqueue/internal/providers"
)

// Turn statuses.
const (
	TurnCompleted = "completed"
	TurnTimeout   = "timeout"
	TurnError     = "error"
)

// ToolCallRecord is one tool invocation inside a turn.
type ToolCallRecord struct {
	Agent      string         `json:"agent"`
	ToolName   string         `json:"tool_name"`
	ToolArgs   map[string]any `json:"tool_args"`
	Result     string         `json:"result"`
	Timestamp  string         `json:"timestamp"`
	DurationMs int64          `json:"duration_ms"`
}

// SkillCallRecord is one skill invocation inside a turn.
type SkillCallRecord struct {
	SkillName  string `json:"skill_name"`
	SkillArgs  string `json:"skill_args"`
	Agent      string `json:"agent"`
	Result     string `json:"result"`
	Timestamp  string `json:"timestamp"`
	DurationMs int64  `json:"duration_ms"`
}

// AIResponse is the assistant side of one turn.
type AIResponse struct {
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

// TokenUsage tallies the turn's token counters.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ConversationTurn is the complete record of one user turn. Appended
// once per turn and never edited.
type ConversationTurn struct {
	SessionID       string            `json:"session_id"`
	Turn            int               `json:"turn"`
	Timestamp       string            `json:"timestamp"`
	Group           string            `json:"group"`
	EntryAgent      string            `json:"entry_agent"`
	UserID          string            `json:"user_id,omitempty"`
	UserMessage     string            `json:"user_message"`
	AIResponse      *AIResponse       `json:"ai_response"`
	ToolCalls       []ToolCallRecord  `json:"tool_calls"`
	SkillCalls      []SkillCallRecord `json:"skill_calls"`
	DelegationChain []string          `json:"delegation_chain"`
	TokenUsage      TokenUsage        `json:"token_usage"`
	DurationMs      int64             `json:"duration_ms"`
	Status          string            `json:"status"`
}

// SessionLog is the append-only JSONL record of conversation turns at
// .soloqueue/logs/conversations.jsonl. Single writer per file; appends
// are line-atomic; readers skip malformed lines.
type SessionLog struct {
	logFile string
	mu      sync.Mutex
}

func NewSessionLog(workspaceRoot string) (*SessionLog, error) {
	logsDir := filepath.Join(workspaceRoot, ".soloqueue", "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs directory: %w", err)
	}
	return &SessionLog{logFile: filepath.Join(logsDir, "conversations.jsonl")}, nil
}

// SaveTurn appends one turn as a single JSON line.
func (l *SessionLog) SaveTurn(turn *ConversationTurn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open conversations log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	slog.Debug("saved conversation turn", "session", turn.SessionID, "turn", turn.Turn)
	return nil
}

// GetHistory reconstructs alternating user/assistant messages from the
// last limit turns of the session, oldest-first.
func (l *SessionLog) GetHistory(sessionID string, limit int) []providers.Message {
	turns := l.GetTurns(sessionID)
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	var messages []providers.Message
	for _, t := range turns {
		if t.UserMessage != "" {
			messages = append(messages, providers.Message{Role: "user", Content: t.UserMessage})
		}
		if t.AIResponse != nil {
			messages = append(messages, providers.Message{Role: "assistant", Content: t.AIResponse.Content})
		}
	}
	slog.Debug("loaded session history", "session", sessionID, "messages", len(messages))
	return messages
}

// GetTurns returns all of a session's turns sorted by turn number.
func (l *SessionLog) GetTurns(sessionID string) []*ConversationTurn {
	var turns []*ConversationTurn
	l.scan(func(t *ConversationTurn) {
		if t.SessionID == sessionID {
			turns = append(turns, t)
		}
	})
	sort.SliceStable(turns, func(i, j int) bool { return turns[i].Turn < turns[j].Turn })
	return turns
}

// NextTurnNumber returns 1 + the highest turn recorded for the session.
func (l *SessionLog) NextTurnNumber(sessionID string) int {
	max := 0
	l.scan(func(t *ConversationTurn) {
		if t.SessionID == sessionID && t.Turn > max {
			max = t.Turn
		}
	})
	return max + 1
}

// GetSessionsByUser returns each session id whose user_id matches,
// deduplicated, in first-seen order. Rows without a user_id are skipped.
func (l *SessionLog) GetSessionsByUser(userID string) []string {
	var sessions []string
	seen := make(map[string]bool)
	l.scan(func(t *ConversationTurn) {
		if t.UserID == userID && t.SessionID != "" && !seen[t.SessionID] {
			sessions = append(sessions, t.SessionID)
			seen[t.SessionID] = true
		}
	})
	return sessions
}

// GetSessionTurnsText renders the session as "User: …\nAI: …" blocks
// joined by "---", for archival into the semantic store.
func (l *SessionLog) GetSessionTurnsText(sessionID string) string {
	turns := l.GetTurns(sessionID)
	if len(turns) == 0 {
		return ""
	}

	parts := make([]string, 0, len(turns))
	for _, t := range turns {
		aiContent := ""
		if t.AIResponse != nil {
			aiContent = t.AIResponse.Content
		}
		parts = append(parts, fmt.Sprintf("User: %s\nAI: %s", t.UserMessage, aiContent))
	}
	return strings.Join(parts, "\n---\n")
}

// ClearSession rewrites the log omitting the session's rows.
func (l *SessionLog) ClearSession(sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.logFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open conversations log: %w", err)
	}

	var kept []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var t ConversationTurn
		if err := json.Unmarshal([]byte(line), &t); err != nil {
			continue
		}
		if t.SessionID == sessionID {
			continue
		}
		kept = append(kept, line)
	}
	f.Close()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan conversations log: %w", err)
	}

	tmp := l.logFile + ".tmp"
	out := strings.Join(kept, "\n")
	if out != "" {
		out += "\n"
	}
	if err := os.WriteFile(tmp, []byte(out), 0o644); err != nil {
		return fmt.Errorf("rewrite conversations log: %w", err)
	}
	if err := os.Rename(tmp, l.logFile); err != nil {
		return fmt.Errorf("replace conversations log: %w", err)
	}
	slog.Info("cleared session", "session", sessionID)
	return nil
}

// SessionCount returns the number of distinct sessions in the log.
func (l *SessionLog) SessionCount() int {
	seen := make(map[string]bool)
	l.scan(func(t *ConversationTurn) {
		if t.SessionID != "" {
			seen[t.SessionID] = true
		}
	})
	return len(seen)
}

// scan streams every well-formed turn through fn. A partial final line
// (interrupted append) parses as malformed and is tolerated.
func (l *SessionLog) scan(fn func(*ConversationTurn)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.logFile)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var t ConversationTurn
		if err := json.Unmarshal([]byte(line), &t); err != nil {
			continue
		}
		fn(&t)
	}
}
