package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SessionInfo describes one resolved session.
type SessionInfo struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Date      string `json:"date"` // YYYY-MM-DD
	Seq       int    `json:"seq"`
	IsNew     bool   `json:"is_new"`
}

// SessionManager derives deterministic session identity from
// (user, date, seq): `{user_id}_{YYYY-MM-DD}_{seq}`. Sessions roll over
// across calendar days; /new bumps the sequence within a day. Completed
// sessions are archived into the semantic store as one entry.
type SessionManager struct {
	log *SessionLog
}

func NewSessionManager(log *SessionLog) *SessionManager {
	return &SessionManager{log: log}
}

// ResolveSession returns the user's current session for the date
// (default: today). The largest existing seq for the day is reused;
// otherwise seq 0 is created with IsNew=true.
func (m *SessionManager) ResolveSession(userID, date string) SessionInfo {
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}

	existing := m.sessionsForDate(userID, date)
	if len(existing) > 0 {
		latest := existing[len(existing)-1]
		return SessionInfo{
			SessionID: latest,
			UserID:    userID,
			Date:      date,
			Seq:       extractSeq(latest),
			IsNew:     false,
		}
	}

	return SessionInfo{
		SessionID: buildSessionID(userID, date, 0),
		UserID:    userID,
		Date:      date,
		Seq:       0,
		IsNew:     true,
	}
}

// ForceNewSession always creates a fresh session id, with seq one past
// the day's current maximum (or 0).
func (m *SessionManager) ForceNewSession(userID string) SessionInfo {
	date := time.Now().Format("2006-01-02")
	existing := m.sessionsForDate(userID, date)

	seq := 0
	if len(existing) > 0 {
		seq = extractSeq(existing[len(existing)-1]) + 1
	}

	id := buildSessionID(userID, date, seq)
	slog.Info("forced new session", "user", userID, "session", id)
	return SessionInfo{SessionID: id, UserID: userID, Date: date, Seq: seq, IsNew: true}
}

// PreviousSessionID returns the session to archive: today's second-newest
// if the day has several, else the newest id from prior days. Empty when
// the user has no earlier session. Lexicographic comparison is sound
// because the date segment is fixed-width.
func (m *SessionManager) PreviousSessionID(userID string) string {
	date := time.Now().Format("2006-01-02")
	today := m.sessionsForDate(userID, date)
	if len(today) >= 2 {
		return today[len(today)-2]
	}

	all := m.log.GetSessionsByUser(userID)
	prefix := fmt.Sprintf("%s_%s_", userID, date)
	var previous []string
	for _, s := range all {
		if !strings.HasPrefix(s, prefix) {
			previous = append(previous, s)
		}
	}
	if len(previous) == 0 {
		return ""
	}
	sort.Strings(previous)
	return previous[len(previous)-1]
}

// ArchiveSession writes the session's transcript into the semantic store
// as one session_archive entry. Empty sessions archive nothing.
func (m *SessionManager) ArchiveSession(ctx context.Context, sessionID, userID string, mem *Manager) bool {
	turnsText := m.log.GetSessionTurnsText(sessionID)
	if turnsText == "" {
		slog.Debug("no turns to archive", "session", sessionID)
		return false
	}

	_, date, seq, err := ParseSessionID(sessionID)
	if err != nil {
		slog.Error("cannot archive malformed session id", "session", sessionID, "error", err)
		return false
	}
	turnCount := len(m.log.GetTurns(sessionID))

	metadata := map[string]string{
		"type":       "session_archive",
		"user_id":    userID,
		"session_id": sessionID,
		"date":       date,
		"seq":        strconv.Itoa(seq),
		"turn_count": strconv.Itoa(turnCount),
	}

	entryID, err := mem.AddKnowledge(ctx, turnsText, metadata)
	if err != nil || entryID == "" {
		slog.Error("failed to archive session", "session", sessionID, "error", err)
		return false
	}

	slog.Info("archived session", "session", sessionID, "turns", turnCount, "chars", len(turnsText))
	return true
}

// ParseSessionID splits `{user_id}_{YYYY-MM-DD}_{seq}` right-to-left:
// the tail after the last underscore must parse as a non-negative int,
// the remainder must end in a 10-character date with fixed hyphens, and
// the prefix is a non-empty user id (which may itself contain
// underscores). Any deviation is rejected.
func ParseSessionID(sessionID string) (userID, date string, seq int, err error) {
	last := strings.LastIndex(sessionID, "_")
	if last == -1 {
		return "", "", 0, fmt.Errorf("invalid session id: %s", sessionID)
	}

	seq, err = strconv.Atoi(sessionID[last+1:])
	if err != nil || seq < 0 {
		return "", "", 0, fmt.Errorf("invalid seq in session id: %s", sessionID)
	}

	rest := sessionID[:last]
	if len(rest) < 11 || rest[len(rest)-11] != '_' {
		return "", "", 0, fmt.Errorf("invalid date in session id: %s", sessionID)
	}
	date = rest[len(rest)-10:]
	if !validSessionDate(date) {
		return "", "", 0, fmt.Errorf("invalid date in session id: %s", sessionID)
	}

	userID = rest[:len(rest)-11]
	if userID == "" {
		return "", "", 0, fmt.Errorf("empty user id in session id: %s", sessionID)
	}
	return userID, date, seq, nil
}

// validSessionDate enforces the exact YYYY-MM-DD shape.
func validSessionDate(date string) bool {
	if len(date) != 10 || date[4] != '-' || date[7] != '-' {
		return false
	}
	for i, r := range date {
		if i == 4 || i == 7 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func buildSessionID(userID, date string, seq int) string {
	return fmt.Sprintf("%s_%s_%d", userID, date, seq)
}

// sessionsForDate returns the user's sessions on a day, sorted by seq.
func (m *SessionManager) sessionsForDate(userID, date string) []string {
	all := m.log.GetSessionsByUser(userID)
	prefix := fmt.Sprintf("%s_%s_", userID, date)

	var matched []string
	for _, s := range all {
		if strings.HasPrefix(s, prefix) {
			matched = append(matched, s)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return extractSeq(matched[i]) < extractSeq(matched[j])
	})
	return matched
}

func extractSeq(sessionID string) int {
	last := strings.LastIndex(sessionID, "_")
	if last == -1 {
		return 0
	}
	seq, err := strconv.Atoi(sessionID[last+1:])
	if err != nil {
		return 0
	}
	return seq
}
