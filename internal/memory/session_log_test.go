package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLog(t *testing.T) (*SessionLog, string) {
	t.Helper()
	root := t.TempDir()
	l, err := NewSessionLog(root)
	if err != nil {
		t.Fatalf("NewSessionLog: %v", err)
	}
	return l, root
}

func turn(session string, n int, user, ai, userID string) *ConversationTurn {
	return &ConversationTurn{
		SessionID:   session,
		Turn:        n,
		Group:       "default",
		EntryAgent:  "leader",
		UserID:      userID,
		UserMessage: user,
		AIResponse:  &AIResponse{Content: ai},
		Status:      TurnCompleted,
	}
}

func TestSaveTurn_And_GetTurns(t *testing.T) {
	l, _ := newTestLog(t)

	if err := l.SaveTurn(turn("s1", 2, "second", "r2", "u")); err != nil {
		t.Fatal(err)
	}
	if err := l.SaveTurn(turn("s1", 1, "first", "r1", "u")); err != nil {
		t.Fatal(err)
	}
	if err := l.SaveTurn(turn("s2", 1, "other", "r", "u")); err != nil {
		t.Fatal(err)
	}

	turns := l.GetTurns("s1")
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(turns))
	}
	if turns[0].Turn != 1 || turns[1].Turn != 2 {
		t.Errorf("turns not sorted: %d, %d", turns[0].Turn, turns[1].Turn)
	}
	if l.NextTurnNumber("s1") != 3 {
		t.Errorf("NextTurnNumber = %d, want 3", l.NextTurnNumber("s1"))
	}
	if l.NextTurnNumber("fresh") != 1 {
		t.Errorf("NextTurnNumber(fresh) = %d, want 1", l.NextTurnNumber("fresh"))
	}
}

func TestGetHistory_AlternatingWithLimit(t *testing.T) {
	l, _ := newTestLog(t)
	for i := 1; i <= 5; i++ {
		if err := l.SaveTurn(turn("s", i, "q", "a", "u")); err != nil {
			t.Fatal(err)
		}
	}

	msgs := l.GetHistory("s", 2)
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4 (2 turns)", len(msgs))
	}
	for i, m := range msgs {
		wantRole := "user"
		if i%2 == 1 {
			wantRole = "assistant"
		}
		if m.Role != wantRole {
			t.Errorf("message %d role = %q, want %q", i, m.Role, wantRole)
		}
	}
}

func TestGetSessionsByUser_FirstSeenOrder(t *testing.T) {
	l, _ := newTestLog(t)
	l.SaveTurn(turn("u_2026-01-01_0", 1, "a", "b", "u"))
	l.SaveTurn(turn("u_2026-01-02_0", 1, "c", "d", "u"))
	l.SaveTurn(turn("u_2026-01-01_0", 2, "e", "f", "u"))
	l.SaveTurn(turn("other_2026-01-01_0", 1, "x", "y", "other"))
	l.SaveTurn(turn("anon-session", 1, "x", "y", "")) // no user_id

	got := l.GetSessionsByUser("u")
	want := []string{"u_2026-01-01_0", "u_2026-01-02_0"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("session %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestGetSessionTurnsText(t *testing.T) {
	l, _ := newTestLog(t)
	l.SaveTurn(turn("s", 1, "hello", "hi there", "u"))
	l.SaveTurn(turn("s", 2, "bye", "goodbye", "u"))

	text := l.GetSessionTurnsText("s")
	want := "User: hello\nAI: hi there\n---\nUser: bye\nAI: goodbye"
	if text != want {
		t.Errorf("transcript = %q, want %q", text, want)
	}
	if l.GetSessionTurnsText("empty") != "" {
		t.Error("empty session should render empty transcript")
	}
}

func TestClearSession(t *testing.T) {
	l, _ := newTestLog(t)
	l.SaveTurn(turn("keep", 1, "a", "b", "u"))
	l.SaveTurn(turn("drop", 1, "c", "d", "u"))
	l.SaveTurn(turn("keep", 2, "e", "f", "u"))

	if err := l.ClearSession("drop"); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	if got := l.GetTurns("drop"); len(got) != 0 {
		t.Errorf("cleared session still has %d turns", len(got))
	}
	if got := l.GetTurns("keep"); len(got) != 2 {
		t.Errorf("surviving session has %d turns, want 2", len(got))
	}
}

func TestScan_SkipsMalformedLines(t *testing.T) {
	l, root := newTestLog(t)
	l.SaveTurn(turn("s", 1, "good", "fine", "u"))

	// Simulate an interrupted append: garbage plus a partial JSON line.
	logPath := filepath.Join(root, ".soloqueue", "logs", "conversations.jsonl")
	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("not json at all\n")
	f.WriteString(`{"session_id": "s", "turn": 2, "user_mes`)
	f.Close()

	turns := l.GetTurns("s")
	if len(turns) != 1 {
		t.Fatalf("got %d turns, want 1 (malformed lines skipped)", len(turns))
	}
	if !strings.Contains(turns[0].UserMessage, "good") {
		t.Errorf("wrong surviving turn: %+v", turns[0])
	}
}

func TestSessionCount(t *testing.T) {
	l, _ := newTestLog(t)
	if l.SessionCount() != 0 {
		t.Error("empty log should count zero sessions")
	}
	l.SaveTurn(turn("a", 1, "x", "y", "u"))
	l.SaveTurn(turn("a", 2, "x", "y", "u"))
	l.SaveTurn(turn("b", 1, "x", "y", "u"))
	if got := l.SessionCount(); got != 2 {
		t.Errorf("SessionCount = %d, want 2", got)
	}
}
