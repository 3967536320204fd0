package memory

import (
	"fmt"
	"testing"
	"time"
)

func TestParseSessionID(t *testing.T) {
	tests := []struct {
		in       string
		wantUser string
		wantDate string
		wantSeq  int
		wantErr  bool
	}{
		{"u_2026-02-27_0", "u", "2026-02-27", 0, false},
		{"alice_2026-12-31_42", "alice", "2026-12-31", 42, false},
		// user_id may itself contain underscores
		{"team_a_user_2026-02-27_3", "team_a_user", "2026-02-27", 3, false},
		{"no-underscore", "", "", 0, true},
		{"u_2026-02-27_x", "", "", 0, true},  // non-numeric seq
		{"u_2026-02-27_-1", "", "", 0, true}, // negative seq
		{"u_20260227_0", "", "", 0, true},    // missing hyphens
		{"u_2026/02/27_0", "", "", 0, true},  // wrong separators
		{"_2026-02-27_0", "", "", 0, true},   // empty user id
		{"u_26-02-27_0", "", "", 0, true},    // short date
		{"u_2026-02-2a_0", "", "", 0, true},  // non-digit in date
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			user, date, seq, err := ParseSessionID(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseSessionID(%q) succeeded, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSessionID(%q): %v", tt.in, err)
			}
			if user != tt.wantUser || date != tt.wantDate || seq != tt.wantSeq {
				t.Errorf("got (%q, %q, %d), want (%q, %q, %d)",
					user, date, seq, tt.wantUser, tt.wantDate, tt.wantSeq)
			}
		})
	}
}

func TestParseSessionID_RoundTrip(t *testing.T) {
	// Every id the manager produces must parse back to its parts.
	users := []string{"u", "alice", "multi_part_user", "x-1"}
	for _, u := range users {
		for seq := 0; seq < 3; seq++ {
			id := buildSessionID(u, "2026-02-27", seq)
			gotUser, gotDate, gotSeq, err := ParseSessionID(id)
			if err != nil {
				t.Fatalf("round-trip %q: %v", id, err)
			}
			if gotUser != u || gotDate != "2026-02-27" || gotSeq != seq {
				t.Errorf("round-trip %q = (%q, %q, %d)", id, gotUser, gotDate, gotSeq)
			}
		}
	}
}

func TestResolveSession_NewAndReuse(t *testing.T) {
	l, _ := newTestLog(t)
	m := NewSessionManager(l)

	info := m.ResolveSession("u", "2026-02-27")
	if info.SessionID != "u_2026-02-27_0" || !info.IsNew {
		t.Fatalf("fresh resolve = %+v", info)
	}

	// Log a turn under that session; resolution now reuses it.
	l.SaveTurn(turn("u_2026-02-27_0", 1, "hi", "hello", "u"))
	info = m.ResolveSession("u", "2026-02-27")
	if info.SessionID != "u_2026-02-27_0" || info.IsNew {
		t.Fatalf("reuse resolve = %+v", info)
	}

	// Highest seq wins when several exist.
	l.SaveTurn(turn("u_2026-02-27_2", 1, "x", "y", "u"))
	info = m.ResolveSession("u", "2026-02-27")
	if info.SessionID != "u_2026-02-27_2" || info.Seq != 2 {
		t.Fatalf("max-seq resolve = %+v", info)
	}
}

func TestResolveSession_CrossDayRollover(t *testing.T) {
	l, _ := newTestLog(t)
	m := NewSessionManager(l)

	l.SaveTurn(turn("u_2026-02-27_0", 1, "a", "b", "u"))
	l.SaveTurn(turn("u_2026-02-27_0", 2, "c", "d", "u"))

	info := m.ResolveSession("u", "2026-02-28")
	if info.SessionID != "u_2026-02-28_0" || !info.IsNew {
		t.Fatalf("rollover resolve = %+v, want new u_2026-02-28_0", info)
	}
}

func TestForceNewSession_IncrementsSeq(t *testing.T) {
	l, _ := newTestLog(t)
	m := NewSessionManager(l)
	today := time.Now().Format("2006-01-02")

	info := m.ForceNewSession("u")
	if info.Seq != 0 || !info.IsNew {
		t.Fatalf("first force = %+v", info)
	}

	l.SaveTurn(turn(info.SessionID, 1, "a", "b", "u"))
	info2 := m.ForceNewSession("u")
	if info2.Seq != 1 {
		t.Fatalf("second force seq = %d, want 1", info2.Seq)
	}
	if info2.SessionID != fmt.Sprintf("u_%s_1", today) {
		t.Errorf("session id = %q", info2.SessionID)
	}
}

func TestPreviousSessionID(t *testing.T) {
	l, _ := newTestLog(t)
	m := NewSessionManager(l)
	today := time.Now().Format("2006-01-02")

	if got := m.PreviousSessionID("u"); got != "" {
		t.Errorf("no history should yield empty, got %q", got)
	}

	// Prior-day session only.
	l.SaveTurn(turn("u_2020-01-01_0", 1, "a", "b", "u"))
	if got := m.PreviousSessionID("u"); got != "u_2020-01-01_0" {
		t.Errorf("previous = %q, want prior-day session", got)
	}

	// Two sessions today: second-newest of today wins.
	l.SaveTurn(turn(fmt.Sprintf("u_%s_0", today), 1, "a", "b", "u"))
	l.SaveTurn(turn(fmt.Sprintf("u_%s_1", today), 1, "c", "d", "u"))
	if got := m.PreviousSessionID("u"); got != fmt.Sprintf("u_%s_0", today) {
		t.Errorf("previous = %q, want today's seq 0", got)
	}
}
