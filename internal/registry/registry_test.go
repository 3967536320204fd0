package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func agent(name, group string, leader bool) *Agent {
	return &Agent{Name: name, Description: name + " agent", Group: group, IsLeader: leader}
}

func TestNodeID(t *testing.T) {
	if got := agent("worker", "dev", false).NodeID(); got != "dev__worker" {
		t.Errorf("NodeID = %q, want dev__worker", got)
	}
	if got := agent("solo", "", false).NodeID(); got != "solo" {
		t.Errorf("NodeID = %q, want solo", got)
	}
}

func TestResolve_Order(t *testing.T) {
	r := New()
	r.AddAgent(agent("leader", "a", true))
	r.AddAgent(agent("worker", "a", false))
	r.AddAgent(agent("worker", "b", false))

	// Exact node id wins.
	if got := r.Resolve("b__worker", "a"); got == nil || got.Group != "b" {
		t.Errorf("exact node id resolution failed: %+v", got)
	}
	// Caller's group qualifies a simple name.
	if got := r.Resolve("worker", "a"); got == nil || got.Group != "a" {
		t.Errorf("intra-group resolution failed: %+v", got)
	}
	// Simple-name fallback finds something when no group matches.
	if got := r.Resolve("leader", ""); got == nil || got.Name != "leader" {
		t.Errorf("simple-name fallback failed: %+v", got)
	}
	if got := r.Resolve("ghost", "a"); got != nil {
		t.Errorf("unknown agent resolved: %+v", got)
	}
}

func TestAddAgent_LeaderDowngrade(t *testing.T) {
	r := New()
	r.AddAgent(agent("first", "g", true))
	second := agent("second", "g", true)
	r.AddAgent(second)

	if second.IsLeader {
		t.Error("second leader in a group was not downgraded")
	}
	if !r.GetByNodeID("g__first").IsLeader {
		t.Error("original leader lost its flag")
	}

	// Leaders in different groups are unaffected.
	other := agent("boss", "h", true)
	r.AddAgent(other)
	if !other.IsLeader {
		t.Error("leader in a different group was downgraded")
	}
}

func TestAddAgent_MergesSkillsAlias(t *testing.T) {
	r := New()
	a := &Agent{Name: "x", Tools: []string{"bash"}, Skills: []string{"bash", "review"}}
	r.AddAgent(a)
	if len(a.Tools) != 2 || a.Tools[1] != "review" {
		t.Errorf("Tools after merge = %v", a.Tools)
	}
}

func TestCheckPermission(t *testing.T) {
	tests := []struct {
		name    string
		source  *Agent
		target  *Agent
		allowed bool
	}{
		{"intra-group members", agent("a", "g1", false), agent("b", "g1", false), true},
		{"intra-group leader to member", agent("a", "g1", true), agent("b", "g1", false), true},
		{"cross-group leaders", agent("a", "g1", true), agent("b", "g2", true), true},
		{"cross-group leader to member", agent("a", "g1", true), agent("b", "g2", false), false},
		{"cross-group member to leader", agent("a", "g1", false), agent("b", "g2", true), false},
		{"cross-group members", agent("a", "g1", false), agent("b", "g2", false), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPermission(tt.source, tt.target)
			if tt.allowed && err != nil {
				t.Errorf("denied: %v", err)
			}
			if !tt.allowed {
				if err == nil {
					t.Fatal("allowed, want denial")
				}
				if !errors.Is(err, ErrPermissionDenied) {
					t.Errorf("error kind = %v", err)
				}
			}
		})
	}

	if err := CheckPermission(nil, agent("b", "g", false)); err == nil {
		t.Error("nil source must be denied")
	}
}

func TestLoadAll(t *testing.T) {
	root := t.TempDir()

	writeFile := func(rel, content string) {
		t.Helper()
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	writeFile("config/groups/dev/GROUP.md", `---
name: dev
description: development team
shared_context: "Repo uses Go 1.25."
---
`)
	writeFile("config/agents/leader/AGENT.md", `---
name: leader
description: coordinates the dev group
group: dev
is_leader: true
sub_agents:
  - coder
tools:
  - bash
---
You are the dev team leader. Delegate implementation work.
`)
	writeFile("config/agents/coder/AGENT.md", `---
name: coder
description: writes code
group: dev
skills:
  - read_file
  - write_file
---
You write Go code.
`)

	r, err := LoadAll(root)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	g := r.GetGroup("dev")
	if g == nil || g.SharedContext != "Repo uses Go 1.25." {
		t.Fatalf("group = %+v", g)
	}

	leader := r.GetByNodeID("dev__leader")
	if leader == nil {
		t.Fatal("leader not loaded")
	}
	if !leader.IsLeader || len(leader.SubAgents) != 1 || leader.SubAgents[0] != "coder" {
		t.Errorf("leader = %+v", leader)
	}
	if leader.SystemPrompt != "You are the dev team leader. Delegate implementation work." {
		t.Errorf("system prompt = %q", leader.SystemPrompt)
	}

	coder := r.GetByNodeID("dev__coder")
	if coder == nil {
		t.Fatal("coder not loaded")
	}
	if len(coder.Tools) != 2 {
		t.Errorf("skills alias not merged into tools: %v", coder.Tools)
	}
}

func TestLoadAll_MissingTree(t *testing.T) {
	r, err := LoadAll(t.TempDir())
	if err != nil {
		t.Fatalf("LoadAll on empty workspace: %v", err)
	}
	if len(r.Agents()) != 0 {
		t.Error("phantom agents loaded")
	}
}
