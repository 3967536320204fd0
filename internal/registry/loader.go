package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition files live under the workspace config tree:
//
//	config/agents/<name>/AGENT.md   frontmatter + system prompt body
//	config/groups/<name>/GROUP.md   frontmatter (+ optional shared context body)
const (
	agentsSubdir = "config/agents"
	groupsSubdir = "config/groups"
)

// LoadAll populates a registry from a workspace's config tree. Groups
// load first so the leader-downgrade rule sees complete group info.
func LoadAll(workspaceRoot string) (*Registry, error) {
	r := New()

	groupsDir := filepath.Join(workspaceRoot, groupsSubdir)
	if entries, err := os.ReadDir(groupsDir); err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			path := filepath.Join(groupsDir, e.Name(), "GROUP.md")
			g, err := loadGroupFile(path)
			if err != nil {
				slog.Error("failed to load group", "path", path, "error", err)
				continue
			}
			if g.Name == "" {
				g.Name = e.Name()
			}
			r.AddGroup(g)
			slog.Debug("loaded group", "group", g.Name)
		}
	}

	agentsDir := filepath.Join(workspaceRoot, agentsSubdir)
	entries, err := os.ReadDir(agentsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read agents directory: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(agentsDir, e.Name(), "AGENT.md")
		a, err := loadAgentFile(path)
		if err != nil {
			slog.Error("failed to load agent", "path", path, "error", err)
			continue
		}
		if a.Name == "" {
			a.Name = e.Name()
		}
		r.AddAgent(a)
		slog.Debug("loaded agent", "agent", a.NodeID())
	}

	return r, nil
}

func loadAgentFile(path string) (*Agent, error) {
	front, body, err := splitFrontmatter(path)
	if err != nil {
		return nil, err
	}
	var a Agent
	if err := yaml.Unmarshal([]byte(front), &a); err != nil {
		return nil, fmt.Errorf("parse agent frontmatter: %w", err)
	}
	a.SystemPrompt = strings.TrimSpace(body)
	return &a, nil
}

func loadGroupFile(path string) (*Group, error) {
	front, body, err := splitFrontmatter(path)
	if err != nil {
		return nil, err
	}
	var g Group
	if err := yaml.Unmarshal([]byte(front), &g); err != nil {
		return nil, fmt.Errorf("parse group frontmatter: %w", err)
	}
	// A body doubles as shared context when the frontmatter has none.
	if g.SharedContext == "" {
		g.SharedContext = strings.TrimSpace(body)
	}
	return &g, nil
}

// splitFrontmatter splits a markdown file into its YAML frontmatter
// (between leading "---" fences) and the remaining body. A file without
// a frontmatter fence is all body.
func splitFrontmatter(path string) (front, body string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")

	if !strings.HasPrefix(text, "---\n") {
		return "", text, nil
	}
	rest := text[4:]
	end := strings.Index(rest, "\n---")
	if end == -1 {
		return "", text, nil
	}
	front = rest[:end]
	body = rest[end+4:]
	if i := strings.IndexByte(body, '\n'); i != -1 {
		body = body[i+1:]
	} else {
		body = ""
	}
	return front, body, nil
}
