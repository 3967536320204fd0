package skills

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Skill is one disk-defined SKILL.md template, instantiated as a
// one-shot agent on demand.
type Skill struct {
	Name                   string   `yaml:"name"`
	Description            string   `yaml:"description"`
	AllowedTools           []string `yaml:"allowed_tools,omitempty"`
	DisableModelInvocation bool     `yaml:"disable_model_invocation,omitempty"`
	Arguments              string   `yaml:"arguments,omitempty"`

	// Runtime fields, not part of the frontmatter.
	Content string `yaml:"-"` // markdown prompt template
	Dir     string `yaml:"-"` // directory containing SKILL.md
}

// Loader finds skills on disk: the project tree first
// (<workspace>/config/skills/<name>/SKILL.md), then the per-user tree
// (~/.soloqueue/skills/<name>/SKILL.md). Loaded skills are cached; the
// watcher invalidates the cache on file changes.
type Loader struct {
	scanPaths []string

	mu    sync.RWMutex
	cache map[string]*Skill
}

func NewLoader(workspaceRoot string) *Loader {
	paths := []string{filepath.Join(workspaceRoot, "config", "skills")}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".soloqueue", "skills"))
	}
	return &Loader{scanPaths: paths, cache: make(map[string]*Skill)}
}

// ScanPaths returns the search roots, project first.
func (l *Loader) ScanPaths() []string { return l.scanPaths }

// Load returns a skill by name, searching project before user tree.
func (l *Loader) Load(name string) (*Skill, error) {
	l.mu.RLock()
	if s, ok := l.cache[name]; ok {
		l.mu.RUnlock()
		return s, nil
	}
	l.mu.RUnlock()

	for _, base := range l.scanPaths {
		path := filepath.Join(base, name, "SKILL.md")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		s, err := loadSkillFile(name, path)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.cache[name] = s
		l.mu.Unlock()
		return s, nil
	}
	return nil, fmt.Errorf("skill %q not found in %v", name, l.scanPaths)
}

// LoadAll returns every skill from every scan path; project definitions
// override user ones with the same name.
func (l *Loader) LoadAll() map[string]*Skill {
	skills := make(map[string]*Skill)

	// User tree first so the project overwrites.
	for i := len(l.scanPaths) - 1; i >= 0; i-- {
		base := l.scanPaths[i]
		entries, err := os.ReadDir(base)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			path := filepath.Join(base, e.Name(), "SKILL.md")
			if _, err := os.Stat(path); err != nil {
				continue
			}
			s, err := loadSkillFile(e.Name(), path)
			if err != nil {
				slog.Error("failed to load skill", "path", path, "error", err)
				continue
			}
			skills[s.Name] = s
		}
	}

	l.mu.Lock()
	for name, s := range skills {
		l.cache[name] = s
	}
	l.mu.Unlock()
	return skills
}

// Invalidate drops cached skills so the next Load re-reads disk.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.cache = make(map[string]*Skill)
	l.mu.Unlock()
	slog.Debug("skill cache invalidated")
}

func loadSkillFile(name, path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill %s: %w", name, err)
	}
	front, body := splitFrontmatter(string(data))

	var s Skill
	if front != "" {
		if err := yaml.Unmarshal([]byte(front), &s); err != nil {
			return nil, fmt.Errorf("parse skill frontmatter %s: %w", name, err)
		}
	}
	if s.Name == "" {
		s.Name = name
	}
	s.Content = strings.TrimSpace(body)
	s.Dir = filepath.Dir(path)

	slog.Debug("loaded skill", "skill", s.Name, "path", path)
	return &s, nil
}

func splitFrontmatter(text string) (front, body string) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if !strings.HasPrefix(text, "---\n") {
		return "", text
	}
	rest := text[4:]
	end := strings.Index(rest, "\n---")
	if end == -1 {
		return "", text
	}
	front = rest[:end]
	body = rest[end+4:]
	if i := strings.IndexByte(body, '\n'); i != -1 {
		body = body[i+1:]
	} else {
		body = ""
	}
	return front, body
}
