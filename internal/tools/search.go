package tools

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fize-ai/soloqueue/internal/workspace"
)

const (
	grepMaxMatches = 200
	globMaxResults = 500
)

// GrepTool searches file contents by regular expression.
type GrepTool struct {
	ws *workspace.Workspace
}

func NewGrepTool(ws *workspace.Workspace) *GrepTool {
	return &GrepTool{ws: ws}
}

func (t *GrepTool) Name() string { return "grep" }
func (t *GrepTool) Description() string {
	return "Search for a regular expression in files under a directory"
}
func (t *GrepTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Regular expression to search for",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Directory or file to search (default: workspace root)",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GrepTool) Execute(ctx context.Context, args map[string]any) *Result {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return ErrorResult("pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid pattern: %v", err))
	}

	path, _ := args["path"].(string)
	resolved, err := t.ws.Resolve(path)
	if err != nil {
		return ErrorResult(err.Error())
	}

	var matches []string
	walkErr := filepath.WalkDir(resolved, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != resolved {
				return filepath.SkipDir
			}
			return nil
		}
		if len(matches) >= grepMaxMatches {
			return filepath.SkipAll
		}
		t.grepFile(re, p, &matches)
		return nil
	})
	if walkErr != nil {
		return ErrorResult(fmt.Sprintf("search failed: %v", walkErr))
	}

	if len(matches) == 0 {
		return NewResult("No matches found.")
	}
	out := strings.Join(matches, "\n")
	if len(matches) >= grepMaxMatches {
		out += fmt.Sprintf("\n(truncated at %d matches)", grepMaxMatches)
	}
	return NewResult(out)
}

func (t *GrepTool) grepFile(re *regexp.Regexp, path string, matches *[]string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	rel, _ := filepath.Rel(t.ws.Root(), path)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if re.MatchString(line) {
			*matches = append(*matches, fmt.Sprintf("%s:%d: %s", rel, lineNo, strings.TrimSpace(line)))
			if len(*matches) >= grepMaxMatches {
				return
			}
		}
	}
}

// GlobTool lists files matching a glob pattern. Patterns match path
// segments ("**" spans directories).
type GlobTool struct {
	ws *workspace.Workspace
}

func NewGlobTool(ws *workspace.Workspace) *GlobTool {
	return &GlobTool{ws: ws}
}

func (t *GlobTool) Name() string        { return "glob" }
func (t *GlobTool) Description() string { return "List files matching a glob pattern" }
func (t *GlobTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": `Glob pattern, e.g. "**/*.go" or "docs/*.md"`,
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GlobTool) Execute(ctx context.Context, args map[string]any) *Result {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return ErrorResult("pattern is required")
	}

	var results []string
	err := filepath.WalkDir(t.ws.Root(), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != t.ws.Root() {
				return filepath.SkipDir
			}
			return nil
		}
		if len(results) >= globMaxResults {
			return filepath.SkipAll
		}
		rel, err := filepath.Rel(t.ws.Root(), p)
		if err != nil {
			return nil
		}
		if matchGlob(pattern, rel) {
			results = append(results, rel)
		}
		return nil
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("glob failed: %v", err))
	}

	if len(results) == 0 {
		return NewResult("No files matched.")
	}
	return NewResult(strings.Join(results, "\n"))
}

// matchGlob matches a path against a pattern segment by segment, with
// "**" matching any number of segments.
func matchGlob(pattern, path string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(path, "/"))
}

func matchSegments(pat, segs []string) bool {
	if len(pat) == 0 {
		return len(segs) == 0
	}
	if pat[0] == "**" {
		for i := 0; i <= len(segs); i++ {
			if matchSegments(pat[1:], segs[i:]) {
				return true
			}
		}
		return false
	}
	if len(segs) == 0 {
		return false
	}
	ok, err := filepath.Match(pat[0], segs[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pat[1:], segs[1:])
}
