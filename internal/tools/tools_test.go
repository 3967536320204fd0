package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fize-ai/soloqueue/internal/workspace"
)

func newWS(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return ws
}

func TestSet_FirstWinsDedup(t *testing.T) {
	ws := newWS(t)
	first := NewReadFileTool(ws)
	set := NewSet(first, NewBashTool(ws))
	set.Add(NewReadFileTool(ws)) // duplicate name

	if set.Len() != 2 {
		t.Fatalf("set size = %d, want 2", set.Len())
	}
	if set.Get("read_file") != first {
		t.Error("duplicate replaced the first registration")
	}
	names := set.Names()
	if names[0] != "read_file" || names[1] != "bash" {
		t.Errorf("order = %v", names)
	}
}

func TestSet_Defs(t *testing.T) {
	set := NewSet(NewBashTool(newWS(t)))
	defs := set.Defs()
	if len(defs) != 1 {
		t.Fatalf("defs = %d", len(defs))
	}
	if defs[0].Type != "function" || defs[0].Function.Name != "bash" {
		t.Errorf("def = %+v", defs[0])
	}
	if defs[0].Function.Parameters["type"] != "object" {
		t.Errorf("parameters schema = %v", defs[0].Function.Parameters)
	}
}

func TestReadFileTool(t *testing.T) {
	ws := newWS(t)
	if err := os.WriteFile(filepath.Join(ws.Root(), "x.txt"), []byte("42"), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := NewReadFileTool(ws)

	res := tool.Execute(context.Background(), map[string]any{"path": "x.txt"})
	if res.IsError || res.ForLLM != "42" {
		t.Errorf("result = %+v", res)
	}

	res = tool.Execute(context.Background(), map[string]any{"path": "../escape.txt"})
	if !res.IsError {
		t.Error("workspace escape not rejected")
	}

	res = tool.Execute(context.Background(), map[string]any{})
	if !res.IsError {
		t.Error("missing path not rejected")
	}
}

// alwaysApprove / alwaysDeny are minimal approval backends.
type alwaysApprove struct{}

func (alwaysApprove) RequestApproval(string, string, string) bool { return true }

type alwaysDeny struct{}

func (alwaysDeny) RequestApproval(string, string, string) bool { return false }

func TestWriteFileTool_ApprovalGate(t *testing.T) {
	ws := newWS(t)

	approved := NewWriteFileTool(ws, alwaysApprove{})
	res := approved.Execute(context.Background(), map[string]any{
		"path": "out/result.txt", "content": "data",
	})
	if res.IsError {
		t.Fatalf("approved write failed: %+v", res)
	}
	data, err := os.ReadFile(filepath.Join(ws.Root(), "out", "result.txt"))
	if err != nil || string(data) != "data" {
		t.Fatalf("file content = %q, %v", data, err)
	}

	denied := NewWriteFileTool(ws, alwaysDeny{})
	res = denied.Execute(context.Background(), map[string]any{
		"path": "blocked.txt", "content": "data",
	})
	if !res.IsError {
		t.Error("denied write reported success")
	}
	if !strings.Contains(res.ForLLM, "not approved") {
		t.Errorf("denial message = %q", res.ForLLM)
	}
	if _, err := os.Stat(filepath.Join(ws.Root(), "blocked.txt")); !os.IsNotExist(err) {
		t.Error("denied write still created the file")
	}
}

func TestBashTool(t *testing.T) {
	tool := NewBashTool(newWS(t))

	res := tool.Execute(context.Background(), map[string]any{"command": "echo hello"})
	if res.IsError || strings.TrimSpace(res.ForLLM) != "hello" {
		t.Errorf("result = %+v", res)
	}

	res = tool.Execute(context.Background(), map[string]any{"command": "sudo id"})
	if !res.IsError || !strings.Contains(res.ForLLM, "safety policy") {
		t.Errorf("dangerous command not denied: %+v", res)
	}

	res = tool.Execute(context.Background(), map[string]any{"command": "exit 3"})
	if !res.IsError {
		t.Error("nonzero exit not reported as error")
	}
}

func TestGrepTool(t *testing.T) {
	ws := newWS(t)
	os.WriteFile(filepath.Join(ws.Root(), "a.go"), []byte("package a\nfunc Hello() {}\n"), 0o644)
	os.WriteFile(filepath.Join(ws.Root(), "b.txt"), []byte("nothing here\n"), 0o644)
	tool := NewGrepTool(ws)

	res := tool.Execute(context.Background(), map[string]any{"pattern": `func \w+`})
	if res.IsError {
		t.Fatalf("grep failed: %+v", res)
	}
	if !strings.Contains(res.ForLLM, "a.go:2") {
		t.Errorf("match output = %q", res.ForLLM)
	}

	res = tool.Execute(context.Background(), map[string]any{"pattern": "absent-needle"})
	if res.ForLLM != "No matches found." {
		t.Errorf("no-match output = %q", res.ForLLM)
	}

	res = tool.Execute(context.Background(), map[string]any{"pattern": "("})
	if !res.IsError {
		t.Error("invalid regex not rejected")
	}
}

func TestGlobTool(t *testing.T) {
	ws := newWS(t)
	os.MkdirAll(filepath.Join(ws.Root(), "pkg", "sub"), 0o755)
	os.WriteFile(filepath.Join(ws.Root(), "main.go"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(ws.Root(), "pkg", "sub", "deep.go"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(ws.Root(), "readme.md"), []byte("x"), 0o644)
	tool := NewGlobTool(ws)

	res := tool.Execute(context.Background(), map[string]any{"pattern": "**/*.go"})
	if res.IsError {
		t.Fatalf("glob failed: %+v", res)
	}
	if !strings.Contains(res.ForLLM, "main.go") || !strings.Contains(res.ForLLM, filepath.Join("pkg", "sub", "deep.go")) {
		t.Errorf("glob output = %q", res.ForLLM)
	}
	if strings.Contains(res.ForLLM, "readme.md") {
		t.Errorf("glob matched wrong extension: %q", res.ForLLM)
	}

	res = tool.Execute(context.Background(), map[string]any{"pattern": "*.md"})
	if !strings.Contains(res.ForLLM, "readme.md") || strings.Contains(res.ForLLM, "deep.go") {
		t.Errorf("single-level glob output = %q", res.ForLLM)
	}
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern, path string
		want          bool
	}{
		{"*.go", "main.go", true},
		{"*.go", "pkg/main.go", false},
		{"**/*.go", "pkg/sub/main.go", true},
		{"**/*.go", "main.go", true},
		{"pkg/*.go", "pkg/a.go", true},
		{"pkg/*.go", "other/a.go", false},
		{"pkg/**", "pkg/a/b/c.txt", true},
	}
	for _, tt := range tests {
		if got := matchGlob(tt.pattern, tt.path); got != tt.want {
			t.Errorf("matchGlob(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func TestDelegateTools_AreSignals(t *testing.T) {
	d := NewDelegateTool([]string{"coder", "tester"})
	if !strings.Contains(d.Description(), "coder, tester") {
		t.Errorf("description = %q", d.Description())
	}
	res := d.Execute(context.Background(), map[string]any{"target": "coder", "instruction": "do x"})
	if !strings.HasPrefix(res.ForLLM, "__DELEGATE_TO__:") {
		t.Errorf("sentinel = %q", res.ForLLM)
	}

	wildcard := NewDelegateTool(nil)
	if !strings.Contains(wildcard.Description(), "Any registered agent") {
		t.Errorf("wildcard description = %q", wildcard.Description())
	}

	p := NewDelegateParallelTool(nil)
	res = p.Execute(context.Background(), map[string]any{"tasks": "[]"})
	if !strings.HasPrefix(res.ForLLM, "__DELEGATE_PARALLEL__:") {
		t.Errorf("sentinel = %q", res.ForLLM)
	}
}

func TestSkillProxy_Sentinel(t *testing.T) {
	tool := NewSkillProxyTool("git-commit", "Create a commit")
	if tool.Name() != "skill_git-commit" {
		t.Errorf("name = %q", tool.Name())
	}
	res := tool.Execute(context.Background(), map[string]any{"args": "fix typo"})
	if res.ForLLM != UseSkillSentinel+"git-commit|fix typo" {
		t.Errorf("sentinel = %q", res.ForLLM)
	}
}

func TestHTMLToText(t *testing.T) {
	html := `<html><head><style>body{color:red}</style><script>alert(1)</script></head>
<body><h1>Title</h1><p>Hello &amp; welcome</p></body></html>`
	text := htmlToText(html)
	if strings.Contains(text, "alert") || strings.Contains(text, "color:red") {
		t.Errorf("script/style leaked: %q", text)
	}
	if !strings.Contains(text, "Title") || !strings.Contains(text, "Hello & welcome") {
		t.Errorf("content lost: %q", text)
	}
}
