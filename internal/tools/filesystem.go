package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fize-ai/soloqueue/internal/approval"
	"github.com/fize-ai/soloqueue/internal/workspace"
	"github.com/fize-ai/soloqueue/pkg/protocol"
)

// ReadFileTool reads file contents from inside the workspace sandbox.
type ReadFileTool struct {
	ws *workspace.Workspace
}

func NewReadFileTool(ws *workspace.Workspace) *ReadFileTool {
	return &ReadFileTool{ws: ws}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file" }
func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file to read (relative to the workspace)",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}

	resolved, err := t.ws.Resolve(path)
	if err != nil {
		return ErrorResult(err.Error())
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to read file: %v", err))
	}
	return NewResult(string(data))
}

// WriteFileTool writes file contents inside the workspace sandbox.
// Every write is a write-action: the approval bridge must grant it, and
// a denial is reported to the model as a refusal, not an exception.
type WriteFileTool struct {
	ws       *workspace.Workspace
	approval approval.Backend
}

func NewWriteFileTool(ws *workspace.Workspace, backend approval.Backend) *WriteFileTool {
	return &WriteFileTool{ws: ws, approval: backend}
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write content to a file (requires user approval)"
}
func (t *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file to write (relative to the workspace)",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Content to write",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}

	resolved, err := t.ws.Resolve(path)
	if err != nil {
		return ErrorResult(err.Error())
	}

	operation := protocol.OpCreate
	if _, statErr := os.Stat(resolved); statErr == nil {
		operation = protocol.OpUpdate
	}

	if t.approval != nil {
		if !t.approval.RequestApproval(operation, path, AgentIDFromCtx(ctx)) {
			return ErrorResult(fmt.Sprintf("write to %s was not approved by the user", path))
		}
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("failed to create directory: %v", err))
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write file: %v", err))
	}
	return NewResult(fmt.Sprintf("Wrote %d bytes to %s", len(content), path))
}
