package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fize-ai/soloqueue/internal/memory"
)

// Artifact tools bound to a group's memory façade.

type SaveArtifactTool struct{ mem *memory.Manager }

func NewSaveArtifactTool(mem *memory.Manager) *SaveArtifactTool {
	return &SaveArtifactTool{mem: mem}
}

func (t *SaveArtifactTool) Name() string { return "save_artifact" }
func (t *SaveArtifactTool) Description() string {
	return "Save content as a permanent artifact; returns the artifact ID"
}
func (t *SaveArtifactTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "The text/code content to save",
			},
			"title": map[string]any{
				"type":        "string",
				"description": "A short descriptive title",
			},
			"tags": map[string]any{
				"type":        "string",
				"description": `Comma-separated tags (e.g. "code,go,utils")`,
			},
			"artifact_type": map[string]any{
				"type":        "string",
				"description": "Type of artifact (text, report, code, ...)",
			},
		},
		"required": []string{"content", "title"},
	}
}

func (t *SaveArtifactTool) Execute(ctx context.Context, args map[string]any) *Result {
	content, _ := args["content"].(string)
	title, _ := args["title"].(string)
	if content == "" || title == "" {
		return ErrorResult("content and title are required")
	}
	tagsStr, _ := args["tags"].(string)
	artifactType, _ := args["artifact_type"].(string)
	if artifactType == "" {
		artifactType = "text"
	}

	var tags []string
	for _, tag := range strings.Split(tagsStr, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}

	author := AgentIDFromCtx(ctx)
	if author == "" {
		author = "agent"
	}

	id, err := t.mem.SaveArtifact(content, title, author, tags, artifactType)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to save artifact: %v", err))
	}
	return NewResult(fmt.Sprintf("Artifact saved successfully. ID: %d", id))
}

type ReadArtifactTool struct{ mem *memory.Manager }

func NewReadArtifactTool(mem *memory.Manager) *ReadArtifactTool {
	return &ReadArtifactTool{mem: mem}
}

func (t *ReadArtifactTool) Name() string        { return "read_artifact" }
func (t *ReadArtifactTool) Description() string { return "Read the content of an artifact by ID" }
func (t *ReadArtifactTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"artifact_id": map[string]any{
				"type":        "string",
				"description": "The artifact ID to read",
			},
		},
		"required": []string{"artifact_id"},
	}
}

func (t *ReadArtifactTool) Execute(ctx context.Context, args map[string]any) *Result {
	id, ok := parseArtifactID(args["artifact_id"])
	if !ok {
		return ErrorResult("artifact_id must be an integer")
	}

	art, err := t.mem.GetArtifact(id)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to read artifact: %v", err))
	}
	if art == nil {
		return ErrorResult(fmt.Sprintf("Error: Artifact %d not found.", id))
	}
	return NewResult(fmt.Sprintf("Title: %s\nType: %s\nContent:\n%s",
		art.Metadata.Title, art.Metadata.Mime, art.Content))
}

type ListArtifactsTool struct{ mem *memory.Manager }

func NewListArtifactsTool(mem *memory.Manager) *ListArtifactsTool {
	return &ListArtifactsTool{mem: mem}
}

func (t *ListArtifactsTool) Name() string { return "list_artifacts" }
func (t *ListArtifactsTool) Description() string {
	return "List artifacts available in this group, optionally filtered by tag"
}
func (t *ListArtifactsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tag": map[string]any{
				"type":        "string",
				"description": "Only list artifacts carrying this tag",
			},
		},
	}
}

func (t *ListArtifactsTool) Execute(ctx context.Context, args map[string]any) *Result {
	tag, _ := args["tag"].(string)
	artifacts, err := t.mem.ListArtifacts(tag)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to list artifacts: %v", err))
	}
	if len(artifacts) == 0 {
		return NewResult("No artifacts found.")
	}

	var sb strings.Builder
	sb.WriteString("Available Artifacts:\n")
	for _, a := range artifacts {
		fmt.Fprintf(&sb, "- [%d] %s (Type: %s, Tags: %s)\n",
			a.ID, a.Title, a.Mime, strings.Join(a.Tags, ", "))
	}
	return NewResult(strings.TrimRight(sb.String(), "\n"))
}

type DeleteArtifactTool struct{ mem *memory.Manager }

func NewDeleteArtifactTool(mem *memory.Manager) *DeleteArtifactTool {
	return &DeleteArtifactTool{mem: mem}
}

func (t *DeleteArtifactTool) Name() string { return "delete_artifact" }
func (t *DeleteArtifactTool) Description() string {
	return "Delete an artifact by ID (removes the index entry; blobs are garbage-collected later)"
}
func (t *DeleteArtifactTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"artifact_id": map[string]any{
				"type":        "string",
				"description": "The artifact ID to delete",
			},
		},
		"required": []string{"artifact_id"},
	}
}

func (t *DeleteArtifactTool) Execute(ctx context.Context, args map[string]any) *Result {
	id, ok := parseArtifactID(args["artifact_id"])
	if !ok {
		return ErrorResult("artifact_id must be an integer")
	}

	deleted, err := t.mem.DeleteArtifact(id)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to delete artifact: %v", err))
	}
	if !deleted {
		return ErrorResult(fmt.Sprintf("Error: Artifact %d not found or could not be deleted.", id))
	}
	return NewResult(fmt.Sprintf("Artifact %d deleted successfully.", id))
}

// parseArtifactID accepts both string and numeric JSON arguments.
func parseArtifactID(v any) (int64, bool) {
	switch val := v.(type) {
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		return id, err == nil
	case float64:
		return int64(val), true
	default:
		return 0, false
	}
}
