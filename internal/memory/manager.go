package memory

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fize-ai/soloqueue/internal/store"
)

// Manager bundles the tiered memory for one agent group: the shared
// artifact store, the group-scoped semantic store, and the session log.
// The semantic tier is optional — it stays nil without an embedder.
type Manager struct {
	Group string

	artifacts *store.ArtifactStore
	semantic  *SemanticStore
	log       *SessionLog
}

// NewManager wires a group's memory tiers. The artifact store and
// session log are shared across groups; each group gets its own
// semantic store under .soloqueue/semantic/<group>/.
func NewManager(workspaceRoot, group string, artifacts *store.ArtifactStore, log *SessionLog, embedder Embedder) *Manager {
	if group == "" {
		group = "default"
	}

	m := &Manager{Group: group, artifacts: artifacts, log: log}

	if embedder != nil {
		semanticPath := filepath.Join(workspaceRoot, ".soloqueue", "semantic", group)
		semantic, err := NewSemanticStore(semanticPath, embedder)
		if err != nil {
			slog.Warn("failed to initialize semantic store", "group", group, "error", err)
		} else {
			m.semantic = semantic
			slog.Info("semantic memory enabled", "group", group)
		}
	} else {
		slog.Info("semantic memory disabled (embedding not configured)", "group", group)
	}

	return m
}

// Semantic returns the group's semantic store, or nil when disabled.
func (m *Manager) Semantic() *SemanticStore { return m.semantic }

// Log returns the shared session log.
func (m *Manager) Log() *SessionLog { return m.log }

// Artifacts returns the shared artifact store.
func (m *Manager) Artifacts() *store.ArtifactStore { return m.artifacts }

// --- semantic tier ---

// SearchKnowledge searches the group's semantic memory.
func (m *Manager) SearchKnowledge(ctx context.Context, query string, topK int, filter map[string]string) ([]MemoryEntry, error) {
	if m.semantic == nil {
		slog.Warn("semantic memory not available", "group", m.Group)
		return nil, nil
	}
	return m.semantic.Search(ctx, query, topK, filter, "")
}

// AddKnowledge stores one knowledge entry.
func (m *Manager) AddKnowledge(ctx context.Context, content string, metadata map[string]string) (string, error) {
	if m.semantic == nil {
		return "", fmt.Errorf("semantic memory not available")
	}
	return m.semantic.AddEntry(ctx, content, metadata, "", "")
}

// --- artifact tier ---

// SaveArtifact stores content scoped to this group.
func (m *Manager) SaveArtifact(content, title, author string, tags []string, mime string) (int64, error) {
	return m.artifacts.Save(content, title, author, m.Group, tags, mime)
}

// GetArtifact fetches by id; nil when row or blob is missing.
func (m *Manager) GetArtifact(id int64) (*store.Artifact, error) {
	return m.artifacts.Get(id)
}

// ListArtifacts lists this group's artifacts, optionally tag-filtered.
func (m *Manager) ListArtifacts(tag string) ([]store.ArtifactRecord, error) {
	return m.artifacts.List(m.Group, tag)
}

// DeleteArtifact removes a metadata row.
func (m *Manager) DeleteArtifact(id int64) (bool, error) {
	return m.artifacts.Delete(id)
}
