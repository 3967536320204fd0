package tools

import (
	"log/slog"

	"github.com/fize-ai/soloqueue/internal/approval"
	"github.com/fize-ai/soloqueue/internal/memory"
	"github.com/fize-ai/soloqueue/internal/registry"
	"github.com/fize-ai/soloqueue/internal/skills"
	"github.com/fize-ai/soloqueue/internal/workspace"
)

// primitiveNames are always available to every agent.
var primitiveNames = map[string]bool{
	"bash": true, "read_file": true, "write_file": true,
	"grep": true, "glob": true, "web_fetch": true,
}

// Resolver composes the per-agent tool set: primitives, skill proxies
// for skills named in the agent's tool list, delegation tools for
// leaders, memory tools when a semantic store and agent id exist, and
// the artifact tools. Duplicate names resolve first-wins.
type Resolver struct {
	ws             *workspace.Workspace
	approval       approval.Backend
	skillLoader    *skills.Loader
	dedupThreshold float64
}

func NewResolver(ws *workspace.Workspace, backend approval.Backend, skillLoader *skills.Loader, dedupThreshold float64) *Resolver {
	return &Resolver{
		ws:             ws,
		approval:       backend,
		skillLoader:    skillLoader,
		dedupThreshold: dedupThreshold,
	}
}

// ResolveFor builds the tool set for one agent. mem may be nil (no
// memory tiers at all — e.g. isolated tests).
func (r *Resolver) ResolveFor(agent *registry.Agent, mem *memory.Manager) *Set {
	set := NewSet(
		NewBashTool(r.ws),
		NewReadFileTool(r.ws),
		NewWriteFileTool(r.ws, r.approval),
		NewGrepTool(r.ws),
		NewGlobTool(r.ws),
		NewWebFetchTool(),
	)

	// Skill proxies: names in the agent's tool list that are not
	// primitives are looked up on disk.
	for _, name := range agent.Tools {
		if primitiveNames[name] {
			continue
		}
		skill, err := r.skillLoader.Load(name)
		if err != nil {
			slog.Debug("tool name is neither primitive nor skill", "agent", agent.NodeID(), "tool", name)
			continue
		}
		if skill.DisableModelInvocation {
			continue
		}
		set.Add(NewSkillProxyTool(skill.Name, skill.Description))
	}

	// Delegation tools for leaders. Empty sub_agents means wildcard.
	if agent.IsLeader {
		set.Add(
			NewDelegateTool(agent.SubAgents),
			NewDelegateParallelTool(agent.SubAgents),
		)
	}

	if mem != nil {
		if sem := mem.Semantic(); sem != nil && agent.NodeID() != "" {
			if search, err := NewSearchMemoryTool(sem, agent.NodeID()); err == nil {
				set.Add(search)
			}
			if remember, err := NewRememberTool(sem, agent.NodeID(), r.dedupThreshold); err == nil {
				set.Add(remember)
			}
		}

		set.Add(
			NewSaveArtifactTool(mem),
			NewReadArtifactTool(mem),
			NewListArtifactsTool(mem),
			NewDeleteArtifactTool(mem),
		)
	}

	slog.Debug("resolved tools", "agent", agent.NodeID(), "count", set.Len())
	return set
}

// ResolveForSkill builds the restricted tool set of a synthesised skill
// agent: only the declared allowed tools survive (plus nothing else).
func (r *Resolver) ResolveForSkill(agent *registry.Agent, mem *memory.Manager, allowed []string) *Set {
	full := r.ResolveFor(agent, mem)
	if len(allowed) == 0 {
		return full
	}

	allowedSet := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = true
	}

	restricted := NewSet()
	for _, name := range full.Names() {
		if allowedSet[name] {
			restricted.Add(full.Get(name))
		}
	}
	return restricted
}
