package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrPermissionDenied marks a delegation the permission rules reject.
var ErrPermissionDenied = errors.New("permission denied")

// Agent is one named agent definition.
type Agent struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Model       string   `yaml:"model,omitempty"`
	Reasoning   bool     `yaml:"reasoning,omitempty"`
	Group       string   `yaml:"group,omitempty"`
	IsLeader    bool     `yaml:"is_leader,omitempty"`
	Tools       []string `yaml:"tools,omitempty"`
	Skills      []string `yaml:"skills,omitempty"` // alias for Tools, merged on load
	SubAgents   []string `yaml:"sub_agents,omitempty"`
	Color       string   `yaml:"color,omitempty"`

	// SystemPrompt is the AGENT.md body; not part of the frontmatter.
	SystemPrompt string `yaml:"-"`
}

// NodeID returns the agent's graph identifier: `group__name` when the
// agent belongs to a group, else the bare name.
func (a *Agent) NodeID() string {
	if a.Group != "" {
		return a.Group + "__" + a.Name
	}
	return a.Name
}

// Group is a cohort of agents with an optional shared-context block.
type Group struct {
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	SharedContext string `yaml:"shared_context,omitempty"`
}

// Registry holds agent and group definitions keyed by node id.
type Registry struct {
	mu           sync.RWMutex
	groups       map[string]*Group
	agentsByNode map[string]*Agent
}

func New() *Registry {
	return &Registry{
		groups:       make(map[string]*Group),
		agentsByNode: make(map[string]*Agent),
	}
}

// AddGroup registers a group definition.
func (r *Registry) AddGroup(g *Group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[g.Name] = g
}

// AddAgent registers an agent, merging the Skills alias into Tools and
// enforcing at most one leader per group: extra leaders are downgraded
// with a warning.
func (r *Registry) AddAgent(a *Agent) {
	// Merge skills alias without duplicates.
	existing := make(map[string]bool, len(a.Tools))
	for _, t := range a.Tools {
		existing[t] = true
	}
	for _, s := range a.Skills {
		if !existing[s] {
			a.Tools = append(a.Tools, s)
			existing[s] = true
		}
	}

	assignColor(a)

	r.mu.Lock()
	defer r.mu.Unlock()

	if a.IsLeader && a.Group != "" {
		for _, other := range r.agentsByNode {
			if other.Group == a.Group && other.IsLeader {
				slog.Warn("group already has a leader, downgrading",
					"group", a.Group, "agent", a.Name, "leader", other.Name)
				a.IsLeader = false
				break
			}
		}
	}

	r.agentsByNode[a.NodeID()] = a
}

// GetGroup returns a group definition or nil.
func (r *Registry) GetGroup(name string) *Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.groups[name]
}

// GetByNodeID returns an agent by exact node id, or nil.
func (r *Registry) GetByNodeID(nodeID string) *Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agentsByNode[nodeID]
}

// Resolve maps a target name to an agent: exact node id first, then
// `{callerGroup}__{name}`, then a scan for a simple-name match. The
// simple-name fallback is order-dependent when two groups share a name;
// callers wanting determinism use fully-qualified ids.
func (r *Registry) Resolve(name, callerGroup string) *Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if a, ok := r.agentsByNode[name]; ok {
		return a
	}
	if callerGroup != "" {
		if a, ok := r.agentsByNode[callerGroup+"__"+name]; ok {
			return a
		}
	}
	for _, a := range r.agentsByNode {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// Agents returns all registered agents.
func (r *Registry) Agents() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.agentsByNode))
	for _, a := range r.agentsByNode {
		out = append(out, a)
	}
	return out
}

// CheckPermission enforces the delegation rules: intra-group always
// allowed; cross-group only between two leaders.
func CheckPermission(source, target *Agent) error {
	if source == nil || target == nil {
		return fmt.Errorf("%w: unknown agent", ErrPermissionDenied)
	}
	if source.Group == target.Group {
		return nil
	}
	if source.IsLeader && target.IsLeader {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s (cross-group delegation requires both to be leaders)",
		ErrPermissionDenied, source.NodeID(), target.NodeID())
}
