package orchestrator

import (
	"sync"

	"github.com/fize-ai/soloqueue/internal/memory"
	"github.com/fize-ai/soloqueue/internal/providers"
)

// TurnRecorder accumulates everything one user turn produces — tool
// calls, skill calls, the delegation chain, token usage — for the
// ConversationTurn persisted at the end. Parallel sub-agents record
// concurrently, hence the lock.
type TurnRecorder struct {
	mu              sync.Mutex
	toolCalls       []memory.ToolCallRecord
	skillCalls      []memory.SkillCallRecord
	delegationChain []string
	seen            map[string]bool
	usage           providers.Usage
}

func NewTurnRecorder() *TurnRecorder {
	return &TurnRecorder{seen: make(map[string]bool)}
}

func (r *TurnRecorder) AddToolCall(rec memory.ToolCallRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolCalls = append(r.toolCalls, rec)
}

func (r *TurnRecorder) AddSkillCall(rec memory.SkillCallRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skillCalls = append(r.skillCalls, rec)
}

// AddDelegation appends a node id to the chain, keeping only the first
// appearance of each agent.
func (r *TurnRecorder) AddDelegation(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[nodeID] {
		return
	}
	r.seen[nodeID] = true
	r.delegationChain = append(r.delegationChain, nodeID)
}

func (r *TurnRecorder) AddUsage(u *providers.Usage) {
	if u == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage.Add(u)
}

func (r *TurnRecorder) ToolCalls() []memory.ToolCallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]memory.ToolCallRecord(nil), r.toolCalls...)
}

func (r *TurnRecorder) SkillCalls() []memory.SkillCallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]memory.SkillCallRecord(nil), r.skillCalls...)
}

func (r *TurnRecorder) DelegationChain() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.delegationChain...)
}

func (r *TurnRecorder) Usage() providers.Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage
}
