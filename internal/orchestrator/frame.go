package orchestrator

import (
	"github.com/fize-ai/soloqueue/internal/providers"
	"github.com/fize-ai/soloqueue/internal/registry"
)

// TaskFrame is one stack element: the runtime context of a single agent
// invocation, analogous to a function call frame. Each frame owns its
// message history exclusively; on pop the frame is consumed and its
// memory discarded (cross-turn continuity comes from the session log).
type TaskFrame struct {
	// AgentName is the executing agent's node id (e.g. "dev__leader").
	AgentName string

	// Instruction is what the parent passed in (seeds Memory).
	Instruction string

	// Memory is the isolated message history visible only to this task.
	Memory []providers.Message

	// State carries task-level scratch values (artifact ids etc.).
	State map[string]any

	// ParentToolCallID links this frame to the delegation tool call on
	// the parent's last assistant message that it resolves.
	ParentToolCallID string

	// Result is set when the task completes.
	Result string

	// DynamicConfig holds the synthesised agent for ad-hoc frames
	// (skills) so they never pollute the global registry. Config lookup
	// prefers it over the registry.
	DynamicConfig *registry.Agent

	// DynamicAllowedTools restricts a skill frame's tool set.
	DynamicAllowedTools []string

	// loop tracks repeated no-progress tool calls across steps.
	loop toolLoopState
}

// NewTaskFrame seeds a frame with the instruction as its first user
// message (when non-empty).
func NewTaskFrame(agentName, instruction, parentToolCallID string) *TaskFrame {
	f := &TaskFrame{
		AgentName:        agentName,
		Instruction:      instruction,
		State:            make(map[string]any),
		ParentToolCallID: parentToolCallID,
	}
	if instruction != "" {
		f.Memory = append(f.Memory, providers.Message{Role: "user", Content: instruction})
	}
	return f
}
