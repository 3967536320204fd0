package tools

import (
	"context"
	"fmt"
	"strings"
)

// Delegation tool names. These tools are signals: the agent runner
// intercepts calls to them and converts them into control signals for
// the orchestrator instead of executing the bodies below.
const (
	DelegateToolName         = "delegate_to"
	DelegateParallelToolName = "delegate_parallel"
)

// DelegateTool requests a serial delegation to one sub-agent.
type DelegateTool struct {
	allowedTargets []string // empty = wildcard (any agent)
}

func NewDelegateTool(allowedTargets []string) *DelegateTool {
	return &DelegateTool{allowedTargets: allowedTargets}
}

func (t *DelegateTool) Name() string { return DelegateToolName }

func (t *DelegateTool) Description() string {
	if len(t.allowedTargets) == 0 {
		return "Delegate a task to another agent. Any registered agent may be targeted."
	}
	return fmt.Sprintf("Delegate a task to one of: %s", strings.Join(t.allowedTargets, ", "))
}

func (t *DelegateTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"target": map[string]any{
				"type":        "string",
				"description": "The name of the agent to delegate to",
			},
			"instruction": map[string]any{
				"type":        "string",
				"description": "Detailed instruction of what the sub-agent needs to do",
			},
		},
		"required": []string{"target", "instruction"},
	}
}

// Execute only runs if the runner failed to intercept the call; the
// sentinel keeps the contract visible either way.
func (t *DelegateTool) Execute(ctx context.Context, args map[string]any) *Result {
	target, _ := args["target"].(string)
	instruction, _ := args["instruction"].(string)
	return NewResult(fmt.Sprintf("__DELEGATE_TO__: %s | %s", target, instruction))
}

// DelegateParallelTool requests concurrent delegation to several agents.
type DelegateParallelTool struct {
	allowedTargets []string
}

func NewDelegateParallelTool(allowedTargets []string) *DelegateParallelTool {
	return &DelegateParallelTool{allowedTargets: allowedTargets}
}

func (t *DelegateParallelTool) Name() string { return DelegateParallelToolName }

func (t *DelegateParallelTool) Description() string {
	targets := "any registered agent"
	if len(t.allowedTargets) > 0 {
		targets = strings.Join(t.allowedTargets, ", ")
	}
	return fmt.Sprintf(
		"Delegate tasks to MULTIPLE agents in parallel. Available agents: %s. "+
			"Use this when you need results from multiple agents simultaneously.", targets)
}

func (t *DelegateParallelTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tasks": map[string]any{
				"type": "string",
				"description": `JSON array of parallel delegation tasks. ` +
					`Format: [{"target": "agent_name", "instruction": "task description"}, ...]. ` +
					`All agents run concurrently and results are aggregated.`,
			},
		},
		"required": []string{"tasks"},
	}
}

func (t *DelegateParallelTool) Execute(ctx context.Context, args map[string]any) *Result {
	tasks, _ := args["tasks"].(string)
	return NewResult(fmt.Sprintf("__DELEGATE_PARALLEL__: %s", tasks))
}
