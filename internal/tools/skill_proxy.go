package tools

import (
	"context"
	"fmt"
)

// UseSkillSentinel prefixes a tool result that signals a skill
// invocation. The runner scans tool outputs for it and converts the
// match into a use_skill control signal.
const UseSkillSentinel = "__USE_SKILL__:"

// SkillProxyTool exposes one disk-defined skill as a callable tool.
// Invoking it does not run the skill — it emits the sentinel that makes
// the orchestrator hydrate the skill into a one-shot agent.
type SkillProxyTool struct {
	skillName   string
	description string
}

func NewSkillProxyTool(name, description string) *SkillProxyTool {
	if description == "" {
		description = "Invoke the " + name + " skill"
	}
	return &SkillProxyTool{skillName: name, description: description}
}

func (t *SkillProxyTool) Name() string        { return "skill_" + t.skillName }
func (t *SkillProxyTool) Description() string { return t.description }

func (t *SkillProxyTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"args": map[string]any{
				"type":        "string",
				"description": "Argument string passed to the skill template",
			},
		},
	}
}

func (t *SkillProxyTool) Execute(ctx context.Context, args map[string]any) *Result {
	argStr, _ := args["args"].(string)
	return NewResult(fmt.Sprintf("%s%s|%s", UseSkillSentinel, t.skillName, argStr))
}
