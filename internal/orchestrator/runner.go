package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fize-ai/soloqueue/internal/bus"
	"github.com/fize-ai/soloqueue/internal/memory"
	"github.com/fize-ai/soloqueue/internal/providers"
	"github.com/fize-ai/soloqueue/internal/registry"
	"github.com/fize-ai/soloqueue/internal/store"
	"github.com/fize-ai/soloqueue/internal/tokens"
	"github.com/fize-ai/soloqueue/internal/tools"
	"github.com/fize-ai/soloqueue/pkg/protocol"
)

const (
	// maxReasoningChars aborts a runaway thinking stream.
	maxReasoningChars = 50000
	// offloadThreshold moves oversized tool output into an ephemeral
	// artifact, leaving a preview reference in context.
	offloadThreshold = 2000
	// sharedContextWarnLen flags group context that eats the budget.
	sharedContextWarnLen = 1000

	offloadHeadChars = 500
	offloadTailChars = 200
)

var tracer = otel.Tracer("soloqueue/orchestrator")

// StepCallback receives UI events produced during one step.
type StepCallback func(bus.Event)

// AgentRunner executes one step of one agent: build context, stream the
// model call, interpret tool calls, emit a control signal.
type AgentRunner struct {
	cfg      *registry.Agent
	tools    *tools.Set
	reg      *registry.Registry
	mem      *memory.Manager
	provider providers.Provider
	builder  *tokens.ContextBuilder
	counter  tokens.MessageCounter
	recorder *TurnRecorder
}

func NewAgentRunner(cfg *registry.Agent, toolSet *tools.Set, reg *registry.Registry, mem *memory.Manager, provider providers.Provider, recorder *TurnRecorder) *AgentRunner {
	counter := tokens.NewMessageCounter(cfg.Model)
	return &AgentRunner{
		cfg:      cfg,
		tools:    toolSet,
		reg:      reg,
		mem:      mem,
		provider: provider,
		builder:  tokens.NewContextBuilder(counter),
		counter:  counter,
		recorder: recorder,
	}
}

// Step advances the frame by one model call and returns the resulting
// control signal.
func (r *AgentRunner) Step(ctx context.Context, frame *TaskFrame, callback StepCallback) ControlSignal {
	ctx, span := tracer.Start(ctx, "agent.step")
	defer span.End()
	ctx = tools.WithAgentID(ctx, r.cfg.NodeID())

	systemPrompt := r.assembleSystemPrompt()
	messages := r.builder.Build(systemPrompt, frame.Memory, r.counter.ModelLimit(r.cfg.Model))

	slog.Debug("agent step", "agent", r.cfg.NodeID(), "memory_len", len(frame.Memory))

	resp, errSignal := r.streamModel(ctx, messages, callback)
	if errSignal != nil {
		return *errSignal
	}

	assistantMsg := providers.Message{
		Role:      "assistant",
		Content:   resp.Content,
		Reasoning: resp.Reasoning,
		ToolCalls: resp.ToolCalls,
	}
	frame.Memory = append(frame.Memory, assistantMsg)
	if r.recorder != nil {
		r.recorder.AddUsage(resp.Usage)
	}

	if len(resp.ToolCalls) == 0 {
		return ControlSignal{Type: SignalReturn, Result: resp.Content}
	}

	// Delegation wins over everything else on the same message: the
	// assistant message is serialized down to that single call so the
	// eventual tool-result matches exactly one outstanding call.
	if call := findCall(resp.ToolCalls, tools.DelegateToolName); call != nil {
		if len(resp.ToolCalls) > 1 {
			slog.Warn("multiple tool calls with delegation, serializing",
				"agent", r.cfg.NodeID(), "calls", len(resp.ToolCalls))
			serialized := assistantMsg
			serialized.ToolCalls = []providers.ToolCall{*call}
			frame.Memory[len(frame.Memory)-1] = serialized
		}
		target, _ := call.Arguments["target"].(string)
		instruction, _ := call.Arguments["instruction"].(string)
		return ControlSignal{
			Type:        SignalDelegate,
			Target:      target,
			Instruction: instruction,
			ToolCallID:  call.ID,
		}
	}

	if call := findCall(resp.ToolCalls, tools.DelegateParallelToolName); call != nil {
		tasksJSON, _ := call.Arguments["tasks"].(string)
		var targets []ParallelTarget
		if err := json.Unmarshal([]byte(tasksJSON), &targets); err != nil {
			frame.Memory = append(frame.Memory, providers.Message{
				Role:       "tool",
				Content:    fmt.Sprintf("Error: invalid tasks JSON: %v", err),
				ToolCallID: call.ID,
				Name:       tools.DelegateParallelToolName,
			})
			return ControlSignal{Type: SignalContinue}
		}
		for i := range targets {
			targets[i].ToolCallID = call.ID
		}
		return ControlSignal{Type: SignalDelegateParallel, ToolCallID: call.ID, Parallel: targets}
	}

	return r.executeTools(ctx, frame, resp.ToolCalls, callback)
}

// assembleSystemPrompt concatenates the agent prompt with the
// auto-injected sub-agent list and the group's shared context.
func (r *AgentRunner) assembleSystemPrompt() string {
	prompt := r.cfg.SystemPrompt

	if len(r.cfg.SubAgents) > 0 && r.reg != nil {
		var lines []string
		for _, name := range r.cfg.SubAgents {
			if sub := r.reg.Resolve(name, r.cfg.Group); sub != nil {
				lines = append(lines, fmt.Sprintf("- %s: %s", name, sub.Description))
			} else {
				lines = append(lines, fmt.Sprintf("- %s: (description not found)", name))
			}
		}
		prompt += "\n\n## Available Sub-Agents\nYou have access to the following sub-agents. " +
			"You can delegate tasks to them using the `delegate_to` tool.\n" + strings.Join(lines, "\n")
	}

	if r.cfg.Group != "" && r.reg != nil {
		if group := r.reg.GetGroup(r.cfg.Group); group != nil && group.SharedContext != "" {
			if len(group.SharedContext) > sharedContextWarnLen {
				slog.Warn("group shared_context is long, context efficiency impacted",
					"group", r.cfg.Group, "chars", len(group.SharedContext))
			}
			prompt += fmt.Sprintf("\n\n## Group Shared Context (%s)\n%s", r.cfg.Group, group.SharedContext)
		}
	}
	return prompt
}

// streamModel runs the streaming model call. Reasoning and content
// accumulate separately; each chunk is forwarded as a stream event. A
// reasoning stream past the cap aborts with an error signal.
func (r *AgentRunner) streamModel(ctx context.Context, messages []providers.Message, callback StepCallback) (*providers.ChatResponse, *ControlSignal) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	reasoningLen := 0
	overflow := false

	req := providers.ChatRequest{
		Messages: messages,
		Tools:    r.tools.Defs(),
		Model:    r.cfg.Model,
		Options: map[string]any{
			providers.OptMaxTokens:   8192,
			providers.OptTemperature: 0.7,
		},
	}

	resp, err := r.provider.ChatStream(streamCtx, req, func(chunk providers.StreamChunk) {
		if chunk.Reasoning != "" {
			reasoningLen += len(chunk.Reasoning)
			if reasoningLen > maxReasoningChars && !overflow {
				overflow = true
				cancel()
			}
			r.emitStream(callback, protocol.StreamThinking, chunk.Reasoning)
		}
		if chunk.Content != "" {
			r.emitStream(callback, protocol.StreamAnswer, chunk.Content)
		}
	})

	if overflow {
		msg := fmt.Sprintf("Reasoning limit (%d chars) exceeded. Terminating to prevent loop.", maxReasoningChars)
		slog.Error("reasoning overflow", "agent", r.cfg.NodeID())
		return nil, &ControlSignal{Type: SignalError, ErrorMsg: msg}
	}
	if err != nil {
		slog.Error("model streaming failed", "agent", r.cfg.NodeID(), "error", err)
		return nil, &ControlSignal{Type: SignalError, ErrorMsg: err.Error()}
	}
	if resp == nil {
		resp = &providers.ChatResponse{}
	}
	return resp, nil
}

// executeTools runs every tool call in declared order, offloading
// oversized outputs, then decides between use_skill and continue.
func (r *AgentRunner) executeTools(ctx context.Context, frame *TaskFrame, calls []providers.ToolCall, callback StepCallback) ControlSignal {
	var skillSignal *ControlSignal

	for _, call := range calls {
		r.emit(callback, bus.Event{Name: protocol.EventToolCall, Payload: protocol.ToolCallPayload{
			ToolName: call.Name, ToolArgs: call.Arguments, AgentID: r.cfg.NodeID(),
		}})

		output, isErr := r.runTool(ctx, call)

		if strings.HasPrefix(output, tools.UseSkillSentinel) {
			if sig, err := parseSkillSentinel(output, call.ID); err == nil {
				skillSignal = sig
				continue // the sentinel never enters the history
			} else {
				slog.Error("failed to parse skill signal", "output", output, "error", err)
			}
		}

		if r.recorder != nil {
			r.recorder.AddToolCall(memory.ToolCallRecord{
				Agent:     r.cfg.NodeID(),
				ToolName:  call.Name,
				ToolArgs:  call.Arguments,
				Result:    truncateForRecord(output),
				Timestamp: time.Now().Format(time.RFC3339),
			})
		}

		if len(output) > offloadThreshold && r.mem != nil {
			output = r.offloadLargeOutput(output, call.Name)
		}
		if isErr {
			slog.Warn("tool error", "agent", r.cfg.NodeID(), "tool", call.Name, "error", truncateForRecord(output))
		}

		frame.Memory = append(frame.Memory, providers.Message{
			Role:       "tool",
			Content:    output,
			ToolCallID: call.ID,
			Name:       call.Name,
		})

		r.emit(callback, bus.Event{Name: protocol.EventToolResult, Payload: protocol.ToolResultPayload{
			Content: truncateForRecord(output), AgentID: r.cfg.NodeID(),
		}})

		switch level, msg := frame.loop.observe(call.Name, call.Arguments, output); level {
		case "critical":
			slog.Warn("tool loop critical", "agent", r.cfg.NodeID(), "tool", call.Name)
			return ControlSignal{
				Type: SignalReturn,
				Result: "I was unable to complete this task — I got stuck repeatedly calling " +
					call.Name + " without making progress. Please try rephrasing your request.",
			}
		case "warning":
			slog.Warn("tool loop warning", "agent", r.cfg.NodeID(), "tool", call.Name)
			frame.Memory = append(frame.Memory, providers.Message{Role: "user", Content: msg})
		}
	}

	if skillSignal != nil {
		return *skillSignal
	}
	return ControlSignal{Type: SignalContinue}
}

func (r *AgentRunner) runTool(ctx context.Context, call providers.ToolCall) (string, bool) {
	ctx, span := tracer.Start(ctx, "tool."+call.Name)
	defer span.End()

	tool := r.tools.Get(call.Name)
	if tool == nil {
		return fmt.Sprintf("Error: Tool '%s' not found.", call.Name), true
	}
	result := tool.Execute(ctx, call.Arguments)
	if result == nil {
		return "Tool execution failed: empty result", true
	}
	return result.ForLLM, result.IsError
}

// offloadLargeOutput saves raw output as an ephemeral artifact and
// returns a reference string with a head/tail preview.
func (r *AgentRunner) offloadLargeOutput(content, toolName string) string {
	summary := content
	if len(content) > offloadHeadChars+offloadTailChars {
		summary = fmt.Sprintf("%s\n[... truncated %d chars ...]\n%s",
			content[:offloadHeadChars],
			len(content)-offloadHeadChars-offloadTailChars,
			content[len(content)-offloadTailChars:])
	}

	artID, err := r.mem.SaveArtifact(
		content,
		fmt.Sprintf("Tool Output Offload: %s", toolName),
		r.cfg.NodeID(),
		[]string{store.TagEphemeral, "tool:" + toolName},
		"text",
	)
	if err != nil {
		slog.Warn("failed to offload tool output", "tool", toolName, "error", err)
		return content
	}

	slog.Info("offloaded large tool output", "tool", toolName, "artifact", artID)
	return fmt.Sprintf(
		"[Output too large (%.1fKB). Saved as Artifact: %d. Preview:\n---\n%s\n---\nUse read_artifact('%d') to see full content.]",
		float64(len(content))/1024, artID, summary, artID)
}

func (r *AgentRunner) emitStream(callback StepCallback, streamType, content string) {
	r.emit(callback, bus.Event{Name: protocol.EventStream, Payload: protocol.StreamPayload{
		AgentID:    r.cfg.NodeID(),
		StreamType: streamType,
		Content:    content,
		AgentColor: r.cfg.Color,
	}})
}

func (r *AgentRunner) emit(callback StepCallback, event bus.Event) {
	if callback != nil {
		callback(event)
	}
}

func findCall(calls []providers.ToolCall, name string) *providers.ToolCall {
	for i := range calls {
		if calls[i].Name == name {
			return &calls[i]
		}
	}
	return nil
}

// parseSkillSentinel decodes "__USE_SKILL__:name|args".
func parseSkillSentinel(output, toolCallID string) (*ControlSignal, error) {
	payload := strings.TrimPrefix(output, tools.UseSkillSentinel)
	name, args, found := strings.Cut(payload, "|")
	if !found || strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("malformed skill sentinel: %q", output)
	}
	return &ControlSignal{
		Type:       SignalUseSkill,
		SkillName:  strings.TrimSpace(name),
		SkillArgs:  strings.TrimSpace(args),
		ToolCallID: toolCallID,
	}, nil
}

func truncateForRecord(s string) string {
	const max = 500
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
