package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fize-ai/soloqueue/internal/bus"
	"github.com/fize-ai/soloqueue/internal/providers"
	"github.com/fize-ai/soloqueue/internal/registry"
	"github.com/fize-ai/soloqueue/internal/tools"
	"github.com/fize-ai/soloqueue/pkg/protocol"
)

// subAgentMaxSteps bounds each parallel sub-agent's inner loop.
const subAgentMaxSteps = 20

// handleDelegateParallel fans a delegation out to several sub-agents at
// once. All targets are resolved and permission-checked up front — any
// failure aborts the fan-out with a tool message instead. Each target
// runs an isolated inner loop in its own goroutine; results aggregate
// into the parent in target-declaration order regardless of completion
// order, one retry per failing target.
func (o *Orchestrator) handleDelegateParallel(ctx context.Context, frame *TaskFrame, signal ControlSignal, recorder *TurnRecorder, callback StepCallback) {
	if len(signal.Parallel) == 0 {
		o.injectDelegationError(frame, signal, "delegate_parallel requires at least one task.")
		return
	}

	source := o.frameConfig(frame)
	targets := make([]*registry.Agent, len(signal.Parallel))
	for i, pt := range signal.Parallel {
		target := o.reg.Resolve(pt.Target, o.groupOf(frame))
		if target == nil {
			o.injectDelegationError(frame, signal, fmt.Sprintf("Agent '%s' not found.", pt.Target))
			return
		}
		if err := registry.CheckPermission(source, target); err != nil {
			o.injectDelegationError(frame, signal,
				fmt.Sprintf("Permission Denied: %s -> %s", frame.AgentName, target.NodeID()))
			return
		}
		targets[i] = target
	}

	nodeIDs := make([]string, len(targets))
	for i, t := range targets {
		nodeIDs[i] = t.NodeID()
		recorder.AddDelegation(t.NodeID())
	}

	o.emit(callback, bus.Event{Name: protocol.EventParallelStarted, Payload: protocol.ParallelPayload{
		AgentID: frame.AgentName, Targets: nodeIDs, Group: o.groupOf(frame),
	}})
	slog.Info("parallel delegation started", "from", frame.AgentName, "targets", nodeIDs)

	// All-to-finish: no early cancellation, failures never cancel
	// siblings.
	results := make([]string, len(targets))
	var wg sync.WaitGroup
	for i := range targets {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			target := targets[idx]
			instruction := signal.Parallel[idx].Instruction

			result, err := o.runSubAgent(ctx, target, instruction, recorder, callback)
			if err != nil {
				slog.Warn("parallel sub-agent failed, retrying",
					"agent", target.NodeID(), "error", err)
				result, err = o.runSubAgent(ctx, target, instruction, recorder, callback)
			}
			if err != nil {
				results[idx] = fmt.Sprintf("Error: Agent %s failed after retry: %v", target.NodeID(), err)
				return
			}
			results[idx] = "Result:\n" + result
		}(i)
	}
	wg.Wait()

	// Aggregation in declaration order: one labelled tool message per
	// target, all answering the delegate_parallel call.
	for i, result := range results {
		frame.Memory = append(frame.Memory, providers.Message{
			Role:       "tool",
			Content:    fmt.Sprintf("[%s] %s", nodeIDs[i], result),
			ToolCallID: signal.ToolCallID,
			Name:       tools.DelegateParallelToolName,
		})
	}

	o.emit(callback, bus.Event{Name: protocol.EventParallelCompleted, Payload: protocol.ParallelPayload{
		AgentID: frame.AgentName, Targets: nodeIDs, Group: o.groupOf(frame),
	}})
	slog.Info("parallel delegation completed", "from", frame.AgentName, "targets", len(targets))
}

// runSubAgent drives one isolated inner loop on its own frame and
// runner. The loop speaks the same control-signal protocol but rejects
// any further delegation or skill use.
func (o *Orchestrator) runSubAgent(ctx context.Context, cfg *registry.Agent, instruction string, recorder *TurnRecorder, callback StepCallback) (string, error) {
	frame := NewTaskFrame(cfg.NodeID(), instruction, "")
	mem := o.memoryManager(cfg.Group)
	toolSet := o.resolver.ResolveFor(cfg, mem)
	runner := NewAgentRunner(cfg, toolSet, o.reg, mem, o.providerFor(cfg.Model), recorder)

	o.emit(callback, bus.Event{Name: protocol.EventAgentStatus, Payload: protocol.AgentStatusPayload{
		AgentID: cfg.NodeID(), Status: protocol.StatusStarting, Group: cfg.Group,
	}})

	for step := 0; step < subAgentMaxSteps; step++ {
		signal := runner.Step(ctx, frame, callback)
		switch signal.Type {
		case SignalContinue:
			continue
		case SignalReturn:
			o.emit(callback, bus.Event{Name: protocol.EventAgentStatus, Payload: protocol.AgentStatusPayload{
				AgentID: cfg.NodeID(), Status: protocol.StatusCompleted, Group: cfg.Group,
			}})
			return signal.Result, nil
		case SignalError:
			return "", fmt.Errorf("%s", signal.ErrorMsg)
		case SignalDelegate, SignalDelegateParallel, SignalUseSkill:
			return "", fmt.Errorf("nested delegation is not allowed in parallel sub-agents")
		}
	}
	return "", fmt.Errorf("sub-agent exceeded %d steps", subAgentMaxSteps)
}
