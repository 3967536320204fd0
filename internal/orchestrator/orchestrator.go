package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fize-ai/soloqueue/internal/bus"
	"github.com/fize-ai/soloqueue/internal/memory"
	"github.com/fize-ai/soloqueue/internal/providers"
	"github.com/fize-ai/soloqueue/internal/registry"
	"github.com/fize-ai/soloqueue/internal/skills"
	"github.com/fize-ai/soloqueue/internal/store"
	"github.com/fize-ai/soloqueue/internal/tools"
	"github.com/fize-ai/soloqueue/pkg/protocol"
)

const (
	// maxIterations bounds the main event loop; it is the only depth
	// limit the explicit frame stack needs.
	maxIterations = 100
	// historyTurns is how many past turns seed the root frame.
	historyTurns = 20
)

// ProviderFactory yields a model adapter for a model name (empty =
// default model).
type ProviderFactory func(model string) providers.Provider

// Orchestrator drives the TaskFrame stack: it steps the top frame,
// interprets the resulting control signal, runs parallel delegates,
// and persists each completed turn.
type Orchestrator struct {
	reg         *registry.Registry
	root        string // workspace root
	providerFor ProviderFactory
	events      bus.EventPublisher
	resolver    *tools.Resolver
	skillLoader *skills.Loader
	skillProc   *skills.Preprocessor
	artifacts   *store.ArtifactStore
	sessionLog  *memory.SessionLog
	sessions    *memory.SessionManager
	embedder    memory.Embedder

	mu       sync.Mutex
	managers map[string]*memory.Manager
}

// Options carries the orchestrator's collaborators.
type Options struct {
	Registry      *registry.Registry
	WorkspaceRoot string
	ProviderFor   ProviderFactory
	Events        bus.EventPublisher
	Resolver      *tools.Resolver
	SkillLoader   *skills.Loader
	Artifacts     *store.ArtifactStore
	SessionLog    *memory.SessionLog
	Embedder      memory.Embedder
}

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		reg:         opts.Registry,
		root:        opts.WorkspaceRoot,
		providerFor: opts.ProviderFor,
		events:      opts.Events,
		resolver:    opts.Resolver,
		skillLoader: opts.SkillLoader,
		skillProc:   skills.NewPreprocessor(),
		artifacts:   opts.Artifacts,
		sessionLog:  opts.SessionLog,
		embedder:    opts.Embedder,
		managers:    make(map[string]*memory.Manager),
	}
	if o.sessionLog != nil {
		o.sessions = memory.NewSessionManager(o.sessionLog)
	}
	return o
}

// memoryManager returns (creating on first use) a group's memory façade.
func (o *Orchestrator) memoryManager(group string) *memory.Manager {
	if group == "" {
		group = "default"
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if m, ok := o.managers[group]; ok {
		return m
	}
	m := memory.NewManager(o.root, group, o.artifacts, o.sessionLog, o.embedder)
	o.managers[group] = m
	return m
}

// Run drives one user turn through the stack until the root frame
// returns, the iteration cap trips, or an internal failure surfaces.
func (o *Orchestrator) Run(ctx context.Context, entryAgent, userMessage string, callback StepCallback, sessionID, userID string) (result string) {
	start := time.Now()

	entryCfg := o.reg.Resolve(entryAgent, "")
	entryNode := entryAgent
	entryGroup := "default"
	if entryCfg != nil {
		entryNode = entryCfg.NodeID()
		if entryCfg.Group != "" {
			entryGroup = entryCfg.Group
		}
	}

	// The /new command short-circuits: roll the session, archive the
	// one it replaces, and return without a model call.
	if userMessage == "/new" && userID != "" && o.sessions != nil {
		info := o.sessions.ForceNewSession(userID)
		o.archivePrevious(ctx, userID, entryGroup)
		msg := fmt.Sprintf("Started new session: %s", info.SessionID)
		o.emit(callback, bus.Event{Name: protocol.EventSessionNew, Payload: protocol.SessionNewPayload{
			SessionID: info.SessionID, Message: msg,
		}})
		return msg
	}

	if sessionID == "" && userID != "" && o.sessions != nil {
		info := o.sessions.ResolveSession(userID, "")
		sessionID = info.SessionID
		if info.IsNew {
			// Cross-day rollover: yesterday's session gets archived.
			o.archivePrevious(ctx, userID, entryGroup)
		}
	}
	slog.Info("orchestrator started", "session", sessionID, "agent", entryNode, "group", entryGroup)

	recorder := NewTurnRecorder()
	recorder.AddDelegation(entryNode)

	rootFrame := NewTaskFrame(entryNode, "", "")
	if sessionID != "" && o.sessionLog != nil {
		rootFrame.Memory = o.sessionLog.GetHistory(sessionID, historyTurns)
	}
	rootFrame.Memory = append(rootFrame.Memory, providers.Message{Role: "user", Content: userMessage})

	persist := func(status, content, thinking string) {
		o.persistTurn(sessionID, userID, entryNode, entryGroup, userMessage, content, thinking, status, recorder, start)
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("orchestrator crashed", "panic", rec)
			persist(memory.TurnError, "", "")
			result = fmt.Sprintf("System Error: %v", rec)
		}
	}()

	stack := []*TaskFrame{rootFrame}
	for iteration := 0; iteration < maxIterations && len(stack) > 0; iteration++ {
		frame := stack[len(stack)-1]
		slog.Debug("orchestrator loop", "iteration", iteration+1, "agent", frame.AgentName, "depth", len(stack))

		signal := o.executeFrame(ctx, frame, recorder, callback)

		switch signal.Type {
		case SignalContinue:
			continue

		case SignalDelegate:
			o.handleDelegate(frame, &stack, signal, recorder, callback)

		case SignalDelegateParallel:
			o.handleDelegateParallel(ctx, frame, signal, recorder, callback)

		case SignalUseSkill:
			o.handleSkill(ctx, frame, &stack, signal, recorder)

		case SignalReturn:
			completed := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			completed.Result = signal.Result
			slog.Info("frame returned", "agent", completed.AgentName)

			o.emit(callback, bus.Event{Name: protocol.EventAgentStatus, Payload: protocol.AgentStatusPayload{
				AgentID: completed.AgentName,
				Status:  protocol.StatusCompleted,
				Message: fmt.Sprintf("Agent %s completed", completed.AgentName),
				Group:   o.groupOf(completed),
			}})

			if len(stack) == 0 {
				persist(memory.TurnCompleted, signal.Result, lastReasoning(rootFrame))
				return signal.Result
			}
			o.returnToParent(stack[len(stack)-1], completed, signal.Result, recorder, callback)

		case SignalError:
			slog.Error("frame error", "agent", frame.AgentName, "error", signal.ErrorMsg)
			o.emit(callback, bus.Event{Name: protocol.EventAgentStatus, Payload: protocol.AgentStatusPayload{
				AgentID: frame.AgentName,
				Status:  protocol.StatusError,
				Message: signal.ErrorMsg,
				Group:   o.groupOf(frame),
			}})
			frame.Memory = append(frame.Memory, providers.Message{
				Role:    "user",
				Content: "Error: " + signal.ErrorMsg,
			})
		}
	}

	if len(stack) > 0 {
		slog.Warn("max iterations reached", "limit", maxIterations)
		persist(memory.TurnTimeout, "", "")
		return "Error: Max iterations reached"
	}
	persist(memory.TurnCompleted, "", "")
	return "No result"
}

// executeFrame resolves the frame's agent (dynamic config wins over the
// registry), builds its runner and steps it once.
func (o *Orchestrator) executeFrame(ctx context.Context, frame *TaskFrame, recorder *TurnRecorder, callback StepCallback) ControlSignal {
	cfg := frame.DynamicConfig
	if cfg == nil {
		cfg = o.reg.GetByNodeID(frame.AgentName)
	}
	if cfg == nil {
		return ControlSignal{Type: SignalError, ErrorMsg: fmt.Sprintf("Agent '%s' not found", frame.AgentName)}
	}

	mem := o.memoryManager(cfg.Group)

	var toolSet *tools.Set
	if frame.DynamicConfig != nil {
		toolSet = o.resolver.ResolveForSkill(cfg, mem, frame.DynamicAllowedTools)
	} else {
		toolSet = o.resolver.ResolveFor(cfg, mem)
	}

	runner := NewAgentRunner(cfg, toolSet, o.reg, mem, o.providerFor(cfg.Model), recorder)
	return runner.Step(ctx, frame, callback)
}

// handleDelegate resolves and permission-checks a serial delegation.
// Failures become tool messages the model can react to; success pushes
// a child frame.
func (o *Orchestrator) handleDelegate(frame *TaskFrame, stack *[]*TaskFrame, signal ControlSignal, recorder *TurnRecorder, callback StepCallback) {
	source := o.frameConfig(frame)
	target := o.reg.Resolve(signal.Target, o.groupOf(frame))
	if target == nil {
		o.injectDelegationError(frame, signal, fmt.Sprintf("Agent '%s' not found.", signal.Target))
		return
	}
	if err := registry.CheckPermission(source, target); err != nil {
		reason := fmt.Sprintf("Permission Denied: %s -> %s", frame.AgentName, target.NodeID())
		o.injectDelegationError(frame, signal, reason)
		return
	}

	o.emit(callback, bus.Event{Name: protocol.EventDelegation, Payload: protocol.DelegationPayload{
		FromAgent: frame.AgentName, ToAgent: target.NodeID(), Task: signal.Instruction,
	}})
	o.emit(callback, bus.Event{Name: protocol.EventAgentStatus, Payload: protocol.AgentStatusPayload{
		AgentID: target.NodeID(), Status: protocol.StatusStarting, Group: target.Group,
	}})

	child := NewTaskFrame(target.NodeID(), signal.Instruction, signal.ToolCallID)
	*stack = append(*stack, child)
	recorder.AddDelegation(target.NodeID())
	slog.Info("delegated", "from", frame.AgentName, "to", target.NodeID())
}

// returnToParent hands a popped frame's result up the stack: as the
// tool message answering the delegation call when one exists, else as a
// plain user message.
func (o *Orchestrator) returnToParent(parent, completed *TaskFrame, result string, recorder *TurnRecorder, callback StepCallback) {
	if completed.ParentToolCallID == "" {
		parent.Memory = append(parent.Memory, providers.Message{
			Role:    "user",
			Content: "Result:\n" + result,
		})
		return
	}

	actionType := protocol.ActionDelegate
	toolName := tools.DelegateToolName
	if isSkillFrame(completed) {
		actionType = protocol.ActionSkill
		toolName = "skill"
		recorder.AddSkillCall(memory.SkillCallRecord{
			SkillName: skillNameOf(completed),
			SkillArgs: completed.Instruction,
			Agent:     parent.AgentName,
			Result:    truncateForRecord(result),
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}

	o.emit(callback, bus.Event{Name: protocol.EventActionReturn, Payload: protocol.ActionReturnPayload{
		ActionType:       actionType,
		FromActor:        completed.AgentName,
		ToActor:          parent.AgentName,
		ParentToolCallID: completed.ParentToolCallID,
		Content:          result,
	}})

	parent.Memory = append(parent.Memory, providers.Message{
		Role:       "tool",
		Content:    "Result:\n" + result,
		ToolCallID: completed.ParentToolCallID,
		Name:       toolName,
	})
}

// handleSkill hydrates a skill template into a one-shot agent frame.
func (o *Orchestrator) handleSkill(ctx context.Context, frame *TaskFrame, stack *[]*TaskFrame, signal ControlSignal, recorder *TurnRecorder) {
	skill, err := o.skillLoader.Load(signal.SkillName)
	if err != nil {
		frame.Memory = append(frame.Memory, providers.Message{
			Role:    "user",
			Content: fmt.Sprintf("Skill Error: %v", err),
		})
		return
	}

	hydrated := o.skillProc.Process(ctx, skill.Content, signal.SkillArgs, skill.Dir)

	current := o.frameConfig(frame)
	dynamic := &registry.Agent{
		Name:         "skill__" + signal.SkillName,
		Description:  skill.Description,
		Tools:        skill.AllowedTools,
		SystemPrompt: hydrated,
	}
	if current != nil {
		dynamic.Model = current.Model
		dynamic.Group = current.Group
	}

	child := NewTaskFrame(dynamic.NodeID(), signal.SkillArgs, signal.ToolCallID)
	child.DynamicConfig = dynamic
	child.DynamicAllowedTools = skill.AllowedTools
	*stack = append(*stack, child)
	recorder.AddDelegation(dynamic.NodeID())
	slog.Info("skill invoked", "skill", signal.SkillName, "agent", frame.AgentName)
}

// injectDelegationError surfaces a failed delegation to the model as a
// tool message (or a user message when no call id exists).
func (o *Orchestrator) injectDelegationError(frame *TaskFrame, signal ControlSignal, reason string) {
	slog.Warn("delegation rejected", "agent", frame.AgentName, "reason", reason)
	if signal.ToolCallID != "" {
		toolName := tools.DelegateToolName
		if signal.Type == SignalDelegateParallel {
			toolName = tools.DelegateParallelToolName
		}
		frame.Memory = append(frame.Memory, providers.Message{
			Role:       "tool",
			Content:    "Error: " + reason,
			ToolCallID: signal.ToolCallID,
			Name:       toolName,
		})
		return
	}
	frame.Memory = append(frame.Memory, providers.Message{Role: "user", Content: "Error: " + reason})
}

// archivePrevious stores the user's previous session into the entry
// group's semantic memory, when there is one.
func (o *Orchestrator) archivePrevious(ctx context.Context, userID, group string) {
	prev := o.sessions.PreviousSessionID(userID)
	if prev == "" {
		return
	}
	o.sessions.ArchiveSession(ctx, prev, userID, o.memoryManager(group))
}

func (o *Orchestrator) persistTurn(sessionID, userID, entryNode, group, userMessage, content, thinking, status string, recorder *TurnRecorder, start time.Time) {
	if o.sessionLog == nil || sessionID == "" {
		return
	}
	usage := recorder.Usage()
	turn := &memory.ConversationTurn{
		SessionID:       sessionID,
		Turn:            o.sessionLog.NextTurnNumber(sessionID),
		Timestamp:       time.Now().Format(time.RFC3339),
		Group:           group,
		EntryAgent:      entryNode,
		UserID:          userID,
		UserMessage:     userMessage,
		AIResponse:      &memory.AIResponse{Content: content, Thinking: thinking},
		ToolCalls:       recorder.ToolCalls(),
		SkillCalls:      recorder.SkillCalls(),
		DelegationChain: recorder.DelegationChain(),
		TokenUsage: memory.TokenUsage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		},
		DurationMs: time.Since(start).Milliseconds(),
		Status:     status,
	}
	if err := o.sessionLog.SaveTurn(turn); err != nil {
		slog.Error("failed to persist turn", "session", sessionID, "error", err)
	}
}

// --- helpers ---

func (o *Orchestrator) frameConfig(frame *TaskFrame) *registry.Agent {
	if frame.DynamicConfig != nil {
		return frame.DynamicConfig
	}
	return o.reg.GetByNodeID(frame.AgentName)
}

func (o *Orchestrator) groupOf(frame *TaskFrame) string {
	if cfg := o.frameConfig(frame); cfg != nil {
		return cfg.Group
	}
	return ""
}

func (o *Orchestrator) emit(callback StepCallback, event bus.Event) {
	if o.events != nil {
		o.events.Broadcast(event)
	}
	if callback != nil {
		callback(event)
	}
}

func isSkillFrame(frame *TaskFrame) bool {
	return strings.Contains(frame.AgentName, "skill__")
}

func skillNameOf(frame *TaskFrame) string {
	if i := strings.Index(frame.AgentName, "skill__"); i != -1 {
		return frame.AgentName[i+len("skill__"):]
	}
	return frame.AgentName
}

func lastReasoning(frame *TaskFrame) string {
	for i := len(frame.Memory) - 1; i >= 0; i-- {
		if frame.Memory[i].Role == "assistant" && frame.Memory[i].Reasoning != "" {
			return frame.Memory[i].Reasoning
		}
	}
	return ""
}
