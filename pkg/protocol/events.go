package protocol

// Event names pushed from the engine to UI clients.
const (
	EventStream            = "stream"
	EventAgentStatus       = "agent_status"
	EventToolCall          = "tool_call"
	EventToolResult        = "tool_result"
	EventParallelStarted   = "parallel_started"
	EventParallelCompleted = "parallel_completed"
	EventActionReturn      = "action_return"
	EventSessionNew        = "session_new"
	EventDelegation        = "delegation"

	// Write-action approval handshake.
	EventWriteActionRequest  = "write_action_request"
	EventWriteActionResponse = "write_action_response" // inbound from UI
)

// Stream types (in stream event payload).
const (
	StreamThinking = "thinking"
	StreamAnswer   = "answer"
)

// Agent status values (in agent_status payload).
const (
	StatusStarting  = "starting"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// Action return types (in action_return payload).
const (
	ActionDelegate = "delegate"
	ActionSkill    = "skill"
)

// Write-action operations (in write_action_request payload).
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)
