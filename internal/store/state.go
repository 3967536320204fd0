package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Task statuses in the queue.
const (
	TaskPending  = "pending"
	TaskRunning  = "running"
	TaskComplete = "complete"
	TaskFailed   = "failed"
)

// Agent statuses in the registry table.
const (
	AgentIdle = "idle"
	AgentBusy = "busy"
)

// Task is one queued unit of work for the queue-worker mode.
type Task struct {
	TaskID           string    `json:"task_id"`
	GroupID          string    `json:"group_id"`
	AssignedTo       string    `json:"assigned_to,omitempty"`
	Status           string    `json:"status"`
	Priority         int       `json:"priority"`
	Instruction      string    `json:"instruction"`
	CreatedAt        time.Time `json:"created_at"`
	ResultArtifactID string    `json:"result_artifact_id,omitempty"`
	ErrorMsg         string    `json:"error_msg,omitempty"`
}

// StateManager is the optional coordination database: a persistent task
// queue with priority claim, agent heartbeats with crash detection, and
// named locks with expiry. All state is local to the workspace.
type StateManager struct {
	db *sql.DB
}

func NewStateManager(workspaceRoot string) (*StateManager, error) {
	db, err := openDB(filepath.Join(workspaceRoot, soloqueueDir, "state.db"))
	if err != nil {
		return nil, err
	}
	m := &StateManager{db: db}
	if err := m.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("state manager initialized")
	return m, nil
}

func (m *StateManager) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			group_id TEXT NOT NULL,
			assigned_to TEXT,
			status TEXT NOT NULL,
			priority INTEGER DEFAULT 5,
			instruction TEXT NOT NULL,
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			result_artifact_id TEXT,
			error_msg TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			agent_id TEXT PRIMARY KEY,
			group_id TEXT NOT NULL,
			status TEXT NOT NULL,
			current_task_id TEXT,
			capabilities TEXT,
			registered_at TEXT NOT NULL,
			last_heartbeat TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS coordination_locks (
			lock_name TEXT PRIMARY KEY,
			held_by TEXT NOT NULL,
			acquired_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_group_status ON tasks(group_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(priority DESC, created_at ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_group ON agents(group_id)`,
		`CREATE INDEX IF NOT EXISTS idx_locks_expires ON coordination_locks(expires_at)`,
	}
	for _, stmt := range stmts {
		if _, err := m.db.Exec(stmt); err != nil {
			return fmt.Errorf("init state schema: %w", err)
		}
	}
	return nil
}

func (m *StateManager) Close() error { return m.db.Close() }

// --- task queue ---

// EnqueueTask adds a pending task and returns its id.
func (m *StateManager) EnqueueTask(groupID, instruction string, priority int) (string, error) {
	taskID := uuid.NewString()
	_, err := m.db.Exec(
		`INSERT INTO tasks (task_id, group_id, status, priority, instruction, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		taskID, groupID, TaskPending, priority, instruction, time.Now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	slog.Info("task enqueued", "task", taskID, "group", groupID, "priority", priority)
	return taskID, nil
}

// ClaimNextTask atomically assigns the highest-priority pending task in
// the group to agentID. Returns nil when the queue is empty.
func (m *StateManager) ClaimNextTask(agentID, groupID string) (*Task, error) {
	tx, err := m.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(
		`SELECT task_id, group_id, status, priority, instruction, created_at
		 FROM tasks WHERE group_id = ? AND status = ?
		 ORDER BY priority DESC, created_at ASC LIMIT 1`,
		groupID, TaskPending,
	)

	var t Task
	var createdAt string
	err = row.Scan(&t.TaskID, &t.GroupID, &t.Status, &t.Priority, &t.Instruction, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan claimable task: %w", err)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	res, err := tx.Exec(
		`UPDATE tasks SET status = ?, assigned_to = ?, started_at = ?
		 WHERE task_id = ? AND status = ?`,
		TaskRunning, agentID, time.Now().Format(time.RFC3339Nano), t.TaskID, TaskPending,
	)
	if err != nil {
		return nil, fmt.Errorf("claim update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Raced by another worker; caller polls again.
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	t.Status = TaskRunning
	t.AssignedTo = agentID
	return &t, nil
}

// UpdateTaskStatus records completion or failure of a claimed task.
func (m *StateManager) UpdateTaskStatus(taskID, status, resultArtifactID, errorMsg string) error {
	_, err := m.db.Exec(
		`UPDATE tasks SET status = ?, result_artifact_id = ?, error_msg = ?, completed_at = ?
		 WHERE task_id = ?`,
		status, resultArtifactID, errorMsg, time.Now().Format(time.RFC3339Nano), taskID,
	)
	if err != nil {
		return fmt.Errorf("update task %s: %w", taskID, err)
	}
	return nil
}

// --- agent registry ---

// RegisterAgent upserts an agent row with fresh heartbeat.
func (m *StateManager) RegisterAgent(agentID, groupID string, capabilities []string) error {
	caps, _ := json.Marshal(capabilities)
	now := time.Now().Format(time.RFC3339Nano)
	_, err := m.db.Exec(
		`INSERT INTO agents (agent_id, group_id, status, capabilities, registered_at, last_heartbeat)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET group_id = excluded.group_id,
			capabilities = excluded.capabilities, last_heartbeat = excluded.last_heartbeat`,
		agentID, groupID, AgentIdle, string(caps), now, now,
	)
	if err != nil {
		return fmt.Errorf("register agent %s: %w", agentID, err)
	}
	return nil
}

// UpdateHeartbeat refreshes an agent's liveness timestamp.
func (m *StateManager) UpdateHeartbeat(agentID string) error {
	_, err := m.db.Exec(
		`UPDATE agents SET last_heartbeat = ? WHERE agent_id = ?`,
		time.Now().Format(time.RFC3339Nano), agentID,
	)
	if err != nil {
		return fmt.Errorf("heartbeat %s: %w", agentID, err)
	}
	return nil
}

// MarkAgentBusy / MarkAgentIdle flip the agent's queue status.
func (m *StateManager) MarkAgentBusy(agentID, taskID string) error {
	_, err := m.db.Exec(`UPDATE agents SET status = ?, current_task_id = ? WHERE agent_id = ?`,
		AgentBusy, taskID, agentID)
	return err
}

func (m *StateManager) MarkAgentIdle(agentID string) error {
	_, err := m.db.Exec(`UPDATE agents SET status = ?, current_task_id = NULL WHERE agent_id = ?`,
		AgentIdle, agentID)
	return err
}

// StaleAgents returns agents whose heartbeat is older than maxAge
// (crash detection for the worker pool).
func (m *StateManager) StaleAgents(maxAge time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-maxAge).Format(time.RFC3339Nano)
	rows, err := m.db.Query(`SELECT agent_id FROM agents WHERE last_heartbeat < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("stale agents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- coordination locks ---

// AcquireLock takes a named lock for ttl. Expired locks are stolen.
// Returns false when another live holder exists.
func (m *StateManager) AcquireLock(name, holder string, ttl time.Duration) (bool, error) {
	now := time.Now()
	tx, err := m.db.Begin()
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	defer tx.Rollback()

	var heldBy, expiresAt string
	err = tx.QueryRow(`SELECT held_by, expires_at FROM coordination_locks WHERE lock_name = ?`, name).
		Scan(&heldBy, &expiresAt)
	switch {
	case err == sql.ErrNoRows:
		// Free — insert below.
	case err != nil:
		return false, fmt.Errorf("lock lookup: %w", err)
	default:
		exp, perr := time.Parse(time.RFC3339Nano, expiresAt)
		if perr == nil && exp.After(now) && heldBy != holder {
			return false, nil
		}
		if _, err := tx.Exec(`DELETE FROM coordination_locks WHERE lock_name = ?`, name); err != nil {
			return false, fmt.Errorf("steal expired lock: %w", err)
		}
	}

	_, err = tx.Exec(
		`INSERT INTO coordination_locks (lock_name, held_by, acquired_at, expires_at) VALUES (?, ?, ?, ?)`,
		name, holder, now.Format(time.RFC3339Nano), now.Add(ttl).Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("insert lock: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit lock: %w", err)
	}
	return true, nil
}

// ReleaseLock drops a named lock if held by holder.
func (m *StateManager) ReleaseLock(name, holder string) error {
	_, err := m.db.Exec(`DELETE FROM coordination_locks WHERE lock_name = ? AND held_by = ?`, name, holder)
	return err
}
