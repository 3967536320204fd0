package store

import (
	"testing"
	"time"
)

func newTestState(t *testing.T) *StateManager {
	t.Helper()
	m, err := NewStateManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewStateManager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestTaskQueue_PriorityClaim(t *testing.T) {
	m := newTestState(t)

	if _, err := m.EnqueueTask("g", "low priority work", 1); err != nil {
		t.Fatal(err)
	}
	highID, err := m.EnqueueTask("g", "urgent work", 9)
	if err != nil {
		t.Fatal(err)
	}

	task, err := m.ClaimNextTask("worker-1", "g")
	if err != nil {
		t.Fatalf("ClaimNextTask: %v", err)
	}
	if task == nil || task.TaskID != highID {
		t.Fatalf("claimed %+v, want the high-priority task", task)
	}
	if task.Status != TaskRunning || task.AssignedTo != "worker-1" {
		t.Errorf("claimed task state = %+v", task)
	}

	// Second claim gets the remaining task; third finds the queue empty.
	task2, err := m.ClaimNextTask("worker-2", "g")
	if err != nil {
		t.Fatal(err)
	}
	if task2 == nil || task2.Instruction != "low priority work" {
		t.Fatalf("second claim = %+v", task2)
	}
	task3, err := m.ClaimNextTask("worker-1", "g")
	if err != nil {
		t.Fatal(err)
	}
	if task3 != nil {
		t.Errorf("empty queue returned %+v", task3)
	}
}

func TestTaskQueue_GroupIsolation(t *testing.T) {
	m := newTestState(t)
	if _, err := m.EnqueueTask("alpha", "work", 5); err != nil {
		t.Fatal(err)
	}
	task, err := m.ClaimNextTask("w", "beta")
	if err != nil {
		t.Fatal(err)
	}
	if task != nil {
		t.Errorf("cross-group claim succeeded: %+v", task)
	}
}

func TestTaskQueue_StatusUpdate(t *testing.T) {
	m := newTestState(t)
	id, err := m.EnqueueTask("g", "work", 5)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.ClaimNextTask("w", "g"); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateTaskStatus(id, TaskFailed, "", "boom"); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
}

func TestAgents_HeartbeatStaleness(t *testing.T) {
	m := newTestState(t)

	if err := m.RegisterAgent("a1", "g", []string{"search"}); err != nil {
		t.Fatal(err)
	}

	stale, err := m.StaleAgents(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Errorf("fresh agent reported stale: %v", stale)
	}

	stale, err = m.StaleAgents(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0] != "a1" {
		t.Errorf("StaleAgents(0) = %v, want [a1]", stale)
	}

	if err := m.MarkAgentBusy("a1", "t1"); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkAgentIdle("a1"); err != nil {
		t.Fatal(err)
	}
}

func TestLocks_ExclusionAndExpiry(t *testing.T) {
	m := newTestState(t)

	ok, err := m.AcquireLock("build", "a1", time.Hour)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}

	ok, err = m.AcquireLock("build", "a2", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("second holder acquired a live lock")
	}

	// Re-entrant for the same holder.
	ok, err = m.AcquireLock("build", "a1", time.Hour)
	if err != nil || !ok {
		t.Errorf("same-holder re-acquire = %v, %v", ok, err)
	}

	if err := m.ReleaseLock("build", "a1"); err != nil {
		t.Fatal(err)
	}
	ok, err = m.AcquireLock("build", "a2", time.Hour)
	if err != nil || !ok {
		t.Errorf("acquire after release = %v, %v", ok, err)
	}

	// Expired locks are stolen.
	if err := m.ReleaseLock("build", "a2"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := m.AcquireLock("expiring", "a1", -time.Second); !ok {
		t.Fatal("acquire with negative ttl failed")
	}
	ok, err = m.AcquireLock("expiring", "a2", time.Hour)
	if err != nil || !ok {
		t.Errorf("steal of expired lock = %v, %v", ok, err)
	}
}
