package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fize-ai/soloqueue/internal/store"
)

func workerCmd() *cobra.Command {
	var (
		agentName    string
		pollInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run an agent as a queue worker against the state database",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			agent := app.reg.Resolve(agentName, "")
			if agent == nil {
				return fmt.Errorf("agent %q not found", agentName)
			}

			state, err := store.NewStateManager(app.ws.Root())
			if err != nil {
				return err
			}
			defer state.Close()

			if err := state.RegisterAgent(agent.NodeID(), groupOrDefault(agent.Group), agent.Tools); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			slog.Info("queue worker started", "agent", agent.NodeID(), "poll_interval", pollInterval)
			return runQueueWorker(ctx, app, state, agent.NodeID(), groupOrDefault(agent.Group), pollInterval)
		},
	}

	cmd.Flags().StringVarP(&agentName, "agent", "a", "", "agent to run (required)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 5*time.Second, "delay between empty queue polls")
	cmd.MarkFlagRequired("agent")
	return cmd
}

// runQueueWorker polls the task queue, driving each claimed task
// through the orchestrator and recording the outcome.
func runQueueWorker(ctx context.Context, app *app, state *store.StateManager, agentID, groupID string, pollInterval time.Duration) error {
	for {
		if ctx.Err() != nil {
			slog.Info("queue worker stopped")
			return nil
		}

		if err := state.UpdateHeartbeat(agentID); err != nil {
			slog.Warn("heartbeat failed", "error", err)
		}

		task, err := state.ClaimNextTask(agentID, groupID)
		if err != nil {
			slog.Error("task claim failed", "error", err)
			sleepCtx(ctx, pollInterval)
			continue
		}
		if task == nil {
			sleepCtx(ctx, pollInterval)
			continue
		}

		slog.Info("claimed task", "task", task.TaskID, "agent", agentID)
		state.MarkAgentBusy(agentID, task.TaskID)

		result := app.orch.Run(ctx, agentID, task.Instruction, nil, "", "")

		// The result is preserved as an artifact so it survives the
		// worker process.
		artifactID := ""
		if id, err := app.artifacts.Save(result, "Task result: "+task.TaskID, agentID, groupID, nil, "text"); err == nil {
			artifactID = fmt.Sprintf("%d", id)
		}
		if err := state.UpdateTaskStatus(task.TaskID, store.TaskComplete, artifactID, ""); err != nil {
			slog.Error("task status update failed", "task", task.TaskID, "error", err)
		}
		state.MarkAgentIdle(agentID)
		slog.Info("task completed", "task", task.TaskID)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func groupOrDefault(group string) string {
	if group == "" {
		return "default"
	}
	return group
}
