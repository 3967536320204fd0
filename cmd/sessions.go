package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fize-ai/soloqueue/internal/memory"
	"github.com/fize-ai/soloqueue/internal/providers"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and summarize conversation sessions",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsSummarizeCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's sessions in first-seen order",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			sessions := app.sessionLog.GetSessionsByUser(userID)
			if len(sessions) == 0 {
				fmt.Printf("no sessions for user %q\n", userID)
				return nil
			}
			for _, id := range sessions {
				turns := app.sessionLog.GetTurns(id)
				fmt.Printf("%-40s %d turns\n", id, len(turns))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "cli", "user id")
	return cmd
}

func sessionsSummarizeCmd() *cobra.Command {
	var (
		sessionID string
		group     string
	)

	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Generate a structured summary of a session and index its learnings",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			llm := &invokeAdapter{provider: providers.NewOpenAIProvider(
				app.cfg.Models.Provider, app.cfg.Models.APIKey,
				app.cfg.Models.BaseURL, app.cfg.Models.Default)}

			mem := app.memoryFor(group)
			summarizer := memory.NewSummarizer(llm, app.ws.Root(), group)
			summary, err := summarizer.Summarize(cmd.Context(), app.sessionLog, mem.Semantic(), sessionID)
			if err != nil {
				return err
			}

			fmt.Printf("session:    %s\n", summary.SessionID)
			fmt.Printf("objective:  %s\n", summary.Objective)
			fmt.Printf("outcome:    %s (difficulty %d)\n", summary.Outcome, summary.Difficulty)
			for _, learning := range summary.KeyLearnings {
				fmt.Printf("learning:   %s\n", learning)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id (required)")
	cmd.Flags().StringVarP(&group, "group", "g", "default", "memory group")
	cmd.MarkFlagRequired("session")
	return cmd
}

// invokeAdapter exposes a chat provider through the single-prompt
// surface the memory package consumes.
type invokeAdapter struct {
	provider providers.Provider
}

func (a *invokeAdapter) Invoke(ctx context.Context, prompt string) (string, error) {
	resp, err := a.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
