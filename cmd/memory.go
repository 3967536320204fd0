package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fize-ai/soloqueue/internal/providers"
)

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and compact semantic memory",
	}
	cmd.AddCommand(memoryCompactCmd())
	return cmd
}

func memoryCompactCmd() *cobra.Command {
	var (
		group string
		days  int
		batch int
	)

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Replace old semantic entries with model-written summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			mem := app.memoryFor(group)
			semantic := mem.Semantic()
			if semantic == nil {
				return fmt.Errorf("semantic memory is not enabled (configure embedding first)")
			}

			llm := &invokeAdapter{provider: providers.NewOpenAIProvider(
				app.cfg.Models.Provider, app.cfg.Models.APIKey,
				app.cfg.Models.BaseURL, app.cfg.Models.Default)}

			if days <= 0 {
				days = app.cfg.Memory.CompactionDays
			}
			stats, err := semantic.SummarizeEntries(cmd.Context(), llm, days, batch)
			if err != nil {
				return err
			}
			fmt.Printf("compaction done: %d summarized, %d failed, %d skipped\n",
				stats.SummarizedCount, stats.FailedCount, stats.SkippedCount)
			return nil
		},
	}
	cmd.Flags().StringVarP(&group, "group", "g", "default", "memory group")
	cmd.Flags().IntVar(&days, "days", 0, "compact entries older than this many days (default: config compaction_days)")
	cmd.Flags().IntVar(&batch, "batch", 20, "maximum entries per pass")
	return cmd
}
