package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func gcCmd() *cobra.Command {
	var (
		skipOrphanScan bool
		archive        bool
	)

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Run artifact garbage collection once",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			stats, err := app.gc.RunOnce(skipOrphanScan)
			if err != nil {
				return err
			}
			if stats.Skipped {
				fmt.Println("gc skipped: another process holds the lock")
				return nil
			}
			fmt.Printf("gc done: %d metadata rows pruned, %d orphan blobs removed\n",
				stats.Phase1Deleted, stats.Phase2Deleted)

			if archive {
				archStats, err := app.gc.ArchiveByDate(app.cfg.Artifacts.ArchiveDays)
				if err != nil {
					return err
				}
				fmt.Printf("archive done: %d blobs moved into %d date directories\n",
					archStats.ArchivedCount, archStats.ArchiveDirsCreated)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipOrphanScan, "skip-orphan-scan", false, "run only phase 1 (metadata pruning)")
	cmd.Flags().BoolVar(&archive, "archive", false, "also archive old non-ephemeral blobs by date")
	return cmd
}
