package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fize-ai/soloqueue/internal/gateway"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Serve the websocket UI channel and the maintenance loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app.watchSkills(ctx)
			go app.maintenanceLoop(ctx)

			srv := gateway.NewServer(app.cfg.ListenAddr(), app.cfg.Gateway.AllowedOrigins, app.events, app.bridge)
			return srv.Start(ctx)
		},
	}
}

// maintenanceLoop runs the garbage collector when its cron schedule
// fires and the cooldown has elapsed. The minute tick matches the cron
// granularity.
func (a *app) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.gc.DueByCron(a.cfg.Artifacts.GCCron) {
				continue
			}
			if !a.gc.ShouldRun(a.cfg.Artifacts.GCCooldownHours) {
				continue
			}
			stats, err := a.gc.RunOnce(false)
			if err != nil {
				slog.Error("scheduled gc failed", "error", err)
				continue
			}
			if !stats.Skipped {
				slog.Info("scheduled gc complete",
					"phase1_deleted", stats.Phase1Deleted, "phase2_deleted", stats.Phase2Deleted)
				if _, err := a.gc.ArchiveByDate(a.cfg.Artifacts.ArchiveDays); err != nil {
					slog.Error("scheduled archive failed", "error", err)
				}
			}
		}
	}
}
