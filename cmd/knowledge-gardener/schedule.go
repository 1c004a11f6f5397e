// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/knowledge-gardener/internal/pipeline"
	"github.com/pdiddy/knowledge-gardener/internal/schedule"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the full chain on a cron schedule",
	Long: `Schedule runs the full chain at every tick of a standard five-field cron
expression (pipeline.schedule, default "0 3 * * *"), or a descriptor such as
"@every 6h". A tick that arrives while a run is still active is skipped.
Interrupting the process cancels the active run and waits for its final
status write.`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

func runSchedule(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := schedule.New(a.cfg.Pipeline.Schedule, func(ctx context.Context, at time.Time) error {
		return a.run(ctx, pipeline.Full, at)
	}, a.log)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	a.log.Info("waiting for first tick", zap.String("schedule", a.cfg.Pipeline.Schedule), zap.Time("next", s.Next(time.Now())))
	return s.Start(ctx)
}

func init() {
	scheduleCmd.Flags().String("cron", "", "cron expression overriding pipeline.schedule")
	scheduleCmd.Flags().Bool("halt-on-failure", false, "stop the chain after a failed stage")
	scheduleCmd.Flags().Bool("non-interactive", false, "deny every fix plan without prompting")
	_ = viper.BindPFlag("pipeline.schedule", scheduleCmd.Flags().Lookup("cron"))
	rootCmd.AddCommand(scheduleCmd)
}
