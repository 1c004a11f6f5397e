// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/knowledge-gardener/internal/pipeline"
	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full stage chain once",
	Long: `Run executes analyst, researcher, curator, auditor, fixer, and advisor in
order. Each stage's report is persisted before the next stage starts. With
--halt-on-failure the chain stops at the first failed stage; otherwise later
stages run and read whatever reports exist.`,
	Args: cobra.NoArgs,
	RunE: runFull,
}

func runFull(cmd *cobra.Command, args []string) error {
	return runTask(pipeline.Full)
}

var stageCmd = &cobra.Command{
	Use:       "stage <name>",
	Short:     "Run a single stage",
	Long:      `Stage runs one stage against the latest reports of its predecessors.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: stageNames(),
	RunE:      runStage,
}

func runStage(cmd *cobra.Command, args []string) error {
	task, err := pipeline.ParseTask(args[0])
	if err != nil {
		return err
	}
	return runTask(task)
}

func runTask(task pipeline.Task) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()
	return a.run(ctx, task, time.Now())
}

func stageNames() []string {
	names := make([]string, len(types.Stages))
	for i, s := range types.Stages {
		names[i] = string(s)
	}
	return names
}

func init() {
	for _, c := range []*cobra.Command{runCmd, stageCmd} {
		c.Flags().Bool("halt-on-failure", false, "stop the chain after a failed stage")
		c.Flags().Bool("non-interactive", false, "deny every fix plan without prompting")
		rootCmd.AddCommand(c)
	}
	cobra.OnInitialize(bindRunFlags)
}

// bindRunFlags binds the flags of whichever run command was invoked.
func bindRunFlags() {
	for _, c := range []*cobra.Command{runCmd, stageCmd, scheduleCmd} {
		if f := c.Flags().Lookup("halt-on-failure"); f != nil && f.Changed {
			_ = viper.BindPFlag("pipeline.halt_on_failure", f)
		}
		if f := c.Flags().Lookup("non-interactive"); f != nil && f.Changed {
			_ = viper.BindPFlag("approval.non_interactive", f)
		}
	}
}
