// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pdiddy/knowledge-gardener/internal/stage"
	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "List the configured operations and which stages can run",
	Long: `Ops lists every operation the current configuration provides. Operations
that change the knowledge base are marked; the fixer only runs them after a
plan is approved. Stages whose operations are incomplete are listed last.`,
	Args: cobra.NoArgs,
	RunE: runOps,
}

func runOps(cmd *cobra.Command, args []string) error {
	store, err := newStoreOnly()
	if err != nil {
		return err
	}
	defer store.Close()

	set, err := buildOps(cfg, store, logger)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OPERATION\tMUTATING\tDESCRIPTION")
	for _, op := range set.Ops() {
		mut := ""
		if op.Kind().Mutating() {
			mut = "yes"
		}
		desc, _, _ := strings.Cut(op.Description(), ". ")
		fmt.Fprintf(w, "%s\t%s\t%s\n", op.Kind(), mut, desc)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	missing := stage.CheckCapabilities(set, types.Stages...)
	for _, s := range types.Stages {
		if err, ok := missing[s]; ok {
			fmt.Printf("%s: %v\n", s, err)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(opsCmd)
}
