// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pdiddy/knowledge-gardener/internal/report"
	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Read stage reports (latest, get, list, export)",
	Long: `Reports reads the report store the stages write to. Reports are immutable
history: each run creates new reports and never rewrites old ones.`,
}

var reportsLatestCmd = &cobra.Command{
	Use:   "latest <stage>",
	Short: "Print the most recent report of a stage",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportsLatest,
}

func runReportsLatest(cmd *cobra.Command, args []string) error {
	s, err := types.ParseStage(args[0])
	if err != nil {
		return err
	}
	return withStore(func(ctx context.Context, store report.Store) error {
		doc, err := store.Latest(ctx, s)
		if err != nil {
			return err
		}
		return printDoc(doc)
	})
}

var reportsGetCmd = &cobra.Command{
	Use:   "get <report_id>",
	Short: "Print one report by ID (e.g. aud_20250101_120000)",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportsGet,
}

func runReportsGet(cmd *cobra.Command, args []string) error {
	s, _, err := report.ParseID(args[0])
	if err != nil {
		return err
	}
	return withStore(func(ctx context.Context, store report.Store) error {
		doc, err := store.Get(ctx, s, args[0])
		if err != nil {
			return err
		}
		return printDoc(doc)
	})
}

var reportsListCmd = &cobra.Command{
	Use:   "list <stage>",
	Short: "List a stage's reports in creation order",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportsList,
}

func runReportsList(cmd *cobra.Command, args []string) error {
	s, err := types.ParseStage(args[0])
	if err != nil {
		return err
	}
	return withStore(func(ctx context.Context, store report.Store) error {
		docs, err := store.List(ctx, s)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "REPORT_ID\tCREATED\tSTATE\tSTATUS")
		for _, d := range docs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ReportID, d.CreatedAt.Format("2006-01-02 15:04:05"), d.State(), d.Field("status").String())
		}
		return w.Flush()
	})
}

var reportsExportCmd = &cobra.Command{
	Use:   "export <stage>",
	Short: "Export a stage's full report history as YAML or JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportsExport,
}

func runReportsExport(cmd *cobra.Command, args []string) error {
	s, err := types.ParseStage(args[0])
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	return withStore(func(ctx context.Context, store report.Store) error {
		return report.Export(ctx, store, s, format, os.Stdout)
	})
}

func withStore(fn func(ctx context.Context, store report.Store) error) error {
	store, err := newStoreOnly()
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(context.Background(), store)
}

func printDoc(doc *report.Document) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, doc.Body, "", "  "); err != nil {
		return fmt.Errorf("formatting report %s: %w", doc.ReportID, err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(os.Stdout)
	return err
}

func init() {
	reportsExportCmd.Flags().String("format", report.FormatYAML, "export format: yaml or json")

	reportsCmd.AddCommand(reportsLatestCmd, reportsGetCmd, reportsListCmd, reportsExportCmd)
	rootCmd.AddCommand(reportsCmd)
}
