package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/table-engine/cmd/table-engine/ui"
	"github.com/spherical-ai/table-engine/internal/config"
	"github.com/spherical-ai/table-engine/internal/domain"
	"github.com/spherical-ai/table-engine/pkg/engine"
)

var (
	extractPDFPath string
	extractVintage string
	extractTables  []string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract compliance tables from a PDF",
	Long: `Extract the named tables from a building code PDF and store the
normalized records. Tables are given as ID:PAGE pairs, e.g. 3.2.2.2:41.`,
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&extractPDFPath, "pdf", "p", "", "Path to PDF file (required)")
	extractCmd.Flags().StringVar(&extractVintage, "vintage", "", "Document vintage: 2011, 2015, 2017 or 2020 (required)")
	extractCmd.Flags().StringArrayVarP(&extractTables, "table", "t", nil, "Table to extract as ID:PAGE, repeatable (required)")
	extractCmd.MarkFlagRequired("pdf")
	extractCmd.MarkFlagRequired("vintage")
	extractCmd.MarkFlagRequired("table")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	requests, err := parseTableArgs(extractTables)
	if err != nil {
		return err
	}

	ui.Section("Table Extraction")
	ui.Info("Document: %s (vintage %s)", extractPDFPath, extractVintage)
	ui.Info("Tables:   %d", len(requests))

	sp := ui.NewSpinner(fmt.Sprintf("Checking model endpoint %s...", cfg.Model.Endpoint))
	sp.Start()
	client, err := engine.New(ctx, cfg)
	sp.Stop()
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer client.Close()
	ui.Verbose("Model: %s", client.Model())

	bar := ui.NewProgressBar(int64(len(requests)), "Extracting")
	client.OnResult(func(*engine.ExtractionResult) {
		bar.Add(1)
	})

	results, summary, err := client.ExtractDocument(ctx, extractPDFPath, extractVintage, requests)
	bar.Finish()
	if err != nil {
		return err
	}

	printSummary(results, summary)
	return nil
}

func parseTableArgs(args []string) ([]engine.TableRequest, error) {
	requests := make([]engine.TableRequest, 0, len(args))
	for _, arg := range args {
		sep := strings.LastIndex(arg, ":")
		if sep <= 0 || sep == len(arg)-1 {
			return nil, fmt.Errorf("invalid table %q, expected ID:PAGE", arg)
		}
		page, err := strconv.Atoi(arg[sep+1:])
		if err != nil || page < 1 {
			return nil, fmt.Errorf("invalid page in table %q", arg)
		}
		requests = append(requests, engine.TableRequest{TableID: arg[:sep], Page: page})
	}
	return requests, nil
}

func printSummary(results []*engine.ExtractionResult, summary *engine.RunSummary) {
	ui.Section("Run Summary")
	ui.Info("Elapsed:      %s", ui.FormatDuration(summary.Elapsed))
	ui.Info("Success rate: %d/%d (%.0f%%)", summary.Succeeded, summary.Total, summary.SuccessRate*100)

	if len(summary.ByMethod) > 0 {
		var rows [][]string
		for method, n := range summary.ByMethod {
			rows = append(rows, []string{method, strconv.Itoa(n)})
		}
		ui.Table([]string{"Method", "Tables"}, rows)
	}

	for _, r := range results {
		if r.Succeeded() {
			ui.Success("Table %s page %d: %d rows (%s, confidence %.2f)",
				r.TableKind, r.Page, len(r.Record.Rows), r.Method, r.Confidence)
		}
	}
	for _, f := range summary.Failures {
		switch f.Kind {
		case domain.FailureRepairTimeout:
			ui.Warning("Table %s page %d: %s", f.TableKind, f.Page, f.Reason)
		default:
			ui.Failure("Table %s page %d: %s (%s)", f.TableKind, f.Page, f.Reason, f.Kind)
		}
	}
}
