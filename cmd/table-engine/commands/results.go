package commands

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/table-engine/cmd/table-engine/ui"
	"github.com/spherical-ai/table-engine/internal/config"
	"github.com/spherical-ai/table-engine/internal/storage"
)

var resultsDocPath string

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Show stored extraction results for a document",
	RunE:  runResults,
}

func init() {
	resultsCmd.Flags().StringVarP(&resultsDocPath, "pdf", "p", "", "Path of the extracted PDF (required)")
	resultsCmd.MarkFlagRequired("pdf")
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	db, err := storage.Open(cfg.DatabaseDriver(), cfg.DatabaseDSN())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := storage.Migrate(ctx, db); err != nil {
		return err
	}

	results, err := storage.NewResultStore(db).ListByDocument(ctx, resultsDocPath)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		ui.Info("No results stored for %s", resultsDocPath)
		return nil
	}

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		nrows := "-"
		if r.Record != nil {
			nrows = strconv.Itoa(len(r.Record.Rows))
		}
		detail := r.Method
		if r.FailureKind != "" {
			detail = string(r.FailureKind)
		}
		rows = append(rows, []string{
			r.TableKind,
			strconv.Itoa(r.Page),
			string(r.Status),
			detail,
			nrows,
			strconv.FormatFloat(r.Confidence, 'f', 2, 64),
			strconv.Itoa(r.Attempts),
		})
	}
	ui.Table([]string{"Table", "Page", "Status", "Method", "Rows", "Confidence", "Attempts"}, rows)
	return nil
}
