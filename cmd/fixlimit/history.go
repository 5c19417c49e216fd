package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ternarybob/fixlimit/internal/common"
	"github.com/ternarybob/fixlimit/internal/models"
	badgerstore "github.com/ternarybob/fixlimit/internal/storage/badger"
)

var historyRunID string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List patches recorded by previous runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyRunID, "run", "", "Only show patches from this run ID")
}

func runHistory(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(common.FlagOverrides{LogLevel: logLevel})
	if err != nil {
		return err
	}
	logger := common.SetupLogger(config)

	db, err := badgerstore.NewBadgerDB(logger, &config.History)
	if err != nil {
		return fmt.Errorf("failed to open patch history: %w", err)
	}
	storage := badgerstore.NewPatchStorage(db, logger)
	defer storage.Close()

	ctx := context.Background()
	var records []models.PatchRecord
	if historyRunID != "" {
		records, err = storage.ListPatchesByRun(ctx, historyRunID)
	} else {
		records, err = storage.ListPatches(ctx)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No patches recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATCHED AT\tRUN\tITER\tTARGET\tPREVIOUS\tLIMIT\tACTION")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			r.PatchedAt.Format("2006-01-02 15:04:05"),
			r.RunID,
			r.Iteration,
			r.Target,
			r.Previous,
			r.Limit,
			r.Action,
		)
	}
	return tw.Flush()
}
