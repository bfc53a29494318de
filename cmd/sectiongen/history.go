package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/sectiongen/internal/doctree"
	"github.com/dgallion1/sectiongen/internal/ledger"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs, or one run's sections with --run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, map[string]string{"output": "output.dir"})
		if err != nil {
			return err
		}
		path := cfg.LedgerPath()
		if path == "" {
			return errors.New("run history is disabled (ledger.path is \"off\")")
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("no run history at %s", path)
		}
		l, err := ledger.Open(path)
		if err != nil {
			return err
		}
		defer l.Close()

		runID, _ := cmd.Flags().GetString("run")
		if runID != "" {
			results, err := l.Results(cmd.Context(), runID)
			if err != nil {
				return err
			}
			return writeResults(cmd.OutOrStdout(), results)
		}
		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := l.Runs(cmd.Context(), limit)
		if err != nil {
			return err
		}
		return writeRuns(cmd.OutOrStdout(), runs)
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "number of runs to list")
	historyCmd.Flags().String("run", "", "show the sections of one run")
	historyCmd.Flags().String("output", "", "output directory holding runs.db (overrides output.dir)")

	rootCmd.AddCommand(historyCmd)
}

func writeRuns(w io.Writer, runs []ledger.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tDURATION\tPHASE\tTOTAL\tOK\tFAILED\tSKIPPED\tDOCUMENT")
	for _, r := range runs {
		duration := "-"
		if !r.FinishedAt.IsZero() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		phase := r.Phase
		if r.Error != "" {
			phase += ": " + r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04"), duration, phase,
			r.Total, r.Succeeded, r.Failed, r.Skipped, r.Document)
	}
	return tw.Flush()
}

func writeResults(w io.Writer, results []doctree.GenerationResult) error {
	if len(results) == 0 {
		return errors.New("no results recorded for that run")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tTITLE\tSTATUS\tATTEMPTS\tERROR")
	for _, r := range results {
		status := "ok"
		if !r.Success {
			status = "fallback"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", r.SectionIndex, r.Title, status, r.Attempts, r.ErrorMessage)
	}
	return tw.Flush()
}
