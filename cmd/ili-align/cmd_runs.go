package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/ili.report/internal/storage/sqlite"
)

type runsFlags struct {
	dbPath string
	limit  int
	asJSON bool
}

func newRunsCmd() *cobra.Command {
	var flags runsFlags
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List archived reconciliation runs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listRuns(cmd, flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.dbPath, "db", "", "SQLite archive written by 'run --db' (required)")
	f.IntVar(&flags.limit, "limit", 20, "Maximum runs to list (0 for all)")
	f.BoolVar(&flags.asJSON, "json", false, "Print JSON instead of a table")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func listRuns(cmd *cobra.Command, flags runsFlags) error {
	db, err := sqlite.Open(flags.dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := sqlite.NewAnalysisRunStore(db.DB).ListRuns(flags.limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flags.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No archived runs.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tCREATED\tSURVEYS\tLANDMARKS\tMAX RESID\tMATCHED\tUNCERTAIN\tMISSING\tNEW")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s -> %s\t%d\t%.2f\t%d\t%d\t%d\t%d\n",
			r.RunID, r.CreatedAt.Format(time.RFC3339), r.SurveyB, r.SurveyA,
			r.Landmarks, r.MaxAbsResidual,
			r.Summary.Matched, r.Summary.Uncertain, r.Summary.Missing, r.Summary.New)
	}
	return w.Flush()
}
