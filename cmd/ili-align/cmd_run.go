package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/ili.report/internal/config"
	"github.com/banshee-data/ili.report/internal/ili/pipeline"
	"github.com/banshee-data/ili.report/internal/monitoring"
	"github.com/banshee-data/ili.report/internal/storage/sqlite"
)

type runFlags struct {
	surveys         []string
	configPath      string
	dbPath          string
	metricsTextfile string
	cluster         bool
	verbose         bool
	trace           bool
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile two or more surveys and print the results as JSON",
		Long: "run reconciles each consecutive pair of surveys, oldest first. With three or\n" +
			"more surveys it also chains matches into lineages and fits growth models.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReconcile(cmd, flags)
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&flags.surveys, "survey", nil, "Survey JSON file, oldest first (repeat for each survey)")
	f.StringVar(&flags.configPath, "config", "", "Tuning file (.yaml or .json); ILI_* environment variables override it")
	f.StringVar(&flags.dbPath, "db", "", "Archive results in this SQLite database")
	f.StringVar(&flags.metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this node-exporter textfile")
	f.BoolVar(&flags.cluster, "cluster", false, "Cluster the later survey's anomalies (overrides the tuning file)")
	f.BoolVar(&flags.verbose, "verbose", false, "Log per-stage summaries to stderr")
	f.BoolVar(&flags.trace, "trace", false, "Log per-record detail to stderr")
	_ = cmd.MarkFlagRequired("survey")
	return cmd
}

func runReconcile(cmd *cobra.Command, flags runFlags) error {
	stderr := cmd.ErrOrStderr()
	configureLogging(stderr, flags.verbose, flags.trace)

	if len(flags.surveys) < 2 {
		return fmt.Errorf("%w: got %d --survey flags", pipeline.ErrTooFewSurveys, len(flags.surveys))
	}

	tuning, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := tuning.PipelineConfig()
	if flags.cluster {
		cfg.Clustering = true
	}

	surveys := make([]pipeline.Survey, 0, len(flags.surveys))
	for _, path := range flags.surveys {
		s, err := loadSurvey(path)
		if err != nil {
			return err
		}
		surveys = append(surveys, s)
	}

	metrics := monitoring.NewMetrics()
	start := time.Now()

	var out interface{}
	var pairs []*pipeline.Result
	if len(surveys) == 2 {
		res, err := pipeline.Run(surveys[0], surveys[1], cfg)
		metrics.ObserveRun(res, time.Since(start), err)
		if err != nil {
			return writeMetricsOnError(metrics, flags.metricsTextfile, err)
		}
		out, pairs = res, []*pipeline.Result{res}
	} else {
		res, err := pipeline.RunSeries(surveys, cfg)
		if err != nil {
			metrics.ObserveRun(nil, time.Since(start), err)
			return writeMetricsOnError(metrics, flags.metricsTextfile, err)
		}
		for _, pr := range res.Pairs {
			metrics.ObserveRun(pr, pr.Elapsed, nil)
		}
		metrics.ObserveSeries(res)
		out, pairs = res, res.Pairs
	}

	if flags.dbPath != "" {
		if err := archive(flags.dbPath, pairs, cfg); err != nil {
			return err
		}
	}
	if flags.metricsTextfile != "" {
		if err := metrics.WriteTextfile(flags.metricsTextfile); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// configureLogging sends ops messages to stderr always, diag with --verbose,
// and trace with --trace.
func configureLogging(stderr io.Writer, verbose, trace bool) {
	var diag, tr io.Writer
	if verbose || trace {
		diag = stderr
	}
	if trace {
		tr = stderr
	}
	pipeline.SetAllLogWriters(stderr, diag, tr)

	logger := log.New(stderr, "[ili-align] ", log.LstdFlags)
	if verbose || trace {
		monitoring.SetLogger(logger.Printf)
	} else {
		monitoring.SetLogger(nil)
	}
}

func archive(path string, pairs []*pipeline.Result, cfg pipeline.Config) error {
	db, err := sqlite.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	store := sqlite.NewAnalysisRunStore(db.DB)
	for _, res := range pairs {
		run, err := store.RecordResult(res, cfg)
		if err != nil {
			return fmt.Errorf("archive %s -> %s: %w", res.SurveyB, res.SurveyA, err)
		}
		monitoring.Logf("archived run %s (%s -> %s)", run.RunID, res.SurveyB, res.SurveyA)
	}
	return nil
}

// writeMetricsOnError still writes the textfile so a failed run is visible
// to the scraper, then returns the run error.
func writeMetricsOnError(m *monitoring.Metrics, path string, runErr error) error {
	if path != "" {
		if err := m.WriteTextfile(path); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	return runErr
}
