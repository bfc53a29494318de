package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/dgallion1/sectiongen/internal/api"
	"github.com/dgallion1/sectiongen/internal/config"
	"github.com/dgallion1/sectiongen/internal/ledger"
	"github.com/dgallion1/sectiongen/internal/llm"
	"github.com/dgallion1/sectiongen/internal/metrics"
	"github.com/dgallion1/sectiongen/internal/pipeline"
	"github.com/dgallion1/sectiongen/internal/prompt"
	"github.com/dgallion1/sectiongen/internal/splitter"
	"github.com/dgallion1/sectiongen/internal/store"
	"github.com/dgallion1/sectiongen/internal/validate"
)

const (
	exitFailed      = 1
	exitPartial     = 3
	exitInterrupted = 130
)

var runCmd = &cobra.Command{
	Use:   "run <document>",
	Short: "Generate an artifact for every section of a document",
	Long: `Run splits the document, skips sections an earlier run already completed,
and generates the rest. The exit code reports whether the pipeline finished,
not whether every section succeeded: a run with fallback sections exits 0
unless --fail-on-partial is set. Inspect report.json for per-section results.

Exit codes: 0 done, 1 fatal error, 3 partial (with --fail-on-partial),
130 interrupted (the report is still written; rerun to resume).`,
	Args: cobra.ExactArgs(1),
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().Bool("retry-failed", false, "only regenerate sections the previous report lists as failed")
	runCmd.Flags().Int("start", 0, "index of the first section to process")
	runCmd.Flags().Int("limit", 0, "number of sections to process from --start (0 = all)")
	runCmd.Flags().Bool("fail-on-partial", false, "exit 3 when any section fell back")
	runCmd.Flags().String("output", "", "output directory (overrides output.dir)")
	runCmd.Flags().String("kind", "", "artifact kind: svg or text (overrides output.kind)")
	runCmd.Flags().Int("concurrency", 0, "sections in flight, 1..3 (overrides pipeline.concurrency)")
	runCmd.Flags().Int("leaf-level", 0, "heading level that opens a section (overrides document.leaf_level)")

	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, map[string]string{
		"output":      "output.dir",
		"kind":        "output.kind",
		"concurrency": "pipeline.concurrency",
		"leaf-level":  "document.leaf_level",
	})
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	kind, err := validate.ParseKind(cfg.Output.Kind)
	if err != nil {
		return err
	}
	retryFailed, _ := cmd.Flags().GetBool("retry-failed")
	start, _ := cmd.Flags().GetInt("start")
	limit, _ := cmd.Flags().GetInt("limit")
	failOnPartial, _ := cmd.Flags().GetBool("fail-on-partial")
	if start < 0 || limit < 0 {
		return fmt.Errorf("--start and --limit must not be negative")
	}
	if err := checkDocument(args[0]); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	document := args[0]
	runID := uuid.NewString()
	log := logger.With("run_id", runID)

	client, err := llm.New(cfg.LLM.Backend, llm.Options{
		APIKey:  cfg.APIKey(),
		Model:   cfg.LLM.Model,
		BaseURL: cfg.LLM.BaseURL,
	})
	if err != nil {
		return err
	}
	defer client.Close()
	stats := llm.NewCallStats(15 * time.Minute)
	timed := llm.WithStats(client, stats)

	renderer, err := prompt.NewRenderer(cfg.Prompts.Dir, string(kind), prompt.Style{
		BgColor:   cfg.Style.BgColor,
		TextColor: cfg.Style.TextColor,
		Font:      cfg.Style.Font,
		Colors:    cfg.Style.Colors,
	}, log)
	if err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}

	reg := prom.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	rec := metrics.NewRecorder(reg)
	progress := pipeline.NewProgress(runID, document)

	history := openLedger(cfg, log)
	if history != nil {
		defer history.Close()
	}

	if cfg.Status.Addr != "" {
		srvCtx, cancelSrv := context.WithCancel(context.Background())
		defer cancelSrv()
		srv := api.NewServer(api.Options{
			Progress: progress,
			Stats:    stats,
			Model:    client.Model(),
			Gatherer: reg,
			Ledger:   history,
			APIKey:   cfg.Status.APIKey,
			Log:      log,
		})
		go func() {
			if err := srv.ListenAndServe(srvCtx, cfg.Status.Addr); err != nil {
				log.Error("status server", "error", err)
			}
		}()
	}

	worker := pipeline.NewWorker(pipeline.WorkerOptions{
		Client:    timed,
		Renderer:  renderer,
		Validator: validate.New(kind, cfg.Pipeline.MinContentLength),
		Policy: pipeline.Policy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			BaseDelay:       cfg.Retry.BaseDelay,
			Growth:          cfg.Retry.Growth,
			MaxDelay:        cfg.Retry.MaxDelay,
			Jitter:          cfg.Retry.Jitter,
			RateLimitDelay:  cfg.Retry.RateLimitDelay,
			RateLimitJitter: cfg.Retry.RateLimitJitter,
		},
		Params: llm.Params{
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
		},
		Metrics:  rec,
		Progress: progress,
		Log:      log,
	})

	log.Info("starting run",
		"document", document,
		"kind", kind,
		"model", client.Model(),
		"concurrency", cfg.Pipeline.Concurrency,
		"output", cfg.Output.Dir)

	ctrl := pipeline.NewController(pipeline.Options{
		RunID:    runID,
		Document: document,
		Kind:     string(kind),
		Splitter: splitter.New(cfg.Document.LeafLevel),
		Store: store.Options{
			Dir:       cfg.Output.Dir,
			Ext:       kind.Ext(),
			Aggregate: cfg.Output.Aggregate,
			Report:    cfg.Output.Report,
			Resume:    cfg.Output.Resume,
		},
		Worker:      worker,
		Concurrency: cfg.Pipeline.Concurrency,
		Rest:        cfg.Pipeline.Rest,
		RetryFailed: retryFailed,
		Start:       start,
		Limit:       limit,
		Ledger:      history,
		Metrics:     rec,
		Progress:    progress,
		Log:         logger,
	})

	out := ctrl.Run(ctx)
	printSummary(cmd.OutOrStdout(), out, store.ReportPathFor(store.Options{Dir: cfg.Output.Dir, Report: cfg.Output.Report}))
	return outcomeError(out, failOnPartial)
}

// openLedger opens the run history. History is a convenience: a failure
// is logged and the run continues without it.
func openLedger(cfg config.Config, log *slog.Logger) *ledger.Ledger {
	path := cfg.LedgerPath()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warn("run history disabled", "error", err)
		return nil
	}
	l, err := ledger.Open(path)
	if err != nil {
		log.Warn("run history disabled", "error", err)
		return nil
	}
	return l
}

func printSummary(w io.Writer, out pipeline.Outcome, reportPath string) {
	if out.Report == nil {
		return
	}
	s := out.Report.Statistics
	fmt.Fprintf(w, "%d sections: %d succeeded, %d failed, %d skipped (%.2f%% success), %d characters\n",
		s.Total, s.Succeeded, s.Failed, s.Skipped, s.SuccessRate, s.Characters)
	fmt.Fprintf(w, "report: %s\n", reportPath)
}

// outcomeError maps how the pipeline ended to the process exit code.
func outcomeError(out pipeline.Outcome, failOnPartial bool) error {
	switch {
	case !out.Success:
		err := out.Err
		if err == nil {
			err = errors.New("pipeline failed")
		}
		return &exitError{code: exitFailed, err: err}
	case out.Interrupted:
		return &exitError{code: exitInterrupted, err: errors.New("interrupted; rerun the same command to resume")}
	case failOnPartial && out.Partial():
		return &exitError{
			code: exitPartial,
			err:  fmt.Errorf("%d of %d sections failed", out.Report.Statistics.Failed, out.Report.Statistics.Total),
		}
	}
	return nil
}
