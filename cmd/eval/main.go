// Command eval scores a question set against the indexed documents and
// writes <stem>_evaluation_results.csv (or .xlsx).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nikhilbhutani/ragchat/internal/app"
	"github.com/nikhilbhutani/ragchat/internal/config"
	"github.com/nikhilbhutani/ragchat/internal/eval"
)

func main() {
	if err := run(); err != nil {
		slog.Error("evaluation failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	questions := flag.String("questions", "", "CSV or XLSX question set with Question and Answer columns")
	outDir := flag.String("out", "", "directory for the results file (default: next to the question set)")
	format := flag.String("format", "csv", "results format: csv or xlsx")
	checkpoint := flag.String("checkpoint", "", "checkpoint file for resuming an interrupted run")
	flag.Parse()

	if *questions == "" {
		flag.Usage()
		return fmt.Errorf("-questions is required")
	}
	if *format != "csv" && *format != "xlsx" {
		return fmt.Errorf("unknown format %q", *format)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	app.SetupLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return err
	}

	qs, err := eval.LoadQuestions(*questions)
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	defer svc.Close()

	orch := svc.Orchestrator()
	if err := orch.Ready(); err != nil {
		return err
	}

	var opts []eval.Option
	if *checkpoint != "" {
		opts = append(opts, eval.WithCheckpoint(*checkpoint))
	}
	harness := eval.NewHarness(orch, svc.Metrics(), opts...)

	slog.Info("evaluating", "questions", len(qs), "judge_model", cfg.Eval.JudgeModel)
	table, err := harness.Run(ctx, qs)
	if err != nil {
		return err
	}

	out := eval.ResultPath(*questions, *outDir, "."+*format)
	if err := table.Save(out); err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	slog.Info("evaluation results saved", "path", out, "rows", len(table.Rows))
	return nil
}
