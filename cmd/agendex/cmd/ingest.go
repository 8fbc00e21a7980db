package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/byraadsarkiv/agendex/internal/enrich"
	"github.com/byraadsarkiv/agendex/internal/ingest"
)

type ingestOptions struct {
	full     bool
	schedule string
}

func newIngestCmd() *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Pull the change feed and index new documents",
		Long: `Pull the publication change feed from the committed cursor, chunk
and embed new document versions, and update both indexes.

With --full the cursor is ignored and the entire feed is re-read
from the beginning. Re-ingesting known versions is a no-op, so a
backfill converges without duplicating anything.

With --schedule (or ingest.schedule in the config) the command
keeps running and ingests on the given cron expression until
interrupted.

Examples:
  agendex ingest
  agendex ingest --full
  agendex ingest --schedule "*/15 * * * *"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.full, "full", false, "Re-read the whole feed from the beginning")
	cmd.Flags().StringVar(&opts.schedule, "schedule", "", "Cron expression for recurring ingestion")
	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, opts ingestOptions) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is not configured (run 'agendex init' and edit agendex.yaml)")
	}
	if err := a.openEmbedder(); err != nil {
		return err
	}
	if err := a.openIndexes(); err != nil {
		return err
	}

	source, err := ingest.NewHTTPSource(ingest.HTTPSourceConfig{
		BaseURL:           a.cfg.Source.BaseURL,
		RequestsPerSecond: a.cfg.Source.RequestsPerSecond,
		Timeout:           a.cfg.Source.Timeout.Std(),
	})
	if err != nil {
		return err
	}

	pipeline, err := ingest.NewPipeline(a.store, a.lex, a.vec, a.embedder,
		enrich.NewEngine(a.cfg.Enrich.ConfidenceThreshold), source, ingest.Config{
			Workers:      a.cfg.Ingest.Workers,
			BatchSize:    a.cfg.Ingest.BatchSize,
			MaxRetries:   a.cfg.Ingest.MaxRetries,
			InitialDelay: a.cfg.Ingest.RetryInitialDelay.Std(),
			MaxDelay:     a.cfg.Ingest.RetryMaxDelay.Std(),
			ChunkSize:    a.cfg.Ingest.ChunkSize,
			ChunkOverlap: a.cfg.Ingest.ChunkOverlap,
		})
	if err != nil {
		return err
	}
	defer pipeline.Release()

	runOnce := func(ctx context.Context) error {
		var result *ingest.RunResult
		var err error
		if opts.full {
			result, err = pipeline.RunFull(ctx)
		} else {
			result, err = pipeline.Run(ctx)
		}
		if err != nil {
			return err
		}
		if err := a.saveIndexes(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d documents (%d failed, %d deleted, %d skipped), cursor %q\n",
			result.Processed, result.Failed, result.Deleted, result.Skipped, result.Cursor)
		return nil
	}

	schedule := opts.schedule
	if schedule == "" {
		schedule = a.cfg.Ingest.Schedule
	}
	if schedule == "" {
		return runOnce(ctx)
	}
	return runScheduled(ctx, cmd, a.log, schedule, runOnce)
}

// runScheduled runs an initial ingest immediately, then repeats on
// the cron schedule until the process is interrupted.
func runScheduled(ctx context.Context, cmd *cobra.Command, logger *slog.Logger, schedule string, runOnce func(context.Context) error) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runOnce(ctx); err != nil {
		return err
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if err := runOnce(ctx); err != nil {
			logger.Error("scheduled ingest failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	c.Start()
	fmt.Fprintf(cmd.OutOrStdout(), "Ingesting on schedule %q, press Ctrl-C to stop\n", schedule)
	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return nil
}
