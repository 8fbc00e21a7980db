package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/byraadsarkiv/agendex/internal/ingest"
)

// statusReport is the machine-readable status output.
type statusReport struct {
	DataDir             string            `json:"dataDir"`
	OpenDocuments       int               `json:"openDocuments"`
	SupersededDocuments int               `json:"supersededDocuments"`
	Chunks              int               `json:"chunks"`
	EmbeddedChunks      int               `json:"embeddedChunks"`
	FailedDocuments     int               `json:"failedDocuments"`
	ChangeSeq           int64             `json:"changeSeq"`
	Cursor              string            `json:"cursor,omitempty"`
	Failures            []failedDocReport `json:"failures,omitempty"`
}

type failedDocReport struct {
	DocumentID string    `json:"documentId"`
	Stage      string    `json:"stage"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"lastError"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store counts, the feed cursor, and failed documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runStatus(cmd *cobra.Command, jsonOutput bool) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	stats, err := a.store.GetStats(ctx)
	if err != nil {
		return err
	}

	cursor, err := a.store.GetState(ctx, ingest.CursorStateKey)
	if err != nil {
		return err
	}

	failed, err := a.store.FailedDocuments(ctx)
	if err != nil {
		return err
	}

	report := statusReport{
		DataDir:             a.cfg.Storage.DataDir,
		OpenDocuments:       stats.OpenDocuments,
		SupersededDocuments: stats.SupersededDocuments,
		Chunks:              stats.Chunks,
		EmbeddedChunks:      stats.EmbeddedChunks,
		FailedDocuments:     stats.FailedDocuments,
		ChangeSeq:           stats.ChangeSeq,
		Cursor:              cursor,
	}
	for _, f := range failed {
		report.Failures = append(report.Failures, failedDocReport{
			DocumentID: f.DocumentID,
			Stage:      string(f.Stage),
			Attempts:   f.Attempts,
			LastError:  f.LastError,
			UpdatedAt:  f.UpdatedAt,
		})
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Data dir:       %s\n", report.DataDir)
	fmt.Fprintf(out, "Documents:      %d open, %d superseded\n", report.OpenDocuments, report.SupersededDocuments)
	fmt.Fprintf(out, "Chunks:         %d (%d embedded)\n", report.Chunks, report.EmbeddedChunks)
	fmt.Fprintf(out, "Change seq:     %d\n", report.ChangeSeq)
	if report.Cursor != "" {
		fmt.Fprintf(out, "Feed cursor:    %q\n", report.Cursor)
	} else {
		fmt.Fprintln(out, "Feed cursor:    none (no ingest run yet)")
	}
	if len(report.Failures) == 0 {
		fmt.Fprintln(out, "Failed:         none")
		return nil
	}
	fmt.Fprintf(out, "Failed:         %d\n", len(report.Failures))
	for _, f := range report.Failures {
		fmt.Fprintf(out, "  %s at %s (%d attempts): %s\n", f.DocumentID, f.Stage, f.Attempts, f.LastError)
	}
	return nil
}
