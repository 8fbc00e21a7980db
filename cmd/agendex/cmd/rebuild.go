package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/byraadsarkiv/agendex/internal/lexical"
	"github.com/byraadsarkiv/agendex/internal/search"
	"github.com/byraadsarkiv/agendex/internal/vector"
)

func newRebuildCmd() *cobra.Command {
	var checkOnly bool

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild both indexes from the document store",
		Long: `Rebuild the lexical and vector indexes from scratch out of the
document store, then replace the on-disk snapshots. The store is
the source of truth, so this always converges to a consistent
state; use it after changing BM25 or vector parameters, or when
'rebuild --check' reports drift.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRebuild(cmd, checkOnly)
		},
	}

	cmd.Flags().BoolVar(&checkOnly, "check", false, "Only verify store/index consistency, change nothing")
	return cmd
}

func runRebuild(cmd *cobra.Command, checkOnly bool) error {
	a, err := openApp(!checkOnly)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.openEmbedder(); err != nil {
		return err
	}
	if err := a.openIndexes(); err != nil {
		return err
	}

	engine := search.NewEngine(a.store, a.lex, a.vec, a.embedder, search.Config{}, a.log)
	ctx := cmd.Context()

	if checkOnly {
		if err := engine.CheckConsistency(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Indexes are consistent with the document store.")
		return nil
	}

	rb := search.NewRebuilder(a.store, engine,
		func() *lexical.Index { return lexical.NewIndex(a.cfg.BM25.K1, a.cfg.BM25.B) },
		func() (*vector.Index, error) { return vector.NewIndex(a.vectorConfig()) },
		a.log)
	stats, err := rb.Rebuild(ctx)
	if err != nil {
		return err
	}

	// Persist the freshly swapped-in generations.
	a.lex = engine.Lexical()
	a.vec = engine.Vector()
	if err := a.saveIndexes(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt indexes: %d chunks (%d embedded, %d pending) in %s\n",
		stats.Chunks, stats.Embedded, stats.Unembedded, stats.Took.Round(time.Millisecond))
	return nil
}
