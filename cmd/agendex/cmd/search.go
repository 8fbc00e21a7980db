package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/byraadsarkiv/agendex/internal/docstore"
	"github.com/byraadsarkiv/agendex/internal/search"
)

type searchOptions struct {
	limit             int
	offset            int
	committees        []string
	caseNumbers       []string
	sourceTypes       []string
	dateFrom          string
	dateTo            string
	tags              []string
	alpha             float64
	strategy          string
	effort            int
	includeSuperseded bool
	format            string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a hybrid query over the indexed documents",
		Long: `Run a hybrid query combining BM25 keyword scoring with vector
similarity. Filters are hard: a chunk outside the filter never
appears, regardless of score.

Examples:
  agendex search "lokalplan havnen"
  agendex search "cykelstier" --committee "Teknisk Udvalg" --limit 5
  agendex search "budget" --from 2024-01-01 --to 2024-06-30
  agendex search "varmeplan" --tag decision=approved --format json
  agendex search "skole" --alpha 1.0`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "Skip this many results (pagination)")
	cmd.Flags().StringSliceVar(&opts.committees, "committee", nil, "Filter by committee (repeatable)")
	cmd.Flags().StringSliceVar(&opts.caseNumbers, "case", nil, "Filter by case number (repeatable)")
	cmd.Flags().StringSliceVarP(&opts.sourceTypes, "type", "t", nil, "Filter by source type: agenda, minutes, attachment")
	cmd.Flags().StringVar(&opts.dateFrom, "from", "", "Earliest publication date (YYYY-MM-DD, inclusive)")
	cmd.Flags().StringVar(&opts.dateTo, "to", "", "Latest publication date (YYYY-MM-DD, inclusive)")
	cmd.Flags().StringSliceVar(&opts.tags, "tag", nil, "Filter by enrichment tag, name=value (repeatable)")
	cmd.Flags().Float64Var(&opts.alpha, "alpha", -1, "Lexical weight in [0,1]; 1 is keyword only, 0 is vector only")
	cmd.Flags().StringVar(&opts.strategy, "strategy", "", "Fusion strategy: weighted, rrf")
	cmd.Flags().IntVar(&opts.effort, "effort", 0, "Vector search effort (higher is slower, better recall)")
	cmd.Flags().BoolVar(&opts.includeSuperseded, "include-superseded", false, "Include superseded document versions")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	a, err := openApp(false)
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

	filter, err := buildFilter(opts)
	if err != nil {
		return err
	}

	limit := opts.limit
	if limit <= 0 {
		limit = a.cfg.Fusion.DefaultLimit
	}
	if limit > a.cfg.Fusion.MaxLimit {
		limit = a.cfg.Fusion.MaxLimit
	}

	engine := search.NewEngine(a.store, a.lex, a.vec, a.embedder, search.Config{
		Alpha:         &a.cfg.Fusion.Alpha,
		Strategy:      a.cfg.Fusion.Strategy,
		Normalization: a.cfg.Fusion.Normalization,
		RRFConstant:   a.cfg.Fusion.RRFConstant,
		Oversample:    a.cfg.Fusion.Oversample,
		PathTimeout:   a.cfg.Fusion.PathTimeout.Std(),
		Effort:        a.cfg.Vector.EfSearch,
	}, a.log)

	searchOpts := search.Options{
		Limit:    limit,
		Offset:   opts.offset,
		Filter:   filter,
		Strategy: opts.strategy,
		Effort:   opts.effort,
	}
	if opts.alpha >= 0 {
		if opts.alpha > 1 {
			return fmt.Errorf("alpha must be in [0,1], got %v", opts.alpha)
		}
		searchOpts.Alpha = &opts.alpha
	}

	resp, err := engine.Search(ctx, query, searchOpts)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printResults(cmd, resp, opts.offset)
	return nil
}

func buildFilter(opts searchOptions) (docstore.Filter, error) {
	filter := docstore.Filter{
		Committees:        opts.committees,
		CaseNumbers:       opts.caseNumbers,
		SourceTypes:       opts.sourceTypes,
		DateFrom:          opts.dateFrom,
		DateTo:            opts.dateTo,
		IncludeSuperseded: opts.includeSuperseded,
	}
	for _, tag := range opts.tags {
		name, value, ok := strings.Cut(tag, "=")
		if !ok || name == "" || value == "" {
			return filter, fmt.Errorf("invalid tag filter %q, expected name=value", tag)
		}
		if filter.Tags == nil {
			filter.Tags = make(map[string][]string)
		}
		key := name
		if !strings.Contains(key, ".") {
			key = "enrich." + key
		}
		filter.Tags[key] = append(filter.Tags[key], value)
	}
	return filter, nil
}

func printResults(cmd *cobra.Command, resp *search.Response, offset int) {
	out := cmd.OutOrStdout()
	if resp.Partial {
		fmt.Fprintf(out, "Warning: %s path unavailable, results are partial\n\n", resp.Degraded)
	}
	if len(resp.Results) == 0 {
		fmt.Fprintln(out, "No results.")
		return
	}

	for i, r := range resp.Results {
		fmt.Fprintf(out, "%d. %s (%s)\n", offset+i+1, r.Title, r.PublishedAt.Format("2006-01-02"))
		fmt.Fprintf(out, "   %s | %s | %s | score %.3f\n", r.Committee, r.CaseNumber, r.SourceType, r.Score)
		if r.Snippet != "" {
			fmt.Fprintf(out, "   %s\n", r.Snippet)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Showing %d-%d of %d (%s)\n",
		offset+1, offset+len(resp.Results), resp.Total, resp.Took.Round(time.Millisecond))
}
