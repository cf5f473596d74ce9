package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	rserrors "github.com/Aman-CERP/reposync/internal/errors"
	"github.com/Aman-CERP/reposync/internal/output"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit  int
	format string // "text", "json"
	show   bool   // print each hit's document
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <repository> <query>",
		Short: "Search a repository's index",
		Long: `Search runs a plain match query against one repository's index and prints
the matching component ids by score.

Examples:
  reposync search libs-release "commons lang"
  reposync search npm-public lodash --limit 5 --show
  reposync search libs-release junit --format json`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, args[0], strings.Join(args[1:], " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.show, "show", false, "Print the indexed document of each hit")

	return cmd
}

type searchResult struct {
	ID       string          `json:"id"`
	Score    float64         `json:"score"`
	Document json.RawMessage `json:"document,omitempty"`
}

func runSearch(ctx context.Context, cmd *cobra.Command, name, query string, opts searchOptions) error {
	if opts.limit <= 0 {
		return rserrors.New(rserrors.ErrCodeInvalidQuery, "limit must be a positive integer", nil)
	}
	if opts.format != "text" && opts.format != "json" {
		return rserrors.ValidationError(fmt.Sprintf("unknown format %q (valid options: text, json)", opts.format), nil)
	}

	_, mgr, err := openRepositories(ctx)
	if err != nil {
		return err
	}
	defer closeRepositories(mgr)

	if _, err := mgr.Get(name); err != nil {
		return err
	}

	hits, err := mgr.Search().Search(ctx, name, query, opts.limit)
	if err != nil {
		return err
	}

	results := make([]searchResult, 0, len(hits))
	for _, hit := range hits {
		r := searchResult{ID: hit.ID, Score: hit.Score}
		if opts.show {
			body, ok, err := mgr.Search().Get(ctx, name, hit.ID)
			if err != nil {
				return err
			}
			if ok {
				r.Document = json.RawMessage(body)
			}
		}
		results = append(results, r)
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	out := output.New(cmd.OutOrStdout())
	if len(results) == 0 {
		out.Warningf("No results for %q in %s", query, name)
		return nil
	}

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{r.ID, fmt.Sprintf("%.3f", r.Score)})
	}
	out.Table([]string{"ID", "SCORE"}, rows)

	if opts.show {
		for _, r := range results {
			if r.Document == nil {
				continue
			}
			out.Newline()
			out.Status("", r.ID)
			out.Status("", string(r.Document))
		}
	}
	return nil
}
