package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/reposync/internal/output"
)

func newRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild [pattern]",
		Short: "Rebuild repository indexes from storage",
		Long: `Rebuild clears each selected repository's index and repopulates it from
the components in storage.

The optional pattern selects repositories by name and accepts globs:
  reposync rebuild                   # every repository
  reposync rebuild libs-release
  reposync rebuild 'libs-*'
  reposync rebuild '{maven,npm}-*'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}
			return runRebuild(cmd.Context(), cmd, pattern)
		},
	}
}

func runRebuild(ctx context.Context, cmd *cobra.Command, pattern string) error {
	_, mgr, err := openRepositories(ctx)
	if err != nil {
		return err
	}
	defer closeRepositories(mgr)

	names, err := mgr.Select(pattern)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	var failures []error
	for _, name := range names {
		start := time.Now()
		f, err := mgr.Get(name)
		if err == nil {
			err = f.RebuildIndex(ctx)
		}
		if err != nil {
			out.Errorf("%s: rebuild failed", name)
			failures = append(failures, err)
			continue
		}

		count, err := mgr.Search().Count(ctx, name)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		slog.Info("rebuild_complete",
			slog.String("repository", name),
			slog.Int("documents", count),
			slog.Duration("duration", time.Since(start)))
		out.Successf("%s: %d documents indexed", name, count)
	}

	if len(failures) > 0 {
		return fmt.Errorf("%d of %d rebuilds failed: %w", len(failures), len(names), errors.Join(failures...))
	}
	return nil
}
