package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/reposync/internal/logging"
	"github.com/Aman-CERP/reposync/internal/output"
)

type logsOptions struct {
	lines   int
	level   string
	pattern string
	file    string
	follow  bool
	noColor bool
}

func newLogsCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View reposync logs",
		Long: `Logs prints the tail of the reposync log file written by 'serve' and --debug.

Examples:
  reposync logs                        # last 50 lines
  reposync logs -f                     # follow new entries
  reposync logs --level warn           # warnings and errors only
  reposync logs --grep libs-release    # lines mentioning a repository`,
		Args: cobra.NoArgs,
		// logs reads the log file; it must not reconfigure logging itself.
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.pattern, "grep", "", "Only show lines matching this regular expression")
	cmd.Flags().StringVar(&opts.file, "file", "", "Log file (default: ~/.reposync/logs/reposync.log)")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow new entries")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runLogs(ctx context.Context, cmd *cobra.Command, opts logsOptions) error {
	path, err := logging.FindLogFile(opts.file)
	if err != nil {
		return err
	}

	cfg := logging.ViewerConfig{
		Level:   opts.level,
		NoColor: opts.noColor || !output.New(cmd.OutOrStdout()).Decorative(),
	}
	if opts.pattern != "" {
		re, err := regexp.Compile(opts.pattern)
		if err != nil {
			return fmt.Errorf("invalid --grep pattern: %w", err)
		}
		cfg.Pattern = re
	}

	viewer := logging.NewViewer(cfg, cmd.OutOrStdout())
	entries, err := viewer.Tail(path, opts.lines)
	if err != nil {
		return err
	}
	viewer.Print(entries)

	if !opts.follow {
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch := make(chan logging.LogEntry, 64)
	errCh := make(chan error, 1)
	go func() {
		errCh <- viewer.Follow(ctx, path, ch)
	}()

	for {
		select {
		case entry := <-ch:
			viewer.Print([]logging.LogEntry{entry})
		case err := <-errCh:
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
