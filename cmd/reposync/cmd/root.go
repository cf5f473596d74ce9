// Package cmd provides the CLI commands for reposync.
package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/reposync/internal/config"
	rserrors "github.com/Aman-CERP/reposync/internal/errors"
	"github.com/Aman-CERP/reposync/internal/logging"
	"github.com/Aman-CERP/reposync/internal/profiling"
	"github.com/Aman-CERP/reposync/internal/repository"
	"github.com/Aman-CERP/reposync/pkg/version"
)

// Global flags
var (
	debugMode      bool
	configPath     string
	loggingCleanup func()
)

// Profiling flags
var (
	profiles       profiling.Options
	profileSession *profiling.Session
)

// NewRootCmd creates the root command for the reposync CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reposync",
		Short: "Keep repository search indexes in sync with component storage",
		Long: `reposync maintains one search index per repository and keeps it in step
with the components held in storage.

Repositories are declared in .reposync.yaml in the working directory, or in
the file passed with --config. Indexes can be rebuilt, patched per component,
checked for drift and served over HTTP.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("reposync version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.reposync/logs/")
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (default: .reposync.yaml in the working directory)")

	cmd.PersistentFlags().StringVar(&profiles.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profiles.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profiles.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newRebuildCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newDropCmd())
	cmd.AddCommand(newRepositoriesCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging sends logs to the rotating debug file with --debug,
// otherwise only warnings reach stderr, then starts any requested profiles.
func startProfilingAndLogging(cmd *cobra.Command, _ []string) error {
	if debugMode {
		cleanup, err := logging.SetupDefault(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.Info("debug_logging_enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version),
			slog.String("command", cmd.CommandPath()))
	} else {
		logging.SetupConsole(cmd.ErrOrStderr(), "warn")
	}

	if profiles.Enabled() {
		session, err := profiling.Start(profiles)
		if err != nil {
			return err
		}
		profileSession = session
	}
	return nil
}

// stopProfilingAndLogging flushes profiles, then closes the debug log.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error
	if profileSession != nil {
		err = profileSession.Stop()
		profileSession = nil
	}

	if loggingCleanup != nil {
		slog.Info("debug_logging_stopped")
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// Execute runs the root command and prints any error in CLI form.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		printError(os.Stderr, err)
	}
	return err
}

func printError(w io.Writer, err error) {
	var se *rserrors.SyncError
	if stderrors.As(err, &se) {
		if debugMode {
			_, _ = fmt.Fprintln(w, rserrors.FormatForUser(err, true))
			return
		}
		_, _ = fmt.Fprint(w, rserrors.FormatForCLI(err))
		return
	}
	_, _ = fmt.Fprintf(w, "Error: %s\n", err)
}

// loadConfig reads --config when given, otherwise the working directory's configuration.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	dir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return config.Load(dir)
}

// configFile returns the file serve watches for changes, or "" when there is none.
func configFile() string {
	if configPath != "" {
		return configPath
	}
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	return config.ProjectFile(dir)
}

// openRepositories loads the configuration and starts every declared repository.
// The caller closes the manager.
func openRepositories(ctx context.Context) (*config.Config, *repository.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	mgr, err := repository.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, mgr, nil
}

// closeRepositories closes the manager, logging instead of failing the command.
func closeRepositories(mgr *repository.Manager) {
	if err := mgr.Close(context.Background()); err != nil {
		slog.Warn("failed to close repositories", slog.String("error", err.Error()))
	}
}
