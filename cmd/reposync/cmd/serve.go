package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/reposync/internal/api"
	"github.com/Aman-CERP/reposync/internal/config"
	"github.com/Aman-CERP/reposync/internal/logging"
	"github.com/Aman-CERP/reposync/internal/repository"
	"github.com/Aman-CERP/reposync/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var addr string
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the index API over HTTP",
		Long: `Serve starts every configured repository and exposes rebuild, search,
component synchronization and consistency checks over HTTP.

The configuration file is watched: repositories added to or removed from it
are started or stopped without a restart. Storage and search settings are
read once at startup.

Logs go to ~/.reposync/logs/reposync.log at server.log_level.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), addr, noWatch)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.addr from the configuration)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload repositories when the configuration changes")

	return cmd
}

func runServe(ctx context.Context, addr string, noWatch bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if !debugMode {
		logCfg := logging.DefaultConfig(cfg.Server.LogLevel)
		logCfg.WriteToStderr = true
		cleanup, err := logging.SetupDefault(logCfg)
		if err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}
		defer cleanup()
	}

	if addr == "" {
		addr = cfg.Server.Addr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	mgr, err := repository.Open(ctx, cfg)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer closeRepositories(mgr)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	watchPath := ""
	if !noWatch {
		watchPath = configFile()
	}
	return serve(ctx, ln, mgr, cfg, watchPath, loadConfig)
}

// serve runs the HTTP API on ln and, when watchPath is set, reloads the configuration
// through load on every change of that file and reconciles repositories. It returns
// once ctx is done and both have stopped.
func serve(ctx context.Context, ln net.Listener, mgr *repository.Manager, cfg *config.Config, watchPath string, load watcher.Loader) error {
	g, gctx := errgroup.WithContext(ctx)

	if watchPath != "" {
		w, err := watcher.NewConfigWatcher(watchPath, load, reconcileFunc(mgr, cfg), watcher.DefaultOptions())
		if err != nil {
			_ = ln.Close()
			return err
		}
		g.Go(func() error {
			if err := w.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		return api.ServeListener(gctx, ln, api.NewHandler(mgr).Routes())
	})

	return g.Wait()
}

// reconcileFunc applies reloaded repository declarations to mgr. Storage and search
// settings of the running process stay those of initial.
func reconcileFunc(mgr *repository.Manager, initial *config.Config) watcher.ReloadFunc {
	return func(ctx context.Context, cfg *config.Config) error {
		if cfg.Storage != initial.Storage || cfg.Search != initial.Search {
			slog.Warn("config_change_requires_restart",
				slog.String("reason", "storage and search settings are read at startup"))
		}

		result, err := mgr.Reconcile(ctx, cfg.Repositories)
		if err != nil {
			return err
		}
		if !result.Changed() {
			slog.Debug("repositories_unchanged")
		}
		return nil
	}
}
