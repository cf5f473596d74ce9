package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/reposync/configs"
	"github.com/Aman-CERP/reposync/internal/config"
	rserrors "github.com/Aman-CERP/reposync/internal/errors"
	"github.com/Aman-CERP/reposync/internal/output"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a .reposync.yaml template",
		Long: `Init writes a commented .reposync.yaml into dir (default: the working
directory). Edit the repositories it declares, then run 'reposync rebuild'.`,
		Example: `  reposync init
  reposync init ./deploy --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runInit(cmd.Context(), cmd, dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration")

	return cmd
}

func runInit(_ context.Context, cmd *cobra.Command, dir string, force bool) error {
	path := filepath.Join(dir, config.ProjectFileName)
	if _, err := os.Stat(path); err == nil && !force {
		return rserrors.New(rserrors.ErrCodeInvalidInput, fmt.Sprintf("%s already exists", path), nil).
			WithSuggestion("Use --force to overwrite it")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
		return rserrors.New(rserrors.ErrCodeFilePermission, fmt.Sprintf("cannot write %s", path), err)
	}

	output.New(cmd.OutOrStdout()).Successf("Created %s", path)
	return nil
}
