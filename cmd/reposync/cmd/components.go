package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/reposync/internal/output"
	"github.com/Aman-CERP/reposync/internal/storage"
)

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <repository> <component-id>...",
		Short: "Index stored components",
		Long: `Put reads the given components from storage and writes their documents to
the repository's index. Ids that are not stored in the repository are skipped.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(cmd.Context(), cmd, args[0], toEntityIDs(args[1:]))
		},
	}
}

func runPut(ctx context.Context, cmd *cobra.Command, name string, ids []storage.EntityID) error {
	_, mgr, err := openRepositories(ctx)
	if err != nil {
		return err
	}
	defer closeRepositories(mgr)

	f, err := mgr.Get(name)
	if err != nil {
		return err
	}

	if len(ids) == 1 {
		err = f.Put(ctx, ids[0])
	} else {
		err = f.BulkPut(ctx, ids)
	}
	if err != nil {
		return err
	}

	output.New(cmd.OutOrStdout()).Successf("%s: %d component(s) submitted", name, len(ids))
	return nil
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <repository> <component-id>...",
		Short: "Remove component documents from an index",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd.Context(), cmd, args[0], toEntityIDs(args[1:]))
		},
	}
}

func runDelete(ctx context.Context, cmd *cobra.Command, name string, ids []storage.EntityID) error {
	_, mgr, err := openRepositories(ctx)
	if err != nil {
		return err
	}
	defer closeRepositories(mgr)

	f, err := mgr.Get(name)
	if err != nil {
		return err
	}

	var failures []error
	for _, id := range ids {
		if err := f.Delete(ctx, id); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", id, err))
		}
	}

	out := output.New(cmd.OutOrStdout())
	if len(failures) > 0 {
		out.Warningf("%s: %d of %d deletes failed", name, len(failures), len(ids))
		return errors.Join(failures...)
	}
	out.Successf("%s: %d component(s) removed", name, len(ids))
	return nil
}

func newDropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop <repository>",
		Short: "Delete a repository's search index",
		Long: `Drop deletes the repository's index. Stored components are kept.

A repository that is still declared in the configuration gets a fresh, empty
index the next time it starts; run 'reposync rebuild' to repopulate it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrop(cmd.Context(), cmd, args[0])
		},
	}
}

func runDrop(ctx context.Context, cmd *cobra.Command, name string) error {
	_, mgr, err := openRepositories(ctx)
	if err != nil {
		return err
	}
	defer closeRepositories(mgr)

	if err := mgr.Drop(ctx, name); err != nil {
		return err
	}
	output.New(cmd.OutOrStdout()).Successf("%s: index deleted", name)
	return nil
}

func newRepositoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "repositories",
		Aliases: []string{"repos", "ls"},
		Short:   "List configured repositories",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRepositories(cmd.Context(), cmd)
		},
	}
}

func runRepositories(ctx context.Context, cmd *cobra.Command) error {
	_, mgr, err := openRepositories(ctx)
	if err != nil {
		return err
	}
	defer closeRepositories(mgr)

	infos := mgr.Repositories()
	out := output.New(cmd.OutOrStdout())
	if len(infos) == 0 {
		out.Warning("No repositories configured. Declare them under 'repositories' in .reposync.yaml")
		return nil
	}

	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		count, err := mgr.Search().Count(ctx, info.Name)
		documents := fmt.Sprint(count)
		if err != nil {
			documents = "-"
		}
		rows = append(rows, []string{info.Name, info.Format, info.State, documents})
	}
	out.Table([]string{"NAME", "FORMAT", "STATE", "DOCUMENTS"}, rows)
	return nil
}

func toEntityIDs(args []string) []storage.EntityID {
	ids := make([]storage.EntityID, len(args))
	for i, a := range args {
		ids[i] = storage.EntityID(a)
	}
	return ids
}
