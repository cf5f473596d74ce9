package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/reposync/internal/index"
	"github.com/Aman-CERP/reposync/internal/output"
)

func newCheckCmd() *cobra.Command {
	var repair bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "check <repository>",
		Short: "Compare a repository's index with storage",
		Long: `Check lists orphan documents (indexed but no longer stored) and missing
components (stored but not indexed).

With --repair, orphans are deleted and missing components are indexed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), cmd, args[0], repair, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Fix the inconsistencies found")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the check result as JSON")

	return cmd
}

func runCheck(ctx context.Context, cmd *cobra.Command, name string, repair, jsonOutput bool) error {
	_, mgr, err := openRepositories(ctx)
	if err != nil {
		return err
	}
	defer closeRepositories(mgr)

	f, err := mgr.Get(name)
	if err != nil {
		return err
	}

	checker := index.NewConsistencyChecker(mgr.Store(), mgr.Search())
	result, err := checker.Check(ctx, name)
	if err != nil {
		return err
	}

	if repair && !result.Consistent() {
		if err := checker.Repair(ctx, f, result.Inconsistencies); err != nil {
			return err
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	out := output.New(cmd.OutOrStdout())
	out.Fields(map[string]string{
		"repository": name,
		"stored":     fmt.Sprint(result.Stored),
		"indexed":    fmt.Sprint(result.Indexed),
	})

	if result.Consistent() {
		out.Success("Index is consistent")
		return nil
	}

	rows := make([][]string, 0, len(result.Inconsistencies))
	for _, issue := range result.Inconsistencies {
		rows = append(rows, []string{issue.Type.String(), issue.ComponentID, issue.Details})
	}
	out.Newline()
	out.Table([]string{"TYPE", "COMPONENT", "DETAILS"}, rows)
	out.Newline()

	if repair {
		out.Successf("Repaired %d inconsistencies", len(result.Inconsistencies))
		return nil
	}
	out.Warningf("%d inconsistencies found. Run 'reposync check %s --repair' to fix them", len(result.Inconsistencies), name)
	return nil
}
