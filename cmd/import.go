package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/defreg/internal/descriptor"
)

var importCmd = &cobra.Command{
	Use:   "import [pattern]",
	Short: "Copy sources from the source roots into the SQLite store",
	Long: `Copy every source matching pattern (default '*://*:*') from the configured
source roots into the SQLite store at sources.db_path.

Examples:
  defreg import --db ~/.defreg/sources.db
  defreg import 'ui:*' -r ./bundles`,
	Args: cobra.MaximumNArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	pattern := "*://*:*"
	if len(args) == 1 {
		pattern = args[0]
	}
	f, err := descriptor.NewFilter(pattern)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	n, err := a.Import(cmd.Context(), f)
	if err != nil {
		return fmt.Errorf("import stopped after %d sources: %w", n, err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d sources into %s\n", n, a.DB.Path())
	return nil
}
