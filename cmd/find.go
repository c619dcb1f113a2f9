package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/presentation"
)

var findCmd = &cobra.Command{
	Use:   "find <pattern>",
	Short: "List descriptors matching a filter",
	Long: `List every descriptor matching a glob filter across all source roots and
the source store, as JSON.

Examples:
  defreg find 'ui:*'
  defreg find 'markup://test:house*' --type APPLICATION
  defreg find 'js://ui.*' -t CONTROLLER -t HELPER`,
	Args: cobra.ExactArgs(1),
	RunE: runFind,
}

func init() {
	rootCmd.AddCommand(findCmd)
	findCmd.Flags().StringSliceP("type", "t", nil, "restrict to definition types (repeatable)")
}

func runFind(cmd *cobra.Command, args []string) error {
	raw, _ := cmd.Flags().GetStringSlice("type")
	types := make([]descriptor.DefType, 0, len(raw))
	for _, r := range raw {
		t, err := descriptor.ParseDefType(r)
		if err != nil {
			return err
		}
		types = append(types, t)
	}
	f, err := descriptor.NewFilter(args[0], types...)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	found, err := a.Registry.Find(cmd.Context(), a.NewContext(), f)
	if err != nil {
		return err
	}
	return formatter(cmd).FormatDescriptors(presentation.FromDescriptors(found))
}
