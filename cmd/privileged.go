package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/defreg/internal/config"
)

var privilegedCmd = &cobra.Command{
	Use:   "privileged",
	Short: "Show or edit the privileged namespaces",
	Long: `Show the privileged namespaces, or add and remove entries in the config
file. Other settings and comments in the file are kept.

Examples:
  defreg privileged
  defreg privileged --add core --remove test`,
	Args: cobra.NoArgs,
	RunE: runPrivileged,
}

func init() {
	rootCmd.AddCommand(privilegedCmd)
	privilegedCmd.Flags().StringSlice("add", nil, "namespaces to add")
	privilegedCmd.Flags().StringSlice("remove", nil, "namespaces to remove")
}

func runPrivileged(cmd *cobra.Command, _ []string) error {
	add, _ := cmd.Flags().GetStringSlice("add")
	remove, _ := cmd.Flags().GetStringSlice("remove")

	names := editNamespaces(cfg.Namespaces.Privileged, add, remove)
	if len(add) > 0 || len(remove) > 0 {
		if err := config.ValidateNamespaces(config.NamespacesConfig{Privileged: names}); err != nil {
			return err
		}
		if err := config.SavePrivilegedNamespaces(cfgPath, names); err != nil {
			return fmt.Errorf("saving %s: %w", cfgPath, err)
		}
		cfg.Namespaces.Privileged = names
	}

	for _, n := range names {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), n)
	}
	return nil
}

// editNamespaces applies additions then removals, case-insensitively, keeping
// the original order.
func editNamespaces(current, add, remove []string) []string {
	out := slices.Clone(current)
	for _, a := range add {
		a = strings.ToLower(strings.TrimSpace(a))
		if !slices.ContainsFunc(out, func(n string) bool { return strings.EqualFold(n, a) }) {
			out = append(out, a)
		}
	}
	return slices.DeleteFunc(out, func(n string) bool {
		return slices.ContainsFunc(remove, func(r string) bool { return strings.EqualFold(n, strings.TrimSpace(r)) })
	})
}
