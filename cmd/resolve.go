package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/presentation"
	"github.com/zjrosen/defreg/internal/registry"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <descriptor>",
	Short: "Resolve a definition and validate its closure",
	Long: `Resolve a definition, validate every definition it depends on and print it
as JSON together with the UID of its closure.

Examples:
  defreg resolve ui:button
  defreg resolve ui.buttonController --type CONTROLLER
  defreg resolve markup://ui:shell --type APPLICATION`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

var uidCmd = &cobra.Command{
	Use:   "uid <descriptor>",
	Short: "Print the UID of a definition's closure",
	Long: `Print the UID of a definition's dependency closure.

With --candidate the UID a client already holds is compared with the fresh
one. Under uid.stale_policy=error a mismatch exits non-zero after printing.

Examples:
  defreg uid ui:button
  defreg uid ui:button --candidate 3q2-7w...`,
	Args: cobra.ExactArgs(1),
	RunE: runUID,
}

var depsCmd = &cobra.Command{
	Use:   "deps <descriptor>",
	Short: "List every definition in a closure",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeps,
}

func init() {
	rootCmd.AddCommand(resolveCmd, uidCmd, depsCmd)

	defTypeFlag(resolveCmd, descriptor.Component)
	defTypeFlag(uidCmd, descriptor.Component)
	defTypeFlag(depsCmd, descriptor.Component)
	uidCmd.Flags().String("candidate", "", "UID held by the client")
}

func parseArg(cmd *cobra.Command, parse func(string, descriptor.DefType) (descriptor.Descriptor, error), raw string) (descriptor.Descriptor, error) {
	t, err := defTypeFromFlag(cmd)
	if err != nil {
		return descriptor.Descriptor{}, err
	}
	return parse(raw, t)
}

func runResolve(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	d, err := parseArg(cmd, a.Parse, args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rc := a.NewContext()
	uid, err := a.Registry.GetUID(ctx, rc, "", d)
	if err != nil {
		_ = formatter(cmd).FormatError(err)
		return err
	}
	def, err := a.Registry.Resolve(ctx, rc, d)
	if err != nil {
		return err
	}
	return formatter(cmd).FormatDefinition(presentation.FromDefinition(def, uid))
}

func runUID(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	d, err := parseArg(cmd, a.Parse, args[0])
	if err != nil {
		return err
	}
	candidate, _ := cmd.Flags().GetString("candidate")

	uid, err := a.Registry.GetUID(cmd.Context(), a.NewContext(), candidate, d)
	if err != nil && !errors.Is(err, registry.ErrClientOutOfSync) {
		_ = formatter(cmd).FormatError(err)
		return err
	}
	out := presentation.UIDDTO{
		Descriptor: presentation.FromDescriptor(d),
		UID:        uid,
		Candidate:  candidate,
		Stale:      candidate != "" && candidate != uid,
	}
	if ferr := formatter(cmd).FormatUID(out); ferr != nil {
		return ferr
	}
	return err
}

func runDeps(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	d, err := parseArg(cmd, a.Parse, args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rc := a.NewContext()
	uid, err := a.Registry.GetUID(ctx, rc, "", d)
	if err != nil {
		_ = formatter(cmd).FormatError(err)
		return err
	}
	deps, ok := a.Registry.GetDependencies(ctx, rc, uid)
	if !ok {
		return fmt.Errorf("no closure recorded for %s", uid)
	}
	return formatter(cmd).FormatDependencies(presentation.DependenciesDTO{
		UID:          uid,
		Dependencies: presentation.FromDescriptors(deps),
	})
}
