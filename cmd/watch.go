package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/defreg/internal/log"
	"github.com/zjrosen/defreg/internal/presentation"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow source changes and print registry invalidations",
	Long: `Watch every source root and apply changes to the registry, printing one
JSON line per invalidation until interrupted.

With --follow-log the debug log is streamed to stderr as well (requires
--debug or DEFREG_DEBUG).`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Bool("follow-log", false, "stream log entries to stderr")
}

// invalidationLine is one line of watch output.
type invalidationLine struct {
	Time       time.Time                   `json:"time"`
	Kind       string                      `json:"kind"`
	Descriptor *presentation.DescriptorDTO `json:"descriptor,omitempty"`
	Reset      bool                        `json:"reset,omitempty"`
}

func runWatch(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	invalidations := a.Registry.Changes(ctx)
	if err := a.Watch(ctx); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}

	if follow, _ := cmd.Flags().GetBool("follow-log"); follow {
		go tailLog(ctx, cmd)
	}

	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Watching %d source roots, press Ctrl+C to stop\n", len(a.Files))
	f := formatter(cmd)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-invalidations:
			if !ok {
				return nil
			}
			line := invalidationLine{Time: ev.Timestamp, Kind: ev.Payload.Kind.String()}
			if ev.Payload.Descriptor == nil {
				line.Reset = true
			} else {
				d := presentation.FromDescriptor(*ev.Payload.Descriptor)
				line.Descriptor = &d
			}
			if err := f.FormatEvent(line); err != nil {
				return err
			}
		}
	}
}

func tailLog(ctx context.Context, cmd *cobra.Command) {
	entries := log.Subscribe(ctx)
	if entries == nil {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "--follow-log needs --debug")
		return
	}
	for entry := range entries {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), entry.Payload)
	}
}
