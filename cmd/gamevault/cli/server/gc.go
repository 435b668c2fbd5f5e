package server

import (
	"context"
	"fmt"

	"github.com/mwantia/gamevault/cmd/gamevault/cli"
	"github.com/mwantia/gamevault/pkg/gc"
	"github.com/spf13/cobra"
)

func NewGCCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Run garbage collection passes",
		Long: `Run a single garbage collection pass against the metadata store.

Passes are safe to run while an agent is active and safe to repeat.`,
	}

	cmd.AddCommand(newGCPassCommand("tombstones", "Reap every subtree queued for deletion",
		func(ctx context.Context, c *gc.Collector) (gc.Stats, error) { return c.ReapTombstones(ctx) }))
	cmd.AddCommand(newGCPassCommand("content", "Release content no file references",
		func(ctx context.Context, c *gc.Collector) (gc.Stats, error) { return c.ReapUnreferencedContent(ctx) }))
	cmd.AddCommand(newGCPassCommand("blobs", "Remove blobs without a content record",
		func(ctx context.Context, c *gc.Collector) (gc.Stats, error) { return c.ScanBlobs(ctx) }))

	return cmd
}

func newGCPassCommand(use, short string, pass func(context.Context, *gc.Collector) (gc.Stats, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := cli.OpenServices(cmd.Context())
			if err != nil {
				return err
			}
			defer services.Close()

			stats, err := pass(cmd.Context(), services.GC)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "nodes: %d, contents: %d, blobs: %d\n", stats.Nodes, stats.Contents, stats.Blobs)
			return nil
		},
	}
}
