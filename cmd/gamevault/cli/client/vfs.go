package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mwantia/gamevault/cmd/gamevault/cli"
	"github.com/mwantia/gamevault/internal/agent"
	"github.com/mwantia/gamevault/pkg/dbfs"
	"github.com/spf13/cobra"
)

func NewVfsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vfs",
		Short: "Manage virtual filesystem",
		Long:  "Manage the virtual filesystem (VFS) and list, create or remove entries. Paths are resolved from the root.",
	}

	cmd.AddCommand(NewVfsListCommand())
	cmd.AddCommand(NewVfsTestCommand())
	cmd.AddCommand(NewVfsPutCommand())
	cmd.AddCommand(NewVfsCatCommand())
	cmd.AddCommand(NewVfsRemoveCommand())
	cmd.AddCommand(NewVfsCreateDirectoryCommand())

	return cmd
}

// withServices opens the store for the duration of fn.
func withServices(cmd *cobra.Command, fn func(ctx context.Context, services *agent.Services) error) error {
	services, err := cli.OpenServices(cmd.Context())
	if err != nil {
		return err
	}
	defer services.Close()

	return fn(cmd.Context(), services)
}

func resolve(ctx context.Context, fs *dbfs.FS, p string) (dbfs.NodeID, error) {
	id, ok, err := fs.Resolve(ctx, dbfs.Root, p)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &dbfs.PathError{Op: "resolve", Anchor: dbfs.Root, Path: p, Err: dbfs.ErrNotFound}
	}
	return id, nil
}

func NewVfsListCommand() *cobra.Command {
	var humanReadable bool
	var longFormat bool

	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List virtual filesystem entries",
		Long:  "List all entries existing within the defined virtual filesystem path.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := "/"
			if len(args) > 0 {
				p = args[0]
			}

			return withServices(cmd, func(ctx context.Context, services *agent.Services) error {
				id, err := resolve(ctx, services.FS, p)
				if err != nil {
					return err
				}

				entries, err := services.FS.ReadDir(ctx, id)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				for _, entry := range entries {
					if !longFormat {
						fmt.Fprintln(out, entryName(entry))
						continue
					}

					size := "-"
					mode := "drwxr-xr-x"
					if !entry.IsDir() {
						info, err := services.FS.StatFile(ctx, entry.ID)
						if err != nil {
							return err
						}
						mode = info.Mode.String()
						size = fmt.Sprintf("%d", info.Size)
						if humanReadable {
							size = humanize.IBytes(uint64(info.Size))
						}
					}
					fmt.Fprintf(out, "%s %8s %10s %s\n", mode, entry.ID, size, entryName(entry))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&humanReadable, "human", "H", false, "Enable human-readable format")
	cmd.Flags().BoolVarP(&longFormat, "long", "l", false, "Display long format")

	return cmd
}

func entryName(node dbfs.Node) string {
	if node.IsDir() {
		return node.Name + "/"
	}
	return node.Name
}

func NewVfsTestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test <path>",
		Short: "Test virtual filesystem",
		Long:  "Tests if the defined path exists within the virtual filesystem.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, services *agent.Services) error {
				id, err := resolve(ctx, services.FS, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s exists (node %s)\n", args[0], id)
				return nil
			})
		},
	}

	return cmd
}

func NewVfsPutCommand() *cobra.Command {
	var inlineLimit int

	cmd := &cobra.Command{
		Use:   "put <local> <path>",
		Short: "Store a local file in the virtual filesystem",
		Long:  "Stores the content of a local file and links it at the defined path. The parent directory must exist.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			dir, name := path.Split(strings.TrimSuffix(args[1], "/"))
			return withServices(cmd, func(ctx context.Context, services *agent.Services) error {
				parent, err := resolve(ctx, services.FS, dir)
				if err != nil {
					return err
				}

				id, err := services.FS.WriteFile(ctx, parent, name, info.Mode().Perm(), data, inlineLimit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %s as node %s (%s)\n", args[1], id, humanize.IBytes(uint64(len(data))))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&inlineLimit, "inline-limit", dbfs.DefaultInlineLimit, "largest payload kept inside the database")

	return cmd
}

func NewVfsCatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Print the content of a virtual filesystem file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, services *agent.Services) error {
				id, err := resolve(ctx, services.FS, args[0])
				if err != nil {
					return err
				}

				rc, err := services.FS.ReadFile(ctx, id)
				if err != nil {
					return err
				}
				defer rc.Close()

				_, err = io.Copy(cmd.OutOrStdout(), rc)
				return err
			})
		},
	}

	return cmd
}

func NewVfsRemoveCommand() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Removes virtual filesystem entry",
		Long:  "Removes the virtual filesystem entry defined in the path. Removing a non-empty directory needs confirmation.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, services *agent.Services) error {
				id, err := resolve(ctx, services.FS, args[0])
				if err != nil {
					return err
				}
				if dbfs.IsWellKnown(id) {
					return fmt.Errorf("%s is a well-known directory: %w", args[0], dbfs.ErrLogic)
				}

				node, err := services.FS.Stat(ctx, id)
				if err != nil {
					return err
				}
				if node.IsDir() && !confirm {
					entries, err := services.FS.ReadDir(ctx, id)
					if err != nil {
						return err
					}
					if len(entries) > 0 {
						return errors.New("directory is not empty, use --confirm to remove it")
					}
				}

				if err := services.FS.Reparent(ctx, id, dbfs.CleanupDir, id.String()); err != nil {
					return err
				}
				stats, err := services.GC.ReapSubtree(ctx, id, true)
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s (%d nodes, %d contents, %d blobs)\n", args[0], stats.Nodes, stats.Contents, stats.Blobs)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&confirm, "confirm", "c", false, "Confirms the removal of a non-empty directory")

	return cmd
}

func NewVfsCreateDirectoryCommand() *cobra.Command {
	var parents bool

	cmd := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create virtual filesystem directory",
		Long:  "Create a new directory within the defined path. Existing directories are left untouched.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, services *agent.Services) error {
				id, err := services.FS.EnsureDirectory(ctx, dbfs.Root, args[0], parents)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (node %s)\n", args[0], id)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&parents, "parents", "p", false, "Create missing parent directories")

	return cmd
}
