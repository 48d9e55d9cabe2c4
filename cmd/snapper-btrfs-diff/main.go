package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/containerd/log"
	"github.com/urfave/cli/v2"

	"github.com/pa-sowa/snapper/internal/btrfs"
	"github.com/pa-sowa/snapper/internal/differ"
	"github.com/pa-sowa/snapper/internal/dirfd"
	"github.com/pa-sowa/snapper/internal/preflight"
	"github.com/pa-sowa/snapper/internal/snapshot"
	"github.com/pa-sowa/snapper/pkg/diff"
)

// Version information - set via ldflags at build time
// Example: go build -ldflags "-X main.version=1.0.0 -X main.gitCommit=$(git rev-parse HEAD)"
var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	app := &cli.App{
		Name:      "snapper-btrfs-diff",
		Usage:     "Compare two read-only btrfs snapshots via the kernel send stream",
		Version:   fmt.Sprintf("%s (commit: %s)", version, gitCommit),
		ArgsUsage: "SNAPSHOT1 SNAPSHOT2",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "base",
				Aliases: []string{"b"},
				Usage:   "Subvolume root the snapshots belong to",
				Value:   "/",
				EnvVars: []string{"SNAPPER_BTRFS_BASE"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Logging level [trace, debug, info, warn, error]",
				Value:   "warn",
				EnvVars: []string{"SNAPPER_BTRFS_LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:  "fallback-only",
				Usage: "Skip the send-stream core and walk both trees",
			},
		},
		Before: func(c *cli.Context) error {
			return log.SetLevel(c.String("log-level"))
		},
		Action: runDiff,
		Commands: []*cli.Command{
			{
				Name:      "subvolumes",
				Usage:     "List the subvolumes of the filesystem holding a base directory",
				ArgsUsage: "[BASE]",
				Action:    runSubvolumes,
			},
			{
				Name:   "preflight",
				Usage:  "Check kernel and filesystem requirements",
				Action: runPreflight,
			},
			{
				Name:  "snapshot",
				Usage: "Manage the .snapshots subtree of the base subvolume",
				Subcommands: []*cli.Command{
					{
						Name:   "create",
						Usage:  "Create a snapshot of the base subvolume",
						Action: runSnapshotCreate,
						Flags: []cli.Flag{
							&cli.Uint64Flag{Name: "num", Usage: "Snapshot number", Required: true},
							&cli.Uint64Flag{Name: "parent", Usage: "Snapshot the snapshot of this number instead of the subvolume"},
							&cli.BoolFlag{Name: "read-only", Usage: "Create the snapshot read-only", Value: true},
							&cli.StringFlag{Name: "description", Usage: "Free-form description stored in the registry"},
						},
					},
					{
						Name:      "delete",
						Usage:     "Delete a snapshot",
						ArgsUsage: "NUM",
						Action:    runSnapshotDelete,
					},
					{
						Name:   "list",
						Usage:  "List registered snapshots",
						Action: runSnapshotList,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "snapper-btrfs-diff: %v\n", err)
		os.Exit(1)
	}
}

func withSignalContext(fn func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return fn(ctx)
}

func runDiff(c *cli.Context) error {
	if c.NArg() != 2 {
		cli.ShowAppHelp(c)
		return cli.Exit("SNAPSHOT1 and SNAPSHOT2 are required", 2)
	}

	return withSignalContext(func(ctx context.Context) error {
		printResult := func(path string, status diff.Status) {
			fmt.Printf("%s %s\n", status, path)
		}

		if c.Bool("fallback-only") {
			d1, err := dirfd.Open(c.Args().Get(0))
			if err != nil {
				return err
			}
			defer d1.Close()
			d2, err := dirfd.Open(c.Args().Get(1))
			if err != nil {
				return err
			}
			defer d2.Close()
			return differ.FallbackCmpDirs(ctx, d1, d2, differ.Callback(printResult))
		}

		return diff.CmpDirsPaths(ctx, c.String("base"), c.Args().Get(0), c.Args().Get(1), printResult)
	})
}

func runSubvolumes(c *cli.Context) error {
	base := c.Args().Get(0)
	if base == "" {
		base = "/"
	}

	d, err := dirfd.Open(base)
	if err != nil {
		return err
	}
	defer d.Close()

	index, err := btrfs.NewSubvolumeIndex(d.FD(), d.Name())
	if err != nil {
		return err
	}

	for _, si := range index.Subvolumes() {
		ro := "rw"
		if si.ReadOnly {
			ro = "ro"
		}
		path := si.Path
		if path == "" {
			path = "<top level>"
		}
		fmt.Printf("%-6d %-36s %-3s %s\n", si.RootID, si.UUID, ro, path)
	}
	return nil
}

func runPreflight(c *cli.Context) error {
	if err := preflight.Check(c.String("base")); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func openManager(c *cli.Context) (*snapshot.Manager, *snapshot.Registry, error) {
	base := c.String("base")
	registry, err := snapshot.OpenRegistry(snapshot.RegistryPath(base))
	if err != nil {
		return nil, nil, err
	}
	mgr, err := snapshot.NewManager(base, registry)
	if err != nil {
		registry.Close()
		return nil, nil, err
	}
	return mgr, registry, nil
}

func runSnapshotCreate(c *cli.Context) error {
	return withSignalContext(func(ctx context.Context) error {
		mgr, registry, err := openManager(c)
		if err != nil {
			return err
		}
		defer registry.Close()
		defer mgr.Close()

		return mgr.Create(ctx, c.Uint64("num"), c.Uint64("parent"),
			c.Bool("read-only"), c.String("description"))
	})
}

func runSnapshotDelete(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.ShowSubcommandHelp(c)
	}
	num, err := strconv.ParseUint(c.Args().Get(0), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid snapshot number %q", c.Args().Get(0))
	}

	return withSignalContext(func(ctx context.Context) error {
		mgr, registry, err := openManager(c)
		if err != nil {
			return err
		}
		defer registry.Close()
		defer mgr.Close()

		return mgr.Delete(ctx, num)
	})
}

func runSnapshotList(c *cli.Context) error {
	registry, err := snapshot.OpenRegistry(snapshot.RegistryPath(c.String("base")))
	if err != nil {
		return err
	}
	defer registry.Close()

	recs, err := registry.List()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		ro := "rw"
		if rec.ReadOnly {
			ro = "ro"
		}
		fmt.Printf("%-6d %-6d %-3s %-20s %s\n",
			rec.Num, rec.Parent, ro, rec.CreatedAt.Format(time.RFC3339), rec.Description)
	}
	return nil
}
