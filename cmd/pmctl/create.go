package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/pmemkit/kvservice"
	"github.com/joshuapare/pmemkit/pool"
	"github.com/joshuapare/pmemkit/replica"
)

var (
	createKind     string
	createHeapSize uint64
	createShards   int
)

func init() {
	cmd := newCreateCmd()
	cmd.Flags().StringVar(&createKind, "kind", "replica", "Root record: replica, kvservice or none")
	cmd.Flags().Uint64Var(&createHeapSize, "heap-size", 0, "Initial heap size in bytes (default 1 MiB)")
	cmd.Flags().IntVar(&createShards, "shards", 0, "kvservice map shards (default GOMAXPROCS)")
	rootCmd.AddCommand(cmd)
}

func newCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <pool>",
		Short: "Create a pool file with an empty root record",
		Long: `The create command makes a new pool file and, unless --kind none is
given, an empty replica or key/value service record at its root.

Example:
  pmctl create replica.pmk
  pmctl create kv.pmk --kind kvservice --shards 8`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(args)
		},
	}
}

func runCreate(args []string) error {
	path := args[0]
	cfg, err := sizeClasses()
	if err != nil {
		return err
	}
	p, err := pool.Create(path, pool.Options{
		HeapSize:    createHeapSize,
		SizeClasses: cfg,
		Layout:      "pmemkit",
		Logger:      log.Logger,
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer p.Close()

	switch createKind {
	case "none":
	case "replica":
		if _, err := replica.Open(p); err != nil {
			return err
		}
	case "kvservice":
		svc, err := kvservice.New(p, kvservice.Options{Shards: createShards})
		if err != nil {
			return err
		}
		if err := p.SetRoot(svc.Ref()); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown kind %q", createKind)
	}

	printInfo("Created %s (%s, pool %s)\n", path, createKind, p.UUID())
	return p.Close()
}
