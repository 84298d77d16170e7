package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/joshuapare/pmemkit/container"
)

func init() {
	rootCmd.AddCommand(newInfoCmd())
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <pool>",
		Short: "Show the region header and recovery status",
		Long: `The info command opens a pool, recovering an interrupted transaction
if there is one, and prints the region header.

Example:
  pmctl info replica.pmk
  pmctl info replica.pmk --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(args)
		},
	}
}

type poolInfo struct {
	Path       string    `json:"path"`
	UUID       string    `json:"uuid"`
	Layout     string    `json:"layout"`
	Version    uint32    `json:"version"`
	Created    time.Time `json:"created"`
	Size       int64     `json:"size"`
	HeapStart  uint64    `json:"heap_start"`
	HeapEnd    uint64    `json:"heap_end"`
	LogSize    uint64    `json:"log_size"`
	Root       uint64    `json:"root"`
	RootKind   string    `json:"root_kind"`
	Sequence   uint64    `json:"sequence"`
	Recovered  bool      `json:"recovered"`
	RepairedSq bool      `json:"sequence_repaired"`
}

func runInfo(args []string) error {
	p, err := openPool(args[0])
	if err != nil {
		return err
	}
	defer p.Close()

	kind, _, err := openRecord(p)
	if err != nil {
		return err
	}
	r := p.Region()
	h := r.Header()
	info := poolInfo{
		Path:       args[0],
		UUID:       p.UUID().String(),
		Layout:     h.Layout(),
		Version:    h.Version(),
		Created:    h.Created(),
		Size:       r.Size(),
		HeapStart:  r.HeapStart(),
		HeapEnd:    r.HeapEnd(),
		LogSize:    h.LogSize(),
		Root:       uint64(p.Root()),
		RootKind:   kind,
		Sequence:   h.PrimarySeq(),
		Recovered:  p.Recovery().Recovered,
		RepairedSq: p.Recovery().SequenceRepair,
	}
	if jsonOut {
		return printJSON(info)
	}

	pr := container.Printer()
	printInfo("Pool Information:\n")
	printInfo("  File:      %s\n", info.Path)
	printInfo("  UUID:      %s\n", info.UUID)
	printInfo("  Layout:    %s (version %d)\n", info.Layout, info.Version)
	printInfo("  Created:   %s\n", info.Created.Format(time.RFC3339))
	printInfo("  Size:      %s bytes\n", pr.Sprintf("%d", info.Size))
	printInfo("  Heap:      0x%x - 0x%x\n", info.HeapStart, info.HeapEnd)
	printInfo("  Undo log:  %s bytes\n", pr.Sprintf("%d", info.LogSize))
	printInfo("  Sequence:  %d\n", info.Sequence)
	if kind == "" {
		printInfo("  Root:      none\n")
	} else {
		printInfo("  Root:      0x%x (%s)\n", info.Root, kind)
	}
	if info.Recovered {
		printInfo("  Recovery:  rolled back transaction %d (%d entries)\n",
			p.Recovery().Seq, p.Recovery().EntriesUndone)
	}
	return nil
}
