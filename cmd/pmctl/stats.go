package main

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/joshuapare/pmemkit/container"
	"github.com/joshuapare/pmemkit/region/verify"
)

func init() {
	rootCmd.AddCommand(newStatsCmd())
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <pool>",
		Short: "Show heap usage by cell kind",
		Long: `The stats command walks the heap and reports allocated cells per
container kind, free space and fragmentation.

Example:
  pmctl stats replica.pmk
  pmctl stats replica.pmk --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(args)
		},
	}
}

type tagCount struct {
	Tag   uint32 `json:"tag"`
	Name  string `json:"name"`
	Cells int    `json:"cells"`
}

type heapStats struct {
	HeapBytes      uint64     `json:"heap_bytes"`
	AllocatedBytes uint64     `json:"allocated_bytes"`
	FreeBytes      uint64     `json:"free_bytes"`
	AllocatedCells int        `json:"allocated_cells"`
	FreeCells      int        `json:"free_cells"`
	LargestFree    uint64     `json:"largest_free"`
	SizeClasses    string     `json:"size_classes"`
	Tags           []tagCount `json:"tags"`
}

func runStats(args []string) error {
	p, err := openPool(args[0])
	if err != nil {
		return err
	}
	defer p.Close()

	st, err := p.Stats()
	if err != nil {
		return err
	}
	heap, err := verify.Heap(p.Bytes())
	if err != nil {
		return err
	}

	out := heapStats{
		HeapBytes:      st.Usage.HeapBytes,
		AllocatedBytes: st.Usage.AllocatedBytes,
		FreeBytes:      st.Usage.FreeBytes,
		AllocatedCells: st.Usage.AllocatedCells,
		FreeCells:      st.Usage.FreeCells,
		LargestFree:    st.Usage.LargestFree,
		SizeClasses:    p.Manager().Allocator().SizeClasses(),
	}
	for tag, n := range heap.Tags {
		name := container.TagName(tag)
		if name == "" {
			name = fmt.Sprintf("tag-0x%x", tag)
		}
		out.Tags = append(out.Tags, tagCount{Tag: tag, Name: name, Cells: n})
	}
	slices.SortFunc(out.Tags, func(a, b tagCount) int { return cmp.Compare(a.Tag, b.Tag) })

	if jsonOut {
		return printJSON(out)
	}

	pr := container.Printer()
	printInfo("Heap Statistics:\n")
	printInfo("  Heap:       %s bytes\n", pr.Sprintf("%d", out.HeapBytes))
	printInfo("  Allocated:  %s bytes in %s cells\n", pr.Sprintf("%d", out.AllocatedBytes), pr.Sprintf("%d", out.AllocatedCells))
	printInfo("  Free:       %s bytes in %s cells (largest %s)\n",
		pr.Sprintf("%d", out.FreeBytes), pr.Sprintf("%d", out.FreeCells), pr.Sprintf("%d", out.LargestFree))
	printInfo("  Classes:    %s\n", out.SizeClasses)
	if out.HeapBytes > 0 {
		printInfo("  Used:       %.1f%%\n", float64(out.AllocatedBytes)*100/float64(out.HeapBytes))
	}
	printInfo("\nCells by kind:\n")
	for _, t := range out.Tags {
		printInfo("  %-18s %s\n", t.Name, pr.Sprintf("%d", t.Cells))
	}
	return nil
}
