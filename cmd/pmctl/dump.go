package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newDumpCmd())
}

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <pool>",
		Short: "Print the root record",
		Long: `The dump command prints the replica or key/value service record at
the pool root, with a summary of each container it owns.

Example:
  pmctl dump replica.pmk`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(args)
		},
	}
}

func runDump(args []string) error {
	p, err := openPool(args[0])
	if err != nil {
		return err
	}
	defer p.Close()

	kind, rec, err := openRecord(p)
	if err != nil {
		return err
	}
	if rec == nil {
		printInfo("%s: empty root\n", args[0])
		return nil
	}
	printInfo("%s root at 0x%x\n", kind, uint64(p.Root()))
	if quiet {
		return nil
	}
	return rec.Dump(stdout)
}
