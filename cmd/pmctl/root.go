package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/pmemkit/internal/logger"
)

var (
	// Global flags
	verbose bool
	quiet   bool
	jsonOut bool
	logFile string
	classes string

	stdout io.Writer = os.Stdout
	log              = logger.Noop()
)

var rootCmd = &cobra.Command{
	Use:   "pmctl",
	Short: "Inspect and maintain pmemkit pool files",
	Long: `pmctl inspects pmemkit pool files: the region header, the heap, the
replica or key/value records at the root, and the undo log. It can also
verify a pool and take compressed backups.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, _, err := logger.Init(logger.Options{
			Enabled: verbose || logFile != "",
			File:    logFile,
			Level:   slog.LevelDebug,
		})
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		log = l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log pool activity to stderr")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write the log to a file")
	rootCmd.PersistentFlags().StringVar(&classes, "size-classes", "balanced", "Allocator free lists: nodes, balanced or arrays")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// printInfo prints unless in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(stdout, format, args...)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
