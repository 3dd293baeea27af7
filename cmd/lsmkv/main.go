// Command lsmkv is an operational front-end for the lsmkv storage engine:
// point reads/writes, range scans, and manual flush/compact/stats
// commands against a data directory. It is the library's most direct
// consumer, not part of the engine's own scope.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nilkv/lsmkv"
)

const (
	appName    = "lsmkv"
	appVersion = "0.1.0"
)

var (
	dataDir string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Operate a local lsmkv data directory",
		Long:    `lsmkv is a command-line front-end for the embeddable LSM-tree key-value store.`,
		Version: appVersion,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "./lsmkv-data", "Path to the data directory")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug-level logging")

	rootCmd.AddCommand(
		putCmd(),
		getCmd(),
		delCmd(),
		scanCmd(),
		flushCmd(),
		compactCmd(),
		statsCmd(),
		demoCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openDB opens dataDir with the package's default options, overriding the
// logger's level when --verbose is set.
func openDB() (*lsmkv.DB, error) {
	opts := lsmkv.DefaultOptions(dataDir)

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts.Logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return lsmkv.Open(opts)
}

func logVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, "[verbose] "+format+"\n", args...)
	}
}

// formatBytes renders a byte count in human-readable units.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
