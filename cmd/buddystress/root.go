package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/buddyalloc/arena"
	"github.com/vkngwrapper/buddyalloc/internal/stress"
	"golang.org/x/exp/slog"
)

var (
	// Global flags
	verbose bool
	jsonOut bool

	sourceKind string
	filePath   string

	cfg = stress.DefaultConfig()
)

var rootCmd = &cobra.Command{
	Use:   "buddystress",
	Short: "Stress test the buddy allocator",
	Long: `buddystress lays a buddy allocator over an arena and runs repeated cycles of
allocations of growing size, checking after every cycle that freeing everything
merges the arena back into a single free block.

Example:
  buddystress
  buddystress --cycles 10 --allocations 50 --step 64
  buddystress --source file --file arena.bin --json`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStress(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")

	flags := rootCmd.Flags()
	flags.IntVar(&cfg.ArenaSize, "arena-size", cfg.ArenaSize, "Arena size in bytes")
	flags.IntVar(&cfg.Allocations, "allocations", cfg.Allocations, "Allocations per cycle")
	flags.IntVar(&cfg.Cycles, "cycles", cfg.Cycles, "Number of allocate-then-free cycles")
	flags.IntVar(&cfg.SizeStep, "step", cfg.SizeStep, "Size increment between allocations")
	flags.IntVar(&cfg.SanitySize, "sanity", cfg.SanitySize, "Size of the initial sanity allocation, 0 to skip")
	flags.StringVar(&sourceKind, "source", "anon", "Arena source: anon, heap or file")
	flags.StringVar(&filePath, "file", "buddy.arena", "Backing file when --source is file")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newSource(kind, path string) (arena.Source, error) {
	switch kind {
	case "anon", "anonymous":
		return arena.AnonymousSource{}, nil
	case "heap":
		return arena.HeapSource{}, nil
	case "file":
		if path == "" {
			return nil, errors.New("--file is required when --source is file")
		}
		return arena.FileSource{Path: path}, nil
	}

	return nil, errors.Newf("unknown arena source %q", kind)
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.HandlerOptions{Level: level}.NewTextHandler(w))
}
