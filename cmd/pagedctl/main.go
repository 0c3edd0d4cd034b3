// Command pagedctl is an operator-facing demonstration and inspection tool
// for the paged KV-cache core (kvcache/paged). It is not part of the core:
// spec.md §6 is explicit that "no CLI... belongs to the core" — this
// binary is the ambient surface the rest of the corpus wraps its libraries
// in (cobra root command, tablewriter-rendered tables), modeled on
// main.go and cmd/ps.go / cmd/list.go in the teacher repository.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ollama/paged-kvcache/internal/envconfig"
	"github.com/ollama/paged-kvcache/internal/logutil"
)

func main() {
	runID := uuid.New()

	// slog.SetDefault makes logutil.Trace calls (used deep inside cachemgr)
	// actually fire when OLLAMA_PAGED_DEBUG enables LevelTrace, matching
	// runner/llamarunner/runner.go's
	// slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel())).
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
	log := slog.Default().With("run", runID.String())

	root := &cobra.Command{
		Use:           "pagedctl",
		Short:         "Inspect and exercise the paged KV-cache allocator and block table",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newAllocCmd(log))
	root.AddCommand(newSimCmd(log))
	root.AddCommand(newScheduleCmd(log))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
