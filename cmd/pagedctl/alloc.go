package main

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ollama/paged-kvcache/internal/envconfig"
	"github.com/ollama/paged-kvcache/kvcache/paged"
)

// poolDims parses the optional <total-cells> <block-size> positional
// arguments, falling back to envconfig.PagedPoolCells/PagedBlockSize
// (OLLAMA_PAGED_POOL_CELLS/OLLAMA_PAGED_BLOCK_SIZE) for whichever are
// omitted, the way cmd/ps.go falls back to a configured default when a
// flag isn't given on the command line.
func poolDims(args []string) (totalCells, blockSize uint32, err error) {
	totalCells, blockSize = envconfig.PagedPoolCells, envconfig.PagedBlockSize

	if len(args) > 0 {
		n, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("total-cells: %w", err)
		}
		totalCells = uint32(n)
	}
	if len(args) > 1 {
		n, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("block-size: %w", err)
		}
		blockSize = uint32(n)
	}

	return totalCells, blockSize, nil
}

func newAllocCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "alloc [total-cells] [block-size]",
		Short: "Construct a block pool and report its size",
		Long: "Construct a block pool and report its size. total-cells and block-size " +
			"default to OLLAMA_PAGED_POOL_CELLS/OLLAMA_PAGED_BLOCK_SIZE when omitted.",
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			totalCells, blockSize, err := poolDims(args)
			if err != nil {
				return err
			}

			alloc := paged.NewAllocator(totalCells, blockSize)
			log.Info("pool constructed", "total_cells", totalCells, "block_size", blockSize,
				"num_blocks", alloc.Total())

			fmt.Fprintf(cmd.OutOrStdout(), "total=%d num_free=%d block_size=%d\n",
				alloc.Total(), alloc.NumFree(), alloc.BlockSize())
			return nil
		},
	}
}
