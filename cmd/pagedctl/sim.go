package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ollama/paged-kvcache/kvcache/paged"
)

// newSimCmd builds the "sim" subcommand, which replays a small scripted
// sequence of block-table operations and renders the resulting table.
// This is the CLI-level integration surface spec.md §6 disclaims as
// out-of-core ("No CLI ... belongs to the core"); it lives here, not in
// kvcache/paged, and exists purely to exercise the core's allocate,
// append, share, free, range-removal and clear operations end to end for
// an operator (ReplaceBlock and the translation queries are not reachable
// from a script).
//
// Script lines (one operation per line, blank lines and "#" comments
// ignored):
//
//	append <seq>              allocate a block and append it to seq
//	share <src> <dst>         copy-on-write share src's blocks into dst
//	free <seq>                free all of seq's blocks
//	shift <seq> <start> <end> remove the blocks covering [start, end)
//	clear                     free every sequence
func newSimCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "sim <script-file> [total-cells] [block-size]",
		Short: "Replay a scripted sequence of block-table operations",
		Long: "Replay a scripted sequence of block-table operations. total-cells and " +
			"block-size default to OLLAMA_PAGED_POOL_CELLS/OLLAMA_PAGED_BLOCK_SIZE when omitted.",
		Args: cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			totalCells, blockSize, err := poolDims(args[1:])
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			alloc := paged.NewAllocator(totalCells, blockSize)
			table := paged.NewTable(blockSize)

			scanner := bufio.NewScanner(f)
			lineNo := 0
			for scanner.Scan() {
				lineNo++
				line := strings.TrimSpace(scanner.Text())
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}

				if err := runSimLine(alloc, table, line, log); err != nil {
					return fmt.Errorf("line %d: %q: %w", lineNo, line, err)
				}
			}
			if err := scanner.Err(); err != nil {
				return err
			}

			renderTable(cmd.OutOrStdout(), alloc, table)
			return nil
		},
	}
}

func runSimLine(alloc *paged.Allocator, table *paged.Table, line string, log *slog.Logger) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	parseSeq := func(s string) (paged.SeqID, error) {
		n, err := strconv.ParseInt(s, 10, 64)
		return paged.SeqID(n), err
	}

	switch fields[0] {
	case "append":
		if len(fields) != 2 {
			return fmt.Errorf("append requires 1 argument: <seq>")
		}
		seq, err := parseSeq(fields[1])
		if err != nil {
			return err
		}
		if !alloc.CanAllocate(1) {
			return paged.ErrNoFreeBlocks
		}
		id, err := alloc.Allocate()
		if err != nil {
			return err
		}
		table.AppendBlock(seq, id)
		log.Debug("appended block", "seq", seq, "block", id)

	case "share":
		if len(fields) != 3 {
			return fmt.Errorf("share requires 2 arguments: <src> <dst>")
		}
		src, err := parseSeq(fields[1])
		if err != nil {
			return err
		}
		dst, err := parseSeq(fields[2])
		if err != nil {
			return err
		}
		table.Share(src, dst, alloc)
		log.Debug("shared blocks", "src", src, "dst", dst)

	case "free":
		if len(fields) != 2 {
			return fmt.Errorf("free requires 1 argument: <seq>")
		}
		seq, err := parseSeq(fields[1])
		if err != nil {
			return err
		}
		table.FreeSeq(seq, alloc)
		log.Debug("freed sequence", "seq", seq)

	case "shift":
		if len(fields) != 4 {
			return fmt.Errorf("shift requires 3 arguments: <seq> <start> <end>")
		}
		seq, err := parseSeq(fields[1])
		if err != nil {
			return err
		}
		start, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return err
		}
		end, err := strconv.ParseUint(fields[3], 10, 64)
		if err != nil {
			return err
		}
		table.RemoveBlocksRange(seq, start, end, alloc)
		log.Debug("shifted context", "seq", seq, "start", start, "end", end)

	case "clear":
		table.Clear(alloc)
		log.Debug("cleared table")

	default:
		return fmt.Errorf("unknown operation %q", fields[0])
	}

	return nil
}

func renderTable(w io.Writer, alloc *paged.Allocator, table *paged.Table) {
	out := tablewriter.NewWriter(w)
	out.SetHeader([]string{"seq", "blocks", "capacity", "num_free", "total"})

	for seq := paged.SeqID(0); int(seq) < maxSeqHint; seq++ {
		if !table.HasSeq(seq) {
			continue
		}
		out.Append([]string{
			fmt.Sprintf("%d", seq),
			fmt.Sprintf("%d", table.NumBlocksFor(seq)),
			fmt.Sprintf("%d", table.Capacity(seq)),
			fmt.Sprintf("%d", alloc.NumFree()),
			fmt.Sprintf("%d", alloc.Total()),
		})
	}

	out.Render()
}

// maxSeqHint bounds the scan for rendering purposes: renderTable (used by
// both sim and schedule) lists only sequences with ids in [0, maxSeqHint).
// Scripts may address any int64 id; sequences outside that range are
// still operated on but are not listed.
const maxSeqHint = 4096
