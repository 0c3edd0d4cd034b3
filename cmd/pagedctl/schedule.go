package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ollama/paged-kvcache/cachemgr"
	"github.com/ollama/paged-kvcache/internal/envconfig"
	"github.com/ollama/paged-kvcache/kvcache/paged"
)

// newScheduleCmd builds the "schedule" subcommand, which replays a scripted
// sequence of scheduler-level operations against a cachemgr.Manager — the
// eviction/context-shift/fork layer spec.md §1 names as a collaborator but
// keeps out of the core. Unlike "sim" (which drives paged.Allocator/Table
// directly), this exercises cachemgr end to end, including the
// OLLAMA_PAGED_MULTIUSER-selected eviction policy.
//
// Script lines (one operation per line, blank lines and "#" comments
// ignored):
//
//	reserve <seq> <tokens>          grow seq to hold tokens total tokens
//	release <seq>                   mark seq idle (eligible for eviction)
//	shift <seq> <keep> <current>    discard the oldest half past keep
//	fork <src> <dst>                copy-on-write share src's blocks into dst
//	evict <seq>                     free seq unconditionally
func newScheduleCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule <script-file> [num-slots]",
		Short: "Replay a scripted sequence of cachemgr scheduling operations",
		Long: "Replay a scripted sequence of cachemgr scheduling operations. Pool size and " +
			"the eviction policy come from OLLAMA_PAGED_POOL_CELLS, OLLAMA_PAGED_BLOCK_SIZE, " +
			"and OLLAMA_PAGED_MULTIUSER; num-slots defaults to 4.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			numSlots := 4
			if len(args) > 1 {
				n, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("num-slots: %w", err)
				}
				numSlots = n
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			mgr, err := cachemgr.NewManager(envconfig.PagedPoolCells, envconfig.PagedBlockSize,
				numSlots, envconfig.PagedMultiUserCache, log)
			if err != nil {
				return err
			}

			scanner := bufio.NewScanner(f)
			lineNo := 0
			for scanner.Scan() {
				lineNo++
				line := strings.TrimSpace(scanner.Text())
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}

				if err := runScheduleLine(mgr, line); err != nil {
					return fmt.Errorf("line %d: %q: %w", lineNo, line, err)
				}
			}
			if err := scanner.Err(); err != nil {
				return err
			}

			renderTable(cmd.OutOrStdout(), mgr.Allocator(), mgr.Table())
			return nil
		},
	}
}

func runScheduleLine(mgr *cachemgr.Manager, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	parseSeq := func(s string) (paged.SeqID, error) {
		n, err := strconv.ParseInt(s, 10, 64)
		return paged.SeqID(n), err
	}

	switch fields[0] {
	case "reserve":
		if len(fields) != 3 {
			return fmt.Errorf("reserve requires 2 arguments: <seq> <tokens>")
		}
		seq, err := parseSeq(fields[1])
		if err != nil {
			return err
		}
		tokens, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return err
		}
		return mgr.Reserve(seq, uint32(tokens))

	case "release":
		if len(fields) != 2 {
			return fmt.Errorf("release requires 1 argument: <seq>")
		}
		seq, err := parseSeq(fields[1])
		if err != nil {
			return err
		}
		mgr.Release(seq)

	case "shift":
		if len(fields) != 4 {
			return fmt.Errorf("shift requires 3 arguments: <seq> <keep> <current>")
		}
		seq, err := parseSeq(fields[1])
		if err != nil {
			return err
		}
		numKeep, err := strconv.Atoi(fields[2])
		if err != nil {
			return err
		}
		currentLen, err := strconv.Atoi(fields[3])
		if err != nil {
			return err
		}
		return mgr.ShiftContext(seq, numKeep, currentLen)

	case "fork":
		if len(fields) != 3 {
			return fmt.Errorf("fork requires 2 arguments: <src> <dst>")
		}
		src, err := parseSeq(fields[1])
		if err != nil {
			return err
		}
		dst, err := parseSeq(fields[2])
		if err != nil {
			return err
		}
		mgr.Fork(src, dst)

	case "evict":
		if len(fields) != 2 {
			return fmt.Errorf("evict requires 1 argument: <seq>")
		}
		seq, err := parseSeq(fields[1])
		if err != nil {
			return err
		}
		mgr.Evict(seq)

	default:
		return fmt.Errorf("unknown operation %q", fields[0])
	}

	return nil
}
