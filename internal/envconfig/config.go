// Package envconfig holds the process-wide configuration for
// cmd/pagedctl and cachemgr, loaded from OLLAMA_PAGED_*-prefixed
// environment variables. Adapted from the teacher's envconfig package:
// same package-var + init()-calls-LoadConfig() shape, same clean()
// env-var trimming helper, repointed at this repo's own settings.
//
// kvcache/paged itself never reads the environment (spec.md §6: "no env
// vars ... belongs to the core") — construction parameters are passed in
// explicitly by whoever wires the allocator and table together.
package envconfig

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/ollama/paged-kvcache/internal/logutil"
)

var (
	// PagedBlockSize is read from OLLAMA_PAGED_BLOCK_SIZE; the number of
	// KV cache cells per physical block.
	PagedBlockSize uint32

	// PagedPoolCells is read from OLLAMA_PAGED_POOL_CELLS; the total
	// number of KV cache cells in the physical pool.
	PagedPoolCells uint32

	// PagedMultiUserCache is read from OLLAMA_PAGED_MULTIUSER; cmd/pagedctl
	// passes it into cachemgr.NewManager, which picks its eviction-victim
	// policy off it: true LRU (oldest idle slot first) when true, or
	// protecting the idle slot with the most accumulated blocks when
	// false (same tradeoff runner/llamarunner/cache.go's multiUserCache
	// flag documents between findBestCacheSlot and findLongestCacheSlot).
	PagedMultiUserCache bool

	// Debug is read from OLLAMA_PAGED_DEBUG; when true, LogLevel returns
	// logutil.LevelTrace instead of slog.LevelInfo.
	Debug bool
)

// clean trims surrounding quotes and spaces from an environment variable,
// matching the teacher's envconfig.clean.
func clean(getenv func(string) string, key string) string {
	return strings.Trim(getenv(key), "\"' ")
}

func init() {
	PagedBlockSize = 32
	PagedPoolCells = 4096

	LoadConfig(osGetenv)
}

// LoadConfig (re)reads configuration from the environment via getenv,
// logging and ignoring individually invalid settings rather than failing
// outright, matching the teacher's envconfig.LoadConfig. The exception is
// OLLAMA_PAGED_DEBUG: a non-empty value that does not parse as a bool
// turns Debug on, without a log line. Unset or empty variables leave the
// current value unchanged.
func LoadConfig(getenv func(string) string) {
	if v := clean(getenv, "OLLAMA_PAGED_BLOCK_SIZE"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			slog.Error("invalid setting, ignoring", "OLLAMA_PAGED_BLOCK_SIZE", v, "error", err)
		} else {
			PagedBlockSize = uint32(n)
		}
	}

	if v := clean(getenv, "OLLAMA_PAGED_POOL_CELLS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			slog.Error("invalid setting, ignoring", "OLLAMA_PAGED_POOL_CELLS", v, "error", err)
		} else {
			PagedPoolCells = uint32(n)
		}
	}

	if v := clean(getenv, "OLLAMA_PAGED_MULTIUSER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Error("invalid setting, ignoring", "OLLAMA_PAGED_MULTIUSER", v, "error", err)
		} else {
			PagedMultiUserCache = b
		}
	}

	if v := clean(getenv, "OLLAMA_PAGED_DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			Debug = true
		} else {
			Debug = b
		}
	}
}

// LogLevel returns the slog level cmd/pagedctl should construct its
// logger with, matching the teacher's envconfig.LogLevel callers
// (logutil.NewLogger(os.Stderr, envconfig.LogLevel())).
func LogLevel() slog.Level {
	if Debug {
		return logutil.LevelTrace
	}
	return slog.LevelInfo
}
