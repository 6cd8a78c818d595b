// Command buildcache is a drop-in compiler-invocation cache: it
// fingerprints a wrapped command line, replays cached artifacts on a hit,
// or runs the command and inserts its result on a miss.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"

	buildcache "github.com/buildcache-go/buildcache"
	"github.com/buildcache-go/buildcache/wrapper"
	"github.com/buildcache-go/buildcache/wrapper/genericstrategy"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run implements the CLI's three invocation forms. argv is os.Args[1:].
// Flag parsing intentionally does not use flag.Parse() against the whole
// argument list: in wrap mode argv belongs to the wrapped command, not to
// buildcache, so only the -C and -s forms get their own small flag.FlagSet.
func run(argv []string) int {
	if len(argv) == 0 {
		fmt.Fprintln(os.Stderr, usage)
		return buildcacheExitUsage
	}

	switch argv[0] {
	case "-C":
		return runClear(argv[1:])
	case "-s":
		return runStats(argv[1:])
	case "-h", "--help":
		fmt.Fprintln(os.Stdout, usage)
		return 0
	default:
		return runWrap(argv)
	}
}

const usage = `usage:
  buildcache <program> [args...]   run program through the cache
  buildcache -C                    clear the local cache
  buildcache -s [-json]             print cache statistics`

const buildcacheExitUsage = 2

func newLogger(cfg envConfig) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:  "buildcache",
		Level: cfg.hclogLevel(),
	})
}

func runWrap(argv []string) int {
	cfg, err := loadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "buildcache: %v\n", err)
		return wrapper.ExitInternalError
	}
	logger := newLogger(cfg)

	w, err := buildcache.New(cfg.toBuildcacheConfig(logger))
	if err != nil {
		logger.Error("failed to initialize cache", "error", err)
		return wrapper.ExitInternalError
	}
	defer func() {
		if err := w.Close(); err != nil {
			logger.Warn("error closing cache", "error", err)
		}
	}()

	strategy := genericstrategy.Strategy{}
	return w.Run(context.Background(), strategy, argv)
}

func runClear(_ []string) int {
	cfg, err := loadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "buildcache: %v\n", err)
		return wrapper.ExitInternalError
	}
	logger := newLogger(cfg)

	w, err := buildcache.New(cfg.toBuildcacheConfig(logger))
	if err != nil {
		logger.Error("failed to initialize cache", "error", err)
		return wrapper.ExitInternalError
	}
	defer w.Close() //nolint:errcheck

	if err := w.Clear(context.Background()); err != nil {
		logger.Error("failed to clear cache", "error", err)
		return wrapper.ExitInternalError
	}
	return 0
}

type statsOutput struct {
	CacheDir         string `json:"cache_dir"`
	EntryCount       int    `json:"entry_count"`
	ResidentBytes    int64  `json:"resident_bytes"`
	HitCount         int64  `json:"hit_count"`
	MissCount        int64  `json:"miss_count"`
	RemoteConfigured bool   `json:"remote_configured"`
}

func runStats(args []string) int {
	fs := flag.NewFlagSet("buildcache -s", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print statistics as JSON")
	if err := fs.Parse(args); err != nil {
		return buildcacheExitUsage
	}

	cfg, err := loadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "buildcache: %v\n", err)
		return wrapper.ExitInternalError
	}
	logger := newLogger(cfg)

	w, err := buildcache.New(cfg.toBuildcacheConfig(logger))
	if err != nil {
		logger.Error("failed to initialize cache", "error", err)
		return wrapper.ExitInternalError
	}
	defer w.Close() //nolint:errcheck

	st, err := w.Stats(context.Background())
	if err != nil {
		logger.Error("failed to read cache statistics", "error", err)
		return wrapper.ExitInternalError
	}

	out := statsOutput{
		CacheDir:         cfg.dir,
		EntryCount:       st.EntryCount,
		ResidentBytes:    st.TotalBytes,
		HitCount:         st.Hits,
		MissCount:        st.Misses,
		RemoteConfigured: w.RemoteConfigured(),
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			logger.Error("failed to encode statistics", "error", err)
			return wrapper.ExitInternalError
		}
		return 0
	}

	fmt.Printf("cache dir:        %s\n", out.CacheDir)
	fmt.Printf("entries:          %d\n", out.EntryCount)
	fmt.Printf("resident size:    %d bytes\n", out.ResidentBytes)
	fmt.Printf("hits:             %d\n", out.HitCount)
	fmt.Printf("misses:           %d\n", out.MissCount)
	fmt.Printf("remote:           %s\n", yesNo(out.RemoteConfigured))
	return 0
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
