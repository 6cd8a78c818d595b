package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"

	buildcache "github.com/buildcache-go/buildcache"
	"github.com/buildcache-go/buildcache/wrapper"
)

// envConfig mirrors buildcache.Config plus the settings only the CLI
// itself needs (log level text before it's mapped to an hclog.Level). It
// is populated by direct os.Getenv reads with explicit parsing, not
// spf13/viper: see DESIGN.md for why a handful of flat env vars doesn't
// reach for a config-file/flag/env-merging library.
type envConfig struct {
	dir             string
	logLevel        string
	compress        bool
	hardLinks       bool
	accuracy        wrapper.Accuracy
	terminateOnMiss bool
	remote          string
	maxSizeBytes    int64
}

func loadEnvConfig() (envConfig, error) {
	cfg := envConfig{
		dir:      defaultCacheDir(),
		logLevel: "info",
	}

	if v := os.Getenv("BUILDCACHE_DIR"); v != "" {
		cfg.dir = v
	}
	if v := os.Getenv("BUILDCACHE_LOG_LEVEL"); v != "" {
		cfg.logLevel = v
	}
	if v, ok := os.LookupEnv("BUILDCACHE_COMPRESS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envConfig{}, fmt.Errorf("BUILDCACHE_COMPRESS: %w", err)
		}
		cfg.compress = b
	}
	if v, ok := os.LookupEnv("BUILDCACHE_HARD_LINKS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envConfig{}, fmt.Errorf("BUILDCACHE_HARD_LINKS: %w", err)
		}
		cfg.hardLinks = b
	}
	if v := os.Getenv("BUILDCACHE_ACCURACY"); v != "" {
		switch strings.ToLower(v) {
		case "strict":
			cfg.accuracy = wrapper.AccuracyStrict
		case "default":
			cfg.accuracy = wrapper.AccuracyDefault
		default:
			return envConfig{}, fmt.Errorf("BUILDCACHE_ACCURACY: unknown value %q", v)
		}
	}
	if v, ok := os.LookupEnv("BUILDCACHE_TERMINATE_ON_MISS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envConfig{}, fmt.Errorf("BUILDCACHE_TERMINATE_ON_MISS: %w", err)
		}
		cfg.terminateOnMiss = b
	}
	cfg.remote = os.Getenv("BUILDCACHE_REMOTE")
	if v := os.Getenv("BUILDCACHE_MAX_SIZE"); v != "" {
		n, err := parseSize(v)
		if err != nil {
			return envConfig{}, fmt.Errorf("BUILDCACHE_MAX_SIZE: %w", err)
		}
		cfg.maxSizeBytes = n
	}

	return cfg, nil
}

func defaultCacheDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.buildcache"
	}
	return ".buildcache"
}

// parseSize parses a byte count with an optional G/M/K suffix (case
// insensitive), e.g. "5G", "512M", "100K", "1024".
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	switch last := s[len(s)-1]; last {
	case 'G', 'g':
		mult = 1 << 30
		s = s[:len(s)-1]
	case 'M', 'm':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'K', 'k':
		mult = 1 << 10
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n * mult, nil
}

func (c envConfig) hclogLevel() hclog.Level {
	switch strings.ToLower(c.logLevel) {
	case "debug":
		return hclog.Debug
	case "info":
		return hclog.Info
	case "error", "fatal":
		return hclog.Error
	case "none":
		return hclog.Off
	default:
		return hclog.Info
	}
}

func (c envConfig) toBuildcacheConfig(logger hclog.Logger) buildcache.Config {
	return buildcache.Config{
		Dir:               c.dir,
		RemoteURL:         c.remote,
		MaxSizeBytes:      c.maxSizeBytes,
		AllowHardLinks:    c.hardLinks,
		CompressArtifacts: c.compress,
		TerminateOnMiss:   c.terminateOnMiss,
		Accuracy:          c.accuracy,
		Logger:            logger,
	}
}
