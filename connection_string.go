package blockfile

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	core "github.com/RichardKnop/blockfile/internal/blockfile"
	"github.com/RichardKnop/blockfile/internal/skiplist"
)

// ConnectionConfig holds parsed connection string parameters
type ConnectionConfig struct {
	FilePath     string // Block file path
	SpanSize     int    // Entries per span, only used for new files (default: 16)
	LogLevel     string // Log level: debug, info, warn, error (default: warn)
	ReadOnly     bool   // Open without mounting (default: false)
	CacheSpans   int    // Decoded spans cached per open index (default: 64)
	CheckOnDirty bool   // Check and repair when the last session did not close cleanly (default: true)
}

// DefaultConnectionConfig returns default configuration
func DefaultConnectionConfig(filePath string) *ConnectionConfig {
	return &ConnectionConfig{
		FilePath:     filePath,
		SpanSize:     core.DefaultSpanSize,
		LogLevel:     "warn",
		CacheSpans:   skiplist.DefaultCacheSize,
		CheckOnDirty: true,
	}
}

// ParseConnectionString parses a connection string with optional query parameters.
//
// Format: /path/to/file.blk?param1=value1&param2=value2
//
// Supported parameters:
//   - span_size=1..65535 : Entries per span for a new file (default: 16)
//   - log_level=debug|info|warn|error : Set logging level (default: warn)
//   - read_only=true|false : Open without mounting (default: false)
//   - cache_spans=N : Decoded spans cached per open index (default: 64)
//   - check_on_dirty=true|false : Repair after an unclean shutdown (default: true)
//
// Examples:
//   - "./data.blk"                          : Default settings
//   - "./data.blk?read_only=true"           : Inspect without writing
//   - "./data.blk?span_size=64&log_level=info" : Both settings
func ParseConnectionString(connStr string) (*ConnectionConfig, error) {
	// Split on first '?' to separate path from query params
	parts := strings.SplitN(connStr, "?", 2)

	config := DefaultConnectionConfig(parts[0])
	if config.FilePath == "" {
		return nil, fmt.Errorf("invalid connection string: missing file path")
	}

	// No query parameters
	if len(parts) == 1 {
		return config, nil
	}

	queryParams, err := url.ParseQuery(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid connection string query parameters: %w", err)
	}

	if spanSizeStr := queryParams.Get("span_size"); spanSizeStr != "" {
		if config.SpanSize, err = parseSpanSize(spanSizeStr); err != nil {
			return nil, err
		}
	}

	if logLevel := queryParams.Get("log_level"); logLevel != "" {
		if config.LogLevel, err = parseLogLevel(logLevel); err != nil {
			return nil, err
		}
	}

	if readOnlyStr := queryParams.Get("read_only"); readOnlyStr != "" {
		if config.ReadOnly, err = parseBool("read_only", readOnlyStr); err != nil {
			return nil, err
		}
	}

	if cacheStr := queryParams.Get("cache_spans"); cacheStr != "" {
		if config.CacheSpans, err = parseCacheSpans(cacheStr); err != nil {
			return nil, err
		}
	}

	if checkStr := queryParams.Get("check_on_dirty"); checkStr != "" {
		if config.CheckOnDirty, err = parseBool("check_on_dirty", checkStr); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func parseSpanSize(s string) (int, error) {
	spanSize, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid span_size parameter: must be a positive integer, got %q", s)
	}
	if spanSize < 1 || spanSize > core.MaxSpanSize {
		return 0, fmt.Errorf("invalid span_size parameter: must be between 1 and %d, got %d", core.MaxSpanSize, spanSize)
	}
	return spanSize, nil
}

func parseLogLevel(s string) (string, error) {
	s = strings.ToLower(s)
	switch s {
	case "debug", "info", "warn", "error":
		return s, nil
	default:
		return "", fmt.Errorf("invalid log_level parameter: must be 'debug', 'info', 'warn', or 'error', got %q", s)
	}
}

func parseBool(name, s string) (bool, error) {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s parameter: must be 'true' or 'false', got %q", name, s)
	}
	return b, nil
}

func parseCacheSpans(s string) (int, error) {
	spans, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid cache_spans parameter: must be a positive integer, got %q", s)
	}
	if spans < 1 {
		return 0, fmt.Errorf("invalid cache_spans parameter: must be positive, got %d", spans)
	}
	return spans, nil
}

// GetZapLevel converts log level string to zap.Level
func (c *ConnectionConfig) GetZapLevel() zap.AtomicLevel {
	switch c.LogLevel {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	}
}

// Options converts the configuration to block file options.
func (c *ConnectionConfig) Options() []Option {
	return []Option{
		WithReadOnly(c.ReadOnly),
		WithSpanSize(c.SpanSize),
		WithSpanCache(c.CacheSpans),
	}
}
