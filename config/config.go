// Package config loads server settings from defaults, an optional YAML file
// and MCP_* environment variables, in that order of precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/mcp-server-template/mcp"
	"github.com/ggoodman/mcp-server-template/notify"
	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidTransport = errors.New("invalid transport")
	ErrInvalidLogFormat = errors.New("invalid log format")
	ErrInvalidLogLevel  = errors.New("invalid log level")
	ErrInvalidValue     = errors.New("invalid config value")
)

// Transports.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config holds every server setting. Zero-valued environment variables leave
// the file or default value in place.
type Config struct {
	// Profile names the catalog profile to serve. ENV: MCP_PROFILE
	Profile string `yaml:"profile" env:"MCP_PROFILE"`
	// Transport is stdio or http. ENV: MCP_TRANSPORT
	Transport string `yaml:"transport" env:"MCP_TRANSPORT"`
	HTTPAddr  string `yaml:"http_addr" env:"MCP_HTTP_ADDR"`
	HTTPPath  string `yaml:"http_path" env:"MCP_HTTP_PATH"`

	LogLevel  string `yaml:"log_level" env:"MCP_LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"MCP_LOG_FORMAT"`
	// Debug forces the debug log level.
	Debug bool `yaml:"debug" env:"MCP_DEBUG"`

	MaxInFlight int           `yaml:"max_in_flight" env:"MCP_MAX_IN_FLIGHT"`
	CallTimeout time.Duration `yaml:"call_timeout" env:"MCP_CALL_TIMEOUT"`
	// SessionIdleTimeout ends idle HTTP sessions. Zero disables expiry.
	// ENV: MCP_SESSION_IDLE_TIMEOUT
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout" env:"MCP_SESSION_IDLE_TIMEOUT"`

	// Server identity overrides. Empty values fall back to the profile's.
	ServerName    string `yaml:"server_name" env:"MCP_SERVER_NAME"`
	ServerVersion string `yaml:"server_version" env:"MCP_SERVER_VERSION"`
	Instructions  string `yaml:"instructions" env:"MCP_INSTRUCTIONS"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Profile:            "all",
		Transport:          TransportStdio,
		HTTPAddr:           "127.0.0.1:8080",
		HTTPPath:           "/mcp",
		LogLevel:           "info",
		LogFormat:          "text",
		MaxInFlight:        16,
		SessionIdleTimeout: 30 * time.Minute,
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTransport, c.Transport)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.LogFormat)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if !strings.HasPrefix(c.HTTPPath, "/") {
		return fmt.Errorf("%w: http_path %q must start with /", ErrInvalidValue, c.HTTPPath)
	}
	if c.MaxInFlight < 1 {
		return fmt.Errorf("%w: max_in_flight must be at least 1", ErrInvalidValue)
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("%w: call_timeout must not be negative", ErrInvalidValue)
	}
	if c.SessionIdleTimeout < 0 {
		return fmt.Errorf("%w: session_idle_timeout must not be negative", ErrInvalidValue)
	}
	if c.Profile == "" {
		return fmt.Errorf("%w: profile is required", ErrInvalidValue)
	}
	return nil
}

// Level is the effective log level.
func (c Config) Level() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	l, err := ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

// ParseLevel accepts slog level names (debug, info, warn, error) and the MCP
// logging levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err == nil {
		return l, nil
	}
	l, err := notify.SlogLevel(mcp.LoggingLevel(strings.ToLower(s)))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, s)
	}
	return l, nil
}

// reloadDelay coalesces the burst of events a single save produces (a
// truncating write is seen as an empty file first).
const reloadDelay = 75 * time.Millisecond

// WatchLogLevel reloads the configuration whenever the file at path changes
// and applies its effective level to lv. It blocks until ctx is done. The
// parent directory is watched so editors that replace the file are seen.
// Saves that leave the file empty, unparseable or without log_level and
// debug keep the current level.
func WatchLogLevel(ctx context.Context, path string, lv *slog.LevelVar, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()

	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	log.InfoContext(ctx, "config.watch.start", slog.String("path", target))

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			pending = time.After(reloadDelay)
		case <-pending:
			pending = nil
			next, ok, err := reloadLevel(target)
			if err != nil {
				log.WarnContext(ctx, "config.reload.fail", slog.String("err", err.Error()))
				continue
			}
			if !ok {
				log.DebugContext(ctx, "config.reload.skip", slog.String("path", target))
				continue
			}
			if next != lv.Level() {
				lv.Set(next)
				log.InfoContext(ctx, "config.log_level.reload", slog.String("level", next.String()))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WarnContext(ctx, "config.watch.error", slog.String("err", err.Error()))
		}
	}
}

// reloadLevel loads the file at path and reports its effective level. ok is
// false when the file does not set log_level or debug, which includes a file
// caught mid-write.
func reloadLevel(path string) (level slog.Level, ok bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false, fmt.Errorf("read config: %w", err)
	}
	var keys struct {
		LogLevel *string `yaml:"log_level"`
		Debug    *bool   `yaml:"debug"`
	}
	if err := yaml.Unmarshal(b, &keys); err != nil {
		return 0, false, fmt.Errorf("parse config %s: %w", path, err)
	}
	if keys.LogLevel == nil && keys.Debug == nil {
		return 0, false, nil
	}
	cfg, err := Load(path)
	if err != nil {
		return 0, false, err
	}
	return cfg.Level(), true, nil
}
