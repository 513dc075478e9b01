package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/unrealtools/mcp-bridge/internal/config"
)

// newLogger builds the process-wide logger, always writing to stderr since
// stdout is reserved for the MCP JSON-RPC stream in `start`.
func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Server.LogLevel)}
	if cfg.Server.JSONLogs {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// parseLogLevel converts a string log level to slog.Level, defaulting to
// info for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// pidFilePath returns the standard location for the bridge's PID file.
func pidFilePath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".ue-mcp-bridge", "server.pid")
	}
	return filepath.Join(os.TempDir(), "ue-mcp-bridge-server.pid")
}

// writePIDFile writes the current process PID to path, creating parent
// directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

// warnStalePID logs a warning if a previous PID file points at a process
// that is still alive, which most often means another `start` is already
// running against the same state directory.
func warnStalePID(path string, logger *slog.Logger) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	if processIsAlive(proc) {
		logger.Warn("a previous ue-mcp-bridge process may still be running", "pid", pid, "pid_file", path)
	}
}
