// Package debug provides category-gated debug logging on top of log/slog.
//
// Categories select which subsystems print debug output (DAYTONA_DEBUG,
// comma separated): api, sandbox, tools, mcp, agent, auth, config, all.
// The log level is set through DAYTONA_LOG_LEVEL (ERROR, WARN, INFO,
// DEBUG, TRACE). At TRACE the Daytona client dumps full request and
// response bodies.
//
//	debug.Log("api", "request", "method", "POST", "path", path)
//	if debug.Enabled("sandbox") { /* expensive formatting */ }
package debug

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// LevelTrace sits below slog.LevelDebug.
const LevelTrace = slog.LevelDebug - 4

// categories is written by Init at startup and only read afterwards.
var categories map[string]bool

func init() {
	categories = parseCategories(os.Getenv("DAYTONA_DEBUG"))
}

// Init configures categories and the default slog logger. Environment
// variables win over the configured values. Output goes to w, or stderr
// when w is nil (stdio MCP servers must keep stdout clean).
func Init(configCategories, configLevel string, w io.Writer) {
	cats := os.Getenv("DAYTONA_DEBUG")
	if cats == "" {
		cats = configCategories
	}
	categories = parseCategories(cats)

	level := os.Getenv("DAYTONA_LOG_LEVEL")
	if level == "" {
		level = configLevel
	}

	if w == nil {
		w = os.Stderr
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})))
}

// Enabled reports whether debug output is active for the category.
func Enabled(category string) bool {
	return categories["all"] || categories[category]
}

// Log emits a debug message for the category. No-op when disabled.
func Log(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a TRACE-level message for the category.
func Trace(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// TraceIsEnabled reports whether TRACE output would be printed for the category.
func TraceIsEnabled(category string) bool {
	if !Enabled(category) {
		return false
	}
	return slog.Default().Enabled(context.Background(), LevelTrace)
}

// Raw writes text to stderr without slog formatting, only at TRACE.
func Raw(category string, text string) {
	if !TraceIsEnabled(category) {
		return
	}
	fmt.Fprintln(os.Stderr, text)
}

// ParseLevel converts a level name to a slog.Level. Unknown names map to INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Categories returns the enabled categories, sorted.
func Categories() []string {
	result := make([]string, 0, len(categories))
	for k := range categories {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

// Truncate shortens s to maxLen bytes, appending "..." when cut.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for _, cat := range strings.Split(s, ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat != "" {
			m[cat] = true
		}
	}
	return m
}
