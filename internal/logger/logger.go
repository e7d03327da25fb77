// Package logger is a small tagged console logger used throughout the
// pipeline for human-facing progress output. It is not a structured
// logging facade: callers pass a short tag ("ESI", "STORE", "CYCLE", ...)
// and a message, matching the style this codebase has always used.
package logger

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

var colorEnabled = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

const (
	reset  = "\033[0m"
	gray   = "\033[90m"
	blue   = "\033[34m"
	green  = "\033[32m"
	yellow = "\033[33m"
	red    = "\033[31m"
	bold   = "\033[1m"
)

func paint(color, s string) string {
	if !colorEnabled {
		return s
	}
	return color + s + reset
}

func line(level, color, tag, msg string) {
	ts := time.Now().Format("15:04:05")
	fmt.Printf("%s %s %s %s\n", paint(gray, ts), paint(color, "["+level+"]"), paint(bold, "["+tag+"]"), msg)
}

// Info logs a routine progress message.
func Info(tag, msg string) { line("INFO", blue, tag, msg) }

// Success logs a completed operation.
func Success(tag, msg string) { line("OK", green, tag, msg) }

// Warn logs a non-fatal problem the operator should notice.
func Warn(tag, msg string) { line("WARN", yellow, tag, msg) }

// Error logs a fatal or near-fatal problem.
func Error(tag, msg string) { line("ERROR", red, tag, msg) }

// Banner prints the startup banner with the given version string.
func Banner(version string) {
	v := version
	if v == "" {
		v = "dev"
	}
	fmt.Println(paint(bold+blue, "eve-market-intel"), paint(gray, v))
}

// Server logs the address the process is listening on, if it exposes
// one (e.g. a debug/health endpoint — the pipeline itself has no
// user-facing API per spec).
func Server(addr string) {
	fmt.Println(paint(bold+green, "listening"), paint(gray, addr))
}

// Section prints a titled divider, used to group a block of Stats calls.
func Section(title string) {
	fmt.Println()
	fmt.Println(paint(bold, "== "+title+" =="))
}

// Stats prints one "key: value" line under a Section, humanizing large
// integer counts for readability.
func Stats(key string, value interface{}) {
	switch v := value.(type) {
	case int:
		fmt.Printf("  %-24s %s\n", key+":", humanize.Comma(int64(v)))
	case int64:
		fmt.Printf("  %-24s %s\n", key+":", humanize.Comma(v))
	default:
		fmt.Printf("  %-24s %v\n", key+":", v)
	}
}

// CycleSummary prints the one-line per-cycle summary spec §7 requires:
// pages fetched/failed, orders retrieved, history items fetched/failed,
// stats/doctrines written, elapsed time.
func CycleSummary(runID string, pagesFetched, pagesFailed, orders, historyFetched, historyFailed, statsWritten, doctrinesWritten int, elapsed time.Duration) {
	fmt.Printf(
		"%s cycle %s: pages=%d/%d failed, orders=%s, history=%d/%d failed, stats=%d, doctrines=%d, elapsed=%s\n",
		paint(bold+green, "[CYCLE]"),
		runID,
		pagesFetched, pagesFailed,
		humanize.Comma(int64(orders)),
		historyFetched, historyFailed,
		statsWritten, doctrinesWritten,
		elapsed.Round(time.Millisecond),
	)
}
