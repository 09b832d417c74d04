// Command carebridge-tui starts the CareBridge operator terminal: a
// Bubble Tea interface over a running carebridged daemon.
//
// Usage:
//
//	carebridge-tui --addr http://localhost:8480 --token $(carebridged token ...)
//
// The TUI shows the pending queue in drain order, connectivity state and
// drain counters, and can retry, remove or drain from the keyboard. It
// works over SSH, tmux, screen.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/carebridge/carebridge/internal/tui"
)

func main() {
	addr := flag.String("addr", "http://localhost:8480", "carebridged API address")
	token := flag.String("token", "", "API token (omit when the daemon runs unauthenticated)")
	flag.Parse()

	// Log to file; stdout is owned by the TUI.
	logFile, err := os.OpenFile("carebridge-tui.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close() //nolint:errcheck

	logger := slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	client := tui.NewClient(*addr, *token)
	model := tui.New(client, logger)

	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		logger.Error("TUI crashed", "error", err)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
