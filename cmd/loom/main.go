// Command loom is the operator-facing dashboard: a read-only terminal UI
// over loomd's admin HTTP surface, showing the task board, agent roster,
// and provider usage ledger. It never writes to loomd's state; every
// refresh is a GET against /board, /agents, and /usage.
//
// Adapted from the teacher's internal/tui Bubble Tea model, which
// subscribed to an in-process event bus; this dashboard instead polls
// loomd over HTTP since the daemon and the dashboard are separate
// processes with no shared memory.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:7787", "loomd admin HTTP address")
	flag.Parse()

	client := newAPIClient(*addr)
	p := tea.NewProgram(newModel(client), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "loom:", err)
		os.Exit(1)
	}
}
