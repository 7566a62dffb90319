// Command logctl is a read-only terminal inspector over a directory of
// physical logs: it lists every log under --dir, and for the selected
// log shows its streams' ASN bounds, truncation points, reservations, and the
// checkpoint daemon's trigger counters. It never calls Write or
// Truncate; it only opens logs and reads their accounting through
// pkg/logmanager's public API.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"physlog/pkg/logmanager"
)

func main() {
	dir := flag.String("dir", ".", "directory containing physical log files")
	flag.Parse()

	mgr, err := logmanager.NewLogManager(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logctl: %v\n", err)
		os.Exit(1)
	}

	m := newModel(mgr)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "logctl: %v\n", err)
		os.Exit(1)
	}
}
