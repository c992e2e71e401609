package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/corey/refscan/internal/adapters/bbolt"
	"github.com/corey/refscan/internal/adapters/socket"
	"github.com/corey/refscan/internal/app"
)

// isStoreLocked reports whether err comes from another process holding the
// catalog store's file lock.
func isStoreLocked(err error) bool {
	return errors.Is(err, bbolt.ErrLocked)
}

// diagnoseStoreLock explains who holds the catalog store at c.DBPath and
// what to do about it. forDaemon is set when the daemon itself failed to
// start; otherwise the caller was falling back to in-process matching.
func diagnoseStoreLock(c app.Config, forDaemon bool) string {
	sockPath := socket.SocketPath(c.ProjectRoot)
	paths := app.NewPaths(c.ProjectRoot)

	var sb strings.Builder
	fmt.Fprintf(&sb, "catalog store %s is locked", c.DBPath)
	if !forDaemon {
		sb.WriteString("; commands cannot run without the daemon while it is held")
	}
	sb.WriteString("\n")

	pid := readPID(paths.PIDFile)
	_, sockErr := os.Stat(sockPath)
	switch {
	case socket.NewClient(sockPath).Ping():
		// The daemon answered after all; a retry goes through it.
		sb.WriteString("  → the daemon is running; retry your command\n")
		sb.WriteString("  → or stop it:      refscan daemon stop")
	case sockErr == nil && pid > 0:
		fmt.Fprintf(&sb, "  → daemon pid %d left %s behind and does not answer\n", pid, sockPath)
		fmt.Fprintf(&sb, "  → kill it:         kill %d\n", pid)
		sb.WriteString("  → then retry your command")
	case sockErr == nil:
		fmt.Fprintf(&sb, "  → a stale daemon socket exists at %s\n", sockPath)
		sb.WriteString("  → find the process: ps aux | grep 'refscan daemon'\n")
		sb.WriteString("  → kill it, then retry your command")
	default:
		sb.WriteString("  → another process has the file open (a catalog put, or an editor)\n")
		fmt.Fprintf(&sb, "  → find it:         fuser %s\n", c.DBPath)
		sb.WriteString("  → then retry your command")
	}
	return sb.String()
}

// readPID returns the pid recorded by the daemon, or 0.
func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
