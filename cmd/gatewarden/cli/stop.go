package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// stopWait bounds how long stop waits for the daemon to drain before giving
// up. Matches the order of the server's default shutdown timeout.
const stopWait = 5 * time.Second

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a daemonized Gatewarden server",
		Long:  "Signal a server started with 'gatewarden serve --daemon' to drain and exit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd)
		},
	}
}

func runStop(cmd *cobra.Command) error {
	pid, err := readPID()
	if err != nil {
		return fmt.Errorf("no pidfile at %s; is the server running?", pidFilePath())
	}
	if !isProcessRunning(pid) {
		removePID()
		return fmt.Errorf("pid %d is gone; removed stale pidfile", pid)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "stopping pid %d\n", pid)
	if err := stopProcess(pid); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(stopWait)
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		if !isProcessRunning(pid) {
			removePID()
			fmt.Fprintln(cmd.OutOrStdout(), "stopped")
			return nil
		}
	}
	return fmt.Errorf("pid %d still alive after %s; it may be draining in-flight requests", pid, stopWait)
}
