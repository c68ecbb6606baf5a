//go:build windows

package cli

import (
	"os"
	"os/exec"
)

// setSysProcAttr is a no-op on Windows; there is no session to detach from.
// Run the server in the foreground under a service wrapper instead.
func setSysProcAttr(cmd *exec.Cmd) {}

// isProcessRunning probes the PID from the pidfile. FindProcess always
// succeeds on Windows, so signalling is the only liveness check available,
// and a finished process reports ErrProcessDone.
func isProcessRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(os.Interrupt) != os.ErrProcessDone
}

// stopProcess kills the process outright; Windows has no SIGTERM-style
// graceful path.
func stopProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
