package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the Gatewarden server is running",
		Long:  "Report the daemonized server's process state and probe its health endpoint.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd)
		},
	}
}

func runStatus(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	pid, err := readPID()
	if err != nil {
		fmt.Fprintln(out, "not running: no pidfile")
		return nil
	}
	if !isProcessRunning(pid) {
		removePID()
		fmt.Fprintln(out, "not running: removed stale pidfile")
		return nil
	}

	// The process is alive; confirm the listener answers. A bound-to-all
	// host is probed over loopback.
	host := viper.GetString("server.host")
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	port := viper.GetInt("server.port")
	if port == 0 {
		port = 8080
	}

	probe := fmt.Sprintf("http://%s:%d/healthz", host, port)
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(probe)
	if err != nil {
		fmt.Fprintf(out, "running (pid %d) but %s is not answering\n", pid, probe)
		fmt.Fprintf(out, "  logs: %s\n", logFilePath())
		return nil
	}
	resp.Body.Close()

	fmt.Fprintf(out, "running (pid %d)\n", pid)
	fmt.Fprintf(out, "  health: %s -> %d\n", probe, resp.StatusCode)
	fmt.Fprintf(out, "  logs:   %s\n", logFilePath())
	return nil
}
