package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "db",
		Aliases: []string{"store"},
		Short:   "Inspect the credential store",
		Long:    "Check connectivity and print statistics for the key and audit store.",
	}

	cmd.AddCommand(newDBPingCmd())
	cmd.AddCommand(newDBStatsCmd())

	return cmd
}

// ---------- db ping ----------

func newDBPingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Test the store connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBPing()
		},
	}

	return cmd
}

func runDBPing() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fmt.Printf("Testing store connection (driver=%s)...\n", st.Driver())

	start := time.Now()
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	fmt.Printf("Connection successful (%s).\n", time.Since(start).Round(time.Microsecond))
	return nil
}

// ---------- db stats ----------

func newDBStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBStats(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runDBStats(jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	total, err := st.ListKeys(ctx)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}
	active, err := st.CountActiveKeys(ctx)
	if err != nil {
		return fmt.Errorf("count active keys: %w", err)
	}
	auditCount, err := st.CountAudit(ctx)
	if err != nil {
		return fmt.Errorf("count audit records: %w", err)
	}

	pool := st.Stats()

	if jsonOutput {
		out := struct {
			Driver       string `json:"driver"`
			TotalKeys    int    `json:"total_keys"`
			ActiveKeys   int    `json:"active_keys"`
			AuditRecords int    `json:"audit_records"`
			OpenConns    int    `json:"open_conns"`
			InUse        int    `json:"in_use"`
			Idle         int    `json:"idle"`
		}{st.Driver(), len(total), active, auditCount, pool.OpenConnections, pool.InUse, pool.Idle}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Println("Store statistics")
	fmt.Println("----------------")
	fmt.Printf("  Driver:         %s\n", st.Driver())
	fmt.Printf("  API keys:       %d (%d active)\n", len(total), active)
	fmt.Printf("  Audit records:  %d\n", auditCount)
	fmt.Printf("  Open conns:     %d (in use %d, idle %d)\n", pool.OpenConnections, pool.InUse, pool.Idle)
	return nil
}
