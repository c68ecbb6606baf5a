package cli

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatewarden/gatewarden/internal/secret"
)

func newBenchCmd() *cobra.Command {
	var (
		mode        string
		duration    time.Duration
		concurrency int
		hashTime    uint32
		memoryKiB   uint32
		threads     uint8
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark credential hashing throughput",
		Long: `Measure argon2id digest or verification throughput with the given cost
parameters. Use it to size auth.hash_* and auth.verify_concurrency before
putting a box in front of real traffic.`,
		Example: `  gatewarden bench --duration 10s --concurrency 4
  gatewarden bench --mode verify --memory-kib 131072
  gatewarden bench --hash-time 1 --memory-kib 8192 --threads 1   # test-grade params`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(mode, duration, concurrency, hashTime, memoryKiB, threads)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "digest", "What to measure: digest or verify")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "Test duration")
	cmd.Flags().IntVar(&concurrency, "concurrency", runtime.GOMAXPROCS(0), "Number of concurrent workers")
	cmd.Flags().Uint32Var(&hashTime, "hash-time", 3, "Argon2 time cost")
	cmd.Flags().Uint32Var(&memoryKiB, "memory-kib", 64*1024, "Argon2 memory cost in KiB")
	cmd.Flags().Uint8Var(&threads, "threads", 2, "Argon2 lanes per hash")

	return cmd
}

// printBenchBanner prints the ASCII banner and the benchmark configuration.
func printBenchBanner(mode string, params secret.Params, duration time.Duration, concurrency int) {
	fmt.Print(banner)
	fmt.Println("Gatewarden Benchmark Suite")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Target: argon2id %s (t=%d m=%s p=%d)\n", mode, params.Time, formatBytes(uint64(params.Memory)*1024), params.Threads)
	fmt.Printf("Duration: %s | Concurrency: %d\n", duration, concurrency)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

// memStats captures a snapshot of memory statistics for reporting.
type memStats struct {
	HeapAlloc uint64
	Sys       uint64
}

func captureMemStats() memStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return memStats{HeapAlloc: m.HeapAlloc, Sys: m.Sys}
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

func runBench(mode string, duration time.Duration, concurrency int, hashTime, memoryKiB uint32, threads uint8) error {
	if mode != "digest" && mode != "verify" {
		return fmt.Errorf("unsupported mode %q (digest, verify)", mode)
	}
	if concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}

	params := secret.Params{Time: hashTime, Memory: memoryKiB, Threads: threads}
	printBenchBanner(mode, params, duration, concurrency)

	hasher, err := secret.NewHasher("bench-pepper", params)
	if err != nil {
		return err
	}

	raw, err := secret.NewKey()
	if err != nil {
		return fmt.Errorf("generate sample key: %w", err)
	}
	stored := hasher.Digest(raw)

	memBefore := captureMemStats()

	var (
		totalOps    atomic.Int64
		totalErrors atomic.Int64
		latencies   = make([]time.Duration, 0, 100000)
		latencyMu   sync.Mutex
	)

	fmt.Println("Running benchmark...")
	fmt.Println()

	deadline := time.Now().Add(duration)
	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				start := time.Now()
				ok := true
				if mode == "verify" {
					ok = hasher.Verify(raw, stored)
				} else {
					hasher.Digest(raw)
				}
				elapsed := time.Since(start)

				if !ok {
					totalErrors.Add(1)
					continue
				}

				totalOps.Add(1)
				latencyMu.Lock()
				latencies = append(latencies, elapsed)
				latencyMu.Unlock()
			}
		}()
	}

	wg.Wait()

	memAfter := captureMemStats()

	total := totalOps.Load()
	errors := totalErrors.Load()
	ops := float64(total) / duration.Seconds()

	fmt.Println("Results")
	fmt.Println("-------")
	fmt.Printf("  Total ops:      %d (%s)\n", total, mode)
	fmt.Printf("  Errors:         %d\n", errors)
	fmt.Printf("  Ops/sec:        %.1f\n", ops)

	if len(latencies) > 0 {
		// Sort latencies for percentile calculation using sort.Slice
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})
		fmt.Printf("  Latency p50:    %s\n", latencies[len(latencies)*50/100])
		fmt.Printf("  Latency p95:    %s\n", latencies[len(latencies)*95/100])
		fmt.Printf("  Latency p99:    %s\n", latencies[len(latencies)*99/100])
		fmt.Printf("  Latency max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("Memory")
	fmt.Println("------")
	fmt.Printf("  Heap before:    %s\n", formatBytes(memBefore.HeapAlloc))
	fmt.Printf("  Heap after:     %s\n", formatBytes(memAfter.HeapAlloc))
	fmt.Printf("  RSS (sys) before: %s\n", formatBytes(memBefore.Sys))
	fmt.Printf("  RSS (sys) after:  %s\n", formatBytes(memAfter.Sys))

	return nil
}
