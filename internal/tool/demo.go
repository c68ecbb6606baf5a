package tool

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

// DemoRunner serves synthetic market data derived from the symbol alone, so
// responses are stable across calls and processes. It backs dev mode and
// tests; production deployments plug in a real upstream Runner.
type DemoRunner struct {
	mu     sync.Mutex
	rounds map[string]int64
}

func NewDemoRunner() *DemoRunner {
	return &DemoRunner{rounds: make(map[string]int64)}
}

func (d *DemoRunner) Run(ctx context.Context, name string, args map[string]any) (any, error) {
	symbol, _ := args["symbol"].(string)
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%s: symbol required", name)
	}

	switch name {
	case GetPrice:
		return d.price(symbol), nil
	case AnalyzeMarket:
		horizon, _ := args["horizon"].(string)
		if horizon == "" {
			horizon = "24h"
		}
		return d.analysis(symbol, horizon), nil
	case FeedOracle:
		price, ok := args["price"].(float64)
		if !ok || price <= 0 {
			return nil, fmt.Errorf("%s: positive price required", name)
		}
		return d.feed(symbol, price), nil
	default:
		return nil, ErrUnknownTool
	}
}

func (d *DemoRunner) Healthy(ctx context.Context) error { return nil }

func symbolSeed(symbol string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return h.Sum64()
}

func (d *DemoRunner) price(symbol string) map[string]any {
	seed := symbolSeed(symbol)
	return map[string]any{
		"symbol":   symbol,
		"price":    float64(seed%10_000_000) / 100,
		"currency": "USD",
		"source":   "demo",
		"as_of":    time.Now().UTC().Format(time.RFC3339),
	}
}

func (d *DemoRunner) analysis(symbol, horizon string) map[string]any {
	seed := symbolSeed(symbol)
	trends := []string{"bullish", "bearish", "neutral"}
	trend := trends[seed%3]
	confidence := 0.50 + float64(seed%50)/100

	return map[string]any{
		"symbol":     symbol,
		"horizon":    horizon,
		"trend":      trend,
		"confidence": confidence,
		"summary":    fmt.Sprintf("%s looks %s over the next %s", symbol, trend, horizon),
	}
}

func (d *DemoRunner) feed(symbol string, price float64) map[string]any {
	d.mu.Lock()
	d.rounds[symbol]++
	round := d.rounds[symbol]
	d.mu.Unlock()

	return map[string]any{
		"symbol":      symbol,
		"price":       price,
		"round":       round,
		"accepted":    true,
		"recorded_at": time.Now().UTC().Format(time.RFC3339),
	}
}
