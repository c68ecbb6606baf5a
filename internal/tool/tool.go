// Package tool hosts the upstream operations the gateway fronts. The gateway
// treats a tool as an opaque command: handlers validate arguments and enforce
// admission, the runner executes.
package tool

import (
	"context"
	"errors"
)

// Tool names exposed on the gateway surface.
const (
	GetPrice      = "get_price"
	AnalyzeMarket = "analyze_market"
	FeedOracle    = "feed_oracle"
)

var ErrUnknownTool = errors.New("unknown tool")

// Runner executes a named tool with validated arguments. Healthy reports
// whether the backing service can currently serve calls.
type Runner interface {
	Run(ctx context.Context, name string, args map[string]any) (any, error)
	Healthy(ctx context.Context) error
}
