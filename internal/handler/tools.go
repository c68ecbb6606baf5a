package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/signing"
	"github.com/gatewarden/gatewarden/internal/tool"
)

// Tools serves the protected downstream operations. Requests reaching these
// handlers have already passed admission, permission, and quota; the handlers
// only validate arguments and relay to the runner.
type Tools struct {
	runner        tool.Runner
	signingSecret []byte
	logger        *slog.Logger
}

// NewTools creates a Tools handler. signingSecret may be nil, which disables
// response signing on the feed endpoint.
func NewTools(runner tool.Runner, signingSecret []byte, logger *slog.Logger) *Tools {
	return &Tools{
		runner:        runner,
		signingSecret: signingSecret,
		logger:        logger,
	}
}

type getPriceRequest struct {
	Symbol string `json:"symbol"`
}

// GetPrice returns the current quote for a symbol.
// POST /tools/get_price
func (h *Tools) GetPrice(w http.ResponseWriter, r *http.Request) {
	var req getPriceRequest
	if err := readJSON(r, &req); err != nil {
		writeCode(w, model.CodeInvalidRequest)
		return
	}
	if strings.TrimSpace(req.Symbol) == "" {
		writeCode(w, model.CodeInvalidRequest)
		return
	}

	out, err := h.runner.Run(r.Context(), tool.GetPrice, map[string]any{
		"symbol": req.Symbol,
	})
	if err != nil {
		h.runnerError(w, tool.GetPrice, err)
		return
	}
	writeData(w, http.StatusOK, out)
}

type analyzeMarketRequest struct {
	Symbol  string `json:"symbol"`
	Horizon string `json:"horizon,omitempty"`
}

// AnalyzeMarket returns a trend assessment for a symbol.
// POST /tools/analyze_market
func (h *Tools) AnalyzeMarket(w http.ResponseWriter, r *http.Request) {
	var req analyzeMarketRequest
	if err := readJSON(r, &req); err != nil {
		writeCode(w, model.CodeInvalidRequest)
		return
	}
	if strings.TrimSpace(req.Symbol) == "" {
		writeCode(w, model.CodeInvalidRequest)
		return
	}

	out, err := h.runner.Run(r.Context(), tool.AnalyzeMarket, map[string]any{
		"symbol":  req.Symbol,
		"horizon": req.Horizon,
	})
	if err != nil {
		h.runnerError(w, tool.AnalyzeMarket, err)
		return
	}
	writeData(w, http.StatusOK, out)
}

type feedOracleRequest struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Source string  `json:"source,omitempty"`
}

// FeedOracle submits a price observation. The response body is signed so the
// caller can prove the submission round-trip came from this gateway.
// POST /tools/feed_oracle
func (h *Tools) FeedOracle(w http.ResponseWriter, r *http.Request) {
	var req feedOracleRequest
	if err := readJSON(r, &req); err != nil {
		writeCode(w, model.CodeInvalidRequest)
		return
	}
	if strings.TrimSpace(req.Symbol) == "" || req.Price <= 0 {
		writeCode(w, model.CodeInvalidRequest)
		return
	}

	args := map[string]any{
		"symbol": req.Symbol,
		"price":  req.Price,
	}
	if req.Source != "" {
		args["source"] = req.Source
	}

	out, err := h.runner.Run(r.Context(), tool.FeedOracle, args)
	if err != nil {
		h.runnerError(w, tool.FeedOracle, err)
		return
	}

	// The signature must cover the exact bytes on the wire, so the envelope
	// is marshalled once and written verbatim.
	body, err := json.Marshal(model.NewData(out))
	if err != nil {
		h.logger.Error("marshal feed response", "error", err)
		writeCode(w, model.CodeInternal)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if len(h.signingSecret) > 0 {
		w.Header().Set(signing.Header, signing.Sign(body, h.signingSecret))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(body) //nolint:errcheck
}

// Health reports whether the downstream runner is reachable.
// GET /tools/health
func (h *Tools) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.runner.Healthy(r.Context()); err != nil {
		h.logger.Warn("tool runner unhealthy", "error", err)
		writeCode(w, model.CodeUpstreamUnavailable)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"runner": "ok"})
}

// runnerError maps a runner failure to the uniform envelope. Argument
// problems were filtered above, so anything surfacing here is treated as a
// downstream outage.
func (h *Tools) runnerError(w http.ResponseWriter, name string, err error) {
	h.logger.Error("tool run failed", "tool", name, "error", err)
	writeCode(w, model.CodeUpstreamUnavailable)
}
