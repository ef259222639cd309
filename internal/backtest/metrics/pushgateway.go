package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"alpha-core/libs/observability"
)

// Exporter pushes a Metrics snapshot to a Prometheus Pushgateway over plain
// net/http. Samples are collected in an observability.Registry and rendered
// through Registry.WriteText, the teacher's zero-dependency text-exposition
// writer, rather than a third-party push client (spec.md §4.9, SPEC_FULL.md
// §4.8/4.9).
type Exporter struct {
	baseURL string
	client  *http.Client
	reg     *observability.Registry
	gauges  map[string]*observability.Gauge
}

// NewExporter builds an Exporter targeting baseURL (the Pushgateway's root,
// e.g. "http://pushgateway:9091"). An empty baseURL makes Push a no-op,
// matching config.TimeseriesPushURL's "export is optional" contract.
func NewExporter(baseURL string) *Exporter {
	reg := observability.NewRegistry()
	gauges := map[string]*observability.Gauge{
		"alpha_core_net_pnl":              reg.NewGauge("alpha_core_net_pnl", "Run net PnL."),
		"alpha_core_gross_pnl":            reg.NewGauge("alpha_core_gross_pnl", "Run gross PnL."),
		"alpha_core_fees_total":           reg.NewGauge("alpha_core_fees_total", "Run total fees."),
		"alpha_core_slippage_total":       reg.NewGauge("alpha_core_slippage_total", "Run total slippage cost."),
		"alpha_core_turnover_total":       reg.NewGauge("alpha_core_turnover_total", "Run total turnover."),
		"alpha_core_trades_total":         reg.NewGauge("alpha_core_trades_total", "Run total completed trades."),
		"alpha_core_win_rate_daily":       reg.NewGauge("alpha_core_win_rate_daily", "Win rate by day."),
		"alpha_core_win_rate_per_trade":   reg.NewGauge("alpha_core_win_rate_per_trade", "Win rate by exit record."),
		"alpha_core_cost_bps_on_turnover": reg.NewGauge("alpha_core_cost_bps_on_turnover", "Fee+slippage in bps of turnover."),
		"alpha_core_sharpe":               reg.NewGauge("alpha_core_sharpe", "Annualised Sharpe ratio."),
		"alpha_core_sortino":              reg.NewGauge("alpha_core_sortino", "Annualised Sortino ratio."),
		"alpha_core_max_drawdown":         reg.NewGauge("alpha_core_max_drawdown", "Max drawdown in dollar terms."),
		"alpha_core_mar":                  reg.NewGauge("alpha_core_mar", "Annualised return over max drawdown."),
	}
	return &Exporter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		reg:     reg,
		gauges:  gauges,
	}
}

// Instance returns the "<hostname>_<INSTANCE>" label spec.md §4.9 requires
// so parallel runs never collide in the Pushgateway's grouping key.
func Instance() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	if env := os.Getenv("INSTANCE"); env != "" {
		return host + "_" + env
	}
	return host
}

// Push stamps m with run_id/symbol/session/instance labels and POSTs it to
// the Pushgateway's grouping-key URL for that instance, so one process's
// push never overwrites another's (spec.md §4.9).
func (e *Exporter) Push(ctx context.Context, m Metrics, symbol, session string) error {
	if e.baseURL == "" {
		return nil
	}
	instance := Instance()
	url := fmt.Sprintf("%s/metrics/job/alpha_core_backtest/instance/%s", e.baseURL, instance)

	e.record(m, symbol, session, instance)
	var buf bytes.Buffer
	e.reg.WriteText(&buf)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("metrics: build pushgateway request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; version=0.0.4")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("metrics: pushgateway push: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("metrics: pushgateway returned %s", resp.Status)
	}
	return nil
}

// record sets every gauge's value for this push's run_id/symbol/session/
// instance label set (spec.md §4.9); Registry.WriteText renders them.
func (e *Exporter) record(m Metrics, symbol, session, instance string) {
	labels := []string{"run_id", m.RunID, "symbol", symbol, "session", session, "instance", instance}
	set := func(name string, value float64) {
		e.gauges[name].Set(value, labels...)
	}

	set("alpha_core_net_pnl", m.Totals.NetPnL)
	set("alpha_core_gross_pnl", m.Totals.GrossPnL)
	set("alpha_core_fees_total", m.Totals.Fees)
	set("alpha_core_slippage_total", m.Totals.Slippage)
	set("alpha_core_turnover_total", m.Totals.Turnover)
	set("alpha_core_trades_total", float64(m.Totals.Trades))
	set("alpha_core_win_rate_daily", m.WinRates.Daily)
	set("alpha_core_win_rate_per_trade", m.WinRates.PerTrade)
	set("alpha_core_cost_bps_on_turnover", m.CostBpsOnTurnover)
	set("alpha_core_sharpe", m.Sharpe)
	set("alpha_core_sortino", m.Sortino)
	set("alpha_core_max_drawdown", m.MaxDrawdown)
	set("alpha_core_mar", m.MAR)
}
