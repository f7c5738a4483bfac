package reporting

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducminhle1904/crypto-risk-core/internal/engine"
	"github.com/ducminhle1904/crypto-risk-core/internal/errors"
	"github.com/ducminhle1904/crypto-risk-core/internal/performance"
	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

var twoColumns = []table.ColumnConfig{
	{Number: 1, WidthMin: 22, WidthMax: 22, Align: text.AlignLeft},
	{Number: 2, WidthMin: 25, WidthMax: 50, Align: text.AlignLeft},
}

// RenderStatus writes the risk status as a sectioned table.
func RenderStatus(w io.Writer, s risk.Status) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("RISK STATUS")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Trading", yesNo(s.MayTrade, "ALLOWED", "HALTED")},
		{"As of", s.AsOf.Format(time.RFC3339)},
	})
	t.AppendSeparator()

	t.AppendRows([]table.Row{
		{"Breaker", s.Breaker.State.String()},
		{"Trips", s.Breaker.TripCount},
	})
	if s.Breaker.State == safety.StateCoolingDown {
		t.AppendRow(table.Row{"Cooldown remaining", s.Breaker.CooldownRemaining.Round(time.Second).String()})
	}
	if s.Breaker.LastTrip != nil {
		t.AppendRow(table.Row{"Last trip", fmt.Sprintf("%s at %.2f%% (%s)",
			s.Breaker.LastTrip.TrippedAt.Format(time.RFC3339), s.Breaker.LastTrip.Drawdown*100, s.Breaker.LastTrip.Reason)})
	}
	t.AppendSeparator()

	stop := "inactive"
	if s.EmergencyStop.Active {
		stop = fmt.Sprintf("ACTIVE since %s (%s)", s.EmergencyStop.ActivatedAt.Format(time.RFC3339), s.EmergencyStop.Reason)
	}
	t.AppendRows([]table.Row{
		{"Emergency stop", stop},
		{"Stop activations", s.StopActivations},
		{"Connectivity", yesNo(s.Connectivity.Healthy, "healthy", "DEGRADED")},
		{"Latency (last/avg)", fmt.Sprintf("%.0fms / %.0fms", s.Connectivity.LastLatencyMs, s.Connectivity.AvgLatencyMs)},
		{"Consecutive failures", s.Connectivity.ConsecutiveFailures},
	})
	t.AppendSeparator()

	t.AppendRows([]table.Row{
		{"Equity", fmt.Sprintf("$%.2f", s.Drawdown.CurrentEquity)},
		{"Peak equity", fmt.Sprintf("$%.2f", s.Drawdown.PeakEquity)},
		{"Drawdown", fmt.Sprintf("%.2f%% (trip at %.2f%%)", s.Drawdown.DrawdownPct*100, s.Limits.MaxDrawdownTripPct*100)},
		{"Max drawdown", fmt.Sprintf("%.2f%%", s.MaxDrawdownPct*100)},
	})
	t.AppendSeparator()
	appendPerformance(t, s.Performance)

	t.SetColumnConfigs(twoColumns)
	t.Render()
}

// RenderPerformance writes one snapshot.
func RenderPerformance(w io.Writer, snap performance.PerformanceSnapshot) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("PERFORMANCE")
	t.SetStyle(table.StyleRounded)
	appendPerformance(t, snap)
	t.SetColumnConfigs(twoColumns)
	t.Render()
}

func appendPerformance(t table.Writer, snap performance.PerformanceSnapshot) {
	t.AppendRows([]table.Row{
		{"Trades", snap.TradeCount},
		{"Win rate", fmt.Sprintf("%.1f%%", snap.WinRate*100)},
		{"Profit factor", FormatProfitFactor(snap)},
		{"Sharpe", FormatSharpe(snap)},
		{"Net PnL", fmt.Sprintf("$%.2f", snap.NetPnL)},
		{"ROI", fmt.Sprintf("%.2f%%", snap.ROIPct*100)},
	})
}

// RenderEngine writes trading loop counters.
func RenderEngine(w io.Writer, s engine.Stats) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("TRADING ENGINE")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Running", yesNo(s.Running, "yes", "no")},
		{"Exchange", s.Exchange},
		{"Symbol", s.Symbol},
		{"Strategy", s.Strategy},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Cycles", fmt.Sprintf("%d (%d gated, %d failed)", s.Cycles, s.GatedCycles, s.FailedCycles)},
		{"Orders", fmt.Sprintf("%d submitted, %d rejected", s.OrdersSubmitted, s.OrdersRejected)},
		{"Fills / closed", fmt.Sprintf("%d / %d", s.Fills, s.TradesClosed)},
		{"Flattens", s.Flattens},
		{"Position", fmt.Sprintf("%.8f @ %.4f", s.PositionQty, s.AverageEntry)},
	})
	if s.LastDecision != "" {
		t.AppendRow(table.Row{"Last decision", s.LastDecision})
	}
	if s.LastError != "" {
		t.AppendRow(table.Row{"Last error", s.LastError})
	}
	if s.Recovery.TotalErrors > 0 {
		t.AppendSeparator()
		t.AppendRow(table.Row{"Errors", fmt.Sprintf("%d total, %d consecutive", s.Recovery.TotalErrors, s.Recovery.ConsecutiveFailures)})
		categories := make([]string, 0, len(s.Recovery.ErrorRates))
		for c := range s.Recovery.ErrorRates {
			categories = append(categories, string(c))
		}
		sort.Strings(categories)
		for _, c := range categories {
			t.AppendRow(table.Row{"  " + c, fmt.Sprintf("%.1f%%", s.Recovery.ErrorRates[errors.ErrorCategory(c)]*100)})
		}
	}

	t.SetColumnConfigs(twoColumns)
	t.Render()
}

// RenderTrips writes the breaker trip history, newest last.
func RenderTrips(w io.Writer, trips []safety.TripRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("CIRCUIT BREAKER TRIPS")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Tripped at", "Drawdown", "Reason"})
	for i, trip := range trips {
		t.AppendRow(table.Row{i + 1, trip.TrippedAt.Format(time.RFC3339), fmt.Sprintf("%.2f%%", trip.Drawdown*100), trip.Reason})
	}
	if len(trips) == 0 {
		t.AppendRow(table.Row{"-", "no trips recorded", "", ""})
	}
	t.Render()
}

// FormatProfitFactor renders an infinite profit factor as "inf".
func FormatProfitFactor(snap performance.PerformanceSnapshot) string {
	if snap.ProfitFactorInfinite {
		return "inf"
	}
	return fmt.Sprintf("%.2f", snap.ProfitFactor)
}

// FormatSharpe renders an undefined ratio as "n/a".
func FormatSharpe(snap performance.PerformanceSnapshot) string {
	if !snap.SharpeDefined {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", snap.SharpeRatio)
}

func yesNo(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}
