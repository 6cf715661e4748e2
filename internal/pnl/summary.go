// Package pnl reduces a strategy state snapshot into summary totals.
package pnl

import (
	"github.com/shopspring/decimal"

	"legbook/internal/types"
)

// Summary is the derived P&L view of one strategy instance.
type Summary struct {
	TotalRealizedPnl   float64 `json:"total_realized_pnl"`
	TotalUnrealizedPnl float64 `json:"total_unrealized_pnl"`
	TotalPnl           float64 `json:"total_pnl"`
	OpenPositionsCount int     `json:"open_positions_count"`
	IdlePositionsCount int     `json:"idle_positions_count"`
	TotalTrades        int     `json:"total_trades"`
}

// Summarize computes the summary for a state snapshot. Realized P&L comes
// exclusively from trade history and unrealized exclusively from open legs,
// so a closed leg never contributes twice. Pure function.
func Summarize(state types.StrategyState) Summary {
	unrealized := decimal.Zero
	openCount := 0
	idleCount := 0
	for _, leg := range state.Legs {
		switch {
		case leg.Status.Open():
			openCount++
			if leg.UnrealizedPnl != nil {
				unrealized = unrealized.Add(decimal.NewFromFloat(*leg.UnrealizedPnl))
			}
		case leg.Status == types.StatusIdle:
			idleCount++
		}
	}

	realized := decimal.Zero
	for _, trade := range state.TradeHistory {
		realized = realized.Add(decimal.NewFromFloat(trade.Pnl))
	}

	realizedF, _ := realized.Float64()
	unrealizedF, _ := unrealized.Float64()
	totalF, _ := realized.Add(unrealized).Float64()
	return Summary{
		TotalRealizedPnl:   realizedF,
		TotalUnrealizedPnl: unrealizedF,
		TotalPnl:           totalF,
		OpenPositionsCount: openCount,
		IdlePositionsCount: idleCount,
		TotalTrades:        len(state.TradeHistory),
	}
}
