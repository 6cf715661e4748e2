// Package pricing derives stop-loss, target and P&L figures for a leg.
// All arithmetic goes through shopspring/decimal so level comparisons stay
// exact across the float boundary.
package pricing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"legbook/internal/types"
)

var decOne = decimal.NewFromInt(1)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// StopLoss computes the stop-loss level for a filled leg.
// BUY: entry*(1-pct); SELL: entry*(1+pct). pct must be strictly positive.
func StopLoss(entry float64, side types.Side, pct float64) (float64, error) {
	if pct <= 0 {
		return 0, fmt.Errorf("sl_percent must be positive, got %v", pct)
	}
	base := decFromFloat(entry)
	pctDec := decFromFloat(pct)
	var factor decimal.Decimal
	if side == types.SideBuy {
		factor = decOne.Sub(pctDec)
	} else {
		factor = decOne.Add(pctDec)
	}
	return decToFloat(base.Mul(factor)), nil
}

// Target computes the target level for a filled leg.
// BUY: entry*(1+pct); SELL: entry*(1-pct). pct must be strictly positive.
func Target(entry float64, side types.Side, pct float64) (float64, error) {
	if pct <= 0 {
		return 0, fmt.Errorf("target_percent must be positive, got %v", pct)
	}
	base := decFromFloat(entry)
	pctDec := decFromFloat(pct)
	var factor decimal.Decimal
	if side == types.SideBuy {
		factor = decOne.Add(pctDec)
	} else {
		factor = decOne.Sub(pctDec)
	}
	return decToFloat(base.Mul(factor)), nil
}

// Pnl is the realized P&L of a closed leg. BUY profits when exit > entry,
// SELL when exit < entry.
func Pnl(entry, exit float64, side types.Side, quantity int) float64 {
	diff := decFromFloat(exit).Sub(decFromFloat(entry))
	if side == types.SideSell {
		diff = diff.Neg()
	}
	return decToFloat(diff.Mul(decimal.NewFromInt(int64(quantity))))
}
