package statehttp

import "legbook/internal/service/legs"

// addManualLegRequest mirrors the manual-leg request body. Pointer fields
// distinguish absent values from zeros (is_main_leg can legitimately be
// false).
type addManualLegRequest struct {
	LegKey            string   `json:"leg_key"`
	Symbol            string   `json:"symbol"`
	Exchange          string   `json:"exchange"`
	Product           string   `json:"product"`
	Quantity          int      `json:"quantity"`
	Side              string   `json:"side"`
	EntryPrice        *float64 `json:"entry_price"`
	SLPercent         *float64 `json:"sl_percent"`
	TargetPercent     *float64 `json:"target_percent"`
	LegPairName       string   `json:"leg_pair_name"`
	IsMainLeg         *bool    `json:"is_main_leg"`
	ReentryLimit      *int     `json:"reentry_limit"`
	ReexecuteLimit    *int     `json:"reexecute_limit"`
	Mode              string   `json:"mode"`
	WaitTradePercent  *float64 `json:"wait_trade_percent"`
	WaitBaselinePrice *float64 `json:"wait_baseline_price"`
}

func (r addManualLegRequest) toParams() legs.AddManualLegParams {
	return legs.AddManualLegParams{
		LegKey:            r.LegKey,
		Symbol:            r.Symbol,
		Exchange:          r.Exchange,
		Product:           r.Product,
		Quantity:          r.Quantity,
		Side:              r.Side,
		EntryPrice:        r.EntryPrice,
		SLPercent:         r.SLPercent,
		TargetPercent:     r.TargetPercent,
		LegPairName:       r.LegPairName,
		IsMainLeg:         r.IsMainLeg,
		ReentryLimit:      r.ReentryLimit,
		ReexecuteLimit:    r.ReexecuteLimit,
		Mode:              r.Mode,
		WaitTradePercent:  r.WaitTradePercent,
		WaitBaselinePrice: r.WaitBaselinePrice,
	}
}

type manualExitRequest struct {
	ExitPrice    *float64 `json:"exit_price"`
	ExitStatus   string   `json:"exit_status"`
	ExitAtMarket bool     `json:"exit_at_market"`
}

type createOverrideRequest struct {
	LegKey       string   `json:"leg_key"`
	OverrideType string   `json:"override_type"`
	NewValue     *float64 `json:"new_value"`
}
