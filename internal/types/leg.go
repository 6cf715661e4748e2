package types

import (
	"strings"
	"time"
)

// Side is the direction of a leg position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalizes a raw side string. Returns false when the value is
// not BUY or SELL.
func ParseSide(raw string) (Side, bool) {
	switch Side(strings.ToUpper(strings.TrimSpace(raw))) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	}
	return "", false
}

// Opposite returns the exit direction for a position opened on this side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// LegStatus models the leg lifecycle. Terminal statuses are one-way: once a
// leg reaches SL_HIT, TARGET_HIT or MANUAL_EXIT nothing revives it.
type LegStatus string

const (
	StatusPendingEntry LegStatus = "PENDING_ENTRY"
	StatusPendingExit  LegStatus = "PENDING_EXIT"
	StatusInPosition   LegStatus = "IN_POSITION"
	StatusIdle         LegStatus = "IDLE"
	StatusSLHit        LegStatus = "SL_HIT"
	StatusTargetHit    LegStatus = "TARGET_HIT"
	StatusManualExit   LegStatus = "MANUAL_EXIT"
)

// Open reports whether the leg still contributes unrealized P&L.
func (s LegStatus) Open() bool {
	switch s {
	case StatusInPosition, StatusPendingEntry, StatusPendingExit:
		return true
	}
	return false
}

// Terminal reports whether the leg has exited.
func (s LegStatus) Terminal() bool {
	switch s {
	case StatusSLHit, StatusTargetHit, StatusManualExit:
		return true
	}
	return false
}

// LegType distinguishes legs created by hand from legs owned by a running
// strategy process.
type LegType string

const (
	LegTypeManual   LegType = "MANUAL"
	LegTypeStrategy LegType = "STRATEGY"
)

// CreateMode selects the initial status of a manual leg.
type CreateMode string

const (
	// ModeTrack attaches to an already-filled external trade.
	ModeTrack CreateMode = "TRACK"
	// ModeNew creates a leg that still waits for its entry fill.
	ModeNew CreateMode = "NEW"
)

// Leg is one tradable position within a strategy.
type Leg struct {
	LegKey            string     `json:"leg_key"`
	Symbol            string     `json:"symbol"`
	Exchange          string     `json:"exchange"`
	Product           string     `json:"product"`
	Quantity          int        `json:"quantity"`
	Side              Side       `json:"side"`
	EntryPrice        *float64   `json:"entry_price,omitempty"`
	EntryTime         *time.Time `json:"entry_time,omitempty"`
	SLPrice           *float64   `json:"sl_price,omitempty"`
	TargetPrice       *float64   `json:"target_price,omitempty"`
	SLPercent         *float64   `json:"sl_percent,omitempty"`
	TargetPercent     *float64   `json:"target_percent,omitempty"`
	LegPairName       string     `json:"leg_pair_name,omitempty"`
	IsMainLeg         bool       `json:"is_main_leg"`
	LegType           LegType    `json:"leg_type"`
	Status            LegStatus  `json:"status"`
	UnrealizedPnl     *float64   `json:"unrealized_pnl,omitempty"`
	ReentryLimit      *int       `json:"reentry_limit,omitempty"`
	ReexecuteLimit    *int       `json:"reexecute_limit,omitempty"`
	WaitTradePercent  *float64   `json:"wait_trade_percent,omitempty"`
	WaitBaselinePrice *float64   `json:"wait_baseline_price,omitempty"`
}
