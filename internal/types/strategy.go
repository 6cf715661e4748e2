package types

import "time"

// StrategyStatus is the lifecycle status of a strategy instance. Values other
// than RUNNING and COMPLETED are stored as-is; only RUNNING is load-bearing
// (it gates override publication).
type StrategyStatus string

const (
	StrategyRunning   StrategyStatus = "RUNNING"
	StrategyCompleted StrategyStatus = "COMPLETED"
)

// StrategyConfig carries the subset of strategy configuration the leg service
// reads. Product is used as a fallback when a leg record omits its own.
type StrategyConfig struct {
	Product string `json:"product,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// ClosedTrade is an immutable trade-history entry, appended exactly once when
// a leg exits.
type ClosedTrade struct {
	LegKey     string    `json:"leg_key"`
	ExitPrice  float64   `json:"exit_price"`
	ExitStatus LegStatus `json:"exit_status"`
	ExitTime   time.Time `json:"exit_time"`
	Pnl        float64   `json:"pnl"`
}

// StrategyState is the stored snapshot of one strategy instance. The store
// owns it; services read and mutate it only through store operations.
type StrategyState struct {
	InstanceID   string          `json:"instance_id"`
	Status       StrategyStatus  `json:"status"`
	Legs         map[string]Leg  `json:"legs"`
	TradeHistory []ClosedTrade   `json:"trade_history"`
	Config       StrategyConfig  `json:"config"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
