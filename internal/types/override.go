package types

import "time"

// OverrideType names the parameter an override adjusts on a running strategy.
type OverrideType string

const (
	OverrideSLPrice     OverrideType = "sl_price"
	OverrideTargetPrice OverrideType = "target_price"
	OverrideManualExit  OverrideType = "MANUAL_EXIT"
)

// Override is an out-of-band instruction addressed to a running strategy
// process. The process polls for overrides belonging to its instance and is
// expected to apply and clear them within a few seconds.
type Override struct {
	ID           string       `json:"id"`
	InstanceID   string       `json:"instance_id"`
	LegKey       string       `json:"leg_key"`
	OverrideType OverrideType `json:"override_type"`
	NewValue     float64      `json:"new_value"`
	CreatedAt    time.Time    `json:"created_at"`
}
