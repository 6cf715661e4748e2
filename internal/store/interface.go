package store

import (
	"context"
	"errors"
	"time"

	"legbook/internal/types"
)

var (
	// ErrNotFound means the strategy instance does not exist.
	ErrNotFound = errors.New("strategy state not found")
	// ErrLegNotFound means the strategy exists but has no such leg.
	ErrLegNotFound = errors.New("leg not found")
	// ErrDuplicateLeg means AddLeg would overwrite an existing leg key.
	ErrDuplicateLeg = errors.New("duplicate leg key")
	// ErrLegNotOpen means the leg is not IN_POSITION. ExitLeg re-checks this
	// inside its transaction so two concurrent exits cannot both land.
	ErrLegNotOpen = errors.New("leg not in position")
)

// StateStore is the persistence boundary for strategy states and overrides.
// Mutations are atomic per instance: ExitLeg either commits both the leg
// transition and the trade-history append, or neither.
type StateStore interface {
	Get(ctx context.Context, instanceID string) (*types.StrategyState, error)
	ListAll(ctx context.Context) ([]types.StrategyState, error)
	Delete(ctx context.Context, instanceID string) error

	AddLeg(ctx context.Context, instanceID string, leg types.Leg) (*types.Leg, error)
	ExitLeg(ctx context.Context, instanceID, legKey string, exitPrice float64, exitStatus types.LegStatus, exitTime time.Time) (*types.StrategyState, error)

	CreateOverride(ctx context.Context, instanceID, legKey string, overrideType types.OverrideType, newValue float64) (*types.Override, error)
	ListOverrides(ctx context.Context, instanceID, legKey string) ([]types.Override, error)
	PurgeOverrides(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}
