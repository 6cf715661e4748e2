// Package legs implements the leg lifecycle operations: manual leg creation,
// manual and market exits, and SL/target overrides for running strategies.
package legs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"legbook/internal/creds"
	"legbook/internal/exitengine"
	"legbook/internal/gateway/broker"
	"legbook/internal/logger"
	"legbook/internal/pkg/symbol"
	"legbook/internal/pricing"
	"legbook/internal/store"
	"legbook/internal/types"
)

// ExitExecutor resolves a market exit to a fill price.
type ExitExecutor interface {
	Execute(ctx context.Context, req exitengine.Request, cred broker.Credential) (float64, error)
}

// Service validates and performs leg state transitions against the store.
type Service struct {
	store  store.StateStore
	engine ExitExecutor
	creds  creds.Provider
}

func NewService(st store.StateStore, engine ExitExecutor, provider creds.Provider) *Service {
	return &Service{store: st, engine: engine, creds: provider}
}

// AddManualLegParams carries the caller-supplied fields of a new manual leg.
// Pointer fields distinguish "absent" from zero values.
type AddManualLegParams struct {
	LegKey            string
	Symbol            string
	Exchange          string
	Product           string
	Quantity          int
	Side              string
	EntryPrice        *float64
	SLPercent         *float64
	TargetPercent     *float64
	LegPairName       string
	IsMainLeg         *bool
	ReentryLimit      *int
	ReexecuteLimit    *int
	Mode              string
	WaitTradePercent  *float64
	WaitBaselinePrice *float64
}

// AddManualLeg validates the fields, derives SL/target levels when the entry
// price is known, and persists the new leg. TRACK mode attaches to an
// already-filled trade (IN_POSITION); NEW mode waits for a fill
// (PENDING_ENTRY).
func (s *Service) AddManualLeg(ctx context.Context, instanceID string, p AddManualLegParams) (*types.Leg, error) {
	mode := types.CreateMode(strings.ToUpper(strings.TrimSpace(p.Mode)))
	if mode == "" {
		mode = types.ModeTrack
	}
	if mode != types.ModeTrack && mode != types.ModeNew {
		return nil, validationf("mode must be TRACK or NEW")
	}

	if strings.TrimSpace(p.LegKey) == "" {
		return nil, validationf("leg_key is required")
	}
	if strings.TrimSpace(p.Symbol) == "" {
		return nil, validationf("symbol is required")
	}
	if strings.TrimSpace(p.Exchange) == "" {
		return nil, validationf("exchange is required")
	}
	if strings.TrimSpace(p.Product) == "" {
		return nil, validationf("product is required")
	}
	if p.Quantity <= 0 {
		return nil, validationf("quantity must be a positive integer")
	}
	if p.IsMainLeg == nil {
		return nil, validationf("is_main_leg is required")
	}
	side, ok := types.ParseSide(p.Side)
	if !ok {
		return nil, validationf("side must be BUY or SELL")
	}

	if mode == types.ModeTrack && p.EntryPrice == nil {
		return nil, validationf("entry_price is required")
	}

	status := types.StatusInPosition
	if mode == types.ModeNew {
		status = types.StatusPendingEntry
		if p.WaitTradePercent != nil {
			if *p.WaitTradePercent <= 0 {
				return nil, validationf("wait_trade_percent must be positive")
			}
			if p.WaitBaselinePrice == nil {
				return nil, validationf("wait_baseline_price is required for wait entry")
			}
		}
	}

	var slPrice, targetPrice *float64
	if p.EntryPrice != nil {
		if p.SLPercent != nil {
			sl, err := pricing.StopLoss(*p.EntryPrice, side, *p.SLPercent)
			if err != nil {
				return nil, validationf("%v", err)
			}
			slPrice = &sl
		}
		if p.TargetPercent != nil {
			tgt, err := pricing.Target(*p.EntryPrice, side, *p.TargetPercent)
			if err != nil {
				return nil, validationf("%v", err)
			}
			targetPrice = &tgt
		}
	} else {
		// Levels cannot be derived yet, but percentages are still
		// range-checked so a bad value does not surface later at fill time.
		if p.SLPercent != nil && *p.SLPercent <= 0 {
			return nil, validationf("sl_percent must be positive")
		}
		if p.TargetPercent != nil && *p.TargetPercent <= 0 {
			return nil, validationf("target_percent must be positive")
		}
	}

	if p.ReentryLimit != nil && *p.ReentryLimit < 0 {
		return nil, validationf("reentry_limit must be non-negative")
	}
	if p.ReexecuteLimit != nil && *p.ReexecuteLimit < 0 {
		return nil, validationf("reexecute_limit must be non-negative")
	}

	now := time.Now().UTC()
	leg := types.Leg{
		LegKey:            p.LegKey,
		Symbol:            p.Symbol,
		Exchange:          p.Exchange,
		Product:           p.Product,
		Quantity:          p.Quantity,
		Side:              side,
		EntryPrice:        p.EntryPrice,
		EntryTime:         &now,
		SLPrice:           slPrice,
		TargetPrice:       targetPrice,
		SLPercent:         p.SLPercent,
		TargetPercent:     p.TargetPercent,
		LegPairName:       p.LegPairName,
		IsMainLeg:         *p.IsMainLeg,
		LegType:           types.LegTypeManual,
		Status:            status,
		ReentryLimit:      p.ReentryLimit,
		ReexecuteLimit:    p.ReexecuteLimit,
		WaitTradePercent:  p.WaitTradePercent,
		WaitBaselinePrice: p.WaitBaselinePrice,
	}

	added, err := s.store.AddLeg(ctx, instanceID, leg)
	if err != nil {
		return nil, err
	}
	logger.Infof("manual leg %s added to %s (mode=%s status=%s)", leg.LegKey, instanceID, mode, status)
	return added, nil
}

// ManualExitLegParams selects the exit mode. A priced exit supplies ExitPrice
// and a SL_HIT/TARGET_HIT status; a market exit sets ExitAtMarket and lets
// the exit engine resolve the price.
type ManualExitLegParams struct {
	ExitPrice    *float64
	ExitStatus   string
	ExitAtMarket bool
}

// ManualExitLeg closes an IN_POSITION leg. The leg transition and the trade
// history append commit atomically at the store; an override is published
// afterwards, best-effort, when a running strategy owns the leg.
func (s *Service) ManualExitLeg(ctx context.Context, instanceID, legKey string, p ManualExitLegParams) (*types.StrategyState, error) {
	exitStatus, err := resolveExitStatus(p)
	if err != nil {
		return nil, err
	}

	state, err := s.store.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	leg, ok := state.Legs[legKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrLegNotFound, legKey)
	}
	if leg.Status != types.StatusInPosition {
		return nil, fmt.Errorf("%w: can only exit legs with IN_POSITION status, current status %s", ErrInvalidState, leg.Status)
	}

	var exitPrice float64
	if p.ExitAtMarket {
		exitPrice, err = s.executeMarketExit(ctx, instanceID, legKey, leg, state.Config)
		if err != nil {
			return nil, err
		}
	} else {
		exitPrice = *p.ExitPrice
		if err := validatePricedExit(leg, exitPrice, exitStatus); err != nil {
			return nil, err
		}
	}

	updated, err := s.store.ExitLeg(ctx, instanceID, legKey, exitPrice, exitStatus, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	logger.Infof("leg %s in %s exited with status %s at %v", legKey, instanceID, exitStatus, exitPrice)

	// A running strategy process must learn about the exit through the
	// override channel. Publication is best-effort: the exit has already
	// committed and is never rolled back for a notification failure.
	if leg.LegType != types.LegTypeManual && state.Status == types.StrategyRunning {
		if _, err := s.store.CreateOverride(ctx, instanceID, legKey, types.OverrideManualExit, exitPrice); err != nil {
			logger.Warnf("failed to create MANUAL_EXIT override for %s/%s: %v", instanceID, legKey, err)
		} else {
			logger.Infof("created MANUAL_EXIT override for %s/%s", instanceID, legKey)
		}
	}
	return updated, nil
}

func resolveExitStatus(p ManualExitLegParams) (types.LegStatus, error) {
	status := types.LegStatus(strings.TrimSpace(p.ExitStatus))
	if p.ExitAtMarket {
		if status == "" {
			return types.StatusManualExit, nil
		}
		switch status {
		case types.StatusSLHit, types.StatusTargetHit, types.StatusManualExit:
			return status, nil
		}
		return "", validationf("exit_status must be SL_HIT, TARGET_HIT, or MANUAL_EXIT")
	}
	switch status {
	case "":
		return "", validationf("exit_status is required for manual price exits")
	case types.StatusSLHit, types.StatusTargetHit:
		// fallthrough to price checks
	default:
		return "", validationf("exit_status must be SL_HIT or TARGET_HIT for manual price exits")
	}
	if p.ExitPrice == nil {
		return "", validationf("exit_price is required when exit_at_market is false")
	}
	if *p.ExitPrice <= 0 {
		return "", validationf("exit_price must be positive")
	}
	return status, nil
}

// validatePricedExit cross-checks the claimed exit status against the side
// and entry price: a BUY leg cannot hit its target below entry, and so on.
func validatePricedExit(leg types.Leg, exitPrice float64, exitStatus types.LegStatus) error {
	if leg.EntryPrice == nil {
		return nil
	}
	entry := *leg.EntryPrice
	switch exitStatus {
	case types.StatusTargetHit:
		if leg.Side == types.SideBuy && exitPrice <= entry {
			return validationf("for BUY positions with TARGET_HIT, exit price must be greater than entry price (%v)", entry)
		}
		if leg.Side == types.SideSell && exitPrice >= entry {
			return validationf("for SELL positions with TARGET_HIT, exit price must be less than entry price (%v)", entry)
		}
	case types.StatusSLHit:
		if leg.Side == types.SideBuy && exitPrice >= entry {
			return validationf("for BUY positions with SL_HIT, exit price must be less than entry price (%v)", entry)
		}
		if leg.Side == types.SideSell && exitPrice <= entry {
			return validationf("for SELL positions with SL_HIT, exit price must be greater than entry price (%v)", entry)
		}
	}
	return nil
}

// executeMarketExit fills in missing exchange/product from documented
// fallbacks, then delegates price discovery to the exit engine.
func (s *Service) executeMarketExit(ctx context.Context, instanceID, legKey string, leg types.Leg, cfg types.StrategyConfig) (float64, error) {
	if strings.TrimSpace(leg.Symbol) == "" {
		return 0, validationf("symbol is required for market exit")
	}
	if leg.Quantity <= 0 {
		return 0, validationf("quantity is required for market exit")
	}
	if leg.Side != types.SideBuy && leg.Side != types.SideSell {
		return 0, validationf("side (BUY/SELL) is required for market exit")
	}

	exchange := strings.TrimSpace(leg.Exchange)
	if exchange == "" {
		exchange = symbol.InferExchange(leg.Symbol)
		logger.Warnf("exchange missing on leg %s, inferred %s from symbol %s", legKey, exchange, leg.Symbol)
	}
	product := strings.TrimSpace(leg.Product)
	if product == "" {
		if cfg.Product != "" {
			product = cfg.Product
			logger.Infof("product missing on leg %s, using strategy config product %s", legKey, product)
		} else {
			product = symbol.DefaultProduct()
			logger.Warnf("product missing on leg %s, defaulting to %s", legKey, product)
		}
	}

	apiKey, err := s.creds.APIKey()
	if err != nil {
		return 0, fmt.Errorf("resolving broker credential: %w", err)
	}

	logger.Infof("executing market exit for %s/%s", instanceID, legKey)
	return s.engine.Execute(ctx, exitengine.Request{
		Symbol:   leg.Symbol,
		Exchange: exchange,
		Product:  product,
		Quantity: leg.Quantity,
		Side:     leg.Side,
	}, broker.Credential(apiKey))
}

// CreateOverride publishes a SL/target override for a leg of a running
// strategy. The strategy process is the sole authority that applies it; this
// operation never mutates the leg.
func (s *Service) CreateOverride(ctx context.Context, instanceID, legKey, overrideType string, newValue float64) (*types.Override, error) {
	ot := types.OverrideType(strings.TrimSpace(overrideType))
	if ot != types.OverrideSLPrice && ot != types.OverrideTargetPrice {
		return nil, validationf("override_type must be sl_price or target_price")
	}
	if newValue < 0 {
		return nil, validationf("new_value must be non-negative")
	}

	state, err := s.store.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	leg, ok := state.Legs[legKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrLegNotFound, legKey)
	}
	if leg.Status != types.StatusInPosition {
		return nil, fmt.Errorf("%w: can only modify SL/Target for legs in IN_POSITION status, current status %s", ErrInvalidState, leg.Status)
	}

	ov, err := s.store.CreateOverride(ctx, instanceID, legKey, ot, newValue)
	if err != nil {
		return nil, err
	}
	logger.Infof("created override for %s/%s: %s=%v", instanceID, legKey, ot, newValue)
	return ov, nil
}
