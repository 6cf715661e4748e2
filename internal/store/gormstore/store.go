// Package gormstore persists strategy states and overrides in SQLite via GORM.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"legbook/internal/pricing"
	"legbook/internal/store"
	"legbook/internal/types"
)

type strategyStateModel struct {
	InstanceID   string         `gorm:"column:instance_id;primaryKey"`
	Status       string         `gorm:"column:status"`
	Legs         datatypes.JSON `gorm:"column:legs"`
	TradeHistory datatypes.JSON `gorm:"column:trade_history"`
	Config       datatypes.JSON `gorm:"column:config"`
	UpdatedAt    time.Time      `gorm:"column:updated_at"`
}

func (strategyStateModel) TableName() string { return "strategy_states" }

type overrideModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	InstanceID   string    `gorm:"column:instance_id;index"`
	LegKey       string    `gorm:"column:leg_key;index"`
	OverrideType string    `gorm:"column:override_type"`
	NewValue     float64   `gorm:"column:new_value"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (overrideModel) TableName() string { return "strategy_overrides" }

// Store implements store.StateStore on GORM + SQLite.
type Store struct {
	db *gorm.DB
}

var _ store.StateStore = (*Store)(nil)

// New opens (or creates) the SQLite database at path.
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("state store path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return NewFromDB(db)
}

// NewFromDB wraps an existing gorm connection, mainly for tests.
func NewFromDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	if err := db.AutoMigrate(&strategyStateModel{}, &overrideModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		// SQLite + WAL: keep a little read parallelism, low lock contention.
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Get(ctx context.Context, instanceID string) (*types.StrategyState, error) {
	var row strategyStateModel
	err := s.db.WithContext(ctx).First(&row, "instance_id = ?", instanceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading strategy state %s: %w", instanceID, err)
	}
	return decodeState(row)
}

func (s *Store) ListAll(ctx context.Context) ([]types.StrategyState, error) {
	var rows []strategyStateModel
	if err := s.db.WithContext(ctx).Order("instance_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing strategy states: %w", err)
	}
	states := make([]types.StrategyState, 0, len(rows))
	for _, row := range rows {
		state, err := decodeState(row)
		if err != nil {
			return nil, err
		}
		states = append(states, *state)
	}
	return states, nil
}

func (s *Store) Delete(ctx context.Context, instanceID string) error {
	res := s.db.WithContext(ctx).Delete(&strategyStateModel{}, "instance_id = ?", instanceID)
	if res.Error != nil {
		return fmt.Errorf("deleting strategy state %s: %w", instanceID, res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Save upserts a full state snapshot. Used by tests and by external strategy
// processes seeding their instances.
func (s *Store) Save(ctx context.Context, state types.StrategyState) error {
	row, err := encodeState(state)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *Store) AddLeg(ctx context.Context, instanceID string, leg types.Leg) (*types.Leg, error) {
	var added *types.Leg
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state, err := getForUpdate(tx, instanceID)
		if err != nil {
			return err
		}
		if _, exists := state.Legs[leg.LegKey]; exists {
			return fmt.Errorf("%w: %s", store.ErrDuplicateLeg, leg.LegKey)
		}
		if state.Legs == nil {
			state.Legs = map[string]types.Leg{}
		}
		state.Legs[leg.LegKey] = leg
		added = &leg
		return saveState(tx, *state)
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// ExitLeg transitions a leg into a terminal status and appends the closed
// trade, in one transaction. The IN_POSITION check lives inside the
// transaction: it is the serialization point for concurrent exits.
func (s *Store) ExitLeg(ctx context.Context, instanceID, legKey string, exitPrice float64, exitStatus types.LegStatus, exitTime time.Time) (*types.StrategyState, error) {
	var updated *types.StrategyState
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state, err := getForUpdate(tx, instanceID)
		if err != nil {
			return err
		}
		leg, ok := state.Legs[legKey]
		if !ok {
			return fmt.Errorf("%w: %s", store.ErrLegNotFound, legKey)
		}
		if leg.Status != types.StatusInPosition {
			return fmt.Errorf("%w: %s is %s", store.ErrLegNotOpen, legKey, leg.Status)
		}

		var realized float64
		if leg.EntryPrice != nil {
			realized = pricing.Pnl(*leg.EntryPrice, exitPrice, leg.Side, leg.Quantity)
		}
		leg.Status = exitStatus
		leg.UnrealizedPnl = nil
		state.Legs[legKey] = leg
		state.TradeHistory = append(state.TradeHistory, types.ClosedTrade{
			LegKey:     legKey,
			ExitPrice:  exitPrice,
			ExitStatus: exitStatus,
			ExitTime:   exitTime,
			Pnl:        realized,
		})
		if err := saveState(tx, *state); err != nil {
			return err
		}
		updated = state
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) CreateOverride(ctx context.Context, instanceID, legKey string, overrideType types.OverrideType, newValue float64) (*types.Override, error) {
	row := overrideModel{
		ID:           uuid.NewString(),
		InstanceID:   instanceID,
		LegKey:       legKey,
		OverrideType: string(overrideType),
		NewValue:     newValue,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("creating override for %s/%s: %w", instanceID, legKey, err)
	}
	ov := decodeOverride(row)
	return &ov, nil
}

func (s *Store) ListOverrides(ctx context.Context, instanceID, legKey string) ([]types.Override, error) {
	q := s.db.WithContext(ctx).Where("instance_id = ?", instanceID)
	if legKey != "" {
		q = q.Where("leg_key = ?", legKey)
	}
	var rows []overrideModel
	if err := q.Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing overrides for %s: %w", instanceID, err)
	}
	out := make([]types.Override, 0, len(rows))
	for _, row := range rows {
		out = append(out, decodeOverride(row))
	}
	return out, nil
}

func (s *Store) PurgeOverrides(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", olderThan).Delete(&overrideModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("purging overrides: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func getForUpdate(tx *gorm.DB, instanceID string) (*types.StrategyState, error) {
	var row strategyStateModel
	err := tx.First(&row, "instance_id = ?", instanceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading strategy state %s: %w", instanceID, err)
	}
	return decodeState(row)
}

func saveState(tx *gorm.DB, state types.StrategyState) error {
	row, err := encodeState(state)
	if err != nil {
		return err
	}
	return tx.Save(&row).Error
}

func encodeState(state types.StrategyState) (strategyStateModel, error) {
	legs, err := json.Marshal(state.Legs)
	if err != nil {
		return strategyStateModel{}, fmt.Errorf("encoding legs: %w", err)
	}
	history, err := json.Marshal(state.TradeHistory)
	if err != nil {
		return strategyStateModel{}, fmt.Errorf("encoding trade history: %w", err)
	}
	cfg, err := json.Marshal(state.Config)
	if err != nil {
		return strategyStateModel{}, fmt.Errorf("encoding config: %w", err)
	}
	return strategyStateModel{
		InstanceID:   state.InstanceID,
		Status:       string(state.Status),
		Legs:         legs,
		TradeHistory: history,
		Config:       cfg,
		UpdatedAt:    time.Now().UTC(),
	}, nil
}

func decodeState(row strategyStateModel) (*types.StrategyState, error) {
	state := types.StrategyState{
		InstanceID: row.InstanceID,
		Status:     types.StrategyStatus(row.Status),
		Legs:       map[string]types.Leg{},
		UpdatedAt:  row.UpdatedAt,
	}
	if len(row.Legs) > 0 {
		if err := json.Unmarshal(row.Legs, &state.Legs); err != nil {
			return nil, fmt.Errorf("decoding legs for %s: %w", row.InstanceID, err)
		}
	}
	if len(row.TradeHistory) > 0 {
		if err := json.Unmarshal(row.TradeHistory, &state.TradeHistory); err != nil {
			return nil, fmt.Errorf("decoding trade history for %s: %w", row.InstanceID, err)
		}
	}
	if len(row.Config) > 0 {
		if err := json.Unmarshal(row.Config, &state.Config); err != nil {
			return nil, fmt.Errorf("decoding config for %s: %w", row.InstanceID, err)
		}
	}
	return &state, nil
}

func decodeOverride(row overrideModel) types.Override {
	return types.Override{
		ID:           row.ID,
		InstanceID:   row.InstanceID,
		LegKey:       row.LegKey,
		OverrideType: types.OverrideType(row.OverrideType),
		NewValue:     row.NewValue,
		CreatedAt:    row.CreatedAt,
	}
}
