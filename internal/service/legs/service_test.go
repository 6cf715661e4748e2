package legs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"legbook/internal/creds"
	"legbook/internal/exitengine"
	"legbook/internal/gateway/broker"
	"legbook/internal/store"
	"legbook/internal/types"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, instanceID string) (*types.StrategyState, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.StrategyState), args.Error(1)
}

func (m *MockStore) ListAll(ctx context.Context) ([]types.StrategyState, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.StrategyState), args.Error(1)
}

func (m *MockStore) Delete(ctx context.Context, instanceID string) error {
	args := m.Called(ctx, instanceID)
	return args.Error(0)
}

func (m *MockStore) AddLeg(ctx context.Context, instanceID string, leg types.Leg) (*types.Leg, error) {
	args := m.Called(ctx, instanceID, leg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Leg), args.Error(1)
}

func (m *MockStore) ExitLeg(ctx context.Context, instanceID, legKey string, exitPrice float64, exitStatus types.LegStatus, exitTime time.Time) (*types.StrategyState, error) {
	args := m.Called(ctx, instanceID, legKey, exitPrice, exitStatus, exitTime)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.StrategyState), args.Error(1)
}

func (m *MockStore) CreateOverride(ctx context.Context, instanceID, legKey string, overrideType types.OverrideType, newValue float64) (*types.Override, error) {
	args := m.Called(ctx, instanceID, legKey, overrideType, newValue)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Override), args.Error(1)
}

func (m *MockStore) ListOverrides(ctx context.Context, instanceID, legKey string) ([]types.Override, error) {
	args := m.Called(ctx, instanceID, legKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Override), args.Error(1)
}

func (m *MockStore) PurgeOverrides(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) Close() error { return nil }

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Execute(ctx context.Context, req exitengine.Request, cred broker.Credential) (float64, error) {
	args := m.Called(ctx, req, cred)
	return args.Get(0).(float64), args.Error(1)
}

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }
func bptr(v bool) *bool       { return &v }

func newService(st *MockStore, engine *MockEngine) *Service {
	return NewService(st, engine, creds.Static("test-key"))
}

func validAddParams() AddManualLegParams {
	return AddManualLegParams{
		LegKey:     "MANUAL_1",
		Symbol:     "SENSEX05FEB2682200CE",
		Exchange:   "BFO",
		Product:    "NRML",
		Quantity:   200,
		Side:       "SELL",
		EntryPrice: fptr(733.05),
		IsMainLeg:  bptr(false),
		Mode:       "TRACK",
	}
}

func runningState(legs map[string]types.Leg) *types.StrategyState {
	return &types.StrategyState{
		InstanceID: "inst-1",
		Status:     types.StrategyRunning,
		Legs:       legs,
	}
}

func inPositionLeg(legType types.LegType) types.Leg {
	return types.Leg{
		LegKey:     "CE_SELL",
		Symbol:     "NIFTY26FEB2622500CE",
		Exchange:   "NFO",
		Product:    "MIS",
		Quantity:   75,
		Side:       types.SideBuy,
		EntryPrice: fptr(100),
		Status:     types.StatusInPosition,
		LegType:    legType,
	}
}

func TestAddManualLegValidation(t *testing.T) {
	svc := newService(new(MockStore), new(MockEngine))
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*AddManualLegParams)
		substr string
	}{
		{"missing leg key", func(p *AddManualLegParams) { p.LegKey = "" }, "leg_key"},
		{"missing symbol", func(p *AddManualLegParams) { p.Symbol = "" }, "symbol"},
		{"missing exchange", func(p *AddManualLegParams) { p.Exchange = "" }, "exchange"},
		{"missing product", func(p *AddManualLegParams) { p.Product = "" }, "product"},
		{"zero quantity", func(p *AddManualLegParams) { p.Quantity = 0 }, "quantity"},
		{"missing is_main_leg", func(p *AddManualLegParams) { p.IsMainLeg = nil }, "is_main_leg"},
		{"bad side", func(p *AddManualLegParams) { p.Side = "LONG" }, "side must be BUY or SELL"},
		{"bad mode", func(p *AddManualLegParams) { p.Mode = "ATTACH" }, "mode must be TRACK or NEW"},
		{"track without entry", func(p *AddManualLegParams) { p.EntryPrice = nil }, "entry_price is required"},
		{"zero sl percent", func(p *AddManualLegParams) { p.SLPercent = fptr(0) }, "sl_percent"},
		{"negative target percent", func(p *AddManualLegParams) { p.TargetPercent = fptr(-0.1) }, "target_percent"},
		{"negative reentry limit", func(p *AddManualLegParams) { p.ReentryLimit = iptr(-1) }, "reentry_limit"},
		{"negative reexecute limit", func(p *AddManualLegParams) { p.ReexecuteLimit = iptr(-2) }, "reexecute_limit"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validAddParams()
			tc.mutate(&p)
			_, err := svc.AddManualLeg(ctx, "inst-1", p)
			require.Error(t, err)
			assert.True(t, IsValidation(err), "expected validation error, got %v", err)
			assert.ErrorContains(t, err, tc.substr)
		})
	}
}

func TestAddManualLegNewModeWaitParams(t *testing.T) {
	svc := newService(new(MockStore), new(MockEngine))
	ctx := context.Background()

	p := validAddParams()
	p.Mode = "NEW"
	p.EntryPrice = nil
	p.WaitTradePercent = fptr(0)
	_, err := svc.AddManualLeg(ctx, "inst-1", p)
	assert.ErrorContains(t, err, "wait_trade_percent must be positive")

	p.WaitTradePercent = fptr(0.02)
	p.WaitBaselinePrice = nil
	_, err = svc.AddManualLeg(ctx, "inst-1", p)
	assert.ErrorContains(t, err, "wait_baseline_price is required")
}

func TestAddManualLegTrackComputesLevels(t *testing.T) {
	st := new(MockStore)
	svc := newService(st, new(MockEngine))

	var saved types.Leg
	st.On("AddLeg", mock.Anything, "inst-1", mock.Anything).Run(func(args mock.Arguments) {
		saved = args.Get(2).(types.Leg)
	}).Return(&types.Leg{LegKey: "MANUAL_1"}, nil)

	p := validAddParams()
	p.SLPercent = fptr(0.05)
	p.TargetPercent = fptr(0.1)

	_, err := svc.AddManualLeg(context.Background(), "inst-1", p)
	require.NoError(t, err)

	assert.Equal(t, types.StatusInPosition, saved.Status)
	assert.Equal(t, types.LegTypeManual, saved.LegType)
	// SELL leg: SL above entry, target below.
	require.NotNil(t, saved.SLPrice)
	require.NotNil(t, saved.TargetPrice)
	assert.InDelta(t, 733.05*1.05, *saved.SLPrice, 1e-6)
	assert.InDelta(t, 733.05*0.9, *saved.TargetPrice, 1e-6)
	assert.NotNil(t, saved.EntryTime)
}

func TestAddManualLegNewModeStartsPending(t *testing.T) {
	st := new(MockStore)
	svc := newService(st, new(MockEngine))

	var saved types.Leg
	st.On("AddLeg", mock.Anything, "inst-1", mock.Anything).Run(func(args mock.Arguments) {
		saved = args.Get(2).(types.Leg)
	}).Return(&types.Leg{LegKey: "MANUAL_1"}, nil)

	p := validAddParams()
	p.Mode = "NEW"
	p.EntryPrice = nil
	// Percent is validated even without an entry price, but no level is set.
	p.SLPercent = fptr(0.05)

	_, err := svc.AddManualLeg(context.Background(), "inst-1", p)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPendingEntry, saved.Status)
	assert.Nil(t, saved.SLPrice)
	assert.Nil(t, saved.TargetPrice)
}

func TestAddManualLegStoreErrors(t *testing.T) {
	st := new(MockStore)
	svc := newService(st, new(MockEngine))

	st.On("AddLeg", mock.Anything, "inst-1", mock.Anything).Return(nil, store.ErrDuplicateLeg).Once()
	_, err := svc.AddManualLeg(context.Background(), "inst-1", validAddParams())
	assert.ErrorIs(t, err, store.ErrDuplicateLeg)

	st.On("AddLeg", mock.Anything, "inst-1", mock.Anything).Return(nil, store.ErrNotFound).Once()
	_, err = svc.AddManualLeg(context.Background(), "inst-1", validAddParams())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManualExitLegNotFoundAndBadStatus(t *testing.T) {
	st := new(MockStore)
	svc := newService(st, new(MockEngine))
	ctx := context.Background()

	st.On("Get", mock.Anything, "missing").Return(nil, store.ErrNotFound).Once()
	_, err := svc.ManualExitLeg(ctx, "missing", "CE_SELL", ManualExitLegParams{ExitAtMarket: true})
	assert.ErrorIs(t, err, store.ErrNotFound)

	st.On("Get", mock.Anything, "inst-1").Return(runningState(map[string]types.Leg{}), nil).Once()
	_, err = svc.ManualExitLeg(ctx, "inst-1", "CE_SELL", ManualExitLegParams{ExitAtMarket: true})
	assert.ErrorIs(t, err, store.ErrLegNotFound)

	for _, status := range []types.LegStatus{
		types.StatusPendingEntry, types.StatusPendingExit, types.StatusIdle,
		types.StatusSLHit, types.StatusTargetHit, types.StatusManualExit,
	} {
		leg := inPositionLeg(types.LegTypeManual)
		leg.Status = status
		st.On("Get", mock.Anything, "inst-1").Return(runningState(map[string]types.Leg{"CE_SELL": leg}), nil).Once()
		_, err = svc.ManualExitLeg(ctx, "inst-1", "CE_SELL", ManualExitLegParams{ExitAtMarket: true})
		assert.ErrorIs(t, err, ErrInvalidState, "status %s must be rejected", status)
	}
}

func TestManualExitLegPricedValidation(t *testing.T) {
	st := new(MockStore)
	svc := newService(st, new(MockEngine))
	ctx := context.Background()

	// BUY leg with entry 100.
	state := runningState(map[string]types.Leg{"CE_SELL": inPositionLeg(types.LegTypeManual)})

	st.On("Get", mock.Anything, "inst-1").Return(state, nil)

	_, err := svc.ManualExitLeg(ctx, "inst-1", "CE_SELL", ManualExitLegParams{
		ExitPrice: fptr(99), ExitStatus: "TARGET_HIT",
	})
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	_, err = svc.ManualExitLeg(ctx, "inst-1", "CE_SELL", ManualExitLegParams{
		ExitPrice: fptr(101), ExitStatus: "SL_HIT",
	})
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	st.On("ExitLeg", mock.Anything, "inst-1", "CE_SELL", 101.0, types.StatusTargetHit, mock.Anything).
		Return(state, nil).Once()
	_, err = svc.ManualExitLeg(ctx, "inst-1", "CE_SELL", ManualExitLegParams{
		ExitPrice: fptr(101), ExitStatus: "TARGET_HIT",
	})
	assert.NoError(t, err)
}

func TestManualExitLegPricedParamValidation(t *testing.T) {
	svc := newService(new(MockStore), new(MockEngine))
	ctx := context.Background()

	_, err := svc.ManualExitLeg(ctx, "inst-1", "CE_SELL", ManualExitLegParams{ExitStatus: "TARGET_HIT"})
	assert.ErrorContains(t, err, "exit_price is required")

	_, err = svc.ManualExitLeg(ctx, "inst-1", "CE_SELL", ManualExitLegParams{ExitPrice: fptr(10)})
	assert.ErrorContains(t, err, "exit_status is required")

	_, err = svc.ManualExitLeg(ctx, "inst-1", "CE_SELL", ManualExitLegParams{ExitPrice: fptr(10), ExitStatus: "MANUAL_EXIT"})
	assert.ErrorContains(t, err, "SL_HIT or TARGET_HIT")

	_, err = svc.ManualExitLeg(ctx, "inst-1", "CE_SELL", ManualExitLegParams{ExitPrice: fptr(-5), ExitStatus: "SL_HIT"})
	assert.ErrorContains(t, err, "must be positive")

	_, err = svc.ManualExitLeg(ctx, "inst-1", "CE_SELL", ManualExitLegParams{ExitAtMarket: true, ExitStatus: "DONE"})
	assert.ErrorContains(t, err, "SL_HIT, TARGET_HIT, or MANUAL_EXIT")
}

func TestManualExitLegMarketPublishesOverride(t *testing.T) {
	st := new(MockStore)
	engine := new(MockEngine)
	svc := newService(st, engine)
	ctx := context.Background()

	state := runningState(map[string]types.Leg{"CE_SELL": inPositionLeg(types.LegTypeStrategy)})
	st.On("Get", mock.Anything, "inst-1").Return(state, nil)
	engine.On("Execute", mock.Anything, mock.Anything, broker.Credential("test-key")).Return(105.5, nil)
	st.On("ExitLeg", mock.Anything, "inst-1", "CE_SELL", 105.5, types.StatusManualExit, mock.Anything).
		Return(state, nil)
	st.On("CreateOverride", mock.Anything, "inst-1", "CE_SELL", types.OverrideManualExit, 105.5).
		Return(&types.Override{ID: "ov-1"}, nil)

	_, err := svc.ManualExitLeg(ctx, "inst-1", "CE_SELL", ManualExitLegParams{ExitAtMarket: true})
	require.NoError(t, err)
	st.AssertCalled(t, "CreateOverride", mock.Anything, "inst-1", "CE_SELL", types.OverrideManualExit, 105.5)

	req := engine.Calls[0].Arguments.Get(1).(exitengine.Request)
	assert.Equal(t, "NIFTY26FEB2622500CE", req.Symbol)
	assert.Equal(t, "NFO", req.Exchange)
	assert.Equal(t, "MIS", req.Product)
}

func TestManualExitLegMarketNoOverrideForManualLeg(t *testing.T) {
	st := new(MockStore)
	engine := new(MockEngine)
	svc := newService(st, engine)

	state := runningState(map[string]types.Leg{"CE_SELL": inPositionLeg(types.LegTypeManual)})
	st.On("Get", mock.Anything, "inst-1").Return(state, nil)
	engine.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(105.5, nil)
	st.On("ExitLeg", mock.Anything, "inst-1", "CE_SELL", 105.5, types.StatusManualExit, mock.Anything).
		Return(state, nil)

	_, err := svc.ManualExitLeg(context.Background(), "inst-1", "CE_SELL", ManualExitLegParams{ExitAtMarket: true})
	require.NoError(t, err)
	st.AssertNotCalled(t, "CreateOverride", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestManualExitLegMarketNoOverrideWhenNotRunning(t *testing.T) {
	st := new(MockStore)
	engine := new(MockEngine)
	svc := newService(st, engine)

	state := runningState(map[string]types.Leg{"CE_SELL": inPositionLeg(types.LegTypeStrategy)})
	state.Status = types.StrategyCompleted
	st.On("Get", mock.Anything, "inst-1").Return(state, nil)
	engine.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(105.5, nil)
	st.On("ExitLeg", mock.Anything, "inst-1", "CE_SELL", 105.5, types.StatusManualExit, mock.Anything).
		Return(state, nil)

	_, err := svc.ManualExitLeg(context.Background(), "inst-1", "CE_SELL", ManualExitLegParams{ExitAtMarket: true})
	require.NoError(t, err)
	st.AssertNotCalled(t, "CreateOverride", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestManualExitLegOverrideFailureDoesNotFailExit(t *testing.T) {
	st := new(MockStore)
	engine := new(MockEngine)
	svc := newService(st, engine)

	state := runningState(map[string]types.Leg{"CE_SELL": inPositionLeg(types.LegTypeStrategy)})
	st.On("Get", mock.Anything, "inst-1").Return(state, nil)
	engine.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(105.5, nil)
	st.On("ExitLeg", mock.Anything, "inst-1", "CE_SELL", 105.5, types.StatusManualExit, mock.Anything).
		Return(state, nil)
	st.On("CreateOverride", mock.Anything, "inst-1", "CE_SELL", types.OverrideManualExit, 105.5).
		Return(nil, errors.New("override table locked"))

	_, err := svc.ManualExitLeg(context.Background(), "inst-1", "CE_SELL", ManualExitLegParams{ExitAtMarket: true})
	assert.NoError(t, err)
}

func TestManualExitLegMarketInfersExchangeAndProduct(t *testing.T) {
	st := new(MockStore)
	engine := new(MockEngine)
	svc := newService(st, engine)

	leg := inPositionLeg(types.LegTypeManual)
	leg.Symbol = "SENSEX05FEB2682200CE"
	leg.Exchange = ""
	leg.Product = ""
	state := runningState(map[string]types.Leg{"CE_SELL": leg})
	state.Config = types.StrategyConfig{Product: "NRML"}

	st.On("Get", mock.Anything, "inst-1").Return(state, nil)
	engine.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(700.0, nil)
	st.On("ExitLeg", mock.Anything, "inst-1", "CE_SELL", 700.0, types.StatusManualExit, mock.Anything).
		Return(state, nil)

	_, err := svc.ManualExitLeg(context.Background(), "inst-1", "CE_SELL", ManualExitLegParams{ExitAtMarket: true})
	require.NoError(t, err)

	req := engine.Calls[0].Arguments.Get(1).(exitengine.Request)
	assert.Equal(t, "BFO", req.Exchange)
	// Strategy config product wins over the MIS default.
	assert.Equal(t, "NRML", req.Product)
}

func TestManualExitLegMarketEngineFailure(t *testing.T) {
	st := new(MockStore)
	engine := new(MockEngine)
	svc := newService(st, engine)

	state := runningState(map[string]types.Leg{"CE_SELL": inPositionLeg(types.LegTypeManual)})
	st.On("Get", mock.Anything, "inst-1").Return(state, nil)
	engine.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(0.0, &exitengine.ExecError{Kind: exitengine.KindTimeout, Reason: "order execution timeout after 20s"})

	_, err := svc.ManualExitLeg(context.Background(), "inst-1", "CE_SELL", ManualExitLegParams{ExitAtMarket: true})
	require.Error(t, err)
	assert.True(t, exitengine.IsTimeout(err))
	st.AssertNotCalled(t, "ExitLeg", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateOverride(t *testing.T) {
	st := new(MockStore)
	svc := newService(st, new(MockEngine))
	ctx := context.Background()

	_, err := svc.CreateOverride(ctx, "inst-1", "CE_SELL", "entry_price", 10)
	assert.ErrorContains(t, err, "override_type")

	_, err = svc.CreateOverride(ctx, "inst-1", "CE_SELL", "sl_price", -1)
	assert.ErrorContains(t, err, "non-negative")

	leg := inPositionLeg(types.LegTypeStrategy)
	leg.Status = types.StatusTargetHit
	st.On("Get", mock.Anything, "inst-1").Return(runningState(map[string]types.Leg{"CE_SELL": leg}), nil).Once()
	_, err = svc.CreateOverride(ctx, "inst-1", "CE_SELL", "sl_price", 120)
	assert.ErrorIs(t, err, ErrInvalidState)

	st.On("Get", mock.Anything, "inst-1").
		Return(runningState(map[string]types.Leg{"CE_SELL": inPositionLeg(types.LegTypeStrategy)}), nil).Once()
	st.On("CreateOverride", mock.Anything, "inst-1", "CE_SELL", types.OverrideSLPrice, 120.0).
		Return(&types.Override{ID: "ov-1", OverrideType: types.OverrideSLPrice, NewValue: 120}, nil).Once()
	ov, err := svc.CreateOverride(ctx, "inst-1", "CE_SELL", "sl_price", 120)
	require.NoError(t, err)
	assert.Equal(t, "ov-1", ov.ID)
}
