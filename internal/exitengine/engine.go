// Package exitengine places a market exit order for a leg and resolves the
// fill price, either against the live order book or the sandbox venue.
package exitengine

import (
	"context"
	"fmt"
	"time"

	"legbook/internal/gateway/broker"
	"legbook/internal/logger"
	"legbook/internal/types"
)

// Clock abstracts time so the poll loop is testable without wall-clock
// delays. The loop has no cancellation hook: once started it runs to
// completion (fill, hard failure, or timeout).
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock is the wall-clock implementation used outside tests.
func RealClock() Clock { return realClock{} }

const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxRetries   = 10

	orderStrategyTag = "StrategyExit"
)

// Request identifies the position being exited. Side is the ORIGINAL
// position side; the engine places the opposite action.
type Request struct {
	Symbol   string
	Exchange string
	Product  string
	Quantity int
	Side     types.Side
}

// Engine orchestrates exit order placement and fill-price resolution.
type Engine struct {
	orders   broker.OrderGateway
	market   broker.MarketDataGateway
	mode     broker.ModeFlag
	clock    Clock
	interval time.Duration
	retries  int
}

// New builds an engine. Zero interval/retries fall back to the defaults
// (2s poll, 10 attempts).
func New(orders broker.OrderGateway, market broker.MarketDataGateway, mode broker.ModeFlag, clock Clock, interval time.Duration, retries int) *Engine {
	if clock == nil {
		clock = realClock{}
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if retries <= 0 {
		retries = DefaultMaxRetries
	}
	return &Engine{orders: orders, market: market, mode: mode, clock: clock, interval: interval, retries: retries}
}

// Execute places the exit order and returns the fill price. Sandbox venues
// resolve the price from market data; live venues poll the order status.
func (e *Engine) Execute(ctx context.Context, req Request, cred broker.Credential) (float64, error) {
	action := string(req.Side.Opposite())
	logger.Infof("market exit start: symbol=%s exchange=%s qty=%d side=%s action=%s",
		req.Symbol, req.Exchange, req.Quantity, req.Side, action)

	if e.mode != nil && e.mode.IsAnalyzeMode(ctx) {
		logger.Infof("analyze mode active, using sandbox execution for %s", req.Symbol)
		return e.executeSandbox(ctx, req, action, cred)
	}
	return e.executeLive(ctx, req, action, cred)
}

// pollState is the live poll loop's explicit state machine. Each poll attempt
// moves pollPending to one of the terminal states or stays pending; a
// transient status-fetch error also stays pending and still consumes a slot.
type pollState int

const (
	pollPending pollState = iota
	pollComplete
	pollRejected
	pollCancelled
)

func classify(status broker.OrderStatus) pollState {
	switch status.Status {
	case "complete":
		return pollComplete
	case "rejected":
		return pollRejected
	case "cancelled":
		return pollCancelled
	default:
		return pollPending
	}
}

func (e *Engine) executeLive(ctx context.Context, req Request, action string, cred broker.Credential) (float64, error) {
	ack, err := e.orders.PlaceOrder(ctx, broker.PlaceOrderRequest{
		Strategy:  orderStrategyTag,
		Symbol:    req.Symbol,
		Exchange:  req.Exchange,
		Product:   req.Product,
		Action:    action,
		Quantity:  req.Quantity,
		PriceType: "MARKET",
	}, cred)
	if err != nil {
		return 0, &ExecError{Kind: KindPlaceFailed, Reason: err.Error()}
	}
	if ack.Status != "success" {
		reason := ack.Message
		if reason == "" {
			reason = "failed to place market exit order"
		}
		return 0, &ExecError{Kind: KindPlaceFailed, Reason: reason}
	}
	if ack.OrderID == "" {
		return 0, &ExecError{Kind: KindPlaceFailed, Reason: "no order ID returned from broker"}
	}
	logger.Infof("market exit order placed, order_id=%s", ack.OrderID)

	state := pollPending
	for attempt := 1; attempt <= e.retries; attempt++ {
		e.clock.Sleep(e.interval)
		logger.Debugf("order %s status check %d/%d", ack.OrderID, attempt, e.retries)

		status, err := e.orders.GetOrderStatus(ctx, ack.OrderID, cred)
		if err != nil {
			// Transient fetch failures keep the loop pending; the attempt
			// still counts against the retry ceiling.
			logger.Warnf("order %s status fetch failed: %v", ack.OrderID, err)
			continue
		}
		state = classify(status)
		switch state {
		case pollComplete:
			fill := status.AveragePrice
			if fill <= 0 {
				logger.Warnf("order %s completed with invalid average_price %v, falling back to price", ack.OrderID, fill)
				fill = status.Price
			}
			if fill <= 0 {
				return 0, &ExecError{Kind: KindInvalidFillPrice, Reason: fmt.Sprintf("order completed but invalid fill price: %v", fill)}
			}
			logger.Infof("order %s filled at %v", ack.OrderID, fill)
			return fill, nil
		case pollRejected:
			return 0, &ExecError{Kind: KindRejected, Reason: rejectionReason("rejected", status.Reason)}
		case pollCancelled:
			return 0, &ExecError{Kind: KindCancelled, Reason: rejectionReason("cancelled", status.Reason)}
		}
	}
	elapsed := time.Duration(e.retries) * e.interval
	return 0, &ExecError{Kind: KindTimeout, Reason: fmt.Sprintf("order execution timeout after %s", elapsed)}
}

func rejectionReason(status, reason string) string {
	if reason == "" {
		reason = "no reason provided"
	}
	return fmt.Sprintf("order %s: %s", status, reason)
}

// executeSandbox resolves a reference price from market data and still places
// the order so the sandbox books the trade; the reference price is treated as
// the instantaneous fill.
func (e *Engine) executeSandbox(ctx context.Context, req Request, action string, cred broker.Credential) (float64, error) {
	ref, err := e.market.GetLastTradedPrice(ctx, req.Symbol, req.Exchange)
	if err != nil || ref <= 0 {
		logger.Warnf("LTP unavailable for %s on %s, trying quote lookup", req.Symbol, req.Exchange)
		quote, qerr := e.market.GetQuote(ctx, req.Symbol, req.Exchange, cred)
		if qerr != nil || quote.LTP <= 0 {
			return 0, &ExecError{Kind: KindMarketData, Reason: fmt.Sprintf("unable to fetch LTP for %s on %s", req.Symbol, req.Exchange)}
		}
		ref = quote.LTP
	}
	logger.Infof("sandbox exit for %s using reference price %v", req.Symbol, ref)

	ack, err := e.orders.PlaceOrder(ctx, broker.PlaceOrderRequest{
		Strategy:  orderStrategyTag,
		Symbol:    req.Symbol,
		Exchange:  req.Exchange,
		Product:   req.Product,
		Action:    action,
		Quantity:  req.Quantity,
		PriceType: "MARKET",
	}, cred)
	if err != nil {
		return 0, &ExecError{Kind: KindPlaceFailed, Reason: err.Error()}
	}
	if ack.Status != "success" && ack.Status != "analyze" {
		reason := ack.Message
		if reason == "" {
			reason = "failed to place sandbox exit order"
		}
		return 0, &ExecError{Kind: KindPlaceFailed, Reason: reason}
	}
	return ref, nil
}
