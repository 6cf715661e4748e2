package broker

import (
	"context"
	"errors"
)

// Credential is the API key used to authenticate broker calls. It is threaded
// through every operation explicitly; nothing reads ambient state.
type Credential string

// ErrUnavailable signals that a market-data lookup had no price to give.
// Callers fall back to the quote endpoint before failing.
var ErrUnavailable = errors.New("price unavailable")

// PlaceOrderRequest describes a single order sent to the venue.
type PlaceOrderRequest struct {
	Strategy  string
	Symbol    string
	Exchange  string
	Product   string
	Action    string // BUY or SELL
	Quantity  int
	PriceType string // MARKET for exits
}

// PlaceOrderAck is the venue's response to an order placement.
// Status "analyze" marks a sandbox fill.
type PlaceOrderAck struct {
	OrderID string
	Status  string
	Message string
}

// OrderStatus is one polled snapshot of a placed order.
type OrderStatus struct {
	Status       string // lowercased venue status: open, complete, rejected, cancelled, ...
	AveragePrice float64
	Price        float64
	Reason       string
}

// Quote is the subset of a full quote the exit engine needs.
type Quote struct {
	LTP float64
}

// OrderGateway places orders and reports their status.
type OrderGateway interface {
	PlaceOrder(ctx context.Context, req PlaceOrderRequest, cred Credential) (PlaceOrderAck, error)
	GetOrderStatus(ctx context.Context, orderID string, cred Credential) (OrderStatus, error)
}

// MarketDataGateway resolves reference prices for sandbox exits.
type MarketDataGateway interface {
	GetLastTradedPrice(ctx context.Context, symbol, exchange string) (float64, error)
	GetQuote(ctx context.Context, symbol, exchange string, cred Credential) (Quote, error)
}

// ModeFlag reports whether the venue runs in analyze (sandbox) mode.
type ModeFlag interface {
	IsAnalyzeMode(ctx context.Context) bool
}
