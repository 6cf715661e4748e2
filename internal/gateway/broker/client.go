// Package broker talks to the OpenAlgo-style brokerage REST API.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"legbook/internal/config"
	"legbook/internal/logger"
	"legbook/internal/pkg/circuit"
)

// Client implements OrderGateway, MarketDataGateway and ModeFlag over the
// broker's HTTP API. Responses are extracted with gjson because the venue's
// payloads are loosely typed and vary by broker backend.
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	breaker     *circuit.Breaker
	analyzeMode bool // config fallback when the analyzer endpoint is unreachable
}

var (
	_ OrderGateway      = (*Client)(nil)
	_ MarketDataGateway = (*Client)(nil)
	_ ModeFlag          = (*Client)(nil)
)

// NewClient constructs a broker client from configuration.
func NewClient(cfg config.BrokerConfig) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("broker.base_url cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing broker.base_url failed: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:     parsed,
		httpClient:  &http.Client{Timeout: timeout},
		breaker:     circuit.NewBreaker("broker", cfg.BreakerThreshold, time.Duration(cfg.BreakerCooldownSeconds)*time.Second),
		analyzeMode: cfg.AnalyzeMode,
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// PlaceOrder submits an order. The ack status is returned verbatim so callers
// can distinguish live fills from sandbox ("analyze") acks.
func (c *Client) PlaceOrder(ctx context.Context, req PlaceOrderRequest, cred Credential) (PlaceOrderAck, error) {
	priceType := req.PriceType
	if priceType == "" {
		priceType = "MARKET"
	}
	payload := map[string]any{
		"apikey":    string(cred),
		"strategy":  req.Strategy,
		"symbol":    req.Symbol,
		"exchange":  req.Exchange,
		"action":    req.Action,
		"quantity":  strconv.Itoa(req.Quantity),
		"price":     "0",
		"product":   req.Product,
		"pricetype": priceType,
	}
	body, err := c.doRequest(ctx, "/api/v1/placeorder", payload)
	if err != nil {
		return PlaceOrderAck{}, err
	}
	return PlaceOrderAck{
		OrderID: body.Get("orderid").String(),
		Status:  body.Get("status").String(),
		Message: body.Get("message").String(),
	}, nil
}

// GetOrderStatus fetches one status snapshot for a placed order.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string, cred Credential) (OrderStatus, error) {
	payload := map[string]any{
		"apikey":  string(cred),
		"orderid": orderID,
	}
	body, err := c.doRequest(ctx, "/api/v1/orderstatus", payload)
	if err != nil {
		return OrderStatus{}, err
	}
	if body.Get("status").String() != "success" {
		return OrderStatus{}, fmt.Errorf("order status fetch failed: %s", body.Get("message").String())
	}
	data := body.Get("data")
	return OrderStatus{
		Status:       strings.ToLower(data.Get("order_status").String()),
		AveragePrice: data.Get("average_price").Float(),
		Price:        data.Get("price").Float(),
		Reason:       data.Get("order_tag").String(),
	}, nil
}

// GetLastTradedPrice asks the venue's LTP endpoint. A missing or non-positive
// price maps to ErrUnavailable so callers can fall back to a full quote.
func (c *Client) GetLastTradedPrice(ctx context.Context, symbol, exchange string) (float64, error) {
	payload := map[string]any{
		"symbol":   symbol,
		"exchange": exchange,
	}
	body, err := c.doRequest(ctx, "/api/v1/ltp", payload)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if body.Get("status").String() != "success" {
		return 0, ErrUnavailable
	}
	ltp := body.Get("data.ltp").Float()
	if ltp <= 0 {
		return 0, ErrUnavailable
	}
	return ltp, nil
}

// GetQuote fetches a full quote and returns the fields the exit engine reads.
func (c *Client) GetQuote(ctx context.Context, symbol, exchange string, cred Credential) (Quote, error) {
	payload := map[string]any{
		"apikey":   string(cred),
		"symbol":   symbol,
		"exchange": exchange,
	}
	body, err := c.doRequest(ctx, "/api/v1/quotes", payload)
	if err != nil {
		return Quote{}, err
	}
	if body.Get("status").String() != "success" {
		return Quote{}, fmt.Errorf("quote fetch failed: %s", body.Get("message").String())
	}
	return Quote{LTP: body.Get("data.ltp").Float()}, nil
}

// IsAnalyzeMode asks the venue whether the analyzer (sandbox) is active and
// falls back to the configured default when the endpoint cannot answer.
func (c *Client) IsAnalyzeMode(ctx context.Context) bool {
	body, err := c.doRequest(ctx, "/api/v1/analyzer", map[string]any{})
	if err != nil {
		logger.Warnf("analyzer mode check failed, using configured default %v: %v", c.analyzeMode, err)
		return c.analyzeMode
	}
	if body.Get("status").String() != "success" {
		return c.analyzeMode
	}
	return body.Get("data.mode").String() == "analyze"
}

func (c *Client) doRequest(ctx context.Context, path string, payload map[string]any) (gjson.Result, error) {
	endpoint := *c.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + path

	encoded, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, err
	}

	var result gjson.Result
	err = c.breaker.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(encoded))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("broker request %s failed: %w", path, err)
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("reading broker response %s: %w", path, err)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("broker %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		if !gjson.ValidBytes(raw) {
			return fmt.Errorf("broker %s returned invalid JSON", path)
		}
		result = gjson.ParseBytes(raw)
		return nil
	})
	if err != nil {
		return gjson.Result{}, err
	}
	return result, nil
}
