package exitengine

import "fmt"

// Kind partitions exit failures so operators can tell "broker said no"
// from "broker never answered".
type Kind int

const (
	KindPlaceFailed Kind = iota
	KindRejected
	KindCancelled
	KindInvalidFillPrice
	KindMarketData
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindPlaceFailed:
		return "place_failed"
	case KindRejected:
		return "rejected"
	case KindCancelled:
		return "cancelled"
	case KindInvalidFillPrice:
		return "invalid_fill_price"
	case KindMarketData:
		return "market_data_unavailable"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ExecError is a terminal exit-engine failure carrying the broker's reason.
// It is never retried beyond the engine's own bounded poll loop.
type ExecError struct {
	Kind   Kind
	Reason string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("market exit failed (%s): %s", e.Kind, e.Reason)
}

// IsTimeout reports whether err is an exit timeout.
func IsTimeout(err error) bool {
	ee, ok := err.(*ExecError)
	return ok && ee.Kind == KindTimeout
}
