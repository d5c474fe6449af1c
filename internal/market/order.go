// Package market is the order book: people post buy orders, businesses post
// sell orders, and a daily randomized-visibility match executes trades
// through the ledger.
package market

import (
	"errors"
	"fmt"

	"github.com/talgya/market-sim/internal/ledger"
	"github.com/talgya/market-sim/internal/money"
)

// ErrInvalidOrder is returned by Submit for orders that can never trade.
var ErrInvalidOrder = errors.New("invalid order")

// Good indexes the configured goods list.
type Good uint8

// Side of an order.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	switch string(b) {
	case "buy":
		*s = Buy
	case "sell":
		*s = Sell
	default:
		return fmt.Errorf("unknown side %q", b)
	}
	return nil
}

// OrderID is assigned by Submit and grows monotonically.
type OrderID uint64

// Order is a standing offer for Quantity units of one good. LimitPrice is the
// per-unit maximum for buys and the asking price for sells.
type Order struct {
	ID         OrderID          `json:"id"`
	Owner      ledger.AccountID `json:"owner"`
	Good       Good             `json:"good"`
	Side       Side             `json:"side"`
	Quantity   int              `json:"quantity"`
	Remaining  int              `json:"remaining"`
	LimitPrice money.Money      `json:"limit_price"`
	PlacedDay  uint64           `json:"placed_day"`
	ExpiresDay uint64           `json:"expires_day"`
}

// LiveAt reports whether the order is still visible on day.
func (o *Order) LiveAt(day uint64) bool {
	return o.Remaining > 0 && day < o.ExpiresDay
}

// Trade is one execution between a buy and a sell order.
type Trade struct {
	Day       uint64           `json:"day"`
	Good      Good             `json:"good"`
	Buyer     ledger.AccountID `json:"buyer"`
	Seller    ledger.AccountID `json:"seller"`
	BuyOrder  OrderID          `json:"buy_order"`
	SellOrder OrderID          `json:"sell_order"`
	Quantity  int              `json:"quantity"`
	Price     money.Money      `json:"price"`
}

// Value is the money that changed hands.
func (t Trade) Value() money.Money {
	return t.Price.Times(t.Quantity)
}
