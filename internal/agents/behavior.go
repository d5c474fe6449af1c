package agents

import (
	"log/slog"
	"math"

	"github.com/talgya/market-sim/internal/ledger"
	"github.com/talgya/market-sim/internal/market"
	"github.com/talgya/market-sim/internal/money"
)

// DaysPerMonth is the horizon the discount rate is quoted over.
const DaysPerMonth = 30

// Policy holds the person tunables shared by everyone.
type Policy struct {
	MaxBuyOrdersPerDay int
	DaysOfSupply       int
}

// Book is the part of the order book a person reads when deciding.
type Book interface {
	OwnerVolume(owner ledger.AccountID, good market.Good, side market.Side) int
	Reserved(owner ledger.AccountID) money.Money
}

// Submitter accepts orders.
type Submitter interface {
	Submit(o market.Order) (market.OrderID, error)
}

// DiscountedUtility is what a unit consumed k days from now is worth today:
// base × rate^(k/30).
func DiscountedUtility(base money.Money, rate float64, k int) money.Money {
	if k <= 0 {
		return base
	}
	return base.FloorMulFloat(math.Pow(rate, float64(k)/DaysPerMonth))
}

// Consume uses one unit of every good in stock. It returns the units used.
func (p *Person) Consume() int {
	n := 0
	for g, q := range p.Stock {
		if q > 0 {
			p.Stock[g]--
			n++
		}
	}
	return n
}

// QuotaLeft is the number of buy orders the person may still place on day.
func (p *Person) QuotaLeft(day uint64, pol Policy) int {
	used := p.OrdersToday
	if p.OrdersDay != day {
		used = 0
	}
	return max(pol.MaxBuyOrdersPerDay-used, 0)
}

// Decide returns the single-unit buy orders the person wants to place on day.
// It reads but does not modify the person, draws no randomness and is safe to
// call for different people concurrently.
//
// Units are bid for greedily, most valuable first. A unit of good g is valued
// at DiscountedUtility(utility[g], rate, k) where k counts the units already
// held or on order, since one unit is consumed per day. Goods already covered
// for DaysOfSupply days are skipped, and bids never commit more than the
// person's free money (balance less what live buy orders reserve).
func (p *Person) Decide(day uint64, balance money.Money, book Book, pol Policy) []market.Order {
	quota := p.QuotaLeft(day, pol)
	if quota == 0 {
		return nil
	}
	acct := p.Account()
	free := balance - book.Reserved(acct)
	if free <= 0 {
		return nil
	}

	covered := make([]int, len(p.Utility))
	for g := range covered {
		covered[g] = p.Stock[g] + book.OwnerVolume(acct, market.Good(g), market.Buy)
	}

	var out []market.Order
	for len(out) < quota {
		best, bestValue := -1, money.Zero
		for g, k := range covered {
			if k >= pol.DaysOfSupply {
				continue
			}
			v := DiscountedUtility(p.Utility[g], p.DiscountRate, k)
			if v > bestValue && v <= free {
				best, bestValue = g, v
			}
		}
		if best < 0 {
			break
		}
		out = append(out, market.Order{
			Owner:      acct,
			Good:       market.Good(best),
			Side:       market.Buy,
			Quantity:   1,
			LimitPrice: bestValue,
			PlacedDay:  day,
		})
		covered[best]++
		free -= bestValue
	}
	return out
}

// Place submits orders in sequence, counting each accepted one against the
// day's quota. Rejections and quota exhaustion are skipped silently.
func (p *Person) Place(day uint64, orders []market.Order, sub Submitter, pol Policy) int {
	if p.OrdersDay != day {
		p.OrdersDay = day
		p.OrdersToday = 0
	}
	placed := 0
	for _, o := range orders {
		if p.OrdersToday >= pol.MaxBuyOrdersPerDay {
			break
		}
		if _, err := sub.Submit(o); err != nil {
			slog.Debug("buy order rejected", "person", p.ID, "error", err)
			continue
		}
		p.OrdersToday++
		placed++
	}
	return placed
}
