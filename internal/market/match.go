package market

import (
	"math"
	"sort"

	"github.com/talgya/market-sim/internal/entropy"
	"github.com/talgya/market-sim/internal/ledger"
	"github.com/talgya/market-sim/internal/money"
)

// Transferer moves money between accounts. *ledger.Ledger satisfies it.
type Transferer interface {
	Transfer(from, to ledger.AccountID, amt money.Money, reason ledger.Reason) error
}

// Match runs one matching pass for day. For every good in index order and
// every live buy order in ID order, the buyer samples a fraction of the live
// sell orders, shortlists the cheapest fraction of those and picks one at
// random. A trade happens when the picked ask is within the buyer's limit and
// the buyer can pay; it executes at the ask for the smaller remaining
// quantity. Filled orders leave the book. Match never fails: an unaffordable
// or overpriced pick is simply no trade.
func (m *Market) Match(day uint64, rng *entropy.Source, l Transferer) []Trade {
	m.mu.Lock()
	defer m.mu.Unlock()

	var trades []Trade
	for g := range m.books {
		b := &m.books[g]
		for _, buy := range b.buys {
			if !buy.LiveAt(day) {
				continue
			}
			live := liveSells(b.sells, day, buy.Owner)
			if len(live) == 0 {
				continue
			}

			picked := sampleSells(live, rng, m.params.SellOrdersSeen)
			sort.Slice(picked, func(i, j int) bool {
				if picked[i].LimitPrice != picked[j].LimitPrice {
					return picked[i].LimitPrice < picked[j].LimitPrice
				}
				return picked[i].ID < picked[j].ID
			})
			shortlist := fractionOf(m.params.ChooseBestFrom, len(picked))
			sell := picked[rng.Intn(shortlist)]

			if sell.LimitPrice > buy.LimitPrice {
				continue
			}
			qty := min(buy.Remaining, sell.Remaining)
			t := Trade{
				Day:       day,
				Good:      Good(g),
				Buyer:     buy.Owner,
				Seller:    sell.Owner,
				BuyOrder:  buy.ID,
				SellOrder: sell.ID,
				Quantity:  qty,
				Price:     sell.LimitPrice,
			}
			if err := l.Transfer(buy.Owner, sell.Owner, t.Value(), ledger.Trade); err != nil {
				continue
			}
			buy.Remaining -= qty
			sell.Remaining -= qty
			trades = append(trades, t)
		}
		b.buys = dropFilled(b.buys)
		b.sells = dropFilled(b.sells)
	}
	return trades
}

func liveSells(sells []*Order, day uint64, buyer ledger.AccountID) []*Order {
	var out []*Order
	for _, o := range sells {
		if o.LiveAt(day) && o.Owner != buyer {
			out = append(out, o)
		}
	}
	return out
}

// sampleSells draws ceil(frac*n) of the live sells without replacement.
func sampleSells(live []*Order, rng *entropy.Source, frac float64) []*Order {
	k := fractionOf(frac, len(live))
	out := make([]*Order, 0, k)
	for _, i := range rng.Sample(len(live), k) {
		out = append(out, live[i])
	}
	return out
}

// fractionOf is ceil(frac*n) clamped to [1, n] for n > 0.
func fractionOf(frac float64, n int) int {
	k := int(math.Ceil(frac * float64(n)))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

func dropFilled(list []*Order) []*Order {
	kept := list[:0]
	for _, o := range list {
		if o.Remaining > 0 {
			kept = append(kept, o)
		}
	}
	clear(list[len(kept):])
	return kept
}
