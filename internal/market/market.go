package market

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/talgya/market-sim/internal/ledger"
	"github.com/talgya/market-sim/internal/money"
)

// Params are the market tunables.
type Params struct {
	SellOrdersSeen float64 `json:"sell_orders_seen"` // fraction of live sells a buyer samples
	ChooseBestFrom float64 `json:"choose_best_from"` // fraction of the cheapest sampled sells picked from
	ExpirationDays uint64  `json:"expiration_days"`
}

type book struct {
	buys  []*Order // ascending ID
	sells []*Order // ascending ID
}

func (b *book) side(s Side) *[]*Order {
	if s == Sell {
		return &b.sells
	}
	return &b.buys
}

// Market is the order book for every good. All methods are safe for
// concurrent use; matching itself is expected to run on one goroutine.
type Market struct {
	mu      sync.Mutex
	params  Params
	nextID  OrderID
	books   []book
	history []*PriceHistory
}

// New creates an empty book for n goods.
func New(goods int, p Params) *Market {
	m := &Market{params: p, nextID: 1, books: make([]book, goods), history: make([]*PriceHistory, goods)}
	for i := range m.history {
		m.history[i] = NewPriceHistory(Good(i), HistoryDays)
	}
	return m
}

// Params returns the market tunables.
func (m *Market) Params() Params { return m.params }

// Goods is the number of goods the book trades.
func (m *Market) Goods() int { return len(m.books) }

// Submit validates and enters an order, assigning its ID, Remaining and
// ExpiresDay.
func (m *Market) Submit(o Order) (OrderID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case int(o.Good) >= len(m.books):
		return 0, fmt.Errorf("good %d: %w", o.Good, ErrInvalidOrder)
	case o.Quantity <= 0:
		return 0, fmt.Errorf("quantity %d: %w", o.Quantity, ErrInvalidOrder)
	case o.LimitPrice <= 0:
		return 0, fmt.Errorf("limit price %s: %w", o.LimitPrice, ErrInvalidOrder)
	case o.Side != Buy && o.Side != Sell:
		return 0, fmt.Errorf("side %d: %w", o.Side, ErrInvalidOrder)
	}

	o.ID = m.nextID
	m.nextID++
	o.Remaining = o.Quantity
	o.ExpiresDay = o.PlacedDay + m.params.ExpirationDays

	list := m.books[o.Good].side(o.Side)
	*list = append(*list, &o)
	return o.ID, nil
}

// Expire removes and returns every order with ExpiresDay <= day, in ID
// order. Filled orders are dropped silently.
func (m *Market) Expire(day uint64) []Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Order
	for g := range m.books {
		for _, s := range []Side{Buy, Sell} {
			list := m.books[g].side(s)
			kept := (*list)[:0]
			for _, o := range *list {
				switch {
				case o.Remaining == 0:
				case o.ExpiresDay <= day:
					out = append(out, *o)
				default:
					kept = append(kept, o)
				}
			}
			clear((*list)[len(kept):])
			*list = kept
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cancel removes every order of owner and returns them in ID order.
func (m *Market) Cancel(owner ledger.AccountID) []Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Order
	for g := range m.books {
		for _, s := range []Side{Buy, Sell} {
			list := m.books[g].side(s)
			kept := (*list)[:0]
			for _, o := range *list {
				if o.Owner == owner {
					if o.Remaining > 0 {
						out = append(out, *o)
					}
					continue
				}
				kept = append(kept, o)
			}
			clear((*list)[len(kept):])
			*list = kept
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Orders returns copies of the live orders for a good and side, in ID order.
func (m *Market) Orders(good Good, side Side) []Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	if int(good) >= len(m.books) {
		return nil
	}
	var out []Order
	for _, o := range *m.books[good].side(side) {
		if o.Remaining > 0 {
			out = append(out, *o)
		}
	}
	return out
}

// Volume is the unfilled quantity on one side of a good's book.
func (m *Market) Volume(good Good, side Side) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if int(good) >= len(m.books) {
		return 0
	}
	n := 0
	for _, o := range *m.books[good].side(side) {
		n += o.Remaining
	}
	return n
}

// OwnerVolume is the unfilled quantity owner has on one side of a good.
func (m *Market) OwnerVolume(owner ledger.AccountID, good Good, side Side) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if int(good) >= len(m.books) {
		return 0
	}
	n := 0
	for _, o := range *m.books[good].side(side) {
		if o.Owner == owner {
			n += o.Remaining
		}
	}
	return n
}

// Reserved is the money owner has committed to unfilled buy orders at their
// limit prices.
func (m *Market) Reserved(owner ledger.AccountID) money.Money {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sum money.Money
	for g := range m.books {
		for _, o := range m.books[g].buys {
			if o.Owner == owner {
				sum += o.LimitPrice.Times(o.Remaining)
			}
		}
	}
	return sum
}

// Len is the number of unfilled orders in the book.
func (m *Market) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for g := range m.books {
		for _, s := range []Side{Buy, Sell} {
			for _, o := range *m.books[g].side(s) {
				if o.Remaining > 0 {
					n++
				}
			}
		}
	}
	return n
}

// History returns the price history of one good.
func (m *Market) History(good Good) *PriceHistory {
	if int(good) >= len(m.history) {
		return nil
	}
	return m.history[good]
}

// RecordPrices appends the day's sell-side price statistics and traded volume
// for every good.
func (m *Market) RecordPrices(day uint64, trades []Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()

	volume := make([]int, len(m.books))
	for _, t := range trades {
		if int(t.Good) < len(volume) {
			volume[t.Good] += t.Quantity
		}
	}
	for g := range m.books {
		var prices []money.Money
		for _, o := range m.books[g].sells {
			if o.LiveAt(day) {
				prices = append(prices, o.LimitPrice)
			}
		}
		m.history[g].Add(ComputeStats(Good(g), day, prices, volume[g]))
	}
}

// Clone returns a deep copy of the book.
func (m *Market) Clone() *Market {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := &Market{params: m.params, nextID: m.nextID, books: make([]book, len(m.books)), history: make([]*PriceHistory, len(m.history))}
	for g, b := range m.books {
		c.books[g].buys = cloneOrders(b.buys)
		c.books[g].sells = cloneOrders(b.sells)
	}
	for g, h := range m.history {
		c.history[g] = h.Clone()
	}
	return c
}

func cloneOrders(in []*Order) []*Order {
	out := make([]*Order, 0, len(in))
	for _, o := range in {
		cp := *o
		out = append(out, &cp)
	}
	return out
}

type marketDoc struct {
	Params  Params          `json:"params"`
	NextID  OrderID         `json:"next_id"`
	Goods   int             `json:"goods"`
	Orders  []Order         `json:"orders"`
	History []*PriceHistory `json:"history"`
}

func (m *Market) MarshalJSON() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := marketDoc{Params: m.params, NextID: m.nextID, Goods: len(m.books), History: m.history}
	for g := range m.books {
		for _, s := range []Side{Buy, Sell} {
			for _, o := range *m.books[g].side(s) {
				if o.Remaining > 0 {
					doc.Orders = append(doc.Orders, *o)
				}
			}
		}
	}
	sort.Slice(doc.Orders, func(i, j int) bool { return doc.Orders[i].ID < doc.Orders[j].ID })
	return json.Marshal(doc)
}

func (m *Market) UnmarshalJSON(b []byte) error {
	var doc marketDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.params = doc.Params
	m.nextID = doc.NextID
	m.books = make([]book, doc.Goods)
	for i := range doc.Orders {
		o := doc.Orders[i]
		if int(o.Good) >= doc.Goods {
			return fmt.Errorf("order %d: good %d: %w", o.ID, o.Good, ErrInvalidOrder)
		}
		list := m.books[o.Good].side(o.Side)
		*list = append(*list, &o)
	}
	m.history = doc.History
	for len(m.history) < doc.Goods {
		m.history = append(m.history, NewPriceHistory(Good(len(m.history)), HistoryDays))
	}
	return nil
}
