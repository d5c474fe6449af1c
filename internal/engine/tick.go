// Package engine advances the economy one simulated day at a time and
// drives days from a real-time clock.
package engine

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/market-sim/internal/agents"
	"github.com/talgya/market-sim/internal/business"
	"github.com/talgya/market-sim/internal/entropy"
	"github.com/talgya/market-sim/internal/government"
	"github.com/talgya/market-sim/internal/ledger"
	"github.com/talgya/market-sim/internal/market"
	"github.com/talgya/market-sim/internal/money"
)

// AdvanceOneDay simulates prev.Day and returns the resulting state. prev is
// not modified. Phases run in a fixed order:
//
//	expire orders, consume, list stock, place bids, bid for inputs, match,
//	businesses adjust, monthly settlement, business creation,
//	price statistics, conservation check.
//
// All randomness comes from rng, so equal states and streams give equal
// results.
func AdvanceOneDay(prev *State, rng *entropy.Source) *State {
	s := prev.Clone()
	day := s.Day
	s.Ledger.SetDay(day)

	s.processExpiry(day)
	s.processConsumption()
	s.processListings(day)
	s.processBids(day)
	s.processInputOrders(day)
	trades := s.processMatching(day, rng)
	s.processBusinesses(day)
	s.processSettlement(day)
	s.processCreation(day)

	s.Market.RecordPrices(day, trades)
	s.Trades = trades
	s.updateStats(trades)
	s.Ledger.AssertConserved()
	s.Day++
	return s
}

// processExpiry sweeps orders whose time is up. Unsold units go back to the
// seller's inventory.
func (s *State) processExpiry(day uint64) {
	for _, o := range s.Market.Expire(day) {
		if o.Side != market.Sell || o.Owner.Kind != ledger.Business {
			continue
		}
		if b := s.Business(business.ID(o.Owner.ID)); b != nil {
			b.Restock(o.Remaining)
		}
	}
}

func (s *State) processConsumption() {
	for _, p := range s.People {
		p.Consume()
	}
}

func (s *State) processListings(day uint64) {
	for _, b := range s.Businesses {
		b.ListStock(day, s.Market)
	}
}

// processBids lets every person decide in parallel, then submits the orders
// one person at a time in ID order. Decisions draw no randomness, so the
// book ends up the same regardless of scheduling.
func (s *State) processBids(day uint64) {
	pol := s.personPolicy()
	decisions := make([][]market.Order, len(s.People))

	// Decide cannot fail; the group only bounds the workers.
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range s.People {
		g.Go(func() error {
			decisions[i] = p.Decide(day, s.Ledger.Balance(p.Account()), s.Market, pol)
			return nil
		})
	}
	g.Wait()

	for i, p := range s.People {
		p.Place(day, decisions[i], s.Market, pol)
	}
}

// processInputOrders lets businesses that make goods from inputs bid for
// their materials, in ID order.
func (s *State) processInputOrders(day uint64) {
	pol := business.PolicyFrom(s.Config)
	for _, b := range s.Businesses {
		if n := b.OrderInputs(day, s.Ledger, s.Market, pol); n > 0 {
			slog.Debug("input bids placed", "day", day, "business", b.ID, "units", n)
		}
	}
}

// processMatching runs the order book and delivers goods to buyers.
func (s *State) processMatching(day uint64, rng *entropy.Source) []market.Trade {
	trades := s.Market.Match(day, rng, s.Ledger)
	for _, t := range trades {
		switch t.Buyer.Kind {
		case ledger.Person:
			if p := s.Person(agents.PersonID(t.Buyer.ID)); p != nil {
				p.Stock[t.Good] += t.Quantity
			}
		case ledger.Business:
			if b := s.Business(business.ID(t.Buyer.ID)); b != nil {
				b.ReceiveMaterials(t)
			}
		}
		if b := s.Business(business.ID(t.Seller.ID)); b != nil && t.Seller.Kind == ledger.Business {
			b.RecordSale(t)
		}
	}
	return trades
}

// processBusinesses pays wages, produces, reprices and restaffs every
// business that is still trading.
func (s *State) processBusinesses(day uint64) {
	pol := business.PolicyFrom(s.Config)
	for _, b := range s.Businesses {
		if b.Bankrupt() {
			continue
		}

		res := b.PayWages(day, s.Ledger, s, pol)
		if len(res.Fired) > 0 {
			s.addEvent(day, "layoff", fmt.Sprintf("%s laid off %d workers to meet payroll", b.Name, len(res.Fired)))
		}
		if res.Bankrupt {
			slog.Info("business bankrupt", "day", day, "business", b.Name, "resolver", s.resolver.Name())
			s.addEvent(day, "bankrupt", fmt.Sprintf("%s went bankrupt", b.Name))
			s.resolver.Resolve(s, day, b)
			continue
		}

		b.Produce(pol)
		b.CloseDay(pol)
		b.Reprice(s.Market, pol)
		if change := b.Restaff(day, s.Ledger, s.Market, s, pol); change != business.NoChange {
			slog.Debug("staff change", "day", day, "business", b.ID, "hired", change == business.Hired, "staff", len(b.Staff))
		}
	}
}

// processSettlement closes the month for businesses on their anniversary:
// CIT first, then dividends.
func (s *State) processSettlement(day uint64) {
	pol := business.PolicyFrom(s.Config)
	for _, b := range s.Businesses {
		st, ok := b.Settle(day, s.Ledger, s.Government, pol)
		if !ok {
			continue
		}
		s.Stats.TaxCollected += st.Tax
		s.Stats.DividendsPaid += st.Dividend
		slog.Debug("monthly settlement", "day", day, "business", b.ID,
			"profit", st.Profit, "tax", st.Tax, "dividend", st.Dividend)
		if st.Profit != 0 {
			s.addEvent(day, "settlement", fmt.Sprintf("%s closed the month with %s profit, %s tax, %s dividend",
				b.Name, st.Profit, st.Tax, st.Dividend))
		}
	}
}

// processCreation founds at most one business a day. The founder is the
// richest person able to put up the capital; the government must permit it;
// the good is the one with the most unmet demand in the book.
func (s *State) processCreation(day uint64) {
	capital := s.Government.MoneyToCreateBusiness
	eligible := lo.Filter(s.People, func(p *agents.Person, _ int) bool {
		return s.Ledger.Balance(p.Account()) >= capital
	})
	if len(eligible) == 0 {
		return
	}
	founder := lo.MaxBy(eligible, func(a, b *agents.Person) bool {
		return s.Ledger.Balance(a.Account()) > s.Ledger.Balance(b.Account())
	})

	if s.Government.AuthorizeBusinessCreation(day) != government.Allowed {
		return
	}

	good := s.mostUnmetDemand()
	price := s.Config.Goods[good].InitialPrice
	if st, ok := s.Market.History(good).Latest(); ok && st.Orders > 0 {
		price = st.Median
	}
	b, err := s.found(day, founder, good, price)
	if err != nil {
		slog.Error("business creation failed", "day", day, "error", err)
		return
	}
	slog.Info("business founded", "day", day, "business", b.Name, "good", s.GoodName(good), "price", price)
}

func (s *State) mostUnmetDemand() market.Good {
	best, bestGap := market.Good(0), 0
	for g := range s.Config.Goods {
		good := market.Good(g)
		gap := s.Market.Volume(good, market.Buy) - s.Market.Volume(good, market.Sell)
		if g == 0 || gap > bestGap {
			best, bestGap = good, gap
		}
	}
	return best
}

func (s *State) updateStats(trades []market.Trade) {
	st := Stats{
		TaxCollected:  s.Stats.TaxCollected,
		DividendsPaid: s.Stats.DividendsPaid,
		Trades:        len(trades),
		UnitsTraded:   lo.SumBy(trades, func(t market.Trade) int { return t.Quantity }),
		Turnover:      lo.SumBy(trades, func(t market.Trade) money.Money { return t.Value() }),
		OpenOrders:    s.Market.Len(),
		Treasury:      s.Ledger.Balance(ledger.GovernmentAccount()),
	}
	for _, p := range s.People {
		if p.Employed() {
			st.Employed++
		} else {
			st.Unemployed++
		}
		st.PeopleMoney += s.Ledger.Balance(p.Account())
	}
	for _, b := range s.Businesses {
		if b.Bankrupt() {
			st.Bankruptcies++
		} else {
			st.ActiveBusinesses++
		}
		st.BusinessMoney += s.Ledger.Balance(b.Account())
	}
	s.Stats = st
}

// Report logs the daily summary for the day just simulated.
func (s *State) Report() {
	if s.Day == 0 {
		return
	}
	day := s.Day - 1
	counts := lo.CountValuesBy(lo.Filter(s.Events, func(e Event, _ int) bool { return e.Day == day }),
		func(e Event) string { return e.Category })

	slog.Info("daily report",
		"day", day,
		"trades", humanize.Comma(int64(s.Stats.Trades)),
		"units", humanize.Comma(int64(s.Stats.UnitsTraded)),
		"turnover", s.Stats.Turnover,
		"open_orders", humanize.Comma(int64(s.Stats.OpenOrders)),
		"employed", s.Stats.Employed,
		"businesses", s.Stats.ActiveBusinesses,
		"bankrupt", s.Stats.Bankruptcies,
		"treasury", s.Stats.Treasury,
		"events_founded", counts["founded"],
		"events_bankrupt", counts["bankrupt"],
		"events_layoff", counts["layoff"],
	)
}
