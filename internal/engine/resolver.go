package engine

import (
	"fmt"
	"log/slog"

	"github.com/talgya/market-sim/internal/business"
	"github.com/talgya/market-sim/internal/ledger"
	"github.com/talgya/market-sim/internal/market"
)

// Resolver winds up a business the moment it goes bankrupt. The business
// stays in State.Businesses in the Bankrupt state either way.
type Resolver interface {
	Name() string
	Resolve(s *State, day uint64, b *business.Business)
}

type resolverFunc struct {
	name string
	fn   func(s *State, day uint64, b *business.Business)
}

func (r resolverFunc) Name() string { return r.name }

func (r resolverFunc) Resolve(s *State, day uint64, b *business.Business) { r.fn(s, day, b) }

var (
	// FreezeBankrupt withdraws the business's orders, returning listed units
	// to its inventory, and releases its staff. Its cash and materials stay
	// where they are.
	FreezeBankrupt Resolver = resolverFunc{name: "freeze", fn: freeze}

	// LiquidateBankrupt withdraws the business's orders, writes off its stock
	// and materials, releases its staff and pays any remaining cash to the
	// owner.
	LiquidateBankrupt Resolver = resolverFunc{name: "liquidate", fn: liquidate}
)

// ResolverByName looks up a built-in resolver.
func ResolverByName(name string) (Resolver, error) {
	switch name {
	case FreezeBankrupt.Name():
		return FreezeBankrupt, nil
	case LiquidateBankrupt.Name(), "":
		return LiquidateBankrupt, nil
	}
	return nil, fmt.Errorf("unknown bankruptcy resolver %q", name)
}

func windDown(s *State, b *business.Business) {
	for _, o := range s.Market.Cancel(b.Account()) {
		if o.Side == market.Sell {
			b.Restock(o.Remaining)
		}
	}
	for _, w := range b.Staff {
		s.Release(w)
	}
	b.Staff = nil
}

func freeze(s *State, day uint64, b *business.Business) {
	windDown(s, b)
}

func liquidate(s *State, day uint64, b *business.Business) {
	windDown(s, b)
	b.Inventory = 0
	b.Materials = nil
	cash := s.Ledger.Balance(b.Account())
	if cash == 0 {
		return
	}
	if err := s.Ledger.Transfer(b.Account(), b.OwnerAccount(), cash, ledger.Liquidation); err != nil {
		slog.Error("liquidation transfer failed", "business", b.ID, "error", err)
		return
	}
	s.addEvent(day, "bankrupt", fmt.Sprintf("%s liquidated, %s returned to owner", b.Name, cash))
}
