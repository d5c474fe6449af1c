// Package government implements fiscal policy: corporate income tax, the
// (inert) personal income tax and the business-creation permit gate.
package government

import (
	"log/slog"

	"github.com/talgya/market-sim/internal/config"
	"github.com/talgya/market-sim/internal/ledger"
	"github.com/talgya/market-sim/internal/money"
)

// Decision is the answer to a business-creation request.
type Decision uint8

const (
	Denied Decision = iota
	Allowed
)

func (d Decision) String() string {
	if d == Allowed {
		return "allowed"
	}
	return "denied"
}

// Government holds the treasury policy. The treasury balance itself is the
// ledger's GovernmentAccount.
type Government struct {
	LastBusinessCreationDay uint64      `json:"last_business_creation_day"`
	CIT                     float64     `json:"cit"`
	PIT                     float64     `json:"pit"`
	MinTimeBetweenCreation  uint64      `json:"min_time_between_creation"`
	MoneyToCreateBusiness   money.Money `json:"money_to_create_business"`
	CollectedCIT            money.Money `json:"collected_cit"`
}

// New creates the government from a config snapshot. The creation clock
// starts at day 0.
func New(cfg *config.Config) *Government {
	g := cfg.Government
	return &Government{
		CIT:                    g.Taxes.CIT.Get(),
		PIT:                    g.Taxes.PIT.Get(),
		MinTimeBetweenCreation: uint64(g.MinTimeBetweenBusinessCreation.Get()),
		MoneyToCreateBusiness:  g.MoneyToCreateBusiness.Get(),
	}
}

// Account is the treasury account.
func (g *Government) Account() ledger.AccountID { return ledger.GovernmentAccount() }

// CollectCIT moves CIT × profit from the business to the treasury and returns
// the amount collected. Nothing is due on zero or negative profit, and the
// charge is capped at what the business holds. It never fails.
func (g *Government) CollectCIT(l *ledger.Ledger, business ledger.AccountID, profit money.Money) money.Money {
	if profit <= 0 || g.CIT <= 0 {
		return 0
	}
	tax := money.Min(profit.FloorMulFloat(g.CIT), l.Balance(business))
	if tax <= 0 {
		return 0
	}
	if err := l.Transfer(business, g.Account(), tax, ledger.Tax); err != nil {
		slog.Warn("cit transfer failed", "business", business, "error", err)
		return 0
	}
	g.CollectedCIT += tax
	return tax
}

// PersonalIncomeTax is recognised in configuration but not levied.
func (g *Government) PersonalIncomeTax(income money.Money) money.Money {
	return 0
}

// AuthorizeBusinessCreation allows a new business when at least
// MinTimeBetweenCreation days have passed since the last one. An allowed
// request counts as a creation immediately.
func (g *Government) AuthorizeBusinessCreation(day uint64) Decision {
	if day < g.LastBusinessCreationDay || day-g.LastBusinessCreationDay < g.MinTimeBetweenCreation {
		return Denied
	}
	g.LastBusinessCreationDay = day
	return Allowed
}

// Clone returns a copy.
func (g *Government) Clone() *Government {
	cp := *g
	return &cp
}
