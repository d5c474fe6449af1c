package business

import (
	"log/slog"
	"math"

	"github.com/samber/lo"

	"github.com/talgya/market-sim/internal/agents"
	"github.com/talgya/market-sim/internal/ledger"
	"github.com/talgya/market-sim/internal/market"
	"github.com/talgya/market-sim/internal/money"
)

// ListStock offers all unlisted inventory at the current price. Returns the
// quantity listed.
func (b *Business) ListStock(day uint64, book Book) int {
	if b.Bankrupt() || b.Inventory == 0 {
		return 0
	}
	_, err := book.Submit(market.Order{
		Owner:      b.Account(),
		Good:       b.Good,
		Side:       market.Sell,
		Quantity:   b.Inventory,
		LimitPrice: b.Price,
		PlacedDay:  day,
	})
	if err != nil {
		slog.Debug("sell order rejected", "business", b.ID, "error", err)
		return 0
	}
	n := b.Inventory
	b.Inventory = 0
	return n
}

// Restock returns units from an expired or cancelled sell order.
func (b *Business) Restock(qty int) {
	b.Inventory += qty
}

// RecordSale books a trade in which the business was the seller.
func (b *Business) RecordSale(t market.Trade) {
	b.SoldToday += t.Quantity
	b.Period.Revenue += t.Value()
}

// WageResult reports what happened on payday.
type WageResult struct {
	Paid     money.Money
	Fired    []agents.PersonID // released because wages could not be covered
	Bankrupt bool
}

// PayWages pays every worker one day's wage. When the balance cannot cover
// the bill the newest hires are released, bypassing the staffing cooldown,
// until it can or one worker remains; a business that cannot pay even one
// worker goes bankrupt. After paying, the business is Stressed if it could
// not pay the same bill again tomorrow and Solvent otherwise.
func (b *Business) PayWages(day uint64, l *ledger.Ledger, labour Labour, pol Policy) WageResult {
	var res WageResult
	if b.Bankrupt() {
		return res
	}
	acct := b.Account()
	balance := l.Balance(acct)

	if balance < pol.Wage.Times(len(b.Staff)) {
		for len(b.Staff) > 1 && balance < pol.Wage.Times(len(b.Staff)) {
			last := b.Staff[len(b.Staff)-1]
			b.Staff = b.Staff[:len(b.Staff)-1]
			labour.Release(last)
			res.Fired = append(res.Fired, last)
		}
		if len(res.Fired) > 0 {
			b.LastStaffChangeDay = day
			b.StaffChanged = true
		}
		if balance < pol.Wage.Times(len(b.Staff)) {
			b.State = Bankrupt
			res.Bankrupt = true
			return res
		}
		b.State = Stressed
	}

	for _, w := range b.Staff {
		if err := l.Transfer(acct, ledger.PersonAccount(uint64(w)), pol.Wage, ledger.Wage); err != nil {
			// Balance was checked above; only a ledger inconsistency gets here.
			slog.Error("wage transfer failed", "business", b.ID, "worker", w, "error", err)
			continue
		}
		res.Paid += pol.Wage
	}
	b.Period.Wages += res.Paid

	if len(res.Fired) == 0 {
		if l.Balance(acct) < pol.Wage.Times(len(b.Staff)) {
			b.State = Stressed
		} else {
			b.State = Solvent
		}
	}
	return res
}

// Produce turns today's worker-days into output. Partial cycles carry over.
// A good made from inputs runs only as many cycles as the materials on hand
// allow; labour beyond that is lost.
func (b *Business) Produce(pol Policy) int {
	if b.Bankrupt() || pol.WorkdaysNeeded <= 0 {
		return 0
	}
	b.Workdays += len(b.Staff)
	cycles := b.Workdays / pol.WorkdaysNeeded

	recipe := pol.Recipe(b.Good)
	if limit := b.materialCycles(recipe); limit < cycles {
		cycles = limit
		b.Workdays = min(b.Workdays, (cycles+1)*pol.WorkdaysNeeded-1)
	}
	b.Workdays -= cycles * pol.WorkdaysNeeded
	if cycles > 0 {
		for _, in := range recipe {
			b.Materials[in.Good] -= cycles * in.Quantity
		}
	}

	out := cycles * pol.OutputPerCycle
	b.Inventory += out
	return out
}

// materialCycles is how many cycles the materials on hand cover.
func (b *Business) materialCycles(recipe []Input) int {
	if len(recipe) == 0 {
		return math.MaxInt
	}
	return lo.Min(lo.Map(recipe, func(in Input, _ int) int {
		return b.Materials[in.Good] / in.Quantity
	}))
}

// ReceiveMaterials books a trade in which the business was the buyer.
func (b *Business) ReceiveMaterials(t market.Trade) {
	if b.Materials == nil {
		b.Materials = make(map[market.Good]int)
	}
	b.Materials[t.Good] += t.Quantity
	b.Period.Materials += t.Value()
}

// OrderInputs bids for the materials ProductionGoalCycles cycles need, less
// what is on hand or already bid for. Each bid is placed from the business
// account at the good's latest median ask (its initial price when the book
// was empty) raised by MaxPriceChange. Bids are capped by what the account
// can spare after one day's payroll and its standing bids. Returns the units
// bid for.
func (b *Business) OrderInputs(day uint64, l *ledger.Ledger, book Book, pol Policy) int {
	recipe := pol.Recipe(b.Good)
	if b.Bankrupt() || len(recipe) == 0 {
		return 0
	}
	acct := b.Account()
	spare := l.Balance(acct) - pol.Wage.Times(len(b.Staff)) - book.Reserved(acct)

	placed := 0
	for _, in := range recipe {
		want := b.ProductionGoalCycles*in.Quantity - b.Materials[in.Good] - book.OwnerVolume(acct, in.Good, market.Buy)
		if want <= 0 {
			continue
		}
		quote := b.quote(in.Good, book, pol)
		limit := quote + quote.FloorMulFloat(pol.MaxPriceChange)
		if limit <= 0 || spare < limit {
			continue
		}
		qty := min(want, int(spare/limit))
		_, err := book.Submit(market.Order{
			Owner:      acct,
			Good:       in.Good,
			Side:       market.Buy,
			Quantity:   qty,
			LimitPrice: limit,
			PlacedDay:  day,
		})
		if err != nil {
			slog.Debug("input order rejected", "business", b.ID, "good", in.Good, "error", err)
			continue
		}
		spare -= limit.Times(qty)
		placed += qty
	}
	return placed
}

func (b *Business) quote(g market.Good, book Book, pol Policy) money.Money {
	if h := book.History(g); h != nil {
		if st, ok := h.Latest(); ok && st.Orders > 0 {
			return st.Median
		}
	}
	if int(g) < len(pol.InitialPrices) {
		return pol.InitialPrices[g]
	}
	return 0
}

// CloseDay moves today's sales into the bounded sales history.
func (b *Business) CloseDay(pol Policy) {
	b.SoldHistory = append(b.SoldHistory, b.SoldToday)
	if keep := max(pol.SellHistory, 1); len(b.SoldHistory) > keep {
		b.SoldHistory = append(b.SoldHistory[:0], b.SoldHistory[len(b.SoldHistory)-keep:]...)
	}
	b.SoldToday = 0
}

// TrailingSales is the volume sold over the recorded history window.
func (b *Business) TrailingSales() int {
	return lo.Sum(b.SoldHistory)
}

// Reprice moves the price by at most MaxPriceChange of itself. When recent
// sales outrun the supply the business still holds, the price goes up by the
// full step. Otherwise it moves in proportion to how far outstanding supply
// is from KeepCycles cycles of output: short of the target raises it, long of
// the target lowers it. The price never falls below one cent.
func (b *Business) Reprice(book Book, pol Policy) money.Money {
	if b.Bankrupt() {
		return b.Price
	}
	outstanding := b.Outstanding(book)

	var frac float64
	if b.TrailingSales() > outstanding {
		frac = pol.MaxPriceChange
	} else {
		target := pol.KeepCycles * pol.OutputPerCycle
		gap := float64(target-outstanding) / float64(max(target, 1))
		frac = clamp(gap, -1, 1) * pol.MaxPriceChange
	}

	step := b.Price.FloorMulFloat(abs(frac))
	if frac < 0 {
		b.Price = money.Max(b.Price-step, money.Cent)
	} else {
		b.Price += step
	}
	return b.Price
}

// StaffChange is the result of a staffing decision.
type StaffChange int

const (
	NoChange StaffChange = iota
	Hired
	Fired
)

// Restaff hires or fires at most one worker, and only once the cooldown since
// the last change has passed. Queued output is measured in whole production
// cycles: above the goal one worker is let go, below it one is hired if the
// business can fund the larger payroll for a full cooldown period.
func (b *Business) Restaff(day uint64, l *ledger.Ledger, book Book, labour Labour, pol Policy) StaffChange {
	if b.Bankrupt() {
		return NoChange
	}
	if b.StaffChanged && day-b.LastStaffChangeDay < pol.StaffCooldown {
		return NoChange
	}

	queued := b.Outstanding(book) / max(pol.OutputPerCycle, 1)
	switch {
	case queued > b.ProductionGoalCycles && len(b.Staff) > 0:
		last := b.Staff[len(b.Staff)-1]
		b.Staff = b.Staff[:len(b.Staff)-1]
		labour.Release(last)
		b.markStaffChange(day)
		return Fired

	case queued < b.ProductionGoalCycles:
		days := max(pol.StaffCooldown, 1)
		need := pol.Wage.Times(len(b.Staff)+1).Times(int(days))
		if l.Balance(b.Account()) < need {
			return NoChange
		}
		p, ok := labour.Hire(b.ID)
		if !ok {
			return NoChange
		}
		b.Staff = append(b.Staff, p)
		b.markStaffChange(day)
		return Hired
	}
	return NoChange
}

func (b *Business) markStaffChange(day uint64) {
	b.LastStaffChangeDay = day
	b.StaffChanged = true
}

// Taxer collects corporate income tax.
type Taxer interface {
	CollectCIT(l *ledger.Ledger, business ledger.AccountID, profit money.Money) money.Money
}

// Settlement is the outcome of a monthly settlement.
type Settlement struct {
	Profit   money.Money
	Tax      money.Money
	Dividend money.Money
}

// SettlementDue reports whether day closes a settlement month.
func (b *Business) SettlementDue(day uint64) bool {
	return day > b.CreatedDay && (day-b.CreatedDay)%DaysPerMonth == 0
}

// Settle closes the month: CIT is collected on the month's profit first,
// then MonthlyDividend of what remains is paid to the owner, capped at the
// balance. A new period starts either way.
func (b *Business) Settle(day uint64, l *ledger.Ledger, gov Taxer, pol Policy) (Settlement, bool) {
	if b.Bankrupt() || !b.SettlementDue(day) {
		return Settlement{}, false
	}
	s := Settlement{Profit: b.Period.Profit()}
	s.Tax = gov.CollectCIT(l, b.Account(), s.Profit)

	if after := s.Profit - s.Tax; after > 0 {
		div := money.Min(after.FloorMulFloat(pol.MonthlyDividend), l.Balance(b.Account()))
		if div > 0 {
			if err := l.Transfer(b.Account(), b.OwnerAccount(), div, ledger.Dividend); err != nil {
				slog.Warn("dividend transfer failed", "business", b.ID, "error", err)
			} else {
				s.Dividend = div
			}
		}
	}
	b.Period = Period{Start: day}
	return s, true
}

func clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
