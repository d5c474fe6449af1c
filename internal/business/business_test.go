package business_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/market-sim/internal/agents"
	"github.com/talgya/market-sim/internal/business"
	"github.com/talgya/market-sim/internal/government"
	"github.com/talgya/market-sim/internal/ledger"
	"github.com/talgya/market-sim/internal/market"
	"github.com/talgya/market-sim/internal/money"
)

// pool hands out people 100, 101, ... and tracks who is employed.
type pool struct {
	next     agents.PersonID
	released []agents.PersonID
}

func (p *pool) Hire(business.ID) (agents.PersonID, bool) {
	if p.next == 0 {
		p.next = 100
	}
	id := p.next
	p.next++
	return id, true
}

func (p *pool) Release(id agents.PersonID) { p.released = append(p.released, id) }

type noLabour struct{}

func (noLabour) Hire(business.ID) (agents.PersonID, bool) { return 0, false }
func (noLabour) Release(agents.PersonID) {}

func policy() business.Policy {
	return business.Policy{
		MaxPriceChange:  0.1,
		SellHistory:     3,
		KeepCycles:      2,
		StaffCooldown:   5,
		Wage:            money.FromCredits(10),
		GoalCycles:      4,
		OutputPerCycle:  10,
		WorkdaysNeeded:  1,
		MonthlyDividend: 0.5,
	}
}

type setup struct {
	l   *ledger.Ledger
	m   *market.Market
	b   *business.Business
	pol business.Policy
}

func newSetup(t *testing.T, cash money.Money, staff ...agents.PersonID) *setup {
	t.Helper()
	pol := policy()
	s := &setup{
		l:   ledger.New(),
		m:   market.New(1, market.Params{SellOrdersSeen: 1, ExpirationDays: 3}),
		b:   business.New(1, 7, "Bakery", 0, money.FromCredits(5), 0, pol),
		pol: pol,
	}
	s.b.Staff = append(s.b.Staff, staff...)
	require.NoError(t, s.l.Open(s.b.Account(), cash))
	require.NoError(t, s.l.Open(s.b.OwnerAccount(), 0))
	require.NoError(t, s.l.Open(ledger.GovernmentAccount(), 0))
	for _, p := range staff {
		require.NoError(t, s.l.Open(ledger.PersonAccount(uint64(p)), 0))
	}
	return s
}

func TestListStockMovesInventoryToBook(t *testing.T) {
	s := newSetup(t, 0)
	s.b.Inventory = 12

	assert.Equal(t, 12, s.b.ListStock(2, s.m))
	assert.Zero(t, s.b.Inventory)
	assert.Equal(t, 12, s.m.OwnerVolume(s.b.Account(), 0, market.Sell))
	assert.Equal(t, 12, s.b.Outstanding(s.m))
	assert.Zero(t, s.b.ListStock(2, s.m))
}

func TestPayWagesSolvent(t *testing.T) {
	s := newSetup(t, money.FromCredits(100), 1, 2)
	res := s.b.PayWages(0, s.l, &pool{}, s.pol)

	assert.Equal(t, money.FromCredits(20), res.Paid)
	assert.Empty(t, res.Fired)
	assert.Equal(t, business.Solvent, s.b.State)
	assert.Equal(t, money.FromCredits(10), s.l.Balance(ledger.PersonAccount(1)))
	assert.Equal(t, money.FromCredits(80), s.l.Balance(s.b.Account()))
}

func TestPayWagesStressedWhenTomorrowUncovered(t *testing.T) {
	s := newSetup(t, money.FromCredits(30), 1, 2)
	s.b.PayWages(0, s.l, &pool{}, s.pol)
	assert.Equal(t, business.Stressed, s.b.State)

	// Revenue arrives; next payday covers the bill again.
	require.NoError(t, s.l.Open(ledger.PersonAccount(50), money.FromCredits(100)))
	require.NoError(t, s.l.Transfer(ledger.PersonAccount(50), s.b.Account(), money.FromCredits(100), ledger.Trade))
	s.b.PayWages(1, s.l, &pool{}, s.pol)
	assert.Equal(t, business.Solvent, s.b.State)
}

func TestMandatoryFiringBypassesCooldown(t *testing.T) {
	s := newSetup(t, money.FromCredits(15), 1, 2, 3)
	s.b.LastStaffChangeDay = 9
	s.b.StaffChanged = true
	labour := &pool{}

	res := s.b.PayWages(10, s.l, labour, s.pol)
	assert.Equal(t, []agents.PersonID{3, 2}, res.Fired, "newest hires go first")
	assert.Equal(t, labour.released, res.Fired)
	assert.Equal(t, []agents.PersonID{1}, s.b.Staff)
	assert.Equal(t, business.Stressed, s.b.State)
	assert.Equal(t, uint64(10), s.b.LastStaffChangeDay)
	assert.Equal(t, money.FromCredits(5), s.l.Balance(s.b.Account()))
}

func TestBankruptWhenOneWorkerUnpayable(t *testing.T) {
	s := newSetup(t, money.FromCredits(5), 1, 2)
	res := s.b.PayWages(3, s.l, &pool{}, s.pol)

	assert.True(t, res.Bankrupt)
	assert.Equal(t, business.Bankrupt, s.b.State)
	assert.Equal(t, money.FromCredits(5), s.l.Balance(s.b.Account()), "nothing paid")

	// Terminal: nothing else happens.
	assert.Zero(t, s.b.PayWages(4, s.l, &pool{}, s.pol).Paid)
	assert.Zero(t, s.b.Produce(s.pol))
	assert.Equal(t, business.NoChange, s.b.Restaff(40, s.l, s.m, &pool{}, s.pol))
	assert.Equal(t, business.Bankrupt, s.b.State)
}

func TestProduceCarriesPartialCycles(t *testing.T) {
	s := newSetup(t, 0, 1)
	pol := s.pol
	pol.WorkdaysNeeded = 3

	assert.Zero(t, s.b.Produce(pol))
	assert.Zero(t, s.b.Produce(pol))
	assert.Equal(t, 10, s.b.Produce(pol))
	assert.Equal(t, 10, s.b.Inventory)
	assert.Zero(t, s.b.Workdays)
}

// manufacturer makes good 0 from two units of good 1 per cycle.
func manufacturer(t *testing.T, cash money.Money, staff ...agents.PersonID) *setup {
	t.Helper()
	s := newSetup(t, cash, staff...)
	s.m = market.New(2, market.Params{SellOrdersSeen: 1, ExpirationDays: 3})
	s.pol.Recipes = [][]business.Input{{{Good: 1, Quantity: 2}}, nil}
	s.pol.InitialPrices = []money.Money{money.FromCredits(5), money.FromCredits(4)}
	return s
}

func TestProduceNeedsMaterials(t *testing.T) {
	s := manufacturer(t, 0, 1, 2)

	assert.Zero(t, s.b.Produce(s.pol), "no materials, no output")
	assert.Zero(t, s.b.Inventory)
	assert.Zero(t, s.b.Workdays, "idle labour is not banked")

	s.b.ReceiveMaterials(market.Trade{Good: 1, Quantity: 3, Price: money.FromCredits(4)})
	assert.Equal(t, money.FromCredits(12), s.b.Period.Materials)

	assert.Equal(t, 10, s.b.Produce(s.pol), "three units cover one cycle")
	assert.Equal(t, 1, s.b.Materials[1])
	assert.Zero(t, s.b.Workdays)
	assert.Zero(t, s.b.Produce(s.pol))
}

func TestOrderInputs(t *testing.T) {
	s := manufacturer(t, money.FromCredits(1000))
	s.b.Materials = map[market.Good]int{1: 3}

	// Goal of four cycles needs eight units; three are on hand.
	assert.Equal(t, 5, s.b.OrderInputs(0, s.l, s.m, s.pol))
	bids := s.m.Orders(1, market.Buy)
	require.Len(t, bids, 1)
	assert.Equal(t, s.b.Account(), bids[0].Owner)
	assert.Equal(t, money.Money(440), bids[0].LimitPrice, "initial price plus the max daily change")

	assert.Zero(t, s.b.OrderInputs(1, s.l, s.m, s.pol), "bids already cover the goal")

	plain := newSetup(t, money.FromCredits(1000))
	assert.Zero(t, plain.b.OrderInputs(0, plain.l, plain.m, plain.pol), "labour-only goods bid for nothing")
}

func TestOrderInputsLimitedByCash(t *testing.T) {
	s := manufacturer(t, money.FromCredits(30), 1)

	// 30Cr less a 10Cr payroll leaves room for four units at 4.40Cr.
	assert.Equal(t, 4, s.b.OrderInputs(0, s.l, s.m, s.pol))
	assert.Equal(t, money.Money(4*440), s.m.Reserved(s.b.Account()))
}

func TestMaterialCostsReduceProfit(t *testing.T) {
	s := manufacturer(t, money.FromCredits(100))
	s.b.Period.Revenue = money.FromCredits(50)
	s.b.ReceiveMaterials(market.Trade{Good: 1, Quantity: 5, Price: money.FromCredits(2)})
	assert.Equal(t, money.FromCredits(40), s.b.Period.Profit())
}

func TestRepriceBounded(t *testing.T) {
	cases := []struct {
		name      string
		inventory int
		sold      []int
	}{
		{"glut", 500, nil},
		{"empty", 0, nil},
		{"extreme demand", 0, []int{50, 50, 50}},
		{"on target", 20, nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := newSetup(t, 0)
			s.b.Price = money.FromCredits(7)
			s.b.Inventory = c.inventory
			s.b.SoldHistory = c.sold

			before := s.b.Price
			after := s.b.Reprice(s.m, s.pol)
			bound := before.FloorMulFloat(s.pol.MaxPriceChange)
			assert.LessOrEqual(t, (after - before).Abs(), bound)
			assert.GreaterOrEqual(t, after, money.Cent)
		})
	}
}

func TestRepriceDirection(t *testing.T) {
	s := newSetup(t, 0)
	s.b.Price = money.FromCredits(10)

	s.b.Inventory = 100 // far above 2 cycles of 10
	assert.Equal(t, money.FromCredits(9), s.b.Reprice(s.m, s.pol))

	s.b.Inventory = 0
	s.b.Price = money.FromCredits(10)
	assert.Equal(t, money.FromCredits(11), s.b.Reprice(s.m, s.pol), "nothing in stock is a full raise")

	s.b.Inventory = 5
	s.b.SoldHistory = []int{3, 3, 3}
	s.b.Price = money.FromCredits(10)
	assert.Equal(t, money.FromCredits(11), s.b.Reprice(s.m, s.pol), "sales outrun supply")
}

func TestRepriceNeverBelowOneCent(t *testing.T) {
	s := newSetup(t, 0)
	pol := s.pol
	pol.MaxPriceChange = 1
	s.b.Price = money.Cent
	s.b.Inventory = 1000
	assert.Equal(t, money.Cent, s.b.Reprice(s.m, pol))
}

func TestRestaffCooldown(t *testing.T) {
	s := newSetup(t, money.FromCredits(10_000))
	labour := &pool{}

	assert.Equal(t, business.Hired, s.b.Restaff(0, s.l, s.m, labour, s.pol), "no previous change")
	for day := uint64(1); day < 5; day++ {
		assert.Equal(t, business.NoChange, s.b.Restaff(day, s.l, s.m, labour, s.pol), "day %d", day)
	}
	assert.Equal(t, business.Hired, s.b.Restaff(5, s.l, s.m, labour, s.pol))
	assert.Len(t, s.b.Staff, 2)
	assert.Equal(t, uint64(5), s.b.LastStaffChangeDay)
}

func TestRestaffFiresAboveGoal(t *testing.T) {
	s := newSetup(t, money.FromCredits(10_000), 1, 2)
	s.b.Inventory = 60 // 6 cycles queued, goal 4
	labour := &pool{}

	assert.Equal(t, business.Fired, s.b.Restaff(0, s.l, s.m, labour, s.pol))
	assert.Equal(t, []agents.PersonID{1}, s.b.Staff)
	assert.Equal(t, []agents.PersonID{2}, labour.released)
}

func TestRestaffNeedsFunds(t *testing.T) {
	// One more worker for a full cooldown costs 10 × 1 × 5 = 50.
	s := newSetup(t, money.FromCredits(49))
	assert.Equal(t, business.NoChange, s.b.Restaff(0, s.l, s.m, &pool{}, s.pol))

	s = newSetup(t, money.FromCredits(50))
	assert.Equal(t, business.Hired, s.b.Restaff(0, s.l, s.m, &pool{}, s.pol))

	s = newSetup(t, money.FromCredits(50))
	assert.Equal(t, business.NoChange, s.b.Restaff(0, s.l, s.m, noLabour{}, s.pol), "nobody to hire")
}

func TestCloseDayKeepsWindow(t *testing.T) {
	s := newSetup(t, 0)
	for i := 1; i <= 5; i++ {
		s.b.SoldToday = i
		s.b.CloseDay(s.pol)
	}
	assert.Equal(t, []int{3, 4, 5}, s.b.SoldHistory)
	assert.Equal(t, 12, s.b.TrailingSales())
	assert.Zero(t, s.b.SoldToday)
}

func TestMonthlySettlement(t *testing.T) {
	s := newSetup(t, money.FromCredits(1000))
	gov := &government.Government{CIT: 0.2}
	s.b.RecordSale(market.Trade{Quantity: 10, Price: money.FromCredits(30)})
	s.b.Period.Wages = money.FromCredits(100)

	_, ok := s.b.Settle(29, s.l, gov, s.pol)
	assert.False(t, ok)

	st, ok := s.b.Settle(30, s.l, gov, s.pol)
	require.True(t, ok)
	assert.Equal(t, money.FromCredits(200), st.Profit)
	assert.Equal(t, money.FromCredits(40), st.Tax)
	assert.Equal(t, money.FromCredits(80), st.Dividend, "half of after-tax profit")
	assert.Equal(t, money.FromCredits(880), s.l.Balance(s.b.Account()))
	assert.Equal(t, money.FromCredits(80), s.l.Balance(s.b.OwnerAccount()))
	assert.Equal(t, money.FromCredits(40), s.l.Balance(ledger.GovernmentAccount()))
	assert.Equal(t, business.Period{Start: 30}, s.b.Period)
	assert.NotPanics(t, s.l.AssertConserved)
}

func TestSettlementLossPaysNothing(t *testing.T) {
	s := newSetup(t, money.FromCredits(1000))
	gov := &government.Government{CIT: 0.2}
	s.b.Period.Wages = money.FromCredits(100)

	st, ok := s.b.Settle(30, s.l, gov, s.pol)
	require.True(t, ok)
	assert.Zero(t, st.Tax)
	assert.Zero(t, st.Dividend)
	assert.Equal(t, money.FromCredits(1000), s.l.Balance(s.b.Account()))
}
