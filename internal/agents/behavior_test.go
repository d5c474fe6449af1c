package agents_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/market-sim/internal/agents"
	"github.com/talgya/market-sim/internal/ledger"
	"github.com/talgya/market-sim/internal/market"
	"github.com/talgya/market-sim/internal/money"
)

type fakeBook struct {
	volume   map[market.Good]int
	reserved money.Money
}

func (b fakeBook) OwnerVolume(_ ledger.AccountID, g market.Good, _ market.Side) int {
	return b.volume[g]
}

func (b fakeBook) Reserved(ledger.AccountID) money.Money { return b.reserved }

type recorder struct {
	orders []market.Order
	reject bool
}

func (r *recorder) Submit(o market.Order) (market.OrderID, error) {
	if r.reject {
		return 0, market.ErrInvalidOrder
	}
	r.orders = append(r.orders, o)
	return market.OrderID(len(r.orders)), nil
}

func person() *agents.Person {
	return &agents.Person{
		ID:           1,
		DiscountRate: 0.5,
		Utility:      []money.Money{money.FromCredits(10), money.FromCredits(6)},
		Stock:        []int{0, 0},
	}
}

var policy = agents.Policy{MaxBuyOrdersPerDay: 3, DaysOfSupply: 5}

func TestDiscountedUtility(t *testing.T) {
	base := money.FromCredits(10)
	assert.Equal(t, base, agents.DiscountedUtility(base, 0.5, 0))
	assert.Equal(t, money.FromCredits(5), agents.DiscountedUtility(base, 0.5, 30))
	assert.Equal(t, money.Money(250), agents.DiscountedUtility(base, 0.5, 60))
	assert.Equal(t, base, agents.DiscountedUtility(base, 1, 45))
	assert.Zero(t, agents.DiscountedUtility(base, 0, 1))

	prev := base
	for k := 1; k < 90; k++ {
		v := agents.DiscountedUtility(base, 0.9, k)
		assert.LessOrEqual(t, v, prev)
		prev = v
	}
}

func TestDecideRespectsQuotaAndUtility(t *testing.T) {
	p := person()
	orders := p.Decide(4, money.FromCredits(1000), fakeBook{}, policy)
	require.Len(t, orders, 3)

	for _, o := range orders {
		assert.Equal(t, market.Buy, o.Side)
		assert.Equal(t, 1, o.Quantity)
		assert.Equal(t, uint64(4), o.PlacedDay)
		assert.LessOrEqual(t, o.LimitPrice, p.Utility[o.Good])
	}
	assert.Equal(t, market.Good(0), orders[0].Good, "most valuable unit first")
	assert.Equal(t, money.FromCredits(10), orders[0].LimitPrice)
	assert.Equal(t, agents.DiscountedUtility(p.Utility[0], 0.5, 1), orders[1].LimitPrice)
}

func TestDecideSkipsCoveredGoods(t *testing.T) {
	p := person()
	p.Stock[0] = 3
	book := fakeBook{volume: map[market.Good]int{0: 2}}

	orders := p.Decide(0, money.FromCredits(1000), book, policy)
	require.NotEmpty(t, orders)
	for _, o := range orders {
		assert.Equal(t, market.Good(1), o.Good)
	}
}

func TestDecideRespectsFreeMoney(t *testing.T) {
	p := person()
	book := fakeBook{reserved: money.FromCredits(995)}
	orders := p.Decide(0, money.FromCredits(1000), book, policy)
	require.Len(t, orders, 0, "5Cr free cannot cover a 6Cr or 10Cr bid")

	book.reserved = money.FromCredits(990)
	orders = p.Decide(0, money.FromCredits(1000), book, policy)
	require.Len(t, orders, 1)
	assert.Equal(t, money.FromCredits(10), orders[0].LimitPrice)
}

func TestDecideDoesNotMutate(t *testing.T) {
	p := person()
	before := p.Clone()
	p.Decide(0, money.FromCredits(100), fakeBook{}, policy)
	assert.Equal(t, before, p)
}

func TestPlaceCountsQuotaPerDay(t *testing.T) {
	p := person()
	rec := &recorder{}
	orders := p.Decide(2, money.FromCredits(1000), fakeBook{}, policy)

	assert.Equal(t, 3, p.Place(2, orders, rec, policy))
	assert.Zero(t, p.QuotaLeft(2, policy))
	assert.Zero(t, p.Place(2, orders, rec, policy), "quota exhausted")
	assert.Empty(t, p.Decide(2, money.FromCredits(1000), fakeBook{}, policy))

	assert.Equal(t, 3, p.QuotaLeft(3, policy), "quota resets on a new day")
	assert.Len(t, rec.orders, 3)
}

func TestPlaceSwallowsRejections(t *testing.T) {
	p := person()
	orders := p.Decide(0, money.FromCredits(1000), fakeBook{}, policy)
	assert.Zero(t, p.Place(0, orders, &recorder{reject: true}, policy))
	assert.Equal(t, 3, p.QuotaLeft(0, policy))
}

func TestConsume(t *testing.T) {
	p := person()
	p.Stock = []int{2, 0}
	assert.Equal(t, 1, p.Consume())
	assert.Equal(t, []int{1, 0}, p.Stock)
}
