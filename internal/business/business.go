// Package business implements the producer policy: listing stock, paying
// wages, producing, repricing, staffing and the monthly settlement.
package business

import (
	"fmt"
	"maps"

	"github.com/talgya/market-sim/internal/agents"
	"github.com/talgya/market-sim/internal/config"
	"github.com/talgya/market-sim/internal/ledger"
	"github.com/talgya/market-sim/internal/market"
	"github.com/talgya/market-sim/internal/money"
)

// ID is a unique identifier for a business. IDs start at 1.
type ID uint64

// State is the solvency state. Bankrupt is terminal.
type State uint8

const (
	Solvent State = iota
	Stressed
	Bankrupt
)

var stateNames = [...]string{"solvent", "stressed", "bankrupt"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown business state %q", b)
}

// DaysPerMonth is the settlement period, counted from the creation day.
const DaysPerMonth = 30

// Period accumulates the figures of the current settlement month.
type Period struct {
	Start     uint64      `json:"start"`
	Revenue   money.Money `json:"revenue"`
	Wages     money.Money `json:"wages"`
	Materials money.Money `json:"materials"`
}

// Profit is revenue less wages and bought materials.
func (p Period) Profit() money.Money { return p.Revenue - p.Wages - p.Materials }

// Business produces one good with hired staff and sells it on the market.
// Money is held in the ledger under Account().
type Business struct {
	ID      ID              `json:"id"`
	OwnerID agents.PersonID `json:"owner_id"`
	Name    string          `json:"name"`
	Good    market.Good     `json:"good"`

	Inventory int                 `json:"inventory"` // produced, not yet listed
	Materials map[market.Good]int `json:"materials,omitempty"`
	Price     money.Money         `json:"price"`
	Workdays  int                 `json:"workdays"` // toward the next production cycle

	Staff              []agents.PersonID `json:"staff"` // hire order, newest last
	LastStaffChangeDay uint64            `json:"last_staff_change_day"`
	StaffChanged       bool              `json:"staff_changed"`

	ProductionGoalCycles int `json:"production_goal_cycles"`

	CreatedDay  uint64 `json:"created_day"`
	State       State  `json:"state"`
	SoldHistory []int  `json:"sold_history"` // units sold per day, oldest first
	SoldToday   int    `json:"sold_today"`
	Period      Period `json:"period"`
}

// New creates a solvent business. Its account must be opened separately.
func New(id ID, owner agents.PersonID, name string, good market.Good, price money.Money, day uint64, pol Policy) *Business {
	return &Business{
		ID:                   id,
		OwnerID:              owner,
		Name:                 name,
		Good:                 good,
		Price:                price,
		ProductionGoalCycles: pol.GoalCycles,
		CreatedDay:           day,
		LastStaffChangeDay:   day,
		Period:               Period{Start: day},
	}
}

// Account is the business's ledger account.
func (b *Business) Account() ledger.AccountID {
	return ledger.BusinessAccount(uint64(b.ID))
}

// OwnerAccount is the owner's personal ledger account.
func (b *Business) OwnerAccount() ledger.AccountID {
	return ledger.PersonAccount(uint64(b.OwnerID))
}

func (b *Business) Bankrupt() bool { return b.State == Bankrupt }

// Clone returns a deep copy.
func (b *Business) Clone() *Business {
	cp := *b
	cp.Staff = append([]agents.PersonID(nil), b.Staff...)
	cp.SoldHistory = append([]int(nil), b.SoldHistory...)
	cp.Materials = maps.Clone(b.Materials)
	return &cp
}

// Policy holds the business tunables.
type Policy struct {
	MaxPriceChange  float64
	SellHistory     int
	KeepCycles      int
	StaffCooldown   uint64
	Wage            money.Money
	GoalCycles      int
	OutputPerCycle  int
	WorkdaysNeeded  int
	MonthlyDividend float64

	Recipes       [][]Input     // materials per cycle, by good
	InitialPrices []money.Money // fallback quotes, by good
}

// Input is a quantity of a good one production cycle consumes.
type Input struct {
	Good     market.Good
	Quantity int
}

// Recipe returns the inputs of good g, nil for goods made from labour alone.
func (p Policy) Recipe(g market.Good) []Input {
	if int(g) >= len(p.Recipes) {
		return nil
	}
	return p.Recipes[g]
}

// PolicyFrom extracts the business tunables from a config snapshot.
func PolicyFrom(cfg *config.Config) Policy {
	b := cfg.Business
	pol := Policy{
		MaxPriceChange:  b.Prices.MaxChangePerDay.Get(),
		SellHistory:     b.Prices.SellHistoryToConsider.Get(),
		KeepCycles:      b.Prices.KeepResourcesForCyclesAmount.Get(),
		StaffCooldown:   uint64(b.Staff.MinDaysBetweenStaffChange.Get()),
		Wage:            b.Staff.Wage.Get(),
		GoalCycles:      b.Production.GoalProducedCyclesCount.Get(),
		OutputPerCycle:  b.Production.OutputPerCycle.Get(),
		WorkdaysNeeded:  b.Production.WorkdaysNeeded.Get(),
		MonthlyDividend: b.MonthlyDividend.Get(),
		Recipes:         make([][]Input, len(cfg.Goods)),
		InitialPrices:   make([]money.Money, len(cfg.Goods)),
	}
	for i, g := range cfg.Goods {
		pol.InitialPrices[i] = g.InitialPrice
		for _, in := range g.Inputs {
			if j, ok := cfg.GoodIndex(in.Good); ok {
				pol.Recipes[i] = append(pol.Recipes[i], Input{Good: market.Good(j), Quantity: in.Quantity})
			}
		}
	}
	return pol
}

// Book is the part of the order book a business reads and writes.
type Book interface {
	Submit(o market.Order) (market.OrderID, error)
	OwnerVolume(owner ledger.AccountID, good market.Good, side market.Side) int
	Reserved(owner ledger.AccountID) money.Money
	History(good market.Good) *market.PriceHistory
}

// Labour is the pool of people a business hires from.
type Labour interface {
	// Hire employs the lowest-ID unemployed person at business id.
	Hire(id ID) (agents.PersonID, bool)
	Release(p agents.PersonID)
}

// Outstanding is the supply the business still holds: its unfilled sell
// orders plus unlisted inventory.
func (b *Business) Outstanding(book Book) int {
	return book.OwnerVolume(b.Account(), b.Good, market.Sell) + b.Inventory
}
