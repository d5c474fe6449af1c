package engine

import (
	"github.com/samber/lo"

	"github.com/talgya/market-sim/internal/agents"
	"github.com/talgya/market-sim/internal/business"
	"github.com/talgya/market-sim/internal/market"
	"github.com/talgya/market-sim/internal/money"
)

// View is a read-only projection of a state for observers.
type View struct {
	Day        uint64         `json:"day"`
	Speed      float64        `json:"speed"`
	Stats      Stats          `json:"stats"`
	People     []PersonView   `json:"people"`
	Businesses []BusinessView `json:"businesses"`
	Government GovernmentView `json:"government"`
	Goods      []GoodView     `json:"goods"`
	Events     []Event        `json:"events"`
}

type PersonView struct {
	ID       agents.PersonID `json:"id"`
	Name     string          `json:"name"`
	Class    agents.Class    `json:"class"`
	Money    money.Money     `json:"money"`
	Stock    []int           `json:"stock"`
	Employer business.ID     `json:"employer,omitempty"`
}

type BusinessView struct {
	ID        business.ID     `json:"id"`
	Name      string          `json:"name"`
	Owner     agents.PersonID `json:"owner"`
	Good      string          `json:"good"`
	Price     money.Money     `json:"price"`
	Inventory int             `json:"inventory"`
	Materials map[string]int  `json:"materials,omitempty"`
	Listed    int             `json:"listed"`
	Staff     int             `json:"staff"`
	State     business.State  `json:"state"`
	Money     money.Money     `json:"money"`
	Created   uint64          `json:"created_day"`
}

type GovernmentView struct {
	Treasury                money.Money `json:"treasury"`
	CIT                     float64     `json:"cit"`
	PIT                     float64     `json:"pit"`
	CollectedCIT            money.Money `json:"collected_cit"`
	LastBusinessCreationDay uint64      `json:"last_business_creation_day"`
}

type GoodView struct {
	Name      string             `json:"name"`
	BuyDepth  int                `json:"buy_depth"`
	SellDepth int                `json:"sell_depth"`
	Prices    *market.PriceStats `json:"prices,omitempty"`
}

// RecentEvents is how many events a View carries.
const RecentEvents = 50

// Query projects a state. It only reads.
func Query(s *State) View {
	v := View{
		Day:   s.Day,
		Speed: s.Config.Game.Speed.Get(),
		Stats: s.Stats,
		Government: GovernmentView{
			Treasury:                s.Ledger.Balance(s.Government.Account()),
			CIT:                     s.Government.CIT,
			PIT:                     s.Government.PIT,
			CollectedCIT:            s.Government.CollectedCIT,
			LastBusinessCreationDay: s.Government.LastBusinessCreationDay,
		},
	}

	v.People = lo.Map(s.People, func(p *agents.Person, _ int) PersonView {
		return PersonView{
			ID:       p.ID,
			Name:     p.Name,
			Class:    p.Class,
			Money:    s.Ledger.Balance(p.Account()),
			Stock:    append([]int(nil), p.Stock...),
			Employer: business.ID(p.EmployerID),
		}
	})

	v.Businesses = lo.Map(s.Businesses, func(b *business.Business, _ int) BusinessView {
		return BusinessView{
			ID:        b.ID,
			Name:      b.Name,
			Owner:     b.OwnerID,
			Good:      s.GoodName(b.Good),
			Price:     b.Price,
			Inventory: b.Inventory,
			Materials: lo.MapKeys(b.Materials, func(_ int, g market.Good) string { return s.GoodName(g) }),
			Listed:    s.Market.OwnerVolume(b.Account(), b.Good, market.Sell),
			Staff:     len(b.Staff),
			State:     b.State,
			Money:     s.Ledger.Balance(b.Account()),
			Created:   b.CreatedDay,
		}
	})

	for g, good := range s.Config.Goods {
		gv := GoodView{
			Name:      good.Name,
			BuyDepth:  s.Market.Volume(market.Good(g), market.Buy),
			SellDepth: s.Market.Volume(market.Good(g), market.Sell),
		}
		if st, ok := s.Market.History(market.Good(g)).Latest(); ok {
			gv.Prices = &st
		}
		v.Goods = append(v.Goods, gv)
	}

	v.Events = append([]Event(nil), lo.Subset(s.Events, -RecentEvents, RecentEvents)...)
	return v
}

// Summary is the compact per-day record streamed to observers and stored in
// the history database.
type Summary struct {
	Day    uint64             `json:"day"`
	Stats  Stats              `json:"stats"`
	Prices []market.PriceStats `json:"prices"`
}

// Summarize builds the summary of the day just simulated.
func Summarize(s *State) Summary {
	sum := Summary{Day: s.Day - 1, Stats: s.Stats}
	if s.Day == 0 {
		sum.Day = 0
	}
	for g := range s.Config.Goods {
		if st, ok := s.Market.History(market.Good(g)).Latest(); ok {
			sum.Prices = append(sum.Prices, st)
		}
	}
	return sum
}
