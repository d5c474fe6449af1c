package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/talgya/market-sim/internal/agents"
	"github.com/talgya/market-sim/internal/business"
	"github.com/talgya/market-sim/internal/config"
	"github.com/talgya/market-sim/internal/entropy"
	"github.com/talgya/market-sim/internal/government"
	"github.com/talgya/market-sim/internal/ledger"
	"github.com/talgya/market-sim/internal/market"
	"github.com/talgya/market-sim/internal/money"
)

// MaxEvents bounds the retained event log.
const MaxEvents = 1000

// Event is a notable occurrence in the economy.
type Event struct {
	Day         uint64 `json:"day"`
	Category    string `json:"category"` // "founded", "bankrupt", "layoff", "settlement"
	Description string `json:"description"`
}

// Stats are aggregate figures for the most recent day.
type Stats struct {
	Trades           int         `json:"trades"`
	UnitsTraded      int         `json:"units_traded"`
	Turnover         money.Money `json:"turnover"`
	OpenOrders       int         `json:"open_orders"`
	Employed         int         `json:"employed"`
	Unemployed       int         `json:"unemployed"`
	ActiveBusinesses int         `json:"active_businesses"`
	Bankruptcies     int         `json:"bankruptcies"` // all time
	PeopleMoney      money.Money `json:"people_money"`
	BusinessMoney    money.Money `json:"business_money"`
	Treasury         money.Money `json:"treasury"`
	TaxCollected     money.Money `json:"tax_collected"`  // all time
	DividendsPaid    money.Money `json:"dividends_paid"` // all time
}

// State is one whole simulated day. AdvanceOneDay never mutates its input,
// so a published *State can be read freely.
type State struct {
	Day          uint64                 `json:"day"` // next day to simulate
	Config       *config.Config         `json:"config"`
	Ledger       *ledger.Ledger         `json:"ledger"`
	Market       *market.Market         `json:"market"`
	People       []*agents.Person       `json:"people"`     // index = ID-1
	Businesses   []*business.Business   `json:"businesses"` // index = ID-1, bankrupt ones kept
	Government   *government.Government `json:"government"`
	Stats        Stats                  `json:"stats"`
	Events       []Event                `json:"events"`
	Trades       []market.Trade         `json:"trades"` // executed on the last simulated day
	ResolverName string                 `json:"resolver"`

	resolver Resolver
}

// Option customises Initialize.
type Option func(*State)

// WithResolver selects how bankrupt businesses are wound up.
func WithResolver(r Resolver) Option {
	return func(s *State) {
		s.resolver = r
		s.ResolverName = r.Name()
	}
}

// Initialize builds day 0 from a configuration snapshot: the treasury, the
// poor and rich populations with their starting money, and the initial
// businesses founded by rich people.
func Initialize(cfg *config.Config, opts ...Option) (*State, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &State{
		Config:     cfg,
		Ledger:     ledger.New(),
		Market:     market.New(len(cfg.Goods), marketParams(cfg)),
		Government: government.New(cfg),
	}
	WithResolver(LiquidateBankrupt)(s)
	for _, opt := range opts {
		opt(s)
	}

	if err := s.Ledger.Open(ledger.GovernmentAccount(), cfg.Init.Money.Government.Get()); err != nil {
		return nil, fmt.Errorf("open treasury: %w", err)
	}

	seed := cfg.Game.Seed.Get()
	spawner := agents.NewSpawner(int64(seed), entropy.New(uint64(seed)).Fork("population"), cfg)
	s.People = append(s.People, spawner.SpawnPopulation(cfg.Init.People.Poor.Get(), agents.Poor)...)
	s.People = append(s.People, spawner.SpawnPopulation(cfg.Init.People.Rich.Get(), agents.Rich)...)
	for _, p := range s.People {
		initial := cfg.Init.Money.Poor.Get()
		if p.Class == agents.Rich {
			initial = cfg.Init.Money.Rich.Get()
		}
		if err := s.Ledger.Open(p.Account(), initial); err != nil {
			return nil, fmt.Errorf("open person %d: %w", p.ID, err)
		}
	}

	if err := s.seedBusinesses(); err != nil {
		return nil, err
	}

	s.updateStats(nil)
	s.Ledger.AssertConserved()
	return s, nil
}

func marketParams(cfg *config.Config) market.Params {
	m := cfg.Business.Market
	return market.Params{
		SellOrdersSeen: m.AmountOfSellOrdersSeen.Get(),
		ChooseBestFrom: m.AmountOfSellOrdersToChooseBestPriceFrom.Get(),
		ExpirationDays: uint64(m.OrderExpirationTime.Get()),
	}
}

func (s *State) personPolicy() agents.Policy {
	return agents.Policy{
		MaxBuyOrdersPerDay: s.Config.People.MaxBuyOrdersPerDay.Get(),
		DaysOfSupply:       s.Config.People.DaysOfSupply.Get(),
	}
}

// seedBusinesses founds the day-0 businesses, cycling through the rich
// people and skipping any who can no longer put up the capital. Goods are
// assigned round robin. A configuration that cannot fund every business is
// rejected.
func (s *State) seedBusinesses() error {
	cfg := s.Config
	want := cfg.Init.Businesses.Get()
	capital := s.Government.MoneyToCreateBusiness
	founders := lo.Filter(s.People, func(p *agents.Person, _ int) bool { return p.Class == agents.Rich })

	next := 0
	for i := 0; i < want; i++ {
		var founder *agents.Person
		for tries := 0; tries < len(founders) && founder == nil; tries++ {
			p := founders[next%len(founders)]
			next++
			if s.Ledger.Balance(p.Account()) >= capital {
				founder = p
			}
		}
		if founder == nil {
			return &config.ValidationError{Problems: []string{fmt.Sprintf(
				"init.businesses: %d rich people can fund only %d of %d businesses at %s each",
				len(founders), i, want, capital)}}
		}
		good := market.Good(i % len(cfg.Goods))
		if _, err := s.found(0, founder, good, cfg.Goods[good].InitialPrice); err != nil {
			return err
		}
	}
	return nil
}

// found opens a business for founder and moves exactly the creation capital
// into its account. The founder must hold it.
func (s *State) found(day uint64, founder *agents.Person, good market.Good, price money.Money) (*business.Business, error) {
	capital := s.Government.MoneyToCreateBusiness
	if bal := s.Ledger.Balance(founder.Account()); bal < capital {
		return nil, fmt.Errorf("founder %d holds %s, %s required: %w", founder.ID, bal, capital, ledger.ErrInsufficientFunds)
	}

	id := business.ID(len(s.Businesses) + 1)
	name := fmt.Sprintf("%s %s Co.", surname(founder.Name), titleCase(s.Config.Goods[good].Name))
	b := business.New(id, founder.ID, name, good, price, day, business.PolicyFrom(s.Config))

	if err := s.Ledger.Open(b.Account(), 0); err != nil {
		return nil, fmt.Errorf("open business %d: %w", id, err)
	}
	if err := s.Ledger.Transfer(founder.Account(), b.Account(), capital, ledger.Capital); err != nil {
		return nil, fmt.Errorf("capitalise business %d: %w", id, err)
	}
	s.Businesses = append(s.Businesses, b)
	s.addEvent(day, "founded", fmt.Sprintf("%s founded %s selling %s with %s", founder.Name, b.Name, s.Config.Goods[good].Name, capital))
	return b, nil
}

func surname(name string) string {
	f := strings.Fields(name)
	if len(f) == 0 {
		return "Anonymous"
	}
	return f[len(f)-1]
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Person returns a person by ID.
func (s *State) Person(id agents.PersonID) *agents.Person {
	if id == 0 || int(id) > len(s.People) {
		return nil
	}
	return s.People[id-1]
}

// Business returns a business by ID.
func (s *State) Business(id business.ID) *business.Business {
	if id == 0 || int(id) > len(s.Businesses) {
		return nil
	}
	return s.Businesses[id-1]
}

// GoodName is the configured name of a good.
func (s *State) GoodName(g market.Good) string {
	if int(g) >= len(s.Config.Goods) {
		return fmt.Sprintf("good#%d", g)
	}
	return s.Config.Goods[g].Name
}

func (s *State) addEvent(day uint64, category, desc string) {
	s.Events = append(s.Events, Event{Day: day, Category: category, Description: desc})
	if len(s.Events) > MaxEvents {
		s.Events = append(s.Events[:0], s.Events[len(s.Events)-MaxEvents:]...)
	}
}

// Hire employs the lowest-ID unemployed person at business id.
func (s *State) Hire(id business.ID) (agents.PersonID, bool) {
	for _, p := range s.People {
		if !p.Employed() {
			p.EmployerID = uint64(id)
			return p.ID, true
		}
	}
	return 0, false
}

// Release makes a person unemployed.
func (s *State) Release(id agents.PersonID) {
	if p := s.Person(id); p != nil {
		p.EmployerID = 0
	}
}

// Clone returns a deep copy. The config snapshot is shared.
func (s *State) Clone() *State {
	c := &State{
		Day:          s.Day,
		Config:       s.Config,
		Ledger:       s.Ledger.Clone(),
		Market:       s.Market.Clone(),
		People:       make([]*agents.Person, len(s.People)),
		Businesses:   make([]*business.Business, len(s.Businesses)),
		Government:   s.Government.Clone(),
		Stats:        s.Stats,
		Events:       append([]Event(nil), s.Events...),
		Trades:       append([]market.Trade(nil), s.Trades...),
		ResolverName: s.ResolverName,
		resolver:     s.resolver,
	}
	for i, p := range s.People {
		c.People[i] = p.Clone()
	}
	for i, b := range s.Businesses {
		c.Businesses[i] = b.Clone()
	}
	return c
}

// UnmarshalJSON restores a state and re-binds its bankruptcy resolver.
func (s *State) UnmarshalJSON(b []byte) error {
	type plain State
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = State(p)
	if s.Config == nil || s.Ledger == nil || s.Market == nil || s.Government == nil {
		return fmt.Errorf("state snapshot is incomplete")
	}
	r, err := ResolverByName(s.ResolverName)
	if err != nil {
		return err
	}
	s.resolver = r
	return nil
}
