// Package config loads the immutable tunables snapshot consumed by every
// simulation component. Documents are YAML or JSON trees whose leaves are
// {value, name, description, range} entries.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/talgya/market-sim/internal/money"
)

//go:embed default.yaml
var defaultDocument []byte

//go:embed schema.json
var schemaDocument string

// Number is the set of value types a tunable may carry.
type Number interface {
	~int | ~int64 | ~float64
}

// Value is one named tunable. Range, when present, holds [min, max].
type Value[T Number] struct {
	Value       T      `yaml:"value" json:"value"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Range       []T    `yaml:"range,omitempty" json:"range,omitempty"`
}

// Get returns the configured value.
func (v Value[T]) Get() T { return v.Value }

// Ranged reports whether the entry is runtime-tunable within bounds.
func (v Value[T]) Ranged() bool { return len(v.Range) == 2 }

func (v Value[T]) problem() string {
	switch {
	case v.Name == "":
		return "missing entry"
	case len(v.Range) == 0:
		return ""
	case len(v.Range) != 2:
		return fmt.Sprintf("range must have exactly two bounds, got %d", len(v.Range))
	case v.Range[0] > v.Range[1]:
		return fmt.Sprintf("range [%v, %v] is empty", v.Range[0], v.Range[1])
	case v.Value < v.Range[0] || v.Value > v.Range[1]:
		return fmt.Sprintf("value %v outside [%v, %v]", v.Value, v.Range[0], v.Range[1])
	}
	return ""
}

// Config is the root of the tunables tree.
type Config struct {
	Game       Game       `yaml:"game" json:"game"`
	Init       Init       `yaml:"init" json:"init"`
	People     People     `yaml:"people" json:"people"`
	Business   Business   `yaml:"business" json:"business"`
	Government Government `yaml:"government" json:"government"`
	Goods      []Good     `yaml:"goods" json:"goods"`
}

type Game struct {
	Speed Value[float64] `yaml:"speed" json:"speed"` // real seconds per simulated day, 0 pauses
	Seed  Value[int]     `yaml:"seed" json:"seed"`
}

type Init struct {
	People     InitPeople `yaml:"people" json:"people"`
	Money      InitMoney  `yaml:"money" json:"money"`
	Businesses Value[int] `yaml:"businesses" json:"businesses"`
}

type InitPeople struct {
	Poor Value[int] `yaml:"poor" json:"poor"`
	Rich Value[int] `yaml:"rich" json:"rich"`
}

type InitMoney struct {
	Poor       Value[money.Money] `yaml:"poor" json:"poor"`
	Rich       Value[money.Money] `yaml:"rich" json:"rich"`
	Government Value[money.Money] `yaml:"government" json:"government"`
}

type People struct {
	DiscountRate       Value[float64] `yaml:"discount_rate" json:"discount_rate"`
	MaxBuyOrdersPerDay Value[int]     `yaml:"max_buy_orders_per_day" json:"max_buy_orders_per_day"`
	DaysOfSupply       Value[int]     `yaml:"days_of_supply" json:"days_of_supply"`
}

type Business struct {
	Market          BusinessMarket     `yaml:"market" json:"market"`
	Prices          BusinessPrices     `yaml:"prices" json:"prices"`
	Staff           BusinessStaff      `yaml:"staff" json:"staff"`
	Production      BusinessProduction `yaml:"production" json:"production"`
	MonthlyDividend Value[float64]     `yaml:"monthly_dividend" json:"monthly_dividend"`
}

type BusinessMarket struct {
	AmountOfSellOrdersSeen                  Value[float64] `yaml:"amount_of_sell_orders_seen" json:"amount_of_sell_orders_seen"`
	AmountOfSellOrdersToChooseBestPriceFrom Value[float64] `yaml:"amount_of_sell_orders_to_choose_best_price_from" json:"amount_of_sell_orders_to_choose_best_price_from"`
	OrderExpirationTime                     Value[int]     `yaml:"order_expiration_time" json:"order_expiration_time"`
}

type BusinessPrices struct {
	MaxChangePerDay              Value[float64] `yaml:"max_change_per_day" json:"max_change_per_day"`
	SellHistoryToConsider        Value[int]     `yaml:"sell_history_to_consider" json:"sell_history_to_consider"`
	KeepResourcesForCyclesAmount Value[int]     `yaml:"keep_resources_for_cycles_amount" json:"keep_resources_for_cycles_amount"`
}

type BusinessStaff struct {
	MinDaysBetweenStaffChange Value[int]         `yaml:"min_days_between_staff_change" json:"min_days_between_staff_change"`
	Wage                      Value[money.Money] `yaml:"wage" json:"wage"`
}

type BusinessProduction struct {
	GoalProducedCyclesCount Value[int] `yaml:"goal_produced_cycles_count" json:"goal_produced_cycles_count"`
	OutputPerCycle          Value[int] `yaml:"output_per_cycle" json:"output_per_cycle"`
	WorkdaysNeeded          Value[int] `yaml:"workdays_needed" json:"workdays_needed"`
}

type Government struct {
	Taxes                          Taxes              `yaml:"taxes" json:"taxes"`
	MinTimeBetweenBusinessCreation Value[int]         `yaml:"min_time_between_business_creation" json:"min_time_between_business_creation"`
	MoneyToCreateBusiness          Value[money.Money] `yaml:"money_to_create_business" json:"money_to_create_business"`
}

type Taxes struct {
	CIT Value[float64] `yaml:"cit" json:"cit"`
	PIT Value[float64] `yaml:"pit" json:"pit"` // parsed and validated, never applied
}

// Good is one tradeable consumer good. Inputs, when present, are the
// materials one production cycle of the good consumes.
type Good struct {
	Name         string      `yaml:"name" json:"name"`
	BaseUtility  money.Money `yaml:"base_utility" json:"base_utility"`
	InitialPrice money.Money `yaml:"initial_price" json:"initial_price"`
	Inputs       []Input     `yaml:"inputs,omitempty" json:"inputs,omitempty"`
}

// Input is a quantity of another good used up per production cycle.
type Input struct {
	Good     string `yaml:"good" json:"good"`
	Quantity int    `yaml:"quantity" json:"quantity"`
}

// GoodIndex returns the position of the named good.
func (c *Config) GoodIndex(name string) (int, bool) {
	for i, g := range c.Goods {
		if g.Name == name {
			return i, true
		}
	}
	return 0, false
}

// ValidationError lists every configuration problem found at load.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %d invalid entries: %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

type checkable interface{ problem() string }

type entry struct {
	key string
	v   checkable
}

func (c *Config) entries() []entry {
	return []entry{
		{"game.speed", c.Game.Speed},
		{"game.seed", c.Game.Seed},
		{"init.people.poor", c.Init.People.Poor},
		{"init.people.rich", c.Init.People.Rich},
		{"init.money.poor", c.Init.Money.Poor},
		{"init.money.rich", c.Init.Money.Rich},
		{"init.money.government", c.Init.Money.Government},
		{"init.businesses", c.Init.Businesses},
		{"people.discount_rate", c.People.DiscountRate},
		{"people.max_buy_orders_per_day", c.People.MaxBuyOrdersPerDay},
		{"people.days_of_supply", c.People.DaysOfSupply},
		{"business.market.amount_of_sell_orders_seen", c.Business.Market.AmountOfSellOrdersSeen},
		{"business.market.amount_of_sell_orders_to_choose_best_price_from", c.Business.Market.AmountOfSellOrdersToChooseBestPriceFrom},
		{"business.market.order_expiration_time", c.Business.Market.OrderExpirationTime},
		{"business.prices.max_change_per_day", c.Business.Prices.MaxChangePerDay},
		{"business.prices.sell_history_to_consider", c.Business.Prices.SellHistoryToConsider},
		{"business.prices.keep_resources_for_cycles_amount", c.Business.Prices.KeepResourcesForCyclesAmount},
		{"business.staff.min_days_between_staff_change", c.Business.Staff.MinDaysBetweenStaffChange},
		{"business.staff.wage", c.Business.Staff.Wage},
		{"business.production.goal_produced_cycles_count", c.Business.Production.GoalProducedCyclesCount},
		{"business.production.output_per_cycle", c.Business.Production.OutputPerCycle},
		{"business.production.workdays_needed", c.Business.Production.WorkdaysNeeded},
		{"business.monthly_dividend", c.Business.MonthlyDividend},
		{"government.taxes.cit", c.Government.Taxes.CIT},
		{"government.taxes.pit", c.Government.Taxes.PIT},
		{"government.min_time_between_business_creation", c.Government.MinTimeBetweenBusinessCreation},
		{"government.money_to_create_business", c.Government.MoneyToCreateBusiness},
	}
}

// Validate checks every entry against its declared range and returns a
// *ValidationError naming all failing keys.
func (c *Config) Validate() error {
	var problems []string
	for _, e := range c.entries() {
		if p := e.v.problem(); p != "" {
			problems = append(problems, e.key+": "+p)
		}
	}

	if len(c.Goods) == 0 {
		problems = append(problems, "goods: at least one good is required")
	}
	seen := make(map[string]bool, len(c.Goods))
	for i, g := range c.Goods {
		key := fmt.Sprintf("goods[%d]", i)
		if g.Name == "" {
			problems = append(problems, key+": missing name")
		} else if seen[g.Name] {
			problems = append(problems, key+": duplicate good "+g.Name)
		}
		seen[g.Name] = true
		if g.BaseUtility <= 0 {
			problems = append(problems, key+": base_utility must be positive")
		}
		if g.InitialPrice <= 0 {
			problems = append(problems, key+": initial_price must be positive")
		}
		used := make(map[string]bool, len(g.Inputs))
		for j, in := range g.Inputs {
			ikey := fmt.Sprintf("%s.inputs[%d]", key, j)
			switch _, known := c.GoodIndex(in.Good); {
			case !known:
				problems = append(problems, ikey+": unknown good "+in.Good)
			case in.Good == g.Name:
				problems = append(problems, ikey+": a good cannot consume itself")
			case used[in.Good]:
				problems = append(problems, ikey+": duplicate input "+in.Good)
			}
			used[in.Good] = true
			if in.Quantity < 1 {
				problems = append(problems, ikey+": quantity must be at least 1")
			}
		}
	}

	// Minimum seeds that the engine divides by.
	if c.Business.Production.WorkdaysNeeded.Value < 1 {
		problems = append(problems, "business.production.workdays_needed: must be at least 1")
	}
	if c.Business.Market.OrderExpirationTime.Value < 1 {
		problems = append(problems, "business.market.order_expiration_time: must be at least 1")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Load reads and validates a configuration document from disk.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates the document shape against the embedded schema, decodes it
// and range-checks every tunable.
func Parse(raw []byte) (*Config, error) {
	if err := checkShape(raw); err != nil {
		return nil, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the embedded default configuration.
func Default() *Config {
	cfg, err := Parse(defaultDocument)
	if err != nil {
		panic(fmt.Sprintf("embedded default config is invalid: %v", err))
	}
	return cfg
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Goods = append([]Good(nil), c.Goods...)
	for i := range cp.Goods {
		cp.Goods[i].Inputs = append([]Input(nil), cp.Goods[i].Inputs...)
	}
	return &cp
}

// WithSpeed returns a copy of the snapshot with a new game speed, validated
// against the speed range.
func (c *Config) WithSpeed(speed float64) (*Config, error) {
	cp := c.Clone()
	cp.Game.Speed.Value = speed
	if p := cp.Game.Speed.problem(); p != "" {
		return nil, &ValidationError{Problems: []string{"game.speed: " + p}}
	}
	return cp, nil
}

var schema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("config.schema.json", strings.NewReader(schemaDocument)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	s, err := c.Compile("config.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return s, nil
})

// checkShape validates the raw document's structure. YAML is routed through
// JSON so numbers reach the validator as json.Number.
func checkShape(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	d := json.NewDecoder(bytes.NewReader(asJSON))
	d.UseNumber()
	var inst any
	if err := d.Decode(&inst); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	s, err := schema()
	if err != nil {
		return err
	}
	if err := s.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return err
		}
		var problems []string
		for _, be := range ve.BasicOutput().Errors {
			if be.Error == "" || strings.HasPrefix(be.Error, "doesn't validate with") {
				continue
			}
			loc := be.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			problems = append(problems, loc+": "+be.Error)
		}
		if len(problems) == 0 {
			problems = []string{ve.Error()}
		}
		return &ValidationError{Problems: problems}
	}
	return nil
}
