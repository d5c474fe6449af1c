// Package agents provides the person model and the consumer buying policy.
package agents

import (
	"fmt"

	"github.com/talgya/market-sim/internal/ledger"
	"github.com/talgya/market-sim/internal/money"
)

// PersonID is a unique identifier for a person.
type PersonID uint64

// Class is the wealth class a person was created in.
type Class uint8

const (
	Poor Class = iota
	Rich
)

func (c Class) String() string {
	if c == Rich {
		return "rich"
	}
	return "poor"
}

func (c Class) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Class) UnmarshalText(b []byte) error {
	switch string(b) {
	case "poor":
		*c = Poor
	case "rich":
		*c = Rich
	default:
		return fmt.Errorf("unknown class %q", b)
	}
	return nil
}

// Person is a consumer and potential worker. People are never removed.
// Money is held in the ledger under Account().
type Person struct {
	ID           PersonID      `json:"id"`
	Name         string        `json:"name"`
	Class        Class         `json:"class"`
	DiscountRate float64       `json:"discount_rate"`
	Utility      []money.Money `json:"utility"` // per good, undiscounted value of one unit
	Stock        []int         `json:"stock"`   // per good, units on hand

	// Business ID the person works for; 0 means unemployed.
	EmployerID uint64 `json:"employer_id,omitempty"`

	OrdersToday int    `json:"orders_today"`
	OrdersDay   uint64 `json:"orders_day"`
}

// Account is the person's ledger account.
func (p *Person) Account() ledger.AccountID {
	return ledger.PersonAccount(uint64(p.ID))
}

func (p *Person) Employed() bool { return p.EmployerID != 0 }

// Clone returns a deep copy.
func (p *Person) Clone() *Person {
	cp := *p
	cp.Utility = append([]money.Money(nil), p.Utility...)
	cp.Stock = append([]int(nil), p.Stock...)
	return &cp
}
