// Package ledger holds every balance in the simulation and is the only place
// money moves. Total money equals what was issued at account opening, always.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/talgya/market-sim/internal/money"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownAccount    = errors.New("unknown account")
)

// AccountKind distinguishes the owners of accounts.
type AccountKind uint8

const (
	Person AccountKind = iota
	Business
	Government
)

func (k AccountKind) String() string {
	switch k {
	case Person:
		return "person"
	case Business:
		return "business"
	case Government:
		return "government"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// AccountID names one account.
type AccountID struct {
	Kind AccountKind `json:"kind"`
	ID   uint64      `json:"id"`
}

func PersonAccount(id uint64) AccountID   { return AccountID{Kind: Person, ID: id} }
func BusinessAccount(id uint64) AccountID { return AccountID{Kind: Business, ID: id} }

// GovernmentAccount is the treasury.
func GovernmentAccount() AccountID { return AccountID{Kind: Government} }

func (a AccountID) String() string {
	if a.Kind == Government {
		return "government"
	}
	return fmt.Sprintf("%s#%d", a.Kind, a.ID)
}

func (a AccountID) less(b AccountID) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.ID < b.ID
}

// Reason tags a transfer in the journal.
type Reason uint8

const (
	Trade Reason = iota
	Wage
	Tax
	Dividend
	Capital
	Liquidation
)

var reasonNames = [...]string{"trade", "wage", "tax", "dividend", "capital", "liquidation"}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

func (r Reason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Reason) UnmarshalText(b []byte) error {
	for i, n := range reasonNames {
		if n == string(b) {
			*r = Reason(i)
			return nil
		}
	}
	return fmt.Errorf("unknown transfer reason %q", b)
}

// Entry is one journaled transfer.
type Entry struct {
	Day    uint64      `json:"day"`
	From   AccountID   `json:"from"`
	To     AccountID   `json:"to"`
	Amount money.Money `json:"amount"`
	Reason Reason      `json:"reason"`
}

// JournalLimit bounds the in-memory journal; older entries are dropped.
const JournalLimit = 4096

// ConservationViolation is raised (as a panic value) when balances no longer
// sum to the issued total.
type ConservationViolation struct {
	Expected money.Money
	Actual   money.Money
}

func (v ConservationViolation) Error() string {
	return fmt.Sprintf("money not conserved: issued %s, accounts hold %s", v.Expected.Exact(), v.Actual.Exact())
}

// Ledger is the set of balances. Not safe for concurrent mutation; the day
// tick owns it.
type Ledger struct {
	balances map[AccountID]money.Money
	issued   money.Money
	day      uint64
	journal  []Entry
}

func New() *Ledger {
	return &Ledger{balances: make(map[AccountID]money.Money)}
}

// Open creates an account holding initial, which counts as newly issued
// money. Opening an existing account is an error.
func (l *Ledger) Open(id AccountID, initial money.Money) error {
	if _, ok := l.balances[id]; ok {
		return fmt.Errorf("open %s: account exists", id)
	}
	if initial < 0 {
		return fmt.Errorf("open %s: negative initial balance %s", id, initial)
	}
	l.balances[id] = initial
	l.issued += initial
	return nil
}

// Has reports whether the account exists.
func (l *Ledger) Has(id AccountID) bool {
	_, ok := l.balances[id]
	return ok
}

// Balance returns the account balance, zero for unknown accounts.
func (l *Ledger) Balance(id AccountID) money.Money {
	return l.balances[id]
}

// Transfer moves amt from one account to another. It fails without side
// effects if either account is unknown or the source lacks funds.
func (l *Ledger) Transfer(from, to AccountID, amt money.Money, reason Reason) error {
	if amt < 0 {
		return fmt.Errorf("transfer %s from %s: negative amount", amt, from)
	}
	src, ok := l.balances[from]
	if !ok {
		return fmt.Errorf("transfer from %s: %w", from, ErrUnknownAccount)
	}
	if _, ok := l.balances[to]; !ok {
		return fmt.Errorf("transfer to %s: %w", to, ErrUnknownAccount)
	}
	if src < amt {
		return fmt.Errorf("transfer %s from %s (holds %s): %w", amt, from, src, ErrInsufficientFunds)
	}
	if amt == 0 || from == to {
		return nil
	}
	l.balances[from] = src - amt
	l.balances[to] += amt
	l.record(Entry{Day: l.day, From: from, To: to, Amount: amt, Reason: reason})
	return nil
}

func (l *Ledger) record(e Entry) {
	if len(l.journal) >= JournalLimit {
		n := copy(l.journal, l.journal[len(l.journal)-JournalLimit/2:])
		l.journal = l.journal[:n]
	}
	l.journal = append(l.journal, e)
}

// SetDay stamps subsequent journal entries.
func (l *Ledger) SetDay(day uint64) { l.day = day }

// Journal returns the retained transfers, oldest first.
func (l *Ledger) Journal() []Entry {
	return append([]Entry(nil), l.journal...)
}

// JournalSince returns retained transfers stamped on or after day.
func (l *Ledger) JournalSince(day uint64) []Entry {
	i := sort.Search(len(l.journal), func(i int) bool { return l.journal[i].Day >= day })
	return append([]Entry(nil), l.journal[i:]...)
}

// Total sums every balance.
func (l *Ledger) Total() money.Money {
	var sum money.Money
	for _, b := range l.balances {
		sum += b
	}
	return sum
}

// Issued is the money created by account openings.
func (l *Ledger) Issued() money.Money { return l.issued }

// AssertConserved panics with a ConservationViolation when balances do not
// sum to the issued total or any balance is negative.
func (l *Ledger) AssertConserved() {
	total := l.Total()
	if total != l.issued {
		panic(ConservationViolation{Expected: l.issued, Actual: total})
	}
	for id, b := range l.balances {
		if b < 0 {
			panic(fmt.Errorf("%s: negative balance %s: %w", id, b.Exact(), ConservationViolation{Expected: l.issued, Actual: total}))
		}
	}
}

// Accounts returns all account IDs in kind, then ID order.
func (l *Ledger) Accounts() []AccountID {
	ids := make([]AccountID, 0, len(l.balances))
	for id := range l.balances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].less(ids[j]) })
	return ids
}

// Clone returns an independent copy.
func (l *Ledger) Clone() *Ledger {
	c := &Ledger{
		balances: make(map[AccountID]money.Money, len(l.balances)),
		issued:   l.issued,
		day:      l.day,
		journal:  append([]Entry(nil), l.journal...),
	}
	for id, b := range l.balances {
		c.balances[id] = b
	}
	return c
}

type accountDoc struct {
	Account AccountID   `json:"account"`
	Balance money.Money `json:"balance"`
}

type ledgerDoc struct {
	Issued   money.Money  `json:"issued"`
	Day      uint64       `json:"day"`
	Accounts []accountDoc `json:"accounts"`
	Journal  []Entry      `json:"journal"`
}

func (l *Ledger) MarshalJSON() ([]byte, error) {
	doc := ledgerDoc{Issued: l.issued, Day: l.day, Journal: l.journal}
	for _, id := range l.Accounts() {
		doc.Accounts = append(doc.Accounts, accountDoc{Account: id, Balance: l.balances[id]})
	}
	return json.Marshal(doc)
}

func (l *Ledger) UnmarshalJSON(b []byte) error {
	var doc ledgerDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	l.balances = make(map[AccountID]money.Money, len(doc.Accounts))
	for _, a := range doc.Accounts {
		l.balances[a.Account] = a.Balance
	}
	l.issued = doc.Issued
	l.day = doc.Day
	l.journal = doc.Journal
	return nil
}
