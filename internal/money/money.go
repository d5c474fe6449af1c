// Package money provides the integer currency type used by every ledger,
// order and price in the simulation.
package money

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Money is an amount of credits counted in hundredths (1 = 0.01 Cr).
type Money int64

const (
	Cent   Money = 1
	Credit Money = 100
)

// Zero is the zero amount.
const Zero Money = 0

var suffixes = []struct {
	unit string
	mul  float64
}{
	{"k", 1e3},
	{"M", 1e6},
	{"G", 1e9},
	{"T", 1e12},
}

// FromCredits converts whole credits to Money.
func FromCredits(c int64) Money {
	return Money(c) * Credit
}

// Parse reads a compact currency literal such as "100kCr", "1.5 MCr", "40Cr"
// or a bare number of credits.
func Parse(s string) (Money, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, fmt.Errorf("money: empty literal")
	}
	t := strings.TrimSuffix(raw, "Cr")
	t = strings.TrimSpace(t)

	mul := 1.0
	for _, sfx := range suffixes {
		if strings.HasSuffix(t, sfx.unit) {
			mul = sfx.mul
			t = strings.TrimSpace(strings.TrimSuffix(t, sfx.unit))
			break
		}
	}

	v, err := strconv.ParseFloat(t, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("money: invalid literal %q", s)
	}
	return Money(math.Round(v * mul * float64(Credit))), nil
}

// MustParse is Parse for literals known at compile time.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Credits returns the amount as a floating-point number of credits.
func (m Money) Credits() float64 {
	return float64(m) / float64(Credit)
}

// Times multiplies by an integer quantity.
func (m Money) Times(q int) Money {
	return m * Money(q)
}

// MulFloat scales by a fraction, rounding half away from zero.
func (m Money) MulFloat(f float64) Money {
	return Money(math.Round(float64(m) * f))
}

// FloorMulFloat scales by a non-negative fraction, rounding toward zero.
func (m Money) FloorMulFloat(f float64) Money {
	return Money(math.Trunc(float64(m) * f))
}

// Abs returns the absolute value.
func (m Money) Abs() Money {
	if m < 0 {
		return -m
	}
	return m
}

// Min returns the smaller of a and b.
func Min(a, b Money) Money {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Money) Money {
	if a > b {
		return a
	}
	return b
}

// String formats the amount compactly: 1500 credits is "1.5kCr".
func (m Money) String() string {
	sign := ""
	v := m.Credits()
	if v < 0 {
		sign = "-"
		v = -v
	}
	unit := ""
	for _, u := range []string{"k", "M", "G", "T", "P"} {
		if v < 1000 {
			break
		}
		v /= 1000
		unit = u
	}
	s := strconv.FormatFloat(v, 'f', 3, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	return sign + s + unit + "Cr"
}

// Exact formats the amount without rounding, e.g. "1234.56Cr".
func (m Money) Exact() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02dCr", sign, v/int64(Credit), v%int64(Credit))
}

// MarshalJSON writes the exact literal so snapshots round-trip.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Exact())
}

// UnmarshalJSON accepts a literal string or a number of credits.
func (m *Money) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := Parse(s)
		if err != nil {
			return err
		}
		*m = v
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("money: expected literal or number, got %s", b)
	}
	*m = Money(math.Round(f * float64(Credit)))
	return nil
}

// UnmarshalYAML accepts a literal string or a number of credits.
func (m *Money) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("money: line %d: expected scalar", node.Line)
	}
	v, err := Parse(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*m = v
	return nil
}
