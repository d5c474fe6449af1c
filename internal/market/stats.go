package market

import (
	"encoding/json"
	"sort"

	"github.com/samber/lo"

	"github.com/talgya/market-sim/internal/money"
)

// HistoryDays bounds how many days of statistics each good keeps.
const HistoryDays = 365

// PriceStats summarises the asking prices of one good's live sell orders at
// the end of a day, plus the units traded that day.
type PriceStats struct {
	Good   Good        `json:"good"`
	Day    uint64      `json:"day"`
	Min    money.Money `json:"min"`
	Max    money.Money `json:"max"`
	Median money.Money `json:"median"`
	P25    money.Money `json:"p25"`
	P75    money.Money `json:"p75"`
	Avg    money.Money `json:"avg"`
	Orders int         `json:"orders"`
	Volume int         `json:"volume"`
}

// ComputeStats builds the statistics for a set of asking prices. With no
// orders only Day, Good and Volume are set.
func ComputeStats(good Good, day uint64, prices []money.Money, volume int) PriceStats {
	st := PriceStats{Good: good, Day: day, Orders: len(prices), Volume: volume}
	if len(prices) == 0 {
		return st
	}
	sorted := append([]money.Money(nil), prices...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	st.Min = sorted[0]
	st.Max = sorted[n-1]
	st.Median = sorted[n/2]
	st.P25 = sorted[n/4]
	st.P75 = sorted[n*3/4]
	st.Avg = lo.Sum(sorted) / money.Money(n)
	return st
}

// PriceHistory is a bounded ring of daily statistics for one good.
type PriceHistory struct {
	good  Good
	limit int
	days  []PriceStats
}

func NewPriceHistory(good Good, limit int) *PriceHistory {
	return &PriceHistory{good: good, limit: limit}
}

// Add appends a day, dropping the oldest beyond the limit.
func (h *PriceHistory) Add(st PriceStats) {
	h.days = append(h.days, st)
	if h.limit > 0 && len(h.days) > h.limit {
		h.days = append(h.days[:0], h.days[len(h.days)-h.limit:]...)
	}
}

// Last returns up to n most recent days, oldest first.
func (h *PriceHistory) Last(n int) []PriceStats {
	if n <= 0 || n > len(h.days) {
		n = len(h.days)
	}
	return append([]PriceStats(nil), h.days[len(h.days)-n:]...)
}

// Latest returns the most recent day, if any.
func (h *PriceHistory) Latest() (PriceStats, bool) {
	if len(h.days) == 0 {
		return PriceStats{}, false
	}
	return h.days[len(h.days)-1], true
}

func (h *PriceHistory) Clone() *PriceHistory {
	if h == nil {
		return nil
	}
	return &PriceHistory{good: h.good, limit: h.limit, days: append([]PriceStats(nil), h.days...)}
}

type historyDoc struct {
	Good  Good         `json:"good"`
	Limit int          `json:"limit"`
	Days  []PriceStats `json:"days"`
}

func (h *PriceHistory) MarshalJSON() ([]byte, error) {
	return json.Marshal(historyDoc{Good: h.good, Limit: h.limit, Days: h.days})
}

func (h *PriceHistory) UnmarshalJSON(b []byte) error {
	var doc historyDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	h.good, h.limit, h.days = doc.Good, doc.Limit, doc.Days
	return nil
}
