package core

import (
	"sort"
	"strings"
	"time"
)

// Month identifies one calendar month.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf returns the calendar month a time falls in.
func MonthOf(t time.Time) Month {
	return Month{Year: t.UTC().Year(), Month: t.UTC().Month()}
}

// ParseMonth parses a YYYY-MM string.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return Month{}, err
	}
	return Month{Year: t.Year(), Month: t.Month()}, nil
}

// String renders the month as YYYY-MM.
func (m Month) String() string {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
}

// Previous returns the immediately preceding calendar month, rolling the
// year back across January.
func (m Month) Previous() Month {
	if m.Month == time.January {
		return Month{Year: m.Year - 1, Month: time.December}
	}
	return Month{Year: m.Year, Month: m.Month - 1}
}

// Analytics is the aggregation response shape the consuming UI relies on.
// Field names are the external contract.
type Analytics struct {
	CategoryTotals     map[string]Money `json:"categoryTotals"`
	MonthlyTotals      map[string]Money `json:"monthlyTotals"`
	DailyTotals        map[string]Money `json:"dailyTotals"`
	CurrentMonthTotal  Money            `json:"currentMonthTotal"`
	PreviousMonthTotal Money            `json:"previousMonthTotal"`
	PercentChange      float64          `json:"percentChange"`
	Categories         []string         `json:"categories"`
}

// Deduplicate collapses entries that illegally share a (date, category)
// cell down to one, keeping the one with the latest CreatedAt and, on equal
// timestamps, the lexicographically greatest id. The storage constraint
// makes duplicates structurally impossible; this defends the aggregation
// layer against historical data that predates the constraint.
//
// The returned slice preserves the input order of the surviving entries.
func Deduplicate(entries []Entry) []Entry {
	winners := make(map[CellKey]Entry, len(entries))
	for _, e := range entries {
		key := e.Cell()
		cur, ok := winners[key]
		if !ok || newerEntry(e, cur) {
			winners[key] = e
		}
	}
	if len(winners) == len(entries) {
		return entries
	}
	out := make([]Entry, 0, len(winners))
	for _, e := range entries {
		if winners[e.Cell()].ID == e.ID {
			out = append(out, e)
		}
	}
	return out
}

// newerEntry reports whether a should win over b in a duplicate cell.
func newerEntry(a, b Entry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// CategoryTotals sums amounts grouped by category name, restricted to the
// given month. Input must already be deduplicated.
func CategoryTotals(entries []Entry, month Month) map[string]Money {
	totals := make(map[string]Money)
	for _, e := range entries {
		if !e.Date.In(month) {
			continue
		}
		totals[e.Category] = totals[e.Category].Add(e.Amount)
	}
	return totals
}

// DailyTotals sums amounts per calendar day within the given month, keyed
// by YYYY-MM-DD.
func DailyTotals(entries []Entry, month Month) map[string]Money {
	totals := make(map[string]Money)
	for _, e := range entries {
		if !e.Date.In(month) {
			continue
		}
		key := e.Date.String()
		totals[key] = totals[key].Add(e.Amount)
	}
	return totals
}

// MonthlyTotals sums amounts per calendar month across the full entry set,
// keyed by YYYY-MM. Used for trend charts, independent of the current-month
// window.
func MonthlyTotals(entries []Entry) map[string]Money {
	totals := make(map[string]Money)
	for _, e := range entries {
		key := e.Date.MonthKey()
		totals[key] = totals[key].Add(e.Amount)
	}
	return totals
}

// MonthComparison returns the total for month, the total for the
// immediately preceding month, and the percent change between them. The
// percent change is 0 when the previous month has no spend, never infinite.
func MonthComparison(entries []Entry, month Month) (current, previous Money, percentChange float64) {
	prev := month.Previous()
	for _, e := range entries {
		switch {
		case e.Date.In(month):
			current = current.Add(e.Amount)
		case e.Date.In(prev):
			previous = previous.Add(e.Amount)
		}
	}
	if previous.Cents != 0 {
		percentChange = float64(current.Cents-previous.Cents) / float64(previous.Cents) * 100
	}
	return current, previous, percentChange
}

// ComputeAnalytics derives the full analytics response from an entry
// snapshot. It deduplicates first, so callers may hand it the raw store
// state. The categories argument is the registry's ordered name list; when
// nil, the distinct category names found in the entries are used, sorted.
func ComputeAnalytics(entries []Entry, categories []string, month Month) Analytics {
	entries = Deduplicate(entries)

	current, previous, pct := MonthComparison(entries, month)

	if categories == nil {
		seen := make(map[string]bool)
		for _, e := range entries {
			if !seen[e.Category] {
				seen[e.Category] = true
				categories = append(categories, e.Category)
			}
		}
		sort.Strings(categories)
	}

	return Analytics{
		CategoryTotals:     CategoryTotals(entries, month),
		MonthlyTotals:      MonthlyTotals(entries),
		DailyTotals:        DailyTotals(entries, month),
		CurrentMonthTotal:  current,
		PreviousMonthTotal: previous,
		PercentChange:      pct,
		Categories:         categories,
	}
}
