package core

import (
	"testing"
	"time"
)

func entry(id, cat string, date Date, cents int64, createdAt time.Time) Entry {
	return Entry{
		ID:        id,
		SheetID:   "s1",
		OwnerID:   "u1",
		Date:      date,
		Category:  cat,
		Amount:    Money{Cents: cents},
		CreatedAt: createdAt,
	}
}

func TestMonthPrevious(t *testing.T) {
	cases := []struct {
		in   Month
		want Month
	}{
		{Month{2024, time.February}, Month{2024, time.January}},
		{Month{2024, time.January}, Month{2023, time.December}},
	}
	for _, tc := range cases {
		if got := tc.in.Previous(); got != tc.want {
			t.Errorf("%v.Previous() = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseMonth(t *testing.T) {
	m, err := ParseMonth("2024-01")
	if err != nil {
		t.Fatalf("ParseMonth: %v", err)
	}
	if m.Year != 2024 || m.Month != time.January {
		t.Fatalf("ParseMonth = %+v", m)
	}
	if m.String() != "2024-01" {
		t.Fatalf("String() = %q", m.String())
	}
	if _, err := ParseMonth("2024-13"); err == nil {
		t.Fatal("expected error for month 13")
	}
}

func TestDeduplicateKeepsNewest(t *testing.T) {
	t1 := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	entries := []Entry{
		entry("a", "food", NewDate(2024, 1, 5), 10000, t1),
		entry("b", "food", NewDate(2024, 1, 5), 5000, t2),
		entry("c", "transport", NewDate(2024, 1, 6), 2500, t1),
	}
	got := Deduplicate(entries)
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	for _, e := range got {
		if e.Category == "food" && e.ID != "b" {
			t.Fatalf("kept %q for food cell, want b (newest)", e.ID)
		}
	}
}

func TestDeduplicateTieBreaksOnID(t *testing.T) {
	ts := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	entries := []Entry{
		entry("aaa", "food", NewDate(2024, 1, 5), 100, ts),
		entry("zzz", "food", NewDate(2024, 1, 5), 200, ts),
	}
	got := Deduplicate(entries)
	if len(got) != 1 || got[0].ID != "zzz" {
		t.Fatalf("got %+v, want single entry zzz", got)
	}
}

func TestDeduplicateNoDuplicatesUntouched(t *testing.T) {
	ts := time.Now()
	entries := []Entry{
		entry("a", "food", NewDate(2024, 1, 5), 100, ts),
		entry("b", "food", NewDate(2024, 1, 6), 200, ts),
	}
	got := Deduplicate(entries)
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
}

func TestAggregationAfterDedup(t *testing.T) {
	// An older duplicate of the food cell must not double-count.
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	entries := []Entry{
		entry("a", "food", NewDate(2024, 1, 5), 5000, t1), // superseded duplicate
		entry("b", "transport", NewDate(2024, 1, 6), 2500, t1),
		entry("c", "food", NewDate(2024, 1, 5), 10000, t2),
	}
	month := Month{2024, time.January}
	a := ComputeAnalytics(entries, nil, month)

	if got := a.CategoryTotals["food"].Cents; got != 10000 {
		t.Errorf("food total = %d, want 10000", got)
	}
	if got := a.CategoryTotals["transport"].Cents; got != 2500 {
		t.Errorf("transport total = %d, want 2500", got)
	}
	if a.CurrentMonthTotal.Cents != 12500 {
		t.Errorf("current month total = %d, want 12500", a.CurrentMonthTotal.Cents)
	}
	if got := a.DailyTotals["2024-01-05"].Cents; got != 10000 {
		t.Errorf("daily total 01-05 = %d, want 10000", got)
	}
	if got := a.MonthlyTotals["2024-01"].Cents; got != 12500 {
		t.Errorf("monthly total = %d, want 12500", got)
	}
}

func TestMonthComparison(t *testing.T) {
	jan := Month{2024, time.January}
	entries := []Entry{
		entry("a", "food", NewDate(2024, 1, 10), 10000, time.Now()),
		entry("b", "food", NewDate(2023, 12, 20), 8000, time.Now()),
	}
	current, previous, pct := MonthComparison(entries, jan)
	if current.Cents != 10000 || previous.Cents != 8000 {
		t.Fatalf("current=%d previous=%d", current.Cents, previous.Cents)
	}
	if pct != 25.0 {
		t.Fatalf("percentChange = %v, want 25.0", pct)
	}
}

func TestMonthComparisonZeroPrevious(t *testing.T) {
	jan := Month{2024, time.January}
	entries := []Entry{
		entry("a", "food", NewDate(2024, 1, 10), 10000, time.Now()),
	}
	_, previous, pct := MonthComparison(entries, jan)
	if previous.Cents != 0 {
		t.Fatalf("previous = %d, want 0", previous.Cents)
	}
	if pct != 0 {
		t.Fatalf("percentChange = %v, want 0 (not infinite)", pct)
	}
}

func TestMonthComparisonYearRollover(t *testing.T) {
	entries := []Entry{
		entry("a", "food", NewDate(2024, 1, 2), 100, time.Now()),
		entry("b", "food", NewDate(2023, 12, 31), 200, time.Now()),
	}
	_, previous, _ := MonthComparison(entries, Month{2024, time.January})
	if previous.Cents != 200 {
		t.Fatalf("previous = %d, want 200 (December of prior year)", previous.Cents)
	}
}

func TestComputeAnalyticsNegativeAmounts(t *testing.T) {
	// Refunds are negative and simply subtract.
	jan := Month{2024, time.January}
	entries := []Entry{
		entry("a", "shopping", NewDate(2024, 1, 3), 5000, time.Now()),
		entry("b", "shopping", NewDate(2024, 1, 4), -2000, time.Now()),
	}
	a := ComputeAnalytics(entries, []string{"shopping"}, jan)
	if a.CategoryTotals["shopping"].Cents != 3000 {
		t.Fatalf("shopping total = %d, want 3000", a.CategoryTotals["shopping"].Cents)
	}
}
