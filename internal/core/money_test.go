package core

import (
	"encoding/json"
	"testing"
)

func TestParseAmountToCents(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"12.34", 1234, false},
		{"12,34", 1234, false},
		{"42.50", 4250, false},
		{"0", 0, false},
		{"0.00", 0, false},
		{"-3,1", -310, false},
		{"-0.5", -50, false},
		{"+7", 700, false},
		{"12.345", 1235, false}, // half-up on the third decimal
		{"12.346", 1235, false},
		{"12.344", 1234, false},
		{"", 0, true},
		{"abc", 0, true},
		{"1.2.3", 0, true},
		{"12a", 0, true},
		{".", 0, true},
		{"99999999999999999999", 0, true}, // overflow
	}
	for _, tc := range cases {
		got, err := ParseAmountToCents(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseAmountToCents(%q) expected error, got %d", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAmountToCents(%q) unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseAmountToCents(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestMoneyString(t *testing.T) {
	cases := []struct {
		cents int64
		want  string
	}{
		{4250, "42.50"},
		{0, "0.00"},
		{-310, "-3.10"},
		{5, "0.05"},
		{100, "1.00"},
	}
	for _, tc := range cases {
		if got := (Money{Cents: tc.cents}).String(); got != tc.want {
			t.Errorf("Money{%d}.String() = %q, want %q", tc.cents, got, tc.want)
		}
	}
}

func TestMoneyJSONRoundTrip(t *testing.T) {
	in := Money{Cents: 1299}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != "12.99" {
		t.Fatalf("marshal = %s, want 12.99", b)
	}
	var out Money
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}
}

func TestMoneyAddStaysExact(t *testing.T) {
	// Many small additions must not drift the way binary floats would.
	var sum Money
	for i := 0; i < 1000; i++ {
		sum = sum.Add(Money{Cents: 10}) // 0.10 each
	}
	if sum.Cents != 100_00 {
		t.Fatalf("sum = %d cents, want 10000", sum.Cents)
	}
}
