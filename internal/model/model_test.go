package model

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestNormalizeContractNaN(t *testing.T) {
	c := NormalizeContract(OptionContract{
		Strike:            150,
		Bid:               math.NaN(),
		Ask:               math.Inf(1),
		Volume:            -5,
		OpenInterest:      -1,
		ImpliedVolatility: math.NaN(),
		Expiration:        1700000000,
	})

	if c.Bid != 0 || c.Ask != 0 || c.ImpliedVolatility != 0 {
		t.Errorf("expected NaN/Inf fields coerced to 0, got bid=%v ask=%v iv=%v", c.Bid, c.Ask, c.ImpliedVolatility)
	}
	if c.Volume != 0 || c.OpenInterest != 0 {
		t.Errorf("expected negative counts coerced to 0, got volume=%d oi=%d", c.Volume, c.OpenInterest)
	}
	if c.Strike != 150 || c.Expiration != 1700000000 {
		t.Errorf("valid fields must pass through unchanged: %+v", c)
	}
}

func TestSafeInt(t *testing.T) {
	cases := []struct {
		in   float64
		want int64
	}{
		{math.NaN(), 0},
		{math.Inf(1), 0},
		{-3, 0},
		{42.9, 42},
		{0, 0},
	}
	for _, tc := range cases {
		if got := SafeInt(tc.in); got != tc.want {
			t.Errorf("SafeInt(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestNormalizedContractNeverEmitsNaN(t *testing.T) {
	c := NormalizeContract(OptionContract{Strike: 100, OpenInterest: 0, ImpliedVolatility: math.NaN()})

	b, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if strings.Contains(string(b), "NaN") {
		t.Errorf("output contains a NaN literal: %s", b)
	}
}

func TestEmptyResponseMarshalsEmptyArrays(t *testing.T) {
	resp := NewAggregatedResponse("yahoo_direct", 150.25, nil, nil)

	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"expirationDates":[]`) {
		t.Errorf("expirationDates must marshal as [], got %s", s)
	}
	if !strings.Contains(s, `"options":[]`) {
		t.Errorf("options must marshal as [], got %s", s)
	}
	if !strings.Contains(s, `"regularMarketPrice":150.25`) {
		t.Errorf("quote must be populated on degraded responses, got %s", s)
	}
}

func TestAggregatedResponseRoundTrip(t *testing.T) {
	in := NewAggregatedResponse("robinhood", 187.335,
		[]int64{1767139200, 1769817600},
		[]ExpirationGroup{
			{
				ExpirationDate: 1767139200,
				Calls: []OptionContract{
					{Strike: 185, Bid: 4.1, Ask: 4.35, Volume: 120, OpenInterest: 5043, ImpliedVolatility: 0.2513, Expiration: 1767139200},
					{Strike: 190, Bid: 1.95, Ask: 2.05, Volume: 88, OpenInterest: 3311, ImpliedVolatility: 0.2388, Expiration: 1767139200},
				},
			},
			{ExpirationDate: 1769817600, Calls: []OptionContract{}},
		})

	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var out AggregatedResponse
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	b2, err := json.Marshal(&out)
	if err != nil {
		t.Fatalf("re-marshal failed: %v", err)
	}
	if string(b) != string(b2) {
		t.Errorf("round trip changed the payload:\n first: %s\nsecond: %s", b, b2)
	}
}
