package model

import "math"

// OptionContract is one call contract in the canonical response shape.
// The JSON field set is fixed; the frontend depends on it byte for byte.
type OptionContract struct {
	Strike            float64 `json:"strike"`
	Bid               float64 `json:"bid"`
	Ask               float64 `json:"ask"`
	Volume            int64   `json:"volume"`
	OpenInterest      int64   `json:"openInterest"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
	Expiration        int64   `json:"expiration"`
}

// ExpirationGroup holds the call contracts published for one expiration,
// in provider-return order.
type ExpirationGroup struct {
	ExpirationDate int64            `json:"expirationDate"`
	Calls          []OptionContract `json:"calls"`
}

// Quote carries the underlying's market price.
type Quote struct {
	RegularMarketPrice float64 `json:"regularMarketPrice"`
}

// ChainResult is a single result entry inside the option chain envelope.
type ChainResult struct {
	Quote           Quote             `json:"quote"`
	ExpirationDates []int64           `json:"expirationDates"`
	Options         []ExpirationGroup `json:"options"`
}

// OptionChain is the envelope Yahoo-style consumers expect.
type OptionChain struct {
	Result []ChainResult `json:"result"`
}

// AggregatedResponse is the sole externally observable result type. Every
// provider path converges to it.
type AggregatedResponse struct {
	Source      string      `json:"source"`
	OptionChain OptionChain `json:"optionChain"`
}

// NewAggregatedResponse builds a response with non-nil collections so empty
// results marshal as [] rather than null.
func NewAggregatedResponse(source string, price float64, expirations []int64, groups []ExpirationGroup) *AggregatedResponse {
	if expirations == nil {
		expirations = []int64{}
	}
	if groups == nil {
		groups = []ExpirationGroup{}
	}
	return &AggregatedResponse{
		Source: source,
		OptionChain: OptionChain{
			Result: []ChainResult{
				{
					Quote:           Quote{RegularMarketPrice: price},
					ExpirationDates: expirations,
					Options:         groups,
				},
			},
		},
	}
}

// SafeFloat maps NaN and infinities to 0 so they never reach JSON output.
func SafeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// SafeInt converts a possibly-NaN float count to a non-negative integer.
func SafeInt(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return int64(f)
}

// NormalizeContract runs every numeric field through one coercion rule.
// All adapters funnel contracts through here before they leave the core.
func NormalizeContract(c OptionContract) OptionContract {
	c.Strike = SafeFloat(c.Strike)
	c.Bid = SafeFloat(c.Bid)
	c.Ask = SafeFloat(c.Ask)
	c.ImpliedVolatility = SafeFloat(c.ImpliedVolatility)
	if c.Volume < 0 {
		c.Volume = 0
	}
	if c.OpenInterest < 0 {
		c.OpenInterest = 0
	}
	return c
}

// NormalizeGroup normalizes each contract in a group.
func NormalizeGroup(g ExpirationGroup) ExpirationGroup {
	if g.Calls == nil {
		g.Calls = []OptionContract{}
	}
	for i := range g.Calls {
		g.Calls[i] = NormalizeContract(g.Calls[i])
	}
	return g
}
