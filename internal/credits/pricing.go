package credits

import (
	"sort"
	"strings"
)

// DefaultPricing is the built-in endpoint price table, in cents.
func DefaultPricing() map[string]int64 {
	return map[string]int64{
		"POST /api/quote":     5,
		"GET /api/quote/{id}": 0,
	}
}

// PricingKey is the table key of a route: "<METHOD> <path template>",
// compared case-insensitively.
func PricingKey(method, route string) string {
	return strings.ToLower(strings.TrimSpace(method) + " " + strings.TrimSpace(route))
}

// Pricing maps endpoints to their cost in cents. Unlisted endpoints are free.
type Pricing struct {
	costs map[string]int64
}

// NewPricing builds a price table. Keys are "<METHOD> <path template>" in any case.
func NewPricing(table map[string]int64) *Pricing {
	costs := make(map[string]int64, len(table))
	for k, v := range table {
		method, route, ok := strings.Cut(strings.TrimSpace(k), " ")
		if !ok || v < 0 {
			continue
		}
		costs[PricingKey(method, route)] = v
	}
	return &Pricing{costs: costs}
}

// Cost returns the price of a route and whether it is listed.
func (p *Pricing) Cost(method, route string) (int64, bool) {
	c, ok := p.costs[PricingKey(method, route)]
	return c, ok
}

// EndpointPrice is one row of the published price table.
type EndpointPrice struct {
	Endpoint  string `json:"endpoint"`
	CostCents int64  `json:"costCents"`
}

// List returns the table sorted by endpoint, with upper-cased methods.
func (p *Pricing) List() []EndpointPrice {
	out := make([]EndpointPrice, 0, len(p.costs))
	for k, v := range p.costs {
		method, route, _ := strings.Cut(k, " ")
		out = append(out, EndpointPrice{Endpoint: strings.ToUpper(method) + " " + route, CostCents: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}
