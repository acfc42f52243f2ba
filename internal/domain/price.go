package domain

import "github.com/shopspring/decimal"

// Confidence is the trust tier attached to a derived price.
type Confidence string

const (
	ConfidenceTrusted   Confidence = "TRUSTED"
	ConfidenceCaution   Confidence = "CAUTION"
	ConfidenceUntrusted Confidence = "UNTRUSTED"
)

// ValidatedPrice is a consensus USD price. Never mutated after creation.
type ValidatedPrice struct {
	Price       decimal.Decimal `json:"price"`
	Confidence  Confidence      `json:"confidence"`
	SourceCount int             `json:"sourceCount"`
	Sources     []string        `json:"sources,omitempty"`
	ComputedAt  int64           `json:"computedAt"` // ms
}

// PriceQuote is a single source's answer.
type PriceQuote struct {
	Price  decimal.Decimal
	Source string
}
