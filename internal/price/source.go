package price

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/sources"
)

// ErrNoPrice is returned by a source that has no price for a token.
var ErrNoPrice = errors.New("no price")

// Source resolves a USD price for a token.
type Source interface {
	// Name identifies the source in logs, metrics and ValidatedPrice.Sources.
	Name() string

	// Verified reports whether a lone answer from this source is credible
	// enough for CAUTION rather than UNTRUSTED.
	Verified() bool

	// Price returns the USD price, or an error if unavailable.
	Price(ctx context.Context, token domain.TokenRef) (decimal.Decimal, error)
}

// HTTPSource reads a price from a JSON API. The value at JSONPath may be a
// number or a numeric string.
type HTTPSource struct {
	name     string
	verified bool
	jsonPath string
	fetcher  *sources.Fetcher
}

// NewHTTPSource creates an HTTP price source.
func NewHTTPSource(name, urlTemplate, jsonPath string, verified bool, opts ...sources.FetcherOption) *HTTPSource {
	return &HTTPSource{
		name:     name,
		verified: verified,
		jsonPath: jsonPath,
		fetcher:  sources.NewFetcher(urlTemplate, opts...),
	}
}

// Name implements Source.
func (s *HTTPSource) Name() string { return s.name }

// Verified implements Source.
func (s *HTTPSource) Verified() bool { return s.verified }

// Price implements Source.
func (s *HTTPSource) Price(ctx context.Context, token domain.TokenRef) (decimal.Decimal, error) {
	body, err := s.fetcher.Get(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}

	res := gjson.GetBytes(body, s.jsonPath)
	if !res.Exists() {
		return decimal.Zero, fmt.Errorf("%w: %s missing in response", ErrNoPrice, s.jsonPath)
	}

	p, err := decimal.NewFromString(strings.TrimSpace(res.String()))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", res.String(), err)
	}
	return p, nil
}

// StablePegSource prices each chain's intermediate stable asset at $1.
// It knows nothing else.
type StablePegSource struct{}

// Name implements Source.
func (StablePegSource) Name() string { return "stable-peg" }

// Verified implements Source.
func (StablePegSource) Verified() bool { return true }

// Price implements Source.
func (StablePegSource) Price(_ context.Context, token domain.TokenRef) (decimal.Decimal, error) {
	if domain.SameToken(token.Address, token.Chain.Info().StableAddress) {
		return decimal.NewFromInt(1), nil
	}
	return decimal.Zero, ErrNoPrice
}

// StaticSource serves fixed prices keyed by domain.TokenKey. Useful for
// pinned assets and tests.
type StaticSource struct {
	name     string
	verified bool
	prices   map[string]decimal.Decimal
}

// NewStaticSource creates a static source.
func NewStaticSource(name string, verified bool, prices map[string]decimal.Decimal) *StaticSource {
	cp := make(map[string]decimal.Decimal, len(prices))
	for k, v := range prices {
		cp[k] = v
	}
	return &StaticSource{name: name, verified: verified, prices: cp}
}

// Name implements Source.
func (s *StaticSource) Name() string { return s.name }

// Verified implements Source.
func (s *StaticSource) Verified() bool { return s.verified }

// Price implements Source.
func (s *StaticSource) Price(_ context.Context, token domain.TokenRef) (decimal.Decimal, error) {
	p, ok := s.prices[token.Key()]
	if !ok {
		return decimal.Zero, ErrNoPrice
	}
	return p, nil
}

var (
	_ Source = (*HTTPSource)(nil)
	_ Source = StablePegSource{}
	_ Source = (*StaticSource)(nil)
)
