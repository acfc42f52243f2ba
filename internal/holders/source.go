package holders

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/tidwall/gjson"

	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/sources"
)

// Source returns the largest holders of a token.
type Source interface {
	Name() string

	// Holders returns up to limit holder records, largest first when the
	// source can sort.
	Holders(ctx context.Context, token domain.TokenRef, limit int) (*domain.HolderSnapshot, error)
}

// ResponseLayout maps a JSON holder response onto HolderSnapshot.
// Paths use gjson syntax.
type ResponseLayout struct {
	ListPath        string // array of holders
	AddressField    string
	BalanceField    string
	PercentageField string // optional
	CountPath       string // optional total holder count
	SupplyPath      string // optional total supply in raw units
}

// DefaultLayout matches the common explorer shape
// {"holderCount": N, "totalSupply": "...", "holders": [{"address","balance","percentage"}]}.
func DefaultLayout() ResponseLayout {
	return ResponseLayout{
		ListPath:        "holders",
		AddressField:    "address",
		BalanceField:    "balance",
		PercentageField: "percentage",
		CountPath:       "holderCount",
		SupplyPath:      "totalSupply",
	}
}

// HTTPSource reads holders from a JSON API.
type HTTPSource struct {
	name    string
	layout  ResponseLayout
	fetcher *sources.Fetcher
}

// NewHTTPSource creates an HTTP holder source. The URL template may use
// {chain}, {chain_id} and {address}. Records beyond limit are dropped.
func NewHTTPSource(name, urlTemplate string, layout ResponseLayout, opts ...sources.FetcherOption) *HTTPSource {
	return &HTTPSource{
		name:    name,
		layout:  layout,
		fetcher: sources.NewFetcher(urlTemplate, opts...),
	}
}

// Name implements Source.
func (s *HTTPSource) Name() string { return s.name }

// Holders implements Source.
func (s *HTTPSource) Holders(ctx context.Context, token domain.TokenRef, limit int) (*domain.HolderSnapshot, error) {
	body, err := s.fetcher.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	return parseHolders(body, s.layout, limit)
}

func parseHolders(body []byte, layout ResponseLayout, limit int) (*domain.HolderSnapshot, error) {
	list := gjson.GetBytes(body, layout.ListPath)
	if !list.IsArray() {
		return nil, fmt.Errorf("holder list %q missing", layout.ListPath)
	}

	snap := &domain.HolderSnapshot{}
	for _, item := range list.Array() {
		if limit > 0 && len(snap.Holders) >= limit {
			break
		}
		addr := item.Get(layout.AddressField).String()
		bal, ok := new(big.Int).SetString(strings.TrimSpace(item.Get(layout.BalanceField).String()), 10)
		if addr == "" || !ok || bal.Sign() < 0 {
			return nil, fmt.Errorf("malformed holder record: %s", item.Raw)
		}
		rec := domain.HolderRecord{Address: addr, Balance: bal}
		if layout.PercentageField != "" {
			if p := item.Get(layout.PercentageField); p.Exists() {
				v := p.Float()
				rec.Percentage = &v
			}
		}
		snap.Holders = append(snap.Holders, rec)
	}

	if layout.CountPath != "" {
		snap.HolderCount = int(gjson.GetBytes(body, layout.CountPath).Int())
	}
	if layout.SupplyPath != "" {
		if raw := gjson.GetBytes(body, layout.SupplyPath); raw.Exists() {
			if supply, ok := new(big.Int).SetString(raw.String(), 10); ok && supply.Sign() > 0 {
				snap.TotalSupply = supply
			}
		}
	}
	return snap, nil
}

var _ Source = (*HTTPSource)(nil)
