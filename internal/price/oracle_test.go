package price

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dust-sweeper/internal/cache"
	"dust-sweeper/internal/domain"
)

var testToken = domain.TokenRef{
	Chain:    domain.ChainBase,
	Address:  "0x4200000000000000000000000000000000000042",
	Symbol:   "TEST",
	Decimals: 18,
}

type fakeSource struct {
	name     string
	verified bool
	price    string
	err      error
	delay    time.Duration
	calls    atomic.Int32
}

func (f *fakeSource) Name() string   { return f.name }
func (f *fakeSource) Verified() bool { return f.verified }

func (f *fakeSource) Price(ctx context.Context, _ domain.TokenRef) (decimal.Decimal, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		}
	}
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return decimal.RequireFromString(f.price), nil
}

func src(name, price string) *fakeSource {
	return &fakeSource{name: name, price: price}
}

func TestOracle_Consensus(t *testing.T) {
	tests := []struct {
		name      string
		sources   []Source
		wantConf  domain.Confidence
		wantPrice string
		wantCount int
	}{
		{
			name:      "two agreeing sources",
			sources:   []Source{src("a", "1.00"), src("b", "1.02")},
			wantConf:  domain.ConfidenceTrusted,
			wantPrice: "1.01",
			wantCount: 2,
		},
		{
			name:      "three sources one outlier",
			sources:   []Source{src("a", "1.00"), src("b", "1.01"), src("c", "2.00")},
			wantConf:  domain.ConfidenceCaution,
			wantPrice: "1.005",
			wantCount: 3,
		},
		{
			name:      "two disagreeing sources",
			sources:   []Source{src("a", "1.00"), src("b", "1.50")},
			wantConf:  domain.ConfidenceUntrusted,
			wantPrice: "1.25",
			wantCount: 2,
		},
		{
			name:      "single unverified source",
			sources:   []Source{src("a", "0.5")},
			wantConf:  domain.ConfidenceUntrusted,
			wantPrice: "0.5",
			wantCount: 1,
		},
		{
			name:      "single verified source",
			sources:   []Source{&fakeSource{name: "oracle", verified: true, price: "0.5"}},
			wantConf:  domain.ConfidenceCaution,
			wantPrice: "0.5",
			wantCount: 1,
		},
		{
			name:      "all sources fail",
			sources:   []Source{&fakeSource{name: "a", err: errors.New("down")}, &fakeSource{name: "b", err: ErrNoPrice}},
			wantConf:  domain.ConfidenceUntrusted,
			wantPrice: "0",
			wantCount: 0,
		},
		{
			name:      "zero price ignored",
			sources:   []Source{src("a", "0"), src("b", "2"), src("c", "2")},
			wantConf:  domain.ConfidenceTrusted,
			wantPrice: "2",
			wantCount: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOracle(Options{Sources: tt.sources})

			vp, err := o.GetValidatedPrice(context.Background(), testToken)
			if err != nil {
				t.Fatalf("GetValidatedPrice: %v", err)
			}
			if vp.Confidence != tt.wantConf {
				t.Errorf("confidence = %s, want %s", vp.Confidence, tt.wantConf)
			}
			if !vp.Price.Equal(decimal.RequireFromString(tt.wantPrice)) {
				t.Errorf("price = %s, want %s", vp.Price, tt.wantPrice)
			}
			if vp.SourceCount != tt.wantCount {
				t.Errorf("source count = %d, want %d", vp.SourceCount, tt.wantCount)
			}
		})
	}
}

func TestOracle_InvalidInput(t *testing.T) {
	o := NewOracle(Options{Sources: []Source{src("a", "1")}})

	_, err := o.GetValidatedPrice(context.Background(), domain.TokenRef{Chain: domain.ChainBase, Address: "0x12"})
	if !errors.Is(err, domain.ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}

	_, err = o.GetValidatedPrice(context.Background(), domain.TokenRef{Chain: 0, Address: testToken.Address})
	if !errors.Is(err, domain.ErrUnsupportedChain) {
		t.Errorf("expected ErrUnsupportedChain, got %v", err)
	}
}

func TestOracle_SlowSourceTimesOut(t *testing.T) {
	slow := &fakeSource{name: "slow", price: "9", delay: time.Second}
	cfg := DefaultConfig()
	cfg.SourceTimeout = 20 * time.Millisecond

	o := NewOracle(Options{
		Sources: []Source{src("a", "1.00"), src("b", "1.00"), slow},
		Config:  &cfg,
	})

	start := time.Now()
	vp, err := o.GetValidatedPrice(context.Background(), testToken)
	if err != nil {
		t.Fatalf("GetValidatedPrice: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("oracle waited %v for a timed out source", elapsed)
	}
	if vp.Confidence != domain.ConfidenceTrusted || vp.SourceCount != 2 {
		t.Errorf("got %s with %d sources, want TRUSTED with 2", vp.Confidence, vp.SourceCount)
	}
}

func TestOracle_CachesOnlyUsablePrices(t *testing.T) {
	c := cache.NewMemoryCache()
	good := src("a", "1.00")
	good2 := src("b", "1.00")

	o := NewOracle(Options{Sources: []Source{good, good2}, Cache: c})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := o.GetValidatedPrice(ctx, testToken); err != nil {
			t.Fatalf("GetValidatedPrice: %v", err)
		}
	}
	if n := good.calls.Load(); n != 1 {
		t.Errorf("source called %d times, want 1 (cached)", n)
	}

	failing := &fakeSource{name: "a", err: errors.New("down")}
	o2 := NewOracle(Options{Sources: []Source{failing}, Cache: cache.NewMemoryCache()})
	for i := 0; i < 2; i++ {
		vp, _ := o2.GetValidatedPrice(ctx, testToken)
		if vp.Confidence != domain.ConfidenceUntrusted {
			t.Fatalf("confidence = %s", vp.Confidence)
		}
	}
	if n := failing.calls.Load(); n != 2 {
		t.Errorf("untrusted result was cached: calls = %d", n)
	}
}

func TestStablePegSource(t *testing.T) {
	usdc := domain.TokenRef{Chain: domain.ChainBase, Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"}

	p, err := StablePegSource{}.Price(context.Background(), usdc)
	if err != nil || !p.Equal(decimal.NewFromInt(1)) {
		t.Errorf("stable price = %s, err = %v", p, err)
	}

	if _, err := (StablePegSource{}).Price(context.Background(), testToken); !errors.Is(err, ErrNoPrice) {
		t.Errorf("expected ErrNoPrice, got %v", err)
	}
}

func TestHTTPSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/base/0x4200000000000000000000000000000000000042":
			w.Write([]byte(`{"pairs":[{"priceUsd":"0.0123"}]}`))
		default:
			w.Write([]byte(`{"pairs":[]}`))
		}
	}))
	defer server.Close()

	s := NewHTTPSource("dex", server.URL+"/{chain}/{address}", "pairs.0.priceUsd", false)

	p, err := s.Price(context.Background(), testToken)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !p.Equal(decimal.RequireFromString("0.0123")) {
		t.Errorf("price = %s", p)
	}

	other := testToken
	other.Address = "0x4200000000000000000000000000000000000006"
	if _, err := s.Price(context.Background(), other); !errors.Is(err, ErrNoPrice) {
		t.Errorf("expected ErrNoPrice, got %v", err)
	}
}
