package domain

import "testing"

func TestQuote_ActiveAt(t *testing.T) {
	q := &Quote{CreatedAt: 1_000, ExpiresAt: 61_000}

	tests := []struct {
		name string
		now  int64
		want bool
	}{
		{"before creation", 999, false},
		{"at creation", 1_000, true},
		{"within ttl", 30_000, true},
		{"just before expiry", 60_999, true},
		{"at expiry", 61_000, false},
		{"after expiry", 90_000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := q.ActiveAt(tt.now); got != tt.want {
				t.Errorf("ActiveAt(%d) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}
