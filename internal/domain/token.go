package domain

// TokenRef identifies a token on a chain.
// Identity key is (chain, normalized address).
type TokenRef struct {
	Chain    Chain  `json:"chain"`
	Address  string `json:"address"`
	Symbol   string `json:"symbol,omitempty"`
	Decimals int    `json:"decimals"`
}

// Key returns the identity key used for caches and dedup.
func (t TokenRef) Key() string {
	return TokenKey(t.Chain, t.Address)
}

// Validate checks chain support and address syntax.
func (t TokenRef) Validate() error {
	return ValidateAddress(t.Chain, t.Address)
}

// TokenKey builds the identity key for (chain, address).
func TokenKey(chain Chain, address string) string {
	return chain.String() + ":" + NormalizeAddress(address)
}

// SameToken reports whether two addresses on the same chain are one token.
func SameToken(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}
