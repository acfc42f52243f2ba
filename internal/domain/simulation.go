package domain

import "math/big"

// StateChange is one storage or balance change observed during simulation.
type StateChange struct {
	Address string `json:"address"`
	Key     string `json:"key,omitempty"`
	Before  string `json:"before,omitempty"`
	After   string `json:"after,omitempty"`
}

// SimulationResult is a hypothetical execution outcome. Only cached, never persisted.
type SimulationResult struct {
	Success      bool          `json:"success"`
	OutputAmount *big.Int      `json:"outputAmount"` // raw units
	RevertReason *string       `json:"revertReason,omitempty"`
	StateChanges []StateChange `json:"stateChanges,omitempty"`
}

// TransferSimulation describes a token transfer to simulate.
type TransferSimulation struct {
	Token  TokenRef
	From   string
	To     string
	Amount *big.Int
}

// SwapSimulation describes an aggregator swap to simulate.
type SwapSimulation struct {
	Chain      Chain
	From       string
	Aggregator string
	Calldata   []byte
	Value      *big.Int
}
