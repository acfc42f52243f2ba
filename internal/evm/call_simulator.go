package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"dust-sweeper/internal/domain"
)

// CallSimulator simulates transfers and swaps with read-only eth_call.
// A read-only call cannot observe balance deltas, so transfer simulation
// reports the full amount as received and never detects a tax.
type CallSimulator struct {
	clients map[domain.Chain]RPCClient
}

// NewCallSimulator creates a simulator with one RPC client per chain.
func NewCallSimulator(clients map[domain.Chain]RPCClient) *CallSimulator {
	return &CallSimulator{clients: clients}
}

// Name identifies the backend in logs and metrics.
func (s *CallSimulator) Name() string { return "eth_call" }

// SimulateTransfer calls transfer(to, amount) on the token from the holder.
func (s *CallSimulator) SimulateTransfer(ctx context.Context, sim domain.TransferSimulation) (*domain.SimulationResult, error) {
	client, err := s.client(sim.Token.Chain)
	if err != nil {
		return nil, err
	}

	_, err = client.Call(ctx, CallMsg{
		From: sim.From,
		To:   sim.Token.Address,
		Data: TransferCalldata(sim.To, sim.Amount),
	})
	if res, ok := reverted(err); ok {
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.SimulationResult{Success: true, OutputAmount: new(big.Int).Set(sim.Amount)}, nil
}

// SimulateSwap executes aggregator calldata and reads the output amount from
// the first return word.
func (s *CallSimulator) SimulateSwap(ctx context.Context, sim domain.SwapSimulation) (*domain.SimulationResult, error) {
	client, err := s.client(sim.Chain)
	if err != nil {
		return nil, err
	}

	ret, err := client.Call(ctx, CallMsg{
		From:  sim.From,
		To:    sim.Aggregator,
		Data:  sim.Calldata,
		Value: sim.Value,
	})
	if res, ok := reverted(err); ok {
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	if len(ret) < 32 {
		return nil, fmt.Errorf("swap call returned %d bytes, want at least 32", len(ret))
	}
	return &domain.SimulationResult{Success: true, OutputAmount: bigFromWord(ret[:32])}, nil
}

func (s *CallSimulator) client(chain domain.Chain) (RPCClient, error) {
	c, ok := s.clients[chain]
	if !ok || c == nil {
		return nil, fmt.Errorf("%w: no rpc client for %s", domain.ErrUnsupportedChain, chain)
	}
	return c, nil
}

func reverted(err error) (*domain.SimulationResult, bool) {
	var revert *RevertError
	if !errors.As(err, &revert) {
		return nil, false
	}
	reason := revert.Error()
	return &domain.SimulationResult{
		Success:      false,
		OutputAmount: new(big.Int),
		RevertReason: &reason,
	}, true
}
