package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dust-sweeper/internal/domain"
)

var testToken = domain.TokenRef{Chain: domain.ChainBase, Address: "0x4200000000000000000000000000000000000042", Decimals: 18}

func TestCallSimulator_SimulateTransfer(t *testing.T) {
	rpc := &fakeRPC{callFn: func(CallMsg) ([]byte, error) {
		return common.LeftPadBytes([]byte{1}, 32), nil
	}}
	s := NewCallSimulator(map[domain.Chain]RPCClient{domain.ChainBase: rpc})

	res, err := s.SimulateTransfer(context.Background(), domain.TransferSimulation{
		Token:  testToken,
		From:   testWallet,
		To:     testTreasury,
		Amount: big.NewInt(1234),
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(1234), res.OutputAmount.Int64())

	require.Len(t, rpc.calls, 1)
	assert.Equal(t, testToken.Address, rpc.calls[0].To)
	assert.Equal(t, testWallet, rpc.calls[0].From)
	assert.Equal(t, TransferCalldata(testTreasury, big.NewInt(1234)), rpc.calls[0].Data)
}

func TestCallSimulator_Revert(t *testing.T) {
	rpc := &fakeRPC{callFn: func(CallMsg) ([]byte, error) {
		return nil, &RevertError{Reason: "TRANSFER_FAIL"}
	}}
	s := NewCallSimulator(map[domain.Chain]RPCClient{domain.ChainBase: rpc})

	res, err := s.SimulateTransfer(context.Background(), domain.TransferSimulation{
		Token: testToken, From: testWallet, To: testTreasury, Amount: big.NewInt(1),
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.NotNil(t, res.RevertReason)
	assert.Contains(t, *res.RevertReason, "TRANSFER_FAIL")
	assert.Equal(t, int64(0), res.OutputAmount.Int64())
}

func TestCallSimulator_TransportErrorPropagates(t *testing.T) {
	rpc := &fakeRPC{callFn: func(CallMsg) ([]byte, error) {
		return nil, errors.New("connection refused")
	}}
	s := NewCallSimulator(map[domain.Chain]RPCClient{domain.ChainBase: rpc})

	_, err := s.SimulateTransfer(context.Background(), domain.TransferSimulation{
		Token: testToken, From: testWallet, To: testTreasury, Amount: big.NewInt(1),
	})
	assert.Error(t, err)
}

func TestCallSimulator_SimulateSwap(t *testing.T) {
	rpc := &fakeRPC{callFn: func(msg CallMsg) ([]byte, error) {
		out := common.LeftPadBytes(big.NewInt(987_654).Bytes(), 32)
		return append(out, make([]byte, 32)...), nil
	}}
	s := NewCallSimulator(map[domain.Chain]RPCClient{domain.ChainBase: rpc})

	res, err := s.SimulateSwap(context.Background(), domain.SwapSimulation{
		Chain:      domain.ChainBase,
		From:       testWallet,
		Aggregator: "0x5555555555555555555555555555555555555555",
		Calldata:   []byte{0x12, 0x34},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(987_654), res.OutputAmount.Int64())
}

func TestCallSimulator_ShortSwapReturn(t *testing.T) {
	rpc := &fakeRPC{callFn: func(CallMsg) ([]byte, error) { return []byte{1}, nil }}
	s := NewCallSimulator(map[domain.Chain]RPCClient{domain.ChainBase: rpc})

	_, err := s.SimulateSwap(context.Background(), domain.SwapSimulation{Chain: domain.ChainBase})
	assert.Error(t, err)
}

func TestCallSimulator_UnknownChain(t *testing.T) {
	s := NewCallSimulator(nil)
	_, err := s.SimulateSwap(context.Background(), domain.SwapSimulation{Chain: domain.ChainSolana})
	assert.ErrorIs(t, err, domain.ErrUnsupportedChain)
}
