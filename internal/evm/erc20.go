package evm

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"dust-sweeper/internal/domain"
)

var (
	// TransferEventTopic is topic0 of the ERC-20 Transfer event.
	TransferEventTopic = strings.ToLower(crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")).Hex())

	transferSelector = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
)

// Transfer is a decoded ERC-20 Transfer event.
type Transfer struct {
	Token  string
	From   string
	To     string
	Amount *big.Int
}

// TransferCalldata encodes transfer(to, amount).
func TransferCalldata(to string, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(to).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

// AddressTopic returns the 32-byte topic form of an address, for log filters.
func AddressTopic(addr string) string {
	return strings.ToLower(common.BytesToHash(common.HexToAddress(addr).Bytes()).Hex())
}

// DecodeTransfer decodes l as an ERC-20 Transfer. Returns false for any
// other event, including ERC-721 transfers whose amount is indexed.
func DecodeTransfer(l Log) (*Transfer, bool) {
	if len(l.Topics) != 3 || !strings.EqualFold(l.Topics[0], TransferEventTopic) || len(l.Data) != 32 {
		return nil, false
	}
	return &Transfer{
		Token:  domain.NormalizeAddress(l.Address),
		From:   topicAddress(l.Topics[1]),
		To:     topicAddress(l.Topics[2]),
		Amount: new(big.Int).SetBytes(l.Data),
	}, true
}

func topicAddress(topic string) string {
	return domain.NormalizeAddress(common.HexToAddress(topic).Hex())
}
