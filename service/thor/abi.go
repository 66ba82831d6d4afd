package thor

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Function selectors for the ERC-20 style token contract.
var (
	transferSelector  = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
	balanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
)

// encodeBalanceOfCall builds the calldata for balanceOf(owner).
func encodeBalanceOfCall(owner common.Address) []byte {
	data := make([]byte, 0, 4+32)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
	return data
}

// encodeTransferCall builds the calldata for transfer(to, amount).
// The amount must fit in a uint256.
func encodeTransferCall(to common.Address, amount *big.Int) ([]byte, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("transfer amount must be non-negative")
	}
	if amount.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("transfer amount overflows uint256")
	}
	data := make([]byte, 0, 4+64)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data, nil
}

// decodeUint256 decodes a 32-byte ABI word into a big.Int.
// Returns nil for empty call results (unknown account).
func decodeUint256(data []byte) (*big.Int, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) != 32 {
		return nil, fmt.Errorf("expected 32-byte word, got %d bytes", len(data))
	}
	return new(big.Int).SetBytes(data), nil
}
