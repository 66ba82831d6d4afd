package thor

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// BalanceSnapshot is a decoded token or energy balance at a point in time.
// A nil snapshot means the balance is unknown, which is distinct from zero.
type BalanceSnapshot struct {
	Address   common.Address `json:"address"`
	Raw       *big.Int       `json:"raw"`
	Display   string         `json:"display"` // scaled by decimals, 2 decimal places
	FetchedAt time.Time      `json:"fetched_at"`
}

// Receipt is the outcome record of a mined transaction.
// GetReceipt returns nil while the transaction is not yet mined; once a
// receipt exists its Reverted flag is stable across repeated lookups.
type Receipt struct {
	Reverted    bool           `json:"reverted"`
	GasUsed     uint64         `json:"gas_used"`
	GasPayer    common.Address `json:"gas_payer"`
	BlockID     string         `json:"block_id"`
	BlockNumber uint64         `json:"block_number"`
}

// TransferTx is the unsigned intent for a token transfer, handed to a Signer.
// The signer owns chain parameters (chain tag, block ref) and returns the
// raw signed transaction ready for submission.
type TransferTx struct {
	Token        common.Address `json:"token"`
	To           common.Address `json:"to"`
	Amount       *hexutil.Big   `json:"amount"`
	Data         hexutil.Bytes  `json:"data"`
	Gas          uint64         `json:"gas"`
	GasPriceCoef uint8          `json:"gasPriceCoef"`
	Expiration   uint32         `json:"expiration"`
	Nonce        uint64         `json:"nonce"`
}

// accountResponse is the node's account endpoint payload.
type accountResponse struct {
	Balance *hexutil.Big `json:"balance"`
	Energy  *hexutil.Big `json:"energy"`
	HasCode bool         `json:"hasCode"`
}

// callResponse is one output of the node's contract-call endpoint.
type callResponse struct {
	Data     hexutil.Bytes `json:"data"`
	Reverted bool          `json:"reverted"`
	VMError  string        `json:"vmError"`
	GasUsed  uint64        `json:"gasUsed"`
}

// receiptResponse is the node's transaction receipt payload.
type receiptResponse struct {
	GasUsed  uint64         `json:"gasUsed"`
	GasPayer common.Address `json:"gasPayer"`
	Reverted bool           `json:"reverted"`
	Meta     struct {
		BlockID     string `json:"blockID"`
		BlockNumber uint64 `json:"blockNumber"`
		BlockTime   uint64 `json:"blockTimestamp"`
	} `json:"meta"`
}
