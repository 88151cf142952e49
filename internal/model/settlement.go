package model

// SettlementRecord is one settlement request read from JSONL. Amounts are
// decimal strings in native token units.
//
// Op is one of init, join, exit, swap_given_in, swap_given_out or apply.
// Swaps fix Amount on one side and take the priced counterpart from Quoted.
type SettlementRecord struct {
	ID                 string   `json:"id,omitempty"`
	Pool               string   `json:"pool"`
	Op                 string   `json:"op"`
	Amounts            []string `json:"amounts,omitempty"`
	Amount             string   `json:"amount,omitempty"`
	Quoted             string   `json:"quoted,omitempty"`
	TokenIn            string   `json:"token_in,omitempty"`
	TokenOut           string   `json:"token_out,omitempty"`
	ShareAmountIn      string   `json:"share_amount_in,omitempty"`
	ProtocolFeeAmounts []string `json:"protocol_fee_amounts,omitempty"`
	Sender             string   `json:"sender,omitempty"`
	Recipient          string   `json:"recipient,omitempty"`
	// LastChangeBlock is the pool counter the request was priced at. Nil skips the stale check.
	LastChangeBlock *uint64 `json:"last_change_block,omitempty"`
}

// ReceiptRecord is an accepted settlement. Internal amounts are 18-decimal
// fixed point; raw amounts are in native token units. The ledger drains swap
// protocol fees in whole native units, so raw fees convert back exactly.
type ReceiptRecord struct {
	RequestID          string   `json:"request_id,omitempty"`
	PoolID             string   `json:"pool_id"`
	Kind               string   `json:"kind"`
	Sender             string   `json:"sender,omitempty"`
	Recipient          string   `json:"recipient,omitempty"`
	Tokens             []string `json:"tokens"`
	Deltas             []string `json:"deltas"`
	RawDeltas          []string `json:"raw_deltas"`
	ProtocolFeeAmounts []string `json:"protocol_fee_amounts"`
	RawProtocolFees    []string `json:"raw_protocol_fee_amounts"`
	LastChangeBlock    uint64   `json:"last_change_block"`
	TokenIn            string   `json:"token_in,omitempty"`
	TokenOut           string   `json:"token_out,omitempty"`
	AmountIn           string   `json:"amount_in,omitempty"`
	AmountOut          string   `json:"amount_out,omitempty"`
	BlockNumber        uint64   `json:"block_number,omitempty"`
	TxHash             string   `json:"tx_hash,omitempty"`
	LogIndex           uint64   `json:"log_index,omitempty"`
}

// Rejection records a settlement or log that could not be applied.
type Rejection struct {
	RequestID   string `json:"request_id,omitempty"`
	Pool        string `json:"pool,omitempty"`
	Op          string `json:"op,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	TxHash      string `json:"tx_hash,omitempty"`
	LogIndex    uint64 `json:"log_index,omitempty"`
	Topic0      string `json:"topic0,omitempty"`
	Error       string `json:"error"`
}
