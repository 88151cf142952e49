package model

// PoolRegisteredData is the decoded PoolRegistered payload.
type PoolRegisteredData struct {
	PoolID         string `json:"pool_id"`
	PoolAddress    string `json:"pool_address"`
	Specialization uint8  `json:"specialization"`
}

// TokensRegisteredData is the decoded TokensRegistered payload.
type TokensRegisteredData struct {
	PoolID        string   `json:"pool_id"`
	Tokens        []string `json:"tokens"`
	AssetManagers []string `json:"asset_managers"`
}

// PoolBalanceChangedData is the decoded PoolBalanceChanged payload.
// Deltas and fees are decimal strings in native token units.
type PoolBalanceChangedData struct {
	PoolID             string   `json:"pool_id"`
	LiquidityProvider  string   `json:"liquidity_provider"`
	Tokens             []string `json:"tokens"`
	Deltas             []string `json:"deltas"`
	ProtocolFeeAmounts []string `json:"protocol_fee_amounts"`
}

// SwapEventData is the decoded Swap payload.
type SwapEventData struct {
	PoolID    string `json:"pool_id"`
	TokenIn   string `json:"token_in"`
	TokenOut  string `json:"token_out"`
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out"`
}
