package model

// Pool is the stored state of one vault pool. Balances are internal units.
type Pool struct {
	PoolID            string   `json:"pool_id"`
	Address           string   `json:"address"`
	Specialization    uint16   `json:"specialization"`
	Tokens            []string `json:"tokens"`
	Decimals          []uint8  `json:"decimals"`
	Balances          []string `json:"balances"`
	SwapFeePercentage string   `json:"swap_fee_percentage"`
	LastChangeBlock   uint64   `json:"last_change_block"`
	Paused            bool     `json:"paused"`
}
