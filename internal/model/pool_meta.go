package model

// PoolMeta captures immutable pool metadata with optional live fields.
// Fee and TickSpacing are zero for constant product pairs. Stable is only
// meaningful for Solidly pools.
type PoolMeta struct {
	Kind        string     `json:"kind,omitempty"`
	Token0      string     `json:"token0"`
	Token1      string     `json:"token1"`
	Fee         uint32     `json:"fee"`
	TickSpacing int32      `json:"tick_spacing"`
	Stable      bool       `json:"stable,omitempty"`
	Liquidity   string     `json:"liquidity,omitempty"`
	Slot0       *PoolSlot0 `json:"slot0,omitempty"`
	Reserves    *Reserves  `json:"reserves,omitempty"`
}

// PoolSlot0 includes select slot0 fields.
type PoolSlot0 struct {
	SqrtPriceX96 string `json:"sqrt_price_x96"`
	Tick         int32  `json:"tick"`
}

// Reserves are the balances of a reserve priced pair.
type Reserves struct {
	Reserve0 string `json:"reserve0"`
	Reserve1 string `json:"reserve1"`
}
