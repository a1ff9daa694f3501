package model

// Pool kinds used in snapshots and stored records.
const (
	PoolKindV2      = "v2"
	PoolKindV3      = "v3"
	PoolKindSolidly = "solidly"
)

// PoolSnapshot is a self-contained pool state used for offline pricing.
// A snapshot without kind and with a sqrt price is a V3 pool.
type PoolSnapshot struct {
	Kind         string                      `json:"kind,omitempty"`
	Address      string                      `json:"address"`
	Token0       string                      `json:"token0"`
	Token1       string                      `json:"token1"`
	Block        uint64                      `json:"block,omitempty"`
	Fee          uint32                      `json:"fee,omitempty"`
	TickSpacing  int32                       `json:"tick_spacing,omitempty"`
	Reserve0     string                      `json:"reserve0,omitempty"`
	Reserve1     string                      `json:"reserve1,omitempty"`
	Stable       bool                        `json:"stable,omitempty"`
	Decimals0    uint8                       `json:"decimals0,omitempty"`
	Decimals1    uint8                       `json:"decimals1,omitempty"`
	Liquidity    string                      `json:"liquidity,omitempty"`
	SqrtPriceX96 string                      `json:"sqrt_price_x96,omitempty"`
	Tick         int32                       `json:"tick,omitempty"`
	Sparse       bool                        `json:"sparse,omitempty"`
	TickBitmap   map[string]string           `json:"tick_bitmap,omitempty"`
	TickData     map[string]PoolSnapshotTick `json:"tick_data,omitempty"`
}

// PoolSnapshotTick is the liquidity recorded at one initialized tick.
type PoolSnapshotTick struct {
	LiquidityNet   string `json:"liquidity_net"`
	LiquidityGross string `json:"liquidity_gross"`
}
