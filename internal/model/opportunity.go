package model

// Opportunity is a profitable cycle found at a block.
type Opportunity struct {
	ID           string           `json:"id"`
	ChainID      uint64           `json:"chain_id"`
	CycleID      string           `json:"cycle_id"`
	Block        uint64           `json:"block"`
	InputToken   string           `json:"input_token"`
	InputAmount  string           `json:"input_amount"`
	ProfitAmount string           `json:"profit_amount"`
	Profit       string           `json:"profit"` // ProfitAmount scaled by the token decimals
	Swaps        []OpportunityHop `json:"swaps"`
	FoundAt      string           `json:"found_at"`
}

// OpportunityHop is one swap of an opportunity.
type OpportunityHop struct {
	Pool              string    `json:"pool"`
	Kind              string    `json:"kind"`
	AmountsIn         [2]string `json:"amounts_in,omitempty"`
	AmountsOut        [2]string `json:"amounts_out,omitempty"`
	AmountSpecified   string    `json:"amount_specified,omitempty"`
	ZeroForOne        bool      `json:"zero_for_one"`
	SqrtPriceLimitX96 string    `json:"sqrt_price_limit_x96,omitempty"`
}
