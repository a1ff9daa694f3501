package arbitrage

import (
	"math/big"

	"arbScope/internal/pool"
)

// productProgram is the two-hop constant product cycle reduced to its closed
// form. Composing two constant product swaps gives out(x) = x*N / (K + x*M), so
// profit out(x) - x peaks where K + x*M = sqrt(N*K). It is built per call
// from the states being priced.
type productProgram struct {
	n *big.Int
	k *big.Int
	m *big.Int
}

func newProductProgram(c *Cycle, states []pool.State) (*productProgram, error) {
	var (
		reserveIn  [2]*big.Int
		reserveOut [2]*big.Int
		fees       [2]pool.Fee
	)
	for i := 0; i < 2; i++ {
		h := c.hops[i]
		st, ok := states[i].(pool.V2State)
		if !ok {
			return nil, pool.ErrStateKind
		}
		fee, err := h.pool.(*pool.ProductPool).Fee(h.tokenIn)
		if err != nil {
			return nil, err
		}
		fees[i] = fee
		if h.zeroForOne {
			reserveIn[i], reserveOut[i] = st.Reserve0, st.Reserve1
		} else {
			reserveIn[i], reserveOut[i] = st.Reserve1, st.Reserve0
		}
	}

	retainedA := big.NewInt(fees[0].Denominator - fees[0].Numerator)
	retainedB := big.NewInt(fees[1].Denominator - fees[1].Numerator)
	denomA := big.NewInt(fees[0].Denominator)
	denomB := big.NewInt(fees[1].Denominator)

	n := new(big.Int).Mul(retainedA, retainedB)
	n.Mul(n, reserveOut[0]).Mul(n, reserveOut[1])

	k := new(big.Int).Mul(reserveIn[0], reserveIn[1])
	k.Mul(k, denomA).Mul(k, denomB)

	m := new(big.Int).Mul(reserveIn[1], denomB)
	m.Add(m, new(big.Int).Mul(retainedB, reserveOut[0]))
	m.Mul(m, retainedA)

	return &productProgram{n: n, k: k, m: m}, nil
}

// optimum returns the real-valued profit maximizer floored to an integer, or
// nil when no positive input is profitable.
func (p *productProgram) optimum() *big.Int {
	if p.m.Sign() == 0 {
		return nil
	}
	root := new(big.Int).Mul(p.n, p.k)
	root.Sqrt(root)
	if root.Cmp(p.k) <= 0 {
		return nil
	}
	x := root.Sub(root, p.k)
	return x.Quo(x, p.m)
}
