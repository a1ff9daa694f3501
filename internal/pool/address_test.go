package pool

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	uniswapV2Factory = Create2Deployer{
		Factory:      common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"),
		InitCodeHash: common.HexToHash("0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f"),
	}
	uniswapV3Factory = Create2Deployer{
		Factory:      common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984"),
		InitCodeHash: common.HexToHash("0xe34f199b19b2b4f47f68442619d555527d244f78a3297ea89325f843f87b8b54"),
	}
)

func TestCreate2ProductPair(t *testing.T) {
	p := newV2(t)
	got, err := uniswapV2Factory.DeriveAddress(p)
	if err != nil || got != v2Pair {
		t.Fatalf("derived address mismatch: %s %v", got.Hex(), err)
	}
	if err := VerifyAddress(p, uniswapV2Factory); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// Swapping the token order moves the pair.
	flipped, err := NewProductPool(ProductPoolConfig{
		Address: v2Pair, Token0: weth, Token1: wbtc,
		Reserve0: big.NewInt(1), Reserve1: big.NewInt(1),
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	var mismatch *AddressMismatchError
	if err := VerifyAddress(flipped, uniswapV2Factory); !errors.As(err, &mismatch) || mismatch.Pool != v2Pair {
		t.Fatalf("expected address mismatch, got %v", err)
	}
}

func TestCreate2ConcentratedPool(t *testing.T) {
	p := loadV3(t, SnapshotOptions{})
	want := common.HexToAddress("0xCBCdF9626bC03E24f779434178A73a0B4bad62eD")
	got, err := uniswapV3Factory.DeriveAddress(p)
	if err != nil || got != want || p.Address() != want {
		t.Fatalf("derived address mismatch: %s %v", got.Hex(), err)
	}
}

func TestCreate2SolidlyClone(t *testing.T) {
	baseWETH := common.HexToAddress("0x4200000000000000000000000000000000000006")
	baseUSDC := common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	deployer := Create2Deployer{
		Factory:      common.HexToAddress("0x420DD381b31aEf6683db6B902084cB0FFECe40Da"),
		InitCodeHash: CloneInitCodeHash(common.HexToAddress("0xA4e46b4f701c62e14DF11B48dCe76A7d793CD6d7")),
	}
	if deployer.InitCodeHash != common.HexToHash("0x6f178972b07752b522a4da1c5b71af6524e8b0bd6027ccb29e5312b0e5bcdc3c") {
		t.Fatalf("clone init code hash mismatch: %s", deployer.InitCodeHash.Hex())
	}

	for _, tc := range []struct {
		stable bool
		want   common.Address
	}{
		{false, common.HexToAddress("0xcDAC0d6c6C59727a65F871236188350531885C43")},
		{true, common.HexToAddress("0x3548029694fbb241d45fb24ba0cd9c9d4e745f16")},
	} {
		p, err := NewSolidlyPool(SolidlyPoolConfig{
			Address: tc.want, Token0: baseWETH, Token1: baseUSDC, Stable: tc.stable,
			Decimals0: 18, Decimals1: 6, Reserve0: big.NewInt(1), Reserve1: big.NewInt(1),
		})
		if err != nil {
			t.Fatalf("new pool: %v", err)
		}
		if err := VerifyAddress(p, deployer); err != nil {
			t.Fatalf("stable=%v verify mismatch: %v", tc.stable, err)
		}
	}
}
