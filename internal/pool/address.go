package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressDeriver computes the address a pool is deployed at.
type AddressDeriver interface {
	DeriveAddress(p Pool) (common.Address, error)
}

// Create2Deployer derives the addresses of pools a factory deploys with CREATE2.
type Create2Deployer struct {
	Factory      common.Address
	InitCodeHash common.Hash
}

// DeriveAddress returns the CREATE2 address of p under the factory.
func (d Create2Deployer) DeriveAddress(p Pool) (common.Address, error) {
	salt, err := Salt(p)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.CreateAddress2(d.Factory, salt, d.InitCodeHash.Bytes()), nil
}

var (
	clonePrefix = common.FromHex("0x3d602d80600a3d3981f3363d3d373d3d3d363d73")
	cloneSuffix = common.FromHex("0x5af43d82803e903d91602b57fd5bf3")
)

// CloneInitCodeHash is the init code hash of a minimal proxy to implementation,
// used by factories that deploy pools as clones.
func CloneInitCodeHash(implementation common.Address) common.Hash {
	return crypto.Keccak256Hash(clonePrefix, implementation.Bytes(), cloneSuffix)
}

var v3SaltArgs = func() abi.Arguments {
	address, _ := abi.NewType("address", "", nil)
	fee, _ := abi.NewType("uint24", "", nil)
	return abi.Arguments{{Type: address}, {Type: address}, {Type: fee}}
}()

// Salt returns the CREATE2 salt a factory uses for p: the packed token pair for
// constant product pairs, the pair and stable flag for Solidly pools and the
// ABI encoded pair and fee for concentrated pools.
func Salt(p Pool) ([32]byte, error) {
	token0, token1 := p.Token0(), p.Token1()
	switch typed := p.(type) {
	case *ProductPool:
		return crypto.Keccak256Hash(token0.Bytes(), token1.Bytes()), nil
	case *SolidlyPool:
		var stable byte
		if typed.stable {
			stable = 1
		}
		return crypto.Keccak256Hash(token0.Bytes(), token1.Bytes(), []byte{stable}), nil
	case *ConcentratedPool:
		encoded, err := v3SaltArgs.Pack(token0, token1, new(big.Int).SetUint64(uint64(typed.fee)))
		if err != nil {
			return [32]byte{}, fmt.Errorf("encode salt: %w", err)
		}
		return crypto.Keccak256Hash(encoded), nil
	default:
		return [32]byte{}, fmt.Errorf("no salt for %T", p)
	}
}

// AddressMismatchError reports a pool whose address is not the one its factory
// would deploy it at.
type AddressMismatchError struct {
	Pool    common.Address
	Derived common.Address
}

func (e *AddressMismatchError) Error() string {
	return fmt.Sprintf("pool %s: factory derives %s", e.Pool.Hex(), e.Derived.Hex())
}

// VerifyAddress checks that p sits at the address d derives for it.
func VerifyAddress(p Pool, d AddressDeriver) error {
	derived, err := d.DeriveAddress(p)
	if err != nil {
		return fmt.Errorf("pool %s: %w", p.Address().Hex(), err)
	}
	if derived != p.Address() {
		return &AddressMismatchError{Pool: p.Address(), Derived: derived}
	}
	return nil
}
