package indexer

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"arbScope/internal/model"
)

// ParseAddress converts a hex string into common.Address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %s", input)
	}
	return common.HexToAddress(input), nil
}

// ParseAddresses converts string addresses into common.Address.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		if strings.TrimSpace(input) == "" {
			continue
		}
		address, err := ParseAddress(input)
		if err != nil {
			return nil, err
		}
		addresses = append(addresses, address)
	}
	return addresses, nil
}

// ParseKind normalizes a configured pool kind.
func ParseKind(input string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "v2", "uniswapv2", "product":
		return model.PoolKindV2, nil
	case "v3", "uniswapv3", "concentrated":
		return model.PoolKindV3, nil
	case "solidly", "aerodrome", "velodrome":
		return model.PoolKindSolidly, nil
	case "":
		return "", nil
	default:
		return "", fmt.Errorf("unknown pool kind: %s", input)
	}
}
