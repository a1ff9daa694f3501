package dex

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"arbScope/internal/model"
)

// DecoderConfig configures decoder behavior.
type DecoderConfig struct {
	// Topic0Map adds topic0 aliases for forks that rename events, keyed by topic0.
	Topic0Map map[string]string
}

// V3PoolDecoder decodes Uniswap V3 style pool events.
type V3PoolDecoder struct {
	poolABI     abi.ABI
	topicToName map[string]string
}

// NewV3PoolDecoder builds a V3 pool decoder.
func NewV3PoolDecoder(cfg DecoderConfig) (*V3PoolDecoder, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return nil, err
	}

	topicToName := make(map[string]string, 4+len(cfg.Topic0Map))
	for _, name := range []string{"Swap", "Mint", "Burn", "Collect"} {
		topicToName[topicKey(poolABI.Events[name].ID.Hex())] = name
	}
	for topic0, name := range cfg.Topic0Map {
		original := name
		if name = normalizeEventName(name); name == "" {
			return nil, fmt.Errorf("unsupported event name in topic0 map: %s", original)
		}
		if topic0 == "" {
			continue
		}
		topicToName[topicKey(topic0)] = name
	}

	return &V3PoolDecoder{poolABI: poolABI, topicToName: topicToName}, nil
}

// CanDecode checks if the topic0 is supported.
func (d *V3PoolDecoder) CanDecode(topic0 string) bool {
	_, ok := d.topicToName[topicKey(topic0)]
	return ok && topic0 != ""
}

// Decode converts a LogRecord into a TypedEvent.
func (d *V3PoolDecoder) Decode(log model.LogRecord, ctx DecodeContext) (*model.TypedEvent, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("missing topics")
	}
	name, ok := d.topicToName[topicKey(log.Topics[0])]
	if !ok {
		return nil, fmt.Errorf("unsupported topic0: %s", log.Topics[0])
	}
	if !common.IsHexAddress(log.Address) {
		return nil, fmt.Errorf("invalid pool address: %s", log.Address)
	}

	meta, err := getPoolMeta(ctx, common.HexToAddress(log.Address), model.PoolKindV3, log.BlockNumber)
	if err != nil {
		return nil, err
	}

	// Aliased topics may belong to an event with another signature; decode with the canonical one.
	event := d.poolABI.Events[name]
	fields, err := eventFields(event, log)
	if err != nil {
		return nil, err
	}

	var decoded interface{}
	switch name {
	case "Swap":
		decoded, err = decodeSwap(fields)
	case "Mint":
		decoded, err = decodeMint(fields)
	case "Burn":
		decoded, err = decodeBurn(fields)
	case "Collect":
		decoded, err = decodeCollect(fields)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return buildTypedEvent(log, name, decoded, meta), nil
}

func normalizeEventName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "swap":
		return "Swap"
	case "mint":
		return "Mint"
	case "burn":
		return "Burn"
	case "collect":
		return "Collect"
	default:
		return ""
	}
}

func decodeSwap(fields map[string]interface{}) (model.SwapEventData, error) {
	var out model.SwapEventData
	sender, err := addressField(fields, "sender")
	if err != nil {
		return out, err
	}
	recipient, err := addressField(fields, "recipient")
	if err != nil {
		return out, err
	}
	amount0, err := bigField(fields, "amount0")
	if err != nil {
		return out, err
	}
	amount1, err := bigField(fields, "amount1")
	if err != nil {
		return out, err
	}
	sqrtPrice, err := bigField(fields, "sqrtPriceX96")
	if err != nil {
		return out, err
	}
	liquidity, err := bigField(fields, "liquidity")
	if err != nil {
		return out, err
	}
	tick, err := tickField(fields, "tick")
	if err != nil {
		return out, err
	}

	return model.SwapEventData{
		Sender:       sender.Hex(),
		Recipient:    recipient.Hex(),
		Amount0:      amount0.String(),
		Amount1:      amount1.String(),
		SqrtPriceX96: sqrtPrice.String(),
		Liquidity:    liquidity.String(),
		Tick:         tick,
	}, nil
}

// positionFields reads the owner, range and amounts shared by Mint, Burn and Collect.
func positionFields(fields map[string]interface{}) (owner common.Address, lower, upper int32, amount0, amount1 string, err error) {
	if owner, err = addressField(fields, "owner"); err != nil {
		return
	}
	if lower, err = tickField(fields, "tickLower"); err != nil {
		return
	}
	if upper, err = tickField(fields, "tickUpper"); err != nil {
		return
	}
	a0, err := bigField(fields, "amount0")
	if err != nil {
		return
	}
	a1, err := bigField(fields, "amount1")
	if err != nil {
		return
	}
	return owner, lower, upper, a0.String(), a1.String(), nil
}

func decodeMint(fields map[string]interface{}) (model.MintEventData, error) {
	owner, lower, upper, amount0, amount1, err := positionFields(fields)
	if err != nil {
		return model.MintEventData{}, err
	}
	sender, err := addressField(fields, "sender")
	if err != nil {
		return model.MintEventData{}, err
	}
	amount, err := bigField(fields, "amount")
	if err != nil {
		return model.MintEventData{}, err
	}
	return model.MintEventData{
		Sender:    sender.Hex(),
		Owner:     owner.Hex(),
		TickLower: lower,
		TickUpper: upper,
		Amount:    amount.String(),
		Amount0:   amount0,
		Amount1:   amount1,
	}, nil
}

func decodeBurn(fields map[string]interface{}) (model.BurnEventData, error) {
	owner, lower, upper, amount0, amount1, err := positionFields(fields)
	if err != nil {
		return model.BurnEventData{}, err
	}
	amount, err := bigField(fields, "amount")
	if err != nil {
		return model.BurnEventData{}, err
	}
	return model.BurnEventData{
		Owner:     owner.Hex(),
		TickLower: lower,
		TickUpper: upper,
		Amount:    amount.String(),
		Amount0:   amount0,
		Amount1:   amount1,
	}, nil
}

func decodeCollect(fields map[string]interface{}) (model.CollectEventData, error) {
	owner, lower, upper, amount0, amount1, err := positionFields(fields)
	if err != nil {
		return model.CollectEventData{}, err
	}
	recipient, err := addressField(fields, "recipient")
	if err != nil {
		return model.CollectEventData{}, err
	}
	return model.CollectEventData{
		Owner:     owner.Hex(),
		Recipient: recipient.Hex(),
		TickLower: lower,
		TickUpper: upper,
		Amount0:   amount0,
		Amount1:   amount1,
	}, nil
}
