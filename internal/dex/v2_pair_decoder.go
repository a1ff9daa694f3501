package dex

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"arbScope/internal/model"
)

// V2PairDecoder decodes the Sync event of reserve priced pairs. Constant
// product pairs emit Sync(uint112,uint112) and Solidly pools Sync(uint256,uint256),
// so the topic also tells the pool kind.
type V2PairDecoder struct {
	events map[string]syncEvent
}

type syncEvent struct {
	event abi.Event
	kind  string
}

// NewV2PairDecoder builds a V2 pair decoder.
func NewV2PairDecoder() (*V2PairDecoder, error) {
	pairABI, err := V2PairABI()
	if err != nil {
		return nil, err
	}
	solidlyABI, err := SolidlyPoolABI()
	if err != nil {
		return nil, err
	}
	d := &V2PairDecoder{events: make(map[string]syncEvent, 2)}
	for _, e := range []syncEvent{
		{event: pairABI.Events["Sync"], kind: model.PoolKindV2},
		{event: solidlyABI.Events["Sync"], kind: model.PoolKindSolidly},
	} {
		d.events[topicKey(e.event.ID.Hex())] = e
	}
	return d, nil
}

func (d *V2PairDecoder) CanDecode(topic0 string) bool {
	_, ok := d.events[topicKey(topic0)]
	return ok
}

func (d *V2PairDecoder) Decode(log model.LogRecord, ctx DecodeContext) (*model.TypedEvent, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("unsupported log")
	}
	sync, ok := d.events[topicKey(log.Topics[0])]
	if !ok {
		return nil, fmt.Errorf("unsupported log")
	}
	if !common.IsHexAddress(log.Address) {
		return nil, fmt.Errorf("invalid pair address: %s", log.Address)
	}
	meta, err := getPoolMeta(ctx, common.HexToAddress(log.Address), sync.kind, log.BlockNumber)
	if err != nil {
		return nil, err
	}

	fields, err := eventFields(sync.event, log)
	if err != nil {
		return nil, err
	}
	reserve0, err := bigField(fields, "reserve0")
	if err != nil {
		return nil, err
	}
	reserve1, err := bigField(fields, "reserve1")
	if err != nil {
		return nil, err
	}

	return buildTypedEvent(log, "Sync", model.SyncEventData{
		Reserve0: reserve0.String(),
		Reserve1: reserve1.String(),
	}, meta), nil
}
