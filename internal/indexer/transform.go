package indexer

import (
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"arbScope/internal/model"
)

func buildLogRecord(chainID uint64, log types.Log, timestamp uint64, ingestedAt time.Time) model.LogRecord {
	topics := make([]string, 0, len(log.Topics))
	for _, topic := range log.Topics {
		topics = append(topics, topic.Hex())
	}

	return model.LogRecord{
		ChainID:     chainID,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash.Hex(),
		TxHash:      log.TxHash.Hex(),
		TxIndex:     uint64(log.TxIndex),
		LogIndex:    uint64(log.Index),
		Address:     log.Address.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(log.Data),
		Removed:     log.Removed,
		Timestamp:   timestamp,
		IngestedAt:  ingestedAt.UTC().Format(time.RFC3339Nano),
	}
}

// orderLogs sorts logs by (block, log index) and drops repeated deliveries.
// Within a block every removal sorts ahead of the logs that replace it, so
// the rollback runs before any of them is applied.
func orderLogs(logs []types.Log) []types.Log {
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		if logs[i].Removed != logs[j].Removed {
			return logs[i].Removed
		}
		if logs[i].Index != logs[j].Index {
			return logs[i].Index < logs[j].Index
		}
		return false
	})

	out := logs[:0]
	for _, log := range logs {
		if n := len(out); n > 0 {
			prev := out[n-1]
			if prev.BlockNumber == log.BlockNumber && prev.Index == log.Index &&
				prev.TxHash == log.TxHash && prev.Removed == log.Removed {
				continue
			}
		}
		out = append(out, log)
	}
	return out
}
