package storage

import (
	"context"

	"arbScope/internal/model"
)

// LogSink receives raw log records.
type LogSink interface {
	PutLogBatch(logs []model.LogRecord) error
}

// OpportunitySink receives profitable cycles.
type OpportunitySink interface {
	PutOpportunities(ctx context.Context, opportunities []model.Opportunity) error
}

// Multi fans opportunities out to every sink, stopping at the first error.
type Multi []OpportunitySink

func (m Multi) PutOpportunities(ctx context.Context, opportunities []model.Opportunity) error {
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.PutOpportunities(ctx, opportunities); err != nil {
			return err
		}
	}
	return nil
}
