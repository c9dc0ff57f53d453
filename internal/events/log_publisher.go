// Package events holds publishers that do not need a broker.
package events

import (
	"context"

	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/reentrancy-ledger-lab/internal/interfaces"
)

// LogPublisher writes every event to a logger at debug level.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger.Named("events")}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, event any) error {
	p.logger.Debug("event published", zap.String("topic", topic), zap.Any("event", event))
	return nil
}

var _ interfaces.EventPublisher = (*LogPublisher)(nil)
