package bootstrap

import (
	"context"
	"fmt"

	"paystream/internal/broker"
	"paystream/internal/config"
	"paystream/internal/logger"
)

type Base struct {
	Config *config.Config
	Logger logger.Logger

	// Consumers holds one group member per pipeline worker. Members are
	// never shared: each owns its broker session and commit state.
	Consumers []broker.Consumer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

func (b *Base) InitBroker() error {
	consumers, err := broker.NewConsumerGroup(b.Config.Broker, b.Config.Pipeline.Workers, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	b.Consumers = consumers
	return nil
}

// AnyConsumerConnected reports whether at least one group member has a
// live session; the pipeline can make progress as long as one does.
func (b *Base) AnyConsumerConnected() bool {
	for _, c := range b.Consumers {
		if c.IsConnected() {
			return true
		}
	}
	return false
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	for _, c := range b.Consumers {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}

	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	errs = append(errs, b.ShutdownBroker()...)

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
