// Package telegram adapts the Telegram Business bot surface: it turns raw
// MTProto updates into neutral events and neutral owner notices back into
// RPC calls.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"shadowgram/internal/bus"
	"shadowgram/pkg/shadowgram"
)

// EventPublisher receives mapped events for asynchronous handling.
type EventPublisher interface {
	Publish(ctx context.Context, event *shadowgram.Event) error
}

// SessionClient abstracts gotd client session execution.
type SessionClient interface {
	// Run starts the session and executes fn within the connected lifecycle.
	Run(ctx context.Context, fn func(runCtx context.Context) error) error
}

// DriverOption mutates driver configuration.
type DriverOption func(*Driver)

// WithDriverLogger injects structured logging.
func WithDriverLogger(logger *slog.Logger) DriverOption {
	return func(driver *Driver) {
		if logger != nil {
			driver.logger = logger
		}
	}
}

// Driver consumes the update stream for the lifetime of one session.
type Driver struct {
	client  SessionClient
	channel *UpdateChannel
	mapper  *Mapper
	logger  *slog.Logger
}

// NewDriver creates the update-consuming driver.
func NewDriver(client SessionClient, channel *UpdateChannel, mapper *Mapper, options ...DriverOption) (*Driver, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram driver: nil client")
	}
	if channel == nil {
		return nil, fmt.Errorf("new telegram driver: nil update channel")
	}
	if mapper == nil {
		return nil, fmt.Errorf("new telegram driver: nil mapper")
	}

	driver := &Driver{
		client:  client,
		channel: channel,
		mapper:  mapper,
		logger:  slog.Default(),
	}
	for _, option := range options {
		option(driver)
	}

	return driver, nil
}

// Run consumes updates until ctx is cancelled, publishing mapped events.
// A shed event is logged and skipped; the read loop never blocks on a full
// downstream queue.
func (d *Driver) Run(ctx context.Context, publisher EventPublisher) error {
	if publisher == nil {
		return fmt.Errorf("run telegram driver: nil publisher")
	}

	err := d.client.Run(ctx, func(runCtx context.Context) error {
		updates, err := d.channel.Updates(runCtx)
		if err != nil {
			return fmt.Errorf("get updates stream: %w", err)
		}

		for {
			select {
			case <-runCtx.Done():
				return nil
			case envelope := <-updates:
				d.consumeOne(runCtx, envelope, publisher)
			}
		}
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}

		return fmt.Errorf("run telegram driver: %w", err)
	}

	return nil
}

// consumeOne maps and publishes a single update. Failures are contained to
// the update: a bad mapping or a full queue never terminates the session.
func (d *Driver) consumeOne(ctx context.Context, envelope updateEnvelope, publisher EventPublisher) {
	event, accepted, err := d.mapSafely(ctx, envelope)
	if err != nil {
		d.logger.ErrorContext(ctx,
			"map update failed",
			"update_class", envelope.updateClass,
			"error", err,
		)
		return
	}
	if !accepted {
		return
	}

	if err := publisher.Publish(ctx, event); err != nil {
		level := slog.LevelError
		if errors.Is(err, bus.ErrEventDropped) {
			level = slog.LevelWarn
		}
		d.logger.Log(ctx, level,
			"publish event failed",
			"event_kind", event.Kind,
			"update_class", envelope.updateClass,
			"error", err,
		)
	}
}

// mapSafely isolates mapper panics so a bad update cannot crash the session.
func (d *Driver) mapSafely(
	ctx context.Context,
	envelope updateEnvelope,
) (event *shadowgram.Event, accepted bool, err error) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		err = fmt.Errorf("map update %s panic: %v", envelope.updateClass, recovered)
	}()

	event, accepted, err = d.mapper.Map(ctx, envelope)
	if err != nil {
		return nil, false, fmt.Errorf("map update %s: %w", envelope.updateClass, err)
	}

	return event, accepted, nil
}
