package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/registry"
	"github.com/example/ride-dispatch/internal/service"
)

// LocationMessage is the driver-locations topic payload.
type LocationMessage struct {
	DriverID string           `json:"driverId"`
	Location *models.Location `json:"location"`
	RiderID  string           `json:"riderId,omitempty"`
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// CommandHandler is satisfied by *service.Service.
type CommandHandler interface {
	Handle(ctx context.Context, origin registry.Channel, cmd service.Command) error
}

// LocationConsumer feeds driver location updates published by other
// producers into the dispatch service.
type LocationConsumer struct {
	reader     messageReader
	handler    CommandHandler
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewLocationConsumer(brokers []string, topic, group string, h CommandHandler, logger *slog.Logger) *LocationConsumer {
	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	return newLocationConsumer(r, h, logger)
}

func newLocationConsumer(r messageReader, h CommandHandler, logger *slog.Logger) *LocationConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocationConsumer{
		reader:     r,
		handler:    h,
		logger:     logger,
		newBackOff: readBackOff,
		sleep:      sleepCtx,
	}
}

// readBackOff waits 1s, doubling up to 30s, and never gives up.
func readBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run consumes until ctx is cancelled.
func (c *LocationConsumer) Run(ctx context.Context) error {
	bo := c.newBackOff()
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("location_consumer_stopped")
				return nil
			}
			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				return err
			}
			c.logger.Warn("kafka_read_failed", "error", err, "backoff", wait.String())
			if err := c.sleep(ctx, wait); err != nil {
				return nil
			}
			continue
		}
		bo.Reset()
		c.process(ctx, m)
	}
}

func (c *LocationConsumer) process(ctx context.Context, m kafka.Message) {
	var msg LocationMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		observability.LocationMessages.WithLabelValues("invalid").Inc()
		c.logger.Warn("location_message_invalid", "offset", m.Offset, "error", err)
		return
	}
	err := c.handler.Handle(ctx, nil, service.UpdateLocation{
		DriverID: msg.DriverID,
		Location: msg.Location,
		RiderID:  msg.RiderID,
	})
	switch {
	case err == nil:
		observability.LocationMessages.WithLabelValues("applied").Inc()
	case errors.Is(err, models.ErrValidation):
		observability.LocationMessages.WithLabelValues("invalid").Inc()
		c.logger.Warn("location_message_rejected", "driver_id", msg.DriverID, "error", err)
	default:
		observability.LocationMessages.WithLabelValues("error").Inc()
		c.logger.Error("location_update_failed", "driver_id", msg.DriverID, "error", err)
	}
}

func (c *LocationConsumer) Close() error { return c.reader.Close() }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
