package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// NATSConfig defines how analytics events are published
type NATSConfig struct {
	Stream        string
	SubjectPrefix string
	MaxAge        time.Duration
	// Trip the breaker after this many consecutive publish failures
	MaxFailures uint32
	// How long the breaker stays open before probing again
	OpenTimeout time.Duration
}

// NATSSink publishes analytics events to a JetStream stream
type NATSSink struct {
	logger  *zap.Logger
	nc      *nats.Conn
	js      nats.JetStreamContext
	config  NATSConfig
	breaker *gobreaker.CircuitBreaker
}

// NewNATSSink creates a new JetStream-backed sink
func NewNATSSink(nc *nats.Conn, config NATSConfig, logger *zap.Logger) (*NATSSink, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if config.Stream == "" {
		config.Stream = "ANALYTICS"
	}
	if config.SubjectPrefix == "" {
		config.SubjectPrefix = "analytics"
	}
	if config.MaxAge == 0 {
		config.MaxAge = 24 * time.Hour
	}
	if config.MaxFailures == 0 {
		config.MaxFailures = 5
	}
	if config.OpenTimeout == 0 {
		config.OpenTimeout = 30 * time.Second
	}

	logger = logger.Named("analytics")
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "analytics-publish",
		Timeout: config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Analytics circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &NATSSink{
		logger:  logger,
		nc:      nc,
		js:      js,
		config:  config,
		breaker: breaker,
	}, nil
}

// Start ensures the analytics stream exists
func (s *NATSSink) Start(ctx context.Context) error {
	stream, err := s.js.StreamInfo(s.config.Stream)
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	if stream == nil {
		_, err = s.js.AddStream(&nats.StreamConfig{
			Name:     s.config.Stream,
			Subjects: []string{s.config.SubjectPrefix + ".>"},
			Storage:  nats.FileStorage,
			MaxAge:   s.config.MaxAge,
			MaxMsgs:  -1,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		s.logger.Info("Created analytics stream", zap.String("name", s.config.Stream))
	}

	return nil
}

// Subject returns the subject an event name is published on
func (s *NATSSink) Subject(name string) string {
	return s.config.SubjectPrefix + "." + name
}

// LogEvent implements Sink.LogEvent
func (s *NATSSink) LogEvent(ctx context.Context, name string, params map[string]interface{}) error {
	data, err := json.Marshal(Event{
		Name:      name,
		Params:    params,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, publishTimeout)
		defer cancel()
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		return s.js.Publish(s.Subject(name), data, nats.Context(ctx))
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", name, err)
	}
	return nil
}

// Ping implements Pinger.Ping
func (s *NATSSink) Ping(ctx context.Context) error {
	if !s.nc.IsConnected() {
		return fmt.Errorf("nats connection is %s", s.nc.Status())
	}
	if s.breaker.State() == gobreaker.StateOpen {
		return errors.New("analytics circuit breaker is open")
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, publishTimeout)
		defer cancel()
	}
	return s.nc.FlushWithContext(ctx)
}
