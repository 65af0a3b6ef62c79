package events

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrBufferFull is returned by Dispatcher.Publish when the inbox is saturated.
var ErrBufferFull = errors.New("event buffer full")

const (
	defaultDeliveryTimeout = 5 * time.Second
	defaultDrainTimeout    = 10 * time.Second
)

// Dispatcher decouples placement latency from broker latency: Publish enqueues and Run
// delivers to the sink in the background.
type Dispatcher struct {
	sink      Publisher
	inbox     chan PositionPlaced
	logger    *slog.Logger
	onFailure func(reason string)
	timeout   time.Duration
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithFailureHook is called with "buffer_full" or "delivery" for every lost event.
func WithFailureHook(fn func(reason string)) DispatcherOption {
	return func(d *Dispatcher) {
		if fn != nil {
			d.onFailure = fn
		}
	}
}

// WithDeliveryTimeout bounds each sink call.
func WithDeliveryTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func NewDispatcher(sink Publisher, buffer int, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	d := &Dispatcher{
		sink:      sink,
		inbox:     make(chan PositionPlaced, buffer),
		logger:    logger,
		onFailure: func(string) {},
		timeout:   defaultDeliveryTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Publish enqueues event without blocking.
func (d *Dispatcher) Publish(_ context.Context, event PositionPlaced) error {
	select {
	case d.inbox <- event:
		return nil
	default:
		d.onFailure("buffer_full")
		return ErrBufferFull
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is buffered.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return ctx.Err()
		case event := <-d.inbox:
			d.deliver(ctx, event)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultDrainTimeout)
	defer cancel()
	for {
		select {
		case event := <-d.inbox:
			d.deliver(ctx, event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event PositionPlaced) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.sink.Publish(ctx, event); err != nil {
		d.onFailure("delivery")
		d.logger.ErrorContext(ctx, "failed to publish position placed event",
			"error", err,
			"position_id", event.PositionID.String(),
			"request_id", event.RequestID,
		)
	}
}
