// Package bus decouples the transport driver from event handling with a
// bounded asynchronous queue.
//
// A single worker is the default: it serializes handling so mutations for one
// message identity are applied in the order the platform delivered them.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"shadowgram/pkg/shadowgram"
)

var (
	// ErrEventDropped reports that the queue was full and the event was shed.
	ErrEventDropped = errors.New("bus: event dropped")
	// ErrBusClosed reports a publish or close after shutdown began.
	ErrBusClosed = errors.New("bus: closed")
)

const (
	defaultBuffer         = 256
	defaultHandlerTimeout = 30 * time.Second
)

// Handler consumes one published event.
type Handler func(ctx context.Context, event *shadowgram.Event) error

// Option mutates bus configuration.
type Option func(*Bus)

// WithBuffer sets the queue capacity.
func WithBuffer(buffer int) Option {
	return func(bus *Bus) {
		if buffer > 0 {
			bus.buffer = buffer
		}
	}
}

// WithWorkers sets the worker count. More than one worker gives up the
// per-identity ordering guarantee and is only suitable for handlers that do
// not touch shared per-message state.
func WithWorkers(workers int) Option {
	return func(bus *Bus) {
		if workers > 0 {
			bus.workers = workers
		}
	}
}

// WithHandlerTimeout bounds each handler call.
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(bus *Bus) {
		if timeout > 0 {
			bus.handlerTimeout = timeout
		}
	}
}

// WithAsyncErrorFunc routes background handler failures to an error sink.
func WithAsyncErrorFunc(onAsyncError func(context.Context, error)) Option {
	return func(bus *Bus) {
		bus.onAsyncError = onAsyncError
	}
}

// Bus is a bounded single-consumer event queue with panic containment.
type Bus struct {
	buffer         int
	workers        int
	handlerTimeout time.Duration
	handler        Handler
	onAsyncError   func(context.Context, error)

	queue  chan *shadowgram.Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
}

// New creates the bus and starts its workers immediately.
func New(handler Handler, options ...Option) (*Bus, error) {
	if handler == nil {
		return nil, fmt.Errorf("new bus: nil handler")
	}

	busCtx, cancel := context.WithCancel(context.Background())
	bus := &Bus{
		buffer:         defaultBuffer,
		workers:        1,
		handlerTimeout: defaultHandlerTimeout,
		handler:        handler,
		ctx:            busCtx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	for _, option := range options {
		option(bus)
	}
	bus.queue = make(chan *shadowgram.Event, bus.buffer)

	bus.startWorkers()

	return bus, nil
}

// Publish enqueues one event. The queue applies drop-newest backpressure: a
// full queue sheds the incoming event and reports ErrEventDropped so the
// caller can log the loss without blocking the transport read loop.
func (b *Bus) Publish(ctx context.Context, event *shadowgram.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	if b.closed.Load() {
		return fmt.Errorf("publish event %s: %w", event.Kind, ErrBusClosed)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish event %s: %w", event.Kind, err)
	}

	select {
	case b.queue <- event:
		return nil
	default:
		return fmt.Errorf("publish event %s: %w", event.Kind, ErrEventDropped)
	}
}

// Close stops the workers and waits for them to exit, bounded by ctx.
// Events still queued at close time are abandoned.
func (b *Bus) Close(ctx context.Context) error {
	b.signalClose()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close bus: %w", ctx.Err())
	}
}

// startWorkers launches workers and closes done after all of them exit.
func (b *Bus) startWorkers() {
	workerWG := &sync.WaitGroup{}
	for idx := 0; idx < b.workers; idx++ {
		workerID := idx
		workerWG.Add(1)
		go b.runWorker(workerWG, workerID)
	}

	go func() {
		workerWG.Wait()
		close(b.done)
	}()
}

// runWorker drains the queue until bus shutdown. Every handler failure goes
// to the async error sink; a failing event never stops the worker.
func (b *Bus) runWorker(workerWG *sync.WaitGroup, workerID int) {
	defer workerWG.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case event := <-b.queue:
			if err := b.handleEvent(workerID, event); err != nil {
				b.reportAsyncError(b.ctx, err)
			}
		}
	}
}

// handleEvent executes one handler call with timeout and panic recovery.
func (b *Bus) handleEvent(workerID int, event *shadowgram.Event) error {
	handlerCtx := b.ctx
	cancel := func() {}
	if b.handlerTimeout > 0 {
		handlerCtxWithTimeout, handlerCancel := context.WithTimeout(b.ctx, b.handlerTimeout)
		handlerCtx = handlerCtxWithTimeout
		cancel = handlerCancel
	}
	defer cancel()

	scope := fmt.Sprintf("bus worker %d", workerID)
	if err := runSafely(scope, func() error {
		return b.handler(handlerCtx, event)
	}); err != nil {
		return fmt.Errorf("handle event %s: %w", event.Kind, err)
	}

	return nil
}

// signalClose marks the bus closed exactly once and cancels workers.
func (b *Bus) signalClose() {
	b.once.Do(func() {
		b.closed.Store(true)
		b.cancel()
	})
}

// reportAsyncError forwards background failures to the configured sink.
func (b *Bus) reportAsyncError(ctx context.Context, err error) {
	if b.onAsyncError != nil {
		b.onAsyncError(ctx, err)
	}
}
