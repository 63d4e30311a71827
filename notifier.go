package authcore

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// notifyDispatcher delivers events to the configured [Notifier] off the
// request path. Emission never blocks a flow: with DropIfFull the event is
// counted and discarded when the buffer is saturated; otherwise emission
// waits only until the caller's context is done.
type notifyDispatcher struct {
	sink      Notifier
	logger    *slog.Logger
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropIfFul bool
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newNotifyDispatcher(cfg NotifyConfig, sink Notifier, logger *slog.Logger) *notifyDispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpNotifier{}
	}

	d := &notifyDispatcher{
		sink:      sink,
		logger:    logger,
		ch:        make(chan Event, cfg.BufferSize),
		done:      make(chan struct{}),
		dropIfFul: cfg.DropIfFull,
	}

	d.wg.Add(1)
	go d.run()
	return d
}

func (d *notifyDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.sink.Notify(context.Background(), event)
		case <-d.done:
			// Drain whatever was buffered before Close.
			for {
				select {
				case event := <-d.ch:
					d.sink.Notify(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// Emit queues an event for delivery. Safe to call concurrently; a closed
// dispatcher silently discards.
func (d *notifyDispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFul {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
			d.logger.Warn("notification dropped, buffer full", "kind", event.Kind)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Close stops the worker after draining buffered events.
func (d *notifyDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns the number of events discarded due to a full buffer.
func (d *notifyDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
