package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/NamanBalaji/nativedl/internal/logger"
	"github.com/NamanBalaji/nativedl/internal/status"
)

// Sink receives canonical status updates.
type Sink func(status.Update)

// Dispatcher turns engine lifecycle events into status updates.
//
// Notify only appends to a queue so the engine is never blocked by the
// registry or the sink. A single pump applies queued events in the order they
// arrived, re-deriving the whole task status for every event.
type Dispatcher struct {
	registry *Registry
	sink     Sink

	mu      sync.Mutex
	pending []status.Event
	wake    chan struct{}
}

// NewDispatcher creates a dispatcher that mirrors events into registry and
// forwards the resulting updates to sink.
func NewDispatcher(registry *Registry, sink Sink) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		sink:     sink,
		wake:     make(chan struct{}, 1),
	}
}

// Attach subscribes the dispatcher to the registry's engine.
func (d *Dispatcher) Attach() (detach func()) {
	return d.registry.engine.Subscribe(d.Notify)
}

// Notify queues ev. It is safe to call from any goroutine.
func (d *Dispatcher) Notify(ev status.Event) {
	d.mu.Lock()
	d.pending = append(d.pending, ev)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run delivers queued events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		}

		for _, ev := range d.drain() {
			u, ok, err := d.registry.applyEvent(ctx, ev)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Warnf("Dropping %s event for %s: %v", ev.Kind, ev.Task.URL, err)
				}
				return
			}
			if !ok {
				logger.Debugf("Ignoring %s event for unregistered task %s", ev.Kind, ev.Task.URL)
				continue
			}
			if d.sink != nil {
				d.sink(u)
			}
		}
	}
}

func (d *Dispatcher) drain() []status.Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	events := d.pending
	d.pending = nil
	return events
}
