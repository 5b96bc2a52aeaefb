package hooks

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher fans event envelopes out to every configured sink whose
// filter matches. Deliveries run asynchronously; a slow webhook never
// blocks the loop.
type Dispatcher struct {
	project ProjectInfo
	sinks   []FilteredSink
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a dispatcher for the given project and sinks.
func NewDispatcher(project ProjectInfo, sinks []FilteredSink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		project: project,
		sinks:   sinks,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewEnvelope starts an envelope for this dispatcher's project.
func (d *Dispatcher) NewEnvelope(event string) Envelope {
	return NewEnvelope(event, d.project)
}

// Emit delivers the envelope to every matching sink. Failures are
// logged, never propagated; hook delivery is best-effort.
func (d *Dispatcher) Emit(env Envelope) {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if env.Project == (ProjectInfo{}) {
		env.Project = d.project
	}

	for i := range d.sinks {
		fs := d.sinks[i]
		if !fs.Wants(env.Event) {
			continue
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), defaultDeliveryTimeout)
			defer cancel()
			if err := fs.Sink.Deliver(ctx, env); err != nil {
				d.logger.Warn("hook delivery failed",
					"sink", fs.Sink.Name(),
					"event", env.Event,
					"error", err)
			}
		}()
	}
}

// Wait blocks until all in-flight deliveries finish. Call on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
