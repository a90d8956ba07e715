// Package tags turns check-ins and check-outs into tag updates for the
// engagement backend.
package tags

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/geotrigger-bridge/internal/domain"
	"github.com/couchcryptid/geotrigger-bridge/internal/observability"
)

// Registrar applies tag changes to a device registration.
type Registrar interface {
	UpdateTags(ctx context.Context, update domain.TagUpdate) error
}

type added struct {
	instanceID string
	tags       []string
}

// Publisher derives TagDeltas and hands them to a Registrar in order.
//
// CheckIn, CheckOut, Reset and Apply must be called from a single
// serialized context; they never block. Run delivers queued updates on its
// own goroutine, one at a time, so an addition always reaches the Registrar
// before the removal that undoes it.
type Publisher struct {
	registrar    Registrar
	channelID    string
	clock        clockwork.Clock
	logger       *slog.Logger
	metrics      *observability.Metrics
	queue        chan domain.TagUpdate
	drainTimeout time.Duration

	// Tags added per source and not yet removed.
	added map[domain.TriggerKey]added
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithQueueSize sets how many updates may wait for the Registrar.
func WithQueueSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.queue = make(chan domain.TagUpdate, n)
		}
	}
}

// WithClock overrides the time source stamped on updates.
func WithClock(c clockwork.Clock) Option {
	return func(p *Publisher) { p.clock = c }
}

// WithDrainTimeout bounds how long Run keeps flushing queued updates after
// its context is cancelled.
func WithDrainTimeout(d time.Duration) Option {
	return func(p *Publisher) { p.drainTimeout = d }
}

// NewPublisher creates a Publisher for one device channel.
func NewPublisher(registrar Registrar, channelID string, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Publisher {
	p := &Publisher{
		registrar:    registrar,
		channelID:    channelID,
		clock:        domain.Clock(),
		logger:       logger,
		metrics:      metrics,
		queue:        make(chan domain.TagUpdate, 256),
		drainTimeout: 5 * time.Second,
		added:        make(map[domain.TriggerKey]added),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckIn publishes the tags of a newly opened instance and remembers them so
// the matching CheckOut removes exactly the same set. A second call for the
// same instance publishes nothing.
func (p *Publisher) CheckIn(inst domain.TriggerInstance) domain.TagDelta {
	if prev, ok := p.added[inst.Key]; ok && prev.instanceID == inst.ID {
		return domain.TagDelta{Key: inst.Key, InstanceID: inst.ID}
	}

	tags := slices.Clone(inst.Tags)
	p.added[inst.Key] = added{instanceID: inst.ID, tags: tags}

	delta := domain.TagDelta{
		Key:        inst.Key,
		InstanceID: inst.ID,
		Added:      tags,
		CustomData: inst.CustomData,
	}
	p.Apply(delta)
	return delta
}

// CheckOut publishes the removal of the tags added for instanceID. It
// publishes nothing if those tags were already removed or never added.
func (p *Publisher) CheckOut(key domain.TriggerKey, instanceID string, customData map[string]string) domain.TagDelta {
	prev, ok := p.added[key]
	if !ok || prev.instanceID != instanceID {
		return domain.TagDelta{Key: key, InstanceID: instanceID}
	}
	delete(p.added, key)

	delta := domain.TagDelta{
		Key:        key,
		InstanceID: instanceID,
		Removed:    prev.tags,
		CustomData: customData,
	}
	p.Apply(delta)
	return delta
}

// Reset forgets every remembered addition without publishing removals and
// returns how many tag sets it forgot. Those tags stay on the registration.
func (p *Publisher) Reset() int {
	n := len(p.added)
	clear(p.added)
	return n
}

// Apply enqueues a delta for the Registrar without blocking. When the queue
// is full the delta is dropped and reported.
func (p *Publisher) Apply(delta domain.TagDelta) {
	if delta.Empty() {
		return
	}

	update := domain.TagUpdate{
		ChannelID:  p.channelID,
		Source:     delta.Key,
		InstanceID: delta.InstanceID,
		Add:        delta.Added,
		Remove:     delta.Removed,
		CustomData: delta.CustomData,
		At:         p.clock.Now(),
	}

	select {
	case p.queue <- update:
	default:
		p.logger.Warn("tag queue full, dropping update",
			"kind", delta.Key.Kind,
			"source_id", delta.Key.SourceID,
			"instance_id", delta.InstanceID,
			"add", delta.Added,
			"remove", delta.Removed,
		)
		p.metrics.TagQueueDropped.Inc()
	}
}

// Run delivers queued updates until ctx is cancelled, then keeps flushing
// what is already queued for up to the drain timeout.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return nil
		case u := <-p.queue:
			p.deliver(ctx, u)
		}
	}
}

func (p *Publisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), p.drainTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			if n := len(p.queue); n > 0 {
				p.logger.Warn("tag queue not drained before shutdown", "pending", n)
			}
			return
		case u := <-p.queue:
			p.deliver(ctx, u)
		default:
			return
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, u domain.TagUpdate) {
	start := time.Now()
	err := p.registrar.UpdateTags(ctx, u)
	p.metrics.TagUpdateDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		p.logger.Error("tag update failed",
			"kind", u.Source.Kind,
			"source_id", u.Source.SourceID,
			"instance_id", u.InstanceID,
			"add", u.Add,
			"remove", u.Remove,
			"error", err,
		)
		p.metrics.TagUpdates.WithLabelValues("error").Inc()
		return
	}
	p.metrics.TagUpdates.WithLabelValues("success").Inc()
}
